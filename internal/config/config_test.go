package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/freeeve/openingtree/internal/graph"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Quiz.Threshold != 0.3 || cfg.Analysis.DesiredDepth != 20 || cfg.HTTP.Addr != ":8007" {
		t.Errorf("defaults = %+v", cfg)
	}
	targets, err := cfg.Analysis.Targets()
	if err != nil {
		t.Fatal(err)
	}
	if targets[graph.Book] != 30 || targets[graph.EngineSynthetic] != -1 {
		t.Errorf("targets = %v", targets)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openingtree.yaml")
	data := `
data:
  tree_dir: /srv/tree
quiz:
  accept_diff: 0.25
  accept_diff_relaxed: 0.6
  relaxed_sources: [BOOK, COURSE]
analysis:
  desired_depth: 18
  target_depths:
    MASTER_GAME: 24
import:
  poll_interval: 30s
log:
  level: debug
  json: true
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Data.TreeDir != "/srv/tree" || cfg.Data.GamesDB != "data/games.db" {
		t.Errorf("data = %+v", cfg.Data)
	}
	if cfg.Quiz.Threshold != 0.25 || cfg.Quiz.RelaxedThreshold != 0.6 {
		t.Errorf("quiz = %+v", cfg.Quiz)
	}
	if len(cfg.Quiz.RelaxedSources) != 2 || cfg.Quiz.RelaxedSources[1] != graph.Course {
		t.Errorf("relaxed sources = %v", cfg.Quiz.RelaxedSources)
	}
	targets, _ := cfg.Analysis.Targets()
	if targets[graph.MasterGame] != 24 || targets[graph.Book] != 30 {
		t.Errorf("targets = %v", targets)
	}
	if cfg.Import.PollInterval != 30*time.Second {
		t.Errorf("poll interval = %v", cfg.Import.PollInterval)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.JSON {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OPENINGTREE_DATA_DIR", "/var/lib/openingtree")
	t.Setenv("OPENINGTREE_ENGINE_PATH", "/usr/bin/stockfish")
	t.Setenv("OPENINGTREE_ACCEPT_DIFF", "0.4")
	t.Setenv("OPENINGTREE_LOG_JSON", "1")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Data.TreeDir != "/var/lib/openingtree/tree" || cfg.Data.GamesDB != "/var/lib/openingtree/games.db" {
		t.Errorf("data = %+v", cfg.Data)
	}
	if cfg.Analysis.EnginePath != "/usr/bin/stockfish" || cfg.Quiz.Threshold != 0.4 || !cfg.Log.JSON {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"negative threshold", func(c *Config) { c.Quiz.Threshold = -1 }},
		{"no quiz sessions", func(c *Config) { c.Quiz.MaxSessions = 0 }},
		{"zero depth", func(c *Config) { c.Analysis.DesiredDepth = 0 }},
		{"zero batch", func(c *Config) { c.Analysis.BatchSize = 0 }},
		{"unknown source", func(c *Config) { c.Analysis.TargetDepths = map[string]int{"NOPE": 3} }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"no tree dir", func(c *Config) { c.Data.TreeDir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}
