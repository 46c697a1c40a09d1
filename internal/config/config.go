// Package config loads the application settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/freeeve/openingtree/internal/graph"
)

// Config is the full application configuration.
type Config struct {
	Data     DataConfig     `yaml:"data"`
	Quiz     QuizConfig     `yaml:"quiz"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Import   ImportConfig   `yaml:"import"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
}

// DataConfig locates the files the application reads and writes.
type DataConfig struct {
	TreeDir          string `yaml:"tree_dir"`           // main tree (position_eval.csv, moves.csv)
	SourcesDir       string `yaml:"sources_dir"`        // <SOURCE>/*.pgn imported by "update"
	WhiteOpeningsDir string `yaml:"white_openings_dir"` // opening tree of the player's white games
	BlackOpeningsDir string `yaml:"black_openings_dir"` // opening tree of the player's black games
	WhiteGamesDir    string `yaml:"white_games_dir"`    // player's own games as white
	BlackGamesDir    string `yaml:"black_games_dir"`    // player's own games as black
	GamesDB          string `yaml:"games_db"`
	ECODir           string `yaml:"eco_dir"`
	BackupDir        string `yaml:"backup_dir"`
}

// QuizConfig holds the move acceptance policy and how many quiz sessions
// are kept in memory.
type QuizConfig struct {
	graph.AcceptPolicy `yaml:",inline"`
	MaxSessions        int `yaml:"max_sessions"`
}

// AnalysisConfig configures the engine and the batch analyser.
type AnalysisConfig struct {
	EnginePath   string         `yaml:"engine_path"`
	HashMB       int            `yaml:"hash_mb"`
	Threads      int            `yaml:"threads"`
	DesiredDepth int            `yaml:"desired_depth"`
	MaxPositions int            `yaml:"max_positions"`
	BatchSize    int            `yaml:"batch_size"`
	TargetDepths map[string]int `yaml:"target_depths"`
}

// ImportConfig configures the importer and the inbox worker.
type ImportConfig struct {
	Workers      int           `yaml:"workers"`
	InboxDir     string        `yaml:"inbox_dir"`
	ProcessedDir string        `yaml:"processed_dir"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// HTTPConfig configures the explorer API.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Data: DataConfig{
			TreeDir:          "data/tree",
			SourcesDir:       "data/sources",
			WhiteOpeningsDir: "data/openings/white",
			BlackOpeningsDir: "data/openings/black",
			WhiteGamesDir:    "data/games/white",
			BlackGamesDir:    "data/games/black",
			GamesDB:          "data/games.db",
			ECODir:           "data/eco",
			BackupDir:        "data/backups",
		},
		Quiz: QuizConfig{AcceptPolicy: graph.DefaultAcceptPolicy(), MaxSessions: 256},
		Analysis: AnalysisConfig{
			EnginePath:   "stockfish",
			HashMB:       512,
			Threads:      4,
			DesiredDepth: 20,
			MaxPositions: 1000,
			BatchSize:    10,
			TargetDepths: map[string]int{
				"BOOK":               30,
				"THEORY_VIDEO":       28,
				"QUIZ_EXPLORATION":   25,
				"MANUAL_EXPLORATION": 23,
				"MANUAL":             23,
				"ENGINE_SYNTHETIC":   -1,
				"GM_GAME":            25,
			},
		},
		Import: ImportConfig{
			InboxDir:     "data/inbox",
			PollInterval: 10 * time.Second,
		},
		HTTP: HTTPConfig{Addr: ":8007"},
		Log:  LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	loadEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("OPENINGTREE_DATA_DIR"); v != "" {
		cfg.Data.rebase(v)
	}
	if v := os.Getenv("OPENINGTREE_GAMES_DB"); v != "" {
		cfg.Data.GamesDB = v
	}
	if v := os.Getenv("STOCKFISH_PATH"); v != "" {
		cfg.Analysis.EnginePath = v
	}
	if v := os.Getenv("OPENINGTREE_ENGINE_PATH"); v != "" {
		cfg.Analysis.EnginePath = v
	}
	if v := os.Getenv("OPENINGTREE_DESIRED_DEPTH"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Analysis.DesiredDepth = i
		}
	}
	if v := os.Getenv("OPENINGTREE_ACCEPT_DIFF"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Quiz.Threshold = f
		}
	}
	if v := os.Getenv("OPENINGTREE_ACCEPT_DIFF_RELAXED"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Quiz.RelaxedThreshold = f
		}
	}
	if v := os.Getenv("OPENINGTREE_IMPORT_WORKERS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Import.Workers = i
		}
	}
	if v := os.Getenv("OPENINGTREE_INBOX_DIR"); v != "" {
		cfg.Import.InboxDir = v
	}
	if v := os.Getenv("OPENINGTREE_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("OPENINGTREE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("OPENINGTREE_LOG_JSON"); v != "" {
		cfg.Log.JSON = v == "true" || v == "1"
	}
}

// rebase moves every default data path below dir.
func (d *DataConfig) rebase(dir string) {
	def := Default().Data
	for _, p := range []struct {
		field *string
		def   string
	}{
		{&d.TreeDir, def.TreeDir},
		{&d.SourcesDir, def.SourcesDir},
		{&d.WhiteOpeningsDir, def.WhiteOpeningsDir},
		{&d.BlackOpeningsDir, def.BlackOpeningsDir},
		{&d.WhiteGamesDir, def.WhiteGamesDir},
		{&d.BlackGamesDir, def.BlackGamesDir},
		{&d.GamesDB, def.GamesDB},
		{&d.ECODir, def.ECODir},
		{&d.BackupDir, def.BackupDir},
	} {
		if *p.field == p.def {
			rel, _ := filepath.Rel("data", p.def)
			*p.field = filepath.Join(dir, rel)
		}
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Quiz.Threshold < 0 || c.Quiz.RelaxedThreshold < 0 {
		return fmt.Errorf("accept_diff must be >= 0")
	}
	for _, s := range c.Quiz.RelaxedSources {
		if !s.Valid() {
			return fmt.Errorf("relaxed_sources: invalid source %d", s)
		}
	}
	if c.Quiz.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be >= 1")
	}
	if c.Analysis.DesiredDepth < 1 {
		return fmt.Errorf("desired_depth must be >= 1")
	}
	if c.Analysis.MaxPositions < 1 {
		return fmt.Errorf("max_positions must be >= 1")
	}
	if c.Analysis.BatchSize < 1 {
		return fmt.Errorf("batch_size must be >= 1")
	}
	if _, err := c.Analysis.Targets(); err != nil {
		return err
	}
	if c.Import.Workers < 0 {
		return fmt.Errorf("workers must be >= 0")
	}
	if c.Import.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be > 0")
	}
	if c.Data.TreeDir == "" {
		return fmt.Errorf("tree_dir required")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	return nil
}

// Targets converts the configured per-source depths.
func (a AnalysisConfig) Targets() (map[graph.SourceType]int, error) {
	out := make(map[graph.SourceType]int, len(a.TargetDepths))
	for name, depth := range a.TargetDepths {
		s, err := graph.ParseSourceType(name)
		if err != nil {
			return nil, fmt.Errorf("target_depths: %w", err)
		}
		out[s] = depth
	}
	return out, nil
}
