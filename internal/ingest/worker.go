package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/openingtree/internal/graph"
)

// Pausable is an interface for components that can be paused during ingest.
type Pausable interface {
	Pause()
	Resume()
}

// WorkerConfig configures the inbox worker.
type WorkerConfig struct {
	WatchDir       string           // Inbox; files in <WatchDir>/<SOURCE>/ are tagged with SOURCE
	ProcessedDir   string           // Directory to move processed files to
	Source         graph.SourceType // Source for files directly in WatchDir (default AMATEUR_GAME)
	CountFrequency bool             // Count how often each move was played
	PollInterval   time.Duration    // How often to check for new files
	Logger         zerolog.Logger   // Logger
	PauseDuring    []Pausable       // Components to pause during ingest
	AfterBatch     func(context.Context) error
}

// Worker watches a folder and imports the game files dropped into it.
type Worker struct {
	cfg  WorkerConfig
	im   *Importer
	tree *graph.Tree
	log  zerolog.Logger

	// imported holds files merged into the tree whose move to the
	// processed folder failed; they are not imported again.
	imported map[fileKey]struct{}
}

type fileKey struct {
	rel     string
	size    int64
	modTime int64
}

// NewWorker creates an inbox worker. It returns nil when WatchDir is empty.
func NewWorker(cfg WorkerConfig, im *Importer, tree *graph.Tree) (*Worker, error) {
	if cfg.WatchDir == "" {
		return nil, nil
	}
	if cfg.ProcessedDir == "" {
		cfg.ProcessedDir = filepath.Join(cfg.WatchDir, "processed")
	}
	if cfg.Source == graph.Unknown {
		cfg.Source = graph.AmateurGame
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if err := os.MkdirAll(cfg.WatchDir, 0755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.ProcessedDir, 0755); err != nil {
		return nil, err
	}
	return &Worker{cfg: cfg, im: im, tree: tree, log: cfg.Logger, imported: make(map[fileKey]struct{})}, nil
}

// Run polls the inbox until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().
		Str("watch_dir", w.cfg.WatchDir).
		Str("processed_dir", w.cfg.ProcessedDir).
		Str("source", w.cfg.Source.String()).
		Msg("ingest worker started")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.ProcessInbox(ctx); err != nil {
				w.log.Warn().Err(err).Msg("process files failed")
			}
		}
	}
}

type inboxFile struct {
	rel    string
	source graph.SourceType
}

// scan lists game files in the inbox root and in its source subfolders.
func (w *Worker) scan() ([]inboxFile, error) {
	entries, err := os.ReadDir(w.cfg.WatchDir)
	if err != nil {
		return nil, err
	}
	processed := filepath.Clean(w.cfg.ProcessedDir)
	var files []inboxFile
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() {
			if isPGNFile(name) {
				files = append(files, inboxFile{rel: name, source: w.cfg.Source})
			}
			continue
		}
		if filepath.Join(w.cfg.WatchDir, name) == processed {
			continue
		}
		source, err := graph.ParseSourceType(name)
		if err != nil {
			continue
		}
		sub, err := os.ReadDir(filepath.Join(w.cfg.WatchDir, name))
		if err != nil {
			return nil, err
		}
		for _, f := range sub {
			if !f.IsDir() && isPGNFile(f.Name()) {
				files = append(files, inboxFile{rel: filepath.Join(name, f.Name()), source: source})
			}
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })
	return files, nil
}

// ProcessInbox imports every pending file once and moves it to the
// processed folder. Failed files stay in the inbox. A file that was
// imported but could not be moved is only moved on later polls.
func (w *Worker) ProcessInbox(ctx context.Context) (Stats, error) {
	var total Stats
	select {
	case <-ctx.Done():
		return total, ctx.Err()
	default:
	}

	files, err := w.scan()
	if err != nil || len(files) == 0 {
		return total, err
	}
	w.log.Info().Int("files", len(files)).Msg("found game files to import")

	for _, p := range w.cfg.PauseDuring {
		p.Pause()
	}
	defer func() {
		// Only resume if not shutting down
		if ctx.Err() == nil {
			for _, p := range w.cfg.PauseDuring {
				p.Resume()
			}
		}
	}()

	var processed, failed int
	for _, f := range files {
		src := filepath.Join(w.cfg.WatchDir, f.rel)
		info, err := os.Stat(src)
		if err != nil {
			w.log.Warn().Err(err).Str("file", f.rel).Msg("stat failed")
			continue
		}
		key := fileKey{rel: f.rel, size: info.Size(), modTime: info.ModTime().UnixNano()}

		if _, done := w.imported[key]; !done {
			s, err := w.im.ImportFile(ctx, w.tree, src, f.source, w.cfg.CountFrequency)
			total.Add(s)
			if err != nil {
				if ctx.Err() != nil {
					return total, ctx.Err()
				}
				w.log.Error().Err(err).Str("file", f.rel).Msg("ingest failed")
				failed++
				continue
			}
			processed++
		}

		dst := filepath.Join(w.cfg.ProcessedDir, strings.ReplaceAll(f.rel, string(filepath.Separator), "_"))
		if err := os.Rename(src, dst); err != nil {
			w.imported[key] = struct{}{}
			w.log.Warn().Err(err).Str("file", f.rel).Msg("move to processed failed, will not import again")
			continue
		}
		delete(w.imported, key)
		w.log.Info().Str("file", f.rel).Msg("moved to processed")
	}

	w.log.Info().Int("processed", processed).Int("failed", failed).Msg("batch complete")
	if w.cfg.AfterBatch != nil && processed > 0 {
		if err := w.cfg.AfterBatch(ctx); err != nil {
			w.log.Error().Err(err).Msg("after batch hook failed")
		}
	}
	return total, nil
}
