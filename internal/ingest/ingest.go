// Package ingest imports game records into an opening tree.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/freeeve/openingtree/internal/gamerecord"
	"github.com/freeeve/openingtree/internal/graph"
	"github.com/freeeve/openingtree/internal/metrics"
	"github.com/freeeve/openingtree/internal/position"
	"github.com/freeeve/openingtree/internal/store"
)

// Writer serializes tree mutations.
type Writer interface {
	Do(ctx context.Context, fn func() error) error
}

type directWriter struct{}

func (directWriter) Do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn()
}

// GameSink receives the mainline of every imported game.
type GameSink interface {
	InsertGames(ctx context.Context, docs []store.GameDocument) (int, error)
}

// Config configures an Importer.
type Config struct {
	Workers int            // Files parsed in parallel (default GOMAXPROCS)
	Logger  zerolog.Logger // Logger
	Writer  Writer         // Serializes merges into the tree (default: merge inline)
	Games   GameSink       // Optional game database
}

// Importer replays game records into trees.
type Importer struct {
	cfg Config
	log zerolog.Logger
}

// Stats counts the outcome of an import.
type Stats struct {
	Files        int
	FilesFailed  int
	Games        int
	Lines        int
	IllegalLines int
	Moves        int
	NewMoves     int
	StoredGames  int
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Files += o.Files
	s.FilesFailed += o.FilesFailed
	s.Games += o.Games
	s.Lines += o.Lines
	s.IllegalLines += o.IllegalLines
	s.Moves += o.Moves
	s.NewMoves += o.NewMoves
	s.StoredGames += o.StoredGames
}

// New creates an importer.
func New(cfg Config) *Importer {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Writer == nil {
		cfg.Writer = directWriter{}
	}
	return &Importer{cfg: cfg, log: cfg.Logger}
}

// ImportPGN imports every game of r. name identifies r in log messages.
func (im *Importer) ImportPGN(ctx context.Context, tree *graph.Tree, r io.Reader, name string, source graph.SourceType, countFrequency bool) (Stats, error) {
	pf := im.startFile(ctx, name, func() (io.ReadCloser, error) {
		return io.NopCloser(r), nil
	})
	return im.drain(ctx, tree, pf, source, countFrequency)
}

// ImportFile imports a .pgn or .pgn.zst file.
func (im *Importer) ImportFile(ctx context.Context, tree *graph.Tree, path string, source graph.SourceType, countFrequency bool) (Stats, error) {
	return im.drain(ctx, tree, im.startFile(ctx, path, openGameFileFunc(path)), source, countFrequency)
}

// ImportFolder imports every game file below dir. Up to Workers files are
// parsed ahead while they are merged one at a time in path order. A file
// that cannot be read is logged and skipped; cancellation or a failing
// writer aborts the import.
func (im *Importer) ImportFolder(ctx context.Context, tree *graph.Tree, dir string, source graph.SourceType, countFrequency bool) (Stats, error) {
	files, err := FindGameFiles(dir)
	if err != nil {
		return Stats{}, err
	}
	var total Stats
	if len(files) == 0 {
		return total, nil
	}
	im.log.Info().Str("dir", dir).Str("source", source.String()).Int("files", len(files)).
		Int("workers", im.cfg.Workers).Msg("importing folder")

	var window []*pendingFile
	defer func() {
		for _, pf := range window {
			pf.stop()
		}
	}()
	next := 0
	for {
		for next < len(files) && len(window) < im.cfg.Workers {
			window = append(window, im.startFile(ctx, files[next], openGameFileFunc(files[next])))
			next++
		}
		if len(window) == 0 {
			break
		}
		pf := window[0]
		window = window[1:]
		s, err := im.drain(ctx, tree, pf, source, countFrequency)
		total.Add(s)
		var ferr *FileError
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return total, ctx.Err()
		case errors.As(err, &ferr):
			im.log.Error().Err(ferr.Err).Str("file", ferr.Path).Msg("import failed")
		default:
			return total, err
		}
	}
	im.log.Info().Str("dir", dir).Int("files", total.Files).Int("failed", total.FilesFailed).
		Int("games", total.Games).Int("lines", total.Lines).Int("illegal", total.IllegalLines).
		Int("new_moves", total.NewMoves).Msg("folder import complete")
	return total, nil
}

// UpdateOpenings imports <sourcesDir>/<NAME> for every source, tagging moves
// with that source. Missing folders are created so they can be filled later.
func (im *Importer) UpdateOpenings(ctx context.Context, tree *graph.Tree, sourcesDir string) (Stats, error) {
	var total Stats
	for _, source := range graph.SourceTypes() {
		dir := filepath.Join(sourcesDir, source.String())
		if err := os.MkdirAll(dir, 0755); err != nil {
			return total, err
		}
		s, err := im.ImportFolder(ctx, tree, dir, source, false)
		total.Add(s)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// RebuildOpeningTree clears tree, imports dir as amateur games counting how
// often each move was played, and saves the result.
func (im *Importer) RebuildOpeningTree(ctx context.Context, tree *graph.Tree, dir string) (Stats, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Stats{}, err
	}
	err := im.cfg.Writer.Do(ctx, func() error {
		tree.Clear()
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	s, err := im.ImportFolder(ctx, tree, dir, graph.AmateurGame, true)
	if err != nil {
		return s, err
	}
	return s, im.cfg.Writer.Do(ctx, tree.Save)
}

// FindGameFiles lists .pgn and .pgn.zst files below dir in path order.
func FindGameFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isPGNFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	sort.Strings(files)
	return files, err
}

func isPGNFile(name string) bool {
	name = strings.ToLower(name)
	return strings.HasSuffix(name, ".pgn") || strings.HasSuffix(name, ".pgn.zst")
}

// FileError reports a game file that could not be opened or read. Batches
// read before the failure stay merged.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string { return fmt.Sprintf("import %s: %v", e.Path, e.Err) }

func (e *FileError) Unwrap() error { return e.Err }

// openGameFile opens path, decompressing .zst files.
func openGameFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(strings.ToLower(path), ".zst") {
		return f, nil
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("zstd %s: %w", path, err)
	}
	return &zstdFile{Decoder: dec, f: f}, nil
}

func openGameFileFunc(path string) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) { return openGameFile(path) }
}

type zstdFile struct {
	*zstd.Decoder
	f *os.File
}

func (z *zstdFile) Close() error {
	z.Decoder.Close()
	return z.f.Close()
}

// batchGames is how many games are replayed before a batch is handed to
// the merge; batchesAhead bounds how many batches a file may parse ahead.
const (
	batchGames   = 500
	batchesAhead = 2
)

// batch holds replayed lines of consecutive games from one file.
type batch struct {
	games int
	lines []replayed
	docs  []store.GameDocument
}

// pendingFile is a file being parsed in the background. err is valid once
// batches is closed.
type pendingFile struct {
	name    string
	started time.Time
	batches chan *batch
	cancel  context.CancelFunc
	err     error
}

// stop abandons the file and waits for its parser to exit.
func (pf *pendingFile) stop() {
	pf.cancel()
	for range pf.batches {
	}
}

// startFile parses the stream returned by open in its own goroutine.
func (im *Importer) startFile(ctx context.Context, name string, open func() (io.ReadCloser, error)) *pendingFile {
	ctx, cancel := context.WithCancel(ctx)
	pf := &pendingFile{name: name, started: time.Now(), batches: make(chan *batch, batchesAhead), cancel: cancel}
	go func() {
		defer close(pf.batches)
		rc, err := open()
		if err != nil {
			pf.err = err
			return
		}
		defer rc.Close()
		pf.err = im.parse(ctx, name, rc, pf.batches)
	}()
	return pf
}

// parse reads games one at a time, flattens their variations, replays every
// line and sends the result in batches.
func (im *Importer) parse(ctx context.Context, name string, r io.Reader, out chan<- *batch) error {
	b := &batch{}
	send := func() error {
		select {
		case out <- b:
			b = &batch{}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	gi := -1
	err := gamerecord.Scan(r, func(g *gamerecord.Game) error {
		gi++
		b.games++
		start := position.Start()
		if fen := g.StartFEN(); fen != "" {
			var err error
			start, err = position.FromFEN(fen)
			if err != nil {
				im.log.Warn().Err(err).Str("file", name).Int("game", gi).Msg("skipping game with bad FEN tag")
				return nil
			}
		}
		lines, err := gamerecord.ExtractLines(ctx, g)
		if err != nil {
			return err
		}
		for li, line := range lines {
			rl := replayLine(start, line)
			rl.game, rl.index = gi, li
			b.lines = append(b.lines, rl)
			if li == 0 && im.cfg.Games != nil {
				b.docs = append(b.docs, store.DocumentFromTags(g.Tags, rl.labels()))
			}
		}
		if b.games >= batchGames {
			return send()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if b.games > 0 {
		return send()
	}
	return nil
}

// drain merges the batches of pf into tree as they arrive. A read failure
// is returned as a *FileError with FilesFailed set.
func (im *Importer) drain(ctx context.Context, tree *graph.Tree, pf *pendingFile, source graph.SourceType, countFrequency bool) (Stats, error) {
	defer pf.stop()
	s := Stats{Files: 1}
	lastLog := time.Now()
	for b := range pf.batches {
		if err := im.commit(ctx, tree, pf.name, b, source, countFrequency, &s, &lastLog); err != nil {
			return s, err
		}
	}
	if pf.err != nil {
		if ctx.Err() != nil {
			return s, ctx.Err()
		}
		metrics.ImportFiles.WithLabelValues("failed").Inc()
		s.FilesFailed = 1
		return s, &FileError{Path: pf.name, Err: pf.err}
	}

	metrics.ImportFiles.WithLabelValues("ok").Inc()
	metrics.ImportDuration.Observe(time.Since(pf.started).Seconds())
	im.log.Info().Str("file", filepath.Base(pf.name)).Str("source", source.String()).
		Int("games", s.Games).Int("lines", s.Lines).Int("illegal", s.IllegalLines).
		Int("new_moves", s.NewMoves).Dur("elapsed", time.Since(pf.started)).Msg("file import complete")
	return s, nil
}

// commit merges one batch into tree through the configured writer and
// stores its games.
func (im *Importer) commit(ctx context.Context, tree *graph.Tree, name string, b *batch, source graph.SourceType, countFrequency bool, s *Stats, lastLog *time.Time) error {
	s.Games += b.games
	err := im.cfg.Writer.Do(ctx, func() error {
		for _, rl := range b.lines {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			s.Lines++
			if rl.err != nil {
				s.IllegalLines++
				metrics.ImportLines.WithLabelValues("illegal").Inc()
				im.log.Warn().Err(rl.err).Str("file", name).Int("game", rl.game).
					Int("line_index", rl.index).Msg("illegal move, line aborted")
			} else {
				metrics.ImportLines.WithLabelValues("ok").Inc()
			}
			moves, added := rl.merge(tree, source, countFrequency)
			s.Moves += moves
			s.NewMoves += added
		}
		return nil
	})
	if err != nil {
		return err
	}
	if time.Since(*lastLog) > 10*time.Second {
		im.log.Info().Str("file", filepath.Base(name)).Int("games", s.Games).Int("lines", s.Lines).
			Int("new_moves", s.NewMoves).Msg("import progress")
		*lastLog = time.Now()
	}

	if im.cfg.Games != nil && len(b.docs) > 0 {
		n, err := im.cfg.Games.InsertGames(ctx, b.docs)
		if err != nil {
			im.log.Warn().Err(err).Str("file", name).Msg("storing games failed")
		}
		s.StoredGames += n
	}
	return nil
}
