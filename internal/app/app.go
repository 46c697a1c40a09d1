// Package app wires the trees, stores and engine together and owns their
// lifetime.
package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/openingtree/internal/config"
	"github.com/freeeve/openingtree/internal/eco"
	"github.com/freeeve/openingtree/internal/engine"
	"github.com/freeeve/openingtree/internal/graph"
	"github.com/freeeve/openingtree/internal/ingest"
	"github.com/freeeve/openingtree/internal/metrics"
	"github.com/freeeve/openingtree/internal/quiz"
	"github.com/freeeve/openingtree/internal/store"
)

// ErrQuizNotFound is returned for an unknown quiz id.
var ErrQuizNotFound = errors.New("quiz not found")

// Options selects the optional components opened with the app.
type Options struct {
	Engine bool // start the UCI engine and the analyser
	Games  bool // open the game database
}

type module struct {
	name  string
	close func() error
}

// App owns the application state. Trees are only touched through Do.
type App struct {
	Config config.Config
	Log    zerolog.Logger

	Tree          *graph.Tree
	WhiteOpenings *graph.Tree
	BlackOpenings *graph.Tree

	Games    *store.GameStore
	ECO      *eco.Database
	Importer *ingest.Importer
	Analyser *engine.Analyser

	exec    *Executor
	modules []module

	quizMu    sync.Mutex
	quizzes   map[string]*quizEntry
	quizOrder []string
}

type quizEntry struct {
	s        *quiz.Session
	finished bool
}

// Open loads the trees and starts the requested components. Close must
// be called to release them.
func Open(ctx context.Context, cfg config.Config, log zerolog.Logger, opts Options) (*App, error) {
	a := &App{
		Config:        cfg,
		Log:           log,
		Tree:          graph.New(cfg.Data.TreeDir),
		WhiteOpenings: graph.New(cfg.Data.WhiteOpeningsDir),
		BlackOpenings: graph.New(cfg.Data.BlackOpeningsDir),
		exec:          NewExecutor(),
		quizzes:       make(map[string]*quizEntry),
	}
	a.Register("executor", func() error {
		a.exec.Close()
		return nil
	})

	for name, t := range a.trees() {
		start := time.Now()
		if err := t.Load(); err != nil {
			a.Close()
			return nil, fmt.Errorf("load %s tree: %w", name, err)
		}
		metrics.TreeNodes.WithLabelValues(name).Set(float64(t.Len()))
		log.Info().Str("tree", name).Str("dir", t.Dir()).Int("nodes", t.Len()).Dur("elapsed", time.Since(start)).Msg("tree loaded")
	}

	if opts.Games && cfg.Data.GamesDB != "" {
		gs, err := store.OpenGameStore(cfg.Data.GamesDB)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open game database: %w", err)
		}
		a.Games = gs
		a.Register("games", gs.Close)
	}

	if cfg.Data.ECODir != "" {
		db := eco.NewDatabase()
		if err := db.LoadDir(cfg.Data.ECODir); err != nil {
			log.Warn().Err(err).Str("dir", cfg.Data.ECODir).Msg("failed to load ECO database")
		} else {
			a.ECO = db
			log.Info().Int("openings", db.Count()).Msg("ECO database loaded")
		}
	}

	icfg := ingest.Config{
		Workers: cfg.Import.Workers,
		Logger:  log.With().Str("component", "ingest").Logger(),
		Writer:  a.exec,
	}
	if a.Games != nil {
		icfg.Games = a.Games
	}
	a.Importer = ingest.New(icfg)

	if opts.Engine {
		eng, err := engine.NewUCIEngine(engine.UCIConfig{
			Path:    cfg.Analysis.EnginePath,
			HashMB:  cfg.Analysis.HashMB,
			Threads: cfg.Analysis.Threads,
			Logger:  log.With().Str("component", "engine").Logger(),
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Register("engine", eng.Close)
		if err := a.UseScorer(eng); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// UseScorer creates the analyser over the main tree with scorer.
func (a *App) UseScorer(scorer engine.Scorer) error {
	targets, err := a.Config.Analysis.Targets()
	if err != nil {
		return err
	}
	a.Analyser = engine.NewAnalyser(engine.AnalyserConfig{
		DesiredDepth: a.Config.Analysis.DesiredDepth,
		TargetDepths: targets,
		MaxPositions: a.Config.Analysis.MaxPositions,
		BatchSize:    a.Config.Analysis.BatchSize,
		Writer:       a.exec,
		Logger:       a.Log.With().Str("component", "analyser").Logger(),
	}, a.Tree, scorer)
	return nil
}

func (a *App) trees() map[string]*graph.Tree {
	return map[string]*graph.Tree{
		"main":           a.Tree,
		"white_openings": a.WhiteOpenings,
		"black_openings": a.BlackOpenings,
	}
}

// Register adds a component closed by Close, in reverse registration order.
func (a *App) Register(name string, closeFn func() error) {
	a.modules = append(a.modules, module{name: name, close: closeFn})
	a.Log.Debug().Str("module", name).Msg("module registered")
}

// Close shuts down every registered component.
func (a *App) Close() error {
	var errs []error
	for i := len(a.modules) - 1; i >= 0; i-- {
		m := a.modules[i]
		if err := m.close(); err != nil {
			a.Log.Error().Err(err).Str("module", m.name).Msg("close failed")
			errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
		}
	}
	a.modules = nil
	return errors.Join(errs...)
}

// Do runs fn with exclusive access to the trees.
func (a *App) Do(ctx context.Context, fn func() error) error {
	return a.exec.Do(ctx, fn)
}

// Save writes the main tree.
func (a *App) Save(ctx context.Context) error {
	return a.Do(ctx, func() error {
		start := time.Now()
		if err := a.Tree.Save(); err != nil {
			return err
		}
		metrics.TreeNodes.WithLabelValues("main").Set(float64(a.Tree.Len()))
		a.Log.Info().Int("nodes", a.Tree.Len()).Dur("elapsed", time.Since(start)).Msg("tree saved")
		return nil
	})
}

// Backup saves the main tree and archives its files into the backup folder.
func (a *App) Backup(ctx context.Context) (string, error) {
	dst := filepath.Join(a.Config.Data.BackupDir, "tree-"+time.Now().UTC().Format("20060102-150405")+".tar.zst")
	err := a.Do(ctx, func() error {
		if err := a.Tree.Save(); err != nil {
			return err
		}
		return store.WriteSnapshot(dst, a.Tree.Dir(), []string{graph.EvalFile, graph.MovesFile})
	})
	if err != nil {
		return "", err
	}
	a.Log.Info().Str("file", dst).Msg("backup written")
	return dst, nil
}

// Restore unpacks a backup over the tree files and reloads the main tree.
func (a *App) Restore(ctx context.Context, src string) error {
	if _, err := os.Stat(src); err != nil {
		return err
	}
	return a.Do(ctx, func() error {
		names, err := store.RestoreSnapshot(src, a.Tree.Dir())
		if err != nil {
			return err
		}
		if err := a.Tree.Load(); err != nil {
			return err
		}
		a.Log.Info().Str("file", src).Strs("files", names).Int("nodes", a.Tree.Len()).Msg("backup restored")
		return nil
	})
}

// UpdateOpenings imports the per-source folders into the main tree and saves it.
func (a *App) UpdateOpenings(ctx context.Context) (ingest.Stats, error) {
	s, err := a.Importer.UpdateOpenings(ctx, a.Tree, a.Config.Data.SourcesDir)
	if err != nil {
		return s, err
	}
	return s, a.Save(ctx)
}

// RebuildOpenings rebuilds both opening trees from the player's games.
func (a *App) RebuildOpenings(ctx context.Context) (white, black ingest.Stats, err error) {
	white, err = a.Importer.RebuildOpeningTree(ctx, a.WhiteOpenings, a.Config.Data.WhiteGamesDir)
	if err != nil {
		return white, black, fmt.Errorf("white openings: %w", err)
	}
	black, err = a.Importer.RebuildOpeningTree(ctx, a.BlackOpenings, a.Config.Data.BlackGamesDir)
	if err != nil {
		return white, black, fmt.Errorf("black openings: %w", err)
	}
	metrics.TreeNodes.WithLabelValues("white_openings").Set(float64(a.WhiteOpenings.Len()))
	metrics.TreeNodes.WithLabelValues("black_openings").Set(float64(a.BlackOpenings.Len()))
	return white, black, nil
}

// StartQuiz opens a quiz session.
func (a *App) StartQuiz(ctx context.Context, playerWhite bool) (quiz.State, quiz.Result, error) {
	s := quiz.New(quiz.Config{
		Tree:          a.Tree,
		WhiteOpenings: a.WhiteOpenings,
		BlackOpenings: a.BlackOpenings,
		Policy:        a.Config.Quiz.AcceptPolicy,
		Rand:          rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		Logger:        a.Log.With().Str("component", "quiz").Logger(),
	})
	var r quiz.Result
	var st quiz.State
	err := a.Do(ctx, func() error {
		r = s.Start(playerWhite)
		st = s.State()
		return nil
	})
	if err != nil {
		return st, r, err
	}
	a.keepQuiz(s, r.Finished != nil)
	return st, r, nil
}

// keepQuiz registers s and drops sessions beyond Quiz.MaxSessions,
// finished ones first, otherwise the oldest.
func (a *App) keepQuiz(s *quiz.Session, finished bool) {
	a.quizMu.Lock()
	defer a.quizMu.Unlock()
	for len(a.quizOrder) > 0 && len(a.quizOrder) >= max(a.Config.Quiz.MaxSessions, 1) {
		victim := 0
		for i, id := range a.quizOrder {
			if a.quizzes[id].finished {
				victim = i
				break
			}
		}
		delete(a.quizzes, a.quizOrder[victim])
		a.quizOrder = slices.Delete(a.quizOrder, victim, victim+1)
		metrics.QuizSessionsEvicted.Inc()
	}
	a.quizzes[s.ID] = &quizEntry{s: s, finished: finished}
	a.quizOrder = append(a.quizOrder, s.ID)
}

func (a *App) session(id string) (*quiz.Session, error) {
	a.quizMu.Lock()
	defer a.quizMu.Unlock()
	e, ok := a.quizzes[id]
	if !ok {
		return nil, ErrQuizNotFound
	}
	return e.s, nil
}

func (a *App) quizFinished(id string) {
	a.quizMu.Lock()
	defer a.quizMu.Unlock()
	if e, ok := a.quizzes[id]; ok {
		e.finished = true
	}
}

// QuizState returns a snapshot of a quiz session.
func (a *App) QuizState(ctx context.Context, id string) (quiz.State, error) {
	s, err := a.session(id)
	if err != nil {
		return quiz.State{}, err
	}
	var st quiz.State
	err = a.Do(ctx, func() error {
		st = s.State()
		return nil
	})
	return st, err
}

// PlayQuiz answers the current quiz position with san.
func (a *App) PlayQuiz(ctx context.Context, id, san string) (quiz.Result, quiz.State, error) {
	s, err := a.session(id)
	if err != nil {
		return quiz.Result{}, quiz.State{}, err
	}
	var r quiz.Result
	var st quiz.State
	err = a.Do(ctx, func() error {
		var err error
		r, err = s.Play(san)
		st = s.State()
		return err
	})
	if err == nil && r.Finished != nil {
		a.quizFinished(id)
	}
	return r, st, err
}
