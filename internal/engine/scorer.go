// Package engine scores positions with an external UCI engine and keeps
// the tree's evaluations deep enough for each source.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/freeeve/uci"
	"github.com/rs/zerolog"
)

// MateScore is the evaluation stored for a forced mate, signed by the mating side.
const MateScore = 100.0

// Score is a white-relative evaluation in pawns.
type Score struct {
	Eval   float64
	Depth  int
	IsMate bool
}

// Scorer evaluates a full FEN to a fixed depth.
type Scorer interface {
	Score(ctx context.Context, fen string, depth int) (Score, error)
}

// UCIConfig configures a UCI engine process.
type UCIConfig struct {
	Path    string         // Engine executable
	HashMB  int            // Hash table size (default 512)
	Threads int            // Search threads (default 4)
	Logger  zerolog.Logger // Logger
}

// UCIEngine is a Scorer backed by one engine process. Calls are serialized.
type UCIEngine struct {
	mu     sync.Mutex
	engine *uci.Engine
	log    zerolog.Logger
}

// NewUCIEngine starts the engine and sets its options.
func NewUCIEngine(cfg UCIConfig) (*UCIEngine, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("engine path required")
	}
	if cfg.HashMB == 0 {
		cfg.HashMB = 512
	}
	if cfg.Threads == 0 {
		cfg.Threads = 4
	}

	engine, err := uci.NewEngine(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	opts := uci.Options{
		Hash:    cfg.HashMB,
		Threads: cfg.Threads,
		MultiPV: 1,
		Ponder:  false,
		OwnBook: false,
	}
	if err := engine.SetOptions(opts); err != nil {
		engine.Close()
		return nil, fmt.Errorf("set options: %w", err)
	}
	cfg.Logger.Info().Str("path", cfg.Path).Int("threads", cfg.Threads).Int("hash_mb", cfg.HashMB).Msg("engine started")
	return &UCIEngine{engine: engine, log: cfg.Logger}, nil
}

// Close stops the engine process.
func (e *UCIEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.engine != nil {
		e.engine.Close()
		e.engine = nil
	}
	return nil
}

// Score searches fen to depth and returns the deepest result.
func (e *UCIEngine) Score(ctx context.Context, fen string, depth int) (Score, error) {
	if err := ctx.Err(); err != nil {
		return Score{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.engine == nil {
		return Score{}, fmt.Errorf("engine closed")
	}

	if err := e.engine.SetFEN(fen); err != nil {
		return Score{}, fmt.Errorf("set FEN: %w", err)
	}
	results, err := e.engine.GoDepth(depth, uci.HighestDepthOnly)
	if err != nil {
		return Score{}, fmt.Errorf("engine eval: %w", err)
	}
	if len(results.Results) == 0 {
		return Score{}, fmt.Errorf("no results from engine")
	}

	best := results.Results[0]
	for _, r := range results.Results {
		if r.Depth > best.Depth {
			best = r
		}
	}
	s := normalize(fen, best.Score, best.Mate)
	s.Depth = best.Depth
	e.log.Debug().Str("fen", fen).Int("raw", best.Score).Float64("eval", s.Eval).Bool("mate", s.IsMate).Msg("scored")
	return s, nil
}

// normalize converts a side-to-move engine score (centipawns, or moves to
// mate) into a white-relative Score.
func normalize(fen string, score int, mate bool) Score {
	blackToMove := strings.Contains(fen, " b ")
	if mate {
		// "mate 0": the side to move is already mated.
		winning := score > 0
		whiteWins := winning != blackToMove
		if score == 0 {
			whiteWins = blackToMove
		}
		if whiteWins {
			return Score{Eval: MateScore, IsMate: true}
		}
		return Score{Eval: -MateScore, IsMate: true}
	}
	if blackToMove {
		score = -score
	}
	return Score{Eval: float64(score) / 100}
}
