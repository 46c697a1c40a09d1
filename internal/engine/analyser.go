package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/openingtree/internal/graph"
	"github.com/freeeve/openingtree/internal/metrics"
	"github.com/freeeve/openingtree/internal/position"
)

// Writer serializes access to the tree.
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

// DefaultTargetDepths is the analysis depth wanted per move source. A
// negative depth means nodes of that source are never analysed.
func DefaultTargetDepths() map[graph.SourceType]int {
	return map[graph.SourceType]int{
		graph.Book:              30,
		graph.TheoryVideo:       28,
		graph.QuizExploration:   25,
		graph.ManualExploration: 23,
		graph.Manual:            23,
		graph.EngineSynthetic:   -1,
		graph.GMGame:            25,
	}
}

// AnalyserConfig configures an Analyser.
type AnalyserConfig struct {
	DesiredDepth int                      // Depth for sources without a target (default 20)
	TargetDepths map[graph.SourceType]int // Per-source depth (default DefaultTargetDepths)
	MaxPositions int                      // Positions per Run when the caller passes 0 (default 1000)
	BatchSize    int                      // Positions selected per tree pass (default 10)
	Writer       Writer                   // Serializes tree access (default: none)
	Logger       zerolog.Logger           // Logger
}

// Analyser deepens tree evaluations with a Scorer.
type Analyser struct {
	cfg    AnalyserConfig
	tree   *graph.Tree
	scorer Scorer
	browse *BrowseQueue
	log    zerolog.Logger

	paused   atomic.Bool
	analysed atomic.Int64
	failed   atomic.Int64
}

// NewAnalyser creates an analyser over tree.
func NewAnalyser(cfg AnalyserConfig, tree *graph.Tree, scorer Scorer) *Analyser {
	if cfg.DesiredDepth == 0 {
		cfg.DesiredDepth = 20
	}
	if cfg.TargetDepths == nil {
		cfg.TargetDepths = DefaultTargetDepths()
	}
	if cfg.MaxPositions == 0 {
		cfg.MaxPositions = 1000
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.Writer == nil {
		cfg.Writer = directWriter{}
	}
	return &Analyser{
		cfg:    cfg,
		tree:   tree,
		scorer: scorer,
		browse: NewBrowseQueue(10000),
		log:    cfg.Logger,
	}
}

// TargetDepth is the depth wanted for a node of the given source.
func (a *Analyser) TargetDepth(source graph.SourceType) int {
	if d, ok := a.cfg.TargetDepths[source]; ok {
		return d
	}
	return a.cfg.DesiredDepth
}

// Targets returns the effective per-source target depths.
func (a *Analyser) Targets() map[graph.SourceType]int {
	out := make(map[graph.SourceType]int)
	for _, s := range graph.SourceTypes() {
		out[s] = a.TargetDepth(s)
	}
	return out
}

// Pause stops analysis between positions (implements ingest.Pausable).
func (a *Analyser) Pause() { a.paused.Store(true) }

// Resume continues a paused analysis.
func (a *Analyser) Resume() { a.paused.Store(false) }

// Enqueue asks for fen to be analysed ahead of the tree scan.
func (a *Analyser) Enqueue(fen string) bool {
	return a.browse.Enqueue(position.Key(fen))
}

// QueueLen is the number of positions waiting in the browse queue.
func (a *Analyser) QueueLen() int { return a.browse.Len() }

// Counters returns how many positions were analysed and how many failed.
func (a *Analyser) Counters() (analysed, failed int64) {
	return a.analysed.Load(), a.failed.Load()
}

type job struct {
	fen   string
	depth int
}

// Run analyses up to maxPositions nodes below their target depth, browse
// queue first. It returns the number of positions updated.
func (a *Analyser) Run(ctx context.Context, maxPositions int) (int, error) {
	if maxPositions <= 0 {
		maxPositions = a.cfg.MaxPositions
	}
	a.log.Info().Int("max_positions", maxPositions).Int("batch", a.cfg.BatchSize).Msg("analysis started")

	tried := make(map[string]bool)
	done := 0
	lastLog := time.Now()
	for done < maxPositions {
		if err := a.waitWhilePaused(ctx); err != nil {
			return done, err
		}

		batch, err := a.nextBatch(ctx, tried, min(a.cfg.BatchSize, maxPositions-done))
		if err != nil {
			return done, err
		}
		if len(batch) == 0 {
			break
		}
		for _, j := range batch {
			tried[j.fen] = true
			ok, err := a.analyse(ctx, j)
			if err != nil {
				return done, err
			}
			if ok {
				done++
			}
		}

		if time.Since(lastLog) > 10*time.Second {
			a.log.Info().Int("analysed", done).Int("queue", a.browse.Len()).Msg("analysis progress")
			lastLog = time.Now()
		}
	}
	a.log.Info().Int("analysed", done).Msg("analysis complete")
	return done, nil
}

func (a *Analyser) waitWhilePaused(ctx context.Context) error {
	for a.paused.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return ctx.Err()
}

// nextBatch picks positions from the browse queue, then from the tree.
func (a *Analyser) nextBatch(ctx context.Context, tried map[string]bool, size int) ([]job, error) {
	var batch []job
	err := a.cfg.Writer.Do(ctx, func() error {
		for len(batch) < size {
			fen, ok := a.browse.Dequeue()
			if !ok {
				break
			}
			depth := a.cfg.DesiredDepth
			if n, ok := a.tree.Lookup(fen); ok {
				depth = max(depth, a.TargetDepth(n.Source()))
			}
			batch = append(batch, job{fen: fen, depth: depth})
		}
		a.tree.Walk(func(n *graph.Node) bool {
			if len(batch) >= size {
				return false
			}
			if tried[n.FEN] || n.IsMate() {
				return true
			}
			target := a.TargetDepth(n.Source())
			if target < 0 || n.Depth() >= target {
				return true
			}
			batch = append(batch, job{fen: n.FEN, depth: target})
			return true
		})
		return nil
	})
	return batch, err
}

// analyse scores one position outside the writer and merges the result.
func (a *Analyser) analyse(ctx context.Context, j job) (bool, error) {
	pos, err := position.FromFEN(j.fen)
	if err != nil {
		a.log.Warn().Err(err).Str("fen", j.fen).Msg("unparseable position")
		metrics.AnalysedPositions.WithLabelValues("failed").Inc()
		a.failed.Add(1)
		return false, nil
	}
	s, err := a.scorer.Score(ctx, pos.FEN(), j.depth)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		a.log.Warn().Err(err).Str("fen", j.fen).Msg("analysis failed")
		metrics.AnalysedPositions.WithLabelValues("failed").Inc()
		a.failed.Add(1)
		return false, nil
	}

	var updated bool
	err = a.cfg.Writer.Do(ctx, func() error {
		updated = a.tree.Get(j.fen).Update(s.Eval, s.Depth, s.IsMate)
		return nil
	})
	if err != nil {
		return false, err
	}
	outcome := "unchanged"
	if updated {
		outcome = "updated"
	}
	metrics.AnalysedPositions.WithLabelValues(outcome).Inc()
	a.analysed.Add(1)
	a.log.Debug().Str("fen", j.fen).Float64("eval", s.Eval).Int("depth", s.Depth).Bool("mate", s.IsMate).Msg("analysed")
	return true, nil
}

// ExplorePosition scores fen to depth and merges the evaluation into the tree.
func (a *Analyser) ExplorePosition(ctx context.Context, fen string, depth int) (Score, error) {
	if depth <= 0 {
		depth = a.cfg.DesiredDepth
	}
	pos, err := position.FromFEN(fen)
	if err != nil {
		return Score{}, err
	}
	s, err := a.scorer.Score(ctx, pos.FEN(), depth)
	if err != nil {
		return Score{}, err
	}
	err = a.cfg.Writer.Do(ctx, func() error {
		a.tree.Get(pos.Reduced()).Update(s.Eval, s.Depth, s.IsMate)
		return nil
	})
	return s, err
}
