package engine

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/openingtree/internal/graph"
	"github.com/freeeve/openingtree/internal/position"
)

type fakeScorer struct {
	mu    sync.Mutex
	evals map[string]float64
	fail  map[string]bool
	calls []string
}

func (f *fakeScorer) Score(ctx context.Context, fen string, depth int) (Score, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reduced := position.ReduceFEN(fen)
	f.calls = append(f.calls, reduced)
	if f.fail[reduced] {
		return Score{}, errors.New("engine crashed")
	}
	return Score{Eval: f.evals[reduced], Depth: depth}, nil
}

func after(t *testing.T, sans ...string) string {
	t.Helper()
	pos := position.Start()
	for _, san := range sans {
		next, _, err := pos.Apply(san)
		if err != nil {
			t.Fatalf("apply %s: %v", san, err)
		}
		pos = next
	}
	return pos.Reduced()
}

// buildTree returns a tree with a BOOK node after 1.e4, an engine node
// after 1.e4 e5 and a mated MANUAL node after 1.d4.
func buildTree(t *testing.T) *graph.Tree {
	t.Helper()
	tree := graph.New(t.TempDir())
	start := tree.Get(position.StartReduced)
	start.Add(graph.NewMove("e4", after(t, "e4"), graph.Book))
	start.Add(graph.NewMove("d4", after(t, "d4"), graph.Manual))
	tree.Get(after(t, "e4")).Add(graph.NewMove("e5", after(t, "e4", "e5"), graph.EngineSynthetic))
	tree.Get(after(t, "d4")).Update(100, 5, true)
	return tree
}

func TestNormalize(t *testing.T) {
	white := "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
	black := "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"
	tests := []struct {
		name  string
		fen   string
		score int
		mate  bool
		want  Score
	}{
		{"white cp", white, 35, false, Score{Eval: 0.35}},
		{"black cp", black, 35, false, Score{Eval: -0.35}},
		{"white mates", white, 3, true, Score{Eval: 100, IsMate: true}},
		{"white mated", white, -2, true, Score{Eval: -100, IsMate: true}},
		{"black mates", black, 1, true, Score{Eval: -100, IsMate: true}},
		{"black mated", black, -4, true, Score{Eval: 100, IsMate: true}},
		{"white to move is mated", white, 0, true, Score{Eval: -100, IsMate: true}},
		{"black to move is mated", black, 0, true, Score{Eval: 100, IsMate: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalize(tt.fen, tt.score, tt.mate); got != tt.want {
				t.Errorf("normalize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestBrowseQueue(t *testing.T) {
	q := NewBrowseQueue(2)
	if !q.Enqueue("a") || q.Enqueue("a") {
		t.Fatal("dedup failed")
	}
	q.Enqueue("b")
	q.Enqueue("c")
	if q.Len() != 2 || q.Contains("a") {
		t.Fatalf("oldest entry not evicted: len %d", q.Len())
	}
	if fen, ok := q.Dequeue(); !ok || fen != "b" {
		t.Errorf("Dequeue() = %q, %v", fen, ok)
	}
	q.Clear()
	if _, ok := q.Dequeue(); ok {
		t.Error("Dequeue after Clear returned an entry")
	}
}

func TestAnalyserRun(t *testing.T) {
	tree := buildTree(t)
	scorer := &fakeScorer{evals: map[string]float64{after(t, "e4"): 0.4}}
	a := NewAnalyser(AnalyserConfig{Logger: zerolog.Nop()}, tree, scorer)

	n, err := a.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 1 {
		t.Fatalf("Run analysed %d positions, want 1 (calls %v)", n, scorer.calls)
	}
	e4 := tree.Get(after(t, "e4"))
	if e4.Depth() != 30 || e4.Evaluation() != 0.4 {
		t.Errorf("e4 node = %v at %d, want 0.4 at 30", e4.Evaluation(), e4.Depth())
	}
	if tree.Get(position.StartReduced).Depth() != -1 {
		t.Error("root without incoming moves was analysed")
	}
	if tree.Get(after(t, "e4", "e5")).Depth() != -1 {
		t.Error("engine-sourced node was analysed")
	}

	n, err = a.Run(context.Background(), 0)
	if err != nil || n != 0 {
		t.Errorf("second Run = %d, %v; want 0", n, err)
	}
}

func TestAnalyserBrowseQueueFirst(t *testing.T) {
	tree := buildTree(t)
	scorer := &fakeScorer{}
	a := NewAnalyser(AnalyserConfig{Logger: zerolog.Nop()}, tree, scorer)

	target := after(t, "e4", "e5")
	if !a.Enqueue(target + " 0 1") {
		t.Fatal("Enqueue returned false")
	}
	n, err := a.Run(context.Background(), 1)
	if err != nil || n != 1 {
		t.Fatalf("Run = %d, %v", n, err)
	}
	if len(scorer.calls) != 1 || scorer.calls[0] != target {
		t.Fatalf("calls = %v", scorer.calls)
	}
	if d := tree.Get(target).Depth(); d != 20 {
		t.Errorf("depth = %d, want 20", d)
	}
}

func TestAnalyserFailureSkipsPosition(t *testing.T) {
	tree := buildTree(t)
	scorer := &fakeScorer{fail: map[string]bool{after(t, "e4"): true}}
	a := NewAnalyser(AnalyserConfig{Logger: zerolog.Nop()}, tree, scorer)

	n, err := a.Run(context.Background(), 10)
	if err != nil || n != 0 {
		t.Fatalf("Run = %d, %v", n, err)
	}
	if _, failed := a.Counters(); failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
}

func TestAnalyserPaused(t *testing.T) {
	a := NewAnalyser(AnalyserConfig{Logger: zerolog.Nop()}, buildTree(t), &fakeScorer{})
	a.Pause()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := a.Run(ctx, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run while paused = %v", err)
	}
	a.Resume()
	if n, err := a.Run(context.Background(), 0); err != nil || n != 1 {
		t.Errorf("Run after resume = %d, %v", n, err)
	}
}

func TestExplorePosition(t *testing.T) {
	tree := graph.New(t.TempDir())
	scorer := &fakeScorer{evals: map[string]float64{position.StartReduced: 0.2}}
	a := NewAnalyser(AnalyserConfig{Logger: zerolog.Nop()}, tree, scorer)

	s, err := a.ExplorePosition(context.Background(), position.Start().FEN(), 0)
	if err != nil {
		t.Fatalf("ExplorePosition: %v", err)
	}
	if s.Depth != 20 {
		t.Errorf("depth = %d, want 20", s.Depth)
	}
	if n := tree.Get(position.StartReduced); n.Evaluation() != 0.2 || n.Depth() != 20 {
		t.Errorf("node = %v at %d", n.Evaluation(), n.Depth())
	}
}

func TestStatistics(t *testing.T) {
	tree := buildTree(t)
	tree.Get(after(t, "e4")).Update(0.3, 30, false)
	a := NewAnalyser(AnalyserConfig{Logger: zerolog.Nop()}, tree, &fakeScorer{})

	r := Statistics(tree, a.Targets())
	if r.Nodes != 4 || r.Mates != 1 {
		t.Fatalf("report = %+v", r)
	}
	book := r.BySource[graph.Book]
	if book == nil || book.Nodes != 1 || book.Below != 0 || book.AverageDepth() != 30 {
		t.Errorf("book = %+v", book)
	}
	synthetic := r.BySource[graph.EngineSynthetic]
	if synthetic == nil || synthetic.Nodes != 2 || synthetic.Below != 0 {
		t.Errorf("engine = %+v", synthetic)
	}
	if r.Pending != 0 {
		t.Errorf("pending = %d", r.Pending)
	}

	var buf bytes.Buffer
	if err := r.Print(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "BOOK") || !strings.Contains(buf.String(), "average depth") {
		t.Errorf("report output:\n%s", buf.String())
	}
}
