package graph

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/freeeve/openingtree/internal/position"
)

const (
	whiteFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq -"
	blackFEN = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq -"
)

type seqRand struct {
	vals []int
	i    int
}

func (r *seqRand) IntN(n int) int {
	v := r.vals[r.i%len(r.vals)] % n
	r.i++
	return v
}

// addScored adds a move to origin whose destination carries the given evaluation.
func addScored(t *Tree, origin *Node, label string, eval float64, depth int, source SourceType) *Move {
	dest := origin.FEN + "/" + label
	t.Get(dest).Update(eval, depth, false)
	return origin.Add(NewMove(label, dest, source))
}

func TestFixtureKeys(t *testing.T) {
	if whiteFEN != position.StartReduced {
		t.Errorf("whiteFEN = %q, want %q", whiteFEN, position.StartReduced)
	}
	next, _, err := position.Start().Apply("e4")
	if err != nil {
		t.Fatal(err)
	}
	if got := next.Reduced(); got != blackFEN {
		t.Errorf("key after 1. e4 = %q, want %q", got, blackFEN)
	}
}

func TestSourceTypes(t *testing.T) {
	all := SourceTypes()
	if len(all) != 13 || all[0] != Unknown || all[len(all)-1] != Book {
		t.Fatalf("SourceTypes() = %v", all)
	}
	for i := 1; i < len(all); i++ {
		if all[i].Rank() <= all[i-1].Rank() {
			t.Errorf("%v rank %d not above %v", all[i], all[i].Rank(), all[i-1])
		}
	}
	tests := []struct {
		name string
		want SourceType
	}{
		{"BOOK", Book},
		{"gm_game", GMGame},
		{" MANUAL_EXPLORATION ", ManualExploration},
		{"ENGINE_SYNTHETIC", EngineSynthetic},
	}
	for _, tt := range tests {
		got, err := ParseSourceType(tt.name)
		if err != nil || got != tt.want {
			t.Errorf("ParseSourceType(%q) = %v, %v; want %v", tt.name, got, err, tt.want)
		}
	}
	if _, err := ParseSourceType("LIBRARY"); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("ParseSourceType(LIBRARY) err = %v, want ErrUnknownSource", err)
	}
	if DefaultSource.String() != "UNKNOWN" || QuizExploration.String() != "QUIZ_EXPLORATION" {
		t.Errorf("unexpected names %s %s", DefaultSource, QuizExploration)
	}
}

func TestNodeUpdate(t *testing.T) {
	type call struct {
		eval  float64
		depth int
		mate  bool
	}
	tests := []struct {
		name      string
		calls     []call
		wantEval  float64
		wantDepth int
		wantMate  bool
	}{
		{"deeper wins", []call{{0.2, 10, false}, {0.5, 12, false}}, 0.5, 12, false},
		{"shallower ignored", []call{{0.2, 10, false}, {0.9, 8, false}}, 0.2, 10, false},
		{"equal depth keeps first", []call{{0.2, 10, false}, {0.4, 10, false}}, 0.2, 10, false},
		{"mate at equal depth wins", []call{{0.2, 10, false}, {100, 10, true}}, 100, 10, true},
		{"mate not replaced at equal depth", []call{{100, 10, true}, {0.3, 10, false}}, 100, 10, true},
		{"deeper non-mate replaces mate", []call{{100, 10, true}, {3.5, 14, false}}, 3.5, 14, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := New(t.TempDir()).Get(whiteFEN)
			if n.Depth() != -1 || n.Evaluation() != 0 || n.IsMate() {
				t.Fatalf("new node state = %v %d %v", n.Evaluation(), n.Depth(), n.IsMate())
			}
			maxDepth := -1
			for _, c := range tt.calls {
				n.Update(c.eval, c.depth, c.mate)
				if c.depth > maxDepth {
					maxDepth = c.depth
				}
				if n.Depth() < maxDepth {
					t.Fatalf("depth decreased to %d", n.Depth())
				}
			}
			if n.Evaluation() != tt.wantEval || n.Depth() != tt.wantDepth || n.IsMate() != tt.wantMate {
				t.Errorf("got (%v, %d, %v), want (%v, %d, %v)",
					n.Evaluation(), n.Depth(), n.IsMate(), tt.wantEval, tt.wantDepth, tt.wantMate)
			}
		})
	}
}

func TestAddIdempotent(t *testing.T) {
	tree := New(t.TempDir())
	n := tree.Get(whiteFEN)
	first := n.Add(NewMove("e4", blackFEN, Book))
	first.Frequency = 3
	second := n.Add(NewMove("e4", blackFEN, Book))
	if second != first {
		t.Fatal("Add returned a different move for an equivalent arc")
	}
	if len(n.Moves()) != 1 || first.Frequency != 3 {
		t.Errorf("moves = %d, frequency = %d; want 1, 3", len(n.Moves()), first.Frequency)
	}
	if _, ok := tree.Lookup(blackFEN); !ok {
		t.Error("destination node was not created")
	}
	if bl := tree.Backlinks(blackFEN); len(bl) != 1 || bl[0].From != whiteFEN {
		t.Errorf("backlinks = %+v", bl)
	}
	if !n.KnowsMove(NewMove("e4", blackFEN, Unknown)) || n.KnowsMove(NewMove("e4", "other", Book)) {
		t.Error("KnowsMove does not match on label and result")
	}
	if n.MoveByLabel("e4") != first || n.MoveByLabel("d4") != nil {
		t.Error("MoveByLabel mismatch")
	}
}

func TestAddSourceAndComment(t *testing.T) {
	tree := New(t.TempDir())
	n := tree.Get(whiteFEN)
	stored := n.Add(NewMove("e4", blackFEN, AmateurGame))

	n.Add(NewMove("e4", blackFEN, Manual))
	if stored.Source != AmateurGame {
		t.Errorf("lower source changed stored source to %v", stored.Source)
	}
	upgrade := NewMove("e4", blackFEN, Book)
	upgrade.Comment = "main line"
	n.Add(upgrade)
	if stored.Source != Book || stored.Comment != "main line" {
		t.Errorf("stored = %v %q, want BOOK %q", stored.Source, stored.Comment, "main line")
	}
	other := NewMove("e4", blackFEN, Book)
	other.Comment = "ignored"
	n.Add(other)
	if stored.Comment != "main line" {
		t.Errorf("comment overwritten with %q", stored.Comment)
	}
	if got := tree.Get(blackFEN).Source(); got != Book {
		t.Errorf("destination Source() = %v, want BOOK", got)
	}
	if got := n.Source(); got != EngineSynthetic {
		t.Errorf("root Source() = %v, want ENGINE_SYNTHETIC", got)
	}
}

func TestRandomMove(t *testing.T) {
	tree := New(t.TempDir())
	n := tree.Get(whiteFEN)
	if _, err := n.RandomMove(&seqRand{vals: []int{0}}, false); !errors.Is(err, ErrNoMoves) {
		t.Fatalf("empty node err = %v, want ErrNoMoves", err)
	}
	a := n.Add(NewMove("e4", "a", Book))
	b := n.Add(NewMove("d4", "b", Book))
	c := n.Add(NewMove("c4", "c", Book))

	if _, err := n.RandomMove(&seqRand{vals: []int{0}}, true); !errors.Is(err, ErrUnselectable) {
		t.Fatalf("zero frequency err = %v, want ErrUnselectable", err)
	}
	if m, _ := n.RandomMove(&seqRand{vals: []int{2}}, false); m != c {
		t.Errorf("uniform pick = %v, want c4", m.Label)
	}

	a.Frequency, b.Frequency, c.Frequency = 1, 0, 3
	tests := []struct {
		draw int
		want *Move
	}{
		{0, a},
		{1, c},
		{3, c},
	}
	for _, tt := range tests {
		m, err := n.RandomMove(&seqRand{vals: []int{tt.draw}}, true)
		if err != nil || m != tt.want {
			t.Errorf("weighted draw %d = %v, %v; want %s", tt.draw, m, err, tt.want.Label)
		}
	}
	if n.TotalFrequency() != 4 || !n.HasFrequency() {
		t.Errorf("TotalFrequency() = %d", n.TotalFrequency())
	}
}

func TestCentipawnLossAndDescribe(t *testing.T) {
	tree := New(t.TempDir())
	n := tree.Get(whiteFEN)
	n.Update(0.5, 20, false)
	m := addScored(tree, n, "e4", 0.1, 18, Book)
	if got := n.CentipawnLoss(m); got != 40 {
		t.Errorf("CentipawnLoss = %d, want 40", got)
	}
	want := "e4 with eval 0.1 at depth 18 (cp loss = 40) from source BOOK"
	if got := m.Describe(n); got != want {
		t.Errorf("Describe = %q, want %q", got, want)
	}
	detached := NewMove("d4", "x", Unknown)
	if detached.Evaluation() != 0 || detached.EvaluationDepth() != -1 {
		t.Error("detached move should report an unknown evaluation")
	}
}

func TestBestMove(t *testing.T) {
	tree := New(t.TempDir())
	n := tree.Get(whiteFEN)
	if n.BestMove(0) != nil {
		t.Fatal("BestMove on empty node should be nil")
	}
	addScored(tree, n, "a", 0.2, 10, Book)
	addScored(tree, n, "b", -0.1, 15, Book)
	c := addScored(tree, n, "c", 0.5, 15, Book)
	if got := n.BestMove(0); got != c {
		t.Errorf("BestMove(0) = %s, want c", got.Label)
	}

	black := tree.Get(blackFEN)
	addScored(tree, black, "a", 0.2, 10, Book)
	b := addScored(tree, black, "b", -0.1, 15, Book)
	addScored(tree, black, "c", 0.5, 15, Book)
	if got := black.BestMove(0); got != b {
		t.Errorf("black BestMove(0) = %s, want b", got.Label)
	}
	if got := black.BestMove(20); got != b {
		t.Errorf("BestMove(20) = %s, want baseline b", got.Label)
	}
}

func TestIsAcceptableMove(t *testing.T) {
	policy := AcceptPolicy{Threshold: 0.3, RelaxedThreshold: 0.5, RelaxedSources: []SourceType{Book}}
	tree := New(t.TempDir())

	white := tree.Get(whiteFEN)
	white.Update(0.5, 20, false)
	drop := addScored(tree, white, "d4", 0.1, 20, Manual)
	if white.IsAcceptableMove(drop, policy) {
		t.Error("0.4 drop for white should be unacceptable")
	}
	relaxed := addScored(tree, white, "c4", 0.1, 20, Book)
	if !white.IsAcceptableMove(relaxed, policy) {
		t.Error("relaxed source should allow a 0.4 drop")
	}
	unanalysed := white.Add(NewMove("Nf3", "unanalysed", Book))
	if white.IsAcceptableMove(unanalysed, policy) {
		t.Error("unanalysed move should be unacceptable")
	}

	black := tree.Get(blackFEN)
	black.Update(-0.5, 20, false)
	good := addScored(tree, black, "e5", -0.9, 20, Manual)
	if !black.IsAcceptableMove(good, policy) {
		t.Error("eval moving toward black should be acceptable")
	}
	bad := addScored(tree, black, "f6", 0.0, 20, Manual)
	if black.IsAcceptableMove(bad, policy) {
		t.Error("0.5 gain for white should be unacceptable for black")
	}
	if got := len(black.AcceptableMoves(policy)); got != 1 {
		t.Errorf("AcceptableMoves = %d, want 1", got)
	}

	fresh := tree.Get("8/8/8/8/8/8/8/4K2k w - -")
	m := addScored(tree, fresh, "Kd1", 0.0, 5, Manual)
	addScored(tree, fresh, "Kf1", 2.0, 9, Manual)
	if fresh.IsAcceptableMove(m, policy) {
		t.Error("unanalysed node should compare against its best move")
	}
	if !fresh.HasAcceptableMove(policy) {
		t.Error("best move itself should be acceptable")
	}
}

func TestFindNode(t *testing.T) {
	tree := New(t.TempDir())
	root := tree.Get(whiteFEN)
	root.Update(0.3, 30, false)
	root.Add(NewMove("a", "amateur", AmateurGame))
	root.Add(NewMove("b", "book", Book))
	root.Add(NewMove("c", "mate", GMGame))
	tree.Get("mate").Update(100, 5, true)
	tree.Get("book").Update(0.1, 25, false)

	if got := tree.FindNode(20, Manual, false, false); got == nil || got.FEN != "amateur" {
		t.Errorf("first match = %v, want amateur", got)
	}
	if got := tree.FindNode(20, Manual, true, true); got == nil || got.FEN != "mate" {
		t.Errorf("preferred match = %v, want mate", got)
	}
	if got := tree.FindNode(30, Manual, false, true); got == nil || got.FEN != "book" {
		t.Errorf("preferred match = %v, want book", got)
	}
	if got := tree.FindNode(20, Book, false, false); got != nil {
		t.Errorf("match = %v, want nil", got.FEN)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	start := position.Start()
	next, label, err := start.Apply("e4")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	tree := New(dir)
	root := tree.Get(start.Reduced())
	root.Update(0.3, 12, false)
	m := root.Add(NewMove(label, next.Reduced(), Book))
	m.Frequency = 5
	m.Comment = `the "king's" pawn`
	tree.Get(next.Reduced()).Update(-100, 22, true)
	if err := tree.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, EvalFile))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	wantRow := `"` + start.Reduced() + `";"0.3";"12";"False"`
	if !strings.HasPrefix(string(data), wantRow+"\n") {
		t.Errorf("eval file = %q, want first row %q", data, wantRow)
	}

	loaded := New(dir)
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", loaded.Len())
	}
	lr := loaded.Get(start.Reduced())
	if lr.Evaluation() != 0.3 || lr.Depth() != 12 || lr.IsMate() {
		t.Errorf("root = (%v, %d, %v)", lr.Evaluation(), lr.Depth(), lr.IsMate())
	}
	moves := lr.Moves()
	if len(moves) != 1 {
		t.Fatalf("moves = %d, want 1", len(moves))
	}
	lm := moves[0]
	if lm.Label != "e4" || lm.Result != next.Reduced() || lm.Source != Book || lm.Frequency != 5 || lm.Comment != m.Comment {
		t.Errorf("move = %+v", lm)
	}
	if lm.EvaluationDepth() != 22 || !lm.IsMate() || lm.Evaluation() != -100 {
		t.Errorf("move evaluation = (%v, %d, %v)", lm.Evaluation(), lm.EvaluationDepth(), lm.IsMate())
	}
	if got := loaded.Get(next.Reduced()).Source(); got != Book {
		t.Errorf("backlink source = %v, want BOOK", got)
	}
}

func TestLoadMissingFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tree")
	tree := New(dir)
	if err := tree.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tree.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tree.Len())
	}
	for _, name := range []string{EvalFile, MovesFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}
}

func TestLoadLegacyMoveRow(t *testing.T) {
	dir := t.TempDir()
	row := `"` + position.StartReduced + `";"e4";"";"BOOK";"3"` + "\n"
	if err := os.WriteFile(filepath.Join(dir, MovesFile), []byte(row), 0644); err != nil {
		t.Fatal(err)
	}
	tree := New(dir)
	if err := tree.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	next, _, _ := position.Start().Apply("e4")
	m := tree.Get(position.StartReduced).MoveByLabel("e4")
	if m == nil || m.Result != next.Reduced() || m.Frequency != 3 {
		t.Fatalf("move = %+v, want result %q", m, next.Reduced())
	}
	if _, ok := tree.Lookup(next.Reduced()); !ok {
		t.Error("destination node missing after load")
	}
}

func TestLoadMalformedKeepsTree(t *testing.T) {
	dir := t.TempDir()
	tree := New(dir)
	tree.Get(whiteFEN).Update(0.1, 3, false)
	bad := `"` + whiteFEN + `";"not-a-number";"3";"False"` + "\n"
	if err := os.WriteFile(filepath.Join(dir, EvalFile), []byte(bad), 0644); err != nil {
		t.Fatal(err)
	}
	if err := tree.Load(); err == nil {
		t.Fatal("Load should fail on a malformed row")
	}
	if tree.Len() != 1 || tree.Get(whiteFEN).Depth() != 3 {
		t.Error("failed Load modified the tree")
	}
}

func TestStatsAndClear(t *testing.T) {
	tree := New(t.TempDir())
	root := tree.Get(whiteFEN)
	root.Update(0.2, 10, false)
	root.Add(NewMove("e4", blackFEN, Book))
	s := tree.Stats()
	if s.Nodes != 2 || s.Moves != 1 || s.Evaluated != 1 || s.BySource[Book] != 1 || s.BySource[EngineSynthetic] != 1 {
		t.Errorf("Stats() = %+v", s)
	}
	var order []string
	tree.Walk(func(n *Node) bool {
		order = append(order, n.FEN)
		return true
	})
	if len(order) != 2 || order[0] != whiteFEN {
		t.Errorf("Walk order = %v", order)
	}
	tree.Clear()
	if tree.Len() != 0 || len(tree.Backlinks(blackFEN)) != 0 {
		t.Error("Clear left nodes or backlinks behind")
	}
}
