package graph

import (
	"errors"
	"math"
	"slices"

	"github.com/freeeve/openingtree/internal/position"
)

var (
	// ErrNoMoves is returned when selecting from a node without moves.
	ErrNoMoves = errors.New("node has no moves")
	// ErrUnselectable is returned by a frequency-weighted pick when every
	// move has zero frequency.
	ErrUnselectable = errors.New("no move selectable by frequency")
)

// Rand is the subset of math/rand/v2 used for move selection.
type Rand interface {
	IntN(n int) int
}

// Node is a position in the tree, keyed by its reduced fingerprint.
type Node struct {
	FEN string

	eval  float64
	depth int
	mate  bool
	moves []*Move
	tree  *Tree
}

func newNode(t *Tree, fen string) *Node {
	return &Node{FEN: fen, depth: -1, tree: t}
}

// Evaluation is the white-relative score in pawns. Mates are ±100.
func (n *Node) Evaluation() float64 { return n.eval }

// Depth is the evaluation depth, -1 when the node was never analysed.
func (n *Node) Depth() int { return n.depth }

// IsMate reports whether the evaluation is a forced mate.
func (n *Node) IsMate() bool { return n.mate }

// Moves returns the known moves in discovery order. The slice must not be modified.
func (n *Node) Moves() []*Move { return n.moves }

// Update stores an evaluation if it is deeper than the current one, or if
// it reports a mate the current one does not.
func (n *Node) Update(eval float64, depth int, mate bool) bool {
	if depth > n.depth || (!n.mate && mate) {
		n.eval, n.depth, n.mate = eval, depth, mate
		return true
	}
	return false
}

// Add merges m into the node and returns the stored move. An equivalent
// move already present keeps its frequency, takes m's source when that is
// more trusted, and takes m's comment when it has none.
func (n *Node) Add(m *Move) *Move {
	if existing := n.EquivalentMove(m); existing != nil {
		if m.Source > existing.Source {
			existing.Source = m.Source
		}
		if existing.Comment == "" {
			existing.Comment = m.Comment
		}
		return existing
	}
	m.tree = n.tree
	n.moves = append(n.moves, m)
	n.tree.Assure(m.Result)
	n.tree.backlink(n.FEN, m)
	return m
}

// KnowsMove reports whether an equivalent move is stored.
func (n *Node) KnowsMove(m *Move) bool {
	return n.EquivalentMove(m) != nil
}

// EquivalentMove returns the stored move equivalent to m, or nil.
func (n *Node) EquivalentMove(m *Move) *Move {
	for _, existing := range n.moves {
		if existing.IsEquivalent(m) {
			return existing
		}
	}
	return nil
}

// MoveByLabel returns the first stored move with the given SAN label, or nil.
func (n *Node) MoveByLabel(label string) *Move {
	for _, m := range n.moves {
		if m.Label == label {
			return m
		}
	}
	return nil
}

func (n *Node) HasMove() bool { return len(n.moves) > 0 }

// TotalFrequency sums the frequency of every move.
func (n *Node) TotalFrequency() int {
	total := 0
	for _, m := range n.moves {
		total += m.Frequency
	}
	return total
}

func (n *Node) HasFrequency() bool { return n.TotalFrequency() > 0 }

// RandomMove picks a move uniformly, or weighted by frequency when
// useFrequency is set. Callers using weights should check HasFrequency first.
func (n *Node) RandomMove(rng Rand, useFrequency bool) (*Move, error) {
	if len(n.moves) == 0 {
		return nil, ErrNoMoves
	}
	if !useFrequency {
		return n.moves[rng.IntN(len(n.moves))], nil
	}
	total := n.TotalFrequency()
	if total <= 0 {
		return nil, ErrUnselectable
	}
	target := rng.IntN(total)
	cumulative := 0
	for _, m := range n.moves {
		cumulative += m.Frequency
		if target < cumulative {
			return m, nil
		}
	}
	return nil, ErrUnselectable
}

// IsWhiteToMove reads the side to move from the fingerprint.
func (n *Node) IsWhiteToMove() bool {
	return position.WhiteToMove(n.FEN)
}

// CentipawnLoss is the absolute evaluation difference to m's destination
// in centipawns.
func (n *Node) CentipawnLoss(m *Move) int {
	return int(math.RoundToEven(math.Abs(n.eval-m.Evaluation()) * 100))
}

// AcceptPolicy holds the evaluation drop tolerated when checking moves.
// Moves from RelaxedSources are checked against RelaxedThreshold.
type AcceptPolicy struct {
	Threshold        float64      `yaml:"accept_diff"`
	RelaxedThreshold float64      `yaml:"accept_diff_relaxed"`
	RelaxedSources   []SourceType `yaml:"relaxed_sources"`
}

// DefaultAcceptPolicy tolerates 0.3 pawns, or 0.5 for curated theory.
func DefaultAcceptPolicy() AcceptPolicy {
	return AcceptPolicy{
		Threshold:        0.3,
		RelaxedThreshold: 0.5,
		RelaxedSources:   []SourceType{TheoryVideo, Course, Book},
	}
}

func (p AcceptPolicy) threshold(s SourceType) float64 {
	if slices.Contains(p.RelaxedSources, s) {
		return p.RelaxedThreshold
	}
	return p.Threshold
}

// IsAcceptableMove reports whether playing m loses no more than the
// policy threshold from the perspective of the side to move.
func (n *Node) IsAcceptableMove(m *Move, p AcceptPolicy) bool {
	if m.EvaluationDepth() < 0 {
		return false
	}
	threshold := p.threshold(m.Source)
	reference := n.eval
	if n.depth < 0 {
		best := n.BestMove(0)
		if best == nil || best.EvaluationDepth() < 0 {
			return true
		}
		reference = best.Evaluation()
	}
	if n.IsWhiteToMove() {
		return reference-m.Evaluation() <= threshold
	}
	return m.Evaluation()-reference <= threshold
}

// HasAcceptableMove reports whether any stored move passes IsAcceptableMove.
func (n *Node) HasAcceptableMove(p AcceptPolicy) bool {
	for _, m := range n.moves {
		if n.IsAcceptableMove(m, p) {
			return true
		}
	}
	return false
}

// AcceptableMoves returns every stored move passing IsAcceptableMove.
func (n *Node) AcceptableMoves(p AcceptPolicy) []*Move {
	var out []*Move
	for _, m := range n.moves {
		if n.IsAcceptableMove(m, p) {
			out = append(out, m)
		}
	}
	return out
}

// BestMove takes the deepest evaluated move as baseline, then replaces it
// with any move of at least minDepth that scores strictly better for the
// side to move. It returns nil for a node without moves.
func (n *Node) BestMove(minDepth int) *Move {
	if len(n.moves) == 0 {
		return nil
	}
	best := n.moves[0]
	for _, m := range n.moves[1:] {
		if m.EvaluationDepth() > best.EvaluationDepth() {
			best = m
		}
	}
	white := n.IsWhiteToMove()
	for _, m := range n.moves {
		if m.EvaluationDepth() < minDepth {
			continue
		}
		if (white && m.Evaluation() > best.Evaluation()) || (!white && m.Evaluation() < best.Evaluation()) {
			best = m
		}
	}
	return best
}

// Source is the most trusted source among moves leading to this node,
// EngineSynthetic when none do.
func (n *Node) Source() SourceType {
	source := EngineSynthetic
	for _, b := range n.tree.Backlinks(n.FEN) {
		if b.Move.Source > source {
			source = b.Move.Source
		}
	}
	return source
}
