package graph

import (
	"fmt"
)

// Move is an arc from its owning node to the node identified by Result.
// Its evaluation is read from the destination node on every call.
type Move struct {
	Label     string
	Result    string
	Comment   string
	Source    SourceType
	Frequency int

	tree *Tree
}

// NewMove returns a detached move. It becomes part of a tree when added to a node.
func NewMove(label, result string, source SourceType) *Move {
	return &Move{Label: label, Result: result, Source: source}
}

// IsEquivalent reports whether two moves share label and destination.
func (m *Move) IsEquivalent(other *Move) bool {
	return other != nil && m.Label == other.Label && m.Result == other.Result
}

func (m *Move) destination() *Node {
	if m.tree == nil {
		return nil
	}
	return m.tree.Get(m.Result)
}

// Evaluation is the evaluation of the resulting position.
func (m *Move) Evaluation() float64 {
	if n := m.destination(); n != nil {
		return n.eval
	}
	return 0
}

// EvaluationDepth is the evaluation depth of the resulting position, -1 if unknown.
func (m *Move) EvaluationDepth() int {
	if n := m.destination(); n != nil {
		return n.depth
	}
	return -1
}

// IsMate reports whether the resulting position was scored as a mate.
func (m *Move) IsMate() bool {
	if n := m.destination(); n != nil {
		return n.mate
	}
	return false
}

// Describe summarizes the move as seen from origin.
func (m *Move) Describe(origin *Node) string {
	return fmt.Sprintf("%s with eval %s at depth %d (cp loss = %d) from source %s",
		m.Label, formatFloat(m.Evaluation()), m.EvaluationDepth(), origin.CentipawnLoss(m), m.Source)
}
