package ingest

import (
	"github.com/freeeve/openingtree/internal/graph"
	"github.com/freeeve/openingtree/internal/position"
)

type step struct {
	from  string
	label string
	to    string
}

// replayed is a line played out on the board. When err is set the line
// stopped at reached, before the rejected move.
type replayed struct {
	game, index int
	start       string
	reached     string
	steps       []step
	err         error
}

// replayLine plays sans from start, stopping at the first illegal move.
func replayLine(start *position.Position, sans []string) replayed {
	rl := replayed{start: start.Reduced(), steps: make([]step, 0, len(sans))}
	pos := start
	for _, san := range sans {
		next, label, err := pos.Apply(san)
		if err != nil {
			rl.err = err
			break
		}
		rl.steps = append(rl.steps, step{from: pos.Reduced(), label: label, to: next.Reduced()})
		pos = next
	}
	rl.reached = pos.Reduced()
	return rl
}

func (rl replayed) labels() []string {
	out := make([]string, len(rl.steps))
	for i, s := range rl.steps {
		out[i] = s.label
	}
	return out
}

// merge adds every step to tree and returns how many arcs were seen and
// how many of those were new.
func (rl replayed) merge(tree *graph.Tree, source graph.SourceType, countFrequency bool) (moves, added int) {
	tree.Assure(rl.start)
	for _, s := range rl.steps {
		node := tree.Get(s.from)
		before := len(node.Moves())
		stored := node.Add(graph.NewMove(s.label, s.to, source))
		if countFrequency {
			stored.Frequency++
		}
		moves++
		if len(node.Moves()) > before {
			added++
		}
	}
	tree.Assure(rl.reached)
	return moves, added
}
