package gamerecord

import "context"

type pending struct {
	node   *Node
	prefix []string
}

// ExtractLines flattens the variation tree of g into root-to-leaf move
// sequences. The main line comes first, followed by alternatives in the
// order they appear in the record. ctx is checked before each variation is
// entered; on cancellation the lines collected so far are returned along
// with ctx.Err().
func ExtractLines(ctx context.Context, g *Game) ([][]string, error) {
	var lines [][]string
	stack := []pending{{node: g.Root}}
	for len(stack) > 0 {
		select {
		case <-ctx.Done():
			return lines, ctx.Err()
		default:
		}

		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		line := top.prefix
		if top.node != g.Root {
			line = make([]string, len(top.prefix)+1)
			copy(line, top.prefix)
			line[len(top.prefix)] = top.node.SAN
		}

		if len(top.node.Variations) == 0 {
			if len(line) > 0 {
				lines = append(lines, line)
			}
			continue
		}
		for i := len(top.node.Variations) - 1; i >= 0; i-- {
			stack = append(stack, pending{node: top.node.Variations[i], prefix: line})
		}
	}
	return lines, nil
}
