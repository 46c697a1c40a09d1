// Package gamerecord parses PGN text into games with full variation trees
// and flattens those trees into move lines.
package gamerecord

import (
	"strconv"
	"strings"
)

// Game is a parsed game record.
type Game struct {
	Tags   map[string]string
	Root   *Node
	Result string
}

// Node is one move of a game tree. Variations[0] continues the line the
// node belongs to; further entries are alternatives.
type Node struct {
	SAN        string
	Comment    string
	NAGs       []int
	Parent     *Node
	Variations []*Node
}

func newGame() *Game {
	return &Game{Tags: make(map[string]string), Root: &Node{}}
}

// StartFEN returns the FEN tag when the game does not start from the
// standard position, or "" otherwise.
func (g *Game) StartFEN() string {
	if fen := strings.TrimSpace(g.Tags["FEN"]); fen != "" && g.Tags["SetUp"] != "0" {
		return fen
	}
	return ""
}

// Mainline returns the moves along the first variation at every node.
func (g *Game) Mainline() []string {
	var out []string
	for n := g.Root; len(n.Variations) > 0; {
		n = n.Variations[0]
		out = append(out, n.SAN)
	}
	return out
}

// Moves counts every move node in the tree.
func (g *Game) Moves() int {
	count := 0
	stack := []*Node{g.Root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		count += len(n.Variations)
		stack = append(stack, n.Variations...)
	}
	return count
}

// FormatMoves renders a move list as PGN movetext, numbering from move one.
func FormatMoves(moves []string, whiteFirst bool) string {
	var b strings.Builder
	offset := 0
	if !whiteFirst {
		offset = 1
	}
	for i, san := range moves {
		ply := i + offset
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		switch {
		case ply%2 == 0:
			b.WriteString(strconv.Itoa(ply/2 + 1))
			b.WriteString(". ")
		case i == 0:
			b.WriteString(strconv.Itoa(ply/2 + 1))
			b.WriteString("... ")
		}
		b.WriteString(san)
	}
	return b.String()
}
