// Package graph holds the opening tree: positions keyed by reduced
// fingerprint, the moves known between them and their provenance.
//
// A Tree is not safe for concurrent use. Callers serialize access.
package graph

// Backlink records a move arriving at a node.
type Backlink struct {
	From string
	Move *Move
}

// Tree maps fingerprints to nodes. Iteration follows insertion order.
type Tree struct {
	dir       string
	nodes     map[string]*Node
	order     []string
	backlinks map[string][]Backlink
}

// New returns an empty tree persisted under dir.
func New(dir string) *Tree {
	return &Tree{
		dir:       dir,
		nodes:     make(map[string]*Node),
		backlinks: make(map[string][]Backlink),
	}
}

// Dir is the directory holding the tree files.
func (t *Tree) Dir() string { return t.dir }

// Get returns the node for fen, creating it if needed.
func (t *Tree) Get(fen string) *Node {
	if n, ok := t.nodes[fen]; ok {
		return n
	}
	n := newNode(t, fen)
	t.nodes[fen] = n
	t.order = append(t.order, fen)
	return n
}

// Assure creates the node for fen if it does not exist.
func (t *Tree) Assure(fen string) {
	t.Get(fen)
}

// Lookup returns the node for fen without creating it.
func (t *Tree) Lookup(fen string) (*Node, bool) {
	n, ok := t.nodes[fen]
	return n, ok
}

// Len is the number of nodes.
func (t *Tree) Len() int { return len(t.nodes) }

// Clear drops every node.
func (t *Tree) Clear() {
	t.nodes = make(map[string]*Node)
	t.order = nil
	t.backlinks = make(map[string][]Backlink)
}

// Walk calls fn for each node in insertion order until fn returns false.
func (t *Tree) Walk(fn func(*Node) bool) {
	for _, fen := range t.order {
		if !fn(t.nodes[fen]) {
			return
		}
	}
}

// Backlinks returns the moves arriving at fen.
func (t *Tree) Backlinks(fen string) []Backlink {
	return t.backlinks[fen]
}

func (t *Tree) backlink(from string, m *Move) {
	t.backlinks[m.Result] = append(t.backlinks[m.Result], Backlink{From: from, Move: m})
}

// FindNode scans for a node evaluated no deeper than maxDepth whose source
// is at least minSource. Mate nodes are skipped unless allowTerminal is set.
// With preferHigherSource the whole tree is scanned and the first node with
// the highest source wins; otherwise the first match is returned.
func (t *Tree) FindNode(maxDepth int, minSource SourceType, allowTerminal, preferHigherSource bool) *Node {
	var found *Node
	var foundSource SourceType
	for _, fen := range t.order {
		n := t.nodes[fen]
		if n.depth > maxDepth || (n.mate && !allowTerminal) {
			continue
		}
		source := n.Source()
		if source < minSource {
			continue
		}
		if !preferHigherSource {
			return n
		}
		if found == nil || source > foundSource {
			found, foundSource = n, source
		}
	}
	return found
}

// Stats summarizes the tree contents.
type Stats struct {
	Nodes     int                `json:"nodes"`
	Moves     int                `json:"moves"`
	Evaluated int                `json:"evaluated"`
	Mates     int                `json:"mates"`
	BySource  map[SourceType]int `json:"by_source"`
}

// Stats counts nodes, moves and node sources.
func (t *Tree) Stats() Stats {
	s := Stats{BySource: make(map[SourceType]int)}
	for _, fen := range t.order {
		n := t.nodes[fen]
		s.Nodes++
		s.Moves += len(n.moves)
		if n.depth >= 0 {
			s.Evaluated++
		}
		if n.mate {
			s.Mates++
		}
		s.BySource[n.Source()]++
	}
	return s
}
