package engine

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/freeeve/openingtree/internal/graph"
)

// SourceProgress summarizes the non-mate nodes of one source.
type SourceProgress struct {
	Target     int `json:"target"`
	Nodes      int `json:"nodes"`
	Below      int `json:"below_target"`
	TotalDepth int `json:"-"`
}

// AverageDepth is the mean evaluation depth, 0 without nodes.
func (p SourceProgress) AverageDepth() float64 {
	if p.Nodes == 0 {
		return 0
	}
	return float64(p.TotalDepth) / float64(p.Nodes)
}

// Report summarizes how far analysis has progressed. Mate nodes are
// counted in Mates only.
type Report struct {
	Nodes    int                                  `json:"nodes"`
	Mates    int                                  `json:"mates"`
	Pending  int                                  `json:"pending"`
	Depths   map[int]int                          `json:"depths"`
	BySource map[graph.SourceType]*SourceProgress `json:"by_source"`
}

// AverageDepth is the mean evaluation depth over every node.
func (r Report) AverageDepth() float64 {
	if r.Nodes == 0 {
		return 0
	}
	total := 0
	for depth, count := range r.Depths {
		total += depth * count
	}
	return float64(total) / float64(r.Nodes)
}

// Statistics reports analysis progress against per-source targets.
func Statistics(tree *graph.Tree, targets map[graph.SourceType]int) Report {
	r := Report{
		Depths:   make(map[int]int),
		BySource: make(map[graph.SourceType]*SourceProgress),
	}
	tree.Walk(func(n *graph.Node) bool {
		r.Nodes++
		if n.IsMate() {
			r.Mates++
			return true
		}
		r.Depths[n.Depth()]++
		source := n.Source()
		p := r.BySource[source]
		if p == nil {
			p = &SourceProgress{Target: targets[source]}
			r.BySource[source] = p
		}
		p.Nodes++
		p.TotalDepth += n.Depth()
		if n.Depth() < p.Target {
			p.Below++
			r.Pending++
		}
		return true
	})
	return r
}

// Print writes the report as aligned tables, highest source first.
func (r Report) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "nodes in tree: %d (%d mates)\n\n", r.Nodes, r.Mates)
	fmt.Fprintf(tw, "SOURCE\tTARGET\tNODES\tAVG DEPTH\tBELOW TARGET\n")
	sources := graph.SourceTypes()
	for i := len(sources) - 1; i >= 0; i-- {
		p, ok := r.BySource[sources[i]]
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f\t%d\n", sources[i], p.Target, p.Nodes, p.AverageDepth(), p.Below)
	}
	fmt.Fprintf(tw, "\nDEPTH\tNODES\n")
	depths := make([]int, 0, len(r.Depths))
	for d := range r.Depths {
		depths = append(depths, d)
	}
	slices.Sort(depths)
	for _, d := range depths {
		fmt.Fprintf(tw, "%d\t%d\n", d, r.Depths[d])
	}
	fmt.Fprintf(tw, "\naverage depth: %.2f\n", r.AverageDepth())
	return tw.Flush()
}
