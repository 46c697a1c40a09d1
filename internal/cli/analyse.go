package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/freeeve/openingtree/internal/app"
	"github.com/freeeve/openingtree/internal/engine"
	"github.com/freeeve/openingtree/internal/graph"
	"github.com/freeeve/openingtree/internal/position"
)

func newAnalyseCommand(g *globalOptions) *cobra.Command {
	var (
		maxPositions int
		fen          string
		depth        int
	)
	cmd := &cobra.Command{
		Use:   "analyse",
		Short: "Evaluate tree positions with the UCI engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd, app.Options{Engine: true})
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if fen != "" {
				if depth <= 0 {
					depth = a.Config.Analysis.DesiredDepth
				}
				s, err := a.Analyser.ExplorePosition(ctx, fen, depth)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: eval %.2f depth %d mate %v\n", position.ReduceFEN(fen), s.Eval, s.Depth, s.IsMate)
				return a.Save(ctx)
			}

			if maxPositions <= 0 {
				maxPositions = a.Config.Analysis.MaxPositions
			}
			n, err := a.Analyser.Run(ctx, maxPositions)
			// keep what was analysed before an interrupt
			if serr := a.Save(ctx); serr != nil && err == nil {
				err = serr
			}
			fmt.Fprintf(out, "analysed %d positions\n", n)
			return err
		},
	}
	cmd.Flags().IntVar(&maxPositions, "max", 0, "Maximum positions to analyse (default analysis.max_positions)")
	cmd.Flags().StringVar(&fen, "fen", "", "Analyse this single position instead of scanning the tree")
	cmd.Flags().IntVar(&depth, "depth", 0, "Depth for --fen (default analysis.desired_depth)")
	return cmd
}

func newStatsCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print analysis progress per source",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			targets, err := a.Config.Analysis.Targets()
			if err != nil {
				return err
			}
			var report engine.Report
			var stats graph.Stats
			err = a.Do(cmd.Context(), func() error {
				report = engine.Statistics(a.Tree, targets)
				stats = a.Tree.Stats()
				return nil
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "nodes %d, moves %d, evaluated %d\n", stats.Nodes, stats.Moves, stats.Evaluated)
			return report.Print(out)
		},
	}
}

func newFindCommand(g *globalOptions) *cobra.Command {
	var (
		maxDepth      int
		minSource     string
		allowTerminal bool
		firstMatch    bool
	)
	cmd := &cobra.Command{
		Use:   "find",
		Short: "Find a position below a depth from at least a given source",
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := graph.ParseSourceType(minSource)
			if err != nil {
				return err
			}
			a, err := g.open(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			var line string
			err = a.Do(cmd.Context(), func() error {
				n := a.Tree.FindNode(maxDepth, source, allowTerminal, !firstMatch)
				if n == nil {
					return fmt.Errorf("no position with depth <= %d from %s", maxDepth, source)
				}
				line = fmt.Sprintf("%s\t%s\tdepth %d\teval %.2f", n.FEN, n.Source(), n.Depth(), n.Evaluation())
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxDepth, "max-depth", 20, "Largest evaluation depth still considered")
	cmd.Flags().StringVar(&minSource, "min-source", graph.Unknown.String(), "Least trusted source considered")
	cmd.Flags().BoolVar(&allowTerminal, "allow-terminal", false, "Include mate positions")
	cmd.Flags().BoolVar(&firstMatch, "first", false, "Return the first match instead of the most trusted one")
	return cmd
}

func newBestCommand(g *globalOptions) *cobra.Command {
	var (
		fen      string
		minDepth int
	)
	cmd := &cobra.Command{
		Use:   "best",
		Short: "Print the best known move of a position",
		RunE: func(cmd *cobra.Command, args []string) error {
			pos := position.Start()
			if fen != "" {
				var err error
				if pos, err = position.FromFEN(fen); err != nil {
					return err
				}
			}
			a, err := g.open(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			var line string
			err = a.Do(cmd.Context(), func() error {
				n, ok := a.Tree.Lookup(pos.Reduced())
				if !ok {
					return fmt.Errorf("position not in tree: %s", pos.Reduced())
				}
				m := n.BestMove(minDepth)
				if m == nil {
					return fmt.Errorf("no moves from %s", pos.Reduced())
				}
				line = m.Describe(n)
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
			return nil
		},
	}
	cmd.Flags().StringVar(&fen, "fen", "", "Position (default start position)")
	cmd.Flags().IntVar(&minDepth, "min-depth", 0, "Minimum evaluation depth of the destination")
	return cmd
}
