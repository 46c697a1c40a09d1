package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/freeeve/openingtree/internal/app"
	"github.com/freeeve/openingtree/internal/graph"
	"github.com/freeeve/openingtree/internal/ingest"
)

func newIngestCommand(g *globalOptions) *cobra.Command {
	var (
		sourceName string
		frequency  bool
	)
	cmd := &cobra.Command{
		Use:   "ingest <file-or-dir>...",
		Short: "Import PGN files (.pgn, .pgn.zst) or folders into the main tree",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := graph.ParseSourceType(sourceName)
			if err != nil {
				return err
			}
			a, err := g.open(cmd, app.Options{Games: true})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			var total ingest.Stats
			for _, path := range args {
				fi, err := os.Stat(path)
				if err != nil {
					return err
				}
				var s ingest.Stats
				if fi.IsDir() {
					s, err = a.Importer.ImportFolder(ctx, a.Tree, path, source, frequency)
				} else {
					s, err = a.Importer.ImportFile(ctx, a.Tree, path, source, frequency)
				}
				total.Add(s)
				if err != nil {
					return err
				}
			}
			if err := a.Save(ctx); err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), "imported", total)
			return nil
		},
	}
	cmd.Flags().StringVar(&sourceName, "source", graph.AmateurGame.String(), "Source type for the imported moves")
	cmd.Flags().BoolVar(&frequency, "frequency", false, "Count how often each move was played")
	return cmd
}

func newUpdateCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Import every <SOURCE> folder under data.sources_dir into the main tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd, app.Options{Games: true})
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.UpdateOpenings(cmd.Context())
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), "updated", s)
			return nil
		},
	}
}

func newOpeningsCommand(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "openings",
		Short: "Manage the white and black opening trees",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import",
		Short: "Rebuild both opening trees from the player's own games",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			white, black, err := a.RebuildOpenings(cmd.Context())
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), "white openings", white)
			printStats(cmd.OutOrStdout(), "black openings", black)
			return nil
		},
	})
	return cmd
}

func printStats(w io.Writer, label string, s ingest.Stats) {
	fmt.Fprintf(w, "%s: %d files (%d failed), %d games, %d lines (%d illegal), %d moves (%d new), %d games stored\n",
		label, s.Files, s.FilesFailed, s.Games, s.Lines, s.IllegalLines, s.Moves, s.NewMoves, s.StoredGames)
}
