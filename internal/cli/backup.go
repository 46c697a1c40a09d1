package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/freeeve/openingtree/internal/app"
)

func newBackupCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Archive the main tree files into data.backup_dir",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			dst, err := a.Backup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dst)
			return nil
		},
	}
}

func newRestoreCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <archive>",
		Short: "Restore the main tree files from a backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Restore(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %d positions from %s\n", a.Tree.Len(), args[0])
			return nil
		},
	}
}
