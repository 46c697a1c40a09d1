// Package cli implements the openingtree command tree.
package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/freeeve/openingtree/internal/app"
	"github.com/freeeve/openingtree/internal/config"
	"github.com/freeeve/openingtree/internal/logx"
)

type globalOptions struct {
	configPath string
	logLevel   string
	logJSON    bool
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	g := &globalOptions{}
	root := &cobra.Command{
		Use:           "openingtree",
		Short:         "Chess opening repertoire tree: import, analyse, explore and quiz",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "openingtree.yaml", "Path to the YAML config file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&g.logJSON, "log-json", false, "Log JSON lines instead of console output")

	root.AddCommand(
		newServeCommand(g),
		newIngestCommand(g),
		newUpdateCommand(g),
		newOpeningsCommand(g),
		newAnalyseCommand(g),
		newStatsCommand(g),
		newFindCommand(g),
		newBestCommand(g),
		newImportEvalsCommand(g),
		newExportEvalsCommand(g),
		newPerformanceCommand(g),
		newBackupCommand(g),
		newRestoreCommand(g),
	)
	return root
}

// Execute runs the command tree with ctx, which is cancelled on shutdown signals.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// load reads the config and applies the logging flags over it.
func (g *globalOptions) load(cmd *cobra.Command) (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return cfg, zerolog.Nop(), err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Log.JSON = g.logJSON
	}
	log, err := logx.NewLogger(logx.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON, Out: cmd.ErrOrStderr()})
	if err != nil {
		return cfg, zerolog.Nop(), err
	}
	return cfg, log, nil
}

// open loads the config and opens the application state.
func (g *globalOptions) open(cmd *cobra.Command, opts app.Options) (*app.App, error) {
	cfg, log, err := g.load(cmd)
	if err != nil {
		return nil, err
	}
	a, err := app.Open(cmd.Context(), cfg, log, opts)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return a, nil
}
