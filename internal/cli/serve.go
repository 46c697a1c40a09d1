package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/freeeve/openingtree/internal/app"
	"github.com/freeeve/openingtree/internal/httpapi"
	"github.com/freeeve/openingtree/internal/ingest"
)

type serveOptions struct {
	addr         string
	engine       bool
	analyse      bool
	saveInterval time.Duration
}

func newServeCommand(g *globalOptions) *cobra.Command {
	o := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the explorer API and run the inbox worker and analyser",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, g, o)
		},
	}
	cmd.Flags().StringVar(&o.addr, "addr", "", "Listen address (overrides http.addr)")
	cmd.Flags().BoolVar(&o.engine, "engine", true, "Start the UCI engine")
	cmd.Flags().BoolVar(&o.analyse, "analyse", true, "Analyse tree positions in the background")
	cmd.Flags().DurationVar(&o.saveInterval, "save-interval", 10*time.Minute, "How often to save the tree (0 = only on shutdown)")
	return cmd
}

func runServe(cmd *cobra.Command, g *globalOptions, o *serveOptions) error {
	a, err := g.open(cmd, app.Options{Engine: o.engine, Games: true})
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.Log

	addr := a.Config.HTTP.Addr
	if o.addr != "" {
		addr = o.addr
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpapi.NewRouter(log, a),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	wcfg := ingest.WorkerConfig{
		WatchDir:       a.Config.Import.InboxDir,
		ProcessedDir:   a.Config.Import.ProcessedDir,
		CountFrequency: false,
		PollInterval:   a.Config.Import.PollInterval,
		Logger:         log.With().Str("component", "ingest-worker").Logger(),
		AfterBatch:     a.Save,
	}
	if a.Analyser != nil {
		// Pause analysis during ingest to reduce contention on the writer
		wcfg.PauseDuring = append(wcfg.PauseDuring, a.Analyser)
	}
	worker, err := ingest.NewWorker(wcfg, a.Importer, a.Tree)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	grp, ctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	grp.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if worker != nil {
		grp.Go(func() error { return ignoreCanceled(worker.Run(ctx)) })
	}
	if o.analyse && a.Analyser != nil {
		grp.Go(func() error { return ignoreCanceled(analyseLoop(ctx, a)) })
	}
	if o.saveInterval > 0 {
		grp.Go(func() error { return ignoreCanceled(saveLoop(ctx, a, o.saveInterval)) })
	}

	err = grp.Wait()

	// ctx is done here; save with a fresh one
	saveCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if serr := a.Save(saveCtx); serr != nil {
		log.Error().Err(serr).Msg("final save failed")
		err = errors.Join(err, serr)
	}
	log.Info().Msg("shutdown complete")
	return err
}

// analyseLoop runs analysis batches, saving after each productive run and
// idling when nothing needs work.
func analyseLoop(ctx context.Context, a *app.App) error {
	const idle = 30 * time.Second
	for {
		n, err := a.Analyser.Run(ctx, a.Config.Analysis.MaxPositions)
		if err != nil {
			return err
		}
		if n > 0 {
			if err := a.Save(ctx); err != nil {
				a.Log.Warn().Err(err).Msg("save after analysis failed")
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(idle):
		}
	}
}

func saveLoop(ctx context.Context, a *app.App, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.Save(ctx); err != nil {
				a.Log.Warn().Err(err).Msg("periodic save failed")
			}
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
