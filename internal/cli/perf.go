package cli

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/spf13/cobra"

	"github.com/freeeve/openingtree/internal/app"
	"github.com/freeeve/openingtree/internal/perf"
)

func newPerformanceCommand(g *globalOptions) *cobra.Command {
	var (
		player      string
		day         string
		timeControl string
	)
	cmd := &cobra.Command{
		Use:   "performance",
		Short: "Estimate a player's performance rating on one day",
		RunE: func(cmd *cobra.Command, args []string) error {
			if player == "" {
				return errors.New("--player is required")
			}
			when := time.Now()
			if day != "" {
				d, err := time.ParseInLocation(time.DateOnly, day, time.Local)
				if err != nil {
					return fmt.Errorf("invalid --day: %w", err)
				}
				when = d
			}
			tc, err := perf.ParseTimeControl(timeControl)
			if err != nil {
				return err
			}

			a, err := g.open(cmd, app.Options{Games: true})
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.Games.PerformanceOnDay(cmd.Context(), player, when, tc)
			if err != nil {
				return err
			}
			rating := fmt.Sprintf("%.0f", p.Performance)
			if math.IsInf(p.Performance, 0) {
				rating = fmt.Sprint(p.Performance)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s: %d games, performance %s\n",
				p.Player, tc, p.Start.Format(time.DateOnly), p.Games, rating)
			return nil
		},
	}
	cmd.Flags().StringVar(&player, "player", "", "Player name as it appears in the White/Black tags")
	cmd.Flags().StringVar(&day, "day", "", "Day as YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&timeControl, "time-control", string(perf.Blitz), "bullet, blitz, rapid, classical or correspondence")
	return cmd
}
