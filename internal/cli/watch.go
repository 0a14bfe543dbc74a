package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"thesis-tracker/internal/engine"
	"thesis-tracker/internal/notify"
	"thesis-tracker/pkg/utils"
)

// addEngineCommands adds the commands that run the evaluation engine.
func addEngineCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newWatchCmd(app))
	rootCmd.AddCommand(newReconcileCmd(app))
}

func newWatchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch tracked theses against live prices",
		Long: `Run the evaluation engine against the live quote feed until interrupted.

Statuses are re-derived on every quote, fallback price, or tracked-set
change, and genuine changes are reconciled back to the remote store.`,
		Example: `  thesis watch
  thesis watch --interval 10s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := outputFor(cmd)
			interval, _ := cmd.Flags().GetDuration("interval")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			theses, fromCache, err := app.loadTheses(ctx)
			if err != nil {
				output.Error("Failed to load theses: %v", err)
				return err
			}
			if fromCache {
				output.Warning("Remote store unreachable, reconciliation deferred until it recovers")
			}
			if len(theses) == 0 {
				output.Dim("No theses tracked. Use 'thesis add <symbol>' to start.")
				return nil
			}

			app.Reconciler.SeedSnapshot(theses)

			feed := app.newFeed()
			defer feed.Close()

			coordinator := engine.NewCoordinator(app.Evaluator, app.Cache, app.Reconciler, feed, app.Logger)
			defer coordinator.Close()

			notifier := notify.NewTerminalNotifier(100)
			notifier.SetColorEnabled(app.Config.UI.ColorEnabled)
			notifier.AddHandler(func(n notify.StatusNotification) {
				badge := output.ColoredString(output.StatusColor(n.NewStatus), string(n.NewStatus))
				output.Printf("%s  %s -> %s  (price %s)\n",
					n.Symbol, n.OldStatus, badge, utils.FormatPrice(n.CurrentPrice))
			})
			notifier.Start(ctx)

			coordinator.SetTheses(theses)

			errCh := make(chan error, 1)
			go func() {
				errCh <- coordinator.Run(ctx)
			}()

			color.Cyan("👁  Watching %d theses (Ctrl-C to stop)", len(theses))

			render := time.NewTicker(interval)
			defer render.Stop()

			for {
				select {
				case <-ctx.Done():
					<-errCh
					output.Println()
					output.Dim("Stopped.")
					return nil
				case err := <-errCh:
					if err != nil && ctx.Err() == nil {
						output.Error("Engine stopped: %v", err)
						return err
					}
					return nil
				case <-render.C:
					renderViews(output, coordinator.Views(), notifier)
				}
			}
		},
	}

	cmd.Flags().Duration("interval", 5*time.Second, "render interval")

	return cmd
}

func renderViews(output *Output, views []engine.ThesisView, notifier *notify.TerminalNotifier) {
	if len(views) == 0 {
		return
	}

	output.Println()
	output.Printf("%-10s %-12s %-10s %-24s %s\n", "SYMBOL", "PRICE", "SOURCE", "PROGRESS", "STATUS")
	for _, v := range views {
		price := utils.FormatPrice(v.Observation.Price)
		if v.Fetching {
			price = "fetching…"
		}

		progress := "-"
		if v.Evaluation.ProgressPercent != nil {
			progress = utils.ProgressBar(v.Evaluation.ClampedProgress(), 14) + " " +
				utils.FormatPercent(*v.Evaluation.ProgressPercent)
		}

		badge := output.ColoredString(output.StatusColor(v.Thesis.Status), string(v.Thesis.Status))
		output.Printf("%-10s %-12s %-10s %-24s %s\n",
			v.Thesis.Symbol, price, string(v.Observation.Source), progress, badge)

		notifier.Observe(v.Thesis, v.Observation.Price)
	}
}

func newReconcileCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one evaluation and reconciliation pass",
		Long: `Fetch the tracked set, evaluate every thesis against the latest
available prices, and push genuine status changes to the remote store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := outputFor(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			theses, fromCache, err := app.loadTheses(ctx)
			if err != nil {
				output.Error("Failed to load theses: %v", err)
				return err
			}
			if fromCache {
				output.Error("Remote store unreachable; nothing to reconcile against")
				return nil
			}
			if len(theses) == 0 {
				output.Dim("No theses tracked.")
				return nil
			}

			app.Reconciler.SeedSnapshot(theses)

			feed := app.newFeed()
			defer feed.Close()
			if err := feed.Connect(ctx); err != nil {
				output.Warning("Quote feed unavailable, using fallback prices only: %v", err)
			}

			coordinator := engine.NewCoordinator(app.Evaluator, app.Cache, app.Reconciler, feed, app.Logger)
			defer coordinator.Close()
			coordinator.SetTheses(theses)

			// First pass kicks off fallback fetches for symbols without a
			// live quote; give them a moment, then run the pass that
			// consumes the cached results.
			coordinator.RunOnce(ctx)
			time.Sleep(2 * time.Second)
			coordinator.RunOnce(ctx)

			if output.IsJSON() {
				return output.JSON(coordinator.Views())
			}
			renderViews(output, coordinator.Views(), notify.NewTerminalNotifier(1))
			return nil
		},
	}
}
