package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"

	trackererrors "thesis-tracker/internal/errors"
	"thesis-tracker/internal/models"
	"thesis-tracker/pkg/utils"
)

// addThesisCommands adds thesis management commands.
func addThesisCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newAddCmd(app))
	rootCmd.AddCommand(newRmCmd(app))
	rootCmd.AddCommand(newListCmd(app))
	rootCmd.AddCommand(newExportCmd(app))
}

func newAddCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <symbol>",
		Short: "Track a new investment thesis",
		Long: `Create a new thesis for a symbol with optional entry, target and stop
levels. Unset levels fall back at evaluation time: entry to the first
observed price, target and stop to entry.`,
		Example: `  thesis add AAPL --entry 180 --target 220 --stop 165
  thesis add MSFT --target 500
  thesis add NVDA --entry 120 --stop 95 --notes "datacenter capex cycle"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := outputFor(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			symbol := strings.ToUpper(args[0])
			if !models.ValidSymbol(symbol) {
				err := trackererrors.NewValidationError("symbol", symbol, "must be 1-10 chars of A-Z 0-9 . & -")
				output.Error("%v", err)
				return err
			}

			if app.Store == nil {
				output.Error("Thesis store not configured. Set store.base_url in config.")
				return trackererrors.ErrConfigInvalid
			}

			thesis := &models.Thesis{Symbol: symbol, Status: models.StatusOnTrack}
			var err error
			if thesis.Entry, err = levelFlag(cmd, "entry"); err != nil {
				return err
			}
			if thesis.Target, err = levelFlag(cmd, "target"); err != nil {
				return err
			}
			if thesis.Stop, err = levelFlag(cmd, "stop"); err != nil {
				return err
			}
			thesis.Notes, _ = cmd.Flags().GetString("notes")

			created, err := app.Store.Create(ctx, thesis)
			if err != nil {
				output.Error("Failed to create thesis: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(created)
			}
			output.Success("Tracking %s (id %s)", created.Symbol, created.ID)
			return nil
		},
	}

	cmd.Flags().String("entry", "", "entry price level")
	cmd.Flags().String("target", "", "target price level")
	cmd.Flags().String("stop", "", "stop price level")
	cmd.Flags().String("notes", "", "free-form thesis notes")

	return cmd
}

func levelFlag(cmd *cobra.Command, name string) (*float64, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, trackererrors.NewValidationError(name, raw, "not a number")
	}
	if v < 0 {
		return nil, trackererrors.NewValidationError(name, raw, "must be non-negative")
	}
	return models.Float(v), nil
}

func newRmCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Stop tracking a thesis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := outputFor(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if app.Store == nil {
				output.Error("Thesis store not configured. Set store.base_url in config.")
				return trackererrors.ErrConfigInvalid
			}

			if err := app.Store.Delete(ctx, args[0]); err != nil {
				output.Error("Failed to delete thesis: %v", err)
				return err
			}
			output.Success("Deleted thesis %s", args[0])
			return nil
		},
	}
}

func newListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tracked theses with their last-known status",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := outputFor(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			theses, fromCache, err := app.loadTheses(ctx)
			if err != nil {
				output.Error("Failed to load theses: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(theses)
			}

			if fromCache {
				output.Warning("Remote store unreachable, showing cached snapshot")
			}
			if len(theses) == 0 {
				output.Dim("No theses tracked. Use 'thesis add <symbol>' to start.")
				return nil
			}

			color.Cyan("📋 Tracked Theses")
			output.Printf("%-10s %-10s %-10s %-10s %-10s %s\n",
				"SYMBOL", "ENTRY", "TARGET", "STOP", "STATUS", "NOTES")
			for _, t := range theses {
				badge := output.ColoredString(output.StatusColor(t.Status), string(t.Status))
				output.Printf("%-10s %-10s %-10s %-10s %-10s %s\n",
					t.Symbol,
					utils.FormatLevel(t.Entry),
					utils.FormatLevel(t.Target),
					utils.FormatLevel(t.Stop),
					badge,
					t.Notes)
			}
			return nil
		},
	}
}

func newExportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Export tracked theses to CSV",
		Long:  "Export the tracked set with its last-known statuses to a CSV file, or stdout when no file is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := outputFor(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			theses, _, err := app.loadTheses(ctx)
			if err != nil {
				output.Error("Failed to load theses: %v", err)
				return err
			}

			if len(args) == 0 {
				csv, err := gocsv.MarshalString(&theses)
				if err != nil {
					return fmt.Errorf("encoding csv: %w", err)
				}
				output.Printf("%s", csv)
				return nil
			}

			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("creating %s: %w", args[0], err)
			}
			defer f.Close()

			if err := gocsv.MarshalFile(&theses, f); err != nil {
				return fmt.Errorf("writing csv: %w", err)
			}
			output.Success("Exported %d theses to %s", len(theses), args[0])
			return nil
		},
	}
	return cmd
}

// loadTheses fetches the tracked set from the remote store, falling back to
// the local snapshot cache when the store is unreachable or unconfigured.
func (app *App) loadTheses(ctx context.Context) (theses []models.Thesis, fromCache bool, err error) {
	if app.Store != nil {
		theses, err = app.Store.List(ctx)
		if err == nil {
			if app.Snapshot != nil {
				if cacheErr := app.Snapshot.SaveSnapshot(ctx, theses); cacheErr != nil {
					app.Logger.Warn().Err(cacheErr).Msg("Persisting snapshot cache failed")
				}
			}
			return theses, false, nil
		}
		app.Logger.Warn().Err(err).Msg("Remote list failed, trying snapshot cache")
	}

	if app.Snapshot == nil {
		if err == nil {
			err = trackererrors.ErrConfigInvalid
		}
		return nil, false, err
	}

	theses, cacheErr := app.Snapshot.LoadSnapshot(ctx)
	if cacheErr != nil {
		if err == nil {
			err = cacheErr
		}
		return nil, false, err
	}
	return theses, true, nil
}
