package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"thesis-tracker/internal/config"
	"thesis-tracker/internal/engine"
	"thesis-tracker/internal/logging"
	"thesis-tracker/internal/lookup"
	"thesis-tracker/internal/quotes"
	"thesis-tracker/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-06-01"
)

// App holds the application dependencies. The price cache and reconciler
// are process-wide singletons: they carry the per-symbol and per-id
// in-flight guards that must survive across commands within one process.
type App struct {
	Config     *config.Config
	Logger     zerolog.Logger
	Store      store.ThesisStore
	Snapshot   store.SnapshotStore
	Lookup     engine.PriceLookup
	Cache      *engine.PriceCache
	Evaluator  *engine.Evaluator
	Reconciler *engine.Reconciler
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize the remote store client if configured
	if cfg.Store.BaseURL != "" {
		app.Store = store.NewRESTStore(store.RESTConfig{
			BaseURL:  cfg.Store.BaseURL,
			APIToken: cfg.Credentials.APIToken,
			Timeout:  cfg.Store.Timeout,
		}, logger)
		logger.Debug().Str("url", cfg.Store.BaseURL).Msg("Thesis store client initialized")
	}

	// Initialize the local snapshot cache
	snapshot, err := store.NewSQLiteSnapshot(cfg.DatabasePath())
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize snapshot cache, continuing without it")
	} else {
		app.Snapshot = snapshot
		logger.Debug().Msg("Snapshot cache initialized")
	}

	// Initialize the lookup client and the engine singletons
	if cfg.Lookup.BaseURL != "" {
		app.Lookup = lookup.NewClient(lookup.Config{
			BaseURL:  cfg.Lookup.BaseURL,
			APIToken: cfg.Credentials.APIToken,
			Timeout:  cfg.Lookup.Timeout,
		}, logger)
	}
	app.Cache = engine.NewPriceCache(app.Lookup, logger)
	app.Evaluator = engine.NewEvaluator(engine.EvalConfig{
		StopProximityPercent: cfg.Tracker.StopProximityPercent,
		DownsidePercent:      cfg.Tracker.DownsidePercent,
	})
	app.Reconciler = engine.NewReconciler(app.Store, app.Snapshot, logger)

	rootCmd := &cobra.Command{
		Use:   "thesis",
		Short: "Thesis Tracker - investment thesis status engine",
		Long: `Thesis Tracker follows your documented investment theses against live
and fallback price data, derives a lifecycle status for each one, and
reconciles genuine status changes back to the remote store.

Use 'thesis help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/thesis-tracker)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	addThesisCommands(rootCmd, app)
	addEngineCommands(rootCmd, app)

	return rootCmd
}

// newFeed builds the quote feed selected by configuration.
func (app *App) newFeed() quotes.Feed {
	if app.Config.Feed.Mode == "stream" && app.Config.Feed.StreamURL != "" {
		return quotes.NewStreamFeed(quotes.StreamConfig{
			URL:        app.Config.Feed.StreamURL,
			APIToken:   app.Config.Credentials.APIToken,
			MaxRetries: app.Config.Feed.MaxRetries,
		}, app.Logger)
	}
	return quotes.NewPollFeed(quotes.PollConfig{
		URL:      app.Config.Feed.PollURL,
		APIToken: app.Config.Credentials.APIToken,
		Interval: app.Config.Feed.PollInterval,
	}, app.Logger)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := outputFor(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Thesis Tracker v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := outputFor(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			output.Bold("Tracker")
			output.Printf("  reconcile_interval:     %s\n", app.Config.Tracker.ReconcileInterval)
			output.Printf("  stop_proximity_percent: %.1f\n", app.Config.Tracker.StopProximityPercent)
			output.Printf("  downside_percent:       %.1f\n", app.Config.Tracker.DownsidePercent)
			output.Bold("Feed")
			output.Printf("  mode:          %s\n", app.Config.Feed.Mode)
			output.Printf("  poll_interval: %s\n", app.Config.Feed.PollInterval)
			output.Bold("Store")
			output.Printf("  base_url: %s\n", app.Config.Store.BaseURL)
			output.Bold("Lookup")
			output.Printf("  base_url: %s\n", app.Config.Lookup.BaseURL)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create template configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := outputFor(cmd)
			configDir, _ := cmd.Flags().GetString("config")
			if err := config.Init(configDir); err != nil {
				output.Error("Failed to create config templates: %v", err)
				return err
			}
			if configDir == "" {
				configDir = config.DefaultConfigDir()
			}
			output.Success("Config templates ready in %s", configDir)
			output.Dim("Set your API token in credentials.toml")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := outputFor(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := outputFor(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			output.Success("Configuration is valid")
			return nil
		},
	})

	return cmd
}

func outputFor(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return NewOutput(cmd.OutOrStdout(), jsonMode)
}
