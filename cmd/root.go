// Package cmd defines and implements the CLI commands for the relay executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-relay/internal/app"
	"github.com/JakeFAU/channel-relay/internal/config"
	"github.com/JakeFAU/channel-relay/internal/logging"
)

// devModeAnnotation marks commands that run against the in-memory store and bus.
const devModeAnnotation = "relay/dev-mode"

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. Tests replace it.
var newApp = app.New

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Relays curated Telegram channel content.",
		Long: `relay crawls public Telegram channel pages on tgstat.ru, stores new
posts, serves them over HTTP, and reposts curated content to target
channels on a schedule.`,
		SilenceUsage: true,

		// Builds the application before any subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cmd.Name())
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*app.App); ok && appInstance != nil {
				appInstance.Close()
				_ = appInstance.Logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: environment only)")

	cmd.AddCommand(
		newIngestCmd(),
		newDistributeCmd(),
		newRunCmd(),
		newLoginCmd(),
		newSourcesCmd(),
		newTargetsCmd(),
		newDonorsCmd(),
	)
	return cmd
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	_, dev := cmd.Annotations[devModeAnnotation]
	if dev {
		// Set before Load so validation does not demand a broker project.
		if err := os.Setenv(config.EnvPrefix+"_BROKER_PROVIDER", "memory"); err != nil {
			return config.Config{}, fmt.Errorf("set broker provider: %w", err)
		}
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if dev {
		cfg.DB.DSN = ""
	}
	return cfg, nil
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// ignoreCanceled treats a shutdown signal as a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
