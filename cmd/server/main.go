package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/0xPuncker/pos-scheduler/internal/api"
	"github.com/0xPuncker/pos-scheduler/internal/config"
	"github.com/0xPuncker/pos-scheduler/internal/logging"
	"github.com/0xPuncker/pos-scheduler/internal/notifications"
	"github.com/0xPuncker/pos-scheduler/internal/poller"
	"github.com/dimiro1/banner"
	"github.com/mattn/go-colorable"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const bannerText = `
{{ .Title "POS Scheduler" "" 0 }}
{{ .AnsiBackground.BrightBlue }}{{ .AnsiColor.White }}
{{ .AnsiReset }}
`

var version = "dev"

func main() {
	if err := buildCLI().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildCLI() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "pos-scheduler",
		Short:         "Cron job scheduler for the POS back office",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to config file")

	load := func() (*config.Config, *logrus.Logger, error) {
		config.LoadEnv()

		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load config: %w", err)
		}

		logCfg := logging.DefaultConfig()
		logCfg.Level = cfg.Logging.Level
		logCfg.Format = cfg.Logging.Format
		logCfg.File = cfg.Logging.File
		logger, err := logging.New(logCfg)
		if err != nil {
			return nil, nil, err
		}
		return cfg, logger, nil
	}

	rootCmd.AddCommand(buildServeCommand(load))
	rootCmd.AddCommand(buildRunCommand(load))
	rootCmd.AddCommand(buildJobsCommand(load))
	rootCmd.AddCommand(buildHistoryCommand(load))
	rootCmd.AddCommand(buildStatsCommand(load))
	rootCmd.AddCommand(buildValidateCommand())

	return rootCmd
}

type loader func() (*config.Config, *logrus.Logger, error)

func buildServeCommand(load loader) *cobra.Command {
	var noBanner bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and its HTTP control surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !noBanner {
				banner.Init(colorable.NewColorableStdout(), true, true, strings.NewReader(bannerText))
			}

			cfg, logger, err := load()
			if err != nil {
				return err
			}
			return serve(cfg, logger)
		},
	}
	cmd.Flags().BoolVar(&noBanner, "no-banner", false, "skip the startup banner")

	return cmd
}

func serve(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, appOptions{recoverRuns: true})
	if err != nil {
		return err
	}
	defer a.Close()

	handler := api.NewHandler(a.scheduler, logger, a.metrics.Handler())
	server := api.NewServer(cfg.Server.Port, api.NewRouter(handler, logger), cfg.ReadTimeout(), cfg.WriteTimeout())

	p := poller.New(a.scheduler, logger, cfg.SyncInterval())
	p.Start(ctx)

	if a.slack != nil {
		startupNotifier := notifications.NewStartupNotifier(a.scheduler, a.slack, logger)
		go func() {
			if err := startupNotifier.NotifyStartup(ctx); err != nil && ctx.Err() == nil {
				logger.Warnf("Failed to send startup summary: %v", err)
			}
		}()
	}

	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	logger.Infof("Server started on port %s - Press Ctrl+C to stop.", cfg.Server.Port)

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.Errorf("Server error: %v", err)
	}
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p.Stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}

	logger.Info("Server stopped")
	return nil
}

// quiet keeps one-off commands from mixing log lines into their output.
func quiet(logger *logrus.Logger) {
	if logger.GetLevel() < logrus.DebugLevel {
		logger.SetOutput(io.Discard)
	}
}
