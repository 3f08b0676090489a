package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbrown/runbox/internal/logging"
	"github.com/michaelbrown/runbox/internal/metrics"
	"github.com/michaelbrown/runbox/internal/sandbox"
	"github.com/michaelbrown/runbox/internal/server"
	"github.com/michaelbrown/runbox/internal/storage"
	"github.com/michaelbrown/runbox/internal/storage/sqlite"
)

var (
	portFlag int
	hostFlag string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sandbox HTTP server",
	Long: `Start the runbox HTTP server.

Endpoints:
  GET  /                          liveness probe
  POST /v1/sandbox/run            execute code
  GET  /v1/sandbox/executions     execution history (when enabled)
  GET  /metrics                   Prometheus metrics

Examples:
  runbox serve
  runbox serve --host 127.0.0.1 --port 9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&hostFlag, "host", "", "Host to bind (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if portFlag > 0 {
		cfg.Server.Port = portFlag
	}
	if hostFlag != "" {
		cfg.Server.Host = hostFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	collector := metrics.New()

	var history storage.Store
	if cfg.History.Enabled {
		store, err := sqlite.Open(cfg.History.DBPath)
		if err != nil {
			return fmt.Errorf("opening history: %w", err)
		}
		defer store.Close()
		history = store
		logger.Info("execution history enabled", zap.String("db_path", cfg.History.DBPath))
	}

	sb := sandbox.NewLocalSandbox(server.PolicyFromConfig(cfg),
		sandbox.WithLogger(logger),
		sandbox.WithObserver(collector),
	)

	srv := server.New(cfg, sb, history, collector, logger)

	// Graceful shutdown on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	return srv.Start()
}
