// Command server runs the content-pipeline HTTP API (spec.md §6): task
// creation (sync and async), status/result polling, retry, cancellation,
// and workflow discovery, backed by whichever storage and queue drivers
// the config file selects.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oychao1988/content-pipeline/internal/bootstrap"
	"github.com/oychao1988/content-pipeline/internal/config"
	"github.com/oychao1988/content-pipeline/internal/executor"
	"github.com/oychao1988/content-pipeline/internal/httpapi"
	"github.com/oychao1988/content-pipeline/internal/logging"
	"github.com/oychao1988/content-pipeline/internal/queue"
	"github.com/oychao1988/content-pipeline/internal/webhook"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "server",
		Short: "Run the content-pipeline HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to config file (YAML)")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	loader := config.New(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	loader.Watch(func(reloaded *config.Config, err error) {
		if err != nil {
			logger.Warn("config reload failed", zap.Error(err))
			return
		}
		logger.Info("config reloaded", zap.String("storage_driver", reloaded.StorageDriver))
	})

	stores, err := bootstrap.BuildStores(cfg)
	if err != nil {
		return fmt.Errorf("build stores: %w", err)
	}
	defer stores.Close()

	q, err := bootstrap.BuildQueue(cfg)
	if err != nil {
		return fmt.Errorf("build queue: %w", err)
	}
	defer q.Close() //nolint:errcheck

	emitter := bootstrap.BuildEmitter(stores.Store, logger)
	reg, err := bootstrap.BuildRegistry(cfg, stores.Store, emitter)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}

	exec := executor.New(reg, stores.Store, stores.Results, stores.QualityChecks)

	dispatcher := queue.NewDispatcher(stores.Store, q)
	go dispatcher.Run(ctx)

	notifier := webhook.New(nil)

	server := &httpapi.Server{
		Registry:      reg,
		Store:         stores.Store,
		Results:       stores.Results,
		QualityChecks: stores.QualityChecks,
		Executor:      exec,
		Queue:         q,
		Logger:        logger,
	}

	httpSrv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // sync task creation can legitimately run for minutes
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.ServerAddr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	pool := queue.NewPool(q, stores.Store, exec, dispatcher, notifier, logger)
	pool.Concurrency = cfg.WorkerConcurrency
	if cfg.TaskTimeout > 0 {
		pool.TaskTimeout = cfg.TaskTimeout
	}
	pool.Start(ctx)

	supervisor := queue.NewLeaseSupervisor(stores.Store, dispatcher, logger)
	if cfg.LeaseTTL > 0 {
		supervisor.LeaseTTL = cfg.LeaseTTL
	}
	if cfg.LeaseScanInterval > 0 {
		supervisor.ScanInterval = cfg.LeaseScanInterval
	}
	go supervisor.Run(ctx)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", zap.Error(err))
	}
	pool.Shutdown()

	return nil
}
