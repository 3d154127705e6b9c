// Command worker runs the async task pipeline standalone: the dispatcher,
// worker pool, and lease-recovery supervisor (spec.md §4.8), without the
// HTTP API. Intended to run as one or more sibling processes alongside
// cmd/server, sharing the same store and queue.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oychao1988/content-pipeline/internal/bootstrap"
	"github.com/oychao1988/content-pipeline/internal/config"
	"github.com/oychao1988/content-pipeline/internal/executor"
	"github.com/oychao1988/content-pipeline/internal/logging"
	"github.com/oychao1988/content-pipeline/internal/queue"
	"github.com/oychao1988/content-pipeline/internal/webhook"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the content-pipeline async worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to config file (YAML)")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
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

	logger.Info("worker pool running", zap.Int("concurrency", pool.Concurrency))
	<-ctx.Done()
	logger.Info("shutdown signal received")

	pool.Shutdown()
	return nil
}
