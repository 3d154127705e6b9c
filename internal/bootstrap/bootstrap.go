// Package bootstrap wires the process-wide collaborators shared by
// cmd/server and cmd/worker — store, queue, LLM/search/image clients,
// emitter, and the workflow registry — from one loaded config.Config, so
// the two binaries select drivers identically (spec.md §5). Grounded on
// the teacher pack's own bootstrap package (cklxx-elephant.ai's
// internal/delivery/server/bootstrap), narrowed to this system's much
// smaller dependency set.
package bootstrap

import (
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/oychao1988/content-pipeline/internal/config"
	"github.com/oychao1988/content-pipeline/internal/engine"
	"github.com/oychao1988/content-pipeline/internal/imagesvc"
	"github.com/oychao1988/content-pipeline/internal/llm"
	"github.com/oychao1988/content-pipeline/internal/metrics"
	"github.com/oychao1988/content-pipeline/internal/queue"
	"github.com/oychao1988/content-pipeline/internal/registry"
	"github.com/oychao1988/content-pipeline/internal/searchsvc"
	"github.com/oychao1988/content-pipeline/internal/statussync"
	"github.com/oychao1988/content-pipeline/internal/task"
	"github.com/oychao1988/content-pipeline/internal/tracing"
	"github.com/oychao1988/content-pipeline/internal/workflows/contentcreator"
	"github.com/oychao1988/content-pipeline/internal/workflows/translation"
)

// Stores bundles the Task Repository and its sibling result/quality
// repositories, plus a Close that releases every underlying connection.
type Stores struct {
	Store         task.Store
	Results       task.ResultRepository
	QualityChecks task.QualityCheckRepository
	Close         func()
}

// BuildStores selects the Task Repository backend per cfg.StorageDriver
// (spec.md §5: memory, sqlite, mysql), along with matching result/quality
// repositories. The sqlite and mysql Store implementations don't expose
// their internal *sql.DB, so a second connection is opened here for the
// result/quality tables — acceptable since neither is a hot path (written
// once per task, read on demand).
func BuildStores(cfg *config.Config) (Stores, error) {
	switch cfg.StorageDriver {
	case "", "memory":
		return Stores{
			Store:         task.NewMemoryStore(),
			Results:       task.NewMemoryResultRepository(),
			QualityChecks: task.NewMemoryQualityCheckRepository(),
			Close:         func() {},
		}, nil

	case "sqlite":
		store, err := task.NewSQLiteStore(cfg.DatabaseDSN)
		if err != nil {
			return Stores{}, fmt.Errorf("open sqlite store: %w", err)
		}
		db, err := sql.Open("sqlite", cfg.DatabaseDSN)
		if err != nil {
			_ = store.Close()
			return Stores{}, fmt.Errorf("open sqlite side connection: %w", err)
		}
		return Stores{
			Store:         store,
			Results:       task.NewSQLResultRepository(db),
			QualityChecks: task.NewSQLQualityCheckRepository(db),
			Close:         func() { _ = db.Close(); _ = store.Close() },
		}, nil

	case "mysql":
		store, err := task.NewMySQLStore(cfg.DatabaseDSN)
		if err != nil {
			return Stores{}, fmt.Errorf("open mysql store: %w", err)
		}
		db, err := sql.Open("mysql", cfg.DatabaseDSN)
		if err != nil {
			_ = store.Close()
			return Stores{}, fmt.Errorf("open mysql side connection: %w", err)
		}
		return Stores{
			Store:         store,
			Results:       task.NewSQLResultRepository(db),
			QualityChecks: task.NewSQLQualityCheckRepository(db),
			Close:         func() { _ = db.Close(); _ = store.Close() },
		}, nil

	default:
		return Stores{}, fmt.Errorf("unknown storage_driver %q", cfg.StorageDriver)
	}
}

// BuildQueue selects the async Queue backend per cfg.QueueDriver. Redis
// unavailability must degrade gracefully (spec.md §5), so a missing
// redis_addr falls back to the in-memory queue rather than failing
// startup.
func BuildQueue(cfg *config.Config) (queue.Queue, error) {
	switch cfg.QueueDriver {
	case "", "memory":
		return queue.NewMemoryQueue(1000), nil
	case "redis":
		if cfg.RedisAddr == "" {
			return queue.NewMemoryQueue(1000), nil
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return queue.NewRedisQueue(client, "content-pipeline:tasks"), nil
	default:
		return nil, fmt.Errorf("unknown queue_driver %q", cfg.QueueDriver)
	}
}

// BuildEmitter fans node lifecycle events out to Prometheus, a no-exporter
// OpenTelemetry tracer provider (an operator attaches a real exporter via
// OTEL_* environment variables handled by the SDK itself; wiring one
// in-process would require a concrete exporter dependency this module
// doesn't carry), and the status-sync emitter that keeps a task's stored
// status honest about the quality-gate retry loop (spec.md §3 Invariant 1).
func BuildEmitter(store task.Store, logger *zap.Logger) engine.Emitter {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	tracer := otel.Tracer("content-pipeline")
	return engine.MultiEmitter{metrics.New(nil), tracing.New(tracer), statussync.New(store, logger)}
}

// BuildRegistry constructs the LLM/search/image clients from cfg and
// registers both workflow factories (spec.md §4.3), checkpointing through
// store and emitting lifecycle events through emitter.
func BuildRegistry(cfg *config.Config, store task.Store, emitter engine.Emitter) (*registry.Registry, error) {
	model, err := llm.NewFromConfig(cfg.LLMProvider, cfg.LLMAPIKey, cfg.LLMModel)
	if err != nil {
		return nil, fmt.Errorf("build llm model: %w", err)
	}
	searchClient := searchsvc.NewRESTClient(cfg.SearchBaseURL, cfg.SearchAPIKey, nil)
	imageClient := imagesvc.NewRESTClient(cfg.ImageBaseURL, cfg.ImageAPIKey, nil)

	reg := registry.New()
	reg.Register(contentcreator.Factory{Deps: contentcreator.Deps{
		Model:            model,
		Search:           searchClient,
		Images:           imageClient,
		TextRetryBudget:  cfg.TextRetryBudget,
		ImageRetryBudget: cfg.ImageRetryBudget,
		ImageConcurrency: cfg.ImageConcurrency,
		Store:            store,
		Emitter:          emitter,
	}})
	reg.Register(translation.Factory{Deps: translation.Deps{
		Model:   model,
		Store:   store,
		Emitter: emitter,
	}})
	return reg, nil
}
