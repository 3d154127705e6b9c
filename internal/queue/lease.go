package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/oychao1988/content-pipeline/internal/task"
)

// DefaultLeaseTTL is how long a task may sit in running without its
// updatedAt advancing before it is considered abandoned by a crashed worker
// (spec.md §4.8, "default 5 min").
const DefaultLeaseTTL = 5 * time.Minute

// DefaultLeaseScanInterval is how often the supervisor scans for stale
// running tasks.
const DefaultLeaseScanInterval = 1 * time.Minute

// LeaseSupervisor periodically reclaims tasks whose worker appears to have
// crashed or stalled, returning them to pending so the dispatcher picks
// them back up (spec.md §4.8, "Lease recovery").
type LeaseSupervisor struct {
	Store        task.Store
	Dispatcher   *Dispatcher
	LeaseTTL     time.Duration
	ScanInterval time.Duration
	Logger       *zap.Logger
}

// NewLeaseSupervisor builds a LeaseSupervisor with the package defaults.
func NewLeaseSupervisor(store task.Store, dispatcher *Dispatcher, logger *zap.Logger) *LeaseSupervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LeaseSupervisor{
		Store:        store,
		Dispatcher:   dispatcher,
		LeaseTTL:     DefaultLeaseTTL,
		ScanInterval: DefaultLeaseScanInterval,
		Logger:       logger,
	}
}

// Run scans on a ticker until ctx is cancelled.
func (s *LeaseSupervisor) Run(ctx context.Context) {
	interval := s.ScanInterval
	if interval <= 0 {
		interval = DefaultLeaseScanInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.scan(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *LeaseSupervisor) scan(ctx context.Context) {
	ttl := s.LeaseTTL
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	cutoff := time.Now().Add(-ttl)

	stale, err := s.Store.GetStaleRunning(ctx, cutoff)
	if err != nil {
		s.Logger.Warn("lease scan failed", zap.Error(err))
		return
	}

	for _, t := range stale {
		if _, err := s.Store.ReleaseWorker(ctx, t.TaskID, t.WorkerID, t.Version); err != nil {
			s.Logger.Warn("failed to release stale lease",
				zap.String("taskId", t.TaskID), zap.String("workerId", t.WorkerID), zap.Error(err))
			continue
		}
		s.Logger.Info("reclaimed stale lease",
			zap.String("taskId", t.TaskID), zap.String("staleWorkerId", t.WorkerID))
		if s.Dispatcher != nil {
			s.Dispatcher.Forget(t.TaskID)
		}
	}
}
