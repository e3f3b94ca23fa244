package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nath-hub/transaction/internal/observability"
)

const defaultSweepInterval = 5 * time.Minute

// Sweeper is the slice of the reconciliation service the sweep drives.
type Sweeper interface {
	SweepPending(ctx context.Context) error
}

// SweepWorker periodically reconciles every recent PENDING transaction.
// It is the safety net behind the per-transaction poller: transactions
// whose polls were lost to a restart still reach a terminal state.
type SweepWorker struct {
	svc      Sweeper
	interval time.Duration
	running  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewSweepWorker(svc Sweeper) *SweepWorker {
	return &SweepWorker{
		svc:      svc,
		interval: defaultSweepInterval,
		stopCh:   make(chan struct{}),
	}
}

// WithInterval sets the sweep period.
func (w *SweepWorker) WithInterval(interval time.Duration) *SweepWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start runs the sweep loop until Stop is called or ctx is canceled. One
// sweep runs immediately on start to catch transactions orphaned by the
// previous process.
func (w *SweepWorker) Start(ctx context.Context) {
	zap.L().Info("sweep worker starting", zap.Duration("interval", w.interval))

	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("sweep worker stopping", zap.String("reason", "context canceled"))
			return
		case <-w.stopCh:
			zap.L().Info("sweep worker stopping", zap.String("reason", "stop requested"))
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (w *SweepWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Run starts the worker in a goroutine and returns its stop function.
func (w *SweepWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// sweep runs one pass. Overlapping passes are skipped rather than queued.
func (w *SweepWorker) sweep(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		zap.L().Warn("sweep still running, skipping tick")
		observability.IncrementWorkerRun("sweep", "skipped")
		return
	}
	defer w.running.Store(false)

	if err := w.svc.SweepPending(ctx); err != nil {
		zap.L().Error("pending transaction sweep failed", zap.Error(err))
		observability.IncrementWorkerRun("sweep", "error")
		return
	}
	observability.IncrementWorkerRun("sweep", "ok")
}
