package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nath-hub/transaction/internal/domain"
	"github.com/nath-hub/transaction/internal/observability"
)

const (
	defaultPollDelay       = 10 * time.Second
	defaultPollMaxAttempts = 30
)

// Reconciler is the slice of the reconciliation service the poller drives.
type Reconciler interface {
	ReconcileTransaction(ctx context.Context, transactionID uuid.UUID) (string, error)
	FailExhausted(ctx context.Context, transactionID uuid.UUID, attempts int) error
}

// Poller drives per-transaction status checks against the operator. Each
// scheduled transaction is re-checked every pollDelay until it leaves
// PENDING or the attempt cap is reached, at which point it is failed.
type Poller struct {
	svc         Reconciler
	delay       time.Duration
	maxAttempts int

	mu       sync.Mutex
	pending  map[uuid.UUID]int
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewPoller(svc Reconciler) *Poller {
	return &Poller{
		svc:         svc,
		delay:       defaultPollDelay,
		maxAttempts: defaultPollMaxAttempts,
		pending:     make(map[uuid.UUID]int),
		stopCh:      make(chan struct{}),
	}
}

// WithDelay sets the pause between status checks.
func (p *Poller) WithDelay(delay time.Duration) *Poller {
	if delay > 0 {
		p.delay = delay
	}
	return p
}

// WithMaxAttempts sets the attempt cap before a transaction is failed.
func (p *Poller) WithMaxAttempts(maxAttempts int) *Poller {
	if maxAttempts > 0 {
		p.maxAttempts = maxAttempts
	}
	return p
}

// SchedulePoll queues a transaction for status polling. Scheduling an
// already-tracked transaction is a no-op.
func (p *Poller) SchedulePoll(transactionID uuid.UUID) {
	p.mu.Lock()
	if _, tracked := p.pending[transactionID]; tracked {
		p.mu.Unlock()
		return
	}
	p.pending[transactionID] = 0
	p.mu.Unlock()

	p.wg.Add(1)
	go p.poll(transactionID)
}

// Stop halts all in-flight polls and waits for their goroutines to exit.
// Transactions still PENDING at shutdown are picked up by the sweep worker
// on the next start.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *Poller) poll(transactionID uuid.UUID) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		delete(p.pending, transactionID)
		p.mu.Unlock()
	}()

	timer := time.NewTimer(p.delay)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-p.stopCh:
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		status, err := p.svc.ReconcileTransaction(ctx, transactionID)
		cancel()

		switch {
		case err != nil:
			// Transient failure; the attempt still counts toward the cap.
			zap.L().Warn("status poll failed",
				zap.String("transaction_id", transactionID.String()),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		case status != domain.StatusPending:
			observability.ObservePollAttempts(attempt)
			zap.L().Info("transaction settled by poller",
				zap.String("transaction_id", transactionID.String()),
				zap.String("status", status),
				zap.Int("attempts", attempt),
			)
			return
		}

		if attempt >= p.maxAttempts {
			p.failExhausted(transactionID, attempt)
			return
		}
		timer.Reset(p.delay)
	}
}

func (p *Poller) failExhausted(transactionID uuid.UUID, attempts int) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := p.svc.FailExhausted(ctx, transactionID, attempts); err != nil {
		zap.L().Error("failed to expire exhausted transaction",
			zap.String("transaction_id", transactionID.String()),
			zap.Error(err),
		)
		return
	}
	observability.ObservePollAttempts(attempts)
}
