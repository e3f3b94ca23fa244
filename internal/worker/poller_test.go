package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nath-hub/transaction/internal/domain"
)

// stubReconciler scripts per-attempt statuses and records the exhaustion
// handoff. Attempts past the end of the script repeat the last entry.
type stubReconciler struct {
	mu        sync.Mutex
	statuses  []string
	errs      []error
	calls     int
	exhausted []int
	done      chan struct{}
}

func newStubReconciler(statuses []string, errs []error) *stubReconciler {
	return &stubReconciler{statuses: statuses, errs: errs, done: make(chan struct{}, 1)}
}

func (r *stubReconciler) ReconcileTransaction(_ context.Context, _ uuid.UUID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.calls
	r.calls++
	if i >= len(r.statuses) {
		i = len(r.statuses) - 1
	}
	var err error
	if len(r.errs) > 0 {
		j := r.calls - 1
		if j >= len(r.errs) {
			j = len(r.errs) - 1
		}
		err = r.errs[j]
	}
	status := r.statuses[i]
	if status != domain.StatusPending && err == nil {
		select {
		case r.done <- struct{}{}:
		default:
		}
	}
	return status, err
}

func (r *stubReconciler) FailExhausted(_ context.Context, _ uuid.UUID, attempts int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exhausted = append(r.exhausted, attempts)
	select {
	case r.done <- struct{}{}:
	default:
	}
	return nil
}

func (r *stubReconciler) snapshot() (int, []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls, append([]int(nil), r.exhausted...)
}

func waitDone(t *testing.T, r *stubReconciler) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not finish in time")
	}
}

func TestPollerStopsOnTerminalStatus(t *testing.T) {
	rec := newStubReconciler([]string{domain.StatusPending, domain.StatusSuccessful}, nil)
	p := NewPoller(rec).WithDelay(time.Millisecond).WithMaxAttempts(10)
	defer p.Stop()

	p.SchedulePoll(uuid.New())
	waitDone(t, rec)
	p.Stop()

	calls, exhausted := rec.snapshot()
	require.Equal(t, 2, calls)
	require.Empty(t, exhausted)
}

func TestPollerFailsAfterAttemptCap(t *testing.T) {
	rec := newStubReconciler([]string{domain.StatusPending}, nil)
	p := NewPoller(rec).WithDelay(time.Millisecond).WithMaxAttempts(3)
	defer p.Stop()

	p.SchedulePoll(uuid.New())
	waitDone(t, rec)
	p.Stop()

	calls, exhausted := rec.snapshot()
	require.Equal(t, 3, calls)
	// The exhaustion handoff fires exactly once, with the cap it hit.
	require.Equal(t, []int{3}, exhausted)
}

func TestPollerCountsErrorsTowardCap(t *testing.T) {
	rec := newStubReconciler([]string{""}, []error{domain.ErrGatewayError})
	p := NewPoller(rec).WithDelay(time.Millisecond).WithMaxAttempts(3)
	defer p.Stop()

	p.SchedulePoll(uuid.New())
	waitDone(t, rec)
	p.Stop()

	calls, exhausted := rec.snapshot()
	require.Equal(t, 3, calls)
	require.Equal(t, []int{3}, exhausted)
}

func TestPollerDeduplicatesScheduling(t *testing.T) {
	rec := newStubReconciler([]string{domain.StatusPending}, nil)
	p := NewPoller(rec).WithDelay(50 * time.Millisecond).WithMaxAttempts(30)

	id := uuid.New()
	p.SchedulePoll(id)
	p.SchedulePoll(id)
	p.SchedulePoll(id)
	p.Stop()

	// One tracked poll at most; Stop before the first delay elapses may
	// leave it at zero attempts, never more than one loop's worth.
	calls, _ := rec.snapshot()
	require.LessOrEqual(t, calls, 1)

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Empty(t, p.pending)
}
