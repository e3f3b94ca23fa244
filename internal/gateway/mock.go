package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nath-hub/transaction/internal/domain"
)

// MockGateway simulates a mobile-money operator for local runs: payments
// start pending and resolve after a short delay, failing at FailureRate.
type MockGateway struct {
	// FailureRate is the probability of a payment ending FAILED (0.0 to 1.0).
	FailureRate float64
	// ResolveAfter is how long a payment stays PENDING.
	ResolveAfter time.Duration

	mu       sync.Mutex
	payments map[string]mockPayment
}

type mockPayment struct {
	initiated time.Time
	failed    bool
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		FailureRate:  0.1,
		ResolveAfter: 30 * time.Second,
		payments:     make(map[string]mockPayment),
	}
}

func (g *MockGateway) Initiate(_ context.Context, amount decimal.Decimal, phone string) (*InitResult, error) {
	ref := fmt.Sprintf("MOCK-%s-%05d", time.Now().Format("20060102-150405"), rand.Intn(100000))

	g.mu.Lock()
	g.payments[ref] = mockPayment{
		initiated: time.Now(),
		failed:    rand.Float64() < g.FailureRate,
	}
	g.mu.Unlock()

	return &InitResult{
		Handle:         Handle{Token: ref},
		Status:         domain.StatusPending,
		OperatorTxID:   ref,
		OperatorStatus: "PENDING",
	}, nil
}

func (g *MockGateway) CheckStatus(_ context.Context, handle Handle) (*StatusResult, error) {
	g.mu.Lock()
	payment, ok := g.payments[handle.Token]
	g.mu.Unlock()

	if !ok {
		return &StatusResult{Status: domain.StatusFailed, OperatorStatus: domain.StatusFailed, Detail: "unknown payment reference"}, nil
	}
	if time.Since(payment.initiated) < g.ResolveAfter {
		return &StatusResult{Status: domain.StatusPending, OperatorStatus: domain.StatusPending}, nil
	}
	if payment.failed {
		return &StatusResult{Status: domain.StatusFailed, OperatorStatus: domain.StatusFailed, Detail: "simulated operator failure"}, nil
	}
	return &StatusResult{Status: domain.StatusSuccessful, OperatorStatus: domain.StatusSuccessful}, nil
}

func (g *MockGateway) Refund(_ context.Context, amount decimal.Decimal, phone, name string) (*RefundResult, error) {
	if rand.Float64() < g.FailureRate {
		return &RefundResult{
			Success: false,
			Raw:     map[string]any{"message": "simulated refund failure"},
		}, nil
	}
	ref := fmt.Sprintf("MOCK-RF-%05d", rand.Intn(100000))
	return &RefundResult{
		Success:   true,
		Reference: ref,
		Raw:       map[string]any{"MessageId": ref},
	}, nil
}
