package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nath-hub/transaction/internal/domain"
	"github.com/nath-hub/transaction/internal/models"
)

// memStore is an in-memory Store used by the service tests. RunInTx runs fn
// directly against the same state; tests that exercise rollback semantics
// assert on the returned error instead of on isolation.
type memStore struct {
	mu          sync.Mutex
	wallets     map[uuid.UUID]*models.Wallet
	txns        map[uuid.UUID]*models.Transaction
	movements   []*models.WalletMovement
	settings    []*models.CommissionSetting
	snapshots   []*models.TransactionCommission
	claims      map[uuid.UUID]bool
	finalizeErr error
}

func newMemStore() *memStore {
	return &memStore{
		wallets: make(map[uuid.UUID]*models.Wallet),
		txns:    make(map[uuid.UUID]*models.Transaction),
		claims:  make(map[uuid.UUID]bool),
	}
}

func (m *memStore) RunInTx(ctx context.Context, fn func(tx Store) error) error {
	return fn(m)
}

func (m *memStore) CreateWallet(_ context.Context, w *models.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	m.wallets[w.ID] = &cp
	return nil
}

func (m *memStore) GetWallet(_ context.Context, id uuid.UUID) (*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *memStore) GetWalletForUpdate(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	return m.GetWallet(ctx, id)
}

func (m *memStore) FindWalletForUpdate(_ context.Context, entrepriseID, countryID uuid.UUID, currencyCode string) (*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.wallets {
		if w.EntrepriseID == entrepriseID && w.CountryID == countryID && w.CurrencyCode == currencyCode {
			cp := *w
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) UpdateWalletBalance(_ context.Context, id uuid.UUID, balance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[id]
	if !ok {
		return ErrNotFound
	}
	w.Balance = balance
	w.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) CreateTransaction(_ context.Context, t *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.txns[t.ID] = &cp
	return nil
}

func (m *memStore) GetTransaction(_ context.Context, id uuid.UUID) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) ListTransactions(_ context.Context, f TransactionFilter) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transaction
	for _, t := range m.txns {
		if f.EntrepriseID != nil && t.EntrepriseID != *f.EntrepriseID {
			continue
		}
		if f.WalletID != nil && t.WalletID != *f.WalletID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if f.CustomerPhone != "" && t.CustomerPhone != f.CustomerPhone {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (m *memStore) ListPendingSince(_ context.Context, since time.Time) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transaction
	for _, t := range m.txns {
		if t.Status == domain.StatusPending && !t.CreatedAt.Before(since) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memStore) SumTransactionAmounts(_ context.Context, f SumFilter) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := decimal.Zero
	for _, t := range m.txns {
		if t.WalletID != f.WalletID || t.Type != f.Type {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.RefundsOnly && t.RefundOf == nil {
			continue
		}
		if t.CreatedAt.Before(f.From) || t.CreatedAt.After(f.To) {
			continue
		}
		sum = sum.Add(t.Amount)
	}
	return sum, nil
}

func (m *memStore) FinalizeTransaction(_ context.Context, id uuid.UUID, p FinalizeParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalizeErr != nil {
		return false, m.finalizeErr
	}
	t, ok := m.txns[id]
	if !ok || t.Status != domain.StatusPending {
		return false, nil
	}
	t.Status = p.Status
	if p.OperatorStatus != nil {
		t.OperatorStatus = p.OperatorStatus
	}
	t.FailureReason = p.FailureReason
	completed := p.CompletedAt
	t.CompletedAt = &completed
	t.UpdatedAt = time.Now()
	return true, nil
}

func (m *memStore) MarkRefunded(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[id]
	if !ok || t.Status != domain.StatusSuccessful {
		return false, nil
	}
	t.Status = domain.StatusRefunded
	t.UpdatedAt = time.Now()
	return true, nil
}

func (m *memStore) DeletePendingTransaction(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[id]
	if !ok || t.Status != domain.StatusPending {
		return false, nil
	}
	delete(m.txns, id)
	return true, nil
}

func (m *memStore) UpdateWebhookDelivery(_ context.Context, id uuid.UUID, status string, attempts int, response *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[id]
	if !ok {
		return ErrNotFound
	}
	t.WebhookStatus = status
	t.WebhookAttempts = attempts
	t.WebhookResponse = response
	return nil
}

func (m *memStore) ClaimInitiation(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[id]
	if !ok {
		return false, nil
	}
	if t.Status != domain.StatusPending || m.claims[id] {
		return false, nil
	}
	if t.OperatorHandle != nil && *t.OperatorHandle != "" {
		return false, nil
	}
	m.claims[id] = true
	return true, nil
}

func (m *memStore) ReleaseInitiation(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, id)
	return nil
}

func (m *memStore) UpdateOperatorHandle(_ context.Context, id uuid.UUID, p OperatorHandleParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.claims, id)
	handle := p.Handle
	authRef := p.AuthRef
	t.OperatorHandle = &handle
	t.OperatorAuthRef = &authRef
	if p.OperatorTxID != "" {
		opTxID := p.OperatorTxID
		t.OperatorTxID = &opTxID
	}
	if p.OperatorStatus != "" {
		opStatus := p.OperatorStatus
		t.OperatorStatus = &opStatus
	}
	return nil
}

func (m *memStore) CreateMovement(_ context.Context, mv *models.WalletMovement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *mv
	m.movements = append(m.movements, &cp)
	return nil
}

func (m *memStore) ListMovements(_ context.Context, walletID uuid.UUID, limit, offset int) ([]models.WalletMovement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WalletMovement
	for _, mv := range m.movements {
		if mv.WalletID == walletID {
			out = append(out, *mv)
		}
	}
	return out, nil
}

func (m *memStore) ActiveCommissionSetting(_ context.Context, operatorID uuid.UUID, transactionType string) (*models.CommissionSetting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.CommissionSetting
	for _, s := range m.settings {
		if s.OperatorID != operatorID || s.TransactionType != transactionType || !s.IsActive {
			continue
		}
		if best == nil || s.UpdatedAt.After(best.UpdatedAt) {
			best = s
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *memStore) ListCommissionSettings(_ context.Context, operatorID *uuid.UUID) ([]models.CommissionSetting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CommissionSetting
	for _, s := range m.settings {
		if operatorID != nil && s.OperatorID != *operatorID {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (m *memStore) CreateCommissionSnapshot(_ context.Context, s *models.TransactionCommission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.snapshots = append(m.snapshots, &cp)
	return nil
}

var _ Store = (*memStore)(nil)
