package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nath-hub/transaction/internal/models"
)

// ErrNotFound is returned by Store implementations when no row matches.
var ErrNotFound = errors.New("record not found")

// TransactionFilter narrows ListTransactions. Zero values mean "no filter".
type TransactionFilter struct {
	EntrepriseID  *uuid.UUID
	WalletID      *uuid.UUID
	Status        string
	Type          string
	CustomerPhone string
	From          *time.Time
	To            *time.Time
	Limit         int
	Offset        int
}

// SumFilter selects the transactions whose amounts are summed for
// daily/monthly limit checks.
type SumFilter struct {
	WalletID    uuid.UUID
	Type        string
	Status      string
	RefundsOnly bool
	From        time.Time
	To          time.Time
}

// FinalizeParams carries a terminal transition applied to a PENDING
// transaction.
type FinalizeParams struct {
	Status         string
	OperatorStatus *string
	FailureReason  *string
	CompletedAt    time.Time
}

// OperatorHandleParams stores the operator-side identifiers captured when a
// payment is submitted.
type OperatorHandleParams struct {
	Handle         string
	AuthRef        string
	OperatorTxID   string
	OperatorStatus string
}

// Store is the ledger persistence contract the services are written
// against. The pgx implementation lives in internal/repository; tests use
// an in-memory implementation.
type Store interface {
	// RunInTx executes fn within one atomic unit. The Store passed to fn is
	// transaction-scoped; wallet reads inside it take row-level locks.
	RunInTx(ctx context.Context, fn func(tx Store) error) error

	CreateWallet(ctx context.Context, w *models.Wallet) error
	GetWallet(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	GetWalletForUpdate(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	FindWalletForUpdate(ctx context.Context, entrepriseID, countryID uuid.UUID, currencyCode string) (*models.Wallet, error)
	UpdateWalletBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error

	CreateTransaction(ctx context.Context, t *models.Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]models.Transaction, error)
	ListPendingSince(ctx context.Context, since time.Time) ([]models.Transaction, error)
	SumTransactionAmounts(ctx context.Context, f SumFilter) (decimal.Decimal, error)

	// FinalizeTransaction applies a PENDING -> terminal transition and
	// reports whether this call won the transition. A false return means the
	// transaction was no longer PENDING.
	FinalizeTransaction(ctx context.Context, id uuid.UUID, p FinalizeParams) (bool, error)

	// MarkRefunded flips SUCCESSFULL -> REFUNDED, reporting whether the row
	// was still SUCCESSFULL.
	MarkRefunded(ctx context.Context, id uuid.UUID) (bool, error)

	// DeletePendingTransaction removes a transaction only while it is still
	// PENDING, reporting whether a row was deleted.
	DeletePendingTransaction(ctx context.Context, id uuid.UUID) (bool, error)

	UpdateWebhookDelivery(ctx context.Context, id uuid.UUID, status string, attempts int, response *string) error
	UpdateOperatorHandle(ctx context.Context, id uuid.UUID, p OperatorHandleParams) error

	// ClaimInitiation reserves the right to submit a PENDING transaction
	// that has no operator handle yet. Exactly one concurrent caller wins;
	// a claim left behind by a crashed submitter expires so the transaction
	// is not stuck. A false return means another worker holds the claim or
	// the transaction was already submitted.
	ClaimInitiation(ctx context.Context, id uuid.UUID) (bool, error)

	// ReleaseInitiation returns a claim after a failed submission so the
	// next poll can retry immediately.
	ReleaseInitiation(ctx context.Context, id uuid.UUID) error

	CreateMovement(ctx context.Context, m *models.WalletMovement) error
	ListMovements(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]models.WalletMovement, error)

	ActiveCommissionSetting(ctx context.Context, operatorID uuid.UUID, transactionType string) (*models.CommissionSetting, error)
	ListCommissionSettings(ctx context.Context, operatorID *uuid.UUID) ([]models.CommissionSetting, error)
	CreateCommissionSnapshot(ctx context.Context, s *models.TransactionCommission) error
}
