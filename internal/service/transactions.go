package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nath-hub/transaction/internal/domain"
	"github.com/nath-hub/transaction/internal/models"
)

// TransactionService is the read and management surface over settled
// transactions: lookups, listings, status corrections, retry and delete.
type TransactionService struct {
	store     Store
	scheduler PollScheduler
	now       func() time.Time
}

func NewTransactionService(store Store) *TransactionService {
	return &TransactionService{store: store, now: time.Now}
}

// WithScheduler attaches the poll scheduler used by RetryTransaction.
func (s *TransactionService) WithScheduler(scheduler PollScheduler) *TransactionService {
	s.scheduler = scheduler
	return s
}

// GetTransaction returns one transaction by id.
func (s *TransactionService) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	t, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

// ListTransactions returns transactions matching the filter, newest first.
func (s *TransactionService) ListTransactions(ctx context.Context, f TransactionFilter) ([]models.Transaction, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	list, err := s.store.ListTransactions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return list, nil
}

// ListByStatus returns an entreprise's transactions in one status.
func (s *TransactionService) ListByStatus(ctx context.Context, entrepriseID uuid.UUID, status string) ([]models.Transaction, error) {
	if !domain.IsKnownStatus(status) {
		return nil, domain.ErrValidation.WithDetails(map[string]any{"status": "unknown status " + status})
	}
	return s.ListTransactions(ctx, TransactionFilter{EntrepriseID: &entrepriseID, Status: status})
}

// UpdateStatus applies a manual status correction. Only transitions allowed
// by the lifecycle table are accepted, and terminal transitions go through
// the same conditional update the reconciler uses.
func (s *TransactionService) UpdateStatus(ctx context.Context, id uuid.UUID, newStatus, reason string) (*models.Transaction, error) {
	t, err := s.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(t.Status, newStatus) {
		return nil, domain.ErrInvalidTransition.WithDetails(map[string]any{
			"from": t.Status,
			"to":   newStatus,
		})
	}

	now := s.now().UTC()
	switch {
	case t.Status == domain.StatusPending:
		var failureReason *string
		if newStatus != domain.StatusSuccessful && reason != "" {
			failureReason = &reason
		}
		won, err := s.store.FinalizeTransaction(ctx, id, FinalizeParams{
			Status:        newStatus,
			FailureReason: failureReason,
			CompletedAt:   now,
		})
		if err != nil {
			return nil, fmt.Errorf("finalize transaction: %w", err)
		}
		if !won {
			current, err := s.GetTransaction(ctx, id)
			if err != nil {
				return nil, err
			}
			return nil, domain.ErrInvalidTransition.WithDetails(map[string]any{
				"from": current.Status,
				"to":   newStatus,
			})
		}
	case newStatus == domain.StatusRefunded:
		won, err := s.store.MarkRefunded(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("mark refunded: %w", err)
		}
		if !won {
			return nil, domain.ErrInvalidTransition.WithDetails(map[string]any{
				"from": t.Status,
				"to":   newStatus,
			})
		}
	default:
		return nil, domain.ErrInvalidTransition.WithDetails(map[string]any{
			"from": t.Status,
			"to":   newStatus,
		})
	}

	zap.L().Info("transaction status updated",
		zap.String("transaction_id", id.String()),
		zap.String("from", t.Status),
		zap.String("to", newStatus),
	)
	return s.GetTransaction(ctx, id)
}

// RetryTransaction re-dispatches the status poller for a transaction still
// waiting on its operator.
func (s *TransactionService) RetryTransaction(ctx context.Context, id uuid.UUID) error {
	t, err := s.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if t.Status != domain.StatusPending {
		return domain.ErrInvalidTransition.WithDetails(map[string]any{
			"from":   t.Status,
			"reason": "only pending transactions can be retried",
		})
	}
	if s.scheduler != nil {
		s.scheduler.SchedulePoll(t.ID)
	}
	zap.L().Info("transaction retry dispatched", zap.String("transaction_id", id.String()))
	return nil
}

// DeleteTransaction removes a transaction that never left PENDING. Settled
// transactions are immutable history and cannot be deleted.
func (s *TransactionService) DeleteTransaction(ctx context.Context, id uuid.UUID) error {
	deleted, err := s.store.DeletePendingTransaction(ctx, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if !deleted {
		t, err := s.store.GetTransaction(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return domain.ErrTransactionNotFound
			}
			return fmt.Errorf("delete transaction: %w", err)
		}
		return domain.ErrTransactionNotDeletable.WithDetails(map[string]any{"status": t.Status})
	}
	zap.L().Info("pending transaction deleted", zap.String("transaction_id", id.String()))
	return nil
}

// ListMovements returns a wallet's ledger entries, newest first.
func (s *TransactionService) ListMovements(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]models.WalletMovement, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	list, err := s.store.ListMovements(ctx, walletID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	return list, nil
}

// GetWallet returns the wallet for an entreprise, country and currency.
func (s *TransactionService) GetWallet(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	w, err := s.store.GetWallet(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}

// ListCommissionSettings returns the commission rules visible to clients.
func (s *TransactionService) ListCommissionSettings(ctx context.Context, operatorID *uuid.UUID) ([]models.CommissionSetting, error) {
	list, err := s.store.ListCommissionSettings(ctx, operatorID)
	if err != nil {
		return nil, fmt.Errorf("list commission settings: %w", err)
	}
	return list, nil
}
