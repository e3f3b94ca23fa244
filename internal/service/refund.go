package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nath-hub/transaction/internal/domain"
	"github.com/nath-hub/transaction/internal/gateway"
	"github.com/nath-hub/transaction/internal/models"
	"github.com/nath-hub/transaction/internal/observability"
)

// defaultRefundWindow is how long after completion a transaction stays
// refundable.
const defaultRefundWindow = 60 * 24 * time.Hour

// RefundInput is the refund request payload.
type RefundInput struct {
	TransactionID uuid.UUID
	RefundAmount  decimal.Decimal
	Reason        string
	OperatorCode  string
}

// RefundResult reports a processed refund.
type RefundResult struct {
	RefundTransactionID uuid.UUID
	RefundStatus        string
	NewWalletBalance    decimal.Decimal
	OperatorResponse    map[string]any
}

// RefundEngine validates refund eligibility against a completed
// transaction, executes the operator money movement and re-applies the
// debit side of the ledger.
//
// Debit ordering: the wallet is debited only after the gateway confirms the
// refund. A gateway failure records a FAILED refund transaction and leaves
// the wallet untouched.
type RefundEngine struct {
	store        Store
	gateways     GatewayResolver
	refundWindow time.Duration
	now          func() time.Time
}

func NewRefundEngine(store Store, gateways GatewayResolver) *RefundEngine {
	return &RefundEngine{
		store:        store,
		gateways:     gateways,
		refundWindow: defaultRefundWindow,
		now:          time.Now,
	}
}

// WithRefundWindow overrides the eligibility window.
func (e *RefundEngine) WithRefundWindow(window time.Duration) *RefundEngine {
	if window > 0 {
		e.refundWindow = window
	}
	return e
}

// Refund processes a refund against a SUCCESSFULL transaction.
func (e *RefundEngine) Refund(ctx context.Context, reqCtx RequestContext, in RefundInput) (*RefundResult, error) {
	if in.RefundAmount.LessThanOrEqual(decimal.Zero) {
		return nil, domain.ErrValidation.WithDetails(map[string]any{"refund_amount": "must be positive"})
	}
	if in.Reason == "" {
		return nil, domain.ErrValidation.WithDetails(map[string]any{"reason": "required"})
	}

	original, err := e.store.GetTransaction(ctx, in.TransactionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("load original transaction: %w", err)
	}

	now := e.now().UTC()
	if err := e.checkEligibility(original, in.RefundAmount, now); err != nil {
		return nil, err
	}

	wallet, err := e.store.GetWallet(ctx, original.WalletID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("load wallet: %w", err)
	}

	if wallet.Balance.LessThan(in.RefundAmount) {
		return nil, domain.ErrInsufficientBalance.WithDetails(map[string]any{
			"current_balance":  wallet.Balance.String(),
			"requested_amount": in.RefundAmount.String(),
		})
	}
	if err := e.checkRefundLimits(ctx, wallet, in.RefundAmount, now); err != nil {
		return nil, err
	}

	gw := e.gateways.ForOperator(in.OperatorCode)
	if gw == nil {
		return nil, domain.ErrOperatorNotFound.WithDetails(map[string]any{"operator_code": in.OperatorCode})
	}

	customerName := "Client"
	if original.CustomerName != nil && *original.CustomerName != "" {
		customerName = *original.CustomerName
	}

	// The operator call runs outside any database transaction so the wallet
	// row lock is never held across the network.
	gwResult, err := gw.Refund(ctx, in.RefundAmount, original.CustomerPhone, customerName)
	if err != nil {
		observability.IncrementRefund("gateway_error")
		return nil, fmt.Errorf("%w: refund: %v", domain.ErrGatewayError, err)
	}

	commissions, err := calculateCommissions(ctx, e.store, in.RefundAmount, original.OperatorID, domain.TxTypeWithdrawal)
	if err != nil {
		return nil, err
	}

	refundTx := e.buildRefundTransaction(reqCtx, original, in, commissions, gwResult.Success, gwResult, now)

	if !gwResult.Success {
		// Record the failed attempt without touching the wallet.
		if err := e.store.CreateTransaction(ctx, refundTx); err != nil {
			return nil, fmt.Errorf("record failed refund: %w", err)
		}
		observability.IncrementRefund("gateway_rejected")
		zap.L().Warn("refund rejected by operator",
			zap.String("transaction_id", original.ID.String()),
			zap.Any("response", gwResult.Raw),
		)
		return &RefundResult{
			RefundTransactionID: refundTx.ID,
			RefundStatus:        domain.StatusFailed,
			NewWalletBalance:    wallet.Balance,
			OperatorResponse:    gwResult.Raw,
		}, nil
	}

	var newBalance decimal.Decimal
	err = e.store.RunInTx(ctx, func(tx Store) error {
		lockedWallet, err := tx.GetWalletForUpdate(ctx, wallet.ID)
		if err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}
		// The eligibility check above reserved nothing; re-check under lock.
		if lockedWallet.Balance.LessThan(in.RefundAmount) {
			return domain.ErrInsufficientBalance.WithDetails(map[string]any{
				"current_balance":  lockedWallet.Balance.String(),
				"requested_amount": in.RefundAmount.String(),
			})
		}

		if err := tx.CreateTransaction(ctx, refundTx); err != nil {
			return fmt.Errorf("create refund transaction: %w", err)
		}

		if _, err := applyMovement(ctx, tx, lockedWallet, MovementRequest{
			Amount:        in.RefundAmount,
			NetAmount:     refundTx.NetAmount,
			Type:          domain.TxTypeWithdrawal,
			TransactionID: refundTx.ID,
			CustomerPhone: original.CustomerPhone,
			CreatedBy:     original.UserID,
			Description:   fmt.Sprintf("Refund to %s", original.CustomerPhone),
		}, now); err != nil {
			return err
		}

		if in.RefundAmount.GreaterThanOrEqual(original.Amount) {
			if _, err := tx.MarkRefunded(ctx, original.ID); err != nil {
				return fmt.Errorf("mark original refunded: %w", err)
			}
		}

		newBalance = lockedWallet.Balance
		return nil
	})
	if err != nil {
		observability.IncrementRefund("rejected")
		return nil, err
	}

	observability.IncrementRefund("refunded")
	zap.L().Info("refund processed",
		zap.String("original_transaction_id", original.ID.String()),
		zap.String("refund_transaction_id", refundTx.ID.String()),
		zap.String("amount", in.RefundAmount.String()),
	)

	return &RefundResult{
		RefundTransactionID: refundTx.ID,
		RefundStatus:        refundTx.Status,
		NewWalletBalance:    newBalance,
		OperatorResponse:    gwResult.Raw,
	}, nil
}

// checkEligibility applies the refund business rules in order; the first
// failure wins.
func (e *RefundEngine) checkEligibility(original *models.Transaction, amount decimal.Decimal, now time.Time) error {
	if original.Status == domain.StatusRefunded {
		return domain.ErrAlreadyRefunded
	}
	if original.Status != domain.StatusSuccessful {
		return domain.ErrTransactionNotSuccessful.WithDetails(map[string]any{"status": original.Status})
	}
	if amount.GreaterThan(original.Amount) {
		return domain.ErrRefundExceedsOriginal.WithDetails(map[string]any{
			"original_amount":  original.Amount.String(),
			"requested_amount": amount.String(),
		})
	}
	if original.CompletedAt != nil && now.Sub(*original.CompletedAt) > e.refundWindow {
		return domain.ErrRefundPeriodExpired.WithDetails(map[string]any{
			"completed_at": original.CompletedAt.Format(time.RFC3339),
			"window_days":  int(e.refundWindow.Hours() / 24),
		})
	}
	return nil
}

// checkRefundLimits enforces the wallet's daily and monthly limits over
// prior refund-type transactions.
func (e *RefundEngine) checkRefundLimits(ctx context.Context, wallet *models.Wallet, amount decimal.Decimal, now time.Time) error {
	if wallet.DailyLimit != nil {
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		used, err := e.store.SumTransactionAmounts(ctx, SumFilter{
			WalletID:    wallet.ID,
			Type:        domain.TxTypeWithdrawal,
			RefundsOnly: true,
			From:        dayStart,
			To:          now,
		})
		if err != nil {
			return fmt.Errorf("sum daily refunds: %w", err)
		}
		if used.Add(amount).GreaterThan(*wallet.DailyLimit) {
			return domain.ErrLimitExceeded.WithDetails(map[string]any{"limit": "daily_refund"})
		}
	}
	if wallet.MonthlyLimit != nil {
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		used, err := e.store.SumTransactionAmounts(ctx, SumFilter{
			WalletID:    wallet.ID,
			Type:        domain.TxTypeWithdrawal,
			RefundsOnly: true,
			From:        monthStart,
			To:          now,
		})
		if err != nil {
			return fmt.Errorf("sum monthly refunds: %w", err)
		}
		if used.Add(amount).GreaterThan(*wallet.MonthlyLimit) {
			return domain.ErrLimitExceeded.WithDetails(map[string]any{"limit": "monthly_refund"})
		}
	}
	return nil
}

func (e *RefundEngine) buildRefundTransaction(reqCtx RequestContext, original *models.Transaction, in RefundInput, commissions CommissionResult, success bool, gwResult *gateway.RefundResult, now time.Time) *models.Transaction {
	status := domain.StatusFailed
	var completedAt *time.Time
	var failureReason *string
	if success {
		status = domain.StatusSuccessful
		completedAt = &now
	} else {
		reason := "refund rejected by operator"
		if msg, ok := gwResult.Raw["message"].(string); ok && msg != "" {
			reason = msg
		}
		failureReason = &reason
	}

	var operatorTxID *string
	if gwResult.Reference != "" {
		ref := gwResult.Reference
		operatorTxID = &ref
	}
	var operatorStatus *string
	if gwResult.OperatorStatus != "" {
		os := gwResult.OperatorStatus
		operatorStatus = &os
	}

	metadata := map[string]string{"refund_reason": in.Reason}
	if raw, err := json.Marshal(gwResult.Raw); err == nil && len(gwResult.Raw) > 0 {
		metadata["operator_response"] = string(raw)
	}

	var ip, userAgent *string
	if reqCtx.IPAddress != "" {
		ip = &reqCtx.IPAddress
	}
	if reqCtx.UserAgent != "" {
		userAgent = &reqCtx.UserAgent
	}

	originalID := original.ID
	return &models.Transaction{
		ID:                 uuid.New(),
		EntrepriseID:       original.EntrepriseID,
		WalletID:           original.WalletID,
		OperatorID:         original.OperatorID,
		UserID:             original.UserID,
		Type:               domain.TxTypeWithdrawal,
		Amount:             in.RefundAmount,
		CurrencyCode:       original.CurrencyCode,
		OperatorCommission: commissions.OperatorCommission,
		InternalCommission: commissions.InternalCommission,
		NetAmount:          commissions.NetAmount(in.RefundAmount),
		Status:             status,
		OperatorStatus:     operatorStatus,
		OperatorTxID:       operatorTxID,
		CustomerPhone:      original.CustomerPhone,
		CustomerName:       original.CustomerName,
		WebhookURL:         original.WebhookURL,
		WebhookStatus:      domain.WebhookDisabled,
		RefundOf:           &originalID,
		InitiatedAt:        now,
		CompletedAt:        completedAt,
		APIKeyUsed:         original.APIKeyUsed,
		IPAddress:          ip,
		UserAgent:          userAgent,
		Metadata:           metadata,
		FailureReason:      failureReason,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}
