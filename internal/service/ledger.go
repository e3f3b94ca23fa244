package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nath-hub/transaction/internal/domain"
	"github.com/nath-hub/transaction/internal/models"
)

// MovementRequest describes one balance change applied by the wallet ledger.
type MovementRequest struct {
	// Amount is the gross transaction amount. Deposits credit the wallet
	// with Amount net of commissions; withdrawals debit the full Amount.
	Amount        decimal.Decimal
	NetAmount     decimal.Decimal
	Type          string // domain.TxTypeDeposit or domain.TxTypeWithdrawal
	TransactionID uuid.UUID
	CustomerPhone string
	CreatedBy     *uuid.UUID
	Description   string
}

// getOrCreateWallet finds the wallet for the unique
// (entreprise, country, currency) triple, creating it at balance 0 on first
// use. Must be called inside a settlement transaction: the returned wallet
// row is locked for the remainder of the unit.
func getOrCreateWallet(ctx context.Context, tx Store, entrepriseID, countryID uuid.UUID, currencyCode string) (*models.Wallet, error) {
	wallet, err := tx.FindWalletForUpdate(ctx, entrepriseID, countryID, currencyCode)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("find wallet: %w", err)
	}

	wallet = &models.Wallet{
		ID:           uuid.New(),
		EntrepriseID: entrepriseID,
		CountryID:    countryID,
		CurrencyCode: currencyCode,
		Balance:      decimal.Zero,
		Status:       domain.WalletActive,
	}
	if err := tx.CreateWallet(ctx, wallet); err != nil {
		// Lost a creation race on the unique triple; re-read under lock.
		existing, findErr := tx.FindWalletForUpdate(ctx, entrepriseID, countryID, currencyCode)
		if findErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	return wallet, nil
}

// checkWalletLimits rejects the movement when the wallet is not active or
// when the amount would push the day's or month's SUCCESSFULL volume of the
// same type past a configured limit.
func checkWalletLimits(ctx context.Context, tx Store, wallet *models.Wallet, amount decimal.Decimal, transactionType string, now time.Time) error {
	if wallet.Status != domain.WalletActive {
		return domain.ErrWalletNotActive
	}

	if wallet.DailyLimit != nil {
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		used, err := tx.SumTransactionAmounts(ctx, SumFilter{
			WalletID: wallet.ID,
			Type:     transactionType,
			Status:   domain.StatusSuccessful,
			From:     dayStart,
			To:       now,
		})
		if err != nil {
			return fmt.Errorf("sum daily transactions: %w", err)
		}
		if used.Add(amount).GreaterThan(*wallet.DailyLimit) {
			return domain.ErrLimitExceeded.WithDetails(map[string]any{
				"limit":     "daily",
				"used":      used.String(),
				"requested": amount.String(),
				"maximum":   wallet.DailyLimit.String(),
			})
		}
	}

	if wallet.MonthlyLimit != nil {
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		used, err := tx.SumTransactionAmounts(ctx, SumFilter{
			WalletID: wallet.ID,
			Type:     transactionType,
			Status:   domain.StatusSuccessful,
			From:     monthStart,
			To:       now,
		})
		if err != nil {
			return fmt.Errorf("sum monthly transactions: %w", err)
		}
		if used.Add(amount).GreaterThan(*wallet.MonthlyLimit) {
			return domain.ErrLimitExceeded.WithDetails(map[string]any{
				"limit":     "monthly",
				"used":      used.String(),
				"requested": amount.String(),
				"maximum":   wallet.MonthlyLimit.String(),
			})
		}
	}

	return nil
}

// applyMovement writes the WalletMovement with captured before/after
// balances and moves the wallet balance. Deposits credit net of
// commissions; withdrawals require balance >= gross amount and debit it.
// Runs inside the settlement transaction holding the wallet row lock.
func applyMovement(ctx context.Context, tx Store, wallet *models.Wallet, req MovementRequest, now time.Time) (*models.WalletMovement, error) {
	balanceBefore := wallet.Balance

	var balanceAfter decimal.Decimal
	var movementType string
	switch req.Type {
	case domain.TxTypeDeposit:
		balanceAfter = balanceBefore.Add(req.NetAmount)
		movementType = domain.MovementCredit
	case domain.TxTypeWithdrawal:
		if balanceBefore.LessThan(req.Amount) {
			return nil, domain.ErrInsufficientFunds.WithDetails(map[string]any{
				"current_balance":  balanceBefore.String(),
				"requested_amount": req.Amount.String(),
			})
		}
		balanceAfter = balanceBefore.Sub(req.Amount)
		movementType = domain.MovementDebit
	default:
		return nil, fmt.Errorf("unknown movement transaction type %q", req.Type)
	}

	description := req.Description
	if description == "" {
		description = movementDescription(req.Type, req.CustomerPhone)
	}

	txID := req.TransactionID
	movement := &models.WalletMovement{
		ID:            uuid.New(),
		WalletID:      wallet.ID,
		TransactionID: &txID,
		MovementType:  movementType,
		Amount:        req.Amount,
		BalanceBefore: balanceBefore,
		BalanceAfter:  balanceAfter,
		Description:   description,
		Reference:     newReference(),
		CreatedBy:     req.CreatedBy,
		CreatedAt:     now,
	}
	if err := tx.CreateMovement(ctx, movement); err != nil {
		return nil, fmt.Errorf("create wallet movement: %w", err)
	}

	if err := tx.UpdateWalletBalance(ctx, wallet.ID, balanceAfter); err != nil {
		return nil, fmt.Errorf("update wallet balance: %w", err)
	}
	wallet.Balance = balanceAfter

	return movement, nil
}

func movementDescription(transactionType, customerPhone string) string {
	label := "Withdrawal"
	if transactionType == domain.TxTypeDeposit {
		label = "Deposit"
	}
	return fmt.Sprintf("%s - %s", label, customerPhone)
}

const referenceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// newReference generates a human-readable unique movement code, REF- plus
// ten characters.
func newReference() string {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "REF-" + uuid.NewString()[:10]
	}
	for i, b := range buf {
		buf[i] = referenceAlphabet[int(b)%len(referenceAlphabet)]
	}
	return "REF-" + string(buf)
}
