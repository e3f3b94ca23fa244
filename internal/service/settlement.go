package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nath-hub/transaction/internal/domain"
	"github.com/nath-hub/transaction/internal/models"
	"github.com/nath-hub/transaction/internal/observability"
)

// Directory resolves countries and operators against the identity service.
type Directory interface {
	CountryByCode(ctx context.Context, code string) (*models.Country, error)
	OperatorByCode(ctx context.Context, code string) (*models.Operator, error)
}

// IPLocator resolves the caller's country from its IP address.
type IPLocator interface {
	CountryCode(ctx context.Context, ip string) (string, error)
}

// PollScheduler queues the bounded status poller for a freshly settled
// transaction. The periodic sweep remains the fallback when scheduling is
// unavailable.
type PollScheduler interface {
	SchedulePoll(transactionID uuid.UUID)
}

// RequestContext is the per-request provenance resolved at the request
// boundary and threaded explicitly through settlement.
type RequestContext struct {
	Environment domain.Environment
	APIKey      string
	IPAddress   string
	UserAgent   string
	UserID      *uuid.UUID
}

// CreateTransactionInput is the settlement payload.
type CreateTransactionInput struct {
	EntrepriseID  uuid.UUID
	OperatorCode  string
	Type          string
	Amount        decimal.Decimal
	CustomerPhone string
	CustomerName  *string
	WebhookURL    *string
	Metadata      map[string]string
}

// SettlementResult is the atomic outcome of one transaction creation.
type SettlementResult struct {
	Transaction *models.Transaction
	Movement    *models.WalletMovement
	Wallet      *models.Wallet
}

// SettlementEngine orchestrates one full transaction creation: country and
// operator resolution, commission calculation, wallet get-or-create, limit
// checks, ledger movement and persistence, as one all-or-nothing unit.
type SettlementEngine struct {
	store     Store
	directory Directory
	locator   IPLocator
	scheduler PollScheduler
	now       func() time.Time
}

func NewSettlementEngine(store Store, directory Directory, locator IPLocator) *SettlementEngine {
	return &SettlementEngine{
		store:     store,
		directory: directory,
		locator:   locator,
		now:       time.Now,
	}
}

// WithScheduler wires the per-transaction status poller dispatched on
// successful settlement.
func (e *SettlementEngine) WithScheduler(s PollScheduler) *SettlementEngine {
	e.scheduler = s
	return e
}

func (in CreateTransactionInput) validate() error {
	details := map[string]any{}
	if in.EntrepriseID == uuid.Nil {
		details["entreprise_id"] = "required"
	}
	if in.OperatorCode == "" {
		details["operator_code"] = "required"
	}
	if in.Type != domain.TxTypeDeposit && in.Type != domain.TxTypeWithdrawal {
		details["transaction_type"] = "must be deposit or withdrawal"
	}
	if in.Amount.LessThanOrEqual(decimal.Zero) {
		details["amount"] = "must be positive"
	}
	if in.CustomerPhone == "" {
		details["customer_phone"] = "required"
	}
	if len(details) > 0 {
		return domain.ErrValidation.WithDetails(details)
	}
	return nil
}

// CreateTransaction settles a new deposit or withdrawal. Network lookups
// (geolocation, directory) run before the database unit so the wallet row
// lock is never held across a remote call. Inside the unit: commissions,
// wallet get-or-create with row lock, limit checks, ledger movement,
// transaction row (initial status PENDING) and commission snapshot. Any
// failure rolls the whole unit back.
func (e *SettlementEngine) CreateTransaction(ctx context.Context, reqCtx RequestContext, in CreateTransactionInput) (*SettlementResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	countryCode, err := e.locator.CountryCode(ctx, reqCtx.IPAddress)
	if err != nil {
		return nil, fmt.Errorf("resolve country from ip: %w", err)
	}

	country, err := e.directory.CountryByCode(ctx, countryCode)
	if err != nil {
		return nil, err
	}
	if country == nil || !country.Authorized {
		return nil, domain.ErrCountryNotAuthorized.WithDetails(map[string]any{"country_code": countryCode})
	}

	operator, err := e.directory.OperatorByCode(ctx, in.OperatorCode)
	if err != nil {
		return nil, err
	}
	if operator == nil || !operator.Active {
		return nil, domain.ErrOperatorNotFound.WithDetails(map[string]any{"operator_code": in.OperatorCode})
	}

	if reqCtx.APIKey == "" {
		return nil, domain.ErrMissingAPIKey
	}

	now := e.now().UTC()
	var result SettlementResult

	err = e.store.RunInTx(ctx, func(tx Store) error {
		commissions, err := calculateCommissions(ctx, tx, in.Amount, operator.ID, in.Type)
		if err != nil {
			return err
		}
		netAmount := commissions.NetAmount(in.Amount)

		wallet, err := getOrCreateWallet(ctx, tx, in.EntrepriseID, country.ID, country.CurrencyCode)
		if err != nil {
			return err
		}

		if err := checkWalletLimits(ctx, tx, wallet, in.Amount, in.Type, now); err != nil {
			return err
		}

		transaction := e.buildTransaction(reqCtx, in, country, operator, commissions, netAmount, now)
		transaction.WalletID = wallet.ID
		if err := tx.CreateTransaction(ctx, transaction); err != nil {
			return fmt.Errorf("create transaction: %w", err)
		}

		movement, err := applyMovement(ctx, tx, wallet, MovementRequest{
			Amount:        in.Amount,
			NetAmount:     netAmount,
			Type:          in.Type,
			TransactionID: transaction.ID,
			CustomerPhone: in.CustomerPhone,
			CreatedBy:     reqCtx.UserID,
		}, now)
		if err != nil {
			return err
		}

		snapshot := buildCommissionSnapshot(transaction, operator.ID, commissions, netAmount, reqCtx.UserID, now)
		if err := tx.CreateCommissionSnapshot(ctx, snapshot); err != nil {
			return fmt.Errorf("create commission snapshot: %w", err)
		}

		result = SettlementResult{
			Transaction: transaction,
			Movement:    movement,
			Wallet:      wallet,
		}
		return nil
	})
	if err != nil {
		observability.IncrementSettlement(in.Type, "rejected")
		return nil, err
	}

	observability.IncrementSettlement(in.Type, "settled")
	zap.L().Info("transaction settled",
		zap.String("transaction_id", result.Transaction.ID.String()),
		zap.String("type", in.Type),
		zap.String("amount", in.Amount.String()),
		zap.String("operator", operator.Code),
		zap.String("environment", string(reqCtx.Environment)),
	)

	if e.scheduler != nil {
		e.scheduler.SchedulePoll(result.Transaction.ID)
	}

	return &result, nil
}

func (e *SettlementEngine) buildTransaction(reqCtx RequestContext, in CreateTransactionInput, country *models.Country, operator *models.Operator, commissions CommissionResult, netAmount decimal.Decimal, now time.Time) *models.Transaction {
	webhookStatus := domain.WebhookDisabled
	if in.WebhookURL != nil && *in.WebhookURL != "" {
		webhookStatus = domain.WebhookPending
	}

	var apiKey, ip, userAgent *string
	if reqCtx.APIKey != "" {
		apiKey = &reqCtx.APIKey
	}
	if reqCtx.IPAddress != "" {
		ip = &reqCtx.IPAddress
	}
	if reqCtx.UserAgent != "" {
		userAgent = &reqCtx.UserAgent
	}

	return &models.Transaction{
		ID:                 uuid.New(),
		EntrepriseID:       in.EntrepriseID,
		OperatorID:         operator.ID,
		UserID:             reqCtx.UserID,
		Type:               in.Type,
		Amount:             in.Amount,
		CurrencyCode:       country.CurrencyCode,
		OperatorCommission: commissions.OperatorCommission,
		InternalCommission: commissions.InternalCommission,
		NetAmount:          netAmount,
		Status:             domain.StatusPending,
		CustomerPhone:      in.CustomerPhone,
		CustomerName:       in.CustomerName,
		WebhookURL:         in.WebhookURL,
		WebhookStatus:      webhookStatus,
		InitiatedAt:        now,
		APIKeyUsed:         apiKey,
		IPAddress:          ip,
		UserAgent:          userAgent,
		Metadata:           in.Metadata,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func buildCommissionSnapshot(t *models.Transaction, operatorID uuid.UUID, commissions CommissionResult, netAmount decimal.Decimal, calculatedBy *uuid.UUID, now time.Time) *models.TransactionCommission {
	snapshot := &models.TransactionCommission{
		ID:                       uuid.New(),
		TransactionID:            t.ID,
		OperatorID:               operatorID,
		EntrepriseID:             t.EntrepriseID,
		TransactionAmount:        t.Amount,
		CurrencyCode:             t.CurrencyCode,
		OperatorCommissionAmount: commissions.OperatorCommission,
		InternalCommissionRate:   internalCommissionRate,
		InternalCommissionAmount: commissions.InternalCommission,
		TotalCommission:          commissions.OperatorCommission.Add(commissions.InternalCommission),
		NetAmount:                netAmount,
		TransactionType:          t.Type,
		CalculatedBy:             calculatedBy,
		CalculatedAt:             now,
	}
	if commissions.Rule != nil {
		ruleID := commissions.Rule.ID
		ruleUpdated := commissions.Rule.UpdatedAt
		snapshot.RuleID = &ruleID
		snapshot.RuleUpdatedAt = &ruleUpdated
		snapshot.OperatorCommissionRate = commissions.Rule.CommissionValue
	}
	snapshot.CalculationDetails = fmt.Sprintf(
		`{"base_amount":%q,"operator_calculation":%q,"internal_calculation":%q,"total_commission":%q,"net_amount":%q,"calculated_at":%q}`,
		t.Amount.String(),
		commissions.OperatorCommission.String(),
		commissions.InternalCommission.String(),
		snapshot.TotalCommission.String(),
		netAmount.String(),
		now.Format(time.RFC3339),
	)
	return snapshot
}
