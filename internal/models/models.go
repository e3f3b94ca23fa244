package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet is a per-entreprise, per-country, per-currency balance account.
// The (EntrepriseID, CountryID, CurrencyCode) triple is unique; the balance
// only changes through a WalletMovement.
type Wallet struct {
	ID           uuid.UUID        `json:"id"`
	EntrepriseID uuid.UUID        `json:"entreprise_id"`
	CountryID    uuid.UUID        `json:"country_id"`
	CurrencyCode string           `json:"currency_code"`
	Balance      decimal.Decimal  `json:"balance"`
	Status       string           `json:"status"`
	DailyLimit   *decimal.Decimal `json:"daily_limit,omitempty"`
	MonthlyLimit *decimal.Decimal `json:"monthly_limit,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

type Transaction struct {
	ID           uuid.UUID  `json:"id"`
	EntrepriseID uuid.UUID  `json:"entreprise_id"`
	WalletID     uuid.UUID  `json:"wallet_id"`
	OperatorID   uuid.UUID  `json:"operator_id"`
	UserID       *uuid.UUID `json:"user_id,omitempty"`

	Type         string          `json:"transaction_type"`
	Amount       decimal.Decimal `json:"amount"`
	CurrencyCode string          `json:"currency_code"`

	OperatorCommission decimal.Decimal `json:"operator_commission"`
	InternalCommission decimal.Decimal `json:"internal_commission"`
	NetAmount          decimal.Decimal `json:"net_amount"`

	Status         string  `json:"status"`
	OperatorStatus *string `json:"operator_status,omitempty"`
	OperatorTxID   *string `json:"operator_transaction_id,omitempty"`

	CustomerPhone string  `json:"customer_phone"`
	CustomerName  *string `json:"customer_name,omitempty"`

	// OperatorHandle is the operator-side polling handle (pay token) and
	// OperatorAuthRef the bearer token the handle was issued under.
	OperatorHandle  *string `json:"operator_handle,omitempty"`
	OperatorAuthRef *string `json:"-"`

	WebhookURL      *string `json:"webhook_url,omitempty"`
	WebhookStatus   string  `json:"webhook_status"`
	WebhookAttempts int     `json:"webhook_attempts"`
	WebhookResponse *string `json:"webhook_response,omitempty"`

	// RefundOf links a refund transaction back to the transaction it refunds.
	RefundOf *uuid.UUID `json:"refund_of,omitempty"`

	InitiatedAt time.Time  `json:"initiated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	APIKeyUsed *string `json:"api_key_used,omitempty"`
	IPAddress  *string `json:"ip_address,omitempty"`
	UserAgent  *string `json:"user_agent,omitempty"`

	Metadata      map[string]string `json:"metadata,omitempty"`
	FailureReason *string           `json:"failure_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WalletMovement is an append-only ledger entry. Rows are never updated or
// deleted once written.
type WalletMovement struct {
	ID            uuid.UUID       `json:"id"`
	WalletID      uuid.UUID       `json:"wallet_id"`
	TransactionID *uuid.UUID      `json:"transaction_id,omitempty"`
	MovementType  string          `json:"movement_type"`
	// Amount records the gross transaction amount, not the balance delta.
	// Deposits credit the wallet net of commissions, so the balance is
	// reconciled through the BalanceBefore/BalanceAfter chain rather than
	// by summing Amount.
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Description   string          `json:"description"`
	Reference     string          `json:"reference"`
	CreatedBy     *uuid.UUID      `json:"created_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// CommissionSetting is the configured commission rule for an operator and
// transaction type. Read-only from the settlement engine's perspective.
type CommissionSetting struct {
	ID              uuid.UUID        `json:"id"`
	EntrepriseID    uuid.UUID        `json:"entreprise_id"`
	CountryID       uuid.UUID        `json:"country_id"`
	OperatorID      uuid.UUID        `json:"operator_id"`
	TransactionType string           `json:"transaction_type"`
	CommissionType  string           `json:"commission_type"`
	CommissionValue decimal.Decimal  `json:"commission_value"`
	MinAmount       decimal.Decimal  `json:"min_amount"`
	MaxAmount       *decimal.Decimal `json:"max_amount,omitempty"`
	IsActive        bool             `json:"is_active"`
	CreatedBy       *uuid.UUID       `json:"created_by,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// TransactionCommission is the immutable snapshot of the rule and amounts
// applied to one transaction, kept for audit even if the rule later changes.
type TransactionCommission struct {
	ID            uuid.UUID `json:"id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	OperatorID    uuid.UUID `json:"operator_id"`
	EntrepriseID  uuid.UUID `json:"entreprise_id"`

	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	CurrencyCode      string          `json:"currency_code"`

	OperatorCommissionRate   decimal.Decimal `json:"operator_commission_rate"`
	OperatorCommissionAmount decimal.Decimal `json:"operator_commission_amount"`
	InternalCommissionRate   decimal.Decimal `json:"internal_commission_rate"`
	InternalCommissionAmount decimal.Decimal `json:"internal_commission_amount"`

	TotalCommission decimal.Decimal `json:"total_commission"`
	NetAmount       decimal.Decimal `json:"net_amount"`

	TransactionType    string     `json:"transaction_type"`
	RuleID             *uuid.UUID `json:"rule_id,omitempty"`
	RuleUpdatedAt      *time.Time `json:"rule_updated_at,omitempty"`
	CalculationDetails string     `json:"calculation_details,omitempty"`
	CalculatedBy       *uuid.UUID `json:"calculated_by,omitempty"`
	CalculatedAt       time.Time  `json:"calculated_at"`
}

// Country and Operator are directory-service projections; the identity
// service owns the source records.
type Country struct {
	ID           uuid.UUID `json:"id"`
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	CurrencyCode string    `json:"currency_code"`
	Authorized   bool      `json:"authorized"`
}

type Operator struct {
	ID        uuid.UUID `json:"id"`
	CountryID uuid.UUID `json:"country_id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
}
