package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nath-hub/transaction/internal/domain"
	"github.com/nath-hub/transaction/internal/models"
)

// Commission rates are expressed as percentages. The internal platform
// commission is fixed at 1% of the transaction amount.
var internalCommissionRate = decimal.NewFromInt(1)

// fallbackInternalCommission is the flat unit charged when no active rule
// matches the operator and transaction type. A flat amount, not a rate.
var fallbackInternalCommission = decimal.NewFromInt(1)

// CommissionResult holds the computed commission amounts and the rule they
// were derived from. Rule is nil when the fallback applied.
type CommissionResult struct {
	OperatorCommission decimal.Decimal
	InternalCommission decimal.Decimal
	Rule               *models.CommissionSetting
}

// NetAmount returns amount minus both commissions.
func (r CommissionResult) NetAmount(amount decimal.Decimal) decimal.Decimal {
	return amount.Sub(r.OperatorCommission).Sub(r.InternalCommission)
}

// CommissionCalculator maps (amount, operator, transaction type) to
// commission amounts using the active commission rule. Pure: no writes,
// deterministic given the same rule row.
type CommissionCalculator struct {
	store Store
}

func NewCommissionCalculator(store Store) *CommissionCalculator {
	return &CommissionCalculator{store: store}
}

// Calculate looks up the single active rule for operator+type and computes
// both commissions, rounded half-up to 2 decimal places. When several
// active rules match, the store returns the most recently updated one.
func (c *CommissionCalculator) Calculate(ctx context.Context, amount decimal.Decimal, operatorID uuid.UUID, transactionType string) (CommissionResult, error) {
	return calculateCommissions(ctx, c.store, amount, operatorID, transactionType)
}

// calculateCommissions is the tx-scoped form used inside settlement units.
func calculateCommissions(ctx context.Context, store Store, amount decimal.Decimal, operatorID uuid.UUID, transactionType string) (CommissionResult, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return CommissionResult{}, fmt.Errorf("commission calculation requires a positive amount, got %s", amount)
	}

	rule, err := store.ActiveCommissionSetting(ctx, operatorID, transactionType)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return CommissionResult{
				OperatorCommission: decimal.Zero,
				InternalCommission: fallbackInternalCommission,
			}, nil
		}
		return CommissionResult{}, fmt.Errorf("lookup commission setting: %w", err)
	}
	if !ruleCovers(rule, amount) {
		return CommissionResult{
			OperatorCommission: decimal.Zero,
			InternalCommission: fallbackInternalCommission,
		}, nil
	}

	hundred := decimal.NewFromInt(100)
	var operatorCommission decimal.Decimal
	if rule.CommissionType == domain.CommissionFixed {
		operatorCommission = rule.CommissionValue.Round(2)
	} else {
		operatorCommission = amount.Mul(rule.CommissionValue).Div(hundred).Round(2)
	}
	internalCommission := amount.Mul(internalCommissionRate).Div(hundred).Round(2)

	return CommissionResult{
		OperatorCommission: operatorCommission,
		InternalCommission: internalCommission,
		Rule:               rule,
	}, nil
}

// ruleCovers reports whether the rule's amount bracket includes amount.
func ruleCovers(rule *models.CommissionSetting, amount decimal.Decimal) bool {
	if amount.LessThan(rule.MinAmount) {
		return false
	}
	if rule.MaxAmount != nil && amount.GreaterThan(*rule.MaxAmount) {
		return false
	}
	return true
}
