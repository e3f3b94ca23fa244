package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nath-hub/transaction/internal/domain"
	"github.com/nath-hub/transaction/internal/gateway"
	"github.com/nath-hub/transaction/internal/models"
)

type stubDirectory struct {
	country  *models.Country
	operator *models.Operator
	err      error
}

func (d *stubDirectory) CountryByCode(context.Context, string) (*models.Country, error) {
	return d.country, d.err
}

func (d *stubDirectory) OperatorByCode(context.Context, string) (*models.Operator, error) {
	return d.operator, d.err
}

func (d *stubDirectory) OperatorByID(context.Context, uuid.UUID) (*models.Operator, error) {
	return d.operator, d.err
}

type stubLocator struct {
	code string
}

func (l *stubLocator) CountryCode(context.Context, string) (string, error) {
	return l.code, nil
}

type stubScheduler struct {
	scheduled []uuid.UUID
}

func (s *stubScheduler) SchedulePoll(id uuid.UUID) {
	s.scheduled = append(s.scheduled, id)
}

type stubGateway struct {
	initResult   *gateway.InitResult
	initErr      error
	statusResult *gateway.StatusResult
	statusErr    error
	refundResult *gateway.RefundResult
	refundErr    error

	initCalls   int
	statusCalls int
	refundCalls int
}

func (g *stubGateway) Initiate(context.Context, decimal.Decimal, string) (*gateway.InitResult, error) {
	g.initCalls++
	return g.initResult, g.initErr
}

func (g *stubGateway) CheckStatus(context.Context, gateway.Handle) (*gateway.StatusResult, error) {
	g.statusCalls++
	return g.statusResult, g.statusErr
}

func (g *stubGateway) Refund(context.Context, decimal.Decimal, string, string) (*gateway.RefundResult, error) {
	g.refundCalls++
	return g.refundResult, g.refundErr
}

type stubResolver struct {
	gw gateway.Gateway
}

func (r *stubResolver) ForOperator(string) gateway.Gateway {
	return r.gw
}

type stubNotifier struct {
	sent     []WebhookNotification
	delivery WebhookDelivery
}

func (n *stubNotifier) Send(_ context.Context, notification WebhookNotification) WebhookDelivery {
	n.sent = append(n.sent, notification)
	return n.delivery
}

func testCountry() *models.Country {
	return &models.Country{
		ID:           uuid.New(),
		Code:         "CM",
		Name:         "Cameroon",
		CurrencyCode: "XAF",
		Authorized:   true,
	}
}

func testOperator(countryID uuid.UUID) *models.Operator {
	return &models.Operator{
		ID:        uuid.New(),
		CountryID: countryID,
		Code:      "ORANGE",
		Name:      "Orange Money",
		Active:    true,
	}
}

func seedCommissionRule(store *memStore, operatorID uuid.UUID, transactionType string, rate decimal.Decimal) *models.CommissionSetting {
	rule := &models.CommissionSetting{
		ID:              uuid.New(),
		EntrepriseID:    uuid.New(),
		CountryID:       uuid.New(),
		OperatorID:      operatorID,
		TransactionType: transactionType,
		CommissionType:  domain.CommissionPercentage,
		CommissionValue: rate,
		MinAmount:       decimal.Zero,
		IsActive:        true,
		CreatedAt:       time.Now().Add(-time.Hour),
		UpdatedAt:       time.Now().Add(-time.Hour),
	}
	store.settings = append(store.settings, rule)
	return rule
}

func seedWallet(store *memStore, entrepriseID, countryID uuid.UUID, balance decimal.Decimal) *models.Wallet {
	wallet := &models.Wallet{
		ID:           uuid.New(),
		EntrepriseID: entrepriseID,
		CountryID:    countryID,
		CurrencyCode: "XAF",
		Balance:      balance,
		Status:       domain.WalletActive,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	store.wallets[wallet.ID] = wallet
	return wallet
}

func seedPendingTransaction(store *memStore, walletID, operatorID uuid.UUID, amount decimal.Decimal) *models.Transaction {
	t := &models.Transaction{
		ID:            uuid.New(),
		EntrepriseID:  uuid.New(),
		WalletID:      walletID,
		OperatorID:    operatorID,
		Type:          domain.TxTypeDeposit,
		Amount:        amount,
		CurrencyCode:  "XAF",
		NetAmount:     amount,
		Status:        domain.StatusPending,
		CustomerPhone: "+237690000001",
		WebhookStatus: domain.WebhookDisabled,
		InitiatedAt:   time.Now(),
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	store.txns[t.ID] = t
	return t
}

func strPtr(s string) *string { return &s }
