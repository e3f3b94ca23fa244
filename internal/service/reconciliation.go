package service

import (
	"context"
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

// sweepWindow bounds the periodic sweep to recently created transactions.
const sweepWindow = 24 * time.Hour

// OperatorLookup resolves an operator record by id against the identity
// service.
type OperatorLookup interface {
	OperatorByID(ctx context.Context, id uuid.UUID) (*models.Operator, error)
}

// GatewayResolver returns the gateway for an operator code, or nil when the
// operator is unsupported.
type GatewayResolver interface {
	ForOperator(code string) gateway.Gateway
}

// WebhookNotification is the terminal-state payload posted to the client's
// callback URL.
type WebhookNotification struct {
	URL           string
	TransactionID uuid.UUID
	Status        string
	Amount        decimal.Decimal
	Operator      string
	PhoneNumber   string
	Timestamp     time.Time
	Metadata      map[string]string
}

// WebhookDelivery reports the outcome of a best-effort delivery.
type WebhookDelivery struct {
	Delivered bool
	Attempts  int
	Response  string
}

// Notifier delivers terminal-state notifications. Implementations retry a
// small fixed number of times and never return an error: delivery failure
// is recorded, not surfaced.
type Notifier interface {
	Send(ctx context.Context, n WebhookNotification) WebhookDelivery
}

// ReconciliationService confirms the true status of pending transactions
// with their operator and applies the terminal transition exactly once.
type ReconciliationService struct {
	store     Store
	gateways  GatewayResolver
	operators OperatorLookup
	notifier  Notifier
	now       func() time.Time
}

func NewReconciliationService(store Store, gateways GatewayResolver, operators OperatorLookup, notifier Notifier) *ReconciliationService {
	return &ReconciliationService{
		store:     store,
		gateways:  gateways,
		operators: operators,
		notifier:  notifier,
		now:       time.Now,
	}
}

// ReconcileTransaction checks one transaction against its operator and
// returns the (possibly updated) status. Already-terminal transactions are
// an idempotent no-op. A PENDING transaction that has never been submitted
// to the operator is initiated first.
func (s *ReconciliationService) ReconcileTransaction(ctx context.Context, transactionID uuid.UUID) (string, error) {
	t, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", domain.ErrTransactionNotFound
		}
		return "", fmt.Errorf("load transaction: %w", err)
	}

	if t.Status != domain.StatusPending {
		return t.Status, nil
	}

	operator, err := s.operators.OperatorByID(ctx, t.OperatorID)
	if err != nil {
		return "", fmt.Errorf("resolve operator %s: %w", t.OperatorID, err)
	}
	gw := s.gateways.ForOperator(operator.Code)
	if gw == nil {
		return "", fmt.Errorf("no gateway registered for operator %s", operator.Code)
	}

	if t.OperatorHandle == nil || *t.OperatorHandle == "" {
		// The poller and the sweep can reach an unsubmitted transaction at
		// the same time. Only the claim winner submits; everyone else backs
		// off and polls the stored handle later.
		claimed, err := s.store.ClaimInitiation(ctx, t.ID)
		if err != nil {
			return "", fmt.Errorf("claim initiation: %w", err)
		}
		if !claimed {
			observability.IncrementReconciliation("still_pending")
			return domain.StatusPending, nil
		}
		if err := s.initiateWithOperator(ctx, t, gw); err != nil {
			if releaseErr := s.store.ReleaseInitiation(ctx, t.ID); releaseErr != nil {
				zap.L().Error("failed to release initiation claim",
					zap.String("transaction_id", t.ID.String()),
					zap.Error(releaseErr),
				)
			}
			return "", err
		}
	}

	handle := gateway.Handle{Token: deref(t.OperatorHandle), AuthRef: deref(t.OperatorAuthRef)}
	result, err := gw.CheckStatus(ctx, handle)
	if err != nil {
		observability.IncrementReconciliation("gateway_error")
		return "", fmt.Errorf("%w: %v", domain.ErrGatewayError, err)
	}

	if result.Status == domain.StatusPending {
		observability.IncrementReconciliation("still_pending")
		return domain.StatusPending, nil
	}

	return s.finalize(ctx, t, operator.Code, result.Status, result.OperatorStatus, result.Detail)
}

// FailExhausted marks a transaction FAILED after the poller's attempt
// budget ran out without the operator reaching a terminal state.
func (s *ReconciliationService) FailExhausted(ctx context.Context, transactionID uuid.UUID, attempts int) error {
	t, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.ErrTransactionNotFound
		}
		return fmt.Errorf("load transaction: %w", err)
	}
	if t.Status != domain.StatusPending {
		return nil
	}

	operator, err := s.operators.OperatorByID(ctx, t.OperatorID)
	if err != nil {
		return fmt.Errorf("resolve operator %s: %w", t.OperatorID, err)
	}

	reason := fmt.Sprintf("status check attempts exhausted after %d attempts", attempts)
	_, err = s.finalize(ctx, t, operator.Code, domain.StatusFailed, "", reason)
	return err
}

// SweepPending reconciles every PENDING transaction created within the
// sweep window. Per-transaction failures are logged and do not abort the
// sweep for the others.
func (s *ReconciliationService) SweepPending(ctx context.Context) error {
	since := s.now().Add(-sweepWindow)
	pending, err := s.store.ListPendingSince(ctx, since)
	if err != nil {
		return fmt.Errorf("list pending transactions: %w", err)
	}

	zap.L().Info("reconciliation sweep", zap.Int("pending", len(pending)))
	for _, t := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.ReconcileTransaction(ctx, t.ID); err != nil {
			zap.L().Error("sweep reconciliation failed",
				zap.String("transaction_id", t.ID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

// initiateWithOperator submits the payment and stores the operator handle
// used by subsequent status polls.
func (s *ReconciliationService) initiateWithOperator(ctx context.Context, t *models.Transaction, gw gateway.Gateway) error {
	init, err := gw.Initiate(ctx, t.Amount, t.CustomerPhone)
	if err != nil {
		observability.IncrementReconciliation("gateway_error")
		return fmt.Errorf("%w: initiate: %v", domain.ErrGatewayError, err)
	}

	if err := s.store.UpdateOperatorHandle(ctx, t.ID, OperatorHandleParams{
		Handle:         init.Handle.Token,
		AuthRef:        init.Handle.AuthRef,
		OperatorTxID:   init.OperatorTxID,
		OperatorStatus: init.OperatorStatus,
	}); err != nil {
		return fmt.Errorf("store operator handle: %w", err)
	}

	token := init.Handle.Token
	authRef := init.Handle.AuthRef
	t.OperatorHandle = &token
	t.OperatorAuthRef = &authRef
	return nil
}

// finalize applies the PENDING -> terminal transition exactly once and
// fires the webhook only when this call won the transition. rawStatus is
// the operator's wire status kept as a passthrough; detail is the
// operator's failure text.
func (s *ReconciliationService) finalize(ctx context.Context, t *models.Transaction, operatorCode, status, rawStatus, detail string) (string, error) {
	params := FinalizeParams{
		Status:      status,
		CompletedAt: s.now().UTC(),
	}
	if rawStatus != "" {
		r := rawStatus
		params.OperatorStatus = &r
	}
	if detail != "" && status != domain.StatusSuccessful {
		d := detail
		params.FailureReason = &d
	}

	won, err := s.store.FinalizeTransaction(ctx, t.ID, params)
	if err != nil {
		return "", fmt.Errorf("finalize transaction: %w", err)
	}
	if !won {
		// Another poller or the sweep got there first.
		current, err := s.store.GetTransaction(ctx, t.ID)
		if err != nil {
			return status, nil
		}
		return current.Status, nil
	}

	observability.IncrementReconciliation("finalized")
	zap.L().Info("transaction finalized",
		zap.String("transaction_id", t.ID.String()),
		zap.String("status", status),
	)

	s.sendWebhook(ctx, t, operatorCode, status)
	return status, nil
}

// sendWebhook is best-effort: failures are recorded on the transaction and
// never propagated to the caller of the status transition.
func (s *ReconciliationService) sendWebhook(ctx context.Context, t *models.Transaction, operatorCode, status string) {
	if t.WebhookURL == nil || *t.WebhookURL == "" {
		return
	}

	delivery := s.notifier.Send(ctx, WebhookNotification{
		URL:           *t.WebhookURL,
		TransactionID: t.ID,
		Status:        status,
		Amount:        t.Amount,
		Operator:      operatorCode,
		PhoneNumber:   t.CustomerPhone,
		Timestamp:     s.now().UTC(),
		Metadata:      t.Metadata,
	})

	webhookStatus := domain.WebhookFailed
	if delivery.Delivered {
		webhookStatus = domain.WebhookSent
	}
	observability.IncrementWebhookDelivery(webhookStatus)

	var response *string
	if delivery.Response != "" {
		response = &delivery.Response
	}
	if err := s.store.UpdateWebhookDelivery(ctx, t.ID, webhookStatus, delivery.Attempts, response); err != nil {
		zap.L().Error("record webhook delivery failed",
			zap.String("transaction_id", t.ID.String()),
			zap.Error(err),
		)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
