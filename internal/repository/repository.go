package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nath-hub/transaction/internal/domain"
	"github.com/nath-hub/transaction/internal/models"
	"github.com/nath-hub/transaction/internal/service"
)

// dbtx is the querying surface shared by a pool and an open transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the pgx implementation of the service persistence contract. A
// Store built by NewStore queries the pool directly; RunInTx hands fn a
// transaction-scoped Store over the same queries.
type Store struct {
	pool *pgxpool.Pool
	db   dbtx
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// RunInTx executes fn within a database transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(tx service.Store) error) error {
	if s.pool == nil {
		// Already transaction-scoped; pgx transactions do not nest.
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Store{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const walletColumns = `id, entreprise_id, country_id, currency_code, balance, status, daily_limit, monthly_limit, created_at, updated_at`

func (s *Store) CreateWallet(ctx context.Context, w *models.Wallet) error {
	query := `INSERT INTO wallets (id, entreprise_id, country_id, currency_code, balance, status, daily_limit, monthly_limit, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW()) RETURNING created_at, updated_at`
	err := s.db.QueryRow(ctx, query,
		w.ID, w.EntrepriseID, w.CountryID, w.CurrencyCode, w.Balance, w.Status, w.DailyLimit, w.MonthlyLimit,
	).Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

func (s *Store) GetWallet(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`
	return s.scanWallet(s.db.QueryRow(ctx, query, id))
}

func (s *Store) GetWalletForUpdate(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 FOR UPDATE`
	return s.scanWallet(s.db.QueryRow(ctx, query, id))
}

func (s *Store) FindWalletForUpdate(ctx context.Context, entrepriseID, countryID uuid.UUID, currencyCode string) (*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets
		WHERE entreprise_id = $1 AND country_id = $2 AND currency_code = $3 FOR UPDATE`
	return s.scanWallet(s.db.QueryRow(ctx, query, entrepriseID, countryID, currencyCode))
}

func (s *Store) scanWallet(row pgx.Row) (*models.Wallet, error) {
	w := &models.Wallet{}
	err := row.Scan(&w.ID, &w.EntrepriseID, &w.CountryID, &w.CurrencyCode, &w.Balance, &w.Status,
		&w.DailyLimit, &w.MonthlyLimit, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, nil
}

func (s *Store) UpdateWalletBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	query := `UPDATE wallets SET balance = $2, updated_at = NOW() WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, id, balance)
	if err != nil {
		return fmt.Errorf("failed to update wallet balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrNotFound
	}
	return nil
}

const transactionColumns = `id, entreprise_id, wallet_id, operator_id, user_id,
	transaction_type, amount, currency_code,
	operator_commission, internal_commission, net_amount,
	status, operator_status, operator_transaction_id,
	customer_phone, customer_name,
	operator_handle, operator_auth_ref,
	webhook_url, webhook_status, webhook_attempts, webhook_response,
	refund_of, initiated_at, completed_at,
	api_key_used, ip_address, user_agent,
	metadata, failure_reason, created_at, updated_at`

func (s *Store) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	query := `INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, NOW(), NOW())
		RETURNING created_at, updated_at`
	err := s.db.QueryRow(ctx, query,
		t.ID, t.EntrepriseID, t.WalletID, t.OperatorID, t.UserID,
		t.Type, t.Amount, t.CurrencyCode,
		t.OperatorCommission, t.InternalCommission, t.NetAmount,
		t.Status, t.OperatorStatus, t.OperatorTxID,
		t.CustomerPhone, t.CustomerName,
		t.OperatorHandle, t.OperatorAuthRef,
		t.WebhookURL, t.WebhookStatus, t.WebhookAttempts, t.WebhookResponse,
		t.RefundOf, t.InitiatedAt, t.CompletedAt,
		t.APIKeyUsed, t.IPAddress, t.UserAgent,
		t.Metadata, t.FailureReason,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	t, err := scanTransaction(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

func (s *Store) ListTransactions(ctx context.Context, f service.TransactionFilter) ([]models.Transaction, error) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.EntrepriseID != nil {
		add("entreprise_id = $%d", *f.EntrepriseID)
	}
	if f.WalletID != nil {
		add("wallet_id = $%d", *f.WalletID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Type != "" {
		add("transaction_type = $%d", f.Type)
	}
	if f.CustomerPhone != "" {
		add("customer_phone = $%d", f.CustomerPhone)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, f.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, f.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (s *Store) ListPendingSince(ctx context.Context, since time.Time) ([]models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE status = 'PENDING' AND created_at >= $1
		ORDER BY created_at ASC`
	rows, err := s.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (s *Store) SumTransactionAmounts(ctx context.Context, f service.SumFilter) (decimal.Decimal, error) {
	conds := []string{"wallet_id = $1", "transaction_type = $2", "created_at >= $3", "created_at <= $4"}
	args := []any{f.WalletID, f.Type, f.From, f.To}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.RefundsOnly {
		conds = append(conds, "refund_of IS NOT NULL")
	}

	query := `SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE ` + strings.Join(conds, " AND ")
	var sum decimal.Decimal
	if err := s.db.QueryRow(ctx, query, args...).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum transaction amounts: %w", err)
	}
	return sum, nil
}

func (s *Store) FinalizeTransaction(ctx context.Context, id uuid.UUID, p service.FinalizeParams) (bool, error) {
	query := `UPDATE transactions
		SET status = $2,
			operator_status = COALESCE($3, operator_status),
			failure_reason = $4,
			completed_at = $5,
			updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'`
	tag, err := s.db.Exec(ctx, query, id, p.Status, p.OperatorStatus, p.FailureReason, p.CompletedAt)
	if err != nil {
		return false, fmt.Errorf("failed to finalize transaction: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) MarkRefunded(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `UPDATE transactions SET status = 'REFUNDED', updated_at = NOW()
		WHERE id = $1 AND status = 'SUCCESSFULL'`
	tag, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark transaction refunded: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) DeletePendingTransaction(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `DELETE FROM transactions WHERE id = $1 AND status = 'PENDING'`
	tag, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete transaction: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) UpdateWebhookDelivery(ctx context.Context, id uuid.UUID, status string, attempts int, response *string) error {
	query := `UPDATE transactions
		SET webhook_status = $2, webhook_attempts = $3, webhook_response = $4, updated_at = NOW()
		WHERE id = $1`
	if _, err := s.db.Exec(ctx, query, id, status, attempts, response); err != nil {
		return fmt.Errorf("failed to update webhook delivery: %w", err)
	}
	return nil
}

func (s *Store) UpdateOperatorHandle(ctx context.Context, id uuid.UUID, p service.OperatorHandleParams) error {
	query := `UPDATE transactions
		SET operator_handle = $2,
			operator_auth_ref = $3,
			operator_transaction_id = NULLIF($4, ''),
			operator_status = NULLIF($5, ''),
			updated_at = NOW()
		WHERE id = $1 AND operator_handle IS NULL`
	tag, err := s.db.Exec(ctx, query, id, p.Handle, p.AuthRef, p.OperatorTxID, p.OperatorStatus)
	if err != nil {
		return fmt.Errorf("failed to update operator handle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s already has an operator handle", id)
	}
	return nil
}

// initiationClaimMarker occupies operator_status while a worker submits the
// payment to the operator. claimLease bounds how long a claim lives so a
// crashed submitter does not block the transaction.
const (
	initiationClaimMarker = "SUBMITTING"
	claimLease            = "2 minutes"
)

func (s *Store) ClaimInitiation(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `UPDATE transactions
		SET operator_status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3 AND operator_handle IS NULL
			AND (operator_status IS DISTINCT FROM $2 OR updated_at < NOW() - $4::interval)`
	tag, err := s.db.Exec(ctx, query, id, initiationClaimMarker, domain.StatusPending, claimLease)
	if err != nil {
		return false, fmt.Errorf("failed to claim initiation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ReleaseInitiation(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE transactions
		SET operator_status = NULL, updated_at = NOW()
		WHERE id = $1 AND operator_status = $2 AND operator_handle IS NULL`
	if _, err := s.db.Exec(ctx, query, id, initiationClaimMarker); err != nil {
		return fmt.Errorf("failed to release initiation claim: %w", err)
	}
	return nil
}

func (s *Store) CreateMovement(ctx context.Context, m *models.WalletMovement) error {
	query := `INSERT INTO wallet_movements
		(id, wallet_id, transaction_id, movement_type, amount, balance_before, balance_after, description, reference, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW()) RETURNING created_at`
	err := s.db.QueryRow(ctx, query,
		m.ID, m.WalletID, m.TransactionID, m.MovementType, m.Amount,
		m.BalanceBefore, m.BalanceAfter, m.Description, m.Reference, m.CreatedBy,
	).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create wallet movement: %w", err)
	}
	return nil
}

func (s *Store) ListMovements(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]models.WalletMovement, error) {
	query := `SELECT id, wallet_id, transaction_id, movement_type, amount, balance_before, balance_after, description, reference, created_by, created_at
		FROM wallet_movements
		WHERE wallet_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := s.db.Query(ctx, query, walletID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallet movements: %w", err)
	}
	defer rows.Close()

	var movements []models.WalletMovement
	for rows.Next() {
		var m models.WalletMovement
		if err := rows.Scan(&m.ID, &m.WalletID, &m.TransactionID, &m.MovementType, &m.Amount,
			&m.BalanceBefore, &m.BalanceAfter, &m.Description, &m.Reference, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan wallet movement: %w", err)
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

const commissionSettingColumns = `id, entreprise_id, country_id, operator_id, transaction_type, commission_type, commission_value, min_amount, max_amount, is_active, created_by, created_at, updated_at`

// ActiveCommissionSetting returns the active rule for an operator and
// transaction type. When several rules overlap the most recently updated
// one wins.
func (s *Store) ActiveCommissionSetting(ctx context.Context, operatorID uuid.UUID, transactionType string) (*models.CommissionSetting, error) {
	query := `SELECT ` + commissionSettingColumns + ` FROM commission_settings
		WHERE operator_id = $1 AND transaction_type = $2 AND is_active = TRUE
		ORDER BY updated_at DESC
		LIMIT 1`
	setting, err := scanCommissionSetting(s.db.QueryRow(ctx, query, operatorID, transactionType))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get commission setting: %w", err)
	}
	return setting, nil
}

func (s *Store) ListCommissionSettings(ctx context.Context, operatorID *uuid.UUID) ([]models.CommissionSetting, error) {
	query := `SELECT ` + commissionSettingColumns + ` FROM commission_settings WHERE ($1::uuid IS NULL OR operator_id = $1) ORDER BY updated_at DESC`
	rows, err := s.db.Query(ctx, query, operatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list commission settings: %w", err)
	}
	defer rows.Close()

	var settings []models.CommissionSetting
	for rows.Next() {
		setting, err := scanCommissionSetting(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan commission setting: %w", err)
		}
		settings = append(settings, *setting)
	}
	return settings, rows.Err()
}

func scanCommissionSetting(row pgx.Row) (*models.CommissionSetting, error) {
	c := &models.CommissionSetting{}
	err := row.Scan(&c.ID, &c.EntrepriseID, &c.CountryID, &c.OperatorID, &c.TransactionType,
		&c.CommissionType, &c.CommissionValue, &c.MinAmount, &c.MaxAmount, &c.IsActive,
		&c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) CreateCommissionSnapshot(ctx context.Context, snap *models.TransactionCommission) error {
	query := `INSERT INTO transaction_commissions
		(id, transaction_id, operator_id, entreprise_id, transaction_amount, currency_code,
		 operator_commission_rate, operator_commission_amount, internal_commission_rate, internal_commission_amount,
		 total_commission, net_amount, transaction_type, rule_id, rule_updated_at, calculation_details, calculated_by, calculated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	_, err := s.db.Exec(ctx, query,
		snap.ID, snap.TransactionID, snap.OperatorID, snap.EntrepriseID, snap.TransactionAmount, snap.CurrencyCode,
		snap.OperatorCommissionRate, snap.OperatorCommissionAmount, snap.InternalCommissionRate, snap.InternalCommissionAmount,
		snap.TotalCommission, snap.NetAmount, snap.TransactionType, snap.RuleID, snap.RuleUpdatedAt,
		snap.CalculationDetails, snap.CalculatedBy, snap.CalculatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create commission snapshot: %w", err)
	}
	return nil
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	t := &models.Transaction{}
	err := row.Scan(
		&t.ID, &t.EntrepriseID, &t.WalletID, &t.OperatorID, &t.UserID,
		&t.Type, &t.Amount, &t.CurrencyCode,
		&t.OperatorCommission, &t.InternalCommission, &t.NetAmount,
		&t.Status, &t.OperatorStatus, &t.OperatorTxID,
		&t.CustomerPhone, &t.CustomerName,
		&t.OperatorHandle, &t.OperatorAuthRef,
		&t.WebhookURL, &t.WebhookStatus, &t.WebhookAttempts, &t.WebhookResponse,
		&t.RefundOf, &t.InitiatedAt, &t.CompletedAt,
		&t.APIKeyUsed, &t.IPAddress, &t.UserAgent,
		&t.Metadata, &t.FailureReason, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func collectTransactions(rows pgx.Rows) ([]models.Transaction, error) {
	var list []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		list = append(list, *t)
	}
	return list, rows.Err()
}
