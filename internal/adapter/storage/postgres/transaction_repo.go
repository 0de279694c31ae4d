package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"payment-orchestrator/internal/core/domain"
	"payment-orchestrator/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

const txColumns = `id, reference_id, user_id, merchant_id, amount, currency, payment_method,
		payment_provider, status, description, metadata, idempotency_key, fraud_score,
		error_code, error_message, webhook_url, webhook_attempts, webhook_last_attempt,
		created_at, updated_at`

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Insert persists a new transaction. Unique violations on the
// idempotency key or reference id map to the ports sentinels so the
// orchestrator can resolve them by re-lookup.
func (r *TransactionRepo) Insert(ctx context.Context, t *domain.Transaction) error {
	query := `INSERT INTO transactions (` + txColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	_, err := r.pool.Exec(ctx, query,
		t.ID, t.ReferenceID, t.UserID, t.MerchantID,
		t.Amount, t.Currency, t.PaymentMethod, t.PaymentProvider,
		t.Status, t.Description, t.Metadata, t.IdempotencyKey,
		t.FraudScore, t.ErrorCode, t.ErrorMessage, t.WebhookURL,
		t.WebhookAttempts, t.WebhookLastAttempt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if sentinel := mapUniqueViolation(err); sentinel != nil {
			return sentinel
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction by UUID. Returns nil, nil when missing.
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE id = $1`
	return r.scanTransaction(r.pool.QueryRow(ctx, query, id))
}

// GetByReferenceID fetches a transaction by its human-visible reference.
func (r *TransactionRepo) GetByReferenceID(ctx context.Context, referenceID string) (*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE reference_id = $1`
	return r.scanTransaction(r.pool.QueryRow(ctx, query, referenceID))
}

// GetByIdempotencyKey fetches a transaction by its idempotency key.
func (r *TransactionRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE idempotency_key = $1`
	return r.scanTransaction(r.pool.QueryRow(ctx, query, key))
}

// UpdateStatus is the compare-and-swap serialization point for the state
// machine. It reports false without error when the row was not in the
// expected state.
func (r *TransactionRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.TransactionStatus, errCode, errMsg *string) (bool, error) {
	query := `UPDATE transactions
		SET status = $1, error_code = $2, error_message = $3, updated_at = $4
		WHERE id = $5 AND status = $6`

	tag, err := r.pool.Exec(ctx, query, to, errCode, errMsg, time.Now().UTC(), id, from)
	if err != nil {
		return false, fmt.Errorf("update transaction status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecordWebhookDelivery updates the webhook counters, the only fields
// allowed to change once a transaction is terminal.
func (r *TransactionRepo) RecordWebhookDelivery(ctx context.Context, id uuid.UUID, attempts int, at time.Time) error {
	query := `UPDATE transactions
		SET webhook_attempts = $1, webhook_last_attempt = $2, updated_at = $2
		WHERE id = $3`

	tag, err := r.pool.Exec(ctx, query, attempts, at, id)
	if err != nil {
		return fmt.Errorf("record webhook delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction not found: %s", id)
	}
	return nil
}

func (r *TransactionRepo) scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(
		&t.ID, &t.ReferenceID, &t.UserID, &t.MerchantID,
		&t.Amount, &t.Currency, &t.PaymentMethod, &t.PaymentProvider,
		&t.Status, &t.Description, &t.Metadata, &t.IdempotencyKey,
		&t.FraudScore, &t.ErrorCode, &t.ErrorMessage, &t.WebhookURL,
		&t.WebhookAttempts, &t.WebhookLastAttempt, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return &t, nil
}

// mapUniqueViolation translates a 23505 into the matching ports sentinel,
// or nil when the error is something else.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return nil
	}
	switch {
	case strings.Contains(pgErr.ConstraintName, "idempotency"):
		return ports.ErrIdempotencyKeyConflict
	case strings.Contains(pgErr.ConstraintName, "reference"):
		return ports.ErrReferenceIDConflict
	default:
		return nil
	}
}
