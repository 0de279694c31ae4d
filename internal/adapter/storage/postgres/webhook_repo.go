package postgres

import (
	"context"
	"fmt"
	"time"

	"payment-orchestrator/internal/core/domain"

	"github.com/google/uuid"
)

const webhookColumns = `id, transaction_id, webhook_url, payload, response_status, response_body,
		attempts, max_attempts, next_retry_at, created_at, updated_at`

// WebhookRepo implements ports.WebhookEventRepository.
type WebhookRepo struct {
	pool Pool
}

// NewWebhookRepo creates a new WebhookRepo.
func NewWebhookRepo(pool Pool) *WebhookRepo {
	return &WebhookRepo{pool: pool}
}

// Insert persists a new webhook delivery record.
func (r *WebhookRepo) Insert(ctx context.Context, evt *domain.WebhookEvent) error {
	query := `INSERT INTO webhook_events (` + webhookColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.pool.Exec(ctx, query,
		evt.ID, evt.TransactionID, evt.WebhookURL, evt.Payload,
		evt.ResponseStatus, evt.ResponseBody, evt.Attempts, evt.MaxAttempts,
		evt.NextRetryAt, evt.CreatedAt, evt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

// FindPending returns records due for delivery, oldest retry first.
func (r *WebhookRepo) FindPending(ctx context.Context, now time.Time, limit int) ([]domain.WebhookEvent, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhook_events
		WHERE next_retry_at IS NOT NULL AND next_retry_at <= $1 AND attempts < max_attempts
		ORDER BY next_retry_at ASC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("find pending webhooks: %w", err)
	}
	defer rows.Close()

	var events []domain.WebhookEvent
	for rows.Next() {
		var evt domain.WebhookEvent
		if err := rows.Scan(
			&evt.ID, &evt.TransactionID, &evt.WebhookURL, &evt.Payload,
			&evt.ResponseStatus, &evt.ResponseBody, &evt.Attempts, &evt.MaxAttempts,
			&evt.NextRetryAt, &evt.CreatedAt, &evt.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhook events: %w", err)
	}
	return events, nil
}

// RecordAttempt writes the outcome of one delivery attempt. A nil
// nextRetryAt leaves the record terminal.
func (r *WebhookRepo) RecordAttempt(ctx context.Context, id uuid.UUID, responseStatus *int, responseBody *string, attempts int, nextRetryAt *time.Time) error {
	query := `UPDATE webhook_events
		SET response_status = $1, response_body = $2, attempts = $3, next_retry_at = $4, updated_at = $5
		WHERE id = $6`

	tag, err := r.pool.Exec(ctx, query, responseStatus, responseBody, attempts, nextRetryAt, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("record webhook attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("webhook event not found: %s", id)
	}
	return nil
}

// GetByTransactionID returns all delivery records for one transaction.
func (r *WebhookRepo) GetByTransactionID(ctx context.Context, txID uuid.UUID) ([]domain.WebhookEvent, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhook_events WHERE transaction_id = $1 ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, txID)
	if err != nil {
		return nil, fmt.Errorf("get webhooks by transaction: %w", err)
	}
	defer rows.Close()

	var events []domain.WebhookEvent
	for rows.Next() {
		var evt domain.WebhookEvent
		if err := rows.Scan(
			&evt.ID, &evt.TransactionID, &evt.WebhookURL, &evt.Payload,
			&evt.ResponseStatus, &evt.ResponseBody, &evt.Attempts, &evt.MaxAttempts,
			&evt.NextRetryAt, &evt.CreatedAt, &evt.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhook events: %w", err)
	}
	return events, nil
}
