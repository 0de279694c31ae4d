package postgres

import (
	"context"
	"fmt"

	"payment-orchestrator/internal/core/domain"
)

// AuditRepo implements ports.AuditLogRepository. Rows are append-only;
// no update or delete surface exists.
type AuditRepo struct {
	pool Pool
}

// NewAuditRepo creates a new AuditRepo.
func NewAuditRepo(pool Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// Append inserts an immutable audit entry.
func (r *AuditRepo) Append(ctx context.Context, entry *domain.AuditLog) error {
	query := `INSERT INTO audit_logs (id, transaction_id, event_type, event_data, user_id, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		entry.ID, entry.TransactionID, entry.EventType, entry.EventData,
		entry.UserID, entry.IPAddress, entry.UserAgent, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}
