package service

import (
	"context"
	"time"

	"payment-orchestrator/internal/core/domain"
	"payment-orchestrator/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AuditServiceImpl implements ports.AuditService. Append failures are
// logged and swallowed: the audit trail must never fail the main flow.
type AuditServiceImpl struct {
	repo ports.AuditLogRepository
	log  zerolog.Logger
}

// NewAuditService creates a new AuditServiceImpl.
func NewAuditService(repo ports.AuditLogRepository, log zerolog.Logger) *AuditServiceImpl {
	return &AuditServiceImpl{repo: repo, log: log}
}

// Record appends entry to the audit log, filling in identity and
// timestamp when the caller left them zero.
func (s *AuditServiceImpl) Record(ctx context.Context, entry domain.AuditLog) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if err := s.repo.Append(ctx, &entry); err != nil {
		s.log.Error().
			Err(err).
			Str("transaction_id", entry.TransactionID.String()).
			Str("event_type", string(entry.EventType)).
			Msg("audit append failed")
	}
}
