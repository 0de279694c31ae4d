package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"payment-orchestrator/internal/core/domain"
	"payment-orchestrator/internal/core/ports"
	"payment-orchestrator/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	errCodeFraudBlocked    = "FRAUD_BLOCKED"
	errCodeProviderTimeout = "PROVIDER_TIMEOUT"
	errCodeProcessingError = "PROCESSING_ERROR"

	// After losing the reservation race we poll for the winner's row
	// before giving up with a retryable conflict.
	raceLookupRetries = 5
	raceLookupDelay   = 25 * time.Millisecond
)

// PaymentServiceImpl implements ports.PaymentOrchestrator.
type PaymentServiceImpl struct {
	txRepo          ports.TransactionRepository
	webhookRepo     ports.WebhookEventRepository
	gate            ports.IdempotencyGate
	fraud           ports.FraudScorer
	audit           ports.AuditService
	publisher       ports.EventPublisher
	provider        ports.ProviderAdapter
	providerTimeout time.Duration
	webhookAttempts int
	log             zerolog.Logger
}

// NewPaymentService creates a new PaymentServiceImpl.
func NewPaymentService(
	txRepo ports.TransactionRepository,
	webhookRepo ports.WebhookEventRepository,
	gate ports.IdempotencyGate,
	fraud ports.FraudScorer,
	audit ports.AuditService,
	publisher ports.EventPublisher,
	provider ports.ProviderAdapter,
	providerTimeout time.Duration,
	webhookAttempts int,
	log zerolog.Logger,
) *PaymentServiceImpl {
	if webhookAttempts <= 0 {
		webhookAttempts = domain.DefaultWebhookMaxAttempts
	}
	return &PaymentServiceImpl{
		txRepo:          txRepo,
		webhookRepo:     webhookRepo,
		gate:            gate,
		fraud:           fraud,
		audit:           audit,
		publisher:       publisher,
		provider:        provider,
		providerTimeout: providerTimeout,
		webhookAttempts: webhookAttempts,
		log:             log,
	}
}

// Initiate admits a payment. Duplicate submissions under one idempotency
// key converge on a single row; fraud-blocked requests are persisted as
// FAILED so their outcome stays queryable.
func (s *PaymentServiceImpl) Initiate(ctx context.Context, req ports.InitiateRequest) (*domain.Transaction, error) {
	key := s.resolveKey(req)

	existing, err := s.gate.Lookup(ctx, key)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("idempotency lookup: %w", err))
	}
	if existing != nil {
		s.auditIdempotencyHit(ctx, existing, key, req)
		return existing, nil
	}

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	t := s.buildTransaction(req, key)

	score := s.fraud.Score(req)
	t.FraudScore = score
	blocked := s.fraud.ShouldBlock(score)
	s.auditFraudCheck(ctx, t, req, blocked)

	if blocked {
		code := errCodeFraudBlocked
		msg := fmt.Sprintf("fraud score %s over threshold", score.StringFixed(2))
		t.Status = domain.TransactionStatusFailed
		t.ErrorCode = &code
		t.ErrorMessage = &msg
	}

	won, err := s.gate.Reserve(ctx, key, t.ID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("idempotency reserve: %w", err))
	}
	if !won {
		return s.resolveRaceLoss(ctx, key, req)
	}

	if err := s.txRepo.Insert(ctx, t); err != nil {
		if errors.Is(err, ports.ErrIdempotencyKeyConflict) {
			// The store is the final arbiter; someone else got the row in
			// first. Hand back theirs.
			winner, getErr := s.txRepo.GetByIdempotencyKey(ctx, key)
			if getErr != nil {
				return nil, apperror.ErrDatabaseError(getErr)
			}
			if winner != nil {
				s.auditIdempotencyHit(ctx, winner, key, req)
				return winner, nil
			}
			return nil, apperror.ErrIdempotencyInFlight()
		}
		// No row exists; the cache reservation may be dropped safely so
		// a client retry is not locked out for the TTL.
		s.gate.Release(ctx, key)
		return nil, apperror.ErrDatabaseError(fmt.Errorf("insert transaction: %w", err))
	}

	s.audit.Record(ctx, domain.AuditLog{
		TransactionID: t.ID,
		EventType:     domain.AuditPaymentInitiated,
		EventData:     auditJSON(map[string]any{"reference_id": t.ReferenceID, "amount": t.Amount, "currency": t.Currency}),
		UserID:        &t.UserID,
		IPAddress:     req.ClientIP,
		UserAgent:     req.UserAgent,
	})

	if blocked {
		return t, s.finishBlocked(ctx, t)
	}

	if err := s.publisher.Publish(ctx, domain.NewPaymentEvent(t, domain.EventPaymentInitiated)); err != nil {
		// The row exists and the key stays mapped; the client retries with
		// the same key once the bus recovers.
		return nil, apperror.ErrBusUnavailable(fmt.Errorf("publish initiated event: %w", err))
	}

	return t, nil
}

// finishBlocked publishes the terminal event and enqueues the webhook for
// a transaction that was persisted directly as FAILED by the fraud gate.
func (s *PaymentServiceImpl) finishBlocked(ctx context.Context, t *domain.Transaction) error {
	s.audit.Record(ctx, domain.AuditLog{
		TransactionID: t.ID,
		EventType:     domain.AuditPaymentFailed,
		EventData:     auditJSON(map[string]any{"error_code": t.ErrorCode, "fraud_score": t.FraudScore}),
	})

	evt := domain.NewPaymentEvent(t, domain.EventPaymentFailed)
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.log.Error().Err(err).Str("transaction_id", t.ID.String()).Msg("publish fraud-blocked event failed")
	}
	if err := s.publisher.PublishResult(ctx, evt); err != nil {
		s.log.Error().Err(err).Str("transaction_id", t.ID.String()).Msg("publish fraud-blocked result failed")
	}

	s.enqueueWebhook(ctx, t)
	return nil
}

// Process advances one transaction through the provider call. Triggered
// by the PAYMENT_INITIATED consumer; safe under redelivery.
func (s *PaymentServiceImpl) Process(ctx context.Context, txID uuid.UUID) error {
	t, err := s.txRepo.GetByID(ctx, txID)
	if err != nil {
		return fmt.Errorf("load transaction: %w", err)
	}
	if t == nil {
		s.log.Warn().Str("transaction_id", txID.String()).Msg("process: transaction not found, dropping event")
		return nil
	}
	if t.Status != domain.TransactionStatusPending {
		s.log.Debug().
			Str("transaction_id", txID.String()).
			Str("status", string(t.Status)).
			Msg("process: not pending, redelivery no-op")
		return nil
	}

	ok, err := s.txRepo.UpdateStatus(ctx, t.ID, domain.TransactionStatusPending, domain.TransactionStatusProcessing, nil, nil)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if !ok {
		// Another consumer won the CAS.
		return nil
	}
	t.Status = domain.TransactionStatusProcessing

	s.audit.Record(ctx, domain.AuditLog{
		TransactionID: t.ID,
		EventType:     domain.AuditPaymentProcessed,
		EventData:     auditJSON(map[string]any{"provider": s.provider.Name()}),
	})

	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	result, chargeErr := s.provider.Charge(callCtx, t)
	if chargeErr == nil {
		return s.finalize(ctx, t, domain.TransactionStatusSuccess, nil, nil, result)
	}

	var provErr *ports.ProviderError
	switch {
	case errors.As(chargeErr, &provErr):
		return s.finalize(ctx, t, domain.TransactionStatusFailed, &provErr.Code, &provErr.Message, nil)
	case errors.Is(chargeErr, context.DeadlineExceeded):
		code, msg := errCodeProviderTimeout, fmt.Sprintf("provider %s timed out after %s", s.provider.Name(), s.providerTimeout)
		return s.finalize(ctx, t, domain.TransactionStatusFailed, &code, &msg, nil)
	default:
		code, msg := errCodeProcessingError, chargeErr.Error()
		return s.finalize(ctx, t, domain.TransactionStatusFailed, &code, &msg, nil)
	}
}

// finalize applies the terminal CAS and fans out the audit entry, bus
// events, and webhook enqueue. A CAS or DB failure is returned so the bus
// redelivers; everything after the CAS is best-effort.
func (s *PaymentServiceImpl) finalize(
	ctx context.Context,
	t *domain.Transaction,
	to domain.TransactionStatus,
	errCode, errMsg *string,
	result *ports.ChargeResult,
) error {
	ok, err := s.txRepo.UpdateStatus(ctx, t.ID, domain.TransactionStatusProcessing, to, errCode, errMsg)
	if err != nil {
		return fmt.Errorf("finalize %s: %w", to, err)
	}
	if !ok {
		s.log.Warn().
			Str("transaction_id", t.ID.String()).
			Str("target_status", string(to)).
			Msg("finalize CAS refused, concurrent transition")
		return nil
	}
	t.Status = to
	t.ErrorCode = errCode
	t.ErrorMessage = errMsg

	var (
		auditType domain.AuditEventType
		eventType domain.PaymentEventType
		data      = map[string]any{"status": to}
	)
	if to == domain.TransactionStatusSuccess {
		auditType, eventType = domain.AuditPaymentSuccess, domain.EventPaymentSuccess
		if result != nil {
			data["provider_ref"] = result.ProviderRef
		}
	} else {
		auditType, eventType = domain.AuditPaymentFailed, domain.EventPaymentFailed
		data["error_code"] = errCode
	}

	s.audit.Record(ctx, domain.AuditLog{
		TransactionID: t.ID,
		EventType:     auditType,
		EventData:     auditJSON(data),
	})

	evt := domain.NewPaymentEvent(t, eventType)
	if pubErr := s.publisher.Publish(ctx, evt); pubErr != nil {
		s.log.Error().Err(pubErr).Str("transaction_id", t.ID.String()).Msg("publish terminal event failed")
	}
	if pubErr := s.publisher.PublishResult(ctx, evt); pubErr != nil {
		s.log.Error().Err(pubErr).Str("transaction_id", t.ID.String()).Msg("publish terminal result failed")
	}

	s.enqueueWebhook(ctx, t)
	return nil
}

// GetStatus resolves idOrRef first as a transaction id, then as a
// reference id. Returns nil, nil when neither matches.
func (s *PaymentServiceImpl) GetStatus(ctx context.Context, idOrRef string) (*domain.Transaction, error) {
	if id, err := uuid.Parse(idOrRef); err == nil {
		t, getErr := s.txRepo.GetByID(ctx, id)
		if getErr != nil {
			return nil, apperror.ErrDatabaseError(getErr)
		}
		if t != nil {
			return t, nil
		}
	}

	t, err := s.txRepo.GetByReferenceID(ctx, idOrRef)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return t, nil
}

func (s *PaymentServiceImpl) resolveKey(req ports.InitiateRequest) string {
	if req.IdempotencyKey != nil && *req.IdempotencyKey != "" {
		return *req.IdempotencyKey
	}
	return s.gate.GenerateKey()
}

// resolveRaceLoss handles a failed Reserve: the winner's row should
// appear shortly; poll for it before giving up.
func (s *PaymentServiceImpl) resolveRaceLoss(ctx context.Context, key string, req ports.InitiateRequest) (*domain.Transaction, error) {
	for i := 0; i < raceLookupRetries; i++ {
		winner, err := s.gate.Lookup(ctx, key)
		if err != nil {
			return nil, apperror.ErrDatabaseError(err)
		}
		if winner != nil {
			s.auditIdempotencyHit(ctx, winner, key, req)
			return winner, nil
		}
		select {
		case <-ctx.Done():
			return nil, apperror.InternalError(ctx.Err())
		case <-time.After(raceLookupDelay):
		}
	}
	return nil, apperror.ErrIdempotencyInFlight()
}

func (s *PaymentServiceImpl) buildTransaction(req ports.InitiateRequest, key string) *domain.Transaction {
	now := time.Now().UTC()
	t := &domain.Transaction{
		ID:              uuid.New(),
		ReferenceID:     domain.NewReferenceID(),
		UserID:          req.UserID,
		MerchantID:      req.MerchantID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		PaymentMethod:   req.PaymentMethod,
		PaymentProvider: req.PaymentProvider,
		Status:          domain.TransactionStatusPending,
		Description:     req.Description,
		IdempotencyKey:  &key,
		WebhookURL:      req.WebhookURL,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if len(req.Metadata) > 0 {
		t.Metadata = auditJSON(req.Metadata)
	}
	return t
}

// enqueueWebhook creates the delivery record for a terminal transaction
// that carries a webhook URL. Failures are logged; delivery is best-effort
// by design and never blocks settlement.
func (s *PaymentServiceImpl) enqueueWebhook(ctx context.Context, t *domain.Transaction) {
	if !t.HasWebhook() {
		return
	}

	now := time.Now().UTC()
	payload, err := json.Marshal(map[string]any{
		"transaction_id": t.ID,
		"reference_id":   t.ReferenceID,
		"status":         t.Status,
		"amount":         t.Amount,
		"currency":       t.Currency,
		"timestamp":      now.Format(time.RFC3339),
	})
	if err != nil {
		s.log.Error().Err(err).Str("transaction_id", t.ID.String()).Msg("marshal webhook payload failed")
		return
	}

	evt := &domain.WebhookEvent{
		ID:            uuid.New(),
		TransactionID: t.ID,
		WebhookURL:    *t.WebhookURL,
		Payload:       string(payload),
		Attempts:      0,
		MaxAttempts:   s.webhookAttempts,
		NextRetryAt:   &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.webhookRepo.Insert(ctx, evt); err != nil {
		s.log.Error().Err(err).Str("transaction_id", t.ID.String()).Msg("enqueue webhook failed")
	}
}

func (s *PaymentServiceImpl) auditIdempotencyHit(ctx context.Context, t *domain.Transaction, key string, req ports.InitiateRequest) {
	s.audit.Record(ctx, domain.AuditLog{
		TransactionID: t.ID,
		EventType:     domain.AuditIdempotencyCheck,
		EventData:     auditJSON(map[string]any{"idempotency_key": key, "reference_id": t.ReferenceID}),
		IPAddress:     req.ClientIP,
		UserAgent:     req.UserAgent,
	})
}

func (s *PaymentServiceImpl) auditFraudCheck(ctx context.Context, t *domain.Transaction, req ports.InitiateRequest, blocked bool) {
	s.audit.Record(ctx, domain.AuditLog{
		TransactionID: t.ID,
		EventType:     domain.AuditFraudCheck,
		EventData:     auditJSON(map[string]any{"score": t.FraudScore, "blocked": blocked}),
		UserID:        &t.UserID,
		IPAddress:     req.ClientIP,
		UserAgent:     req.UserAgent,
	})
}

func validateRequest(req ports.InitiateRequest) error {
	if !req.Amount.IsPositive() {
		return apperror.ErrInvalidAmount()
	}
	if len(req.Currency) != 3 {
		return apperror.Validation("Currency must be a 3-letter ISO code")
	}

	switch req.PaymentMethod {
	case domain.PaymentMethodCard:
		if req.CardNumber == "" || req.CVV == "" {
			return apperror.Validation("Card payments require card_number and cvv")
		}
	case domain.PaymentMethodBank:
		if req.AccountNumber == "" || req.RoutingNumber == "" {
			return apperror.Validation("Bank payments require account_number and routing_number")
		}
	case domain.PaymentMethodWallet:
		if req.WalletID == "" {
			return apperror.Validation("Wallet payments require wallet_id")
		}
	default:
		return apperror.Validation("Unsupported payment method")
	}
	return nil
}

// auditJSON marshals v for an event_data column. Returns nil on failure;
// the entry is still written without data.
func auditJSON(v any) *string {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}
