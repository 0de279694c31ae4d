package service

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"net/http"
	"time"

	"payment-orchestrator/internal/core/domain"
	"payment-orchestrator/internal/core/ports"

	"github.com/rs/zerolog"
)

// maxResponseBodyBytes caps how much of the receiver's response is stored.
const maxResponseBodyBytes = 4096

// HTTPClient is the outbound HTTP seam, satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DispatcherConfig tunes the webhook retry loop.
type DispatcherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	BaseDelay    time.Duration
	Timeout      time.Duration
}

// WebhookDispatcher polls for due webhook events and delivers them with
// exponential backoff. It is the sole writer of attempt fields, so no
// row-level locking is needed beyond running one dispatcher per table.
type WebhookDispatcher struct {
	webhookRepo ports.WebhookEventRepository
	txRepo      ports.TransactionRepository
	audit       ports.AuditService
	client      HTTPClient
	cfg         DispatcherConfig
	log         zerolog.Logger
}

// NewWebhookDispatcher creates a new WebhookDispatcher.
func NewWebhookDispatcher(
	webhookRepo ports.WebhookEventRepository,
	txRepo ports.TransactionRepository,
	audit ports.AuditService,
	client HTTPClient,
	cfg DispatcherConfig,
	log zerolog.Logger,
) *WebhookDispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &WebhookDispatcher{
		webhookRepo: webhookRepo,
		txRepo:      txRepo,
		audit:       audit,
		client:      client,
		cfg:         cfg,
		log:         log,
	}
}

// Run polls until ctx is cancelled.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.log.Info().Dur("poll_interval", d.cfg.PollInterval).Msg("webhook dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("webhook dispatcher stopped")
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick processes one batch of due webhook events.
func (d *WebhookDispatcher) Tick(ctx context.Context) {
	now := time.Now().UTC()
	pending, err := d.webhookRepo.FindPending(ctx, now, d.cfg.BatchSize)
	if err != nil {
		d.log.Error().Err(err).Msg("find pending webhooks failed")
		return
	}

	for i := range pending {
		d.deliver(ctx, &pending[i])
	}
}

// deliver makes one attempt against the receiver and records the outcome.
func (d *WebhookDispatcher) deliver(ctx context.Context, evt *domain.WebhookEvent) {
	attempts := evt.Attempts + 1
	now := time.Now().UTC()

	status, body, err := d.post(ctx, evt)

	var (
		responseStatus *int
		responseBody   *string
		nextRetryAt    *time.Time
	)
	if err != nil {
		msg := err.Error()
		responseBody = &msg
	} else {
		responseStatus = &status
		responseBody = &body
	}

	delivered := err == nil && status >= 200 && status < 300

	if !delivered && attempts < evt.MaxAttempts {
		retryAt := now.Add(d.backoff(attempts))
		nextRetryAt = &retryAt
	}

	if recErr := d.webhookRepo.RecordAttempt(ctx, evt.ID, responseStatus, responseBody, attempts, nextRetryAt); recErr != nil {
		d.log.Error().Err(recErr).Str("webhook_id", evt.ID.String()).Msg("record webhook attempt failed")
		return
	}
	if recErr := d.txRepo.RecordWebhookDelivery(ctx, evt.TransactionID, attempts, now); recErr != nil {
		d.log.Error().Err(recErr).Str("transaction_id", evt.TransactionID.String()).Msg("record webhook counters failed")
	}

	switch {
	case delivered:
		d.audit.Record(ctx, domain.AuditLog{
			TransactionID: evt.TransactionID,
			EventType:     domain.AuditWebhookSent,
			EventData:     auditJSON(map[string]any{"url": evt.WebhookURL, "attempts": attempts, "status": status}),
		})
		d.log.Info().
			Str("webhook_id", evt.ID.String()).
			Int("attempts", attempts).
			Int("status", status).
			Msg("webhook delivered")
	case attempts >= evt.MaxAttempts:
		d.audit.Record(ctx, domain.AuditLog{
			TransactionID: evt.TransactionID,
			EventType:     domain.AuditWebhookFailed,
			EventData:     auditJSON(map[string]any{"url": evt.WebhookURL, "attempts": attempts}),
		})
		d.log.Warn().
			Str("webhook_id", evt.ID.String()).
			Int("attempts", attempts).
			Msg("webhook exhausted")
	default:
		d.log.Debug().
			Str("webhook_id", evt.ID.String()).
			Int("attempts", attempts).
			Time("next_retry_at", *nextRetryAt).
			Msg("webhook attempt failed, scheduled retry")
	}
}

func (d *WebhookDispatcher) post(ctx context.Context, evt *domain.WebhookEvent) (int, string, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, evt.WebhookURL, bytes.NewReader([]byte(evt.Payload)))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return resp.StatusCode, "", nil
	}
	return resp.StatusCode, string(body), nil
}

// backoff computes base * 2^(attempts-1) with ±20% jitter.
func (d *WebhookDispatcher) backoff(attempts int) time.Duration {
	delay := d.cfg.BaseDelay << uint(attempts-1)
	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(delay) * jitter)
}
