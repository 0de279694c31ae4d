package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"payment-orchestrator/internal/core/domain"
	"payment-orchestrator/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type dispatcherTestDeps struct {
	d           *WebhookDispatcher
	webhookRepo *mocks.MockWebhookEventRepository
	txRepo      *mocks.MockTransactionRepository
	audit       *mocks.MockAuditService
	ctrl        *gomock.Controller
}

func setupDispatcher(t *testing.T) *dispatcherTestDeps {
	ctrl := gomock.NewController(t)
	d := &dispatcherTestDeps{
		webhookRepo: mocks.NewMockWebhookEventRepository(ctrl),
		txRepo:      mocks.NewMockTransactionRepository(ctrl),
		audit:       mocks.NewMockAuditService(ctrl),
		ctrl:        ctrl,
	}
	d.d = NewWebhookDispatcher(
		d.webhookRepo, d.txRepo, d.audit, http.DefaultClient,
		DispatcherConfig{
			PollInterval: 10 * time.Millisecond,
			BatchSize:    50,
			BaseDelay:    time.Second,
			Timeout:      2 * time.Second,
		},
		zerolog.Nop(),
	)
	return d
}

func pendingEvent(url string, attempts int) domain.WebhookEvent {
	now := time.Now().UTC()
	return domain.WebhookEvent{
		ID:            uuid.New(),
		TransactionID: uuid.New(),
		WebhookURL:    url,
		Payload:       `{"reference_id":"TXN1","status":"SUCCESS"}`,
		Attempts:      attempts,
		MaxAttempts:   3,
		NextRetryAt:   &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestWebhookDispatcher_Tick_Delivers(t *testing.T) {
	d := setupDispatcher(t)
	defer d.ctrl.Finish()

	var gotBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		gotBody.Store(string(body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	evt := pendingEvent(srv.URL, 0)
	ctx := context.Background()

	d.webhookRepo.EXPECT().FindPending(ctx, gomock.Any(), 50).Return([]domain.WebhookEvent{evt}, nil)
	d.webhookRepo.EXPECT().
		RecordAttempt(ctx, evt.ID, gomock.Any(), gomock.Any(), 1, nil).
		DoAndReturn(func(_ context.Context, _ uuid.UUID, status *int, _ *string, _ int, _ *time.Time) error {
			require.NotNil(t, status)
			assert.Equal(t, http.StatusOK, *status)
			return nil
		})
	d.txRepo.EXPECT().RecordWebhookDelivery(ctx, evt.TransactionID, 1, gomock.Any()).Return(nil)
	d.audit.EXPECT().Record(ctx, gomock.Any()).Do(func(_ context.Context, entry domain.AuditLog) {
		assert.Equal(t, domain.AuditWebhookSent, entry.EventType)
	})

	d.d.Tick(ctx)
	assert.Equal(t, evt.Payload, gotBody.Load())
}

func TestWebhookDispatcher_Tick_FailureSchedulesBackoff(t *testing.T) {
	d := setupDispatcher(t)
	defer d.ctrl.Finish()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	evt := pendingEvent(srv.URL, 0)
	ctx := context.Background()
	before := time.Now().UTC()

	d.webhookRepo.EXPECT().FindPending(ctx, gomock.Any(), 50).Return([]domain.WebhookEvent{evt}, nil)
	d.webhookRepo.EXPECT().
		RecordAttempt(ctx, evt.ID, gomock.Any(), gomock.Any(), 1, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uuid.UUID, status *int, _ *string, _ int, nextRetryAt *time.Time) error {
			require.NotNil(t, status)
			assert.Equal(t, http.StatusInternalServerError, *status)
			require.NotNil(t, nextRetryAt, "non-terminal failure must schedule a retry")
			// First retry: base 1s with +-20% jitter.
			delay := nextRetryAt.Sub(before)
			assert.GreaterOrEqual(t, delay, 800*time.Millisecond)
			assert.LessOrEqual(t, delay, 1300*time.Millisecond)
			return nil
		})
	d.txRepo.EXPECT().RecordWebhookDelivery(ctx, evt.TransactionID, 1, gomock.Any()).Return(nil)

	d.d.Tick(ctx)
}

func TestWebhookDispatcher_Tick_ExhaustionIsTerminal(t *testing.T) {
	d := setupDispatcher(t)
	defer d.ctrl.Finish()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	// Third and final attempt.
	evt := pendingEvent(srv.URL, 2)
	ctx := context.Background()

	d.webhookRepo.EXPECT().FindPending(ctx, gomock.Any(), 50).Return([]domain.WebhookEvent{evt}, nil)
	d.webhookRepo.EXPECT().RecordAttempt(ctx, evt.ID, gomock.Any(), gomock.Any(), 3, nil).Return(nil)
	d.txRepo.EXPECT().RecordWebhookDelivery(ctx, evt.TransactionID, 3, gomock.Any()).Return(nil)
	d.audit.EXPECT().Record(ctx, gomock.Any()).Do(func(_ context.Context, entry domain.AuditLog) {
		assert.Equal(t, domain.AuditWebhookFailed, entry.EventType)
	})

	d.d.Tick(ctx)
}

func TestWebhookDispatcher_Tick_TransportError(t *testing.T) {
	d := setupDispatcher(t)
	defer d.ctrl.Finish()

	// Nothing listens here.
	evt := pendingEvent("http://127.0.0.1:1/hooks", 0)
	ctx := context.Background()

	d.webhookRepo.EXPECT().FindPending(ctx, gomock.Any(), 50).Return([]domain.WebhookEvent{evt}, nil)
	d.webhookRepo.EXPECT().
		RecordAttempt(ctx, evt.ID, nil, gomock.Any(), 1, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uuid.UUID, status *int, body *string, _ int, nextRetryAt *time.Time) error {
			assert.Nil(t, status, "transport error leaves no response status")
			require.NotNil(t, body)
			assert.NotEmpty(t, *body)
			require.NotNil(t, nextRetryAt)
			return nil
		})
	d.txRepo.EXPECT().RecordWebhookDelivery(ctx, evt.TransactionID, 1, gomock.Any()).Return(nil)

	d.d.Tick(ctx)
}

func TestWebhookDispatcher_Backoff_Doubles(t *testing.T) {
	d := setupDispatcher(t)
	defer d.ctrl.Finish()

	for attempts, base := range map[int]time.Duration{
		1: time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
	} {
		got := d.d.backoff(attempts)
		low := time.Duration(float64(base) * 0.8)
		high := time.Duration(float64(base) * 1.2)
		assert.GreaterOrEqual(t, got, low, "attempts=%d", attempts)
		assert.LessOrEqual(t, got, high, "attempts=%d", attempts)
	}
}

func TestWebhookDispatcher_Run_StopsOnCancel(t *testing.T) {
	d := setupDispatcher(t)
	defer d.ctrl.Finish()

	d.webhookRepo.EXPECT().FindPending(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, nil).AnyTimes()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.d.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop on context cancellation")
	}
}
