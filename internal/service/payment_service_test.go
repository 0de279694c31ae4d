package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"payment-orchestrator/internal/core/domain"
	"payment-orchestrator/internal/core/ports"
	"payment-orchestrator/internal/core/ports/mocks"
	"payment-orchestrator/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type paymentTestDeps struct {
	svc         *PaymentServiceImpl
	txRepo      *mocks.MockTransactionRepository
	webhookRepo *mocks.MockWebhookEventRepository
	gate        *mocks.MockIdempotencyGate
	fraud       *mocks.MockFraudScorer
	audit       *mocks.MockAuditService
	publisher   *mocks.MockEventPublisher
	provider    *mocks.MockProviderAdapter
	ctrl        *gomock.Controller
}

func setupPaymentService(t *testing.T) *paymentTestDeps {
	ctrl := gomock.NewController(t)
	d := &paymentTestDeps{
		txRepo:      mocks.NewMockTransactionRepository(ctrl),
		webhookRepo: mocks.NewMockWebhookEventRepository(ctrl),
		gate:        mocks.NewMockIdempotencyGate(ctrl),
		fraud:       mocks.NewMockFraudScorer(ctrl),
		audit:       mocks.NewMockAuditService(ctrl),
		publisher:   mocks.NewMockEventPublisher(ctrl),
		provider:    mocks.NewMockProviderAdapter(ctrl),
		ctrl:        ctrl,
	}
	d.svc = NewPaymentService(
		d.txRepo, d.webhookRepo, d.gate, d.fraud, d.audit,
		d.publisher, d.provider, time.Second, 3, zerolog.Nop(),
	)
	// Audit must never fail the caller; most tests don't assert on it.
	d.audit.EXPECT().Record(gomock.Any(), gomock.Any()).AnyTimes()
	return d
}

func assertAppError(t *testing.T, err error, code string) {
	t.Helper()
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %v", err)
	assert.Equal(t, code, appErr.Code)
}

func cardRequest(key string) ports.InitiateRequest {
	k := key
	return ports.InitiateRequest{
		UserID:        uuid.New(),
		MerchantID:    uuid.New(),
		Amount:        decimal.NewFromFloat(49.99),
		Currency:      "USD",
		PaymentMethod: domain.PaymentMethodCard,
		CardNumber:    "4111111111111111",
		ExpiryMonth:   "12",
		ExpiryYear:    "2030",
		CVV:           "123",
		IdempotencyKey: func() *string {
			if k == "" {
				return nil
			}
			return &k
		}(),
	}
}

// ==================== Initiate ====================

func TestPaymentService_Initiate_FreshPayment(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	req := cardRequest("K1")

	d.gate.EXPECT().Lookup(ctx, "K1").Return(nil, nil)
	d.fraud.EXPECT().Score(gomock.Any()).Return(decimal.NewFromFloat(0.10))
	d.fraud.EXPECT().ShouldBlock(decimal.NewFromFloat(0.10)).Return(false)
	d.gate.EXPECT().Reserve(ctx, "K1", gomock.Any()).Return(true, nil)
	d.txRepo.EXPECT().Insert(ctx, gomock.Any()).Return(nil)
	d.publisher.EXPECT().Publish(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, evt *domain.PaymentEvent) error {
			assert.Equal(t, domain.EventPaymentInitiated, evt.EventType)
			return nil
		})

	tx, err := d.svc.Initiate(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, domain.TransactionStatusPending, tx.Status)
	assert.True(t, strings.HasPrefix(tx.ReferenceID, "TXN"))
	assert.True(t, tx.Amount.Equal(decimal.NewFromFloat(49.99)))
	require.NotNil(t, tx.IdempotencyKey)
	assert.Equal(t, "K1", *tx.IdempotencyKey)
}

func TestPaymentService_Initiate_DuplicateKey_ReturnsExisting(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	existing := &domain.Transaction{
		ID:          uuid.New(),
		ReferenceID: "TXN123",
		Status:      domain.TransactionStatusSuccess,
	}

	d.gate.EXPECT().Lookup(ctx, "K2").Return(existing, nil)
	// No insert, no fraud scoring, no publish.

	tx, err := d.svc.Initiate(ctx, cardRequest("K2"))
	require.NoError(t, err)
	assert.Equal(t, existing.ID, tx.ID)
	assert.Equal(t, "TXN123", tx.ReferenceID)
}

func TestPaymentService_Initiate_GeneratesKey_WhenMissing(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	req := cardRequest("")

	d.gate.EXPECT().GenerateKey().Return("generated-key")
	d.gate.EXPECT().Lookup(ctx, "generated-key").Return(nil, nil)
	d.fraud.EXPECT().Score(gomock.Any()).Return(decimal.Zero)
	d.fraud.EXPECT().ShouldBlock(decimal.Zero).Return(false)
	d.gate.EXPECT().Reserve(ctx, "generated-key", gomock.Any()).Return(true, nil)
	d.txRepo.EXPECT().Insert(ctx, gomock.Any()).Return(nil)
	d.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	tx, err := d.svc.Initiate(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, tx.IdempotencyKey)
	assert.Equal(t, "generated-key", *tx.IdempotencyKey)
}

func TestPaymentService_Initiate_InvalidAmount(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	req := cardRequest("K3")
	req.Amount = decimal.Zero
	d.gate.EXPECT().Lookup(gomock.Any(), "K3").Return(nil, nil)

	tx, err := d.svc.Initiate(context.Background(), req)
	assert.Nil(t, tx)
	require.Error(t, err)
	assertAppError(t, err, "VAL_002")
}

func TestPaymentService_Initiate_MissingCardFields(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	req := cardRequest("K4")
	req.CVV = ""
	d.gate.EXPECT().Lookup(gomock.Any(), "K4").Return(nil, nil)

	tx, err := d.svc.Initiate(context.Background(), req)
	assert.Nil(t, tx)
	assertAppError(t, err, "VAL_001")
}

func TestPaymentService_Initiate_FraudBlocked_PersistsFailed(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	req := cardRequest("K5")
	req.Amount = decimal.NewFromInt(75000)
	req.CardNumber = "1234"
	req.CVV = "12"

	score := decimal.NewFromInt(1)
	d.gate.EXPECT().Lookup(ctx, "K5").Return(nil, nil)
	d.fraud.EXPECT().Score(gomock.Any()).Return(score)
	d.fraud.EXPECT().ShouldBlock(score).Return(true)
	d.gate.EXPECT().Reserve(ctx, "K5", gomock.Any()).Return(true, nil)
	d.txRepo.EXPECT().Insert(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, tx *domain.Transaction) error {
			assert.Equal(t, domain.TransactionStatusFailed, tx.Status)
			require.NotNil(t, tx.ErrorCode)
			assert.Equal(t, "FRAUD_BLOCKED", *tx.ErrorCode)
			return nil
		})
	d.publisher.EXPECT().Publish(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, evt *domain.PaymentEvent) error {
			assert.Equal(t, domain.EventPaymentFailed, evt.EventType)
			return nil
		})
	d.publisher.EXPECT().PublishResult(ctx, gomock.Any()).Return(nil)
	// No provider call; d.provider has no expectations.

	tx, err := d.svc.Initiate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusFailed, tx.Status)
	assert.True(t, tx.FraudScore.Equal(score))
}

func TestPaymentService_Initiate_RaceLoss_ReturnsWinner(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	winner := &domain.Transaction{ID: uuid.New(), ReferenceID: "TXN999", Status: domain.TransactionStatusPending}

	first := d.gate.EXPECT().Lookup(ctx, "K6").Return(nil, nil)
	d.fraud.EXPECT().Score(gomock.Any()).Return(decimal.Zero)
	d.fraud.EXPECT().ShouldBlock(decimal.Zero).Return(false)
	d.gate.EXPECT().Reserve(ctx, "K6", gomock.Any()).Return(false, nil)
	d.gate.EXPECT().Lookup(ctx, "K6").Return(winner, nil).After(first)

	tx, err := d.svc.Initiate(ctx, cardRequest("K6"))
	require.NoError(t, err)
	assert.Equal(t, winner.ID, tx.ID)
}

func TestPaymentService_Initiate_StoreConflict_ReturnsWinner(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	winner := &domain.Transaction{ID: uuid.New(), ReferenceID: "TXN888", Status: domain.TransactionStatusPending}

	d.gate.EXPECT().Lookup(ctx, "K7").Return(nil, nil)
	d.fraud.EXPECT().Score(gomock.Any()).Return(decimal.Zero)
	d.fraud.EXPECT().ShouldBlock(decimal.Zero).Return(false)
	d.gate.EXPECT().Reserve(ctx, "K7", gomock.Any()).Return(true, nil)
	d.txRepo.EXPECT().Insert(ctx, gomock.Any()).Return(ports.ErrIdempotencyKeyConflict)
	d.txRepo.EXPECT().GetByIdempotencyKey(ctx, "K7").Return(winner, nil)

	tx, err := d.svc.Initiate(ctx, cardRequest("K7"))
	require.NoError(t, err)
	assert.Equal(t, winner.ID, tx.ID)
}

func TestPaymentService_Initiate_InsertFailure_ReleasesReservation(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	d.gate.EXPECT().Lookup(ctx, "K8").Return(nil, nil)
	d.fraud.EXPECT().Score(gomock.Any()).Return(decimal.Zero)
	d.fraud.EXPECT().ShouldBlock(decimal.Zero).Return(false)
	d.gate.EXPECT().Reserve(ctx, "K8", gomock.Any()).Return(true, nil)
	d.txRepo.EXPECT().Insert(ctx, gomock.Any()).Return(errors.New("connection refused"))
	d.gate.EXPECT().Release(ctx, "K8")

	tx, err := d.svc.Initiate(ctx, cardRequest("K8"))
	assert.Nil(t, tx)
	assertAppError(t, err, "SYS_001")
}

func TestPaymentService_Initiate_BusDown_Propagates503(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	d.gate.EXPECT().Lookup(ctx, "K9").Return(nil, nil)
	d.fraud.EXPECT().Score(gomock.Any()).Return(decimal.Zero)
	d.fraud.EXPECT().ShouldBlock(decimal.Zero).Return(false)
	d.gate.EXPECT().Reserve(ctx, "K9", gomock.Any()).Return(true, nil)
	d.txRepo.EXPECT().Insert(ctx, gomock.Any()).Return(nil)
	d.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(errors.New("broker unreachable"))
	// Row exists: the reservation must NOT be released.

	tx, err := d.svc.Initiate(ctx, cardRequest("K9"))
	assert.Nil(t, tx)
	assertAppError(t, err, "SYS_002")
}

// ==================== Process ====================

func processableTx(webhookURL *string) *domain.Transaction {
	return &domain.Transaction{
		ID:            uuid.New(),
		ReferenceID:   "TXN555",
		UserID:        uuid.New(),
		MerchantID:    uuid.New(),
		Amount:        decimal.NewFromInt(100),
		Currency:      "USD",
		PaymentMethod: domain.PaymentMethodCard,
		Status:        domain.TransactionStatusPending,
		WebhookURL:    webhookURL,
	}
}

func TestPaymentService_Process_Success(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := processableTx(nil)

	d.txRepo.EXPECT().GetByID(ctx, tx.ID).Return(tx, nil)
	d.txRepo.EXPECT().
		UpdateStatus(ctx, tx.ID, domain.TransactionStatusPending, domain.TransactionStatusProcessing, nil, nil).
		Return(true, nil)
	d.provider.EXPECT().Name().Return("simulated").AnyTimes()
	d.provider.EXPECT().Charge(gomock.Any(), tx).Return(&ports.ChargeResult{ProviderRef: "sim_abc"}, nil)
	d.txRepo.EXPECT().
		UpdateStatus(ctx, tx.ID, domain.TransactionStatusProcessing, domain.TransactionStatusSuccess, nil, nil).
		Return(true, nil)
	d.publisher.EXPECT().Publish(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, evt *domain.PaymentEvent) error {
			assert.Equal(t, domain.EventPaymentSuccess, evt.EventType)
			return nil
		})
	d.publisher.EXPECT().PublishResult(ctx, gomock.Any()).Return(nil)

	require.NoError(t, d.svc.Process(ctx, tx.ID))
	assert.Equal(t, domain.TransactionStatusSuccess, tx.Status)
}

func TestPaymentService_Process_Redelivery_NoOp(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := processableTx(nil)
	tx.Status = domain.TransactionStatusSuccess

	d.txRepo.EXPECT().GetByID(ctx, tx.ID).Return(tx, nil)
	// No CAS, no provider call.

	require.NoError(t, d.svc.Process(ctx, tx.ID))
}

func TestPaymentService_Process_UnknownTransaction_Drops(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	id := uuid.New()
	d.txRepo.EXPECT().GetByID(gomock.Any(), id).Return(nil, nil)

	require.NoError(t, d.svc.Process(context.Background(), id))
}

func TestPaymentService_Process_CASLost_NoOp(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := processableTx(nil)

	d.txRepo.EXPECT().GetByID(ctx, tx.ID).Return(tx, nil)
	d.txRepo.EXPECT().
		UpdateStatus(ctx, tx.ID, domain.TransactionStatusPending, domain.TransactionStatusProcessing, nil, nil).
		Return(false, nil)

	require.NoError(t, d.svc.Process(ctx, tx.ID))
}

func TestPaymentService_Process_ProviderDecline_WithWebhook(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	url := "https://merchant.example.com/hooks"
	tx := processableTx(&url)

	d.txRepo.EXPECT().GetByID(ctx, tx.ID).Return(tx, nil)
	d.txRepo.EXPECT().
		UpdateStatus(ctx, tx.ID, domain.TransactionStatusPending, domain.TransactionStatusProcessing, nil, nil).
		Return(true, nil)
	d.provider.EXPECT().Name().Return("simulated").AnyTimes()
	d.provider.EXPECT().Charge(gomock.Any(), tx).
		Return(nil, &ports.ProviderError{Code: "DECLINED", Message: "card declined"})
	d.txRepo.EXPECT().
		UpdateStatus(ctx, tx.ID, domain.TransactionStatusProcessing, domain.TransactionStatusFailed, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uuid.UUID, _, _ domain.TransactionStatus, code, msg *string) (bool, error) {
			require.NotNil(t, code)
			assert.Equal(t, "DECLINED", *code)
			return true, nil
		})
	d.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)
	d.publisher.EXPECT().PublishResult(ctx, gomock.Any()).Return(nil)
	d.webhookRepo.EXPECT().Insert(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, evt *domain.WebhookEvent) error {
			assert.Equal(t, tx.ID, evt.TransactionID)
			assert.Equal(t, url, evt.WebhookURL)
			assert.Equal(t, 3, evt.MaxAttempts)
			assert.Contains(t, evt.Payload, "TXN555")
			return nil
		})

	require.NoError(t, d.svc.Process(ctx, tx.ID))
	assert.Equal(t, domain.TransactionStatusFailed, tx.Status)
}

func TestPaymentService_Process_ProviderTimeout(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := processableTx(nil)

	d.txRepo.EXPECT().GetByID(ctx, tx.ID).Return(tx, nil)
	d.txRepo.EXPECT().
		UpdateStatus(ctx, tx.ID, domain.TransactionStatusPending, domain.TransactionStatusProcessing, nil, nil).
		Return(true, nil)
	d.provider.EXPECT().Name().Return("simulated").AnyTimes()
	d.provider.EXPECT().Charge(gomock.Any(), tx).Return(nil, context.DeadlineExceeded)
	d.txRepo.EXPECT().
		UpdateStatus(ctx, tx.ID, domain.TransactionStatusProcessing, domain.TransactionStatusFailed, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uuid.UUID, _, _ domain.TransactionStatus, code, _ *string) (bool, error) {
			require.NotNil(t, code)
			assert.Equal(t, "PROVIDER_TIMEOUT", *code)
			return true, nil
		})
	d.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)
	d.publisher.EXPECT().PublishResult(ctx, gomock.Any()).Return(nil)

	require.NoError(t, d.svc.Process(ctx, tx.ID))
}

func TestPaymentService_Process_TransientDBError_Propagates(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	id := uuid.New()
	d.txRepo.EXPECT().GetByID(gomock.Any(), id).Return(nil, errors.New("connection reset"))

	err := d.svc.Process(context.Background(), id)
	require.Error(t, err)
}

// ==================== GetStatus ====================

func TestPaymentService_GetStatus_ByID(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := processableTx(nil)

	d.txRepo.EXPECT().GetByID(ctx, tx.ID).Return(tx, nil)

	got, err := d.svc.GetStatus(ctx, tx.ID.String())
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)
}

func TestPaymentService_GetStatus_ByReference(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := processableTx(nil)

	d.txRepo.EXPECT().GetByReferenceID(ctx, "TXN555").Return(tx, nil)

	got, err := d.svc.GetStatus(ctx, "TXN555")
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)
}

func TestPaymentService_GetStatus_UUIDMiss_FallsBackToReference(t *testing.T) {
	d := setupPaymentService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	id := uuid.New()

	d.txRepo.EXPECT().GetByID(ctx, id).Return(nil, nil)
	d.txRepo.EXPECT().GetByReferenceID(ctx, id.String()).Return(nil, nil)

	got, err := d.svc.GetStatus(ctx, id.String())
	require.NoError(t, err)
	assert.Nil(t, got)
}
