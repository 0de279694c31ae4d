package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appErr   *AppError
		expected string
	}{
		{
			name:     "without wrapped error",
			appErr:   New("PAY_001", "Transaction not found", http.StatusNotFound),
			expected: "[PAY_001] Transaction not found",
		},
		{
			name:     "with wrapped error",
			appErr:   Wrap("SYS_001", "DB error", http.StatusInternalServerError, fmt.Errorf("connection refused")),
			expected: "[SYS_001] DB error: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.appErr.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	appErr := Wrap("SYS_001", "wrapped", http.StatusInternalServerError, inner)

	assert.True(t, errors.Is(appErr, inner))
}

func TestAppError_IsNilUnwrap(t *testing.T) {
	appErr := New("PAY_001", "test", http.StatusBadRequest)
	assert.Nil(t, appErr.Unwrap())
}

func TestValidationErrors(t *testing.T) {
	err := Validation("Currency must be a 3-letter code")
	assert.Equal(t, "VAL_001", err.Code)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)
	assert.Equal(t, "Currency must be a 3-letter code", err.Message)

	amtErr := ErrInvalidAmount()
	assert.Equal(t, "VAL_002", amtErr.Code)
	assert.Equal(t, http.StatusBadRequest, amtErr.HTTPStatus)
}

func TestPaymentErrors(t *testing.T) {
	notFound := ErrNotFound("Transaction")
	assert.Equal(t, "PAY_001", notFound.Code)
	assert.Equal(t, http.StatusNotFound, notFound.HTTPStatus)
	assert.Contains(t, notFound.Message, "Transaction")

	inFlight := ErrIdempotencyInFlight()
	assert.Equal(t, "PAY_002", inFlight.Code)
	assert.Equal(t, http.StatusConflict, inFlight.HTTPStatus)
}

func TestSystemErrors(t *testing.T) {
	inner := fmt.Errorf("pg: connection closed")

	dbErr := ErrDatabaseError(inner)
	assert.Equal(t, "SYS_001", dbErr.Code)
	assert.Equal(t, 500, dbErr.HTTPStatus)
	assert.True(t, errors.Is(dbErr, inner))

	intErr := InternalError(inner)
	assert.Equal(t, "SYS_001", intErr.Code)
	assert.Equal(t, 500, intErr.HTTPStatus)

	busErr := ErrBusUnavailable(inner)
	assert.Equal(t, "SYS_002", busErr.Code)
	assert.Equal(t, 503, busErr.HTTPStatus)
	assert.True(t, errors.Is(busErr, inner))
}
