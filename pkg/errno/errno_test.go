package errno

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	err := ErrInsufficientBalance.WithMessage("balance 100.00 < 150.00")
	assert.True(t, errors.Is(err, ErrInsufficientBalance))
	assert.False(t, errors.Is(err, ErrAccountInactive))

	wrapped := fmt.Errorf("deduct: %w", err)
	assert.True(t, errors.Is(wrapped, ErrInsufficientBalance))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: i/o timeout")
	err := ErrGatewayUnavailable.Wrap(cause)
	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, ErrGatewayUnavailable))
	assert.Contains(t, err.Error(), "i/o timeout")
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"nil", nil, OK.Code},
		{"value", ErrPickupNotFound, ErrPickupNotFound.Code},
		{"pointer", &ErrInvalidWeight, ErrInvalidWeight.Code},
		{"wrapped", fmt.Errorf("x: %w", ErrAlreadyCompleted), ErrAlreadyCompleted.Code},
		{"plain", errors.New("boom"), InternalServerError.Code},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := Decode(tt.err)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestPublicHidesIntegrityDetail(t *testing.T) {
	err := ErrIntegrityViolation.WithMessage("account 7: replay 90.00 != balance 100.00")
	code, msg := Public(err)
	assert.Equal(t, ErrIntegrityViolation.Code, code)
	assert.Equal(t, InternalServerError.Message, msg)

	_, msg = Public(ErrGatewayUnavailable.Wrap(errors.New("timeout")))
	assert.Equal(t, ErrGatewayUnavailable.Message, msg)

	_, msg = Public(ErrInsufficientBalance)
	assert.Equal(t, ErrInsufficientBalance.Message, msg)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(ErrInvalidWeight))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(ErrPickupNotFound))
	assert.Equal(t, http.StatusConflict, HTTPStatus(ErrAlreadyCompleted))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(ErrInsufficientBalance))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(ErrGatewayUnavailable))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
	assert.True(t, IsValidation(ErrInvalidWeight))
	assert.False(t, IsValidation(ErrGatewayUnavailable))
}
