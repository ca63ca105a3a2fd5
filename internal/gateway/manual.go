package gateway

import (
	"context"

	"kawadi-core/pkg/errno"
)

// Manual covers methods settled out of band (cash collected, bank transfer,
// ime_pay, fonepay). Nothing is called; an admin confirms the payment.
type Manual struct {
	name string
}

func NewManual(name string) *Manual {
	return &Manual{name: name}
}

func (m *Manual) Name() string { return m.name }

func (m *Manual) Initiate(_ context.Context, in InitiateRequest) (*InitiateResult, error) {
	if in.OrderID == "" {
		return nil, errno.ErrValidation.WithMessage("order id is required")
	}
	return &InitiateResult{GatewayRef: in.OrderID}, nil
}

func (m *Manual) Verify(context.Context, VerifyRequest) (*VerifyResult, error) {
	return &VerifyResult{Verified: false, Status: StatusAwaitingManual}, nil
}

func (m *Manual) ParseCallback([]byte) (*Callback, error) {
	return nil, errno.ErrBadCallback.WithMessage(m.name + " payments have no callback")
}
