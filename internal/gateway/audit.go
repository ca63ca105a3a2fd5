package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"kawadi-core/internal/model"
	"kawadi-core/pkg/crypto_util"
	"kawadi-core/pkg/errno"
	"kawadi-core/pkg/logger"
	"kawadi-core/pkg/monitor"
)

// LogStore appends gateway audit rows.
type LogStore interface {
	Append(ctx context.Context, row *model.PaymentGatewayLog) error
}

type GormLogStore struct {
	db *gorm.DB
}

func NewGormLogStore(db *gorm.DB) *GormLogStore {
	return &GormLogStore{db: db}
}

func (s *GormLogStore) Append(ctx context.Context, row *model.PaymentGatewayLog) error {
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return errno.ErrDatabase.Wrap(err)
	}
	return nil
}

// ListByReference returns the audit trail of one reference, oldest first.
func (s *GormLogStore) ListByReference(ctx context.Context, gatewayName, reference string) ([]model.PaymentGatewayLog, error) {
	var rows []model.PaymentGatewayLog
	err := s.db.WithContext(ctx).
		Where("gateway_name = ? AND reference = ?", gatewayName, reference).
		Order("id").Find(&rows).Error
	if err != nil {
		return nil, errno.ErrDatabase.Wrap(err)
	}
	return rows, nil
}

// Audited records every call of g. The request row is stored before the
// provider is contacted; if it cannot be stored the call is not made.
type Audited struct {
	inner Gateway
	store LogStore
}

func NewAudited(g Gateway, store LogStore) *Audited {
	return &Audited{inner: g, store: store}
}

func (a *Audited) Name() string { return a.inner.Name() }

type initiateLog struct {
	Amount    string `json:"amount"`
	OrderID   string `json:"order_id"`
	OrderName string `json:"order_name"`
	ReturnURL string `json:"return_url,omitempty"`
}

type verifyLog struct {
	GatewayRef     string `json:"gateway_ref"`
	ExpectedAmount string `json:"expected_amount"`
}

func (a *Audited) Initiate(ctx context.Context, in InitiateRequest) (*InitiateResult, error) {
	key := uuid.NewString()
	if err := a.logRequest(ctx, model.GatewayOpInitiate, in.OrderID, key, in.Link, initiateLog{
		Amount: in.Amount.String(), OrderID: in.OrderID, OrderName: in.OrderName, ReturnURL: in.ReturnURL,
	}); err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := a.inner.Initiate(ctx, in)
	a.observe(model.GatewayOpInitiate, start)

	ref := in.OrderID
	var raw json.RawMessage
	if res != nil {
		ref = res.GatewayRef
		raw, _ = json.Marshal(res)
	}
	a.logResponse(ctx, model.GatewayOpInitiate, ref, key, in.Link, raw, err)
	return res, err
}

func (a *Audited) Verify(ctx context.Context, in VerifyRequest) (*VerifyResult, error) {
	key := "verify:" + a.inner.Name() + ":" + in.GatewayRef
	if err := a.logRequest(ctx, model.GatewayOpVerify, in.GatewayRef, key, in.Link, verifyLog{
		GatewayRef: in.GatewayRef, ExpectedAmount: in.ExpectedAmount.String(),
	}); err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := a.inner.Verify(ctx, in)
	a.observe(model.GatewayOpVerify, start)

	var raw json.RawMessage
	if res != nil {
		raw, _ = json.Marshal(res)
	}
	a.logResponse(ctx, model.GatewayOpVerify, in.GatewayRef, key, in.Link, raw, err)
	return res, err
}

// ParseCallback logs the inbound payload whether or not it parses.
func (a *Audited) ParseCallback(raw []byte) (*Callback, error) {
	cb, err := a.inner.ParseCallback(raw)

	ref := ""
	if cb != nil {
		ref = cb.Reference
	}
	payload := rawJSON(raw)
	row := &model.PaymentGatewayLog{
		GatewayName:    a.inner.Name(),
		Operation:      model.GatewayOpCallback,
		Phase:          model.GatewayPhaseRequest,
		Reference:      ref,
		IdempotencyKey: "callback:" + a.inner.Name() + ":" + ref,
		Payload:        []byte(payload),
		PayloadHash:    crypto_util.CalculateBlake3(raw),
		Success:        err == nil,
	}
	if err != nil {
		row.ErrorMessage = err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if logErr := a.store.Append(ctx, row); logErr != nil {
		logger.Error("gateway callback not audited", zap.String("gateway", a.inner.Name()), zap.Error(logErr))
	}
	return cb, err
}

func (a *Audited) logRequest(ctx context.Context, op, ref, key string, link Link, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return errno.InternalServerError.Wrap(err)
	}
	row := &model.PaymentGatewayLog{
		GatewayName:      a.inner.Name(),
		Operation:        op,
		Phase:            model.GatewayPhaseRequest,
		Reference:        ref,
		IdempotencyKey:   key,
		TransactionID:    link.TransactionID,
		CreditPurchaseID: link.CreditPurchaseID,
		Payload:          b,
		PayloadHash:      crypto_util.CalculateBlake3(b),
		Success:          true,
	}
	if err := a.store.Append(ctx, row); err != nil {
		logger.Error("gateway request not audited, call skipped",
			zap.String("gateway", a.inner.Name()), zap.String("operation", op), zap.Error(err))
		return err
	}
	return nil
}

func (a *Audited) logResponse(ctx context.Context, op, ref, key string, link Link, raw json.RawMessage, callErr error) {
	row := &model.PaymentGatewayLog{
		GatewayName:      a.inner.Name(),
		Operation:        op,
		Phase:            model.GatewayPhaseResponse,
		Reference:        ref,
		IdempotencyKey:   key,
		TransactionID:    link.TransactionID,
		CreditPurchaseID: link.CreditPurchaseID,
		Success:          callErr == nil,
	}
	if len(raw) > 0 {
		row.Payload = []byte(raw)
		row.PayloadHash = crypto_util.CalculateBlake3(raw)
	}
	if callErr != nil {
		row.ErrorMessage = callErr.Error()
	}
	// the caller's context may already be done after a slow provider
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.store.Append(ctx, row); err != nil {
		logger.Error("gateway response not audited",
			zap.String("gateway", a.inner.Name()), zap.String("operation", op), zap.Error(err))
	}
}

func (a *Audited) observe(op string, start time.Time) {
	monitor.Business.GatewayCallDuration.WithLabelValues(a.inner.Name(), op).Observe(time.Since(start).Seconds())
}
