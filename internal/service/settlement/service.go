package settlement

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"kawadi-core/internal/event"
	"kawadi-core/internal/model"
	"kawadi-core/internal/service/credit"
	"kawadi-core/internal/service/notify"
	"kawadi-core/internal/service/pickup"
	"kawadi-core/pkg/errno"
	"kawadi-core/pkg/logger"
	"kawadi-core/pkg/monitor"
	"kawadi-core/pkg/money"
)

// ImpactTrigger recalculates a customer's environmental impact after a pickup.
type ImpactTrigger interface {
	OnPickupCompleted(ctx context.Context, pickupID uint64) error
}

const hookTimeout = 5 * time.Second

// gatewayMethods settle later, through a gateway callback or an admin.
var gatewayMethods = map[string]bool{
	model.MethodEsewa:   true,
	model.MethodKhalti:  true,
	model.MethodImePay:  true,
	model.MethodFonepay: true,
}

type Service struct {
	db       *gorm.DB
	credits  *credit.Service
	policy   model.CommissionPolicy
	notifier notify.Notifier
	impact   ImpactTrigger
	now      func() time.Time
}

type Option func(*Service)

func WithCommissionPolicy(p model.CommissionPolicy) Option {
	return func(s *Service) { s.policy = p }
}

func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithImpactTrigger(t ImpactTrigger) Option {
	return func(s *Service) { s.impact = t }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(db *gorm.DB, credits *credit.Service, opts ...Option) *Service {
	s := &Service{
		db:      db,
		credits: credits,
		policy:  model.FlatCommission{Rate: model.DefaultCommissionRate},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CompleteRequest struct {
	PickupID     uint64
	ActualWeight decimal.Decimal
	// PaymentMethod defaults to cash.
	PaymentMethod string
}

type CompleteResult struct {
	Pickup      *model.PickupRequest `json:"pickup"`
	Transaction *model.Transaction   `json:"transaction"`
}

// CompletePickup finalizes weight and price, then creates the settlement
// transaction and, for credit payments, debits the collector. Everything up to
// the outbox event commits together; notification and impact hooks run after.
func (s *Service) CompletePickup(ctx context.Context, req CompleteRequest) (*CompleteResult, error) {
	if err := pickup.ValidateWeight(req.ActualWeight); err != nil {
		return nil, err
	}
	method := req.PaymentMethod
	if method == "" {
		method = model.MethodCash
	}
	if method != model.MethodCash && method != model.MethodCredits && !gatewayMethods[method] {
		return nil, errno.ErrValidation.WithMessage(fmt.Sprintf("unsupported payment method %q", method))
	}

	var (
		p  model.PickupRequest
		tr model.Transaction
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. lock the pickup and check its state
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, "id = ?", req.PickupID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errno.ErrPickupNotFound
			}
			return errno.ErrDatabase.Wrap(err)
		}
		switch p.Status {
		case model.PickupCompleted:
			return errno.ErrAlreadyCompleted
		case model.PickupCancelled, model.PickupFailed:
			return errno.ErrInvalidTransition.WithMessage(fmt.Sprintf("pickup %d is %s", p.ID, p.Status))
		}
		if p.CollectorID == nil {
			return errno.ErrValidation.WithMessage("pickup has no assigned collector")
		}

		// 2. price at the category rate in force right now
		var cat model.WasteCategory
		if err := tx.First(&cat, "id = ?", p.CategoryID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errno.ErrIntegrityViolation.WithMessage(fmt.Sprintf("pickup %d references missing category %d", p.ID, p.CategoryID))
			}
			return errno.ErrDatabase.Wrap(err)
		}
		now := s.now()
		price := money.Price(req.ActualWeight, cat.RatePerKg)
		rate := cat.RatePerKg

		p.ActualWeight = decimal.NewNullDecimal(req.ActualWeight)
		p.ActualPrice = &price
		p.AppliedRate = &rate
		p.Status = model.PickupCompleted
		if p.CompletedAt == nil {
			p.CompletedAt = &now
		}
		if err := tx.Save(&p).Error; err != nil {
			return errno.ErrDatabase.Wrap(err)
		}

		// 3. settlement transaction
		if err := s.upsertTransaction(ctx, tx, &p, price, method, now, &tr); err != nil {
			return err
		}

		// 4. durable event in the same unit
		return model.CreateOutboxMessage(tx, event.TopicSettlement, strconv.FormatUint(p.ID, 10), event.PickupCompletedEvent{
			Header:        event.Header{Type: event.TypePickupCompleted, OccurredAt: now},
			PickupID:      p.ID,
			TransactionID: tr.ID,
			CustomerID:    p.CustomerID,
			CollectorID:   *p.CollectorID,
			Weight:        req.ActualWeight.StringFixed(2),
			Amount:        tr.Amount.String(),
			Commission:    tr.CollectorCommission.String(),
			PaymentMethod: tr.PaymentMethod,
		})
	})
	if err != nil {
		if errors.Is(err, errno.ErrIntegrityViolation) {
			monitor.Business.IntegrityViolationsTotal.Inc()
			logger.Error("pickup settlement aborted", zap.Uint64("pickup_id", req.PickupID), zap.Error(err))
		}
		return nil, err
	}

	monitor.Business.PickupsSettledTotal.WithLabelValues(tr.PaymentMethod).Inc()
	logger.Info("pickup settled",
		zap.Uint64("pickup_id", p.ID),
		zap.Uint64("transaction_id", tr.ID),
		zap.String("amount", tr.Amount.String()),
		zap.String("commission", tr.CollectorCommission.String()),
		zap.String("method", tr.PaymentMethod))

	s.afterCommit(ctx, &p, &tr)
	return &CompleteResult{Pickup: &p, Transaction: &tr}, nil
}

func (s *Service) upsertTransaction(ctx context.Context, tx *gorm.DB, p *model.PickupRequest, price money.Money, method string, now time.Time, out *model.Transaction) error {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("pickup_request_id = ?", p.ID).First(out).Error
	switch {
	case err == nil:
		// an earlier write left a transaction behind; only unpaid ones may be repriced
		if out.IsPaid && !out.Amount.Equal(price) {
			return errno.ErrIntegrityViolation.WithMessage(fmt.Sprintf(
				"transaction %d is paid at %s but pickup %d settles at %s", out.ID, out.Amount, p.ID, price))
		}
		out.Amount = price
		if err := tx.Save(out).Error; err != nil {
			return errno.ErrDatabase.Wrap(err)
		}
		return nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return errno.ErrDatabase.Wrap(err)
	}

	*out = model.Transaction{
		PickupRequestID: p.ID,
		CustomerID:      p.CustomerID,
		CollectorID:     *p.CollectorID,
		Amount:          price,
		CommissionRate:  s.policy.RateFor(p),
		PaymentMethod:   method,
		PaymentStatus:   model.PaymentPending,
		TransactionDate: now,
	}

	switch method {
	case model.MethodCash:
		out.PaymentStatus = model.PaymentCompleted
		out.IsPaid = true
		out.PaymentCompletedAt = &now
	case model.MethodCredits:
		res, err := s.credits.WithTx(tx).DeductCredits(ctx, *p.CollectorID, price, &p.ID,
			fmt.Sprintf("Payment for pickup #%d", p.ID))
		if err != nil {
			return err
		}
		if !res.Success {
			return res.Reason
		}
		out.PaymentStatus = model.PaymentCompleted
		out.IsPaid = true
		out.PaymentCompletedAt = &now
	}

	if err := tx.Create(out).Error; err != nil {
		return errno.ErrDatabase.Wrap(err)
	}
	return nil
}

func (s *Service) afterCommit(ctx context.Context, p *model.PickupRequest, tr *model.Transaction) {
	if s.impact != nil {
		runHook(ctx, "impact", func(ctx context.Context) error {
			return s.impact.OnPickupCompleted(ctx, p.ID)
		})
	}
	data := map[string]string{
		"pickup_id": strconv.FormatUint(p.ID, 10),
		"weight":    p.ActualWeight.Decimal.StringFixed(2),
		"amount":    tr.Amount.String(),
	}
	notify.Send(ctx, s.notifier, p.CustomerID, notify.KindPickupCompleted, data)
	if tr.IsPaid {
		notify.Send(ctx, s.notifier, p.CustomerID, notify.KindPaymentReceived, data)
	}
}

// runHook calls fn with a bounded context, logging instead of failing.
func runHook(ctx context.Context, name string, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("settlement hook panicked", zap.String("hook", name), zap.Any("panic", r))
		}
	}()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hookTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn("settlement hook failed", zap.String("hook", name), zap.Error(err))
	}
}

// GetTransaction returns the settlement for a pickup.
func (s *Service) GetTransaction(ctx context.Context, pickupID uint64) (*model.Transaction, error) {
	var tr model.Transaction
	if err := s.db.WithContext(ctx).Where("pickup_request_id = ?", pickupID).First(&tr).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrTransactionNotFound
		}
		return nil, errno.ErrDatabase.Wrap(err)
	}
	return &tr, nil
}
