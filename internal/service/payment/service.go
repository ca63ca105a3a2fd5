// Package payment drives gateway payments for settlements and credit purchases.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"kawadi-core/internal/event"
	"kawadi-core/internal/gateway"
	"kawadi-core/internal/model"
	"kawadi-core/internal/service/notify"
	"kawadi-core/internal/service/purchase"
	"kawadi-core/pkg/errno"
	"kawadi-core/pkg/logger"
	"kawadi-core/pkg/monitor"
	"kawadi-core/pkg/utils/lock"
)

// Callback outcomes.
const (
	CallbackVerified = "verified"
	CallbackFailed   = "failed"
	CallbackMismatch = "mismatch"
	CallbackPending  = "pending"
)

const defaultLockTTL = time.Minute

type Service struct {
	db        *gorm.DB
	gateways  *gateway.Registry
	purchases *purchase.Service
	locker    lock.DistributedLock
	notifier  notify.Notifier
	now       func() time.Time
	lockTTL   time.Duration
}

func NewService(db *gorm.DB, gateways *gateway.Registry, purchases *purchase.Service, locker lock.DistributedLock, notifier notify.Notifier, now func() time.Time) *Service {
	if locker == nil {
		locker = lock.NewLocalLock()
	}
	if now == nil {
		now = time.Now
	}
	return &Service{
		db:        db,
		gateways:  gateways,
		purchases: purchases,
		locker:    locker,
		notifier:  notifier,
		now:       now,
		lockTTL:   defaultLockTTL,
	}
}

type PurchaseInitiation struct {
	PurchaseID uint64                  `json:"purchase_id"`
	Gateway    string                  `json:"gateway"`
	Redirect   *gateway.InitiateResult `json:"redirect"`
}

// InitiateCreditPurchase opens a pending purchase and hands it to the gateway.
// If the gateway cannot start the payment, the purchase is failed.
func (s *Service) InitiateCreditPurchase(ctx context.Context, collectorID, packageID uint64, method string) (*PurchaseInitiation, error) {
	g, err := s.gateways.Get(method)
	if err != nil {
		return nil, err
	}
	p, err := s.purchases.Create(ctx, collectorID, packageID, method)
	if err != nil {
		return nil, err
	}

	res, err := g.Initiate(ctx, gateway.InitiateRequest{
		Amount:    p.AmountPaid,
		OrderID:   "credit-" + strconv.FormatUint(p.ID, 10),
		OrderName: fmt.Sprintf("Kawadi credits #%d", p.ID),
		Link:      gateway.Link{CreditPurchaseID: &p.ID},
	})
	if err != nil {
		if _, _, failErr := s.purchases.Fail(ctx, p.ID, "gateway initiate: "+err.Error()); failErr != nil {
			logger.Error("could not fail purchase after gateway error", zap.Uint64("purchase_id", p.ID), zap.Error(failErr))
		}
		if errors.Is(err, errno.ErrGatewayUnavailable) {
			return nil, err
		}
		return nil, errno.ErrGatewayUnavailable.Wrap(err)
	}
	if err := s.purchases.AttachReference(ctx, p.ID, res.GatewayRef); err != nil {
		return nil, err
	}
	logger.Info("credit purchase initiated",
		zap.Uint64("purchase_id", p.ID), zap.String("gateway", method), zap.String("reference", res.GatewayRef))
	return &PurchaseInitiation{PurchaseID: p.ID, Gateway: method, Redirect: res}, nil
}

type TransactionInitiation struct {
	TransactionID uint64                  `json:"transaction_id"`
	Gateway       string                  `json:"gateway"`
	Redirect      *gateway.InitiateResult `json:"redirect"`
}

// InitiateTransactionPayment starts a gateway payment for an unpaid settlement.
func (s *Service) InitiateTransactionPayment(ctx context.Context, transactionID uint64, method string) (*TransactionInitiation, error) {
	g, err := s.gateways.Get(method)
	if err != nil {
		return nil, err
	}
	tr, err := s.transaction(ctx, "id = ?", transactionID)
	if err != nil {
		return nil, err
	}
	if tr.IsPaid {
		return nil, errno.ErrAlreadyProcessed.WithMessage(fmt.Sprintf("transaction %d is already paid", tr.ID))
	}

	res, err := g.Initiate(ctx, gateway.InitiateRequest{
		Amount:    tr.Amount,
		OrderID:   fmt.Sprintf("txn-%d-%s", tr.ID, uuid.NewString()[:8]),
		OrderName: fmt.Sprintf("Kawadi pickup #%d", tr.PickupRequestID),
		Link:      gateway.Link{TransactionID: &tr.ID},
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	upd := s.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("id = ? AND is_paid = ?", tr.ID, false).
		UpdateColumns(map[string]interface{}{
			"payment_method":         method,
			"payment_status":         model.PaymentProcessing,
			"payment_gateway":        method,
			"gateway_transaction_id": res.GatewayRef,
			"payment_initiated_at":   now,
			"updated_at":             now,
		})
	if upd.Error != nil {
		return nil, errno.ErrDatabase.Wrap(upd.Error)
	}
	if upd.RowsAffected == 0 {
		return nil, errno.ErrAlreadyProcessed.WithMessage(fmt.Sprintf("transaction %d was paid meanwhile", tr.ID))
	}
	return &TransactionInitiation{TransactionID: tr.ID, Gateway: method, Redirect: res}, nil
}

type CallbackResult struct {
	Status        string  `json:"status"`
	Duplicate     bool    `json:"duplicate"`
	Gateway       string  `json:"gateway"`
	Reference     string  `json:"reference"`
	PurchaseID    *uint64 `json:"purchase_id,omitempty"`
	TransactionID *uint64 `json:"transaction_id,omitempty"`
}

// HandleGatewayCallback verifies a provider callback and applies it at most once.
// The callback body is never trusted on its own; the gateway is asked to verify.
func (s *Service) HandleGatewayCallback(ctx context.Context, gatewayName string, raw []byte) (*CallbackResult, error) {
	g, err := s.gateways.Get(gatewayName)
	if err != nil {
		return nil, err
	}
	// 1. parse; the audited gateway logs the payload
	cb, err := g.ParseCallback(raw)
	if err != nil {
		monitor.Business.GatewayCallbacksTotal.WithLabelValues(gatewayName, "rejected").Inc()
		return nil, err
	}

	// 2. one handler per reference at a time
	key := "callback:" + gatewayName + ":" + cb.Reference
	token, err := s.locker.Acquire(ctx, key, s.lockTTL)
	if err != nil {
		return nil, errno.InternalServerError.Wrap(err)
	}
	if token == "" {
		monitor.Business.GatewayCallbacksTotal.WithLabelValues(gatewayName, "in_flight").Inc()
		return nil, errno.ErrCallbackInFlight
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			logger.Warn("callback lock release failed", zap.String("key", key), zap.Error(err))
		}
	}()

	// 3. resolve the target
	var result *CallbackResult
	p, err := s.purchases.FindByReference(ctx, gatewayName, cb.Reference)
	switch {
	case err == nil:
		result, err = s.applyPurchase(ctx, g, p)
	case errors.Is(err, errno.ErrPurchaseNotFound):
		tr, terr := s.transaction(ctx, "payment_gateway = ? AND gateway_transaction_id = ?", gatewayName, cb.Reference)
		if terr != nil {
			if errors.Is(terr, errno.ErrTransactionNotFound) {
				terr = errno.ErrNotFound.WithMessage("no payment matches this callback reference")
			}
			return nil, terr
		}
		result, err = s.applyTransaction(ctx, g, tr)
	}
	if err != nil {
		return nil, err
	}
	result.Gateway = gatewayName
	result.Reference = cb.Reference
	monitor.Business.GatewayCallbacksTotal.WithLabelValues(gatewayName, result.Status).Inc()
	return result, nil
}

func (s *Service) applyPurchase(ctx context.Context, g gateway.Gateway, p *model.CreditPurchase) (*CallbackResult, error) {
	result := &CallbackResult{PurchaseID: &p.ID}

	// 4. terminal purchases short-circuit without asking the gateway
	if p.Terminal() {
		result.Duplicate = true
		result.Status = purchaseOutcome(p.PaymentStatus)
		return result, nil
	}

	// 5. verify and check the amount
	v, err := g.Verify(ctx, gateway.VerifyRequest{
		GatewayRef:     p.PaymentReference,
		ExpectedAmount: p.AmountPaid,
		Link:           gateway.Link{CreditPurchaseID: &p.ID},
	})
	if err != nil {
		return nil, err
	}
	if err := gateway.CheckAmount(v, p.AmountPaid); err != nil {
		// left pending for an admin to confirm or reject
		if ferr := s.purchases.FlagMismatch(ctx, p.ID, v.AmountConfirmed, []byte(v.Raw)); ferr != nil {
			return nil, ferr
		}
		logger.Error("credit purchase amount mismatch, flagged for reconciliation",
			zap.Uint64("purchase_id", p.ID), zap.String("expected", p.AmountPaid.String()),
			zap.String("confirmed", v.AmountConfirmed.String()))
		result.Status = CallbackMismatch
		return result, nil
	}

	// 6. idempotent transition
	switch {
	case v.Verified:
		res, err := s.purchases.Complete(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		result.Status = CallbackVerified
		result.Duplicate = res.AlreadyProcessed
		if !res.AlreadyProcessed {
			notify.Send(ctx, s.notifier, p.CollectorID, notify.KindCreditPurchase, map[string]string{
				"credits": res.Purchase.TotalCredits().String(),
			})
		}
	case v.Status == gateway.StatusFailed:
		_, already, err := s.purchases.Fail(ctx, p.ID, "gateway reported "+v.Status)
		if err != nil {
			return nil, err
		}
		result.Status = CallbackFailed
		result.Duplicate = already
	default:
		result.Status = CallbackPending
	}
	return result, nil
}

func (s *Service) applyTransaction(ctx context.Context, g gateway.Gateway, tr *model.Transaction) (*CallbackResult, error) {
	result := &CallbackResult{TransactionID: &tr.ID}
	if tr.IsPaid {
		result.Duplicate = true
		result.Status = CallbackVerified
		return result, nil
	}
	if tr.PaymentStatus == model.PaymentFailed {
		result.Duplicate = true
		result.Status = CallbackFailed
		return result, nil
	}

	v, err := g.Verify(ctx, gateway.VerifyRequest{
		GatewayRef:     tr.GatewayTransactionID,
		ExpectedAmount: tr.Amount,
		Link:           gateway.Link{TransactionID: &tr.ID},
	})
	if err != nil {
		return nil, err
	}
	now := s.now()

	if err := gateway.CheckAmount(v, tr.Amount); err != nil {
		if uerr := s.db.WithContext(ctx).Model(&model.Transaction{}).
			Where("id = ? AND is_paid = ?", tr.ID, false).
			UpdateColumns(map[string]interface{}{
				"needs_reconciliation": true,
				"gateway_response":     []byte(v.Raw),
				"updated_at":           now,
			}).Error; uerr != nil {
			return nil, errno.ErrDatabase.Wrap(uerr)
		}
		logger.Error("settlement amount mismatch, flagged for reconciliation",
			zap.Uint64("transaction_id", tr.ID), zap.String("expected", tr.Amount.String()),
			zap.String("confirmed", v.AmountConfirmed.String()))
		result.Status = CallbackMismatch
		return result, nil
	}

	switch {
	case v.Verified:
		paid, err := s.markPaid(ctx, tr, []byte(v.Raw), false)
		if err != nil {
			return nil, err
		}
		result.Status = CallbackVerified
		result.Duplicate = !paid
	case v.Status == gateway.StatusFailed:
		if err := s.db.WithContext(ctx).Model(&model.Transaction{}).
			Where("id = ? AND is_paid = ?", tr.ID, false).
			UpdateColumns(map[string]interface{}{
				"payment_status":   model.PaymentFailed,
				"gateway_response": []byte(v.Raw),
				"updated_at":       now,
			}).Error; err != nil {
			return nil, errno.ErrDatabase.Wrap(err)
		}
		result.Status = CallbackFailed
	default:
		result.Status = CallbackPending
	}
	return result, nil
}

// markPaid flips is_paid with a compare-and-swap and records the event.
// It reports false when another caller got there first.
func (s *Service) markPaid(ctx context.Context, tr *model.Transaction, response []byte, clearReconciliation bool) (bool, error) {
	paid := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		cols := map[string]interface{}{
			"is_paid":              true,
			"payment_status":       model.PaymentCompleted,
			"payment_completed_at": now,
			"updated_at":           now,
		}
		if len(response) > 0 {
			cols["gateway_response"] = response
		}
		if clearReconciliation {
			cols["needs_reconciliation"] = false
		}
		res := tx.Model(&model.Transaction{}).Where("id = ? AND is_paid = ?", tr.ID, false).UpdateColumns(cols)
		if res.Error != nil {
			return errno.ErrDatabase.Wrap(res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		paid = true
		return model.CreateOutboxMessage(tx, event.TopicSettlement, strconv.FormatUint(tr.PickupRequestID, 10), event.TransactionPaidEvent{
			Header:        event.Header{Type: event.TypeTransactionPaid, OccurredAt: now},
			TransactionID: tr.ID,
			CustomerID:    tr.CustomerID,
			Amount:        tr.Amount.String(),
			Gateway:       tr.PaymentGateway,
		})
	})
	if err != nil {
		return false, err
	}
	if paid {
		logger.Info("settlement paid", zap.Uint64("transaction_id", tr.ID), zap.String("amount", tr.Amount.String()))
		notify.Send(ctx, s.notifier, tr.CustomerID, notify.KindPaymentReceived, map[string]string{
			"pickup_id": strconv.FormatUint(tr.PickupRequestID, 10),
			"amount":    tr.Amount.String(),
		})
	}
	return paid, nil
}

// ApproveTransaction marks an unpaid settlement paid by hand. Approving a
// paid one returns already=true.
func (s *Service) ApproveTransaction(ctx context.Context, id uint64) (*model.Transaction, bool, error) {
	tr, err := s.transaction(ctx, "id = ?", id)
	if err != nil {
		return nil, false, err
	}
	paid, err := s.markPaid(ctx, tr, nil, true)
	if err != nil {
		return nil, false, err
	}
	tr, err = s.transaction(ctx, "id = ?", id)
	if err != nil {
		return nil, false, err
	}
	return tr, !paid, nil
}

// RejectTransaction fails an unpaid settlement. Paid settlements cannot be rejected.
func (s *Service) RejectTransaction(ctx context.Context, id uint64, reason string) (*model.Transaction, error) {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("id = ? AND is_paid = ?", id, false).
		UpdateColumns(map[string]interface{}{
			"payment_status":       model.PaymentFailed,
			"needs_reconciliation": false,
			"updated_at":           now,
		})
	if res.Error != nil {
		return nil, errno.ErrDatabase.Wrap(res.Error)
	}
	tr, err := s.transaction(ctx, "id = ?", id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, errno.ErrInvalidTransition.WithMessage(fmt.Sprintf("transaction %d is paid and cannot be rejected", id))
	}
	logger.Warn("settlement rejected", zap.Uint64("transaction_id", id), zap.String("reason", reason))
	return tr, nil
}

// ConfirmPurchase completes a purchase after an admin checked the transfer.
func (s *Service) ConfirmPurchase(ctx context.Context, id uint64) (*purchase.CompleteResult, error) {
	res, err := s.purchases.Complete(ctx, id)
	if err != nil {
		return nil, err
	}
	if !res.AlreadyProcessed {
		notify.Send(ctx, s.notifier, res.Purchase.CollectorID, notify.KindCreditPurchase, map[string]string{
			"credits": res.Purchase.TotalCredits().String(),
		})
	}
	return res, nil
}

func (s *Service) RejectPurchase(ctx context.Context, id uint64, reason string) (*model.CreditPurchase, bool, error) {
	return s.purchases.Fail(ctx, id, reason)
}

// Reconciliation holds everything whose gateway amount disagreed.
type Reconciliation struct {
	Transactions []model.Transaction    `json:"transactions"`
	Purchases    []model.CreditPurchase `json:"credit_purchases"`
}

// ReconciliationQueue lists settlements and credit purchases waiting on a reviewer.
func (s *Service) ReconciliationQueue(ctx context.Context) (*Reconciliation, error) {
	q := &Reconciliation{Transactions: []model.Transaction{}}
	if err := s.db.WithContext(ctx).Where("needs_reconciliation = ?", true).Order("id").Find(&q.Transactions).Error; err != nil {
		return nil, errno.ErrDatabase.Wrap(err)
	}
	purchases, err := s.purchases.NeedingReconciliation(ctx)
	if err != nil {
		return nil, err
	}
	q.Purchases = purchases
	if q.Purchases == nil {
		q.Purchases = []model.CreditPurchase{}
	}
	return q, nil
}

func (s *Service) transaction(ctx context.Context, query string, args ...interface{}) (*model.Transaction, error) {
	var tr model.Transaction
	if err := s.db.WithContext(ctx).Where(query, args...).First(&tr).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrTransactionNotFound
		}
		return nil, errno.ErrDatabase.Wrap(err)
	}
	return &tr, nil
}

func purchaseOutcome(status string) string {
	if status == model.PaymentCompleted {
		return CallbackVerified
	}
	return CallbackFailed
}
