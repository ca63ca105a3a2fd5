package purchase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"kawadi-core/internal/event"
	"kawadi-core/internal/model"
	"kawadi-core/internal/service/credit"
	"kawadi-core/pkg/errno"
	"kawadi-core/pkg/logger"
	"kawadi-core/pkg/monitor"
	"kawadi-core/pkg/money"
)

var allowedMethods = map[string]bool{
	model.MethodEsewa:        true,
	model.MethodKhalti:       true,
	model.MethodBankTransfer: true,
}

type Service struct {
	db      *gorm.DB
	credits *credit.Service
	catalog *Catalog
	now     func() time.Time
}

func NewService(db *gorm.DB, credits *credit.Service, catalog *Catalog, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{db: db, credits: credits, catalog: catalog, now: now}
}

// CompleteResult reports whether this call granted the credits.
type CompleteResult struct {
	Purchase *model.CreditPurchase
	// AlreadyProcessed is true when the purchase was completed earlier; nothing was credited.
	AlreadyProcessed bool
	Entry            *model.CreditTransaction
}

// Create snapshots an active package into a pending purchase.
func (s *Service) Create(ctx context.Context, collectorID, packageID uint64, method string) (*model.CreditPurchase, error) {
	if collectorID == 0 {
		return nil, errno.ErrValidation.WithMessage("collector id is required")
	}
	if !allowedMethods[method] {
		return nil, errno.ErrValidation.WithMessage(fmt.Sprintf("payment method %q is not accepted for credit purchases", method))
	}
	pkg, err := s.catalog.Package(ctx, packageID)
	if err != nil {
		return nil, err
	}

	p := &model.CreditPurchase{
		CollectorID:     collectorID,
		PackageID:       pkg.ID,
		AmountPaid:      pkg.PurchaseAmount,
		CreditsReceived: pkg.CreditAmount,
		BonusCredits:    pkg.BonusCredits,
		PaymentMethod:   method,
		PaymentStatus:   model.PaymentPending,
		PurchasedAt:     s.now(),
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, errno.ErrDatabase.Wrap(err)
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id uint64) (*model.CreditPurchase, error) {
	var p model.CreditPurchase
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrPurchaseNotFound
		}
		return nil, errno.ErrDatabase.Wrap(err)
	}
	return &p, nil
}

// FindByReference resolves a gateway token to its purchase.
func (s *Service) FindByReference(ctx context.Context, method, reference string) (*model.CreditPurchase, error) {
	var p model.CreditPurchase
	err := s.db.WithContext(ctx).
		Where("payment_method = ? AND payment_reference = ?", method, reference).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrPurchaseNotFound
		}
		return nil, errno.ErrDatabase.Wrap(err)
	}
	return &p, nil
}

// AttachReference stores the gateway token on a pending purchase.
func (s *Service) AttachReference(ctx context.Context, id uint64, reference string) error {
	res := s.db.WithContext(ctx).Model(&model.CreditPurchase{}).
		Where("id = ? AND payment_status = ?", id, model.PaymentPending).
		Updates(map[string]interface{}{"payment_reference": reference, "updated_at": s.now()})
	if res.Error != nil {
		return errno.ErrDatabase.Wrap(res.Error)
	}
	if res.RowsAffected == 0 {
		return errno.ErrInvalidTransition.WithMessage("purchase is no longer pending")
	}
	return nil
}

// Complete moves pending -> completed and grants credits exactly once.
// The status flip is a compare-and-swap, so of two concurrent callers only the
// one that flips it reaches AddCredits; the other sees AlreadyProcessed.
func (s *Service) Complete(ctx context.Context, id uint64) (*CompleteResult, error) {
	var (
		result CompleteResult
		p      model.CreditPurchase
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()

		// 1. CAS pending -> completed
		res := tx.Model(&model.CreditPurchase{}).
			Where("id = ? AND payment_status = ?", id, model.PaymentPending).
			Updates(map[string]interface{}{
				"payment_status":       model.PaymentCompleted,
				"needs_reconciliation": false,
				"completed_at":         now,
				"updated_at":           now,
			})
		if res.Error != nil {
			return errno.ErrDatabase.Wrap(res.Error)
		}

		if err := tx.First(&p, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errno.ErrPurchaseNotFound
			}
			return errno.ErrDatabase.Wrap(err)
		}

		// 2. lost the CAS: decide from the current state
		if res.RowsAffected == 0 {
			switch p.PaymentStatus {
			case model.PaymentCompleted:
				result.AlreadyProcessed = true
				return nil
			default:
				return errno.ErrInvalidTransition.WithMessage(fmt.Sprintf(
					"purchase %d is %s and cannot complete", p.ID, p.PaymentStatus))
			}
		}

		// 3. grant credits in the same unit
		total := p.TotalCredits()
		if !total.IsPositive() {
			return errno.ErrIntegrityViolation.WithMessage(fmt.Sprintf("purchase %d grants no credits", p.ID))
		}
		entry, err := s.credits.WithTx(tx).AddCredits(ctx, p.CollectorID, total, &p.ID,
			fmt.Sprintf("Credit purchase #%d", p.ID))
		if err != nil {
			return err
		}
		result.Entry = entry

		return model.CreateOutboxMessage(tx, event.TopicCredit, strconv.FormatUint(p.CollectorID, 10), event.CreditPurchaseEvent{
			Header:      event.Header{Type: event.TypePurchaseCompleted, OccurredAt: now},
			PurchaseID:  p.ID,
			CollectorID: p.CollectorID,
			Credits:     total.String(),
			Method:      p.PaymentMethod,
		})
	})
	if err != nil {
		return nil, err
	}

	result.Purchase = &p
	if result.AlreadyProcessed {
		logger.Info("credit purchase already completed, skipping", zap.Uint64("purchase_id", id))
	} else {
		monitor.Business.PurchasesTotal.WithLabelValues(p.PaymentMethod, model.PaymentCompleted).Inc()
		logger.Info("credit purchase completed",
			zap.Uint64("purchase_id", p.ID),
			zap.Uint64("collector_id", p.CollectorID),
			zap.String("credits", p.TotalCredits().String()))
	}
	return &result, nil
}

// Fail moves pending -> failed. No ledger mutation happens. Failing an
// already failed purchase is a no-op; failing a completed one is refused.
func (s *Service) Fail(ctx context.Context, id uint64, reason string) (*model.CreditPurchase, bool, error) {
	var (
		p       model.CreditPurchase
		already bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		res := tx.Model(&model.CreditPurchase{}).
			Where("id = ? AND payment_status = ?", id, model.PaymentPending).
			Updates(map[string]interface{}{
				"payment_status":       model.PaymentFailed,
				"needs_reconciliation": false,
				"failure_reason":       truncate(reason, 255),
				"updated_at":           now,
			})
		if res.Error != nil {
			return errno.ErrDatabase.Wrap(res.Error)
		}
		if err := tx.First(&p, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errno.ErrPurchaseNotFound
			}
			return errno.ErrDatabase.Wrap(err)
		}
		if res.RowsAffected == 0 {
			if p.PaymentStatus == model.PaymentFailed {
				already = true
				return nil
			}
			return errno.ErrInvalidTransition.WithMessage(fmt.Sprintf(
				"purchase %d is %s and cannot fail", p.ID, p.PaymentStatus))
		}
		return model.CreateOutboxMessage(tx, event.TopicCredit, strconv.FormatUint(p.CollectorID, 10), event.CreditPurchaseEvent{
			Header:      event.Header{Type: event.TypePurchaseFailed, OccurredAt: now},
			PurchaseID:  p.ID,
			CollectorID: p.CollectorID,
			Credits:     p.TotalCredits().String(),
			Method:      p.PaymentMethod,
			Reason:      reason,
		})
	})
	if err != nil {
		return nil, false, err
	}
	if !already {
		monitor.Business.PurchasesTotal.WithLabelValues(p.PaymentMethod, model.PaymentFailed).Inc()
		logger.Warn("credit purchase failed", zap.Uint64("purchase_id", p.ID), zap.String("reason", reason))
	}
	return &p, already, nil
}

// FlagMismatch records a gateway confirmation that disagrees with the amount
// paid. The purchase stays pending and waits for an admin.
func (s *Service) FlagMismatch(ctx context.Context, id uint64, confirmed money.Money, response []byte) error {
	cols := map[string]interface{}{
		"needs_reconciliation": true,
		"confirmed_amount":     confirmed,
		"updated_at":           s.now(),
	}
	if len(response) > 0 {
		cols["gateway_response"] = response
	}
	res := s.db.WithContext(ctx).Model(&model.CreditPurchase{}).
		Where("id = ? AND payment_status = ?", id, model.PaymentPending).
		UpdateColumns(cols)
	if res.Error != nil {
		return errno.ErrDatabase.Wrap(res.Error)
	}
	if res.RowsAffected == 0 {
		return errno.ErrInvalidTransition.WithMessage("purchase is no longer pending")
	}
	return nil
}

// NeedingReconciliation lists flagged purchases, oldest first.
func (s *Service) NeedingReconciliation(ctx context.Context) ([]model.CreditPurchase, error) {
	var rows []model.CreditPurchase
	err := s.db.WithContext(ctx).
		Where("payment_status = ? AND needs_reconciliation = ?", model.PaymentPending, true).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, errno.ErrDatabase.Wrap(err)
	}
	return rows, nil
}

// PendingOlderThan lists purchases still waiting on a gateway. Flagged
// purchases are left out; they belong to an admin.
func (s *Service) PendingOlderThan(ctx context.Context, age time.Duration) ([]model.CreditPurchase, error) {
	var rows []model.CreditPurchase
	err := s.db.WithContext(ctx).
		Where("payment_status = ? AND needs_reconciliation = ? AND purchased_at < ?",
			model.PaymentPending, false, s.now().Add(-age)).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, errno.ErrDatabase.Wrap(err)
	}
	return rows, nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
