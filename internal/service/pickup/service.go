package pickup

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

	"kawadi-core/internal/model"
	"kawadi-core/internal/service/notify"
	"kawadi-core/pkg/errno"
	"kawadi-core/pkg/logger"
	"kawadi-core/pkg/money"
)

// MaxWeight is the heaviest single pickup accepted, in kg.
var MaxWeight = decimal.NewFromInt(1000)

// ValidateWeight accepts 0 < w <= MaxWeight with at most two decimals.
func ValidateWeight(w decimal.Decimal) error {
	if !w.IsPositive() || w.GreaterThan(MaxWeight) {
		return errno.ErrInvalidWeight
	}
	if !w.Equal(w.Round(2)) {
		return errno.ErrInvalidWeight.WithMessage("weight supports at most two decimal places")
	}
	return nil
}

type Service struct {
	db       *gorm.DB
	notifier notify.Notifier
	now      func() time.Time
}

func NewService(db *gorm.DB, notifier notify.Notifier, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{db: db, notifier: notifier, now: now}
}

type CreateRequest struct {
	CustomerID      uint64
	CategoryID      uint64
	EstimatedWeight decimal.Decimal
	Address         string
	ScheduledFor    *time.Time
}

// Create opens a pending pickup priced at the category's current rate.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.PickupRequest, error) {
	if req.CustomerID == 0 {
		return nil, errno.ErrValidation.WithMessage("customer id is required")
	}
	if err := ValidateWeight(req.EstimatedWeight); err != nil {
		return nil, err
	}
	var cat model.WasteCategory
	if err := s.db.WithContext(ctx).Where("id = ? AND is_active = ?", req.CategoryID, true).First(&cat).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrNotFound.WithMessage("waste category not found")
		}
		return nil, errno.ErrDatabase.Wrap(err)
	}

	p := &model.PickupRequest{
		CustomerID:      req.CustomerID,
		CategoryID:      cat.ID,
		EstimatedWeight: req.EstimatedWeight,
		EstimatedPrice:  money.Price(req.EstimatedWeight, cat.RatePerKg),
		Status:          model.PickupPending,
		Address:         req.Address,
		ScheduledFor:    req.ScheduledFor,
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, errno.ErrDatabase.Wrap(err)
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id uint64) (*model.PickupRequest, error) {
	var p model.PickupRequest
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrPickupNotFound
		}
		return nil, errno.ErrDatabase.Wrap(err)
	}
	return &p, nil
}

// Assign gives a pending (or rescheduled) pickup to a collector.
func (s *Service) Assign(ctx context.Context, id, collectorID uint64) (*model.PickupRequest, error) {
	if collectorID == 0 {
		return nil, errno.ErrValidation.WithMessage("collector id is required")
	}
	p, err := s.transition(ctx, id, []string{model.PickupPending, model.PickupRescheduled}, func(p *model.PickupRequest) {
		p.CollectorID = &collectorID
		p.Status = model.PickupAssigned
	})
	if err != nil {
		return nil, err
	}
	notify.Send(ctx, s.notifier, p.CustomerID, notify.KindPickupAssigned, map[string]string{
		"pickup_id":    strconv.FormatUint(p.ID, 10),
		"collector_id": strconv.FormatUint(collectorID, 10),
	})
	return p, nil
}

// Start marks the collector as on the way.
func (s *Service) Start(ctx context.Context, id uint64) (*model.PickupRequest, error) {
	return s.transition(ctx, id, []string{model.PickupAssigned}, func(p *model.PickupRequest) {
		p.Status = model.PickupInProgress
	})
}

// Cancel is allowed from any state except completed and cancelled.
func (s *Service) Cancel(ctx context.Context, id uint64) (*model.PickupRequest, error) {
	return s.transition(ctx, id, []string{
		model.PickupPending, model.PickupAssigned, model.PickupInProgress, model.PickupRescheduled, model.PickupFailed,
	}, func(p *model.PickupRequest) {
		p.Status = model.PickupCancelled
	})
}

func (s *Service) transition(ctx context.Context, id uint64, from []string, apply func(*model.PickupRequest)) (*model.PickupRequest, error) {
	var p model.PickupRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errno.ErrPickupNotFound
			}
			return errno.ErrDatabase.Wrap(err)
		}
		allowed := false
		for _, st := range from {
			if p.Status == st {
				allowed = true
				break
			}
		}
		if !allowed {
			if p.Status == model.PickupCompleted {
				return errno.ErrAlreadyCompleted
			}
			return errno.ErrInvalidTransition.WithMessage(fmt.Sprintf("pickup %d is %s", p.ID, p.Status))
		}
		before := p.Status
		apply(&p)
		p.UpdatedAt = s.now()
		if err := tx.Save(&p).Error; err != nil {
			return errno.ErrDatabase.Wrap(err)
		}
		logger.Info("pickup status changed",
			zap.Uint64("pickup_id", p.ID), zap.String("from", before), zap.String("to", p.Status))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}
