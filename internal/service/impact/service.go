// Package impact keeps the per-customer environmental totals.
package impact

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"kawadi-core/internal/model"
	"kawadi-core/pkg/errno"
)

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// OnPickupCompleted recomputes the totals of the pickup's customer.
func (s *Service) OnPickupCompleted(ctx context.Context, pickupID uint64) error {
	var p model.PickupRequest
	if err := s.db.WithContext(ctx).Select("id", "customer_id").First(&p, "id = ?", pickupID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errno.ErrPickupNotFound
		}
		return errno.ErrDatabase.Wrap(err)
	}
	_, err := s.Recalculate(ctx, p.CustomerID)
	return err
}

// Recalculate rebuilds the totals from every completed pickup, so running it
// twice gives the same row.
func (s *Service) Recalculate(ctx context.Context, customerID uint64) (*model.EnvironmentalImpact, error) {
	var weights []decimal.NullDecimal
	err := s.db.WithContext(ctx).Model(&model.PickupRequest{}).
		Where("customer_id = ? AND status = ?", customerID, model.PickupCompleted).
		Pluck("actual_weight", &weights).Error
	if err != nil {
		return nil, errno.ErrDatabase.Wrap(err)
	}

	total := decimal.Zero
	var counted int64
	for _, w := range weights {
		if !w.Valid {
			continue
		}
		total = total.Add(w.Decimal)
		counted++
	}

	row := &model.EnvironmentalImpact{
		CustomerID:     customerID,
		TotalWeight:    total.Round(2),
		TreesSaved:     total.Mul(model.TreesPerKg).Round(2),
		CO2Reduced:     total.Mul(model.CO2PerKg).Round(2),
		WaterSaved:     total.Mul(model.WaterPerKg).Round(2),
		PickupsCounted: counted,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "customer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"total_weight", "trees_saved", "co2_reduced", "water_saved", "pickups_counted", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return nil, errno.ErrDatabase.Wrap(err)
	}
	return s.Get(ctx, customerID)
}

func (s *Service) Get(ctx context.Context, customerID uint64) (*model.EnvironmentalImpact, error) {
	var row model.EnvironmentalImpact
	if err := s.db.WithContext(ctx).First(&row, "customer_id = ?", customerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &model.EnvironmentalImpact{CustomerID: customerID}, nil
		}
		return nil, errno.ErrDatabase.Wrap(err)
	}
	return &row, nil
}
