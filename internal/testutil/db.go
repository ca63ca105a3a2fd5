// Package testutil builds throwaway stores for package tests.
package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"kawadi-core/internal/model"
	"kawadi-core/pkg/database"
	"kawadi-core/pkg/money"
)

// NewDB returns a migrated in-memory sqlite database closed at test end.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := database.ConnectSQLite(":memory:", gormlogger.Silent)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.AllModels()...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Clock is a fake time source that advances 1ms per reading.
type Clock struct {
	mu sync.Mutex
	T  time.Time
}

func NewClock() *Clock {
	return &Clock{T: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.T = c.T.Add(time.Millisecond)
	return c.T
}

// SeedCategory inserts a waste category with the given rate.
func SeedCategory(t testing.TB, db *gorm.DB, name, rate string) *model.WasteCategory {
	t.Helper()
	c := &model.WasteCategory{Name: name, RatePerKg: money.MustParse(rate), IsActive: true}
	require.NoError(t, db.Create(c).Error)
	return c
}

// SeedPickup inserts an assigned pickup for collectorID.
func SeedPickup(t testing.TB, db *gorm.DB, customerID, collectorID uint64, category *model.WasteCategory, estimated string) *model.PickupRequest {
	t.Helper()
	p := &model.PickupRequest{
		CustomerID:  customerID,
		CategoryID:  category.ID,
		Status:      model.PickupAssigned,
		CollectorID: &collectorID,
	}
	p.EstimatedWeight = money.MustParse(estimated).Decimal()
	p.EstimatedPrice = money.Price(p.EstimatedWeight, category.RatePerKg)
	require.NoError(t, db.Create(p).Error)
	return p
}

// SeedPackage inserts an active credit package.
func SeedPackage(t testing.TB, db *gorm.DB, name, price, credits, bonus string) *model.CreditPackage {
	t.Helper()
	p := &model.CreditPackage{
		Name:           name,
		PurchaseAmount: money.MustParse(price),
		CreditAmount:   money.MustParse(credits),
		BonusCredits:   money.MustParse(bonus),
		IsActive:       true,
	}
	require.NoError(t, db.Create(p).Error)
	return p
}
