package purchase

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"kawadi-core/internal/model"
	"kawadi-core/pkg/cache"
	"kawadi-core/pkg/errno"
	"kawadi-core/pkg/money"
)

const (
	catalogKey = "credit_packages:active"
	catalogTTL = 10 * time.Minute
)

// Catalog serves the active credit packages through the cache.
type Catalog struct {
	db    *gorm.DB
	cache cache.Cache
}

// NewCatalog accepts a nil cache, in which case every read hits the database.
func NewCatalog(db *gorm.DB, c cache.Cache) *Catalog {
	return &Catalog{db: db, cache: c}
}

func (c *Catalog) Active(ctx context.Context) ([]model.CreditPackage, error) {
	return cache.GetOrLoad(ctx, c.cache, catalogKey, catalogTTL, func(ctx context.Context) ([]model.CreditPackage, error) {
		var pkgs []model.CreditPackage
		if err := c.db.WithContext(ctx).
			Where("is_active = ?", true).
			Order("purchase_amount ASC").
			Find(&pkgs).Error; err != nil {
			return nil, errno.ErrDatabase.Wrap(err)
		}
		return pkgs, nil
	})
}

// Package returns an active package by id.
func (c *Catalog) Package(ctx context.Context, id uint64) (*model.CreditPackage, error) {
	pkgs, err := c.Active(ctx)
	if err != nil {
		return nil, err
	}
	for i := range pkgs {
		if pkgs[i].ID == id {
			return &pkgs[i], nil
		}
	}
	// a package added after the cache was filled
	var p model.CreditPackage
	if err := c.db.WithContext(ctx).Where("id = ? AND is_active = ?", id, true).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrPackageNotFound
		}
		return nil, errno.ErrDatabase.Wrap(err)
	}
	c.Invalidate(ctx)
	return &p, nil
}

// Upsert creates or updates a package by name and drops the cached catalog.
func (c *Catalog) Upsert(ctx context.Context, p *model.CreditPackage) error {
	var existing model.CreditPackage
	err := c.db.WithContext(ctx).Where("name = ?", p.Name).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := c.db.WithContext(ctx).Create(p).Error; err != nil {
			return errno.ErrDatabase.Wrap(err)
		}
	case err != nil:
		return errno.ErrDatabase.Wrap(err)
	default:
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
		if err := c.db.WithContext(ctx).Save(p).Error; err != nil {
			return errno.ErrDatabase.Wrap(err)
		}
	}
	c.Invalidate(ctx)
	return nil
}

func (c *Catalog) Invalidate(ctx context.Context) {
	if c.cache != nil {
		_ = c.cache.Delete(ctx, catalogKey)
	}
}

// DefaultPackages is the launch catalog.
func DefaultPackages() []model.CreditPackage {
	mk := func(name, price, credits, bonus string, popular bool) model.CreditPackage {
		return model.CreditPackage{
			Name:           name,
			PurchaseAmount: money.MustParse(price),
			CreditAmount:   money.MustParse(credits),
			BonusCredits:   money.MustParse(bonus),
			IsPopular:      popular,
			IsActive:       true,
		}
	}
	return []model.CreditPackage{
		mk("Starter", "1000", "900", "0", false),
		mk("Professional", "5000", "4500", "100", true),
		mk("Business", "10000", "9000", "300", false),
		mk("Enterprise", "25000", "22500", "1000", false),
	}
}
