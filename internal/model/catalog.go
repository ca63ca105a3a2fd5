package model

import (
	"time"

	"github.com/shopspring/decimal"

	"kawadi-core/pkg/money"
)

// WasteCategory is a recyclable material and its buying rate. Rate edits only
// affect pickups settled afterwards.
type WasteCategory struct {
	ID        uint64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string      `gorm:"type:varchar(100);not null;uniqueIndex" json:"name"`
	RatePerKg money.Money `gorm:"type:decimal(12,2);not null;default:0" json:"rate_per_kg"`
	IsActive  bool        `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (WasteCategory) TableName() string {
	return "waste_categories"
}

// CreditPackage is a catalog entry collectors buy credits from.
type CreditPackage struct {
	ID             uint64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name           string      `gorm:"type:varchar(100);not null;uniqueIndex" json:"name"`
	PurchaseAmount money.Money `gorm:"type:decimal(12,2);not null" json:"purchase_amount"`
	CreditAmount   money.Money `gorm:"type:decimal(12,2);not null" json:"credit_amount"`
	BonusCredits   money.Money `gorm:"type:decimal(12,2);not null;default:0" json:"bonus_credits"`
	// CommissionRate is stored for the catalog but not applied; commission stays flat.
	CommissionRate decimal.NullDecimal `gorm:"type:decimal(5,4)" json:"commission_rate,omitempty"`
	IsPopular      bool                `gorm:"not null;default:false" json:"is_popular"`
	IsActive       bool                `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

func (CreditPackage) TableName() string {
	return "credit_packages"
}

// TotalCredits is what a completed purchase of this package grants.
func (p CreditPackage) TotalCredits() money.Money {
	return p.CreditAmount.Add(p.BonusCredits)
}
