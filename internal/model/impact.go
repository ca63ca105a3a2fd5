package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Per-kilogram impact factors.
var (
	TreesPerKg = decimal.RequireFromString("0.017")
	CO2PerKg   = decimal.RequireFromString("0.82")
	WaterPerKg = decimal.RequireFromString("13.2")
)

// EnvironmentalImpact aggregates a customer's completed pickups.
type EnvironmentalImpact struct {
	ID             uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	CustomerID     uint64          `gorm:"not null;uniqueIndex" json:"customer_id"`
	TotalWeight    decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"total_weight"`
	TreesSaved     decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"trees_saved"`
	CO2Reduced     decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"co2_reduced"`
	WaterSaved     decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"water_saved"`
	PickupsCounted int64           `gorm:"not null;default:0" json:"pickups_counted"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (EnvironmentalImpact) TableName() string {
	return "environmental_impacts"
}
