package model

import (
	"time"

	"github.com/shopspring/decimal"

	"kawadi-core/pkg/money"
)

const (
	PickupPending     = "pending"
	PickupAssigned    = "assigned"
	PickupInProgress  = "in_progress"
	PickupCompleted   = "completed"
	PickupCancelled   = "cancelled"
	PickupFailed      = "failed"
	PickupRescheduled = "rescheduled"
)

// PickupRequest is a customer's request for a collector visit.
type PickupRequest struct {
	ID              uint64              `gorm:"primaryKey;autoIncrement" json:"id"`
	CustomerID      uint64              `gorm:"not null;index" json:"customer_id"`
	CollectorID     *uint64             `gorm:"index" json:"collector_id,omitempty"`
	CategoryID      uint64              `gorm:"not null;index" json:"category_id"`
	EstimatedWeight decimal.Decimal     `gorm:"type:decimal(8,2);not null" json:"estimated_weight"`
	ActualWeight    decimal.NullDecimal `gorm:"type:decimal(8,2)" json:"actual_weight"`
	EstimatedPrice  money.Money         `gorm:"type:decimal(12,2);not null;default:0" json:"estimated_price"`
	ActualPrice     *money.Money        `gorm:"type:decimal(12,2)" json:"actual_price,omitempty"`
	// AppliedRate is the category rate in force when the weight was finalized.
	AppliedRate  *money.Money `gorm:"type:decimal(12,2)" json:"applied_rate,omitempty"`
	Status       string       `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Address      string       `gorm:"type:varchar(255)" json:"address"`
	ScheduledFor *time.Time   `json:"scheduled_for,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

func (PickupRequest) TableName() string {
	return "pickup_requests"
}

// Terminal reports whether the pickup can no longer change status.
func (p PickupRequest) Terminal() bool {
	switch p.Status {
	case PickupCompleted, PickupCancelled, PickupFailed:
		return true
	}
	return false
}
