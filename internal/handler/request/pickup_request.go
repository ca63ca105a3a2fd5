package request

import "time"

type CreatePickupRequest struct {
	CustomerID      uint64     `json:"customer_id" binding:"required"`
	CategoryID      uint64     `json:"category_id" binding:"required"`
	EstimatedWeight string     `json:"estimated_weight" binding:"required"`
	Address         string     `json:"address" binding:"max=500"`
	ScheduledFor    *time.Time `json:"scheduled_for"`
}

type AssignPickupRequest struct {
	CollectorID uint64 `json:"collector_id" binding:"required"`
}

// Weights are range-checked by the pickup service so that a bad weight
// answers InvalidWeight rather than a bind error.
type CompletePickupRequest struct {
	ActualWeight  string `json:"actual_weight" binding:"required"`
	PaymentMethod string `json:"payment_method" binding:"omitempty,oneof=cash credits esewa khalti ime_pay fonepay"`
}
