package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	GatewayOpInitiate = "initiate"
	GatewayOpVerify   = "verify"
	GatewayOpCallback = "callback"

	GatewayPhaseRequest  = "request"
	GatewayPhaseResponse = "response"
)

// PaymentGatewayLog is append-only. A request row is written before the
// network call, a response row after it, so an interrupted call still leaves
// the attempt on record.
type PaymentGatewayLog struct {
	ID               uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	GatewayName      string         `gorm:"type:varchar(20);not null;index" json:"gateway_name"`
	Operation        string         `gorm:"type:varchar(20);not null" json:"operation"`
	Phase            string         `gorm:"type:varchar(10);not null" json:"phase"`
	Reference        string         `gorm:"type:varchar(100);index" json:"reference,omitempty"`
	IdempotencyKey   string         `gorm:"type:varchar(150);index" json:"idempotency_key"`
	TransactionID    *uint64        `gorm:"index" json:"transaction_id,omitempty"`
	CreditPurchaseID *uint64        `gorm:"index" json:"credit_purchase_id,omitempty"`
	Payload          datatypes.JSON `json:"payload,omitempty"`
	PayloadHash      string         `gorm:"type:varchar(64)" json:"payload_hash,omitempty"`
	Success          bool           `gorm:"not null;default:false" json:"success"`
	ErrorMessage     string         `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

func (PaymentGatewayLog) TableName() string {
	return "payment_gateway_logs"
}
