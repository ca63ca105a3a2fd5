package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"kawadi-core/pkg/money"
)

const (
	MethodCash         = "cash"
	MethodCredits      = "credits"
	MethodEsewa        = "esewa"
	MethodKhalti       = "khalti"
	MethodImePay       = "ime_pay"
	MethodFonepay      = "fonepay"
	MethodBankTransfer = "bank_transfer"
)

const (
	PaymentPending    = "pending"
	PaymentProcessing = "processing"
	PaymentCompleted  = "completed"
	PaymentFailed     = "failed"
	PaymentRefunded   = "refunded"
)

// DefaultCommissionRate is the collector commission applied to every settlement.
var DefaultCommissionRate = decimal.RequireFromString("0.10")

// CommissionPolicy decides which rate a new settlement is charged. The
// commission amount itself is always derived from amount and rate on save.
type CommissionPolicy interface {
	RateFor(pickup *PickupRequest) decimal.Decimal
}

// FlatCommission charges the same rate on every pickup.
type FlatCommission struct {
	Rate decimal.Decimal
}

func (f FlatCommission) RateFor(*PickupRequest) decimal.Decimal {
	return f.Rate
}

// Transaction binds a completed pickup to its payment.
type Transaction struct {
	ID                   uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	PickupRequestID      uint64          `gorm:"not null;uniqueIndex" json:"pickup_request_id"`
	CustomerID           uint64          `gorm:"not null;index" json:"customer_id"`
	CollectorID          uint64          `gorm:"not null;index" json:"collector_id"`
	Amount               money.Money     `gorm:"type:decimal(12,2);not null" json:"amount"`
	CommissionRate       decimal.Decimal `gorm:"type:decimal(5,4);not null" json:"commission_rate"`
	CollectorCommission  money.Money     `gorm:"type:decimal(12,2);not null" json:"collector_commission"`
	PaymentMethod        string          `gorm:"type:varchar(20);not null;default:'cash'" json:"payment_method"`
	PaymentStatus        string          `gorm:"type:varchar(20);not null;default:'pending';index" json:"payment_status"`
	IsPaid               bool            `gorm:"not null;default:false" json:"is_paid"`
	PaymentGateway       string          `gorm:"type:varchar(20)" json:"payment_gateway,omitempty"`
	GatewayTransactionID string          `gorm:"type:varchar(100);index" json:"gateway_transaction_id,omitempty"`
	GatewayResponse      datatypes.JSON  `json:"gateway_response,omitempty"`
	NeedsReconciliation  bool            `gorm:"not null;default:false;index" json:"needs_reconciliation"`
	TransactionDate      time.Time       `gorm:"not null" json:"transaction_date"`
	PaymentInitiatedAt   *time.Time      `json:"payment_initiated_at,omitempty"`
	PaymentCompletedAt   *time.Time      `json:"payment_completed_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// DeriveCommission canonicalizes the amount and recomputes the commission.
func (t *Transaction) DeriveCommission() {
	t.Amount = money.New(t.Amount.Decimal())
	t.CollectorCommission = t.Amount.Mul(t.CommissionRate)
}

// BeforeSave keeps collector_commission derived on every create and full save.
func (t *Transaction) BeforeSave(tx *gorm.DB) error {
	t.DeriveCommission()
	return nil
}
