package event

import "time"

const (
	TopicSettlement = "kawadi_events_settlement"
	TopicCredit     = "kawadi_events_credit"
)

const (
	TypePickupCompleted   = "pickup.completed"
	TypeTransactionPaid   = "transaction.paid"
	TypePurchaseCompleted = "credit.purchase_completed"
	TypePurchaseFailed    = "credit.purchase_failed"
	TypeLowBalance        = "credit.low_balance"
)

// Header is embedded in every event so consumers can dispatch on Type.
type Header struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PickupCompletedEvent
// Topic: kawadi_events_settlement
type PickupCompletedEvent struct {
	Header
	PickupID      uint64 `json:"pickup_id"`
	TransactionID uint64 `json:"transaction_id"`
	CustomerID    uint64 `json:"customer_id"`
	CollectorID   uint64 `json:"collector_id"`
	Weight        string `json:"weight"` // Decimal string
	Amount        string `json:"amount"`
	Commission    string `json:"commission"`
	PaymentMethod string `json:"payment_method"`
}

// TransactionPaidEvent fires when a gateway or an admin confirms a pending settlement.
// Topic: kawadi_events_settlement
type TransactionPaidEvent struct {
	Header
	TransactionID uint64 `json:"transaction_id"`
	CustomerID    uint64 `json:"customer_id"`
	Amount        string `json:"amount"`
	Gateway       string `json:"gateway"`
}

// CreditPurchaseEvent covers both terminal purchase states.
// Topic: kawadi_events_credit
type CreditPurchaseEvent struct {
	Header
	PurchaseID  uint64 `json:"purchase_id"`
	CollectorID uint64 `json:"collector_id"`
	Credits     string `json:"credits"`
	Method      string `json:"method"`
	Reason      string `json:"reason,omitempty"`
}

// LowBalanceEvent is emitted when a debit leaves the balance at or under the threshold.
// Topic: kawadi_events_credit
type LowBalanceEvent struct {
	Header
	CollectorID uint64 `json:"collector_id"`
	Balance     string `json:"balance"`
	Threshold   string `json:"threshold"`
}
