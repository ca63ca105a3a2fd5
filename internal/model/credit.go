package model

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"kawadi-core/pkg/errno"
	"kawadi-core/pkg/money"
)

// CollectorCreditAccount holds a collector's prepaid credits.
// Version is bumped on every balance write and used as a compare-and-swap guard.
type CollectorCreditAccount struct {
	ID                  uint64      `gorm:"primaryKey;autoIncrement" json:"id"`
	CollectorID         uint64      `gorm:"not null;uniqueIndex" json:"collector_id"`
	CurrentBalance      money.Money `gorm:"type:decimal(12,2);not null;default:0" json:"current_balance"`
	TotalPurchased      money.Money `gorm:"type:decimal(12,2);not null;default:0" json:"total_purchased"`
	TotalUsed           money.Money `gorm:"type:decimal(12,2);not null;default:0" json:"total_used"`
	DailyUsageLimit     money.Money `gorm:"type:decimal(12,2);not null;default:0" json:"daily_usage_limit"`
	LowBalanceThreshold money.Money `gorm:"type:decimal(12,2);not null;default:0" json:"low_balance_threshold"`
	IsActive            bool        `gorm:"not null;default:true" json:"is_active"`
	LastTransactionDate *time.Time  `json:"last_transaction_date,omitempty"`
	Version             uint64      `gorm:"not null;default:0" json:"version"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

func (CollectorCreditAccount) TableName() string {
	return "collector_credit_accounts"
}

func (a CollectorCreditAccount) HasSufficientBalance(amount money.Money) bool {
	return a.IsActive && a.CurrentBalance.GreaterThanOrEqual(amount)
}

func (a CollectorCreditAccount) IsLowBalance() bool {
	return a.CurrentBalance.LessThanOrEqual(a.LowBalanceThreshold)
}

const (
	EntryCredit = "credit"
	EntryDebit  = "debit"
)

// CreditTransaction is one append-only ledger row per balance mutation.
type CreditTransaction struct {
	ID               uint64      `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID        uint64      `gorm:"not null;index:idx_ledger_account_time,priority:1" json:"account_id"`
	Type             string      `gorm:"type:varchar(10);not null" json:"type"`
	Amount           money.Money `gorm:"type:decimal(12,2);not null" json:"amount"`
	BalanceBefore    money.Money `gorm:"type:decimal(12,2);not null" json:"balance_before"`
	BalanceAfter     money.Money `gorm:"type:decimal(12,2);not null" json:"balance_after"`
	PickupRequestID  *uint64     `gorm:"index" json:"pickup_request_id,omitempty"`
	CreditPurchaseID *uint64     `gorm:"index" json:"credit_purchase_id,omitempty"`
	Description      string      `gorm:"type:varchar(255)" json:"description"`
	CreatedAt        time.Time   `gorm:"index:idx_ledger_account_time,priority:2" json:"created_at"`
}

func (CreditTransaction) TableName() string {
	return "credit_transactions"
}

// Signed returns +amount for credits and -amount for debits.
func (e CreditTransaction) Signed() money.Money {
	if e.Type == EntryDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// BeforeCreate rejects rows whose balances do not move by exactly the signed amount.
func (e *CreditTransaction) BeforeCreate(tx *gorm.DB) error {
	if e.Type != EntryCredit && e.Type != EntryDebit {
		return errno.ErrIntegrityViolation.WithMessage(fmt.Sprintf("unknown ledger entry type %q", e.Type))
	}
	if !e.Amount.IsPositive() {
		return errno.ErrIntegrityViolation.WithMessage("ledger entry amount must be positive")
	}
	if !e.BalanceAfter.Sub(e.BalanceBefore).Equal(e.Signed()) {
		return errno.ErrIntegrityViolation.WithMessage(fmt.Sprintf(
			"ledger entry %s %s does not move balance %s -> %s", e.Type, e.Amount, e.BalanceBefore, e.BalanceAfter))
	}
	return nil
}

// CreditPurchase moves pending -> completed or pending -> failed; both are terminal.
type CreditPurchase struct {
	ID               uint64      `gorm:"primaryKey;autoIncrement" json:"id"`
	CollectorID      uint64      `gorm:"not null;index" json:"collector_id"`
	PackageID        uint64      `gorm:"not null;index" json:"package_id"`
	AmountPaid       money.Money `gorm:"type:decimal(12,2);not null" json:"amount_paid"`
	CreditsReceived  money.Money `gorm:"type:decimal(12,2);not null" json:"credits_received"`
	BonusCredits     money.Money `gorm:"type:decimal(12,2);not null;default:0" json:"bonus_credits"`
	PaymentMethod    string      `gorm:"type:varchar(20);not null" json:"payment_method"`
	PaymentReference string      `gorm:"type:varchar(100);index" json:"payment_reference,omitempty"`
	PaymentStatus    string      `gorm:"type:varchar(20);not null;default:'pending';index" json:"payment_status"`
	FailureReason    string      `gorm:"type:varchar(255)" json:"failure_reason,omitempty"`

	// Set when the gateway confirmed an amount other than AmountPaid. A flagged
	// purchase stays pending until an admin confirms or rejects it.
	NeedsReconciliation bool           `gorm:"not null;default:false;index" json:"needs_reconciliation"`
	ConfirmedAmount     *money.Money   `gorm:"type:decimal(12,2)" json:"confirmed_amount,omitempty"`
	GatewayResponse     datatypes.JSON `json:"gateway_response,omitempty"`

	PurchasedAt time.Time  `gorm:"not null" json:"purchased_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (CreditPurchase) TableName() string {
	return "credit_purchases"
}

func (p CreditPurchase) TotalCredits() money.Money {
	return p.CreditsReceived.Add(p.BonusCredits)
}

func (p CreditPurchase) Terminal() bool {
	return p.PaymentStatus != PaymentPending
}
