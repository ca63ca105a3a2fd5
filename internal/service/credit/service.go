package credit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"kawadi-core/internal/event"
	"kawadi-core/internal/model"
	"kawadi-core/pkg/errno"
	"kawadi-core/pkg/logger"
	"kawadi-core/pkg/monitor"
	"kawadi-core/pkg/money"
)

// errStaleVersion means another writer bumped the account between our read
// and our conditional update.
var errStaleVersion = errors.New("credit account version changed")

const maxWriteAttempts = 5

// AccountDefaults seed lazily created accounts.
type AccountDefaults struct {
	DailyUsageLimit     money.Money
	LowBalanceThreshold money.Money
}

type Service struct {
	db       *gorm.DB
	now      func() time.Time
	defaults AccountDefaults
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithDefaults(d AccountDefaults) Option {
	return func(s *Service) { s.defaults = d }
}

func NewService(db *gorm.DB, opts ...Option) *Service {
	s := &Service{
		db:  db,
		now: time.Now,
		defaults: AccountDefaults{
			DailyUsageLimit:     money.FromInt(10000),
			LowBalanceThreshold: money.FromInt(500),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithTx returns a copy whose writes join tx. Nested calls run as savepoints,
// so a refused debit does not poison the caller's transaction.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	cp := *s
	cp.db = tx
	return &cp
}

// DeductResult is the outcome of a debit attempt. A refused debit is not an error.
type DeductResult struct {
	Success bool
	// Reason is ErrInsufficientBalance or ErrAccountInactive when Success is false.
	Reason  error
	Entry   *model.CreditTransaction
	Balance money.Money
}

type mutation struct {
	entryType   string
	amount      money.Money
	pickupID    *uint64
	purchaseID  *uint64
	description string
}

// EnsureAccount returns the collector's account, creating it on first access.
// Creation races are settled by the unique index on collector_id.
func (s *Service) EnsureAccount(ctx context.Context, collectorID uint64) (*model.CollectorCreditAccount, error) {
	var acc model.CollectorCreditAccount
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := s.ensure(tx, collectorID, false)
		if err != nil {
			return err
		}
		acc = *a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *Service) ensure(tx *gorm.DB, collectorID uint64, lock bool) (*model.CollectorCreditAccount, error) {
	if collectorID == 0 {
		return nil, errno.ErrValidation.WithMessage("collector id is required")
	}
	read := func() (*model.CollectorCreditAccount, error) {
		var acc model.CollectorCreditAccount
		q := tx
		if lock {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := q.Where("collector_id = ?", collectorID).First(&acc).Error; err != nil {
			return nil, err
		}
		return &acc, nil
	}

	acc, err := read()
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errno.ErrDatabase.Wrap(err)
	}

	fresh := model.CollectorCreditAccount{
		CollectorID:         collectorID,
		DailyUsageLimit:     s.defaults.DailyUsageLimit,
		LowBalanceThreshold: s.defaults.LowBalanceThreshold,
		IsActive:            true,
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collector_id"}},
		DoNothing: true,
	}).Create(&fresh).Error; err != nil {
		return nil, errno.ErrDatabase.Wrap(err)
	}

	acc, err = read()
	if err != nil {
		return nil, errno.ErrDatabase.Wrap(err)
	}
	return acc, nil
}

// GetBalance returns the current balance, creating the account if needed.
func (s *Service) GetBalance(ctx context.Context, collectorID uint64) (money.Money, error) {
	acc, err := s.EnsureAccount(ctx, collectorID)
	if err != nil {
		return money.Zero, err
	}
	return acc.CurrentBalance, nil
}

func (s *Service) HasSufficientBalance(ctx context.Context, collectorID uint64, amount money.Money) (bool, error) {
	acc, err := s.EnsureAccount(ctx, collectorID)
	if err != nil {
		return false, err
	}
	return acc.HasSufficientBalance(amount), nil
}

func (s *Service) IsLowBalance(ctx context.Context, collectorID uint64) (bool, error) {
	acc, err := s.EnsureAccount(ctx, collectorID)
	if err != nil {
		return false, err
	}
	return acc.IsLowBalance(), nil
}

// DeductCredits debits the account if, and only if, it is active and holds at
// least amount. Check, update and ledger append happen in one transaction.
func (s *Service) DeductCredits(ctx context.Context, collectorID uint64, amount money.Money, pickupID *uint64, description string) (*DeductResult, error) {
	if !amount.IsPositive() {
		return nil, errno.ErrValidation.WithMessage("deduction amount must be positive")
	}

	entry, acc, err := s.apply(ctx, collectorID, mutation{
		entryType:   model.EntryDebit,
		amount:      amount,
		pickupID:    pickupID,
		description: description,
	})
	switch {
	case errors.Is(err, errno.ErrInsufficientBalance), errors.Is(err, errno.ErrAccountInactive):
		reason := "insufficient"
		if errors.Is(err, errno.ErrAccountInactive) {
			reason = "inactive"
		}
		monitor.Business.DeductionsRejectedTotal.WithLabelValues(reason).Inc()
		res := &DeductResult{Success: false, Reason: err}
		if acc != nil {
			res.Balance = acc.CurrentBalance
		}
		return res, nil
	case err != nil:
		return nil, err
	}

	monitor.Business.CreditsDeductedTotal.Add(amount.Decimal().InexactFloat64())
	return &DeductResult{Success: true, Entry: entry, Balance: acc.CurrentBalance}, nil
}

// DeductForPickup is the settlement-facing debit: true when the collector paid.
func (s *Service) DeductForPickup(ctx context.Context, collectorID uint64, amount money.Money, pickupID uint64) (bool, error) {
	res, err := s.DeductCredits(ctx, collectorID, amount, &pickupID, fmt.Sprintf("Payment for pickup #%d", pickupID))
	if err != nil {
		return false, err
	}
	return res.Success, nil
}

// AddCredits credits the account. Only called after a verified payment.
func (s *Service) AddCredits(ctx context.Context, collectorID uint64, amount money.Money, purchaseID *uint64, description string) (*model.CreditTransaction, error) {
	if !amount.IsPositive() {
		return nil, errno.ErrValidation.WithMessage("credit amount must be positive")
	}
	entry, _, err := s.apply(ctx, collectorID, mutation{
		entryType:   model.EntryCredit,
		amount:      amount,
		purchaseID:  purchaseID,
		description: description,
	})
	if err != nil {
		return nil, err
	}
	monitor.Business.CreditsAddedTotal.Add(amount.Decimal().InexactFloat64())
	return entry, nil
}

// apply runs one ledger mutation, retrying when the version check loses a race.
// On a refused debit it returns the account as read together with the error.
func (s *Service) apply(ctx context.Context, collectorID uint64, m mutation) (*model.CreditTransaction, *model.CollectorCreditAccount, error) {
	for attempt := 1; ; attempt++ {
		var (
			entry model.CreditTransaction
			acc   *model.CollectorCreditAccount
		)
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// 1. lock the account row (ignored by sqlite)
			a, err := s.ensure(tx, collectorID, true)
			if err != nil {
				return err
			}
			acc = a

			// 2. balance check
			if m.entryType == model.EntryDebit {
				if !acc.IsActive {
					return errno.ErrAccountInactive
				}
				if !acc.HasSufficientBalance(m.amount) {
					return errno.ErrInsufficientBalance.WithMessage(fmt.Sprintf(
						"balance %s is below %s", acc.CurrentBalance, m.amount))
				}
			}

			// 3. conditional update on the version we read
			now := s.now()
			before := acc.CurrentBalance
			updates := map[string]interface{}{
				"version":               acc.Version + 1,
				"last_transaction_date": now,
				"updated_at":            now,
			}
			var after money.Money
			if m.entryType == model.EntryDebit {
				after = before.Sub(m.amount)
				updates["total_used"] = acc.TotalUsed.Add(m.amount)
			} else {
				after = before.Add(m.amount)
				updates["total_purchased"] = acc.TotalPurchased.Add(m.amount)
			}
			updates["current_balance"] = after

			res := tx.Model(&model.CollectorCreditAccount{}).
				Where("id = ? AND version = ?", acc.ID, acc.Version).
				Updates(updates)
			if res.Error != nil {
				return errno.ErrDatabase.Wrap(res.Error)
			}
			if res.RowsAffected == 0 {
				return errStaleVersion
			}

			// 4. ledger row in the same unit
			entry = model.CreditTransaction{
				AccountID:        acc.ID,
				Type:             m.entryType,
				Amount:           m.amount,
				BalanceBefore:    before,
				BalanceAfter:     after,
				PickupRequestID:  m.pickupID,
				CreditPurchaseID: m.purchaseID,
				Description:      m.description,
				CreatedAt:        now,
			}
			if err := tx.Create(&entry).Error; err != nil {
				return err
			}

			crossed := m.entryType == model.EntryDebit &&
				before.Cmp(acc.LowBalanceThreshold) > 0 && after.LessThanOrEqual(acc.LowBalanceThreshold)

			acc.CurrentBalance = after
			acc.Version++
			acc.LastTransactionDate = &now
			if m.entryType == model.EntryDebit {
				acc.TotalUsed = acc.TotalUsed.Add(m.amount)
			} else {
				acc.TotalPurchased = acc.TotalPurchased.Add(m.amount)
			}

			if crossed {
				return model.CreateOutboxMessage(tx, event.TopicCredit, strconv.FormatUint(collectorID, 10), event.LowBalanceEvent{
					Header:      event.Header{Type: event.TypeLowBalance, OccurredAt: now},
					CollectorID: collectorID,
					Balance:     after.String(),
					Threshold:   acc.LowBalanceThreshold.String(),
				})
			}
			return nil
		})

		if errors.Is(err, errStaleVersion) {
			if attempt < maxWriteAttempts {
				logger.Debug("credit account write lost version race, retrying",
					zap.Uint64("collector_id", collectorID), zap.Int("attempt", attempt))
				continue
			}
			return nil, nil, errno.ErrDatabase.WithMessage("credit account is busy, retry later")
		}
		if errors.Is(err, errno.ErrIntegrityViolation) {
			monitor.Business.IntegrityViolationsTotal.Inc()
			logger.Error("ledger write aborted", zap.Uint64("collector_id", collectorID), zap.Error(err))
		}
		if err != nil {
			return nil, acc, err
		}
		return &entry, acc, nil
	}
}

// History returns ledger rows newest first.
func (s *Service) History(ctx context.Context, collectorID uint64, limit int) ([]model.CreditTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	acc, err := s.EnsureAccount(ctx, collectorID)
	if err != nil {
		return nil, err
	}
	var rows []model.CreditTransaction
	if err := s.db.WithContext(ctx).
		Where("account_id = ?", acc.ID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, errno.ErrDatabase.Wrap(err)
	}
	return rows, nil
}
