package credit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"kawadi-core/internal/event"
	"kawadi-core/internal/model"
	"kawadi-core/internal/testutil"
	"kawadi-core/pkg/errno"
	"kawadi-core/pkg/money"
)

func newService(t *testing.T) (*Service, *gorm.DB) {
	db := testutil.NewDB(t)
	clock := testutil.NewClock()
	return NewService(db, WithClock(clock.Now)), db
}

func fund(t *testing.T, s *Service, collectorID uint64, amount string) {
	t.Helper()
	_, err := s.AddCredits(context.Background(), collectorID, money.MustParse(amount), nil, "test funding")
	require.NoError(t, err)
}

func TestEnsureAccountIsIdempotent(t *testing.T) {
	s, db := newService(t)
	ctx := context.Background()

	a1, err := s.EnsureAccount(ctx, 7)
	require.NoError(t, err)
	a2, err := s.EnsureAccount(ctx, 7)
	require.NoError(t, err)

	assert.Equal(t, a1.ID, a2.ID)
	assert.True(t, a1.IsActive)
	assert.Equal(t, "0.00", a1.CurrentBalance.String())
	assert.Equal(t, "500.00", a1.LowBalanceThreshold.String())

	var count int64
	db.Model(&model.CollectorCreditAccount{}).Where("collector_id = ?", 7).Count(&count)
	assert.Equal(t, int64(1), count)

	_, err = s.EnsureAccount(ctx, 0)
	assert.True(t, errors.Is(err, errno.ErrValidation))
}

func TestEnsureAccountConcurrent(t *testing.T) {
	s, db := newService(t)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.EnsureAccount(context.Background(), 3)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var count int64
	db.Model(&model.CollectorCreditAccount{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestAddCredits(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	purchaseID := uint64(11)

	entry, err := s.AddCredits(ctx, 1, money.MustParse("900"), &purchaseID, "Starter package")
	require.NoError(t, err)
	assert.Equal(t, model.EntryCredit, entry.Type)
	assert.Equal(t, "0.00", entry.BalanceBefore.String())
	assert.Equal(t, "900.00", entry.BalanceAfter.String())
	assert.Equal(t, purchaseID, *entry.CreditPurchaseID)

	acc, err := s.EnsureAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "900.00", acc.CurrentBalance.String())
	assert.Equal(t, "900.00", acc.TotalPurchased.String())
	assert.Equal(t, "0.00", acc.TotalUsed.String())
	assert.NotNil(t, acc.LastTransactionDate)

	_, err = s.AddCredits(ctx, 1, money.Zero, nil, "nothing")
	assert.True(t, errors.Is(err, errno.ErrValidation))
}

func TestDeductCredits(t *testing.T) {
	tests := []struct {
		name        string
		balance     string
		amount      string
		wantSuccess bool
		wantBalance string
	}{
		{"exact balance", "100", "100", true, "0.00"},
		{"partial", "100", "40.50", true, "59.50"},
		{"insufficient", "100", "150", false, "100.00"},
		{"one paisa short", "100", "100.01", false, "100.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newService(t)
			ctx := context.Background()
			fund(t, s, 5, tt.balance)
			pickupID := uint64(42)

			res, err := s.DeductCredits(ctx, 5, money.MustParse(tt.amount), &pickupID, "pickup")
			require.NoError(t, err)
			assert.Equal(t, tt.wantSuccess, res.Success)
			assert.Equal(t, tt.wantBalance, res.Balance.String())

			bal, err := s.GetBalance(ctx, 5)
			require.NoError(t, err)
			assert.Equal(t, tt.wantBalance, bal.String())

			history, err := s.History(ctx, 5, 10)
			require.NoError(t, err)
			if tt.wantSuccess {
				require.Len(t, history, 2)
				assert.Equal(t, model.EntryDebit, history[0].Type)
				assert.Equal(t, pickupID, *history[0].PickupRequestID)
			} else {
				assert.Len(t, history, 1)
				assert.True(t, errors.Is(res.Reason, errno.ErrInsufficientBalance))
			}
		})
	}
}

func TestDeductRejectsInactiveAccount(t *testing.T) {
	s, db := newService(t)
	ctx := context.Background()
	fund(t, s, 9, "100")
	require.NoError(t, db.Model(&model.CollectorCreditAccount{}).Where("collector_id = ?", 9).Update("is_active", false).Error)

	ok, err := s.HasSufficientBalance(ctx, 9, money.MustParse("10"))
	require.NoError(t, err)
	assert.False(t, ok)

	res, err := s.DeductCredits(ctx, 9, money.MustParse("10"), nil, "x")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, errors.Is(res.Reason, errno.ErrAccountInactive))

	bal, _ := s.GetBalance(ctx, 9)
	assert.Equal(t, "100.00", bal.String())
}

func TestDeductValidatesAmount(t *testing.T) {
	s, _ := newService(t)
	_, err := s.DeductCredits(context.Background(), 1, money.MustParse("-5"), nil, "x")
	assert.True(t, errors.Is(err, errno.ErrValidation))
}

func TestDeductForPickup(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	fund(t, s, 2, "100")

	ok, err := s.DeductForPickup(ctx, 2, money.MustParse("60"), 77)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.DeductForPickup(ctx, 2, money.MustParse("60"), 78)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentDeductionsNeverOverdraw(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	fund(t, s, 1, "100")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.DeductCredits(ctx, 1, money.MustParse("80"), nil, "race")
			if !assert.NoError(t, err) {
				return
			}
			if res.Success {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, successes, 1)
	bal, err := s.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "20.00", bal.String())

	report, err := s.Audit(ctx, 1)
	require.NoError(t, err)
	assert.True(t, report.OK())
}

func TestLedgerReplayReproducesBalance(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	fund(t, s, 4, "1000")
	fund(t, s, 4, "250.25")
	for _, amt := range []string{"80", "19.99", "400", "0.01", "2000"} {
		_, err := s.DeductCredits(ctx, 4, money.MustParse(amt), nil, "pickup")
		require.NoError(t, err)
	}
	fund(t, s, 4, "5")

	report, err := s.Audit(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 7, report.Entries)
	assert.Equal(t, report.Balance.String(), report.Replayed.String())
	assert.Equal(t, "755.25", report.Balance.String())
	assert.Equal(t, "1255.25", report.TotalPurchased.String())
	assert.Equal(t, "500.00", report.TotalUsed.String())
}

func TestAuditDetectsTampering(t *testing.T) {
	s, db := newService(t)
	ctx := context.Background()
	fund(t, s, 6, "100")

	require.NoError(t, db.Model(&model.CollectorCreditAccount{}).
		Where("collector_id = ?", 6).Update("current_balance", money.MustParse("150")).Error)

	report, err := s.Audit(ctx, 6)
	assert.True(t, errors.Is(err, errno.ErrIntegrityViolation))
	require.NotNil(t, report)
	assert.False(t, report.OK())

	bad, err := s.AuditAll(ctx)
	require.NoError(t, err)
	require.Len(t, bad, 1)
	assert.Equal(t, uint64(6), bad[0].CollectorID)
}

func TestLowBalanceEventOnThresholdCrossing(t *testing.T) {
	s, db := newService(t)
	ctx := context.Background()
	fund(t, s, 8, "600")

	low, err := s.IsLowBalance(ctx, 8)
	require.NoError(t, err)
	assert.False(t, low)

	_, err = s.DeductCredits(ctx, 8, money.MustParse("150"), nil, "pickup")
	require.NoError(t, err)
	_, err = s.DeductCredits(ctx, 8, money.MustParse("10"), nil, "pickup")
	require.NoError(t, err)

	low, err = s.IsLowBalance(ctx, 8)
	require.NoError(t, err)
	assert.True(t, low)

	var msgs []model.OutboxMessage
	require.NoError(t, db.Where("topic = ?", event.TopicCredit).Find(&msgs).Error)
	assert.Len(t, msgs, 1, "only the crossing debit emits")
	assert.Contains(t, string(msgs[0].Payload), event.TypeLowBalance)
}

func TestWithTxRollsBackWithCaller(t *testing.T) {
	s, db := newService(t)
	ctx := context.Background()
	fund(t, s, 10, "100")

	boom := errors.New("settlement failed later")
	err := db.Transaction(func(tx *gorm.DB) error {
		res, err := s.WithTx(tx).DeductCredits(ctx, 10, money.MustParse("30"), nil, "inside")
		require.NoError(t, err)
		require.True(t, res.Success)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	bal, err := s.GetBalance(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "100.00", bal.String())
	history, _ := s.History(ctx, 10, 10)
	assert.Len(t, history, 1)
}

// competingWriter bumps the account version right before the balance update,
// the way a concurrent writer on another connection would. It fires for the
// first n guarded updates.
func competingWriter(t *testing.T, db *gorm.DB, n int32) *int32 {
	t.Helper()
	var fired int32
	err := db.Callback().Update().Before("gorm:update").Register("test:competing_writer", func(tx *gorm.DB) {
		if tx.Statement.Table != "collector_credit_accounts" {
			return
		}
		cols, ok := tx.Statement.Dest.(map[string]interface{})
		if !ok {
			return
		}
		if _, guarded := cols["version"]; !guarded || atomic.LoadInt32(&fired) >= n {
			return
		}
		atomic.AddInt32(&fired, 1)
		if _, err := tx.Statement.ConnPool.ExecContext(tx.Statement.Context,
			"UPDATE collector_credit_accounts SET version = version + 1"); err != nil {
			tx.AddError(err)
		}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Callback().Update().Remove("test:competing_writer") })
	return &fired
}

func TestDeductRetriesAfterLostVersionRace(t *testing.T) {
	s, db := newService(t)
	ctx := context.Background()
	fund(t, s, 12, "100")
	fired := competingWriter(t, db, 2)

	res, err := s.DeductCredits(ctx, 12, money.MustParse("30"), nil, "pickup")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int32(2), atomic.LoadInt32(fired))
	assert.Equal(t, "70.00", res.Balance.String())

	history, err := s.History(ctx, 12, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.EntryDebit, history[0].Type)

	report, err := s.Audit(ctx, 12)
	require.NoError(t, err)
	assert.True(t, report.OK())
}

func TestDeductGivesUpWhenAccountStaysBusy(t *testing.T) {
	s, db := newService(t)
	ctx := context.Background()
	fund(t, s, 13, "100")
	fired := competingWriter(t, db, 1000)

	res, err := s.DeductCredits(ctx, 13, money.MustParse("30"), nil, "pickup")
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, errno.ErrDatabase), "got %v", err)
	assert.Equal(t, int32(maxWriteAttempts), atomic.LoadInt32(fired))

	bal, err := s.GetBalance(ctx, 13)
	require.NoError(t, err)
	assert.Equal(t, "100.00", bal.String())
	history, err := s.History(ctx, 13, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
