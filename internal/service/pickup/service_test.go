package pickup

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kawadi-core/internal/model"
	"kawadi-core/internal/testutil"
	"kawadi-core/pkg/errno"
)

type recordingNotifier struct {
	mu    sync.Mutex
	kinds []string
}

func (r *recordingNotifier) Notify(_ context.Context, _ uint64, kind string, _ map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
	return nil
}

func TestValidateWeight(t *testing.T) {
	tests := []struct {
		weight string
		ok     bool
	}{
		{"0.01", true},
		{"5", true},
		{"1000", true},
		{"0", false},
		{"-1", false},
		{"1000.01", false},
		{"2.345", false},
	}
	for _, tt := range tests {
		err := ValidateWeight(decimal.RequireFromString(tt.weight))
		if tt.ok {
			assert.NoError(t, err, tt.weight)
		} else {
			assert.True(t, errors.Is(err, errno.ErrInvalidWeight), tt.weight)
		}
	}
}

func TestCreateEstimatesPrice(t *testing.T) {
	db := testutil.NewDB(t)
	s := NewService(db, nil, testutil.NewClock().Now)
	cat := testutil.SeedCategory(t, db, "Plastic", "12.50")

	p, err := s.Create(context.Background(), CreateRequest{
		CustomerID:      3,
		CategoryID:      cat.ID,
		EstimatedWeight: decimal.RequireFromString("4.2"),
		Address:         "Baneshwor, Kathmandu",
	})
	require.NoError(t, err)
	assert.Equal(t, model.PickupPending, p.Status)
	assert.Equal(t, "52.50", p.EstimatedPrice.String())

	_, err = s.Create(context.Background(), CreateRequest{CustomerID: 3, CategoryID: 999, EstimatedWeight: decimal.NewFromInt(1)})
	assert.True(t, errors.Is(err, errno.ErrNotFound))

	_, err = s.Create(context.Background(), CreateRequest{CustomerID: 3, CategoryID: cat.ID, EstimatedWeight: decimal.Zero})
	assert.True(t, errors.Is(err, errno.ErrInvalidWeight))
}

func TestLifecycle(t *testing.T) {
	db := testutil.NewDB(t)
	n := &recordingNotifier{}
	s := NewService(db, n, testutil.NewClock().Now)
	ctx := context.Background()
	cat := testutil.SeedCategory(t, db, "Paper", "8")

	p, err := s.Create(ctx, CreateRequest{CustomerID: 1, CategoryID: cat.ID, EstimatedWeight: decimal.NewFromInt(3)})
	require.NoError(t, err)

	_, err = s.Start(ctx, p.ID)
	assert.True(t, errors.Is(err, errno.ErrInvalidTransition), "cannot start before assignment")

	p, err = s.Assign(ctx, p.ID, 40)
	require.NoError(t, err)
	assert.Equal(t, model.PickupAssigned, p.Status)
	assert.Equal(t, uint64(40), *p.CollectorID)
	assert.Equal(t, []string{"pickup_assigned"}, n.kinds)

	p, err = s.Start(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PickupInProgress, p.Status)

	p, err = s.Cancel(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PickupCancelled, p.Status)

	_, err = s.Cancel(ctx, p.ID)
	assert.True(t, errors.Is(err, errno.ErrInvalidTransition))

	_, err = s.Get(ctx, 4040)
	assert.True(t, errors.Is(err, errno.ErrPickupNotFound))
}

func TestCancelCompletedIsRefused(t *testing.T) {
	db := testutil.NewDB(t)
	s := NewService(db, nil, nil)
	cat := testutil.SeedCategory(t, db, "Metal", "40")
	p := testutil.SeedPickup(t, db, 1, 2, cat, "1")
	require.NoError(t, db.Model(p).Update("status", model.PickupCompleted).Error)

	_, err := s.Cancel(context.Background(), p.ID)
	assert.True(t, errors.Is(err, errno.ErrAlreadyCompleted))
}
