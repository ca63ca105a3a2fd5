package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"kawadi-core/internal/model"
	"kawadi-core/internal/service/credit"
	"kawadi-core/internal/testutil"
	"kawadi-core/pkg/money"
)

func useDB(t *testing.T) *gorm.DB {
	db := testutil.NewDB(t)
	prev := openDB
	openDB = func() (*gorm.DB, error) { return db, nil }
	t.Cleanup(func() { openDB = prev })
	return db
}

func run(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	auditAll = false
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSeedPackages(t *testing.T) {
	db := useDB(t)

	out, err := run(t, "seed-packages")
	require.NoError(t, err)
	assert.Contains(t, out, "Starter")
	assert.Contains(t, out, "Enterprise")

	// running twice keeps one row per package
	_, err = run(t, "seed-packages")
	require.NoError(t, err)
	var count int64
	require.NoError(t, db.Model(&model.CreditPackage{}).Count(&count).Error)
	assert.Equal(t, int64(4), count)
}

func TestBalanceAndAudit(t *testing.T) {
	db := useDB(t)
	credits := credit.NewService(db)
	_, err := credits.AddCredits(context.Background(), 12, money.MustParse("900"), nil, "Starter package")
	require.NoError(t, err)

	out, err := run(t, "balance", "12")
	require.NoError(t, err)
	assert.Contains(t, out, "collector 12 balance 900.00")
	assert.Contains(t, out, "Starter package")

	out, err = run(t, "audit", "12")
	require.NoError(t, err)
	assert.Contains(t, out, `"replayed": "900.00"`)

	out, err = run(t, "audit", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "all ledgers consistent")

	require.NoError(t, db.Model(&model.CollectorCreditAccount{}).
		Where("collector_id = ?", 12).Update("current_balance", money.MustParse("1000")).Error)
	_, err = run(t, "audit", "--all")
	assert.Error(t, err)
}

func TestBalanceRejectsBadID(t *testing.T) {
	useDB(t)
	_, err := run(t, "balance", "abc")
	assert.Error(t, err)
}
