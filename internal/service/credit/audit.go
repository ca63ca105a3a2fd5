package credit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"kawadi-core/internal/model"
	"kawadi-core/pkg/errno"
	"kawadi-core/pkg/logger"
	"kawadi-core/pkg/monitor"
	"kawadi-core/pkg/money"
)

// AuditReport compares an account against a replay of its ledger.
type AuditReport struct {
	AccountID      uint64      `json:"account_id"`
	CollectorID    uint64      `json:"collector_id"`
	Entries        int         `json:"entries"`
	Balance        money.Money `json:"balance"`
	Replayed       money.Money `json:"replayed"`
	TotalPurchased money.Money `json:"total_purchased"`
	TotalUsed      money.Money `json:"total_used"`
	Problems       []string    `json:"problems,omitempty"`
}

func (r AuditReport) OK() bool { return len(r.Problems) == 0 }

// Audit replays the collector's ledger in created_at order. A drift in any
// running total or chain link is reported as ErrIntegrityViolation.
func (s *Service) Audit(ctx context.Context, collectorID uint64) (*AuditReport, error) {
	var acc model.CollectorCreditAccount
	if err := s.db.WithContext(ctx).Where("collector_id = ?", collectorID).First(&acc).Error; err != nil {
		return nil, errno.ErrAccountNotFound.Wrap(err)
	}
	report, err := s.auditAccount(ctx, &acc)
	if err != nil {
		return nil, err
	}
	if !report.OK() {
		return report, errno.ErrIntegrityViolation.WithMessage(fmt.Sprintf(
			"account %d: %d ledger problems", acc.ID, len(report.Problems)))
	}
	return report, nil
}

// AuditAll checks every account and returns only the reports with problems.
func (s *Service) AuditAll(ctx context.Context) ([]AuditReport, error) {
	var bad []AuditReport
	var accounts []model.CollectorCreditAccount
	if err := s.db.WithContext(ctx).Order("id").Find(&accounts).Error; err != nil {
		return nil, errno.ErrDatabase.Wrap(err)
	}
	for i := range accounts {
		report, err := s.auditAccount(ctx, &accounts[i])
		if err != nil {
			return bad, err
		}
		if !report.OK() {
			monitor.Business.IntegrityViolationsTotal.Inc()
			logger.Error("ledger replay does not match account",
				zap.Uint64("account_id", report.AccountID),
				zap.String("balance", report.Balance.String()),
				zap.String("replayed", report.Replayed.String()),
				zap.Strings("problems", report.Problems))
			bad = append(bad, *report)
		}
	}
	return bad, nil
}

func (s *Service) auditAccount(ctx context.Context, acc *model.CollectorCreditAccount) (*AuditReport, error) {
	var entries []model.CreditTransaction
	if err := s.db.WithContext(ctx).
		Where("account_id = ?", acc.ID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error; err != nil {
		return nil, errno.ErrDatabase.Wrap(err)
	}

	report := &AuditReport{
		AccountID:   acc.ID,
		CollectorID: acc.CollectorID,
		Entries:     len(entries),
		Balance:     acc.CurrentBalance,
	}
	running := money.Zero
	for _, e := range entries {
		if !e.BalanceBefore.Equal(running) {
			report.Problems = append(report.Problems, fmt.Sprintf(
				"entry %d starts at %s, expected %s", e.ID, e.BalanceBefore, running))
		}
		if !e.BalanceAfter.Sub(e.BalanceBefore).Equal(e.Signed()) {
			report.Problems = append(report.Problems, fmt.Sprintf(
				"entry %d moves %s -> %s for %s %s", e.ID, e.BalanceBefore, e.BalanceAfter, e.Type, e.Amount))
		}
		running = running.Add(e.Signed())
		if e.Type == model.EntryDebit {
			report.TotalUsed = report.TotalUsed.Add(e.Amount)
		} else {
			report.TotalPurchased = report.TotalPurchased.Add(e.Amount)
		}
	}
	report.Replayed = running

	if !running.Equal(acc.CurrentBalance) {
		report.Problems = append(report.Problems, fmt.Sprintf(
			"replayed balance %s differs from current balance %s", running, acc.CurrentBalance))
	}
	if !report.TotalPurchased.Equal(acc.TotalPurchased) {
		report.Problems = append(report.Problems, fmt.Sprintf(
			"replayed purchases %s differ from total_purchased %s", report.TotalPurchased, acc.TotalPurchased))
	}
	if !report.TotalUsed.Equal(acc.TotalUsed) {
		report.Problems = append(report.Problems, fmt.Sprintf(
			"replayed usage %s differs from total_used %s", report.TotalUsed, acc.TotalUsed))
	}
	return report, nil
}
