package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"kawadi-core/internal/service/credit"
	"kawadi-core/internal/service/purchase"
	"kawadi-core/pkg/logger"
	"kawadi-core/pkg/monitor"
	"kawadi-core/pkg/utils/lock"
)

// StalePurchaseAge is how long a purchase may wait on its gateway before it is failed.
const StalePurchaseAge = 24 * time.Hour

type CronService struct {
	cron      *cron.Cron
	locker    lock.DistributedLock
	credits   *credit.Service
	purchases *purchase.Service
	auditSpec string
}

func NewCronService(locker lock.DistributedLock, credits *credit.Service, purchases *purchase.Service, auditSpec string) *CronService {
	if auditSpec == "" {
		auditSpec = "@every 1h"
	}
	return &CronService{
		cron:      cron.New(),
		locker:    locker,
		credits:   credits,
		purchases: purchases,
		auditSpec: auditSpec,
	}
}

func (s *CronService) Start() error {
	if _, err := s.cron.AddFunc(s.auditSpec, func() { s.AuditLedgers(context.Background()) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@every 10m", func() { s.ExpireStalePurchases(context.Background()) }); err != nil {
		return err
	}
	s.cron.Start()
	logger.Info("cron service started", zap.String("audit", s.auditSpec))
	return nil
}

func (s *CronService) Stop() {
	<-s.cron.Stop().Done()
	logger.Info("cron service stopped")
}

// withLock runs fn on one instance only; others skip the tick.
func (s *CronService) withLock(ctx context.Context, key string, ttl time.Duration, fn func()) bool {
	token, err := s.locker.Acquire(ctx, key, ttl)
	if err != nil || token == "" {
		logger.Debug("cron job skipped, lock busy", zap.String("key", key), zap.Error(err))
		return false
	}
	defer func() {
		if err := s.locker.Release(ctx, key, token); err != nil {
			logger.Warn("cron lock release failed", zap.String("key", key), zap.Error(err))
		}
	}()
	fn()
	return true
}

// AuditLedgers replays every credit ledger and reports drift. It returns the
// number of accounts that failed, or -1 when another instance ran the job.
func (s *CronService) AuditLedgers(ctx context.Context) int {
	bad := -1
	s.withLock(ctx, "cron:lock:ledger_audit", 30*time.Minute, func() {
		start := time.Now()
		reports, err := s.credits.AuditAll(ctx)
		monitor.Business.AuditJobDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			logger.Error("ledger audit failed", zap.Error(err))
			return
		}
		bad = len(reports)
		logger.Info("ledger audit finished", zap.Int("drifted_accounts", bad), zap.Duration("took", time.Since(start)))
	})
	return bad
}

// ExpireStalePurchases fails purchases stuck in pending; no credits are touched.
func (s *CronService) ExpireStalePurchases(ctx context.Context) int {
	expired := 0
	s.withLock(ctx, "cron:lock:expire_purchases", 5*time.Minute, func() {
		stale, err := s.purchases.PendingOlderThan(ctx, StalePurchaseAge)
		if err != nil {
			logger.Error("stale purchase scan failed", zap.Error(err))
			return
		}
		for _, p := range stale {
			if _, already, err := s.purchases.Fail(ctx, p.ID, "payment not confirmed within 24h"); err != nil {
				logger.Warn("could not expire purchase", zap.Uint64("purchase_id", p.ID), zap.Error(err))
			} else if !already {
				expired++
			}
		}
	})
	return expired
}
