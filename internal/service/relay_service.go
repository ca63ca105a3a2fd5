package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"kawadi-core/internal/model"
	"kawadi-core/internal/service/mq"
	"kawadi-core/pkg/logger"
)

// RelayService moves outbox rows to the message queue. Delivery is at least
// once: a row is marked SENT only after the broker accepted it.
type RelayService struct {
	db        *gorm.DB
	producer  mq.Producer
	interval  time.Duration
	batchSize int
}

func NewRelayService(db *gorm.DB, producer mq.Producer) *RelayService {
	return &RelayService{
		db:        db,
		producer:  producer,
		interval:  500 * time.Millisecond,
		batchSize: 50,
	}
}

func (s *RelayService) Start(ctx context.Context) {
	logger.Info("outbox relay started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := s.RelayOnce(ctx); err != nil {
				logger.Warn("outbox relay pass failed", zap.Error(err))
			}
		}
	}
}

// RelayOnce publishes one batch in id order and returns how many were sent.
// It stops at the first publish failure so later events never overtake it.
func (s *RelayService) RelayOnce(ctx context.Context) (int, error) {
	var messages []model.OutboxMessage
	if err := s.db.WithContext(ctx).
		Where("status = ?", model.OutboxPending).
		Order("id").
		Limit(s.batchSize).
		Find(&messages).Error; err != nil {
		return 0, err
	}

	sent := 0
	for _, msg := range messages {
		if err := s.producer.Publish(ctx, msg.Topic, msg.Key, msg.Payload); err != nil {
			logger.Warn("outbox publish failed", zap.Uint64("id", msg.ID), zap.String("topic", msg.Topic), zap.Error(err))
			return sent, err
		}
		// a failed update means a resend next pass; consumers are idempotent
		if err := s.db.WithContext(ctx).Model(&msg).Update("status", model.OutboxSent).Error; err != nil {
			logger.Warn("outbox status update failed", zap.Uint64("id", msg.ID), zap.Error(err))
			return sent, err
		}
		sent++
	}
	if sent > 0 {
		logger.Debug("outbox relayed", zap.Int("count", sent))
	}
	return sent, nil
}
