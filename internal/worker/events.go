package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"kawadi-core/internal/event"
	"kawadi-core/internal/service/mq"
	"kawadi-core/internal/service/notify"
	"kawadi-core/pkg/logger"
)

// EventHandler reacts to relayed outbox events. Handlers must tolerate
// redelivery.
type EventHandler struct {
	notifier notify.Notifier
}

func NewEventHandler(notifier notify.Notifier) *EventHandler {
	return &EventHandler{notifier: notifier}
}

func (h *EventHandler) Handle(ctx context.Context, msg *mq.Message) error {
	var head event.Header
	if err := json.Unmarshal(msg.Payload, &head); err != nil {
		// poison message: acknowledge and move on
		logger.Error("undecodable event dropped", zap.String("topic", msg.Topic), zap.String("id", msg.ID), zap.Error(err))
		return nil
	}

	switch head.Type {
	case event.TypeLowBalance:
		var e event.LowBalanceEvent
		if err := json.Unmarshal(msg.Payload, &e); err != nil {
			return fmt.Errorf("decode %s: %w", head.Type, err)
		}
		return h.notifier.Notify(ctx, e.CollectorID, notify.KindLowBalance, map[string]string{
			"balance":   e.Balance,
			"threshold": e.Threshold,
		})
	case event.TypePickupCompleted:
		var e event.PickupCompletedEvent
		if err := json.Unmarshal(msg.Payload, &e); err != nil {
			return fmt.Errorf("decode %s: %w", head.Type, err)
		}
		logger.Info("pickup settled event",
			zap.Uint64("pickup_id", e.PickupID), zap.String("amount", e.Amount), zap.String("method", e.PaymentMethod))
	case event.TypeTransactionPaid, event.TypePurchaseCompleted, event.TypePurchaseFailed:
		logger.Info("payment event", zap.String("type", head.Type), zap.String("key", msg.Key))
	default:
		logger.Warn("unknown event type", zap.String("type", head.Type), zap.String("topic", msg.Topic))
	}
	return nil
}

// Consume subscribes the handler to every event topic and blocks until ctx ends.
func (h *EventHandler) Consume(ctx context.Context, consumer mq.Consumer, topics ...string) error {
	errs := make(chan error, len(topics))
	for _, topic := range topics {
		go func(topic string) {
			errs <- consumer.Subscribe(ctx, topic, func(msg *mq.Message) error {
				return h.Handle(ctx, msg)
			})
		}(topic)
	}
	var first error
	for range topics {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ConsumerName identifies this process inside a consumer group.
func ConsumerName(host string, pid int) string {
	return host + "-" + strconv.Itoa(pid)
}
