package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"kawadi-core/internal/service/notify"
	"kawadi-core/pkg/logger"
)

const (
	TypeNotificationDelivery = "notification:deliver"
)

type NotificationPayload struct {
	UserID uint64            `json:"user_id"`
	Kind   string            `json:"kind"`
	Data   map[string]string `json:"data,omitempty"`
}

// NewNotificationTask builds a delivery task; retried up to 5 times.
func NewNotificationTask(userID uint64, kind string, data map[string]string) (*asynq.Task, error) {
	payload, err := json.Marshal(NotificationPayload{UserID: userID, Kind: kind, Data: data})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeNotificationDelivery, payload, asynq.MaxRetry(5), asynq.Timeout(time.Minute)), nil
}

// NotificationHandler delivers queued notifications through a concrete channel.
type NotificationHandler struct {
	channel notify.Notifier
}

func NewNotificationHandler(channel notify.Notifier) *NotificationHandler {
	return &NotificationHandler{channel: channel}
}

func (h *NotificationHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p NotificationPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		// retrying a malformed payload cannot help
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if p.UserID == 0 || p.Kind == "" {
		return fmt.Errorf("notification without user or kind: %w", asynq.SkipRetry)
	}
	if err := h.channel.Notify(ctx, p.UserID, p.Kind, p.Data); err != nil {
		return err
	}
	logger.Debug("notification delivered", zap.Uint64("user_id", p.UserID), zap.String("kind", p.Kind))
	return nil
}
