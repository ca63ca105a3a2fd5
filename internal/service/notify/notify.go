// Package notify is the outbound notification port. Delivery is best effort:
// a failed notification never undoes the financial change that triggered it.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"kawadi-core/pkg/logger"
)

const (
	KindPickupAssigned  = "pickup_assigned"
	KindPickupCompleted = "pickup_completed"
	KindPaymentReceived = "payment_received"
	KindCreditPurchase  = "credit_purchase"
	KindLowBalance      = "low_balance"
)

// Notifier sends a templated message to a user.
type Notifier interface {
	Notify(ctx context.Context, userID uint64, kind string, data map[string]string) error
}

// DefaultTimeout bounds a single Send.
const DefaultTimeout = 5 * time.Second

// Send delivers through n without letting a failure or panic escape.
func Send(ctx context.Context, n Notifier, userID uint64, kind string, data map[string]string) {
	if n == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("notifier panicked", zap.String("kind", kind), zap.Any("panic", r))
		}
	}()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultTimeout)
	defer cancel()
	if err := n.Notify(ctx, userID, kind, data); err != nil {
		logger.Warn("notification not sent",
			zap.Uint64("user_id", userID), zap.String("kind", kind), zap.Error(err))
	}
}

// LogNotifier writes notifications to the log. Used when no queue is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, userID uint64, kind string, data map[string]string) error {
	logger.Info("notification", zap.Uint64("user_id", userID), zap.String("kind", kind), zap.String("text", Render(kind, data)))
	return nil
}

var templates = map[string]string{
	KindPickupAssigned:  "A collector has been assigned to your pickup #{pickup_id}.",
	KindPickupCompleted: "Pickup #{pickup_id} completed: {weight} kg, NPR {amount}.",
	KindPaymentReceived: "Payment of NPR {amount} received for pickup #{pickup_id}.",
	KindCreditPurchase:  "NPR {credits} credits added to your account.",
	KindLowBalance:      "Your credit balance is NPR {balance}. Top up to keep accepting pickups.",
}

// Render fills the template for kind. Unknown kinds fall back to key=value pairs.
func Render(kind string, data map[string]string) string {
	tpl, ok := templates[kind]
	if !ok {
		keys := make([]string, 0, len(data))
		for k := range data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", k, data[k]))
		}
		return kind + ": " + strings.Join(parts, " ")
	}
	for k, v := range data {
		tpl = strings.ReplaceAll(tpl, "{"+k+"}", v)
	}
	return tpl
}
