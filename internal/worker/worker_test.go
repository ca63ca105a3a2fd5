package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kawadi-core/internal/event"
	"kawadi-core/internal/service/mq"
	"kawadi-core/internal/worker/tasks"
)

type fakeQueue struct {
	tasks  []*asynq.Task
	queues []string
}

func (q *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	q.tasks = append(q.tasks, task)
	for _, o := range opts {
		if o.Type() == asynq.QueueOpt {
			q.queues = append(q.queues, o.Value().(string))
		}
	}
	return &asynq.TaskInfo{ID: "t1"}, nil
}

type recorder struct {
	users []uint64
	kinds []string
	data  []map[string]string
}

func (r *recorder) Notify(_ context.Context, userID uint64, kind string, data map[string]string) error {
	r.users = append(r.users, userID)
	r.kinds = append(r.kinds, kind)
	r.data = append(r.data, data)
	return nil
}

func TestTaskNotifierEnqueues(t *testing.T) {
	q := &fakeQueue{}
	n := NewTaskNotifier(q)

	require.NoError(t, n.Notify(context.Background(), 4, "low_balance", map[string]string{"balance": "10.00"}))
	require.NoError(t, n.Notify(context.Background(), 4, "pickup_assigned", nil))

	require.Len(t, q.tasks, 2)
	assert.Equal(t, tasks.TypeNotificationDelivery, q.tasks[0].Type())
	assert.Equal(t, []string{QueueCritical, QueueDefault}, q.queues)

	var p tasks.NotificationPayload
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload(), &p))
	assert.Equal(t, uint64(4), p.UserID)
}

func TestEventHandlerLowBalance(t *testing.T) {
	r := &recorder{}
	h := NewEventHandler(r)
	payload, _ := json.Marshal(event.LowBalanceEvent{
		Header:      event.Header{Type: event.TypeLowBalance, OccurredAt: time.Now()},
		CollectorID: 12,
		Balance:     "450.00",
		Threshold:   "500.00",
	})

	require.NoError(t, h.Handle(context.Background(), &mq.Message{Topic: event.TopicCredit, Payload: payload}))
	require.Len(t, r.kinds, 1)
	assert.Equal(t, uint64(12), r.users[0])
	assert.Equal(t, "low_balance", r.kinds[0])
	assert.Equal(t, "450.00", r.data[0]["balance"])
}

func TestEventHandlerIgnoresOtherEvents(t *testing.T) {
	r := &recorder{}
	h := NewEventHandler(r)
	payload, _ := json.Marshal(event.PickupCompletedEvent{Header: event.Header{Type: event.TypePickupCompleted}, PickupID: 3})

	require.NoError(t, h.Handle(context.Background(), &mq.Message{Payload: payload}))
	require.NoError(t, h.Handle(context.Background(), &mq.Message{Payload: []byte("garbage")}))
	assert.Empty(t, r.kinds)
}
