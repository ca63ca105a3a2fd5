package worker

import (
	"context"

	"github.com/hibiken/asynq"

	"kawadi-core/internal/worker/tasks"
)

type Client struct {
	client *asynq.Client
}

func NewClient(addr string, password string, db int) *Client {
	c := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Client{client: c}
}

func (c *Client) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	return c.client.EnqueueContext(ctx, task, opts...)
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Enqueuer is the part of Client the notifier needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskNotifier queues notifications instead of sending them inline, so a slow
// SMS provider never holds up a settlement.
type TaskNotifier struct {
	queue Enqueuer
}

func NewTaskNotifier(queue Enqueuer) *TaskNotifier {
	return &TaskNotifier{queue: queue}
}

func (n *TaskNotifier) Notify(ctx context.Context, userID uint64, kind string, data map[string]string) error {
	task, err := tasks.NewNotificationTask(userID, kind, data)
	if err != nil {
		return err
	}
	_, err = n.queue.EnqueueContext(ctx, task, asynq.Queue(queueFor(kind)))
	return err
}

func queueFor(kind string) string {
	switch kind {
	case "payment_received", "low_balance":
		return QueueCritical
	}
	return QueueDefault
}
