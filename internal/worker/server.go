package worker

import (
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"kawadi-core/internal/service/notify"
	"kawadi-core/internal/worker/tasks"
	"kawadi-core/pkg/logger"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// Server runs the asynq worker.
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewServer registers task handlers; channel is the concrete delivery path
// (SMS, push) behind queued notifications.
func NewServer(addr string, password string, db int, concurrency int, channel notify.Notifier) *Server {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     addr,
			Password: password,
			DB:       db,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				QueueCritical: 6,
				QueueDefault:  3,
				QueueLow:      1,
			},
			Logger: logger.NewAsynqLogger(),
		},
	)

	mux := asynq.NewServeMux()
	mux.Handle(tasks.TypeNotificationDelivery, tasks.NewNotificationHandler(channel))

	return &Server{server: srv, mux: mux}
}

// Run blocks until the server stops.
func (s *Server) Run() error {
	logger.Info("worker server starting")
	return s.server.Run(s.mux)
}

// Start runs the server in the background, for embedding next to other loops.
func (s *Server) Start() error {
	if err := s.server.Start(s.mux); err != nil {
		logger.Error("worker server failed to start", zap.Error(err))
		return err
	}
	return nil
}

func (s *Server) Stop() {
	s.server.Stop()
	s.server.Shutdown()
}
