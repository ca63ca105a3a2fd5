package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"kawadi-core/internal/event"
	"kawadi-core/internal/service/mq"
	"kawadi-core/internal/service/notify"
	"kawadi-core/internal/worker"
	"kawadi-core/pkg/config"
	"kawadi-core/pkg/database"
	"kawadi-core/pkg/logger"
)

// kawadi-worker delivers queued notifications and reacts to ledger events.
func main() {
	_ = godotenv.Load()
	config.Init()
	cfg := config.Global
	logger.Init(cfg.App.Env)
	defer logger.Sync()

	logger.Info("starting kawadi worker", zap.String("env", cfg.App.Env))

	rdb, err := database.ConnectRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}

	// 1. task server; SMS delivery itself is logged until a provider is configured
	srv := worker.NewServer(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, 10, notify.LogNotifier{})
	if err := srv.Start(); err != nil {
		logger.Fatal("worker server failed", zap.Error(err))
	}

	// 2. event consumer; events become queued notifications
	queue := worker.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer queue.Close()
	events := worker.NewEventHandler(worker.NewTaskNotifier(queue))

	host, _ := os.Hostname()
	var consumer mq.Consumer
	switch cfg.MQ.Type {
	case "kafka":
		logger.Info("MQ Mode: Kafka Consumer", zap.Strings("brokers", cfg.Kafka.Brokers))
		consumer = mq.NewKafkaConsumer(cfg.Kafka.Brokers, cfg.MQ.Group)
	default:
		logger.Info("MQ Mode: Redis Consumer")
		consumer = mq.NewRedisConsumer(rdb, cfg.MQ.Group, worker.ConsumerName(host, os.Getpid()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := events.Consume(ctx, consumer, event.TopicSettlement, event.TopicCredit); err != nil && ctx.Err() == nil {
			logger.Error("event consumer stopped", zap.Error(err))
		}
	}()

	// 3. graceful exit
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("stopping kawadi worker...")
	cancel()
	_ = consumer.Close()
	srv.Stop()
	logger.Info("kawadi worker stopped")
}
