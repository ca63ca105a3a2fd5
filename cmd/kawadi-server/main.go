package main

import (
	"context"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kawadi-core/internal/gateway"
	"kawadi-core/internal/handler"
	"kawadi-core/internal/model"
	"kawadi-core/internal/server"
	"kawadi-core/internal/service"
	"kawadi-core/internal/service/credit"
	"kawadi-core/internal/service/impact"
	"kawadi-core/internal/service/mq"
	"kawadi-core/internal/service/notify"
	"kawadi-core/internal/service/payment"
	"kawadi-core/internal/service/pickup"
	"kawadi-core/internal/service/purchase"
	"kawadi-core/internal/service/settlement"
	"kawadi-core/internal/worker"
	"kawadi-core/pkg/cache"
	"kawadi-core/pkg/config"
	"kawadi-core/pkg/database"
	"kawadi-core/pkg/logger"
	"kawadi-core/pkg/money"
	"kawadi-core/pkg/utils/lock"
)

func main() {
	// 1. config and logging
	_ = godotenv.Load()
	config.Init()
	cfg := config.Global
	logger.Init(cfg.App.Env)
	defer logger.Sync()

	logger.Info("starting kawadi server", zap.String("env", cfg.App.Env))

	// 2. storage
	db, err := database.Open(cfg.DB, cfg.App.Env)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	if cfg.App.Env != "production" {
		if err := db.AutoMigrate(model.AllModels()...); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
	}

	rdb, err := database.ConnectRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("redis unavailable, running single instance", zap.Error(err))
		rdb = nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	// 3. infrastructure with redis fallbacks
	var (
		locker   lock.DistributedLock = lock.NewLocalLock()
		pkgCache cache.Cache          = cache.NewMemoryCache(5*time.Minute, 10*time.Minute)
		notifier notify.Notifier      = notify.LogNotifier{}
		queue    *worker.Client
	)
	if rdb != nil {
		locker = lock.NewRedisLock(rdb)
		pkgCache = cache.NewMultiLevelCache(pkgCache, cache.NewRedisCache(rdb, "kawadi:cache:"))
		queue = worker.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		notifier = worker.NewTaskNotifier(queue)
	}
	producer := newProducer(cfg, rdb)

	// 4. services
	credits := credit.NewService(db, credit.WithDefaults(credit.AccountDefaults{
		DailyUsageLimit:     mustMoney(cfg.Ledger.DefaultDailyLimit, "ledger.default_daily_limit"),
		LowBalanceThreshold: mustMoney(cfg.Ledger.DefaultLowBalanceThreshold, "ledger.default_low_balance_threshold"),
	}))
	catalog := purchase.NewCatalog(db, pkgCache)
	purchases := purchase.NewService(db, credits, catalog, nil)
	pickups := pickup.NewService(db, notifier, nil)
	impacts := impact.NewService(db)
	settle := settlement.NewService(db, credits,
		settlement.WithCommissionPolicy(model.FlatCommission{Rate: commissionRate(cfg.Ledger.CommissionRate)}),
		settlement.WithNotifier(notifier),
		settlement.WithImpactTrigger(impacts),
	)

	registry := gateway.NewDefaultRegistry(cfg.Gateway, gateway.NewGormLogStore(db))
	payments := payment.NewService(db, registry, purchases, locker, notifier, nil)
	logger.Info("payment gateways registered", zap.Strings("gateways", registry.Names()))

	// 5. background loops
	if producer != nil {
		go service.NewRelayService(db, producer).Start(ctx)
	}
	crons := service.NewCronService(locker, credits, purchases, cfg.Ledger.AuditCron)
	if err := crons.Start(); err != nil {
		logger.Fatal("cron service failed to start", zap.Error(err))
	}

	// 6. http
	router := server.NewHTTPRouter(server.Handlers{
		Health:  handler.NewHealthHandler(db),
		Pickup:  handler.NewPickupHandler(pickups, settle),
		Credit:  handler.NewCreditHandler(credits, catalog, payments),
		Payment: handler.NewPaymentHandler(payments),
		Admin:   handler.NewAdminHandler(payments),
	}, cfg.RateLimit)

	app := server.New(server.Config{HttpPort: cfg.App.HttpPort}, router)
	app.OnShutdown(func() {
		if queue != nil {
			_ = queue.Close()
		}
	})
	app.OnShutdown(func() {
		if producer != nil {
			_ = producer.Close()
		}
	})
	app.OnShutdown(crons.Stop)
	app.OnShutdown(cancel)
	app.Run()
}

func newProducer(cfg config.Config, rdb *redis.Client) mq.Producer {
	switch cfg.MQ.Type {
	case "kafka":
		logger.Info("MQ Mode: Kafka", zap.Strings("brokers", cfg.Kafka.Brokers))
		return mq.NewKafkaProducer(cfg.Kafka.Brokers)
	case "redis":
		if rdb == nil {
			logger.Warn("MQ Mode: redis requested without redis, outbox relay disabled")
			return nil
		}
		logger.Info("MQ Mode: Redis Streams")
		return mq.NewRedisProducer(rdb)
	default:
		logger.Info("MQ Mode: none, outbox rows stay pending")
		return nil
	}
}

func mustMoney(s, key string) money.Money {
	m, err := money.Parse(s)
	if err != nil {
		logger.Fatal("invalid amount in config", zap.String("key", key), zap.Error(err))
	}
	return m
}

func commissionRate(s string) decimal.Decimal {
	rate, err := decimal.NewFromString(s)
	if err != nil || rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		logger.Fatal("invalid ledger.commission_rate", zap.String("value", s))
	}
	return rate
}
