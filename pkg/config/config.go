package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	DB        DBConfig        `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	MQ        MQConfig        `mapstructure:"mq"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	HttpPort string `mapstructure:"http_port"`
}

type DBConfig struct {
	Driver     string `mapstructure:"driver"` // "postgres" or "sqlite"
	Host       string `mapstructure:"host"`
	Port       string `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	Name       string `mapstructure:"name"`
	SSLMode    string `mapstructure:"sslmode"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// DSN renders the postgres connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=Asia/Kathmandu",
		c.Host, c.User, c.Password, c.Name, c.Port, c.SSLMode)
}

// MigrateURL is the URL form golang-migrate expects.
func (c DBConfig) MigrateURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MQConfig struct {
	Type  string `mapstructure:"type"` // "kafka", "redis" or "none"
	Topic string `mapstructure:"topic"`
	Group string `mapstructure:"group"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

type GatewayConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Khalti  KhaltiConfig  `mapstructure:"khalti"`
	Esewa   EsewaConfig   `mapstructure:"esewa"`
}

type KhaltiConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	SecretKey  string `mapstructure:"secret_key"`
	WebsiteURL string `mapstructure:"website_url"`
	ReturnURL  string `mapstructure:"return_url"`
}

type EsewaConfig struct {
	FormURL      string `mapstructure:"form_url"`
	StatusURL    string `mapstructure:"status_url"`
	MerchantCode string `mapstructure:"merchant_code"`
	SecretKey    string `mapstructure:"secret_key"`
	SuccessURL   string `mapstructure:"success_url"`
	FailureURL   string `mapstructure:"failure_url"`
}

type LedgerConfig struct {
	CommissionRate             string `mapstructure:"commission_rate"`
	DefaultDailyLimit          string `mapstructure:"default_daily_limit"`
	DefaultLowBalanceThreshold string `mapstructure:"default_low_balance_threshold"`
	AuditCron                  string `mapstructure:"audit_cron"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

var Global Config

func Init() {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// KAWADI_GATEWAY_KHALTI_SECRET_KEY -> gateway.khalti.secret_key
	viper.SetEnvPrefix("kawadi")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Warning: Config file not found, using defaults and environment variables")
		} else {
			log.Fatalf("Fatal error config file: %s \n", err)
		}
	}

	if err := viper.Unmarshal(&Global); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	log.Printf("Configuration loaded successfully. Env: %s", Global.App.Env)
}

func setDefaults() {
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.http_port", "8080")

	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.user", "kawadi")
	viper.SetDefault("database.password", "kawadi")
	viper.SetDefault("database.name", "kawadi")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.sqlite_path", "kawadi.db")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("mq.type", "redis")
	viper.SetDefault("mq.topic", "kawadi_events")
	viper.SetDefault("mq.group", "kawadi_worker")

	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})

	viper.SetDefault("gateway.timeout", 30*time.Second)
	viper.SetDefault("gateway.khalti.base_url", "https://a.khalti.com/api/v2")
	viper.SetDefault("gateway.khalti.secret_key", "")
	viper.SetDefault("gateway.khalti.website_url", "http://localhost:8080")
	viper.SetDefault("gateway.khalti.return_url", "http://localhost:8080/api/v1/payments/khalti/callback")
	viper.SetDefault("gateway.esewa.form_url", "https://rc-epay.esewa.com.np/api/epay/main/v2/form")
	viper.SetDefault("gateway.esewa.status_url", "https://rc.esewa.com.np/api/epay/transaction/status/")
	viper.SetDefault("gateway.esewa.merchant_code", "EPAYTEST")
	viper.SetDefault("gateway.esewa.secret_key", "8gBm/:&EnhH.1/q") // eSewa UAT key
	viper.SetDefault("gateway.esewa.success_url", "http://localhost:8080/api/v1/payments/esewa/callback")
	viper.SetDefault("gateway.esewa.failure_url", "http://localhost:8080/api/v1/payments/esewa/callback")

	viper.SetDefault("ledger.commission_rate", "0.10")
	viper.SetDefault("ledger.default_daily_limit", "10000")
	viper.SetDefault("ledger.default_low_balance_threshold", "500")
	viper.SetDefault("ledger.audit_cron", "@every 1h")

	viper.SetDefault("ratelimit.rps", 20)
	viper.SetDefault("ratelimit.burst", 40)
}
