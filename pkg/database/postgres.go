package database

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"kawadi-core/pkg/config"
)

// ConnectPostgres opens the production store.
// dsn: "host=localhost user=kawadi password=kawadi dbname=kawadi port=5432 sslmode=disable"
func ConnectPostgres(dsn string, logLevel gormlogger.LogLevel) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("cannot connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Println("PostgreSQL connected")
	return db, nil
}

// Open picks the driver named in the config.
func Open(cfg config.DBConfig, env string) (*gorm.DB, error) {
	level := gormlogger.Info
	if env == "production" {
		level = gormlogger.Warn
	}
	switch cfg.Driver {
	case "sqlite":
		return ConnectSQLite(cfg.SQLitePath, level)
	case "postgres", "":
		return ConnectPostgres(cfg.DSN(), level)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
