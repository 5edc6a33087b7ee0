// Package database opens the durable SQLite store through gorm.
package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Option configures Config.
type Option func(*Config)

// Config holds SQLite connection settings.
type Config struct {
	Path         string
	BusyTimeout  time.Duration
	MaxOpenConns int
	LogLevel     gormlogger.LogLevel
	Models       []interface{}
}

// WithPath sets the database file path.
func WithPath(path string) Option {
	return func(c *Config) { c.Path = path }
}

// WithBusyTimeout sets how long a writer waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.BusyTimeout = d
		}
	}
}

// WithMaxOpenConns caps the connection pool.
func WithMaxOpenConns(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxOpenConns = n
		}
	}
}

// WithAutoMigrate registers models migrated on open.
func WithAutoMigrate(models ...interface{}) Option {
	return func(c *Config) { c.Models = append(c.Models, models...) }
}

// WithLogLevel sets the gorm logger level.
func WithLogLevel(level gormlogger.LogLevel) Option {
	return func(c *Config) { c.LogLevel = level }
}

// Open opens (creating if needed) the SQLite database and migrates the registered models.
func Open(opts ...Option) (*gorm.DB, error) {
	cfg := &Config{
		Path:         "data/catalysts.db",
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 4,
		LogLevel:     gormlogger.Silent,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(DSN(cfg.Path, cfg.BusyTimeout)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(cfg.LogLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)

	if len(cfg.Models) > 0 {
		if err := db.AutoMigrate(cfg.Models...); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}
	return db, nil
}

// DSN builds a glebarez/sqlite DSN with WAL journaling and a busy timeout.
func DSN(path string, busy time.Duration) string {
	return fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		path, busy.Milliseconds())
}

// Ping checks the connection.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
