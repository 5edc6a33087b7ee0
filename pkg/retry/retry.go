// Package retry runs operations with bounded attempts and capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	applogger "CatalystPull/pkg/logger"
)

// Config describes a retry policy.
type Config struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	Factor         float64
	MaxDelay       time.Duration
	JitterFraction float64
	// Retryable reports whether err deserves another attempt. Nil means every
	// error except a Permanent one is retried.
	Retryable func(error) bool
	Logger    *applogger.Logger
	// Sleep waits for d or until ctx is done. Overridden in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Option configures Config.
type Option func(*Config)

func WithMaxAttempts(n int) Option {
	return func(c *Config) { c.MaxAttempts = n }
}

func WithBackoff(base time.Duration, factor float64, max time.Duration) Option {
	return func(c *Config) {
		c.BaseDelay = base
		c.Factor = factor
		c.MaxDelay = max
	}
}

func WithJitter(fraction float64) Option {
	return func(c *Config) { c.JitterFraction = fraction }
}

func WithRetryable(fn func(error) bool) Option {
	return func(c *Config) { c.Retryable = fn }
}

func WithLogger(l *applogger.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Config) { c.Sleep = fn }
}

// DefaultConfig is 5 attempts, 1s base, factor 2, capped at 30s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		BaseDelay:      time.Second,
		Factor:         2,
		MaxDelay:       30 * time.Second,
		JitterFraction: 0.1,
	}
}

// New builds a Config from DefaultConfig and options.
func New(opts ...Option) Config {
	c := DefaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Delay returns the un-jittered wait after the given failed attempt (1-based).
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(c.BaseDelay) * math.Pow(c.Factor, float64(attempt-1))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// Do runs op until it succeeds, returns a non-retryable error, the attempts
// are exhausted or ctx is done. The last error is returned unwrapped from Permanent.
func Do(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	cfg.normalize()

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			if attempt > 1 && cfg.Logger != nil {
				cfg.Logger.Debug("operation succeeded after retry", applogger.Int("attempt", attempt))
			}
			return nil
		}
		lastErr = err

		var p *permanentError
		if errors.As(err, &p) {
			return p.err
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := addJitter(cfg.Delay(attempt), cfg.JitterFraction)
		if cfg.Logger != nil {
			cfg.Logger.Warn("operation failed, retrying",
				applogger.Error(err),
				applogger.Int("attempt", attempt),
				applogger.Int("max_attempts", cfg.MaxAttempts),
				applogger.Duration("delay_ms", delay),
			)
		}
		if err := cfg.Sleep(ctx, delay); err != nil {
			return lastErr
		}
	}
	return lastErr
}

// DoWithResult is Do for operations returning a value.
func DoWithResult[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func(ctx context.Context) error {
		var err error
		result, err = op(ctx)
		return err
	})
	return result, err
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Config) normalize() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.Factor < 1 {
		c.Factor = 1
	}
	if c.Sleep == nil {
		c.Sleep = SleepContext
	}
}

func addJitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 || d <= 0 {
		return d
	}
	jitter := time.Duration(rand.Float64() * float64(d) * fraction)
	if rand.Intn(2) == 0 {
		return d - jitter
	}
	return d + jitter
}
