// Package sources holds the upstream adapters feeding the ingestion pipeline.
package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"CatalystPull/internal/domain/models"
	domrepo "CatalystPull/internal/domain/repository"
	"CatalystPull/pkg/config"
	xhttp "CatalystPull/pkg/http"
	applogger "CatalystPull/pkg/logger"
	"CatalystPull/pkg/retry"

	"golang.org/x/time/rate"
)

// Skip reasons reported in FetchResult.Skipped.
const (
	SkipInvalidDate   = "invalid_date"
	SkipMissingTicker = "missing_ticker"
	SkipMissingEntity = "missing_entity"
	SkipDuplicate     = "duplicate"
	SkipUpstream      = "upstream_error"
	SkipDetail        = "detail_error"
)

// Fetcher is the request loop shared by every adapter: credential lookup,
// inter-call spacing, 429 waits and bounded retry with backoff.
type Fetcher struct {
	source  string
	cfg     config.SourceConfig
	client  *xhttp.Client
	creds   domrepo.CredentialStore
	retry   retry.Config
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *applogger.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

func WithRetry(cfg retry.Config) FetcherOption {
	return func(f *Fetcher) { f.retry = cfg }
}

func WithHTTPClient(c *xhttp.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

// WithSleep replaces the wait used after a 429.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) FetcherOption {
	return func(f *Fetcher) { f.sleep = fn }
}

func WithLogger(l *applogger.Logger) FetcherOption {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFetcher builds the fetch loop for one source.
func NewFetcher(source string, cfg config.SourceConfig, creds domrepo.CredentialStore, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		source: source,
		cfg:    cfg,
		creds:  creds,
		retry:  retry.New(retry.WithMaxAttempts(3)),
		sleep:  retry.SleepContext,
		logger: applogger.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = xhttp.NewClient(xhttp.WithTimeout(cfg.Timeout), xhttp.WithUserAgent(cfg.UserAgent))
	}
	f.limiter = rate.NewLimiter(every(cfg.CallDelay), 1)
	f.retry.Retryable = retryable
	f.retry.Logger = f.logger
	f.logger = f.logger.With(applogger.String("source", source))
	return f
}

func every(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

// Source is the adapter name the fetcher works for.
func (f *Fetcher) Source() string { return f.source }

// Config is the source configuration.
func (f *Fetcher) Config() config.SourceConfig { return f.cfg }

// Logger is the source-scoped logger.
func (f *Fetcher) Logger() *applogger.Logger { return f.logger }

// APIKey resolves the configured credential. A credential with a rate limit
// slows the inter-call spacing down to the limit; it never speeds it up.
// Missing keys return ErrCredentialMissing unless optional is set.
func (f *Fetcher) APIKey(ctx context.Context, optional bool) (string, error) {
	if f.creds == nil || f.cfg.Credential == "" {
		if optional {
			return "", nil
		}
		return "", fmt.Errorf("%w: %s", models.ErrCredentialMissing, f.source)
	}
	cred, err := f.creds.Lookup(ctx, f.cfg.Credential)
	if err != nil {
		return "", fmt.Errorf("lookup credential %s: %w", f.cfg.Credential, err)
	}
	if cred == nil || cred.APIKey == "" {
		if optional {
			f.logger.Debug("no credential, calling anonymously", applogger.String("service", f.cfg.Credential))
			return "", nil
		}
		return "", fmt.Errorf("%w: %s", models.ErrCredentialMissing, f.cfg.Credential)
	}
	if iv := cred.MinInterval(); iv > f.cfg.CallDelay {
		f.limiter.SetLimit(rate.Every(iv))
	}
	return cred.APIKey, nil
}

// Call performs one request. A 429 waits RateLimitWait, or the server's
// Retry-After when longer, and repeats the same request without consuming a
// retry attempt, up to MaxRateLimitRetries times. Other failures are retried
// with backoff. The returned error is an
// *models.UpstreamError.
func (f *Fetcher) Call(ctx context.Context, req *xhttp.RequestOptions, dest any) error {
	throttled := 0
	err := retry.Do(ctx, f.retry, func(ctx context.Context) error {
		for {
			if err := f.limiter.Wait(ctx); err != nil {
				return retry.Permanent(err)
			}
			err := f.client.SendAndParse(ctx, req, dest)
			var se *xhttp.StatusError
			if !errors.As(err, &se) || se.Code != http.StatusTooManyRequests {
				return err
			}
			if throttled >= f.cfg.MaxRateLimitRetries {
				return retry.Permanent(err)
			}
			throttled++
			wait := f.cfg.RateLimitWait
			if se.RetryAfter > wait {
				wait = se.RetryAfter
			}
			f.logger.Warn("rate limited, waiting",
				applogger.Int("attempt", throttled),
				applogger.Duration("wait", wait),
			)
			if err := f.sleep(ctx, wait); err != nil {
				return retry.Permanent(err)
			}
		}
	})
	if err == nil {
		return nil
	}
	ue := &models.UpstreamError{Source: f.source, Err: err}
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		ue.Status = se.Code
	}
	return ue
}

func retryable(err error) bool {
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// IsNotFound reports whether err is an upstream 404, which sources answer
// for an empty date window.
func IsNotFound(err error) bool {
	var ue *models.UpstreamError
	return errors.As(err, &ue) && ue.Status == http.StatusNotFound
}

// Windows returns the fallback sequence: the primary window, the widened one
// (when it differs) and the zero window meaning most recent records.
func Windows(primary, widened models.DateRange) []models.DateRange {
	out := []models.DateRange{primary}
	if !widened.IsZero() && widened != primary {
		out = append(out, widened)
	}
	return append(out, models.DateRange{})
}

// WithFallback runs fetch over Windows until one yields records. A 404 or an
// empty page moves to the next window; any other error stops the sequence.
func (f *Fetcher) WithFallback(ctx context.Context, primary, widened models.DateRange, fetch func(ctx context.Context, w models.DateRange) (int, error)) (models.DateRange, error) {
	var last models.DateRange
	for _, w := range Windows(primary, widened) {
		last = w
		n, err := fetch(ctx, w)
		if err != nil && !IsNotFound(err) {
			return w, err
		}
		if n > 0 {
			return w, nil
		}
		f.logger.Info("no records in window, widening", applogger.String("window", w.String()))
	}
	return last, nil
}

// PageSize is the upstream page size bounded by the record cap.
func (f *Fetcher) PageSize(remaining int) int {
	n := f.cfg.PageSize
	if n <= 0 || n > f.cfg.RecordCap {
		n = f.cfg.RecordCap
	}
	if remaining < n {
		n = remaining
	}
	return n
}

// Pause waits for the inter-call delay without issuing a request.
func (f *Fetcher) Pause(ctx context.Context) error {
	return f.limiter.Wait(ctx)
}
