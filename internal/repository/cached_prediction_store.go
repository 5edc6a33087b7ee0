package repository

import (
	"context"
	"errors"
	"time"

	"CatalystPull/internal/domain/models"
	domrepo "CatalystPull/internal/domain/repository"
	"CatalystPull/pkg/cache"
	applogger "CatalystPull/pkg/logger"
)

// CachedPredictionStore reads the latest prediction through pkg/cache. Only
// fresh entries are cached, and only for the rest of their freshness window.
// Concurrent appends for one catalyst race; the last cache write wins.
type CachedPredictionStore struct {
	next   domrepo.PredictionStore
	sink   domrepo.PredictionSink
	cache  cache.Store
	ttl    time.Duration
	now    func() time.Time
	logger *applogger.Logger
}

type CachedPredictionOption func(*CachedPredictionStore)

// WithPredictionSink mirrors appended entries to an analytics sink.
func WithPredictionSink(sink domrepo.PredictionSink) CachedPredictionOption {
	return func(s *CachedPredictionStore) { s.sink = sink }
}

func WithPredictionClock(now func() time.Time) CachedPredictionOption {
	return func(s *CachedPredictionStore) { s.now = now }
}

func WithPredictionLogger(l *applogger.Logger) CachedPredictionOption {
	return func(s *CachedPredictionStore) { s.logger = l }
}

func NewCachedPredictionStore(next domrepo.PredictionStore, c cache.Store, ttl time.Duration, opts ...CachedPredictionOption) *CachedPredictionStore {
	s := &CachedPredictionStore{
		next:   next,
		cache:  c,
		ttl:    ttl,
		now:    time.Now,
		logger: applogger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func predictionKey(catalystID string) string {
	return cache.Key("prediction", catalystID)
}

func (s *CachedPredictionStore) Append(ctx context.Context, e *models.PredictionCacheEntry) error {
	if err := s.next.Append(ctx, e); err != nil {
		return err
	}
	if err := s.cache.Set(ctx, predictionKey(e.CatalystID), e, s.ttl); err != nil {
		s.logger.Warn("prediction cache set failed",
			applogger.String("catalyst_id", e.CatalystID),
			applogger.Error(err),
		)
	}
	if s.sink != nil {
		if err := s.sink.Write(ctx, *e); err != nil {
			s.logger.Warn("prediction sink write failed",
				applogger.String("catalyst_id", e.CatalystID),
				applogger.Error(err),
			)
		}
	}
	return nil
}

func (s *CachedPredictionStore) Latest(ctx context.Context, catalystID string) (*models.PredictionCacheEntry, error) {
	key := predictionKey(catalystID)
	var cached models.PredictionCacheEntry
	err := s.cache.Get(ctx, key, &cached)
	if err == nil && cached.Fresh(s.now(), s.ttl) {
		return &cached, nil
	}
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("prediction cache get failed",
			applogger.String("catalyst_id", catalystID),
			applogger.Error(err),
		)
	}

	e, err := s.next.Latest(ctx, catalystID)
	if err != nil || e == nil {
		return e, err
	}
	if remaining := s.ttl - s.now().Sub(e.CreatedAt); remaining > 0 {
		_ = s.cache.Set(ctx, key, e, remaining)
	}
	return e, nil
}
