package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"CatalystPull/internal/domain/models"
	domrepo "CatalystPull/internal/domain/repository"
	"CatalystPull/internal/domain/service"
	applogger "CatalystPull/pkg/logger"
	pkgmetrics "CatalystPull/pkg/metrics"
)

// Skip reasons added by the runner on top of the adapter ones.
const (
	SkipUnresolved = "unresolved"
	SkipInvalid    = "invalid"
	SkipRepeat     = "repeat_in_run"
)

// RunReport summarizes one adapter run.
type RunReport struct {
	Source     string
	Window     models.DateRange
	Fetched    int
	Processed  int
	Inserted   int
	Duplicates int
	Skipped    map[string]int
	Stored     []models.Catalyst
	Duration   time.Duration
}

// IngestionRunner drives one adapter run: fetch, resolve, normalize, upsert.
// A run keeps no checkpoint; rerunning relies on the first-write-wins upsert.
type IngestionRunner struct {
	adapters   map[string]service.SourceAdapter
	resolver   domrepo.EntityResolver
	profiles   domrepo.ProfileStore
	normalizer *Normalizer
	upserter   *Upserter
	metrics    domrepo.Metrics
	logger     *applogger.Logger
	now        func() time.Time
	afterRun   []func(ctx context.Context, r *RunReport)
}

// IngestionOption configures IngestionRunner.
type IngestionOption func(*IngestionRunner)

// WithAfterRun registers a hook called after every run that stored rows.
func WithAfterRun(fn func(ctx context.Context, r *RunReport)) IngestionOption {
	return func(r *IngestionRunner) { r.afterRun = append(r.afterRun, fn) }
}

func WithIngestionClock(now func() time.Time) IngestionOption {
	return func(r *IngestionRunner) { r.now = now }
}

func NewIngestionRunner(
	adapters []service.SourceAdapter,
	resolver domrepo.EntityResolver,
	profiles domrepo.ProfileStore,
	normalizer *Normalizer,
	upserter *Upserter,
	metrics domrepo.Metrics,
	l *applogger.Logger,
	opts ...IngestionOption,
) *IngestionRunner {
	if l == nil {
		l = applogger.Nop()
	}
	if metrics == nil {
		metrics = pkgmetrics.Nop{}
	}
	r := &IngestionRunner{
		adapters:   make(map[string]service.SourceAdapter, len(adapters)),
		resolver:   resolver,
		profiles:   profiles,
		normalizer: normalizer,
		upserter:   upserter,
		metrics:    metrics,
		logger:     l,
		now:        time.Now,
	}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sources lists the registered adapter names.
func (r *IngestionRunner) Sources() []string {
	out := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Run executes the named adapter over its default window.
func (r *IngestionRunner) Run(ctx context.Context, source string) (*RunReport, error) {
	a, ok := r.adapters[source]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownSource, source)
	}
	return r.RunWindow(ctx, a, a.DefaultWindow(r.now()))
}

// RunWindow executes a over window. Per-record failures are counted and
// skipped; an upstream failure or a store failure ends the run with the
// partial report.
func (r *IngestionRunner) RunWindow(ctx context.Context, a service.SourceAdapter, window models.DateRange) (*RunReport, error) {
	start := time.Now()
	rep := &RunReport{Source: a.Name(), Window: window, Skipped: map[string]int{}}
	log := r.logger.With(applogger.String("source", a.Name()))
	defer func() {
		rep.Duration = time.Since(start)
		r.metrics.RecordLatency("ingest_"+a.Name(), rep.Duration.Seconds())
		for reason, n := range rep.Skipped {
			r.metrics.RecordSkipped(a.Name(), reason, n)
		}
	}()

	res, err := a.Fetch(ctx, window)
	if res != nil {
		rep.Window = res.Window
		rep.Fetched = res.Fetched
		for k, v := range res.Skipped {
			rep.Skipped[k] += v
		}
		r.metrics.RecordFetched(a.Name(), res.Fetched)
	}
	if err != nil {
		r.metrics.RecordError("upstream")
		log.Error("fetch failed",
			applogger.String("window", rep.Window.String()),
			applogger.String("reason", "upstream"),
			applogger.Error(err),
		)
		if res == nil || len(res.Events) == 0 {
			return rep, err
		}
	}

	if res == nil {
		return rep, err
	}
	r.saveProfiles(ctx, log, res.Profiles)

	mappings := map[string]*models.EntityMapping{}
	seen := map[string]bool{}
	var drafts []models.Draft
	for _, ev := range res.Events {
		m, err := r.resolve(ctx, mappings, ev)
		if err != nil {
			if errors.Is(err, models.ErrEntityUnresolved) {
				rep.Skipped[SkipUnresolved]++
				continue
			}
			return rep, err
		}
		ds, err := r.normalizer.Normalize(ev, m)
		if err != nil {
			if errors.Is(err, models.ErrEntityUnresolved) {
				rep.Skipped[SkipUnresolved]++
			} else {
				rep.Skipped[SkipInvalid]++
			}
			log.Debug("event dropped", applogger.String("external_id", ev.ExternalID), applogger.Error(err))
			continue
		}
		rep.Processed++
		for _, d := range ds {
			// one draft per ticker and entity per run
			key := d.Ticker + "|" + d.EventDate.String()
			if ev.EntityName != "" {
				key = d.Ticker + "|" + ev.EntityName
			}
			if seen[key] {
				rep.Skipped[SkipRepeat]++
				continue
			}
			seen[key] = true
			drafts = append(drafts, d)
		}
	}

	up, uerr := r.upserter.Upsert(ctx, a.Name(), drafts)
	rep.Inserted = up.Inserted
	rep.Duplicates = up.Duplicates
	rep.Stored = up.Stored
	if uerr != nil {
		log.Error("upsert failed", applogger.String("reason", "persistence"), applogger.Error(uerr))
		return rep, uerr
	}

	log.Info("source run finished",
		applogger.String("window", rep.Window.String()),
		applogger.Int("fetched", rep.Fetched),
		applogger.Int("processed", rep.Processed),
		applogger.Int("inserted", rep.Inserted),
		applogger.Int("duplicates", rep.Duplicates),
	)
	if rep.Inserted > 0 {
		for _, fn := range r.afterRun {
			fn(ctx, rep)
		}
	}
	return rep, err
}

func (r *IngestionRunner) resolve(ctx context.Context, cache map[string]*models.EntityMapping, ev models.RawEvent) (*models.EntityMapping, error) {
	if ev.Ticker != "" || ev.EntityName == "" || r.resolver == nil {
		return nil, nil
	}
	if m, ok := cache[ev.EntityName]; ok {
		if m == nil {
			return nil, models.ErrEntityUnresolved
		}
		return m, nil
	}
	m, err := r.resolver.Resolve(ctx, ev.EntityName)
	if err != nil {
		if errors.Is(err, models.ErrEntityUnresolved) {
			cache[ev.EntityName] = nil
		}
		return nil, err
	}
	cache[ev.EntityName] = m
	return m, nil
}

func (r *IngestionRunner) saveProfiles(ctx context.Context, log *applogger.Logger, profiles []models.StockProfile) {
	if r.profiles == nil {
		return
	}
	for i := range profiles {
		if err := r.profiles.Upsert(ctx, &profiles[i]); err != nil {
			log.Warn("profile upsert failed", applogger.String("ticker", profiles[i].Ticker), applogger.Error(err))
		}
	}
}
