package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"CatalystPull/internal/domain/models"
	domrepo "CatalystPull/internal/domain/repository"
	"CatalystPull/pkg/config"
	applogger "CatalystPull/pkg/logger"
	pkgmetrics "CatalystPull/pkg/metrics"
)

// Freshness bases.
const (
	BasisEventDate = "event_date"
	BasisCreatedAt = "created_at"
)

// FreshnessPolicy is the staleness rule of one tracked source.
type FreshnessPolicy struct {
	Source string
	Type   models.CatalystType
	Basis  string
	// ExpectedLag only adds an informational note.
	ExpectedLag time.Duration
	WarnAfter   time.Duration
}

var sourceTypes = map[string]models.CatalystType{
	config.SourceRegulatory: models.TypeRegulatory,
	config.SourceFilings:    models.TypeFiling,
	config.SourceEarnings:   models.TypeEarnings,
}

// PoliciesFromConfig builds policies for the known sources, sorted by name.
func PoliciesFromConfig(m map[string]config.FreshnessSource) []FreshnessPolicy {
	out := make([]FreshnessPolicy, 0, len(m))
	for name, fs := range m {
		t, ok := sourceTypes[name]
		if !ok {
			continue
		}
		out = append(out, FreshnessPolicy{Source: name, Type: t, Basis: fs.Basis, ExpectedLag: fs.ExpectedLag, WarnAfter: fs.WarnAfter})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// FreshnessMonitor sweeps per-source recency and credential expiry.
type FreshnessMonitor struct {
	store     domrepo.CatalystStore
	creds     domrepo.CredentialStore
	policies  []FreshnessPolicy
	keyWindow time.Duration
	metrics   domrepo.Metrics
	logger    *applogger.Logger
	now       func() time.Time
}

func NewFreshnessMonitor(store domrepo.CatalystStore, creds domrepo.CredentialStore, policies []FreshnessPolicy, keyWindow time.Duration, metrics domrepo.Metrics, l *applogger.Logger) *FreshnessMonitor {
	if keyWindow <= 0 {
		keyWindow = 30 * 24 * time.Hour
	}
	if metrics == nil {
		metrics = pkgmetrics.Nop{}
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &FreshnessMonitor{store: store, creds: creds, policies: policies, keyWindow: keyWindow, metrics: metrics, logger: l, now: time.Now}
}

// SetClock replaces the time source.
func (m *FreshnessMonitor) SetClock(now func() time.Time) { m.now = now }

// Check builds the freshness report at the current time.
func (m *FreshnessMonitor) Check(ctx context.Context) (*models.FreshnessReport, error) {
	now := m.now().UTC()
	rep := &models.FreshnessReport{
		Timestamp:       now,
		DataFreshness:   []models.SourceFreshness{},
		ExpiringAPIKeys: []models.ExpiringKey{},
		OverallHealth:   models.OverallHealth{Status: models.HealthHealthy, Messages: []string{}},
	}

	for _, p := range m.policies {
		st, err := m.store.Stats(ctx, p.Type)
		if err != nil {
			return nil, fmt.Errorf("stats %s: %w", p.Source, err)
		}
		sf := Assess(p, st, now)
		if sf.RecordCount > 0 {
			m.metrics.RecordStaleness(p.Source, now.Sub(basisTime(p, st)).Seconds())
		}
		if sf.Warning != "" {
			rep.OverallHealth.Messages = append(rep.OverallHealth.Messages, sf.Warning)
		}
		if sf.IsStale {
			rep.OverallHealth.Status = models.HealthWarning
		}
		rep.DataFreshness = append(rep.DataFreshness, sf)
	}

	if m.creds != nil {
		keys, err := m.creds.All(ctx)
		if err != nil {
			return nil, fmt.Errorf("list credentials: %w", err)
		}
		for _, k := range keys {
			if !k.ExpiresWithin(now, m.keyWindow) {
				continue
			}
			rep.ExpiringAPIKeys = append(rep.ExpiringAPIKeys, models.ExpiringKey{
				ServiceName: k.ServiceName,
				ExpiresAt:   k.ExpiresAt.UTC(),
				DaysLeft:    int(k.ExpiresAt.Sub(now).Hours() / 24),
			})
			rep.OverallHealth.Messages = append(rep.OverallHealth.Messages, fmt.Sprintf("API key for %s expires soon", k.ServiceName))
			rep.OverallHealth.Status = models.HealthWarning
		}
	}

	if rep.OverallHealth.Status != models.HealthHealthy {
		m.logger.Warn("data freshness degraded", applogger.Strings("messages", rep.OverallHealth.Messages))
	}
	return rep, nil
}

func basisTime(p FreshnessPolicy, st models.SourceStats) time.Time {
	var t *time.Time
	if p.Basis == BasisCreatedAt {
		t = st.LatestCreated
	} else {
		t = st.NewestEvent
	}
	if t == nil {
		return time.Time{}
	}
	return *t
}

// Assess applies p to the stats of one source.
func Assess(p FreshnessPolicy, st models.SourceStats, now time.Time) models.SourceFreshness {
	sf := models.SourceFreshness{
		Source:       p.Source,
		LastUpdate:   st.LatestCreated,
		RecordCount:  st.Count,
		OldestRecord: st.OldestEvent,
		NewestRecord: st.NewestEvent,
	}
	if st.Count == 0 {
		sf.Note = "no records yet"
		return sf
	}
	ref := basisTime(p, st)
	if ref.IsZero() {
		return sf
	}
	age := now.Sub(ref)
	sf.StaleDays = int(age.Hours() / 24)
	switch {
	case p.WarnAfter > 0 && age > p.WarnAfter:
		sf.IsStale = true
		if p.Basis == BasisCreatedAt {
			sf.Warning = fmt.Sprintf("%s data hasn't been updated in %d hours.", p.Source, int(age.Hours()))
		} else {
			sf.Warning = fmt.Sprintf("%s data appears stale. Newest record is %d days old.", p.Source, sf.StaleDays)
		}
	case p.ExpectedLag > 0 && age > p.ExpectedLag/3:
		sf.Note = fmt.Sprintf("%s data is %d days old. This source can lag up to %d days.", p.Source, sf.StaleDays, int(p.ExpectedLag.Hours()/24))
	}
	return sf
}
