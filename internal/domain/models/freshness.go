package models

import "time"

type HealthStatus string

const (
	HealthHealthy HealthStatus = "healthy"
	HealthWarning HealthStatus = "warning"
)

// SourceFreshness is the recency summary of one tracked source.
type SourceFreshness struct {
	Source       string     `json:"source"`
	LastUpdate   *time.Time `json:"lastUpdate"`
	RecordCount  int64      `json:"recordCount"`
	OldestRecord *time.Time `json:"oldestRecord"`
	NewestRecord *time.Time `json:"newestRecord"`
	IsStale      bool       `json:"isStale"`
	StaleDays    int        `json:"staleDays"`
	Warning      string     `json:"warning,omitempty"`
	Note         string     `json:"note,omitempty"`
}

type ExpiringKey struct {
	ServiceName string    `json:"service_name"`
	ExpiresAt   time.Time `json:"expires_at"`
	DaysLeft    int       `json:"days_left"`
}

type OverallHealth struct {
	Status   HealthStatus `json:"status"`
	Messages []string     `json:"messages"`
}

// FreshnessReport is the output of one freshness sweep.
type FreshnessReport struct {
	Timestamp       time.Time         `json:"timestamp"`
	DataFreshness   []SourceFreshness `json:"dataFreshness"`
	ExpiringAPIKeys []ExpiringKey     `json:"expiringApiKeys"`
	OverallHealth   OverallHealth     `json:"overallHealth"`
}

// SourceStats is what the store reports about one catalyst type.
type SourceStats struct {
	Count         int64
	OldestEvent   *time.Time
	NewestEvent   *time.Time
	LatestCreated *time.Time
}
