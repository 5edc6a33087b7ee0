package service

import (
	"context"
	"time"

	"CatalystPull/internal/domain/models"
)

// FetchResult is the output of one adapter run.
type FetchResult struct {
	Events  []models.RawEvent
	Window  models.DateRange // window that produced the events
	Fetched int              // upstream records seen
	Skipped map[string]int   // records dropped, by reason
	// Profiles is reference data learned during the run (earnings detail lookups).
	Profiles []models.StockProfile
}

// Skip counts a dropped record.
func (r *FetchResult) Skip(reason string) {
	if r.Skipped == nil {
		r.Skipped = map[string]int{}
	}
	r.Skipped[reason]++
}

// Add folds the counts and output of another result into r. Window is left
// as is.
func (r *FetchResult) Add(o *FetchResult) {
	r.Events = append(r.Events, o.Events...)
	r.Profiles = append(r.Profiles, o.Profiles...)
	r.Fetched += o.Fetched
	for reason, n := range o.Skipped {
		if r.Skipped == nil {
			r.Skipped = map[string]int{}
		}
		r.Skipped[reason] += n
	}
}

// SkippedTotal sums all skip reasons.
func (r *FetchResult) SkippedTotal() int {
	n := 0
	for _, v := range r.Skipped {
		n += v
	}
	return n
}

// SourceAdapter fetches raw events from one upstream. Adapters never write to the store.
type SourceAdapter interface {
	Name() string
	Fetch(ctx context.Context, window models.DateRange) (*FetchResult, error)
	// DefaultWindow is the primary window for a scheduled run at now.
	DefaultWindow(now time.Time) models.DateRange
}

// EmbeddingProvider turns texts into vectors of a fixed dimension.
type EmbeddingProvider interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// FeatureProvider fills the features it knows about. Providers run in order;
// a provider leaves fields it cannot supply untouched.
type FeatureProvider interface {
	Name() string
	Provide(ctx context.Context, c *models.Catalyst, fv *models.FeatureVector) error
}
