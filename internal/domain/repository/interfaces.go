package repository

import (
	"context"
	"time"

	"CatalystPull/internal/domain/models"
)

// CatalystFilter narrows catalyst listings. Zero fields are ignored.
type CatalystFilter struct {
	Ticker string
	Type   models.CatalystType
	Since  time.Time
	Limit  int
}

// CatalystStore is the durable catalyst store keyed by (ticker, event_date).
type CatalystStore interface {
	// InsertIfAbsent atomically inserts c unless a row with the same natural key
	// exists. It reports whether the row was inserted; the first write wins.
	InsertIfAbsent(ctx context.Context, c *models.Catalyst) (bool, error)
	Get(ctx context.Context, id string) (*models.Catalyst, error)
	GetByKey(ctx context.Context, ticker string, eventDate time.Time) (*models.Catalyst, error)
	List(ctx context.Context, f CatalystFilter) ([]models.Catalyst, error)
	Count(ctx context.Context) (int64, error)
	// CountPrior counts catalysts of the same type and ticker dated before eventDate, up to limit.
	CountPrior(ctx context.Context, t models.CatalystType, ticker string, eventDate time.Time, limit int) (int, error)
	// Prior lists catalysts of the same type and ticker dated before eventDate, newest first.
	Prior(ctx context.Context, t models.CatalystType, ticker string, eventDate time.Time, limit int) ([]models.Catalyst, error)
	// SimilarCandidates lists catalysts of type t for other tickers, newest first.
	SimilarCandidates(ctx context.Context, t models.CatalystType, excludeTicker string, limit int) ([]models.Catalyst, error)
	MissingEmbeddings(ctx context.Context, limit int, exclude []string) ([]models.Catalyst, error)
	SetEmbedding(ctx context.Context, id string, vec []float64) error
	Stats(ctx context.Context, t models.CatalystType) (models.SourceStats, error)
}

// OutcomeStore records observed price movements.
type OutcomeStore interface {
	Record(ctx context.Context, o *models.Outcome) error
	ForCatalysts(ctx context.Context, ids []string) (map[string][]models.Outcome, error)
}

// PredictionStore is the append-only prediction log.
type PredictionStore interface {
	Append(ctx context.Context, e *models.PredictionCacheEntry) error
	// Latest returns the newest entry for catalystID or nil.
	Latest(ctx context.Context, catalystID string) (*models.PredictionCacheEntry, error)
}

// PredictionSink mirrors predictions to an analytics store.
type PredictionSink interface {
	Write(ctx context.Context, e models.PredictionCacheEntry) error
}

// EntityResolver maps a raw identifier to its tickers.
type EntityResolver interface {
	Resolve(ctx context.Context, rawName string) (*models.EntityMapping, error)
}

// ProfileStore reads and writes stock reference data.
type ProfileStore interface {
	Get(ctx context.Context, ticker string) (*models.StockProfile, error)
	Upsert(ctx context.Context, p *models.StockProfile) error
}

// CredentialStore looks up API keys by service name. A missing credential is
// (nil, nil), not an error.
type CredentialStore interface {
	Lookup(ctx context.Context, service string) (*models.Credential, error)
	All(ctx context.Context) ([]models.Credential, error)
}

// CandleStore reads recent bars for volatility features.
type CandleStore interface {
	LatestCandles(ctx context.Context, symbol string, n int) ([]models.Candle, error)
}

// ChangePublisher emits catalyst change notifications. Publishing is best effort.
type ChangePublisher interface {
	Publish(ctx context.Context, ev models.ChangeEvent) error
}

// ChangeFeed hands change notifications to subscribers at most once.
type ChangeFeed interface {
	// Subscribe returns a channel of events and a cancel func. Events that do
	// not fit in the buffer are dropped for that subscriber.
	Subscribe(buffer int) (<-chan models.ChangeEvent, func())
}

// Metrics records pipeline measurements.
type Metrics interface {
	RecordFetched(source string, n int)
	RecordSkipped(source, reason string, n int)
	RecordUpserted(source string, inserted, duplicates int)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordStaleness(source string, seconds float64)
	RecordPrediction(cache string)
	RecordEmbeddings(provider string, n int)
}
