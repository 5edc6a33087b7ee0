package usecase

import (
	"context"
	"fmt"
	"time"

	"CatalystPull/internal/domain/models"
	domrepo "CatalystPull/internal/domain/repository"
	applogger "CatalystPull/pkg/logger"
	pkgmetrics "CatalystPull/pkg/metrics"
	"CatalystPull/pkg/util"
)

// UpsertResult counts what happened to a batch of drafts.
type UpsertResult struct {
	Inserted   int
	Duplicates int
	// Stored holds the inserted catalysts in draft order.
	Stored []models.Catalyst
}

// Upserter scores drafts and merges them into the store on (ticker, event_date).
// The first write for a key wins; later drafts for the key are no-ops.
type Upserter struct {
	store     domrepo.CatalystStore
	scorer    *Scorer
	publisher domrepo.ChangePublisher
	metrics   domrepo.Metrics
	logger    *applogger.Logger
	now       func() time.Time
}

// NewUpserter accepts a nil publisher.
func NewUpserter(store domrepo.CatalystStore, scorer *Scorer, publisher domrepo.ChangePublisher, metrics domrepo.Metrics, l *applogger.Logger) *Upserter {
	if l == nil {
		l = applogger.Nop()
	}
	if metrics == nil {
		metrics = pkgmetrics.Nop{}
	}
	return &Upserter{store: store, scorer: scorer, publisher: publisher, metrics: metrics, logger: l, now: time.Now}
}

// Prepare scores d and returns the catalyst ready to insert.
func (u *Upserter) Prepare(ctx context.Context, d models.Draft) (*models.Catalyst, Score, error) {
	c := d.Catalyst
	c.EventDate = models.NormalizeEventDate(c.EventDate)
	sc, err := u.scorer.Score(ctx, &c, ScoreHint{Impact: d.ImpactHint, CapSized: d.HintSized})
	if err != nil {
		return nil, Score{}, err
	}
	if d.Damping > 0 && d.Damping != 1 {
		sc.Impact = util.Round2(util.Clamp(sc.Impact*d.Damping, 0, 1))
	}
	sc.Apply(&c)
	meta := c.Meta()
	at := u.now().UTC()
	meta.ProcessedAt = &at
	c.SetMeta(meta)
	return &c, sc, nil
}

// Insert writes c unless its key exists and publishes an insert notification.
func (u *Upserter) Insert(ctx context.Context, c *models.Catalyst) (bool, error) {
	inserted, err := u.store.InsertIfAbsent(ctx, c)
	if err != nil {
		u.metrics.RecordError("persistence")
		return false, err
	}
	if inserted {
		u.notify(ctx, c)
	}
	return inserted, nil
}

// Upsert writes drafts one atomic statement at a time. A store failure stops
// the batch; rows written before it are kept.
func (u *Upserter) Upsert(ctx context.Context, source string, drafts []models.Draft) (UpsertResult, error) {
	start := time.Now()
	var res UpsertResult
	defer func() {
		u.metrics.RecordUpserted(source, res.Inserted, res.Duplicates)
		u.metrics.RecordLatency("upsert", time.Since(start).Seconds())
	}()

	for _, d := range drafts {
		c, _, err := u.Prepare(ctx, d)
		if err != nil {
			u.metrics.RecordError("persistence")
			return res, fmt.Errorf("score %s %s: %w", d.Ticker, d.EventDate.Format(time.DateOnly), err)
		}
		inserted, err := u.Insert(ctx, c)
		if err != nil {
			return res, fmt.Errorf("upsert %s %s: %w", d.Ticker, d.EventDate.Format(time.DateOnly), err)
		}
		if !inserted {
			res.Duplicates++
			continue
		}
		res.Inserted++
		res.Stored = append(res.Stored, *c)
	}
	return res, nil
}

func (u *Upserter) notify(ctx context.Context, c *models.Catalyst) {
	if u.publisher == nil {
		return
	}
	ev := models.ChangeEvent{Op: models.ChangeInsert, Catalyst: *c, At: u.now().UTC()}
	if err := u.publisher.Publish(ctx, ev); err != nil {
		u.logger.Warn("change notification dropped",
			applogger.String("catalyst_id", c.ID),
			applogger.Error(err),
		)
	}
}
