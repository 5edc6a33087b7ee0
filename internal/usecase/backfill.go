package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	domrepo "CatalystPull/internal/domain/repository"
	"CatalystPull/internal/service/embedding"
	"CatalystPull/pkg/cache"
	applogger "CatalystPull/pkg/logger"
	pkgmetrics "CatalystPull/pkg/metrics"
	"CatalystPull/pkg/queue"
	"CatalystPull/pkg/retry"
)

const (
	backfillLockKey = "lock:embedding:backfill"
	// BackfillJobType is the queue message type of an embedding backfill.
	BackfillJobType = "embedding.backfill"
)

// BackfillReport summarizes one backfill run.
type BackfillReport struct {
	Processed int
	Failed    int
	Batches   int
	Provider  string
	// Busy is set when another backfill held the lock and nothing ran.
	Busy bool
}

// Message is the human readable summary returned to callers.
func (r *BackfillReport) Message() string {
	switch {
	case r.Busy:
		return "backfill already running"
	case r.Processed == 0 && r.Failed == 0:
		return "no catalysts missing embeddings"
	case r.Failed > 0:
		return fmt.Sprintf("generated %d embeddings via %s, %d failed", r.Processed, r.Provider, r.Failed)
	}
	return fmt.Sprintf("generated %d embeddings via %s", r.Processed, r.Provider)
}

// EmbeddingBackfill fills missing catalyst embeddings in batches. Only one
// backfill runs at a time.
type EmbeddingBackfill struct {
	store      domrepo.CatalystStore
	gen        *embedding.Generator
	lock       cache.Locker
	lockTTL    time.Duration
	maxBatches int
	metrics    domrepo.Metrics
	logger     *applogger.Logger

	// used when no shared cache is configured
	local sync.Mutex
}

func NewEmbeddingBackfill(store domrepo.CatalystStore, gen *embedding.Generator, lock cache.Locker, lockTTL time.Duration, maxBatches int, metrics domrepo.Metrics, l *applogger.Logger) *EmbeddingBackfill {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	if maxBatches <= 0 {
		maxBatches = 200
	}
	if metrics == nil {
		metrics = pkgmetrics.Nop{}
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &EmbeddingBackfill{store: store, gen: gen, lock: lock, lockTTL: lockTTL, maxBatches: maxBatches, metrics: metrics, logger: l}
}

func (b *EmbeddingBackfill) acquire(ctx context.Context) (func(), bool, error) {
	if b.lock == nil {
		if !b.local.TryLock() {
			return nil, false, nil
		}
		return b.local.Unlock, true, nil
	}
	ok, err := b.lock.TryLock(ctx, backfillLockKey, b.lockTTL)
	if err != nil || !ok {
		return nil, false, err
	}
	return func() {
		if err := b.lock.Unlock(context.Background(), backfillLockKey); err != nil {
			b.logger.Warn("backfill unlock failed", applogger.Error(err))
		}
	}, true, nil
}

// Run embeds every catalyst missing a vector. A record whose update fails is
// excluded from later batches of the same run.
func (b *EmbeddingBackfill) Run(ctx context.Context) (*BackfillReport, error) {
	release, ok, err := b.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire backfill lock: %w", err)
	}
	if !ok {
		b.logger.Info("embedding backfill skipped, another run holds the lock")
		return &BackfillReport{Busy: true}, nil
	}
	defer release()

	start := time.Now()
	defer func() { b.metrics.RecordLatency("embedding_backfill", time.Since(start).Seconds()) }()

	sess := b.gen.Session(ctx)
	rep := &BackfillReport{Provider: sess.Provider()}
	var failed []string
	for rep.Batches < b.maxBatches {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rows, err := b.store.MissingEmbeddings(ctx, sess.BatchSize(), failed)
		if err != nil {
			return rep, fmt.Errorf("load missing embeddings: %w", err)
		}
		if len(rows) == 0 {
			break
		}
		rep.Batches++

		texts := make([]string, len(rows))
		for i := range rows {
			texts[i] = rows[i].EmbeddingText()
		}
		vecs := sess.Embed(ctx, texts)
		for i := range rows {
			if err := b.store.SetEmbedding(ctx, rows[i].ID, vecs[i]); err != nil {
				failed = append(failed, rows[i].ID)
				rep.Failed++
				b.metrics.RecordError("embedding_update")
				b.logger.Warn("embedding update failed", applogger.String("catalyst_id", rows[i].ID), applogger.Error(err))
				continue
			}
			rep.Processed++
		}
	}

	b.logger.Info("embedding backfill finished",
		applogger.String("provider", rep.Provider),
		applogger.Int("processed", rep.Processed),
		applogger.Int("failed", rep.Failed),
		applogger.Int("batches", rep.Batches),
		applogger.Duration("elapsed", time.Since(start)),
	)
	return rep, nil
}

// BackfillRequest is the queued payload; it records what triggered the run.
type BackfillRequest struct {
	Source   string `json:"source"`
	Inserted int    `json:"inserted"`
}

// BackfillJob runs the backfill from the queue.
type BackfillJob struct {
	backfill *EmbeddingBackfill
}

func NewBackfillJob(b *EmbeddingBackfill) *BackfillJob { return &BackfillJob{backfill: b} }

func (j *BackfillJob) Type() string { return BackfillJobType }

func (j *BackfillJob) Handle(ctx context.Context, msg queue.Message) error {
	req, err := queue.Decode[BackfillRequest](msg)
	if err != nil {
		return retry.Permanent(err)
	}
	rep, err := j.backfill.Run(ctx)
	if err != nil {
		return err
	}
	j.backfill.logger.Info("queued backfill finished",
		applogger.String("trigger", req.Source),
		applogger.String("result", rep.Message()),
	)
	return nil
}

var _ queue.Job = (*BackfillJob)(nil)

// BackfillAfterIngest enqueues a backfill after a run that stored rows.
func BackfillAfterIngest(q queue.Publisher, l *applogger.Logger) func(ctx context.Context, r *RunReport) {
	if l == nil {
		l = applogger.Nop()
	}
	return func(ctx context.Context, r *RunReport) {
		if r.Inserted == 0 {
			return
		}
		if err := q.Publish(ctx, BackfillJobType, BackfillRequest{Source: r.Source, Inserted: r.Inserted}); err != nil {
			l.Warn("enqueue embedding backfill failed", applogger.String("source", r.Source), applogger.Error(err))
		}
	}
}
