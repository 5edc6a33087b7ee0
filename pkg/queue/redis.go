package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"CatalystPull/pkg/logger"
	"CatalystPull/pkg/retry"
)

// promoteScript moves due retries back onto the ready list in one step, so
// two replicas never requeue the same message.
var promoteScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, m in ipairs(due) do
	redis.call("ZREM", KEYS[1], m)
	redis.call("LPUSH", KEYS[2], m)
end
return #due
`)

const promoteBatch = 100

// RedisQueue is a list-backed work queue. Failed messages wait in a sorted
// set until their backoff elapses; messages out of retries land on a dead
// letter list.
type RedisQueue struct {
	client     *redis.Client
	prefix     string
	workers    int
	maxRetries int
	backoff    retry.Config
	poll       time.Duration
	logger     *logger.Logger
	now        func() time.Time

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures RedisQueue.
type Option func(*RedisQueue)

func WithKeyPrefix(prefix string) Option {
	return func(q *RedisQueue) { q.prefix = prefix }
}

func WithWorkers(n int) Option {
	return func(q *RedisQueue) { q.workers = n }
}

// WithMaxRetries bounds redeliveries after the first attempt.
func WithMaxRetries(n int) Option {
	return func(q *RedisQueue) { q.maxRetries = n }
}

// WithBackoff sets the redelivery delay schedule. Only the delay fields are used.
func WithBackoff(cfg retry.Config) Option {
	return func(q *RedisQueue) { q.backoff = cfg }
}

func WithLogger(l *logger.Logger) Option {
	return func(q *RedisQueue) { q.logger = l }
}

func NewRedisQueue(client *redis.Client, opts ...Option) *RedisQueue {
	q := &RedisQueue{
		client:     client,
		prefix:     "catalystpull:queue",
		workers:    1,
		maxRetries: 3,
		backoff:    retry.New(retry.WithBackoff(10*time.Second, 2, 5*time.Minute)),
		poll:       time.Second,
		now:        time.Now,
		jobs:       make(map[string]Job),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.workers <= 0 {
		q.workers = 1
	}
	if q.logger == nil {
		q.logger = logger.Nop()
	}
	return q
}

// Register adds handlers. Registering a type twice keeps the first.
func (q *RedisQueue) Register(jobs ...Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range jobs {
		if _, dup := q.jobs[j.Type()]; dup {
			q.logger.Warn("job already registered", logger.String("type", j.Type()))
			continue
		}
		q.jobs[j.Type()] = j
	}
}

// Publish enqueues payload as JSON. When this queue has handlers, unknown
// types are rejected.
func (q *RedisQueue) Publish(ctx context.Context, msgType string, payload interface{}) error {
	q.mu.RLock()
	_, known := q.jobs[msgType]
	consumer := len(q.jobs) > 0
	q.mu.RUnlock()
	if consumer && !known {
		return fmt.Errorf("no job registered for type %q", msgType)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	raw, err := json.Marshal(Message{
		ID:         uuid.NewString(),
		Type:       msgType,
		Payload:    body,
		EnqueuedAt: q.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := q.client.LPush(ctx, q.readyKey(), raw).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", q.readyKey(), err)
	}
	return nil
}

// Start launches workers and the retry promoter. A queue without handlers
// only publishes.
func (q *RedisQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return errors.New("queue already running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	runCtx, stop := context.WithCancel(context.Background())
	q.cancel = stop
	q.running = true
	if len(q.jobs) == 0 {
		q.logger.Info("redis queue publishing only", logger.String("prefix", q.prefix))
		return nil
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(runCtx, i)
	}
	q.wg.Add(1)
	go q.promote(runCtx)

	q.logger.Info("redis queue started",
		logger.String("prefix", q.prefix),
		logger.Int("workers", q.workers),
		logger.Int("max_retries", q.maxRetries),
	)
	return nil
}

// Stop cancels in-flight handlers and waits for workers until ctx is done.
func (q *RedisQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	q.cancel()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.logger.Info("redis queue stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for queue workers: %w", ctx.Err())
	}
}

// Stats reports queue depths.
func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	ready := pipe.LLen(ctx, q.readyKey())
	retrying := pipe.ZCard(ctx, q.retryKey())
	dead := pipe.LLen(ctx, q.deadKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{Pending: ready.Val(), Retrying: retrying.Val(), Dead: dead.Val()}, nil
}

func (q *RedisQueue) work(ctx context.Context, id int) {
	defer q.wg.Done()
	for ctx.Err() == nil {
		res, err := q.client.BRPop(ctx, q.poll, q.readyKey()).Result()
		switch {
		case errors.Is(err, redis.Nil), ctx.Err() != nil:
			continue
		case err != nil:
			q.logger.Error("brpop failed", logger.Int("worker", id), logger.Error(err))
			q.sleep(ctx, q.poll)
			continue
		case len(res) < 2:
			continue
		}
		q.dispatch(ctx, res[1])
	}
}

func (q *RedisQueue) dispatch(ctx context.Context, raw string) {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		q.logger.Error("dropping undecodable message", logger.Error(err))
		return
	}

	q.mu.RLock()
	job, ok := q.jobs[msg.Type]
	q.mu.RUnlock()
	if !ok {
		q.bury(msg, fmt.Errorf("no job registered for type %q", msg.Type))
		return
	}

	start := time.Now()
	err := job.Handle(ctx, msg)
	if err == nil {
		q.logger.Debug("message handled",
			logger.String("id", msg.ID),
			logger.String("type", msg.Type),
			logger.Duration("elapsed", time.Since(start)),
		)
		return
	}
	if ctx.Err() != nil {
		// shutting down; the message goes back for another worker
		q.schedule(msg, q.now())
		return
	}
	q.fail(msg, err)
}

func (q *RedisQueue) fail(msg Message, err error) {
	msg.Attempts++
	msg.LastError = err.Error()
	if retry.IsPermanent(err) || msg.Attempts > q.maxRetries {
		q.bury(msg, err)
		return
	}
	at := q.now().Add(q.backoff.Delay(msg.Attempts))
	q.logger.Warn("message failed, scheduling retry",
		logger.String("id", msg.ID),
		logger.String("type", msg.Type),
		logger.Int("attempt", msg.Attempts),
		logger.String("retry_at", at.UTC().Format(time.RFC3339)),
		logger.Error(err),
	)
	q.schedule(msg, at)
}

func (q *RedisQueue) schedule(msg Message, at time.Time) {
	raw, err := json.Marshal(msg)
	if err != nil {
		q.logger.Error("marshal retry", logger.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.client.ZAdd(ctx, q.retryKey(), redis.Z{Score: float64(at.UnixMilli()), Member: raw}).Err(); err != nil {
		q.logger.Error("zadd retry", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (q *RedisQueue) bury(msg Message, cause error) {
	q.logger.Error("message moved to dead letter list",
		logger.String("id", msg.ID),
		logger.String("type", msg.Type),
		logger.Int("attempts", msg.Attempts),
		logger.Error(cause),
	)
	msg.LastError = cause.Error()
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.client.LPush(ctx, q.deadKey(), raw).Err(); err != nil {
		q.logger.Error("lpush dead letter", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (q *RedisQueue) promote(ctx context.Context) {
	defer q.wg.Done()
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			now := strconv.FormatInt(q.now().UnixMilli(), 10)
			n, err := promoteScript.Run(ctx, q.client, []string{q.retryKey(), q.readyKey()}, now, promoteBatch).Int()
			if err != nil && ctx.Err() == nil {
				q.logger.Error("promote retries", logger.Error(err))
			} else if n > 0 {
				q.logger.Debug("retries requeued", logger.Int("count", n))
			}
		}
	}
}

func (q *RedisQueue) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (q *RedisQueue) readyKey() string { return q.prefix + ":ready" }
func (q *RedisQueue) retryKey() string { return q.prefix + ":retry" }
func (q *RedisQueue) deadKey() string  { return q.prefix + ":dead" }
