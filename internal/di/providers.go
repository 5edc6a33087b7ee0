package di

import (
	"context"
	"fmt"
	"time"

	"CatalystPull/internal/domain/repository"
	"CatalystPull/internal/domain/service"
	"CatalystPull/internal/handler/api"
	mid "CatalystPull/internal/middleware"
	internalrepo "CatalystPull/internal/repository"
	"CatalystPull/internal/service/embedding"
	"CatalystPull/internal/service/realtime"
	"CatalystPull/internal/service/scheduler"
	"CatalystPull/internal/service/sources"
	"CatalystPull/internal/services/analytics"
	"CatalystPull/internal/services/features"
	"CatalystPull/internal/usecase"
	"CatalystPull/pkg/cache"
	pkgch "CatalystPull/pkg/clickhouse"
	"CatalystPull/pkg/config"
	"CatalystPull/pkg/database"
	pkgkafka "CatalystPull/pkg/kafka"
	applogger "CatalystPull/pkg/logger"
	"CatalystPull/pkg/metrics"
	"CatalystPull/pkg/queue"
	"CatalystPull/pkg/retry"
	"CatalystPull/pkg/server"

	"gorm.io/gorm"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideDatabase opens and migrates the SQLite store.
func ProvideDatabase(cfg *config.Config) (*gorm.DB, func(), error) {
	db, err := database.Open(
		database.WithPath(cfg.Database.Path),
		database.WithBusyTimeout(cfg.Database.BusyTimeout),
		database.WithMaxOpenConns(cfg.Database.MaxOpenConns),
		database.WithAutoMigrate(internalrepo.Models()...),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}
	return db, func() { _ = database.Close(db) }, nil
}

// ProvideRedisCache connects to Redis when enabled, nil otherwise.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, 2),
		cache.WithRedisPrefix(cfg.Cache.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return rc, func() { _ = rc.Close() }, nil
}

// ProvideCache layers memory over Redis, or runs memory-only without Redis.
func ProvideCache(rc *cache.RedisCache, cfg *config.Config) cache.Service {
	if rc == nil {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Cache.MemoryMaxSize))
	}
	return cache.NewLayeredCache(rc,
		cache.WithLayeredMemorySize(cfg.Cache.MemoryMaxSize),
		cache.WithLayeredL1TTL(cfg.Cache.L1TTL),
	)
}

// ProvideClickHouseClient creates a ClickHouse client when enabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithCompression(cfg.ClickHouse.Compress),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stmts := append([]string{"CREATE DATABASE IF NOT EXISTS " + cfg.ClickHouse.Database},
		internalrepo.PredictionLogDDL(predictionLogTable(cfg))...)
	if err := client.InitSchema(ctx, stmts); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

func predictionLogTable(cfg *config.Config) string {
	return cfg.ClickHouse.Database + ".ml_predictions"
}

// ProvideKafkaProducer creates a Kafka producer when enabled and attaches the
// error-log collector to it.
func ProvideKafkaProducer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	if cfg.Log.Collector.Enabled {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Log.Collector.Interval,
			CountThreshold: cfg.Log.Collector.Threshold,
			Topic:          cfg.Log.Collector.Topic,
			Service:        "catalystpull",
			MinLevel:       cfg.Log.Collector.MinLevel,
			Publisher:      producer,
		})
	}
	return producer, func() {
		l.RemoveCollector()
		_ = producer.Close()
	}, nil
}

// ProvideCatalystStore creates the gorm catalyst store.
func ProvideCatalystStore(db *gorm.DB) repository.CatalystStore {
	return internalrepo.NewGormCatalystStore(db)
}

func ProvideOutcomeStore(db *gorm.DB) repository.OutcomeStore {
	return internalrepo.NewGormOutcomeStore(db)
}

// ProvideEntityStore creates the entity store and applies the configured seed.
func ProvideEntityStore(db *gorm.DB, cfg *config.Config) (*internalrepo.GormEntityStore, error) {
	es := internalrepo.NewGormEntityStore(db)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := es.Seed(ctx, cfg.Seed.EntityMappings, cfg.Seed.StockProfiles); err != nil {
		return nil, fmt.Errorf("seed entities: %w", err)
	}
	return es, nil
}

func ProvideEntityResolver(es *internalrepo.GormEntityStore) repository.EntityResolver { return es }

func ProvideProfileStore(es *internalrepo.GormEntityStore) repository.ProfileStore { return es }

// ProvideCredentialStore prefers credentials from config/env over the api_keys table.
func ProvideCredentialStore(cfg *config.Config, db *gorm.DB) (repository.CredentialStore, error) {
	static, err := internalrepo.NewStaticCredentialStore(cfg.Credentials)
	if err != nil {
		return nil, fmt.Errorf("credentials: %w", err)
	}
	return internalrepo.NewChainCredentialStore(static, internalrepo.NewGormCredentialStore(db)), nil
}

// ProvidePredictionStore reads the prediction log through the cache and
// mirrors appends to ClickHouse when available.
func ProvidePredictionStore(db *gorm.DB, c cache.Service, ch *pkgch.Client, cfg *config.Config, l *applogger.Logger) repository.PredictionStore {
	opts := []internalrepo.CachedPredictionOption{internalrepo.WithPredictionLogger(l)}
	if ch != nil {
		opts = append(opts, internalrepo.WithPredictionSink(internalrepo.NewCHPredictionLog(ch.DB(), predictionLogTable(cfg))))
	}
	return internalrepo.NewCachedPredictionStore(internalrepo.NewGormPredictionStore(db), c, cfg.Predictor.CacheTTL, opts...)
}

// ProvideCandleStore reads 1m candles from ClickHouse, nil when disabled.
func ProvideCandleStore(ch *pkgch.Client, cfg *config.Config, l *applogger.Logger) repository.CandleStore {
	if ch == nil || cfg.ClickHouse.CandleTable == "" {
		return nil
	}
	s := internalrepo.NewCHCandleStore(ch.DB(), cfg.ClickHouse.CandleTable)
	s.SetLogger(l)
	return s
}

func ProvideHub(l *applogger.Logger) *realtime.Hub {
	return realtime.NewHub(l)
}

// ProvideChangeNotifier forwards changes to Kafka, or straight to the hub
// when Kafka is disabled.
func ProvideChangeNotifier(cfg *config.Config, producer *pkgkafka.Producer, hub *realtime.Hub, m repository.Metrics) *mid.ChangeNotifier {
	var next repository.ChangePublisher = hub
	if producer != nil {
		next = internalrepo.NewKafkaChangePublisher(producer, cfg.Kafka.ChangeTopic)
	}
	return mid.NewChangeNotifier(next, m)
}

// ProvideKafkaConsumer creates the at-most-once change consumer feeding the hub.
func ProvideKafkaConsumer(cfg *config.Config, hub *realtime.Hub, m repository.Metrics, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerStartLatest(cfg.Kafka.Consumer.StartLatest),
		pkgkafka.WithConsumerDelivery(pkgkafka.AtMostOnce),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.Use(pkgkafka.NewLoggingHook(l))
	consumer.RegisterHandler(usecase.NewChangeConsumer(cfg.Kafka.ChangeTopic, hub, m))
	return consumer, nil
}

// ProvideRetry builds the shared outbound retry policy.
func ProvideRetry(cfg *config.Config, l *applogger.Logger) retry.Config {
	return retry.New(
		retry.WithMaxAttempts(cfg.Retry.MaxAttempts),
		retry.WithBackoff(cfg.Retry.BaseDelay, cfg.Retry.Factor, cfg.Retry.MaxDelay),
		retry.WithLogger(l),
	)
}

// ProvideSourceAdapters builds one adapter per enabled source.
func ProvideSourceAdapters(cfg *config.Config, creds repository.CredentialStore, r retry.Config, l *applogger.Logger) ([]service.SourceAdapter, error) {
	var out []service.SourceAdapter
	for _, name := range []string{config.SourceRegulatory, config.SourceFilings, config.SourceEarnings} {
		sc, ok := cfg.Sources[name]
		if !ok || !sc.Enabled {
			continue
		}
		f := sources.NewFetcher(name, sc, creds,
			sources.WithRetry(r),
			sources.WithLogger(l.With(applogger.String("source", name))),
		)
		a, err := sources.New(f)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func ProvideScorer(store repository.CatalystStore, outcomes repository.OutcomeStore, profiles repository.ProfileStore) *usecase.Scorer {
	return usecase.NewScorer(store, outcomes, profiles)
}

func ProvideNormalizer() *usecase.Normalizer {
	return usecase.NewNormalizer(usecase.DefaultRelatedMinImpact)
}

func ProvideUpserter(store repository.CatalystStore, scorer *usecase.Scorer, notifier *mid.ChangeNotifier, m repository.Metrics, l *applogger.Logger) *usecase.Upserter {
	return usecase.NewUpserter(store, scorer, notifier, m, l)
}

// ProvideEmbeddingGenerator picks OpenAI or the deterministic hasher per run.
func ProvideEmbeddingGenerator(cfg *config.Config, creds repository.CredentialStore, c cache.Service, r retry.Config, m repository.Metrics, l *applogger.Logger) *embedding.Generator {
	remote := func(apiKey string) service.EmbeddingProvider {
		return embedding.NewOpenAIProvider(apiKey,
			embedding.WithOpenAIModel(cfg.Embedding.Model),
			embedding.WithOpenAIRetry(r),
		)
	}
	return embedding.NewGenerator(embedding.GeneratorConfig{
		Mode:              cfg.Embedding.Provider,
		Credential:        cfg.Embedding.Credential,
		BatchSize:         cfg.Embedding.BatchSize,
		ProviderBatchSize: cfg.Embedding.ProviderBatchSize,
		CacheTTL:          cfg.Embedding.CacheTTL,
	}, creds, remote,
		embedding.WithCache(c),
		embedding.WithMetrics(m),
		embedding.WithLogger(l),
	)
}

func ProvideEmbeddingBackfill(store repository.CatalystStore, gen *embedding.Generator, c cache.Service, cfg *config.Config, m repository.Metrics, l *applogger.Logger) *usecase.EmbeddingBackfill {
	return usecase.NewEmbeddingBackfill(store, gen, c, cfg.Embedding.LockTTL, cfg.Embedding.MaxBatches, m, l)
}

// ProvideQueue creates the Redis job queue running embedding backfills, nil
// when the queue or Redis is disabled.
func ProvideQueue(cfg *config.Config, rc *cache.RedisCache, backfill *usecase.EmbeddingBackfill, r retry.Config, l *applogger.Logger) *queue.RedisQueue {
	if !cfg.Queue.Enabled || rc == nil {
		return nil
	}
	q := queue.NewRedisQueue(rc.Client(),
		queue.WithKeyPrefix(cfg.Cache.Prefix+":queue:"+cfg.Queue.Name),
		queue.WithWorkers(cfg.Queue.Workers),
		queue.WithMaxRetries(cfg.Queue.MaxRetries),
		queue.WithBackoff(r),
		queue.WithLogger(l),
	)
	q.Register(usecase.NewBackfillJob(backfill))
	return q
}

func ProvideIngestionRunner(
	adapters []service.SourceAdapter,
	resolver repository.EntityResolver,
	profiles repository.ProfileStore,
	normalizer *usecase.Normalizer,
	upserter *usecase.Upserter,
	q *queue.RedisQueue,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.IngestionRunner {
	var opts []usecase.IngestionOption
	if q != nil {
		opts = append(opts, usecase.WithAfterRun(usecase.BackfillAfterIngest(q, l)))
	}
	return usecase.NewIngestionRunner(adapters, resolver, profiles, normalizer, upserter, m, l, opts...)
}

func ProvideProcessor(store repository.CatalystStore, upserter *usecase.Upserter, l *applogger.Logger) *usecase.Processor {
	return usecase.NewProcessor(store, upserter, l)
}

func ProvideSimilarityRetriever(store repository.CatalystStore, outcomes repository.OutcomeStore, cfg *config.Config, m repository.Metrics, l *applogger.Logger) *usecase.SimilarityRetriever {
	return usecase.NewSimilarityRetriever(store, outcomes, cfg.Predictor.CandidateLimit, cfg.Predictor.TopK, m, l)
}

// ProvidePredictor wires the feature providers in order: profile, volatility,
// sector momentum, macro and, when configured, the signals service.
func ProvidePredictor(
	store repository.CatalystStore,
	predictions repository.PredictionStore,
	similar *usecase.SimilarityRetriever,
	profiles repository.ProfileStore,
	candles repository.CandleStore,
	r retry.Config,
	cfg *config.Config,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.Predictor {
	providers := []service.FeatureProvider{
		features.NewProfileProvider(profiles),
		features.NewVolatilityProvider(candles, cfg.Predictor.CandleLookback, features.AnnualBars("1m"), l),
		features.SectorMomentumProvider{},
		features.MacroProvider{Rate: cfg.Predictor.MacroRate},
	}
	if cfg.Predictor.SignalsURL != "" {
		providers = append(providers, analytics.NewSignalProvider(cfg.Predictor.SignalsURL, cfg.Predictor.SignalsTimeout, r, l))
	}
	return usecase.NewPredictor(store, predictions, similar, cfg.Predictor.CacheTTL,
		usecase.WithFeatureProviders(providers...),
		usecase.WithPredictorMetrics(m),
		usecase.WithPredictorLogger(l),
	)
}

func ProvideFreshnessMonitor(store repository.CatalystStore, creds repository.CredentialStore, cfg *config.Config, m repository.Metrics, l *applogger.Logger) *usecase.FreshnessMonitor {
	return usecase.NewFreshnessMonitor(store, creds, usecase.PoliciesFromConfig(cfg.Freshness.Sources), cfg.Freshness.KeyExpiryWindow, m, l)
}

// ProvideScheduler registers adapter runs, the embedding backfill and the
// freshness sweep. It returns nil when scheduling is disabled.
func ProvideScheduler(cfg *config.Config, runner *usecase.IngestionRunner, backfill *usecase.EmbeddingBackfill, freshness *usecase.FreshnessMonitor, l *applogger.Logger) (*scheduler.Scheduler, error) {
	if !cfg.Schedule.Enabled {
		return nil, nil
	}
	s := scheduler.New(l)
	for _, name := range runner.Sources() {
		name := name
		if err := s.Add(scheduler.Task{
			Name: "ingest_" + name,
			Spec: cfg.Sources[name].Schedule,
			Run: func(ctx context.Context) error {
				_, err := runner.Run(ctx, name)
				return err
			},
		}); err != nil {
			return nil, err
		}
	}
	tasks := []scheduler.Task{
		{Name: "embedding_backfill", Spec: cfg.Schedule.Backfill, Run: func(ctx context.Context) error {
			_, err := backfill.Run(ctx)
			return err
		}},
		{Name: "freshness", Spec: cfg.Schedule.Freshness, Timeout: time.Minute, Run: func(ctx context.Context) error {
			_, err := freshness.Check(ctx)
			return err
		}},
	}
	for _, t := range tasks {
		if err := s.Add(t); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// ProvideRouter composes the HTTP handlers.
func ProvideRouter(
	cfg *config.Config,
	db *gorm.DB,
	l *applogger.Logger,
	processor *usecase.Processor,
	store repository.CatalystStore,
	outcomes repository.OutcomeStore,
	runner *usecase.IngestionRunner,
	predictor *usecase.Predictor,
	backfill *usecase.EmbeddingBackfill,
	freshness *usecase.FreshnessMonitor,
	hub *realtime.Hub,
) *api.Router {
	rl := api.RateLimit{
		Enabled:      cfg.Server.RateLimit.Enabled,
		Capacity:     cfg.Server.RateLimit.Capacity,
		RefillPerSec: cfg.Server.RateLimit.RefillPerSec,
	}
	health := func(ctx context.Context) error { return database.Ping(ctx, db) }
	return api.NewRouter(rl, health,
		api.NewCatalystHandler(l, processor, store, outcomes, runner),
		api.NewPipelineHandler(l, predictor, backfill, freshness),
		api.NewStreamHandler(l, hub),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	router *api.Router,
	notifier *mid.ChangeNotifier,
	consumer *pkgkafka.Consumer,
	q *queue.RedisQueue,
	sched *scheduler.Scheduler,
) *server.App {
	app := server.New(cfg, l, router, notifier, consumer, q, sched)
	app.SetSweeper(func() { router.Limiter().Sweep(10 * time.Minute) })
	return app
}
