//go:build wireinject
// +build wireinject

package di

import (
	"CatalystPull/pkg/config"
	"CatalystPull/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,
		ProvideRetry,

		// Infrastructure clients
		ProvideDatabase,
		ProvideRedisCache,
		ProvideCache,
		ProvideClickHouseClient,
		ProvideKafkaProducer,

		// Repositories
		ProvideCatalystStore,
		ProvideOutcomeStore,
		ProvideEntityStore,
		ProvideEntityResolver,
		ProvideProfileStore,
		ProvideCredentialStore,
		ProvidePredictionStore,
		ProvideCandleStore,

		// Change notifications
		ProvideHub,
		ProvideChangeNotifier,
		ProvideKafkaConsumer,

		// Use cases
		ProvideSourceAdapters,
		ProvideScorer,
		ProvideNormalizer,
		ProvideUpserter,
		ProvideEmbeddingGenerator,
		ProvideEmbeddingBackfill,
		ProvideQueue,
		ProvideIngestionRunner,
		ProvideProcessor,
		ProvideSimilarityRetriever,
		ProvidePredictor,
		ProvideFreshnessMonitor,
		ProvideScheduler,

		// Application server
		ProvideRouter,
		ProvideApp,
	)
	return nil, nil, nil
}
