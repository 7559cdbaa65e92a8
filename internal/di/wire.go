//go:build wireinject
// +build wireinject

package di

import (
	"MoverPull/pkg/config"
	"MoverPull/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Metrics
		ProvideRegistry,
		ProvideMetrics,

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideClickHouseClient,

		// Repositories
		ProvideMoverStore,
		ProvideBarArchive,
		ProvideEventPublisher,
		ProvideMoversCache,

		// Upstream
		ProvideCredentials,
		ProvidePacer,
		ProvideQuoteSource,

		// Use cases
		ProvideDateResolver,
		ProvideAggregator,
		ProvideIngestor,
		ProvideMoversQuery,
		ProvideTriggerHandler,

		// Transport
		ProvideHTTPHandler,
		ProvideHTTPServer,
		ProvideKafkaConsumer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
