//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"github.com/wijnaldum-eth/price-dashboard-ml/pkg/config"
	"github.com/wijnaldum-eth/price-dashboard-ml/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire generates the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Storage
		ProvidePriceStore,
		ProvidePostgresClient,
		ProvideRegistry,
		ProvideMonitorStore,
		ProvideForecastCache,

		// Feed and messaging
		ProvidePythClient,
		ProvideKafkaProducer,
		ProvideObservationPublisher,
		ProvideKafkaConsumer,
		ProvideObservationsHandler,

		// Use cases
		ProvideForecastConfig,
		ProvideModelMonitor,
		ProvideOrchestrator,
		ProvideQuoteCollector,
		ProvideBackfiller,
		ProvideExporter,
		ProvideJobQueue,

		// Transport and lifecycle
		ProvideDashboardHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
