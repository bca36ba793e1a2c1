package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/repository"
	"github.com/wijnaldum-eth/price-dashboard-ml/internal/forecast"
	"github.com/wijnaldum-eth/price-dashboard-ml/internal/handler/api"
	internalrepo "github.com/wijnaldum-eth/price-dashboard-ml/internal/repository"
	"github.com/wijnaldum-eth/price-dashboard-ml/internal/service/pyth"
	"github.com/wijnaldum-eth/price-dashboard-ml/internal/usecase"
	"github.com/wijnaldum-eth/price-dashboard-ml/pkg/cache"
	pkgch "github.com/wijnaldum-eth/price-dashboard-ml/pkg/clickhouse"
	"github.com/wijnaldum-eth/price-dashboard-ml/pkg/config"
	pkgkafka "github.com/wijnaldum-eth/price-dashboard-ml/pkg/kafka"
	applogger "github.com/wijnaldum-eth/price-dashboard-ml/pkg/logger"
	"github.com/wijnaldum-eth/price-dashboard-ml/pkg/metrics"
	"github.com/wijnaldum-eth/price-dashboard-ml/pkg/postgres"
	"github.com/wijnaldum-eth/price-dashboard-ml/pkg/queue"
	"github.com/wijnaldum-eth/price-dashboard-ml/pkg/server"
)

const initTimeout = 10 * time.Second

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}

// ProvideMetrics creates the Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvidePriceStore selects and initializes the price history backend.
func ProvidePriceStore(cfg *config.Config, l *applogger.Logger) (repository.PriceStore, error) {
	if cfg.Storage.Backend == "memory" {
		return internalrepo.NewMemoryPriceStore(), nil
	}

	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	store := internalrepo.NewClickHousePriceStore(client, l)
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

// ProvidePostgresClient connects to the registry database.
func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	return postgres.NewClient(ctx, postgres.Config{
		DSN:             cfg.Postgres.DSN,
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		QueryTimeout:    cfg.Postgres.QueryTimeout,
	})
}

// ProvideRegistry creates the model registry and ensures its schema.
func ProvideRegistry(client *postgres.Client, l *applogger.Logger) (repository.ModelRegistry, error) {
	registry := internalrepo.NewPostgresRegistry(client, l)
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := registry.Init(ctx); err != nil {
		return nil, fmt.Errorf("registry schema: %w", err)
	}
	return registry, nil
}

// ProvideMonitorStore creates the prediction tracking store.
func ProvideMonitorStore(client *postgres.Client, l *applogger.Logger) (repository.MonitorStore, error) {
	store := internalrepo.NewPostgresMonitorStore(client, l)
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("monitor schema: %w", err)
	}
	return store, nil
}

// ProvideModelMonitor wires degradation detection from config.
func ProvideModelMonitor(
	cfg *config.Config,
	store repository.MonitorStore,
	prices repository.PriceStore,
	registry repository.ModelRegistry,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.ModelMonitor {
	return usecase.NewModelMonitor(usecase.MonitorConfig{
		MAPEThreshold:    cfg.Monitor.MAPEThreshold,
		DegradationRatio: cfg.Monitor.DegradationRatio,
		RecentWindowDays: cfg.Monitor.RecentWindowDays,
		BaselineDays:     cfg.Monitor.BaselineDays,
		MinSamples:       cfg.Monitor.MinSamples,
	}, store, prices, registry, m, l)
}

// ProvideForecastCache returns Redis-backed caching when enabled, an
// in-process cache otherwise.
func ProvideForecastCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(), nil
	}
	host, port := splitHostPort(cfg.Redis.Addr)
	return cache.NewRedisCache(
		cache.WithRedisHost(host),
		cache.WithRedisPort(port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
	)
}

// ProvideForecastConfig maps YAML settings onto the predictor config.
func ProvideForecastConfig(cfg *config.Config) forecast.Config {
	return forecast.Config{
		ArtifactDir:      cfg.Forecast.ArtifactDir,
		SequenceLength:   cfg.Forecast.SequenceLength,
		HorizonDays:      cfg.Forecast.HorizonDays,
		TrainWindowDays:  cfg.Forecast.TrainWindowDays,
		HiddenUnits:      cfg.Forecast.HiddenUnits,
		DenseUnits:       cfg.Forecast.DenseUnits,
		DropoutRate:      cfg.Forecast.DropoutRate,
		LearningRate:     cfg.Forecast.LearningRate,
		Epochs:           cfg.Forecast.Epochs,
		Patience:         cfg.Forecast.Patience,
		ValidationSplit:  cfg.Forecast.ValidationSplit,
		BatchSize:        cfg.Forecast.BatchSize,
		UncertaintyScale: cfg.Forecast.UncertaintyScale,
	}
}

// ProvideOrchestrator creates the model lifecycle orchestrator.
func ProvideOrchestrator(
	cfg *config.Config,
	fcCfg forecast.Config,
	store repository.PriceStore,
	registry repository.ModelRegistry,
	monitor *usecase.ModelMonitor,
	fcCache cache.Service,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.Orchestrator {
	return usecase.NewOrchestrator(fcCfg, store, registry, monitor, fcCache, cfg.Forecast.CacheTTL, m, l)
}

// ProvidePythClient creates the Pyth Hermes stream and REST client.
func ProvidePythClient(cfg *config.Config, l *applogger.Logger) *pyth.Client {
	return pyth.New(
		cfg.Feed.StreamURL,
		cfg.Feed.HermesURL,
		cfg.Feed.FeedIDs,
		cfg.Feed.ReconnectDelay,
		cfg.Feed.PingInterval,
		l,
	)
}

// ProvideKafkaProducer creates a producer, or nil when Kafka is off.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideObservationPublisher creates the ingestion bus publisher.
func ProvideObservationPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.ObservationPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaObservationPublisher(producer, cfg.Kafka.Topic)
}

// ProvideKafkaConsumer creates a consumer, or nil when Kafka is off.
func ProvideKafkaConsumer(cfg *config.Config, m repository.Metrics, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	opts := []pkgkafka.ConsumerOption{
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	}
	if cfg.Kafka.Consumer.DLQTopic != "" {
		opts = append(opts, pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic))
	}
	consumer, err := pkgkafka.NewConsumer(l, opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.ErrorCountingHook(m.RecordError))
	return consumer, nil
}

// ProvideObservationsHandler consumes observation messages into storage.
func ProvideObservationsHandler(cfg *config.Config, store repository.PriceStore, m repository.Metrics) *usecase.KafkaObservationsHandler {
	return usecase.NewKafkaObservationsHandler(cfg.Kafka.Topic, store, m)
}

// ProvideQuoteCollector wires the live feed into storage or Kafka.
func ProvideQuoteCollector(
	stream *pyth.Client,
	publisher repository.ObservationPublisher,
	store repository.PriceStore,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.QuoteCollector {
	return usecase.NewQuoteCollector(stream, publisher, store, m, l)
}

// ProvideBackfiller creates the simulated history generator.
func ProvideBackfiller(
	cfg *config.Config,
	store repository.PriceStore,
	feed *pyth.Client,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.Backfiller {
	return usecase.NewBackfiller(usecase.BackfillConfig{
		Step:         cfg.Backfill.Step,
		Perturbation: cfg.Backfill.Perturbation,
	}, store, feed, m, l)
}

// ProvideExporter creates the registry/performance exporter.
func ProvideExporter(registry repository.ModelRegistry, store repository.MonitorStore) *usecase.Exporter {
	return usecase.NewExporter(registry, store)
}

// ProvideJobQueue creates the Redis training queue, or nil without Redis.
func ProvideJobQueue(cfg *config.Config, orch *usecase.Orchestrator, fcCache cache.Service, l *applogger.Logger) *queue.RedisQueue {
	rc, ok := fcCache.(*cache.RedisCache)
	if !cfg.Redis.Enabled || !ok {
		return nil
	}
	job := usecase.NewTrainJob(orch, l)
	return queue.NewRedisConsumer(l, &queue.QueueConfig{
		Workers:    2,
		QueueSize:  64,
		RetryLimit: 3,
		RetryDelay: 30 * time.Second,
	}, rc.Client(), []queue.Job{job})
}

// ProvideDashboardHandler creates the HTTP API handler.
func ProvideDashboardHandler(
	l *applogger.Logger,
	orch *usecase.Orchestrator,
	monitor *usecase.ModelMonitor,
	exporter *usecase.Exporter,
	backfiller *usecase.Backfiller,
	prices repository.PriceStore,
	registry repository.ModelRegistry,
	jobQueue *queue.RedisQueue,
) *api.DashboardHandler {
	h := api.NewDashboardHandler(l, orch, monitor, exporter, backfiller, prices, registry)
	if jobQueue != nil {
		h.SetJobQueue(jobQueue)
	}
	return h
}

// ProvideApp assembles the application lifecycle.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	handler *api.DashboardHandler,
	collector *usecase.QuoteCollector,
	monitor *usecase.ModelMonitor,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaObservationsHandler,
	jobQueue *queue.RedisQueue,
	prices repository.PriceStore,
	pg *postgres.Client,
) *server.App {
	app := server.New(cfg, l, handler)
	app.SetCollector(collector)
	app.SetMonitor(monitor)
	if consumer != nil {
		app.SetConsumer(consumer, kh)
	}
	if jobQueue != nil {
		app.SetJobQueue(jobQueue)
	}
	app.AddCloser(prices)
	app.AddCloser(pg)
	return app
}

func splitHostPort(addr string) (string, int) {
	if addr == "" {
		return "localhost", 6379
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 6379
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 6379
	}
	return host, port
}
