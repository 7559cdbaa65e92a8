package di

import (
	"context"
	"fmt"
	"time"

	"MoverPull/internal/domain/repository"
	"MoverPull/internal/handler/api"
	internalrepo "MoverPull/internal/repository"
	"MoverPull/internal/service/cache"
	"MoverPull/internal/service/credential"
	"MoverPull/internal/service/massive"
	"MoverPull/internal/service/ratelimit"
	"MoverPull/internal/usecase"
	pkgch "MoverPull/pkg/clickhouse"
	"MoverPull/pkg/config"
	xhttp "MoverPull/pkg/http"
	pkgkafka "MoverPull/pkg/kafka"
	applogger "MoverPull/pkg/logger"
	"MoverPull/pkg/metrics"
	"MoverPull/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	kafkago "github.com/segmentio/kafka-go"
)

// ProvideRegistry creates the registry served on the metrics path.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.NewWithRegistry(reg)
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithProducerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogger builds the process logger. With Kafka enabled, repeated errors are
// aggregated and shipped to the logs topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if producer != nil && cfg.Kafka.LogsTopic != "" {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   time.Minute,
			CountThreshold: 100,
			Topic:          cfg.Kafka.LogsTopic,
			Publisher:      producer,
		})
	}
	return l, nil
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when the archive is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideBarArchive creates the bar archive and its schema. It is nil without ClickHouse.
func ProvideBarArchive(ch *pkgch.Client, l *applogger.Logger) (repository.BarArchive, error) {
	if ch == nil {
		return nil, nil
	}
	archive := internalrepo.NewCHBarArchive(ch, l)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := archive.Init(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return archive, nil
}

// ProvideMoverStore selects the store backend.
func ProvideMoverStore(cfg *config.Config) (repository.MoverStore, error) {
	switch cfg.Backend.Type {
	case "memory":
		return internalrepo.NewMemoryMoverStore(), nil
	case "redis":
		store, err := internalrepo.NewRedisMoverStore(
			internalrepo.WithRedisAddr(cfg.Redis.Addr),
			internalrepo.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
			internalrepo.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.Timeout),
			internalrepo.WithRedisPrefix(cfg.Store.Table),
		)
		if err != nil {
			return nil, fmt.Errorf("mover store: %w", err)
		}
		return store, nil
	default:
		return nil, &config.ConfigError{Field: "backend.type", Reason: fmt.Sprintf("unknown backend %q", cfg.Backend.Type)}
	}
}

// ProvideEventPublisher is nil when Kafka is disabled.
func ProvideEventPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.EventPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.StoredTopic)
}

// ProvideCredentials resolves the API key from the mounted secret, then MASSIVE_API_KEY.
func ProvideCredentials(cfg *config.Config) repository.CredentialProvider {
	return credential.NewCacheFromConfig(cfg)
}

// ProvidePacer creates the process-wide request pacer.
func ProvidePacer(cfg *config.Config) *ratelimit.Pacer {
	return ratelimit.NewPacer(
		config.Seconds(cfg.Ingest.RequestSpacingSeconds),
		config.Seconds(cfg.Ingest.MaxJitterSeconds),
	)
}

// ProvideQuoteSource creates the Massive client.
func ProvideQuoteSource(
	cfg *config.Config,
	pacer *ratelimit.Pacer,
	creds repository.CredentialProvider,
	m repository.Metrics,
	l *applogger.Logger,
) repository.QuoteSource {
	httpClient := xhttp.NewClient(
		xhttp.WithConnectTimeout(cfg.Massive.ConnectTimeout),
		xhttp.WithReadTimeout(cfg.Massive.ReadTimeout),
	)
	fetcher := massive.NewFetcher(httpClient, massive.FetcherConfig{
		MaxAttempts:    cfg.Ingest.MaxAttempts,
		Base429Backoff: config.Seconds(cfg.Ingest.Base429BackoffSeconds),
		Base5xxBackoff: config.Seconds(cfg.Ingest.Base5xxBackoffSeconds),
		MaxBackoff:     config.Seconds(cfg.Ingest.MaxBackoffSeconds),
		MaxJitter:      config.Seconds(cfg.Ingest.MaxJitterSeconds),
	},
		massive.WithFetcherLogger(l.Named("massive")),
		massive.WithFetcherMetrics(m),
	)
	return massive.NewClient(cfg.Massive.BaseURL, fetcher, pacer, creds)
}

func ProvideDateResolver(quotes repository.QuoteSource, cfg *config.Config) (*usecase.DateResolver, error) {
	return usecase.NewDateResolver(quotes, cfg.Watchlist)
}

func ProvideAggregator(quotes repository.QuoteSource, cfg *config.Config, l *applogger.Logger) *usecase.Aggregator {
	return usecase.NewAggregator(quotes, cfg.Watchlist,
		usecase.WithStopOnFirstFailure(cfg.Ingest.StopOnFirstFailure),
		usecase.WithAggregatorLogger(l.Named("aggregator")),
	)
}

// ProvideIngestor creates the ingest use case. Archive and publisher are optional.
func ProvideIngestor(
	cfg *config.Config,
	resolver *usecase.DateResolver,
	agg *usecase.Aggregator,
	store repository.MoverStore,
	archive repository.BarArchive,
	events repository.EventPublisher,
	query *usecase.MoversQueryUseCase,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.Ingestor {
	return usecase.NewIngestor(resolver, agg, store,
		usecase.WithBarArchive(archive),
		usecase.WithEventPublisher(events),
		usecase.WithCacheInvalidation(query),
		usecase.WithIngestMetrics(m),
		usecase.WithIngestLogger(l.Named("ingest")),
		usecase.WithMaxBackfillDays(cfg.Ingest.MaxBackfillDays),
	)
}

// ProvideMoversCache is nil when the read cache is disabled.
func ProvideMoversCache(cfg *config.Config) cache.BytesCache {
	if !cfg.Cache.Enabled {
		return nil
	}
	if cfg.Cache.Type == "redis" {
		return cache.NewRedisCache(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Store.Table,
		})
	}
	return cache.NewTTLCache()
}

func ProvideMoversQuery(cfg *config.Config, store repository.MoverStore, c cache.BytesCache, l *applogger.Logger) *usecase.MoversQueryUseCase {
	opts := []usecase.MoversQueryOption{usecase.WithMoversLogger(l.Named("movers_query"))}
	if c != nil {
		opts = append(opts, usecase.WithMoversCache(c, cfg.Cache.TTL))
	}
	return usecase.NewMoversQueryUseCase(store, opts...)
}

// ProvideHTTPHandler registers the movers API.
func ProvideHTTPHandler(
	cfg *config.Config,
	l *applogger.Logger,
	query *usecase.MoversQueryUseCase,
	ingestor *usecase.Ingestor,
) xhttp.Handler {
	limiter := ratelimit.New(cfg.Server.TriggerBurst, cfg.Server.TriggerPerMinute)
	return api.NewMoversEchoHandler(l, query, ingestor, limiter)
}

func ProvideHTTPServer(cfg *config.Config, h xhttp.Handler, store repository.MoverStore, reg *prometheus.Registry, l *applogger.Logger) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithHealthCheck(store.Health),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
		xhttp.WithLogger(l),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(reg, cfg.Metrics.Path))
	}
	return xhttp.NewServer(h, opts...)
}

// ProvideKafkaConsumer creates the ingest trigger consumer, or nil when it is disabled.
func ProvideKafkaConsumer(cfg *config.Config, reg *prometheus.Registry, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerRegisterer(reg),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.HookFuncs{
		Before: func(ctx context.Context, _ string, km kafkago.Message, data []byte) (context.Context, []byte, error) {
			return pkgkafka.WithTraceID(ctx, pkgkafka.ExtractTraceID(km)), data, nil
		},
	})
	return consumer, nil
}

func ProvideTriggerHandler(cfg *config.Config, ingestor *usecase.Ingestor, l *applogger.Logger) *usecase.KafkaTriggerHandler {
	return usecase.NewKafkaTriggerHandler(cfg.Kafka.TriggerTopic, ingestor, l)
}

// ProvideApp creates the application and collects everything it must close.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	ingestor *usecase.Ingestor,
	httpServer *xhttp.Server,
	consumer *pkgkafka.Consumer,
	trigger *usecase.KafkaTriggerHandler,
	store repository.MoverStore,
	archive repository.BarArchive,
	events repository.EventPublisher,
	moversCache cache.BytesCache,
	producer *pkgkafka.Producer,
	ch *pkgch.Client,
) *server.App {
	closers := []server.Closer{{Name: "mover store", Close: store.Close}}
	if rc, ok := moversCache.(*cache.RedisCache); ok {
		closers = append(closers, server.Closer{Name: "movers cache", Close: rc.Close})
	}
	if archive != nil {
		closers = append(closers, server.Closer{Name: "bar archive", Close: archive.Close})
	}
	if ch != nil {
		closers = append(closers, server.Closer{Name: "clickhouse", Close: ch.Close})
	}
	if events != nil {
		closers = append(closers, server.Closer{Name: "event publisher", Close: events.Close})
	}
	if producer != nil {
		closers = append(closers, server.Closer{Name: "kafka producer", Close: producer.Close})
	}

	if consumer == nil {
		return server.New(cfg, l, ingestor, httpServer, nil, nil, closers...)
	}
	return server.New(cfg, l, ingestor, httpServer, consumer, trigger, closers...)
}
