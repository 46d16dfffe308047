package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	apikeyservice "dataplane/internal/apikey/service"
	keystore "dataplane/internal/apikey/store/apikey"
	usagestore "dataplane/internal/apikey/store/usage"
	"dataplane/internal/dataset/export"
	datasetmetrics "dataplane/internal/dataset/metrics"
	"dataplane/internal/dataset/notify"
	datasetservice "dataplane/internal/dataset/service"
	datasetstore "dataplane/internal/dataset/store/dataset"
	recordstore "dataplane/internal/dataset/store/record"
	"dataplane/internal/platform/config"
	"dataplane/internal/platform/postgres"
	"dataplane/internal/platform/redis"
	"dataplane/pkg/platform/audit"
	"dataplane/pkg/platform/audit/outbox"
	auditmemory "dataplane/pkg/platform/audit/store/memory"
	auditpostgres "dataplane/pkg/platform/audit/store/postgres"
	"dataplane/pkg/platform/audit/writer"
)

// deps holds the wired services and every resource main must release.
type deps struct {
	datasets *datasetservice.Service
	apiKeys  *apikeyservice.Service
	exporter *export.Exporter
	relay    *outbox.Relay
	health   map[string]func(context.Context) error
	closers  []func() error
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			slog.Error("failed to release resource", "error", err)
		}
	}
}

// buildDeps picks Postgres, Redis, RabbitMQ, MinIO and Kafka backends when
// configured and in-memory stand-ins otherwise.
func buildDeps(ctx context.Context, cfg config.Server, log *slog.Logger) (_ *deps, err error) {
	d := &deps{health: map[string]func(context.Context) error{}}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()
	datasetMetrics := datasetmetrics.New()

	var (
		keys       apikeyservice.Store
		datasets   datasetservice.DatasetStore
		records    datasetservice.RecordStore
		auditStore audit.Store
		txOpts     []datasetservice.Option
	)
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, postgres.Config{URL: cfg.DatabaseURL, MaxOpenConns: 25, MaxIdleConns: 5})
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, db.Close)
		if err := postgres.Migrate(ctx, db); err != nil {
			return nil, err
		}
		d.health["postgres"] = db.PingContext
		keys = keystore.NewPostgres(db)
		datasets = datasetstore.NewPostgres(db)
		records = recordstore.NewPostgres(db)
		auditStore = auditpostgres.New(db)
		txOpts = append(txOpts, datasetservice.WithTx(postgres.NewTransactor(db)))

		if d.relay, err = newRelay(ctx, cfg.Kafka, db, log, d); err != nil {
			return nil, err
		}
		log.InfoContext(ctx, "using postgres storage")
	} else {
		keys = keystore.NewInMemory()
		datasets = datasetstore.NewInMemory()
		records = recordstore.NewInMemory()
		auditStore = auditmemory.NewInMemoryStore()
		log.WarnContext(ctx, "DATABASE_URL not set, using in-memory storage")
	}

	keyOpts := []apikeyservice.Option{apikeyservice.WithLogger(log)}
	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rdb != nil {
		d.closers = append(d.closers, rdb.Close)
		d.health["redis"] = rdb.Health
		keyOpts = append(keyOpts, apikeyservice.WithUsageStore(usagestore.NewRedis(rdb.Client)))
	} else {
		keyOpts = append(keyOpts, apikeyservice.WithUsageStore(usagestore.NewInMemory()))
	}
	d.apiKeys = apikeyservice.New(keys, keyOpts...)

	auditLog := writer.New(auditStore, writer.WithLogger(log), writer.WithMetrics(writer.NewMetrics()))
	opts := append(txOpts,
		datasetservice.WithLogger(log),
		datasetservice.WithMetrics(datasetMetrics),
		datasetservice.WithAPIKeyAuthorizer(d.apiKeys),
		datasetservice.WithMaxBatchSize(cfg.Limits.MaxBatchSize),
		datasetservice.WithMaxPageSize(cfg.Limits.MaxPageSize),
		datasetservice.WithAuditPerRecordImport(cfg.Limits.AuditPerRecordImport),
	)
	if cfg.RabbitMQ.URL != "" {
		pub, err := notify.Dial(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange,
			notify.WithLogger(log),
			notify.WithFailureCounter(datasetMetrics),
		)
		if err != nil {
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		d.closers = append(d.closers, pub.Close)
		d.health["rabbitmq"] = func(context.Context) error { return pub.Health() }
		opts = append(opts, datasetservice.WithNotifier(pub))
	}
	d.datasets = datasetservice.New(datasets, records, auditLog, opts...)

	var sink export.Sink
	if cfg.MinIO.Endpoint != "" {
		minioSink, err := export.NewMinIOSink(ctx, export.MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("connect minio: %w", err)
		}
		d.health["minio"] = minioSink.Health
		sink = minioSink
	} else {
		sink = export.NewMemorySink()
	}
	d.exporter = export.New(d.datasets, auditLog, sink,
		export.WithLogger(log),
		export.WithCounter(datasetMetrics),
		export.WithPageSize(cfg.Limits.MaxPageSize),
	)
	return d, nil
}

// newRelay starts the Kafka producer for the audit outbox. Without brokers
// the outbox rows simply accumulate until a relay runs.
func newRelay(ctx context.Context, cfg config.KafkaConfig, db *sql.DB, log *slog.Logger, d *deps) (*outbox.Relay, error) {
	if len(cfg.Brokers) == 0 {
		log.WarnContext(ctx, "KAFKA_BROKERS not set, audit outbox relay disabled")
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	d.closers = append(d.closers, func() error { client.Close(); return nil })
	if err := outbox.EnsureTopic(ctx, client, cfg.AuditTopic, 3, 1); err != nil {
		return nil, err
	}
	d.health["kafka"] = func(ctx context.Context) error {
		if err := client.Ping(ctx); err != nil {
			return errors.Join(errors.New("kafka unreachable"), err)
		}
		return nil
	}
	return outbox.NewRelay(outbox.NewPostgresStore(db), client, cfg.AuditTopic, outbox.WithLogger(log)), nil
}
