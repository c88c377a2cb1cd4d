package cli

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"

	"github.com/Ramsey-B/lichen/config"
	"github.com/Ramsey-B/lichen/pkg/database"
	"github.com/Ramsey-B/lichen/pkg/easydb"
	"github.com/Ramsey-B/lichen/pkg/events"
	"github.com/Ramsey-B/lichen/pkg/httpclient"
	"github.com/Ramsey-B/lichen/pkg/importer"
	"github.com/Ramsey-B/lichen/pkg/jobs"
	"github.com/Ramsey-B/lichen/pkg/mapping"
	"github.com/Ramsey-B/lichen/pkg/models"
	"github.com/Ramsey-B/lichen/pkg/redis"
	"github.com/Ramsey-B/lichen/pkg/repositories"
)

const lockPrefix = "lichen:job:"

// environment opens the resources a command needs on first use and closes them in reverse.
type environment struct {
	cfg    *config.Config
	logger ectologger.Logger

	sqlDB    *sqlx.DB
	db       database.DB
	redis    *redis.Client
	producer *events.Producer
	queries  *easydb.QueryClient
	registry *mapping.Registry
	orch     *importer.Orchestrator
	driver   *jobs.Driver

	closers []func(context.Context) error
}

func newEnvironment(cfg *config.Config, logger ectologger.Logger) *environment {
	return &environment{cfg: cfg, logger: logger}
}

func (e *environment) onClose(fn func(context.Context) error) {
	e.closers = append(e.closers, fn)
}

func (e *environment) Close(ctx context.Context) {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](ctx); err != nil {
			e.logger.WithError(err).Warn("failed to close resource")
		}
	}
	e.closers = nil
}

func (e *environment) connectionConfig() database.ConnectionConfig {
	return database.ConnectionConfig{
		Driver:          e.cfg.DatabaseDriver,
		Host:            e.cfg.DatabaseHost,
		Port:            e.cfg.DatabasePort,
		User:            e.cfg.DatabaseUserName,
		Password:        e.cfg.DatabasePassword,
		Name:            e.cfg.DatabaseName,
		SSLMode:         e.cfg.DatabaseSSLMode,
		MaxOpenConns:    e.cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    e.cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: e.cfg.DatabaseConnMaxLifetime,
	}
}

// SQL returns the raw connection pool
func (e *environment) SQL(ctx context.Context) (*sqlx.DB, error) {
	if e.sqlDB != nil {
		return e.sqlDB, nil
	}
	sqlDB, err := database.Connect(ctx, e.connectionConfig(), e.logger)
	if err != nil {
		return nil, err
	}
	e.sqlDB = sqlDB
	e.onClose(func(context.Context) error { return sqlDB.Close() })
	return sqlDB, nil
}

func (e *environment) Database(ctx context.Context) (database.DB, error) {
	if e.db != nil {
		return e.db, nil
	}
	sqlDB, err := e.SQL(ctx)
	if err != nil {
		return nil, err
	}
	e.db = database.NewDatabaseInstance(sqlDB, e.logger)
	return e.db, nil
}

func (e *environment) Redis(ctx context.Context) (*redis.Client, error) {
	if e.redis != nil {
		return e.redis, nil
	}
	client, err := redis.NewClient(ctx, redis.Config{
		Host:     e.cfg.RedisHost,
		Port:     e.cfg.RedisPort,
		Password: e.cfg.RedisPassword,
		DB:       e.cfg.RedisDB,
	}, e.logger)
	if err != nil {
		return nil, err
	}
	e.redis = client
	e.onClose(func(context.Context) error { return client.Close() })
	return client, nil
}

// Publisher returns the Kafka producer, or nil when no brokers are configured.
func (e *environment) Publisher() importer.Publisher {
	if e.producer != nil {
		return e.producer
	}
	kafkaConfig := events.ParseConfig(e.cfg.KafkaBrokers, e.cfg.KafkaImportTopic)
	if !kafkaConfig.Enabled() {
		return nil
	}
	producer := events.NewProducer(kafkaConfig, e.logger)
	e.producer = producer
	e.onClose(func(context.Context) error { return producer.Close() })
	return producer
}

// Remote returns the EasyDB query client. Sessions are cached in Redis when it is reachable.
func (e *environment) Remote(ctx context.Context) (*easydb.QueryClient, error) {
	if e.queries != nil {
		return e.queries, nil
	}
	if e.cfg.EasyDBURL == "" {
		return nil, fmt.Errorf("EASYDB_URL is not configured")
	}

	httpConfig := httpclient.DefaultConfig()
	if e.cfg.EasyDBRequestTimeout > 0 {
		httpConfig.Timeout = e.cfg.EasyDBRequestTimeout
	}
	httpConfig.RequestsPerSecond = e.cfg.EasyDBRequestsPerSecond
	client := httpclient.NewClient(httpConfig, e.logger)

	var cache easydb.SessionCache
	if rdb, err := e.Redis(ctx); err != nil {
		e.logger.WithContext(ctx).WithError(err).Warn("session cache unavailable, sessions stay in memory")
	} else {
		cache = rdb
	}

	sessions := easydb.NewSessionClient(easydb.Credentials{
		BaseURL:      e.cfg.EasyDBURL,
		Mode:         easydb.AuthMode(e.cfg.EasyDBAuthMode),
		Login:        e.cfg.EasyDBLogin,
		Password:     e.cfg.EasyDBPassword,
		ClientID:     e.cfg.EasyDBOAuthClientID,
		ClientSecret: e.cfg.EasyDBOAuthClientSecret,
		TTL:          e.cfg.EasyDBSessionTTL,
	}, client, cache, e.logger)

	e.queries = easydb.NewQueryClient(sessions, client, mapping.DefaultLocales, e.logger)
	return e.queries, nil
}

func (e *environment) fungariumConfig() mapping.FungariumConfig {
	return mapping.FungariumConfig{
		Pools:     []string{mapping.PoolFungarium},
		Locales:   mapping.DefaultLocales,
		DetailURL: e.cfg.EasyDBDetailURL,
		Institutions: mapping.InstitutionRules{
			Default: models.Institution{
				InstitutionCode: e.cfg.DefaultInstitutionCode,
				InstitutionID:   e.cfg.DefaultInstitutionID,
				CollectionCode:  e.cfg.DefaultCollectionCode,
				CollectionID:    e.cfg.DefaultCollectionID,
			},
			Rules: []mapping.PrefixRule{{
				Prefix: e.cfg.AlternateAccessionPrefix,
				Institution: models.Institution{
					InstitutionCode: e.cfg.AlternateInstitutionCode,
					InstitutionID:   e.cfg.AlternateInstitutionID,
					CollectionCode:  e.cfg.AlternateCollectionCode,
					CollectionID:    e.cfg.AlternateCollectionID,
				},
			}},
		},
		License:      e.cfg.License,
		RightsHolder: e.cfg.RightsHolder,
		DatasetName:  e.cfg.DatasetName,
	}
}

func (e *environment) Importer(ctx context.Context) (*importer.Orchestrator, error) {
	if e.orch != nil {
		return e.orch, nil
	}
	db, err := e.Database(ctx)
	if err != nil {
		return nil, err
	}
	queries, err := e.Remote(ctx)
	if err != nil {
		return nil, err
	}

	records := repositories.NewImportRecordRepository(db, e.logger)
	graph := repositories.NewGraphStore(db, records, e.logger)

	e.orch = importer.NewOrchestrator(db, queries, e.Registry(), importer.NewEngine(records, graph, e.logger), e.Publisher(), e.logger)
	return e.orch, nil
}

// Registry returns the mappings. Assets resolve through EasyDB once the remote client is open.
func (e *environment) Registry() *mapping.Registry {
	if e.registry != nil {
		return e.registry
	}
	var assets mapping.AssetResolver
	if e.queries != nil {
		assets = easydb.NewAssetResolver(e.queries, e.logger)
	}
	e.registry = mapping.NewRegistry(mapping.NewFungarium(e.fungariumConfig(), assets, e.logger))
	return e.registry
}

func (e *environment) Jobs(ctx context.Context) (*repositories.JobRepository, error) {
	db, err := e.Database(ctx)
	if err != nil {
		return nil, err
	}
	return repositories.NewJobRepository(db, e.logger), nil
}

func (e *environment) Driver(ctx context.Context) (*jobs.Driver, error) {
	if e.driver != nil {
		return e.driver, nil
	}
	orch, err := e.Importer(ctx)
	if err != nil {
		return nil, err
	}
	jobRepo, err := e.Jobs(ctx)
	if err != nil {
		return nil, err
	}

	e.driver = jobs.NewDriver(e.db, jobRepo, e.queries, repositories.NewImportRecordRepository(e.db, e.logger), orch, e.Publisher(), jobs.Config{
		PageSize:         e.cfg.JobPageSize,
		FlushEvery:       e.cfg.JobFlushEvery,
		MaxErrorMessages: e.cfg.JobMaxErrorMessages,
	}, e.logger)
	return e.driver, nil
}

// JobControl returns a driver able to submit and cancel jobs without reaching the remote system.
func (e *environment) JobControl(ctx context.Context) (*jobs.Driver, error) {
	if e.driver != nil {
		return e.driver, nil
	}
	jobRepo, err := e.Jobs(ctx)
	if err != nil {
		return nil, err
	}
	return jobs.NewDriver(e.db, jobRepo, nil, nil, nil, nil, jobs.Config{}, e.logger), nil
}

func (e *environment) DeadLetters(ctx context.Context) (*redis.DeadLetterQueue, error) {
	rdb, err := e.Redis(ctx)
	if err != nil {
		return nil, err
	}
	return redis.NewDeadLetterQueue(rdb, e.cfg.RedisStreamsDLQ, e.logger), nil
}

func (e *environment) queueConfig() jobs.QueueConfig {
	queueConfig := jobs.DefaultQueueConfig()
	queueConfig.Stream = e.cfg.RedisStreamsJobQueue
	queueConfig.ConsumerGroup = e.cfg.RedisStreamsConsumerGroup
	if e.cfg.RedisStreamsConsumerName != "" {
		queueConfig.ConsumerName = e.cfg.RedisStreamsConsumerName
	}
	queueConfig.WorkerCount = e.cfg.WorkerCount
	queueConfig.LockTTL = e.cfg.JobLockTTL
	return queueConfig
}

// Enqueuer returns a queue that can only publish, for commands that hand jobs to workers.
func (e *environment) Enqueuer(ctx context.Context) (*jobs.Queue, error) {
	rdb, err := e.Redis(ctx)
	if err != nil {
		return nil, err
	}
	return jobs.NewQueue(redis.NewStreams(rdb), nil, nil, nil, e.queueConfig(), e.logger), nil
}

// Queue returns a consuming queue backed by the job driver.
func (e *environment) Queue(ctx context.Context) (*jobs.Queue, error) {
	driver, err := e.Driver(ctx)
	if err != nil {
		return nil, err
	}
	rdb, err := e.Redis(ctx)
	if err != nil {
		return nil, err
	}
	dlq, err := e.DeadLetters(ctx)
	if err != nil {
		return nil, err
	}
	locker := jobs.RedisLocker{Locker: redis.NewLocker(rdb, lockPrefix)}
	return jobs.NewQueue(redis.NewStreams(rdb), dlq, locker, driver, e.queueConfig(), e.logger), nil
}
