package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppName    string `mapstructure:"app_name" env:"APP_NAME" env-default:"lichen"`
	Port       int    `mapstructure:"port" env:"PORT" env-default:"3000"`
	LogLevel   string `mapstructure:"log_level" env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs bool   `mapstructure:"pretty_logs" env:"PRETTY_LOGS" env-default:"false"`
	// Version reported by health checks
	Version string `mapstructure:"app_version" env:"APP_VERSION" env-default:"dev"`

	HttpServerWriteTimeout time.Duration `mapstructure:"http_server_write_timeout" env:"HTTP_SERVER_WRITE_TIMEOUT" env-default:"30s"`
	HttpServerReadTimeout  time.Duration `mapstructure:"http_server_read_timeout" env:"HTTP_SERVER_READ_TIMEOUT" env-default:"10s"`
	HttpServerIdleTimeout  time.Duration `mapstructure:"http_server_idle_timeout" env:"HTTP_SERVER_IDLE_TIMEOUT" env-default:"60s"`
	StartupMaxAttempts     int           `mapstructure:"startup_max_attempts" env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Database driver
	DatabaseDriver string `mapstructure:"db_driver" env:"DB_DRIVER" env-default:"postgres"`
	// Database host
	DatabaseHost string `mapstructure:"db_host" env:"DB_HOST" env-default:"localhost"`
	// Database port
	DatabasePort string `mapstructure:"db_port" env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `mapstructure:"db_user_name" env:"DB_USER_NAME" env-default:"postgres"`
	// Database user password
	DatabasePassword string `mapstructure:"db_password" env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `mapstructure:"db_name" env:"DB_NAME" env-default:"lichen"`
	// Database SSL mode
	DatabaseSSLMode         string        `mapstructure:"db_ssl_mode" env:"DB_SSL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns    int           `mapstructure:"db_max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns    int           `mapstructure:"db_max_idle_conns" env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime time.Duration `mapstructure:"db_conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME" env-default:"10m"`

	DatabaseMigrationFolderPath   string `mapstructure:"db_migration_folder_path" env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion      int    `mapstructure:"db_migration_version" env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int    `mapstructure:"db_migration_force" env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool   `mapstructure:"db_migration_auto_rollback" env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Auth, for the job API
	AuthEnabled   bool   `mapstructure:"auth_enabled" env:"AUTH_ENABLED" env-default:"false"`
	AuthIssuerURL string `mapstructure:"auth_issuer_url" env:"AUTH_ISSUER_URL" env-default:""`
	AuthClientID  string `mapstructure:"auth_client_id" env:"AUTH_CLIENT_ID" env-default:""`

	RedisHost     string `mapstructure:"redis_host" env:"REDIS_HOST" env-default:"localhost"`
	RedisPort     int    `mapstructure:"redis_port" env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string `mapstructure:"redis_password" env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `mapstructure:"redis_db" env:"REDIS_DB" env-default:"0"`

	// Kafka brokers (comma-separated). Empty disables import events.
	KafkaBrokers     string `mapstructure:"kafka_brokers" env:"KAFKA_BROKERS" env-default:""`
	KafkaImportTopic string `mapstructure:"kafka_import_topic" env:"KAFKA_IMPORT_TOPIC" env-default:"lichen.occurrence-imported"`

	// EasyDB / fylr instance
	EasyDBURL string `mapstructure:"easydb_url" env:"EASYDB_URL" env-default:""`
	// session (easydb login) or oauth2 (fylr password grant)
	EasyDBAuthMode          string        `mapstructure:"easydb_auth_mode" env:"EASYDB_AUTH_MODE" env-default:"session"`
	EasyDBLogin             string        `mapstructure:"easydb_login" env:"EASYDB_LOGIN" env-default:""`
	EasyDBPassword          string        `mapstructure:"easydb_password" env:"EASYDB_PASSWORD" env-default:""`
	EasyDBOAuthClientID     string        `mapstructure:"easydb_oauth_client_id" env:"EASYDB_OAUTH_CLIENT_ID" env-default:"web-client"`
	EasyDBOAuthClientSecret string        `mapstructure:"easydb_oauth_client_secret" env:"EASYDB_OAUTH_CLIENT_SECRET" env-default:""`
	EasyDBRequestTimeout    time.Duration `mapstructure:"easydb_request_timeout" env:"EASYDB_REQUEST_TIMEOUT" env-default:"60s"`
	EasyDBRequestsPerSecond float64       `mapstructure:"easydb_requests_per_second" env:"EASYDB_REQUESTS_PER_SECOND" env-default:"5.0"`
	EasyDBSessionTTL        time.Duration `mapstructure:"easydb_session_ttl" env:"EASYDB_SESSION_TTL" env-default:"1h"`
	// Base URL for the occurrence "references" link; defaults to EasyDBURL
	EasyDBDetailURL string `mapstructure:"easydb_detail_url" env:"EASYDB_DETAIL_URL" env-default:""`

	// Job settings
	JobPageSize         int           `mapstructure:"job_page_size" env:"JOB_PAGE_SIZE" env-default:"100"`
	JobFlushEvery       int           `mapstructure:"job_flush_every" env:"JOB_FLUSH_EVERY" env-default:"25"`
	JobMaxErrorMessages int           `mapstructure:"job_max_error_messages" env:"JOB_MAX_ERROR_MESSAGES" env-default:"20"`
	JobLockTTL          time.Duration `mapstructure:"job_lock_ttl" env:"JOB_LOCK_TTL" env-default:"10m"`
	JobRetention        time.Duration `mapstructure:"job_retention" env:"JOB_RETENTION" env-default:"720h"`

	// Redis Streams settings
	RedisStreamsJobQueue      string `mapstructure:"redis_streams_job_queue" env:"REDIS_STREAMS_JOB_QUEUE" env-default:"lichen:jobs"`
	RedisStreamsConsumerGroup string `mapstructure:"redis_streams_consumer_group" env:"REDIS_STREAMS_CONSUMER_GROUP" env-default:"lichen-workers"`
	// Consumer name (defaults to hostname if empty)
	RedisStreamsConsumerName string `mapstructure:"redis_streams_consumer_name" env:"REDIS_STREAMS_CONSUMER_NAME" env-default:""`
	RedisStreamsDLQ          string `mapstructure:"redis_streams_dlq" env:"REDIS_STREAMS_DLQ" env-default:"lichen:jobs:dlq"`
	WorkerCount              int    `mapstructure:"worker_count" env:"WORKER_COUNT" env-default:"2"`

	// Institutional identities used by the fungarium mapping
	DefaultInstitutionCode   string `mapstructure:"default_institution_code" env:"DEFAULT_INSTITUTION_CODE" env-default:"ZT"`
	DefaultInstitutionID     string `mapstructure:"default_institution_id" env:"DEFAULT_INSTITUTION_ID" env-default:"https://ror.org/05a28rw58"`
	DefaultCollectionCode    string `mapstructure:"default_collection_code" env:"DEFAULT_COLLECTION_CODE" env-default:"ZT Myc"`
	DefaultCollectionID      string `mapstructure:"default_collection_id" env:"DEFAULT_COLLECTION_ID" env-default:"http://grscicoll.org/institution/eth-zurich"`
	AlternateAccessionPrefix string `mapstructure:"alternate_accession_prefix" env:"ALTERNATE_ACCESSION_PREFIX" env-default:"Z MYC"`
	AlternateInstitutionCode string `mapstructure:"alternate_institution_code" env:"ALTERNATE_INSTITUTION_CODE" env-default:"Z"`
	AlternateInstitutionID   string `mapstructure:"alternate_institution_id" env:"ALTERNATE_INSTITUTION_ID" env-default:"https://ror.org/02crff812"`
	AlternateCollectionCode  string `mapstructure:"alternate_collection_code" env:"ALTERNATE_COLLECTION_CODE" env-default:"Z MYC"`
	AlternateCollectionID    string `mapstructure:"alternate_collection_id" env:"ALTERNATE_COLLECTION_ID" env-default:"http://grscicoll.org/institution/universitat-zurich"`
	License                  string `mapstructure:"dwc_license" env:"DWC_LICENSE" env-default:"http://creativecommons.org/licenses/by/4.0/legalcode"`
	RightsHolder             string `mapstructure:"dwc_rights_holder" env:"DWC_RIGHTS_HOLDER" env-default:"ETH Zurich"`
	DatasetName              string `mapstructure:"dwc_dataset_name" env:"DWC_DATASET_NAME" env-default:"Fungarium ZT"`

	// Tracing settings
	OTLPEnabled  bool   `mapstructure:"otlp_enabled" env:"OTLP_ENABLED" env-default:"false"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint" env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// grpc or http
	OTLPProtocol string `mapstructure:"otlp_protocol" env:"OTLP_PROTOCOL" env-default:"grpc"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure" env:"OTLP_INSECURE" env-default:"true"`
}

// SetDefaults registers every field's env-default under its env name, so AutomaticEnv can
// resolve it during Unmarshal.
func SetDefaults(v *viper.Viper) {
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name, ok := field.Tag.Lookup("env")
		if !ok {
			continue
		}
		v.SetDefault(strings.ToLower(name), field.Tag.Get("env-default"))
	}
}

// Load reads an optional .env file, then the environment variables named by each field's env tag.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	v := viper.New()
	v.AutomaticEnv()
	SetDefaults(v)

	return LoadWithViper(v)
}

// LoadWithViper unmarshals config from a prepared viper instance.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.EasyDBDetailURL == "" {
		cfg.EasyDBDetailURL = cfg.EasyDBURL
	}
	return &cfg, nil
}
