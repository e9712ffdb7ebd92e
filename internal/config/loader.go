package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "tabforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error. TABFORGE_CONFIG
// overrides the YAML path.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if v := os.Getenv("TABFORGE_CONFIG"); v != "" {
		path = v
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "TABFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "TABFORGE_CORS_ORIGIN")
	setInt64(&cfg.Server.MaxUploadSize, "TABFORGE_MAX_UPLOAD_SIZE")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "TABFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "TABFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "TABFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "TABFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "TABFORGE_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Durable, "TABFORGE_NATS_DURABLE")
	setInt(&cfg.NATS.MaxDeliver, "TABFORGE_NATS_MAX_DELIVER")
	setDuration(&cfg.NATS.AckWait, "TABFORGE_NATS_ACK_WAIT")

	setString(&cfg.Ollama.URL, "OLLAMA_URL")
	setString(&cfg.Ollama.Model, "TABFORGE_MODEL")
	setFloat64(&cfg.Ollama.Temperature, "TABFORGE_MODEL_TEMPERATURE")
	setInt(&cfg.Ollama.NumPredict, "TABFORGE_MODEL_NUM_PREDICT")
	setDuration(&cfg.Ollama.Timeout, "TABFORGE_MODEL_TIMEOUT")
	setFloat64(&cfg.Ollama.RequestsPerSecond, "TABFORGE_MODEL_RPS")
	setInt(&cfg.Ollama.Burst, "TABFORGE_MODEL_BURST")

	setInt(&cfg.Worker.Concurrency, "TABFORGE_WORKER_CONCURRENCY")
	setInt(&cfg.Worker.MaxAttempts, "TABFORGE_WORKER_MAX_ATTEMPTS")
	setBool(&cfg.Worker.FailOnEmpty, "TABFORGE_WORKER_FAIL_ON_EMPTY")

	setString(&cfg.Storage.Backend, "TABFORGE_STORAGE_BACKEND")
	setString(&cfg.Storage.Dir, "TABFORGE_STORAGE_DIR")
	setString(&cfg.Storage.S3Endpoint, "TABFORGE_S3_ENDPOINT")
	setString(&cfg.Storage.S3Region, "TABFORGE_S3_REGION")
	setString(&cfg.Storage.S3Bucket, "TABFORGE_S3_BUCKET")
	setString(&cfg.Storage.S3KeyID, "TABFORGE_S3_KEY_ID")
	setString(&cfg.Storage.S3Secret, "TABFORGE_S3_SECRET")
	setDuration(&cfg.Storage.UploadRetention, "TABFORGE_UPLOAD_RETENTION")
	setString(&cfg.Storage.PurgeSchedule, "TABFORGE_PURGE_SCHEDULE")

	setInt64(&cfg.Cache.L1MaxSizeMB, "TABFORGE_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "TABFORGE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "TABFORGE_CACHE_L2_TTL")
	setDuration(&cfg.Cache.StatusTTL, "TABFORGE_CACHE_STATUS_TTL")

	setString(&cfg.Idempotency.Bucket, "TABFORGE_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.Idempotency.TTL, "TABFORGE_IDEMPOTENCY_TTL")

	setString(&cfg.Logging.Level, "TABFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TABFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "TABFORGE_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "TABFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "TABFORGE_BREAKER_TIMEOUT")

	setFloat64(&cfg.Rate.RequestsPerSecond, "TABFORGE_RATE_RPS")
	setInt(&cfg.Rate.Burst, "TABFORGE_RATE_BURST")

	setBool(&cfg.OTEL.Enabled, "TABFORGE_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "TABFORGE_OTEL_INSECURE")

	setBool(&cfg.MCP.Enabled, "TABFORGE_MCP_ENABLED")
	setString(&cfg.MCP.APIKey, "TABFORGE_MCP_API_KEY")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Ollama.URL == "" {
		return errors.New("ollama.url is required")
	}
	if cfg.Ollama.Timeout <= 0 {
		return errors.New("ollama.timeout must be > 0")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Worker.Concurrency < 1 {
		return errors.New("worker.concurrency must be >= 1")
	}
	if cfg.Worker.MaxAttempts < 1 {
		return errors.New("worker.max_attempts must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	switch cfg.Storage.Backend {
	case "local":
		if cfg.Storage.Dir == "" {
			return errors.New("storage.dir is required for the local backend")
		}
	case "s3":
		if cfg.Storage.S3Bucket == "" {
			return errors.New("storage.s3_bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("storage.backend must be local or s3, got %q", cfg.Storage.Backend)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
