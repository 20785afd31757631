package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the meshforge server.
type Config struct {
	Server    ServerConfig
	Backend   BackendConfig
	Storage   StorageConfig
	Jobs      JobsConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Telemetry TelemetryConfig
}

type ServerConfig struct {
	Port             int
	Env              string
	MaxUploadBytes   int64
	ExposeErrorTrace bool
}

// IsProduction reports whether the server runs with production hardening.
func (s ServerConfig) IsProduction() bool { return s.Env == "production" }

type BackendConfig struct {
	Kind           string
	URL            string
	Timeout        time.Duration
	ModelPath      string
	EnableTexture  bool
	Preload        bool
	MockStageDelay time.Duration
}

type StorageConfig struct {
	OutputDir string
}

type JobsConfig struct {
	Store             string
	WorkerConcurrency int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL    string
	JobTTL time.Duration
}

type TelemetryConfig struct {
	ServiceName      string
	MetricsNamespace string
	OTLPEndpoint     string
	SampleRate       float64
}

// Job store kinds.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Backend kinds.
const (
	BackendMock   = "mock"
	BackendRemote = "remote"
)

var validStores = map[string]bool{
	StoreMemory:   true,
	StorePostgres: true,
	StoreRedis:    true,
}

var validBackends = map[string]bool{
	BackendMock:   true,
	BackendRemote: true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	env := envString("MESHFORGE_ENV", "development")
	cfg := &Config{
		Server: ServerConfig{
			Port:             envInt("MESHFORGE_PORT", 8000),
			Env:              env,
			MaxUploadBytes:   envInt64("MAX_UPLOAD_BYTES", 32<<20),
			ExposeErrorTrace: envBool("EXPOSE_ERROR_TRACE", env != "production"),
		},
		Backend: BackendConfig{
			Kind:           envString("BACKEND", BackendMock),
			URL:            os.Getenv("BACKEND_URL"),
			Timeout:        envDuration("BACKEND_TIMEOUT", 10*time.Minute),
			ModelPath:      envString("MODEL_PATH", "tencent/Hunyuan3D-2"),
			EnableTexture:  envBool("ENABLE_TEXTURE", true),
			Preload:        envBool("PRELOAD_MODELS", false),
			MockStageDelay: envDuration("MOCK_STAGE_DELAY", 200*time.Millisecond),
		},
		Storage: StorageConfig{
			OutputDir: envString("OUTPUT_DIR", "./outputs"),
		},
		Jobs: JobsConfig{
			Store:             envString("JOB_STORE", StoreMemory),
			WorkerConcurrency: envInt("WORKER_CONCURRENCY", 0),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:    os.Getenv("REDIS_URL"),
			JobTTL: envDuration("REDIS_JOB_TTL", 24*time.Hour),
		},
		Telemetry: TelemetryConfig{
			ServiceName:      envString("OTEL_SERVICE_NAME", "meshforge"),
			MetricsNamespace: envString("METRICS_NAMESPACE", "meshforge"),
			OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			SampleRate:       envFloat("OTEL_SAMPLE_RATE", 1.0),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("MESHFORGE_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.Server.MaxUploadBytes)
	}

	if !validBackends[c.Backend.Kind] {
		return fmt.Errorf("BACKEND must be one of mock, remote; got %q", c.Backend.Kind)
	}
	if c.Backend.Kind == BackendRemote {
		if c.Backend.URL == "" {
			return fmt.Errorf("BACKEND_URL is required when BACKEND is remote")
		}
		if !strings.HasPrefix(c.Backend.URL, "http://") && !strings.HasPrefix(c.Backend.URL, "https://") {
			return fmt.Errorf("BACKEND_URL must start with http:// or https://, got %q", c.Backend.URL)
		}
	}

	if c.Storage.OutputDir == "" {
		return fmt.Errorf("OUTPUT_DIR must not be empty")
	}

	if !validStores[c.Jobs.Store] {
		return fmt.Errorf("JOB_STORE must be one of memory, postgres, redis; got %q", c.Jobs.Store)
	}
	if c.Jobs.Store == StorePostgres && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when JOB_STORE is postgres")
	}
	if c.Jobs.Store == StoreRedis && c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required when JOB_STORE is redis")
	}
	if c.Jobs.WorkerConcurrency < 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must not be negative, got %d", c.Jobs.WorkerConcurrency)
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0 and 1, got %v", c.Telemetry.SampleRate)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
