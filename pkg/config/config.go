package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/confgate/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Audit         AuditConfig
	Secrets       SecretsConfig
	RBAC          RBACConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// Environment label stamped onto audit events (development,
	// staging, production)
	Environment string
}

// AuditConfig holds audit trail settings
type AuditConfig struct {
	Dir           string
	MaxFileSize   int64
	RetentionDays int

	// Optional database sink alongside the file log
	DatabaseURL    string
	DatabaseDriver string
}

// SecretsConfig holds secret storage and rotation settings
type SecretsConfig struct {
	// Backend selects the value store: "file", "env" or "s3"
	Backend string

	MasterKey    string
	Dir          string
	MetadataPath string
	KeyMetadata  string
	GracePeriod  time.Duration
	// SweepInterval is the cadence for grace period completion
	SweepInterval time.Duration

	S3Bucket       string
	S3Prefix       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// RBACConfig holds role storage settings
type RBACConfig struct {
	// RoleFile optionally points at a YAML file of custom roles,
	// watched for changes
	RoleFile string

	// RedisURL switches role assignments from memory to Redis
	RedisURL string

	CacheSize int
	CacheTTL  time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Audit:         loadAuditConfig(),
		Secrets:       loadSecretsConfig(),
		RBAC:          loadRBACConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("CONFGATE_HOST", "0.0.0.0"),
		Port:            getEnv("CONFGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("CONFGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("CONFGATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("CONFGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("CONFGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("CONFGATE_HEALTH_PORT", "9090"),
		Environment:     getEnv("CONFGATE_ENVIRONMENT", "development"),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Dir:            getEnv("CONFGATE_AUDIT_DIR", "./data/audit"),
		MaxFileSize:    getEnvInt64("CONFGATE_AUDIT_MAX_FILE_SIZE", 10*1024*1024),
		RetentionDays:  getEnvInt("CONFGATE_AUDIT_RETENTION_DAYS", 90),
		DatabaseURL:    getEnv("CONFGATE_AUDIT_DATABASE_URL", ""),
		DatabaseDriver: getEnv("CONFGATE_AUDIT_DATABASE_DRIVER", "postgres"),
	}
}

func loadSecretsConfig() SecretsConfig {
	return SecretsConfig{
		Backend:        getEnv("CONFGATE_SECRETS_BACKEND", "file"),
		MasterKey:      getEnv("CONFGATE_MASTER_KEY", ""),
		Dir:            getEnv("CONFGATE_SECRETS_DIR", "./data/secrets"),
		MetadataPath:   getEnv("CONFGATE_SECRETS_METADATA", "./data/secrets/metadata.json"),
		KeyMetadata:    getEnv("CONFGATE_SECRETS_KEY_METADATA", "./data/secrets/keys.json"),
		GracePeriod:    getEnvDuration("CONFGATE_ROTATION_GRACE_PERIOD", 24*time.Hour),
		SweepInterval:  getEnvDuration("CONFGATE_ROTATION_SWEEP_INTERVAL", 5*time.Minute),
		S3Bucket:       getEnv("CONFGATE_S3_BUCKET", ""),
		S3Prefix:       getEnv("CONFGATE_S3_PREFIX", "secrets/"),
		S3Region:       getEnv("CONFGATE_S3_REGION", "us-east-1"),
		S3Endpoint:     getEnv("CONFGATE_S3_ENDPOINT", ""),
		S3AccessKey:    getEnv("CONFGATE_S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("CONFGATE_S3_SECRET_KEY", ""),
		S3UsePathStyle: getEnvBool("CONFGATE_S3_USE_PATH_STYLE", false),
	}
}

func loadRBACConfig() RBACConfig {
	return RBACConfig{
		RoleFile:  getEnv("CONFGATE_ROLE_FILE", ""),
		RedisURL:  getEnv("CONFGATE_REDIS_URL", ""),
		CacheSize: getEnvInt("CONFGATE_DECISION_CACHE_SIZE", 4096),
		CacheTTL:  getEnvDuration("CONFGATE_DECISION_CACHE_TTL", 30*time.Second),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("CONFGATE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("CONFGATE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("CONFGATE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("CONFGATE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("CONFGATE_OTEL_SERVICE_NAME", "confgate"),
		OTelServiceVersion: getEnv("CONFGATE_OTEL_SERVICE_VERSION", "dev"),
		OTelInsecure:       getEnvBool("CONFGATE_OTEL_INSECURE", true),
	}
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	switch c.Secrets.Backend {
	case "file", "env", "s3":
	default:
		return fmt.Errorf("invalid secrets backend %q (want file, env or s3)", c.Secrets.Backend)
	}
	if c.Secrets.Backend == "s3" && c.Secrets.S3Bucket == "" {
		return fmt.Errorf("CONFGATE_S3_BUCKET is required for the s3 secrets backend")
	}
	if c.Audit.RetentionDays < 1 {
		return fmt.Errorf("audit retention must be at least 1 day")
	}
	if c.Audit.MaxFileSize < 1024 {
		return fmt.Errorf("audit max file size must be at least 1KB")
	}
	switch c.Audit.DatabaseDriver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("invalid audit database driver %q (want postgres or sqlite3)", c.Audit.DatabaseDriver)
	}
	if c.Secrets.GracePeriod < time.Minute {
		return fmt.Errorf("rotation grace period must be at least 1 minute")
	}
	return nil
}

// MasterKeyBytes returns the configured master key. Only deployments
// that enable secret storage need one.
func (c *Config) MasterKeyBytes() ([]byte, error) {
	if c.Secrets.MasterKey == "" {
		return nil, fmt.Errorf("CONFGATE_MASTER_KEY is not set")
	}
	return []byte(c.Secrets.MasterKey), nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
