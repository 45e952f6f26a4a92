package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/confgate/pkg/observability"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, "development", cfg.Server.Environment)

	assert.Equal(t, "./data/audit", cfg.Audit.Dir)
	assert.Equal(t, int64(10*1024*1024), cfg.Audit.MaxFileSize)
	assert.Equal(t, 90, cfg.Audit.RetentionDays)
	assert.Equal(t, "postgres", cfg.Audit.DatabaseDriver)

	assert.Equal(t, "file", cfg.Secrets.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Secrets.GracePeriod)
	assert.Equal(t, 5*time.Minute, cfg.Secrets.SweepInterval)

	assert.Equal(t, 4096, cfg.RBAC.CacheSize)
	assert.Equal(t, 30*time.Second, cfg.RBAC.CacheTTL)

	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.True(t, cfg.Observability.MetricsEnabled)
	assert.False(t, cfg.Observability.OTelEnabled)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("CONFGATE_PORT", "9999")
	t.Setenv("CONFGATE_ENVIRONMENT", "production")
	t.Setenv("CONFGATE_AUDIT_RETENTION_DAYS", "30")
	t.Setenv("CONFGATE_ROTATION_GRACE_PERIOD", "2h")
	t.Setenv("CONFGATE_SECRETS_BACKEND", "s3")
	t.Setenv("CONFGATE_S3_BUCKET", "confgate-secrets")
	t.Setenv("CONFGATE_METRICS_ENABLED", "false")
	t.Setenv("CONFGATE_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, "production", cfg.Server.Environment)
	assert.Equal(t, 30, cfg.Audit.RetentionDays)
	assert.Equal(t, 2*time.Hour, cfg.Secrets.GracePeriod)
	assert.Equal(t, "s3", cfg.Secrets.Backend)
	assert.Equal(t, "confgate-secrets", cfg.Secrets.S3Bucket)
	assert.False(t, cfg.Observability.MetricsEnabled)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
}

func TestLoadConfigIgnoresMalformedValues(t *testing.T) {
	t.Setenv("CONFGATE_AUDIT_RETENTION_DAYS", "ninety")
	t.Setenv("CONFGATE_ROTATION_GRACE_PERIOD", "soon")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 90, cfg.Audit.RetentionDays)
	assert.Equal(t, 24*time.Hour, cfg.Secrets.GracePeriod)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown secrets backend", "CONFGATE_SECRETS_BACKEND", "vault"},
		{"tiny audit file size", "CONFGATE_AUDIT_MAX_FILE_SIZE", "100"},
		{"zero retention", "CONFGATE_AUDIT_RETENTION_DAYS", "0"},
		{"unknown audit driver", "CONFGATE_AUDIT_DATABASE_DRIVER", "mysql"},
		{"sub-minute grace period", "CONFGATE_ROTATION_GRACE_PERIOD", "15s"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestValidateS3RequiresBucket(t *testing.T) {
	t.Setenv("CONFGATE_SECRETS_BACKEND", "s3")
	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFGATE_S3_BUCKET")
}

func TestMasterKeyBytes(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	_, err = cfg.MasterKeyBytes()
	assert.Error(t, err)

	t.Setenv("CONFGATE_MASTER_KEY", "0123456789abcdef0123456789abcdef")
	cfg, err = LoadConfig()
	require.NoError(t, err)
	key, err := cfg.MasterKeyBytes()
	require.NoError(t, err)
	assert.Len(t, key, 32)
}
