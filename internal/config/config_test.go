package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allVars = []string{
	"APP_ENV", "DATABASE_PATH", "LISTEN_ADDR", "LOG_LEVEL",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "TRUST_FORWARDED_FOR", "CORS_ALLOWED_ORIGINS", "JWT_SECRET",
	"QUEUE_BACKEND", "KAFKA_BROKERS", "KAFKA_TOPIC", "KAFKA_GROUP_ID", "WORKER_CONCURRENCY",
	"LEASE_BACKEND", "REDIS_URL", "LEASE_TTL",
	"AWS_REGION", "S3_ENDPOINT", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "S3_PATH_STYLE",
	"RECONCILE_SCHEDULE", "RECONCILE_STALE_AFTER",
}

// clearEnv blanks every variable LoadFromEnv reads. TRAFFIC_SOURCE is
// unset rather than blanked since an empty value is meaningful.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allVars {
		t.Setenv(k, "")
	}
	t.Setenv("TRAFFIC_SOURCE", "")
	require.NoError(t, os.Unsetenv("TRAFFIC_SOURCE"))
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "changeguard.sqlite", cfg.DatabasePath)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.InDelta(t, 100, cfg.RateLimitRPS, 0)
	assert.Equal(t, 200, cfg.RateLimitBurst)
	assert.False(t, cfg.TrustForwardedFor)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, QueueMemory, cfg.QueueBackend)
	assert.Equal(t, "changeguard.simulations", cfg.Kafka.Topic)
	assert.Equal(t, "changeguard-workers", cfg.Kafka.GroupID)
	assert.Equal(t, 4, cfg.WorkerConcurrency)
	assert.Equal(t, LeaseSQLite, cfg.LeaseBackend)
	assert.Equal(t, 30*time.Second, cfg.LeaseTTL)
	assert.Equal(t, "sample_data/traffic.jsonl", cfg.TrafficSource)
	assert.Equal(t, "us-east-1", cfg.S3.Region)
	assert.True(t, cfg.S3.PathStyle)
	assert.Equal(t, "@every 1m", cfg.ReconcileSchedule)
	assert.Equal(t, 5*time.Minute, cfg.ReconcileStaleAfter)
	assert.False(t, cfg.AuthEnabled())
	assert.False(t, cfg.IsProduction())
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], "JWT_SECRET")
}

func TestLoadFromEnv_AllVarsSet(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "staging")
	t.Setenv("DATABASE_PATH", "/tmp/cg.sqlite")
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("RATE_LIMIT_BURST", "5")
	t.Setenv("TRUST_FORWARDED_FOR", "yes")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com,")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("QUEUE_BACKEND", "Kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("KAFKA_TOPIC", "sims")
	t.Setenv("KAFKA_GROUP_ID", "grp")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("LEASE_BACKEND", "redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("LEASE_TTL", "45s")
	t.Setenv("TRAFFIC_SOURCE", "s3://logs/traffic.jsonl")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("S3_ENDPOINT", "minio:9000")
	t.Setenv("AWS_ACCESS_KEY_ID", "key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("S3_PATH_STYLE", "false")
	t.Setenv("RECONCILE_SCHEDULE", "*/5 * * * *")
	t.Setenv("RECONCILE_STALE_AFTER", "10m")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Env)
	assert.Equal(t, "/tmp/cg.sqlite", cfg.DatabasePath)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.InDelta(t, 2.5, cfg.RateLimitRPS, 0)
	assert.Equal(t, 5, cfg.RateLimitBurst)
	assert.True(t, cfg.TrustForwardedFor)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSAllowedOrigins)
	assert.True(t, cfg.AuthEnabled())
	assert.Equal(t, QueueKafka, cfg.QueueBackend)
	assert.Equal(t, KafkaConfig{Brokers: []string{"k1:9092", "k2:9092"}, Topic: "sims", GroupID: "grp"}, cfg.Kafka)
	assert.Equal(t, 8, cfg.WorkerConcurrency)
	assert.Equal(t, LeaseRedis, cfg.LeaseBackend)
	assert.Equal(t, 45*time.Second, cfg.LeaseTTL)
	assert.Equal(t, "s3://logs/traffic.jsonl", cfg.TrafficSource)
	assert.Equal(t, S3Config{
		Region: "eu-west-1", Endpoint: "minio:9000", KeyID: "key", Secret: "secret", PathStyle: false,
	}, cfg.S3)
	assert.Equal(t, "*/5 * * * *", cfg.ReconcileSchedule)
	assert.Equal(t, 10*time.Minute, cfg.ReconcileStaleAfter)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadFromEnv_EmptyTrafficSource(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRAFFIC_SOURCE", "")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Empty(t, cfg.TrafficSource)
	assert.Contains(t, cfg.Warnings, "TRAFFIC_SOURCE is empty: simulations use the built-in sample")
}

func TestLoadFromEnv_InvalidNumbersFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("RATE_LIMIT_RPS", "fast")
	t.Setenv("WORKER_CONCURRENCY", "many")
	t.Setenv("LEASE_TTL", "30")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.InDelta(t, 100, cfg.RateLimitRPS, 0)
	assert.Equal(t, 4, cfg.WorkerConcurrency)
	assert.Equal(t, 30*time.Second, cfg.LeaseTTL)
	// Three parse warnings plus the unauthenticated warning.
	assert.Len(t, cfg.Warnings, 4)
}

func TestLoadFromEnv_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "unknown queue backend",
			env:     map[string]string{"QUEUE_BACKEND": "nats"},
			wantErr: "QUEUE_BACKEND",
		},
		{
			name:    "kafka without brokers",
			env:     map[string]string{"QUEUE_BACKEND": "kafka"},
			wantErr: "KAFKA_BROKERS is required",
		},
		{
			name:    "unknown lease backend",
			env:     map[string]string{"LEASE_BACKEND": "etcd"},
			wantErr: "LEASE_BACKEND",
		},
		{
			name:    "redis without url",
			env:     map[string]string{"LEASE_BACKEND": "redis"},
			wantErr: "REDIS_URL is required",
		},
		{
			name:    "production without secret",
			env:     map[string]string{"APP_ENV": "production", "CORS_ALLOWED_ORIGINS": "https://x.example.com"},
			wantErr: "JWT_SECRET must be set in production",
		},
		{
			name:    "production with wildcard cors",
			env:     map[string]string{"APP_ENV": "prod", "JWT_SECRET": "s"},
			wantErr: "CORS wildcard",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromEnv_ProductionOK(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.want, (&Config{LogLevel: tt.level}).SlogLevel())
		})
	}
}

func TestLoadDotEnv_FileNotFound(t *testing.T) {
	err := LoadDotEnv("/nonexistent/.env")
	assert.NoError(t, err)
}

func TestLoadDotEnv_ParsesKeyValue(t *testing.T) {
	t.Setenv("CG_TEST_KEY", "")
	t.Setenv("CG_TEST_QUOTED", "")
	envFile := filepath.Join(t.TempDir(), ".env")
	content := "# comment\n\nCG_TEST_KEY=test_value\nCG_TEST_QUOTED=\"quoted value\"\nnot-a-pair\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))

	require.NoError(t, LoadDotEnv(envFile))

	assert.Equal(t, "test_value", os.Getenv("CG_TEST_KEY"))
	assert.Equal(t, "quoted value", os.Getenv("CG_TEST_QUOTED"))
}

func TestLoadDotEnv_EnvVarPrecedence(t *testing.T) {
	t.Setenv("CG_TEST_PRECEDENCE", "from_env")
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("CG_TEST_PRECEDENCE=from_file\n"), 0o600))

	require.NoError(t, LoadDotEnv(envFile))

	assert.Equal(t, "from_env", os.Getenv("CG_TEST_PRECEDENCE"))
}

func TestStripQuotes(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`"abc"`, "abc"},
		{`'abc'`, "abc"},
		{`"abc'`, `"abc'`},
		{`"`, `"`},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripQuotes(tt.in))
	}
}
