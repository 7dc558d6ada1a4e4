// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Queue backends.
const (
	QueueMemory = "memory"
	QueueKafka  = "kafka"
)

// Lease backends.
const (
	LeaseSQLite = "sqlite"
	LeaseRedis  = "redis"
)

// KafkaConfig holds the job queue transport settings used when
// QueueBackend is "kafka".
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// S3Config holds access settings for an s3:// traffic source.
type S3Config struct {
	Region    string
	Endpoint  string // empty uses AWS; set for S3-compatible storage
	KeyID     string
	Secret    string
	PathStyle bool
}

// Config holds the configuration for the API server and simulation workers.
type Config struct {
	Env          string // APP_ENV: "dev" (default), "staging" or "production"
	DatabasePath string // SQLite file holding changes, runs and the audit log
	ListenAddr   string // HTTP listen address (default ":8080")
	LogLevel     string // log level: debug, info, warn, error (default "info")

	// Rate limiting
	RateLimitRPS      float64 // sustained requests per second (default 100)
	RateLimitBurst    int     // burst capacity (default 200)
	TrustForwardedFor bool    // key rate limits by X-Forwarded-For

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	// JWTSecret enables HS256 bearer authentication on /v1 when set.
	JWTSecret string

	// Simulation execution
	QueueBackend      string
	Kafka             KafkaConfig
	WorkerConcurrency int
	LeaseBackend      string
	RedisURL          string
	LeaseTTL          time.Duration

	// TrafficSource locates the historical sample: a JSON lines path,
	// s3://bucket/key, or duckdb:<path>. Empty uses the built-in sample.
	TrafficSource string
	S3            S3Config

	// Reconciliation sweep for runs stuck in queued.
	ReconcileSchedule   string
	ReconcileStaleAfter time.Duration

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production") || strings.EqualFold(c.Env, "prod")
}

// AuthEnabled reports whether bearer tokens are required on /v1.
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Env:               os.Getenv("APP_ENV"),
		DatabasePath:      os.Getenv("DATABASE_PATH"),
		ListenAddr:        os.Getenv("LISTEN_ADDR"),
		LogLevel:          os.Getenv("LOG_LEVEL"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		TrustForwardedFor: parseBoolEnvDefault("TRUST_FORWARDED_FOR", false),
		QueueBackend:      strings.ToLower(strings.TrimSpace(os.Getenv("QUEUE_BACKEND"))),
		LeaseBackend:      strings.ToLower(strings.TrimSpace(os.Getenv("LEASE_BACKEND"))),
		RedisURL:          os.Getenv("REDIS_URL"),
		ReconcileSchedule: os.Getenv("RECONCILE_SCHEDULE"),
		Kafka: KafkaConfig{
			Brokers: splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   os.Getenv("KAFKA_TOPIC"),
			GroupID: os.Getenv("KAFKA_GROUP_ID"),
		},
		S3: S3Config{
			Region:    os.Getenv("AWS_REGION"),
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			KeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			Secret:    os.Getenv("AWS_SECRET_ACCESS_KEY"),
			PathStyle: parseBoolEnvDefault("S3_PATH_STYLE", true),
		},
	}

	trafficSource, trafficSet := os.LookupEnv("TRAFFIC_SOURCE")
	cfg.TrafficSource = strings.TrimSpace(trafficSource)
	if !trafficSet {
		cfg.TrafficSource = "sample_data/traffic.jsonl"
	}

	cfg.RateLimitRPS = cfg.parseFloat("RATE_LIMIT_RPS")
	cfg.RateLimitBurst = cfg.parseInt("RATE_LIMIT_BURST")
	cfg.WorkerConcurrency = cfg.parseInt("WORKER_CONCURRENCY")
	cfg.LeaseTTL = cfg.parseDuration("LEASE_TTL")
	cfg.ReconcileStaleAfter = cfg.parseDuration("RECONCILE_STALE_AFTER")
	cfg.CORSAllowedOrigins = splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))

	// Defaults
	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "changeguard.sqlite"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 200
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.QueueBackend == "" {
		cfg.QueueBackend = QueueMemory
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "changeguard.simulations"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "changeguard-workers"
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 4
	}
	if cfg.LeaseBackend == "" {
		cfg.LeaseBackend = LeaseSQLite
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Second
	}
	if cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
	if cfg.ReconcileSchedule == "" {
		cfg.ReconcileSchedule = "@every 1m"
	}
	if cfg.ReconcileStaleAfter <= 0 {
		cfg.ReconcileStaleAfter = 5 * time.Minute
	}

	switch cfg.QueueBackend {
	case QueueMemory:
	case QueueKafka:
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, fmt.Errorf("KAFKA_BROKERS is required when QUEUE_BACKEND=kafka")
		}
	default:
		return nil, fmt.Errorf("QUEUE_BACKEND must be %q or %q, got %q", QueueMemory, QueueKafka, cfg.QueueBackend)
	}

	switch cfg.LeaseBackend {
	case LeaseSQLite:
	case LeaseRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required when LEASE_BACKEND=redis")
		}
	default:
		return nil, fmt.Errorf("LEASE_BACKEND must be %q or %q, got %q", LeaseSQLite, LeaseRedis, cfg.LeaseBackend)
	}

	if !cfg.AuthEnabled() {
		cfg.Warnings = append(cfg.Warnings, "JWT_SECRET not set: /v1 is unauthenticated and actors are taken from request bodies")
	}
	if cfg.TrafficSource == "" {
		cfg.Warnings = append(cfg.Warnings, "TRAFFIC_SOURCE is empty: simulations use the built-in sample")
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if !cfg.AuthEnabled() {
			return nil, fmt.Errorf("JWT_SECRET must be set in production (APP_ENV=%s)", cfg.Env)
		}
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (APP_ENV=%s)", cfg.Env)
		}
	}

	return cfg, nil
}

func (c *Config) parseFloat(key string) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s=%q is not a number; using default", key, v))
		return 0
	}
	return f
}

func (c *Config) parseInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s=%q is not an integer; using default", key, v))
		return 0
	}
	return n
}

func (c *Config) parseDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s=%q is not a duration; using default", key, v))
		return 0
	}
	return d
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
