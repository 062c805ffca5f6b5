package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Session scopes control how long per-slot impression counters live.
const (
	// ScopePageView resets every counter on navigation.
	ScopePageView = "pageview"
	// ScopeVisitor carries per-slot impression counts across page views via Redis.
	ScopeVisitor = "visitor"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ServiceName  string

	RedisAddr      string
	ClickHouseDSN  string
	PostgresDSN    string
	SlotConfigFile string
	GeoIPDB        string

	TokenSecret string
	TokenTTL    time.Duration

	RateLimitEnabled    bool
	RateLimitCapacity   int
	RateLimitRefillRate int

	// Engine timing
	TickInterval     time.Duration
	PageViewIdleTTL  time.Duration
	SweepInterval    time.Duration
	ReloadInterval   time.Duration
	SessionScope     string
	VisitorCapWindow time.Duration

	// Third-party ad network
	AdNetworkURL     string
	AdNetworkTimeout time.Duration

	// Analytics emission
	EmitQueueSize           int
	AnalyticsBreakerFailure int
	AnalyticsBreakerTimeout time.Duration

	// Dashboard
	DashboardRefresh time.Duration
	DashboardWindow  time.Duration

	// Database connection pooling configuration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
	CHMaxOpenConns    int

	// Startup wait for backends
	ConnectAttempts   int
	ConnectRetryDelay time.Duration

	// Tracing configuration
	TracingEnabled    bool
	TempoEndpoint     string
	TracingSampleRate float64
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent. Empty DSNs disable the matching backend.
func Load() Config {
	cfg := Config{}

	cfg.Port = getenv("PORT", "8787")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 5*time.Second)
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 10*time.Second)
	cfg.ServiceName = getenv("SERVICE_NAME", "openadview")

	cfg.RedisAddr = getenv("REDIS_ADDR", "")
	cfg.ClickHouseDSN = getenv("CLICKHOUSE_DSN", "")
	cfg.PostgresDSN = getenv("POSTGRES_DSN", "")
	cfg.SlotConfigFile = getenv("SLOT_CONFIG_FILE", "")
	cfg.GeoIPDB = getenv("GEOIP_DB", "")

	cfg.TokenSecret = getenv("TOKEN_SECRET", "")
	cfg.TokenTTL = envDuration("TOKEN_TTL", 2*time.Hour)

	cfg.RateLimitEnabled = envBool("RATE_LIMIT_ENABLED", true)
	cfg.RateLimitCapacity = envInt("RATE_LIMIT_CAPACITY", 200)
	cfg.RateLimitRefillRate = envInt("RATE_LIMIT_REFILL_RATE", 50)

	// one second matches the browser-side time-on-page ticker
	cfg.TickInterval = envDuration("TICK_INTERVAL", time.Second)
	cfg.PageViewIdleTTL = envDuration("PAGEVIEW_IDLE_TTL", 30*time.Minute)
	cfg.SweepInterval = envDuration("SWEEP_INTERVAL", time.Minute)
	cfg.ReloadInterval = envDuration("RELOAD_INTERVAL", 30*time.Second)
	cfg.SessionScope = envScope("SESSION_SCOPE", ScopePageView)
	cfg.VisitorCapWindow = envDuration("VISITOR_CAP_WINDOW", 30*time.Minute)

	cfg.AdNetworkURL = getenv("AD_NETWORK_URL", "")
	cfg.AdNetworkTimeout = envDuration("AD_NETWORK_TIMEOUT", 2*time.Second)

	cfg.EmitQueueSize = envInt("EMIT_QUEUE_SIZE", 1024)
	cfg.AnalyticsBreakerFailure = envInt("ANALYTICS_BREAKER_FAILURES", 5)
	cfg.AnalyticsBreakerTimeout = envDuration("ANALYTICS_BREAKER_TIMEOUT", 30*time.Second)

	cfg.DashboardRefresh = envDuration("DASHBOARD_REFRESH_INTERVAL", time.Minute)
	cfg.DashboardWindow = envDuration("DASHBOARD_WINDOW", 24*time.Hour)

	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 10)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 2)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.DBConnMaxIdleTime = envDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute)
	// ClickHouse sees one insert per emitted event, so it gets a wider pool
	cfg.CHMaxOpenConns = envInt("CH_MAX_OPEN_CONNS", 25)
	cfg.ConnectAttempts = envInt("CONNECT_ATTEMPTS", 5)
	cfg.ConnectRetryDelay = envDuration("CONNECT_RETRY_DELAY", 2*time.Second)

	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0)

	return cfg
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. Accepted values are those
// supported by strconv.ParseBool. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}

// envScope accepts only the known session scopes; anything else yields def.
func envScope(key, def string) string {
	switch strings.ToLower(os.Getenv(key)) {
	case ScopePageView:
		return ScopePageView
	case ScopeVisitor:
		return ScopeVisitor
	default:
		return def
	}
}
