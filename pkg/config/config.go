package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/andina-labs/almacen/pkg/auth"
	"github.com/andina-labs/almacen/pkg/observability"
)

// Config holds all application configuration. It is loaded once at startup
// and never mutated afterwards.
type Config struct {
	Server        ServerConfig
	Supabase      SupabaseConfig
	Axpert        AxpertConfig
	Redis         RedisConfig
	Proxy         ProxyConfig
	Observability ObservabilityConfig

	// Environment is "production" or "development". Controls the Secure
	// attribute on every session cookie.
	Environment string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for probes and Prometheus)
	HealthPort string
}

// SupabaseConfig holds the hosted data/auth service configuration.
// AnonKey authenticates the password grant; ServiceKey is the elevated
// credential used for pre-auth lookups and proxy forwarding.
type SupabaseConfig struct {
	URL        string
	AnonKey    string
	ServiceKey string
}

// AxpertConfig holds the external OAuth2 identity provider configuration.
// BaseURL and ClientID are required before any authorization redirect can
// be built; their absence is a ConfigurationError, not an auth failure.
type AxpertConfig struct {
	BaseURL  string
	ClientID string
	Scopes   []string

	// SSOEntryURL is where the web app sends users to start a provider
	// login from outside the gateway.
	SSOEntryURL string

	// PublicBaseURL overrides the origin used for the OAuth redirect URI.
	// When empty the redirect URI is derived from the incoming request.
	PublicBaseURL string
}

// RedisConfig holds the pending-authorization store backend. Optional:
// when URL is empty the in-memory store is used.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// ProxyConfig holds the data-proxy policy source.
type ProxyConfig struct {
	// PolicyFile optionally replaces the built-in allow-list at startup.
	// The table is immutable once loaded.
	PolicyFile string
}

// ObservabilityConfig holds logging/metrics/tracing settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("ALMACEN_HOST", "0.0.0.0"),
			Port:            getEnv("ALMACEN_PORT", "8080"),
			ReadTimeout:     getEnvDuration("ALMACEN_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("ALMACEN_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("ALMACEN_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("ALMACEN_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("ALMACEN_HEALTH_PORT", "9090"),
		},
		Supabase: SupabaseConfig{
			URL:        strings.TrimRight(getEnv("SUPABASE_URL", ""), "/"),
			AnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
			ServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		},
		Axpert: AxpertConfig{
			BaseURL:       strings.TrimRight(getEnv("AXPERT_BASE_URL", ""), "/"),
			ClientID:      getEnv("AXPERT_CLIENT_ID", ""),
			Scopes:        splitList(getEnv("AXPERT_SCOPES", "openid profile email")),
			SSOEntryURL:   getEnv("AXPERT_SSO_URL", ""),
			PublicBaseURL: strings.TrimRight(getEnv("ALMACEN_PUBLIC_BASE_URL", ""), "/"),
		},
		Redis: RedisConfig{
			URL:      getEnv("ALMACEN_REDIS_URL", ""),
			Password: getEnv("ALMACEN_REDIS_PASSWORD", ""),
			DB:       getEnvInt("ALMACEN_REDIS_DB", 0),
		},
		Proxy: ProxyConfig{
			PolicyFile: getEnv("ALMACEN_PROXY_POLICY_FILE", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:           parseLogLevel(getEnv("ALMACEN_LOG_LEVEL", "info")),
			MetricsEnabled:     getEnvBool("ALMACEN_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("ALMACEN_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("ALMACEN_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("ALMACEN_OTEL_SERVICE_NAME", "almacen-gateway"),
			OTelServiceVersion: getEnv("ALMACEN_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       getEnvBool("ALMACEN_OTEL_INSECURE", true),
		},
		Environment: getEnv("ALMACEN_ENV", "development"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration required at startup. OAuth provider
// settings are validated lazily at first use so a deployment without SSO
// still serves credential logins.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return auth.NewConfiguration("server port is required")
	}
	if c.Server.HealthPort == "" {
		return auth.NewConfiguration("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return auth.NewConfiguration("server port and health port must be different")
	}

	if c.Supabase.URL == "" {
		return auth.NewConfiguration("SUPABASE_URL is required")
	}
	if c.Supabase.AnonKey == "" {
		return auth.NewConfiguration("SUPABASE_ANON_KEY is required")
	}
	if c.Supabase.ServiceKey == "" {
		return auth.NewConfiguration("SUPABASE_SERVICE_ROLE_KEY is required")
	}

	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		return auth.NewConfiguration("OTel endpoint is required when OTel is enabled")
	}

	return nil
}

// ValidateOAuth checks the provider settings required to build an
// authorization redirect.
func (c *AxpertConfig) ValidateOAuth() error {
	if c.BaseURL == "" {
		return auth.NewConfiguration("AXPERT_BASE_URL is required for SSO")
	}
	if c.ClientID == "" {
		return auth.NewConfiguration("AXPERT_CLIENT_ID is required for SSO")
	}
	return nil
}

// IsProduction reports whether the gateway runs with production cookie
// attributes.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

func splitList(s string) []string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}
	return fields
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
