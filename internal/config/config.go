package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Observability ObservabilityConfig
	RateLimit     RateLimitConfig
	Auth          AuthConfig
	Keycloak      KeycloakConfig
	Outbox        OutboxConfig
	NATS          NATSConfig
	Cache         CacheConfig
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         string
	PublicURL    string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN returns a URL-form connection string, as used by the migration runner.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + d.Port,
		Path:     "/" + d.Database,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	ServiceName    string
	ServiceVersion string
}

// AuthConfig describes how bearer tokens are verified.
// Exactly one of PublicKeyPEM (RS256) or HMACSecret (HS256) is required.
type AuthConfig struct {
	Issuer       string
	Audience     string
	PublicKeyPEM string
	HMACSecret   string
	TenantClaim  string
	RoleClients  []string
	AdminRole    string
}

// KeycloakConfig holds the identity provider admin API settings
type KeycloakConfig struct {
	BaseURL      string
	Realm        string
	ClientID     string
	ClientSecret string
	DefaultGroup string
	CallTimeout  time.Duration
}

// OutboxConfig tunes event publication delivery
type OutboxConfig struct {
	SweepInterval   time.Duration
	BatchSize       int
	MaxAttempts     int // 0 = retry forever
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	LeaseDuration   time.Duration
	DispatchTimeout time.Duration
}

// NATSConfig enables the optional event stream fan-out. Empty URL disables it.
type NATSConfig struct {
	URL     string
	Stream  string
	Subject string
}

// CacheConfig holds the tenant read cache settings
type CacheConfig struct {
	Enabled bool
	MaxCost int64
	TTL     time.Duration
}

// Load loads configuration from environment variables.
// A .env file in the working directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			PublicURL:    getEnv("SERVER_PUBLIC_URL", ""),
			ReadTimeout:  parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout: parseDuration("SERVER_WRITE_TIMEOUT", "15s"),
			IdleTimeout:  parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "provisioner"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "provisioner"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    parseInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    parseInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: parseDuration("DB_CONN_MAX_LIFETIME", "5m"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			OTELEnabled:    parseBool("OTEL_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "provisioner"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: float64(parseInt("RATELIMIT_RPS", 10)),
			Burst:             parseInt("RATELIMIT_BURST", 20),
		},
		Auth: AuthConfig{
			Issuer:       getEnv("AUTH_ISSUER", ""),
			Audience:     getEnv("AUTH_AUDIENCE", ""),
			PublicKeyPEM: readKey("AUTH_PUBLIC_KEY", "AUTH_PUBLIC_KEY_FILE"),
			HMACSecret:   getEnv("AUTH_HMAC_SECRET", ""),
			TenantClaim:  getEnv("AUTH_TENANT_CLAIM", "organization_id"),
			RoleClients:  parseList("AUTH_ROLE_CLIENTS", "church-cms-api,church-cms-ui"),
			AdminRole:    getEnv("AUTH_ADMIN_ROLE", "ADMIN"),
		},
		Keycloak: KeycloakConfig{
			BaseURL:      strings.TrimRight(getEnv("KEYCLOAK_URL", ""), "/"),
			Realm:        getEnv("KEYCLOAK_REALM", ""),
			ClientID:     getEnv("KEYCLOAK_CLIENT_ID", ""),
			ClientSecret: getEnv("KEYCLOAK_CLIENT_SECRET", ""),
			DefaultGroup: getEnv("KEYCLOAK_DEFAULT_GROUP", "USERS"),
			CallTimeout:  parseDuration("KEYCLOAK_CALL_TIMEOUT", "10s"),
		},
		Outbox: OutboxConfig{
			SweepInterval:   parseDuration("OUTBOX_SWEEP_INTERVAL", "30s"),
			BatchSize:       parseInt("OUTBOX_BATCH_SIZE", 50),
			MaxAttempts:     parseInt("OUTBOX_MAX_ATTEMPTS", 0),
			BackoffBase:     parseDuration("OUTBOX_BACKOFF_BASE", "5s"),
			BackoffMax:      parseDuration("OUTBOX_BACKOFF_MAX", "10m"),
			LeaseDuration:   parseDuration("OUTBOX_LEASE", "2m"),
			DispatchTimeout: parseDuration("OUTBOX_DISPATCH_TIMEOUT", "1m"),
		},
		NATS: NATSConfig{
			URL:     getEnv("NATS_URL", ""),
			Stream:  getEnv("NATS_STREAM", "TENANTS"),
			Subject: getEnv("NATS_SUBJECT", "tenants.created"),
		},
		Cache: CacheConfig{
			Enabled: parseBool("TENANT_CACHE_ENABLED", true),
			MaxCost: int64(parseInt("TENANT_CACHE_MAX_COST", 1<<20)),
			TTL:     parseDuration("TENANT_CACHE_TTL", "5m"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Password == "" {
		errs = append(errs, errors.New("DB_PASSWORD is required"))
	}
	if c.Auth.PublicKeyPEM == "" && c.Auth.HMACSecret == "" {
		errs = append(errs, errors.New("AUTH_PUBLIC_KEY, AUTH_PUBLIC_KEY_FILE or AUTH_HMAC_SECRET is required"))
	}
	if c.Auth.TenantClaim == "" {
		errs = append(errs, errors.New("AUTH_TENANT_CLAIM must not be empty"))
	}
	if c.Keycloak.BaseURL == "" || c.Keycloak.Realm == "" {
		errs = append(errs, errors.New("KEYCLOAK_URL and KEYCLOAK_REALM are required"))
	}
	if c.Keycloak.ClientID == "" || c.Keycloak.ClientSecret == "" {
		errs = append(errs, errors.New("KEYCLOAK_CLIENT_ID and KEYCLOAK_CLIENT_SECRET are required"))
	}
	if c.Outbox.MaxAttempts < 0 {
		errs = append(errs, errors.New("OUTBOX_MAX_ATTEMPTS must be >= 0"))
	}
	if c.Outbox.BatchSize <= 0 {
		errs = append(errs, errors.New("OUTBOX_BATCH_SIZE must be positive"))
	}
	return errors.Join(errs...)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}

func parseList(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// readKey returns the inline value of key, or the contents of the file named by fileKey.
func readKey(key, fileKey string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if path := os.Getenv(fileKey); path != "" {
		if b, err := os.ReadFile(path); err == nil {
			return string(b)
		}
	}
	return ""
}
