package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/upb/auth-bridge/utils"
)

// Provider identifiers accepted by AUTH_BRIDGE_PROVIDER
const (
	ProviderRemote            = "remote"
	ProviderLocalVerification = "local-verification"
)

// Cache store identifiers accepted by AUTH_BRIDGE_CACHE_STORE
const (
	CacheStoreMemory = "memory"
	CacheStoreRedis  = "redis"
)

const (
	defaultJWKSURL      = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"
	defaultIssuerPrefix = "https://securetoken.google.com/"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	AuthBridge    AuthBridgeConfig
	OAuth         OAuthConfig
	Users         UserColumns
	Audit         AuditConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int `validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// DatabaseConfig holds database configuration for the local users table.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	Driver           string `validate:"oneof=postgres sqlite"`
	ConnectionString string // From DATABASE_URL when set
	SQLiteFile       string
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// RedisConfig holds the connection settings for the redis cache store
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// AuthBridgeConfig holds the identity source settings consumed by the guard
type AuthBridgeConfig struct {
	Provider     string `validate:"oneof=remote local-verification"`
	AppID        string
	AppKey       string
	BaseURL      string `validate:"omitempty,url"`
	PublicURL    string `validate:"omitempty,url"`
	UserEndpoint string
	HTTP         HTTPConfig
	Cache        CacheConfig
	Headers      HeaderConfig
	Guard        GuardConfig
	Local        LocalVerificationConfig
}

// HTTPConfig bounds every outbound call to the identity source
type HTTPConfig struct {
	Timeout        time.Duration `validate:"gt=0"`
	ConnectTimeout time.Duration `validate:"gt=0"`
}

// CacheConfig selects where authenticated payloads are memoized
type CacheConfig struct {
	Store string `validate:"oneof=memory redis"`
	TTL   time.Duration
	Size  int `validate:"gt=0"`
}

// HeaderConfig names the scoping headers forwarded to the identity source
type HeaderConfig struct {
	Account string `validate:"required"`
	App     string `validate:"required"`
}

// GuardConfig names the request locations a token may be read from
type GuardConfig struct {
	Name       string
	InputKey   string
	StorageKey string
}

// LocalVerificationConfig holds the signed-token verification settings
type LocalVerificationConfig struct {
	ProjectID    string
	JWKSURL      string
	JWKSCacheTTL time.Duration
	IssuerPrefix string
	ClockSkew    time.Duration
}

// OAuthConfig holds the OAuth client credentials used by the login flow
type OAuthConfig struct {
	ClientID           string
	ClientSecret       string
	RedirectURI        string
	PostLoginRedirect  string
	PostLogoutRedirect string
	SocialProviders    []string
}

// UserColumns maps identity payload fields onto local user columns.
// An empty column name disables that field.
type UserColumns struct {
	Table                 string `validate:"required,sqlident"`
	ModelIDColumn         string `validate:"required,sqlident"`
	ExternalIDColumn      string `validate:"required,sqlident"`
	AccountIDColumn       string `validate:"omitempty,sqlident"`
	AccountIDsColumn      string `validate:"omitempty,sqlident"`
	AppIDsColumn          string `validate:"omitempty,sqlident"`
	StatusColumn          string `validate:"omitempty,sqlident"`
	PayloadColumn         string `validate:"omitempty,sqlident"`
	SyncedAtColumn        string `validate:"omitempty,sqlident"`
	AvatarColumn          string `validate:"omitempty,sqlident"`
	LastSeenColumn        string `validate:"omitempty,sqlident"`
	PasswordColumn        string `validate:"omitempty,sqlident"`
	NameColumn            string `validate:"omitempty,sqlident"`
	EmailColumn           string `validate:"omitempty,sqlident"`
	EmailVerifiedAtColumn string `validate:"omitempty,sqlident"`
}

// AuditConfig controls persistence of guard events
type AuditConfig struct {
	Enabled     bool
	BufferSize  int
	WorkerCount int
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string `validate:"required"`
	LogFormat      string `validate:"oneof=json console text"`
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	baseURL := strings.TrimRight(getEnv("AUTH_BRIDGE_BASE_URL", ""), "/")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*", "https://*"}),
		},
		Database: loadDatabaseConfig(),
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", ""),
		},
		AuthBridge: AuthBridgeConfig{
			Provider:     NormalizeProvider(getEnv("AUTH_BRIDGE_PROVIDER", ProviderLocalVerification)),
			AppID:        getEnv("AUTH_BRIDGE_APP_ID", ""),
			AppKey:       getEnv("AUTH_BRIDGE_APP_KEY", ""),
			BaseURL:      baseURL,
			PublicURL:    strings.TrimRight(getEnv("AUTH_BRIDGE_PUBLIC_URL", baseURL), "/"),
			UserEndpoint: "/" + strings.TrimLeft(getEnv("AUTH_BRIDGE_USER_ENDPOINT", "/user"), "/"),
			HTTP: HTTPConfig{
				Timeout:        getEnvAsSeconds("AUTH_BRIDGE_HTTP_TIMEOUT", 5*time.Second),
				ConnectTimeout: getEnvAsSeconds("AUTH_BRIDGE_HTTP_CONNECT_TIMEOUT", 2*time.Second),
			},
			Cache: CacheConfig{
				Store: getEnv("AUTH_BRIDGE_CACHE_STORE", CacheStoreMemory),
				TTL:   getEnvAsSeconds("AUTH_BRIDGE_CACHE_TTL", 30*time.Second),
				Size:  getEnvAsInt("AUTH_BRIDGE_CACHE_SIZE", 10000),
			},
			Headers: HeaderConfig{
				Account: getEnv("AUTH_BRIDGE_ACCOUNT_HEADER", "X-Account-ID"),
				App:     getEnv("AUTH_BRIDGE_APP_HEADER", "X-App-Key"),
			},
			Guard: GuardConfig{
				Name:       getEnv("AUTH_BRIDGE_GUARD_NAME", "auth-bridge"),
				InputKey:   getEnv("AUTH_BRIDGE_INPUT_KEY", "api_token"),
				StorageKey: getEnv("AUTH_BRIDGE_STORAGE_KEY", "api_token"),
			},
			Local: LocalVerificationConfig{
				ProjectID:    getEnv("FIREBASE_PROJECT_ID", getEnv("AUTH_BRIDGE_PROJECT_ID", "")),
				JWKSURL:      getOptionalEnv("AUTH_BRIDGE_JWKS_URL", defaultJWKSURL),
				JWKSCacheTTL: getEnvAsSeconds("AUTH_BRIDGE_JWKS_CACHE_TTL", time.Hour),
				IssuerPrefix: getEnv("AUTH_BRIDGE_ISSUER_PREFIX", defaultIssuerPrefix),
				ClockSkew:    getEnvAsSeconds("AUTH_BRIDGE_CLOCK_SKEW", 60*time.Second),
			},
		},
		OAuth: OAuthConfig{
			ClientID:           getEnv("OAUTH_CLIENT_ID", ""),
			ClientSecret:       getEnv("OAUTH_CLIENT_SECRET", ""),
			RedirectURI:        getEnv("OAUTH_REDIRECT_URI", "http://localhost:8080/oauth/callback"),
			PostLoginRedirect:  getEnv("AUTH_BRIDGE_POST_LOGIN_REDIRECT", "/"),
			PostLogoutRedirect: getEnv("AUTH_BRIDGE_POST_LOGOUT_REDIRECT", "/login"),
			SocialProviders:    getEnvAsList("AUTH_BRIDGE_SOCIAL_PROVIDERS", []string{"google"}),
		},
		Users: UserColumns{
			Table:                 getEnv("AUTH_BRIDGE_USERS_TABLE", "users"),
			ModelIDColumn:         getEnv("AUTH_BRIDGE_MODEL_ID_COLUMN", "id"),
			ExternalIDColumn:      getEnv("AUTH_BRIDGE_EXTERNAL_ID_COLUMN", "external_user_id"),
			AccountIDColumn:       getOptionalEnv("AUTH_BRIDGE_ACCOUNT_ID_COLUMN", "external_account_id"),
			AccountIDsColumn:      getOptionalEnv("AUTH_BRIDGE_ACCOUNT_IDS_COLUMN", "external_accounts"),
			AppIDsColumn:          getOptionalEnv("AUTH_BRIDGE_APP_IDS_COLUMN", "external_apps"),
			StatusColumn:          getOptionalEnv("AUTH_BRIDGE_STATUS_COLUMN", "external_status"),
			PayloadColumn:         getOptionalEnv("AUTH_BRIDGE_PAYLOAD_COLUMN", "external_payload"),
			SyncedAtColumn:        getOptionalEnv("AUTH_BRIDGE_SYNCED_AT_COLUMN", "external_synced_at"),
			AvatarColumn:          getOptionalEnv("AUTH_BRIDGE_AVATAR_COLUMN", "avatar_url"),
			LastSeenColumn:        getOptionalEnv("AUTH_BRIDGE_LAST_SEEN_COLUMN", "last_seen_at"),
			PasswordColumn:        getOptionalEnv("AUTH_BRIDGE_PASSWORD_COLUMN", "password"),
			NameColumn:            "name",
			EmailColumn:           "email",
			EmailVerifiedAtColumn: "email_verified_at",
		},
		Audit: AuditConfig{
			Enabled:     getEnvAsBool("AUDIT_ENABLED", true),
			BufferSize:  getEnvAsInt("AUDIT_BUFFER_SIZE", 1000),
			WorkerCount: getEnvAsInt("AUDIT_WORKERS", 2),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	for _, section := range []interface{}{&c.Server, &c.Database, &c.AuthBridge, &c.Users, &c.Observability} {
		if err := utils.ValidateStruct(section); err != nil {
			return err
		}
	}

	// Database validation (DATABASE_URL or DB_* vars)
	if c.Database.Driver == "postgres" {
		if c.Database.ConnectionString == "" && c.Database.Host == "" {
			return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
		}
		if c.Database.ConnectionString == "" && c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}
	if c.Database.Driver == "sqlite" && c.Database.SQLiteFile == "" {
		return fmt.Errorf("SQLITE_FILE is required when DB_DRIVER=sqlite")
	}

	// Provider specific settings are fatal at startup, never per request
	switch c.AuthBridge.Provider {
	case ProviderRemote:
		if c.AuthBridge.BaseURL == "" {
			return fmt.Errorf("AUTH_BRIDGE_BASE_URL is required when using the remote provider")
		}
	case ProviderLocalVerification:
		if c.AuthBridge.Local.ProjectID == "" {
			return fmt.Errorf("FIREBASE_PROJECT_ID is required when using the local-verification provider")
		}
		if c.AuthBridge.Local.JWKSURL == "" {
			return fmt.Errorf("AUTH_BRIDGE_JWKS_URL is required when using the local-verification provider")
		}
	}

	return nil
}

// Columns returns every enabled column name, model id first
func (u *UserColumns) Columns() []string {
	all := []string{
		u.ModelIDColumn, u.ExternalIDColumn, u.NameColumn, u.EmailColumn, u.EmailVerifiedAtColumn,
		u.AccountIDColumn, u.AccountIDsColumn, u.AppIDsColumn, u.StatusColumn, u.PayloadColumn,
		u.SyncedAtColumn, u.AvatarColumn, u.LastSeenColumn, u.PasswordColumn,
	}
	columns := make([]string, 0, len(all))
	for _, c := range all {
		if c != "" {
			columns = append(columns, c)
		}
	}
	return columns
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// NormalizeProvider maps the legacy provider names onto the canonical identifiers
func NormalizeProvider(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "auth_api", "auth-api", ProviderRemote:
		return ProviderRemote
	case "firebase", "local", ProviderLocalVerification:
		return ProviderLocalVerification
	default:
		return name
	}
}

// DSN returns the connection string for the configured driver.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "sqlite" {
		return c.SQLiteFile
	}
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.Driver == "sqlite" {
		return fmt.Sprintf("sqlite file=%s", c.SQLiteFile)
	}
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	driver := getEnv("DB_DRIVER", "postgres")
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			Driver:           driver,
			ConnectionString: dbURL,
			SQLiteFile:       getEnv("SQLITE_FILE", "auth-bridge.db"),
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Driver:          driver,
		SQLiteFile:      getEnv("SQLITE_FILE", "auth-bridge.db"),
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "dev"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "auth_bridge"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getOptionalEnv distinguishes an unset variable (default) from one set to the empty string (disabled)
func getOptionalEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSeconds accepts either a bare number of seconds or a Go duration string
func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}
