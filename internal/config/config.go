package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/franciscosanchezn/gin-pkce-server/internal/database"
)

// Create a new instance of the logger
// Configure it to log at the desired level
// and format it as JSON for structured logging
var log = logrus.New()

func init() {
	log.SetFormatter(&logrus.JSONFormatter{})
	environment := GetEnvWithDefault("APP_ENV", "development")
	switch environment {
	case "development":
		log.SetLevel(logrus.DebugLevel)
	case "production":
		log.SetLevel(logrus.ErrorLevel)
	default:
		// Default to info level for other environments
		log.SetLevel(logrus.InfoLevel)
	}
}

const (
	TokenFormatOpaque = "opaque"
	TokenFormatJWT    = "jwt"

	// AuditDriverNone disables the audit trail.
	AuditDriverNone = "none"
)

// Config used for the application configuration, loading the input from environment variables
type Config struct {
	// Server Configuration
	Port        int    `json:"port"`
	Host        string `json:"host"`
	Environment string `json:"environment"`

	// Logging configuration
	LogLevel string `json:"log_level"`

	// Protocol configuration
	CodeTTL             time.Duration `json:"code_ttl"`
	AccessTokenTTL      time.Duration `json:"access_token_ttl"`
	RefreshTokenTTL     time.Duration `json:"refresh_token_ttl"`
	PKCERequired        bool          `json:"pkce_required"`
	RotateRefreshTokens bool          `json:"rotate_refresh_tokens"`
	TokenFormat         string        `json:"token_format"`

	// Security Configuration
	JWTSecret string `json:"jwt_secret"`

	// Dispatcher configuration
	QueueSize     int           `json:"queue_size"`
	SweepInterval time.Duration `json:"sweep_interval"`

	// Consent configuration
	ConsentMode  string `json:"consent_mode"`
	ConsentOwner string `json:"consent_owner"`

	// Client seeded at startup
	SeedClientID     string `json:"seed_client_id"`
	SeedRedirectURI  string `json:"seed_redirect_uri"`
	SeedScope        string `json:"seed_scope"`
	SeedClientSecret string `json:"seed_client_secret"`

	// Audit database configuration
	AuditDriver string `json:"audit_driver"`
	AuditPath   string `json:"audit_path"`
	DBHost      string `json:"db_host"`
	DBPort      string `json:"db_port"`
	DBUser      string `json:"db_user"`
	DBPassword  string `json:"db_password"`
	DBName      string `json:"db_name"`
	DBSSLMode   string `json:"db_sslmode"`

	// Rate limiting
	RateLimitRPS   float64 `json:"rate_limit_rps"`
	RateLimitBurst int     `json:"rate_limit_burst"`

	// ResourceScope, when set, is required on tokens presented to /resource
	ResourceScope string `json:"resource_scope"`
	// AuditScope is required on tokens presented to /audit
	AuditScope string `json:"audit_scope"`
}

// String returns a string representation of Config with sensitive data masked
func (c *Config) String() string {
	return fmt.Sprintf("Config{Port: %d, Host: %s, Environment: %s, LogLevel: %s, CodeTTL: %s, AccessTokenTTL: %s, "+
		"RefreshTokenTTL: %s, PKCERequired: %t, RotateRefreshTokens: %t, TokenFormat: %s, JWTSecret: %s, "+
		"QueueSize: %d, SweepInterval: %s, ConsentMode: %s, ConsentOwner: %s, SeedClientID: %s, "+
		"SeedRedirectURI: %s, SeedScope: %s, SeedClientSecret: %s, AuditDriver: %s, AuditPath: %s, "+
		"DBHost: %s, DBPort: %s, DBUser: %s, DBPassword: %s, DBName: %s, RateLimitRPS: %g, RateLimitBurst: %d, "+
		"ResourceScope: %s, AuditScope: %s}",
		c.Port, c.Host, c.Environment, c.LogLevel, c.CodeTTL, c.AccessTokenTTL,
		c.RefreshTokenTTL, c.PKCERequired, c.RotateRefreshTokens, c.TokenFormat, redact(c.JWTSecret),
		c.QueueSize, c.SweepInterval, c.ConsentMode, c.ConsentOwner, c.SeedClientID,
		c.SeedRedirectURI, c.SeedScope, redact(c.SeedClientSecret), c.AuditDriver, c.AuditPath,
		c.DBHost, c.DBPort, c.DBUser, redact(c.DBPassword), c.DBName, c.RateLimitRPS, c.RateLimitBurst,
		c.ResourceScope, c.AuditScope)
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "[REDACTED]"
}

// AuditDatabase returns the connection settings of the audit trail store.
func (c *Config) AuditDatabase() database.DatabaseConfig {
	return database.DatabaseConfig{
		Driver:   c.AuditDriver,
		Host:     c.DBHost,
		Port:     c.DBPort,
		User:     c.DBUser,
		Password: c.DBPassword,
		Name:     c.DBName,
		SSLMode:  c.DBSSLMode,
		Path:     c.AuditPath,
	}
}

// LoadConfig read the proper configuration from environment variables and returns a Config struct
// It also validates formats like the seed redirect URI and the token format
// Returns an error if any environment variable is invalid
func LoadConfig() (*Config, error) {
	log.Info("Loading configuration from environment variables")
	port, err := strconv.Atoi(GetEnvWithDefault("APP_PORT", "8080"))
	if err != nil {
		return nil, err
	}

	// malformed typed values are errors, collected together
	var parseErrs []error
	codeTTL := strictEnv(&parseErrs, "CODE_TTL", 10*time.Minute)
	accessTTL := strictEnv(&parseErrs, "ACCESS_TOKEN_TTL", time.Hour)
	refreshTTL := strictEnv(&parseErrs, "REFRESH_TOKEN_TTL", time.Duration(0))
	sweepInterval := strictEnv(&parseErrs, "SWEEP_INTERVAL", time.Minute)
	pkceRequired := strictEnv(&parseErrs, "PKCE_REQUIRED", true)
	rotateRefresh := strictEnv(&parseErrs, "ROTATE_REFRESH_TOKENS", false)
	queueSize := strictEnv(&parseErrs, "DISPATCHER_QUEUE_SIZE", 256)
	rateLimitRPS := strictEnv(&parseErrs, "RATE_LIMIT_RPS", 10.0)
	rateLimitBurst := strictEnv(&parseErrs, "RATE_LIMIT_BURST", 20)
	if err := errors.Join(parseErrs...); err != nil {
		return nil, err
	}

	config := &Config{
		Port:                port,
		Host:                GetEnvWithDefault("APP_HOST", "localhost"),
		Environment:         GetEnvWithDefault("APP_ENV", "development"),
		LogLevel:            GetEnvWithDefault("LOG_LEVEL", "info"),
		CodeTTL:             codeTTL,
		AccessTokenTTL:      accessTTL,
		RefreshTokenTTL:     refreshTTL,
		PKCERequired:        pkceRequired,
		RotateRefreshTokens: rotateRefresh,
		TokenFormat:         strings.ToLower(GetEnvWithDefault("TOKEN_FORMAT", TokenFormatOpaque)),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		QueueSize:           queueSize,
		SweepInterval:       sweepInterval,
		ConsentMode:         GetEnvWithDefault("CONSENT_MODE", "prompt"),
		ConsentOwner:        GetEnvWithDefault("CONSENT_OWNER", "resource-owner"),
		SeedClientID:        GetEnvWithDefault("SEED_CLIENT_ID", "LocalClient"),
		SeedRedirectURI:     GetEnvWithDefault("SEED_REDIRECT_URI", "http://localhost:8081/"),
		SeedScope:           GetEnvWithDefault("SEED_SCOPE", "default-scope"),
		SeedClientSecret:    os.Getenv("SEED_CLIENT_SECRET"),
		AuditDriver:         strings.ToLower(GetEnvWithDefault("AUDIT_DB_DRIVER", "sqlite")),
		AuditPath:           GetEnvWithDefault("AUDIT_DB_PATH", "audit.db"),
		DBHost:              GetEnvWithDefault("DB_HOST", "localhost"),
		DBPort:              GetEnvWithDefault("DB_PORT", "5432"),
		DBUser:              GetEnvWithDefault("DB_USER", "user"),
		DBPassword:          GetEnvWithDefault("DB_PASSWORD", "password"),
		DBName:              GetEnvWithDefault("DB_NAME", "oauth_audit"),
		DBSSLMode:           GetEnvWithDefault("DB_SSLMODE", "disable"),
		RateLimitRPS:        rateLimitRPS,
		RateLimitBurst:      rateLimitBurst,
		ResourceScope:       os.Getenv("RESOURCE_SCOPE"),
		AuditScope:          GetEnvWithDefault("AUDIT_SCOPE", "audit"),
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	log.Infof("Configuration loaded: %s", config.String())
	return config, nil
}

func strictEnv[T any](errs *[]error, key string, defaultValue T) T {
	value, err := GetEnvAsType(key, defaultValue)
	if err != nil {
		*errs = append(*errs, err)
	}
	return value
}

func (c *Config) validate() error {
	switch c.TokenFormat {
	case TokenFormatOpaque:
	case TokenFormatJWT:
		if c.JWTSecret == "" {
			return errors.New("JWT_SECRET environment variable is required when TOKEN_FORMAT=jwt")
		}
	default:
		return fmt.Errorf("unsupported TOKEN_FORMAT %q (supported: opaque, jwt)", c.TokenFormat)
	}

	// validate URL with net/url
	seed, err := url.ParseRequestURI(c.SeedRedirectURI)
	if err != nil || seed.Host == "" {
		return fmt.Errorf("invalid SEED_REDIRECT_URI format: %s", c.SeedRedirectURI)
	}
	if c.RefreshTokenTTL < 0 {
		return errors.New("REFRESH_TOKEN_TTL must not be negative")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	return nil
}

// Helper to get environment with default values
func GetEnvWithDefault(key, defaultValue string) string {
	log.Tracef("Getting environment variable: %s", key)
	value := os.Getenv(key)
	if value == "" {
		log.Warnf("Environment variable %s not set, using default value: %s", key, defaultValue)
		return defaultValue
	}
	return value
}

// GetEnvAsType retrieves an environment variable and converts it to the specified type
// using generic type handling. An unset variable yields the default; a value that
// does not convert to T is an error.
func GetEnvAsType[T any](key string, defaultValue T) (T, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	var (
		parsed any
		err    error
	)
	switch any(defaultValue).(type) {
	case int:
		parsed, err = strconv.Atoi(value)
	case float64:
		parsed, err = strconv.ParseFloat(value, 64)
	case time.Duration:
		parsed, err = time.ParseDuration(value)
	case string:
		parsed = value
	case bool:
		parsed, err = strconv.ParseBool(value)
	default:
		return defaultValue, fmt.Errorf("unsupported type %T for %s", defaultValue, key)
	}
	if err != nil {
		return defaultValue, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return parsed.(T), nil
}
