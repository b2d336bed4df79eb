package database

import (
	"fmt"
	"strings"
	"time"
)

// DatabaseConfig holds the audit trail connection configuration
type DatabaseConfig struct {
	// Driver specifies the database driver (postgres, sqlite)
	Driver string

	// PostgreSQL-specific configuration
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string

	// SQLite-specific configuration
	Path string

	// MaxRetries bounds connection attempts; zero means the default of 5.
	MaxRetries int
	// RetryDelay is the first backoff delay, doubled on every attempt.
	RetryDelay time.Duration
}

// String returns a string representation with sensitive data masked
func (c *DatabaseConfig) String() string {
	return fmt.Sprintf("DatabaseConfig{Driver: %s, Host: %s, Port: %s, User: %s, Password: [REDACTED], Name: %s, SSLMode: %s, Path: %s}",
		c.Driver, c.Host, c.Port, c.User, c.Name, c.SSLMode, c.Path)
}

// NormalizedDriver maps driver aliases to postgres or sqlite.
func (c *DatabaseConfig) NormalizedDriver() string {
	switch driver := strings.ToLower(c.Driver); driver {
	case "postgres", "postgresql":
		return "postgres"
	case "sqlite", "sqlite3", "":
		return "sqlite"
	default:
		return driver
	}
}

// DSN builds a Data Source Name string based on the driver
func (c *DatabaseConfig) DSN() string {
	switch c.NormalizedDriver() {
	case "postgres":
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
			c.Host, c.User, c.Password, c.Name, c.Port, c.SSLMode)
	case "sqlite":
		return c.Path
	default:
		return ""
	}
}
