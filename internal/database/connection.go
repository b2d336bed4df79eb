package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/franciscosanchezn/gin-pkce-server/internal/models"
)

var log = logrus.New()

func init() {
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.InfoLevel)
}

const (
	defaultMaxRetries = 5
	defaultRetryDelay = time.Second
)

// InitDatabase opens the audit trail database, retrying with exponential
// backoff, and migrates the audit schema.
func InitDatabase(cfg DatabaseConfig) (*gorm.DB, error) {
	driver := cfg.NormalizedDriver()
	dialector, err := openDialector(driver, cfg.DSN())
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"db_driver": driver,
		"db_host":   cfg.Host,
		"db_name":   cfg.Name,
		"db_path":   cfg.Path,
	}).Info("Initializing audit database connection")

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}

	var db *gorm.DB
	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err = connect(dialector)
		if err == nil {
			log.WithFields(logrus.Fields{
				"db_driver": driver,
				"attempt":   attempt,
			}).Info("Audit database initialized successfully")
			return db, Migrate(db)
		}

		log.WithFields(logrus.Fields{
			"attempt":     attempt,
			"max_retries": maxRetries,
			"error":       err.Error(),
		}).Warn("Database connection attempt failed")

		// Don't wait after the last attempt
		if attempt < maxRetries {
			log.WithField("delay", delay).Info("Retrying database connection")
			time.Sleep(delay)
			delay *= 2
		}
	}

	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, err)
}

// Migrate creates or updates the audit schema.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.AuditEvent{}); err != nil {
		return fmt.Errorf("migrating audit schema: %w", err)
	}
	return nil
}

func openDialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, sqlite)", driver)
	}
}

func connect(dialector gorm.Dialector) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, err
	}
	configureConnectionPool(sqlDB, dialector.Name())
	return db, nil
}

// configureConnectionPool sets pool limits. SQLite gets a single
// connection so in-memory databases stay shared and writes never contend.
func configureConnectionPool(sqlDB *sql.DB, dialect string) {
	maxOpen, maxIdle := 25, 5
	if dialect == "sqlite" {
		maxOpen, maxIdle = 1, 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	log.WithFields(logrus.Fields{
		"max_open_conns":    maxOpen,
		"max_idle_conns":    maxIdle,
		"conn_max_lifetime": "5m",
	}).Debug("Connection pool configured")
}
