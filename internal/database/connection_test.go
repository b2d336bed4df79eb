package database

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franciscosanchezn/gin-pkce-server/internal/models"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{"sqlite default", DatabaseConfig{Path: "audit.db"}, "audit.db"},
		{"sqlite3 alias", DatabaseConfig{Driver: "SQLite3", Path: "x.db"}, "x.db"},
		{"postgres", DatabaseConfig{Driver: "postgresql", Host: "h", Port: "5432", User: "u", Password: "p", Name: "n", SSLMode: "disable"},
			"host=h user=u password=p dbname=n port=5432 sslmode=disable"},
		{"unknown", DatabaseConfig{Driver: "mysql"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.DSN())
		})
	}
}

func TestStringMasksPassword(t *testing.T) {
	cfg := DatabaseConfig{Driver: "postgres", Password: "hunter2"}
	assert.NotContains(t, cfg.String(), "hunter2")
}

func TestInitDatabaseSQLite(t *testing.T) {
	cfg := DatabaseConfig{Driver: "sqlite", Path: "file:" + uuid.NewString() + "?mode=memory&cache=shared"}

	db, err := InitDatabase(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	})

	assert.True(t, db.Migrator().HasTable(&models.AuditEvent{}))
}

func TestInitDatabaseUnsupportedDriver(t *testing.T) {
	_, err := InitDatabase(DatabaseConfig{Driver: "mysql"})
	assert.ErrorContains(t, err, "unsupported database driver")
}
