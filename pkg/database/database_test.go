package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "test.db"))
	db, err := sql.Open("sqlite3", cfg.DSN())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig("./carechat.db").Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty path", func(c *Config) { c.DatabasePath = "" }},
		{"zero connections", func(c *Config) { c.MaxConnections = 0 }},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }},
		{"zero idle time", func(c *Config) { c.ConnMaxIdleTime = 0 }},
		{"zero write timeout", func(c *Config) { c.WriteTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("./carechat.db")
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_DSN(t *testing.T) {
	cfg := DefaultConfig("/tmp/x.db")
	assert.Equal(t, "/tmp/x.db?_busy_timeout=5000&_journal_mode=WAL", cfg.DSN())
}

func TestMigrationManager_AppliesEmbeddedMigrations(t *testing.T) {
	db := openTestDB(t)
	mm := NewMigrationManager(db)

	require.NoError(t, mm.ApplyMigrations())
	require.NoError(t, mm.ValidateSchema())

	_, err := db.Exec("INSERT INTO credentials (key, value) VALUES ('accessToken', 'abc')")
	require.NoError(t, err)
}

func TestMigrationManager_Idempotent(t *testing.T) {
	db := openTestDB(t)
	mm := NewMigrationManager(db)

	require.NoError(t, mm.ApplyMigrations())
	require.NoError(t, mm.ApplyMigrations())

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestMigrationManager_OrderAndFailure(t *testing.T) {
	db := openTestDB(t)
	source := fstest.MapFS{
		"m/002_add_index.sql": {Data: []byte("CREATE INDEX idx_t_name ON t(name);")},
		"m/001_create_t.sql":  {Data: []byte("CREATE TABLE t (name TEXT);")},
		"m/README.md":         {Data: []byte("ignored")},
	}

	require.NoError(t, NewMigrationManagerFS(db, source, "m").ApplyMigrations())

	broken := fstest.MapFS{
		"m/001_create_t.sql": {Data: []byte("CREATE TABLE t (name TEXT);")},
		"m/003_broken.sql":   {Data: []byte("CREATE TABLE nonsense (")},
	}
	err := NewMigrationManagerFS(db, broken, "m").ApplyMigrations()
	require.Error(t, err)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = '003'").Scan(&count))
	assert.Equal(t, 0, count, "failed migration must not be recorded")
}

func TestMigrationManager_ValidateSchemaMissingTable(t *testing.T) {
	db := openTestDB(t)
	assert.Error(t, NewMigrationManager(db).ValidateSchema())
}

func TestConfig_Durations(t *testing.T) {
	cfg := DefaultConfig("x.db")
	assert.Equal(t, time.Hour, cfg.ConnMaxLifetime)
	assert.Equal(t, 10*time.Second, cfg.WriteTimeout)
}
