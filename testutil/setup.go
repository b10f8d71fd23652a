package testutil

import (
	"path/filepath"
	"testing"

	"github.com/nisekogame/backend/cache"
	"github.com/nisekogame/backend/config"
	dbadapter "github.com/nisekogame/backend/db"
	"github.com/nisekogame/backend/model"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// SetupTestDB opens a SQLite database in a per-test temp directory and runs
// AutoMigrate. It requires no external services and is safe to use in
// parallel tests.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := dbadapter.Open(config.DatabaseConfig{
		Mode:       dbadapter.ModeSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err, "SetupTestDB: Open")
	require.NoError(t, model.AutoMigrate(db), "SetupTestDB: AutoMigrate")
	t.Cleanup(func() { _ = dbadapter.Close(db) })
	return db
}

// SetupTestPubSub creates a LocalPubSub (no Redis required).
func SetupTestPubSub(t *testing.T) cache.PubSub {
	t.Helper()
	ps, err := cache.NewPubSub(cache.Config{})
	require.NoError(t, err, "SetupTestPubSub: NewPubSub")
	return ps
}
