// Package dbtest opens throwaway sqlite databases carrying the agent schema.
package dbtest

import (
	"fmt"
	"sync/atomic"
	"testing"

	"migration-agent/agent/database"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var seq atomic.Int64

// New returns a store over a fresh in-memory database, closed when the test ends.
func New(t *testing.T) *database.Store {
	t.Helper()

	dsn := fmt.Sprintf("file:agenttest%d?mode=memory&cache=shared&_busy_timeout=5000", seq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Discard,
	})
	require.NoError(t, err, "failed to open sqlite")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.AutoMigrate(db), "failed to migrate sqlite schema")

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return database.NewStore(db)
}
