package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"workforce-queue/internal/migrations"
	"workforce-queue/internal/observability"
	"workforce-queue/internal/store"
	"workforce-queue/internal/store/storetest"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leave.db")
	require.NoError(t, migrations.Up(migrations.DriverSQLite, path, observability.NopEntry()))

	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, newTestStore)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leave.db")
	logger := observability.NopEntry()

	require.NoError(t, migrations.Up(migrations.DriverSQLite, path, logger))
	require.NoError(t, migrations.Up(migrations.DriverSQLite, path, logger))
	require.NoError(t, migrations.Down(migrations.DriverSQLite, path, logger))
}
