package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseURL(t *testing.T) {
	tests := []struct {
		name    string
		driver  string
		dsn     string
		want    string
		wantErr bool
	}{
		{name: "postgres", driver: DriverPostgres, dsn: "postgres://u:p@db:5432/app?sslmode=disable", want: "pgx5://u:p@db:5432/app?sslmode=disable"},
		{name: "postgresql scheme", driver: DriverPostgres, dsn: "postgresql://u:p@db/app", want: "pgx5://u:p@db/app"},
		{name: "postgres keyword dsn", driver: DriverPostgres, dsn: "host=db user=u", wantErr: true},
		{name: "sqlite", driver: DriverSQLite, dsn: "/tmp/leave.db", want: "sqlite:///tmp/leave.db"},
		{name: "memory", driver: "memory", dsn: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DatabaseURL(tt.driver, tt.dsn)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	for _, dir := range []string{DriverPostgres, DriverSQLite} {
		entries, err := files.ReadDir(dir)
		require.NoError(t, err)
		require.NotEmpty(t, entries)
		assert.Zero(t, len(entries)%2, "%s has an unpaired migration", dir)
	}
}
