package database

import (
	"context"
	"os"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/courseassist/internal/config"
)

func TestMigrationVersions_Sorted(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/010_b.sql": {Data: []byte("SELECT 1")},
		"migrations/002_a.sql": {Data: []byte("SELECT 1")},
		"migrations/notes.txt": {Data: []byte("ignored")},
	}
	versions, err := migrationVersions(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"002_a.sql", "010_b.sql"}, versions)
}

func TestEmbeddedMigrations(t *testing.T) {
	versions, err := migrationVersions(migrationFS)
	require.NoError(t, err)
	assert.Contains(t, versions, "001_index_entries.sql")
}

func TestRunMigrations_Idempotent(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := NewPool(ctx, config.DatabaseConfig{URL: url, MaxConns: 4, MinConns: 1})
	require.NoError(t, err)
	defer pool.Close()

	require.NoError(t, RunMigrations(ctx, pool))
	require.NoError(t, RunMigrations(ctx, pool))
}
