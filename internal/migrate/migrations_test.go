package migrate

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Charitha2009/chronicle/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()

	v, err := Version(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	require.NoError(t, Migrate(ctx, conn))
	require.NoError(t, Migrate(ctx, conn))

	v, err = Version(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	var n int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, 1, n)
	_, err = conn.ExecContext(ctx, `SELECT code FROM campaigns LIMIT 1`)
	require.NoError(t, err)
}

func TestApplyOnlyPending(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()

	first := fstest.MapFS{"sql/0001_a.sql": {Data: []byte(`CREATE TABLE a(id INTEGER);`)}}
	require.NoError(t, apply(ctx, conn, first))

	second := fstest.MapFS{
		"sql/0001_a.sql": {Data: []byte(`CREATE TABLE a(id INTEGER);`)},
		"sql/0002_b.sql": {Data: []byte(`CREATE TABLE b(id INTEGER);`)},
	}
	require.NoError(t, apply(ctx, conn, second))
	v, err := Version(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestFailedMigrationLeavesVersion(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()

	bad := fstest.MapFS{
		"sql/0001_a.sql": {Data: []byte(`CREATE TABLE a(id INTEGER);`)},
		"sql/0002_bad.sql": {Data: []byte(`CREATE TABLE oops(`)},
	}
	err = apply(ctx, conn, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0002_bad.sql")
	v, err := Version(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestLoadMigrationsRejectsBadNames(t *testing.T) {
	_, err := loadMigrations(fstest.MapFS{"sql/init.sql": {Data: []byte(``)}})
	assert.Error(t, err)

	_, err = loadMigrations(fstest.MapFS{
		"sql/0001_a.sql": {Data: []byte(``)},
		"sql/01_b.sql":   {Data: []byte(``)},
	})
	assert.ErrorContains(t, err, "share version 1")
}
