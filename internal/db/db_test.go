package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLite(t *testing.T) {
	ctx := context.Background()

	t.Run("in memory", func(t *testing.T) {
		db, err := OpenSQLite(InMemory, false)
		require.NoError(t, err)
		defer db.Close()

		_, err = db.ExecContext(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY)")
		require.NoError(t, err)
		// the table must be visible on the next query, which may use another pooled connection
		n, err := db.NewSelect().Table("t").Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("file creates its directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "store.db")
		db, err := OpenSQLite(path, true)
		require.NoError(t, err)
		require.NoError(t, db.Close())
		assert.FileExists(t, path)
	})
}

func TestWithSSLMode(t *testing.T) {
	assert.Equal(t, "postgres://h/db?sslmode=disable", withSSLMode("postgres://h/db"))
	assert.Equal(t, "postgres://h/db?x=1&sslmode=disable", withSSLMode("postgres://h/db?x=1"))
	assert.Equal(t, "postgres://h/db?sslmode=require", withSSLMode("postgres://h/db?sslmode=require"))
}
