package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureChunkSchemaRejectsInvalidDimension(t *testing.T) {
	err := EnsureChunkSchema(context.Background(), nil, 0)
	assert.Error(t, err)
}

func TestEnsureChunkSchemaRejectsNilPool(t *testing.T) {
	err := EnsureChunkSchema(context.Background(), nil, 768)
	assert.Error(t, err)
}

func TestOpenSQLiteCreatesDatabaseFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "knowledge_db")
	ctx := context.Background()

	db, err := OpenSQLite(ctx, dir)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, EnsureSQLiteSchema(ctx, db))
	// Second call must be a no-op.
	require.NoError(t, EnsureSQLiteSchema(ctx, db))

	_, err = os.Stat(filepath.Join(dir, SQLiteFile))
	assert.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&count))
	assert.Zero(t, count)
}

func TestSQLiteSchemaRejectsEmptySource(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(ctx, t.TempDir())
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, EnsureSQLiteSchema(ctx, db))

	_, err = db.ExecContext(ctx, "INSERT INTO chunks (id, source_id, content, embedding) VALUES ('a', '', 'text', x'00')")
	assert.Error(t, err)
}

func TestOpenSQLiteRequiresDirectory(t *testing.T) {
	_, err := OpenSQLite(context.Background(), "")
	assert.Error(t, err)
}
