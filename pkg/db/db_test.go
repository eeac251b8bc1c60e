package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func exec(query string) func(context.Context, *sqlx.Tx) error {
	return func(ctx context.Context, tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, query)
		return err
	}
}

func testMigrations() []Migration {
	return []Migration{
		{
			Version:     20240101000001,
			Description: "Create notes",
			Up:          exec("CREATE TABLE notes (id INTEGER PRIMARY KEY)"),
			Down:        exec("DROP TABLE notes"),
		},
		{
			Version:     20240101000002,
			Description: "Add body to notes",
			Up:          exec("ALTER TABLE notes ADD COLUMN body TEXT"),
		},
	}
}

func tableExists(t *testing.T, db *sqlx.DB, name string) bool {
	t.Helper()
	var exists bool
	require.NoError(t, db.Get(&exists, "SELECT COUNT(*) > 0 FROM sqlite_master WHERE type='table' AND name=?", name))
	return exists
}

func TestOpen(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, VerifyConfiguration(context.Background(), db))

	nested := filepath.Join(t.TempDir(), "a", "b", "test.db")
	db2, err := Open(context.Background(), nested)
	require.NoError(t, err)
	defer db2.Close()
	_, err = os.Stat(filepath.Dir(nested))
	require.NoError(t, err)
}

func TestDefaultBasePath(t *testing.T) {
	t.Run("with TABLETALK_BASE_PATH", func(t *testing.T) {
		t.Setenv("TABLETALK_BASE_PATH", "/custom/path")
		path, err := DefaultBasePath()
		require.NoError(t, err)
		assert.Equal(t, "/custom/path", path)
		assert.Equal(t, "/custom/path/chat_instances.db", ConversationsDBPath(path))
		assert.Equal(t, "/custom/path/data_analytics.db", DatasetsDBPath(path))
	})

	t.Run("without TABLETALK_BASE_PATH", func(t *testing.T) {
		t.Setenv("TABLETALK_BASE_PATH", "")
		path, err := DefaultBasePath()
		require.NoError(t, err)
		home, _ := os.UserHomeDir()
		assert.Equal(t, filepath.Join(home, ".tabletalk"), path)
	})
}

func TestMigrationRunner_Run(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	runner := NewMigrationRunner(db)

	migs := testMigrations()
	// listed out of order on purpose; the runner sorts by version
	require.NoError(t, runner.Run(ctx, []Migration{migs[1], migs[0]}))
	assert.True(t, tableExists(t, db, "notes"))

	require.NoError(t, runner.Run(ctx, migs))

	versions, err := runner.AppliedVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{20240101000001, 20240101000002}, versions)
}

func TestMigrationRunner_FailedMigrationIsNotRecorded(t *testing.T) {
	ctx := context.Background()
	runner := NewMigrationRunner(openTestDB(t))

	err := runner.Run(ctx, []Migration{{Version: 1, Description: "broken", Up: exec("CREATE TABLE")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to apply migration 1: broken")

	versions, err := runner.AppliedVersions(ctx)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestMigrationRunner_StatusAndPending(t *testing.T) {
	ctx := context.Background()
	runner := NewMigrationRunner(openTestDB(t))
	migs := testMigrations()

	require.NoError(t, runner.Run(ctx, migs[:1]))

	status, err := runner.Status(ctx, migs)
	require.NoError(t, err)
	require.Len(t, status, 2)
	assert.True(t, status[0].Applied())
	assert.Equal(t, "Create notes", status[0].Description)
	assert.False(t, status[1].Applied())

	pending, err := runner.Pending(ctx, migs)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(20240101000002), pending[0].Version)
}

func TestMigrationRunner_Rollback(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	runner := NewMigrationRunner(db)
	migs := testMigrations()

	m, err := runner.Rollback(ctx, migs)
	require.NoError(t, err)
	assert.Nil(t, m)

	require.NoError(t, runner.Run(ctx, migs))

	_, err = runner.Rollback(ctx, migs)
	assert.ErrorContains(t, err, "has no rollback function")

	_, err = runner.Rollback(ctx, migs[:1])
	assert.ErrorContains(t, err, "not found in provided migrations")

	_, err = db.Exec("DELETE FROM schema_migrations WHERE version = ?", migs[1].Version)
	require.NoError(t, err)

	m, err = runner.Rollback(ctx, migs)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, int64(20240101000001), m.Version)
	assert.False(t, tableExists(t, db, "notes"))
}

func TestMigrationStatusAndRollback(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	migs := testMigrations()[:1]

	db, err := Open(ctx, ConversationsDBPath(base))
	require.NoError(t, err)
	require.NoError(t, NewMigrationRunner(db).Run(ctx, migs))
	require.NoError(t, db.Close())

	status, err := GetMigrationStatus(ctx, base, migs)
	require.NoError(t, err)
	require.Len(t, status, 1)
	assert.True(t, status[0].Applied())

	m, err := RollbackMigration(ctx, base, migs)
	require.NoError(t, err)
	require.NotNil(t, m)

	status, err = GetMigrationStatus(ctx, base, migs)
	require.NoError(t, err)
	assert.False(t, status[0].Applied())
}
