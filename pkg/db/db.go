// Package db provides shared SQLite database utilities: opening a file-backed
// database with the pragmas every tabletalk store relies on, resolving the
// default storage locations, and running versioned migrations.
package db

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const (
	// ConversationsDBName holds the chat thread transcripts.
	ConversationsDBName = "chat_instances.db"
	// DatasetsDBName holds one table per ingested dataset.
	DatasetsDBName = "data_analytics.db"
)

// DefaultBasePath returns the directory that holds both stores and the session
// state file. TABLETALK_BASE_PATH overrides the default of ~/.tabletalk.
func DefaultBasePath() (string, error) {
	if basePath := os.Getenv("TABLETALK_BASE_PATH"); basePath != "" {
		return basePath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get home directory")
	}
	return filepath.Join(home, ".tabletalk"), nil
}

// ConversationsDBPath returns the conversation store path under basePath.
func ConversationsDBPath(basePath string) string {
	return filepath.Join(basePath, ConversationsDBName)
}

// DatasetsDBPath returns the tabular store path under basePath.
func DatasetsDBPath(basePath string) string {
	return filepath.Join(basePath, DatasetsDBName)
}

// Open opens or creates a SQLite database at the given path with optimal configuration.
func Open(ctx context.Context, dbPath string) (*sqlx.DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create database directory")
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	if err := Configure(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to configure database")
	}

	return db, nil
}

// Configure sets up SQLite pragmas for WAL mode. The pool is capped at one
// connection, so callers must release a connection before acquiring another.
func Configure(ctx context.Context, db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=1000",
		"PRAGMA temp_store=memory",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return errors.Wrapf(err, "failed to execute pragma: %s", pragma)
		}
	}

	db.SetMaxIdleConns(1)
	db.SetMaxOpenConns(1)

	return VerifyConfiguration(ctx, db)
}

// VerifyConfiguration checks that the database runs in WAL mode with NORMAL
// synchronous writes.
func VerifyConfiguration(ctx context.Context, db *sqlx.DB) error {
	var journalMode string
	if err := db.GetContext(ctx, &journalMode, "PRAGMA journal_mode"); err != nil {
		return errors.Wrap(err, "failed to query journal mode")
	}
	if strings.ToLower(journalMode) != "wal" {
		return errors.Errorf("expected WAL mode, got %s", journalMode)
	}

	var synchronous string
	if err := db.GetContext(ctx, &synchronous, "PRAGMA synchronous"); err != nil {
		return errors.Wrap(err, "failed to query synchronous mode")
	}
	if synchronous != "1" {
		return errors.Errorf("expected NORMAL synchronous mode, got %s", synchronous)
	}

	return nil
}

// GetMigrationStatus opens the conversation database under basePath and
// reports which of the given migrations have been applied.
func GetMigrationStatus(ctx context.Context, basePath string, migrations []Migration) ([]MigrationStatus, error) {
	sqlDB, err := Open(ctx, ConversationsDBPath(basePath))
	if err != nil {
		return nil, err
	}
	defer sqlDB.Close()

	return NewMigrationRunner(sqlDB).Status(ctx, migrations)
}

// RollbackMigration reverts the most recent migration of the conversation
// database under basePath. It returns nil when nothing was applied.
func RollbackMigration(ctx context.Context, basePath string, migrations []Migration) (*Migration, error) {
	sqlDB, err := Open(ctx, ConversationsDBPath(basePath))
	if err != nil {
		return nil, err
	}
	defer sqlDB.Close()

	return NewMigrationRunner(sqlDB).Rollback(ctx, migrations)
}
