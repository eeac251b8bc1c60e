package migrations

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/tabletalk-dev/tabletalk/pkg/db"
)

// Migration20260301090000CreateChatInstances creates the chat_instances table.
func Migration20260301090000CreateChatInstances() db.Migration {
	return db.Migration{
		Version:     20260301090000,
		Description: "Create chat_instances table",
		Up: func(ctx context.Context, tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, `
				CREATE TABLE IF NOT EXISTS chat_instances (
					thread_id INTEGER PRIMARY KEY AUTOINCREMENT,
					chat_history TEXT NOT NULL,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create chat_instances table")
			}

			if _, err := tx.ExecContext(ctx, `
				CREATE INDEX IF NOT EXISTS idx_chat_instances_updated_at
				ON chat_instances(updated_at DESC)
			`); err != nil {
				return errors.Wrap(err, "failed to create updated_at index")
			}
			return nil
		},
		Down: func(ctx context.Context, tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS chat_instances")
			return errors.Wrap(err, "failed to drop chat_instances table")
		},
	}
}
