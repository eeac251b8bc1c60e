package migrations

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/tabletalk-dev/tabletalk/pkg/db"
)

// Migration20260301090001AddDatasetToChatInstances records which dataset a
// thread was last asked about.
func Migration20260301090001AddDatasetToChatInstances() db.Migration {
	return db.Migration{
		Version:     20260301090001,
		Description: "Add dataset column to chat_instances",
		Up: func(ctx context.Context, tx *sqlx.Tx) error {
			var count int
			if err := tx.GetContext(ctx, &count, `
				SELECT COUNT(*) FROM pragma_table_info('chat_instances') WHERE name = 'dataset'
			`); err != nil {
				return errors.Wrap(err, "failed to check for dataset column")
			}
			if count > 0 {
				return nil
			}

			_, err := tx.ExecContext(ctx, "ALTER TABLE chat_instances ADD COLUMN dataset TEXT")
			return errors.Wrap(err, "failed to add dataset column")
		},
		Down: func(ctx context.Context, tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx, "ALTER TABLE chat_instances DROP COLUMN dataset")
			return errors.Wrap(err, "failed to drop dataset column")
		},
	}
}
