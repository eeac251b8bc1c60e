package db

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/tabletalk-dev/tabletalk/pkg/logger"
)

// Migration is a schema change identified by a timestamp version (YYYYMMDDHHmmss).
type Migration struct {
	Version     int64
	Description string
	Up          func(ctx context.Context, tx *sqlx.Tx) error
	Down        func(ctx context.Context, tx *sqlx.Tx) error // optional
}

// MigrationStatus pairs a known migration with the time it was applied.
// AppliedAt is nil for pending migrations.
type MigrationStatus struct {
	Version     int64
	Description string
	AppliedAt   *time.Time
}

// Applied reports whether the migration has been applied.
func (s MigrationStatus) Applied() bool { return s.AppliedAt != nil }

type appliedRow struct {
	Version   int64     `db:"version"`
	AppliedAt time.Time `db:"applied_at"`
}

// MigrationRunner applies migrations and records them in schema_migrations.
type MigrationRunner struct {
	db *sqlx.DB
}

// NewMigrationRunner creates a new migration runner
func NewMigrationRunner(db *sqlx.DB) *MigrationRunner {
	return &MigrationRunner{db: db}
}

func byVersion(migrations []Migration) []Migration {
	sorted := slices.Clone(migrations)
	slices.SortFunc(sorted, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return sorted
}

// Run applies every pending migration in version order, one transaction each.
func (r *MigrationRunner) Run(ctx context.Context, migrations []Migration) error {
	status, err := r.Status(ctx, migrations)
	if err != nil {
		return err
	}

	for i, m := range byVersion(migrations) {
		if status[i].Applied() {
			continue
		}
		err := r.inTx(ctx, func(tx *sqlx.Tx) error {
			if err := m.Up(ctx, tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
				m.Version, time.Now().UTC(), m.Description)
			return errors.Wrap(err, "failed to record migration")
		})
		if err != nil {
			return errors.Wrapf(err, "failed to apply migration %d: %s", m.Version, m.Description)
		}
		logger.G(ctx).WithField("version", m.Version).Debug("applied migration")
	}
	return nil
}

// Status lists the given migrations in version order with their applied time.
func (r *MigrationRunner) Status(ctx context.Context, migrations []Migration) ([]MigrationStatus, error) {
	rows, err := r.appliedRows(ctx)
	if err != nil {
		return nil, err
	}
	appliedAt := make(map[int64]time.Time, len(rows))
	for _, row := range rows {
		appliedAt[row.Version] = row.AppliedAt
	}

	sorted := byVersion(migrations)
	status := make([]MigrationStatus, len(sorted))
	for i, m := range sorted {
		status[i] = MigrationStatus{Version: m.Version, Description: m.Description}
		if at, ok := appliedAt[m.Version]; ok {
			status[i].AppliedAt = &at
		}
	}
	return status, nil
}

// Pending returns the migrations that have not been applied yet, sorted by version.
func (r *MigrationRunner) Pending(ctx context.Context, migrations []Migration) ([]Migration, error) {
	status, err := r.Status(ctx, migrations)
	if err != nil {
		return nil, err
	}
	var pending []Migration
	for i, m := range byVersion(migrations) {
		if !status[i].Applied() {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// AppliedVersions returns the recorded versions in ascending order, including
// versions no longer present in the code.
func (r *MigrationRunner) AppliedVersions(ctx context.Context) ([]int64, error) {
	rows, err := r.appliedRows(ctx)
	if err != nil {
		return nil, err
	}
	versions := make([]int64, len(rows))
	for i, row := range rows {
		versions[i] = row.Version
	}
	return versions, nil
}

// Rollback reverts the most recently applied migration and returns it, or
// nil when nothing has been applied.
func (r *MigrationRunner) Rollback(ctx context.Context, migrations []Migration) (*Migration, error) {
	versions, err := r.AppliedVersions(ctx)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, nil
	}
	latest := versions[len(versions)-1]

	idx := slices.IndexFunc(migrations, func(m Migration) bool { return m.Version == latest })
	if idx < 0 {
		return nil, errors.Errorf("migration %d not found in provided migrations", latest)
	}
	m := migrations[idx]
	if m.Down == nil {
		return nil, errors.Errorf("migration %d has no rollback function", latest)
	}

	err = r.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := m.Down(ctx, tx); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", m.Version)
		return errors.Wrap(err, "failed to remove migration record")
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to roll back migration %d", m.Version)
	}
	logger.G(ctx).WithField("version", m.Version).Info("rolled back migration")
	return &m, nil
}

func (r *MigrationRunner) appliedRows(ctx context.Context) ([]appliedRow, error) {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL,
			description TEXT
		)
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create schema_migrations table")
	}

	var rows []appliedRow
	if err := r.db.SelectContext(ctx, &rows, "SELECT version, applied_at FROM schema_migrations ORDER BY version"); err != nil {
		return nil, errors.Wrap(err, "failed to read applied migrations")
	}
	return rows, nil
}

func (r *MigrationRunner) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
