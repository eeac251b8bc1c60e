// Package sqlite implements the conversation store on a SQLite file. Each
// thread is one chat_instances row whose chat_history column holds the JSON
// transcript.
package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/tabletalk-dev/tabletalk/pkg/db"
	"github.com/tabletalk-dev/tabletalk/pkg/db/migrations"
	"github.com/tabletalk-dev/tabletalk/pkg/logger"
	"github.com/tabletalk-dev/tabletalk/pkg/types/conversations"
	"github.com/tabletalk-dev/tabletalk/pkg/types/errdefs"
	llmtypes "github.com/tabletalk-dev/tabletalk/pkg/types/llm"
)

// Store implements ConversationStore using SQLite database
type Store struct {
	dbPath string
	db     *sqlx.DB
}

// NewStore opens the database at dbPath and applies pending migrations.
func NewStore(ctx context.Context, dbPath string) (*Store, error) {
	sqlDB, err := db.Open(ctx, dbPath)
	if err != nil {
		return nil, err
	}

	if err := db.NewMigrationRunner(sqlDB).Run(ctx, migrations.All()); err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(err, "failed to run migrations")
	}

	return &Store{dbPath: dbPath, db: sqlDB}, nil
}

// CreateThread inserts a new thread and returns its id. A leading system
// message is not stored. Ids are never reused, even after deletion.
func (s *Store) CreateThread(ctx context.Context, messages []llmtypes.Message, opts ...conversations.WriteOption) (int64, error) {
	o := conversations.ApplyWriteOptions(opts...)
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_instances (chat_history, dataset, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, historyColumn(messages), o.Dataset, now, now)
	if err != nil {
		return 0, errdefs.NewStoreError(err, "create thread")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, errdefs.NewStoreError(err, "read new thread id")
	}

	logger.G(ctx).WithField("thread_id", id).Debug("thread created")
	return id, nil
}

// UpdateThread replaces the transcript of thread id wholesale.
func (s *Store) UpdateThread(ctx context.Context, id int64, messages []llmtypes.Message, opts ...conversations.WriteOption) error {
	o := conversations.ApplyWriteOptions(opts...)

	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_instances
		SET chat_history = ?, dataset = COALESCE(?, dataset), updated_at = ?
		WHERE thread_id = ?
	`, historyColumn(messages), o.Dataset, time.Now().UTC(), id)
	if err != nil {
		return errdefs.NewStoreError(err, "update thread %d", id)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errdefs.NewStoreError(err, "update thread %d", id)
	}
	if n == 0 {
		return errdefs.ThreadNotFound(id)
	}
	return nil
}

// GetThread returns the stored transcript. A nil id or an absent thread
// yields an empty transcript rather than an error.
func (s *Store) GetThread(ctx context.Context, id *int64) ([]llmtypes.Message, error) {
	if id == nil {
		return []llmtypes.Message{}, nil
	}

	record, err := s.LoadThread(ctx, *id)
	if errdefs.IsNotFound(err) {
		return []llmtypes.Message{}, nil
	}
	if err != nil {
		return nil, err
	}
	return record.Messages, nil
}

// LoadThread returns the full record of thread id.
func (s *Store) LoadThread(ctx context.Context, id int64) (conversations.ThreadRecord, error) {
	var rows []dbThreadRecord
	err := s.db.SelectContext(ctx, &rows, `
		SELECT thread_id, chat_history, dataset, created_at, updated_at
		FROM chat_instances
		WHERE thread_id = ?
	`, id)
	if err != nil {
		return conversations.ThreadRecord{}, errdefs.NewStoreError(err, "load thread %d", id)
	}
	if len(rows) == 0 {
		return conversations.ThreadRecord{}, errdefs.ThreadNotFound(id)
	}
	return rows[0].ToThreadRecord(), nil
}

// DeleteThread removes thread id. Deleting an absent thread is not an error.
func (s *Store) DeleteThread(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM chat_instances WHERE thread_id = ?", id); err != nil {
		return errdefs.NewStoreError(err, "delete thread %d", id)
	}
	return nil
}

// ListThreadIDs returns every thread id in ascending order.
func (s *Store) ListThreadIDs(ctx context.Context) ([]int64, error) {
	ids := []int64{}
	if err := s.db.SelectContext(ctx, &ids, "SELECT thread_id FROM chat_instances ORDER BY thread_id"); err != nil {
		return nil, errdefs.NewStoreError(err, "list thread ids")
	}
	return ids, nil
}

// likeEscaper makes LIKE wildcards in a search term match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ListThreads performs filtered, paginated queries over thread summaries.
func (s *Store) ListThreads(ctx context.Context, options conversations.QueryOptions) (conversations.QueryResult, error) {
	var args []any
	var conditions []string

	if options.Dataset != "" {
		conditions = append(conditions, "dataset = ?")
		args = append(args, options.Dataset)
	}

	if options.SearchTerm != "" {
		conditions = append(conditions, `EXISTS (
			SELECT 1 FROM json_each(chat_instances.chat_history)
			WHERE LOWER(json_extract(json_each.value, '$.content')) LIKE ? ESCAPE '\'
		)`)
		args = append(args, "%"+likeEscaper.Replace(strings.ToLower(options.SearchTerm))+"%")
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	sortOrder := "DESC"
	if options.SortOrder == "asc" {
		sortOrder = "ASC"
	}

	query := `SELECT thread_id, chat_history, dataset, created_at, updated_at FROM chat_instances` +
		where + " ORDER BY thread_id " + sortOrder

	pageArgs := append([]any{}, args...)
	if options.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		pageArgs = append(pageArgs, options.Limit, max(options.Offset, 0))
	}

	var rows []dbThreadRecord
	if err := s.db.SelectContext(ctx, &rows, query, pageArgs...); err != nil {
		return conversations.QueryResult{}, errdefs.NewStoreError(err, "list threads")
	}

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM chat_instances"+where, args...); err != nil {
		return conversations.QueryResult{}, errdefs.NewStoreError(err, "count threads")
	}

	summaries := make([]conversations.ThreadSummary, 0, len(rows))
	for i := range rows {
		summaries = append(summaries, rows[i].ToThreadRecord().ToSummary())
	}

	return conversations.QueryResult{
		Threads:      summaries,
		Total:        total,
		QueryOptions: options,
	}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
