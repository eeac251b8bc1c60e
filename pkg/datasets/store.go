// Package datasets persists uploaded tables in a SQLite file and runs ad hoc
// SQL against them. Table and column names are always sanitized before they
// reach a statement.
package datasets

import (
	"context"
	"strings"

	"github.com/gobwas/glob"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tabletalk-dev/tabletalk/pkg/db"
	"github.com/tabletalk-dev/tabletalk/pkg/logger"
	"github.com/tabletalk-dev/tabletalk/pkg/types/errdefs"
)

// Store is the tabular store. Each method acquires a connection from the
// pool and releases it before returning.
type Store struct {
	dbPath string
	db     *sqlx.DB
}

// NewStore opens or creates the tabular store at dbPath.
func NewStore(ctx context.Context, dbPath string) (*Store, error) {
	sqlDB, err := db.Open(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	return &Store{dbPath: dbPath, db: sqlDB}, nil
}

// OpenDefault opens the tabular store under basePath, or under
// db.DefaultBasePath when basePath is empty.
func OpenDefault(ctx context.Context, basePath string) (*Store, error) {
	if basePath == "" {
		var err error
		basePath, err = db.DefaultBasePath()
		if err != nil {
			return nil, err
		}
	}
	return NewStore(ctx, db.DatasetsDBPath(basePath))
}

// Path returns the database file path.
func (s *Store) Path() string { return s.dbPath }

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// withConn runs fn on a connection taken from the pool and returns it to the
// pool on every exit path.
func (s *Store) withConn(ctx context.Context, fn func(conn *sqlx.Conn) error) error {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to acquire connection")
	}
	defer conn.Close()
	return fn(conn)
}

// CreateTable creates table with the given columns unless it already exists.
func (s *Store) CreateTable(ctx context.Context, table string, columns []Column) error {
	name := Sanitize(table)
	if name == "" {
		return errdefs.NewStoreError(nil, "create table %q: name is empty after sanitizing", table)
	}
	if len(columns) == 0 {
		return errdefs.NewStoreError(nil, "create table %s: no columns", name)
	}

	defs := make([]string, 0, len(columns))
	for _, c := range columns {
		col := QuoteIdent(c.Name)
		if col == "" {
			return errdefs.NewStoreError(nil, "create table %s: column %q is empty after sanitizing", name, c.Name)
		}
		defs = append(defs, col+" "+SQLType(c.Kind))
	}

	query := "CREATE TABLE IF NOT EXISTS " + QuoteIdent(name) + " (" + strings.Join(defs, ", ") + ")"
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		_, err := conn.ExecContext(ctx, query)
		return err
	})
	if err != nil {
		return errdefs.NewStoreError(err, "create table %s", name)
	}

	logger.G(ctx).WithFields(logrus.Fields{"table": name, "columns": len(columns)}).Debug("table ensured")
	return nil
}

// InsertRows appends rows positionally in a single transaction. Every row
// must have exactly as many values as the table has columns; otherwise no
// row is inserted.
func (s *Store) InsertRows(ctx context.Context, table string, rows [][]any) error {
	name := Sanitize(table)
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return errdefs.NewStoreError(err, "insert into %s: acquire connection", name)
	}
	defer conn.Close()
	return insertRows(ctx, conn, name, rows)
}

func insertRows(ctx context.Context, conn *sqlx.Conn, name string, rows [][]any) error {
	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return errdefs.NewStoreError(err, "insert into %s: begin transaction", name)
	}
	defer tx.Rollback()

	var width int
	if err := tx.GetContext(ctx, &width, "SELECT COUNT(*) FROM pragma_table_info(?)", name); err != nil {
		return errdefs.NewStoreError(err, "insert into %s: read columns", name)
	}
	if width == 0 {
		return errdefs.TableNotFound(name)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", width), ", ")
	stmt, err := tx.PreparexContext(ctx, "INSERT INTO "+QuoteIdent(name)+" VALUES ("+placeholders+")")
	if err != nil {
		return errdefs.NewStoreError(err, "insert into %s: prepare", name)
	}
	defer stmt.Close()

	for i, row := range rows {
		if len(row) != width {
			return errdefs.NewStoreError(nil, "insert into %s: row %d has %d values, table has %d columns", name, i, len(row), width)
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return errdefs.NewStoreError(err, "insert into %s: row %d", name, i)
		}
	}

	if err := tx.Commit(); err != nil {
		return errdefs.NewStoreError(err, "insert into %s: commit", name)
	}
	return nil
}

// ListTables returns user tables in catalog order.
func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	names := []string{}
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		return conn.SelectContext(ctx, &names, `
			SELECT name FROM sqlite_master
			WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
			ORDER BY rowid
		`)
	})
	if err != nil {
		return nil, errdefs.NewStoreError(err, "list tables")
	}
	return names, nil
}

// ListTablesMatching returns the tables whose name matches a glob pattern
// such as "sales_*". An empty pattern matches everything.
func (s *Store) ListTablesMatching(ctx context.Context, pattern string) ([]string, error) {
	names, err := s.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	return FilterTables(names, pattern)
}

// FilterTables keeps the names that match pattern.
func FilterTables(names []string, pattern string) ([]string, error) {
	if pattern == "" {
		return names, nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid table pattern %q", pattern)
	}

	matched := []string{}
	for _, n := range names {
		if g.Match(n) {
			matched = append(matched, n)
		}
	}
	return matched, nil
}

// TableExists reports whether table exists.
func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	var count int
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		return conn.GetContext(ctx, &count,
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", Sanitize(table))
	})
	if err != nil {
		return false, errdefs.NewStoreError(err, "look up table %s", Sanitize(table))
	}
	return count > 0, nil
}

// GetSchema returns the columns of table in declaration order.
func (s *Store) GetSchema(ctx context.Context, table string) ([]ColumnInfo, error) {
	name := Sanitize(table)

	var rows []dbColumnInfo
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		return conn.SelectContext(ctx, &rows, "SELECT * FROM pragma_table_info(?) ORDER BY cid", name)
	})
	if err != nil {
		return nil, errdefs.NewStoreError(err, "read schema of %s", name)
	}
	if len(rows) == 0 {
		return nil, errdefs.TableNotFound(name)
	}

	columns := make([]ColumnInfo, 0, len(rows))
	for _, r := range rows {
		columns = append(columns, r.toColumnInfo())
	}
	return columns, nil
}

// SchemaText returns the schema of table formatted for the SQL prompt.
func (s *Store) SchemaText(ctx context.Context, table string) (string, error) {
	columns, err := s.GetSchema(ctx, table)
	if err != nil {
		return "", err
	}
	return FormatSchema(Sanitize(table), columns), nil
}

// GetAllRows returns every row of table.
func (s *Store) GetAllRows(ctx context.Context, table string) (*Result, error) {
	exists, err := s.TableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errdefs.TableNotFound(Sanitize(table))
	}

	result, err := s.ExecuteQuery(ctx, "SELECT * FROM "+QuoteIdent(table))
	if err != nil {
		return nil, errdefs.NewStoreError(err, "read rows of %s", Sanitize(table))
	}
	return result, nil
}

// ExecuteQuery runs arbitrary SQL. Errors raised by the engine for the
// statement are returned as *errdefs.ExecutionError carrying the query.
func (s *Store) ExecuteQuery(ctx context.Context, query string) (*Result, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, errdefs.NewStoreError(err, "execute query: acquire connection")
	}
	defer conn.Close()

	rows, err := conn.QueryxContext(ctx, query)
	if err != nil {
		return nil, &errdefs.ExecutionError{Query: query, Cause: err}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, &errdefs.ExecutionError{Query: query, Cause: err}
	}

	result := &Result{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, &errdefs.ExecutionError{Query: query, Cause: err}
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, &errdefs.ExecutionError{Query: query, Cause: err}
	}

	return result, nil
}

// RunQuery executes query and returns its rows, or nil on any failure. The
// error is logged and never returned; rejected SQL is logged at info since
// generated queries are often invalid.
func (s *Store) RunQuery(ctx context.Context, query string) *Result {
	result, err := s.ExecuteQuery(ctx, query)
	if err != nil {
		log := logger.G(ctx).WithError(err).WithField("query", query)
		if errdefs.IsExecution(err) {
			log.Info("query execution failed, continuing with no result")
		} else {
			log.Error("query could not be run, continuing with no result")
		}
		return nil
	}
	return result
}

// DropTable removes table. Dropping an absent table is not an error.
func (s *Store) DropTable(ctx context.Context, table string) error {
	name := Sanitize(table)
	if name == "" {
		return nil
	}
	err := s.withConn(ctx, func(conn *sqlx.Conn) error {
		_, err := conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+QuoteIdent(name))
		return err
	})
	if err != nil {
		return errdefs.NewStoreError(err, "drop table %s", name)
	}
	logger.G(ctx).WithField("table", name).Info("table dropped")
	return nil
}
