package datasets

import (
	"database/sql"
)

// ValueKind is the coarse kind inferred for an ingested column.
type ValueKind int

// Value kinds, mapped to declared column types by SQLType.
const (
	KindText ValueKind = iota
	KindInteger
	KindFloat
	KindBoolean
)

func (k ValueKind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "floating"
	case KindBoolean:
		return "boolean"
	default:
		return "text"
	}
}

// SQLType returns the declared column type for kind.
func SQLType(kind ValueKind) string {
	switch kind {
	case KindInteger:
		return "INTEGER"
	case KindFloat:
		return "REAL"
	case KindBoolean:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

// Column is a column to create: a source name and its inferred kind.
type Column struct {
	Name string    `json:"name"`
	Kind ValueKind `json:"kind"`
}

// ColumnInfo describes one column of an existing table.
type ColumnInfo struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	NotNull      bool    `json:"notNull"`
	DefaultValue *string `json:"defaultValue,omitempty"`
	PrimaryKey   bool    `json:"primaryKey"`
}

// dbColumnInfo mirrors a pragma_table_info row.
type dbColumnInfo struct {
	CID       int            `db:"cid"`
	Name      string         `db:"name"`
	Type      string         `db:"type"`
	NotNull   int            `db:"notnull"`
	DfltValue sql.NullString `db:"dflt_value"`
	PK        int            `db:"pk"`
}

func (c dbColumnInfo) toColumnInfo() ColumnInfo {
	info := ColumnInfo{
		Name:       c.Name,
		Type:       c.Type,
		NotNull:    c.NotNull != 0,
		PrimaryKey: c.PK != 0,
	}
	if c.DfltValue.Valid {
		v := c.DfltValue.String
		info.DefaultValue = &v
	}
	return info
}

// Result holds the rows returned by a query in column order.
type Result struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// String renders the rows the way they are shown to the model.
func (r *Result) String() string {
	return FormatRows(r)
}
