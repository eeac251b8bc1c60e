package datasets

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FormatSchema renders columns as the schema block embedded in the SQL
// prompt. A column without a default shows "Default Value: None".
func FormatSchema(table string, columns []ColumnInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table name: %s\n", table)

	for _, c := range columns {
		def := "None"
		if c.DefaultValue != nil {
			def = *c.DefaultValue
		}
		fmt.Fprintf(&b, "Column Name: %s\n", c.Name)
		fmt.Fprintf(&b, "Data Type: %s\n", c.Type)
		fmt.Fprintf(&b, "Not Null: %s\n", yesNo(c.NotNull))
		fmt.Fprintf(&b, "Default Value: %s\n", def)
		fmt.Fprintf(&b, "Primary Key: %s\n\n", yesNo(c.PrimaryKey))
	}
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

// FormatRows renders a result as a list of tuples, e.g. [(2,)] or
// [('Bo', 41)]. A nil result, meaning the query failed, renders as None.
func FormatRows(r *Result) string {
	if r == nil {
		return "None"
	}

	var b strings.Builder
	b.WriteByte('[')
	for i, row := range r.Rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j, v := range row {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(formatValue(v))
		}
		if len(row) == 1 {
			b.WriteByte(',')
		}
		b.WriteByte(')')
	}
	b.WriteByte(']')
	return b.String()
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "None"
	case string:
		return quoteString(val)
	case []byte:
		return quoteString(string(val))
	case bool:
		if val {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return formatFloat(val)
	case time.Time:
		return quoteString(val.Format(time.RFC3339Nano))
	default:
		return fmt.Sprint(val)
	}
}

// formatFloat always shows a fractional part so 2.0 is distinguishable from 2.
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// quoteString uses single quotes unless the text contains a single quote
// and no double quote.
func quoteString(s string) string {
	q := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		q = '"'
	}

	var b strings.Builder
	b.WriteByte(q)
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == rune(q):
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(q)
	return b.String()
}
