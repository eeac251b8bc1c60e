package datasets

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/tabletalk-dev/tabletalk/pkg/types/errdefs"
)

func TestParseCSV_InfersKinds(t *testing.T) {
	input := "id,score,active,name,empty\n" +
		"1,1.5,true,Ann,\n" +
		"2,2,False,Bo,\n" +
		"3,,TRUE,,\n"

	frame, err := ParseCSV(strings.NewReader(input))
	require.NoError(t, err)

	kinds := map[string]ValueKind{}
	for _, c := range frame.Columns {
		kinds[c.Name] = c.Kind
	}
	assert.Equal(t, map[string]ValueKind{
		"id":     KindInteger,
		"score":  KindFloat,
		"active": KindBoolean,
		"name":   KindText,
		"empty":  KindText,
	}, kinds)

	require.Len(t, frame.Rows, 3)
	assert.Equal(t, []any{int64(1), 1.5, true, "Ann", nil}, frame.Rows[0])
	assert.Equal(t, []any{int64(2), 2.0, false, "Bo", nil}, frame.Rows[1])
	assert.Equal(t, []any{int64(3), nil, true, nil, nil}, frame.Rows[2])
}

func TestParseCSV_LeadingZerosStayDecimal(t *testing.T) {
	frame, err := ParseCSV(strings.NewReader("code\n010\n007\n"))
	require.NoError(t, err)
	assert.Equal(t, KindInteger, frame.Columns[0].Kind)
	assert.Equal(t, int64(10), frame.Rows[0][0])
}

func TestParseCSV_DuplicateHeaders(t *testing.T) {
	frame, err := ParseCSV(strings.NewReader("x,x,x\n1,2,3\n"))
	require.NoError(t, err)

	var names []string
	for _, c := range frame.Columns {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"x", "x.1", "x.2"}, names)
}

func TestParseCSV_Errors(t *testing.T) {
	_, err := ParseCSV(strings.NewReader(""))
	assert.Error(t, err)

	_, err = ParseCSV(strings.NewReader("a,b\n1,2,3\n"))
	assert.Error(t, err)
}

func TestDecodeToUTF8(t *testing.T) {
	t.Run("utf-8 with bom", func(t *testing.T) {
		decoded, name, err := DecodeToUTF8([]byte("\xef\xbb\xbfname\nAnn\n"))
		require.NoError(t, err)
		assert.Equal(t, "utf-8", name)
		assert.Equal(t, "name\nAnn\n", string(decoded))
	})

	t.Run("latin-1", func(t *testing.T) {
		raw, err := charmap.Windows1252.NewEncoder().Bytes([]byte("city\nZürich\n"))
		require.NoError(t, err)
		assert.Equal(t, "windows-1252", DetectEncoding(raw))

		decoded, _, err := DecodeToUTF8(raw)
		require.NoError(t, err)
		assert.Equal(t, "city\nZürich\n", string(decoded))
	})
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	res, err := store.Ingest(ctx, "people list", []byte("age,first name\n30,Ann\n41,Bo\n"))
	require.NoError(t, err)
	assert.Equal(t, "peoplelist", res.Table)
	assert.True(t, res.Created)
	assert.Equal(t, 2, res.Rows)

	schema, err := store.GetSchema(ctx, "peoplelist")
	require.NoError(t, err)
	assert.Equal(t, "firstname", schema[1].Name)
	assert.Equal(t, "INTEGER", schema[0].Type)

	res, err = store.Ingest(ctx, "people list", []byte("age,first name\n25,Cy\n"))
	require.NoError(t, err)
	assert.False(t, res.Created)

	all, err := store.GetAllRows(ctx, "peoplelist")
	require.NoError(t, err)
	assert.Len(t, all.Rows, 3)
}

func TestIngest_ColumnMismatch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Ingest(ctx, "people", []byte("age,name\n30,Ann\n"))
	require.NoError(t, err)

	_, err = store.Ingest(ctx, "people", []byte("name,age,city\nBo,41,Oslo\n"))
	require.Error(t, err)
	assert.True(t, errdefs.IsStore(err))
	assert.Contains(t, err.Error(), "--- people")
	assert.Contains(t, err.Error(), "+++ upload")
	assert.Contains(t, err.Error(), "+city")

	all, err := store.GetAllRows(ctx, "people")
	require.NoError(t, err)
	assert.Len(t, all.Rows, 1, "mismatched upload inserts nothing")
}

func TestIngestFiles(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	dir := t.TempDir()

	write := func(rel, content string) {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	write("sales.csv", "region,total\nnorth,10\n")
	write("nested/deep/people.csv", "age\n30\n")
	write("nested/broken.csv", "a,b\n1,2,3\n")

	results, err := store.IngestFiles(ctx, []string{
		filepath.Join(dir, "**", "*.csv"),
		filepath.Join(dir, "missing-*.csv"),
	}, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.csv")
	assert.Contains(t, err.Error(), "no files match")

	var tables []string
	for _, r := range results {
		tables = append(tables, r.Table)
		assert.NotEmpty(t, r.Source)
	}
	assert.ElementsMatch(t, []string{"sales", "people"}, tables)
}

func TestNameFromPath(t *testing.T) {
	assert.Equal(t, "sales 2024", NameFromPath("/data/sales 2024.csv"))
	assert.Equal(t, "people", NameFromPath("people"))
}
