package datasets

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/aymanbagabas/go-udiff"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/tabletalk-dev/tabletalk/pkg/logger"
	"github.com/tabletalk-dev/tabletalk/pkg/types/errdefs"
)

// Frame is a parsed CSV: typed columns and rows of typed values. Empty
// cells are nil.
type Frame struct {
	Columns []Column
	Rows    [][]any
}

// IngestResult summarises one ingested file.
type IngestResult struct {
	Source   string   `json:"source,omitempty"`
	Table    string   `json:"table"`
	Encoding string   `json:"encoding"`
	Columns  []Column `json:"columns"`
	Rows     int      `json:"rows"`
	Created  bool     `json:"created"`
}

// DetectEncoding guesses the character encoding of raw. Valid UTF-8 and
// BOM-prefixed input are recognised; anything else falls back to
// windows-1252.
func DetectEncoding(raw []byte) string {
	_, name := determineEncoding(raw)
	return name
}

func determineEncoding(raw []byte) (encoding.Encoding, string) {
	// charset only inspects a prefix, which may end mid-rune.
	if utf8.Valid(raw) {
		return unicode.UTF8, "utf-8"
	}
	enc, name, _ := charset.DetermineEncoding(raw, "text/csv")
	return enc, name
}

// DecodeToUTF8 converts raw to UTF-8 and strips a byte order mark.
func DecodeToUTF8(raw []byte) ([]byte, string, error) {
	enc, name := determineEncoding(raw)
	r := transform.NewReader(bytes.NewReader(raw), unicode.BOMOverride(enc.NewDecoder()))
	decoded, err := io.ReadAll(r)
	if err != nil {
		return nil, name, errors.Wrapf(err, "failed to decode %s input", name)
	}
	return decoded, name, nil
}

// ParseCSV reads a header row followed by data rows. Each column's kind is
// inferred over its non-empty cells: all integers, all numbers, all
// true/false, otherwise text. Repeated header names get a ".N" suffix.
func ParseCSV(r io.Reader) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.New("csv is empty")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read csv header")
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read csv rows")
	}

	names := dedupeHeader(header)
	kinds := make([]ValueKind, len(names))
	for col := range names {
		kinds[col] = inferKind(records, col)
	}

	frame := &Frame{
		Columns: make([]Column, len(names)),
		Rows:    make([][]any, 0, len(records)),
	}
	for i, n := range names {
		frame.Columns[i] = Column{Name: n, Kind: kinds[i]}
	}

	for line, rec := range records {
		row := make([]any, len(names))
		for col, cell := range rec {
			v, err := convertCell(strings.TrimSpace(cell), kinds[col])
			if err != nil {
				return nil, errors.Wrapf(err, "row %d, column %s", line+2, names[col])
			}
			row[col] = v
		}
		frame.Rows = append(frame.Rows, row)
	}
	return frame, nil
}

func dedupeHeader(header []string) []string {
	seen := make(map[string]int, len(header))
	names := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if n, ok := seen[h]; ok {
			seen[h] = n + 1
			names[i] = fmt.Sprintf("%s.%d", h, n+1)
			continue
		}
		seen[h] = 0
		names[i] = h
	}
	return names
}

func inferKind(records [][]string, col int) ValueKind {
	isInt, isFloat, isBool := true, true, true
	seen := false

	for _, rec := range records {
		cell := strings.TrimSpace(rec[col])
		if cell == "" {
			continue
		}
		seen = true
		if isInt {
			if _, err := strconv.ParseInt(cell, 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat {
			if _, err := cast.ToFloat64E(cell); err != nil {
				isFloat = false
			}
		}
		if isBool {
			isBool = isBoolLiteral(cell)
		}
	}

	switch {
	case !seen:
		return KindText
	case isInt:
		return KindInteger
	case isFloat:
		return KindFloat
	case isBool:
		return KindBoolean
	default:
		return KindText
	}
}

func isBoolLiteral(s string) bool {
	switch strings.ToLower(s) {
	case "true", "false":
		return true
	}
	return false
}

func convertCell(cell string, kind ValueKind) (any, error) {
	if cell == "" {
		return nil, nil
	}
	switch kind {
	case KindInteger:
		return strconv.ParseInt(cell, 10, 64)
	case KindFloat:
		return cast.ToFloat64E(cell)
	case KindBoolean:
		return cast.ToBoolE(strings.ToLower(cell))
	default:
		return cell, nil
	}
}

// Ingest decodes raw CSV bytes and stores them in the table Sanitize(name),
// creating it when absent. Uploading into an existing table requires the
// same sanitized column names in the same order; a mismatch is a StoreError
// carrying a diff of the two column lists and nothing is inserted.
func (s *Store) Ingest(ctx context.Context, name string, raw []byte) (*IngestResult, error) {
	table := Sanitize(name)
	if table == "" {
		return nil, errdefs.NewStoreError(nil, "ingest %q: name is empty after sanitizing", name)
	}

	decoded, enc, err := DecodeToUTF8(raw)
	if err != nil {
		return nil, err
	}

	frame, err := ParseCSV(bytes.NewReader(decoded))
	if err != nil {
		return nil, errdefs.NewStoreError(err, "ingest %s", table)
	}

	exists, err := s.TableExists(ctx, table)
	if err != nil {
		return nil, err
	}

	if exists {
		if err := s.checkColumns(ctx, table, frame.Columns); err != nil {
			return nil, err
		}
	} else if err := s.CreateTable(ctx, table, frame.Columns); err != nil {
		return nil, err
	}

	if err := s.InsertRows(ctx, table, frame.Rows); err != nil {
		return nil, err
	}

	logger.G(ctx).WithFields(logrus.Fields{
		"table":    table,
		"encoding": enc,
		"rows":     len(frame.Rows),
		"created":  !exists,
	}).Info("dataset ingested")

	return &IngestResult{
		Table:    table,
		Encoding: enc,
		Columns:  frame.Columns,
		Rows:     len(frame.Rows),
		Created:  !exists,
	}, nil
}

func (s *Store) checkColumns(ctx context.Context, table string, columns []Column) error {
	existing, err := s.GetSchema(ctx, table)
	if err != nil {
		return err
	}

	have := make([]string, len(existing))
	for i, c := range existing {
		have[i] = c.Name
	}
	want := make([]string, len(columns))
	for i, c := range columns {
		want[i] = Sanitize(c.Name)
	}

	oldText := strings.Join(have, "\n") + "\n"
	newText := strings.Join(want, "\n") + "\n"
	if oldText == newText {
		return nil
	}

	diff := udiff.Unified(table, "upload", oldText, newText)
	return errdefs.NewStoreError(nil, "columns of upload do not match table %s:\n%s", table, diff)
}

// NameFromPath derives a dataset name from a file name: the base name
// without its extension.
func NameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// IngestFiles expands each pattern (doublestar syntax, so "data/**/*.csv"
// works) and ingests every matched file. nameFn picks the dataset name for
// a path; nil means NameFromPath. Failures of individual files are collected
// and returned together after all files were attempted.
func (s *Store) IngestFiles(ctx context.Context, patterns []string, nameFn func(path string) string) ([]IngestResult, error) {
	if nameFn == nil {
		nameFn = NameFromPath
	}

	var errs *multierror.Error
	var paths []string
	seen := map[string]bool{}

	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			errs = multierror.Append(errs, errors.Wrapf(err, "invalid pattern %q", pattern))
			continue
		}
		if len(matches) == 0 {
			errs = multierror.Append(errs, errors.Errorf("no files match %q", pattern))
			continue
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				paths = append(paths, m)
			}
		}
	}

	results := []IngestResult{}
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			errs = multierror.Append(errs, errors.Wrapf(err, "failed to read %s", path))
			continue
		}

		res, err := s.Ingest(ctx, nameFn(path), raw)
		if err != nil {
			errs = multierror.Append(errs, errors.Wrapf(err, "failed to ingest %s", path))
			continue
		}
		res.Source = path
		results = append(results, *res)
	}

	return results, errs.ErrorOrNil()
}
