package billing

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// KWhColumn is the canonical name of the usage column.
const KWhColumn = "kWh"

const kwhKey = "kwh"

// Reasons recorded for dropped rows.
const (
	DropReasonEmpty      = "empty"
	DropReasonNotNumeric = "not numeric"
	DropReasonNotFinite  = "not finite"
)

// DroppedRow describes a data row removed during cleaning.
// Row is 1-based and counts data rows only (the header is row 0).
type DroppedRow struct {
	Row    int
	Value  string
	Reason string
}

// UsageTable is a cleaned table of usage readings.
type UsageTable struct {
	columns []string
	rows    [][]string
	dropped []DroppedRow
}

// NewUsageTable builds a table directly from columns and rows. No cleaning
// is applied; SumUsage still validates the values it reads.
func NewUsageTable(columns []string, rows [][]string) (*UsageTable, error) {
	if len(columns) == 0 {
		return nil, schemaError("table has no columns")
	}
	seen := make(map[string]struct{}, len(columns))
	for _, name := range columns {
		if _, ok := seen[name]; ok {
			return nil, schemaError(fmt.Sprintf("duplicate column: %s", name))
		}
		seen[name] = struct{}{}
	}
	t := &UsageTable{columns: append([]string(nil), columns...)}
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, formatError(fmt.Sprintf("row %d has %d fields, want %d", i+1, len(row), len(columns)), nil)
		}
		t.rows = append(t.rows, append([]string(nil), row...))
	}
	return t, nil
}

// NewReadingsTable builds a single-column kWh table from readings.
func NewReadingsTable(readings ...float64) *UsageTable {
	t := &UsageTable{columns: []string{KWhColumn}}
	for _, v := range readings {
		t.rows = append(t.rows, []string{strconv.FormatFloat(v, 'g', -1, 64)})
	}
	return t
}

// LoadUsageTableFrom accepts a file path or an io.Reader. Nil and boolean
// sources are rejected with KindType.
func LoadUsageTableFrom(source any) (*UsageTable, error) {
	switch src := source.(type) {
	case nil, bool:
		return nil, typeError("source must be a valid path or reader")
	case string:
		return LoadUsageTableFile(src)
	case io.Reader:
		return LoadUsageTable(src)
	default:
		return nil, typeError(fmt.Sprintf("source must be a valid path or reader, got %T", source))
	}
}

// LoadUsageTableFile reads a CSV usage table from path.
func LoadUsageTableFile(path string) (*UsageTable, error) {
	if strings.TrimSpace(path) == "" {
		return nil, typeError("source must be a valid path or reader")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, formatError("CSV read failed", err)
	}
	defer f.Close()
	return LoadUsageTable(f)
}

// LoadUsageTable parses a CSV stream and cleans it with BuildUsageTable.
func LoadUsageTable(r io.Reader) (*UsageTable, error) {
	if r == nil {
		return nil, typeError("source must be a valid path or reader")
	}
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	// short rows are padded and cleaned by BuildUsageTable
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, formatError("CSV read failed", err)
	}
	if len(records) == 0 {
		return nil, formatError("CSV read failed", io.ErrUnexpectedEOF)
	}
	return BuildUsageTable(records)
}

// BuildUsageTable cleans raw records whose first record is the header.
// Column names are trimmed and lower-cased; the kwh column is renamed to
// KWhColumn. Rows whose reading is empty, non-numeric or non-finite are
// dropped and reported by Dropped. Negative readings are rejected.
func BuildUsageTable(records [][]string) (*UsageTable, error) {
	if len(records) == 0 {
		return nil, schemaError("missing kWh column")
	}
	header := make([]string, len(records[0]))
	kwhIdx := -1
	for i, name := range records[0] {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		header[i] = strings.ToLower(strings.TrimSpace(name))
		if header[i] == kwhKey && kwhIdx < 0 {
			kwhIdx = i
		}
	}
	if kwhIdx < 0 {
		return nil, schemaError("missing kWh column")
	}
	header[kwhIdx] = KWhColumn

	t := &UsageTable{columns: header}
	for i, record := range records[1:] {
		rowNum := i + 1
		if len(record) > len(header) {
			return nil, formatError(fmt.Sprintf("row %d has %d fields, want %d", rowNum, len(record), len(header)), nil)
		}
		row := make([]string, len(header))
		copy(row, record)

		raw := strings.TrimSpace(row[kwhIdx])
		value, reason := coerceReading(raw)
		if reason != "" {
			t.dropped = append(t.dropped, DroppedRow{Row: rowNum, Value: raw, Reason: reason})
			continue
		}
		if value < 0 {
			return nil, domainError(fmt.Sprintf("negative values found (row %d)", rowNum))
		}
		row[kwhIdx] = raw
		t.rows = append(t.rows, row)
	}
	if len(t.rows) == 0 {
		return nil, schemaError("no valid kWh data")
	}
	return t, nil
}

// coerceReading parses a plain decimal reading. Hex literals and digit
// separators are not readings.
func coerceReading(raw string) (float64, string) {
	if raw == "" {
		return 0, DropReasonEmpty
	}
	if strings.ContainsAny(raw, "_xXpP") {
		return 0, DropReasonNotNumeric
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, DropReasonNotNumeric
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, DropReasonNotFinite
	}
	return value, ""
}

// Len returns the number of retained rows.
func (t *UsageTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}

// Columns returns the column names.
func (t *UsageTable) Columns() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.columns...)
}

// HasColumn reports whether the table has the named column.
func (t *UsageTable) HasColumn(name string) bool {
	return t.columnIndex(name) >= 0
}

// Rows returns up to limit retained rows; limit <= 0 returns all of them.
func (t *UsageTable) Rows(limit int) [][]string {
	if t == nil {
		return nil
	}
	n := len(t.rows)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([][]string, n)
	for i := 0; i < n; i++ {
		out[i] = append([]string(nil), t.rows[i]...)
	}
	return out
}

// Dropped returns the rows removed while cleaning.
func (t *UsageTable) Dropped() []DroppedRow {
	if t == nil {
		return nil
	}
	return append([]DroppedRow(nil), t.dropped...)
}

// Values returns the named column as numbers.
func (t *UsageTable) Values(column string) ([]float64, error) {
	idx := t.columnIndex(column)
	if idx < 0 {
		return nil, schemaError(fmt.Sprintf("missing column: %s", column))
	}
	values := make([]float64, len(t.rows))
	for i, row := range t.rows {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[idx]), 64)
		if err != nil {
			return nil, typeError(fmt.Sprintf("column %s is not numeric (row %d)", column, i+1))
		}
		values[i] = v
	}
	return values, nil
}

func (t *UsageTable) columnIndex(name string) int {
	if t == nil {
		return -1
	}
	for i, c := range t.columns {
		if c == name {
			return i
		}
	}
	return -1
}
