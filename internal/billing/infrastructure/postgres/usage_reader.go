package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"fixedrate-billing/internal/billing/application"
	billing "fixedrate-billing/internal/billing/domain"
)

const defaultReadingsTable = "usage_readings"

// UsageReader loads meter readings for a subject and period from Postgres.
type UsageReader struct {
	db    *sql.DB
	table string
}

// ReaderOption configures the reader.
type ReaderOption func(*UsageReader)

// WithTable overrides the readings table name.
func WithTable(table string) ReaderOption {
	return func(r *UsageReader) {
		if r != nil && table != "" {
			r.table = table
		}
	}
}

// NewUsageReader constructs a reader.
func NewUsageReader(db *sql.DB, opts ...ReaderOption) *UsageReader {
	reader := &UsageReader{db: db, table: defaultReadingsTable}
	for _, opt := range opts {
		opt(reader)
	}
	return reader
}

// Source returns a usage source for readings in [from, to).
func (r *UsageReader) Source(subjectID string, from, to time.Time) application.UsageSource {
	return application.UsageSourceFunc(func(ctx context.Context) (*billing.UsageTable, error) {
		return r.LoadUsage(ctx, subjectID, from, to)
	})
}

// LoadUsage reads the period and cleans it like an uploaded file. NULL
// readings are dropped.
func (r *UsageReader) LoadUsage(ctx context.Context, subjectID string, from, to time.Time) (*billing.UsageTable, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("usage reader: nil db")
	}
	if subjectID == "" {
		return nil, errors.New("usage reader: empty subject id")
	}
	if !to.After(from) {
		return nil, errors.New("usage reader: to must be after from")
	}

	query := fmt.Sprintf(`
SELECT reading_at, kwh
FROM %s
WHERE subject_id = $1 AND reading_at >= $2 AND reading_at < $3
ORDER BY reading_at ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, subjectID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := [][]string{{"reading_at", billing.KWhColumn}}
	for rows.Next() {
		var (
			readingAt time.Time
			kwh       sql.NullFloat64
		)
		if err := rows.Scan(&readingAt, &kwh); err != nil {
			return nil, err
		}
		value := ""
		if kwh.Valid {
			value = strconv.FormatFloat(kwh.Float64, 'f', -1, 64)
		}
		records = append(records, []string{readingAt.UTC().Format(time.RFC3339), value})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return billing.BuildUsageTable(records)
}

// MonthRange returns the UTC bounds of a YYYY-MM month.
func MonthRange(month string) (time.Time, time.Time, error) {
	t, err := time.Parse("2006-01", month)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("month must be YYYY-MM")
	}
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0), nil
}
