package interfaces

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"fixedrate-billing/internal/billing/application"
	billing "fixedrate-billing/internal/billing/domain"
)

func sampleStatement() *application.Statement {
	return &application.Statement{
		TotalUsage:  300,
		Rate:        0.25,
		FixedFee:    10,
		Amount:      85,
		Currency:    "USD",
		RowCount:    2,
		Columns:     []string{"kWh", "date"},
		Preview:     [][]string{{"100", "2024-01-01"}, {"200", "2024-01-02"}},
		Dropped:     []billing.DroppedRow{{Row: 3, Value: "abc", Reason: billing.DropReasonNotNumeric}},
		GeneratedAt: time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestBuildStatementPDF(t *testing.T) {
	data, err := BuildStatementPDF(sampleStatement())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
}

func TestBuildStatementXLSX(t *testing.T) {
	data, err := BuildStatementXLSX(sampleStatement())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	amount, err := f.GetCellValue("summary", "B6")
	require.NoError(t, err)
	assert.Equal(t, "85", amount)

	rows, err := f.GetRows("usage")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"kWh", "date"}, {"100", "2024-01-01"}, {"200", "2024-01-02"}}, rows)
}

func TestExportStatement(t *testing.T) {
	_, err := ExportStatement(sampleStatement(), "docx")
	assert.Error(t, err)

	_, err = ExportStatement(nil, FormatPDF)
	assert.Error(t, err)

	data, err := ExportStatement(sampleStatement(), FormatXLSX)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	assert.Equal(t, "application/pdf", ContentType(FormatPDF))
	assert.Equal(t, "application/octet-stream", ContentType("txt"))
}

func TestLoggingPublisher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewLoggingPublisher(zap.New(core))

	require.NoError(t, p.PublishStatement(context.Background(), sampleStatement()))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "statement published", entry.Message)
	assert.Equal(t, 85.0, entry.ContextMap()["amount"])

	assert.Error(t, p.PublishStatement(context.Background(), nil))
}

type failingPublisher struct{ err error }

func (f failingPublisher) PublishStatement(context.Context, *application.Statement) error {
	return f.err
}

func TestMultiPublisher(t *testing.T) {
	boom := errors.New("boom")
	m := MultiPublisher{NewLoggingPublisher(nil), nil, failingPublisher{err: boom}}
	err := m.PublishStatement(context.Background(), sampleStatement())
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, MultiPublisher{}.PublishStatement(context.Background(), sampleStatement()))
}
