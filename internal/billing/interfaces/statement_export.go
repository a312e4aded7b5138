package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"fixedrate-billing/internal/billing/application"
	"fixedrate-billing/internal/observability/metrics"
)

// Export formats.
const (
	FormatPDF  = "pdf"
	FormatXLSX = "xlsx"
)

// ContentType returns the MIME type of an export format.
func ContentType(format string) string {
	switch format {
	case FormatPDF:
		return "application/pdf"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

// ExportStatement renders stmt in the given format.
func ExportStatement(stmt *application.Statement, format string) ([]byte, error) {
	if stmt == nil {
		return nil, fmt.Errorf("export: nil statement")
	}
	start := time.Now()
	var (
		data []byte
		err  error
	)
	switch format {
	case FormatPDF:
		data, err = BuildStatementPDF(stmt)
	case FormatXLSX:
		data, err = BuildStatementXLSX(stmt)
	default:
		err = fmt.Errorf("export: unsupported format %q", format)
	}
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveStatementExport(format, result, time.Since(start))
	return data, err
}

// BuildStatementPDF renders a one page bill.
func BuildStatementPDF(stmt *application.Statement) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Electricity Bill")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", stmt.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Readings: %d", stmt.RowCount))
	pdf.Ln(5)
	if len(stmt.Dropped) > 0 {
		pdf.Cell(0, 6, fmt.Sprintf("Dropped rows: %d", len(stmt.Dropped)))
		pdf.Ln(5)
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(70, 6, "Item", "1", 0, "L", false, 0, "")
	pdf.CellFormat(50, 6, "Value", "1", 0, "R", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	lines := [][2]string{
		{"Total usage (kWh)", stmt.UsageText()},
		{fmt.Sprintf("Rate (%s/kWh)", stmt.Currency), fmt.Sprintf("%.4f", stmt.Rate)},
		{fmt.Sprintf("Fixed fee (%s)", stmt.Currency), fmt.Sprintf("%.2f", stmt.FixedFee)},
		{fmt.Sprintf("Total due (%s)", stmt.Currency), stmt.AmountText()},
	}
	for _, line := range lines {
		pdf.CellFormat(70, 6, line[0], "1", 0, "L", false, 0, "")
		pdf.CellFormat(50, 6, line[1], "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildStatementXLSX renders the bill summary and the preview rows.
func BuildStatementXLSX(stmt *application.Statement) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "summary"
	usageSheet := "usage"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(usageSheet); err != nil {
		return nil, err
	}

	summary := [][2]any{
		{"Electricity Bill", nil},
		{"Generated", stmt.GeneratedAt.Format(time.RFC3339)},
		{"Total usage (kWh)", stmt.TotalUsage},
		{"Rate", stmt.Rate},
		{"Fixed fee", stmt.FixedFee},
		{"Total due", stmt.Amount},
		{"Currency", stmt.Currency},
		{"Readings", stmt.RowCount},
		{"Dropped rows", len(stmt.Dropped)},
	}
	for i, line := range summary {
		row := i + 1
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), line[0])
		if line[1] != nil {
			_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), line[1])
		}
	}

	for col, name := range stmt.Columns {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(usageSheet, cell, name)
	}
	for r, record := range stmt.Preview {
		for col, value := range record {
			cell, err := excelize.CoordinatesToCellName(col+1, r+2)
			if err != nil {
				return nil, err
			}
			_ = f.SetCellValue(usageSheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
