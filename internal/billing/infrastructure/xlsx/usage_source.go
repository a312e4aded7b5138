package xlsx

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	billing "fixedrate-billing/internal/billing/domain"
)

// UsageSource reads usage readings from the first sheet of a workbook. The
// first row is the header; cleaning follows billing.BuildUsageTable.
type UsageSource struct {
	r     io.Reader
	sheet string
}

// NewUsageSource constructs a workbook source. An empty sheet selects the
// first sheet of the workbook.
func NewUsageSource(r io.Reader, sheet string) (*UsageSource, error) {
	if r == nil {
		return nil, errors.New("xlsx usage source: nil reader")
	}
	return &UsageSource{r: r, sheet: sheet}, nil
}

// LoadUsage parses the workbook. Cells are read as raw values so that
// number formats such as #,##0 do not hide the reading.
func (s *UsageSource) LoadUsage(_ context.Context) (*billing.UsageTable, error) {
	f, err := excelize.OpenReader(s.r)
	if err != nil {
		return nil, &billing.Error{Kind: billing.KindFormat, Msg: "XLSX read failed", Err: err}
	}
	defer f.Close()

	sheet := s.sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, &billing.Error{Kind: billing.KindFormat, Msg: "XLSX read failed: workbook has no sheets"}
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, &billing.Error{Kind: billing.KindFormat, Msg: fmt.Sprintf("XLSX read failed: sheet %q", sheet), Err: err}
	}
	return billing.BuildUsageTable(rows)
}
