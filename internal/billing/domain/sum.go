package billing

import "math"

// SumUsage sums the named column, KWhColumn when column is empty, and
// rounds the total to UsagePrecision digits. Negative values and
// non-finite totals are rejected even for tables built with NewUsageTable.
func SumUsage(t *UsageTable, column string) (float64, error) {
	if t == nil {
		return 0, typeError("table must be a usage table")
	}
	if column == "" {
		column = KWhColumn
	}
	values, err := t.Values(column)
	if err != nil {
		return 0, err
	}
	for _, v := range values {
		if v < 0 {
			return 0, domainError("negative values found")
		}
	}
	var total float64
	for _, v := range values {
		total += v
	}
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return 0, domainError("total is not finite")
	}
	return Round(total, UsagePrecision), nil
}
