package billing

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "usage.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadUsageTable(t *testing.T) {
	t.Run("normalizes header and sums readings", func(t *testing.T) {
		table, err := LoadUsageTableFile(writeCSV(t, " KWH ,Date\n1.2,2024-01-01\n0.8,2024-01-02\n"))
		require.NoError(t, err)
		assert.Equal(t, []string{"kWh", "date"}, table.Columns())
		assert.Equal(t, 2, table.Len())

		total, err := SumUsage(table, KWhColumn)
		require.NoError(t, err)
		assert.Equal(t, 2.0, total)
	})

	t.Run("drops rows that fail coercion and reports them", func(t *testing.T) {
		table, err := LoadUsageTable(strings.NewReader("kWh\n1\nabc\n\nNaN\ninf\n2.5\n\"\"\n"))
		require.NoError(t, err)
		assert.Equal(t, 2, table.Len())

		dropped := table.Dropped()
		require.Len(t, dropped, 4)
		assert.Equal(t, DroppedRow{Row: 2, Value: "abc", Reason: DropReasonNotNumeric}, dropped[0])
		assert.Equal(t, DropReasonNotFinite, dropped[1].Reason)
		assert.Equal(t, DropReasonNotFinite, dropped[2].Reason)
		assert.Equal(t, DropReasonEmpty, dropped[3].Reason)
	})

	t.Run("strips byte order mark", func(t *testing.T) {
		table, err := LoadUsageTable(strings.NewReader("\ufeffkWh\n3\n"))
		require.NoError(t, err)
		assert.True(t, table.HasColumn(KWhColumn))
	})

	t.Run("missing kWh column is a schema error", func(t *testing.T) {
		_, err := LoadUsageTableFile(writeCSV(t, "val,kw,usage\n100,1,2\n"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSchema)
		assert.Contains(t, err.Error(), "missing kWh column")
	})

	t.Run("no valid data is a schema error", func(t *testing.T) {
		_, err := LoadUsageTableFile(writeCSV(t, "kWh\nx\n"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSchema)
		assert.Contains(t, err.Error(), "no valid kWh data")
	})

	t.Run("header only is a schema error", func(t *testing.T) {
		_, err := LoadUsageTable(strings.NewReader("kWh\n"))
		assert.ErrorIs(t, err, ErrSchema)
	})

	t.Run("negative reading is a domain error", func(t *testing.T) {
		_, err := LoadUsageTable(strings.NewReader("kWh\n1\n-2\n"))
		assert.ErrorIs(t, err, ErrDomain)
		assert.Contains(t, err.Error(), "negative values found")
	})

	t.Run("missing file is a format error", func(t *testing.T) {
		_, err := LoadUsageTableFile(filepath.Join(t.TempDir(), "not_exist.csv"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrFormat)
		var pathErr *os.PathError
		assert.True(t, errors.As(err, &pathErr))
	})

	t.Run("ragged csv is a format error", func(t *testing.T) {
		_, err := LoadUsageTable(strings.NewReader("kWh,date\n1,2024-01-01,extra\n"))
		assert.ErrorIs(t, err, ErrFormat)
	})

	t.Run("short row is dropped as empty", func(t *testing.T) {
		table, err := LoadUsageTable(strings.NewReader("date,kWh\n2024-01-01,5\n2024-01-02\n2024-01-03,2\n"))
		require.NoError(t, err)
		assert.Equal(t, 2, table.Len())
		require.Len(t, table.Dropped(), 1)
		assert.Equal(t, DroppedRow{Row: 2, Value: "", Reason: DropReasonEmpty}, table.Dropped()[0])

		total, err := SumUsage(table, KWhColumn)
		require.NoError(t, err)
		assert.Equal(t, 7.0, total)
	})

	t.Run("empty input is a format error", func(t *testing.T) {
		_, err := LoadUsageTable(strings.NewReader(""))
		assert.ErrorIs(t, err, ErrFormat)
	})
}

func TestLoadUsageTableFrom_RejectsNilAndBool(t *testing.T) {
	for _, src := range []any{nil, true, false, 42} {
		_, err := LoadUsageTableFrom(src)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrType)
		assert.Equal(t, KindType, KindOf(err))
	}

	_, err := LoadUsageTable(nil)
	assert.ErrorIs(t, err, ErrType)

	table, err := LoadUsageTableFrom(strings.NewReader("kwh\n5\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, table.Len())
}

func TestSumUsage(t *testing.T) {
	t.Run("sums readings", func(t *testing.T) {
		total, err := SumUsage(NewReadingsTable(1.2, 0.8), "")
		require.NoError(t, err)
		assert.Equal(t, 2.0, total)
	})

	t.Run("rounds to six digits", func(t *testing.T) {
		total, err := SumUsage(NewReadingsTable(0.1, 0.2), KWhColumn)
		require.NoError(t, err)
		assert.Equal(t, 0.3, total)
	})

	t.Run("large values", func(t *testing.T) {
		total, err := SumUsage(NewReadingsTable(1_000_000), KWhColumn)
		require.NoError(t, err)
		assert.Equal(t, 1_000_000.0, total)
	})

	t.Run("negative value among valid ones", func(t *testing.T) {
		_, err := SumUsage(NewReadingsTable(1.0, -0.5), KWhColumn)
		assert.ErrorIs(t, err, ErrDomain)
		assert.Contains(t, err.Error(), "negative values found")
	})

	t.Run("non-finite total", func(t *testing.T) {
		_, err := SumUsage(NewReadingsTable(math.Inf(1)), KWhColumn)
		assert.ErrorIs(t, err, ErrDomain)

		_, err = SumUsage(NewReadingsTable(math.MaxFloat64, math.MaxFloat64), KWhColumn)
		assert.ErrorIs(t, err, ErrDomain)
	})

	t.Run("missing column", func(t *testing.T) {
		table, err := NewUsageTable([]string{"x"}, [][]string{{"1"}, {"2"}})
		require.NoError(t, err)
		_, err = SumUsage(table, KWhColumn)
		assert.ErrorIs(t, err, ErrSchema)
	})

	t.Run("custom column", func(t *testing.T) {
		table, err := NewUsageTable([]string{"meter_a", "note"}, [][]string{{"1.5", "a"}, {"2.5", "b"}})
		require.NoError(t, err)
		total, err := SumUsage(table, "meter_a")
		require.NoError(t, err)
		assert.Equal(t, 4.0, total)

		_, err = SumUsage(table, "note")
		assert.ErrorIs(t, err, ErrType)
	})

	t.Run("nil table", func(t *testing.T) {
		_, err := SumUsage(nil, KWhColumn)
		assert.ErrorIs(t, err, ErrType)
	})
}

func TestNewUsageTable_Validation(t *testing.T) {
	_, err := NewUsageTable(nil, nil)
	assert.ErrorIs(t, err, ErrSchema)

	_, err = NewUsageTable([]string{"kWh", "kWh"}, nil)
	assert.ErrorIs(t, err, ErrSchema)

	_, err = NewUsageTable([]string{"kWh"}, [][]string{{"1", "2"}})
	assert.ErrorIs(t, err, ErrFormat)
}

func TestValidateBillingInputs(t *testing.T) {
	require.NoError(t, ValidateBillingInputs(100, 0.25, 10))
	require.NoError(t, ValidateBillingInputs(0, 0, 0))
	require.NoError(t, ValidateBillingInputs(uint8(3), float32(0.5), int64(1)))

	cases := []struct {
		name  string
		args  [3]any
		kind  error
		field string
	}{
		{"nil usage", [3]any{nil, 0.25, 10}, ErrType, FieldTotalUsage},
		{"bool rate", [3]any{100, true, 10}, ErrType, FieldRate},
		{"string fee", [3]any{100, 0.25, "10"}, ErrType, FieldFixedFee},
		{"inf usage", [3]any{math.Inf(1), 0.25, 10}, ErrDomain, FieldTotalUsage},
		{"nan rate", [3]any{100, math.NaN(), 10}, ErrDomain, FieldRate},
		{"negative fee", [3]any{100, 0.25, -1}, ErrDomain, FieldFixedFee},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateBillingInputs(tc.args[0], tc.args[1], tc.args[2])
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.kind)
			assert.Contains(t, err.Error(), tc.field)
		})
	}
}

func TestValidateBillingInputs_Order(t *testing.T) {
	// type problems on a later field do not hide domain problems on an earlier one
	err := ValidateBillingInputs(-1, nil, "x")
	assert.ErrorIs(t, err, ErrDomain)
	assert.Contains(t, err.Error(), FieldTotalUsage)

	err = ValidateBillingInputs(1, "0.2", -5)
	assert.ErrorIs(t, err, ErrType)
	assert.Contains(t, err.Error(), FieldRate)
}

func TestComputeBill(t *testing.T) {
	cases := []struct {
		usage, rate, fee any
		opts             []BillOption
		want             float64
	}{
		{300, 0.25, 10, nil, 85.0},
		{200, 0.20, 0, nil, 40.0},
		{0, 0.25, 10, nil, 10},
		{500, 0, 50, nil, 50},
		{1000, 0.25, 0, nil, 250},
		{100, 0.25, 10, []BillOption{WithRoundingDigits(-1)}, 35.0},
		{10, 0.333, 0, []BillOption{WithRoundingDigits(1)}, 3.3},
	}
	for _, tc := range cases {
		got, err := ComputeBill(tc.usage, tc.rate, tc.fee, tc.opts...)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestComputeBill_WithoutRounding(t *testing.T) {
	usage, rate := 10.0, 0.333
	got, err := ComputeBill(usage, rate, 0.0, WithoutRounding())
	require.NoError(t, err)
	assert.Equal(t, usage*rate, got)
}

func TestComputeBill_RejectsEachParameter(t *testing.T) {
	bad := []any{-1, math.Inf(1), math.NaN(), true, nil, "100"}
	for pos := 0; pos < 3; pos++ {
		for _, v := range bad {
			args := [3]any{100, 0.25, 10}
			args[pos] = v
			_, err := ComputeBill(args[0], args[1], args[2])
			require.Errorf(t, err, "position %d value %v", pos, v)
			kind := KindOf(err)
			assert.True(t, kind == KindType || kind == KindDomain)
		}
	}
}

func TestComputeBill_Idempotent(t *testing.T) {
	first, err := ComputeBill(123.456, 0.17, 9.99)
	require.NoError(t, err)
	second, err := ComputeBill(123.456, 0.17, 9.99)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRound(t *testing.T) {
	assert.Equal(t, 0.12, Round(0.125, 2))
	assert.Equal(t, 40.0, Round(35, -1))
	// decimal form, not the binary value just below 2.675
	assert.Equal(t, 2.68, Round(2.675, 2))
	assert.Equal(t, 2.62, Round(2.625, 2))
	assert.True(t, math.IsInf(Round(math.Inf(1), 2), 1))
}

func TestError_Format(t *testing.T) {
	err := formatError("CSV read failed", errors.New("boom"))
	assert.Equal(t, "billing: CSV read failed: boom", err.Error())
	assert.Equal(t, "format", KindOf(err).String())
	assert.Equal(t, Kind(0), KindOf(errors.New("other")))
}
