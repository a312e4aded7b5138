package billing

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Field names used in validation messages, in validation order.
const (
	FieldTotalUsage = "total_usage"
	FieldRate       = "rate"
	FieldFixedFee   = "fixed_fee"
)

// BillingInputs are validated billing parameters.
type BillingInputs struct {
	TotalUsage float64
	Rate       float64
	FixedFee   float64
}

// NewBillingInputs validates the three values in the order total usage,
// rate, fixed fee. For each value type checks run before domain checks.
func NewBillingInputs(totalUsage, rate, fixedFee any) (BillingInputs, error) {
	var in BillingInputs
	fields := []struct {
		name  string
		value any
		dst   *float64
	}{
		{FieldTotalUsage, totalUsage, &in.TotalUsage},
		{FieldRate, rate, &in.Rate},
		{FieldFixedFee, fixedFee, &in.FixedFee},
	}
	for _, f := range fields {
		v, err := number(f.name, f.value)
		if err != nil {
			return BillingInputs{}, err
		}
		*f.dst = v
	}
	return in, nil
}

// ValidateBillingInputs reports the first invalid billing parameter.
func ValidateBillingInputs(totalUsage, rate, fixedFee any) error {
	_, err := NewBillingInputs(totalUsage, rate, fixedFee)
	return err
}

func number(name string, value any) (float64, error) {
	var f float64
	switch v := value.(type) {
	case nil, bool:
		return 0, typeError(fmt.Sprintf("%s cannot be nil or bool", name))
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int8:
		f = float64(v)
	case int16:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint:
		f = float64(v)
	case uint8:
		f = float64(v)
	case uint16:
		f = float64(v)
	case uint32:
		f = float64(v)
	case uint64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, typeError(fmt.Sprintf("%s must be numeric", name))
		}
		f = parsed
	case decimal.Decimal:
		f = v.InexactFloat64()
	default:
		return 0, typeError(fmt.Sprintf("%s must be numeric", name))
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, domainError(fmt.Sprintf("%s must be finite", name))
	}
	if f < 0 {
		return 0, domainError(fmt.Sprintf("%s must be >= 0", name))
	}
	return f, nil
}
