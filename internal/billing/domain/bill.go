package billing

// DefaultRoundingDigits is the rounding applied to bill amounts by default.
const DefaultRoundingDigits = 2

// BillOption configures ComputeBill.
type BillOption func(*billOptions)

type billOptions struct {
	digits int
	round  bool
}

// WithRoundingDigits rounds the amount to digits decimal places. Negative
// digits leave the amount unrounded.
func WithRoundingDigits(digits int) BillOption {
	return func(o *billOptions) {
		o.digits = digits
		o.round = digits >= 0
	}
}

// WithoutRounding returns the raw amount.
func WithoutRounding() BillOption {
	return func(o *billOptions) { o.round = false }
}

// ComputeBill validates its inputs and returns totalUsage*rate + fixedFee.
func ComputeBill(totalUsage, rate, fixedFee any, opts ...BillOption) (float64, error) {
	in, err := NewBillingInputs(totalUsage, rate, fixedFee)
	if err != nil {
		return 0, err
	}
	return in.Amount(opts...), nil
}

// Amount computes the bill for already validated inputs.
func (in BillingInputs) Amount(opts ...BillOption) float64 {
	o := billOptions{digits: DefaultRoundingDigits, round: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	amount := in.TotalUsage*in.Rate + in.FixedFee
	if !o.round {
		return amount
	}
	return Round(amount, o.digits)
}
