package core

import "github.com/shopspring/decimal"

// AllocateDiscount distributes one total discount across the lines in
// proportion to each line's gross value (quantity × unit price). The result
// is a parallel slice, one entry per line.
//
// Pure function: callers recompute it on every quantity, price, or discount
// change instead of adjusting allocations incrementally, so rounding drift
// cannot accumulate. If the lines sum to zero value, every allocation is
// zero regardless of the total discount.
func AllocateDiscount(lines []InvoiceLine, totalDiscount decimal.Decimal) []decimal.Decimal {
	allocations := make([]decimal.Decimal, len(lines))

	gross := decimal.Zero
	for _, l := range lines {
		gross = gross.Add(l.Gross())
	}
	if gross.IsZero() {
		return allocations
	}

	for i, l := range lines {
		allocations[i] = l.Gross().Mul(totalDiscount).Div(gross)
	}
	return allocations
}
