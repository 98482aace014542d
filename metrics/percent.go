/*
Package metrics derives percentage breakdowns of contribution hours at four
levels: org, department, pod, employee.

PURPOSE:
  All four levels ask the same question over a different grouping key and
  hours total: "how is this total split?". The split always goes through one
  percentage routine whose invariant is that non-degenerate breakdowns sum
  to exactly 100.00.

KEY CONCEPTS:
  - Percentages: per-item round-half-up with the rounding residual folded
    into the last item, so sums never drift off 100.00
  - grouping.go: a stable keyed accumulator replacing ad-hoc nested maps,
    so grouping order is deterministic and testable
  - calculator.go: the four level calculators over the contribution store

SEE ALSO:
  - contrib/store.go: TotalHoursBy* contracts (zero, never absent)
*/
package metrics

import "github.com/shopspring/decimal"

var hundred = decimal.New(100, 0)

// Percentages splits total across the given hours, rounded half-up to two
// decimals. Guarantees:
//   - zero total: every percent is exactly 0.00, no division happens
//   - otherwise: the percents sum to exactly 100.00, achieved by adding the
//     rounding residual to the last item after independent rounding
func Percentages(hours []decimal.Decimal, total decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(hours))
	if total.IsZero() {
		return out
	}

	sum := decimal.Zero
	for i, h := range hours {
		if h.IsZero() {
			continue
		}
		out[i] = h.Div(total).Mul(hundred).Round(2)
		sum = sum.Add(out[i])
	}

	if len(out) > 0 && !sum.Equal(hundred) {
		last := len(out) - 1
		out[last] = out[last].Add(hundred.Sub(sum)).Round(2)
	}
	return out
}

// percentOf is the single-value variant used for top-pod shares, where no
// sum-to-100 correction applies.
func percentOf(hours, total decimal.Decimal) decimal.Decimal {
	if total.IsZero() {
		return decimal.Zero
	}
	return hours.Div(total).Mul(hundred).Round(2)
}
