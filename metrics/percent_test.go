package metrics_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgpulse/contrib-engine/metrics"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// PERCENTAGE SUM INVARIANT
// =============================================================================

func TestPercentages_SumExactlyHundred(t *testing.T) {
	// GIVEN: hour distributions that produce recurring-decimal percentages
	// WHEN: splitting
	// THEN: the percents sum to exactly 100.00 every time

	cases := [][]decimal.Decimal{
		{d("1"), d("1"), d("1")},              // 33.33 x3 -> last gets +0.01
		{d("10"), d("20"), d("30"), d("40")},  // exact, no residual
		{d("1"), d("2"), d("4")},              // 14.29 + 28.57 + 57.14
		{d("0.01"), d("0.01"), d("0.01")},     // tiny values
		{d("7"), d("11"), d("13"), d("17")},   // primes
		{d("160"), d("0"), d("3.5")},          // zero item in the middle
	}

	for _, hours := range cases {
		total := decimal.Zero
		for _, h := range hours {
			total = total.Add(h)
		}

		percents := metrics.Percentages(hours, total)
		require.Len(t, percents, len(hours))

		sum := decimal.Zero
		for _, p := range percents {
			sum = sum.Add(p)
		}
		assert.True(t, sum.Equal(d("100.00")), "hours %v: sum %s", hours, sum)
	}
}

func TestPercentages_ThirdsResidualGoesToLastItem(t *testing.T) {
	percents := metrics.Percentages([]decimal.Decimal{d("1"), d("1"), d("1")}, d("3"))
	assert.True(t, percents[0].Equal(d("33.33")))
	assert.True(t, percents[1].Equal(d("33.33")))
	assert.True(t, percents[2].Equal(d("33.34")))
}

func TestPercentages_ZeroTotalDegeneracy(t *testing.T) {
	// No division by zero, every percent exactly 0.00.
	percents := metrics.Percentages([]decimal.Decimal{d("0"), d("0")}, decimal.Zero)
	require.Len(t, percents, 2)
	for _, p := range percents {
		assert.True(t, p.IsZero())
	}
}

func TestPercentages_EmptyInput(t *testing.T) {
	assert.Empty(t, metrics.Percentages(nil, d("100")))
}

func TestPercentages_ZeroHourItemStaysZero(t *testing.T) {
	percents := metrics.Percentages([]decimal.Decimal{d("50"), d("0"), d("50")}, d("100"))
	assert.True(t, percents[0].Equal(d("50.00")))
	assert.True(t, percents[1].IsZero())
	assert.True(t, percents[2].Equal(d("50.00")))
}

// =============================================================================
// GROUPER
// =============================================================================

func TestGrouper_PreservesInsertionOrderAndAccumulates(t *testing.T) {
	g := metrics.NewGrouper[string]()
	g.Add("b", d("1"))
	g.Add("a", d("2"))
	g.Add("b", d("3"))

	buckets := g.Buckets()
	require.Len(t, buckets, 2)
	assert.Equal(t, "b", buckets[0].Key)
	assert.True(t, buckets[0].Hours.Equal(d("4")))
	assert.Equal(t, "a", buckets[1].Key)

	assert.True(t, g.Total().Equal(d("6")))
}

func TestGrouper_SortedByHoursDescIsStable(t *testing.T) {
	g := metrics.NewGrouper[string]()
	g.Add("first", d("5"))
	g.Add("second", d("5"))
	g.Add("big", d("9"))

	sorted := g.SortedByHoursDesc()
	require.Len(t, sorted, 3)
	assert.Equal(t, "big", sorted[0].Key)
	assert.Equal(t, "first", sorted[1].Key)
	assert.Equal(t, "second", sorted[2].Key)
}
