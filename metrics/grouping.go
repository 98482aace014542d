package metrics

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STABLE KEYED ACCUMULATOR
// =============================================================================

// Bucket is one accumulated group.
type Bucket[K comparable] struct {
	Key   K
	Hours decimal.Decimal
}

// Grouper accumulates hours under comparable keys while preserving first
// insertion order, so a breakdown derived from it is deterministic without
// depending on map iteration.
type Grouper[K comparable] struct {
	index   map[K]int
	buckets []Bucket[K]
}

func NewGrouper[K comparable]() *Grouper[K] {
	return &Grouper[K]{index: make(map[K]int)}
}

// Add accumulates hours under key.
func (g *Grouper[K]) Add(key K, hours decimal.Decimal) {
	if i, ok := g.index[key]; ok {
		g.buckets[i].Hours = g.buckets[i].Hours.Add(hours)
		return
	}
	g.index[key] = len(g.buckets)
	g.buckets = append(g.buckets, Bucket[K]{Key: key, Hours: hours})
}

// Buckets returns the groups in first-insertion order.
func (g *Grouper[K]) Buckets() []Bucket[K] {
	return g.buckets
}

// SortedByHoursDesc returns the groups ordered by hours descending. The sort
// is stable, so equal-hour groups keep insertion order.
func (g *Grouper[K]) SortedByHoursDesc() []Bucket[K] {
	out := make([]Bucket[K], len(g.buckets))
	copy(out, g.buckets)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Hours.GreaterThan(out[j].Hours)
	})
	return out
}

// Total sums every bucket's hours.
func (g *Grouper[K]) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, b := range g.buckets {
		sum = sum.Add(b.Hours)
	}
	return sum
}
