// Package aggregate is the single summation point for settlement
// totals. Both the generator and the consolidation engine go through
// Sum, so a consolidated total always equals the sum of its
// constituent totals.
package aggregate

// Item is one summable unit: a ledger line at generation time, or a
// whole individual protocol at consolidation time.
type Item struct {
	Amount int64
	Count  int64
}

// Totals is the aggregation result.
type Totals struct {
	Amount int64
	Count  int64
}

// Sum is pure and deterministic; it never touches storage.
func Sum(items []Item) Totals {
	var t Totals
	for _, item := range items {
		t.Amount += item.Amount
		t.Count += item.Count
	}
	return t
}
