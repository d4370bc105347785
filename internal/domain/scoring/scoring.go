// Package scoring ranks candidate items by a composite of similarity and business signals.
//
// Two policies exist and are deliberately kept apart: SimilarityPrice re-ranks a
// fetched page using absolute similarity and inverse price, SimilaritySales
// normalizes similarity and sales velocity against the candidate set itself.
package scoring

import (
	"slices"

	"github.com/kailas-cloud/recdex/internal/domain/item"
)

// Policy assigns WeightedScore to every candidate in place.
type Policy interface {
	Name() string
	Apply(items []item.Scored)
}

// SimilarityPrice scores sim*SimilarityWeight + (1/price)*PriceWeight.
// A price of exactly zero is treated as 1.
type SimilarityPrice struct {
	SimilarityWeight float64
	PriceWeight      float64
}

// PolicyA returns the 0.8 similarity / 0.2 inverse-price policy.
func PolicyA() SimilarityPrice {
	return SimilarityPrice{SimilarityWeight: 0.8, PriceWeight: 0.2}
}

// Name implements Policy.
func (SimilarityPrice) Name() string { return "similarity_price" }

// Apply implements Policy.
func (p SimilarityPrice) Apply(items []item.Scored) {
	for i := range items {
		price := items[i].Price
		if price == 0 {
			price = 1
		}
		items[i].WeightedScore = p.SimilarityWeight*items[i].SimilarityScore + p.PriceWeight*(1/price)
	}
}

// SimilaritySales scores similarity and sales velocity, each divided by its maximum
// over the candidate set. The same item can score differently in another set.
type SimilaritySales struct {
	SimilarityWeight float64
	SalesWeight      float64
}

// PolicyB returns the 0.7 similarity / 0.3 sales policy.
func PolicyB() SimilaritySales {
	return SimilaritySales{SimilarityWeight: 0.7, SalesWeight: 0.3}
}

// Name implements Policy.
func (SimilaritySales) Name() string { return "similarity_sales" }

// Apply implements Policy.
func (p SimilaritySales) Apply(items []item.Scored) {
	if len(items) == 0 {
		return
	}

	maxSim := items[0].SimilarityScore
	maxSales := items[0].SalesVelocity
	for _, it := range items[1:] {
		maxSim = max(maxSim, it.SimilarityScore)
		maxSales = max(maxSales, it.SalesVelocity)
	}
	if maxSim == 0 {
		maxSim = 1
	}
	if maxSales == 0 {
		maxSales = 1
	}

	for i := range items {
		simNorm := items[i].SimilarityScore / maxSim
		salesNorm := items[i].SalesVelocity / maxSales
		items[i].WeightedScore = p.SimilarityWeight*simNorm + p.SalesWeight*salesNorm
	}
}

// Rank applies p, stable-sorts by WeightedScore descending and keeps at most limit items.
// Equal scores keep their upstream order. limit <= 0 keeps everything.
func Rank(items []item.Scored, p Policy, limit int) []item.Scored {
	if len(items) == 0 {
		return []item.Scored{}
	}

	p.Apply(items)
	slices.SortStableFunc(items, func(a, b item.Scored) int {
		switch {
		case a.WeightedScore > b.WeightedScore:
			return -1
		case a.WeightedScore < b.WeightedScore:
			return 1
		default:
			return 0
		}
	})

	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
