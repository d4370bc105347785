// Package item holds the catalog entity and the normalizer that turns untyped
// stored or source records into complete items.
package item

import "strings"

// UnknownID marks an item whose identifier could not be recovered.
const UnknownID = "-1"

// Item is a catalog product.
type Item struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Type          string   `json:"type"`
	Effects       []string `json:"effects"`
	Ingredients   []string `json:"ingredients"`
	Price         float64  `json:"price"`
	SalesVelocity float64  `json:"sales_velocity"`
}

// Scored is an Item ranked against a query. Never persisted.
type Scored struct {
	Item
	SimilarityScore float64 `json:"similarity_score"`
	WeightedScore   float64 `json:"weighted_score"`
}

// IndexedText builds the text that is embedded for an item.
// Field order is fixed so re-ingestion reproduces the same embeddings.
func IndexedText(it Item) string {
	return strings.Join([]string{
		it.Description,
		strings.Join(it.Effects, " "),
		strings.Join(it.Ingredients, " "),
		it.Type,
	}, " ")
}
