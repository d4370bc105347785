package item

// Candidate is a raw vector index hit: untyped stored metadata plus the cosine distance.
type Candidate struct {
	Metadata map[string]any
	Distance float64
}

// Document is an item ready to be written to the vector index.
type Document struct {
	Item   Item
	Text   string
	Vector []float32
}

// ReconcileStats counts what a reconcile pass applied.
type ReconcileStats struct {
	Deleted  int
	Upserted int
}
