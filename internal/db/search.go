package db

// DefaultVectorField is the hash field holding the embedding bytes.
const DefaultVectorField = "__vector"

// KNNQuery is the input for vector similarity search.
type KNNQuery struct {
	IndexName    string
	VectorField  string // defaults to DefaultVectorField
	Vector       []float32
	K            int
	ReturnFields []string
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single document hit from a search.
// Distance is the raw metric value reported by the index (cosine distance for COSINE).
type SearchEntry struct {
	Key      string
	Distance float64
	Fields   map[string]string
}
