package recommend

import (
	"context"

	"github.com/kailas-cloud/recdex/internal/domain"
	"github.com/kailas-cloud/recdex/internal/domain/item"
)

// Index is the vector index read contract.
type Index interface {
	QueryNearest(ctx context.Context, vector []float32, k int) ([]item.Candidate, error)
}

// Embedder vectorizes the query text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
