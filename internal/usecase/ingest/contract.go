package ingest

import (
	"context"

	"github.com/kailas-cloud/recdex/internal/domain"
	"github.com/kailas-cloud/recdex/internal/domain/item"
)

// Index is the vector index write contract.
type Index interface {
	Reconcile(ctx context.Context, docs []item.Document) (item.ReconcileStats, error)
}

// Embedder vectorizes indexed item text. Implementations that also satisfy
// domain.BatchEmbedder are called once per chunk.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
