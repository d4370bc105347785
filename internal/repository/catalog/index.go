package catalog

import (
	"github.com/kailas-cloud/recdex/internal/db"
	"github.com/kailas-cloud/recdex/internal/domain/item"
)

// buildIndex describes the FT index over item hashes. Only the vector is needed for
// retrieval; type, price and sales_velocity are indexed for ad-hoc filtering from redis-cli.
func buildIndex(collection string, vectorDim int, hnsw HNSWConfig) (*db.IndexDefinition, error) {
	return db.NewIndex(indexName(collection)).
		Prefix(itemPrefix(collection)).
		Tag(item.FieldType).
		Numeric(item.FieldPrice).
		Numeric(item.FieldSalesVelocity).
		VectorHNSW(fieldVector, vectorDim, db.DistanceCosine, hnsw.M, hnsw.EFConstruct).
		Build()
}
