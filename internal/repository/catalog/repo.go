// Package catalog is the vector index adapter: it owns the collection's FT index,
// its item hashes and the KNN query path.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/recdex/internal/db"
	"github.com/kailas-cloud/recdex/internal/domain"
	"github.com/kailas-cloud/recdex/internal/domain/item"
	"github.com/kailas-cloud/recdex/internal/metrics"
)

// store is the consumer interface for the catalog (ISP).
//
//nolint:interfacebloat // catalog repo needs hash, index and search operations
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetMulti(ctx context.Context, keys []string, field string) ([]string, error)
	Del(ctx context.Context, key string) error
	DelMulti(ctx context.Context, keys []string) (int, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchCount(ctx context.Context, index string) (int, error)
}

// HNSWConfig HNSW index parameters.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

// BreakerConfig controls the circuit breaker around KNN queries.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// Config describes one collection.
type Config struct {
	Collection      string
	VectorDim       int
	HNSW            HNSWConfig
	UpsertBatchSize int
	Breaker         BreakerConfig
}

func (c *Config) applyDefaults() {
	if c.Collection == "" {
		c.Collection = domain.DefaultCollection
	}
	if c.HNSW.M <= 0 {
		c.HNSW.M = 16
	}
	if c.HNSW.EFConstruct <= 0 {
		c.HNSW.EFConstruct = 200
	}
	if c.UpsertBatchSize <= 0 {
		c.UpsertBatchSize = 100
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.OpenTimeout <= 0 {
		c.Breaker.OpenTimeout = 30 * time.Second
	}
}

// Repo implements the vector index adapter over a Redis/Valkey FT index.
type Repo struct {
	store   store
	cfg     Config
	breaker *gobreaker.CircuitBreaker[*db.SearchResult]
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a catalog repository for one collection.
func New(s store, cfg Config, logger *zap.Logger) *Repo {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Repo{store: s, cfg: cfg, logger: logger, now: time.Now}
	r.breaker = gobreaker.NewCircuitBreaker[*db.SearchResult](gobreaker.Settings{
		Name:        "index:" + cfg.Collection,
		MaxRequests: 1,
		Timeout:     cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			// a caller giving up is not an index fault
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("index circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.IndexBreakerState.WithLabelValues(cfg.Collection).Set(float64(to))
		},
	})
	return r
}

// Collection returns the collection name.
func (r *Repo) Collection() string { return r.cfg.Collection }

// OpenOrCreate makes sure the collection metadata and its FT index exist.
// An existing collection must use the cosine metric. An index without metadata is adopted.
func (r *Repo) OpenOrCreate(ctx context.Context) error {
	name := r.cfg.Collection
	mk := metaKey(name)

	meta, err := r.store.HGetAll(ctx, mk)
	if err != nil {
		return fmt.Errorf("read collection %s meta: %w", name, err)
	}

	indexDef, err := buildIndex(name, r.cfg.VectorDim, r.cfg.HNSW)
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}

	if len(meta) > 0 {
		if err := r.checkMeta(meta); err != nil {
			return err
		}
	}

	exists, err := r.store.IndexExists(ctx, indexDef.Name)
	if err != nil {
		return fmt.Errorf("check index %s: %w", indexDef.Name, err)
	}

	switch {
	case len(meta) > 0 && exists:
		return nil
	case len(meta) > 0:
		// metadata survived but the index was dropped: rebuild it
		if err := r.store.CreateIndex(ctx, indexDef); err != nil && !errors.Is(err, db.ErrIndexExists) {
			return fmt.Errorf("create index %s: %w", indexDef.Name, err)
		}
		return nil
	}

	if err := r.store.HSet(ctx, mk, metaFields(name, r.cfg.VectorDim, r.now())); err != nil {
		return fmt.Errorf("hset collection %s meta: %w", name, err)
	}
	if exists {
		r.logger.Info("adopted existing index without metadata", zap.String("collection", name))
		return nil
	}

	// FT.CREATE, rollback HSET on error
	if err := r.store.CreateIndex(ctx, indexDef); err != nil {
		if errors.Is(err, db.ErrIndexExists) {
			return nil
		}
		cleanupErr := r.store.Del(ctx, mk)
		return errors.Join(fmt.Errorf("create index %s: %w", indexDef.Name, err), cleanupErr)
	}

	r.logger.Info("created collection",
		zap.String("collection", name),
		zap.Int("vector_dim", r.cfg.VectorDim),
	)
	return nil
}

func (r *Repo) checkMeta(meta map[string]string) error {
	metric := meta["distance_metric"]
	if !strings.EqualFold(metric, string(db.DistanceCosine)) {
		return fmt.Errorf("%w: collection %s uses %q, want %s",
			domain.ErrMetricMismatch, r.cfg.Collection, metric, db.DistanceCosine)
	}
	if dimStr := meta["vector_dim"]; dimStr != "" {
		if dim, err := strconv.Atoi(dimStr); err == nil && dim != r.cfg.VectorDim {
			return fmt.Errorf("collection %s has vector_dim %d, configured %d", r.cfg.Collection, dim, r.cfg.VectorDim)
		}
	}
	return nil
}

// Reconcile makes the stored item set equal to docs: stored IDs missing from docs are
// deleted, then every document is written in full. Running it twice with the same
// input leaves the same state. Readers may observe intermediate states.
func (r *Repo) Reconcile(ctx context.Context, docs []item.Document) (item.ReconcileStats, error) {
	var stats item.ReconcileStats
	prefix := itemPrefix(r.cfg.Collection)

	stored, err := r.store.Scan(ctx, prefix+"*")
	if err != nil {
		return stats, &domain.ReconcileError{Stage: domain.StageScan, Err: err}
	}

	wanted := make(map[string]struct{}, len(docs))
	for i := range docs {
		wanted[itemKey(r.cfg.Collection, docs[i].Item.ID)] = struct{}{}
	}

	var stale []string
	for _, key := range stored {
		if _, ok := wanted[key]; !ok {
			stale = append(stale, key)
		}
	}

	for chunk := range slices.Chunk(stale, r.cfg.UpsertBatchSize) {
		n, err := r.store.DelMulti(ctx, chunk)
		if err != nil {
			return stats, &domain.ReconcileError{Stage: domain.StageDelete, Deleted: stats.Deleted, Err: err}
		}
		stats.Deleted += n
	}

	batch := make([]db.HashSetItem, 0, min(len(docs), r.cfg.UpsertBatchSize))
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := r.store.HSetMulti(ctx, batch); err != nil {
			return err
		}
		stats.Upserted += len(batch)
		batch = batch[:0]
		return nil
	}

	for i := range docs {
		fields, err := buildHashFields(&docs[i])
		if err != nil {
			return stats, &domain.ReconcileError{
				Stage: domain.StageUpsert, Deleted: stats.Deleted, Upserted: stats.Upserted,
				Err: fmt.Errorf("encode item %s: %w", docs[i].Item.ID, err),
			}
		}
		batch = append(batch, db.HashSetItem{Key: itemKey(r.cfg.Collection, docs[i].Item.ID), Fields: fields})
		if len(batch) >= r.cfg.UpsertBatchSize {
			if err := flush(); err != nil {
				return stats, &domain.ReconcileError{Stage: domain.StageUpsert, Deleted: stats.Deleted, Upserted: stats.Upserted, Err: err}
			}
		}
	}
	if err := flush(); err != nil {
		return stats, &domain.ReconcileError{Stage: domain.StageUpsert, Deleted: stats.Deleted, Upserted: stats.Upserted, Err: err}
	}

	return stats, nil
}

// QueryNearest returns up to k candidates in ascending cosine distance.
// Any store failure, and an open breaker, surfaces as domain.ErrIndexUnavailable.
func (r *Repo) QueryNearest(ctx context.Context, vector []float32, k int) ([]item.Candidate, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	start := time.Now()
	res, err := r.breaker.Execute(func() (*db.SearchResult, error) {
		return r.store.SearchKNN(ctx, &db.KNNQuery{
			IndexName:    indexName(r.cfg.Collection),
			VectorField:  fieldVector,
			Vector:       vector,
			K:            k,
			ReturnFields: metadataFields,
		})
	})
	metrics.IndexQueryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: knn %s: %w", domain.ErrIndexUnavailable, r.cfg.Collection, err)
	}

	out := make([]item.Candidate, 0, len(res.Entries))
	for i := range res.Entries {
		out = append(out, candidateFromEntry(&res.Entries[i]))
	}
	return out, nil
}

// Names returns the stored item names in no particular order. Empty names are skipped.
func (r *Repo) Names(ctx context.Context) ([]string, error) {
	keys, err := r.store.Scan(ctx, itemPrefix(r.cfg.Collection)+"*")
	if err != nil {
		return nil, fmt.Errorf("%w: scan items: %w", domain.ErrIndexUnavailable, err)
	}
	if len(keys) == 0 {
		return []string{}, nil
	}

	values, err := r.store.HGetMulti(ctx, keys, item.FieldName)
	if err != nil {
		return nil, fmt.Errorf("%w: read names: %w", domain.ErrIndexUnavailable, err)
	}

	names := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			names = append(names, v)
		}
	}
	return names, nil
}

// Count returns the number of indexed items.
func (r *Repo) Count(ctx context.Context) (int, error) {
	n, err := r.store.SearchCount(ctx, indexName(r.cfg.Collection))
	if err != nil {
		return 0, fmt.Errorf("%w: count %s: %w", domain.ErrIndexUnavailable, r.cfg.Collection, err)
	}
	return n, nil
}
