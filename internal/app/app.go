// Package app is the composition root shared by the recdex binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recdex/internal/config"
	dbRedis "github.com/kailas-cloud/recdex/internal/db/redis"
	"github.com/kailas-cloud/recdex/internal/domain"
	"github.com/kailas-cloud/recdex/internal/metrics"
	"github.com/kailas-cloud/recdex/internal/repository/catalog"
	"github.com/kailas-cloud/recdex/internal/repository/embcache"
	openaiEmb "github.com/kailas-cloud/recdex/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/recdex/internal/usecase/embedding"
)

// Deps are the long-lived components both binaries need.
type Deps struct {
	Store         *dbRedis.Store
	Catalog       *catalog.Repo
	Provider      *openaiEmb.Embedder
	DocEmbedder   domain.Embedder
	QueryEmbedder domain.Embedder
}

// Close releases the store connection.
func (d *Deps) Close() {
	if d.Store != nil {
		d.Store.Close()
	}
}

// Build connects to the store, registers metrics, assembles the embedder chains and opens
// the catalog collection.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Deps, error) {
	// Valkey and Redis speak the same protocol and search commands; one rueidis store serves both.
	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s store: %w", cfg.Database.Driver, err)
	}

	readiness := time.Duration(cfg.Database.ReadinessTimeout) * time.Second
	if err := store.WaitForReady(ctx, readiness); err != nil {
		store.Close()
		return nil, fmt.Errorf("database not ready: %w", err)
	}
	logger.Info("Connected to database",
		zap.String("driver", cfg.Database.Driver),
		zap.Strings("addrs", cfg.Database.Addrs),
	)

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterServiceMetrics()

	vec := cfg.Embedding.Vectorizer
	provider := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:         cfg.Embedding.Provider.APIKey,
		BaseURL:        cfg.Embedding.Provider.BaseURL,
		Model:          vec.Model,
		Dimensions:     vec.Dimensions,
		SendDimensions: vec.SendDimensions,
		Provider:       cfg.Embedding.Provider.Name,
		Logger:         logger,
	})
	deps := &Deps{
		Store:         store,
		Provider:      provider,
		DocEmbedder:   buildEmbedder(provider, cfg.Embedding, vec.DocumentInstruction, store, logger),
		QueryEmbedder: buildEmbedder(provider, cfg.Embedding, vec.QueryInstruction, store, logger),
	}
	logger.Info("Embedders created",
		zap.String("provider", cfg.Embedding.Provider.Name),
		zap.String("model", vec.Model),
		zap.Int("dimensions", vec.Dimensions),
		zap.Bool("cache", cfg.Embedding.Cache.Enabled),
	)

	deps.Catalog = catalog.New(store, catalog.Config{
		Collection: cfg.Index.Collection,
		VectorDim:  vec.Dimensions,
		HNSW: catalog.HNSWConfig{
			M:           cfg.Index.HNSWM,
			EFConstruct: cfg.Index.HNSWEFConstruct,
		},
		UpsertBatchSize: cfg.Index.UpsertBatchSize,
		Breaker: catalog.BreakerConfig{
			FailureThreshold: cfg.Index.BreakerFailures,
			OpenTimeout:      time.Duration(cfg.Index.BreakerOpenSec) * time.Second,
		},
	}, logger)
	if err := deps.Catalog.OpenOrCreate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("open collection %s: %w", cfg.Index.Collection, err)
	}

	return deps, nil
}

// buildEmbedder assembles the decorator chain:
// OpenAI -> Cached -> Instrumented -> Normalizing -> Instruction.
func buildEmbedder(
	base *openaiEmb.Embedder,
	cfg config.EmbeddingConfig,
	instruction string,
	store *dbRedis.Store,
	logger *zap.Logger,
) domain.Embedder {
	vec := cfg.Vectorizer
	var embedder domain.Embedder = base
	if cfg.Cache.Enabled && store != nil {
		embedder = embcache.New(base, store, metrics.EmbeddingCacheTotal, logger,
			embcache.WithNamespace(vec.Model),
			embcache.WithTTL(cfg.Cache.CacheTTL()),
		)
	}

	var opts []embeddinguc.Option
	if vec.MaxBatchSize > 0 {
		opts = append(opts, embeddinguc.WithMaxBatchSize(vec.MaxBatchSize))
	}
	embedder = embeddinguc.NewInstrumentedEmbedder(embedder, cfg.Provider.Name, vec.Model, logger, opts...)

	if vec.Normalize {
		embedder = domain.NewNormalizingEmbedder(embedder)
	}

	// Instruction prefix is outermost so the cache key includes it
	if instruction != "" {
		return domain.NewInstructionEmbedder(embedder, instruction)
	}
	return embedder
}
