// Package ingest validates catalog source records, embeds them and reconciles
// the vector index to the latest source.
//
// A Service is a single writer: runs against the same collection must not overlap.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/recdex/internal/domain"
	"github.com/kailas-cloud/recdex/internal/domain/item"
	"github.com/kailas-cloud/recdex/internal/metrics"
)

// Defaults used when Config leaves a field at zero.
const (
	DefaultEmbedBatchSize = 32
	DefaultLookbackDays   = 30
)

// Config tunes the embedding fan-out.
type Config struct {
	EmbedBatchSize int
	// Concurrency is the worker pool size; zero means runtime.NumCPU()/2 (at least 1).
	Concurrency int
	// RequestsPerSecond throttles embedding requests; zero disables throttling.
	RequestsPerSecond float64
	Burst             int
}

func (c *Config) applyDefaults() {
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = DefaultEmbedBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = max(runtime.NumCPU()/2, 1)
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
}

// Report summarizes a completed ingestion run.
type Report struct {
	Items    int
	Deleted  int
	Upserted int
	Duration time.Duration
}

// Service runs ingestion.
type Service struct {
	index    Index
	embed    Embedder
	cfg      Config
	pool     *ants.Pool
	limiter  *rate.Limiter
	validate *validator.Validate
	logger   *zap.Logger
}

// New creates an ingestion service. Call Release when done.
func New(index Index, embed Embedder, cfg Config, logger *zap.Logger) (*Service, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	validate, err := newRecordValidator()
	if err != nil {
		return nil, err
	}

	pool, err := ants.NewPool(cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("create embed pool: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, cfg.Burst)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}

	return &Service{
		index:    index,
		embed:    embed,
		cfg:      cfg,
		pool:     pool,
		limiter:  limiter,
		validate: validate,
		logger:   logger,
	}, nil
}

// Release frees the worker pool. The service must not be used afterwards.
func (s *Service) Release() {
	s.pool.Release()
}

// Ingest validates records, computes sales velocity over lookbackDays, embeds
// every item and reconciles the index to exactly this record set.
// Nothing is written unless validation and embedding both succeed.
func (s *Service) Ingest(ctx context.Context, records []map[string]any, lookbackDays int) (Report, error) {
	start := time.Now()

	if lookbackDays <= 0 {
		metrics.IngestRunsTotal.WithLabelValues("validation_error").Inc()
		return Report{}, &domain.ValidationError{Issues: []domain.ValidationIssue{{
			Index:  -1,
			Field:  "lookback_days",
			Reason: fmt.Sprintf("must be positive, got %d", lookbackDays),
		}}}
	}

	if verr := validateRecords(s.validate, records); verr != nil {
		metrics.IngestRunsTotal.WithLabelValues("validation_error").Inc()
		metrics.IngestItemsTotal.WithLabelValues("rejected").Add(float64(len(records)))
		s.logger.Error("Catalog source rejected",
			zap.Int("records", len(records)),
			zap.Int("issues", len(verr.Issues)),
			zap.Error(verr),
		)
		return Report{}, verr
	}
	if len(records) == 0 {
		s.logger.Warn("Catalog source is empty, every indexed item will be removed")
	}

	docs := make([]item.Document, len(records))
	for i, rec := range records {
		it := item.Normalize(rec, item.WriteDefaults)
		it.SalesVelocity = salesVelocity(rec, lookbackDays)
		docs[i] = item.Document{Item: it, Text: item.IndexedText(it)}
	}

	if err := s.embedAll(ctx, docs); err != nil {
		metrics.IngestRunsTotal.WithLabelValues("embedding_error").Inc()
		s.logger.Error("Embedding failed, nothing written", zap.Error(err))
		return Report{}, err
	}

	stats, err := s.index.Reconcile(ctx, docs)
	if err != nil {
		metrics.IngestRunsTotal.WithLabelValues("reconcile_error").Inc()
		fields := []zap.Field{zap.Error(err)}
		var rerr *domain.ReconcileError
		if errors.As(err, &rerr) {
			fields = append(fields,
				zap.String("stage", rerr.Stage),
				zap.Int("deleted", rerr.Deleted),
				zap.Int("upserted", rerr.Upserted),
			)
		}
		s.logger.Error("Index reconcile failed", fields...)
		return Report{}, fmt.Errorf("reconcile: %w", err)
	}

	metrics.IngestRunsTotal.WithLabelValues("ok").Inc()
	metrics.IngestItemsTotal.WithLabelValues("upserted").Add(float64(stats.Upserted))
	metrics.IngestItemsTotal.WithLabelValues("deleted").Add(float64(stats.Deleted))

	report := Report{
		Items:    len(docs),
		Deleted:  stats.Deleted,
		Upserted: stats.Upserted,
		Duration: time.Since(start),
	}
	s.logger.Info("Ingestion completed",
		zap.Int("items", report.Items),
		zap.Int("deleted", report.Deleted),
		zap.Int("upserted", report.Upserted),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// embedAll fills docs[i].Vector chunk by chunk on the worker pool.
// The first failing chunk cancels the rest.
func (s *Service) embedAll(ctx context.Context, docs []item.Document) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		failed   []string
	)
	fail := func(lo, hi int, err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		for _, d := range docs[lo:hi] {
			failed = append(failed, d.Item.ID)
		}
	}

	for lo := 0; lo < len(docs); lo += s.cfg.EmbedBatchSize {
		hi := min(lo+s.cfg.EmbedBatchSize, len(docs))
		wg.Add(1)
		err := s.pool.Submit(func() {
			defer wg.Done()
			if err := s.embedChunk(ctx, docs[lo:hi]); err != nil {
				fail(lo, hi, err)
			}
		})
		if err != nil {
			wg.Done()
			fail(lo, hi, fmt.Errorf("submit embed chunk: %w", err))
		}
	}
	wg.Wait()

	if firstErr != nil {
		return &domain.EmbeddingError{ItemIDs: failed, Err: firstErr}
	}
	return nil
}

func (s *Service) embedChunk(ctx context.Context, chunk []item.Document) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("embed throttle: %w", err)
	}

	texts := make([]string, len(chunk))
	for i, d := range chunk {
		texts[i] = d.Text
	}

	res, err := domain.EmbedBatch(ctx, s.embed, texts)
	if err != nil {
		return fmt.Errorf("embed chunk: %w", err)
	}
	if len(res.Embeddings) != len(chunk) {
		return fmt.Errorf("embed chunk: got %d vectors for %d items", len(res.Embeddings), len(chunk))
	}
	for i := range chunk {
		chunk[i].Vector = res.Embeddings[i]
	}
	return nil
}

// salesVelocity is units sold per day over the lookback window; records
// without a usable sales_data.units_sold sell at 0.
func salesVelocity(rec map[string]any, lookbackDays int) float64 {
	sales, ok := rec["sales_data"].(map[string]any)
	if !ok {
		return 0
	}
	units, ok := item.ToFloat(sales["units_sold"])
	if !ok || units <= 0 {
		return 0
	}
	return units / float64(lookbackDays)
}
