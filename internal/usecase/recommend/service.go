// Package recommend turns a free-text query into a ranked list of catalog items.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recdex/internal/domain"
	"github.com/kailas-cloud/recdex/internal/domain/item"
	"github.com/kailas-cloud/recdex/internal/domain/scoring"
	"github.com/kailas-cloud/recdex/internal/metrics"
)

// Outcome classifies a completed recommendation call.
type Outcome string

const (
	// OutcomeOK means at least one item was ranked.
	OutcomeOK Outcome = "ok"
	// OutcomeNoResults means the index returned no candidates.
	OutcomeNoResults Outcome = "no_results"
	// OutcomeIndexUnavailable means the index could not be queried.
	OutcomeIndexUnavailable Outcome = "index_unavailable"
)

// Defaults used when Config leaves a field at zero.
const (
	DefaultTopK       = 10
	DefaultCandidateK = 10
	DefaultPageSize   = 10
)

// Result is a ranked recommendation list and how it was produced.
type Result struct {
	Items   []item.Scored
	Outcome Outcome
}

// Config holds ranking sizes.
type Config struct {
	TopK       int
	CandidateK int
	PageSize   int
}

func (c *Config) applyDefaults() {
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.CandidateK <= 0 {
		c.CandidateK = DefaultCandidateK
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
}

// Service runs the retrieval-and-ranking pipeline.
type Service struct {
	index  Index
	embed  Embedder
	cfg    Config
	logger *zap.Logger
}

// New creates a recommendation service.
func New(index Index, embed Embedder, cfg Config, logger *zap.Logger) *Service {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{index: index, embed: embed, cfg: cfg, logger: logger}
}

// Config returns the effective ranking sizes.
func (s *Service) Config() Config { return s.cfg }

// Recommend embeds the query, fetches candidateK nearest items and ranks them
// by similarity and sales velocity, returning at most topK.
// An unavailable index is reported through Result.Outcome, not as an error.
func (s *Service) Recommend(ctx context.Context, query string, topK, candidateK int) (Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		metrics.RecommendationsTotal.WithLabelValues("error").Inc()
		return Result{}, domain.ErrInvalidQuery
	}
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	if candidateK <= 0 {
		candidateK = s.cfg.CandidateK
	}

	emb, err := s.embed.Embed(ctx, query)
	if err != nil {
		metrics.RecommendationsTotal.WithLabelValues("error").Inc()
		if errors.Is(err, domain.ErrEmbeddingFailure) {
			return Result{}, fmt.Errorf("vectorize query: %w", err)
		}
		return Result{}, fmt.Errorf("vectorize query: %w: %w", domain.ErrEmbeddingFailure, err)
	}

	candidates, err := s.index.QueryNearest(ctx, emb.Embedding, candidateK)
	if err != nil {
		if errors.Is(err, domain.ErrIndexUnavailable) {
			s.logger.Warn("Vector index unavailable, returning empty recommendations",
				zap.String("query", query), zap.Error(err))
			metrics.RecommendationsTotal.WithLabelValues(string(OutcomeIndexUnavailable)).Inc()
			return Result{Items: []item.Scored{}, Outcome: OutcomeIndexUnavailable}, nil
		}
		metrics.RecommendationsTotal.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("query nearest: %w", err)
	}

	metrics.RecommendationCandidates.Observe(float64(len(candidates)))
	if len(candidates) == 0 {
		metrics.RecommendationsTotal.WithLabelValues(string(OutcomeNoResults)).Inc()
		return Result{Items: []item.Scored{}, Outcome: OutcomeNoResults}, nil
	}

	scored := make([]item.Scored, 0, len(candidates))
	for _, c := range candidates {
		for _, f := range item.Defaulted(c.Metadata) {
			metrics.MetadataDefaultsTotal.WithLabelValues(f).Inc()
		}
		sc := item.NormalizeScored(c.Metadata)
		sc.SimilarityScore = 1 - c.Distance
		scored = append(scored, sc)
	}

	metrics.RecommendationsTotal.WithLabelValues(string(OutcomeOK)).Inc()
	return Result{
		Items:   scoring.Rank(scored, scoring.PolicyB(), topK),
		Outcome: OutcomeOK,
	}, nil
}

// Page is the query entry point of the HTTP layer: a candidate page ranked by
// Recommend, re-ranked by similarity and price, truncated to the page size.
func (s *Service) Page(ctx context.Context, query string) (Result, error) {
	res, err := s.Recommend(ctx, query, s.cfg.CandidateK, s.cfg.CandidateK)
	if err != nil {
		return Result{}, err
	}
	res.Items = scoring.Rank(res.Items, scoring.PolicyA(), s.cfg.PageSize)
	return res, nil
}
