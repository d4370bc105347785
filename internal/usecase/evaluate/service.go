// Package evaluate runs a fixed query set through the recommendation pipeline
// and exports the ranked rows for offline review.
package evaluate

import (
	"cmp"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recdex/internal/domain/item"
	"github.com/kailas-cloud/recdex/internal/domain/scoring"
	"github.com/kailas-cloud/recdex/internal/usecase/recommend"
)

// DefaultQueries mixes general, specific and edge-case queries.
var DefaultQueries = []string{
	"relaxation", "energy", "focus", "detox", "skin health",
	"stress relief", "sleep", "digestive health", "mood enhancement",
	"weight management", "immunity", "anti-inflammatory",
	"boost immunity", "enhance focus", "improve sleep",
}

// Recommender is the pipeline under evaluation.
type Recommender interface {
	Recommend(ctx context.Context, query string, topK, candidateK int) (recommend.Result, error)
}

// Row is one recommended item for one query.
type Row struct {
	Query string
	item.Scored
}

var header = []string{
	"query", "product_id", "product_name", "description", "price",
	"sales_velocity", "similarity_score", "weighted_score",
}

// Service runs evaluation passes.
type Service struct {
	rec    Recommender
	logger *zap.Logger
}

// New creates an evaluation service.
func New(rec Recommender, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{rec: rec, logger: logger}
}

// Run recommends for every query (DefaultQueries when empty) and returns all
// rows of the run re-ranked together by similarity and price.
func (s *Service) Run(ctx context.Context, queries []string) ([]Row, error) {
	if len(queries) == 0 {
		queries = DefaultQueries
	}

	var rows []Row
	for _, q := range queries {
		res, err := s.rec.Recommend(ctx, q, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("evaluate %q: %w", q, err)
		}
		if res.Outcome != recommend.OutcomeOK {
			s.logger.Warn("Query produced no recommendations",
				zap.String("query", q), zap.String("outcome", string(res.Outcome)))
			continue
		}
		for _, it := range res.Items {
			rows = append(rows, Row{Query: q, Scored: it})
		}
	}

	rerank(rows)
	s.logger.Info("Evaluation completed", zap.Int("queries", len(queries)), zap.Int("rows", len(rows)))
	return rows, nil
}

// rerank scores every row of the run under the similarity-price policy and
// sorts descending; ties keep query order.
func rerank(rows []Row) {
	if len(rows) == 0 {
		return
	}
	flat := make([]item.Scored, len(rows))
	for i := range rows {
		flat[i] = rows[i].Scored
	}
	scoring.PolicyA().Apply(flat)
	for i := range rows {
		rows[i].WeightedScore = flat[i].WeightedScore
	}
	slices.SortStableFunc(rows, func(a, b Row) int {
		return cmp.Compare(b.WeightedScore, a.WeightedScore)
	})
}

// WriteCSV writes rows with a header line.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range rows {
		rec := []string{
			r.Query,
			r.ID,
			r.Name,
			strings.TrimSpace(r.Description),
			formatFloat(r.Price),
			formatFloat(r.SalesVelocity),
			formatFloat(r.SimilarityScore),
			formatFloat(r.WeightedScore),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
