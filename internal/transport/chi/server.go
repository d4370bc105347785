// Package chi is the HTTP boundary of the recommendation service.
package chi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/recdex/internal/domain"
	"github.com/kailas-cloud/recdex/internal/domain/item"
	logpkg "github.com/kailas-cloud/recdex/internal/logger"
	"github.com/kailas-cloud/recdex/internal/repository/source"
	healthuc "github.com/kailas-cloud/recdex/internal/usecase/health"
	"github.com/kailas-cloud/recdex/internal/usecase/recommend"
)

// DefaultRecommendTimeout bounds one recommendation call when Config leaves it unset.
const DefaultRecommendTimeout = 10 * time.Second

// Error codes.
const (
	ErrorCodeBadRequest       = "bad_request"
	ErrorCodeInvalidQuery     = "invalid_query"
	ErrorCodeRateLimited      = "rate_limited"
	ErrorCodeIndexUnavailable = "index_unavailable"
	ErrorCodeEmbeddingFailure = "embedding_provider_error"
	ErrorCodeInternalError    = "internal_error"
)

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HealthResponse is the JSON body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Items  *int              `json:"items,omitempty"`
}

// Recommender serves the ranked recommendation page for a query.
type Recommender interface {
	Page(ctx context.Context, query string) (recommend.Result, error)
}

// Suggester completes partial queries.
type Suggester interface {
	Suggest(ctx context.Context, partial string) ([]string, error)
}

// HealthChecker aggregates component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// Config holds HTTP-level request limits.
type Config struct {
	RecommendTimeout time.Duration
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server implements ServerInterface.
type Server struct {
	recommend     Recommender
	suggest       Suggester
	health        HealthChecker
	listings      source.Listings
	cfg           Config
	logger        *zap.Logger
	errorHandlers []errorHandler
}

var _ ServerInterface = (*Server)(nil)

// NewServer creates an HTTP API server. listings are served as loaded.
func NewServer(
	rec Recommender,
	sugg Suggester,
	health HealthChecker,
	listings source.Listings,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if cfg.RecommendTimeout <= 0 {
		cfg.RecommendTimeout = DefaultRecommendTimeout
	}
	s := &Server{
		recommend: rec,
		suggest:   sugg,
		health:    health,
		listings:  listings,
		cfg:       cfg,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidQuery, http.StatusBadRequest, ErrorCodeInvalidQuery),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, ErrorCodeRateLimited),
		sentinelHandler(domain.ErrIndexUnavailable, http.StatusServiceUnavailable, ErrorCodeIndexUnavailable),
		sentinelHandler(domain.ErrEmbeddingFailure, http.StatusBadGateway, ErrorCodeEmbeddingFailure),
	}
	return s
}

// GetRecommendations handles GET /recommendations.
// Any failure past query validation answers 200 with an empty list.
func (s *Server) GetRecommendations(w http.ResponseWriter, r *http.Request, params GetRecommendationsParams) {
	if strings.TrimSpace(params.Query) == "" {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidQuery, "query must not be empty")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RecommendTimeout)
	defer cancel()
	ctx, usage := domain.NewContextWithUsage(ctx)

	log := logpkg.FromContext(r.Context())

	res, err := s.recommend.Page(ctx, params.Query)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidQuery) {
			writeError(w, http.StatusBadRequest, ErrorCodeInvalidQuery, "query must not be empty")
			return
		}
		log.Warn("Recommendation failed, returning empty list",
			zap.String("query", params.Query), zap.Error(err))
		writeJSON(w, http.StatusOK, []item.Scored{})
		return
	}
	if res.Outcome != recommend.OutcomeOK {
		log.Warn("No recommendations found",
			zap.String("query", params.Query), zap.String("outcome", string(res.Outcome)))
	}

	setEmbeddingHeaders(w, usage)
	writeJSON(w, http.StatusOK, orEmpty(res.Items))
}

// GetSuggestions handles GET /suggestions.
func (s *Server) GetSuggestions(w http.ResponseWriter, r *http.Request, params GetSuggestionsParams) {
	suggestions, err := s.suggest.Suggest(r.Context(), params.Query)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(suggestions))
}

// ListProducts handles GET /products.
func (s *Server) ListProducts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, orEmpty(s.listings.Products))
}

// ListIngredients handles GET /ingredients.
func (s *Server) ListIngredients(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, orEmpty(s.listings.Ingredients))
}

// ListSales handles GET /sales.
func (s *Server) ListSales(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, orEmpty(s.listings.Sales))
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	resp := HealthResponse{Status: string(report.Status), Checks: checks}
	if report.Items >= 0 {
		n := report.Items
		resp.Items = &n
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, resp)
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func orEmpty[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

func setEmbeddingHeaders(w http.ResponseWriter, usage *domain.EmbeddingUsage) {
	if usage != nil && usage.Used {
		w.Header().Set("X-Embedding-Tokens", strconv.Itoa(usage.TotalTokens))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidQuery,
		domain.ErrRateLimited,
		domain.ErrIndexUnavailable,
		domain.ErrEmbeddingFailure,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContext(r.Context())
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal error")
}
