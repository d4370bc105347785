// Package suggest completes partial queries from curated keywords and catalog names.
package suggest

import (
	"context"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recdex/internal/domain"
)

// MaxSuggestions caps the suggestion list.
const MaxSuggestions = 5

// DefaultKeywords are offered when no keywords are configured.
var DefaultKeywords = []string{
	"relaxation", "stress relief", "energy boost", "sleep aid", "focus", "hydration",
}

// NameLister lists catalog item names.
type NameLister interface {
	Names(ctx context.Context) ([]string, error)
}

// Service builds suggestion lists.
type Service struct {
	names    NameLister
	keywords []string
	logger   *zap.Logger
}

// New creates a suggestion service. Empty keywords fall back to DefaultKeywords.
func New(names NameLister, keywords []string, logger *zap.Logger) *Service {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{names: names, keywords: keywords, logger: logger}
}

// Suggest returns up to MaxSuggestions keywords and title-cased catalog names
// containing partial, case-insensitively. Keywords come first. When the catalog
// cannot be read only keywords are returned.
func (s *Service) Suggest(ctx context.Context, partial string) ([]string, error) {
	q := strings.ToLower(strings.TrimSpace(partial))
	if q == "" {
		return nil, domain.ErrInvalidQuery
	}

	out := make([]string, 0, MaxSuggestions)
	seen := make(map[string]struct{}, MaxSuggestions)
	add := func(v string) bool {
		key := strings.ToLower(v)
		if _, dup := seen[key]; !dup {
			seen[key] = struct{}{}
			out = append(out, v)
		}
		return len(out) >= MaxSuggestions
	}

	for _, kw := range s.keywords {
		if strings.Contains(strings.ToLower(kw), q) && add(kw) {
			return out, nil
		}
	}

	names, err := s.names.Names(ctx)
	if err != nil {
		s.logger.Warn("Catalog names unavailable, suggesting keywords only", zap.Error(err))
		return out, nil
	}
	for _, name := range names {
		if strings.Contains(strings.ToLower(name), q) && add(titleCase(name)) {
			break
		}
	}
	return out, nil
}

// titleCase upper-cases the first letter of each word and lower-cases the rest.
// Any non-letter starts a new word.
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		if prevLetter {
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(unicode.ToTitle(r))
		}
		prevLetter = unicode.IsLetter(r)
	}
	return b.String()
}
