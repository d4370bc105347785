package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrInvalidQuery signals an empty or otherwise unusable query text.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrValidation signals malformed catalog source records.
	ErrValidation = errors.New("validation failed")
	// ErrIndexUnavailable signals that the vector index cannot be reached.
	ErrIndexUnavailable = errors.New("index unavailable")
	// ErrMetricMismatch signals an existing collection with a non-cosine distance metric.
	ErrMetricMismatch = errors.New("distance metric mismatch")
	// ErrEmbeddingFailure signals an embedding model invocation error.
	ErrEmbeddingFailure = errors.New("embedding failure")
	// ErrRateLimited signals a rate limit hit on the embedding provider.
	ErrRateLimited = errors.New("rate limited")
)

// ValidationIssue describes one problem with one source record.
type ValidationIssue struct {
	Index  int    // position in the source
	ItemID string // empty when the id itself is missing
	Field  string
	Reason string
}

func (i ValidationIssue) String() string {
	id := i.ItemID
	if id == "" {
		id = "unknown"
	}
	return fmt.Sprintf("record %d (id %s): %s: %s", i.Index, id, i.Field, i.Reason)
}

// ValidationError aggregates every issue found in a catalog source.
type ValidationError struct {
	Issues []ValidationIssue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Issues))
	for _, iss := range e.Issues {
		parts = append(parts, iss.String())
	}
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// EmbeddingError reports the items left unembedded by a failed batch.
type EmbeddingError struct {
	ItemIDs []string
	Err     error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("%s: %d items not processed: %v", ErrEmbeddingFailure.Error(), len(e.ItemIDs), e.Err)
}

func (e *EmbeddingError) Unwrap() []error { return []error{ErrEmbeddingFailure, e.Err} }

// Reconcile stages.
const (
	StageScan   = "scan"
	StageDelete = "delete"
	StageUpsert = "upsert"
)

// ReconcileError reports which reconcile stage failed and what was already applied.
type ReconcileError struct {
	Stage    string
	Deleted  int
	Upserted int
	Err      error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("reconcile %s failed after %d deleted, %d upserted: %v", e.Stage, e.Deleted, e.Upserted, e.Err)
}

func (e *ReconcileError) Unwrap() error { return e.Err }
