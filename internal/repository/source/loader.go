// Package source reads the catalog JSON files: the product records used for ingestion
// and the static listings served over HTTP.
package source

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/kailas-cloud/recdex/internal/domain"
)

// Default file names inside the data directory.
const (
	ProductsFile    = "products.json"
	IngredientsFile = "ingredients.json"
	SalesFile       = "sales.json"
)

// Record is one untyped JSON object from a catalog file.
type Record = map[string]any

// Listings holds the static catalog files as loaded at startup.
type Listings struct {
	Products    []Record
	Ingredients []Record
	Sales       []Record
}

// Loader reads catalog files from a data directory.
type Loader struct {
	dir    string
	logger *zap.Logger
}

// New creates a loader rooted at dir.
func New(dir string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{dir: dir, logger: logger}
}

// Products reads the ingestion source. Unlike the listings it fails loudly:
// a missing or corrupt source must never reconcile the index down to nothing.
func (l *Loader) Products(path string) ([]Record, error) {
	if path == "" {
		path = filepath.Join(l.dir, ProductsFile)
	}
	return readRecords(path)
}

// Listings loads products, ingredients and sales for the listing endpoints.
// A missing or unreadable file yields an empty list and a warning.
func (l *Loader) Listings() Listings {
	return Listings{
		Products:    l.listing(ProductsFile),
		Ingredients: l.listing(IngredientsFile),
		Sales:       l.listing(SalesFile),
	}
}

func (l *Loader) listing(name string) []Record {
	path := filepath.Join(l.dir, name)
	recs, err := readRecords(path)
	if err != nil {
		l.logger.Warn("catalog listing unavailable, serving empty list",
			zap.String("file", path),
			zap.Error(err),
		)
		return []Record{}
	}
	return recs
}

func readRecords(path string) ([]Record, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w: %w", path, domain.ErrNotFound, err)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var recs []Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if recs == nil {
		recs = []Record{}
	}
	return recs, nil
}
