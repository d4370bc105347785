package catalog

import (
	"context"
	"encoding/binary"
	"math"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/kailas-cloud/recdex/internal/db"
	"github.com/kailas-cloud/recdex/internal/domain/item"
)

const testVectorDim = 4

// mockStore keeps hashes in memory; fn fields override individual operations.
type mockStore struct {
	mu      sync.Mutex
	hashes  map[string]map[string]string
	indexes map[string]*db.IndexDefinition

	hsetMultiCalls int
	knnCalls       int

	hsetFn        func(ctx context.Context, key string, fields map[string]string) error
	hsetMultiFn   func(ctx context.Context, items []db.HashSetItem) error
	delMultiFn    func(ctx context.Context, keys []string) (int, error)
	scanFn        func(ctx context.Context, pattern string) ([]string, error)
	createIndexFn func(ctx context.Context, def *db.IndexDefinition) error
	indexExistsFn func(ctx context.Context, name string) (bool, error)
	searchKNNFn   func(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	countFn       func(ctx context.Context, index string) (int, error)
}

func newMockStore() *mockStore {
	return &mockStore{
		hashes:  make(map[string]map[string]string),
		indexes: make(map[string]*db.IndexDefinition),
	}
}

func (m *mockStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if m.hsetFn != nil {
		return m.hsetFn(ctx, key, fields)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(key, fields)
	return nil
}

func (m *mockStore) put(key string, fields map[string]string) {
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string, len(fields))
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
}

func (m *mockStore) HSetMulti(ctx context.Context, items []db.HashSetItem) error {
	m.mu.Lock()
	m.hsetMultiCalls++
	m.mu.Unlock()
	if m.hsetMultiFn != nil {
		return m.hsetMultiFn(ctx, items)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		m.put(it.Key, it.Fields)
	}
	return nil
}

func (m *mockStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *mockStore) HGetMulti(_ context.Context, keys []string, field string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = m.hashes[k][field]
	}
	return out, nil
}

func (m *mockStore) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hashes, key)
	return nil
}

func (m *mockStore) DelMulti(ctx context.Context, keys []string) (int, error) {
	if m.delMultiFn != nil {
		return m.delMultiFn(ctx, keys)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, k := range keys {
		if _, ok := m.hashes[k]; ok {
			delete(m.hashes, k)
			n++
		}
	}
	return n, nil
}

// Scan supports trailing-star patterns only.
func (m *mockStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	if m.scanFn != nil {
		return m.scanFn(ctx, pattern)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for k := range m.hashes {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *mockStore) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	if m.createIndexFn != nil {
		return m.createIndexFn(ctx, def)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indexes[def.Name]; ok {
		return db.ErrIndexExists
	}
	m.indexes[def.Name] = def
	return nil
}

func (m *mockStore) IndexExists(ctx context.Context, name string) (bool, error) {
	if m.indexExistsFn != nil {
		return m.indexExistsFn(ctx, name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.indexes[name]
	return ok, nil
}

func (m *mockStore) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	m.mu.Lock()
	m.knnCalls++
	m.mu.Unlock()
	if m.searchKNNFn != nil {
		return m.searchKNNFn(ctx, q)
	}
	return m.bruteForceKNN(q), nil
}

// bruteForceKNN ranks every stored hash carrying the vector field by cosine distance,
// ties broken by key.
func (m *mockStore) bruteForceKNN(q *db.KNNQuery) *db.SearchResult {
	field := q.VectorField
	if field == "" {
		field = db.DefaultVectorField
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []db.SearchEntry
	for key, h := range m.hashes {
		raw, ok := h[field]
		if !ok {
			continue
		}
		fields := make(map[string]string, len(q.ReturnFields))
		for _, f := range q.ReturnFields {
			if v, ok := h[f]; ok {
				fields[f] = v
			}
		}
		entries = append(entries, db.SearchEntry{
			Key:      key,
			Distance: cosineDistance(q.Vector, bytesToVector(raw)),
			Fields:   fields,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Distance != entries[j].Distance {
			return entries[i].Distance < entries[j].Distance
		}
		return entries[i].Key < entries[j].Key
	})
	total := len(entries)
	if len(entries) > q.K {
		entries = entries[:q.K]
	}
	return &db.SearchResult{Total: total, Entries: entries}
}

func bytesToVector(raw string) []float32 {
	v := make([]float32, len(raw)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32([]byte(raw[i*4 : i*4+4])))
	}
	return v
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range min(len(a), len(b)) {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func (m *mockStore) SearchCount(ctx context.Context, index string) (int, error) {
	if m.countFn != nil {
		return m.countFn(ctx, index)
	}
	return 0, nil
}

// itemIDs returns the sorted ids of stored item hashes.
func (m *mockStore) itemIDs(collection string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for k := range m.hashes {
		if id, ok := strings.CutPrefix(k, itemPrefix(collection)); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func newTestRepo(t *testing.T) (*Repo, *mockStore) {
	t.Helper()
	ms := newMockStore()
	repo := New(ms, Config{Collection: "products", VectorDim: testVectorDim}, nil)
	return repo, ms
}

func testDoc(id, name string) item.Document {
	return item.Document{
		Item: item.Item{
			ID:          id,
			Name:        name,
			Description: "desc " + name,
			Type:        "tea",
			Effects:     []string{"calm"},
			Ingredients: []string{"chamomile"},
			Price:       9.5,
		},
		Text:   "desc " + name + " calm chamomile tea",
		Vector: []float32{1, 0, 0, 0},
	}
}
