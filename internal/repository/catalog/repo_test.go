package catalog

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/kailas-cloud/recdex/internal/db"
	"github.com/kailas-cloud/recdex/internal/domain"
	"github.com/kailas-cloud/recdex/internal/domain/item"
)

// --- OpenOrCreate ---

func TestOpenOrCreate_Fresh(t *testing.T) {
	repo, ms := newTestRepo(t)

	if err := repo.OpenOrCreate(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	meta := ms.hashes["recdex:products:meta"]
	if meta["distance_metric"] != "COSINE" {
		t.Errorf("distance_metric = %q, want COSINE", meta["distance_metric"])
	}
	if meta["vector_dim"] != "4" {
		t.Errorf("vector_dim = %q, want 4", meta["vector_dim"])
	}
	if meta["name"] != "products" || meta["created_at"] == "" {
		t.Errorf("unexpected meta: %v", meta)
	}

	def, ok := ms.indexes["recdex:products:idx"]
	if !ok {
		t.Fatal("index not created")
	}
	if !slices.Equal(def.Prefixes, []string{"recdex:products:item:"}) {
		t.Errorf("prefixes = %v", def.Prefixes)
	}
	vec := def.Fields[len(def.Fields)-1]
	if vec.Name != "__vector" || vec.VectorDistance != db.DistanceCosine || vec.VectorAlgo != db.VectorHNSW {
		t.Errorf("vector field = %+v", vec)
	}
	if vec.VectorM != 16 || vec.VectorEFConstruct != 200 {
		t.Errorf("HNSW params = %d/%d, want defaults 16/200", vec.VectorM, vec.VectorEFConstruct)
	}
}

func TestOpenOrCreate_ExistingCosine(t *testing.T) {
	repo, ms := newTestRepo(t)
	if err := repo.OpenOrCreate(context.Background()); err != nil {
		t.Fatalf("first open: %v", err)
	}

	created := 0
	ms.createIndexFn = func(_ context.Context, _ *db.IndexDefinition) error {
		created++
		return nil
	}
	if err := repo.OpenOrCreate(context.Background()); err != nil {
		t.Fatalf("second open: %v", err)
	}
	if created != 0 {
		t.Errorf("FT.CREATE called %d times on reopen", created)
	}
}

func TestOpenOrCreate_MetricMismatch(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.hashes["recdex:products:meta"] = map[string]string{
		"name":            "products",
		"distance_metric": "L2",
		"vector_dim":      "4",
	}

	err := repo.OpenOrCreate(context.Background())
	if !errors.Is(err, domain.ErrMetricMismatch) {
		t.Fatalf("expected ErrMetricMismatch, got %v", err)
	}
}

func TestOpenOrCreate_DimensionMismatch(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.hashes["recdex:products:meta"] = map[string]string{
		"distance_metric": "COSINE",
		"vector_dim":      "1024",
	}

	if err := repo.OpenOrCreate(context.Background()); err == nil {
		t.Fatal("expected error for vector_dim mismatch")
	}
}

func TestOpenOrCreate_AdoptsIndexWithoutMeta(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.indexes["recdex:products:idx"] = &db.IndexDefinition{Name: "recdex:products:idx"}
	ms.createIndexFn = func(_ context.Context, _ *db.IndexDefinition) error {
		t.Error("FT.CREATE must not be called when adopting")
		return nil
	}

	if err := repo.OpenOrCreate(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms.hashes["recdex:products:meta"]["distance_metric"] != "COSINE" {
		t.Error("metadata not written on adopt")
	}
}

func TestOpenOrCreate_RecreatesDroppedIndex(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.hashes["recdex:products:meta"] = map[string]string{"distance_metric": "cosine", "vector_dim": "4"}

	if err := repo.OpenOrCreate(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := ms.indexes["recdex:products:idx"]; !ok {
		t.Error("index should be recreated from surviving metadata")
	}
}

func TestOpenOrCreate_CreateFailureRollsBackMeta(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.createIndexFn = func(_ context.Context, _ *db.IndexDefinition) error {
		return errors.New("module not loaded")
	}

	if err := repo.OpenOrCreate(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if _, ok := ms.hashes["recdex:products:meta"]; ok {
		t.Error("metadata should be rolled back")
	}
}

func TestOpenOrCreate_IndexAlreadyExistsIsSuccess(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.createIndexFn = func(_ context.Context, _ *db.IndexDefinition) error {
		return db.ErrIndexExists
	}

	if err := repo.OpenOrCreate(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := ms.hashes["recdex:products:meta"]; !ok {
		t.Error("metadata should be kept")
	}
}

// --- Reconcile ---

func TestReconcile_RemovesStaleAndUpserts(t *testing.T) {
	repo, ms := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.Reconcile(ctx, []item.Document{testDoc("1", "A"), testDoc("2", "B"), testDoc("3", "C")}); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}

	stats, err := repo.Reconcile(ctx, []item.Document{testDoc("1", "A"), testDoc("3", "C2")})
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if stats.Deleted != 1 || stats.Upserted != 2 {
		t.Errorf("stats = %+v, want 1 deleted, 2 upserted", stats)
	}
	if got := ms.itemIDs("products"); !slices.Equal(got, []string{"1", "3"}) {
		t.Errorf("stored ids = %v, want [1 3]", got)
	}
	if ms.hashes["recdex:products:item:3"]["name"] != "C2" {
		t.Error("item 3 should be overwritten")
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	repo, ms := newTestRepo(t)
	ctx := context.Background()
	docs := []item.Document{testDoc("1", "A"), testDoc("2", "B")}

	if _, err := repo.Reconcile(ctx, docs); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	first := map[string]map[string]string{}
	for k, v := range ms.hashes {
		first[k] = v
	}

	stats, err := repo.Reconcile(ctx, docs)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if stats.Deleted != 0 {
		t.Errorf("deleted = %d on identical input", stats.Deleted)
	}
	if len(ms.hashes) != len(first) {
		t.Fatalf("hash count changed: %d -> %d", len(first), len(ms.hashes))
	}
	for k, v := range first {
		for f, val := range v {
			if ms.hashes[k][f] != val {
				t.Errorf("%s.%s changed", k, f)
			}
		}
	}
}

func TestReconcile_RemovedItemAbsentFromQuery(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	a := testDoc("a", "A")
	b := testDoc("b", "B")
	b.Vector = []float32{0.9, 0.1, 0, 0}
	if _, err := repo.Reconcile(ctx, []item.Document{a, b}); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}

	cands, err := repo.QueryNearest(ctx, []float32{1, 0, 0, 0}, 10)
	if err != nil {
		t.Fatalf("query before removal: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("got %d candidates before removal, want 2", len(cands))
	}

	if _, err := repo.Reconcile(ctx, []item.Document{a}); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}

	cands, err = repo.QueryNearest(ctx, []float32{0.9, 0.1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("query after removal: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("got %d candidates after removal, want 1", len(cands))
	}
	if cands[0].Metadata["id"] != "a" {
		t.Errorf("candidate id = %v, want a", cands[0].Metadata["id"])
	}
}

func TestReconcile_StoredFields(t *testing.T) {
	repo, ms := newTestRepo(t)
	doc := testDoc("42", "Calm Tea")
	doc.Item.SalesVelocity = 3.5

	if _, err := repo.Reconcile(context.Background(), []item.Document{doc}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h := ms.hashes["recdex:products:item:42"]
	var effects []string
	if err := json.Unmarshal([]byte(h["effects"]), &effects); err != nil || !slices.Equal(effects, []string{"calm"}) {
		t.Errorf("effects = %q (%v)", h["effects"], err)
	}
	if h["price"] != "9.5" || h["sales_velocity"] != "3.5" {
		t.Errorf("price/sales_velocity = %q/%q", h["price"], h["sales_velocity"])
	}
	if h["__content"] != doc.Text {
		t.Errorf("__content = %q", h["__content"])
	}
	if len(h["__vector"]) != testVectorDim*4 {
		t.Errorf("__vector length = %d, want %d", len(h["__vector"]), testVectorDim*4)
	}
}

func TestReconcile_EmptyListsStoredAsArrays(t *testing.T) {
	repo, ms := newTestRepo(t)
	doc := testDoc("1", "A")
	doc.Item.Effects = nil

	if _, err := repo.Reconcile(context.Background(), []item.Document{doc}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ms.hashes["recdex:products:item:1"]["effects"]; got != "[]" {
		t.Errorf("effects = %q, want []", got)
	}
}

func TestReconcile_Batches(t *testing.T) {
	ms := newMockStore()
	repo := New(ms, Config{Collection: "products", VectorDim: testVectorDim, UpsertBatchSize: 2}, nil)

	docs := make([]item.Document, 5)
	for i := range docs {
		docs[i] = testDoc(string(rune('a'+i)), "n")
	}
	stats, err := repo.Reconcile(context.Background(), docs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms.hsetMultiCalls != 3 {
		t.Errorf("HSetMulti calls = %d, want 3", ms.hsetMultiCalls)
	}
	if stats.Upserted != 5 {
		t.Errorf("upserted = %d, want 5", stats.Upserted)
	}
}

func TestReconcile_ScanFailure(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.scanFn = func(_ context.Context, _ string) ([]string, error) {
		return nil, errors.New("connection refused")
	}

	_, err := repo.Reconcile(context.Background(), []item.Document{testDoc("1", "A")})
	var rerr *domain.ReconcileError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected ReconcileError, got %v", err)
	}
	if rerr.Stage != domain.StageScan {
		t.Errorf("stage = %q, want scan", rerr.Stage)
	}
}

func TestReconcile_DeleteFailure(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.hashes["recdex:products:item:old"] = map[string]string{"id": "old"}
	ms.delMultiFn = func(_ context.Context, _ []string) (int, error) {
		return 0, errors.New("READONLY")
	}

	_, err := repo.Reconcile(context.Background(), []item.Document{testDoc("1", "A")})
	var rerr *domain.ReconcileError
	if !errors.As(err, &rerr) || rerr.Stage != domain.StageDelete {
		t.Fatalf("expected delete-stage ReconcileError, got %v", err)
	}
	if ms.hsetMultiCalls != 0 {
		t.Error("nothing should be upserted after a delete failure")
	}
}

func TestReconcile_UpsertFailureReportsCounts(t *testing.T) {
	ms := newMockStore()
	repo := New(ms, Config{Collection: "products", VectorDim: testVectorDim, UpsertBatchSize: 1}, nil)
	ms.hashes["recdex:products:item:old"] = map[string]string{"id": "old"}

	calls := 0
	ms.hsetMultiFn = func(_ context.Context, items []db.HashSetItem) error {
		calls++
		if calls == 2 {
			return errors.New("OOM")
		}
		for _, it := range items {
			ms.put(it.Key, it.Fields)
		}
		return nil
	}

	_, err := repo.Reconcile(context.Background(), []item.Document{testDoc("1", "A"), testDoc("2", "B"), testDoc("3", "C")})
	var rerr *domain.ReconcileError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected ReconcileError, got %v", err)
	}
	if rerr.Stage != domain.StageUpsert || rerr.Deleted != 1 || rerr.Upserted != 1 {
		t.Errorf("error = %+v, want upsert stage with 1 deleted, 1 upserted", rerr)
	}
}

// --- QueryNearest ---

func TestQueryNearest_MapsCandidates(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.searchKNNFn = func(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
		if q.IndexName != "recdex:products:idx" || q.K != 3 || q.VectorField != "__vector" {
			t.Errorf("unexpected query: %+v", q)
		}
		if slices.Contains(q.ReturnFields, "__vector") {
			t.Error("vector should not be returned")
		}
		return &db.SearchResult{Total: 2, Entries: []db.SearchEntry{
			{Key: "recdex:products:item:1", Distance: 0.1, Fields: map[string]string{"id": "1", "name": "A", "price": "4.5"}},
			{Key: "recdex:products:item:2", Distance: 0.4, Fields: map[string]string{"id": "2", "__vector": "xxxx"}},
		}}, nil
	}

	cands, err := repo.QueryNearest(context.Background(), []float32{1, 0, 0, 0}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("got %d candidates, want 2", len(cands))
	}
	if cands[0].Distance != 0.1 || cands[0].Metadata["name"] != "A" || cands[0].Metadata["price"] != "4.5" {
		t.Errorf("candidate 0 = %+v", cands[0])
	}
	if _, ok := cands[1].Metadata["__vector"]; ok {
		t.Error("vector leaked into metadata")
	}

	scored := item.NormalizeScored(cands[0].Metadata)
	if scored.Price != 4.5 || scored.Type != "Unknown Type" {
		t.Errorf("normalized = %+v", scored.Item)
	}
}

func TestQueryNearest_StoreFailureIsUnavailable(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.searchKNNFn = func(_ context.Context, _ *db.KNNQuery) (*db.SearchResult, error) {
		return nil, &db.Error{Op: db.OpSearch, Err: errors.New("connection reset")}
	}

	_, err := repo.QueryNearest(context.Background(), []float32{1, 0, 0, 0}, 5)
	if !errors.Is(err, domain.ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}
	var dbErr *db.Error
	if !errors.As(err, &dbErr) {
		t.Error("store error should stay in the chain")
	}
}

func TestQueryNearest_BreakerOpens(t *testing.T) {
	ms := newMockStore()
	repo := New(ms, Config{
		Collection: "products",
		VectorDim:  testVectorDim,
		Breaker:    BreakerConfig{FailureThreshold: 2, OpenTimeout: time.Minute},
	}, nil)
	ms.searchKNNFn = func(_ context.Context, _ *db.KNNQuery) (*db.SearchResult, error) {
		return nil, errors.New("down")
	}

	ctx := context.Background()
	for range 2 {
		if _, err := repo.QueryNearest(ctx, []float32{1}, 5); err == nil {
			t.Fatal("expected error")
		}
	}

	_, err := repo.QueryNearest(ctx, []float32{1}, 5)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if !errors.Is(err, domain.ErrIndexUnavailable) {
		t.Errorf("open breaker should surface as ErrIndexUnavailable, got %v", err)
	}
	if ms.knnCalls != 2 {
		t.Errorf("store called %d times, want 2", ms.knnCalls)
	}
}

func TestQueryNearest_CanceledDoesNotTrip(t *testing.T) {
	ms := newMockStore()
	repo := New(ms, Config{
		Collection: "products",
		VectorDim:  testVectorDim,
		Breaker:    BreakerConfig{FailureThreshold: 1, OpenTimeout: time.Minute},
	}, nil)
	ms.searchKNNFn = func(_ context.Context, _ *db.KNNQuery) (*db.SearchResult, error) {
		return nil, context.Canceled
	}

	ctx := context.Background()
	_, _ = repo.QueryNearest(ctx, []float32{1}, 5)
	_, err := repo.QueryNearest(ctx, []float32{1}, 5)
	if errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatal("cancellation should not open the breaker")
	}
}

func TestQueryNearest_InvalidK(t *testing.T) {
	repo, ms := newTestRepo(t)
	if _, err := repo.QueryNearest(context.Background(), []float32{1}, 0); err == nil {
		t.Fatal("expected error for k=0")
	}
	if ms.knnCalls != 0 {
		t.Error("store should not be queried")
	}
}

// --- Names / Count ---

func TestNames(t *testing.T) {
	repo, ms := newTestRepo(t)
	if _, err := repo.Reconcile(context.Background(), []item.Document{testDoc("1", "calm tea"), testDoc("2", "focus drops")}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	ms.hashes["recdex:products:item:3"] = map[string]string{"id": "3"}

	names, err := repo.Names(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	slices.Sort(names)
	if !slices.Equal(names, []string{"calm tea", "focus drops"}) {
		t.Errorf("names = %v", names)
	}
}

func TestNames_ScanFailure(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.scanFn = func(_ context.Context, _ string) ([]string, error) {
		return nil, errors.New("down")
	}
	if _, err := repo.Names(context.Background()); !errors.Is(err, domain.ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}
}

func TestCount(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.countFn = func(_ context.Context, index string) (int, error) {
		if index != "recdex:products:idx" {
			t.Errorf("index = %q", index)
		}
		return 7, nil
	}

	n, err := repo.Count(context.Background())
	if err != nil || n != 7 {
		t.Fatalf("Count = %d, %v; want 7", n, err)
	}
}
