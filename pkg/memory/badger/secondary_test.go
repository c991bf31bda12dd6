package badger_test

import (
	"context"
	"testing"
	"time"

	"github.com/vonbase/nexusmem/pkg/memory"
	"github.com/vonbase/nexusmem/pkg/memory/badger"
)

func openTestProvider(t *testing.T) *badger.SecondaryProvider {
	t.Helper()
	p, err := badger.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := p.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return p
}

func TestSecondaryProvider_StoreAndQuery(t *testing.T) {
	p := openTestProvider(t)
	ctx := context.Background()

	m := memory.Memory{
		ID:        "mem-1",
		Content:   "badger is an embedded key-value store",
		Embedding: []float32{1, 0, 0},
		CreatedAt: time.Now(),
	}
	if err := p.Store(ctx, m); err != nil {
		t.Fatalf("Store: %v", err)
	}

	results, err := p.Query(ctx, []float32{1, 0, 0}, 10, memory.QueryFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Memory.ID != "mem-1" {
		t.Errorf("ID = %q, want mem-1", results[0].Memory.ID)
	}
	if results[0].Similarity < 0.99 {
		t.Errorf("Similarity = %v, want ~1.0 for an identical vector", results[0].Similarity)
	}
}

func TestSecondaryProvider_QueryOrdersByDescendingSimilarity(t *testing.T) {
	p := openTestProvider(t)
	ctx := context.Background()

	vectors := map[string][]float32{
		"close":    {0.9, 0.1, 0},
		"far":      {0, 0, 1},
		"identical": {1, 0, 0},
	}
	for id, vec := range vectors {
		if err := p.Store(ctx, memory.Memory{ID: id, Content: id, Embedding: vec, CreatedAt: time.Now()}); err != nil {
			t.Fatalf("Store(%s): %v", id, err)
		}
	}

	results, err := p.Query(ctx, []float32{1, 0, 0}, 10, memory.QueryFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Memory.ID != "identical" {
		t.Errorf("results[0].ID = %q, want identical (highest similarity)", results[0].Memory.ID)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Similarity > results[i-1].Similarity {
			t.Errorf("results not sorted: results[%d].Similarity=%v > results[%d].Similarity=%v",
				i, results[i].Similarity, i-1, results[i-1].Similarity)
		}
	}
}

func TestSecondaryProvider_Query_RejectsEmptyEmbedding(t *testing.T) {
	p := openTestProvider(t)
	if _, err := p.Query(context.Background(), nil, 10, memory.QueryFilter{}); err == nil {
		t.Fatal("expected error when querying with an empty embedding")
	}
}

func TestSecondaryProvider_Recent_OrdersByCreatedAtDescending(t *testing.T) {
	p := openTestProvider(t)
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"oldest", "middle", "newest"} {
		m := memory.Memory{ID: id, Content: id, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := p.Store(ctx, m); err != nil {
			t.Fatalf("Store(%s): %v", id, err)
		}
	}

	results, err := p.Recent(ctx, 10, memory.QueryFilter{})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	wantOrder := []string{"newest", "middle", "oldest"}
	for i, want := range wantOrder {
		if results[i].Memory.ID != want {
			t.Errorf("results[%d].ID = %q, want %q", i, results[i].Memory.ID, want)
		}
		if results[i].Similarity != 0 {
			t.Errorf("Recent() result carried a nonzero similarity: %v", results[i].Similarity)
		}
	}
}

func TestSecondaryProvider_Recent_RespectsOffsetAndLimit(t *testing.T) {
	p := openTestProvider(t)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		if err := p.Store(ctx, memory.Memory{ID: id, Content: id, CreatedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	results, err := p.Recent(ctx, 2, memory.QueryFilter{Offset: 1})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
}

func TestSecondaryProvider_DeleteIsIdempotent(t *testing.T) {
	p := openTestProvider(t)
	ctx := context.Background()

	if err := p.Store(ctx, memory.Memory{ID: "gone", Content: "x", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := p.Delete(ctx, "gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := p.Delete(ctx, "gone"); err != nil {
		t.Fatalf("second Delete on missing key should not error, got: %v", err)
	}

	results, err := p.Recent(ctx, 10, memory.QueryFilter{})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results after delete, got %d", len(results))
	}
}

func TestSecondaryProvider_HealthCheck(t *testing.T) {
	p := openTestProvider(t)
	h := p.HealthCheck(context.Background())
	if h.Status != memory.StatusHealthy {
		t.Errorf("Status = %v, want healthy", h.Status)
	}
}

func TestSecondaryProvider_QueryFiltersByUserID(t *testing.T) {
	p := openTestProvider(t)
	ctx := context.Background()

	if err := p.Store(ctx, memory.Memory{ID: "a", UserID: "alice", Embedding: []float32{1, 0}, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := p.Store(ctx, memory.Memory{ID: "b", UserID: "bob", Embedding: []float32{1, 0}, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	results, err := p.Query(ctx, []float32{1, 0}, 10, memory.QueryFilter{UserID: "alice"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 || results[0].Memory.ID != "a" {
		t.Fatalf("expected only alice's memory, got %+v", results)
	}
}
