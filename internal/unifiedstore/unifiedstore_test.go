package unifiedstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vonbase/nexusmem/internal/dedup"
	embeddingmock "github.com/vonbase/nexusmem/pkg/embedding/mock"
	"github.com/vonbase/nexusmem/pkg/memory"
)

type mockProvider struct {
	kind memory.ProviderKind

	mu           sync.Mutex
	stored       []memory.Memory
	storeErr     error
	queryResult  []memory.ScoredMemory
	queryErr     error
	recentResult []memory.ScoredMemory
	recentErr    error
	deleted      []string
}

func (m *mockProvider) Kind() memory.ProviderKind { return m.kind }

func (m *mockProvider) Store(_ context.Context, mem memory.Memory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storeErr != nil {
		return m.storeErr
	}
	m.stored = append(m.stored, mem)
	return nil
}

func (m *mockProvider) Query(_ context.Context, _ []float32, _ int, _ memory.QueryFilter) ([]memory.ScoredMemory, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return m.queryResult, nil
}

func (m *mockProvider) Recent(_ context.Context, _ int, _ memory.QueryFilter) ([]memory.ScoredMemory, error) {
	if m.recentErr != nil {
		return nil, m.recentErr
	}
	return m.recentResult, nil
}

func (m *mockProvider) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockProvider) HealthCheck(_ context.Context) memory.Health {
	return memory.Health{Status: memory.StatusHealthy}
}

type mockHashIndex struct {
	mu     sync.Mutex
	hashes map[string]string
}

func newMockHashIndex() *mockHashIndex {
	return &mockHashIndex{hashes: map[string]string{}}
}

func (h *mockHashIndex) ContentHashExists(_ context.Context, hash string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hashes[hash], nil
}

func (h *mockHashIndex) ReserveContentHash(_ context.Context, hash, memoryID string) (string, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if owner, ok := h.hashes[hash]; ok {
		return owner, false, nil
	}
	h.hashes[hash] = memoryID
	return "", true, nil
}

func (h *mockHashIndex) ReleaseContentHash(_ context.Context, hash, memoryID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hashes[hash] == memoryID {
		delete(h.hashes, hash)
	}
	return nil
}

func TestStore_SucceedsWithoutSecondaryOrGraph(t *testing.T) {
	primary := &mockProvider{kind: memory.ProviderPrimary}
	embedder := &embeddingmock.Provider{EmbedResult: []float32{0.1, 0.2}, ModelIDValue: "test"}

	s := New(Config{}, primary, nil, nil, embedder, nil, nil, nil)
	res, err := s.Store(context.Background(), memory.Memory{Content: "hello world"})
	require.NoError(t, err)
	assert.False(t, res.Rejected)
	assert.NotEmpty(t, res.Memory.ID)
	assert.NotEmpty(t, res.Memory.ContentHash)
	assert.Len(t, primary.stored, 1)
}

func TestStore_RejectsExactDuplicateInActiveMode(t *testing.T) {
	primary := &mockProvider{kind: memory.ProviderPrimary}
	embedder := &embeddingmock.Provider{EmbedResult: []float32{0.1, 0.2}}
	hashes := newMockHashIndex()

	d, err := dedup.New(dedup.Config{Mode: dedup.ModeActive}, hashes)
	require.NoError(t, err)
	defer d.Close()

	s := New(Config{}, primary, nil, nil, embedder, d, nil, nil)

	first, err := s.Store(context.Background(), memory.Memory{Content: "same content"})
	require.NoError(t, err)
	require.False(t, first.Rejected)

	second, err := s.Store(context.Background(), memory.Memory{Content: "same content"})
	require.NoError(t, err)
	assert.True(t, second.Rejected)
	assert.Equal(t, dedup.ExactDuplicate, second.Dedup.Outcome)
	assert.Len(t, primary.stored, 1)
}

// racedHashIndex simulates the window where two concurrent stores of the
// same content both pass Check before either has reserved the hash: the
// exact-match lookup misses, but the reservation is already owned.
type racedHashIndex struct {
	mockHashIndex
}

func (h *racedHashIndex) ContentHashExists(_ context.Context, _ string) (string, error) {
	return "", nil
}

func (h *racedHashIndex) ReserveContentHash(_ context.Context, _, _ string) (string, bool, error) {
	return "mem-winner", false, nil
}

func TestStore_ConcurrentDuplicateLosesHashReservation(t *testing.T) {
	primary := &mockProvider{kind: memory.ProviderPrimary}
	embedder := &embeddingmock.Provider{EmbedResult: []float32{0.1, 0.2}}

	d, err := dedup.New(dedup.Config{Mode: dedup.ModeActive}, &racedHashIndex{})
	require.NoError(t, err)
	defer d.Close()

	s := New(Config{}, primary, nil, nil, embedder, d, nil, nil)

	res, err := s.Store(context.Background(), memory.Memory{Content: "raced content"})
	require.NoError(t, err)
	assert.True(t, res.Rejected)
	assert.Equal(t, dedup.ExactDuplicate, res.Dedup.Outcome)
	assert.Equal(t, "mem-winner", res.Dedup.ExistingID)
	assert.Empty(t, primary.stored)
}

func TestStore_ReleasesReservationWhenPrimaryFails(t *testing.T) {
	primary := &mockProvider{kind: memory.ProviderPrimary, storeErr: errors.New("db down")}
	embedder := &embeddingmock.Provider{EmbedResult: []float32{0.1, 0.2}}
	hashes := newMockHashIndex()

	d, err := dedup.New(dedup.Config{Mode: dedup.ModeActive}, hashes)
	require.NoError(t, err)
	defer d.Close()

	s := New(Config{}, primary, nil, nil, embedder, d, nil, nil)

	_, err = s.Store(context.Background(), memory.Memory{Content: "doomed content"})
	require.Error(t, err)

	hashes.mu.Lock()
	defer hashes.mu.Unlock()
	assert.Empty(t, hashes.hashes)
}

func TestStore_RejectsContentThatIsEmpty(t *testing.T) {
	primary := &mockProvider{kind: memory.ProviderPrimary}
	s := New(Config{}, primary, nil, nil, &embeddingmock.Provider{}, nil, nil, nil)

	_, err := s.Store(context.Background(), memory.Memory{Content: "   "})
	assert.Error(t, err)
}

func TestStore_ReturnsErrorWhenPrimaryFails(t *testing.T) {
	primary := &mockProvider{kind: memory.ProviderPrimary, storeErr: errors.New("db down")}
	embedder := &embeddingmock.Provider{EmbedResult: []float32{0.1}}
	s := New(Config{}, primary, nil, nil, embedder, nil, nil, nil)

	_, err := s.Store(context.Background(), memory.Memory{Content: "hello"})
	assert.Error(t, err)
}

func TestQuery_EmptyTextRoutesToRecent(t *testing.T) {
	primary := &mockProvider{
		kind: memory.ProviderPrimary,
		recentResult: []memory.ScoredMemory{
			{Memory: memory.Memory{ID: "m1"}, Similarity: 0},
		},
	}
	embedder := &embeddingmock.Provider{}
	s := New(Config{}, primary, nil, nil, embedder, nil, nil, nil)

	res, err := s.Query(context.Background(), "   ", 5, memory.QueryFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"primary"}, res.ProvidersUsed)
	assert.Equal(t, ModeRecent, res.Mode)
	assert.Len(t, res.Memories, 1)
	assert.Empty(t, embedder.EmbedCalls)
}

func TestQuery_NonEmptyTextEmbedsAndQueriesPrimary(t *testing.T) {
	primary := &mockProvider{
		kind: memory.ProviderPrimary,
		queryResult: []memory.ScoredMemory{
			{Memory: memory.Memory{ID: "m1", CreatedAt: time.Now()}, Similarity: 0.9},
		},
	}
	embedder := &embeddingmock.Provider{EmbedResult: []float32{0.1, 0.2}}
	s := New(Config{}, primary, nil, nil, embedder, nil, nil, nil)

	res, err := s.Query(context.Background(), "find something", 5, memory.QueryFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"primary"}, res.ProvidersUsed)
	require.Len(t, res.Memories, 1)
	assert.Equal(t, "m1", res.Memories[0].Memory.ID)
}

func TestQuery_MergesSecondaryWhenPrimaryShortOfTopK(t *testing.T) {
	now := time.Now()
	primary := &mockProvider{
		kind: memory.ProviderPrimary,
		queryResult: []memory.ScoredMemory{
			{Memory: memory.Memory{ID: "m1", CreatedAt: now}, Similarity: 0.9},
		},
	}
	secondary := &mockProvider{
		kind: memory.ProviderSecondary,
		queryResult: []memory.ScoredMemory{
			{Memory: memory.Memory{ID: "m2", CreatedAt: now}, Similarity: 0.95},
			{Memory: memory.Memory{ID: "m1", CreatedAt: now}, Similarity: 0.5},
		},
	}
	embedder := &embeddingmock.Provider{EmbedResult: []float32{0.1, 0.2}}
	s := New(Config{}, primary, secondary, nil, embedder, nil, nil, nil)

	res, err := s.Query(context.Background(), "find something", 5, memory.QueryFilter{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"primary", "secondary"}, res.ProvidersUsed)
	require.Len(t, res.Memories, 2)
	assert.Equal(t, "m2", res.Memories[0].Memory.ID)
	assert.Equal(t, "m1", res.Memories[1].Memory.ID)
}

func TestDelete_RemovesFromPrimaryAndSecondary(t *testing.T) {
	primary := &mockProvider{kind: memory.ProviderPrimary}
	secondary := &mockProvider{kind: memory.ProviderSecondary}
	s := New(Config{}, primary, secondary, nil, &embeddingmock.Provider{}, nil, nil, nil)

	require.NoError(t, s.Delete(context.Background(), "m1"))
	assert.Contains(t, primary.deleted, "m1")
	assert.Contains(t, secondary.deleted, "m1")
}

// gettableProvider extends mockProvider with direct lookup by id.
type gettableProvider struct {
	mockProvider
	byID   map[string]memory.Memory
	getErr error
}

func (g *gettableProvider) GetByID(_ context.Context, id string) (*memory.Memory, error) {
	if g.getErr != nil {
		return nil, g.getErr
	}
	m, ok := g.byID[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func TestGet_FallsBackToSecondaryWhenPrimaryFails(t *testing.T) {
	primary := &gettableProvider{
		mockProvider: mockProvider{kind: memory.ProviderPrimary},
		getErr:       errors.New("primary down"),
	}
	secondary := &gettableProvider{
		mockProvider: mockProvider{kind: memory.ProviderSecondary},
		byID:         map[string]memory.Memory{"m1": {ID: "m1", Content: "kept"}},
	}
	s := New(Config{}, primary, secondary, nil, &embeddingmock.Provider{}, nil, nil, nil)

	m, err := s.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "kept", m.Content)
}

func TestGet_MissingIDDoesNotTriggerFallback(t *testing.T) {
	primary := &gettableProvider{
		mockProvider: mockProvider{kind: memory.ProviderPrimary},
		byID:         map[string]memory.Memory{},
	}
	secondary := &gettableProvider{
		mockProvider: mockProvider{kind: memory.ProviderSecondary},
		byID:         map[string]memory.Memory{"m1": {ID: "m1", Content: "stale"}},
	}
	s := New(Config{}, primary, secondary, nil, &embeddingmock.Provider{}, nil, nil, nil)

	m, err := s.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Empty(t, m.ID)
}

func TestHealthCheck_ReportsAllConfiguredProviders(t *testing.T) {
	primary := &mockProvider{kind: memory.ProviderPrimary}
	secondary := &mockProvider{kind: memory.ProviderSecondary}
	s := New(Config{}, primary, secondary, nil, &embeddingmock.Provider{}, nil, nil, nil)

	health := s.HealthCheck(context.Background())
	assert.Contains(t, health, "primary")
	assert.Contains(t, health, "secondary")
	assert.NotContains(t, health, "graph")
}
