package graphsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vonbase/nexusmem/internal/extractor"
	"github.com/vonbase/nexusmem/pkg/memory"
)

type mockGraphStore struct {
	memory.GraphStore

	mu            sync.Mutex
	nodesByName   map[string]string
	relationships []memory.GraphRelationship
	links         []memory.MemoryEntityLink
}

func newMockGraphStore() *mockGraphStore {
	return &mockGraphStore{nodesByName: map[string]string{}}
}

func (m *mockGraphStore) UpsertNode(_ context.Context, n memory.GraphNode) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.nodesByName[n.NormalizedName]; ok {
		return id, false, nil
	}
	id := "node-" + n.NormalizedName
	m.nodesByName[n.NormalizedName] = id
	return id, true, nil
}

func (m *mockGraphStore) LinkMemory(_ context.Context, link memory.MemoryEntityLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, link)
	return nil
}

func (m *mockGraphStore) UpsertRelationship(_ context.Context, rel memory.GraphRelationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relationships = append(m.relationships, rel)
	return nil
}

func TestSync_WritesEntitiesAndRelationshipsInline(t *testing.T) {
	store := newMockGraphStore()
	s := New(Config{InlineDeadline: time.Second}, extractor.NewRegex(), store)
	defer s.Close()

	err := s.Sync(context.Background(), "mem-1", "Alice Smith works at Von Base Enterprises")
	require.NoError(t, err)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.NotEmpty(t, store.links)
	assert.NotEmpty(t, store.relationships)
	assert.Equal(t, Stats{}, s.Stats())
}

func TestSync_BackgroundModeEnqueuesWithoutInlinePass(t *testing.T) {
	store := newMockGraphStore()
	s := New(Config{Background: true, QueueSize: 4}, extractor.NewRegex(), store)
	defer s.Close()

	err := s.Sync(context.Background(), "mem-3", "Jane Doe leads Acme Corp")
	require.NoError(t, err)
	assert.EqualValues(t, 1, s.Stats().Enqueued)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		store.mu.Lock()
		n := len(store.links)
		store.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("background worker did not process the enqueued sync")
}

func TestNormalize_AppliesAliasAndCasefold(t *testing.T) {
	assert.Equal(t, "von base enterprises", normalize("VBE"))
	assert.Equal(t, "acme corp", normalize("  Acme   Corp. "))
}

func TestSync_FallsBackToBackgroundOnSlowProcessing(t *testing.T) {
	store := newMockGraphStore()
	s := New(Config{InlineDeadline: time.Nanosecond, QueueSize: 4}, extractor.NewRegex(), store)
	defer s.Close()

	err := s.Sync(context.Background(), "mem-2", "Acme Corporation develops Widget Pro in New York City")
	require.NoError(t, err)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		store.mu.Lock()
		n := len(store.links)
		store.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.NotEmpty(t, store.links)
}
