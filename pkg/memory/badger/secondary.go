// Package badger provides the [memory.ProviderSecondary] implementation: a
// best-effort, lag-tolerant embedded vector store backed by BadgerDB.
//
// Unlike the primary provider it keeps no ANN index — Query is a brute-force
// cosine-similarity scan over every stored record, which is acceptable for a
// redundant read path that is never on the critical write path.
package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/vonbase/nexusmem/pkg/memory"
)

var _ memory.VectorProvider = (*SecondaryProvider)(nil)

const keyPrefix = "memory:"

// record is the JSON envelope stored for each key.
type record struct {
	Memory memory.Memory `json:"memory"`
}

// SecondaryProvider is the [memory.ProviderSecondary] variant. Obtain one
// via [Open].
type SecondaryProvider struct {
	db *badger.DB
}

// Open opens (or creates) a BadgerDB instance rooted at path.
func Open(path string) (*SecondaryProvider, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("secondary: open badger: %w", err)
	}
	return &SecondaryProvider{db: db}, nil
}

// Close releases the underlying BadgerDB handle.
func (s *SecondaryProvider) Close() error {
	return s.db.Close()
}

// Kind implements [memory.VectorProvider].
func (s *SecondaryProvider) Kind() memory.ProviderKind { return memory.ProviderSecondary }

// Store implements [memory.VectorProvider] as an upsert keyed on m.ID.
func (s *SecondaryProvider) Store(ctx context.Context, m memory.Memory) error {
	data, err := json.Marshal(record{Memory: m})
	if err != nil {
		return fmt.Errorf("secondary: marshal: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+m.ID), data)
	})
	if err != nil {
		return fmt.Errorf("secondary: store: %w", err)
	}
	return nil
}

// Query implements [memory.VectorProvider] with a brute-force cosine
// similarity scan, ranked descending. Callers must never pass a
// nil/zero-length embedding — route empty queries to
// [SecondaryProvider.Recent] instead.
func (s *SecondaryProvider) Query(ctx context.Context, embedding []float32, topK int, filter memory.QueryFilter) ([]memory.ScoredMemory, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("secondary: query: embedding must not be empty; use Recent for empty queries")
	}
	all, err := s.scan(filter)
	if err != nil {
		return nil, err
	}

	scored := make([]memory.ScoredMemory, 0, len(all))
	for _, m := range all {
		scored = append(scored, memory.ScoredMemory{
			Memory:     m,
			Similarity: cosineSimilarity(embedding, m.Embedding),
			Provider:   memory.ProviderSecondary,
		})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Similarity > scored[j].Similarity })
	if topK <= 0 {
		topK = 10
	}
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// Recent implements [memory.VectorProvider], ordering by descending
// CreatedAt without consulting any embedding.
func (s *SecondaryProvider) Recent(ctx context.Context, topK int, filter memory.QueryFilter) ([]memory.ScoredMemory, error) {
	all, err := s.scan(filter)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if filter.Offset > 0 {
		if filter.Offset >= len(all) {
			all = nil
		} else {
			all = all[filter.Offset:]
		}
	}
	if topK <= 0 {
		topK = 10
	}
	if len(all) > topK {
		all = all[:topK]
	}
	scored := make([]memory.ScoredMemory, len(all))
	for i, m := range all {
		scored[i] = memory.ScoredMemory{Memory: m, Provider: memory.ProviderSecondary}
	}
	return scored, nil
}

// GetByID fetches a single memory by id. Returns (nil, nil) when absent.
func (s *SecondaryProvider) GetByID(ctx context.Context, id string) (*memory.Memory, error) {
	var found *memory.Memory
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var rec record
			if err := json.Unmarshal(val, &rec); err != nil {
				return err
			}
			found = &rec.Memory
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("secondary: get: %w", err)
	}
	return found, nil
}

// Delete implements [memory.VectorProvider]. Deleting a non-existent ID is
// not an error.
func (s *SecondaryProvider) Delete(ctx context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(keyPrefix + id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("secondary: delete: %w", err)
	}
	return nil
}

// Count returns the number of stored memories matching filter.
func (s *SecondaryProvider) Count(ctx context.Context, filter memory.QueryFilter) (int, error) {
	all, err := s.scan(filter)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// HealthCheck implements [memory.VectorProvider] by checking the embedded
// engine reports its own size without error.
func (s *SecondaryProvider) HealthCheck(ctx context.Context) memory.Health {
	start := time.Now()
	lsm, vlog := s.db.Size()
	_ = lsm
	_ = vlog
	return memory.Health{Status: memory.StatusHealthy, Latency: time.Since(start)}
}

func (s *SecondaryProvider) scan(filter memory.QueryFilter) ([]memory.Memory, error) {
	var out []memory.Memory
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var rec record
				if err := json.Unmarshal(val, &rec); err != nil {
					return nil // skip malformed entries
				}
				if matchesFilter(rec.Memory, filter) {
					out = append(out, rec.Memory)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("secondary: scan: %w", err)
	}
	return out, nil
}

func matchesFilter(m memory.Memory, filter memory.QueryFilter) bool {
	if filter.UserID != "" && m.UserID != filter.UserID {
		return false
	}
	if !filter.After.IsZero() && !m.CreatedAt.After(filter.After) {
		return false
	}
	if !filter.Before.IsZero() && !m.CreatedAt.Before(filter.Before) {
		return false
	}
	if filter.ImportanceMin != 0 && m.ImportanceScore < filter.ImportanceMin {
		return false
	}
	if filter.ImportanceMax != 0 && m.ImportanceScore > filter.ImportanceMax {
		return false
	}
	for k, v := range filter.MetadataEquals {
		if fmt.Sprintf("%v", m.Metadata[k]) != fmt.Sprintf("%v", v) {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
