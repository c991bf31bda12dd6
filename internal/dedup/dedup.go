// Package dedup implements NexusMem's Deduplicator: an
// exact content-hash index backed by the primary provider's content_hashes
// table, fronted by a bounded in-process LRU cache, plus an optional
// semantic-similarity check against the primary provider for near-duplicate
// detection.
//
// Deduplication never blocks the store path indefinitely: any failure in
// the semantic check falls back to [Unique] and is logged, never returned
// as an error.
package dedup

import (
	"context"
	"log/slog"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/vonbase/nexusmem/pkg/memory"
)

// Mode selects the Deduplicator's blocking behavior.
type Mode string

const (
	// ModeLogOnly observes duplicates (incrementing counters) but never
	// blocks a store.
	ModeLogOnly Mode = "log_only"

	// ModeActive blocks writes that are exact or semantic duplicates,
	// returning the canonical memory's id instead.
	ModeActive Mode = "active"
)

// Outcome is the Deduplicator's decision for a single incoming content.
type Outcome string

const (
	Unique            Outcome = "unique"
	ExactDuplicate    Outcome = "exact_duplicate"
	SemanticDuplicate Outcome = "semantic_duplicate"
)

// Decision is the result of [Deduplicator.Check].
type Decision struct {
	Outcome    Outcome
	ExistingID string
	Similarity float64
	Reason     string
}

// HashIndex is the durable exact-match index the Deduplicator consults on a
// cache miss. [postgres.PrimaryProvider] implements this directly.
type HashIndex interface {
	// ContentHashExists returns the memory id already registered for hash,
	// or ("", nil) if none is registered. A hit also increments the
	// record's reference count.
	ContentHashExists(ctx context.Context, hash string) (string, error)

	// ReserveContentHash atomically claims hash for memoryID. Exactly one
	// concurrent caller gets reserved=true; the rest get the winner's
	// memory id back.
	ReserveContentHash(ctx context.Context, hash, memoryID string) (existingID string, reserved bool, err error)

	// ReleaseContentHash undoes a reservation whose memory write failed.
	ReleaseContentHash(ctx context.Context, hash, memoryID string) error
}

// Config tunes a [Deduplicator].
type Config struct {
	Mode Mode

	// SimilarityThreshold is the cosine-similarity cutoff for declaring a
	// semantic duplicate. Default 0.95.
	SimilarityThreshold float64

	// CacheSize bounds the number of hashes the in-process cache holds; its
	// admission counters are sized at ten times this. Default 50_000.
	CacheSize int
}

// Deduplicator decides whether incoming content is new, an exact duplicate,
// or a semantic near-duplicate of something already stored.
type Deduplicator struct {
	mode      Mode
	threshold float64
	hashes    HashIndex
	cache     *ristretto.Cache[string, string]
}

// New constructs a [Deduplicator] backed by hashes for the durable exact-hash
// lookup.
func New(cfg Config, hashes HashIndex) (*Deduplicator, error) {
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.95
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 50_000
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: int64(cfg.CacheSize) * 10,
		MaxCost:     int64(cfg.CacheSize),
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Deduplicator{
		mode:      cfg.Mode,
		threshold: cfg.SimilarityThreshold,
		hashes:    hashes,
		cache:     cache,
	}, nil
}

// Mode returns the Deduplicator's configured blocking mode.
func (d *Deduplicator) Mode() Mode { return d.mode }

// Check decides whether contentHash/embedding represents new content, an
// exact duplicate, or (when the exact check misses and primary is non-nil)
// a semantic near-duplicate. It never returns an error: failures in the
// semantic path are logged and treated as [Unique], so deduplication can
// never block the store path.
func (d *Deduplicator) Check(ctx context.Context, contentHash string, embedding []float32, primary memory.VectorProvider) Decision {
	if existingID, ok := d.cache.Get(contentHash); ok {
		return Decision{Outcome: ExactDuplicate, ExistingID: existingID, Reason: "content_hash cache hit"}
	}

	existingID, err := d.hashes.ContentHashExists(ctx, contentHash)
	if err != nil {
		slog.Warn("dedup: exact-hash lookup failed, treating as unique", "error", err)
	} else if existingID != "" {
		d.cache.Set(contentHash, existingID, 1)
		return Decision{Outcome: ExactDuplicate, ExistingID: existingID, Reason: "content_hash match"}
	}

	if d.mode != ModeActive || primary == nil || len(embedding) == 0 {
		return Decision{Outcome: Unique}
	}

	results, err := primary.Query(ctx, embedding, 1, memory.QueryFilter{})
	if err != nil {
		slog.Warn("dedup: semantic check failed, treating as unique", "error", err)
		return Decision{Outcome: Unique}
	}
	if len(results) == 0 {
		return Decision{Outcome: Unique}
	}
	top := results[0]
	if top.Similarity >= d.threshold {
		return Decision{
			Outcome:    SemanticDuplicate,
			ExistingID: top.Memory.ID,
			Similarity: top.Similarity,
			Reason:     "semantic similarity above threshold",
		}
	}
	return Decision{Outcome: Unique}
}

// Reserve atomically claims contentHash for memoryID in the durable index
// before the memory itself is written. This is what serializes concurrent
// stores of identical content: exactly one writer gets reserved=true and
// may proceed; every loser receives the winner's memory id. On success the
// mapping is also cached for fast exact-duplicate hits.
func (d *Deduplicator) Reserve(ctx context.Context, contentHash, memoryID string) (existingID string, reserved bool, err error) {
	existingID, reserved, err = d.hashes.ReserveContentHash(ctx, contentHash, memoryID)
	if err != nil {
		return "", false, err
	}
	if reserved {
		d.cache.Set(contentHash, memoryID, 1)
	}
	return existingID, reserved, nil
}

// Release undoes a [Deduplicator.Reserve] whose memory write failed, so the
// hash does not keep pointing at a record that was never stored.
func (d *Deduplicator) Release(ctx context.Context, contentHash, memoryID string) error {
	d.cache.Del(contentHash)
	return d.hashes.ReleaseContentHash(ctx, contentHash, memoryID)
}

// Close releases the in-process cache's background goroutines.
func (d *Deduplicator) Close() {
	d.cache.Close()
}
