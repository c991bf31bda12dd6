// Package graphsync drives entities and relationships extracted from a
// stored memory's text into the knowledge graph. It supports two modes:
// an inline pass the caller waits on (bounded by a short deadline so a slow
// graph write never holds up the store path) and a background pass fed by
// a bounded queue for everything the inline pass didn't finish in time.
package graphsync

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/vonbase/nexusmem/internal/extractor"
	"github.com/vonbase/nexusmem/pkg/memory"
)

// aliases canonicalizes known alternate names to their canonical form before
// normalization. Seeded with the organization's own short name.
var aliases = map[string]string{
	"vbe": "von base enterprises",
}

// Config tunes a [Syncer].
type Config struct {
	// InlineDeadline bounds how long Sync's synchronous pass may run before
	// handing the remainder to the background queue. Default 200ms.
	InlineDeadline time.Duration

	// QueueSize bounds the background queue. A full queue drops the job and
	// increments Stats().Dropped rather than blocking the caller.
	QueueSize int

	// Background skips the inline pass entirely: every Sync call is
	// enqueued for the background worker.
	Background bool
}

// Stats reports the Syncer's background-queue health.
type Stats struct {
	Enqueued int64
	Dropped  int64
	Pending  int64
}

// job is a single memory awaiting graph sync.
type job struct {
	memoryID string
	content  string
}

// Syncer extracts entities/relationships from memory text and writes them
// into a [memory.GraphStore], normalizing entity names and applying alias
// canonicalization before upserting.
type Syncer struct {
	extractor  extractor.Extractor
	graph      memory.GraphStore
	deadline   time.Duration
	background bool

	queue chan job
	done  chan struct{}

	enqueued atomic.Int64
	dropped  atomic.Int64
}

// New constructs a Syncer and starts its background worker. Call Close to
// stop the worker.
func New(cfg Config, ext extractor.Extractor, graph memory.GraphStore) *Syncer {
	if cfg.InlineDeadline <= 0 {
		cfg.InlineDeadline = 200 * time.Millisecond
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	s := &Syncer{
		extractor:  ext,
		graph:      graph,
		deadline:   cfg.InlineDeadline,
		background: cfg.Background,
		queue:      make(chan job, cfg.QueueSize),
		done:       make(chan struct{}),
	}
	go s.run()
	return s
}

// Sync extracts and writes entities/relationships for memoryID/content
// within the configured inline deadline. If extraction and writing finish
// within the deadline, Sync returns nil having completed synchronously.
// Otherwise Sync enqueues the remainder for the background worker and
// returns immediately; a full queue drops the job and increments the
// dropped counter instead of blocking the caller.
func (s *Syncer) Sync(ctx context.Context, memoryID, content string) error {
	if s.background {
		s.enqueue(memoryID, content)
		return nil
	}

	inline, cancel := context.WithTimeout(ctx, s.deadline)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.process(inline, memoryID, content) }()

	select {
	case err := <-done:
		return err
	case <-inline.Done():
		s.enqueue(memoryID, content)
		return nil
	}
}

// enqueue hands a job to the background worker, dropping it (with a counter
// increment) when the queue is full rather than blocking the caller.
func (s *Syncer) enqueue(memoryID, content string) {
	select {
	case s.queue <- job{memoryID: memoryID, content: content}:
		s.enqueued.Add(1)
	default:
		s.dropped.Add(1)
		slog.Warn("graphsync: queue full, dropping sync job", "memory_id", memoryID)
	}
}

// Stats returns a snapshot of the background queue's counters.
func (s *Syncer) Stats() Stats {
	return Stats{
		Enqueued: s.enqueued.Load(),
		Dropped:  s.dropped.Load(),
		Pending:  int64(len(s.queue)),
	}
}

// Close stops the background worker, letting any job already in flight
// finish.
func (s *Syncer) Close() {
	close(s.queue)
	<-s.done
}

func (s *Syncer) run() {
	defer close(s.done)
	for j := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := s.process(ctx, j.memoryID, j.content); err != nil {
			slog.Warn("graphsync: background sync failed", "memory_id", j.memoryID, "error", err)
		}
		cancel()
	}
}

func (s *Syncer) process(ctx context.Context, memoryID, content string) error {
	result, err := s.extractor.Extract(ctx, content)
	if err != nil {
		return err
	}

	ids := make(map[string]string, len(result.Entities))
	confidences := make(map[string]float64, len(result.Entities))
	for _, e := range result.Entities {
		norm := normalize(e.Name)
		node := memory.GraphNode{
			Type:           e.Type,
			Name:           e.Name,
			NormalizedName: norm,
			// The extractor's confidence doubles as the entity's initial
			// importance; upserts keep the maximum across memories.
			ImportanceScore: e.Confidence,
		}
		id, _, err := s.graph.UpsertNode(ctx, node)
		if err != nil {
			return err
		}
		ids[e.Name] = id
		confidences[e.Name] = e.Confidence

		if err := s.graph.LinkMemory(ctx, memory.MemoryEntityLink{
			MemoryID:   memoryID,
			EntityID:   id,
			Confidence: e.Confidence,
		}); err != nil {
			return err
		}
	}

	for _, rel := range result.Relationships {
		sourceID, ok := ids[rel.Source]
		if !ok {
			continue
		}
		targetID, ok := ids[rel.Target]
		if !ok {
			continue
		}
		// An edge is only as believable as its least believable endpoint.
		confidence := confidences[rel.Source]
		if c := confidences[rel.Target]; c < confidence {
			confidence = c
		}
		if err := s.graph.UpsertRelationship(ctx, memory.GraphRelationship{
			SourceID:   sourceID,
			TargetID:   targetID,
			RelType:    rel.Type,
			Strength:   rel.Strength,
			Confidence: confidence,
		}); err != nil {
			return err
		}
	}
	return nil
}

// normalize canonicalizes an entity name for dedup-by-name: NFC-normalizes,
// lowercases, collapses internal whitespace, applies the alias table, and
// strips leading/trailing punctuation.
func normalize(name string) string {
	fields := strings.Fields(strings.ToLower(norm.NFC.String(name)))
	joined := strings.Join(fields, " ")
	joined = strings.TrimFunc(joined, func(r rune) bool {
		return unicode.IsPunct(r)
	})
	if canon, ok := aliases[joined]; ok {
		return canon
	}
	return joined
}
