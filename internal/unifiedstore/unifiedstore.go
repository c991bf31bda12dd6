// Package unifiedstore orchestrates NexusMem's three vector providers into
// a single Store/Query surface: memories are committed synchronously to the
// primary provider (read-after-write consistency), then fanned out to the
// secondary and graph providers on a best-effort basis with a soft
// deadline, deduplicated by content hash and semantic similarity, and
// enriched asynchronously by the knowledge-graph sync pipeline.
package unifiedstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/vonbase/nexusmem/internal/dedup"
	"github.com/vonbase/nexusmem/internal/graphsync"
	"github.com/vonbase/nexusmem/internal/observe"
	"github.com/vonbase/nexusmem/internal/resilience"
	embedding "github.com/vonbase/nexusmem/pkg/embedding"
	"github.com/vonbase/nexusmem/pkg/memory"
)

// Config tunes the orchestrator's fanout behavior.
type Config struct {
	// FanoutDeadline bounds how long the secondary/graph fanout may run
	// after a successful primary write. The fanout runs in the background,
	// so the caller never waits for it; a secondary or graph write still
	// running when the deadline passes has its context cancelled. Default 2s.
	FanoutDeadline time.Duration
}

// Store is the unified Store/Query orchestrator.
type Store struct {
	primary   memory.VectorProvider
	secondary memory.VectorProvider
	graph     memory.GraphStore
	embedder  embedding.Provider
	dedup     *dedup.Deduplicator
	graphsync *graphsync.Syncer
	metrics   *observe.Metrics
	deadline  time.Duration

	// secondaryBreaker and graphBreaker trip after repeated fanout failures
	// so a wedged secondary/graph backend stops being retried on every
	// single store and instead reports unavailable in HealthCheck until its
	// reset timeout elapses. The primary provider never gets a breaker: its
	// failures are always surfaced to the caller, never bypassed.
	secondaryBreaker *resilience.CircuitBreaker
	graphBreaker     *resilience.CircuitBreaker

	// getters composes the providers that support direct lookup by id,
	// primary first, so Get keeps answering from the secondary when the
	// primary is down. Nil when no configured provider supports lookup.
	getters *resilience.FallbackGroup[getter]
}

// New constructs a [Store]. secondary may be nil, in which case fanout to it
// is skipped; graph may be nil, in which case it is left out of HealthCheck.
// dedup and gs (graphsync) may be nil, in which case deduplication and graph
// enrichment are skipped; graph writes in the fanout go through gs only.
func New(cfg Config, primary, secondary memory.VectorProvider, graph memory.GraphStore, embedder embedding.Provider, d *dedup.Deduplicator, gs *graphsync.Syncer, metrics *observe.Metrics) *Store {
	if cfg.FanoutDeadline <= 0 {
		cfg.FanoutDeadline = 2 * time.Second
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	s := &Store{
		primary:   primary,
		secondary: secondary,
		graph:     graph,
		embedder:  embedder,
		dedup:     d,
		graphsync: gs,
		metrics:   metrics,
		deadline:  cfg.FanoutDeadline,
		secondaryBreaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "secondary",
		}),
		graphBreaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "graph",
		}),
	}
	if g, ok := primary.(getter); ok {
		s.getters = resilience.NewFallbackGroup[getter](g, "primary", resilience.FallbackConfig{})
		if sg, ok := secondary.(getter); ok {
			s.getters.AddFallback("secondary", sg)
		}
	}
	return s
}

// StoreResult reports the outcome of a [Store.Store] call.
type StoreResult struct {
	Memory   memory.Memory
	Dedup    dedup.Decision
	Rejected bool
}

// Store embeds (if needed), deduplicates, and persists m. If m.ID is empty
// a new UUID is assigned. If m.Embedding is empty it is computed from
// m.Content via the configured embedding provider.
//
// Store always commits to the primary provider synchronously before
// returning, giving callers read-after-write consistency. Secondary and
// graph writes happen in parallel afterward with a soft deadline: failures
// there are recorded (via metrics) but never fail the overall Store call,
// since the primary write already succeeded.
//
// When the deduplicator is in active mode and declares a duplicate,
// Store returns without writing and Rejected is true.
func (s *Store) Store(ctx context.Context, m memory.Memory) (StoreResult, error) {
	return s.store(ctx, m, true)
}

// StoreUnchecked persists m without consulting the deduplicator, for bulk
// restore paths where duplicates are expected and desired. The content hash
// is still registered so later writes dedupe against the restored record.
func (s *Store) StoreUnchecked(ctx context.Context, m memory.Memory) (StoreResult, error) {
	return s.store(ctx, m, false)
}

func (s *Store) store(ctx context.Context, m memory.Memory, checkDedup bool) (StoreResult, error) {
	start := time.Now()
	defer func() { s.metrics.StoreDuration.Record(ctx, time.Since(start).Seconds()) }()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if strings.TrimSpace(m.Content) == "" {
		return StoreResult{}, fmt.Errorf("unifiedstore: content must not be empty")
	}
	if m.ContentHash == "" {
		m.ContentHash = hashContent(m.Content)
	}
	if len(m.Embedding) == 0 && s.embedder != nil {
		embedStart := time.Now()
		vec, err := s.embedder.Embed(ctx, m.Content)
		s.metrics.EmbedDuration.Record(ctx, time.Since(embedStart).Seconds())
		if err != nil {
			s.metrics.RecordProviderError(ctx, "embedding", s.embedder.ModelID())
			return StoreResult{}, fmt.Errorf("unifiedstore: embed content: %w", err)
		}
		m.Embedding = vec
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	decision := dedup.Decision{Outcome: dedup.Unique}
	if s.dedup != nil && checkDedup {
		decision = s.dedup.Check(ctx, m.ContentHash, m.Embedding, s.primary)
		s.metrics.RecordDedupDecision(ctx, string(decision.Outcome))
		if decision.Outcome != dedup.Unique && s.dedup.Mode() == dedup.ModeActive {
			return StoreResult{Memory: m, Dedup: decision, Rejected: true}, nil
		}
	}

	// Claim the content hash before writing the memory. The reservation's
	// upsert is the serialization point for concurrent stores of identical
	// content: the first writer wins the hash, every racer that lost sees
	// an exact duplicate here even though Check passed for both. A failed
	// reservation (index down) falls open to storing, matching Check's
	// never-block-the-store-path semantics.
	reserved := false
	if s.dedup != nil {
		existingID, ok, err := s.dedup.Reserve(ctx, m.ContentHash, m.ID)
		switch {
		case err != nil:
			s.metrics.RecordProviderError(ctx, "primary", "reserve_hash")
		case !ok:
			decision = dedup.Decision{
				Outcome:    dedup.ExactDuplicate,
				ExistingID: existingID,
				Reason:     "content_hash reserved by concurrent store",
			}
			s.metrics.RecordDedupDecision(ctx, string(decision.Outcome))
			if checkDedup && s.dedup.Mode() == dedup.ModeActive {
				return StoreResult{Memory: m, Dedup: decision, Rejected: true}, nil
			}
		default:
			reserved = true
		}
	}

	if err := s.primary.Store(ctx, m); err != nil {
		if reserved {
			if relErr := s.dedup.Release(ctx, m.ContentHash, m.ID); relErr != nil {
				s.metrics.RecordProviderError(ctx, "primary", "release_hash")
			}
		}
		s.metrics.RecordProviderError(ctx, "primary", "store")
		return StoreResult{}, fmt.Errorf("unifiedstore: primary store: %w", err)
	}
	s.metrics.RecordProviderRequest(ctx, "primary", "store", "ok")

	s.fanout(ctx, m)

	return StoreResult{Memory: m, Dedup: decision}, nil
}

// fanout writes m to the secondary and graph providers in parallel within a
// soft deadline, never blocking past it and never propagating their errors
// to the caller.
func (s *Store) fanout(parent context.Context, m memory.Memory) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.deadline)

	var g errgroup.Group
	if s.secondary != nil {
		g.Go(func() error {
			err := s.secondaryBreaker.Execute(func() error { return s.secondary.Store(ctx, m) })
			if err != nil {
				s.metrics.RecordProviderError(ctx, "secondary", "store")
				return err
			}
			s.metrics.RecordProviderRequest(ctx, "secondary", "store", "ok")
			return nil
		})
	}
	if s.graphsync != nil {
		g.Go(func() error {
			err := s.graphBreaker.Execute(func() error { return s.graphsync.Sync(ctx, m.ID, m.Content) })
			if err != nil {
				s.metrics.RecordProviderError(ctx, "graph", "sync")
			}
			return err
		})
	}
	go func() {
		_ = g.Wait()
		cancel()
	}()
}

// QueryResult is the outcome of a [Store.Query] call.
type QueryResult struct {
	Memories      []memory.ScoredMemory
	ProvidersUsed []string

	// Mode is "recent" when text was empty/whitespace and results came from
	// [VectorProvider.Recent] (Similarity is meaningless and must be
	// presented as null, not 0, and min_similarity must not be applied), or
	// "similarity" when results came from an embedding-based Query.
	Mode string
}

const (
	ModeRecent     = "recent"
	ModeSimilarity = "similarity"
)

// Query finds memories most similar to text, or (when text is empty or
// whitespace-only) falls back to the most recent memories — never issuing
// a zero-vector similarity query. Results from the secondary provider are
// merged in only when the primary provider degrades or returns fewer than
// topK results, and are tie-broken by descending Similarity then
// descending CreatedAt.
func (s *Store) Query(ctx context.Context, text string, topK int, filter memory.QueryFilter) (QueryResult, error) {
	start := time.Now()
	defer func() { s.metrics.QueryDuration.Record(ctx, time.Since(start).Seconds()) }()

	if topK <= 0 {
		topK = 10
	}
	if topK > 1000 {
		topK = 1000
	}

	var (
		results []memory.ScoredMemory
		used    []string
	)

	if strings.TrimSpace(text) == "" {
		primaryResults, err := s.primary.Recent(ctx, topK, filter)
		if err != nil {
			s.metrics.RecordProviderError(ctx, "primary", "recent")
			return QueryResult{}, fmt.Errorf("unifiedstore: recent: %w", err)
		}
		results = primaryResults
		used = append(used, "primary")
		return QueryResult{Memories: results, ProvidersUsed: used, Mode: ModeRecent}, nil
	} else {
		vec, err := s.embedder.Embed(ctx, text)
		if err != nil {
			s.metrics.RecordProviderError(ctx, "embedding", s.embedder.ModelID())
			return QueryResult{}, fmt.Errorf("unifiedstore: embed query: %w", err)
		}

		primaryResults, err := s.primary.Query(ctx, vec, topK, filter)
		if err != nil {
			s.metrics.RecordProviderError(ctx, "primary", "query")
		} else {
			results = primaryResults
			used = append(used, "primary")
		}

		if (err != nil || len(results) < topK) && s.secondary != nil {
			var secondaryResults []memory.ScoredMemory
			sErr := s.secondaryBreaker.Execute(func() error {
				var qErr error
				secondaryResults, qErr = s.secondary.Query(ctx, vec, topK, filter)
				return qErr
			})
			if sErr == nil {
				results = mergeScored(results, secondaryResults, topK)
				used = append(used, "secondary")
			} else {
				s.metrics.RecordProviderError(ctx, "secondary", "query")
			}
		}

		if err != nil && len(results) == 0 {
			return QueryResult{}, fmt.Errorf("unifiedstore: query: %w", err)
		}
	}

	return QueryResult{Memories: results, ProvidersUsed: used, Mode: ModeSimilarity}, nil
}

// mergeScored combines a and b, de-duplicating by memory ID (a's entries
// win ties), sorting by descending Similarity then descending CreatedAt,
// and truncating to topK.
func mergeScored(a, b []memory.ScoredMemory, topK int) []memory.ScoredMemory {
	seen := make(map[string]bool, len(a))
	merged := make([]memory.ScoredMemory, 0, len(a)+len(b))
	merged = append(merged, a...)
	for _, sm := range a {
		seen[sm.Memory.ID] = true
	}
	for _, sm := range b {
		if seen[sm.Memory.ID] {
			continue
		}
		seen[sm.Memory.ID] = true
		merged = append(merged, sm)
	}

	for i := 1; i < len(merged); i++ {
		for j := i; j > 0; j-- {
			if less(merged[j], merged[j-1]) {
				merged[j], merged[j-1] = merged[j-1], merged[j]
			} else {
				break
			}
		}
	}

	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged
}

// less orders merged results: higher similarity first, then newer
// CreatedAt, then lexicographic id so equal-scored ties are deterministic
// across runs.
func less(a, b memory.ScoredMemory) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity > b.Similarity
	}
	if !a.Memory.CreatedAt.Equal(b.Memory.CreatedAt) {
		return a.Memory.CreatedAt.After(b.Memory.CreatedAt)
	}
	return a.Memory.ID < b.Memory.ID
}

// Recent returns the topK most recently created memories matching filter,
// passed straight through to the primary provider. Exposed for callers
// (the export pipeline) that need stable recency pagination without
// issuing a similarity query.
func (s *Store) Recent(ctx context.Context, topK int, filter memory.QueryFilter) ([]memory.ScoredMemory, error) {
	return s.primary.Recent(ctx, topK, filter)
}

// getter is implemented by providers that support direct lookup by id. It is
// checked via type assertion rather than added to [memory.VectorProvider]
// since Get is not a capability every provider variant needs to offer (the
// graph provider has nothing to look up).
type getter interface {
	GetByID(ctx context.Context, id string) (*memory.Memory, error)
}

// Get fetches a single memory by id, answering from the primary provider and
// falling back to the secondary (when it supports lookup) if the primary
// fails. A missing id is not a failure and does not trigger fallback — the
// primary's answer is authoritative.
func (s *Store) Get(ctx context.Context, id string) (memory.Memory, error) {
	if s.getters == nil {
		return memory.Memory{}, fmt.Errorf("unifiedstore: no configured provider supports direct lookup")
	}
	m, err := resilience.ExecuteWithResult(s.getters, func(g getter) (*memory.Memory, error) {
		return g.GetByID(ctx, id)
	})
	if err != nil {
		return memory.Memory{}, fmt.Errorf("unifiedstore: get: %w", err)
	}
	if m == nil {
		return memory.Memory{}, nil
	}
	return *m, nil
}

// counter is implemented by providers that can report a total record count.
type counter interface {
	Count(ctx context.Context, filter memory.QueryFilter) (int, error)
}

// Stats reports the total memory count per configured provider that
// supports counting.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	out := map[string]int{}
	if c, ok := s.primary.(counter); ok {
		n, err := c.Count(ctx, memory.QueryFilter{})
		if err != nil {
			return nil, fmt.Errorf("unifiedstore: stats: primary: %w", err)
		}
		out["primary"] = n
	}
	if s.secondary != nil {
		if c, ok := s.secondary.(counter); ok {
			n, err := c.Count(ctx, memory.QueryFilter{})
			if err != nil {
				return nil, fmt.Errorf("unifiedstore: stats: secondary: %w", err)
			}
			out["secondary"] = n
		}
	}
	return out, nil
}

// Delete removes m from every configured provider. Providers that do not
// have the memory are not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	var g errgroup.Group
	g.Go(func() error { return s.primary.Delete(ctx, id) })
	if s.secondary != nil {
		g.Go(func() error { return s.secondary.Delete(ctx, id) })
	}
	return g.Wait()
}

// HealthCheck reports the health of each configured provider, keyed by
// provider name; it does not combine them into one status. A provider whose circuit breaker is open
// from repeated fanout failures is reported unavailable without probing it
// again, since the breaker already knows it's failing.
func (s *Store) HealthCheck(ctx context.Context) map[string]memory.Health {
	out := map[string]memory.Health{"primary": s.primary.HealthCheck(ctx)}
	if s.secondary != nil {
		if s.secondaryBreaker.State() == resilience.StateOpen {
			out["secondary"] = memory.Health{Status: memory.StatusUnavailable, Detail: "circuit breaker open"}
		} else {
			out["secondary"] = s.secondary.HealthCheck(ctx)
		}
	}
	if s.graph != nil {
		if s.graphBreaker.State() == resilience.StateOpen {
			out["graph"] = memory.Health{Status: memory.StatusUnavailable, Detail: "circuit breaker open"}
		} else {
			out["graph"] = s.graph.HealthCheck(ctx)
		}
	}
	if s.embedder != nil {
		eh := s.embedder.HealthCheck(ctx)
		status := memory.ProviderStatus(eh.Status)
		switch status {
		case memory.StatusHealthy, memory.StatusDegraded, memory.StatusUnavailable:
		default:
			status = memory.StatusUnavailable
		}
		out["embedding"] = memory.Health{Status: status, Detail: eh.Detail, Latency: eh.Latency}
	}
	return out
}

// Graph exposes the configured graph provider for read-side HTTP handlers
// that need graph-native queries ([memory.GraphStore.QueryGraph],
// FindNodes, Neighbors, FindPath) beyond the Store/Query/Delete surface.
// Returns nil when no graph provider is configured.
func (s *Store) Graph() memory.GraphStore {
	return s.graph
}

// GraphSyncer exposes the graph-sync pipeline for HTTP handlers that trigger
// an on-demand (re)sync rather than waiting for the background queue.
// Returns nil when graph sync is not configured.
func (s *Store) GraphSyncer() *graphsync.Syncer {
	return s.graphsync
}

// hashContent hashes the normalized form of content: NFC-normalize, trim,
// collapse internal whitespace to single spaces, and lowercase, so that
// whitespace/case variants of the same text collapse to the same
// content_hash.
func hashContent(content string) string {
	sum := sha256.Sum256([]byte(normalizeContent(content)))
	return hex.EncodeToString(sum[:])
}

func normalizeContent(content string) string {
	n := norm.NFC.String(strings.TrimSpace(content))
	n = strings.Join(strings.Fields(n), " ")
	return strings.ToLower(n)
}
