// Package memory defines the storage-agnostic data model and the
// [VectorProvider] abstraction shared by every backing store NexusMem can use:
// a primary relational+vector store, a best-effort secondary embedded store,
// and a relational knowledge-graph store.
//
// All interfaces are public so that external packages can supply alternative
// storage backends without depending on NexusMem internals.
//
// Every implementation must be safe for concurrent use.
package memory

import "time"

// Memory is a single unit of long-term content: text, its embedding, and
// metadata used for filtering, ranking, and provenance.
type Memory struct {
	// ID is the unique identifier for this memory (a UUID string).
	ID string

	// UserID scopes the memory to a particular agent/user for retrieval and
	// GDPR export. Empty means the memory is not user-scoped.
	UserID string

	// Content is the raw text of the memory.
	Content string

	// Embedding is the vector representation of Content. Dimension must
	// match the configured embedding provider's output.
	Embedding []float32

	// Metadata holds arbitrary key/value data supplied by the caller
	// (source, tags, session id, …).
	Metadata map[string]any

	// ImportanceScore is an explicit, caller-assigned ranking weight in
	// [0,1]. It never decays automatically; any age-based decay belongs in
	// a caller-side batch job.
	ImportanceScore float64

	// ContentHash is the SHA-256 hex digest of Content after normalization
	// (NFC, trimmed, whitespace collapsed, lowercased), used by the
	// deduplication subsystem.
	ContentHash string

	// CreatedAt is when the memory was first stored.
	CreatedAt time.Time

	// UpdatedAt is when the memory was last modified.
	UpdatedAt time.Time
}

// QueryFilter narrows a [VectorProvider.Query] or [VectorProvider.Recent]
// call. All non-zero fields are applied as AND conditions.
type QueryFilter struct {
	// UserID restricts results to a single user/agent scope.
	UserID string

	// MetadataEquals requires every key/value pair to match exactly in the
	// stored Metadata map.
	MetadataEquals map[string]any

	// After filters memories created after this instant (exclusive).
	After time.Time

	// Before filters memories created before this instant (exclusive).
	Before time.Time

	// ImportanceMin, if non-zero, filters out memories with a lower
	// ImportanceScore (inclusive).
	ImportanceMin float64

	// ImportanceMax, if non-zero, filters out memories with a higher
	// ImportanceScore (inclusive). A value of 0 means no upper bound.
	ImportanceMax float64

	// Limit is not read by the providers in this module; the number of
	// results is bounded by the topK argument of Query and Recent.
	Limit int

	// Offset skips this many matching results before the first one
	// returned. Only meaningful for [VectorProvider.Recent]; similarity
	// queries are not required to support pagination.
	Offset int
}

// ScoredMemory pairs a retrieved [Memory] with its similarity score
// (1 - cosine distance; higher is more similar) and the provider that
// produced it.
type ScoredMemory struct {
	Memory     Memory
	Similarity float64
	Provider   ProviderKind
}

// ProviderKind enumerates the closed set of [VectorProvider] variants.
type ProviderKind string

const (
	// ProviderPrimary is the read-after-write-consistent relational+vector
	// store of record.
	ProviderPrimary ProviderKind = "primary"

	// ProviderSecondary is a best-effort, lag-tolerant embedded vector
	// store used as a redundant read path.
	ProviderSecondary ProviderKind = "secondary"

	// ProviderGraph is the relational knowledge-graph store.
	ProviderGraph ProviderKind = "graph"
)

// ProviderStatus reports the current health of a [VectorProvider] as
// returned by HealthCheck.
type ProviderStatus string

const (
	StatusHealthy     ProviderStatus = "healthy"
	StatusDegraded    ProviderStatus = "degraded"
	StatusUnavailable ProviderStatus = "unavailable"
)

// Health is the result of a [VectorProvider.HealthCheck] call.
type Health struct {
	Status  ProviderStatus
	Detail  string
	Latency time.Duration
}

// ─────────────────────────────────────────────────────────────────────────────
// Knowledge-graph types
// ─────────────────────────────────────────────────────────────────────────────

// GraphNode is an entity node in the knowledge graph.
type GraphNode struct {
	// ID is the unique, stable identifier for this entity (a UUID string).
	ID string

	// Type classifies the entity. Recommended values: person, organization,
	// location, concept, event, product. Custom values are allowed.
	Type string

	// Name is the canonical display name, after alias canonicalization
	// (e.g. "VBE" is stored as "Von Base Enterprises").
	Name string

	// NormalizedName is the casefolded, whitespace-collapsed form of Name
	// used for upsert-by-identity lookups.
	NormalizedName string

	// Attributes holds arbitrary key/value metadata.
	Attributes map[string]any

	// ImportanceScore ranks the entity in [0,1]. Upserts keep the maximum
	// ever observed, so a once-important entity never silently demotes.
	ImportanceScore float64

	// MentionCount is the number of memories this entity has been
	// extracted from.
	MentionCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// GraphRelationship is a directed, typed edge between two [GraphNode]s.
type GraphRelationship struct {
	SourceID string
	TargetID string

	// RelType is the semantic label of the relationship. See the closed
	// relationship-type set in the HTTP API documentation.
	RelType string

	// Strength is a running weighted average of the co-occurrence strength
	// across every memory this relationship was observed in, in [0,1].
	Strength float64

	// Confidence is the extractor's certainty that the relationship is
	// real, in [0,1]. Upserts keep the maximum ever observed.
	Confidence float64

	// OccurrenceCount is the number of memories this relationship has been
	// observed in.
	OccurrenceCount int

	Attributes map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// MemoryEntityLink records that a [Memory] mentions a [GraphNode], with the
// extractor's confidence for that mention.
type MemoryEntityLink struct {
	MemoryID   string
	EntityID   string
	Confidence float64
	CreatedAt  time.Time
}

// EntityFilter specifies predicates for entity lookup queries. All non-zero
// fields are applied as AND conditions.
type EntityFilter struct {
	// Type restricts results to entities of this type. Empty matches all.
	Type string

	// NameContains restricts results to entities whose name contains this
	// substring (case-insensitive). Empty matches all.
	NameContains string

	Limit int
}

// GraphQuery is the filter accepted by [GraphStore.QueryGraph]: it selects
// one of three graph operations.
type GraphQuery struct {
	// Op selects the operation: "neighbors", "path", or "entities".
	Op string

	// EntityID is the anchor entity for "neighbors" and the source entity
	// for "path".
	EntityID string

	// TargetID is the destination entity for "path".
	TargetID string

	// Depth bounds a "neighbors" traversal; MaxDepth bounds a "path" search.
	Depth    int
	MaxDepth int

	Filter EntityFilter
}

// GraphResult is the result of a [ProviderGraph] query.
type GraphResult struct {
	Nodes         []GraphNode
	Relationships []GraphRelationship
}

// GraphStats reports aggregate counts over the knowledge graph, as surfaced
// by the `/graph/stats` endpoint.
type GraphStats struct {
	NodeCount         int
	RelationshipCount int
	TypeDistribution  map[string]int
}
