package memory

import "context"

// VectorProvider is the single abstraction implemented by every storage
// backend NexusMem uses: [ProviderPrimary], [ProviderSecondary], and
// [ProviderGraph] are distinct, closed variants — not duck-typed — each
// implemented by its own Go type, selected and composed by the orchestrator
// rather than by runtime type assertion.
//
// Store must behave as an upsert keyed on Memory.ID. Query and Recent must
// never mutate state. Implementations must be safe for concurrent use, and
// HealthCheck must never block on the same resources a failing Store/Query
// call is blocked on.
type VectorProvider interface {
	// Kind reports which of the three closed variants this instance is.
	Kind() ProviderKind

	// Store persists m, embedding/indexing it as this provider requires.
	// A second Store call with the same m.ID replaces the prior record.
	Store(ctx context.Context, m Memory) error

	// Query finds the topK memories most similar to embedding, restricted
	// by filter. Results are ordered by descending Similarity.
	//
	// Query must never be called with a nil/zero-length embedding — callers
	// route empty queries to [VectorProvider.Recent] instead, since cosine
	// distance against a zero vector is undefined.
	Query(ctx context.Context, embedding []float32, topK int, filter QueryFilter) ([]ScoredMemory, error)

	// Recent returns the most recently created memories matching filter,
	// ordered by descending CreatedAt. It never touches the embedding
	// column and must be used for empty-query requests instead of Query
	// with a zero vector.
	Recent(ctx context.Context, topK int, filter QueryFilter) ([]ScoredMemory, error)

	// Delete removes the memory with the given ID. Deleting a non-existent
	// ID is not an error.
	Delete(ctx context.Context, id string) error

	// HealthCheck reports the provider's current operating health. It must
	// return promptly (sub-second) and must not perform the same
	// potentially slow operation Store/Query do.
	HealthCheck(ctx context.Context) Health
}

// GraphStore extends [VectorProvider] for the [ProviderGraph] variant with
// entity/relationship CRUD and graph-native queries that do not fit the flat
// Memory/embedding shape of Query. Store accepts a plain [Memory] and does no
// graph work itself; the graph-sync pipeline runs entity extraction and
// writes the resulting nodes, relationships, and [MemoryEntityLink] rows
// through the methods below.
// Query/Recent on a GraphStore always return an empty result; graph-native
// reads go through [GraphStore.QueryGraph] instead.
type GraphStore interface {
	VectorProvider

	// QueryGraph runs a structured graph operation (neighbors, shortest
	// path, or entity lookup) described by q.
	QueryGraph(ctx context.Context, q GraphQuery) (GraphResult, error)

	// UpsertNode inserts or updates a [GraphNode] keyed by NormalizedName.
	// On update, MentionCount increments, ImportanceScore keeps the maximum
	// of the stored and incoming values, and last-seen moves forward.
	// Returns the node's assigned ID (existing ID on update, new UUID on
	// insert) and whether a new node was created.
	UpsertNode(ctx context.Context, n GraphNode) (id string, created bool, err error)

	// GetNode retrieves a node by ID. Returns (nil, nil) when absent.
	GetNode(ctx context.Context, id string) (*GraphNode, error)

	// FindNodes returns all nodes matching filter.
	FindNodes(ctx context.Context, filter EntityFilter) ([]GraphNode, error)

	// EntitiesForMemory returns the entities linked to memoryID via
	// [MemoryEntityLink], most-confident first. Returns an empty (non-nil)
	// slice when the memory has no linked entities.
	EntitiesForMemory(ctx context.Context, memoryID string) ([]GraphNode, error)

	// UpsertRelationship inserts or updates a directed edge keyed by
	// (SourceID, TargetID, RelType). On update, OccurrenceCount is
	// incremented, Strength becomes the running weighted average of the
	// prior Strength and the new observation's, and Confidence keeps the
	// maximum of the stored and incoming values.
	UpsertRelationship(ctx context.Context, rel GraphRelationship) error

	// LinkMemory records that memoryID mentions entityID with the given
	// confidence. Calling it again for the same pair updates Confidence.
	LinkMemory(ctx context.Context, link MemoryEntityLink) error

	// Neighbors performs a breadth-first traversal from entityID up to
	// depth hops (capped at 5) and returns all reachable entities ordered
	// by decreasing edge strength times entity importance; the start
	// entity is excluded. Returns an empty (non-nil) slice when none are
	// reachable.
	Neighbors(ctx context.Context, entityID string, depth int) ([]GraphNode, error)

	// FindPath returns the shortest sequence of entities connecting fromID
	// to toID inclusive, following edges in either direction up to maxDepth hops
	// (capped at 5). Returns an empty (non-nil) slice when no path exists
	// within maxDepth.
	FindPath(ctx context.Context, fromID, toID string, maxDepth int) ([]GraphNode, error)

	// DeleteNode removes the entity and all its relationships and memory
	// links. Deleting a non-existent entity is not an error.
	DeleteNode(ctx context.Context, id string) error

	// Stats reports aggregate node/relationship counts and the entity-type
	// distribution.
	Stats(ctx context.Context) (GraphStats, error)
}
