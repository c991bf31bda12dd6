package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vonbase/nexusmem/pkg/memory"
)

// GraphProvider is the [memory.ProviderGraph] variant: a relational
// knowledge graph of entities and typed relationships, sharing the primary
// provider's connection pool. Obtain one via [Store.Graph].
//
// The graph-sync pipeline drives writes through [GraphProvider.UpsertNode],
// [GraphProvider.UpsertRelationship], and [GraphProvider.LinkMemory] with
// already extracted nodes/relationships/links rather than raw memory
// content.
type GraphProvider struct {
	pool *pgxpool.Pool
}

// maxTraversalDepth caps every recursive graph traversal, independent of
// what the caller asks for. Each extra hop multiplies the CTE's frontier,
// so an unbounded depth is an easy denial-of-service vector.
const maxTraversalDepth = 5

// Kind implements [memory.VectorProvider].
func (g *GraphProvider) Kind() memory.ProviderKind { return memory.ProviderGraph }

// Store implements [memory.VectorProvider] as a no-op: the graph-sync
// pipeline writes structured nodes/relationships/links through the upsert
// methods rather than raw [memory.Memory] values, because entity extraction
// must run before anything graph-shaped exists to store.
func (g *GraphProvider) Store(ctx context.Context, m memory.Memory) error {
	return nil
}

// Query implements [memory.VectorProvider] and always returns an empty
// result; use [GraphProvider.QueryGraph] for graph-native reads.
func (g *GraphProvider) Query(ctx context.Context, embedding []float32, topK int, filter memory.QueryFilter) ([]memory.ScoredMemory, error) {
	return []memory.ScoredMemory{}, nil
}

// Recent implements [memory.VectorProvider] and always returns an empty
// result.
func (g *GraphProvider) Recent(ctx context.Context, topK int, filter memory.QueryFilter) ([]memory.ScoredMemory, error) {
	return []memory.ScoredMemory{}, nil
}

// Delete implements [memory.VectorProvider] and does nothing. Graph nodes are
// removed via [GraphProvider.DeleteNode]; memory_entity_links rows for a
// memory are removed by the memories table FK cascade when the primary
// provider deletes that memory.
func (g *GraphProvider) Delete(ctx context.Context, id string) error {
	return nil
}

// HealthCheck implements [memory.VectorProvider].
func (g *GraphProvider) HealthCheck(ctx context.Context) memory.Health {
	start := timeNow()
	err := g.pool.QueryRow(ctx, "SELECT 1").Scan(new(int))
	latency := timeNow().Sub(start)
	if err != nil {
		return memory.Health{Status: memory.StatusUnavailable, Detail: err.Error(), Latency: latency}
	}
	return memory.Health{Status: memory.StatusHealthy, Latency: latency}
}

// UpsertNode implements [memory.GraphStore]. Entities are keyed by
// NormalizedName: a second upsert with the same normalized name updates the
// existing row (bumping MentionCount, keeping the max ImportanceScore)
// instead of creating a duplicate.
func (g *GraphProvider) UpsertNode(ctx context.Context, n memory.GraphNode) (string, bool, error) {
	attrs, err := json.Marshal(nonNilMap(n.Attributes))
	if err != nil {
		return "", false, fmt.Errorf("graph: marshal attributes: %w", err)
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	const q = `
		INSERT INTO entities (id, type, name, normalized_name, attributes, importance_score, mention_count)
		VALUES ($1, $2, $3, $4, $5, $6, 1)
		ON CONFLICT (normalized_name) DO UPDATE SET
		    mention_count    = entities.mention_count + 1,
		    importance_score = GREATEST(entities.importance_score, EXCLUDED.importance_score),
		    attributes       = entities.attributes || EXCLUDED.attributes,
		    updated_at       = now()
		RETURNING id, (xmax = 0) AS created`

	var (
		id      string
		created bool
	)
	err = g.pool.QueryRow(ctx, q, n.ID, n.Type, n.Name, n.NormalizedName, attrs, n.ImportanceScore).Scan(&id, &created)
	if err != nil {
		return "", false, fmt.Errorf("graph: upsert node: %w", err)
	}
	return id, created, nil
}

// GetNode implements [memory.GraphStore]. Returns (nil, nil) when absent.
func (g *GraphProvider) GetNode(ctx context.Context, id string) (*memory.GraphNode, error) {
	const q = `
		SELECT id, type, name, normalized_name, attributes, importance_score, mention_count, created_at, updated_at
		FROM   entities WHERE id = $1`
	row := g.pool.QueryRow(ctx, q, id)
	n, err := scanGraphNode(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("graph: get node: %w", err)
	}
	return &n, nil
}

// FindNodes implements [memory.GraphStore].
func (g *GraphProvider) FindNodes(ctx context.Context, filter memory.EntityFilter) ([]memory.GraphNode, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	var conditions []string
	if filter.Type != "" {
		conditions = append(conditions, "type = "+next(filter.Type))
	}
	if filter.NameContains != "" {
		conditions = append(conditions, "name ILIKE "+next("%"+filter.NameContains+"%"))
	}
	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, "\n  AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, type, name, normalized_name, attributes, importance_score, mention_count, created_at, updated_at
		FROM   entities
		%s
		ORDER  BY mention_count DESC
		LIMIT  %s`, whereClause, limitArg)

	rows, err := g.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("graph: find nodes: %w", err)
	}
	nodes, err := pgx.CollectRows(rows, scanGraphNodeRow)
	if err != nil {
		return nil, fmt.Errorf("graph: find nodes scan: %w", err)
	}
	if nodes == nil {
		nodes = []memory.GraphNode{}
	}
	return nodes, nil
}

// EntitiesForMemory implements [memory.GraphStore], joining through
// memory_entity_links, most-confident first.
func (g *GraphProvider) EntitiesForMemory(ctx context.Context, memoryID string) ([]memory.GraphNode, error) {
	const q = `
		SELECT e.id, e.type, e.name, e.normalized_name, e.attributes, e.importance_score, e.mention_count, e.created_at, e.updated_at
		FROM   entities e
		JOIN   memory_entity_links l ON l.entity_id = e.id
		WHERE  l.memory_id = $1
		ORDER  BY l.confidence DESC`

	rows, err := g.pool.Query(ctx, q, memoryID)
	if err != nil {
		return nil, fmt.Errorf("graph: entities for memory: %w", err)
	}
	nodes, err := pgx.CollectRows(rows, scanGraphNodeRow)
	if err != nil {
		return nil, fmt.Errorf("graph: entities for memory scan: %w", err)
	}
	if nodes == nil {
		nodes = []memory.GraphNode{}
	}
	return nodes, nil
}

// UpsertRelationship implements [memory.GraphStore]. On update,
// OccurrenceCount increments, Strength becomes the running weighted average
// of the prior Strength and the new observation's, and Confidence keeps the
// maximum ever observed.
func (g *GraphProvider) UpsertRelationship(ctx context.Context, rel memory.GraphRelationship) error {
	attrs, err := json.Marshal(nonNilMap(rel.Attributes))
	if err != nil {
		return fmt.Errorf("graph: marshal rel attributes: %w", err)
	}

	const q = `
		INSERT INTO relationships (source_id, target_id, rel_type, strength, confidence, occurrence_count, attributes)
		VALUES ($1, $2, $3, $4, $5, 1, $6)
		ON CONFLICT (source_id, target_id, rel_type) DO UPDATE SET
		    strength = (relationships.strength * relationships.occurrence_count + $4)
		               / (relationships.occurrence_count + 1),
		    confidence       = GREATEST(relationships.confidence, EXCLUDED.confidence),
		    occurrence_count = relationships.occurrence_count + 1,
		    attributes       = relationships.attributes || EXCLUDED.attributes,
		    updated_at       = now()`

	_, err = g.pool.Exec(ctx, q, rel.SourceID, rel.TargetID, rel.RelType, rel.Strength, rel.Confidence, attrs)
	if err != nil {
		return fmt.Errorf("graph: upsert relationship: %w", err)
	}
	return nil
}

// LinkMemory implements [memory.GraphStore].
func (g *GraphProvider) LinkMemory(ctx context.Context, link memory.MemoryEntityLink) error {
	const q = `
		INSERT INTO memory_entity_links (memory_id, entity_id, confidence)
		VALUES ($1, $2, $3)
		ON CONFLICT (memory_id, entity_id) DO UPDATE SET confidence = EXCLUDED.confidence`
	_, err := g.pool.Exec(ctx, q, link.MemoryID, link.EntityID, link.Confidence)
	if err != nil {
		return fmt.Errorf("graph: link memory: %w", err)
	}
	return nil
}

// Neighbors implements [memory.GraphStore] with a recursive CTE
// breadth-first traversal bounded by depth. Depth is clamped to
// [maxTraversalDepth] regardless of the caller's request, so a hostile or
// buggy depth can never drive an unbounded recursive query. Results are
// ordered by decreasing edge strength times entity importance.
func (g *GraphProvider) Neighbors(ctx context.Context, entityID string, depth int) ([]memory.GraphNode, error) {
	if depth <= 0 {
		depth = 1
	}
	if depth > maxTraversalDepth {
		depth = maxTraversalDepth
	}
	const q = `
		WITH RECURSIVE bfs(id, hop, strength) AS (
		    SELECT $1::text, 0, 1.0::double precision
		    UNION
		    SELECT CASE WHEN r.source_id = bfs.id THEN r.target_id ELSE r.source_id END, bfs.hop + 1, r.strength
		    FROM   relationships r
		    JOIN   bfs ON r.source_id = bfs.id OR r.target_id = bfs.id
		    WHERE  bfs.hop < $2
		)
		SELECT e.id, e.type, e.name, e.normalized_name, e.attributes, e.importance_score, e.mention_count, e.created_at, e.updated_at
		FROM   entities e
		JOIN   (SELECT id, max(strength) AS strength FROM bfs WHERE hop > 0 AND id <> $1 GROUP BY id) b ON b.id = e.id
		ORDER  BY b.strength * e.importance_score DESC, e.mention_count DESC`

	rows, err := g.pool.Query(ctx, q, entityID, depth)
	if err != nil {
		return nil, fmt.Errorf("graph: neighbors: %w", err)
	}
	nodes, err := pgx.CollectRows(rows, scanGraphNodeRow)
	if err != nil {
		return nil, fmt.Errorf("graph: neighbors scan: %w", err)
	}
	if nodes == nil {
		nodes = []memory.GraphNode{}
	}
	return nodes, nil
}

// FindPath implements [memory.GraphStore] with a recursive CTE that tracks
// the visited path and stops at the first row reaching toID (shortest path
// by hop count, since the CTE expands breadth-first).
func (g *GraphProvider) FindPath(ctx context.Context, fromID, toID string, maxDepth int) ([]memory.GraphNode, error) {
	if maxDepth <= 0 {
		maxDepth = 4
	}
	if maxDepth > maxTraversalDepth {
		maxDepth = maxTraversalDepth
	}
	const q = `
		WITH RECURSIVE path(id, path_ids, hop) AS (
		    SELECT $1::text, ARRAY[$1::text], 0
		    UNION ALL
		    SELECT CASE WHEN r.source_id = path.id THEN r.target_id ELSE r.source_id END,
		           path.path_ids || CASE WHEN r.source_id = path.id THEN r.target_id ELSE r.source_id END,
		           path.hop + 1
		    FROM   relationships r
		    JOIN   path ON r.source_id = path.id OR r.target_id = path.id
		    WHERE  path.hop < $3
		      AND  NOT (CASE WHEN r.source_id = path.id THEN r.target_id ELSE r.source_id END = ANY(path.path_ids))
		)
		SELECT path_ids FROM path WHERE id = $2 ORDER BY hop LIMIT 1`

	var pathIDs []string
	err := g.pool.QueryRow(ctx, q, fromID, toID, maxDepth).Scan(&pathIDs)
	if err != nil {
		if err == pgx.ErrNoRows {
			return []memory.GraphNode{}, nil
		}
		return nil, fmt.Errorf("graph: find path: %w", err)
	}
	if len(pathIDs) == 0 {
		return []memory.GraphNode{}, nil
	}

	rows, err := g.pool.Query(ctx,
		`SELECT id, type, name, normalized_name, attributes, importance_score, mention_count, created_at, updated_at
		 FROM entities WHERE id = ANY($1)`, pathIDs)
	if err != nil {
		return nil, fmt.Errorf("graph: find path fetch nodes: %w", err)
	}
	byID := make(map[string]memory.GraphNode)
	nodes, err := pgx.CollectRows(rows, scanGraphNodeRow)
	if err != nil {
		return nil, fmt.Errorf("graph: find path scan: %w", err)
	}
	for _, n := range nodes {
		byID[n.ID] = n
	}
	ordered := make([]memory.GraphNode, 0, len(pathIDs))
	for _, id := range pathIDs {
		if n, ok := byID[id]; ok {
			ordered = append(ordered, n)
		}
	}
	return ordered, nil
}

// QueryGraph implements [memory.GraphStore], dispatching to the operation
// named by q.Op.
func (g *GraphProvider) QueryGraph(ctx context.Context, q memory.GraphQuery) (memory.GraphResult, error) {
	switch q.Op {
	case "neighbors":
		nodes, err := g.Neighbors(ctx, q.EntityID, q.Depth)
		if err != nil {
			return memory.GraphResult{}, err
		}
		return memory.GraphResult{Nodes: nodes}, nil
	case "path":
		nodes, err := g.FindPath(ctx, q.EntityID, q.TargetID, q.MaxDepth)
		if err != nil {
			return memory.GraphResult{}, err
		}
		return memory.GraphResult{Nodes: nodes}, nil
	case "entities":
		nodes, err := g.FindNodes(ctx, q.Filter)
		if err != nil {
			return memory.GraphResult{}, err
		}
		return memory.GraphResult{Nodes: nodes}, nil
	default:
		return memory.GraphResult{}, fmt.Errorf("graph: query: unknown op %q", q.Op)
	}
}

// DeleteNode implements [memory.GraphStore]. Deleting a non-existent entity
// is not an error.
func (g *GraphProvider) DeleteNode(ctx context.Context, id string) error {
	if _, err := g.pool.Exec(ctx, `DELETE FROM entities WHERE id = $1`, id); err != nil {
		return fmt.Errorf("graph: delete node: %w", err)
	}
	return nil
}

// Stats implements [memory.GraphStore]: node and relationship counts plus
// the entity-type distribution.
func (g *GraphProvider) Stats(ctx context.Context) (memory.GraphStats, error) {
	var stats memory.GraphStats
	if err := g.pool.QueryRow(ctx, `SELECT count(*) FROM entities`).Scan(&stats.NodeCount); err != nil {
		return memory.GraphStats{}, fmt.Errorf("graph: stats: node count: %w", err)
	}
	if err := g.pool.QueryRow(ctx, `SELECT count(*) FROM relationships`).Scan(&stats.RelationshipCount); err != nil {
		return memory.GraphStats{}, fmt.Errorf("graph: stats: relationship count: %w", err)
	}

	rows, err := g.pool.Query(ctx, `SELECT type, count(*) FROM entities GROUP BY type`)
	if err != nil {
		return memory.GraphStats{}, fmt.Errorf("graph: stats: type distribution: %w", err)
	}
	defer rows.Close()
	stats.TypeDistribution = make(map[string]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return memory.GraphStats{}, fmt.Errorf("graph: stats: scan: %w", err)
		}
		stats.TypeDistribution[t] = n
	}
	if err := rows.Err(); err != nil {
		return memory.GraphStats{}, fmt.Errorf("graph: stats: %w", err)
	}
	return stats, nil
}

func scanGraphNode(row pgx.Row) (memory.GraphNode, error) {
	var (
		n     memory.GraphNode
		attrs []byte
	)
	if err := row.Scan(&n.ID, &n.Type, &n.Name, &n.NormalizedName, &attrs, &n.ImportanceScore, &n.MentionCount, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return memory.GraphNode{}, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &n.Attributes); err != nil {
			return memory.GraphNode{}, fmt.Errorf("unmarshal attributes: %w", err)
		}
	}
	return n, nil
}

func scanGraphNodeRow(row pgx.CollectableRow) (memory.GraphNode, error) {
	return scanGraphNode(row)
}
