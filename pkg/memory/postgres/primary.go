package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/vonbase/nexusmem/pkg/memory"
)

// PrimaryProvider is the [memory.ProviderPrimary] variant: a PostgreSQL
// table with a single HNSW cosine-distance index, offering read-after-write
// consistency. Obtain one via [Store.Primary] rather than constructing
// directly.
type PrimaryProvider struct {
	pool *pgxpool.Pool
}

// Kind implements [memory.VectorProvider].
func (p *PrimaryProvider) Kind() memory.ProviderKind { return memory.ProviderPrimary }

// Store implements [memory.VectorProvider]. It upserts m and is guaranteed
// read-after-write consistent: once Store returns nil, a subsequent Query or
// Recent call on the same provider observes m.
func (p *PrimaryProvider) Store(ctx context.Context, m memory.Memory) error {
	meta, err := json.Marshal(nonNilMap(m.Metadata))
	if err != nil {
		return fmt.Errorf("primary: marshal metadata: %w", err)
	}

	const q = `
		INSERT INTO memories
		    (id, user_id, content, embedding, metadata, importance_score, content_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (id) DO UPDATE SET
		    user_id          = EXCLUDED.user_id,
		    content          = EXCLUDED.content,
		    embedding        = EXCLUDED.embedding,
		    metadata         = EXCLUDED.metadata,
		    importance_score = EXCLUDED.importance_score,
		    content_hash     = EXCLUDED.content_hash,
		    updated_at       = now()`

	now := m.CreatedAt
	if now.IsZero() {
		now = timeNow()
	}

	vec := pgvector.NewVector(m.Embedding)
	_, err = p.pool.Exec(ctx, q,
		m.ID, m.UserID, m.Content, vec, meta, m.ImportanceScore, m.ContentHash, now,
	)
	if err != nil {
		return fmt.Errorf("primary: store: %w", err)
	}
	return nil
}

// Query implements [memory.VectorProvider]. Callers must never pass a
// nil/zero-length embedding — route empty queries to [PrimaryProvider.Recent]
// instead.
func (p *PrimaryProvider) Query(ctx context.Context, embedding []float32, topK int, filter memory.QueryFilter) ([]memory.ScoredMemory, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("primary: query: embedding must not be empty; use Recent for empty queries")
	}

	queryVec := pgvector.NewVector(embedding)
	args := []any{queryVec}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	where := buildFilterClauses(filter, next)
	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, "\n  AND ")
	}

	if topK <= 0 {
		topK = 10
	}
	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, user_id, content, embedding, metadata, importance_score, content_hash, created_at, updated_at,
		       1 - (embedding <=> $1) AS similarity
		FROM   memories
		%s
		ORDER  BY embedding <=> $1
		LIMIT  %s`, whereClause, limitArg)

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("primary: query: %w", err)
	}
	results, err := pgx.CollectRows(rows, scanScoredMemory)
	if err != nil {
		return nil, fmt.Errorf("primary: query scan: %w", err)
	}
	if results == nil {
		results = []memory.ScoredMemory{}
	}
	return results, nil
}

// Recent implements [memory.VectorProvider]. It never touches the embedding
// column, avoiding the zero-vector probe anti-pattern for empty queries.
func (p *PrimaryProvider) Recent(ctx context.Context, topK int, filter memory.QueryFilter) ([]memory.ScoredMemory, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	where := buildFilterClauses(filter, next)
	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, "\n  AND ")
	}

	if topK <= 0 {
		topK = 10
	}
	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))
	args = append(args, filter.Offset)
	offsetArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, user_id, content, NULL::vector, metadata, importance_score, content_hash, created_at, updated_at,
		       0.0 AS similarity
		FROM   memories
		%s
		ORDER  BY created_at DESC
		LIMIT  %s
		OFFSET %s`, whereClause, limitArg, offsetArg)

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("primary: recent: %w", err)
	}
	results, err := pgx.CollectRows(rows, scanScoredMemory)
	if err != nil {
		return nil, fmt.Errorf("primary: recent scan: %w", err)
	}
	if results == nil {
		results = []memory.ScoredMemory{}
	}
	return results, nil
}

// Delete implements [memory.VectorProvider]. Deleting a non-existent ID is
// not an error. The memory's content-hash record is removed in the same
// transaction; content_hashes carries no foreign key (a hash is reserved
// before its memory row exists), so the cascade is explicit here.
func (p *PrimaryProvider) Delete(ctx context.Context, id string) error {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM content_hashes WHERE memory_id = $1`, id); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM memories WHERE id = $1`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("primary: delete: %w", err)
	}
	return nil
}

// HealthCheck implements [memory.VectorProvider] with a cheap round-trip
// query that never touches the vector index.
func (p *PrimaryProvider) HealthCheck(ctx context.Context) memory.Health {
	start := timeNow()
	err := p.pool.QueryRow(ctx, "SELECT 1").Scan(new(int))
	latency := timeNow().Sub(start)
	if err != nil {
		return memory.Health{Status: memory.StatusUnavailable, Detail: err.Error(), Latency: latency}
	}
	return memory.Health{Status: memory.StatusHealthy, Latency: latency}
}

// GetByID fetches a single memory by id. Returns (nil, nil) when absent.
func (p *PrimaryProvider) GetByID(ctx context.Context, id string) (*memory.Memory, error) {
	const q = `
		SELECT id, user_id, content, embedding, metadata, importance_score, content_hash, created_at, updated_at,
		       0.0 AS similarity
		FROM   memories
		WHERE  id = $1`
	rows, err := p.pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("primary: get: %w", err)
	}
	sm, err := pgx.CollectExactlyOneRow(rows, scanScoredMemory)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("primary: get: %w", err)
	}
	return &sm.Memory, nil
}

// Count returns the total number of memories stored in the primary
// provider, optionally restricted by filter.
func (p *PrimaryProvider) Count(ctx context.Context, filter memory.QueryFilter) (int, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	where := buildFilterClauses(filter, next)
	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, "\n  AND ")
	}

	var total int
	q := fmt.Sprintf(`SELECT count(*) FROM memories %s`, whereClause)
	if err := p.pool.QueryRow(ctx, q, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("primary: count: %w", err)
	}
	return total, nil
}

// ContentHashExists looks up the memory ID already registered for
// contentHash (the Deduplicator's exact-match path) and increments the
// record's reference_count, so the dedup table tracks how often each
// content has been re-submitted. Returns ("", nil) when no such hash is
// recorded.
func (p *PrimaryProvider) ContentHashExists(ctx context.Context, contentHash string) (string, error) {
	var memoryID string
	err := p.pool.QueryRow(ctx, `
		UPDATE content_hashes
		SET    reference_count = reference_count + 1
		WHERE  content_hash = $1
		RETURNING memory_id`, contentHash,
	).Scan(&memoryID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("primary: content hash lookup: %w", err)
	}
	return memoryID, nil
}

// ReserveContentHash atomically claims contentHash for memoryID. The upsert
// on the primary key is what serializes concurrent stores of identical
// content: exactly one caller gets reserved=true; every other caller gets
// the winner's memory id back (with the record's reference_count bumped).
func (p *PrimaryProvider) ReserveContentHash(ctx context.Context, contentHash, memoryID string) (string, bool, error) {
	const q = `
		INSERT INTO content_hashes (content_hash, memory_id)
		VALUES ($1, $2)
		ON CONFLICT (content_hash) DO UPDATE SET
		    reference_count = content_hashes.reference_count + 1
		RETURNING memory_id, (xmax = 0) AS inserted`

	var (
		owner    string
		inserted bool
	)
	if err := p.pool.QueryRow(ctx, q, contentHash, memoryID).Scan(&owner, &inserted); err != nil {
		return "", false, fmt.Errorf("primary: reserve content hash: %w", err)
	}
	if inserted {
		return "", true, nil
	}
	return owner, false, nil
}

// ReleaseContentHash undoes a reservation after the memory write it was
// made for failed. Only the reserving memoryID can release its hash.
func (p *PrimaryProvider) ReleaseContentHash(ctx context.Context, contentHash, memoryID string) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM content_hashes WHERE content_hash = $1 AND memory_id = $2`,
		contentHash, memoryID)
	if err != nil {
		return fmt.Errorf("primary: release content hash: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// helpers
// ─────────────────────────────────────────────────────────────────────────────

func buildFilterClauses(filter memory.QueryFilter, next func(any) string) []string {
	var conditions []string
	if filter.UserID != "" {
		conditions = append(conditions, "user_id = "+next(filter.UserID))
	}
	if !filter.After.IsZero() {
		conditions = append(conditions, "created_at > "+next(filter.After))
	}
	if !filter.Before.IsZero() {
		conditions = append(conditions, "created_at < "+next(filter.Before))
	}
	if filter.ImportanceMin != 0 {
		conditions = append(conditions, "importance_score >= "+next(filter.ImportanceMin))
	}
	if filter.ImportanceMax != 0 {
		conditions = append(conditions, "importance_score <= "+next(filter.ImportanceMax))
	}
	for k, v := range filter.MetadataEquals {
		conditions = append(conditions, fmt.Sprintf("metadata->>%s = %s", next(k), next(fmt.Sprintf("%v", v))))
	}
	return conditions
}

func scanScoredMemory(row pgx.CollectableRow) (memory.ScoredMemory, error) {
	var (
		sm   memory.ScoredMemory
		vec  *pgvector.Vector
		meta []byte
	)
	if err := row.Scan(
		&sm.Memory.ID,
		&sm.Memory.UserID,
		&sm.Memory.Content,
		&vec,
		&meta,
		&sm.Memory.ImportanceScore,
		&sm.Memory.ContentHash,
		&sm.Memory.CreatedAt,
		&sm.Memory.UpdatedAt,
		&sm.Similarity,
	); err != nil {
		return memory.ScoredMemory{}, err
	}
	if vec != nil {
		sm.Memory.Embedding = vec.Slice()
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &sm.Memory.Metadata); err != nil {
			return memory.ScoredMemory{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	sm.Provider = memory.ProviderPrimary
	return sm, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// timeNow is a seam for tests; production code always uses time.Now.
var timeNow = func() time.Time { return time.Now() }
