package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlMemories is the primary provider's schema: a single, non-partitioned
// table with exactly one HNSW cosine-distance vector index. Partitioning the
// table or adding a second (e.g. IVFFlat) index alongside the HNSW index is
// deliberately not supported: with two vector index types the planner picks
// nondeterministically, and fresh writes can land in a partition whose index
// the chosen plan never consults.
func ddlMemories(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS memories (
    id               TEXT         PRIMARY KEY,
    user_id          TEXT         NOT NULL DEFAULT '',
    content          TEXT         NOT NULL,
    embedding        vector(%d),
    metadata         JSONB        NOT NULL DEFAULT '{}',
    importance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    content_hash     TEXT         NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memories_embedding
    ON memories USING hnsw (embedding vector_cosine_ops);

CREATE INDEX IF NOT EXISTS idx_memories_created_at
    ON memories (created_at DESC);

CREATE INDEX IF NOT EXISTS idx_memories_importance
    ON memories (importance_score DESC);

CREATE INDEX IF NOT EXISTS idx_memories_user_id
    ON memories (user_id);

CREATE INDEX IF NOT EXISTS idx_memories_metadata
    ON memories USING GIN (metadata);

CREATE TABLE IF NOT EXISTS content_hashes (
    content_hash    TEXT        PRIMARY KEY,
    memory_id       TEXT        NOT NULL,
    first_seen      TIMESTAMPTZ NOT NULL DEFAULT now(),
    reference_count INT         NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_content_hashes_memory ON content_hashes (memory_id);
`, embeddingDimensions)
}

// ddlGraph is the relational knowledge-graph schema. Entities and
// relationships are plain Postgres tables sharing the primary pool; the
// traversals NexusMem runs are depth-bounded, so a native graph database
// would add an operational dependency without buying anything.
const ddlGraph = `
CREATE TABLE IF NOT EXISTS entities (
    id               TEXT         PRIMARY KEY,
    type             TEXT         NOT NULL,
    name             TEXT         NOT NULL,
    normalized_name  TEXT         NOT NULL,
    attributes       JSONB        NOT NULL DEFAULT '{}',
    importance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    mention_count    INT          NOT NULL DEFAULT 0,
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (normalized_name)
);

CREATE INDEX IF NOT EXISTS idx_entities_type ON entities (type);
CREATE INDEX IF NOT EXISTS idx_entities_name ON entities (name);

CREATE TABLE IF NOT EXISTS relationships (
    source_id        TEXT   NOT NULL REFERENCES entities (id) ON DELETE CASCADE,
    target_id        TEXT   NOT NULL REFERENCES entities (id) ON DELETE CASCADE,
    rel_type         TEXT   NOT NULL,
    strength         DOUBLE PRECISION NOT NULL DEFAULT 0,
    confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
    occurrence_count INT    NOT NULL DEFAULT 0,
    attributes       JSONB  NOT NULL DEFAULT '{}',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (source_id, target_id, rel_type)
);

CREATE INDEX IF NOT EXISTS idx_rel_source ON relationships (source_id);
CREATE INDEX IF NOT EXISTS idx_rel_target ON relationships (target_id);
CREATE INDEX IF NOT EXISTS idx_rel_type ON relationships (rel_type);

CREATE TABLE IF NOT EXISTS memory_entity_links (
    memory_id  TEXT NOT NULL REFERENCES memories (id) ON DELETE CASCADE,
    entity_id  TEXT NOT NULL REFERENCES entities (id) ON DELETE CASCADE,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (memory_id, entity_id)
);

CREATE INDEX IF NOT EXISTS idx_mel_entity ON memory_entity_links (entity_id);
`

// Migrate creates or ensures all required database tables, indexes, and
// extensions exist. It is idempotent and safe to call on every process
// start. embeddingDimensions must match the configured embedding provider's
// output dimensionality.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlMemories(embeddingDimensions),
		ddlGraph,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	if _, err := pool.Exec(ctx, "ANALYZE memories, entities, relationships"); err != nil {
		return fmt.Errorf("postgres migrate: analyze: %w", err)
	}
	return nil
}
