// Package postgres provides the PostgreSQL-backed [memory.VectorProvider]
// implementations used as NexusMem's primary and graph stores.
//
// Both providers share a single [pgxpool.Pool]. The pgvector extension is
// installed automatically by [Migrate]. Construction is fully synchronous:
// [NewStore] does not return until the pool is connected, pgvector types are
// registered, the schema is migrated, and the table statistics are
// refreshed — a caller never observes a provider reporting healthy before
// it can actually serve requests.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	primary := store.Primary() // memory.VectorProvider
//	graph := store.Graph()     // memory.GraphStore
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/vonbase/nexusmem/pkg/memory"
)

// Compile-time interface checks.
var (
	_ memory.VectorProvider = (*PrimaryProvider)(nil)
	_ memory.GraphStore     = (*GraphProvider)(nil)
)

// Store is the composition root for the Postgres-backed providers. It holds
// a single connection pool and exposes [Store.Primary] and [Store.Graph].
type Store struct {
	pool    *pgxpool.Pool
	primary *PrimaryProvider
	graph   *GraphProvider
}

// Option adjusts the pool configuration before [NewStore] connects.
type Option func(*pgxpool.Config)

// WithPoolBounds bounds the connection pool. Zero values leave pgxpool's
// defaults in place.
func WithPoolBounds(minConns, maxConns int) Option {
	return func(cfg *pgxpool.Config) {
		if minConns > 0 {
			cfg.MinConns = int32(minConns)
		}
		if maxConns > 0 {
			cfg.MaxConns = int32(maxConns)
		}
	}
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// and runs [Migrate] to ensure all required tables, indexes, and extensions
// exist before returning.
//
// embeddingDimensions must match the output dimension of the configured
// embedding model. Changing this value after the first migration requires a
// manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	for _, opt := range opts {
		opt(cfg)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:    pool,
		primary: &PrimaryProvider{pool: pool},
		graph:   &GraphProvider{pool: pool},
	}, nil
}

// Primary returns the [memory.VectorProvider] implementation backed by the
// HNSW-indexed memories table.
func (s *Store) Primary() *PrimaryProvider { return s.primary }

// Graph returns the [memory.GraphStore] implementation backed by the
// relational entities/relationships tables.
func (s *Store) Graph() *GraphProvider { return s.graph }

// Pool exposes the underlying connection pool for callers that need raw SQL
// access (integration tests, migration tooling).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
