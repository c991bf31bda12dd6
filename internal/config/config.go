// Package config provides NexusMem's configuration schema and loader.
//
// Configuration is primarily environment-variable driven: the recognized
// keys (PRIMARY_DSN, EMBEDDING_PROVIDER, …) are bound verbatim with viper,
// with an optional YAML file for local/dev overrides layered underneath.
// See [Load] and [Validate].
package config

import "time"

// Config is the root configuration structure for the NexusMem service.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Primary  PrimaryConfig  `mapstructure:"primary"`
	Secondary SecondaryConfig `mapstructure:"secondary"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Dedup    DedupConfig    `mapstructure:"dedup"`
	Graph    GraphConfig    `mapstructure:"graph"`
	Import   ImportConfig   `mapstructure:"import"`
}

// ServerConfig holds network and logging settings for the HTTP API.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `mapstructure:"listen_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel string `mapstructure:"log_level"`
}

// PrimaryConfig configures the pgvector-backed primary provider.
type PrimaryConfig struct {
	// DSN is the PostgreSQL connection string. Bound from PRIMARY_DSN.
	DSN string `mapstructure:"dsn"`

	// MinPoolSize is the minimum number of pooled connections. Default 5.
	MinPoolSize int `mapstructure:"min_pool_size"`

	// MaxPoolSize is the maximum number of pooled connections. Bound from
	// MAX_POOL_SIZE. Default 20.
	MaxPoolSize int `mapstructure:"max_pool_size"`
}

// SecondaryConfig configures the embedded best-effort secondary provider.
type SecondaryConfig struct {
	// Enabled toggles the secondary (Badger) provider on or off.
	Enabled bool `mapstructure:"enabled"`

	// Path is the filesystem directory backing the embedded database.
	Path string `mapstructure:"path"`
}

// EmbeddingConfig selects and configures the embedding provider implementation.
type EmbeddingConfig struct {
	// Provider selects the implementation. Bound from EMBEDDING_PROVIDER.
	// Valid values: "remote", "mock", "ollama".
	Provider string `mapstructure:"provider"`

	// Dimension is the fixed embedding vector length. Bound from
	// EMBEDDING_DIMENSION. Default 1536.
	Dimension int `mapstructure:"dimension"`

	// APIKey authenticates against the remote embedding service.
	APIKey string `mapstructure:"api_key"`

	// BaseURL overrides the remote provider's default endpoint.
	BaseURL string `mapstructure:"base_url"`

	// Model selects the remote provider's model identifier.
	Model string `mapstructure:"model"`
}

// DedupConfig configures the Deduplicator.
type DedupConfig struct {
	// Mode selects the Deduplicator's behavior. Bound from
	// DEDUPLICATION_MODE. Valid values: "log_only", "active".
	Mode string `mapstructure:"mode"`

	// SimilarityThreshold is the cosine-similarity cutoff for declaring a
	// semantic duplicate. Bound from DEDUP_SIMILARITY_THRESHOLD. Default
	// 0.95.
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`

	// CacheSize bounds the in-process LRU hash cache. Default 50000.
	CacheSize int `mapstructure:"cache_size"`
}

// GraphConfig configures the knowledge-graph sync pipeline.
type GraphConfig struct {
	// Enabled toggles the graph provider and sync pipeline. Bound from
	// GRAPH_ENABLED.
	Enabled bool `mapstructure:"enabled"`

	// SyncMode selects when extraction runs relative to Store. Bound from
	// GRAPH_SYNC_MODE. Valid values: "inline", "background".
	SyncMode string `mapstructure:"sync_mode"`

	// InlineDeadline bounds inline sync latency. Default 200ms.
	InlineDeadline time.Duration `mapstructure:"inline_deadline"`

	// QueueSize bounds the background worker's pending-work channel.
	// Default 1000.
	QueueSize int `mapstructure:"queue_size"`

	// ExtractorKind selects the EntityExtractor implementation to prefer at
	// startup. Valid values: "statistical", "regex". Falls back to "regex"
	// if "statistical" cannot initialize.
	ExtractorKind string `mapstructure:"extractor_kind"`
}

// ImportConfig configures the bulk import pipeline.
type ImportConfig struct {
	// BatchSize is the number of records grouped per import batch. Bound
	// from IMPORT_BATCH_SIZE. Default 100.
	BatchSize int `mapstructure:"batch_size"`

	// Parallelism bounds concurrent record writes within each import batch;
	// batches run one after another. Bound from IMPORT_PARALLELISM. Default 8.
	Parallelism int `mapstructure:"parallelism"`
}

// Defaults returns a [Config] populated with the built-in defaults,
// before any environment or file overrides are applied.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   "info",
		},
		Primary: PrimaryConfig{
			MinPoolSize: 5,
			MaxPoolSize: 20,
		},
		Secondary: SecondaryConfig{
			Enabled: true,
			Path:    "./data/secondary",
		},
		Embedding: EmbeddingConfig{
			Provider:  "mock",
			Dimension: 1536,
		},
		Dedup: DedupConfig{
			Mode:                "log_only",
			SimilarityThreshold: 0.95,
			CacheSize:           50_000,
		},
		Graph: GraphConfig{
			Enabled:        true,
			SyncMode:       "inline",
			InlineDeadline: 200 * time.Millisecond,
			QueueSize:      1000,
			ExtractorKind:  "statistical",
		},
		Import: ImportConfig{
			BatchSize:   100,
			Parallelism: 8,
		},
	}
}
