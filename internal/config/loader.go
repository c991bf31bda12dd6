package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// envBindings maps each mapstructure dotted key to the bare environment
// variable name it is published under (e.g. PRIMARY_DSN, not
// NEXUSMEM_PRIMARY_DSN). [Load] binds both: the bare name takes precedence,
// and a NEXUSMEM_-prefixed fallback is available for deployments that
// namespace all their environment variables.
var envBindings = map[string]string{
	"primary.dsn":                  "PRIMARY_DSN",
	"primary.max_pool_size":        "MAX_POOL_SIZE",
	"embedding.provider":           "EMBEDDING_PROVIDER",
	"embedding.dimension":          "EMBEDDING_DIMENSION",
	"embedding.api_key":            "EMBEDDING_API_KEY",
	"dedup.mode":                   "DEDUPLICATION_MODE",
	"dedup.similarity_threshold":   "DEDUP_SIMILARITY_THRESHOLD",
	"graph.enabled":                "GRAPH_ENABLED",
	"graph.sync_mode":              "GRAPH_SYNC_MODE",
	"import.batch_size":            "IMPORT_BATCH_SIZE",
	"import.parallelism":           "IMPORT_PARALLELISM",
}

// Load builds a [Config] from, in increasing priority: [Defaults], an
// optional YAML file at path (ignored if path is empty or the file does not
// exist), the NEXUSMEM_-prefixed environment, and finally the bare
// environment variable names in envBindings.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NEXUSMEM")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	def := Defaults()
	defaultsMap, err := structToMap(def)
	if err != nil {
		return nil, fmt.Errorf("config: encode defaults: %w", err)
	}
	for k, val := range defaultsMap {
		v.SetDefault(k, val)
	}

	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			v.SetConfigFile(path)
			if readErr := v.ReadInConfig(); readErr != nil {
				return nil, fmt.Errorf("config: read %q: %w", path, readErr)
			}
		} else if !os.IsNotExist(statErr) {
			return nil, fmt.Errorf("config: stat %q: %w", path, statErr)
		}
	}

	// Bare environment variable names take precedence over everything else.
	for key, envName := range envBindings {
		if raw, ok := os.LookupEnv(envName); ok {
			v.Set(key, raw)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, layering it over [Defaults]
// and validating the result. Useful in tests where configs are constructed
// from string literals; it does not consult the environment.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every validation failure found.
func Validate(cfg *Config) error {
	var errs []error

	switch cfg.Embedding.Provider {
	case "", "remote", "mock", "ollama":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider %q is invalid; valid values: remote, mock, ollama", cfg.Embedding.Provider))
	}
	if cfg.Embedding.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("embedding.dimension must be positive, got %d", cfg.Embedding.Dimension))
	}

	switch cfg.Dedup.Mode {
	case "", "log_only", "active":
	default:
		errs = append(errs, fmt.Errorf("dedup.mode %q is invalid; valid values: log_only, active", cfg.Dedup.Mode))
	}
	if cfg.Dedup.SimilarityThreshold < 0 || cfg.Dedup.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("dedup.similarity_threshold %.2f is out of range [0,1]", cfg.Dedup.SimilarityThreshold))
	}

	switch cfg.Graph.SyncMode {
	case "", "inline", "background":
	default:
		errs = append(errs, fmt.Errorf("graph.sync_mode %q is invalid; valid values: inline, background", cfg.Graph.SyncMode))
	}
	switch cfg.Graph.ExtractorKind {
	case "", "statistical", "regex":
	default:
		errs = append(errs, fmt.Errorf("graph.extractor_kind %q is invalid; valid values: statistical, regex", cfg.Graph.ExtractorKind))
	}

	if cfg.Primary.MaxPoolSize > 0 && cfg.Primary.MinPoolSize > cfg.Primary.MaxPoolSize {
		errs = append(errs, fmt.Errorf("primary.min_pool_size (%d) exceeds primary.max_pool_size (%d)", cfg.Primary.MinPoolSize, cfg.Primary.MaxPoolSize))
	}
	if cfg.Import.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("import.batch_size must be positive, got %d", cfg.Import.BatchSize))
	}
	if cfg.Import.Parallelism <= 0 {
		errs = append(errs, fmt.Errorf("import.parallelism must be positive, got %d", cfg.Import.Parallelism))
	}

	return errors.Join(errs...)
}

// structToMap flattens v into a mapstructure-dotted-key map for seeding
// viper defaults at every nesting level.
func structToMap(v Config) (map[string]any, error) {
	out := map[string]any{
		"server.listen_addr":          v.Server.ListenAddr,
		"server.log_level":            v.Server.LogLevel,
		"primary.dsn":                 v.Primary.DSN,
		"primary.min_pool_size":       v.Primary.MinPoolSize,
		"primary.max_pool_size":       v.Primary.MaxPoolSize,
		"secondary.enabled":           v.Secondary.Enabled,
		"secondary.path":              v.Secondary.Path,
		"embedding.provider":          v.Embedding.Provider,
		"embedding.dimension":         v.Embedding.Dimension,
		"embedding.api_key":           v.Embedding.APIKey,
		"embedding.base_url":          v.Embedding.BaseURL,
		"embedding.model":             v.Embedding.Model,
		"dedup.mode":                  v.Dedup.Mode,
		"dedup.similarity_threshold":  v.Dedup.SimilarityThreshold,
		"dedup.cache_size":            v.Dedup.CacheSize,
		"graph.enabled":               v.Graph.Enabled,
		"graph.sync_mode":             v.Graph.SyncMode,
		"graph.inline_deadline":       v.Graph.InlineDeadline,
		"graph.queue_size":            v.Graph.QueueSize,
		"graph.extractor_kind":        v.Graph.ExtractorKind,
		"import.batch_size":           v.Import.BatchSize,
		"import.parallelism":          v.Import.Parallelism,
	}
	return out, nil
}
