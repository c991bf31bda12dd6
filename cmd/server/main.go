// Command server is NexusMem's composition root: it loads configuration,
// wires every storage backend, sync pipeline, and adapter, and serves the
// HTTP API until an interrupt or termination signal arrives.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/vonbase/nexusmem/internal/config"
	"github.com/vonbase/nexusmem/internal/dedup"
	"github.com/vonbase/nexusmem/internal/extractor"
	"github.com/vonbase/nexusmem/internal/graphsync"
	"github.com/vonbase/nexusmem/internal/health"
	"github.com/vonbase/nexusmem/internal/httpapi"
	"github.com/vonbase/nexusmem/internal/importexport"
	"github.com/vonbase/nexusmem/internal/observe"
	"github.com/vonbase/nexusmem/internal/unifiedstore"
	embeddings "github.com/vonbase/nexusmem/pkg/embedding"
	"github.com/vonbase/nexusmem/pkg/embedding/deterministic"
	"github.com/vonbase/nexusmem/pkg/embedding/ollama"
	"github.com/vonbase/nexusmem/pkg/embedding/openai"
	"github.com/vonbase/nexusmem/pkg/memory"
	"github.com/vonbase/nexusmem/pkg/memory/badger"
	"github.com/vonbase/nexusmem/pkg/memory/postgres"
)

func main() {
	configPath := pflag.String("config", "", "path to an optional YAML config file")
	pflag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server: fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "nexusmem",
		ServiceVersion: "dev",
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	metrics := observe.DefaultMetrics()

	pg, err := postgres.NewStore(ctx, cfg.Primary.DSN, cfg.Embedding.Dimension,
		postgres.WithPoolBounds(cfg.Primary.MinPoolSize, cfg.Primary.MaxPoolSize))
	if err != nil {
		return fmt.Errorf("connect primary store: %w", err)
	}
	defer pg.Close()

	var secondary memory.VectorProvider
	if cfg.Secondary.Enabled {
		sp, err := badger.Open(cfg.Secondary.Path)
		if err != nil {
			return fmt.Errorf("open secondary store: %w", err)
		}
		defer sp.Close()
		secondary = sp
	}

	embedder, err := newEmbeddingProvider(cfg.Embedding)
	if err != nil {
		return fmt.Errorf("construct embedding provider: %w", err)
	}

	dd, err := dedup.New(dedup.Config{
		Mode:                dedup.Mode(cfg.Dedup.Mode),
		SimilarityThreshold: cfg.Dedup.SimilarityThreshold,
		CacheSize:           cfg.Dedup.CacheSize,
	}, pg.Primary())
	if err != nil {
		return fmt.Errorf("construct deduplicator: %w", err)
	}
	defer dd.Close()

	var graph memory.GraphStore
	var syncer *graphsync.Syncer
	if cfg.Graph.Enabled {
		graph = pg.Graph()
		ext := extractor.New(cfg.Graph.ExtractorKind)
		syncer = graphsync.New(graphsync.Config{
			InlineDeadline: cfg.Graph.InlineDeadline,
			QueueSize:      cfg.Graph.QueueSize,
			Background:     cfg.Graph.SyncMode == "background",
		}, ext, graph)
		defer syncer.Close()
	}

	store := unifiedstore.New(unifiedstore.Config{}, pg.Primary(), secondary, graph, embedder, dd, syncer, metrics)
	importer := importexport.New(store, metrics).
		WithDefaults(cfg.Import.BatchSize, cfg.Import.Parallelism)

	apiServer := httpapi.NewServer(store, importer, metrics, httpapi.Config{
		SecondaryEnabled: cfg.Secondary.Enabled,
		GraphEnabled:     cfg.Graph.Enabled,
	})

	healthHandler := health.New(health.Checker{
		Name: "primary",
		Check: func(ctx context.Context) error {
			h := store.HealthCheck(ctx)["primary"]
			if h.Status != memory.StatusHealthy {
				return errors.New(h.Detail)
			}
			return nil
		},
	})

	mux := http.NewServeMux()
	healthHandler.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", apiServer.Routes())

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server: listening", "addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

// newEmbeddingProvider constructs the [embeddings.Provider] named by
// cfg.Provider. "mock" maps to the deterministic hash-based provider so
// offline/test deployments get stable, reproducible vectors without a
// network dependency.
func newEmbeddingProvider(cfg config.EmbeddingConfig) (embeddings.Provider, error) {
	switch cfg.Provider {
	case "remote":
		return openai.New(cfg.APIKey, cfg.Model, openaiBaseURLOption(cfg.BaseURL)...)
	case "ollama":
		return ollama.New(cfg.BaseURL, cfg.Model)
	case "mock", "":
		return deterministic.New(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

func openaiBaseURLOption(baseURL string) []openai.Option {
	if baseURL == "" {
		return nil
	}
	return []openai.Option{openai.WithBaseURL(baseURL)}
}
