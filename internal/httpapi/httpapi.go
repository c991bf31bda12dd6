// Package httpapi implements NexusMem's HTTP surface: a chi
// router exposing memory storage/query/delete, bulk import/export, and
// knowledge-graph endpoints over the [unifiedstore.Store] orchestrator.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/vonbase/nexusmem/internal/importexport"
	"github.com/vonbase/nexusmem/internal/observe"
	"github.com/vonbase/nexusmem/internal/unifiedstore"
)

// Config tunes the HTTP adapter's view of which optional providers are
// configured, for the `/providers` listing.
type Config struct {
	SecondaryEnabled bool
	GraphEnabled     bool

	// AllowedOrigins configures CORS for browser-based callers. A nil slice
	// allows any origin (it is treated as []string{"*"}).
	AllowedOrigins []string
}

// Server holds the dependencies every handler needs and builds the chi
// router. Construct with [NewServer].
type Server struct {
	store    *unifiedstore.Store
	importer *importexport.Manager
	metrics  *observe.Metrics
	validate *validator.Validate
	cfg      Config

	startedAt time.Time
}

// NewServer constructs a [Server]. metrics may be nil, in which case
// [observe.DefaultMetrics] is used.
func NewServer(store *unifiedstore.Store, importer *importexport.Manager, metrics *observe.Metrics, cfg Config) *Server {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Server{
		store:     store,
		importer:  importer,
		metrics:   metrics,
		validate:  validator.New(),
		cfg:       cfg,
		startedAt: time.Now(),
	}
}

// Routes builds the complete router: global middleware, CORS, and every
// endpoint the service exposes.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(observe.Middleware(s.metrics))

	origins := s.cfg.AllowedOrigins
	if origins == nil {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/providers", s.handleProviders)

	r.Post("/memories", s.handleStoreMemory)
	r.Post("/memories/query", s.handleQueryMemories)
	r.Get("/memories/stats", s.handleMemoryStats)
	r.Get("/memories", s.handleListMemories)
	r.Get("/memories/{id}", s.handleGetMemory)
	r.Delete("/memories/{id}", s.handleDeleteMemory)

	r.Route("/api/v1/memories", func(r chi.Router) {
		r.Post("/import", s.handleStartImport)
		r.Get("/import/{job_id}/status", s.handleImportStatus)
		r.Delete("/import/{job_id}", s.handleCancelImport)
		r.Post("/export", s.handleExport)
		r.Get("/export/gdpr/{user_id}", s.handleGDPRExport)
	})

	r.Get("/graph/stats", s.handleGraphStats)
	r.Post("/graph/query", s.handleGraphQuery)
	r.Get("/graph/explore/{entity_name}", s.handleGraphExplore)
	r.Get("/graph/path/{from}/{to}", s.handleGraphPath)
	r.Get("/graph/insights/{memory_id}", s.handleGraphInsights)
	r.Post("/graph/sync/{memory_id}", s.handleGraphSync)
	r.Post("/graph/bulk-sync", s.handleGraphBulkSync)

	return r
}
