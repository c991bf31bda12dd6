package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vonbase/nexusmem/internal/apierr"
	"github.com/vonbase/nexusmem/pkg/memory"
)

const (
	defaultExploreDepth = 2

	// maxExploreDepth caps client-supplied traversal depths. The graph
	// provider enforces the same bound; clamping here keeps a hostile
	// request from even reaching the database with an absurd value.
	maxExploreDepth = 5
)

func (s *Server) handleGraphStats(w http.ResponseWriter, r *http.Request) {
	graph := s.store.Graph()
	if graph == nil {
		respondError(w, r, apierr.New(apierr.ProviderUnavailable, "graph provider not configured"))
		return
	}
	stats, err := graph.Stats(r.Context())
	if err != nil {
		respondError(w, r, apierr.Wrap(apierr.ProviderUnavailable, err, "graph stats"))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"node_count":         stats.NodeCount,
		"relationship_count": stats.RelationshipCount,
		"type_distribution":  stats.TypeDistribution,
	})
}

// graphQueryRequest is the body of POST /graph/query.
type graphQueryRequest struct {
	QueryType   string  `json:"query_type" validate:"required,oneof=entity_search neighbors"`
	EntityName  string  `json:"entity_name,omitempty"`
	EntityType  string  `json:"entity_type,omitempty"`
	Limit       int     `json:"limit,omitempty"`
	MinStrength float64 `json:"min_strength,omitempty"`
}

func (s *Server) handleGraphQuery(w http.ResponseWriter, r *http.Request) {
	graph := s.store.Graph()
	if graph == nil {
		respondError(w, r, apierr.New(apierr.ProviderUnavailable, "graph provider not configured"))
		return
	}

	var req graphQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, apierr.Wrap(apierr.InvalidRequest, err, "decode request body"))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	switch req.QueryType {
	case "entity_search":
		nodes, err := graph.FindNodes(r.Context(), memory.EntityFilter{
			Type:         req.EntityType,
			NameContains: req.EntityName,
			Limit:        req.Limit,
		})
		if err != nil {
			respondError(w, r, apierr.Wrap(apierr.ProviderUnavailable, err, "entity search"))
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"nodes": nodeResponses(nodes)})
	case "neighbors":
		node, err := resolveEntity(r, graph, req.EntityName)
		if err != nil {
			respondError(w, r, err)
			return
		}
		depth := req.Limit
		if depth <= 0 {
			depth = defaultExploreDepth
		}
		if depth > maxExploreDepth {
			depth = maxExploreDepth
		}
		// MinStrength is not applied here: Neighbors reports reached nodes,
		// not the traversed edges, so there is no per-edge strength to filter
		// on at this layer.
		neighbors, err := graph.Neighbors(r.Context(), node.ID, depth)
		if err != nil {
			respondError(w, r, apierr.Wrap(apierr.ProviderUnavailable, err, "neighbors"))
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"nodes": nodeResponses(neighbors)})
	}
}

func (s *Server) handleGraphExplore(w http.ResponseWriter, r *http.Request) {
	graph := s.store.Graph()
	if graph == nil {
		respondError(w, r, apierr.New(apierr.ProviderUnavailable, "graph provider not configured"))
		return
	}
	name := chi.URLParam(r, "entity_name")
	node, err := resolveEntity(r, graph, name)
	if err != nil {
		respondError(w, r, err)
		return
	}
	neighbors, err := graph.Neighbors(r.Context(), node.ID, defaultExploreDepth)
	if err != nil {
		respondError(w, r, apierr.Wrap(apierr.ProviderUnavailable, err, "explore"))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"entity": nodeResponse(*node),
		"nodes":  nodeResponses(neighbors),
	})
}

func (s *Server) handleGraphPath(w http.ResponseWriter, r *http.Request) {
	graph := s.store.Graph()
	if graph == nil {
		respondError(w, r, apierr.New(apierr.ProviderUnavailable, "graph provider not configured"))
		return
	}
	from, err := resolveEntity(r, graph, chi.URLParam(r, "from"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	to, err := resolveEntity(r, graph, chi.URLParam(r, "to"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	path, err := graph.FindPath(r.Context(), from.ID, to.ID, 0)
	if err != nil {
		respondError(w, r, apierr.Wrap(apierr.ProviderUnavailable, err, "find path"))
		return
	}
	if len(path) == 0 {
		respondJSON(w, http.StatusOK, map[string]any{"path_found": false})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"path_found": true,
		"path":       nodeResponses(path),
	})
}

func (s *Server) handleGraphInsights(w http.ResponseWriter, r *http.Request) {
	graph := s.store.Graph()
	if graph == nil {
		respondError(w, r, apierr.New(apierr.ProviderUnavailable, "graph provider not configured"))
		return
	}
	memoryID := chi.URLParam(r, "memory_id")

	entities, err := graph.EntitiesForMemory(r.Context(), memoryID)
	if err != nil {
		respondError(w, r, apierr.Wrap(apierr.ProviderUnavailable, err, "graph insights"))
		return
	}

	topNeighbors := make(map[string]any, len(entities))
	for _, e := range entities {
		neighbors, err := graph.Neighbors(r.Context(), e.ID, 1)
		if err != nil {
			continue
		}
		topNeighbors[e.Name] = nodeResponses(neighbors)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"entities":      nodeResponses(entities),
		"top_neighbors": topNeighbors,
	})
}

func (s *Server) handleGraphSync(w http.ResponseWriter, r *http.Request) {
	memoryID := chi.URLParam(r, "memory_id")
	if err := s.resyncMemory(r, memoryID); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"memory_id": memoryID, "status": "synced"})
}

func (s *Server) handleGraphBulkSync(w http.ResponseWriter, r *http.Request) {
	var ids []string
	if err := json.NewDecoder(r.Body).Decode(&ids); err != nil {
		respondError(w, r, apierr.Wrap(apierr.InvalidRequest, err, "decode request body"))
		return
	}

	enqueued := 0
	var errs []string
	for _, id := range ids {
		if err := s.resyncMemory(r, id); err != nil {
			errs = append(errs, id+": "+err.Error())
			continue
		}
		enqueued++
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"enqueued": enqueued,
		"total":    len(ids),
		"errors":   errs,
	})
}

// resyncMemory fetches memoryID's content and drives it back through the
// graph-sync pipeline, for callers that need to force a resync outside the
// normal Store path (e.g. after changing the extractor configuration).
func (s *Server) resyncMemory(r *http.Request, memoryID string) error {
	syncer := s.store.GraphSyncer()
	if syncer == nil {
		return apierr.New(apierr.ProviderUnavailable, "graph sync not configured")
	}
	m, err := s.store.Get(r.Context(), memoryID)
	if err != nil {
		return apierr.Wrap(apierr.ProviderUnavailable, err, "fetch memory %q", memoryID)
	}
	if m.ID == "" {
		return apierr.New(apierr.NotFound, "memory %q not found", memoryID)
	}
	if err := syncer.Sync(r.Context(), m.ID, m.Content); err != nil {
		return apierr.Wrap(apierr.ProviderUnavailable, err, "sync memory %q", memoryID)
	}
	return nil
}

// resolveEntity looks up a node by the name callers pass in path segments and
// request bodies rather than raw entity ids. It returns the most-mentioned
// node whose name contains name, case-insensitively; an exact name match is
// not preferred over a more-mentioned node whose name merely contains it.
func resolveEntity(r *http.Request, graph memory.GraphStore, name string) (*memory.GraphNode, error) {
	nodes, err := graph.FindNodes(r.Context(), memory.EntityFilter{NameContains: name, Limit: 1})
	if err != nil {
		return nil, apierr.Wrap(apierr.ProviderUnavailable, err, "resolve entity %q", name)
	}
	if len(nodes) == 0 {
		return nil, apierr.New(apierr.NotFound, "entity %q not found", name)
	}
	return &nodes[0], nil
}

func nodeResponse(n memory.GraphNode) map[string]any {
	return map[string]any{
		"id":               n.ID,
		"type":             n.Type,
		"name":             n.Name,
		"attributes":       n.Attributes,
		"importance_score": n.ImportanceScore,
		"mention_count":    n.MentionCount,
		"created_at":       n.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":       n.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func nodeResponses(nodes []memory.GraphNode) []map[string]any {
	out := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, nodeResponse(n))
	}
	return out
}
