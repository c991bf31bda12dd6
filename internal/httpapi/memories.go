package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vonbase/nexusmem/internal/apierr"
	"github.com/vonbase/nexusmem/internal/unifiedstore"
	"github.com/vonbase/nexusmem/pkg/memory"
)

// storeMemoryRequest is the body of POST /memories.
type storeMemoryRequest struct {
	Content         string         `json:"content" validate:"required"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ImportanceScore float64        `json:"importance_score,omitempty" validate:"omitempty,min=0,max=1"`
	UserID          string         `json:"user_id,omitempty"`
	ConversationID  string         `json:"conversation_id,omitempty"`
}

func (s *Server) handleStoreMemory(w http.ResponseWriter, r *http.Request) {
	var req storeMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, apierr.Wrap(apierr.InvalidRequest, err, "decode request body"))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	meta := req.Metadata
	if req.ConversationID != "" {
		if meta == nil {
			meta = map[string]any{}
		}
		meta["conversation_id"] = req.ConversationID
	}
	importance := req.ImportanceScore
	if importance == 0 {
		importance = 0.5
	}

	result, err := s.store.Store(r.Context(), memory.Memory{
		UserID:          req.UserID,
		Content:         req.Content,
		Metadata:        meta,
		ImportanceScore: importance,
	})
	if err != nil {
		respondError(w, r, apierr.Wrap(apierr.StorageUnavailable, err, "store memory"))
		return
	}
	if result.Rejected {
		respondJSON(w, http.StatusOK, map[string]any{
			"id":           result.Dedup.ExistingID,
			"is_duplicate": true,
			"reason":       result.Dedup.Reason,
		})
		return
	}

	respondJSON(w, http.StatusCreated, memoryResponse(result.Memory))
}

// queryMemoriesRequest is the body of POST /memories/query.
type queryMemoriesRequest struct {
	Query          string         `json:"query"`
	Limit          int            `json:"limit,omitempty"`
	MinSimilarity  float64        `json:"min_similarity,omitempty"`
	Filters        map[string]any `json:"filters,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
}

func (s *Server) handleQueryMemories(w http.ResponseWriter, r *http.Request) {
	var req queryMemoriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, apierr.Wrap(apierr.InvalidRequest, err, "decode request body"))
		return
	}

	filter := memory.QueryFilter{UserID: req.UserID, MetadataEquals: req.Filters}
	if req.ConversationID != "" {
		if filter.MetadataEquals == nil {
			filter.MetadataEquals = map[string]any{}
		}
		filter.MetadataEquals["conversation_id"] = req.ConversationID
	}

	result, err := s.store.Query(r.Context(), req.Query, req.Limit, filter)
	if err != nil {
		respondError(w, r, apierr.Wrap(apierr.ProviderUnavailable, err, "query memories"))
		return
	}

	memories := make([]map[string]any, 0, len(result.Memories))
	for _, sm := range result.Memories {
		row := memoryResponse(sm.Memory)
		if result.Mode == unifiedstore.ModeRecent {
			// Empty-query results carry no similarity_score: recency, not
			// rank, is the ordering.
			row["similarity_score"] = nil
		} else {
			if sm.Similarity < req.MinSimilarity {
				continue
			}
			row["similarity_score"] = sm.Similarity
		}
		row["provider"] = string(sm.Provider)
		memories = append(memories, row)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"memories":       memories,
		"mode":           result.Mode,
		"providers_used": result.ProvidersUsed,
	})
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := memory.QueryFilter{
		UserID: q.Get("user_id"),
		Offset: atoiDefault(q.Get("offset"), 0),
	}
	if v := q.Get("importance_min"); v != "" {
		filter.ImportanceMin, _ = strconv.ParseFloat(v, 64)
	}
	if v := q.Get("importance_max"); v != "" {
		filter.ImportanceMax, _ = strconv.ParseFloat(v, 64)
	}
	if v := q.Get("created_after"); v != "" {
		filter.After, _ = time.Parse(time.RFC3339, v)
	}
	if v := q.Get("created_before"); v != "" {
		filter.Before, _ = time.Parse(time.RFC3339, v)
	}
	limit := atoiDefault(q.Get("limit"), 20)

	results, err := s.store.Recent(r.Context(), limit, filter)
	if err != nil {
		respondError(w, r, apierr.Wrap(apierr.ProviderUnavailable, err, "list memories"))
		return
	}

	memories := make([]map[string]any, 0, len(results))
	for _, sm := range results {
		memories = append(memories, memoryResponse(sm.Memory))
	}
	respondJSON(w, http.StatusOK, map[string]any{"memories": memories})
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := s.store.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, apierr.Wrap(apierr.ProviderUnavailable, err, "get memory"))
		return
	}
	if m.ID == "" {
		respondError(w, r, apierr.New(apierr.NotFound, "memory %q not found", id))
		return
	}
	respondJSON(w, http.StatusOK, memoryResponse(m))
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.Delete(r.Context(), id); err != nil {
		respondError(w, r, apierr.Wrap(apierr.StorageUnavailable, err, "delete memory"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	byProvider, err := s.store.Stats(r.Context())
	if err != nil {
		respondError(w, r, apierr.Wrap(apierr.ProviderUnavailable, err, "memory stats"))
		return
	}
	total := byProvider["primary"]
	respondJSON(w, http.StatusOK, map[string]any{
		"total_memories":      total,
		"memories_by_provider": byProvider,
	})
}

func memoryResponse(m memory.Memory) map[string]any {
	return map[string]any{
		"id":               m.ID,
		"user_id":          m.UserID,
		"content":          m.Content,
		"metadata":         m.Metadata,
		"importance_score": m.ImportanceScore,
		"content_hash":     m.ContentHash,
		"created_at":       m.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":       m.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
