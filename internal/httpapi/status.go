package httpapi

import (
	"net/http"
	"time"

	"github.com/vonbase/nexusmem/pkg/memory"
)

// statusRank orders provider statuses from healthiest to least healthy so
// the aggregate can take the highest rank, the least healthy status.
var statusRank = map[memory.ProviderStatus]int{
	memory.StatusHealthy:     0,
	memory.StatusDegraded:    1,
	memory.StatusUnavailable: 2,
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := s.store.HealthCheck(r.Context())
	overall := memory.StatusHealthy
	for _, h := range statuses {
		if statusRank[h.Status] > statusRank[overall] {
			overall = h.Status
		}
	}

	counts, err := s.store.Stats(r.Context())
	total := 0
	if err == nil {
		total = counts["primary"]
	}

	providers := make(map[string]map[string]any, len(statuses))
	for name, h := range statuses {
		providers[name] = map[string]any{
			"status":  string(h.Status),
			"detail":  h.Detail,
			"latency": h.Latency.String(),
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":         string(overall),
		"providers":      providers,
		"total_memories": total,
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
	})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	statuses := s.store.HealthCheck(r.Context())
	counts, _ := s.store.Stats(r.Context())

	providers := []map[string]any{
		{
			"name":    "primary",
			"enabled": true,
			"primary": true,
			"stats":   providerStats(statuses, counts, "primary"),
		},
		{
			"name":    "secondary",
			"enabled": s.cfg.SecondaryEnabled,
			"primary": false,
			"stats":   providerStats(statuses, counts, "secondary"),
		},
		{
			"name":    "graph",
			"enabled": s.cfg.GraphEnabled,
			"primary": false,
			"stats":   providerStats(statuses, counts, "graph"),
		},
	}

	respondJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

func providerStats(statuses map[string]memory.Health, counts map[string]int, name string) map[string]any {
	stats := map[string]any{}
	if h, ok := statuses[name]; ok {
		stats["status"] = string(h.Status)
		stats["latency"] = h.Latency.String()
	}
	if n, ok := counts[name]; ok {
		stats["count"] = n
	}
	return stats
}
