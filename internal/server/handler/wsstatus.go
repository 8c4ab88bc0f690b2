package handler

import (
	"net/http"

	"github.com/alanyoungcy/giftagg/internal/server/ws"
	"github.com/alanyoungcy/giftagg/internal/service"
)

// StatsSource reports subscriber counts.
type StatsSource interface {
	Stats() ws.Stats
}

// PublishStatsSource reports propagator counters.
type PublishStatsSource interface {
	Stats() service.PropagatorStats
}

// WSStatusHandler exposes the subscription registry and publish counters.
type WSStatusHandler struct {
	source    StatsSource
	publisher PublishStatsSource
}

// NewWSStatusHandler creates a WSStatusHandler. publisher may be nil in
// processes that never publish.
func NewWSStatusHandler(source StatsSource, publisher PublishStatsSource) *WSStatusHandler {
	return &WSStatusHandler{source: source, publisher: publisher}
}

// GetStatus responds with connection counts by scope kind.
// GET /api/ws/status
func (h *WSStatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st := h.source.Stats()
	body := map[string]any{
		"status":            "running",
		"total_connections": st.TotalConnections,
		"by_type":           st.ByType,
		"dropped":           st.Dropped,
		"reaped":            st.Reaped,
	}
	if h.publisher != nil {
		body["publisher"] = h.publisher.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}
