package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/taskmill/runtime/internal/telemetry"
)

// Result caps for GET /api/v1/events.
const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// Handlers contains the HTTP handler methods for the query API.
type Handlers struct {
	agg    *telemetry.Aggregator
	logger *slog.Logger
}

// NewHandlers creates a Handlers instance over the given aggregator.
func NewHandlers(agg *telemetry.Aggregator, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{agg: agg, logger: logger}
}

// HandleSummary handles GET /api/v1/summary?since=&run_id=.
func (h *Handlers) HandleSummary(w http.ResponseWriter, r *http.Request) {
	since := r.URL.Query().Get("since")
	runID := r.URL.Query().Get("run_id")

	summary := h.agg.Summarize(since, runID)
	writeOK(w, SummaryResponse{Since: since, RunID: runID, Summary: summary})
}

// HandleEvents handles GET /api/v1/events?since=&grep=&limit=.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultEventLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			WriteError(w, fmt.Errorf("limit %q: %w", raw, ErrBadQuery))
			return
		}
		limit = min(n, maxEventLimit)
	}

	events := h.agg.ListEvents(q.Get("since"), q.Get("grep"), limit)
	writeOK(w, EventsResponse{Count: len(events), Events: events})
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, HealthResponse{Status: "ok"})
}

func writeOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	writeJSON(w, v)
}

func writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}
