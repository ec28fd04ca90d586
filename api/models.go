// Package api exposes the telemetry aggregator as a read-only HTTP
// query surface for dashboards. It never writes telemetry and holds no
// state beyond the aggregator itself.
package api

import (
	"github.com/taskmill/runtime/contracts"
	"github.com/taskmill/runtime/internal/telemetry"
)

// SummaryResponse is the body of GET /api/v1/summary.
type SummaryResponse struct {
	Since   string            `json:"since"`
	RunID   string            `json:"run_id,omitempty"`
	Summary telemetry.Summary `json:"summary"`
}

// EventsResponse is the body of GET /api/v1/events.
type EventsResponse struct {
	Count  int               `json:"count"`
	Events []contracts.Event `json:"events"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorDTO is the error response body.
type ErrorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
