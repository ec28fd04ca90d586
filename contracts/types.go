// Package contracts defines the core types and interfaces for the
// orchestration runtime: policies, task specs, results, the worker
// capability contract and the telemetry sink contract.
package contracts

// RunID uniquely identifies an orchestration run.
type RunID string

// TaskID uniquely identifies a task within a run.
type TaskID string

// TaskStatus is the terminal status of a task. The values are wire
// values: they appear verbatim in telemetry events.
type TaskStatus string

const (
	StatusSuccess  TaskStatus = "success"
	StatusFailed   TaskStatus = "failed"
	StatusTimeout  TaskStatus = "timeout"
	StatusCanceled TaskStatus = "canceled"
)

// Terminal reports whether the status is a valid terminal status.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusTimeout, StatusCanceled:
		return true
	default:
		return false
	}
}

// BackoffKind selects how the delay between retry attempts grows.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// FairnessKind is a scheduling order hint. It is advisory only: the
// driver may use it to order dispatch, but no ordering guarantee beyond
// gate availability exists across tasks.
type FairnessKind string

const (
	FairnessRoundRobin    FairnessKind = "round_robin"
	FairnessShortestFirst FairnessKind = "shortest_first"
)

// CancellationKind declares how a task failure relates to its siblings.
// Only isolated semantics are implemented: one task's failure never
// cancels siblings. The cascading value is accepted and preserved but
// currently behaves as isolated.
type CancellationKind string

const (
	CancellationIsolated  CancellationKind = "isolated"
	CancellationCascading CancellationKind = "cascading"
)

// Event is a single telemetry record. Events are flat JSON-like maps;
// the emitter stamps ts and the type field identifies the payload shape.
type Event map[string]any
