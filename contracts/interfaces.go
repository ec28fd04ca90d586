package contracts

import "context"

// Worker is the single capability the engine requires from an external
// agent implementation: given a prompt and parameters, produce a result
// payload or fail. The payload may carry usage/model metadata for cost
// accounting, either at the top level or nested under response/data.
//
// Invoke must respect ctx: a timed-out attempt has its context cancelled
// and the engine stops waiting for it.
type Worker interface {
	// Name identifies the worker in telemetry events.
	Name() string

	// Invoke executes one attempt.
	Invoke(ctx context.Context, prompt string, params map[string]any) (map[string]any, error)
}

// WorkerFactory constructs a worker for one task. Construction failure
// is terminal for the task and is never retried, unlike invocation
// failure.
type WorkerFactory func(ctx context.Context) (Worker, error)

// EventSink receives telemetry events as a side channel of execution.
// Emit is best-effort: implementations must never block the caller on
// slow I/O paths, never panic and never surface errors to the engine.
type EventSink interface {
	Emit(event Event)
}
