package orchestration

import (
	"context"
	"time"

	"github.com/taskmill/runtime/contracts"
	"github.com/taskmill/runtime/internal/telemetry"
)

// Engine is the assembled orchestration facade: one policy, one event
// sink, fan-out and graph execution.
type Engine struct {
	policy            contracts.RunPolicy
	sink              contracts.EventSink
	heartbeatInterval time.Duration

	driver *Driver
	graph  *GraphExecutor
}

// Option customizes an Engine.
type Option func(*Engine)

// WithSink injects the telemetry sink. Defaults to a no-op sink; wire a
// telemetry.FileSink for durable events.
func WithSink(sink contracts.EventSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithHeartbeatInterval overrides the liveness emission interval.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(e *Engine) { e.heartbeatInterval = d }
}

// New validates the policy and assembles an engine with defaults.
func New(policy contracts.RunPolicy, opts ...Option) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		policy:            policy,
		sink:              telemetry.NopSink{},
		heartbeatInterval: DefaultHeartbeatInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.driver = NewDriver(e.policy, e.sink, e.heartbeatInterval)
	e.graph = NewGraphExecutor(e.driver)
	return e, nil
}

// RunParallel executes independent tasks under the engine's policy.
func (e *Engine) RunParallel(ctx context.Context, specs []contracts.TaskSpec) (contracts.RunResult, error) {
	return e.driver.RunParallel(ctx, specs)
}

// RunGraph executes a dependency graph level by level.
func (e *Engine) RunGraph(ctx context.Context, graph contracts.TaskGraph) (contracts.RunResult, error) {
	return e.graph.RunGraph(ctx, graph)
}
