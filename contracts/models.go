package contracts

import (
	"fmt"
	"time"
)

// RetryPolicy controls the per-task retry loop.
type RetryPolicy struct {
	// MaxAttempts is the total number of invocation attempts (>= 1).
	MaxAttempts int

	// Backoff selects the delay growth between attempts.
	Backoff BackoffKind

	// BaseDelay is the delay before the second attempt. Exponential
	// backoff doubles it for every further attempt.
	BaseDelay time.Duration

	// Jitter is a 0..1 proportion. It is part of the policy contract
	// but has no effect on the computed delay.
	Jitter float64
}

// Validate rejects malformed retry policies at construction time.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be >= 1, got %d: %w", p.MaxAttempts, ErrInvalidPolicy)
	}
	if p.Backoff != BackoffFixed && p.Backoff != BackoffExponential {
		return fmt.Errorf("retry backoff %q is not fixed or exponential: %w", p.Backoff, ErrInvalidPolicy)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("retry base_delay must not be negative: %w", ErrInvalidPolicy)
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return fmt.Errorf("retry jitter must be in [0,1], got %v: %w", p.Jitter, ErrInvalidPolicy)
	}
	return nil
}

// DefaultRetryPolicy returns the policy used when a caller supplies none.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     BackoffExponential,
		BaseDelay:   500 * time.Millisecond,
	}
}

// RunPolicy bounds one orchestration run. It is constructed by the
// caller and never mutated by the engine.
type RunPolicy struct {
	// MaxConcurrency bounds the number of in-flight tasks (>= 1).
	MaxConcurrency int

	// Retry is the per-task retry policy.
	Retry RetryPolicy

	// Timeout is the per-attempt timeout. Zero disables it. A timed-out
	// attempt is terminal for its task; timeouts are never retried.
	Timeout time.Duration

	// CostBudget is an advisory USD budget for the run.
	CostBudget float64

	// Fairness is a dispatch order hint. Advisory only.
	Fairness FairnessKind

	// Cancellation declares isolated vs cascading failure handling.
	// Only isolated semantics are implemented.
	Cancellation CancellationKind
}

// Validate rejects malformed run policies at construction time.
func (p RunPolicy) Validate() error {
	if p.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be >= 1, got %d: %w", p.MaxConcurrency, ErrInvalidPolicy)
	}
	if err := p.Retry.Validate(); err != nil {
		return err
	}
	if p.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative: %w", ErrInvalidPolicy)
	}
	if p.CostBudget < 0 {
		return fmt.Errorf("cost_budget must not be negative: %w", ErrInvalidPolicy)
	}
	if p.Fairness != "" && p.Fairness != FairnessRoundRobin && p.Fairness != FairnessShortestFirst {
		return fmt.Errorf("fairness %q is not round_robin or shortest_first: %w", p.Fairness, ErrInvalidPolicy)
	}
	if p.Cancellation != "" && p.Cancellation != CancellationIsolated && p.Cancellation != CancellationCascading {
		return fmt.Errorf("cancellation %q is not isolated or cascading: %w", p.Cancellation, ErrInvalidPolicy)
	}
	return nil
}

// DefaultRunPolicy returns a run policy with conservative defaults.
func DefaultRunPolicy() RunPolicy {
	return RunPolicy{
		MaxConcurrency: 4,
		Retry:          DefaultRetryPolicy(),
		Fairness:       FairnessRoundRobin,
		Cancellation:   CancellationIsolated,
	}
}

// TaskSpec describes one unit of work. It is owned exclusively by the
// caller and read-only to the engine. An empty ID is auto-generated at
// dispatch.
type TaskSpec struct {
	ID            TaskID
	WorkerFactory WorkerFactory
	Prompt        string
	Params        map[string]any
}

// TaskResult is produced exactly once per task by the scheduler and is
// immutable after it is returned.
type TaskResult struct {
	ID         TaskID
	WorkerName string
	Status     TaskStatus
	StartedAt  time.Time
	FinishedAt time.Time

	// Attempts is the number of invocation attempts made (>= 1 for any
	// task whose worker was constructed).
	Attempts int

	// Artifacts is the opaque result payload, present on success.
	Artifacts map[string]any

	// Errors holds the accumulated failure causes, present on failure
	// and timeout.
	Errors []string
}

// Duration is the wall time the task spent from start to terminal state.
func (r TaskResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunResult aggregates the task results of one run with run-level metrics.
type RunResult struct {
	RunID     RunID
	Results   []TaskResult
	WallTime  time.Duration
	TaskCount int
}

// CountByStatus returns how many tasks finished with the given status.
func (r RunResult) CountByStatus(status TaskStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// Edge is one dependency: To must not start before From settles.
type Edge struct {
	From TaskID
	To   TaskID
}

// TaskGraph is a DAG of task specs. The edge relation must be acyclic;
// violated graphs fail fast before any task runs.
type TaskGraph struct {
	Nodes map[TaskID]TaskSpec
	Edges []Edge
}

// Validate checks that every edge endpoint names a known node. Cycle
// detection happens during leveling, before any task executes.
func (g TaskGraph) Validate() error {
	for _, e := range g.Edges {
		if _, ok := g.Nodes[e.From]; !ok {
			return fmt.Errorf("edge %s -> %s: upstream %s: %w", e.From, e.To, e.From, ErrDepNotFound)
		}
		if _, ok := g.Nodes[e.To]; !ok {
			return fmt.Errorf("edge %s -> %s: downstream %s: %w", e.From, e.To, e.To, ErrDepNotFound)
		}
	}
	return nil
}
