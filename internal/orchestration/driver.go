package orchestration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/taskmill/runtime/contracts"
	"github.com/taskmill/runtime/internal/telemetry"
)

// Driver fans out tasks under one bounded-concurrency gate. Every task
// acquires the gate around its full (possibly multi-attempt) execution,
// so in-flight tasks never exceed MaxConcurrency. Failures are isolated:
// no task failure aborts siblings.
type Driver struct {
	policy            contracts.RunPolicy
	sink              contracts.EventSink
	heartbeatInterval time.Duration
}

// NewDriver creates a driver. The policy must already be validated.
func NewDriver(policy contracts.RunPolicy, sink contracts.EventSink, heartbeatInterval time.Duration) *Driver {
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	return &Driver{
		policy:            policy,
		sink:              sink,
		heartbeatInterval: heartbeatInterval,
	}
}

// RunParallel dispatches all specs, waits for every task to settle and
// aggregates wall time and task count. A fresh run ID frames the
// telemetry of this run.
func (d *Driver) RunParallel(ctx context.Context, specs []contracts.TaskSpec) (contracts.RunResult, error) {
	return d.run(ctx, contracts.RunID(uuid.NewString()), specs)
}

// run executes one batch under an existing run ID. The graph executor
// reuses it so every level of a run shares the same telemetry identity.
func (d *Driver) run(ctx context.Context, runID contracts.RunID, specs []contracts.TaskSpec) (contracts.RunResult, error) {
	prepared, err := prepareSpecs(specs, d.policy.Fairness)
	if err != nil {
		return contracts.RunResult{}, err
	}

	started := time.Now()
	d.sink.Emit(telemetry.OrchestratorStarted(runID, d.policy.MaxConcurrency, len(prepared)))

	sched := NewTaskScheduler(runID, d.policy, d.sink, d.heartbeatInterval)
	gate := semaphore.NewWeighted(int64(d.policy.MaxConcurrency))
	results := make([]contracts.TaskResult, len(prepared))

	var wg sync.WaitGroup
	for i := range prepared {
		wg.Add(1)
		go func(idx int, spec contracts.TaskSpec) {
			defer wg.Done()
			if err := gate.Acquire(ctx, 1); err != nil {
				results[idx] = canceledBeforeStart(spec, err)
				return
			}
			defer gate.Release(1)
			res, err := sched.RunTask(ctx, spec)
			if err != nil {
				// Programming error (no factory): capture rather than lose it.
				res = contracts.TaskResult{
					ID:         spec.ID,
					Status:     contracts.StatusFailed,
					StartedAt:  time.Now().UTC(),
					FinishedAt: time.Now().UTC(),
					Attempts:   1,
					Errors:     []string{err.Error()},
				}
			}
			results[idx] = res
		}(i, prepared[i])
	}
	wg.Wait()

	wall := time.Since(started)
	d.sink.Emit(telemetry.OrchestratorFinished(runID, wall.Seconds(), len(prepared)))

	return contracts.RunResult{
		RunID:     runID,
		Results:   results,
		WallTime:  wall,
		TaskCount: len(prepared),
	}, nil
}

// prepareSpecs copies the caller's slice, fills auto-generated IDs,
// rejects duplicates and applies the fairness dispatch hint.
func prepareSpecs(specs []contracts.TaskSpec, fairness contracts.FairnessKind) ([]contracts.TaskSpec, error) {
	prepared := make([]contracts.TaskSpec, len(specs))
	copy(prepared, specs)

	seen := make(map[contracts.TaskID]struct{}, len(prepared))
	for i := range prepared {
		if prepared[i].ID == "" {
			prepared[i].ID = contracts.TaskID(uuid.NewString())
		}
		if _, dup := seen[prepared[i].ID]; dup {
			return nil, fmt.Errorf("task id %s: %w", prepared[i].ID, contracts.ErrDuplicateTask)
		}
		seen[prepared[i].ID] = struct{}{}
	}

	// shortest_first is an advisory dispatch-order hint only; round_robin
	// keeps caller order.
	if fairness == contracts.FairnessShortestFirst {
		sort.SliceStable(prepared, func(i, j int) bool {
			return len(prepared[i].Prompt) < len(prepared[j].Prompt)
		})
	}
	return prepared, nil
}

// canceledBeforeStart records a task whose run context died while it was
// still waiting on the gate. No attempt was made.
func canceledBeforeStart(spec contracts.TaskSpec, err error) contracts.TaskResult {
	now := time.Now().UTC()
	return contracts.TaskResult{
		ID:         spec.ID,
		Status:     contracts.StatusCanceled,
		StartedAt:  now,
		FinishedAt: now,
		Errors:     []string{err.Error()},
	}
}
