// Package orchestration implements the execution core: a single-task
// scheduler with retry, timeout and heartbeat semantics, a
// bounded-concurrency fan-out driver, and a DAG executor that runs
// dependency levels through the driver.
package orchestration

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/taskmill/runtime/contracts"
	"github.com/taskmill/runtime/internal/telemetry"
)

// DefaultHeartbeatInterval is used when the caller does not configure one.
const DefaultHeartbeatInterval = 5 * time.Second

var (
	errAttemptTimeout = errors.New("attempt timed out")
	errRunCanceled    = errors.New("run canceled")
)

// TaskScheduler executes one task to a terminal state. It never returns
// task-level failures as errors: every outcome is captured in the
// TaskResult. Only programming errors (a spec without a factory)
// propagate.
//
// Thread-safety: a TaskScheduler is immutable after construction and
// safe for concurrent RunTask calls.
type TaskScheduler struct {
	runID             contracts.RunID
	policy            contracts.RunPolicy
	sink              contracts.EventSink
	heartbeatInterval time.Duration
}

// NewTaskScheduler creates a scheduler for one run. A nil sink discards
// events; a non-positive heartbeat interval gets the default.
func NewTaskScheduler(runID contracts.RunID, policy contracts.RunPolicy, sink contracts.EventSink, heartbeatInterval time.Duration) *TaskScheduler {
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	if heartbeatInterval <= 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}
	return &TaskScheduler{
		runID:             runID,
		policy:            policy,
		sink:              sink,
		heartbeatInterval: heartbeatInterval,
	}
}

// RunTask executes the spec's worker under the run policy: construct the
// worker once, start a heartbeat loop, then attempt the invocation up to
// MaxAttempts times with backoff. Timeouts and cancellations are
// terminal and never retried; worker construction failure is terminal
// and counts as one attempt.
func (s *TaskScheduler) RunTask(ctx context.Context, spec contracts.TaskSpec) (contracts.TaskResult, error) {
	if spec.WorkerFactory == nil {
		return contracts.TaskResult{}, contracts.ErrNilFactory
	}

	res := contracts.TaskResult{
		ID:        spec.ID,
		StartedAt: time.Now().UTC(),
	}

	worker, err := spec.WorkerFactory(ctx)
	if err != nil {
		// Construction failure is not retried, unlike invocation failure.
		res.Status = contracts.StatusFailed
		res.Attempts = 1
		res.Errors = []string{err.Error()}
		res.FinishedAt = time.Now().UTC()
		s.sink.Emit(telemetry.TaskFinished(s.runID, res, nil, ""))
		return res, nil
	}
	res.WorkerName = worker.Name()

	stopHeartbeat := s.startHeartbeat(spec.ID, worker.Name(), res.StartedAt)
	defer stopHeartbeat()

	maxAttempts := s.policy.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var causes []string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt
		s.sink.Emit(telemetry.TaskStarted(s.runID, spec.ID, worker.Name(), attempt))

		artifacts, invErr := s.invoke(ctx, worker, spec)
		switch {
		case invErr == nil:
			res.Status = contracts.StatusSuccess
			res.Artifacts = artifacts
			res.FinishedAt = time.Now().UTC()
			usage, model := extractUsage(artifacts)
			s.sink.Emit(telemetry.TaskFinished(s.runID, res, usage, model))
			return res, nil

		case errors.Is(invErr, errAttemptTimeout):
			res.Status = contracts.StatusTimeout
			res.Errors = append(causes, "timeout")
			res.FinishedAt = time.Now().UTC()
			s.sink.Emit(telemetry.TaskFinished(s.runID, res, nil, ""))
			return res, nil

		case errors.Is(invErr, errRunCanceled):
			res.Status = contracts.StatusCanceled
			res.Errors = append(causes, context.Cause(ctx).Error())
			res.FinishedAt = time.Now().UTC()
			s.sink.Emit(telemetry.TaskFinished(s.runID, res, nil, ""))
			return res, nil

		default:
			causes = append(causes, invErr.Error())
			if attempt == maxAttempts {
				break
			}
			if err := s.backoff(ctx, attempt); err != nil {
				res.Status = contracts.StatusCanceled
				res.Errors = append(causes, err.Error())
				res.FinishedAt = time.Now().UTC()
				s.sink.Emit(telemetry.TaskFinished(s.runID, res, nil, ""))
				return res, nil
			}
		}
	}

	res.Status = contracts.StatusFailed
	res.Errors = causes
	res.FinishedAt = time.Now().UTC()
	s.sink.Emit(telemetry.TaskFinished(s.runID, res, nil, ""))
	return res, nil
}

// invoke races one worker invocation against the per-attempt timeout and
// the run context. The worker goroutine writes to a buffered channel so
// an abandoned attempt cannot leak a blocked sender.
func (s *TaskScheduler) invoke(ctx context.Context, worker contracts.Worker, spec contracts.TaskSpec) (map[string]any, error) {
	attemptCtx := ctx
	if s.policy.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, s.policy.Timeout)
		defer cancel()
	}

	type outcome struct {
		artifacts map[string]any
		err       error
	}
	ch := make(chan outcome, 1)
	go func() {
		artifacts, err := worker.Invoke(attemptCtx, spec.Prompt, spec.Params)
		ch <- outcome{artifacts: artifacts, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			// A cooperative worker may surface our own deadline as its error.
			if errors.Is(out.err, context.DeadlineExceeded) && s.policy.Timeout > 0 && ctx.Err() == nil {
				return nil, errAttemptTimeout
			}
			if ctx.Err() != nil && errors.Is(out.err, context.Canceled) {
				return nil, errRunCanceled
			}
		}
		return out.artifacts, out.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, errRunCanceled
		}
		return nil, errAttemptTimeout
	}
}

// backoff sleeps the computed delay before the next attempt, aborting
// early if the run context is cancelled.
func (s *TaskScheduler) backoff(ctx context.Context, attempt int) error {
	delay := backoffDelay(s.policy.Retry, attempt)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// backoffDelay computes the wait after the given attempt number: a
// constant BaseDelay for fixed backoff, BaseDelay * 2^(attempt-1) for
// exponential. The policy's jitter field does not alter the result.
func backoffDelay(p contracts.RetryPolicy, attempt int) time.Duration {
	if p.Backoff == contracts.BackoffExponential {
		return p.BaseDelay * time.Duration(1<<(attempt-1))
	}
	return p.BaseDelay
}

// startHeartbeat spawns the per-task liveness loop. The returned stop
// function cancels the loop and joins it; RunTask defers it so no
// heartbeat goroutine ever outlives its task.
func (s *TaskScheduler) startHeartbeat(taskID contracts.TaskID, agent string, startedAt time.Time) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s.sink.Emit(telemetry.Heartbeat(s.runID, taskID, agent, time.Since(startedAt).Seconds()))
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// extractUsage pulls optional usage/model metadata out of a success
// payload for cost accounting. It checks the top level first, then one
// level down under response and data.
func extractUsage(artifacts map[string]any) (map[string]any, string) {
	if artifacts == nil {
		return nil, ""
	}
	usage, model := usageAndModel(artifacts)
	for _, key := range []string{"response", "data"} {
		if usage != nil && model != "" {
			break
		}
		nested, ok := artifacts[key].(map[string]any)
		if !ok {
			continue
		}
		nestedUsage, nestedModel := usageAndModel(nested)
		if usage == nil {
			usage = nestedUsage
		}
		if model == "" {
			model = nestedModel
		}
	}
	return usage, model
}

func usageAndModel(m map[string]any) (map[string]any, string) {
	usage, _ := m["usage"].(map[string]any)
	model, _ := m["model"].(string)
	return usage, model
}
