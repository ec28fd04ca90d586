package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmill/runtime/contracts"
	"github.com/taskmill/runtime/internal/telemetry"
)

// fakeWorker implements contracts.Worker with a pluggable invoke func.
type fakeWorker struct {
	name   string
	invoke func(ctx context.Context, prompt string, params map[string]any) (map[string]any, error)
}

func (w *fakeWorker) Name() string { return w.name }

func (w *fakeWorker) Invoke(ctx context.Context, prompt string, params map[string]any) (map[string]any, error) {
	return w.invoke(ctx, prompt, params)
}

func factoryOf(w contracts.Worker) contracts.WorkerFactory {
	return func(context.Context) (contracts.Worker, error) { return w, nil }
}

// flakyWorker fails the first failures invocations, then succeeds.
func flakyWorker(name string, failures int, artifacts map[string]any) contracts.Worker {
	var calls atomic.Int32
	return &fakeWorker{
		name: name,
		invoke: func(context.Context, string, map[string]any) (map[string]any, error) {
			if int(calls.Add(1)) <= failures {
				return nil, fmt.Errorf("transient failure %d", calls.Load())
			}
			return artifacts, nil
		},
	}
}

func sleepingWorker(name string, d time.Duration) contracts.Worker {
	return &fakeWorker{
		name: name,
		invoke: func(context.Context, string, map[string]any) (map[string]any, error) {
			time.Sleep(d)
			return map[string]any{"ok": true}, nil
		},
	}
}

func testPolicy(maxAttempts int, baseDelay time.Duration) contracts.RunPolicy {
	return contracts.RunPolicy{
		MaxConcurrency: 2,
		Retry: contracts.RetryPolicy{
			MaxAttempts: maxAttempts,
			Backoff:     contracts.BackoffFixed,
			BaseDelay:   baseDelay,
		},
	}
}

func TestRunTask_RetrySucceedsOnKthAttempt(t *testing.T) {
	sink := &telemetry.CaptureSink{}
	sched := NewTaskScheduler("run-1", testPolicy(3, time.Millisecond), sink, time.Minute)

	worker := flakyWorker("coder", 2, map[string]any{"out": "done"})
	res, err := sched.RunTask(context.Background(), contracts.TaskSpec{ID: "t1", WorkerFactory: factoryOf(worker)})
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusSuccess, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.Empty(t, res.Errors)
	assert.Equal(t, "done", res.Artifacts["out"])
	assert.Equal(t, "coder", res.WorkerName)

	assert.Len(t, sink.ByType(telemetry.EventTaskStarted), 3)
	finished := sink.ByType(telemetry.EventTaskFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, "success", finished[0]["status"])
	assert.Equal(t, 3, finished[0]["attempt"])
}

func TestRunTask_RetryExhaustion(t *testing.T) {
	sink := &telemetry.CaptureSink{}
	sched := NewTaskScheduler("run-1", testPolicy(3, time.Millisecond), sink, time.Minute)

	worker := &fakeWorker{
		name: "flaky",
		invoke: func(context.Context, string, map[string]any) (map[string]any, error) {
			return nil, errors.New("boom")
		},
	}
	res, err := sched.RunTask(context.Background(), contracts.TaskSpec{ID: "t1", WorkerFactory: factoryOf(worker)})
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusFailed, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, res.Errors, 3)

	finished := sink.ByType(telemetry.EventTaskFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, "failed", finished[0]["status"])
	assert.Len(t, finished[0]["errors"], 3)
}

func TestRunTask_TimeoutIsTerminal(t *testing.T) {
	sink := &telemetry.CaptureSink{}
	policy := testPolicy(5, time.Millisecond)
	policy.Timeout = 30 * time.Millisecond
	sched := NewTaskScheduler("run-1", policy, sink, time.Minute)

	res, err := sched.RunTask(context.Background(), contracts.TaskSpec{
		ID:            "t1",
		WorkerFactory: factoryOf(sleepingWorker("slow", 300*time.Millisecond)),
	})
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusTimeout, res.Status)
	assert.Equal(t, 1, res.Attempts, "timeouts are never retried")
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, "timeout", res.Errors[len(res.Errors)-1])

	finished := sink.ByType(telemetry.EventTaskFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, "timeout", finished[0]["status"])
}

func TestRunTask_ConstructionFailureNotRetried(t *testing.T) {
	sink := &telemetry.CaptureSink{}
	sched := NewTaskScheduler("run-1", testPolicy(5, time.Millisecond), sink, time.Minute)

	spec := contracts.TaskSpec{
		ID: "t1",
		WorkerFactory: func(context.Context) (contracts.Worker, error) {
			return nil, errors.New("no such agent")
		},
	}
	res, err := sched.RunTask(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusFailed, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, []string{"no such agent"}, res.Errors)

	assert.Empty(t, sink.ByType(telemetry.EventTaskStarted), "no attempt starts when construction fails")
	assert.Len(t, sink.ByType(telemetry.EventTaskFinished), 1)
}

func TestRunTask_NilFactory(t *testing.T) {
	sched := NewTaskScheduler("run-1", testPolicy(1, 0), nil, time.Minute)
	_, err := sched.RunTask(context.Background(), contracts.TaskSpec{ID: "t1"})
	assert.ErrorIs(t, err, contracts.ErrNilFactory)
}

func TestRunTask_ExponentialBackoffTiming(t *testing.T) {
	policy := contracts.RunPolicy{
		MaxConcurrency: 1,
		Retry: contracts.RetryPolicy{
			MaxAttempts: 3,
			Backoff:     contracts.BackoffExponential,
			BaseDelay:   40 * time.Millisecond,
		},
	}
	sched := NewTaskScheduler("run-1", policy, nil, time.Minute)

	worker := &fakeWorker{
		name: "failing",
		invoke: func(context.Context, string, map[string]any) (map[string]any, error) {
			return nil, errors.New("nope")
		},
	}

	start := time.Now()
	res, err := sched.RunTask(context.Background(), contracts.TaskSpec{ID: "t1", WorkerFactory: factoryOf(worker)})
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusFailed, res.Status)
	// Waits: 40ms after attempt 1, 80ms after attempt 2 = 120ms minimum.
	assert.GreaterOrEqual(t, elapsed, 120*time.Millisecond)
	assert.Less(t, elapsed, 600*time.Millisecond)
}

func TestBackoffDelay(t *testing.T) {
	base := 100 * time.Millisecond
	tests := []struct {
		name    string
		backoff contracts.BackoffKind
		attempt int
		want    time.Duration
	}{
		{"fixed attempt 1", contracts.BackoffFixed, 1, base},
		{"fixed attempt 4", contracts.BackoffFixed, 4, base},
		{"exponential attempt 1", contracts.BackoffExponential, 1, base},
		{"exponential attempt 2", contracts.BackoffExponential, 2, 2 * base},
		{"exponential attempt 3", contracts.BackoffExponential, 3, 4 * base},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := contracts.RetryPolicy{MaxAttempts: 5, Backoff: tt.backoff, BaseDelay: base, Jitter: 0.7}
			assert.Equal(t, tt.want, backoffDelay(p, tt.attempt), "jitter must not alter the delay")
		})
	}
}

func TestRunTask_UsageExtraction(t *testing.T) {
	tests := []struct {
		name      string
		artifacts map[string]any
		wantModel string
		wantTotal any
	}{
		{
			name: "top level",
			artifacts: map[string]any{
				"usage": map[string]any{"total_tokens": 42},
				"model": "claude-3-haiku",
			},
			wantModel: "claude-3-haiku",
			wantTotal: 42,
		},
		{
			name: "nested under response",
			artifacts: map[string]any{
				"response": map[string]any{
					"usage": map[string]any{"total_tokens": 7},
					"model": "gpt-4o",
				},
			},
			wantModel: "gpt-4o",
			wantTotal: 7,
		},
		{
			name: "nested under data",
			artifacts: map[string]any{
				"data": map[string]any{
					"usage": map[string]any{"total_tokens": 9},
					"model": "gpt-4o-mini",
				},
			},
			wantModel: "gpt-4o-mini",
			wantTotal: 9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &telemetry.CaptureSink{}
			sched := NewTaskScheduler("run-1", testPolicy(1, 0), sink, time.Minute)

			worker := &fakeWorker{
				name: "agent",
				invoke: func(context.Context, string, map[string]any) (map[string]any, error) {
					return tt.artifacts, nil
				},
			}
			_, err := sched.RunTask(context.Background(), contracts.TaskSpec{ID: "t1", WorkerFactory: factoryOf(worker)})
			require.NoError(t, err)

			finished := sink.ByType(telemetry.EventTaskFinished)
			require.Len(t, finished, 1)
			assert.Equal(t, tt.wantModel, finished[0]["model"])
			usage, ok := finished[0]["usage"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, tt.wantTotal, usage["total_tokens"])
		})
	}
}

func TestRunTask_HeartbeatEmittedAndJoined(t *testing.T) {
	sink := &telemetry.CaptureSink{}
	sched := NewTaskScheduler("run-1", testPolicy(1, 0), sink, 10*time.Millisecond)

	res, err := sched.RunTask(context.Background(), contracts.TaskSpec{
		ID:            "t1",
		WorkerFactory: factoryOf(sleepingWorker("slow", 80*time.Millisecond)),
	})
	require.NoError(t, err)
	require.Equal(t, contracts.StatusSuccess, res.Status)

	beats := sink.ByType(telemetry.EventHeartbeat)
	require.NotEmpty(t, beats)
	for _, b := range beats {
		assert.Equal(t, "t1", b["id"])
		assert.Greater(t, b["running_for_s"].(float64), 0.0)
	}

	// The loop is joined before RunTask returns: no stragglers.
	count := len(sink.ByType(telemetry.EventHeartbeat))
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, count, len(sink.ByType(telemetry.EventHeartbeat)))
}

func TestRunTask_CanceledParentContext(t *testing.T) {
	sink := &telemetry.CaptureSink{}
	sched := NewTaskScheduler("run-1", testPolicy(3, time.Millisecond), sink, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res, err := sched.RunTask(ctx, contracts.TaskSpec{
		ID:            "t1",
		WorkerFactory: factoryOf(sleepingWorker("slow", 300*time.Millisecond)),
	})
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusCanceled, res.Status)
	assert.Equal(t, 1, res.Attempts, "cancellation is never retried")
}
