// Package telemetry implements the fail-safe event side channel of the
// orchestration engine: sanitized append-only JSONL emission, and the
// aggregator that replays the log into live and historical views.
package telemetry

import "github.com/taskmill/runtime/contracts"

// Event type wire values.
const (
	EventTaskStarted          = "task_started"
	EventTaskFinished         = "task_finished"
	EventHeartbeat            = "heartbeat"
	EventOrchestratorStarted  = "orchestrator_started"
	EventOrchestratorFinished = "orchestrator_finished"
)

// TimestampLayout is the wire format of the ts field: ISO-8601 UTC with
// millisecond precision and a Z suffix.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// TaskStarted records the start of one invocation attempt.
func TaskStarted(runID contracts.RunID, taskID contracts.TaskID, agent string, attempt int) contracts.Event {
	return contracts.Event{
		"type":    EventTaskStarted,
		"run_id":  string(runID),
		"id":      string(taskID),
		"agent":   agent,
		"attempt": attempt,
	}
}

// TaskFinished records a task reaching a terminal status. Usage and
// model are included only when the worker reported them.
func TaskFinished(runID contracts.RunID, res contracts.TaskResult, usage map[string]any, model string) contracts.Event {
	ev := contracts.Event{
		"type":       EventTaskFinished,
		"run_id":     string(runID),
		"id":         string(res.ID),
		"agent":      res.WorkerName,
		"status":     string(res.Status),
		"attempt":    res.Attempts,
		"duration_s": res.Duration().Seconds(),
	}
	if len(res.Errors) > 0 {
		ev["errors"] = append([]string(nil), res.Errors...)
	}
	if usage != nil {
		ev["usage"] = usage
	}
	if model != "" {
		ev["model"] = model
	}
	return ev
}

// Heartbeat records liveness of an in-flight task.
func Heartbeat(runID contracts.RunID, taskID contracts.TaskID, agent string, runningFor float64) contracts.Event {
	return contracts.Event{
		"type":          EventHeartbeat,
		"run_id":        string(runID),
		"id":            string(taskID),
		"agent":         agent,
		"running_for_s": runningFor,
	}
}

// OrchestratorStarted frames the start of a fan-out batch.
func OrchestratorStarted(runID contracts.RunID, maxConcurrency, taskCount int) contracts.Event {
	return contracts.Event{
		"type":            EventOrchestratorStarted,
		"run_id":          string(runID),
		"max_concurrency": maxConcurrency,
		"task_count":      taskCount,
	}
}

// OrchestratorFinished frames the end of a fan-out batch after every
// task has settled.
func OrchestratorFinished(runID contracts.RunID, durationS float64, taskCount int) contracts.Event {
	return contracts.Event{
		"type":       EventOrchestratorFinished,
		"run_id":     string(runID),
		"duration_s": durationS,
		"task_count": taskCount,
	}
}
