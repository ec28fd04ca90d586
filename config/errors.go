package config

import "errors"

// Sentinel errors for workflow file validation.
var (
	// ErrConfigEmpty is returned when the workflow data is empty (zero bytes).
	ErrConfigEmpty = errors.New("workflow file is empty")

	// ErrWorkflowNameEmpty is returned when workflow name is empty.
	ErrWorkflowNameEmpty = errors.New("workflow name is required")

	// ErrNoTasks is returned when the workflow declares no tasks.
	ErrNoTasks = errors.New("workflow tasks must not be empty")

	// ErrTaskIDEmpty is returned when a task has an empty id.
	ErrTaskIDEmpty = errors.New("task id is required")

	// ErrTaskIDDuplicate is returned when two tasks share an id.
	ErrTaskIDDuplicate = errors.New("duplicate task id")

	// ErrTaskWorkerEmpty is returned when a task names no worker.
	ErrTaskWorkerEmpty = errors.New("task worker is required")

	// ErrDependencyNotFound is returned when deps references an unknown task id.
	ErrDependencyNotFound = errors.New("deps references unknown task id")

	// ErrUnknownWorker is returned when binding a workflow to factories
	// and a task names a worker with no registered factory.
	ErrUnknownWorker = errors.New("no factory registered for worker")
)
