package contracts

import "errors"

// Sentinel errors for the orchestration runtime. Task-level failures are
// never surfaced as errors; they are captured in TaskResult. These
// sentinels cover programmer errors only.
var (
	// Policy errors
	ErrInvalidPolicy = errors.New("invalid policy")

	// Task errors
	ErrDuplicateTask = errors.New("duplicate task id in run")
	ErrNilFactory    = errors.New("task has no worker factory")

	// Graph errors
	ErrGraphCycle  = errors.New("cycle detected in task dependencies")
	ErrDepNotFound = errors.New("dependency task not found")

	// Input validation errors
	ErrInvalidInput = errors.New("invalid input: nil or malformed")
)
