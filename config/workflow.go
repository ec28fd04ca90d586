package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/taskmill/runtime/contracts"
)

// WorkflowFile is the on-disk YAML description of a task graph and its
// run policy. Worker implementations are bound separately: the file
// names workers, the caller supplies factories.
type WorkflowFile struct {
	Name   string     `yaml:"name"`
	Policy PolicyFile `yaml:"policy"`
	Tasks  []TaskFile `yaml:"tasks"`
}

// PolicyFile mirrors contracts.RunPolicy in file-friendly units.
type PolicyFile struct {
	MaxConcurrency int       `yaml:"max_concurrency"`
	Retry          RetryFile `yaml:"retry"`
	TimeoutS       float64   `yaml:"timeout_s"`
	CostBudget     float64   `yaml:"cost_budget"`
	Fairness       string    `yaml:"fairness"`
	Cancellation   string    `yaml:"cancellation"`
}

// RetryFile mirrors contracts.RetryPolicy in file-friendly units.
type RetryFile struct {
	MaxAttempts int     `yaml:"max_attempts"`
	Backoff     string  `yaml:"backoff"`
	BaseDelayMs int     `yaml:"base_delay_ms"`
	Jitter      float64 `yaml:"jitter"`
}

// TaskFile is one task declaration.
type TaskFile struct {
	ID     string         `yaml:"id"`
	Worker string         `yaml:"worker"`
	Prompt string         `yaml:"prompt"`
	Params map[string]any `yaml:"params"`
	Deps   []string       `yaml:"deps"`
}

// Workflow is the validated, typed form of a workflow file.
type Workflow struct {
	Name   string
	Policy contracts.RunPolicy
	Tasks  []WorkflowTask
}

// WorkflowTask is one validated task declaration.
type WorkflowTask struct {
	ID     contracts.TaskID
	Worker string
	Prompt string
	Params map[string]any
	Deps   []contracts.TaskID
}

// Loader loads and validates workflow files.
type Loader struct{}

// NewLoader creates a workflow loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadFromFile loads and parses a workflow from a YAML file. File errors
// are wrapped with context (use os.IsNotExist to check for a missing file).
func (l *Loader) LoadFromFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow %s: %w", path, err)
	}
	wf, err := l.LoadFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("loading workflow %s: %w", path, err)
	}
	return wf, nil
}

// LoadFromBytes parses a workflow from raw YAML bytes and validates it.
// Empty data returns ErrConfigEmpty.
func (l *Loader) LoadFromBytes(data []byte) (*Workflow, error) {
	if len(data) == 0 {
		return nil, ErrConfigEmpty
	}

	var file WorkflowFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	if err := validateFile(&file); err != nil {
		return nil, err
	}

	policy := contracts.RunPolicy{
		MaxConcurrency: file.Policy.MaxConcurrency,
		Retry: contracts.RetryPolicy{
			MaxAttempts: file.Policy.Retry.MaxAttempts,
			Backoff:     contracts.BackoffKind(file.Policy.Retry.Backoff),
			BaseDelay:   time.Duration(file.Policy.Retry.BaseDelayMs) * time.Millisecond,
			Jitter:      file.Policy.Retry.Jitter,
		},
		Timeout:      time.Duration(file.Policy.TimeoutS * float64(time.Second)),
		CostBudget:   file.Policy.CostBudget,
		Fairness:     contracts.FairnessKind(file.Policy.Fairness),
		Cancellation: contracts.CancellationKind(file.Policy.Cancellation),
	}
	if policy.MaxConcurrency == 0 {
		policy.MaxConcurrency = contracts.DefaultRunPolicy().MaxConcurrency
	}
	if policy.Retry.MaxAttempts == 0 && policy.Retry.Backoff == "" {
		policy.Retry = contracts.DefaultRetryPolicy()
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	wf := &Workflow{Name: file.Name, Policy: policy}
	for _, t := range file.Tasks {
		task := WorkflowTask{
			ID:     contracts.TaskID(t.ID),
			Worker: t.Worker,
			Prompt: t.Prompt,
			Params: t.Params,
		}
		for _, dep := range t.Deps {
			task.Deps = append(task.Deps, contracts.TaskID(dep))
		}
		wf.Tasks = append(wf.Tasks, task)
	}
	return wf, nil
}

// validateFile checks the structural invariants of the raw file.
func validateFile(file *WorkflowFile) error {
	if file.Name == "" {
		return ErrWorkflowNameEmpty
	}
	if len(file.Tasks) == 0 {
		return ErrNoTasks
	}

	ids := make(map[string]bool, len(file.Tasks))
	for i, t := range file.Tasks {
		if t.ID == "" {
			return fmt.Errorf("tasks[%d]: %w", i, ErrTaskIDEmpty)
		}
		if ids[t.ID] {
			return fmt.Errorf("task id=%s: %w", t.ID, ErrTaskIDDuplicate)
		}
		ids[t.ID] = true
		if t.Worker == "" {
			return fmt.Errorf("tasks[%d] id=%s: %w", i, t.ID, ErrTaskWorkerEmpty)
		}
	}
	for _, t := range file.Tasks {
		for _, dep := range t.Deps {
			if !ids[dep] {
				return fmt.Errorf("task id=%s deps=%s: %w", t.ID, dep, ErrDependencyNotFound)
			}
		}
	}
	return nil
}

// Graph binds the workflow's worker names to factories and produces the
// task graph the engine executes. Every named worker must have a
// registered factory.
func (w *Workflow) Graph(factories map[string]contracts.WorkerFactory) (contracts.TaskGraph, error) {
	graph := contracts.TaskGraph{Nodes: make(map[contracts.TaskID]contracts.TaskSpec, len(w.Tasks))}
	for _, t := range w.Tasks {
		factory, ok := factories[t.Worker]
		if !ok {
			return contracts.TaskGraph{}, fmt.Errorf("task %s worker %q: %w", t.ID, t.Worker, ErrUnknownWorker)
		}
		graph.Nodes[t.ID] = contracts.TaskSpec{
			ID:            t.ID,
			WorkerFactory: factory,
			Prompt:        t.Prompt,
			Params:        t.Params,
		}
		for _, dep := range t.Deps {
			graph.Edges = append(graph.Edges, contracts.Edge{From: dep, To: t.ID})
		}
	}
	return graph, nil
}
