package orchestration

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/taskmill/runtime/contracts"
)

// GraphExecutor runs a task graph level by level: level 0 holds the
// nodes with no incoming edges, level k the nodes whose upstream edges
// all originate in earlier levels. Each level runs fully through the
// parallel driver before the next starts, which is the backpressure
// mechanism between dependency layers.
//
// A failed upstream task does not skip its downstream tasks: failure
// propagation across levels is the caller's responsibility.
type GraphExecutor struct {
	driver *Driver
}

// NewGraphExecutor creates a graph executor on top of a driver.
func NewGraphExecutor(driver *Driver) *GraphExecutor {
	return &GraphExecutor{driver: driver}
}

// Levels computes the dependency levels of the graph by peeling nodes of
// indegree zero. Unknown edge endpoints yield ErrDepNotFound; if any
// node cannot be leveled the graph is cyclic and ErrGraphCycle is
// returned. Either way the failure is eager: no task has run yet.
func (g *GraphExecutor) Levels(graph contracts.TaskGraph) ([][]contracts.TaskID, error) {
	if err := graph.Validate(); err != nil {
		return nil, err
	}

	indegree := make(map[contracts.TaskID]int, len(graph.Nodes))
	next := make(map[contracts.TaskID][]contracts.TaskID, len(graph.Nodes))
	for id := range graph.Nodes {
		indegree[id] = 0
	}
	for _, e := range graph.Edges {
		indegree[e.To]++
		next[e.From] = append(next[e.From], e.To)
	}

	current := make([]contracts.TaskID, 0, len(graph.Nodes))
	for id, deg := range indegree {
		if deg == 0 {
			current = append(current, id)
		}
	}

	var levels [][]contracts.TaskID
	leveled := 0
	for len(current) > 0 {
		sort.Slice(current, func(i, j int) bool { return current[i] < current[j] })
		levels = append(levels, current)
		leveled += len(current)

		var following []contracts.TaskID
		for _, id := range current {
			for _, downstream := range next[id] {
				indegree[downstream]--
				if indegree[downstream] == 0 {
					following = append(following, downstream)
				}
			}
		}
		current = following
	}

	if leveled != len(graph.Nodes) {
		return nil, fmt.Errorf("%d of %d nodes unreachable from a root: %w",
			len(graph.Nodes)-leveled, len(graph.Nodes), contracts.ErrGraphCycle)
	}
	return levels, nil
}

// RunGraph validates and levels the graph, then executes each level
// through the driver under a single run ID. Cyclic graphs fail before
// any task starts and before any event is emitted.
func (g *GraphExecutor) RunGraph(ctx context.Context, graph contracts.TaskGraph) (contracts.RunResult, error) {
	levels, err := g.Levels(graph)
	if err != nil {
		return contracts.RunResult{}, err
	}

	runID := contracts.RunID(uuid.NewString())
	started := time.Now()
	var results []contracts.TaskResult

	for _, level := range levels {
		specs := make([]contracts.TaskSpec, 0, len(level))
		for _, id := range level {
			spec := graph.Nodes[id]
			// The node key is authoritative for the task identity.
			spec.ID = id
			specs = append(specs, spec)
		}
		levelResult, err := g.driver.run(ctx, runID, specs)
		if err != nil {
			return contracts.RunResult{}, err
		}
		results = append(results, levelResult.Results...)
	}

	return contracts.RunResult{
		RunID:     runID,
		Results:   results,
		WallTime:  time.Since(started),
		TaskCount: len(graph.Nodes),
	}, nil
}
