package telemetry

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/taskmill/runtime/contracts"
)

// Default bottleneck thresholds, overridable per aggregator.
const (
	DefaultSlowTaskAge        = 120 * time.Second
	DefaultRetryHeavyAttempts = 3
	DefaultErrorRateWarn      = 0.5
	runningListCap            = 10
)

// Aggregator replays the append-only event log into live and historical
// execution state. It is a pure read path: it never writes and may run
// concurrently with any number of writers, including from a separate
// process.
type Aggregator struct {
	dir                string
	prices             PriceTable
	slowTaskAge        time.Duration
	retryHeavyAttempts int
	errorRateWarn      float64
	now                func() time.Time
	logger             *slog.Logger
}

// AggregatorOption customizes an Aggregator.
type AggregatorOption func(*Aggregator)

// WithPriceTable injects the per-model price table used by the cost view.
func WithPriceTable(t PriceTable) AggregatorOption {
	return func(a *Aggregator) { a.prices = t }
}

// WithThresholds overrides the bottleneck thresholds. Zero values keep
// the defaults.
func WithThresholds(slowTaskAge time.Duration, retryHeavyAttempts int, errorRateWarn float64) AggregatorOption {
	return func(a *Aggregator) {
		if slowTaskAge > 0 {
			a.slowTaskAge = slowTaskAge
		}
		if retryHeavyAttempts > 0 {
			a.retryHeavyAttempts = retryHeavyAttempts
		}
		if errorRateWarn > 0 {
			a.errorRateWarn = errorRateWarn
		}
	}
}

// WithAggregatorClock overrides the wall clock, for tests.
func WithAggregatorClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an aggregator reading events-*.jsonl under dir.
func NewAggregator(dir string, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		dir:                dir,
		prices:             DefaultPriceTable(),
		slowTaskAge:        DefaultSlowTaskAge,
		retryHeavyAttempts: DefaultRetryHeavyAttempts,
		errorRateWarn:      DefaultErrorRateWarn,
		now:                time.Now,
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ParseSince parses a relative window ("15m", "1h", "24h", "7d", or a
// bare integer meaning hours) into a duration. Malformed input defaults
// to one hour.
func ParseSince(s string) time.Duration {
	const fallback = time.Hour
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return fallback
	}
	unit := time.Hour
	digits := s
	switch {
	case strings.HasSuffix(s, "m"):
		unit = time.Minute
		digits = strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "h"):
		digits = strings.TrimSuffix(s, "h")
	case strings.HasSuffix(s, "d"):
		unit = 24 * time.Hour
		digits = strings.TrimSuffix(s, "d")
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return fallback
	}
	return time.Duration(n) * unit
}

// RunningTask is one task seen starting inside the window with no
// matching finish event yet.
type RunningTask struct {
	ID                string    `json:"id"`
	Agent             string    `json:"agent,omitempty"`
	Attempt           int       `json:"attempt"`
	StartedAt         time.Time `json:"started_at"`
	AgeS              float64   `json:"age_s"`
	LastHeartbeatAgeS *float64  `json:"last_heartbeat_age_s,omitempty"`
}

// AgentCost is the token/cost rollup for one agent or model.
type AgentCost struct {
	Tokens       int64   `json:"tokens"`
	EstimatedUSD float64 `json:"estimated_usd"`
}

// CostView sums token usage and estimated spend across the window.
type CostView struct {
	TotalTokens  int64                `json:"total_tokens"`
	EstimatedUSD float64              `json:"estimated_usd"`
	ByAgent      map[string]AgentCost `json:"by_agent,omitempty"`
	ByModel      map[string]AgentCost `json:"by_model,omitempty"`
}

// RetryHeavyTask is a task whose attempt count crossed the retry
// threshold.
type RetryHeavyTask struct {
	ID       string `json:"id"`
	Attempts int    `json:"attempts"`
}

// BottleneckView flags the window's slow tasks, retry-heavy tasks and
// error-rate spikes for dashboards.
type BottleneckView struct {
	SlowTasks      []RunningTask    `json:"slow_tasks,omitempty"`
	RetryHeavy     []RetryHeavyTask `json:"retry_heavy,omitempty"`
	ErrorRate      float64          `json:"error_rate"`
	ErrorRateSpike bool             `json:"error_rate_spike"`
}

// ResourceView reconstructs concurrency utilization from the most recent
// orchestrator_started event in the window.
type ResourceView struct {
	MaxConcurrency int      `json:"max_concurrency,omitempty"`
	RunningCount   int      `json:"running_count"`
	Utilization    *float64 `json:"utilization,omitempty"`
}

// Summary is the event-sourced reconstruction of the window.
type Summary struct {
	WindowStart      time.Time      `json:"window_start"`
	GeneratedAt      time.Time      `json:"generated_at"`
	TotalEvents      int            `json:"total_events"`
	TasksStarted     int            `json:"tasks_started"`
	TasksFinished    int            `json:"tasks_finished"`
	FinishedByStatus map[string]int `json:"finished_by_status"`
	ActiveAgents     []string       `json:"active_agents,omitempty"`
	RunningTasks     []RunningTask  `json:"running_tasks,omitempty"`
	Resources        ResourceView   `json:"resources"`
	Cost             CostView       `json:"cost"`
	Bottlenecks      BottleneckView `json:"bottlenecks"`
}

// parsedEvent is one decoded log line with its timestamp lifted out.
type parsedEvent struct {
	ts     time.Time
	fields map[string]any
}

// Summarize replays the log and reconstructs the window's state. The
// since window is parsed with ParseSince; runID, when non-empty, drops
// events belonging to other runs sharing the directory. Malformed lines
// and unreadable files are skipped silently: summaries must never crash
// a dashboard.
func (a *Aggregator) Summarize(since string, runID string) Summary {
	now := a.now().UTC()
	cutoff := now.Add(-ParseSince(since))
	events := a.loadEvents(cutoff, runID)

	summary := Summary{
		WindowStart:      cutoff,
		GeneratedAt:      now,
		TotalEvents:      len(events),
		FinishedByStatus: map[string]int{},
	}

	type openTask struct {
		agent         string
		attempt       int
		startedAt     time.Time
		lastHeartbeat time.Time
	}
	open := map[string]*openTask{}
	agents := map[string]struct{}{}
	attempts := map[string]int{}
	byAgent := map[string]AgentCost{}
	byModel := map[string]AgentCost{}

	for _, ev := range events {
		switch ev.fields["type"] {
		case EventTaskStarted:
			summary.TasksStarted++
			id := asString(ev.fields["id"])
			agent := asString(ev.fields["agent"])
			attempt := asInt(ev.fields["attempt"])
			if agent != "" {
				agents[agent] = struct{}{}
			}
			if attempt > attempts[id] {
				attempts[id] = attempt
			}
			if prev, ok := open[id]; ok {
				// Retry of an already-open task: keep the original start.
				prev.attempt = attempt
				continue
			}
			open[id] = &openTask{agent: agent, attempt: attempt, startedAt: ev.ts}

		case EventHeartbeat:
			if task, ok := open[asString(ev.fields["id"])]; ok {
				task.lastHeartbeat = ev.ts
			}

		case EventTaskFinished:
			summary.TasksFinished++
			id := asString(ev.fields["id"])
			status := asString(ev.fields["status"])
			if status != "" {
				summary.FinishedByStatus[status]++
			}
			if attempt := asInt(ev.fields["attempt"]); attempt > attempts[id] {
				attempts[id] = attempt
			}
			delete(open, id)
			a.addCost(&summary.Cost, byAgent, byModel, ev.fields)

		case EventOrchestratorStarted:
			if mc := asInt(ev.fields["max_concurrency"]); mc > 0 {
				summary.Resources.MaxConcurrency = mc
			}
		}
	}

	for agent := range agents {
		summary.ActiveAgents = append(summary.ActiveAgents, agent)
	}
	sort.Strings(summary.ActiveAgents)

	var running []RunningTask
	for id, task := range open {
		rt := RunningTask{
			ID:        id,
			Agent:     task.agent,
			Attempt:   task.attempt,
			StartedAt: task.startedAt,
			AgeS:      now.Sub(task.startedAt).Seconds(),
		}
		if !task.lastHeartbeat.IsZero() {
			age := now.Sub(task.lastHeartbeat).Seconds()
			rt.LastHeartbeatAgeS = &age
		}
		running = append(running, rt)
	}
	sort.Slice(running, func(i, j int) bool { return running[i].AgeS > running[j].AgeS })

	summary.Resources.RunningCount = len(running)
	if summary.Resources.MaxConcurrency > 0 {
		util := float64(len(running)) / float64(summary.Resources.MaxConcurrency)
		summary.Resources.Utilization = &util
	}

	for _, rt := range running {
		if rt.AgeS >= a.slowTaskAge.Seconds() {
			summary.Bottlenecks.SlowTasks = append(summary.Bottlenecks.SlowTasks, rt)
		}
	}
	if len(running) > runningListCap {
		running = running[:runningListCap]
	}
	summary.RunningTasks = running

	for id, n := range attempts {
		if n >= a.retryHeavyAttempts {
			summary.Bottlenecks.RetryHeavy = append(summary.Bottlenecks.RetryHeavy, RetryHeavyTask{ID: id, Attempts: n})
		}
	}
	sort.Slice(summary.Bottlenecks.RetryHeavy, func(i, j int) bool {
		return summary.Bottlenecks.RetryHeavy[i].ID < summary.Bottlenecks.RetryHeavy[j].ID
	})

	if summary.TasksFinished > 0 {
		rate := float64(summary.FinishedByStatus[string(contracts.StatusFailed)]) / float64(summary.TasksFinished)
		summary.Bottlenecks.ErrorRate = rate
		summary.Bottlenecks.ErrorRateSpike = rate > a.errorRateWarn
	}

	if len(byAgent) > 0 {
		summary.Cost.ByAgent = byAgent
	}
	if len(byModel) > 0 {
		summary.Cost.ByModel = byModel
	}
	return summary
}

// ListEvents returns the window's events, optionally filtered by a
// case-insensitive substring-or-regex grep over the serialized line,
// keeping the most recent limit entries.
func (a *Aggregator) ListEvents(since string, grep string, limit int) []contracts.Event {
	now := a.now().UTC()
	cutoff := now.Add(-ParseSince(since))
	events := a.loadEvents(cutoff, "")

	var matcher func(string) bool
	if grep != "" {
		if re, err := regexp.Compile("(?i)" + grep); err == nil {
			matcher = re.MatchString
		} else {
			needle := strings.ToLower(grep)
			matcher = func(line string) bool { return strings.Contains(strings.ToLower(line), needle) }
		}
	}

	var out []contracts.Event
	for _, ev := range events {
		if matcher != nil {
			line, err := json.Marshal(ev.fields)
			if err != nil || !matcher(string(line)) {
				continue
			}
		}
		out = append(out, contracts.Event(ev.fields))
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// loadEvents reads every events-*.jsonl file, dropping unparsable lines,
// events before the cutoff and events from other runs, then sorts by
// timestamp ascending.
func (a *Aggregator) loadEvents(cutoff time.Time, runID string) []parsedEvent {
	paths, err := filepath.Glob(filepath.Join(a.dir, "events-*.jsonl"))
	if err != nil {
		a.logger.Warn("telemetry glob failed", "dir", a.dir, "error", err)
		return nil
	}
	sort.Strings(paths)

	var events []parsedEvent
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			a.logger.Warn("telemetry open failed", "path", path, "error", err)
			continue
		}
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			var fields map[string]any
			if err := json.Unmarshal([]byte(line), &fields); err != nil {
				continue
			}
			ts, ok := parseTimestamp(asString(fields["ts"]))
			if !ok || ts.Before(cutoff) {
				continue
			}
			if runID != "" && asString(fields["run_id"]) != runID {
				continue
			}
			events = append(events, parsedEvent{ts: ts, fields: fields})
		}
		f.Close()
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].ts.Before(events[j].ts) })
	return events
}

// addCost folds one task_finished event into the cost view. Tokens come
// from usage.total_tokens, falling back to prompt_tokens +
// completion_tokens.
func (a *Aggregator) addCost(cost *CostView, byAgent, byModel map[string]AgentCost, fields map[string]any) {
	usage, _ := fields["usage"].(map[string]any)
	if usage == nil {
		return
	}
	prompt := asInt64(usage["prompt_tokens"])
	completion := asInt64(usage["completion_tokens"])
	total := asInt64(usage["total_tokens"])
	if total == 0 {
		total = prompt + completion
	}
	if total == 0 {
		return
	}
	model := asString(fields["model"])
	usd := a.prices.Estimate(model, prompt, completion, total)

	cost.TotalTokens += total
	cost.EstimatedUSD += usd

	if agent := asString(fields["agent"]); agent != "" {
		entry := byAgent[agent]
		entry.Tokens += total
		entry.EstimatedUSD += usd
		byAgent[agent] = entry
	}
	if model != "" {
		entry := byModel[model]
		entry.Tokens += total
		entry.EstimatedUSD += usd
		byModel[model] = entry
	}
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if ts, err := time.Parse(TimestampLayout, s); err == nil {
		return ts, true
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), true
	}
	return time.Time{}, false
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	return int(asInt64(v))
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int:
		return int64(n)
	case int64:
		return n
	case json.Number:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}
