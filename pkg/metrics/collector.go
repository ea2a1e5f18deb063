// Package metrics accumulates per-session quality counters from the ordered
// event stream. One Collector exists per session; the orchestrator feeds it
// every stream event and asks for the Summary after the stream closes. The
// summary is stored on the session row atomically with its terminal status.
package metrics

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yokeflow/yokeflow/pkg/events"
	"github.com/yokeflow/yokeflow/pkg/models"
)

// metricsVersion tags summaries so downstream analysis can tell scoring
// generations apart.
const metricsVersion = 2

// repeatedErrorThreshold is the fingerprint count at which an error counts
// as repeated.
const repeatedErrorThreshold = 3

// Adherence violation kinds tracked by the collector.
const (
	ViolationWrongBashCommand       = "wrong_bash_command"
	ViolationWorkspacePrefixMissing = "workspace_prefix_missing"
	ViolationBashForFilesystem      = "used_bash_for_filesystem"
	ViolationUITaskWithoutBrowser   = "ui_task_without_browser"
	ViolationSkippedVerification    = "skipped_verification"
	ViolationBlockedCommand         = "blocked_command_attempt"
)

// filesystemPrograms are commands agents should not shell out for; dedicated
// file tools exist on their side.
var filesystemPrograms = map[string]struct{}{
	"cat": {}, "ls": {}, "head": {}, "tail": {}, "touch": {}, "mkdir": {}, "cp": {}, "mv": {}, "stat": {},
}

// hostRootPaths flags absolute paths outside the workspace mount.
var hostRootPaths = []string{"/usr/", "/home/", "/etc/", "/var/", "/opt/", "/root/", "/bin/", "/sbin/"}

// Collector consumes one session's event stream and derives the metrics
// summary. Observe is safe for one goroutine at a time alongside Summary
// calls from another.
type Collector struct {
	mu        sync.Mutex
	logger    *slog.Logger
	startedAt time.Time

	toolUse      map[string]int
	toolCalls    int
	errorCount   int
	toolDuration time.Duration

	pending map[string]pendingCall

	tasks             map[int]*taskState
	tasksStarted      int
	tasksCompleted    int
	testsRecorded     int
	uiTaskCount       int
	uiBrowserVerified int
	verifications     []models.TaskVerification

	violations   map[string]int
	fingerprints map[string]*models.ErrorNgram
	hours        map[int]*models.ProgressionBucket
}

// pendingCall is an in-flight tool call awaiting its result event.
type pendingCall struct {
	tool  string
	input json.RawMessage
	at    time.Time
}

// taskState tracks verification activity for one started task.
type taskState struct {
	taskType        string
	methods         []models.TestCategory
	browserVerified bool
}

// NewCollector creates an empty collector for one session.
func NewCollector(logger *slog.Logger) *Collector {
	return &Collector{
		logger:       logger.With("component", "metrics_collector"),
		toolUse:      map[string]int{},
		pending:      map[string]pendingCall{},
		tasks:        map[int]*taskState{},
		violations:   map[string]int{},
		fingerprints: map[string]*models.ErrorNgram{},
		hours:        map[int]*models.ProgressionBucket{},
	}
}

// Observe folds one stream event into the counters.
func (c *Collector) Observe(ev events.StreamEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.startedAt.IsZero() && !ev.At.IsZero() {
		c.startedAt = ev.At
	}

	switch ev.Kind {
	case events.StreamToolUse:
		c.onToolUse(ev)
	case events.StreamToolResult:
		c.onToolResult(ev)
	case events.StreamError:
		c.recordError(ev.Message, ev.At)
	case events.StreamInterventionAction:
		c.onInterventionAction(ev)
	}
}

func (c *Collector) onToolUse(ev events.StreamEvent) {
	c.toolCalls++
	c.toolUse[ev.Tool]++
	if ev.RequestID != "" {
		c.pending[ev.RequestID] = pendingCall{tool: ev.Tool, input: ev.Input, at: ev.At}
	}
	if ev.Tool == "bash" {
		c.checkBashAdherence(ev.Input)
	}
}

func (c *Collector) onToolResult(ev events.StreamEvent) {
	pc, paired := c.pending[ev.RequestID]
	if paired {
		delete(c.pending, ev.RequestID)
		if !pc.at.IsZero() && ev.At.After(pc.at) {
			c.toolDuration += ev.At.Sub(pc.at)
		}
	}

	if ev.IsError {
		c.recordError(ev.Text, ev.At)
		if strings.HasPrefix(ev.Text, "BLOCKED:") {
			c.violations[ViolationBlockedCommand]++
		}
		return
	}
	if !paired {
		return
	}

	switch pc.tool {
	case "start_task":
		var task models.Task
		if err := json.Unmarshal([]byte(ev.Text), &task); err != nil {
			c.logger.Warn("unparseable start_task result", "error", err)
			return
		}
		if _, known := c.tasks[task.TaskID]; !known {
			c.tasks[task.TaskID] = &taskState{taskType: InferTaskType(&task)}
		}
		c.tasksStarted++

	case "update_task_test_result", "update_epic_test_result":
		var test models.Test
		if err := json.Unmarshal([]byte(ev.Text), &test); err != nil {
			c.logger.Warn("unparseable test result", "tool", pc.tool, "error", err)
			return
		}
		c.testsRecorded++
		if test.TaskID == nil {
			return
		}
		if ts, ok := c.tasks[*test.TaskID]; ok {
			ts.methods = append(ts.methods, test.Category)
			if test.Category == models.TestCategoryBrowser && test.Passed != nil && *test.Passed {
				ts.browserVerified = true
			}
		}

	case "update_task_status":
		var in struct {
			Done bool `json:"done"`
		}
		if err := json.Unmarshal(pc.input, &in); err != nil || !in.Done {
			return
		}
		var task models.Task
		if err := json.Unmarshal([]byte(ev.Text), &task); err != nil {
			c.logger.Warn("unparseable update_task_status result", "error", err)
			return
		}
		c.completeTask(&task, ev.At)
	}
}

// completeTask closes out verification analysis for one task.
func (c *Collector) completeTask(task *models.Task, at time.Time) {
	ts := c.tasks[task.TaskID]
	if ts == nil {
		// Completed without an observed start; infer from the result.
		ts = &taskState{taskType: InferTaskType(task)}
		c.tasks[task.TaskID] = ts
	}

	c.tasksCompleted++
	c.bucket(at).TasksCompleted++

	method, appropriate := verificationOutcome(ts)
	c.verifications = append(c.verifications, models.TaskVerification{
		TaskID:      task.TaskID,
		TaskType:    ts.taskType,
		Method:      method,
		Appropriate: appropriate,
	})
	if method == "none" {
		c.violations[ViolationSkippedVerification]++
	}
	if ts.taskType == TaskTypeUI {
		c.uiTaskCount++
		if ts.browserVerified {
			c.uiBrowserVerified++
		} else {
			c.violations[ViolationUITaskWithoutBrowser]++
		}
	}
}

// verificationOutcome picks the method credited to a task: the expected
// method when any recorded attempt matches it, the last attempt otherwise.
func verificationOutcome(ts *taskState) (string, bool) {
	if len(ts.methods) == 0 {
		return "none", false
	}
	for _, m := range ts.methods {
		if CategoryAppropriate(ts.taskType, m) {
			return string(m), true
		}
	}
	return string(ts.methods[len(ts.methods)-1]), false
}

func (c *Collector) checkBashAdherence(input json.RawMessage) {
	var in struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &in); err != nil || in.Command == "" {
		return
	}
	cmd := strings.TrimSpace(in.Command)
	program := cmd
	if i := strings.IndexByte(program, ' '); i > 0 {
		program = program[:i]
	}

	// A bare cd does nothing in a one-shot shell.
	if program == "cd" && !strings.Contains(cmd, "&&") {
		c.violations[ViolationWrongBashCommand]++
	}
	if _, ok := filesystemPrograms[program]; ok {
		c.violations[ViolationBashForFilesystem]++
	}
	for _, root := range hostRootPaths {
		if strings.Contains(cmd, root) {
			c.violations[ViolationWorkspacePrefixMissing]++
			break
		}
	}
}

func (c *Collector) recordError(text string, at time.Time) {
	c.errorCount++
	c.bucket(at).Errors++

	fp := Fingerprint(text)
	if fp == "" {
		return
	}
	ng := c.fingerprints[fp]
	if ng == nil {
		ng = &models.ErrorNgram{FirstSeen: at}
		c.fingerprints[fp] = ng
	}
	ng.Count++
	ng.LastSeen = at
}

// onInterventionAction credits a recovery attempt against the fingerprint of
// the output that triggered it.
func (c *Collector) onInterventionAction(ev events.StreamEvent) {
	matched, _ := ev.Fields["matched_text"].(string)
	if matched == "" {
		return
	}
	if ng, ok := c.fingerprints[Fingerprint(matched)]; ok {
		ng.RecoveryAttempts++
	}
}

func (c *Collector) bucket(at time.Time) *models.ProgressionBucket {
	hour := 0
	if !c.startedAt.IsZero() && at.After(c.startedAt) {
		hour = int(at.Sub(c.startedAt) / time.Hour)
	}
	b := c.hours[hour]
	if b == nil {
		b = &models.ProgressionBucket{Hour: hour}
		c.hours[hour] = b
	}
	return b
}

// Summary derives the end-of-session metrics summary from the counters
// collected so far. It may be called repeatedly; the collector keeps
// accumulating afterwards.
func (c *Collector) Summary() *models.MetricsSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &models.MetricsSummary{
		MetricsVersion:    metricsVersion,
		ToolCalls:         c.toolCalls,
		ErrorCount:        c.errorCount,
		ToolDurationMS:    c.toolDuration.Milliseconds(),
		TasksStarted:      c.tasksStarted,
		TasksCompleted:    c.tasksCompleted,
		TestsRecorded:     c.testsRecorded,
		UITaskCount:       c.uiTaskCount,
		UIBrowserVerified: c.uiBrowserVerified,
	}

	if c.toolCalls > 0 {
		s.ErrorRate = float64(c.errorCount) / float64(c.toolCalls)
	}

	if len(c.toolUse) > 0 {
		s.ToolUseCounts = make(map[string]int, len(c.toolUse))
		for k, v := range c.toolUse {
			s.ToolUseCounts[k] = v
		}
	}

	if len(c.verifications) > 0 {
		s.Verifications = append([]models.TaskVerification(nil), c.verifications...)
	}
	verified := 0
	for _, v := range c.verifications {
		if v.Method == "none" {
			continue
		}
		verified++
		if !v.Appropriate {
			s.InappropriateVerifs++
		}
	}
	if c.tasksCompleted > 0 {
		s.VerificationRate = float64(verified) / float64(c.tasksCompleted)
	}

	if len(c.violations) > 0 {
		s.AdherenceViolations = make(map[string]int, len(c.violations))
		for k, v := range c.violations {
			s.AdherenceViolations[k] = v
			s.TotalViolations += v
		}
	}

	if len(c.fingerprints) > 0 {
		s.ErrorFingerprints = make(map[string]*models.ErrorNgram, len(c.fingerprints))
		for k, ng := range c.fingerprints {
			cp := *ng
			s.ErrorFingerprints[k] = &cp
			if ng.Count >= repeatedErrorThreshold {
				s.RepeatedErrors++
			}
		}
	}

	if len(c.hours) > 0 {
		s.HourlyProgression = make([]models.ProgressionBucket, 0, len(c.hours))
		for _, b := range c.hours {
			s.HourlyProgression = append(s.HourlyProgression, *b)
		}
		sort.Slice(s.HourlyProgression, func(i, j int) bool {
			return s.HourlyProgression[i].Hour < s.HourlyProgression[j].Hour
		})
	}

	s.QualityScore, s.ScoreDeductions = score(s)
	return s
}

// score computes the 1..10 quality score and the per-cause deduction map.
func score(s *models.MetricsSummary) (int, map[string]int) {
	deductions := map[string]int{}

	switch {
	case s.ErrorRate > 0.10:
		deductions["error_rate"] = 5
	case s.ErrorRate > 0.05:
		deductions["error_rate"] = 3
	case s.ErrorRate > 0.02:
		deductions["error_rate"] = 1
	}

	if n := s.InappropriateVerifs; n > 0 {
		if n > 3 {
			n = 3
		}
		deductions["inappropriate_verification"] = n
	}

	if s.UITaskCount > 0 {
		rate := float64(s.UIBrowserVerified) / float64(s.UITaskCount)
		if rate < 0.5 {
			deductions["ui_verification"] = 2
		} else if rate < 0.75 {
			deductions["ui_verification"] = 1
		}
	}

	if s.TotalViolations >= 5 {
		deductions["adherence_violations"] = 2
	} else if s.TotalViolations >= 3 {
		deductions["adherence_violations"] = 1
	}

	total := 10
	for _, d := range deductions {
		total -= d
	}
	if total < 1 {
		total = 1
	}
	if len(deductions) == 0 {
		deductions = nil
	}
	return total, deductions
}
