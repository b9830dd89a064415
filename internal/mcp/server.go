// Package mcp provides an MCP (Model Context Protocol) server that exposes
// the overdue-task engine as tools for AI assistants.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/valter-silva-au/duegate/internal/core"
	"github.com/valter-silva-au/duegate/internal/observability"
	"github.com/valter-silva-au/duegate/pkg/models"
)

// Options holds the server's collaborators. Metrics and Alerts may be nil
// when the event log is disabled.
type Options struct {
	Lifecycle *core.Lifecycle
	Tasks     core.TaskManager
	// Session is the acting user; every tool runs on their behalf.
	Session core.Session
	Metrics observability.MetricsCalculator
	Alerts  observability.AlertEngine
	Version string
}

// Server exposes task and overdue operations as MCP tools.
type Server struct {
	server      *gomcp.Server
	lifecycle   *core.Lifecycle
	taskMgr     core.TaskManager
	session     core.Session
	metricsCalc observability.MetricsCalculator
	alertEngine observability.AlertEngine
}

// NewServer creates a new MCP server.
func NewServer(opts Options) *Server {
	version := opts.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		lifecycle:   opts.Lifecycle,
		taskMgr:     opts.Tasks,
		session:     opts.Session,
		metricsCalc: opts.Metrics,
		alertEngine: opts.Alerts,
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "duegate", Version: version},
		nil,
	)

	s.registerTools()

	return s
}

// Run starts the MCP server on stdio, blocking until the client
// disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type taskIDInput struct {
	TaskID string `json:"task_id" jsonschema:"the task ID"`
}

type taskOutput struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Status         string   `json:"status"`
	Priority       string   `json:"priority"`
	DueDate        string   `json:"due_date,omitempty"`
	AssignedUsers  []string `json:"assigned_users"`
	CreatedBy      string   `json:"created_by"`
	AssignedBy     string   `json:"assigned_by,omitempty"`
	BlockedReason  string   `json:"blocked_reason,omitempty"`
	IsOverdue      bool     `json:"is_overdue"`
	InGracePeriod  bool     `json:"in_grace_period"`
	OverdueMessage string   `json:"overdue_message,omitempty"`
}

type listTasksInput struct {
	Status string `json:"status,omitempty" jsonschema:"filter by status: todo, in-progress, blocked, paused or completed"`
	User   string `json:"user,omitempty" jsonschema:"only tasks assigned to this user"`
}

type listTasksOutput struct {
	Tasks []taskOutput `json:"tasks"`
	Count int          `json:"count"`
}

type moveTaskInput struct {
	TaskID string `json:"task_id" jsonschema:"the task ID"`
	Status string `json:"status" jsonschema:"the target status: todo, in-progress, blocked, paused or completed"`
}

type moveDecisionOutput struct {
	Allowed bool   `json:"allowed"`
	Refusal string `json:"refusal,omitempty"`
	Message string `json:"message,omitempty"`
}

type overdueSummaryInput struct {
	User string `json:"user,omitempty" jsonschema:"user to summarize; defaults to the current user"`
}

type overdueSummaryOutput struct {
	User                string `json:"user"`
	Overdue             int    `json:"overdue"`
	InGrace             int    `json:"in_grace"`
	Blocked             int    `json:"blocked"`
	CanSelfUnblock      bool   `json:"can_self_unblock"`
	UnblockInstructions string `json:"unblock_instructions,omitempty"`
}

type emptyInput struct{}

type processOverdueOutput struct {
	NewlyBlocked []string `json:"newly_blocked"`
	Failed       []string `json:"failed"`
	BlockedCount int      `json:"blocked_count"`
	Account      string   `json:"account"`
}

type graceStatusOutput struct {
	State       string `json:"state"`
	Active      bool   `json:"active"`
	RemainingMs int64  `json:"remaining_ms"`
}

type getMetricsInput struct {
	Since string `json:"since,omitempty" jsonschema:"time window for metrics (e.g. 7d, 30d, 24h). Defaults to 7d."`
}

type metricsOutput struct {
	TasksCreated     int            `json:"tasks_created"`
	TasksCompleted   int            `json:"tasks_completed"`
	TasksByStatus    map[string]int `json:"tasks_by_status"`
	TasksAutoBlocked int            `json:"tasks_auto_blocked"`
	MovesRefused     map[string]int `json:"moves_refused"`
	AccountBlocks    int            `json:"account_blocks"`
	AccountUnblocks  int            `json:"account_unblocks"`
	GraceStarted     int            `json:"grace_started"`
	GraceReblocked   int            `json:"grace_reblocked"`
	EventCount       int            `json:"event_count"`
	OldestEvent      string         `json:"oldest_event,omitempty"`
	NewestEvent      string         `json:"newest_event,omitempty"`
}

type alertOutput struct {
	ID          string `json:"id"`
	Condition   string `json:"condition"`
	Severity    string `json:"severity"`
	Message     string `json:"message"`
	TriggeredAt string `json:"triggered_at"`
}

type getAlertsOutput struct {
	Alerts []alertOutput `json:"alerts"`
	Count  int           `json:"count"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_tasks",
		Description: "List tasks with optional status and assignee filters. Each task includes its overdue state.",
	}, s.handleListTasks)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_task",
		Description: "Get a task by ID, including whether it is overdue or in its grace period.",
	}, s.handleGetTask)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "move_task",
		Description: "Move a task to a new status as the current user. Refused moves return the reason.",
	}, s.handleMoveTask)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "check_move",
		Description: "Check whether the current user may move a task to a status, without moving it.",
	}, s.handleCheckMove)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_overdue_summary",
		Description: "Count a user's overdue, in-grace and blocked tasks and explain how to self-unblock.",
	}, s.handleOverdueSummary)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "process_overdue",
		Description: "Run the blocking cascade: block tasks past their grace period and update the current user's account block.",
	}, s.handleProcessOverdue)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "grace_status",
		Description: "Report the current user's self-unblock grace period and the time remaining.",
	}, s.handleGraceStatus)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_metrics",
		Description: "Get aggregated overdue metrics from the event log.",
	}, s.handleGetMetrics)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_alerts",
		Description: "Evaluate and return active alerts (tasks or accounts blocked too long, repeated re-blocks).",
	}, s.handleGetAlerts)
}

// --- Tool handlers ---

func (s *Server) handleListTasks(ctx context.Context, _ *gomcp.CallToolRequest, input listTasksInput) (*gomcp.CallToolResult, listTasksOutput, error) {
	filter := core.TaskFilter{User: input.User}
	if input.Status != "" {
		status, err := models.ParseTaskStatus(input.Status)
		if err != nil {
			return errorResult(err.Error()), listTasksOutput{}, nil
		}
		filter.Status = []models.TaskStatus{status}
	}

	tasks, err := s.taskMgr.ListTasks(ctx, filter)
	if err != nil {
		return errorResult(fmt.Sprintf("listing tasks: %s", err)), listTasksOutput{}, nil
	}

	out := listTasksOutput{
		Tasks: make([]taskOutput, len(tasks)),
		Count: len(tasks),
	}
	for i, t := range tasks {
		out.Tasks[i] = s.taskToOutput(t)
	}
	return nil, out, nil
}

func (s *Server) handleGetTask(ctx context.Context, _ *gomcp.CallToolRequest, input taskIDInput) (*gomcp.CallToolResult, taskOutput, error) {
	if input.TaskID == "" {
		return errorResult("task_id is required"), taskOutput{}, nil
	}

	task, err := s.taskMgr.GetTask(ctx, input.TaskID)
	if err != nil {
		return errorResult(err.Error()), taskOutput{}, nil
	}
	return nil, s.taskToOutput(*task), nil
}

func (s *Server) handleMoveTask(ctx context.Context, _ *gomcp.CallToolRequest, input moveTaskInput) (*gomcp.CallToolResult, taskOutput, error) {
	if input.TaskID == "" {
		return errorResult("task_id is required"), taskOutput{}, nil
	}
	status, err := models.ParseTaskStatus(input.Status)
	if err != nil {
		return errorResult(err.Error()), taskOutput{}, nil
	}

	task, err := s.taskMgr.MoveTask(ctx, s.session, input.TaskID, status)
	if err != nil {
		var refused *core.MoveRefusedError
		if errors.As(err, &refused) {
			return errorResult(refused.Decision.Message), taskOutput{}, nil
		}
		return errorResult(err.Error()), taskOutput{}, nil
	}
	return nil, s.taskToOutput(*task), nil
}

func (s *Server) handleCheckMove(ctx context.Context, _ *gomcp.CallToolRequest, input moveTaskInput) (*gomcp.CallToolResult, moveDecisionOutput, error) {
	status, err := models.ParseTaskStatus(input.Status)
	if err != nil {
		return errorResult(err.Error()), moveDecisionOutput{}, nil
	}
	task, err := s.taskMgr.GetTask(ctx, input.TaskID)
	if err != nil {
		return errorResult(err.Error()), moveDecisionOutput{}, nil
	}

	decision, err := s.lifecycle.CheckMove(ctx, s.session, *task, status)
	if err != nil {
		return errorResult(err.Error()), moveDecisionOutput{}, nil
	}
	return nil, moveDecisionOutput{
		Allowed: decision.Allowed,
		Refusal: string(decision.Refusal),
		Message: decision.Message,
	}, nil
}

func (s *Server) handleOverdueSummary(ctx context.Context, _ *gomcp.CallToolRequest, input overdueSummaryInput) (*gomcp.CallToolResult, overdueSummaryOutput, error) {
	user := input.User
	if user == "" {
		user = s.session.User
	}
	if user == "" {
		return errorResult("no user given and no current user configured"), overdueSummaryOutput{}, nil
	}

	tasks, err := s.taskMgr.ListTasks(ctx, core.TaskFilter{})
	if err != nil {
		return errorResult(fmt.Sprintf("listing tasks: %s", err)), overdueSummaryOutput{}, nil
	}

	summary := s.lifecycle.GetUserOverdueSummary(tasks, user)
	out := overdueSummaryOutput{
		User:           user,
		Overdue:        summary.Overdue,
		InGrace:        summary.InGrace,
		Blocked:        summary.Blocked,
		CanSelfUnblock: core.CanUserUnblockSelf(tasks, user),
	}
	if summary.Blocked > 0 {
		out.UnblockInstructions = core.SelfUnblockInstructions(tasks, user)
	}
	return nil, out, nil
}

func (s *Server) handleProcessOverdue(ctx context.Context, _ *gomcp.CallToolRequest, _ emptyInput) (*gomcp.CallToolResult, processOverdueOutput, error) {
	tasks, err := s.taskMgr.ListTasks(ctx, core.TaskFilter{})
	if err != nil {
		return errorResult(fmt.Sprintf("listing tasks: %s", err)), processOverdueOutput{}, nil
	}

	result, err := s.lifecycle.ProcessOverdueTasks(ctx, s.session, tasks)
	if err != nil {
		return errorResult(err.Error()), processOverdueOutput{}, nil
	}

	out := processOverdueOutput{
		NewlyBlocked: result.NewlyBlocked,
		Failed:       []string{},
		BlockedCount: result.BlockedCount,
		Account:      string(result.Account),
	}
	if out.NewlyBlocked == nil {
		out.NewlyBlocked = []string{}
	}
	for _, f := range result.Failures {
		out.Failed = append(out.Failed, f.TaskID)
	}
	return nil, out, nil
}

func (s *Server) handleGraceStatus(_ context.Context, _ *gomcp.CallToolRequest, _ emptyInput) (*gomcp.CallToolResult, graceStatusOutput, error) {
	status, err := s.lifecycle.GraceStatus(s.session)
	if err != nil {
		return errorResult(fmt.Sprintf("reading grace period: %s", err)), graceStatusOutput{}, nil
	}
	return nil, graceStatusOutput{
		State:       string(status.State),
		Active:      status.Active,
		RemainingMs: status.RemainingMs,
	}, nil
}

func (s *Server) handleGetMetrics(_ context.Context, _ *gomcp.CallToolRequest, input getMetricsInput) (*gomcp.CallToolResult, metricsOutput, error) {
	if s.metricsCalc == nil {
		return errorResult("metrics calculator not available (event log may be disabled)"), emptyMetricsOutput(), nil
	}

	sinceStr := input.Since
	if sinceStr == "" {
		sinceStr = "7d"
	}

	sinceTime, err := ParseSince(sinceStr, time.Now())
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), emptyMetricsOutput(), nil
	}

	metrics, err := s.metricsCalc.Calculate(sinceTime)
	if err != nil {
		return errorResult(fmt.Sprintf("calculating metrics: %s", err)), emptyMetricsOutput(), nil
	}

	out := metricsOutput{
		TasksCreated:     metrics.TasksCreated,
		TasksCompleted:   metrics.TasksCompleted,
		TasksByStatus:    metrics.TasksByStatus,
		TasksAutoBlocked: metrics.TasksAutoBlocked,
		MovesRefused:     metrics.MovesRefused,
		AccountBlocks:    metrics.AccountBlocks,
		AccountUnblocks:  metrics.AccountUnblocks,
		GraceStarted:     metrics.GraceStarted,
		GraceReblocked:   metrics.GraceReblocked,
		EventCount:       metrics.EventCount,
	}
	if metrics.OldestEvent != nil {
		out.OldestEvent = metrics.OldestEvent.Format(time.RFC3339)
	}
	if metrics.NewestEvent != nil {
		out.NewestEvent = metrics.NewestEvent.Format(time.RFC3339)
	}
	return nil, out, nil
}

func (s *Server) handleGetAlerts(_ context.Context, _ *gomcp.CallToolRequest, _ emptyInput) (*gomcp.CallToolResult, getAlertsOutput, error) {
	if s.alertEngine == nil {
		return errorResult("alert engine not available (event log may be disabled)"), getAlertsOutput{}, nil
	}

	alerts, err := s.alertEngine.Evaluate()
	if err != nil {
		return errorResult(fmt.Sprintf("evaluating alerts: %s", err)), getAlertsOutput{}, nil
	}

	out := getAlertsOutput{
		Alerts: make([]alertOutput, len(alerts)),
		Count:  len(alerts),
	}
	for i, a := range alerts {
		out.Alerts[i] = alertOutput{
			ID:          a.ID,
			Condition:   a.Condition,
			Severity:    string(a.Severity),
			Message:     a.Message,
			TriggeredAt: a.TriggeredAt.Format(time.RFC3339),
		}
	}
	return nil, out, nil
}

// --- Helpers ---

func (s *Server) taskToOutput(t models.Task) taskOutput {
	out := taskOutput{
		ID:            t.ID,
		Title:         t.Title,
		Status:        string(t.Status),
		Priority:      string(t.Priority),
		AssignedUsers: t.AssignedUsers,
		CreatedBy:     t.CreatedBy,
		AssignedBy:    t.AssignedBy,
		BlockedReason: t.BlockedReason,
		IsOverdue:     s.lifecycle.IsTaskOverdue(t),
		InGracePeriod: s.lifecycle.IsTaskInGracePeriod(t),
	}
	if out.AssignedUsers == nil {
		out.AssignedUsers = []string{}
	}
	if t.DueDate != nil {
		out.DueDate = t.DueDate.Format("2006-01-02")
	}
	if out.IsOverdue {
		out.OverdueMessage = s.lifecycle.FormatOverdueMessage(t)
	}
	return out
}

func emptyMetricsOutput() metricsOutput {
	return metricsOutput{
		TasksByStatus: make(map[string]int),
		MovesRefused:  make(map[string]int),
	}
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// ParseSince parses a human-friendly duration string like "7d", "30d", or
// "24h" into the corresponding time before now.
func ParseSince(s string, now time.Time) (time.Time, error) {
	now = now.UTC()

	if len(s) < 2 {
		return time.Time{}, fmt.Errorf("invalid duration %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]
	var num int
	if _, err := fmt.Sscanf(numStr, "%d", &num); err != nil {
		return time.Time{}, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	switch suffix {
	case 'd':
		return now.AddDate(0, 0, -num), nil
	case 'h':
		return now.Add(-time.Duration(num) * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported duration suffix %q (use d or h)", string(suffix))
	}
}
