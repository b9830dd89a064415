package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/valter-silva-au/duegate/internal/core"
	"github.com/valter-silva-au/duegate/pkg/models"
)

type createSessionRequest struct {
	Username string `json:"username" binding:"required"`
}

type createTaskRequest struct {
	Title         string   `json:"title" binding:"required"`
	Description   string   `json:"description"`
	Priority      string   `json:"priority"`
	Status        string   `json:"status"`
	DueDate       string   `json:"due_date"`
	StartDate     string   `json:"start_date"`
	AssignedUsers []string `json:"assigned_users"`
	AssignedBy    string   `json:"assigned_by"`
}

type moveTaskRequest struct {
	Status string `json:"status" binding:"required"`
}

// overdueView is the classifier's verdict on one task.
type overdueView struct {
	IsOverdue     bool   `json:"is_overdue"`
	InGracePeriod bool   `json:"in_grace_period"`
	Message       string `json:"message,omitempty"`
}

type taskResponse struct {
	Task    models.Task `json:"task"`
	Overdue overdueView `json:"overdue"`
}

type taskFailure struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

type cascadeResponse struct {
	NewlyBlocked []string      `json:"newly_blocked"`
	Failures     []taskFailure `json:"failures"`
	BlockedCount int           `json:"blocked_count"`
	Account      string        `json:"account"`
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}
	rec, err := s.sessions.Create(req.Username)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session_id": rec.ID, "user": rec.User})
}

func (s *Server) handleListTasks(c *gin.Context) {
	filter := core.TaskFilter{User: c.Query("user")}
	for _, raw := range c.QueryArray("status") {
		for _, part := range strings.Split(raw, ",") {
			status, err := models.ParseTaskStatus(strings.TrimSpace(part))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			filter.Status = append(filter.Status, status)
		}
	}

	tasks, err := s.tasks.ListTasks(c.Request.Context(), filter)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "total": len(tasks)})
}

func (s *Server) handleGetTask(c *gin.Context) {
	task, ok := s.loadTask(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.taskView(*task))
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}
	loc := s.lifecycle.Clock().Now().Location()
	due, err := core.ParseDueDate(req.DueDate, loc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start, err := core.ParseDueDate(req.StartDate, loc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := s.tasks.CreateTask(c.Request.Context(), sessionFrom(c), core.CreateTaskOpts{
		Title:         req.Title,
		Description:   req.Description,
		Priority:      models.Priority(req.Priority),
		Status:        models.TaskStatus(req.Status),
		DueDate:       due,
		StartDate:     start,
		AssignedUsers: req.AssignedUsers,
		AssignedBy:    req.AssignedBy,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, s.taskView(*task))
}

func (s *Server) handleMoveTask(c *gin.Context) {
	var req moveTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}
	status, err := models.ParseTaskStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := s.tasks.MoveTask(c.Request.Context(), sessionFrom(c), c.Param("id"), status)
	if err != nil {
		var refused *core.MoveRefusedError
		switch {
		case errors.As(err, &refused):
			code := http.StatusForbidden
			if refused.Decision.Refusal == core.RefusalInvalidTransition {
				code = http.StatusConflict
			}
			c.JSON(code, gin.H{"error": refused.Decision.Message, "refusal": refused.Decision.Refusal})
		case errors.Is(err, core.ErrTaskNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		default:
			s.internalError(c, err)
		}
		return
	}
	c.JSON(http.StatusOK, s.taskView(*task))
}

func (s *Server) handleCanMove(c *gin.Context) {
	status, err := models.ParseTaskStatus(c.Query("status"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	task, ok := s.loadTask(c)
	if !ok {
		return
	}
	decision, err := s.lifecycle.CheckMove(c.Request.Context(), sessionFrom(c), *task, status)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

func (s *Server) handleOverdueSummary(c *gin.Context) {
	session := sessionFrom(c)
	tasks, err := s.tasks.ListTasks(c.Request.Context(), core.TaskFilter{})
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":                 session.User,
		"summary":              s.lifecycle.GetUserOverdueSummary(tasks, session.User),
		"can_self_unblock":     core.CanUserUnblockSelf(tasks, session.User),
		"unblock_instructions": core.SelfUnblockInstructions(tasks, session.User),
	})
}

func (s *Server) handleDueToday(c *gin.Context) {
	tasks, err := s.tasks.ListTasks(c.Request.Context(), core.TaskFilter{User: c.Query("user")})
	if err != nil {
		s.internalError(c, err)
		return
	}
	due := s.lifecycle.DueToday(tasks)
	if due == nil {
		due = []models.Task{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": due, "total": len(due)})
}

func (s *Server) handleProcessOverdue(c *gin.Context) {
	tasks, err := s.tasks.ListTasks(c.Request.Context(), core.TaskFilter{})
	if err != nil {
		s.internalError(c, err)
		return
	}
	result, err := s.lifecycle.ProcessOverdueTasks(c.Request.Context(), sessionFrom(c), tasks)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, cascadeView(result))
}

func (s *Server) handleGetAccount(c *gin.Context) {
	session := sessionFrom(c)
	account, err := s.accounts.GetUser(c.Request.Context(), session.User)
	if errors.Is(err, core.ErrUserNotFound) {
		c.JSON(http.StatusOK, models.UserAccount{Username: session.User})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (s *Server) handleSelfUnblock(c *gin.Context) {
	session := sessionFrom(c)
	status, err := s.lifecycle.SelfUnblock(c.Request.Context(), session, s.expireGrace(session))
	switch {
	case errors.Is(err, core.ErrAccountNotBlocked):
		c.JSON(http.StatusConflict, gin.H{"error": "account is not blocked"})
	case errors.Is(err, core.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case err != nil:
		s.internalError(c, err)
	default:
		c.JSON(http.StatusOK, status)
	}
}

func (s *Server) handleGraceStatus(c *gin.Context) {
	status, err := s.lifecycle.GraceStatus(sessionFrom(c))
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) loadTask(c *gin.Context) (*models.Task, bool) {
	task, err := s.tasks.GetTask(c.Request.Context(), c.Param("id"))
	if errors.Is(err, core.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return nil, false
	}
	if err != nil {
		s.internalError(c, err)
		return nil, false
	}
	return task, true
}

func (s *Server) taskView(task models.Task) taskResponse {
	view := overdueView{
		IsOverdue:     s.lifecycle.IsTaskOverdue(task),
		InGracePeriod: s.lifecycle.IsTaskInGracePeriod(task),
	}
	if view.IsOverdue {
		view.Message = s.lifecycle.FormatOverdueMessage(task)
	}
	return taskResponse{Task: task, Overdue: view}
}

func cascadeView(result *core.CascadeResult) cascadeResponse {
	resp := cascadeResponse{
		NewlyBlocked: result.NewlyBlocked,
		Failures:     []taskFailure{},
		BlockedCount: result.BlockedCount,
		Account:      string(result.Account),
	}
	if resp.NewlyBlocked == nil {
		resp.NewlyBlocked = []string{}
	}
	for _, f := range result.Failures {
		resp.Failures = append(resp.Failures, taskFailure{TaskID: f.TaskID, Error: f.Err.Error()})
	}
	return resp
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
