package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/valter-silva-au/duegate/pkg/models"
)

// CanUserMoveTask decides whether user may move task to newStatus. The
// transition table is applied first for every branch, then the ownership
// rules. A refusal is a plain false; this never errors.
func CanUserMoveTask(task models.Task, user string, newStatus models.TaskStatus) bool {
	if user == "" || !task.Status.Valid() || !newStatus.Valid() {
		return false
	}
	if !CanTransition(task.Status, newStatus) {
		return false
	}
	return ownershipPermits(task, user, newStatus)
}

// CanUserMoveBlockedTask is the name the board and forms use for the
// permission check; it is identical to CanUserMoveTask.
func CanUserMoveBlockedTask(task models.Task, user string, newStatus models.TaskStatus) bool {
	return CanUserMoveTask(task, user, newStatus)
}

func isResolution(s models.TaskStatus) bool {
	return s == models.StatusPaused || s == models.StatusCompleted
}

// ownershipPermits evaluates the ownership rules in order. Blocked and
// paused tasks are guarded; any other status may be moved by an assignee.
func ownershipPermits(task models.Task, user string, newStatus models.TaskStatus) bool {
	assigned := task.IsAssignedTo(user)

	if task.Status != models.StatusBlocked && task.Status != models.StatusPaused {
		return assigned
	}

	// Self-service unblock: an assignee may only resolve a blocked task.
	if task.Status == models.StatusBlocked && assigned {
		return isResolution(newStatus)
	}

	if task.CreatedBy == user {
		if task.Status == models.StatusBlocked {
			return isResolution(newStatus)
		}
		return true
	}

	if task.Status == models.StatusBlocked && task.AssignedBy != "" && task.AssignedBy != user {
		return false
	}

	if task.Status == models.StatusPaused && task.AssignedBy != "" && task.AssignedBy != user {
		return assigned
	}

	return true
}

// MoveRefusal identifies why the gate rejected a move.
type MoveRefusal string

const (
	RefusalNone              MoveRefusal = ""
	RefusalInvalidTransition MoveRefusal = "invalid_transition"
	RefusalAccountBlocked    MoveRefusal = "account_blocked"
	RefusalNotPermitted      MoveRefusal = "not_permitted"
)

// MoveRequest describes a proposed status change and the context needed to
// judge it.
type MoveRequest struct {
	Task           models.Task
	User           string
	NewStatus      models.TaskStatus
	AccountBlocked bool
	GraceActive    bool
	Now            time.Time
}

// MoveDecision is the gate's verdict. Message is user-facing text.
type MoveDecision struct {
	Allowed bool        `json:"allowed"`
	Refusal MoveRefusal `json:"refusal,omitempty"`
	Message string      `json:"message,omitempty"`
}

// MoveRefusedError is returned by operations that perform a move the gate
// rejected. It is a precondition failure, not a fault.
type MoveRefusedError struct {
	TaskID   string
	Decision MoveDecision
}

func (e *MoveRefusedError) Error() string {
	return fmt.Sprintf("moving task %s: %s", e.TaskID, e.Decision.Message)
}

// MoveGate combines the transition table, the ownership rules, the account
// block and the self-unblock grace carve-out into one decision.
type MoveGate struct {
	classifier OverdueClassifier
}

// NewMoveGate creates a gate that uses classifier for the grace carve-out.
func NewMoveGate(classifier OverdueClassifier) MoveGate {
	return MoveGate{classifier: classifier}
}

// Check evaluates req and returns the decision.
func (g MoveGate) Check(req MoveRequest) MoveDecision {
	task := req.Task
	if !req.NewStatus.Valid() || req.NewStatus == task.Status || !CanTransition(task.Status, req.NewStatus) {
		return refuse(RefusalInvalidTransition, fmt.Sprintf("Invalid status transition from %s to %s.", displayStatus(task.Status), displayStatus(req.NewStatus)))
	}

	if req.AccountBlocked {
		graceCarveOut := req.GraceActive && g.classifier.IsOverdue(task, req.Now)
		selfService := task.Status == models.StatusBlocked && task.IsAssignedTo(req.User) && isResolution(req.NewStatus)
		if !graceCarveOut && !selfService {
			return refuse(RefusalAccountBlocked, "Cannot move tasks while account is blocked.")
		}
	}

	if !CanUserMoveTask(task, req.User, req.NewStatus) {
		return refuse(RefusalNotPermitted, notPermittedMessage(task, req.User))
	}

	return MoveDecision{Allowed: true}
}

func refuse(r MoveRefusal, msg string) MoveDecision {
	return MoveDecision{Allowed: false, Refusal: r, Message: msg}
}

func notPermittedMessage(task models.Task, user string) string {
	msg := "You cannot move this task. "
	switch {
	case task.AssignedBy != "" && task.AssignedBy != user:
		return msg + fmt.Sprintf("Only %s (who assigned this task) can move it.", task.AssignedBy)
	case task.Status == models.StatusBlocked:
		return msg + "This task can only be moved to Paused or Completed status."
	default:
		return msg + "It is not assigned to you."
	}
}

func displayStatus(s models.TaskStatus) string {
	switch s {
	case models.StatusTodo:
		return "To Do"
	case models.StatusInProgress:
		return "In Progress"
	case models.StatusBlocked:
		return "Blocked"
	case models.StatusPaused:
		return "Paused"
	case models.StatusCompleted:
		return "Completed"
	}
	return string(s)
}

// resolvableBlockedTasks returns the user's blocked tasks they may resolve
// themselves by completing or pausing them.
func resolvableBlockedTasks(tasks []models.Task, user string) []models.Task {
	var result []models.Task
	for _, t := range UserBlockedTasks(tasks, user) {
		if CanUserMoveTask(t, user, models.StatusCompleted) || CanUserMoveTask(t, user, models.StatusPaused) {
			result = append(result, t)
		}
	}
	return result
}

// CanUserUnblockSelf reports whether user holds a blocked task they may
// resolve on their own.
func CanUserUnblockSelf(tasks []models.Task, user string) bool {
	return len(resolvableBlockedTasks(tasks, user)) > 0
}

// SelfUnblockInstructions tells user which tasks to resolve to lift the
// account block. At most three titles are listed.
func SelfUnblockInstructions(tasks []models.Task, user string) string {
	if user == "" {
		return ""
	}
	resolvable := resolvableBlockedTasks(tasks, user)
	if len(resolvable) == 0 {
		return "You cannot unblock yourself. Please contact your task assigner."
	}

	n := len(resolvable)
	if n > 3 {
		n = 3
	}
	titles := make([]string, n)
	for i := 0; i < n; i++ {
		titles[i] = fmt.Sprintf("%q", resolvable[i].Title)
	}
	remaining := ""
	if len(resolvable) > 3 {
		remaining = fmt.Sprintf(" and %d more", len(resolvable)-3)
	}
	return fmt.Sprintf("To unblock your account, mark the following tasks as completed or paused: %s%s.",
		strings.Join(titles, ", "), remaining)
}
