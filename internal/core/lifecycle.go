package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/valter-silva-au/duegate/pkg/models"
)

// ErrAccountNotBlocked is returned by SelfUnblock when there is nothing to
// unblock.
var ErrAccountNotBlocked = errors.New("account is not blocked")

// LifecycleOptions configures a Lifecycle.
type LifecycleOptions struct {
	Tasks    TaskStore
	Accounts AccountStore
	Clock    Clock
	Events   EventLogger
	Logger   zerolog.Logger

	GracePeriodDays   int
	SelfUnblockWindow time.Duration
}

// GraceStatus is the caller-facing view of a session's grace period.
type GraceStatus struct {
	State       GraceState `json:"state"`
	Active      bool       `json:"active"`
	RemainingMs int64      `json:"remaining_ms"`
}

// ExpiryResult reports the outcome of processing an expired grace period.
type ExpiryResult struct {
	Remaining int  `json:"remaining"`
	Reblocked bool `json:"reblocked"`
}

// Lifecycle is the entry point callers use for everything overdue-related:
// classification, move checks, the blocking cascade and the self-unblock
// grace period.
type Lifecycle struct {
	tasks      TaskStore
	accounts   AccountStore
	clock      Clock
	events     EventLogger
	log        zerolog.Logger
	classifier OverdueClassifier
	gate       MoveGate
	engine     *BlockingEngine
	window     time.Duration

	mu     sync.Mutex
	graces map[string]graceEntry
}

// graceEntry is a cached grace period and the user whose session holds it.
type graceEntry struct {
	user  string
	grace *GracePeriod
}

// NewLifecycle wires the classifier, gate and cascade engine together.
func NewLifecycle(opts LifecycleOptions) *Lifecycle {
	clock := opts.Clock
	if clock == nil {
		clock = NewSystemClock(nil)
	}
	window := opts.SelfUnblockWindow
	if window <= 0 {
		window = DefaultSelfUnblockWindow
	}
	classifier := NewOverdueClassifier(opts.GracePeriodDays)
	return &Lifecycle{
		tasks:      opts.Tasks,
		accounts:   opts.Accounts,
		clock:      clock,
		events:     opts.Events,
		log:        opts.Logger,
		classifier: classifier,
		gate:       NewMoveGate(classifier),
		engine:     NewBlockingEngine(opts.Tasks, opts.Accounts, clock, classifier, opts.Events, opts.Logger),
		window:     window,
		graces:     make(map[string]graceEntry),
	}
}

// Classifier returns the overdue classifier in use.
func (l *Lifecycle) Classifier() OverdueClassifier { return l.classifier }

// Clock returns the lifecycle's clock.
func (l *Lifecycle) Clock() Clock { return l.clock }

func (l *Lifecycle) IsTaskOverdue(task models.Task) bool {
	return l.classifier.IsOverdue(task, l.clock.Now())
}

func (l *Lifecycle) IsTaskInGracePeriod(task models.Task) bool {
	return l.classifier.IsInGracePeriod(task, l.clock.Now())
}

func (l *Lifecycle) FormatOverdueMessage(task models.Task) string {
	return l.classifier.FormatOverdueMessage(task, l.clock.Now())
}

func (l *Lifecycle) CanUserMoveBlockedTask(task models.Task, user string, newStatus models.TaskStatus) bool {
	return CanUserMoveBlockedTask(task, user, newStatus)
}

func (l *Lifecycle) GetUserOverdueSummary(tasks []models.Task, username string) models.OverdueSummary {
	return l.classifier.Summary(tasks, username, l.clock.Now())
}

func (l *Lifecycle) DueToday(tasks []models.Task) []models.Task {
	return l.classifier.DueToday(tasks, l.clock.Now())
}

// ProcessOverdueTasks runs the blocking cascade for session's user over a
// task snapshot. It is invoked on every snapshot update.
func (l *Lifecycle) ProcessOverdueTasks(ctx context.Context, session Session, tasks []models.Task) (*CascadeResult, error) {
	return l.engine.Process(ctx, session, tasks, l.UserGraceActive(session))
}

// UserGraceActive reports whether session's user has an open grace window
// in any session known to this Lifecycle, not only in session itself.
func (l *Lifecycle) UserGraceActive(session Session) bool {
	if session.Store != nil && l.Grace(session).IsActive() {
		return true
	}
	if session.User == "" {
		return false
	}
	l.mu.Lock()
	var held []*GracePeriod
	for id, e := range l.graces {
		if e.user == session.User && id != session.ID {
			held = append(held, e.grace)
		}
	}
	l.mu.Unlock()

	for _, g := range held {
		if g.IsActive() {
			return true
		}
	}
	return false
}

// Grace returns the grace period for session, creating it on first use.
// Sessions without storage get a throwaway in-memory grace period.
func (l *Lifecycle) Grace(session Session) *GracePeriod {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.graces[session.ID]; ok && session.ID != "" {
		return e.grace
	}
	store := session.Store
	if store == nil {
		store = NewMemorySessionStore()
	}
	g := NewGracePeriod(store, l.clock, l.window)
	if session.ID != "" {
		l.graces[session.ID] = graceEntry{user: session.User, grace: g}
	}
	return g
}

// GraceStatus reports the session's grace period state and countdown.
func (l *Lifecycle) GraceStatus(session Session) (GraceStatus, error) {
	g := l.Grace(session)
	state, err := g.State()
	if err != nil {
		return GraceStatus{State: GraceInactive}, err
	}
	return GraceStatus{
		State:       state,
		Active:      state == GraceActive,
		RemainingMs: g.Remaining().Milliseconds(),
	}, nil
}

// CheckMove loads the acting user's account and asks the gate whether the
// move may proceed.
func (l *Lifecycle) CheckMove(ctx context.Context, session Session, task models.Task, newStatus models.TaskStatus) (MoveDecision, error) {
	blocked := false
	if session.User != "" {
		account, err := l.accounts.GetUser(ctx, session.User)
		if err != nil && !errors.Is(err, ErrUserNotFound) {
			return MoveDecision{}, fmt.Errorf("checking move: reading account %s: %w", session.User, err)
		}
		blocked = account != nil && account.IsBlocked
	}
	return l.gate.Check(MoveRequest{
		Task:           task,
		User:           session.User,
		NewStatus:      newStatus,
		AccountBlocked: blocked,
		GraceActive:    l.UserGraceActive(session),
		Now:            l.clock.Now(),
	}), nil
}

// SelfUnblock lifts the session user's account block and opens the grace
// window. onExpire, if non-nil, is scheduled for the end of the window.
func (l *Lifecycle) SelfUnblock(ctx context.Context, session Session, onExpire func()) (GraceStatus, error) {
	if session.User == "" {
		return GraceStatus{}, fmt.Errorf("self-unblocking: no current user")
	}
	account, err := l.accounts.GetUser(ctx, session.User)
	if err != nil {
		return GraceStatus{}, fmt.Errorf("self-unblocking %s: %w", session.User, err)
	}
	if !account.IsBlocked {
		return GraceStatus{}, fmt.Errorf("self-unblocking %s: %w", session.User, ErrAccountNotBlocked)
	}

	g := l.Grace(session)
	// Open the window before clearing the block so a concurrent cascade run
	// already sees it and defers.
	if _, err := g.Start(); err != nil {
		return GraceStatus{}, fmt.Errorf("self-unblocking %s: %w", session.User, err)
	}
	if err := l.accounts.SetUserBlocking(ctx, session.User, false, ""); err != nil {
		_ = g.Clear()
		return GraceStatus{}, fmt.Errorf("self-unblocking %s: %w", session.User, err)
	}
	if onExpire != nil {
		if _, err := g.Schedule(onExpire); err != nil {
			return GraceStatus{}, fmt.Errorf("self-unblocking %s: scheduling expiry: %w", session.User, err)
		}
	}

	l.log.Info().Str("user", session.User).Dur("window", g.Duration()).Msg("account self-unblocked, grace period started")
	l.logEvent("grace.started", map[string]any{"user": session.User, "session_id": session.ID, "window_ms": g.Duration().Milliseconds()})
	return l.GraceStatus(session)
}

// ExpireGracePeriod closes the session's grace period and re-blocks the user
// if any overdue task is still neither completed nor paused.
func (l *Lifecycle) ExpireGracePeriod(ctx context.Context, session Session, tasks []models.Task) (*ExpiryResult, error) {
	if err := l.Grace(session).Clear(); err != nil {
		return nil, fmt.Errorf("expiring grace period: %w", err)
	}

	unresolved := l.classifier.UnresolvedOverdue(tasks, session.User, l.clock.Now())
	result := &ExpiryResult{Remaining: len(unresolved)}
	if len(unresolved) > 0 && session.User != "" {
		reason := fmt.Sprintf("Grace period expired. You still have %d overdue task(s) that need attention.", len(unresolved))
		if err := l.accounts.SetUserBlocking(ctx, session.User, true, reason); err != nil {
			return result, fmt.Errorf("expiring grace period: re-blocking %s: %w", session.User, err)
		}
		result.Reblocked = true
		l.log.Info().Str("user", session.User).Int("remaining", result.Remaining).Msg("grace period expired, user re-blocked")
	} else {
		l.log.Info().Str("user", session.User).Msg("grace period expired, all overdue tasks resolved")
	}

	l.logEvent("grace.expired", map[string]any{"user": session.User, "remaining": result.Remaining, "reblocked": result.Reblocked})
	return result, nil
}

// ResumeGracePeriod re-arms the expiry timer for a grace period persisted by
// an earlier process. If the window already elapsed, onExpire runs now.
func (l *Lifecycle) ResumeGracePeriod(session Session, onExpire func()) (bool, error) {
	return l.Grace(session).Schedule(onExpire)
}

func (l *Lifecycle) logEvent(eventType string, data map[string]any) {
	if l.events == nil {
		return
	}
	if err := l.events.LogEvent(eventType, data); err != nil {
		l.log.Debug().Err(err).Str("event", eventType).Msg("event log write failed")
	}
}
