package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultSelfUnblockWindow is how long a self-unblocked user may resolve
// overdue tasks before the account is re-evaluated.
const DefaultSelfUnblockWindow = 5 * time.Minute

// gracePeriodStartKey is the session storage key holding the start time.
const gracePeriodStartKey = "gracePeriodStart"

// ErrGracePeriodActive is returned when starting a grace period while one is
// already running in the same session.
var ErrGracePeriodActive = errors.New("grace period already active")

// GraceState is the lifecycle state of a session's grace period.
type GraceState string

const (
	GraceInactive GraceState = "inactive"
	GraceActive   GraceState = "active"
	// GraceExpired means the window has elapsed but expiry has not been
	// processed yet.
	GraceExpired GraceState = "expired"
)

// GracePeriod is the timed self-unblock override for one session. Only the
// start time is persisted; the countdown is always recomputed from it, so a
// restarted process resumes where it left off.
type GracePeriod struct {
	store    SessionStore
	clock    Clock
	duration time.Duration

	mu    sync.Mutex
	timer Stopper
}

// NewGracePeriod creates a grace period persisted in store. A non-positive
// duration falls back to DefaultSelfUnblockWindow.
func NewGracePeriod(store SessionStore, clock Clock, duration time.Duration) *GracePeriod {
	if duration <= 0 {
		duration = DefaultSelfUnblockWindow
	}
	return &GracePeriod{store: store, clock: clock, duration: duration}
}

// Duration returns the fixed window length.
func (g *GracePeriod) Duration() time.Duration {
	return g.duration
}

func (g *GracePeriod) startTime() (time.Time, bool, error) {
	raw, ok, err := g.store.Get(gracePeriodStartKey)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading grace period start: %w", err)
	}
	if !ok || raw == "" {
		return time.Time{}, false, nil
	}
	start, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		// An unreadable start is treated as no grace period at all.
		return time.Time{}, false, nil
	}
	return start, true, nil
}

// Start opens a new grace period at the current time. It fails with
// ErrGracePeriodActive if one is already running. An elapsed but
// unprocessed period is replaced.
func (g *GracePeriod) Start() (time.Time, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, err := g.State()
	if err != nil {
		return time.Time{}, err
	}
	if state == GraceActive {
		return time.Time{}, ErrGracePeriodActive
	}
	now := g.clock.Now()
	if err := g.store.Set(gracePeriodStartKey, now.Format(time.RFC3339Nano)); err != nil {
		return time.Time{}, fmt.Errorf("starting grace period: %w", err)
	}
	return now, nil
}

// State reports the current state of the grace period.
func (g *GracePeriod) State() (GraceState, error) {
	start, ok, err := g.startTime()
	if err != nil {
		return GraceInactive, err
	}
	if !ok {
		return GraceInactive, nil
	}
	if g.clock.Now().Sub(start) >= g.duration {
		return GraceExpired, nil
	}
	return GraceActive, nil
}

// IsActive reports whether the window is currently open. Storage errors are
// treated as inactive.
func (g *GracePeriod) IsActive() bool {
	state, err := g.State()
	return err == nil && state == GraceActive
}

// Remaining returns the time left in the window, or zero when inactive.
func (g *GracePeriod) Remaining() time.Duration {
	start, ok, err := g.startTime()
	if err != nil || !ok {
		return 0
	}
	remaining := g.duration - g.clock.Now().Sub(start)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Clear removes the stored start and cancels any pending timer.
func (g *GracePeriod) Clear() error {
	g.mu.Lock()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.mu.Unlock()

	if err := g.store.Delete(gracePeriodStartKey); err != nil {
		return fmt.Errorf("clearing grace period: %w", err)
	}
	return nil
}

// Schedule arranges for onExpire to run when the window closes. If the
// window has already elapsed, onExpire runs synchronously and Schedule
// returns true. Nothing is scheduled when no grace period is stored.
func (g *GracePeriod) Schedule(onExpire func()) (bool, error) {
	state, err := g.State()
	if err != nil {
		return false, err
	}
	switch state {
	case GraceExpired:
		onExpire()
		return true, nil
	case GraceActive:
		g.mu.Lock()
		if g.timer != nil {
			g.timer.Stop()
		}
		g.timer = g.clock.AfterFunc(g.Remaining(), onExpire)
		g.mu.Unlock()
	}
	return false, nil
}
