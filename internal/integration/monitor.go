// Package integration connects the lifecycle engine to the outside world:
// store change feeds, the periodic sweep, database file changes made by
// other processes, and grace period timers.
package integration

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	rcron "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/valter-silva-au/duegate/internal/core"
)

// TriggerKind names what caused a monitor run.
type TriggerKind string

const (
	TriggerChange       TriggerKind = "change"
	TriggerSweep        TriggerKind = "sweep"
	TriggerExternal     TriggerKind = "external"
	TriggerGraceExpired TriggerKind = "grace-expired"
)

// RunReport describes one processed trigger.
type RunReport struct {
	Kind    TriggerKind
	Cascade *core.CascadeResult
	Expiry  *core.ExpiryResult
	Err     error
}

// MonitorOptions configures a Monitor. Changes, SweepSchedule and WatchPath
// are optional; each enables one trigger source.
type MonitorOptions struct {
	Lifecycle     *core.Lifecycle
	Tasks         core.TaskStore
	Changes       core.TaskChangeSource
	Session       core.Session
	SweepSchedule string
	// WatchPath is the SQLite database file. Writes to it or its WAL by
	// other processes raise an external trigger.
	WatchPath string
	Logger    zerolog.Logger
	// AfterRun, if set, is called by the consumer after every run.
	AfterRun func(RunReport)
}

// Monitor re-runs the blocking cascade whenever something may have changed
// the task snapshot. All runs happen on one consumer goroutine; triggers of
// the same kind that arrive while a run is pending are coalesced.
type Monitor struct {
	opts     MonitorOptions
	log      zerolog.Logger
	triggers map[TriggerKind]chan struct{}
}

// NewMonitor validates opts and creates a Monitor.
func NewMonitor(opts MonitorOptions) (*Monitor, error) {
	if opts.Lifecycle == nil || opts.Tasks == nil {
		return nil, errors.New("creating monitor: lifecycle and task store are required")
	}
	if opts.SweepSchedule != "" {
		if _, err := rcron.ParseStandard(opts.SweepSchedule); err != nil {
			return nil, fmt.Errorf("creating monitor: sweep schedule %q: %w", opts.SweepSchedule, err)
		}
	}
	m := &Monitor{
		opts:     opts,
		log:      opts.Logger.With().Str("component", "monitor").Logger(),
		triggers: make(map[TriggerKind]chan struct{}),
	}
	for _, k := range []TriggerKind{TriggerChange, TriggerSweep, TriggerExternal, TriggerGraceExpired} {
		m.triggers[k] = make(chan struct{}, 1)
	}
	return m, nil
}

// Trigger queues a run of the given kind. It never blocks.
func (m *Monitor) Trigger(kind TriggerKind) {
	ch, ok := m.triggers[kind]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// OnGraceExpired is the callback to hand to Lifecycle.SelfUnblock.
func (m *Monitor) OnGraceExpired() {
	m.Trigger(TriggerGraceExpired)
}

// Run starts the trigger sources and processes triggers until ctx is
// cancelled. A grace period left running by an earlier process is resumed
// and an initial sweep is queued.
func (m *Monitor) Run(ctx context.Context) error {
	if m.opts.Changes != nil {
		changes, cancel := m.opts.Changes.Subscribe(16)
		defer cancel()
		go func() {
			for range changes {
				m.Trigger(TriggerChange)
			}
		}()
	}

	if m.opts.SweepSchedule != "" {
		c := rcron.New()
		if _, err := c.AddFunc(m.opts.SweepSchedule, func() { m.Trigger(TriggerSweep) }); err != nil {
			return fmt.Errorf("scheduling sweep: %w", err)
		}
		c.Start()
		defer c.Stop()
	}

	if m.opts.WatchPath != "" {
		watcher, err := m.watch(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = watcher.Close() }()
	}

	if m.opts.Session.Store != nil {
		if _, err := m.opts.Lifecycle.ResumeGracePeriod(m.opts.Session, m.OnGraceExpired); err != nil {
			m.log.Warn().Err(err).Msg("resuming grace period failed")
		}
	}

	m.log.Info().Str("user", m.opts.Session.User).Str("sweep", m.opts.SweepSchedule).Msg("monitor started")
	m.Trigger(TriggerSweep)

	for {
		var kind TriggerKind
		select {
		case <-ctx.Done():
			m.log.Info().Msg("monitor stopped")
			return nil
		case <-m.triggers[TriggerGraceExpired]:
			kind = TriggerGraceExpired
		case <-m.triggers[TriggerChange]:
			kind = TriggerChange
		case <-m.triggers[TriggerExternal]:
			kind = TriggerExternal
		case <-m.triggers[TriggerSweep]:
			kind = TriggerSweep
		}
		report := m.process(ctx, kind)
		if report.Err != nil && !errors.Is(report.Err, context.Canceled) {
			m.log.Error().Err(report.Err).Str("trigger", string(kind)).Msg("monitor run failed")
		}
		if m.opts.AfterRun != nil {
			m.opts.AfterRun(report)
		}
	}
}

func (m *Monitor) process(ctx context.Context, kind TriggerKind) RunReport {
	report := RunReport{Kind: kind}
	tasks, err := m.opts.Tasks.ListTasks(ctx)
	if err != nil {
		report.Err = fmt.Errorf("listing tasks: %w", err)
		return report
	}

	if kind == TriggerGraceExpired {
		expiry, err := m.opts.Lifecycle.ExpireGracePeriod(ctx, m.opts.Session, tasks)
		report.Expiry = expiry
		if err != nil {
			report.Err = err
			return report
		}
	}

	result, err := m.opts.Lifecycle.ProcessOverdueTasks(ctx, m.opts.Session, tasks)
	report.Cascade = result
	report.Err = err
	if err == nil && result != nil && (len(result.NewlyBlocked) > 0 || result.Account != core.AccountUnchanged) {
		m.log.Debug().
			Str("trigger", string(kind)).
			Int("newly_blocked", len(result.NewlyBlocked)).
			Str("account", string(result.Account)).
			Msg("cascade applied changes")
	}
	return report
}

// watch observes the database directory. Only the database file and its
// WAL are of interest; the directory is watched so that file replacement
// is seen too.
func (m *Monitor) watch(ctx context.Context) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	dir := filepath.Dir(m.opts.WatchPath)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	base := filepath.Base(m.opts.WatchPath)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				name := filepath.Base(event.Name)
				if name != base && !strings.HasPrefix(name, base+"-wal") {
					continue
				}
				m.Trigger(TriggerExternal)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.log.Warn().Err(err).Msg("file watcher error")
			}
		}
	}()
	return watcher, nil
}
