// Package binding attaches a reconciliation engine to a live event source:
// snapshots go through the debouncer into engine passes, and Detach tears
// the whole chain down.
package binding

import (
	"context"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"

	appLog "remindcal/internal/log"
	"remindcal/internal/model"
	"remindcal/internal/reconcile"
	"remindcal/internal/trigger"
)

// Options configures Attach. Zero values pick defaults.
type Options struct {
	// Window is the debounce quiescence period.
	Window time.Duration
	// Clock drives the debouncer; nil uses the wall clock.
	Clock clock.Clock
	// Now splits future from past events; nil uses Clock.Now.
	Now func() time.Time
	// OnPass, if set, observes every pass result after it was logged.
	OnPass func(reconcile.Report, error)
}

// Binding is the handle returned by Attach.
type Binding struct {
	engine    *reconcile.Engine
	debouncer *trigger.Debouncer
	onPass    func(reconcile.Report, error)

	mu   sync.RWMutex
	last []model.Event

	detachOnce sync.Once
}

// Attach creates fresh reconciliation state for gw, starts the debouncer
// and delivers the initial snapshot. Callers must Detach on every exit
// path, typically with defer.
func Attach(gw reconcile.Gateway, initial []model.Event, opts Options) *Binding {
	clk := opts.Clock
	if clk == nil {
		clk = clock.NewClock()
	}
	now := opts.Now
	if now == nil {
		now = clk.Now
	}

	b := &Binding{
		engine: reconcile.New(gw, reconcile.NewState(), reconcile.WithNow(now)),
		onPass: opts.OnPass,
	}
	b.debouncer = trigger.New(clk, opts.Window, b.pass)

	appLog.Info("binding attached", "initial_events", len(initial))
	b.Deliver(initial)
	return b
}

// Deliver feeds a new event snapshot. It returns immediately.
func (b *Binding) Deliver(events []model.Event) {
	snapshot := append([]model.Event(nil), events...)

	b.mu.Lock()
	b.last = snapshot
	b.mu.Unlock()

	b.debouncer.Deliver(snapshot)
}

// Refresh forces the next pass to diff the latest snapshot even if its
// content did not change, and schedules that pass.
func (b *Binding) Refresh() {
	b.engine.ForceRefresh()

	b.mu.RLock()
	last := b.last
	b.mu.RUnlock()

	b.debouncer.Deliver(last)
}

// Events returns the most recently delivered snapshot.
func (b *Binding) Events() []model.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]model.Event(nil), b.last...)
}

// Records returns the engine's known scheduled records.
func (b *Binding) Records() []reconcile.Record {
	return b.engine.Records()
}

// Fingerprint returns the fingerprint of the last completed pass.
func (b *Binding) Fingerprint() string {
	return b.engine.LastFingerprint()
}

// Detach stops the debouncer (dropping any pending snapshot, waiting for a
// running pass) and clears local bookkeeping. Notifications already at the
// platform are not cancelled. Safe to call more than once.
func (b *Binding) Detach() {
	b.detachOnce.Do(func() {
		b.debouncer.Stop()
		b.engine.Release()
		appLog.Info("binding detached")
	})
}

// pass is the debouncer callback. Errors end here: they are logged and
// reported to OnPass, never returned to the event source.
func (b *Binding) pass(ctx context.Context, events []model.Event) {
	report, err := b.engine.Run(ctx, events)
	switch {
	case err != nil:
		appLog.Error("reconcile pass finished with errors", err,
			"events", len(events),
			"scheduled", len(report.Scheduled),
			"cancelled", len(report.Cancelled),
		)
	case report.Skipped:
		appLog.Debug("reconcile pass skipped; snapshot unchanged", "events", len(events))
	default:
		appLog.Info("reconcile pass complete",
			"events", len(events),
			"scheduled", len(report.Scheduled),
			"failed", len(report.Failed),
			"cancelled", len(report.Cancelled),
		)
	}

	if b.onPass != nil {
		b.onPass(report, err)
	}
}
