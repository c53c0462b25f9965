// Package reconcile keeps the notifications held by a scheduling gateway
// consistent with the latest calendar snapshot. Each pass computes the
// minimal delta (events to schedule, events to cancel) and applies it with
// at most one batched gateway call per direction.
package reconcile

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"remindcal/internal/fingerprint"
	appLog "remindcal/internal/log"
	"remindcal/internal/model"
)

// Gateway is the notification platform as seen by the engine.
//
// ScheduleBatch returns the handles created per event ID; an ID mapped to
// no handles failed to schedule. CancelBatch is all-or-nothing from the
// engine's point of view.
type Gateway interface {
	ScheduleBatch(ctx context.Context, events []model.Event) (map[string][]string, error)
	CancelBatch(ctx context.Context, eventIDs []string) error
}

// Report summarizes one pass.
type Report struct {
	Fingerprint string
	// Skipped is set when the fingerprint matched the previous pass and no
	// diff was computed.
	Skipped   bool
	Scheduled []string
	Failed    []string
	Cancelled []string
}

// Option configures an Engine.
type Option func(*Engine)

// WithNow overrides the time source used to split future from past events.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine runs reconciliation passes against a Gateway. Passes are
// serialized: a pass holds the engine for its whole duration, including
// while it waits on the gateway. Readers and ForceRefresh never wait for
// a pass; they see the view published when the last pass ended.
type Engine struct {
	gw  Gateway
	now func() time.Time

	mu    sync.Mutex
	state *State

	force atomic.Bool

	viewMu sync.RWMutex
	view   view
}

// view is the read-only copy of State published after every pass.
type view struct {
	records     []Record
	fingerprint string
}

// New returns an Engine that owns state. A nil state starts empty.
func New(gw Gateway, state *State, opts ...Option) *Engine {
	if state == nil {
		state = NewState()
	}
	e := &Engine{
		gw:    gw,
		now:   time.Now,
		state: state,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.publish()
	return e
}

// Run performs one reconciliation pass over events. The returned error
// joins every *PassError raised during the pass; it never means the
// engine is unusable.
func (e *Engine) Run(ctx context.Context, events []model.Event) (Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.publish()

	if e.force.Swap(false) {
		e.state.lastFingerprint = ""
	}

	fp, err := fingerprint.Compute(events)
	if err != nil {
		return Report{}, &PassError{Kind: ErrFingerprint, Err: err}
	}

	report := Report{Fingerprint: fp}
	if fp == e.state.lastFingerprint {
		report.Skipped = true
		return report, nil
	}

	now := e.now()
	currentIDs := make(map[string]struct{}, len(events))
	toSchedule := make([]model.Event, 0)

	for _, ev := range events {
		currentIDs[ev.ID] = struct{}{}
		if !ev.Start.After(now) {
			continue
		}
		if _, known := e.state.lookup(ev.ID); known {
			continue
		}
		toSchedule = append(toSchedule, ev)
	}

	toCancel := make([]string, 0)
	for id := range e.state.known {
		if _, ok := currentIDs[id]; !ok {
			toCancel = append(toCancel, id)
		}
	}
	sort.Strings(toCancel)

	var errs []error

	if len(toSchedule) > 0 {
		scheduled, failed, err := e.schedule(ctx, toSchedule)
		if err != nil {
			errs = append(errs, err)
		}
		report.Scheduled = scheduled
		report.Failed = failed
	}

	if len(toCancel) > 0 {
		if err := e.gw.CancelBatch(ctx, toCancel); err != nil {
			appLog.Error("reconcile: cancel batch failed; bookkeeping left stale", err, "count", len(toCancel))
			errs = append(errs, &PassError{Kind: ErrCancel, EventIDs: toCancel, Err: err})
		} else {
			for _, id := range toCancel {
				e.state.remove(id)
			}
			report.Cancelled = toCancel
		}
	}

	e.state.lastFingerprint = fp

	appLog.Debug("reconcile: pass complete",
		"fingerprint", shortFingerprint(fp),
		"events", len(events),
		"scheduled", len(report.Scheduled),
		"failed", len(report.Failed),
		"cancelled", len(report.Cancelled),
		"known", len(e.state.known),
	)

	return report, errors.Join(errs...)
}

// schedule issues the single batch schedule call and records every event
// that came back with at least one handle.
func (e *Engine) schedule(ctx context.Context, events []model.Event) (scheduled, failed []string, err error) {
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}

	result, err := e.gw.ScheduleBatch(ctx, events)
	if err != nil {
		appLog.Error("reconcile: schedule batch failed", err, "count", len(events))
		return nil, ids, &PassError{Kind: ErrSchedule, EventIDs: ids, Err: err}
	}

	for _, id := range ids {
		handles := normalizeHandles(result[id])
		if len(handles) == 0 {
			failed = append(failed, id)
			continue
		}
		e.state.put(id, handles)
		scheduled = append(scheduled, id)
	}

	if len(failed) > 0 {
		appLog.Warn("reconcile: events returned no notification handles", "count", len(failed), "first", failed[0])
	}
	return scheduled, failed, nil
}

// ForceRefresh makes the next pass compute a diff even if the snapshot
// content is unchanged, e.g. to retry events whose scheduling failed. The
// next pass to start collapses lastFingerprint; a pass already running is
// not affected.
func (e *Engine) ForceRefresh() {
	e.force.Store(true)

	e.viewMu.Lock()
	e.view.fingerprint = ""
	e.viewMu.Unlock()
}

// Records returns a copy of the known scheduled records as of the last
// completed pass.
func (e *Engine) Records() []Record {
	e.viewMu.RLock()
	defer e.viewMu.RUnlock()

	out := make([]Record, 0, len(e.view.records))
	for _, r := range e.view.records {
		out = append(out, Record{
			EventID: r.EventID,
			Handles: append([]string(nil), r.Handles...),
		})
	}
	return out
}

// LastFingerprint returns the fingerprint of the last completed pass, or
// "" once a refresh has been forced.
func (e *Engine) LastFingerprint() string {
	e.viewMu.RLock()
	defer e.viewMu.RUnlock()
	return e.view.fingerprint
}

// Release drops all local bookkeeping. Notifications already handed to
// the gateway are left alone.
func (e *Engine) Release() {
	e.mu.Lock()
	n := len(e.state.known)
	e.state.clear()
	e.force.Store(false)
	e.publish()
	e.mu.Unlock()
	appLog.Info("reconcile: released tracked notifications", "count", n)
}

// publish copies State into the read view. Callers hold e.mu, except New.
func (e *Engine) publish() {
	v := view{records: e.state.records(), fingerprint: e.state.lastFingerprint}

	e.viewMu.Lock()
	e.view = v
	e.viewMu.Unlock()
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
