// Package trigger coalesces bursts of event snapshots into a single
// reconciliation pass once deliveries go quiet.
package trigger

import (
	"context"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"

	appLog "remindcal/internal/log"
	"remindcal/internal/model"
)

// DefaultWindow is the quiescence period used when none is configured.
const DefaultWindow = 100 * time.Millisecond

// Func runs one pass over the most recent snapshot.
type Func func(ctx context.Context, events []model.Event)

// Debouncer runs Func on a single loop goroutine, so passes never overlap.
// Every Deliver restarts the window; only the last snapshot delivered
// before the window elapses is processed.
type Debouncer struct {
	clock  clock.Clock
	window time.Duration
	fn     Func

	mu         sync.Mutex
	timer      clock.Timer
	pending    []model.Event
	hasPending bool
	deadline   time.Time
	stopped    bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts a Debouncer. A nil clock uses the wall clock; a non-positive
// window uses DefaultWindow.
func New(clk clock.Clock, window time.Duration, fn Func) *Debouncer {
	if clk == nil {
		clk = clock.NewClock()
	}
	if window <= 0 {
		window = DefaultWindow
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Debouncer{
		clock:  clk,
		window: window,
		fn:     fn,
		timer:  clk.NewTimer(window),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	d.timer.Stop()

	go d.loop()
	return d
}

// Deliver hands over a new snapshot and restarts the quiescence window.
// It never blocks on a running pass. Deliveries after Stop are ignored.
func (d *Debouncer) Deliver(events []model.Event) {
	snapshot := append([]model.Event(nil), events...)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending = snapshot
	d.hasPending = true
	d.deadline = d.clock.Now().Add(d.window)
	d.timer.Reset(d.window)
}

// Stop discards any pending snapshot and waits for an in-flight pass to
// finish. It is safe to call more than once.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.stopped = true
	dropped := d.hasPending
	d.pending = nil
	d.hasPending = false
	d.timer.Stop()
	d.mu.Unlock()

	d.cancel()
	<-d.done

	if dropped {
		appLog.Debug("trigger: discarded pending snapshot on stop")
	}
}

func (d *Debouncer) loop() {
	defer close(d.done)

	// Passes are not interrupted by Stop; gateway calls run to completion.
	passCtx := context.WithoutCancel(d.ctx)

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.timer.C():
		}

		events, ok := d.take()
		if !ok {
			continue
		}
		d.fn(passCtx, events)
	}
}

// take claims the pending snapshot if its window has elapsed. A timer
// fire that is stale relative to the latest Deliver re-arms the timer for
// the remaining time instead.
func (d *Debouncer) take() ([]model.Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || !d.hasPending {
		return nil, false
	}
	if remaining := d.deadline.Sub(d.clock.Now()); remaining > 0 {
		d.timer.Reset(remaining)
		return nil, false
	}

	events := d.pending
	d.pending = nil
	d.hasPending = false
	return events, true
}
