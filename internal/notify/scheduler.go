// Package notify is the in-process notification platform: it keeps one
// timer per reminder and hands fired reminders to a Deliverer.
package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"remindcal/internal/gateway"
	appLog "remindcal/internal/log"
	"remindcal/internal/model"
)

// ErrInvalidTime is returned for reminders whose fire time is not in the
// future. It wraps gateway.ErrRejected so the retry layer gives up at once.
var ErrInvalidTime = fmt.Errorf("notify: fire time is not in the future: %w", gateway.ErrRejected)

// Deliverer receives reminders when they fire. Implementations must be
// safe for concurrent use.
type Deliverer interface {
	Deliver(ctx context.Context, n model.Notification) error
}

// once is a cron.Schedule that activates exactly one time.
type once struct {
	at time.Time
}

// Next returns the activation time while it is still ahead, and the zero
// time afterwards so cron never runs the entry again.
func (o once) Next(t time.Time) time.Time {
	if t.Before(o.at) {
		return o.at
	}
	return time.Time{}
}

type entry struct {
	id cron.EntryID
	n  model.Notification
}

// Scheduler implements the per-notification platform on a cron runner.
type Scheduler struct {
	cron    *cron.Cron
	deliver Deliverer
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

// NewScheduler returns a stopped Scheduler; call Start to begin firing.
func NewScheduler(d Deliverer) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		deliver: d,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the runner and waits for reminders being delivered.
// Reminders that did not fire are dropped.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Schedule registers n and returns its opaque handle.
func (s *Scheduler) Schedule(_ context.Context, n model.Notification) (string, error) {
	if !n.FireAt.After(s.now()) {
		return "", fmt.Errorf("%w: %s", ErrInvalidTime, n.FireAt.Format(time.RFC3339))
	}

	n.Handle = uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.cron.Schedule(once{at: n.FireAt}, cron.FuncJob(func() { s.fire(n.Handle) }))
	s.entries[n.Handle] = entry{id: id, n: n}

	appLog.Debug("notify: scheduled", "handle", n.Handle, "event_id", n.EventID, "fire_at", n.FireAt.Format(time.RFC3339))
	return n.Handle, nil
}

// Cancel removes a pending reminder. Unknown or already fired handles are
// not an error.
func (s *Scheduler) Cancel(_ context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[handle]
	if !ok {
		return nil
	}
	s.cron.Remove(e.id)
	delete(s.entries, handle)
	return nil
}

// Pending returns reminders that have not fired yet, soonest first.
func (s *Scheduler) Pending() []model.Notification {
	s.mu.Lock()
	out := make([]model.Notification, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.n)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].Handle < out[j].Handle
		}
		return out[i].FireAt.Before(out[j].FireAt)
	})
	return out
}

func (s *Scheduler) fire(handle string) {
	s.mu.Lock()
	e, ok := s.entries[handle]
	if ok {
		s.cron.Remove(e.id)
		delete(s.entries, handle)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	if err := s.deliver.Deliver(context.Background(), e.n); err != nil {
		appLog.Error("notify: delivery failed", err, "handle", handle, "event_id", e.n.EventID)
	}
}
