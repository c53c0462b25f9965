// Package gateway adapts a per-notification platform to the batched
// schedule/cancel contract the reconciler consumes.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	appLog "remindcal/internal/log"
	"remindcal/internal/model"
)

// DefaultLeads is used when a Batcher is built without lead times.
var DefaultLeads = []time.Duration{10 * time.Minute}

// Platform schedules and cancels single notifications. Cancel must treat
// an unknown or already-fired handle as success.
type Platform interface {
	Schedule(ctx context.Context, n model.Notification) (string, error)
	Cancel(ctx context.Context, handle string) error
}

// Batcher implements the batched gateway contract on top of a Platform.
// Each event becomes one notification per lead time; the handles issued
// per event are remembered so cancellation can be done by event ID.
type Batcher struct {
	platform Platform
	leads    []time.Duration
	now      func() time.Time

	mu     sync.Mutex
	issued map[string][]string
}

// NewBatcher returns a Batcher. Negative leads are dropped and duplicates
// collapsed; an empty list falls back to DefaultLeads.
func NewBatcher(p Platform, leads []time.Duration) *Batcher {
	return &Batcher{
		platform: p,
		leads:    normalizeLeads(leads),
		now:      time.Now,
		issued:   make(map[string][]string),
	}
}

func normalizeLeads(leads []time.Duration) []time.Duration {
	seen := make(map[time.Duration]struct{}, len(leads))
	out := make([]time.Duration, 0, len(leads))
	for _, l := range leads {
		if l < 0 {
			continue
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	if len(out) == 0 {
		return append([]time.Duration(nil), DefaultLeads...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}

// ScheduleBatch schedules reminders for every event. An event whose every
// reminder time has already passed, or whose platform calls all failed,
// maps to an empty handle list. The call itself only fails when ctx is
// done before the batch was processed; the reminders it had already
// created are cancelled first, so a failed call leaves nothing behind.
func (b *Batcher) ScheduleBatch(ctx context.Context, events []model.Event) (map[string][]string, error) {
	now := b.now()
	out := make(map[string][]string, len(events))

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			b.rollback(context.WithoutCancel(ctx), out)
			return nil, fmt.Errorf("gateway: schedule batch interrupted: %w", err)
		}

		handles := make([]string, 0, len(b.leads))
		for _, lead := range b.leads {
			fireAt := ev.Start.Add(-lead)
			if !fireAt.After(now) {
				continue
			}
			h, err := b.platform.Schedule(ctx, model.Notification{
				EventID:    ev.ID,
				Title:      ev.Title,
				EventStart: ev.Start,
				FireAt:     fireAt,
			})
			if err != nil {
				appLog.Error("gateway: schedule notification failed", err, "event_id", ev.ID, "fire_at", fireAt.Format(time.RFC3339))
				continue
			}
			handles = append(handles, h)
		}

		if len(handles) > 0 {
			b.mu.Lock()
			b.issued[ev.ID] = append(b.issued[ev.ID], handles...)
			b.mu.Unlock()
		}
		out[ev.ID] = handles
	}

	return out, nil
}

// rollback cancels the handles issued by an interrupted ScheduleBatch.
// Handles the platform refuses to cancel stay tracked for CancelBatch.
func (b *Batcher) rollback(ctx context.Context, issued map[string][]string) {
	for id, handles := range issued {
		if len(handles) == 0 {
			continue
		}
		cancelled := make(map[string]struct{}, len(handles))
		for _, h := range handles {
			if err := b.platform.Cancel(ctx, h); err != nil {
				appLog.Error("gateway: rollback cancel failed", err, "event_id", id, "handle", h)
				continue
			}
			cancelled[h] = struct{}{}
		}

		b.mu.Lock()
		kept := make([]string, 0, len(b.issued[id]))
		for _, h := range b.issued[id] {
			if _, ok := cancelled[h]; !ok {
				kept = append(kept, h)
			}
		}
		if len(kept) == 0 {
			delete(b.issued, id)
		} else {
			b.issued[id] = kept
		}
		b.mu.Unlock()
	}
}

// CancelBatch cancels every handle issued for the given events. Any
// platform error fails the whole batch; handles that were cancelled are
// forgotten either way so a later retry only touches the rest.
func (b *Batcher) CancelBatch(ctx context.Context, eventIDs []string) error {
	var errs []error

	for _, id := range eventIDs {
		b.mu.Lock()
		handles := b.issued[id]
		b.mu.Unlock()

		remaining := make([]string, 0)
		for _, h := range handles {
			if err := b.platform.Cancel(ctx, h); err != nil {
				errs = append(errs, fmt.Errorf("event %s handle %s: %w", id, h, err))
				remaining = append(remaining, h)
			}
		}

		b.mu.Lock()
		if len(remaining) == 0 {
			delete(b.issued, id)
		} else {
			b.issued[id] = remaining
		}
		b.mu.Unlock()
	}

	if len(errs) > 0 {
		return fmt.Errorf("gateway: cancel batch: %w", errors.Join(errs...))
	}
	return nil
}

// Issued returns the number of events the Batcher currently holds handles
// for.
func (b *Batcher) Issued() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.issued)
}
