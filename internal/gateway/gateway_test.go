package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"remindcal/internal/model"
)

var now = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

type fakePlatform struct {
	mu        sync.Mutex
	scheduled map[string]model.Notification
	cancelled []string
	next      int

	failSchedule map[string]bool // by event ID
	failCancel   map[string]bool // by handle
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		scheduled:    make(map[string]model.Notification),
		failSchedule: make(map[string]bool),
		failCancel:   make(map[string]bool),
	}
}

func (p *fakePlatform) Schedule(_ context.Context, n model.Notification) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSchedule[n.EventID] {
		return "", errors.New("permission denied")
	}
	p.next++
	h := fmt.Sprintf("n%d", p.next)
	n.Handle = h
	p.scheduled[h] = n
	return h, nil
}

func (p *fakePlatform) Cancel(_ context.Context, handle string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failCancel[handle] {
		return errors.New("cancel rejected")
	}
	delete(p.scheduled, handle)
	p.cancelled = append(p.cancelled, handle)
	return nil
}

func newTestBatcher(p Platform, leads ...time.Duration) *Batcher {
	b := NewBatcher(p, leads)
	b.now = func() time.Time { return now }
	return b
}

func TestNormalizeLeads(t *testing.T) {
	assert.Check(t, is.DeepEqual(normalizeLeads(nil), DefaultLeads))
	assert.Check(t, is.DeepEqual(normalizeLeads([]time.Duration{-time.Minute}), DefaultLeads))
	assert.Check(t, is.DeepEqual(
		normalizeLeads([]time.Duration{0, time.Hour, 10 * time.Minute, time.Hour}),
		[]time.Duration{time.Hour, 10 * time.Minute, 0},
	))
}

func TestScheduleBatchOneNotificationPerLead(t *testing.T) {
	p := newFakePlatform()
	b := newTestBatcher(p, time.Hour, 10*time.Minute)

	ev := model.Event{ID: "A", Title: "Dentist", Start: now.Add(2 * time.Hour)}
	out, err := b.ScheduleBatch(context.Background(), []model.Event{ev})
	assert.NilError(t, err)
	assert.Check(t, is.Len(out["A"], 2))
	assert.Check(t, is.Len(p.scheduled, 2))

	n := p.scheduled[out["A"][0]]
	assert.Check(t, is.Equal(n.EventID, "A"))
	assert.Check(t, is.Equal(n.Title, "Dentist"))
	assert.Check(t, n.FireAt.Equal(now.Add(time.Hour)))
	assert.Check(t, is.Equal(b.Issued(), 1))
}

func TestScheduleBatchSkipsElapsedReminderTimes(t *testing.T) {
	p := newFakePlatform()
	b := newTestBatcher(p, time.Hour, 10*time.Minute)

	soon := model.Event{ID: "soon", Title: "Soon", Start: now.Add(30 * time.Minute)}
	imminent := model.Event{ID: "imminent", Title: "Imminent", Start: now.Add(5 * time.Minute)}

	out, err := b.ScheduleBatch(context.Background(), []model.Event{soon, imminent})
	assert.NilError(t, err)
	assert.Check(t, is.Len(out["soon"], 1))

	// Every reminder time has passed: reported as a per-event failure.
	handles, ok := out["imminent"]
	assert.Check(t, ok)
	assert.Check(t, is.Len(handles, 0))
	assert.Check(t, is.Equal(b.Issued(), 1))
}

func TestScheduleBatchPlatformErrorIsPerEvent(t *testing.T) {
	p := newFakePlatform()
	p.failSchedule["A"] = true
	b := newTestBatcher(p)

	out, err := b.ScheduleBatch(context.Background(), []model.Event{
		{ID: "A", Title: "A", Start: now.Add(time.Hour)},
		{ID: "B", Title: "B", Start: now.Add(time.Hour)},
	})
	assert.NilError(t, err)
	assert.Check(t, is.Len(out["A"], 0))
	assert.Check(t, is.Len(out["B"], 1))
}

func TestScheduleBatchContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := newTestBatcher(newFakePlatform())
	_, err := b.ScheduleBatch(ctx, []model.Event{{ID: "A", Start: now.Add(time.Hour)}})
	assert.Check(t, errors.Is(err, context.Canceled))
}

func TestCancelBatchByEventID(t *testing.T) {
	ctx := context.Background()
	p := newFakePlatform()
	b := newTestBatcher(p, time.Hour, 10*time.Minute)

	_, err := b.ScheduleBatch(ctx, []model.Event{
		{ID: "A", Title: "A", Start: now.Add(2 * time.Hour)},
		{ID: "B", Title: "B", Start: now.Add(2 * time.Hour)},
	})
	assert.NilError(t, err)

	assert.NilError(t, b.CancelBatch(ctx, []string{"A", "never-issued"}))
	assert.Check(t, is.Len(p.cancelled, 2))
	assert.Check(t, is.Len(p.scheduled, 2))
	assert.Check(t, is.Equal(b.Issued(), 1))
}

func TestCancelBatchFailureKeepsOnlyFailedHandles(t *testing.T) {
	ctx := context.Background()
	p := newFakePlatform()
	b := newTestBatcher(p, time.Hour, 10*time.Minute)

	out, err := b.ScheduleBatch(ctx, []model.Event{{ID: "A", Title: "A", Start: now.Add(2 * time.Hour)}})
	assert.NilError(t, err)
	stuck := out["A"][1]
	p.failCancel[stuck] = true

	err = b.CancelBatch(ctx, []string{"A"})
	assert.Check(t, is.ErrorContains(err, "cancel rejected"))
	assert.Check(t, is.DeepEqual(b.issued["A"], []string{stuck}))

	delete(p.failCancel, stuck)
	assert.NilError(t, b.CancelBatch(ctx, []string{"A"}))
	assert.Check(t, is.Equal(b.Issued(), 0))
	assert.Check(t, is.Len(p.cancelled, 2))
}

// cancellingPlatform cancels the batch context after its first
// successful Schedule.
type cancellingPlatform struct {
	*fakePlatform
	cancel context.CancelFunc
}

func (p *cancellingPlatform) Schedule(ctx context.Context, n model.Notification) (string, error) {
	h, err := p.fakePlatform.Schedule(ctx, n)
	p.cancel()
	return h, err
}

func TestScheduleBatchInterruptedRollsBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &cancellingPlatform{fakePlatform: newFakePlatform(), cancel: cancel}
	b := newTestBatcher(p, time.Hour, 10*time.Minute)

	out, err := b.ScheduleBatch(ctx, []model.Event{
		{ID: "A", Title: "A", Start: now.Add(2 * time.Hour)},
		{ID: "B", Title: "B", Start: now.Add(2 * time.Hour)},
	})
	assert.Check(t, errors.Is(err, context.Canceled))
	assert.Check(t, is.Nil(out))
	assert.Check(t, is.Len(p.scheduled, 0))
	assert.Check(t, is.Len(p.cancelled, 2))
	assert.Check(t, is.Equal(b.Issued(), 0))
}

// flakyPlatform fails the first failures calls of each method.
type flakyPlatform struct {
	*fakePlatform
	failures      int
	err           error
	scheduleCalls int
	cancelCalls   int
}

func (f *flakyPlatform) Schedule(ctx context.Context, n model.Notification) (string, error) {
	f.scheduleCalls++
	if f.scheduleCalls <= f.failures {
		return "", f.err
	}
	return f.fakePlatform.Schedule(ctx, n)
}

func (f *flakyPlatform) Cancel(ctx context.Context, handle string) error {
	f.cancelCalls++
	if f.cancelCalls <= f.failures {
		return f.err
	}
	return f.fakePlatform.Cancel(ctx, handle)
}

func fastRetry(tries uint) RetryConfig {
	return RetryConfig{MaxTries: tries, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestWithRetryDisabled(t *testing.T) {
	inner := newFakePlatform()
	assert.Check(t, WithRetry(inner, fastRetry(1)) == Platform(inner))
}

func TestWithRetryRecoversTransientFailures(t *testing.T) {
	ctx := context.Background()
	inner := &flakyPlatform{fakePlatform: newFakePlatform(), failures: 2, err: errors.New("503 service unavailable")}
	p := WithRetry(inner, fastRetry(3))

	h, err := p.Schedule(ctx, model.Notification{EventID: "A", FireAt: now.Add(time.Hour)})
	assert.NilError(t, err)
	assert.Check(t, h != "")
	assert.Check(t, is.Equal(inner.scheduleCalls, 3))

	assert.NilError(t, p.Cancel(ctx, h))
	assert.Check(t, is.Equal(inner.cancelCalls, 3))
	assert.Check(t, is.Len(inner.scheduled, 0))
}

func TestWithRetryGivesUpAfterMaxTries(t *testing.T) {
	inner := &flakyPlatform{fakePlatform: newFakePlatform(), failures: 10, err: errors.New("timeout")}
	p := WithRetry(inner, fastRetry(2))

	err := p.Cancel(context.Background(), "n1")
	assert.Check(t, is.ErrorContains(err, "timeout"))
	assert.Check(t, is.Equal(inner.cancelCalls, 2))
}

func TestWithRetryStopsOnPermanentErrors(t *testing.T) {
	for _, cause := range []error{
		fmt.Errorf("wrapped: %w", context.Canceled),
		fmt.Errorf("fire time passed: %w", ErrRejected),
	} {
		inner := &flakyPlatform{fakePlatform: newFakePlatform(), failures: 10, err: cause}
		p := WithRetry(inner, fastRetry(5))

		_, err := p.Schedule(context.Background(), model.Notification{EventID: "A"})
		assert.Check(t, errors.Is(err, cause))
		assert.Check(t, is.Equal(inner.scheduleCalls, 1))
	}
}

func TestBatcherOverRetryingPlatform(t *testing.T) {
	inner := &flakyPlatform{fakePlatform: newFakePlatform(), failures: 1, err: errors.New("connection reset")}
	b := newTestBatcher(WithRetry(inner, fastRetry(3)))

	out, err := b.ScheduleBatch(context.Background(), []model.Event{{ID: "A", Title: "A", Start: now.Add(time.Hour)}})
	assert.NilError(t, err)
	assert.Check(t, is.Len(out["A"], 1))
	assert.Check(t, is.Equal(inner.scheduleCalls, 2))
}
