package notify

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/poll"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"remindcal/internal/gateway"
	"remindcal/internal/model"
)

type captureDeliverer struct {
	mu  sync.Mutex
	got []model.Notification
	err error
}

func (c *captureDeliverer) Deliver(_ context.Context, n model.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, n)
	return c.err
}

func (c *captureDeliverer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func TestOnceSchedule(t *testing.T) {
	at := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	s := once{at: at}

	assert.Check(t, s.Next(at.Add(-time.Hour)).Equal(at))
	assert.Check(t, s.Next(at).IsZero())
	assert.Check(t, s.Next(at.Add(time.Second)).IsZero())
}

func TestScheduleRejectsPastFireTime(t *testing.T) {
	s := NewScheduler(&captureDeliverer{})
	_, err := s.Schedule(context.Background(), model.Notification{EventID: "A", FireAt: time.Now().Add(-time.Second)})
	assert.Check(t, errors.Is(err, ErrInvalidTime))
	assert.Check(t, errors.Is(err, gateway.ErrRejected))
	assert.Check(t, is.Len(s.Pending(), 0))
}

func TestScheduleCancelPending(t *testing.T) {
	ctx := context.Background()
	s := NewScheduler(&captureDeliverer{})
	base := time.Now().Add(time.Hour)

	h1, err := s.Schedule(ctx, model.Notification{EventID: "late", FireAt: base.Add(time.Minute)})
	assert.NilError(t, err)
	h2, err := s.Schedule(ctx, model.Notification{EventID: "early", FireAt: base})
	assert.NilError(t, err)
	assert.Check(t, h1 != h2)

	pending := s.Pending()
	assert.Assert(t, is.Len(pending, 2))
	assert.Check(t, is.Equal(pending[0].EventID, "early"))
	assert.Check(t, is.Equal(pending[0].Handle, h2))

	assert.NilError(t, s.Cancel(ctx, h2))
	assert.NilError(t, s.Cancel(ctx, h2))
	assert.NilError(t, s.Cancel(ctx, "unknown"))
	assert.Check(t, is.Len(s.Pending(), 1))
	assert.Check(t, is.Len(s.cron.Entries(), 1))
}

func TestScheduledReminderFiresOnce(t *testing.T) {
	d := &captureDeliverer{}
	s := NewScheduler(d)
	s.Start()
	defer s.Stop()

	_, err := s.Schedule(context.Background(), model.Notification{
		EventID: "A",
		Title:   "Standup",
		FireAt:  time.Now().Add(50 * time.Millisecond),
	})
	assert.NilError(t, err)

	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if d.count() == 1 {
			return poll.Success()
		}
		return poll.Continue("waiting for delivery")
	}, poll.WithTimeout(3*time.Second), poll.WithDelay(10*time.Millisecond))

	assert.Check(t, is.Len(s.Pending(), 0))
	time.Sleep(100 * time.Millisecond)
	assert.Check(t, is.Equal(d.count(), 1))
}

func TestCancelledReminderDoesNotFire(t *testing.T) {
	d := &captureDeliverer{}
	s := NewScheduler(d)
	s.Start()
	defer s.Stop()

	h, err := s.Schedule(context.Background(), model.Notification{EventID: "A", FireAt: time.Now().Add(100 * time.Millisecond)})
	assert.NilError(t, err)
	assert.NilError(t, s.Cancel(context.Background(), h))

	time.Sleep(250 * time.Millisecond)
	assert.Check(t, is.Equal(d.count(), 0))
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &captureDeliverer{}
	bad := &captureDeliverer{err: errors.New("channel down")}
	m := Multi{bad, ok, LogDeliverer{}}

	err := m.Deliver(context.Background(), model.Notification{EventID: "A"})
	assert.Check(t, is.ErrorContains(err, "channel down"))
	assert.Check(t, is.Equal(ok.count(), 1))
	assert.Check(t, is.Equal(bad.count(), 1))
}

func TestHubBroadcastsToClients(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	assert.NilError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if hub.Clients() == 1 {
			return poll.Success()
		}
		return poll.Continue("client not registered yet")
	}, poll.WithTimeout(3*time.Second), poll.WithDelay(10*time.Millisecond))

	sent := model.Notification{Handle: "h1", EventID: "cal/a/1", Title: "Standup"}
	assert.NilError(t, hub.Deliver(ctx, sent))

	var got model.Notification
	assert.NilError(t, wsjson.Read(ctx, conn, &got))
	assert.Check(t, is.Equal(got.Handle, "h1"))
	assert.Check(t, is.Equal(got.Title, "Standup"))
}
