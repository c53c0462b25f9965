package reconcile

import (
	"context"
	"fmt"
	"sync"

	"remindcal/internal/model"
)

// fakeGateway hands out sequential handles and records every call.
type fakeGateway struct {
	mu sync.Mutex

	scheduleCalls [][]string
	cancelCalls   [][]string

	// failIDs get an empty handle list from ScheduleBatch.
	failIDs     map[string]bool
	scheduleErr error
	cancelErr   error

	next int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{failIDs: make(map[string]bool)}
}

func (g *fakeGateway) ScheduleBatch(_ context.Context, events []model.Event) (map[string][]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	g.scheduleCalls = append(g.scheduleCalls, ids)

	if g.scheduleErr != nil {
		return nil, g.scheduleErr
	}

	out := make(map[string][]string, len(events))
	for _, ev := range events {
		if g.failIDs[ev.ID] {
			out[ev.ID] = nil
			continue
		}
		g.next++
		out[ev.ID] = []string{fmt.Sprintf("h%d", g.next)}
	}
	return out, nil
}

func (g *fakeGateway) CancelBatch(_ context.Context, ids []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelCalls = append(g.cancelCalls, append([]string(nil), ids...))
	return g.cancelErr
}

func (g *fakeGateway) calls() (schedule, cancel int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.scheduleCalls), len(g.cancelCalls)
}

// blockingGateway parks ScheduleBatch until release is closed.
type blockingGateway struct {
	*fakeGateway
	entered chan struct{}
	release chan struct{}
}

func newBlockingGateway() *blockingGateway {
	return &blockingGateway{
		fakeGateway: newFakeGateway(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (g *blockingGateway) ScheduleBatch(ctx context.Context, events []model.Event) (map[string][]string, error) {
	close(g.entered)
	<-g.release
	return g.fakeGateway.ScheduleBatch(ctx, events)
}
