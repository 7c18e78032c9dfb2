package federation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeLink records sent events and replays a scripted inbound stream.
type fakeLink struct {
	mu      sync.Mutex
	sent    []Event
	failN   int // fail the first N sends
	inbound chan Event
	closed  chan struct{}
	once    sync.Once
}

func newFakeLink(failN int) *fakeLink {
	return &fakeLink{
		failN:   failN,
		inbound: make(chan Event, 8),
		closed:  make(chan struct{}),
	}
}

func (l *fakeLink) Send(ctx context.Context, ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failN > 0 {
		l.failN--
		return errors.New("link reset")
	}
	l.sent = append(l.sent, ev)
	return nil
}

func (l *fakeLink) Recv(ctx context.Context) (Event, error) {
	select {
	case ev := <-l.inbound:
		return ev, nil
	case <-l.closed:
		return Event{}, errors.New("closed")
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

func (l *fakeLink) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *fakeLink) sentKinds() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.sent))
	for i, ev := range l.sent {
		out[i] = ev.Kind
	}
	return out
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestAdapterDeliversInOrder(t *testing.T) {
	link := newFakeLink(0)
	a := NewAdapter("relay", func(ctx context.Context) (Link, error) {
		return link, nil
	}, zap.NewNop())
	a.Start(context.Background())
	defer a.Stop()

	for _, kind := range []string{"tell", "who", "channel"} {
		a.Send(Event{Kind: kind})
	}
	waitFor(t, func() bool { return len(link.sentKinds()) == 3 }, "events never delivered")

	kinds := link.sentKinds()
	for i, want := range []string{"tell", "who", "channel"} {
		if kinds[i] != want {
			t.Fatalf("order = %v", kinds)
		}
	}
}

func TestAdapterBuffersAcrossReconnect(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	var second *fakeLink
	dial := func(ctx context.Context) (Link, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 1 {
			// First link dies on its first send.
			return newFakeLink(100), nil
		}
		second = newFakeLink(0)
		return second, nil
	}

	a := NewAdapter("relay", dial, zap.NewNop())
	a.Start(context.Background())
	defer a.Stop()

	a.Send(Event{Kind: "tell", Payload: map[string]any{"to": "alice"}})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return second != nil && len(second.sentKinds()) == 1
	}, "event lost across reconnect")

	if a.Dropped() != 0 {
		t.Fatalf("dropped = %d, want 0", a.Dropped())
	}
}

func TestAdapterDropsOldestPastCap(t *testing.T) {
	// Dialer that never succeeds keeps everything buffered.
	a := NewAdapter("relay", func(ctx context.Context) (Link, error) {
		return nil, errors.New("unreachable")
	}, zap.NewNop())
	a.bufCap = 4

	for i := 0; i < 6; i++ {
		a.Send(Event{Kind: "ev", Payload: map[string]any{"n": i}})
	}
	if a.Pending() != 4 {
		t.Fatalf("pending = %d, want 4", a.Pending())
	}
	if a.Dropped() != 2 {
		t.Fatalf("dropped = %d, want 2", a.Dropped())
	}
	// Oldest went first: the head should be event 2.
	a.mu.Lock()
	head := a.buffer[0].Payload["n"]
	a.mu.Unlock()
	if head != 2 {
		t.Fatalf("head = %v, want 2", head)
	}
}

func TestAdapterInboundCallback(t *testing.T) {
	link := newFakeLink(0)
	a := NewAdapter("relay", func(ctx context.Context) (Link, error) {
		return link, nil
	}, zap.NewNop())

	var mu sync.Mutex
	var got []Event
	a.OnEvent(func(ev Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	a.Start(context.Background())
	defer a.Stop()

	link.inbound <- Event{Kind: "channel", Payload: map[string]any{"text": "hi"}}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, "inbound event never dispatched")

	mu.Lock()
	defer mu.Unlock()
	if got[0].Kind != "channel" {
		t.Fatalf("got %+v", got[0])
	}
}

func TestJitterBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitter(time.Second)
		if d < 750*time.Millisecond || d > 1250*time.Millisecond {
			t.Fatalf("jitter out of ±25%%: %v", d)
		}
	}
}
