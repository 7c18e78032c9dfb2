// Package federation maintains outbound links to off-world networks
// (inter-MUD chat, web notification relays). Each adapter owns one link
// on its own goroutine; link failures never reach the game loop.
package federation

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one message crossing a federation link.
type Event struct {
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Link is an established connection to the remote network.
type Link interface {
	Send(ctx context.Context, ev Event) error
	Recv(ctx context.Context) (Event, error)
	Close() error
}

// Dialer establishes a Link. Called again after every failure, under the
// adapter's backoff schedule.
type Dialer func(ctx context.Context) (Link, error)

// Reconnect backoff: 1s doubling to 60s, ±25% jitter.
const (
	backoffStart = time.Second
	backoffCap   = 60 * time.Second

	defaultBufferCap = 512
	sendTimeout      = 10 * time.Second
)

// Adapter pumps events over one federation link, reconnecting forever
// until Stop. Undeliverable events buffer up to a cap; past it the oldest
// is dropped and counted, never silently.
type Adapter struct {
	name string
	dial Dialer
	log  *zap.Logger

	mu      sync.Mutex
	buffer  []Event
	bufCap  int
	dropped uint64
	wake    chan struct{}

	onEvent func(Event)

	cancel context.CancelFunc
	done   chan struct{}
}

func NewAdapter(name string, dial Dialer, log *zap.Logger) *Adapter {
	return &Adapter{
		name:   name,
		dial:   dial,
		log:    log.With(zap.String("adapter", name)),
		bufCap: defaultBufferCap,
		wake:   make(chan struct{}, 1),
	}
}

// OnEvent registers the inbound callback. Must be set before Start; the
// callback runs on the adapter goroutine.
func (a *Adapter) OnEvent(cb func(Event)) { a.onEvent = cb }

// Dropped returns the count of events discarded to the buffer cap.
func (a *Adapter) Dropped() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// Pending returns the buffered outbound event count.
func (a *Adapter) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffer)
}

// Send queues an event for delivery. Never blocks the caller.
func (a *Adapter) Send(ev Event) {
	a.mu.Lock()
	if len(a.buffer) >= a.bufCap {
		a.buffer = a.buffer[1:]
		a.dropped++
		a.log.Warn("federation buffer full, oldest event dropped",
			zap.Uint64("dropped_total", a.dropped))
	}
	a.buffer = append(a.buffer, ev)
	a.mu.Unlock()
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// Start launches the adapter goroutine.
func (a *Adapter) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})
	go a.run(ctx)
}

// Stop tears the adapter down and waits for its goroutine.
func (a *Adapter) Stop() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
}

func (a *Adapter) run(ctx context.Context) {
	defer close(a.done)
	backoff := backoffStart
	for {
		link, err := a.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.log.Warn("federation dial failed",
				zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-time.After(jitter(backoff)):
			case <-ctx.Done():
				return
			}
			if backoff *= 2; backoff > backoffCap {
				backoff = backoffCap
			}
			continue
		}
		backoff = backoffStart
		a.log.Info("federation link up")
		a.serve(ctx, link)
		_ = link.Close()
		if ctx.Err() != nil {
			return
		}
		a.log.Warn("federation link lost")
	}
}

// serve pumps both directions until the link or context dies.
func (a *Adapter) serve(ctx context.Context, link Link) {
	recvErr := make(chan error, 1)
	go func() {
		for {
			ev, err := link.Recv(ctx)
			if err != nil {
				recvErr <- err
				return
			}
			if a.onEvent != nil {
				a.onEvent(ev)
			}
		}
	}()

	for {
		if err := a.flush(ctx, link); err != nil {
			return
		}
		select {
		case <-a.wake:
		case <-recvErr:
			return
		case <-ctx.Done():
			return
		}
	}
}

// flush delivers the buffered events in order. A failed send puts the
// event back at the front, so reconnection redelivers from the failure
// point.
func (a *Adapter) flush(ctx context.Context, link Link) error {
	for {
		a.mu.Lock()
		if len(a.buffer) == 0 {
			a.mu.Unlock()
			return nil
		}
		ev := a.buffer[0]
		a.buffer = a.buffer[1:]
		a.mu.Unlock()

		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := link.Send(sendCtx, ev)
		cancel()
		if err != nil {
			a.mu.Lock()
			if len(a.buffer) < a.bufCap {
				a.buffer = append([]Event{ev}, a.buffer...)
			} else {
				a.dropped++
			}
			a.mu.Unlock()
			if !errors.Is(err, context.Canceled) {
				a.log.Warn("federation send failed", zap.Error(err))
			}
			return err
		}
	}
}

func jitter(d time.Duration) time.Duration {
	f := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(d) * f)
}
