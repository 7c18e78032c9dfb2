package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jasona/mudforge-sub005/internal/proto"
	"github.com/jasona/mudforge-sub005/internal/world"
)

func newTestManager(t *testing.T, interval time.Duration, maxMissed int) (*Manager, *httptest.Server) {
	t.Helper()
	tokens := NewTokenStore("test-secret", time.Minute, 100)
	m := NewManager(tokens, interval, maxMissed, "test-1.0", zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(m.ServeWS))
	t.Cleanup(srv.Close)
	return m, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestHeartbeatTimeout(t *testing.T) {
	m, srv := newTestManager(t, 10*time.Millisecond, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	ws := dial(t, srv)
	// Default client ping handler answers pongs during reads; never
	// reading means never ponging.
	_ = ws

	var c *Conn
	select {
	case c = <-m.NewConns():
	case <-time.After(time.Second):
		t.Fatal("connection never surfaced")
	}
	if m.Count() != 1 {
		t.Fatalf("count = %d, want 1", m.Count())
	}

	select {
	case d := <-m.Disconnects():
		if d.Reason != ReasonHeartbeatTimeout {
			t.Fatalf("reason = %q, want heartbeat_timeout", d.Reason)
		}
		if d.Conn != c {
			t.Fatal("disconnect for the wrong connection")
		}
	case <-time.After(time.Second):
		t.Fatal("no disconnect after missed pongs")
	}
	if m.Count() != 0 {
		t.Fatalf("count = %d after timeout, want 0", m.Count())
	}
}

func TestHeartbeatSendsTimeFrame(t *testing.T) {
	m, srv := newTestManager(t, 10*time.Millisecond, 100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	ws := dial(t, srv)
	ws.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	in, err := proto.DecodeInbound(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if in.Kind != proto.KindFrame || in.Type != proto.TypeTime {
		t.Fatalf("got %v/%s, want TIME frame", in.Kind, in.Type)
	}
	if !strings.Contains(string(in.Body), "test-1.0") {
		t.Fatalf("TIME body missing version: %s", in.Body)
	}
}

func TestRoundTripEcho(t *testing.T) {
	m, srv := newTestManager(t, time.Hour, 100)
	ws := dial(t, srv)

	var c *Conn
	select {
	case c = <-m.NewConns():
	case <-time.After(time.Second):
		t.Fatal("connection never surfaced")
	}

	// Client text line arrives as a KindText inbound.
	if err := ws.WriteMessage(websocket.TextMessage, []byte("look\n")); err != nil {
		t.Fatal(err)
	}
	select {
	case in := <-c.InQueue:
		if in.Kind != proto.KindText || in.Text != "look" {
			t.Fatalf("inbound = %+v", in)
		}
	case <-time.After(time.Second):
		t.Fatal("inbound line never arrived")
	}

	// Server frame and line arrive whole, in order.
	if err := c.SendFrame(string(proto.TypeSession), proto.SessionPayload{Token: "tok"}); err != nil {
		t.Fatal(err)
	}
	if err := c.SendLine("You wake up."); err != nil {
		t.Fatal(err)
	}

	ws.SetReadDeadline(time.Now().Add(time.Second))
	_, first, err := ws.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	in, err := proto.DecodeInbound(first)
	if err != nil || in.Type != proto.TypeSession {
		t.Fatalf("first message = %q err=%v, want SESSION frame", first, err)
	}
	_, second, err := ws.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if string(second) != "You wake up.\n" {
		t.Fatalf("second message = %q", second)
	}
}

func TestMalformedFrameDropped(t *testing.T) {
	m, srv := newTestManager(t, time.Hour, 100)
	ws := dial(t, srv)

	var c *Conn
	select {
	case c = <-m.NewConns():
	case <-time.After(time.Second):
		t.Fatal("connection never surfaced")
	}

	// Unknown TYPE: dropped, connection stays open.
	if err := ws.WriteMessage(websocket.TextMessage, []byte("\x00[BOGUS]{}\n")); err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, []byte("still here")); err != nil {
		t.Fatal(err)
	}
	select {
	case in := <-c.InQueue:
		if in.Text != "still here" {
			t.Fatalf("inbound = %+v, want the follow-up line", in)
		}
	case <-time.After(time.Second):
		t.Fatal("connection did not survive the protocol error")
	}
}

func TestBackpressureTermination(t *testing.T) {
	// A bare Conn with no writer goroutine models a client that reads
	// nothing: the backlog only grows.
	c := &Conn{ID: 1, log: zap.NewNop(), closeCh: make(chan struct{})}

	payload := strings.Repeat("x", 32<<10)
	for i := 0; i < 20 && !c.IsClosed(); i++ {
		_ = c.SendLine(payload)
	}
	if !c.IsClosed() {
		t.Fatal("connection survived critical backlog")
	}
	if c.CloseReason() != ReasonBufferBacklog {
		t.Fatalf("reason = %q, want buffer_backlog", c.CloseReason())
	}
}

func TestBinderBindUnbind(t *testing.T) {
	reg := world.NewRegistry(nil, zap.NewNop())
	b := NewBinder(0, zap.NewNop())
	p := reg.NewPlayer("alice")
	c := &Conn{ID: 9, log: zap.NewNop(), closeCh: make(chan struct{})}

	connected := false
	p.PushInputHandler(&world.InputHandler{Name: "stale"})
	p.SetHook("on_connect", func(self *world.Object, args ...any) error {
		connected = true
		return nil
	})

	b.Bind(c, p)
	if !connected {
		t.Fatal("on_connect did not fire")
	}
	if p.TopInputHandler() != nil {
		t.Fatal("bind did not reset the input-handler stack")
	}
	if got, ok := b.PlayerFor(c); !ok || got != p {
		t.Fatal("PlayerFor missed the binding")
	}
	if got, ok := b.ConnFor(p); !ok || got != c {
		t.Fatal("ConnFor missed the binding")
	}
	if len(b.Players()) != 1 {
		t.Fatal("Players() missed the binding")
	}

	p.SessionStart = time.Now().Add(-time.Minute)
	b.Unbind(p)
	if p.Conn() != nil {
		t.Fatal("unbind left the connection attached")
	}
	if p.PlayTime < time.Minute {
		t.Fatalf("play time = %v, want at least a minute", p.PlayTime)
	}
	if _, ok := b.PlayerFor(c); ok {
		t.Fatal("unbind left the conn index populated")
	}
}

func TestBinderInputQueueOverflow(t *testing.T) {
	reg := world.NewRegistry(nil, zap.NewNop())
	b := NewBinder(0, zap.NewNop())
	p := reg.NewPlayer("alice")

	for i := 0; i < inputQueueCap+5; i++ {
		b.Enqueue(p, "cmd")
	}
	if b.QueueLen(p) != inputQueueCap {
		t.Fatalf("queue len = %d, want %d", b.QueueLen(p), inputQueueCap)
	}

	n := 0
	for {
		if _, ok := b.DequeueOne(p); !ok {
			break
		}
		n++
	}
	if n != inputQueueCap {
		t.Fatalf("drained %d, want %d", n, inputQueueCap)
	}
}
