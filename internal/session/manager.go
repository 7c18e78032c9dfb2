package session

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jasona/mudforge-sub005/internal/proto"
)

// Disconnect is the synthetic event the game loop receives when a
// connection dies, whatever the cause.
type Disconnect struct {
	Conn   *Conn
	Reason string
	Code   int
}

// Manager accepts websocket upgrades, tracks live connections, and runs
// the heartbeat that detects stalled or silent clients. New and dead
// connections are handed to the game loop via channels, never callbacks.
type Manager struct {
	tokens      *TokenStore
	interval    time.Duration
	maxMissed   int32
	gameVersion string
	log         *zap.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu    sync.Mutex
	conns map[uint64]*Conn

	newCh  chan *Conn
	deadCh chan Disconnect
}

func NewManager(tokens *TokenStore, interval time.Duration, maxMissed int, gameVersion string, log *zap.Logger) *Manager {
	return &Manager{
		tokens:      tokens,
		interval:    interval,
		maxMissed:   int32(maxMissed),
		gameVersion: gameVersion,
		log:         log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    4096,
			WriteBufferSize:   4096,
			EnableCompression: true,
			CheckOrigin:       func(*http.Request) bool { return true },
		},
		conns:  map[uint64]*Conn{},
		newCh:  make(chan *Conn, 64),
		deadCh: make(chan Disconnect, 64),
	}
}

// Tokens exposes the resume-token store.
func (m *Manager) Tokens() *TokenStore { return m.tokens }

// NewConns is the channel of freshly accepted connections.
func (m *Manager) NewConns() <-chan *Conn { return m.newCh }

// Disconnects is the channel of dead-connection events.
func (m *Manager) Disconnects() <-chan Disconnect { return m.deadCh }

// Count returns the live connection count.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// ServeWS upgrades an HTTP request to a tracked connection.
func (m *Manager) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	id := m.nextID.Add(1)
	c := NewConn(ws, id, 64, m.log)
	c.Start()

	m.mu.Lock()
	m.conns[id] = c
	m.mu.Unlock()
	m.log.Info("client connected",
		zap.Uint64("conn", id),
		zap.String("remote", c.RemoteAddr))

	select {
	case m.newCh <- c:
	default:
		m.log.Warn("new-connection queue full, refusing client")
		c.CloseWithReason(ReasonServerShutdown, websocket.CloseTryAgainLater)
		m.detach(c, ReasonServerShutdown, websocket.CloseTryAgainLater)
	}
}

// Run drives the heartbeat until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.heartbeat()
		}
	}
}

// heartbeat walks the live set once. Dead connections detach; clients in
// critical backlog or past the pong tolerance are terminated; everyone
// else gets a ping plus a TIME data frame. The data frame exists to
// satisfy idle-timeout intermediaries that ignore ping frames.
func (m *Manager) heartbeat() {
	m.mu.Lock()
	snapshot := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		snapshot = append(snapshot, c)
	}
	m.mu.Unlock()

	now := time.Now().UnixMilli()
	for _, c := range snapshot {
		switch {
		case c.State() >= StateClosing:
			m.detach(c, c.closeReason, websocket.CloseAbnormalClosure)

		case c.BufferedBytes() > CriticalWatermark:
			c.CloseWithReason(ReasonBufferBacklog, websocket.CloseAbnormalClosure)
			m.detach(c, ReasonBufferBacklog, websocket.CloseAbnormalClosure)

		case c.missedPongs.Add(1) > m.maxMissed:
			m.log.Info("heartbeat timeout",
				zap.Uint64("conn", c.ID),
				zap.Int64("idle_ms", now-c.LastActivity()))
			c.CloseWithReason(ReasonHeartbeatTimeout, websocket.CloseGoingAway)
			m.detach(c, ReasonHeartbeatTimeout, websocket.CloseGoingAway)

		default:
			c.Ping()
			if c.BufferedBytes() <= HardWatermark {
				_ = c.SendFrame(string(proto.TypeTime), proto.TimePayload{
					ServerMS:    now,
					GameVersion: m.gameVersion,
				})
			}
		}
	}
}

// detach removes a connection from the live set and emits one synthetic
// disconnect event. Safe to call twice for the same connection.
func (m *Manager) detach(c *Conn, reason string, code int) {
	m.mu.Lock()
	_, present := m.conns[c.ID]
	delete(m.conns, c.ID)
	m.mu.Unlock()
	if !present {
		return
	}
	select {
	case m.deadCh <- Disconnect{Conn: c, Reason: reason, Code: code}:
	default:
		m.log.Warn("disconnect queue full, event dropped", zap.Uint64("conn", c.ID))
	}
}

// Drop closes and detaches a connection on demand (resume takeover,
// admin boot).
func (m *Manager) Drop(c *Conn, reason string, code int) {
	c.CloseWithReason(reason, code)
	m.detach(c, reason, code)
}

// CloseAll terminates every connection, used at shutdown.
func (m *Manager) CloseAll(reason string) {
	m.mu.Lock()
	snapshot := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		snapshot = append(snapshot, c)
	}
	m.conns = map[uint64]*Conn{}
	m.mu.Unlock()
	for _, c := range snapshot {
		c.CloseWithReason(reason, websocket.CloseGoingAway)
	}
}
