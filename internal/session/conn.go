package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jasona/mudforge-sub005/internal/proto"
)

// Connection states.
type State int32

const (
	StateOpening State = iota
	StateOpen
	StateClosing
	StateClosed
)

// Outbound buffer watermarks.
const (
	SoftWatermark     = 64 << 10
	HardWatermark     = 256 << 10
	CriticalWatermark = 512 << 10

	compressThreshold = 128
	maxPayloadBytes   = 1 << 20
)

// Close reasons carried in the websocket close frame.
const (
	ReasonHeartbeatTimeout = "heartbeat_timeout"
	ReasonBufferBacklog    = "buffer_backlog"
	ReasonResumedElsewhere = "resumed_elsewhere"
	ReasonServerShutdown   = "server_shutdown"
)

// Conn is one websocket client. Network I/O runs in dedicated goroutines;
// the game loop consumes InQueue and calls the Send methods, which are
// safe from any goroutine.
type Conn struct {
	ID uint64
	ws *websocket.Conn

	state atomic.Int32

	// InQueue carries decoded client messages to the game loop.
	InQueue chan proto.Inbound

	RemoteAddr string
	Token      string // current resume token, "" before auth

	missedPongs  atomic.Int32
	lastActivity atomic.Int64 // unix ms

	buffered   atomic.Int64 // outbound bytes queued but not yet written
	warnedSoft atomic.Bool

	// Writer pump state. Every Send appends one complete frame; the pump
	// writes frames one websocket message at a time, so frames never
	// interleave.
	outMu   sync.Mutex
	outBuf  [][]byte
	outKick chan struct{}

	closeOnce   sync.Once
	closeCh     chan struct{}
	closed      atomic.Bool
	closeReason string

	log *zap.Logger
}

func NewConn(ws *websocket.Conn, id uint64, inSize int, log *zap.Logger) *Conn {
	c := &Conn{
		ID:         id,
		ws:         ws,
		InQueue:    make(chan proto.Inbound, inSize),
		RemoteAddr: ws.RemoteAddr().String(),
		outKick:    make(chan struct{}, 1),
		closeCh:    make(chan struct{}),
		log:        log.With(zap.Uint64("conn", id)),
	}
	c.state.Store(int32(StateOpening))
	c.touch()
	return c
}

func (c *Conn) State() State        { return State(c.state.Load()) }
func (c *Conn) SetState(st State)   { c.state.Store(int32(st)) }
func (c *Conn) IsClosed() bool      { return c.closed.Load() }
func (c *Conn) CloseReason() string { return c.closeReason }

// BufferedBytes returns the outbound backlog in bytes.
func (c *Conn) BufferedBytes() int64 { return c.buffered.Load() }

// MissedPongs returns the current missed-heartbeat count.
func (c *Conn) MissedPongs() int32 { return c.missedPongs.Load() }

// LastActivity returns the last inbound activity in unix ms.
func (c *Conn) LastActivity() int64 { return c.lastActivity.Load() }

func (c *Conn) touch() {
	c.lastActivity.Store(time.Now().UnixMilli())
	c.missedPongs.Store(0)
}

// Start launches the reader and writer goroutines.
func (c *Conn) Start() {
	c.ws.SetReadLimit(maxPayloadBytes)
	c.ws.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})
	c.SetState(StateOpen)
	go c.readLoop()
	go c.writeLoop()
}

// SendLine buffers one narrative text line.
func (c *Conn) SendLine(line string) error {
	return c.enqueue(proto.EncodeText(line))
}

// SendFrame buffers one structured frame.
func (c *Conn) SendFrame(frameType string, payload any) error {
	data, err := proto.EncodeFrame(proto.FrameType(frameType), payload)
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

// enqueue appends one complete wire message. Soft watermark warns once;
// the critical watermark terminates the connection, since a client that
// far behind is considered unable to receive.
func (c *Conn) enqueue(data []byte) error {
	if c.closed.Load() {
		return nil
	}
	total := c.buffered.Add(int64(len(data)))
	if total > CriticalWatermark {
		c.log.Warn("outbound backlog critical, terminating",
			zap.Int64("buffered", total))
		c.CloseWithReason(ReasonBufferBacklog, websocket.CloseAbnormalClosure)
		return nil
	}
	if total > SoftWatermark && c.warnedSoft.CompareAndSwap(false, true) {
		c.log.Warn("outbound backlog above soft watermark",
			zap.Int64("buffered", total))
	}

	c.outMu.Lock()
	c.outBuf = append(c.outBuf, data)
	c.outMu.Unlock()
	select {
	case c.outKick <- struct{}{}:
	default:
	}
	return nil
}

// Ping sends a websocket ping outside the frame buffer. Skipped above the
// hard watermark so pings do not pile onto a stalled client.
func (c *Conn) Ping() {
	if c.closed.Load() || c.ws == nil || c.BufferedBytes() > HardWatermark {
		return
	}
	_ = c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
}

// CloseWithReason sends a close frame carrying a machine-readable reason,
// then tears the connection down. Idempotent.
func (c *Conn) CloseWithReason(reason string, code int) {
	c.closeOnce.Do(func() {
		c.closeReason = reason
		c.closed.Store(true)
		c.SetState(StateClosing)
		close(c.closeCh)
		if c.ws != nil {
			msg := websocket.FormatCloseMessage(code, reason)
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = c.ws.Close()
		}
		c.SetState(StateClosed)
	})
}

// Close tears down without a reason (peer already gone).
func (c *Conn) Close() {
	c.CloseWithReason("", websocket.CloseNormalClosure)
}

// readLoop decodes inbound messages onto InQueue. Malformed frames are a
// protocol error: warn once, drop the frame, keep the connection.
func (c *Conn) readLoop() {
	defer c.Close()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		c.touch()
		in, err := proto.DecodeInbound(data)
		if err != nil {
			c.log.Warn("protocol error, frame dropped", zap.Error(err))
			continue
		}
		select {
		case c.InQueue <- in:
		case <-c.closeCh:
			return
		}
	}
}

// writeLoop drains the outbound buffer. One websocket message per frame
// keeps writes atomic; compression is toggled per message around the
// payload threshold.
func (c *Conn) writeLoop() {
	defer c.Close()
	for {
		select {
		case <-c.outKick:
		case <-c.closeCh:
			return
		}
		for {
			c.outMu.Lock()
			if len(c.outBuf) == 0 {
				c.outMu.Unlock()
				break
			}
			data := c.outBuf[0]
			c.outBuf = c.outBuf[1:]
			c.outMu.Unlock()

			c.ws.EnableWriteCompression(len(data) > compressThreshold)
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			c.buffered.Add(-int64(len(data)))
		}
	}
}
