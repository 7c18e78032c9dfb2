package federation

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// wsLink speaks JSON events over a websocket, the wire most off-world
// relay networks accept.
type wsLink struct {
	ws *websocket.Conn
}

// WebSocketDialer builds a Dialer for a relay endpoint.
func WebSocketDialer(url string) Dialer {
	return func(ctx context.Context) (Link, error) {
		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		ws, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return &wsLink{ws: ws}, nil
	}
}

func (l *wsLink) Send(ctx context.Context, ev Event) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	if err := l.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return l.ws.WriteJSON(ev)
}

func (l *wsLink) Recv(ctx context.Context) (Event, error) {
	var ev Event
	if deadline, ok := ctx.Deadline(); ok {
		if err := l.ws.SetReadDeadline(deadline); err != nil {
			return ev, err
		}
	}
	err := l.ws.ReadJSON(&ev)
	return ev, err
}

func (l *wsLink) Close() error { return l.ws.Close() }
