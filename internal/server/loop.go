package server

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/jasona/mudforge-sub005/internal/core/event"
	"github.com/jasona/mudforge-sub005/internal/core/system"
	"github.com/jasona/mudforge-sub005/internal/proto"
	"github.com/jasona/mudforge-sub005/internal/session"
	"github.com/jasona/mudforge-sub005/internal/world"
)

// The tick systems below all run on the game loop goroutine, in phase
// order. They are the only code that touches world state.

// inputSystem accepts new connections and drains every connection's
// inbound queue: auth frames for pending connections, command input for
// bound players.
type inputSystem struct{ s *Server }

func (*inputSystem) Phase() system.Phase { return system.PhaseInput }

func (sys *inputSystem) Update(dt time.Duration) {
	s := sys.s

accept:
	for {
		select {
		case c := <-s.manager.NewConns():
			s.pending[c.ID] = c
			_ = c.SendLine("Welcome to " + s.cfg.Server.Name + ".")
			_ = c.SendLine("Log in with an AUTH frame, or resume a session.")
		default:
			break accept
		}
	}

	budget := s.frameBudget(dt)
	for id, c := range s.pending {
		if c.IsClosed() {
			delete(s.pending, id)
			continue
		}
		s.drainPending(c, budget)
	}
	for _, p := range s.binder.Players() {
		c, ok := s.binder.ConnFor(p)
		if !ok {
			continue
		}
		s.drainBound(c, p, budget)
	}

relay:
	for {
		select {
		case ev := <-s.relayIn:
			s.handleRelayEvent(ev)
		default:
			break relay
		}
	}
}

// frameBudget is the per-connection inbound frame allowance for one tick.
// Frames past the budget stay queued; the reader goroutine blocks once
// the queue fills, which is the backpressure.
func (s *Server) frameBudget(dt time.Duration) int {
	if !s.cfg.RateLimit.Enabled {
		return 1 << 30
	}
	n := int(float64(s.cfg.RateLimit.FramesPerSecond) * dt.Seconds())
	if n < 1 {
		n = 1
	}
	return n
}

func (s *Server) drainPending(c *session.Conn, budget int) {
	for i := 0; i < budget; i++ {
		select {
		case in := <-c.InQueue:
			switch {
			case in.Kind == proto.KindFrame && in.Type == proto.TypeAuth:
				var req proto.AuthRequest
				if err := json.Unmarshal(in.Body, &req); err != nil {
					s.authFail(c, "malformed auth payload")
					continue
				}
				s.handleAuth(c, req)
			case in.Kind == proto.KindFrame && in.Type == proto.TypeSession:
				var sp proto.SessionPayload
				if err := json.Unmarshal(in.Body, &sp); err != nil {
					s.authFail(c, "malformed session payload")
					continue
				}
				s.handleAuth(c, proto.AuthRequest{SessionToken: sp.Token})
			default:
				_ = c.SendLine("Please log in first.")
			}
		default:
			return
		}
	}
}

func (s *Server) drainBound(c *session.Conn, p *world.Player, budget int) {
	for i := 0; i < budget; i++ {
		select {
		case in := <-c.InQueue:
			switch {
			case in.Kind == proto.KindText:
				s.binder.Enqueue(p, in.Text)
			case in.Type == proto.TypeCommand:
				var req proto.CommandRequest
				if err := json.Unmarshal(in.Body, &req); err == nil && req.Line != "" {
					s.binder.Enqueue(p, req.Line)
				}
			case in.Type == proto.TypeIDE:
				var req proto.IDERequest
				if err := json.Unmarshal(in.Body, &req); err == nil {
					s.handleIDE(p, req)
				}
			case in.Type == proto.TypeAuth, in.Type == proto.TypeSession:
				// Already authenticated, nothing to do.
			default:
				s.log.Debug("unhandled frame",
					zap.String("type", string(in.Type)),
					zap.String("player", p.Name))
			}
		default:
			return
		}
	}
}

// eventSystem flips the event bus: everything emitted last tick is
// delivered this tick.
type eventSystem struct{ s *Server }

func (*eventSystem) Phase() system.Phase { return system.PhaseEvents }

func (sys *eventSystem) Update(time.Duration) {
	sys.s.bus.SwapBuffers()
	sys.s.bus.DispatchAll()
}

// commandSystem dispatches at most one queued command per player per
// tick.
type commandSystem struct{ s *Server }

func (*commandSystem) Phase() system.Phase { return system.PhaseCommands }

func (sys *commandSystem) Update(time.Duration) {
	s := sys.s
	for _, p := range s.binder.Players() {
		if line, ok := s.binder.DequeueOne(p); ok {
			s.dispatcher.Dispatch(p, line)
		}
	}
}

// heartbeatSystem drives object heartbeats and the in-world clock,
// pushing a GAMETIME frame whenever the game minute rolls over.
type heartbeatSystem struct {
	s          *Server
	lastMinute int
}

func (*heartbeatSystem) Phase() system.Phase { return system.PhaseHeartbeat }

func (sys *heartbeatSystem) Update(dt time.Duration) {
	s := sys.s
	s.sched.Tick(dt)
	s.gametime.Advance(dt)

	payload := s.gametime.Payload()
	if payload.Minute != sys.lastMinute {
		sys.lastMinute = payload.Minute
		for _, p := range s.binder.Players() {
			p.SendFrame(string(proto.TypeGameTime), payload)
		}
	}
}

// outputSystem streams the vitals frame to players who opted in with the
// monitor command.
type outputSystem struct{ s *Server }

func (*outputSystem) Phase() system.Phase { return system.PhaseOutput }

func (sys *outputSystem) Update(time.Duration) {
	s := sys.s
	for _, p := range s.binder.Players() {
		if p.Monitor {
			s.binder.SendStats(p)
		}
	}
}

// cleanupSystem reaps dead connections and expires linkdead characters
// whose resume window has passed.
type cleanupSystem struct{ s *Server }

func (*cleanupSystem) Phase() system.Phase { return system.PhaseCleanup }

func (sys *cleanupSystem) Update(time.Duration) {
	s := sys.s

dead:
	for {
		select {
		case d := <-s.manager.Disconnects():
			delete(s.pending, d.Conn.ID)
			p, ok := s.binder.PlayerFor(d.Conn)
			if !ok {
				continue
			}
			s.binder.Unbind(p)
			event.Emit(s.bus, event.PlayerLeftWorld{
				Player: p, Reason: d.Reason, Clean: false,
			})
			s.linkdead[p] = time.Now().Add(s.cfg.Session.TTL)
			s.log.Info("player linkdead",
				zap.String("player", p.Name),
				zap.String("reason", d.Reason))
		default:
			break dead
		}
	}

	now := time.Now()
	for p, deadline := range s.linkdead {
		if now.Before(deadline) {
			continue
		}
		s.log.Info("resume window expired", zap.String("player", p.Name))
		s.savePlayer(context.Background(), p)
		s.tokens.InvalidateName(p.Name)
		s.removePlayer(p)
	}
}

// handleIDE services editor frames from builders: open returns the file
// content, save writes through the permission table.
func (s *Server) handleIDE(p *world.Player, req proto.IDERequest) {
	switch req.Action {
	case "open":
		content, err := s.files.readAs(p.Perm, req.Path)
		if err != nil {
			p.SendFrame(string(proto.TypeIDE), proto.IDESaveResult{
				Path: req.Path, OK: false, Error: err.Error(),
			})
			return
		}
		p.SendFrame(string(proto.TypeIDE), map[string]any{
			"action": "open", "path": req.Path, "content": content,
		})
	case "save":
		err := s.files.writeAs(p.Perm, req.Path, req.Content)
		res := proto.IDESaveResult{Path: req.Path, OK: err == nil}
		if err != nil {
			res.Error = err.Error()
		}
		p.SendFrame(string(proto.TypeIDE), res)
	case "close":
		// Stateless on the server side.
	default:
		p.SendLine("Unknown editor action: " + req.Action)
	}
}

// handleRelayEvent fans an off-world relay event into the chat channel.
func (s *Server) handleRelayEvent(ev relayEvent) {
	switch ev.Kind {
	case "chat":
		from, _ := ev.Payload["from"].(string)
		text, _ := ev.Payload["text"].(string)
		if text == "" {
			return
		}
		if from == "" {
			from = "someone"
		}
		s.channels.Broadcast("chat", from+"@"+ev.relay, text)
	default:
		s.log.Debug("unhandled relay event", zap.String("kind", ev.Kind))
	}
}
