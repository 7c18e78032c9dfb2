package server

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/jasona/mudforge-sub005/internal/core/event"
	"github.com/jasona/mudforge-sub005/internal/persist"
	"github.com/jasona/mudforge-sub005/internal/proto"
	"github.com/jasona/mudforge-sub005/internal/session"
	"github.com/jasona/mudforge-sub005/internal/world"
)

var nameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{2,19}$`)

// handleAuth services one AUTH attempt from a pending connection. Both
// entry paths (name+password and resume token) funnel into finishAuth.
func (s *Server) handleAuth(c *session.Conn, req proto.AuthRequest) {
	if req.SessionToken != "" {
		s.resumeSession(c, req.SessionToken)
		return
	}
	if !s.allowAuthAttempt(c.RemoteAddr) {
		s.authFail(c, "too many attempts, slow down")
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" || req.Password == "" {
		s.authFail(c, "name and password required")
		return
	}
	if !nameRe.MatchString(name) {
		s.authFail(c, "names are 3-20 letters, digits, - or _")
		return
	}

	key := persist.PlayerKey(name)
	ctx := context.Background()

	if p, ok := s.players[key]; ok {
		// Character is in the world: live session or linkdead.
		if bcrypt.CompareHashAndPassword(p.CredentialHash, []byte(req.Password)) != nil {
			s.authFail(c, "bad credentials")
			return
		}
		s.takeover(p)
		s.finishAuth(c, p, true)
		return
	}

	rec, err := s.store.LoadPlayer(ctx, key)
	if err != nil {
		s.log.Error("player load failed", zap.String("player", key), zap.Error(err))
		s.authFail(c, "storage unavailable, try again")
		return
	}
	if rec != nil {
		p := s.registry.RestorePlayer(rec.Payload)
		if bcrypt.CompareHashAndPassword(p.CredentialHash, []byte(req.Password)) != nil {
			p.Destroy()
			s.authFail(c, "bad credentials")
			return
		}
		s.placeInWorld(p)
		s.finishAuth(c, p, false)
		return
	}

	// First login registers the character.
	p, err := s.registerPlayer(ctx, name, req.Password)
	if err != nil {
		s.authFail(c, err.Error())
		return
	}
	s.finishAuth(c, p, false)
}

// registerPlayer creates a brand-new character with first-race defaults.
func (s *Server) registerPlayer(ctx context.Context, name, password string) (*world.Player, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	p := s.registry.NewPlayer(name)
	p.CredentialHash = hash
	p.Level = 1
	if races := s.races.All(); len(races) > 0 {
		r := races[0]
		p.MaxHP, p.HP = r.BaseHP, r.BaseHP
		p.MaxMP, p.MP = r.BaseMP, r.BaseMP
		for k, v := range r.Stats {
			p.BaseStats[k] = v
		}
		p.Props["race"] = r.ID
	}
	s.placeInWorld(p)
	s.savePlayer(ctx, p)
	s.log.Info("new character registered", zap.String("player", name))
	return p, nil
}

// placeInWorld moves a freshly loaded character to its start room.
func (s *Server) placeInWorld(p *world.Player) {
	path, _ := p.Props["start_room"].(string)
	if path == "" {
		if races := s.races.All(); len(races) > 0 {
			path = races[0].StartRoom
		}
	}
	if path == "" {
		return
	}
	room, err := s.registry.LoadObject(path)
	if err != nil {
		s.log.Warn("start room unavailable",
			zap.String("player", p.Name), zap.String("room", path), zap.Error(err))
		return
	}
	if err := p.MoveTo(room); err != nil {
		s.log.Warn("start room refused player",
			zap.String("player", p.Name), zap.Error(err))
	}
}

// resumeSession validates a single-use token and rebinds its character.
func (s *Server) resumeSession(c *session.Conn, token string) {
	name, _, err := s.tokens.Validate(token, c.RemoteAddr)
	if err != nil {
		s.authFail(c, "session invalid or expired")
		return
	}
	p, ok := s.players[name]
	if !ok {
		// The resume window outlived the character (server restart).
		rec, err := s.store.LoadPlayer(context.Background(), name)
		if err != nil || rec == nil {
			s.authFail(c, "session no longer valid")
			return
		}
		p = s.registry.RestorePlayer(rec.Payload)
		s.placeInWorld(p)
	}
	s.takeover(p)
	s.finishAuth(c, p, true)
}

// takeover severs any existing connection so the new one owns the
// character. The old client sees resumed_elsewhere.
func (s *Server) takeover(p *world.Player) {
	if old, ok := s.binder.ConnFor(p); ok {
		s.binder.Unbind(p)
		s.manager.Drop(old, session.ReasonResumedElsewhere, 1000)
	}
	delete(s.linkdead, p)
}

// finishAuth binds the connection, issues a fresh resume token, and
// announces the entry.
func (s *Server) finishAuth(c *session.Conn, p *world.Player, resume bool) {
	delete(s.pending, c.ID)
	key := persist.PlayerKey(p.Name)
	s.players[key] = p
	s.binder.Bind(c, p)
	s.channels.Join("chat", p.Name)

	token, err := s.tokens.Issue(p.Name, c.ID, c.RemoteAddr)
	if err != nil {
		s.log.Warn("token issue failed", zap.String("player", p.Name), zap.Error(err))
	} else {
		c.Token = token
		p.SendFrame(string(proto.TypeSession), proto.SessionPayload{Token: token})
	}
	p.SendFrame(string(proto.TypeAuth), proto.AuthResult{OK: true})

	if resume {
		p.SendLine("Reconnected.")
	} else {
		p.SendLine("Welcome, " + p.Name + ".")
		s.dispatcher.Dispatch(p, "look")
	}
	s.binder.SendStats(p)
	event.Emit(s.bus, event.PlayerEnteredWorld{Player: p, Resume: resume})
}

func (s *Server) authFail(c *session.Conn, reason string) {
	_ = c.SendFrame(string(proto.TypeAuth), proto.AuthResult{OK: false, Reason: reason})
}

// allowAuthAttempt applies the per-host auth rate limit over a one-minute
// sliding window.
func (s *Server) allowAuthAttempt(remoteAddr string) bool {
	if !s.cfg.RateLimit.Enabled {
		return true
	}
	host := remoteAddr
	if i := strings.LastIndexByte(remoteAddr, ':'); i > 0 {
		host = remoteAddr[:i]
	}
	now := time.Now()
	cutoff := now.Add(-time.Minute)
	recent := s.authHits[host][:0]
	for _, t := range s.authHits[host] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= s.cfg.RateLimit.AuthPerMinute {
		s.authHits[host] = recent
		return false
	}
	s.authHits[host] = append(recent, now)
	return true
}
