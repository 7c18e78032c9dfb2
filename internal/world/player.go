package world

import (
	"strings"
	"time"
)

// PermLevel is a player's permission tier.
type PermLevel int

const (
	PermPlayer PermLevel = iota
	PermBuilder
	PermSeniorBuilder
	PermAdmin
)

var permNames = map[PermLevel]string{
	PermPlayer:        "player",
	PermBuilder:       "builder",
	PermSeniorBuilder: "senior_builder",
	PermAdmin:         "admin",
}

func (p PermLevel) String() string { return permNames[p] }

// ParsePermLevel maps a stored level name; unknown names degrade to player.
func ParsePermLevel(s string) PermLevel {
	for lvl, name := range permNames {
		if name == strings.ToLower(s) {
			return lvl
		}
	}
	return PermPlayer
}

// Sender is the player's view of its connection. The session package
// implements it; a nil conn means the player is link-dead and writes are
// silently discarded.
type Sender interface {
	SendLine(line string) error
	SendFrame(frameType string, payload any) error
}

// InputHandler intercepts raw input lines ahead of command parsing (IDE
// editor, yes/no prompts). Returning consumed=false passes the line on.
type InputHandler struct {
	Name   string
	Handle func(p *Player, line string) (consumed bool, err error)
}

// Player is a connected (or link-dead, resumable) character.
type Player struct {
	*Living

	CredentialHash []byte
	Perm           PermLevel

	Level int
	XP    int64
	Gold  int64
	Bank  int64

	Avatar   string
	Portrait string

	Monitor      bool // opt-in heartbeat UI stream
	PromptOn     bool
	Prompt       string
	PlayTime     time.Duration
	SessionStart time.Time

	conn     Sender
	handlers []*InputHandler // input-handler stack, top is last

	// Per-player bound verbs, checked before room and object actions.
	verbs map[string]Action
}

// NewPlayer constructs and registers a player object.
func (r *Registry) NewPlayer(name string) *Player {
	o := newObject(name)
	l := newLiving(o)
	p := &Player{
		Living:   l,
		PromptOn: true,
		Prompt:   "> ",
		verbs:    map[string]Action{},
	}
	o.player = p
	r.Register(o)
	return p
}

// Conn returns the bound connection, nil when link-dead.
func (p *Player) Conn() Sender { return p.conn }

// SetConn binds or clears the connection reference. Binding lifecycle
// (play-time accounting, hooks) lives in the session binder.
func (p *Player) SetConn(c Sender) { p.conn = c }

// SendLine writes a narrative line; discarded while link-dead.
func (p *Player) SendLine(line string) {
	if p.conn != nil {
		_ = p.conn.SendLine(line)
	}
}

// SendFrame writes a structured frame; discarded while link-dead.
func (p *Player) SendFrame(frameType string, payload any) {
	if p.conn != nil {
		_ = p.conn.SendFrame(frameType, payload)
	}
}

// PushInputHandler puts a handler on top of the stack.
func (p *Player) PushInputHandler(h *InputHandler) {
	p.handlers = append(p.handlers, h)
}

// PopInputHandler removes the top handler.
func (p *Player) PopInputHandler() *InputHandler {
	n := len(p.handlers)
	if n == 0 {
		return nil
	}
	h := p.handlers[n-1]
	p.handlers = p.handlers[:n-1]
	return h
}

// TopInputHandler returns the active handler without popping.
func (p *Player) TopInputHandler() *InputHandler {
	if n := len(p.handlers); n > 0 {
		return p.handlers[n-1]
	}
	return nil
}

// ClearInputHandlers empties the stack; called on bind.
func (p *Player) ClearInputHandlers() { p.handlers = nil }

// BindVerb binds a per-player verb; nil unbinds.
func (p *Player) BindVerb(verb string, fn Action) {
	v := strings.ToLower(verb)
	if fn == nil {
		delete(p.verbs, v)
		return
	}
	p.verbs[v] = fn
}

// VerbFor returns the player-bound handler for verb.
func (p *Player) VerbFor(verb string) (Action, bool) {
	fn, ok := p.verbs[strings.ToLower(verb)]
	return fn, ok
}

// Serialize flattens the player to a JSON-safe payload for persistence.
func (p *Player) Serialize() map[string]any {
	stats := make(map[string]any, len(p.BaseStats))
	for k, v := range p.BaseStats {
		stats[k] = v
	}
	props := make(map[string]any, len(p.Props))
	for k, v := range p.Props {
		props[k] = v
	}
	return map[string]any{
		"name":            p.Name,
		"credential_hash": string(p.CredentialHash),
		"permission":      p.Perm.String(),
		"level":           p.Level,
		"xp":              p.XP,
		"gold":            p.Gold,
		"bank":            p.Bank,
		"hp":              p.HP,
		"max_hp":          p.MaxHP,
		"mp":              p.MP,
		"max_mp":          p.MaxMP,
		"avatar":          p.Avatar,
		"portrait":        p.Portrait,
		"play_time_ms":    p.PlayTime.Milliseconds(),
		"stats":           stats,
		"props":           props,
	}
}

// RestorePlayer materializes a player from a persisted payload.
func (r *Registry) RestorePlayer(payload map[string]any) *Player {
	p := r.NewPlayer(asString(payload["name"]))
	p.CredentialHash = []byte(asString(payload["credential_hash"]))
	p.Perm = ParsePermLevel(asString(payload["permission"]))
	p.Level = asInt(payload["level"])
	p.XP = int64(asInt(payload["xp"]))
	p.Gold = int64(asInt(payload["gold"]))
	p.Bank = int64(asInt(payload["bank"]))
	p.HP = asInt(payload["hp"])
	p.MaxHP = asInt(payload["max_hp"])
	p.MP = asInt(payload["mp"])
	p.MaxMP = asInt(payload["max_mp"])
	p.Avatar = asString(payload["avatar"])
	p.Portrait = asString(payload["portrait"])
	p.PlayTime = time.Duration(asInt(payload["play_time_ms"])) * time.Millisecond
	if stats, ok := payload["stats"].(map[string]any); ok {
		for k, v := range stats {
			p.BaseStats[k] = asInt(v)
		}
	}
	if props, ok := payload["props"].(map[string]any); ok {
		for k, v := range props {
			p.Props[k] = v
		}
	}
	return p
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asInt tolerates the float64 that JSON decoding produces for numbers.
func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
