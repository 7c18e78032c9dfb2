package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/jasona/mudforge-sub005/internal/proto"
	"github.com/jasona/mudforge-sub005/internal/world"
)

// inputQueueCap is the default per-player queued-input bound; overflow
// drops the oldest line and warns the player.
const inputQueueCap = 64

// Binder records the two-way binding between connections and player
// objects, throttles input to one command per tick, and builds the
// structured output frames. Accessed only from the game loop goroutine.
type Binder struct {
	log      *zap.Logger
	queueCap int

	byConn   map[uint64]*world.Player
	byPlayer map[*world.Player]*Conn
	queues   map[*world.Player][]string
}

// NewBinder builds a binder. queueCap bounds per-player queued input;
// zero or negative selects the default.
func NewBinder(queueCap int, log *zap.Logger) *Binder {
	if queueCap <= 0 {
		queueCap = inputQueueCap
	}
	return &Binder{
		log:      log,
		queueCap: queueCap,
		byConn:   map[uint64]*world.Player{},
		byPlayer: map[*world.Player]*Conn{},
		queues:   map[*world.Player][]string{},
	}
}

// Bind attaches a connection to a player: both directions recorded, play
// session started, input-handler stack reset, on_connect fired.
func (b *Binder) Bind(c *Conn, p *world.Player) {
	b.byConn[c.ID] = p
	b.byPlayer[p] = c
	p.SetConn(c)
	p.SessionStart = time.Now()
	p.ClearInputHandlers()
	if err := p.CallHook("on_connect"); err != nil {
		b.log.Warn("on_connect hook failed",
			zap.String("player", p.Name), zap.Error(err))
	}
}

// Unbind detaches the player from its connection, accumulating play time.
// Non-destructive: the player object survives and may be rebound on
// resume.
func (b *Binder) Unbind(p *world.Player) {
	if c, ok := b.byPlayer[p]; ok {
		delete(b.byConn, c.ID)
	}
	delete(b.byPlayer, p)
	delete(b.queues, p)
	if !p.SessionStart.IsZero() {
		p.PlayTime += time.Since(p.SessionStart)
		p.SessionStart = time.Time{}
	}
	p.SetConn(nil)
}

// PlayerFor returns the player bound to a connection.
func (b *Binder) PlayerFor(c *Conn) (*world.Player, bool) {
	p, ok := b.byConn[c.ID]
	return p, ok
}

// ConnFor returns the connection bound to a player.
func (b *Binder) ConnFor(p *world.Player) (*Conn, bool) {
	c, ok := b.byPlayer[p]
	return c, ok
}

// Players lists all bound players.
func (b *Binder) Players() []*world.Player {
	out := make([]*world.Player, 0, len(b.byPlayer))
	for p := range b.byPlayer {
		out = append(out, p)
	}
	return out
}

// Enqueue adds an input line for later dispatch. At the cap the oldest
// queued line is discarded and the player warned once per overflow.
func (b *Binder) Enqueue(p *world.Player, line string) {
	q := b.queues[p]
	if len(q) >= b.queueCap {
		q = q[1:]
		p.SendLine("You are typing too fast; oldest queued command discarded.")
	}
	b.queues[p] = append(q, line)
}

// DequeueOne pops the next queued line, if any. The game loop calls this
// once per player per tick.
func (b *Binder) DequeueOne(p *world.Player) (string, bool) {
	q := b.queues[p]
	if len(q) == 0 {
		return "", false
	}
	line := q[0]
	b.queues[p] = q[1:]
	return line, true
}

// QueueLen reports the queued input count for a player.
func (b *Binder) QueueLen(p *world.Player) int { return len(b.queues[p]) }

// SendStats pushes the vitals frame for a player.
func (b *Binder) SendStats(p *world.Player) {
	carried, limit, percent := p.Encumbrance()
	p.SendFrame(string(proto.TypeStats), proto.StatsPayload{
		Level:              p.Level,
		HP:                 p.HP,
		MaxHP:              p.MaxHP,
		MP:                 p.MP,
		MaxMP:              p.MaxMP,
		XP:                 p.XP,
		XPToLevel:          xpToLevel(p.Level) - p.XP,
		Gold:               p.Gold,
		BankedGold:         p.Bank,
		Avatar:             p.Avatar,
		ProfilePortrait:    p.Portrait,
		EncumbrancePercent: float64(percent),
		CarriedWeight:      float64(carried),
		MaxCarryWeight:     float64(limit),
	})
}

// SendCombatTarget pushes a target_update or target_clear frame.
func (b *Binder) SendCombatTarget(p *world.Player) {
	t := p.Target()
	if t == nil {
		p.SendFrame(string(proto.TypeCombat), proto.CombatPayload{Kind: "target_clear"})
		return
	}
	p.SendFrame(string(proto.TypeCombat), proto.CombatPayload{
		Kind:  "target_update",
		Name:  t.Name,
		HP:    t.HP,
		MaxHP: t.MaxHP,
	})
}

// xpToLevel is the cumulative experience needed to finish a level.
func xpToLevel(level int) int64 {
	if level < 1 {
		level = 1
	}
	return int64(level) * int64(level) * 1000
}
