package world

import "time"

// Permanent marks an effect that never expires on its own.
const Permanent = time.Duration(-1)

// Effect is a timed modifier on a Living (buff, poison, regen aura).
type Effect struct {
	ID           string
	Type         string
	Remaining    time.Duration // Permanent means no expiry
	TickInterval time.Duration // 0 means no periodic action
	Magnitude    float64
	Category     string
	Hidden       bool

	OnTick   func(l *Living, e *Effect)
	OnExpire func(l *Living, e *Effect)

	untilTick time.Duration
}

// Posture of a Living.
type Posture int

const (
	Standing Posture = iota
	Sitting
	Lying
	Dead
)

// Living is a WorldObject with vitals, stats, effects, and combat state.
// Player and NPC both build on it.
type Living struct {
	*Object

	HP, MaxHP int
	MP, MaxMP int

	BaseStats map[string]int
	StatMods  map[string]int

	Posture Posture

	// Combat target by runtime id; resolved through the registry so a
	// destroyed target simply stops resolving.
	targetID ID

	effects []*Effect
}

func newLiving(o *Object) *Living {
	l := &Living{
		Object:    o,
		BaseStats: map[string]int{},
		StatMods:  map[string]int{},
	}
	o.living = l
	return l
}

// NewLiving constructs and registers a plain Living (mobs without NPC
// behavior, summons).
func (r *Registry) NewLiving(name string) *Living {
	o := newObject(name)
	l := newLiving(o)
	r.Register(o)
	return l
}

// Stat returns base plus modifiers for a named stat.
func (l *Living) Stat(name string) int {
	return l.BaseStats[name] + l.StatMods[name]
}

// Target resolves the current combat target, nil if gone or unset.
func (l *Living) Target() *Living {
	if l.targetID == 0 || l.reg == nil {
		return nil
	}
	o, ok := l.reg.Get(l.targetID)
	if !ok || o.living == nil {
		return nil
	}
	return o.living
}

// SetTarget records the combat target; nil clears.
func (l *Living) SetTarget(t *Living) {
	if t == nil {
		l.targetID = 0
		return
	}
	l.targetID = t.id
}

// Encumbrance is carried weight over the carry limit, as a percentage.
func (l *Living) Encumbrance() (carried, limit, percent int) {
	for _, c := range l.inventory {
		carried += c.Weight
	}
	limit = 40 + 4*l.Stat("strength")
	if limit > 0 {
		percent = carried * 100 / limit
	}
	return carried, limit, percent
}

// AddEffect attaches an effect. An effect with the same ID replaces the
// old one (reapplying a buff refreshes it).
func (l *Living) AddEffect(e *Effect) {
	e.untilTick = e.TickInterval
	for i, old := range l.effects {
		if old.ID == e.ID {
			l.effects[i] = e
			return
		}
	}
	l.effects = append(l.effects, e)
}

// RemoveEffect cancels an effect by id without firing OnExpire.
func (l *Living) RemoveEffect(id string) bool {
	for i, e := range l.effects {
		if e.ID == id {
			l.effects = append(l.effects[:i], l.effects[i+1:]...)
			return true
		}
	}
	return false
}

// Effects returns the live effect list. Hidden effects included; display
// filtering is the caller's concern.
func (l *Living) Effects() []*Effect { return l.effects }

// FindEffect returns the effect with the given id.
func (l *Living) FindEffect(id string) *Effect {
	for _, e := range l.effects {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// tickEffects advances all effects by dt: periodic actions fire and rearm,
// expired non-permanent effects are removed after their OnExpire hook.
func (l *Living) tickEffects(dt time.Duration) {
	kept := l.effects[:0]
	for _, e := range l.effects {
		if e.TickInterval > 0 {
			e.untilTick -= dt
			for e.untilTick <= 0 {
				if e.OnTick != nil {
					e.OnTick(l, e)
				}
				e.untilTick += e.TickInterval
			}
		}
		if e.Remaining == Permanent {
			kept = append(kept, e)
			continue
		}
		e.Remaining -= dt
		if e.Remaining <= 0 {
			if e.OnExpire != nil {
				e.OnExpire(l, e)
			}
			continue
		}
		kept = append(kept, e)
	}
	l.effects = kept
}
