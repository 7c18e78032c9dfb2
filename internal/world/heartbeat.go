package world

import (
	"time"

	"go.uber.org/zap"
)

// Scheduler drives the per-tick heartbeat over opted-in objects. Objects
// run in insertion order; the whole tick executes on the game loop
// goroutine, so heartbeats never race command handlers.
type Scheduler struct {
	log    *zap.Logger
	period time.Duration

	order   []*Object
	member  map[*Object]struct{}
	skip    map[*Object]struct{} // opted out for exactly one tick after a panic
	tickNum uint64
}

func NewScheduler(period time.Duration, log *zap.Logger) *Scheduler {
	return &Scheduler{
		log:    log,
		period: period,
		member: map[*Object]struct{}{},
		skip:   map[*Object]struct{}{},
	}
}

// Set opts an object in or out. Idempotent; destruction opts out
// implicitly.
func (s *Scheduler) Set(o *Object, enable bool) {
	if enable && !o.destroyed {
		if _, ok := s.member[o]; !ok {
			s.member[o] = struct{}{}
			s.order = append(s.order, o)
		}
		o.heartbeat = true
		return
	}
	o.heartbeat = false
}

// Enabled reports the opt-in state.
func (s *Scheduler) Enabled(o *Object) bool { return o.heartbeat && !o.destroyed }

// Size returns the opted-in object count.
func (s *Scheduler) Size() int { return len(s.member) }

// Tick runs one heartbeat pass. dt is the tick period. Objects that opted
// out or died since the last pass are pruned in place. A pass running
// longer than three periods is reported as a health warning.
func (s *Scheduler) Tick(dt time.Duration) {
	s.tickNum++
	start := time.Now()

	kept := s.order[:0]
	for _, o := range s.order {
		if o.destroyed || !o.heartbeat {
			delete(s.member, o)
			delete(s.skip, o)
			continue
		}
		kept = append(kept, o)
		if _, skip := s.skip[o]; skip {
			delete(s.skip, o)
			continue
		}
		s.tickOne(o, dt)
	}
	s.order = kept

	if elapsed := time.Since(start); elapsed > 3*s.period {
		s.log.Warn("heartbeat tick overran",
			zap.Uint64("tick", s.tickNum),
			zap.Duration("elapsed", elapsed),
			zap.Int("objects", len(s.order)))
	}
}

// tickOne runs a single object's heartbeat contract. A panic is contained
// here: logged, and the object sits out the next tick.
func (s *Scheduler) tickOne(o *Object, dt time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("heartbeat panic",
				zap.Uint64("object", uint64(o.id)),
				zap.String("name", o.Name),
				zap.Any("panic", r),
				zap.Stack("stack"))
			s.skip[o] = struct{}{}
		}
	}()

	if l := o.living; l != nil {
		l.tickEffects(dt)
		l.regen()
	}
	if n := o.npc; n != nil {
		n.wander()
		if n.OnBehave != nil {
			n.OnBehave(n)
		}
	}
	if err := o.CallHook("on_tick", dt); err != nil {
		s.log.Warn("heartbeat hook error",
			zap.Uint64("object", uint64(o.id)),
			zap.String("name", o.Name),
			zap.Error(err))
	}
}

// regen restores vitals toward their maxima each tick. Dead livings do
// not regenerate.
func (l *Living) regen() {
	if l.Posture == Dead {
		return
	}
	if l.HP < l.MaxHP {
		l.HP++
	}
	if l.MP < l.MaxMP {
		l.MP++
	}
}
