package system

import "time"

// Phase defines execution ordering within a single world tick.
type Phase int

const (
	PhaseInput     Phase = iota // 0: drain connection queues, auth, resume
	PhaseEvents                 // 1: deliver last tick's events
	PhaseCommands               // 2: dispatch one queued command per player
	PhaseHeartbeat              // 3: effect expiry, regen, NPC behavior
	PhaseOutput                 // 4: stats/monitor frames
	PhasePersist                // 5: autosave when due
	PhaseCleanup                // 6: unbind dead connections
)

// System is one stage of the world tick pipeline.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
