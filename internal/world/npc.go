package world

import "math/rand"

// NPC is a scripted non-player Living. Wandering and custom behavior run
// from its heartbeat.
type NPC struct {
	*Living

	// Wander chance per tick, 0-100. Wandering picks a random exit of the
	// current room; rooms expose exits as room props.
	WanderChance int

	// OnBehave runs each heartbeat after effects and wandering.
	OnBehave func(n *NPC)
}

// NewNPC constructs and registers an NPC.
func (r *Registry) NewNPC(name string) *NPC {
	o := newObject(name)
	l := newLiving(o)
	n := &NPC{Living: l}
	o.npc = n
	r.Register(o)
	return n
}

// wander moves the NPC through a random exit of its room. Exits live in
// the room's props as map[exit name]blueprint path.
func (n *NPC) wander() {
	if n.WanderChance <= 0 || rand.Intn(100) >= n.WanderChance {
		return
	}
	room := n.Env()
	if room == nil {
		return
	}
	exits, ok := room.Props["exits"].(map[string]any)
	if !ok || len(exits) == 0 {
		return
	}
	paths := make([]string, 0, len(exits))
	for _, v := range exits {
		if p, ok := v.(string); ok {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return
	}
	dest, err := n.reg.LoadObject(paths[rand.Intn(len(paths))])
	if err != nil {
		return
	}
	_ = n.MoveTo(dest)
}
