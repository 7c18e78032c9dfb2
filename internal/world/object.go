// Package world holds the persistent object graph: every room, item, NPC,
// player, and daemon is an Object registered in one Registry. The graph is
// mutated only from the game loop goroutine, so none of it is locked.
package world

import (
	"errors"
	"fmt"
	"strings"
)

// ID is a runtime object id. Stable for the object's lifetime, never reused
// within a process. Cross-object references (combat target, pet owner) store
// the ID rather than a pointer so a destroyed object cannot be resurrected
// through a stale reference.
type ID uint64

// Hook is a per-object callback (onEnter, onLeave, on_take, on_tick, ...).
// A missing hook is a no-op, never an error.
type Hook func(self *Object, args ...any) error

// AdmitHook runs on a prospective environment before a move completes.
// Returning false vetoes the move.
type AdmitHook func(self, mover *Object) bool

// Action handles a verb bound directly on an object ("pull lever").
type Action func(self *Object, actor *Object, args string) error

var (
	ErrDestroyed   = errors.New("world: object destroyed")
	ErrMoveCycle   = errors.New("world: move would create a containment cycle")
	ErrMoveRefused = errors.New("world: target refused admission")
)

// Object is the universal world node.
type Object struct {
	id   ID
	path string // blueprint path, "" for anonymous objects

	Name  string // canonical name, always matched by Id
	Short string
	Long  string

	aliases []string // extra matching ids, stored lowercased

	env       *Object
	inventory []*Object

	Props   map[string]any
	actions map[string]Action
	hooks   map[string]Hook
	admit   AdmitHook

	// Capability slots. A nil slot means the object lacks the capability.
	Container *Container
	Equip     *Equippable

	Weight int

	heartbeat bool
	destroyed bool

	// Specialization back-pointers, set by the respective constructors.
	living *Living
	player *Player
	npc    *NPC

	reg *Registry
}

// AsLiving returns the Living specialization, if any.
func (o *Object) AsLiving() (*Living, bool) { return o.living, o.living != nil }

// AsPlayer returns the Player specialization, if any.
func (o *Object) AsPlayer() (*Player, bool) { return o.player, o.player != nil }

// AsNPC returns the NPC specialization, if any.
func (o *Object) AsNPC() (*NPC, bool) { return o.npc, o.npc != nil }

func newObject(name string) *Object {
	return &Object{
		Name:    name,
		Props:   map[string]any{},
		actions: map[string]Action{},
		hooks:   map[string]Hook{},
	}
}

func (o *Object) ID() ID          { return o.id }
func (o *Object) Path() string    { return o.path }
func (o *Object) Destroyed() bool { return o.destroyed }

// Env returns the containing object, nil for the void.
func (o *Object) Env() *Object {
	if o.destroyed {
		return nil
	}
	return o.env
}

// Inventory returns the ordered children. The slice is shared; callers that
// mutate during iteration must copy first.
func (o *Object) Inventory() []*Object {
	if o.destroyed {
		return nil
	}
	return o.inventory
}

// Id reports whether name matches the object's canonical name, an alias, or
// its blueprint path. Case-insensitive.
func (o *Object) Id(name string) bool {
	if o.destroyed {
		return false
	}
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return false
	}
	if n == strings.ToLower(o.Name) || n == o.path {
		return true
	}
	for _, a := range o.aliases {
		if n == a {
			return true
		}
	}
	return false
}

// AddAlias registers an extra matching id.
func (o *Object) AddAlias(name string) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return
	}
	for _, a := range o.aliases {
		if a == n {
			return
		}
	}
	o.aliases = append(o.aliases, n)
}

// SetHook installs a named hook; a nil fn removes it.
func (o *Object) SetHook(name string, fn Hook) {
	if fn == nil {
		delete(o.hooks, name)
		return
	}
	o.hooks[name] = fn
}

// CallHook invokes the named hook if present.
func (o *Object) CallHook(name string, args ...any) error {
	fn, ok := o.hooks[name]
	if !ok || o.destroyed {
		return nil
	}
	return fn(o, args...)
}

// SetAdmit installs the admission veto hook.
func (o *Object) SetAdmit(fn AdmitHook) { o.admit = fn }

// BindAction binds a verb to this object; nil unbinds.
func (o *Object) BindAction(verb string, fn Action) {
	v := strings.ToLower(verb)
	if fn == nil {
		delete(o.actions, v)
		return
	}
	o.actions[v] = fn
}

// ActionFor returns the handler bound to verb, if any.
func (o *Object) ActionFor(verb string) (Action, bool) {
	if o.destroyed {
		return nil, false
	}
	fn, ok := o.actions[strings.ToLower(verb)]
	return fn, ok
}

// contains reports whether o transitively contains x.
func (o *Object) contains(x *Object) bool {
	for e := x.env; e != nil; e = e.env {
		if e == o {
			return true
		}
	}
	return false
}

// MoveTo moves o into target, or into the void when target is nil. The
// inventory/environment pair is updated atomically from the caller's view.
// Hook order: target onAdmit veto, then onLeave(prev) and onEnter(new) on
// the mover, with leave/enter mirrors on the two environments.
func (o *Object) MoveTo(target *Object) error {
	if o.destroyed {
		return ErrDestroyed
	}
	if target != nil {
		if target.destroyed {
			return ErrDestroyed
		}
		if target == o || o.contains(target) {
			return ErrMoveCycle
		}
		if target.admit != nil && !target.admit(target, o) {
			return ErrMoveRefused
		}
	}

	prev := o.env
	if prev != nil {
		prev.removeChild(o)
	}
	o.env = target
	if target != nil {
		target.inventory = append(target.inventory, o)
	}

	if err := o.CallHook("onLeave", prev); err != nil {
		return err
	}
	if prev != nil {
		if err := prev.CallHook("onChildLeft", o); err != nil {
			return err
		}
	}
	if err := o.CallHook("onEnter", target); err != nil {
		return err
	}
	if target != nil {
		if err := target.CallHook("onChildEntered", o); err != nil {
			return err
		}
	}
	return nil
}

func (o *Object) removeChild(c *Object) {
	for i, x := range o.inventory {
		if x == c {
			o.inventory = append(o.inventory[:i], o.inventory[i+1:]...)
			return
		}
	}
}

// Destroy detaches the object from its environment, moves its inventory to
// the former environment (or the void), cancels heartbeat, and unregisters
// it. Idempotent; a destroyed object is inert.
func (o *Object) Destroy() {
	if o.destroyed {
		return
	}
	env := o.env
	if env != nil {
		env.removeChild(o)
		o.env = nil
	}
	// Reparent children so destroying a bag does not eat its contents.
	children := o.inventory
	o.inventory = nil
	for _, c := range children {
		c.env = env
		if env != nil {
			env.inventory = append(env.inventory, c)
		}
	}
	o.destroyed = true
	o.heartbeat = false
	o.actions = nil
	o.hooks = nil
	o.admit = nil
	if o.reg != nil {
		o.reg.unregister(o)
	}
}

// Snapshot clones the object's script-visible surface as plain data.
func (o *Object) Snapshot() map[string]any {
	if o.destroyed {
		return nil
	}
	snap := map[string]any{
		"id":    fmt.Sprintf("obj#%d", o.id),
		"path":  o.path,
		"name":  o.Name,
		"short": o.Short,
		"long":  o.Long,
	}
	if o.env != nil {
		snap["env"] = fmt.Sprintf("obj#%d", o.env.id)
	}
	props := make(map[string]any, len(o.Props))
	for k, v := range o.Props {
		props[k] = v
	}
	snap["props"] = props
	inv := make([]any, 0, len(o.inventory))
	for _, c := range o.inventory {
		inv = append(inv, fmt.Sprintf("obj#%d", c.id))
	}
	snap["inventory"] = inv
	return snap
}
