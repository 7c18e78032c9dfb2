// Package command parses player input and routes it: input-handler stack
// first, then player verbs, room verbs, object actions in scope, and the
// global table gated by permission level.
package command

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/jasona/mudforge-sub005/internal/world"
)

// Command is a global table entry.
type Command struct {
	Name    string
	Aliases []string
	MinPerm world.PermLevel
	Help    string
	Run     func(d *Dispatcher, p *world.Player, args string) error
}

// Dispatcher owns the global command table. Runs on the game loop
// goroutine; one command per player is in flight at a time, enforced by
// the session binder's input queue.
type Dispatcher struct {
	log *zap.Logger
	reg *world.Registry

	global map[string]*Command
	busy   map[*world.Player]bool
}

func NewDispatcher(reg *world.Registry, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		log:    log,
		reg:    reg,
		global: map[string]*Command{},
		busy:   map[*world.Player]bool{},
	}
}

// Register adds a command and its aliases to the global table. Duplicate
// names panic at startup, never at runtime.
func (d *Dispatcher) Register(c *Command) {
	for _, name := range append([]string{c.Name}, c.Aliases...) {
		key := strings.ToLower(name)
		if _, dup := d.global[key]; dup {
			panic(fmt.Sprintf("command: duplicate verb %q", key))
		}
		d.global[key] = c
	}
}

// Commands lists the table entries visible at the given level, sorted by
// name, without alias duplicates.
func (d *Dispatcher) Commands(level world.PermLevel) []*Command {
	seen := map[*Command]struct{}{}
	var out []*Command
	for _, c := range d.global {
		if c.MinPerm > level {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Busy reports whether the player has a command in flight.
func (d *Dispatcher) Busy(p *world.Player) bool { return d.busy[p] }

// Dispatch processes one input line for a player. Handler failures are
// contained: the player sees one error line and stays connected.
func (d *Dispatcher) Dispatch(p *world.Player, line string) {
	d.busy[p] = true
	defer delete(d.busy, p)

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("command panic",
				zap.String("player", p.Name),
				zap.String("input", line),
				zap.Any("panic", r),
				zap.Stack("stack"))
			p.SendLine(fmt.Sprintf("Error: %v", r))
		}
	}()

	if err := d.dispatch(p, line); err != nil {
		d.log.Warn("command error",
			zap.String("player", p.Name),
			zap.String("input", line),
			zap.Error(err))
		p.SendLine("Error: " + err.Error())
	}

	if p.PromptOn && p.TopInputHandler() == nil {
		p.SendLine(p.Prompt)
	}
}

func (d *Dispatcher) dispatch(p *world.Player, line string) error {
	// Pushed input handlers get the raw line ahead of parsing.
	if h := p.TopInputHandler(); h != nil {
		consumed, err := h.Handle(p, line)
		if err != nil {
			return err
		}
		if consumed {
			return nil
		}
	}

	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	verb, args, _ := strings.Cut(line, " ")
	verb = strings.ToLower(verb)
	args = strings.TrimSpace(args)

	// Player-bound verbs.
	if fn, ok := p.VerbFor(verb); ok {
		return fn(p.Object, p.Object, args)
	}

	// Room verbs.
	if env := p.Env(); env != nil {
		if fn, ok := env.ActionFor(verb); ok {
			return fn(env, p.Object, args)
		}
	}

	// Object actions in scope: inventory, then environment's inventory.
	for _, o := range scopeObjects(p) {
		if fn, ok := o.ActionFor(verb); ok {
			return fn(o, p.Object, args)
		}
	}

	// Global table, permission-gated. Commands above the player's level
	// do not exist from its point of view.
	if c, ok := d.global[verb]; ok {
		if c.MinPerm > p.Perm {
			p.SendLine("What?")
			return nil
		}
		return c.Run(d, p, args)
	}

	p.SendLine("What?")
	return nil
}

// scopeObjects returns the id-matching scope: player inventory followed by
// the environment's inventory, player excluded.
func scopeObjects(p *world.Player) []*world.Object {
	var out []*world.Object
	out = append(out, p.Inventory()...)
	if env := p.Env(); env != nil {
		for _, o := range env.Inventory() {
			if o != p.Object {
				out = append(out, o)
			}
		}
	}
	return out
}
