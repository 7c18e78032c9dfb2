package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/jasona/mudforge-sub005/internal/world"
)

// Deps are the runtime services builtins reach out to. The lifecycle
// controller fills these in at boot.
type Deps struct {
	Who      func() []*world.Player
	Quit     func(p *world.Player)
	Shutdown func(reason string)
	Eval     func(p *world.Player, code string)
}

// RegisterBuiltins installs the core command set.
func RegisterBuiltins(d *Dispatcher, deps Deps) {
	d.Register(&Command{
		Name:    "look",
		Aliases: []string{"l"},
		Help:    "look [target] - describe the room or a target",
		Run: func(d *Dispatcher, p *world.Player, args string) error {
			return cmdLook(p, args)
		},
	})
	d.Register(&Command{
		Name:    "say",
		Aliases: []string{"'"},
		Help:    "say <text> - speak to the room",
		Run: func(d *Dispatcher, p *world.Player, args string) error {
			if args == "" {
				p.SendLine("Say what?")
				return nil
			}
			p.SendLine(fmt.Sprintf("You say: %s", args))
			broadcast(p, fmt.Sprintf("%s says: %s", p.Name, args))
			return nil
		},
	})
	d.Register(&Command{
		Name:    "emote",
		Aliases: []string{":"},
		Help:    "emote <action> - act out something",
		Run: func(d *Dispatcher, p *world.Player, args string) error {
			if args == "" {
				p.SendLine("Emote what?")
				return nil
			}
			line := fmt.Sprintf("%s %s", p.Name, args)
			p.SendLine(line)
			broadcast(p, line)
			return nil
		},
	})
	d.Register(&Command{
		Name: "who",
		Help: "who - list connected players",
		Run: func(d *Dispatcher, p *world.Player, args string) error {
			players := deps.Who()
			p.SendLine(fmt.Sprintf("%d player(s) online:", len(players)))
			for _, w := range players {
				tag := ""
				if w.Perm > world.PermPlayer {
					tag = " (" + w.Perm.String() + ")"
				}
				p.SendLine("  " + w.Name + tag)
			}
			return nil
		},
	})
	d.Register(&Command{
		Name: "monitor",
		Help: "monitor - toggle the heartbeat stats stream",
		Run: func(d *Dispatcher, p *world.Player, args string) error {
			p.Monitor = !p.Monitor
			if p.Monitor {
				p.SendLine("Monitor on.")
			} else {
				p.SendLine("Monitor off.")
			}
			return nil
		},
	})
	d.Register(&Command{
		Name: "quit",
		Help: "quit - save and leave the game",
		Run: func(d *Dispatcher, p *world.Player, args string) error {
			p.SendLine("Goodbye.")
			deps.Quit(p)
			return nil
		},
	})
	d.Register(&Command{
		Name:    "shutdown",
		MinPerm: world.PermAdmin,
		Help:    "shutdown [reason] - stop the server gracefully",
		Run: func(d *Dispatcher, p *world.Player, args string) error {
			reason := args
			if reason == "" {
				reason = "admin shutdown"
			}
			p.SendLine("Shutting down: " + reason)
			deps.Shutdown(reason)
			return nil
		},
	})
	d.Register(&Command{
		Name:    "eval",
		MinPerm: world.PermAdmin,
		Help:    "eval <code> - run a script and print its result",
		Run: func(d *Dispatcher, p *world.Player, args string) error {
			if args == "" {
				p.SendLine("Eval what?")
				return nil
			}
			deps.Eval(p, args)
			return nil
		},
	})
	d.Register(&Command{
		Name:    "commands",
		Aliases: []string{"help"},
		Help:    "commands - list commands available to you",
		Run: func(d *Dispatcher, p *world.Player, args string) error {
			for _, c := range d.Commands(p.Perm) {
				p.SendLine(c.Help)
			}
			return nil
		},
	})
	d.Register(&Command{
		Name: "uptime",
		Help: "uptime - server time",
		Run: func(d *Dispatcher, p *world.Player, args string) error {
			p.SendLine("Server time: " + time.Now().UTC().Format(time.RFC3339))
			return nil
		},
	})
}

func cmdLook(p *world.Player, args string) error {
	if args != "" {
		target, msg := ResolveOne(p, args)
		if msg != "" {
			p.SendLine(msg)
			return nil
		}
		desc := target.Long
		if desc == "" {
			desc = "You see nothing special about " + target.Name + "."
		}
		p.SendLine(desc)
		return nil
	}

	env := p.Env()
	if env == nil {
		p.SendLine("You float in a featureless void.")
		return nil
	}
	p.SendLine(strings.TrimSpace(env.Short + "\n" + env.Long))
	for _, o := range env.Inventory() {
		if o == p.Object {
			continue
		}
		short := o.Short
		if short == "" {
			short = o.Name
		}
		p.SendLine("  " + short)
	}
	return nil
}

// broadcast sends a line to every other player in the room.
func broadcast(p *world.Player, line string) {
	env := p.Env()
	if env == nil {
		return
	}
	for _, o := range env.Inventory() {
		other, ok := o.AsPlayer()
		if !ok || other == p {
			continue
		}
		other.SendLine(line)
	}
}
