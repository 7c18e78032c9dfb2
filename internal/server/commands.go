package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/jasona/mudforge-sub005/internal/command"
	"github.com/jasona/mudforge-sub005/internal/federation"
	"github.com/jasona/mudforge-sub005/internal/persist"
	"github.com/jasona/mudforge-sub005/internal/world"
)

// registerDaemonCommands installs the commands backed by daemons and the
// federation relays. Builtins come from the command package; everything
// that needs server state lives here.
func (s *Server) registerDaemonCommands() {
	s.dispatcher.Register(&command.Command{
		Name: "chat",
		Help: "chat <text> - talk on the chat channel",
		Run: func(_ *command.Dispatcher, p *world.Player, args string) error {
			if args == "" {
				p.SendLine("Chat what?")
				return nil
			}
			if !s.channels.Member("chat", p.Name) {
				s.channels.Join("chat", p.Name)
			}
			s.channels.Broadcast("chat", p.Name, args)
			for _, a := range s.relays {
				a.Send(federation.Event{Kind: "chat", Payload: map[string]any{
					"from": p.Name,
					"text": args,
				}})
			}
			return nil
		},
	})

	s.dispatcher.Register(&command.Command{
		Name: "channel",
		Help: "channel <join|leave|list> [name] - manage chat channels",
		Run: func(_ *command.Dispatcher, p *world.Player, args string) error {
			verb, rest, _ := strings.Cut(args, " ")
			rest = strings.TrimSpace(rest)
			switch verb {
			case "join":
				if rest == "" {
					p.SendLine("Join which channel?")
					return nil
				}
				s.channels.Join(rest, p.Name)
				p.SendLine("You join " + rest + ".")
			case "leave":
				if rest == "" {
					p.SendLine("Leave which channel?")
					return nil
				}
				s.channels.Leave(rest, p.Name)
				p.SendLine("You leave " + rest + ".")
			case "list", "":
				p.SendLine("Channels: " + strings.Join(s.channels.Names(), ", "))
			default:
				p.SendLine("Usage: channel <join|leave|list> [name]")
			}
			return nil
		},
	})

	s.dispatcher.Register(&command.Command{
		Name: "time",
		Help: "time - show the in-world clock",
		Run: func(_ *command.Dispatcher, p *world.Player, _ string) error {
			gt := s.gametime.Payload()
			daypart := "day"
			if s.gametime.IsNight() {
				daypart = "night"
			}
			p.SendLine(fmt.Sprintf("It is %02d:%02d on day %d. It is %s.",
				gt.Hour, gt.Minute, gt.Day, daypart))
			return nil
		},
	})

	s.dispatcher.Register(&command.Command{
		Name: "announcements",
		Help: "announcements - read the notice board",
		Run: func(_ *command.Dispatcher, p *world.Player, _ string) error {
			items := s.announce.List()
			if len(items) == 0 {
				p.SendLine("The notice board is empty.")
				return nil
			}
			for _, it := range items {
				posted := time.UnixMilli(it.PostedAt).Format("2006-01-02")
				p.SendLine(fmt.Sprintf("[%s] %s - %s (%s)", posted, it.Title, it.Body, it.Author))
			}
			return nil
		},
	})

	s.dispatcher.Register(&command.Command{
		Name:    "announce",
		MinPerm: world.PermAdmin,
		Help:    "announce <title> | <body> - post a notice",
		Run: func(_ *command.Dispatcher, p *world.Player, args string) error {
			title, body, ok := strings.Cut(args, "|")
			title, body = strings.TrimSpace(title), strings.TrimSpace(body)
			if !ok || title == "" || body == "" {
				p.SendLine("Usage: announce <title> | <body>")
				return nil
			}
			s.announce.Post(title, body, p.Name)
			for _, other := range s.binder.Players() {
				other.SendLine("[announcement] " + title + ": " + body)
			}
			return nil
		},
	})

	s.dispatcher.Register(&command.Command{
		Name:    "setperm",
		MinPerm: world.PermAdmin,
		Help:    "setperm <player> <level> - change a permission level",
		Run: func(_ *command.Dispatcher, p *world.Player, args string) error {
			name, level, ok := strings.Cut(args, " ")
			if !ok {
				p.SendLine("Usage: setperm <player> <level>")
				return nil
			}
			lvl := world.ParsePermLevel(strings.TrimSpace(level))
			s.perms.SetLevel(name, lvl)
			if target, ok := s.players[persist.PlayerKey(name)]; ok {
				target.Perm = lvl
				target.SendLine("Your permission level is now " + lvl.String() + ".")
			}
			p.SendLine(fmt.Sprintf("%s is now %s.", name, lvl))
			return nil
		},
	})

	s.dispatcher.Register(&command.Command{
		Name:    "ed",
		MinPerm: world.PermBuilder,
		Help:    "ed <path> - line-edit a world file (. saves, ~q aborts)",
		Run: func(_ *command.Dispatcher, p *world.Player, args string) error {
			if args == "" {
				p.SendLine("Edit which file?")
				return nil
			}
			s.startEditor(p, args)
			return nil
		},
	})
}

// startEditor pushes a line-editor input handler: plain lines append to
// the buffer, "." writes the file through the permission table, "~q"
// abandons the edit.
func (s *Server) startEditor(p *world.Player, path string) {
	if existing, err := s.files.readAs(p.Perm, path); err == nil {
		p.SendLine(fmt.Sprintf("Editing %s (%d bytes). Previous content replaced on save.",
			path, len(existing)))
	} else {
		p.SendLine("Editing new file " + path + ".")
	}
	p.SendLine("Enter lines. '.' saves, '~q' aborts.")

	var buffer []string
	p.PushInputHandler(&world.InputHandler{
		Name: "editor",
		Handle: func(p *world.Player, line string) (bool, error) {
			switch strings.TrimSpace(line) {
			case ".":
				p.PopInputHandler()
				content := strings.Join(buffer, "\n")
				if err := s.files.writeAs(p.Perm, path, content); err != nil {
					p.SendLine("Save failed: " + err.Error())
					return true, nil
				}
				p.SendLine(fmt.Sprintf("Wrote %d lines to %s.", len(buffer), path))
			case "~q":
				p.PopInputHandler()
				p.SendLine("Edit abandoned.")
			default:
				buffer = append(buffer, line)
			}
			return true, nil
		},
	})
}
