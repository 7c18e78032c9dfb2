package command

import (
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/jasona/mudforge-sub005/internal/world"
)

type lineSink struct {
	lines []string
}

func (s *lineSink) SendLine(line string) error {
	s.lines = append(s.lines, line)
	return nil
}

func (s *lineSink) SendFrame(frameType string, payload any) error { return nil }

func (s *lineSink) last() string {
	if len(s.lines) == 0 {
		return ""
	}
	return s.lines[len(s.lines)-1]
}

func (s *lineSink) contains(sub string) bool {
	for _, l := range s.lines {
		if strings.Contains(l, sub) {
			return true
		}
	}
	return false
}

func setup(t *testing.T) (*Dispatcher, *world.Registry, *world.Player, *lineSink) {
	t.Helper()
	reg := world.NewRegistry(nil, zap.NewNop())
	d := NewDispatcher(reg, zap.NewNop())
	p := reg.NewPlayer("alice")
	p.PromptOn = false
	sink := &lineSink{}
	p.SetConn(sink)
	room := reg.NewObject("clearing")
	room.Short = "A forest clearing"
	if err := p.MoveTo(room); err != nil {
		t.Fatal(err)
	}
	return d, reg, p, sink
}

func TestDispatchUnknownVerb(t *testing.T) {
	d, _, p, sink := setup(t)
	d.Dispatch(p, "frobnicate")
	if sink.last() != "What?" {
		t.Fatalf("got %q, want What?", sink.last())
	}
}

func TestDispatchPermissionInvisible(t *testing.T) {
	d, _, p, sink := setup(t)
	called := false
	d.Register(&Command{
		Name:    "shutdown",
		MinPerm: world.PermAdmin,
		Run: func(d *Dispatcher, p *world.Player, args string) error {
			called = true
			return nil
		},
	})

	d.Dispatch(p, "shutdown now")
	if called {
		t.Fatal("player-level input reached an admin command")
	}
	if sink.last() != "What?" {
		t.Fatalf("got %q, want What? (command invisible below level)", sink.last())
	}

	p.Perm = world.PermAdmin
	d.Dispatch(p, "shutdown now")
	if !called {
		t.Fatal("admin could not run admin command")
	}
}

func TestDispatchLookupOrder(t *testing.T) {
	d, reg, p, sink := setup(t)
	d.Register(&Command{
		Name: "pull",
		Run: func(d *Dispatcher, p *world.Player, args string) error {
			p.SendLine("global pull")
			return nil
		},
	})
	lever := reg.NewObject("lever")
	lever.BindAction("pull", func(self, actor *world.Object, args string) error {
		if pl, ok := actor.AsPlayer(); ok {
			pl.SendLine("object pull")
		}
		return nil
	})
	if err := lever.MoveTo(p.Env()); err != nil {
		t.Fatal(err)
	}

	// Object action shadows the global command.
	d.Dispatch(p, "pull lever")
	if sink.last() != "object pull" {
		t.Fatalf("got %q, want object pull", sink.last())
	}

	// Player-bound verbs shadow object actions.
	p.BindVerb("pull", func(self, actor *world.Object, args string) error {
		if pl, ok := actor.AsPlayer(); ok {
			pl.SendLine("player pull")
		}
		return nil
	})
	d.Dispatch(p, "pull lever")
	if sink.last() != "player pull" {
		t.Fatalf("got %q, want player pull", sink.last())
	}

	lever.Destroy()
	p.BindVerb("pull", nil)
	d.Dispatch(p, "pull")
	if sink.last() != "global pull" {
		t.Fatalf("got %q, want global pull", sink.last())
	}
}

func TestDispatchHandlerErrorContained(t *testing.T) {
	d, _, p, sink := setup(t)
	d.Register(&Command{
		Name: "break",
		Run: func(d *Dispatcher, p *world.Player, args string) error {
			return errors.New("snapped")
		},
	})
	d.Register(&Command{
		Name: "explode",
		Run: func(d *Dispatcher, p *world.Player, args string) error {
			panic("boom")
		},
	})

	d.Dispatch(p, "break")
	if sink.last() != "Error: snapped" {
		t.Fatalf("got %q", sink.last())
	}
	d.Dispatch(p, "explode")
	if sink.last() != "Error: boom" {
		t.Fatalf("got %q", sink.last())
	}
	// Still dispatchable afterwards.
	d.Dispatch(p, "nothing")
	if sink.last() != "What?" {
		t.Fatalf("dispatcher wedged after handler failure: %q", sink.last())
	}
}

func TestInputHandlerStack(t *testing.T) {
	d, _, p, sink := setup(t)

	var got []string
	p.PushInputHandler(&world.InputHandler{
		Name: "confirm",
		Handle: func(p *world.Player, line string) (bool, error) {
			if line == "pass" {
				return false, nil
			}
			got = append(got, line)
			if line == "done" {
				p.PopInputHandler()
			}
			return true, nil
		},
	})

	d.Dispatch(p, "anything at all")
	d.Dispatch(p, "done")
	if len(got) != 2 || got[0] != "anything at all" {
		t.Fatalf("handler saw %v", got)
	}

	// Stack popped; parsing resumes.
	d.Dispatch(p, "zzz")
	if sink.last() != "What?" {
		t.Fatalf("got %q after pop, want What?", sink.last())
	}
}

func TestInputHandlerPassthrough(t *testing.T) {
	d, _, p, sink := setup(t)
	p.PushInputHandler(&world.InputHandler{
		Name:   "transparent",
		Handle: func(p *world.Player, line string) (bool, error) { return false, nil },
	})
	d.Dispatch(p, "gibberish")
	if sink.last() != "What?" {
		t.Fatalf("passthrough line was not parsed: %q", sink.last())
	}
}

func TestPromptAfterCommand(t *testing.T) {
	d, _, p, sink := setup(t)
	p.PromptOn = true
	p.Prompt = "> "
	d.Dispatch(p, "bogus")
	if sink.last() != "> " {
		t.Fatalf("got %q, want prompt", sink.last())
	}
}

func TestResolveTargetIndexed(t *testing.T) {
	_, reg, p, _ := setup(t)
	room := p.Env()
	var deer []*world.NPC
	for i := 0; i < 3; i++ {
		n := reg.NewNPC("deer")
		if err := n.MoveTo(room); err != nil {
			t.Fatal(err)
		}
		deer = append(deer, n)
	}

	objs, msg := ResolveTarget(p, "deer 2")
	if msg != "" || len(objs) != 1 {
		t.Fatalf("deer 2 -> %v %q", objs, msg)
	}
	if objs[0] != deer[1].Object {
		t.Fatal("deer 2 did not select the second match")
	}

	_, msg = ResolveTarget(p, "deer 5")
	if msg != "There are only 3 deer here." {
		t.Fatalf("deer 5 msg = %q", msg)
	}

	objs, msg = ResolveTarget(p, "all deer")
	if msg != "" || len(objs) != 3 {
		t.Fatalf("all deer -> %d %q", len(objs), msg)
	}

	_, msg = ResolveTarget(p, "wolf")
	if msg != "There is no wolf here." {
		t.Fatalf("wolf msg = %q", msg)
	}
}

func TestResolveTargetKeywords(t *testing.T) {
	_, _, p, _ := setup(t)

	for _, kw := range []string{"me", "self", "MYSELF"} {
		objs, msg := ResolveTarget(p, kw)
		if msg != "" || len(objs) != 1 || objs[0] != p.Object {
			t.Fatalf("%s -> %v %q", kw, objs, msg)
		}
	}
	objs, msg := ResolveTarget(p, "here")
	if msg != "" || objs[0] != p.Env() {
		t.Fatalf("here -> %v %q", objs, msg)
	}
}

func TestBuiltinLookAndSay(t *testing.T) {
	d, reg, p, sink := setup(t)
	RegisterBuiltins(d, Deps{
		Who: func() []*world.Player { return []*world.Player{p} },
	})

	d.Dispatch(p, "look")
	if !sink.contains("A forest clearing") {
		t.Fatalf("look output missing room short: %v", sink.lines)
	}

	other := reg.NewPlayer("bob")
	otherSink := &lineSink{}
	other.SetConn(otherSink)
	if err := other.MoveTo(p.Env()); err != nil {
		t.Fatal(err)
	}

	d.Dispatch(p, "say hello there")
	if !sink.contains("You say: hello there") {
		t.Fatalf("speaker feedback missing: %v", sink.lines)
	}
	if !otherSink.contains("alice says: hello there") {
		t.Fatalf("room broadcast missing: %v", otherSink.lines)
	}

	d.Dispatch(p, "who")
	if !sink.contains("1 player(s) online:") || !sink.contains("  alice") {
		t.Fatalf("who output: %v", sink.lines)
	}
}
