package world

import (
	"testing"

	"go.uber.org/zap"
)

type mapSource map[string]*Blueprint

func (m mapSource) Blueprint(path string) (*Blueprint, bool) {
	bp, ok := m[path]
	return bp, ok
}

func newTestRegistry(src BlueprintSource) *Registry {
	return NewRegistry(src, zap.NewNop())
}

// checkDuality asserts env/inventory agree in both directions.
func checkDuality(t *testing.T, objs ...*Object) {
	t.Helper()
	for _, o := range objs {
		if o.Destroyed() {
			continue
		}
		if p := o.Env(); p != nil {
			found := false
			for _, c := range p.Inventory() {
				if c == o {
					found = true
				}
			}
			if !found {
				t.Errorf("%s has env %s but is not in its inventory", o.Name, p.Name)
			}
		}
		for _, c := range o.Inventory() {
			if c.Env() != o {
				t.Errorf("%s holds %s but its env points elsewhere", o.Name, c.Name)
			}
		}
	}
}

func TestMoveToDuality(t *testing.T) {
	r := newTestRegistry(nil)
	room := r.NewObject("meadow")
	bag := r.NewObject("bag")
	coin := r.NewObject("coin")

	for _, step := range []struct{ obj, dest *Object }{
		{bag, room},
		{coin, room},
		{coin, bag},
		{bag, nil},
		{bag, room},
	} {
		if err := step.obj.MoveTo(step.dest); err != nil {
			t.Fatalf("move %s: %v", step.obj.Name, err)
		}
		checkDuality(t, room, bag, coin)
	}
	if coin.Env() != bag {
		t.Fatalf("coin env = %v, want bag", coin.Env())
	}
}

func TestMoveToCycleRefused(t *testing.T) {
	r := newTestRegistry(nil)
	room := r.NewObject("room")
	a := r.NewObject("crate")
	b := r.NewObject("box")

	if err := a.MoveTo(room); err != nil {
		t.Fatal(err)
	}
	if err := b.MoveTo(a); err != nil {
		t.Fatal(err)
	}

	if err := a.MoveTo(a); err != ErrMoveCycle {
		t.Fatalf("self-move err = %v, want ErrMoveCycle", err)
	}
	if err := a.MoveTo(b); err != ErrMoveCycle {
		t.Fatalf("descendant-move err = %v, want ErrMoveCycle", err)
	}
	if a.Env() != room {
		t.Fatal("failed move changed the environment")
	}
	checkDuality(t, room, a, b)
}

func TestMoveToAdmitVeto(t *testing.T) {
	r := newTestRegistry(nil)
	vault := r.NewObject("vault")
	vault.SetAdmit(func(self, mover *Object) bool { return false })
	gem := r.NewObject("gem")

	if err := gem.MoveTo(vault); err != ErrMoveRefused {
		t.Fatalf("err = %v, want ErrMoveRefused", err)
	}
	if gem.Env() != nil {
		t.Fatal("vetoed move still attached the object")
	}
}

func TestMoveToHookOrder(t *testing.T) {
	r := newTestRegistry(nil)
	from := r.NewObject("from")
	to := r.NewObject("to")
	mover := r.NewObject("mover")
	if err := mover.MoveTo(from); err != nil {
		t.Fatal(err)
	}

	var calls []string
	mover.SetHook("onLeave", func(self *Object, args ...any) error {
		calls = append(calls, "leave")
		return nil
	})
	mover.SetHook("onEnter", func(self *Object, args ...any) error {
		calls = append(calls, "enter")
		return nil
	})
	from.SetHook("onChildLeft", func(self *Object, args ...any) error {
		calls = append(calls, "childLeft")
		return nil
	})
	to.SetHook("onChildEntered", func(self *Object, args ...any) error {
		calls = append(calls, "childEntered")
		return nil
	})

	if err := mover.MoveTo(to); err != nil {
		t.Fatal(err)
	}
	want := []string{"leave", "childLeft", "enter", "childEntered"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
	}
}

func TestIdMatching(t *testing.T) {
	r := newTestRegistry(nil)
	o := r.NewObject("Rusty Sword")
	o.AddAlias("sword")
	o.AddAlias("blade")

	for _, name := range []string{"rusty sword", "RUSTY SWORD", "Sword", "blade"} {
		if !o.Id(name) {
			t.Errorf("Id(%q) = false, want true", name)
		}
	}
	if o.Id("axe") || o.Id("") {
		t.Error("Id matched a non-name")
	}
}

func TestDestroyIdempotentAndInert(t *testing.T) {
	r := newTestRegistry(nil)
	room := r.NewObject("room")
	chest := r.NewObject("chest")
	coin := r.NewObject("coin")
	if err := chest.MoveTo(room); err != nil {
		t.Fatal(err)
	}
	if err := coin.MoveTo(chest); err != nil {
		t.Fatal(err)
	}

	before := r.Count()
	chest.Destroy()
	chest.Destroy()
	if r.Count() != before-1 {
		t.Fatalf("count = %d, want %d", r.Count(), before-1)
	}

	// Inventory reparents to the former environment.
	if coin.Env() != room {
		t.Fatalf("coin env = %v, want room", coin.Env())
	}
	checkDuality(t, room, coin)

	// Destroyed references are inert.
	if chest.Env() != nil || chest.Inventory() != nil || chest.Id("chest") {
		t.Error("destroyed object still answers queries")
	}
	if err := coin.MoveTo(chest); err != ErrDestroyed {
		t.Fatalf("move into destroyed err = %v, want ErrDestroyed", err)
	}
}

func TestRegistryLoadAndClone(t *testing.T) {
	src := mapSource{
		"/domains/town/square": {
			Path:  "/domains/town/square",
			Name:  "town square",
			Short: "the town square",
		},
		"/obj/torch": {
			Path:    "/obj/torch",
			Name:    "torch",
			Aliases: []string{"light"},
			Props:   map[string]any{"lit": false},
		},
	}
	r := newTestRegistry(src)

	room, err := r.LoadObject("/domains/town/square")
	if err != nil {
		t.Fatal(err)
	}
	again, err := r.LoadObject("/domains/town/square")
	if err != nil {
		t.Fatal(err)
	}
	if room != again {
		t.Fatal("LoadObject did not return the singleton")
	}
	if r.FindObject("/domains/town/square") != room {
		t.Fatal("FindObject missed the loaded singleton")
	}

	t1, err := r.CloneObject("/obj/torch")
	if err != nil {
		t.Fatal(err)
	}
	t2, err := r.CloneObject("/obj/torch")
	if err != nil {
		t.Fatal(err)
	}
	if t1 == t2 {
		t.Fatal("CloneObject returned the same instance twice")
	}
	if !t1.Id("light") {
		t.Fatal("clone lost blueprint aliases")
	}
	// Clone props are independent copies.
	t1.Props["lit"] = true
	if t2.Props["lit"] != false {
		t.Fatal("clones share a property bag")
	}

	if _, err := r.LoadObject("/no/such"); err == nil {
		t.Fatal("expected error for unknown blueprint")
	}
}

func TestRegistryLookup(t *testing.T) {
	src := mapSource{
		"/domains/keep/gate": {Path: "/domains/keep/gate", Name: "keep gate"},
	}
	r := newTestRegistry(src)
	gate, err := r.LoadObject("/domains/keep/gate")
	if err != nil {
		t.Fatal(err)
	}

	if o, ok := r.Lookup("/domains/keep/gate"); !ok || o != gate {
		t.Fatal("path lookup failed")
	}
	if o, ok := r.Lookup("keep gate"); !ok || o != gate {
		t.Fatal("name lookup failed")
	}
	if o, ok := r.Lookup("obj#1"); !ok || o != gate {
		t.Fatal("id lookup failed")
	}
	if _, ok := r.Lookup("obj#999"); ok {
		t.Fatal("lookup matched a missing id")
	}
	gate.Destroy()
	if _, ok := r.Lookup("keep gate"); ok {
		t.Fatal("lookup matched a destroyed object")
	}
}
