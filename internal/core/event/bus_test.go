package event

import "testing"

type testEvent struct{ n int }
type otherEvent struct{ s string }

func TestBusDeliversNextTick(t *testing.T) {
	b := NewBus()
	var got []int
	Subscribe(b, func(ev testEvent) { got = append(got, ev.n) })

	Emit(b, testEvent{1})
	Emit(b, testEvent{2})
	b.DispatchAll()
	if len(got) != 0 {
		t.Fatal("events delivered in the emitting tick")
	}

	b.SwapBuffers()
	b.DispatchAll()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("got %v, want [1 2] in order", got)
	}

	// Delivered events do not repeat.
	b.SwapBuffers()
	b.DispatchAll()
	if len(got) != 2 {
		t.Fatalf("events redelivered: %v", got)
	}
}

func TestBusTypeIsolation(t *testing.T) {
	b := NewBus()
	var nums, strs int
	Subscribe(b, func(testEvent) { nums++ })
	Subscribe(b, func(otherEvent) { strs++ })

	Emit(b, testEvent{1})
	Emit(b, otherEvent{"x"})
	if b.Pending() != 2 {
		t.Fatalf("pending = %d, want 2", b.Pending())
	}
	b.SwapBuffers()
	b.DispatchAll()
	if nums != 1 || strs != 1 {
		t.Fatalf("nums=%d strs=%d, want 1/1", nums, strs)
	}
}
