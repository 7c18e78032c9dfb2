package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type stubWorld struct {
	sent    []string
	destroy []string
}

func (w *stubWorld) FindObject(spec string) (map[string]any, bool) {
	if spec == "/domains/town/square" {
		return map[string]any{"id": "room#1", "name": "town square"}, true
	}
	return nil, false
}

func (w *stubWorld) CloneObject(path string) (map[string]any, error) {
	return map[string]any{"id": "obj#2", "path": path}, nil
}

func (w *stubWorld) Destruct(id string) error {
	w.destroy = append(w.destroy, id)
	return nil
}

func (w *stubWorld) SendLine(playerID, line string) error {
	w.sent = append(w.sent, playerID+": "+line)
	return nil
}

type stubAI struct{ reply string }

func (a *stubAI) Generate(ctx context.Context, prompt string, opts map[string]any) (string, error) {
	if a.reply == "" {
		return "", errors.New("no model")
	}
	return a.reply, nil
}

func newTestRunner(t *testing.T, world WorldBridge, ai AIClient) *Runner {
	t.Helper()
	hosts := NewHostRegistry(world, nil, ai, zap.NewNop())
	pool := NewPool(2, 16, hosts, zap.NewNop())
	t.Cleanup(pool.Dispose)
	return NewRunner(pool, time.Second, zap.NewNop())
}

func TestRunReturnsValue(t *testing.T) {
	r := newTestRunner(t, nil, nil)

	res := r.Run(context.Background(), `return 6 * 7`, 0)
	if res.Err != nil {
		t.Fatalf("run: %v", res.Err)
	}
	if got, ok := res.Value.(float64); !ok || got != 42 {
		t.Fatalf("value = %v, want 42", res.Value)
	}
	if res.ExecutionTime <= 0 {
		t.Fatal("execution time not recorded")
	}
}

func TestRunTableBecomesMap(t *testing.T) {
	r := newTestRunner(t, nil, nil)

	res := r.Run(context.Background(), `return {name = "sword", weight = 3, tags = {"sharp", "metal"}}`, 0)
	if res.Err != nil {
		t.Fatalf("run: %v", res.Err)
	}
	m, ok := res.Value.(map[string]any)
	if !ok {
		t.Fatalf("value = %T, want map", res.Value)
	}
	if m["name"] != "sword" || m["weight"] != float64(3) {
		t.Fatalf("map = %v", m)
	}
	tags, ok := m["tags"].([]any)
	if !ok || len(tags) != 2 || tags[0] != "sharp" {
		t.Fatalf("tags = %v", m["tags"])
	}
}

func TestRunCompileError(t *testing.T) {
	r := newTestRunner(t, nil, nil)

	res := r.Run(context.Background(), "local x = 1\nlocal = broken", 0)
	if res.Err == nil {
		t.Fatal("expected compile error")
	}
	if res.Err.Kind != KindCompile {
		t.Fatalf("kind = %s, want %s", res.Err.Kind, KindCompile)
	}
	if res.Err.Line != 2 {
		t.Fatalf("line = %d, want 2", res.Err.Line)
	}
}

func TestRunRuntimeError(t *testing.T) {
	r := newTestRunner(t, nil, nil)

	res := r.Run(context.Background(), `error("boom")`, 0)
	if res.Err == nil || res.Err.Kind != KindRuntime {
		t.Fatalf("err = %v, want runtime error", res.Err)
	}
}

func TestRunTimeout(t *testing.T) {
	r := newTestRunner(t, nil, nil)

	start := time.Now()
	res := r.Run(context.Background(), `while true do end`, 50*time.Millisecond)
	if res.Err == nil || res.Err.Kind != KindTimeout {
		t.Fatalf("err = %v, want timeout error", res.Err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("timeout not enforced promptly")
	}

	// The pool must still serve fresh work after the forced termination.
	res = r.Run(context.Background(), `return 1`, 0)
	if res.Err != nil {
		t.Fatalf("run after timeout: %v", res.Err)
	}
}

func TestRunModuleExportedFunction(t *testing.T) {
	r := newTestRunner(t, nil, nil)

	code := `
local M = {}
function M.greet(who)
  return "hello, " .. who
end
return M`
	res := r.RunModule(context.Background(), code, "greet", []any{"pilgrim"}, 0)
	if res.Err != nil {
		t.Fatalf("run module: %v", res.Err)
	}
	if res.Value != "hello, pilgrim" {
		t.Fatalf("value = %v", res.Value)
	}
}

func TestRunModuleGlobalFallback(t *testing.T) {
	r := newTestRunner(t, nil, nil)

	res := r.RunModule(context.Background(), `function twice(n) return n * 2 end`, "twice", []any{21}, 0)
	if res.Err != nil {
		t.Fatalf("run module: %v", res.Err)
	}
	if res.Value != float64(42) {
		t.Fatalf("value = %v, want 42", res.Value)
	}
}

func TestRunModuleMissingExport(t *testing.T) {
	r := newTestRunner(t, nil, nil)

	res := r.RunModule(context.Background(), `return {}`, "nope", nil, 0)
	if res.Err == nil || res.Err.Kind != KindRuntime {
		t.Fatalf("err = %v, want runtime error for missing export", res.Err)
	}
}

func TestHostFunctions(t *testing.T) {
	world := &stubWorld{}
	r := newTestRunner(t, world, &stubAI{reply: "a dusty road"})

	code := `
local room = mud.find_object("/domains/town/square")
assert(room.name == "town square")
assert(mud.find_object("/nowhere") == nil)
local obj = mud.clone_object("/obj/torch")
assert(obj.path == "/obj/torch")
mud.destruct(obj.id)
mud.send_line("player#1", "you see " .. mud.ai_generate("describe"))
return mud.time()`
	res := r.Run(context.Background(), code, 0)
	if res.Err != nil {
		t.Fatalf("run: %v", res.Err)
	}
	if ts, ok := res.Value.(float64); !ok || ts <= 0 {
		t.Fatalf("mud.time() = %v", res.Value)
	}
	if len(world.destroy) != 1 || world.destroy[0] != "obj#2" {
		t.Fatalf("destruct calls = %v", world.destroy)
	}
	if len(world.sent) != 1 || world.sent[0] != "player#1: you see a dusty road" {
		t.Fatalf("sent = %v", world.sent)
	}
}

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"/domains/town/square.lua", "/domains/town/square.lua", false},
		{"domains//town/./square.lua", "/domains/town/square.lua", false},
		{"/domains/town/../keep/gate.lua", "/domains/keep/gate.lua", false},
		{"/../etc/passwd", "", true},
		{"..", "", true},
	}
	for _, tc := range cases {
		got, err := NormalizePath(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("NormalizePath(%q) = %q, want error", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizePath(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
