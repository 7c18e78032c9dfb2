package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// WorldBridge is the narrow view of the object graph that scripts may
// touch. All values cross as clones; scripts never hold host references.
type WorldBridge interface {
	FindObject(spec string) (map[string]any, bool)
	CloneObject(path string) (map[string]any, error)
	Destruct(id string) error
	SendLine(playerID, line string) error
}

// FileBridge mediates script file access. Implementations enforce the
// permission table before touching storage.
type FileBridge interface {
	ReadFile(path string) (string, error)
	WriteFile(path, content string) error
}

// AIClient generates text for scripted NPCs. Calls are synchronous from
// the script's point of view and bounded by the script's own timeout.
type AIClient interface {
	Generate(ctx context.Context, prompt string, opts map[string]any) (string, error)
}

// HostRegistry holds the allow-listed functions exposed to every isolate.
// Nothing outside this set is reachable from a script.
type HostRegistry struct {
	world WorldBridge
	files FileBridge
	ai    AIClient
	log   *zap.Logger
}

func NewHostRegistry(world WorldBridge, files FileBridge, ai AIClient, log *zap.Logger) *HostRegistry {
	return &HostRegistry{world: world, files: files, ai: ai, log: log}
}

// NormalizePath collapses "." and ".." segments and forces a leading
// slash, so permission checks and storage keys see one canonical form.
// Escapes above the root are rejected.
func NormalizePath(p string) (string, error) {
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, seg := range parts {
		switch seg {
		case "", ".":
		case "..":
			if len(out) == 0 {
				return "", fmt.Errorf("path escapes root: %s", p)
			}
			out = out[:len(out)-1]
		default:
			out = append(out, seg)
		}
	}
	return "/" + strings.Join(out, "/"), nil
}

// install binds the registry into a fresh VM under the `mud` table plus
// a bare `log`. Called once per isolate build; never re-entered.
func (h *HostRegistry) install(vm *lua.LState) {
	mud := vm.NewTable()

	vm.SetField(mud, "time", vm.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(time.Now().UnixMilli()))
		return 1
	}))

	vm.SetField(mud, "log", vm.NewFunction(func(L *lua.LState) int {
		msg := L.CheckString(1)
		h.log.Info("script log", zap.String("message", msg))
		return 0
	}))

	vm.SetField(mud, "file_read", vm.NewFunction(func(L *lua.LState) int {
		if h.files == nil {
			L.RaiseError("file access unavailable")
			return 0
		}
		path, err := NormalizePath(L.CheckString(1))
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		content, err := h.files.ReadFile(path)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LString(content))
		return 1
	}))

	vm.SetField(mud, "file_write", vm.NewFunction(func(L *lua.LState) int {
		if h.files == nil {
			L.RaiseError("file access unavailable")
			return 0
		}
		path, err := NormalizePath(L.CheckString(1))
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		if err := h.files.WriteFile(path, L.CheckString(2)); err != nil {
			L.Push(lua.LFalse)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LTrue)
		return 1
	}))

	vm.SetField(mud, "find_object", vm.NewFunction(func(L *lua.LState) int {
		if h.world == nil {
			L.Push(lua.LNil)
			return 1
		}
		snap, ok := h.world.FindObject(L.CheckString(1))
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(goToLua(L, map[string]any(snap)))
		return 1
	}))

	vm.SetField(mud, "clone_object", vm.NewFunction(func(L *lua.LState) int {
		if h.world == nil {
			L.RaiseError("world unavailable")
			return 0
		}
		snap, err := h.world.CloneObject(L.CheckString(1))
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(goToLua(L, map[string]any(snap)))
		return 1
	}))

	vm.SetField(mud, "destruct", vm.NewFunction(func(L *lua.LState) int {
		if h.world == nil {
			L.RaiseError("world unavailable")
			return 0
		}
		if err := h.world.Destruct(L.CheckString(1)); err != nil {
			L.Push(lua.LFalse)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LTrue)
		return 1
	}))

	vm.SetField(mud, "send_line", vm.NewFunction(func(L *lua.LState) int {
		if h.world == nil {
			L.RaiseError("world unavailable")
			return 0
		}
		if err := h.world.SendLine(L.CheckString(1), L.CheckString(2)); err != nil {
			L.Push(lua.LFalse)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LTrue)
		return 1
	}))

	vm.SetField(mud, "ai_generate", vm.NewFunction(func(L *lua.LState) int {
		if h.ai == nil {
			L.Push(lua.LNil)
			L.Push(lua.LString("ai unavailable"))
			return 2
		}
		prompt := L.CheckString(1)
		var opts map[string]any
		if L.GetTop() >= 2 {
			if m, ok := luaToGo(L.CheckTable(2), 0).(map[string]any); ok {
				opts = m
			}
		}
		// Shares the script's execution context, so the wall-clock
		// timeout covers the generation call too.
		ctx := L.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		text, err := h.ai.Generate(ctx, prompt, opts)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				L.RaiseError("ai generation timed out")
				return 0
			}
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LString(text))
		return 1
	}))

	vm.SetGlobal("mud", mud)
	vm.SetGlobal("log", mud.RawGetString("log"))
}
