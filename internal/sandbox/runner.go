package sandbox

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// ErrorKind classifies script failures.
type ErrorKind string

const (
	KindCompile ErrorKind = "compile_error"
	KindTimeout ErrorKind = "timeout_error"
	KindMemory  ErrorKind = "memory_error"
	KindRuntime ErrorKind = "runtime_error"
)

// ScriptError is the typed failure surfaced by Run.
type ScriptError struct {
	Kind    ErrorKind
	Message string
	Line    int    // compile errors
	Column  int    // compile errors (0 when unknown)
	Stack   string // runtime errors
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Result is the outcome of one script execution.
type Result struct {
	Success       bool
	Value         any
	Err           *ScriptError
	ExecutionTime time.Duration
}

// Runner compiles and executes content scripts on pooled isolates.
type Runner struct {
	pool           *Pool
	defaultTimeout time.Duration
	log            *zap.Logger
}

func NewRunner(pool *Pool, defaultTimeout time.Duration, log *zap.Logger) *Runner {
	return &Runner{pool: pool, defaultTimeout: defaultTimeout, log: log}
}

// Run acquires an isolate, compiles code, and executes it under a hard
// wall-clock timeout. The isolate is released on every path; a timed-out
// or memory-blown isolate is flagged so the pool rebuilds it rather than
// reusing a corrupted heap.
func (r *Runner) Run(ctx context.Context, code string, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	start := time.Now()

	iso, err := r.pool.Acquire(ctx)
	if err != nil {
		return Result{
			Err:           &ScriptError{Kind: KindRuntime, Message: "acquire isolate: " + err.Error()},
			ExecutionTime: time.Since(start),
		}
	}
	defer r.pool.Release(iso)

	fn, serr := compile(iso.vm, code)
	if serr != nil {
		return Result{Err: serr, ExecutionTime: time.Since(start)}
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	iso.vm.SetContext(execCtx)
	defer iso.vm.RemoveContext()

	err = iso.vm.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true})
	elapsed := time.Since(start)
	if err != nil {
		serr := classify(err, execCtx)
		if serr.Kind == KindTimeout || serr.Kind == KindMemory {
			r.pool.MarkBroken(iso)
		}
		return Result{Err: serr, ExecutionTime: elapsed}
	}

	ret := iso.vm.Get(-1)
	iso.vm.Pop(1)
	return Result{Success: true, Value: luaToGo(ret, 0), ExecutionTime: elapsed}
}

// RunModule executes code, then resolves the named export (a field of the
// chunk's return table, or a global the chunk defined) and calls it with
// args. All values cross the boundary as clones.
func (r *Runner) RunModule(ctx context.Context, code, export string, args []any, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	start := time.Now()

	iso, err := r.pool.Acquire(ctx)
	if err != nil {
		return Result{
			Err:           &ScriptError{Kind: KindRuntime, Message: "acquire isolate: " + err.Error()},
			ExecutionTime: time.Since(start),
		}
	}
	defer r.pool.Release(iso)

	fn, serr := compile(iso.vm, code)
	if serr != nil {
		return Result{Err: serr, ExecutionTime: time.Since(start)}
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	iso.vm.SetContext(execCtx)
	defer iso.vm.RemoveContext()

	fail := func(err error) Result {
		serr := classify(err, execCtx)
		if serr.Kind == KindTimeout || serr.Kind == KindMemory {
			r.pool.MarkBroken(iso)
		}
		return Result{Err: serr, ExecutionTime: time.Since(start)}
	}

	if err := iso.vm.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}); err != nil {
		return fail(err)
	}
	chunkRet := iso.vm.Get(-1)
	iso.vm.Pop(1)

	var target lua.LValue
	if tbl, ok := chunkRet.(*lua.LTable); ok {
		target = tbl.RawGetString(export)
	}
	if target == nil || target == lua.LNil {
		target = iso.vm.GetGlobal(export)
	}
	if target == lua.LNil {
		return Result{
			Err:           &ScriptError{Kind: KindRuntime, Message: fmt.Sprintf("export %q not found", export)},
			ExecutionTime: time.Since(start),
		}
	}
	callFn, ok := target.(*lua.LFunction)
	if !ok {
		// A non-function export is returned as a value.
		return Result{Success: true, Value: luaToGo(target, 0), ExecutionTime: time.Since(start)}
	}

	lArgs := make([]lua.LValue, len(args))
	for i, a := range args {
		lArgs[i] = goToLua(iso.vm, a)
	}
	if err := iso.vm.CallByParam(lua.P{Fn: callFn, NRet: 1, Protect: true}, lArgs...); err != nil {
		return fail(err)
	}
	ret := iso.vm.Get(-1)
	iso.vm.Pop(1)
	return Result{Success: true, Value: luaToGo(ret, 0), ExecutionTime: time.Since(start)}
}

// compileErrRe pulls the line number out of gopher-lua's parse errors
// ("parse error: ... at line 3" / "script:3: ...").
var compileErrRe = regexp.MustCompile(`(?:line[: ]+|script:)(\d+)`)

func compile(vm *lua.LState, code string) (*lua.LFunction, *ScriptError) {
	fn, err := vm.Load(strings.NewReader(code), "script")
	if err == nil {
		return fn, nil
	}
	serr := &ScriptError{Kind: KindCompile, Message: err.Error()}
	if m := compileErrRe.FindStringSubmatch(err.Error()); m != nil {
		serr.Line, _ = strconv.Atoi(m[1])
	}
	return nil, serr
}

// classify maps an execution error onto the taxonomy. Context expiry wins
// over whatever error text the VM surfaced while being cancelled.
func classify(err error, ctx context.Context) *ScriptError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &ScriptError{Kind: KindTimeout, Message: "script exceeded wall-clock timeout"}
	}
	msg := err.Error()
	if strings.Contains(msg, "registry overflow") || strings.Contains(msg, "stack overflow") {
		return &ScriptError{Kind: KindMemory, Message: "isolate exceeded its memory cap"}
	}
	serr := &ScriptError{Kind: KindRuntime, Message: msg}
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		serr.Message = apiErr.Object.String()
		serr.Stack = apiErr.StackTrace
	}
	return serr
}

// luaToGo clones a Lua value into plain Go data: nil, bool, float64,
// string, []any, map[string]any. Depth-capped against self-referencing
// tables.
func luaToGo(v lua.LValue, depth int) any {
	if depth > 16 {
		return nil
	}
	switch lv := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(lv)
	case lua.LNumber:
		return float64(lv)
	case lua.LString:
		return string(lv)
	case *lua.LTable:
		// Array part first; a table with any non-integer key becomes a map.
		maxN := lv.MaxN()
		isArray := maxN > 0
		if isArray {
			count := 0
			lv.ForEach(func(lua.LValue, lua.LValue) { count++ })
			isArray = count == maxN
		}
		if isArray {
			arr := make([]any, 0, maxN)
			for i := 1; i <= maxN; i++ {
				arr = append(arr, luaToGo(lv.RawGetInt(i), depth+1))
			}
			return arr
		}
		m := make(map[string]any)
		lv.ForEach(func(k, val lua.LValue) {
			m[k.String()] = luaToGo(val, depth+1)
		})
		return m
	default:
		// Functions, userdata, channels do not cross the boundary.
		return nil
	}
}

// goToLua clones plain Go data into a Lua value. Unsupported types become
// nil; host values never cross by reference.
func goToLua(vm *lua.LState, v any) lua.LValue {
	switch gv := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(gv)
	case int:
		return lua.LNumber(gv)
	case int32:
		return lua.LNumber(gv)
	case int64:
		return lua.LNumber(gv)
	case float64:
		return lua.LNumber(gv)
	case string:
		return lua.LString(gv)
	case []byte:
		return lua.LString(gv)
	case []any:
		t := vm.NewTable()
		for i, e := range gv {
			t.RawSetInt(i+1, goToLua(vm, e))
		}
		return t
	case map[string]any:
		t := vm.NewTable()
		for k, e := range gv {
			t.RawSetString(k, goToLua(vm, e))
		}
		return t
	default:
		return lua.LNil
	}
}
