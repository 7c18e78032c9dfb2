// Package sandbox executes untrusted content scripts in memory- and
// time-bounded Lua isolates. An isolate is one lua.LState with a bounded
// registry and no shared mutable state with the host; the pool caps how
// many exist and hands released isolates directly to FIFO waiters.
package sandbox

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// ErrPoolDisposed is returned by Acquire after Dispose.
var ErrPoolDisposed = errors.New("sandbox: pool disposed")

// Isolate is one sandboxed Lua heap. Never used by two scripts at once.
type Isolate struct {
	id        int
	vm        *lua.LState
	execCount uint64
	broken    bool // VM state suspect after a forced termination
}

// ExecCount reports how many executions this isolate has served.
func (i *Isolate) ExecCount() uint64 { return i.execCount }

// Pool is a fixed-cap isolate pool with a FIFO waiter queue. Release hands
// the isolate straight to the oldest waiter, skipping the idle state, so
// waiters never poll.
type Pool struct {
	memoryMB int
	cap      int
	hosts    *HostRegistry
	log      *zap.Logger

	mu       sync.Mutex
	total    int
	idle     []*Isolate
	waiters  *list.List // of chan *Isolate
	disposed bool
	nextID   int
}

// Stats is the pool metrics snapshot.
type Stats struct {
	Total     int
	InUse     int
	Available int
	Waiting   int
}

func NewPool(capN, memoryMB int, hosts *HostRegistry, log *zap.Logger) *Pool {
	if capN < 1 {
		capN = 1
	}
	p := &Pool{
		memoryMB: memoryMB,
		cap:      capN,
		hosts:    hosts,
		log:      log,
		waiters:  list.New(),
	}
	return p
}

// Acquire returns an idle isolate, creates one below the cap, or joins the
// FIFO wait queue. The queue itself has no timeout; callers bound the wait
// through ctx.
func (p *Pool) Acquire(ctx context.Context) (*Isolate, error) {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return nil, ErrPoolDisposed
	}
	if n := len(p.idle); n > 0 {
		iso := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return iso, nil
	}
	if p.total < p.cap {
		p.total++
		p.nextID++
		id := p.nextID
		p.mu.Unlock()
		iso, err := p.newIsolate(id)
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			return nil, err
		}
		return iso, nil
	}
	ch := make(chan *Isolate, 1)
	elem := p.waiters.PushBack(ch)
	p.mu.Unlock()

	select {
	case iso, ok := <-ch:
		if !ok || iso == nil {
			return nil, ErrPoolDisposed
		}
		return iso, nil
	case <-ctx.Done():
		p.mu.Lock()
		p.waiters.Remove(elem)
		p.mu.Unlock()
		// A release may have raced the cancellation.
		select {
		case iso, ok := <-ch:
			if ok && iso != nil {
				p.Release(iso)
			}
		default:
		}
		return nil, ctx.Err()
	}
}

// Release returns an isolate to the pool. A broken isolate (forced
// termination mid-script) is rebuilt first so the pool never hands out a
// corrupted heap. Execution counting happens here: one Acquire pairs with
// exactly one Release.
func (p *Pool) Release(iso *Isolate) {
	iso.execCount++
	if iso.broken {
		iso.vm.Close()
		fresh, err := p.newIsolate(iso.id)
		if err != nil {
			p.log.Error("isolate rebuild failed", zap.Int("isolate", iso.id), zap.Error(err))
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			return
		}
		fresh.execCount = iso.execCount
		iso = fresh
	}

	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		iso.vm.Close()
		return
	}
	if front := p.waiters.Front(); front != nil {
		p.waiters.Remove(front)
		ch := front.Value.(chan *Isolate)
		p.mu.Unlock()
		ch <- iso
		return
	}
	p.idle = append(p.idle, iso)
	p.mu.Unlock()
}

// MarkBroken flags an isolate whose current execution was forcibly
// terminated; Release will rebuild it.
func (p *Pool) MarkBroken(iso *Isolate) { iso.broken = true }

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Total:     p.total,
		InUse:     p.total - len(p.idle),
		Available: len(p.idle),
		Waiting:   p.waiters.Len(),
	}
}

// Dispose cancels all waiters and destroys idle isolates. In-use isolates
// are destroyed when released. Further acquires fail.
func (p *Pool) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	for e := p.waiters.Front(); e != nil; e = e.Next() {
		close(e.Value.(chan *Isolate))
	}
	p.waiters.Init()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, iso := range idle {
		iso.vm.Close()
	}
}

// newIsolate builds a bounded LState with only the safe stdlib subset and
// the registered host functions. Scripts get no io, no os, no networking.
func (p *Pool) newIsolate(id int) (*Isolate, error) {
	// The registry is the VM's only growable heap structure we can bound;
	// sizing it from the memory cap approximates the per-isolate limit.
	maxSlots := p.memoryMB * 4096
	vm := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		RegistrySize:        1024 * 20,
		RegistryMaxSize:     maxSlots,
		RegistryGrowStep:    32,
		CallStackSize:       120,
		MinimizeStackMemory: true,
	})

	for _, open := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		vm.Push(vm.NewFunction(open.fn))
		vm.Push(lua.LString(open.name))
		if err := vm.PCall(1, 0, nil); err != nil {
			vm.Close()
			return nil, fmt.Errorf("open %s: %w", open.name, err)
		}
	}

	// Remove escape hatches base leaves open.
	for _, g := range []string{"dofile", "loadfile", "load", "loadstring", "collectgarbage"} {
		vm.SetGlobal(g, lua.LNil)
	}

	if p.hosts != nil {
		p.hosts.install(vm)
	}

	return &Isolate{id: id, vm: vm}, nil
}
