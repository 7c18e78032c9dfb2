package world

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Blueprint is the source description an object is materialized from.
type Blueprint struct {
	Path    string
	Name    string
	Short   string
	Long    string
	Aliases []string
	Props   map[string]any
	Weight  int

	Container *Container
	Equip     *Equippable

	Heartbeat bool

	// Setup runs after registration, before the object is visible to
	// content. Blueprints install hooks and actions here.
	Setup func(o *Object)
}

// BlueprintSource resolves blueprint paths. The data package implements it
// over the YAML tables; tests use a map.
type BlueprintSource interface {
	Blueprint(path string) (*Blueprint, bool)
}

// Registry is the central object index: runtime id, blueprint path for
// singletons, and a lowercased-name multimap. Mutated only from the game
// loop goroutine.
type Registry struct {
	src   BlueprintSource
	log   *zap.Logger
	sched *Scheduler

	nextID ID
	byID   map[ID]*Object
	byPath map[string]*Object
	byName map[string][]*Object
}

func NewRegistry(src BlueprintSource, log *zap.Logger) *Registry {
	return &Registry{
		src:    src,
		log:    log,
		byID:   map[ID]*Object{},
		byPath: map[string]*Object{},
		byName: map[string][]*Object{},
	}
}

// Register assigns a runtime id and indexes the object. Construct-and-
// register is the only way an object enters the world.
func (r *Registry) Register(o *Object) ID {
	r.nextID++
	o.id = r.nextID
	o.reg = r
	r.byID[o.id] = o
	if o.path != "" {
		if _, taken := r.byPath[o.path]; !taken {
			r.byPath[o.path] = o
		}
	}
	key := strings.ToLower(o.Name)
	r.byName[key] = append(r.byName[key], o)
	return o.id
}

// NewObject constructs and registers an anonymous object.
func (r *Registry) NewObject(name string) *Object {
	o := newObject(name)
	r.Register(o)
	return o
}

// Get returns the object with the given runtime id.
func (r *Registry) Get(id ID) (*Object, bool) {
	o, ok := r.byID[id]
	return o, ok
}

// FindObject returns the loaded singleton for a blueprint path, or nil.
func (r *Registry) FindObject(path string) *Object {
	return r.byPath[path]
}

// LoadObject returns the singleton for path, materializing it on first use.
func (r *Registry) LoadObject(path string) (*Object, error) {
	if o := r.byPath[path]; o != nil {
		return o, nil
	}
	return r.materialize(path, true)
}

// CloneObject materializes a fresh instance from the blueprint. Clones are
// never indexed by path.
func (r *Registry) CloneObject(path string) (*Object, error) {
	return r.materialize(path, false)
}

func (r *Registry) materialize(path string, singleton bool) (*Object, error) {
	if r.src == nil {
		return nil, fmt.Errorf("world: no blueprint source for %s", path)
	}
	bp, ok := r.src.Blueprint(path)
	if !ok {
		return nil, fmt.Errorf("world: unknown blueprint %s", path)
	}
	o := newObject(bp.Name)
	o.Short = bp.Short
	o.Long = bp.Long
	o.Weight = bp.Weight
	if singleton {
		o.path = path
	}
	for _, a := range bp.Aliases {
		o.AddAlias(a)
	}
	for k, v := range bp.Props {
		o.Props[k] = v
	}
	if bp.Container != nil {
		c := *bp.Container
		o.Container = &c
	}
	if bp.Equip != nil {
		e := *bp.Equip
		o.Equip = &e
	}
	r.Register(o)
	if bp.Setup != nil {
		bp.Setup(o)
	}
	if bp.Heartbeat {
		if r.sched != nil {
			r.sched.Set(o, true)
		} else {
			o.heartbeat = true
		}
	}
	return o, nil
}

// SetScheduler attaches the heartbeat scheduler so blueprints with the
// heartbeat flag opt in at materialization.
func (r *Registry) SetScheduler(s *Scheduler) { r.sched = s }

// FindByName returns all live objects whose canonical name matches,
// case-insensitively.
func (r *Registry) FindByName(name string) []*Object {
	return r.byName[strings.ToLower(name)]
}

// Lookup resolves a script-facing spec: "obj#N" runtime id, a blueprint
// path, or a name. First match wins.
func (r *Registry) Lookup(spec string) (*Object, bool) {
	if rest, ok := strings.CutPrefix(spec, "obj#"); ok {
		n, err := strconv.ParseUint(rest, 10, 64)
		if err != nil {
			return nil, false
		}
		o, ok := r.byID[ID(n)]
		return o, ok
	}
	if strings.HasPrefix(spec, "/") {
		o := r.byPath[spec]
		return o, o != nil
	}
	if list := r.FindByName(spec); len(list) > 0 {
		return list[0], true
	}
	return nil, false
}

// Count returns the number of live objects.
func (r *Registry) Count() int { return len(r.byID) }

// EachLoaded visits every path-loaded singleton. Used by the autosaver to
// snapshot mutable room and object state.
func (r *Registry) EachLoaded(fn func(path string, o *Object)) {
	for p, o := range r.byPath {
		fn(p, o)
	}
}

func (r *Registry) unregister(o *Object) {
	delete(r.byID, o.id)
	if o.path != "" && r.byPath[o.path] == o {
		delete(r.byPath, o.path)
	}
	key := strings.ToLower(o.Name)
	list := r.byName[key]
	for i, x := range list {
		if x == o {
			r.byName[key] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(r.byName[key]) == 0 {
		delete(r.byName, key)
	}
}
