// Package daemon manages the process-wide singleton services: ordered
// boot, state restore, reverse-order shutdown with serialization.
package daemon

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Daemon is a registered singleton. Serialize/Restore exchange JSON-safe
// state with the persistence namespace matching the daemon id.
type Daemon interface {
	ID() string
	Serialize() map[string]any
	Restore(data map[string]any) error
	// ResetOnError picks the per-daemon failure policy: true means a
	// failed restore starts blank, false aborts boot.
	ResetOnError() bool
}

// StateStore is the slice of the persistence adapter the registry needs.
type StateStore interface {
	SaveData(ctx context.Context, namespace, key string, value any) error
	LoadData(ctx context.Context, namespace, key string) (map[string]any, error)
}

// Registry boots daemons in registration order and shuts them down in
// reverse. The network layer opens only after Ready reports true.
type Registry struct {
	log   *zap.Logger
	store StateStore

	order []Daemon
	byID  map[string]Daemon
	ready bool
}

func NewRegistry(store StateStore, log *zap.Logger) *Registry {
	return &Registry{
		log:   log,
		store: store,
		byID:  map[string]Daemon{},
	}
}

// Register adds a daemon. Duplicate ids are refused; registration order
// is boot order.
func (r *Registry) Register(d Daemon) error {
	if _, dup := r.byID[d.ID()]; dup {
		return fmt.Errorf("daemon: duplicate id %q", d.ID())
	}
	r.byID[d.ID()] = d
	r.order = append(r.order, d)
	return nil
}

// Get looks a daemon up by id.
func (r *Registry) Get(id string) (Daemon, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// Ready reports whether boot completed.
func (r *Registry) Ready() bool { return r.ready }

// Boot restores every daemon in order. A restore failure aborts boot
// unless the daemon opted into reset-on-error.
func (r *Registry) Boot(ctx context.Context) error {
	for _, d := range r.order {
		state, err := r.store.LoadData(ctx, d.ID(), "state")
		if err != nil {
			return fmt.Errorf("daemon %s: load state: %w", d.ID(), err)
		}
		if state == nil {
			r.log.Info("daemon starting blank", zap.String("daemon", d.ID()))
			continue
		}
		if err := d.Restore(state); err != nil {
			if !d.ResetOnError() {
				return fmt.Errorf("daemon %s: restore: %w", d.ID(), err)
			}
			r.log.Warn("daemon restore failed, starting blank",
				zap.String("daemon", d.ID()), zap.Error(err))
		}
	}
	r.ready = true
	return nil
}

// Shutdown serializes every daemon in reverse order. Save failures are
// logged and do not stop the remaining daemons from saving.
func (r *Registry) Shutdown(ctx context.Context) {
	r.ready = false
	for i := len(r.order) - 1; i >= 0; i-- {
		d := r.order[i]
		if err := r.store.SaveData(ctx, d.ID(), "state", d.Serialize()); err != nil {
			r.log.Error("daemon save failed",
				zap.String("daemon", d.ID()), zap.Error(err))
		}
	}
}
