package plugin

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"k8s.io/klog/v2"

	"github.com/ocp-power-demos/udev-device-manager/api"
	"github.com/ocp-power-demos/udev-device-manager/internal/registry"
)

// classState pairs a running class's config with its plugin server, so
// Rebuild can tell an unchanged, still-running class apart from one that
// needs restarting.
type classState struct {
	config api.DeviceClass
	plugin *Plugin
}

// ClassRegistry is the table of live device-class gRPC servers, one per
// configured class, in the classes' declared order (the order first-match
// distribution uses).
type ClassRegistry struct {
	opts   Options
	order  []string
	states map[string]*classState
}

// NewClassRegistry returns an empty registry bound to opts.
func NewClassRegistry(opts Options) *ClassRegistry {
	return &ClassRegistry{opts: opts, states: make(map[string]*classState)}
}

// Rebuild transitions the registry to match classes: a class whose config
// is byte-for-byte unchanged from what is already running is left alone
// (reused); everything else already running is gracefully stopped, and
// every class named in the new list that isn't already running is started
// fresh. Returns the join of every per-class start/stop failure; on any
// error the caller is expected to treat the whole Restart as fatal and
// shut the registry down before propagating it.
func (r *ClassRegistry) Rebuild(ctx context.Context, classes []api.DeviceClass) error {
	wanted := make(map[string]api.DeviceClass, len(classes))
	order := make([]string, 0, len(classes))
	for _, c := range classes {
		wanted[c.Name] = c
		order = append(order, c.Name)
	}

	var errs []error
	for name, state := range r.states {
		cfg, stillWanted := wanted[name]
		if stillWanted && reflect.DeepEqual(cfg, state.config) {
			continue
		}
		klog.Infof("plugin: stopping class %s (removed or config changed)", name)
		if err := state.plugin.stop(); err != nil {
			errs = append(errs, fmt.Errorf("class %s: stop: %w", name, err))
		}
		delete(r.states, name)
	}

	for _, name := range order {
		if _, running := r.states[name]; running {
			continue
		}
		cfg := wanted[name]
		p := newPlugin(cfg)
		if err := p.start(ctx, r.opts); err != nil {
			errs = append(errs, fmt.Errorf("class %s: start: %w", name, err))
			continue
		}
		r.states[name] = &classState{config: cfg, plugin: p}
	}
	r.order = order

	return errors.Join(errs...)
}

// Reconcile hands every registered class, in declared order, the shared
// distributor so first-match-wins assignment happens across the whole
// class set rather than per class.
func (r *ClassRegistry) Reconcile(dist *registry.Distributor) {
	for _, name := range r.order {
		state, ok := r.states[name]
		if !ok {
			continue
		}
		state.plugin.reconcile(dist)
	}
}

// Shutdown aborts every running class server in parallel and returns the
// join of every failure, not just the first.
func (r *ClassRegistry) Shutdown() error {
	var mu sync.Mutex
	var errs []error
	var wg sync.WaitGroup

	for _, state := range r.states {
		wg.Add(1)
		go func(s *classState) {
			defer wg.Done()
			if err := s.plugin.stop(); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("class %s: %w", s.config.Name, err))
				mu.Unlock()
			}
		}(state)
	}
	wg.Wait()

	r.states = make(map[string]*classState)
	r.order = nil
	return errors.Join(errs...)
}
