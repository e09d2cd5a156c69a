// Package reconciler implements the single-threaded cooperative event loop
// that merges config, signal, and kernel hot-plug events into one state
// machine driving the device, device-type, and device-class registries to
// convergence.
package reconciler

import (
	"context"
	"errors"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/ocp-power-demos/udev-device-manager/api"
	"github.com/ocp-power-demos/udev-device-manager/internal/config"
	"github.com/ocp-power-demos/udev-device-manager/internal/kernel"
	"github.com/ocp-power-demos/udev-device-manager/internal/registry"
	"github.com/ocp-power-demos/udev-device-manager/internal/signals"
	"github.com/ocp-power-demos/udev-device-manager/pkg/plugin"
)

// action classifies what a single loop iteration does, per spec.md §4.6's
// state machine.
type action int

const (
	actionNone action = iota
	actionRestart
	actionReconcile
	actionShutdown
)

// Sources bundles the three asynchronous event streams the loop merges.
// Kernel is expected to stay open for the process lifetime; Config and
// Signals likewise — a closed stream is treated as fatal, matching
// spec.md §4.6's "stream closed → surface fatal error".
type Sources struct {
	Config  <-chan config.Event
	Signals <-chan signals.Event
	Kernel  <-chan kernel.Event
}

// KernelSourceFactory builds the enumeration source(s) to use for a full
// device scan, given the current config. Rebuilt on every Restart so a
// config reload that introduces a new subsystem is picked up.
type KernelSourceFactory func(cfg *api.Config) kernel.Source

// Reconciler owns the three registries and drives them through Restart/
// Reconcile/Shutdown transitions. It is not safe for concurrent use: Run
// is meant to be the only goroutine touching it.
type Reconciler struct {
	newKernelSource KernelSourceFactory
	classOpts       plugin.Options

	cfg     *api.Config
	devices *registry.DeviceRegistry
	types   *registry.DeviceTypeRegistry
	classes *plugin.ClassRegistry
}

// New builds a Reconciler seeded with the initial config. Run still must
// perform the first Restart before anything is actually scanned or
// served.
func New(initial *api.Config, newKernelSource KernelSourceFactory, classOpts plugin.Options) *Reconciler {
	return &Reconciler{
		newKernelSource: newKernelSource,
		classOpts:       classOpts,
		cfg:             initial,
		devices:         registry.NewDeviceRegistry(),
		types:           registry.NewDeviceTypeRegistry(initial.DeviceTypes),
		classes:         plugin.NewClassRegistry(classOpts),
	}
}

// Run performs the initial Restart and then drives the event loop until a
// fatal error occurs or a Shutdown transition completes cleanly.
func (r *Reconciler) Run(ctx context.Context, src Sources) error {
	if err := r.restart(ctx); err != nil {
		return err
	}
	r.reconcile()

	for {
		act, err := r.next(ctx, src)
		if err != nil {
			return err
		}

		switch act {
		case actionNone:
			continue
		case actionRestart:
			if err := r.restart(ctx); err != nil {
				return err
			}
			r.reconcile()
		case actionReconcile:
			r.reconcile()
		case actionShutdown:
			return r.classes.Shutdown()
		}
	}
}

// next selects the next event from any of the three streams and maps it
// onto an action, applying the event's effect (config/device state update)
// before returning, per spec.md §4.6's ordering guarantee: an event's
// effect is visible before the next event is consumed.
func (r *Reconciler) next(ctx context.Context, src Sources) (action, error) {
	select {
	case <-ctx.Done():
		return actionShutdown, nil

	case ev, ok := <-src.Config:
		if !ok {
			return actionNone, fmt.Errorf("reconciler: config event stream closed")
		}
		if ev.Err != nil {
			klog.Errorf("reconciler: config reload failed, keeping previous config: %v", ev.Err)
			return actionNone, nil
		}
		r.cfg = ev.Config
		return actionRestart, nil

	case ev, ok := <-src.Signals:
		if !ok {
			return actionNone, fmt.Errorf("reconciler: signal stream closed")
		}
		switch ev {
		case signals.Reload:
			return actionRestart, nil
		case signals.Terminate:
			return actionShutdown, nil
		default:
			return actionNone, nil
		}

	case ev, ok := <-src.Kernel:
		if !ok {
			return actionNone, fmt.Errorf("reconciler: kernel event stream closed")
		}
		r.applyKernelEvent(ev)
		return actionReconcile, nil
	}
}

// applyKernelEvent resolves the hot-plugged device's full attribute set
// for Add/Change and applies the resulting state transition to the device
// registry. A device that fails to resolve is skipped and logged at
// debug, per spec.md §7's per-device error policy; the stream itself
// stays healthy.
func (r *Reconciler) applyKernelEvent(ev kernel.Event) {
	switch ev.Kind {
	case kernel.EventAdd, kernel.EventChange:
		dev, err := kernel.ResolveDevice(ev.SysPath)
		if err != nil {
			klog.V(4).Infof("reconciler: skipping kernel event for %s: %v", ev.SysPath, err)
			return
		}
		r.devices.Apply(registry.DeviceEvent{Kind: registryEventKind(ev.Kind), SysPath: ev.SysPath, Device: dev})
	case kernel.EventRemove:
		r.devices.Apply(registry.DeviceEvent{Kind: registry.EventRemove, SysPath: ev.SysPath})
	default:
		klog.V(5).Infof("reconciler: ignoring %v event for %s", ev.Kind, ev.SysPath)
	}
}

func registryEventKind(k kernel.EventKind) registry.EventKind {
	switch k {
	case kernel.EventAdd:
		return registry.EventAdd
	case kernel.EventChange:
		return registry.EventChange
	default:
		return registry.EventUnknown
	}
}

// restart re-enumerates devices, rebuilds the device-type registry from
// the current config, and brings the device-class registry in line with
// the current config's classes. Any failure — enumeration or a class
// failing to bind/register — is fatal: every class, old or newly started,
// is aborted before the error is returned.
func (r *Reconciler) restart(ctx context.Context) error {
	devices, err := r.newKernelSource(r.cfg).Scan()
	if err != nil {
		shutdownErr := r.classes.Shutdown()
		return fmt.Errorf("reconciler: device enumeration failed: %w", errors.Join(err, shutdownErr))
	}
	r.devices.Scan(devices)
	r.types = registry.NewDeviceTypeRegistry(r.cfg.DeviceTypes)

	if err := r.classes.Rebuild(ctx, r.cfg.DeviceClasses); err != nil {
		shutdownErr := r.classes.Shutdown()
		return fmt.Errorf("reconciler: restart failed: %w", errors.Join(err, shutdownErr))
	}
	return nil
}

// reconcile recomputes every device type's matching slots and republishes
// each class's snapshot, logging how many device types went unclaimed by
// any class this pass.
func (r *Reconciler) reconcile() {
	r.types.Reconcile(r.devices)
	dist := r.types.Distributor()
	r.classes.Reconcile(dist)
	if remaining := dist.Remaining(); len(remaining) > 0 {
		klog.Infof("reconciler: %d device type(s) unassigned to any class", len(remaining))
	}
}
