// Package registry implements the three reconciler-owned tables: live
// kernel devices, device-type match state, and the first-match-wins
// distributor used to assign device types to classes.
package registry

import (
	"sync"

	"github.com/ocp-power-demos/udev-device-manager/internal/model"
)

// EventKind classifies a DeviceEvent.
type EventKind int

const (
	EventAdd EventKind = iota
	EventChange
	EventRemove
	EventBind
	EventUnbind
	EventUnknown
)

// DeviceEvent is a single kernel-device state transition applied to the
// registry. Bind/Unbind/Unknown carry no state change.
type DeviceEvent struct {
	Kind    EventKind
	SysPath string
	Device  *model.Device
}

// DeviceRegistry is the table of live kernel devices keyed by sysfs path.
// Safe for concurrent reads; the reconciler is the sole writer.
type DeviceRegistry struct {
	mu      sync.RWMutex
	devices map[string]*model.Device
}

// NewDeviceRegistry returns an empty registry.
func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{devices: make(map[string]*model.Device)}
}

// Scan rebuilds the full table from a freshly enumerated device list.
func (r *DeviceRegistry) Scan(devices []*model.Device) {
	table := make(map[string]*model.Device, len(devices))
	for _, d := range devices {
		table[d.SysPath.String()] = d
	}
	r.mu.Lock()
	r.devices = table
	r.mu.Unlock()
}

// Apply applies a single kernel-device event in arrival order. Add/Change
// insert or replace by syspath; Remove deletes by syspath; Bind/Unbind/
// Unknown are no-ops (logged at debug by the caller).
func (r *DeviceRegistry) Apply(evt DeviceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch evt.Kind {
	case EventAdd, EventChange:
		if evt.Device != nil {
			r.devices[evt.SysPath] = evt.Device
		}
	case EventRemove:
		delete(r.devices, evt.SysPath)
	default:
		// Bind, Unbind, Unknown: no state change.
	}
}

// Find returns a stable snapshot of every device satisfying predicate.
func (r *DeviceRegistry) Find(predicate func(*model.Device) bool) []*model.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.Device, 0)
	for _, d := range r.devices {
		if predicate == nil || predicate(d) {
			out = append(out, d)
		}
	}
	return out
}

// Len reports the number of live devices.
func (r *DeviceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
