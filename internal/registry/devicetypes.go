package registry

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ocp-power-demos/udev-device-manager/api"
	"github.com/ocp-power-demos/udev-device-manager/internal/model"
	"github.com/ocp-power-demos/udev-device-manager/internal/selector"
)

// DeviceHandle is a slot derived from one kernel device and a slot index in
// [0, access_count). Its id is "{device.id}:{slot_index}"; two handles are
// equal iff their ids match.
type DeviceHandle struct {
	ID        string
	Device    *model.Device
	SlotIndex int
}

// DeviceTypeState holds one configured device type's config and its
// current matching slots, recomputed on every reconcile pass.
type DeviceTypeState struct {
	Config api.DeviceType

	slots atomic.Pointer[[]DeviceHandle]
}

// CurrentSlots returns the most recently published slot list. Readers
// observe either the old or new full list, never a torn view.
func (s *DeviceTypeState) CurrentSlots() []DeviceHandle {
	p := s.slots.Load()
	if p == nil {
		return nil
	}
	return *p
}

func lookupForDevice(d *model.Device) selector.Lookup {
	return func(key string) (string, bool) {
		v, ok := d.Lookup(key)
		if !ok || !v.IsPresent() {
			return "", false
		}
		return v.Value.String(), true
	}
}

// DeviceTypeRegistry tracks, for each configured device type, the matching
// set of devices expanded by access multiplicity.
type DeviceTypeRegistry struct {
	order  []string
	states map[string]*DeviceTypeState
}

// NewDeviceTypeRegistry builds a registry from the configured device types,
// preserving their declared order.
func NewDeviceTypeRegistry(configs []api.DeviceType) *DeviceTypeRegistry {
	r := &DeviceTypeRegistry{
		order:  make([]string, 0, len(configs)),
		states: make(map[string]*DeviceTypeState, len(configs)),
	}
	for _, c := range configs {
		r.order = append(r.order, c.Name)
		r.states[c.Name] = &DeviceTypeState{Config: c}
	}
	return r
}

// State returns the named type's state, or nil if unknown.
func (r *DeviceTypeRegistry) State(name string) *DeviceTypeState {
	return r.states[name]
}

// Reconcile recomputes, for every device type, the devices whose subsystem
// and attributes satisfy its selector, emitting access_count handles per
// matching device. Matching devices are ordered by sysfs path, so the same
// device set always yields the same handle list.
func (r *DeviceTypeRegistry) Reconcile(devices *DeviceRegistry) {
	for _, name := range r.order {
		state := r.states[name]
		cfg := state.Config
		spec := cfg.Selector.ToEngineSpec()

		matching := devices.Find(func(d *model.Device) bool {
			if d.Subsystem.String() != cfg.Subsystem {
				return false
			}
			return selector.MatchWith(spec, lookupForDevice(d)).Matches
		})
		sort.Slice(matching, func(i, j int) bool {
			return matching[i].SysPath.String() < matching[j].SysPath.String()
		})

		slotCount := cfg.Access.SlotCount()
		handles := make([]DeviceHandle, 0, len(matching)*slotCount)
		for _, d := range matching {
			for i := 0; i < slotCount; i++ {
				handles = append(handles, DeviceHandle{
					ID:        fmt.Sprintf("%s:%d", d.ID, i),
					Device:    d,
					SlotIndex: i,
				})
			}
		}
		state.slots.Store(&handles)
	}
}

// Distributor returns a consumable, first-match-wins view over every
// device type, in configured order.
func (r *DeviceTypeRegistry) Distributor() *Distributor {
	states := make([]*DeviceTypeState, 0, len(r.order))
	for _, name := range r.order {
		states = append(states, r.states[name])
	}
	return &Distributor{remaining: states}
}

// Distributor partitions a sequence of DeviceTypeStates into accepted and
// remaining subsets via repeated Take calls. Once taken, a device type
// cannot be taken again in the same pass.
type Distributor struct {
	mu        sync.Mutex
	remaining []*DeviceTypeState
}

// Take partitions the remaining sequence: states accepted by predicate are
// removed and returned; the rest stay in the view.
func (d *Distributor) Take(predicate func(*DeviceTypeState) bool) []*DeviceTypeState {
	d.mu.Lock()
	defer d.mu.Unlock()

	accepted := make([]*DeviceTypeState, 0)
	rejected := make([]*DeviceTypeState, 0, len(d.remaining))
	for _, s := range d.remaining {
		if predicate(s) {
			accepted = append(accepted, s)
		} else {
			rejected = append(rejected, s)
		}
	}
	d.remaining = rejected
	return accepted
}

// Remaining returns the residual, untaken device types.
func (d *Distributor) Remaining() []*DeviceTypeState {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*DeviceTypeState, len(d.remaining))
	copy(out, d.remaining)
	return out
}
