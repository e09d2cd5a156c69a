package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ocp-power-demos/udev-device-manager/internal/intern"
	"github.com/ocp-power-demos/udev-device-manager/internal/model"
)

func newDevice(syspath, subsystem string) *model.Device {
	return &model.Device{
		ID:         model.DeviceID(syspath),
		SysPath:    intern.Intern(syspath),
		Subsystem:  intern.Intern(subsystem),
		Attributes: map[string]model.AttributeValue{},
	}
}

func TestDeviceRegistryScanAndApply(t *testing.T) {
	r := NewDeviceRegistry()
	r.Scan([]*model.Device{newDevice("/sys/devices/a", "tty")})
	assert.Equal(t, 1, r.Len())

	r.Apply(DeviceEvent{Kind: EventAdd, SysPath: "/sys/devices/b", Device: newDevice("/sys/devices/b", "usb")})
	assert.Equal(t, 2, r.Len())

	r.Apply(DeviceEvent{Kind: EventRemove, SysPath: "/sys/devices/a"})
	assert.Equal(t, 1, r.Len())

	r.Apply(DeviceEvent{Kind: EventBind, SysPath: "/sys/devices/b"})
	assert.Equal(t, 1, r.Len(), "Bind must not change registry state")
}

func TestDeviceRegistryFind(t *testing.T) {
	r := NewDeviceRegistry()
	r.Scan([]*model.Device{
		newDevice("/sys/devices/a", "tty"),
		newDevice("/sys/devices/b", "usb"),
	})

	ttys := r.Find(func(d *model.Device) bool { return d.Subsystem.String() == "tty" })
	assert.Len(t, ttys, 1)
}
