package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocp-power-demos/udev-device-manager/internal/model"
)

type fakeDevice struct {
	syspath, subsystem, devnode string
	attrs                       map[string][]byte
	parent                      *fakeDevice
}

func (f *fakeDevice) SysPath() []byte         { return []byte(f.syspath) }
func (f *fakeDevice) Subsystem() []byte       { return []byte(f.subsystem) }
func (f *fakeDevice) DevNode() []byte         { return []byte(f.devnode) }
func (f *fakeDevice) Attributes() map[string][]byte { return f.attrs }
func (f *fakeDevice) Parent() (RawDevice, bool) {
	if f.parent == nil {
		return nil, false
	}
	return f.parent, true
}

func TestToDeviceAncestorInheritance(t *testing.T) {
	root := &fakeDevice{
		syspath:   "/sys/devices/pci0000",
		subsystem: "pci",
		devnode:   "/dev/root",
		attrs:     map[string][]byte{"vendor": []byte("rootvendor"), "shared": []byte("fromroot")},
	}
	leaf := &fakeDevice{
		syspath:   "/sys/devices/pci0000/0000:00:1f.0",
		subsystem: "tty",
		devnode:   "/dev/ttyS0",
		attrs:     map[string][]byte{"idVendor": []byte("1234"), "shared": []byte("fromleaf")},
		parent:    root,
	}

	dev, err := ToDevice(leaf)
	require.NoError(t, err)

	assert.Equal(t, "tty", dev.Subsystem.String())
	v, ok := dev.Lookup("idVendor")
	require.True(t, ok)
	assert.Equal(t, "1234", v.Value.String())

	// Deepest occurrence wins for a name present at both levels.
	v, ok = dev.Lookup("shared")
	require.True(t, ok)
	assert.Equal(t, "fromleaf", v.Value.String())

	// Attributes only present on the ancestor are still inherited.
	v, ok = dev.Lookup("vendor")
	require.True(t, ok)
	assert.Equal(t, "rootvendor", v.Value.String())
}

func TestToDeviceErrors(t *testing.T) {
	_, err := ToDevice(&fakeDevice{subsystem: "", devnode: "/dev/x"})
	assert.ErrorIs(t, err, model.ErrNoSubsystem)

	_, err = ToDevice(&fakeDevice{subsystem: "tty", devnode: ""})
	assert.ErrorIs(t, err, model.ErrNoDevnode)
}
