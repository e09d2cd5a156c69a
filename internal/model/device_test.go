package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyAttribute(t *testing.T) {
	assert.Equal(t, Empty, ClassifyAttribute(nil))
	assert.Equal(t, Empty, ClassifyAttribute([]byte{}))
	assert.Equal(t, Invalid, ClassifyAttribute([]byte{0xff, 0xfe}))

	present := ClassifyAttribute([]byte("1234"))
	assert.True(t, present.IsPresent())
	assert.Equal(t, "1234", present.Value.String())
}

func TestDeviceIDStable(t *testing.T) {
	id1 := DeviceID("/sys/devices/x")
	id2 := DeviceID("/sys/devices/x")
	id3 := DeviceID("/sys/devices/y")

	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, id3)
}

func TestDeviceLookup(t *testing.T) {
	d := &Device{
		Attributes: map[string]AttributeValue{
			"idVendor": Present("1234"),
		},
	}

	v, ok := d.Lookup("idVendor")
	assert.True(t, ok)
	assert.True(t, v.IsPresent())
	assert.Equal(t, "1234", v.Value.String())

	_, ok = d.Lookup("missing")
	assert.False(t, ok)
}

func TestDeviceAttributeNamesSorted(t *testing.T) {
	d := &Device{
		Attributes: map[string]AttributeValue{
			"zeta":  Present("z"),
			"alpha": Present("a"),
			"mu":    Present("m"),
		},
	}
	assert.Equal(t, []string{"alpha", "mu", "zeta"}, d.AttributeNames())
}
