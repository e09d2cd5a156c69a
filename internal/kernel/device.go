package kernel

import (
	"fmt"
	"unicode/utf8"

	"github.com/ocp-power-demos/udev-device-manager/internal/intern"
	"github.com/ocp-power-demos/udev-device-manager/internal/model"
)

// RawDevice is an opaque reference to a single level of the kernel device
// hierarchy: its own identity plus the means to walk to its parent.
type RawDevice interface {
	SysPath() []byte
	Subsystem() []byte
	DevNode() []byte
	Attributes() map[string][]byte
	Parent() (RawDevice, bool)
}

// ToDevice converts a RawDevice into the canonical Device representation
// by walking the ancestor chain to the root, binding each attribute name
// to the first (deepest/most-specific) occurrence seen.
func ToDevice(raw RawDevice) (*model.Device, error) {
	subsystem := raw.Subsystem()
	if len(subsystem) == 0 {
		return nil, model.ErrNoSubsystem
	}
	if !utf8.Valid(subsystem) {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidSubsystem, subsystem)
	}

	syspath := raw.SysPath()
	if !utf8.Valid(syspath) {
		return nil, &model.InvalidPathError{Kind: "syspath", Bytes: syspath}
	}

	devnode := raw.DevNode()
	if len(devnode) == 0 {
		return nil, model.ErrNoDevnode
	}
	if !utf8.Valid(devnode) {
		return nil, &model.InvalidPathError{Kind: "devnode", Bytes: devnode}
	}

	attrs := make(map[string]model.AttributeValue)
	level := raw
	for {
		for name, value := range level.Attributes() {
			if !utf8.Valid([]byte(name)) {
				return nil, model.ErrInvalidAttributeName
			}
			if _, bound := attrs[name]; bound {
				continue
			}
			attrs[name] = model.ClassifyAttribute(value)
		}
		parent, ok := level.Parent()
		if !ok {
			break
		}
		level = parent
	}

	return &model.Device{
		ID:         model.DeviceID(string(syspath)),
		Subsystem:  intern.Intern(string(subsystem)),
		SysPath:    intern.Intern(string(syspath)),
		DevNode:    intern.Intern(string(devnode)),
		Attributes: attrs,
	}, nil
}
