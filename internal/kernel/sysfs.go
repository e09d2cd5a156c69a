package kernel

import (
	"os"
	"path/filepath"
	"strings"

	"k8s.io/klog/v2"

	"github.com/ocp-power-demos/udev-device-manager/internal/model"
)

// sysfsRoot is the mount point of the kernel's sysfs hierarchy. Overridable
// for tests.
var sysfsRoot = "/sys"

// sysfsDevice is a RawDevice backed by a single directory under
// <sysfsRoot>/devices.
type sysfsDevice struct {
	path string
}

func (d *sysfsDevice) SysPath() []byte {
	return []byte(d.path)
}

func (d *sysfsDevice) Subsystem() []byte {
	target, err := os.Readlink(filepath.Join(d.path, "subsystem"))
	if err != nil {
		return nil
	}
	return []byte(filepath.Base(target))
}

func (d *sysfsDevice) DevNode() []byte {
	data, err := os.ReadFile(filepath.Join(d.path, "uevent"))
	if err != nil {
		return nil
	}
	for _, line := range strings.Split(string(data), "\n") {
		if name, ok := strings.CutPrefix(line, "DEVNAME="); ok {
			return []byte("/dev/" + strings.TrimSpace(name))
		}
	}
	return nil
}

// skipAttr lists sysfs entries that are not device attributes: control
// files, nested directories, and the ancestor-walk machinery itself.
var skipAttr = map[string]bool{
	"subsystem": true,
	"power":     true,
	"driver":    true,
	"uevent":    true,
}

func (d *sysfsDevice) Attributes() map[string][]byte {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		klog.V(4).Infof("sysfs: read %s: %v", d.path, err)
		return nil
	}

	attrs := make(map[string][]byte)
	for _, entry := range entries {
		name := entry.Name()
		if skipAttr[name] || strings.HasPrefix(name, ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Mode()&0o444 == 0 {
			continue
		}
		if entry.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(d.path, name))
		if err != nil {
			continue
		}
		attrs[name] = []byte(strings.TrimRight(string(raw), "\n"))
	}
	return attrs
}

func (d *sysfsDevice) Parent() (RawDevice, bool) {
	parent := filepath.Dir(d.path)
	devicesRoot := filepath.Join(sysfsRoot, "devices")
	if !strings.HasPrefix(parent, devicesRoot) || parent == devicesRoot {
		return nil, false
	}
	if _, err := os.Stat(filepath.Join(parent, "uevent")); err != nil {
		return nil, false
	}
	return &sysfsDevice{path: parent}, true
}

// ResolveDevice converts a single hot-plug notification's sysfs path into
// a full Device by re-walking its attribute hierarchy, since the netlink
// uevent payload itself carries only a handful of environment variables,
// not the device's full attribute set.
func ResolveDevice(syspath string) (*model.Device, error) {
	return ToDevice(&sysfsDevice{path: syspath})
}

// SysfsSource enumerates kernel devices by walking
// <sysfsRoot>/class/<subsystem> for each configured subsystem.
type SysfsSource struct {
	Subsystems []string
}

// Scan enumerates every device under the configured subsystems.
func (s *SysfsSource) Scan() ([]*model.Device, error) {
	var devices []*model.Device
	for _, subsystem := range s.Subsystems {
		classDir := filepath.Join(sysfsRoot, "class", subsystem)
		entries, err := os.ReadDir(classDir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, entry := range entries {
			devPath, err := filepath.EvalSymlinks(filepath.Join(classDir, entry.Name()))
			if err != nil {
				klog.V(4).Infof("sysfs: resolve %s/%s: %v", classDir, entry.Name(), err)
				continue
			}
			dev, err := ToDevice(&sysfsDevice{path: devPath})
			if err != nil {
				klog.V(4).Infof("sysfs: skipping %s: %v", devPath, err)
				continue
			}
			devices = append(devices, dev)
		}
	}
	return devices, nil
}
