package kernel

import "github.com/ocp-power-demos/udev-device-manager/internal/model"

// Source enumerates kernel devices. Implementations cover different
// subsystem families: a generic sysfs walk, and a ghw-backed block-device
// reader.
type Source interface {
	Scan() ([]*model.Device, error)
}

// MultiSource fans Scan out across several sources and concatenates their
// results. A source that fails fails the whole scan with that source's
// error; a single malformed device is skipped inside its source and does
// not fail the scan.
type MultiSource struct {
	Sources []Source
}

// Scan concatenates every source's device list.
func (m MultiSource) Scan() ([]*model.Device, error) {
	var all []*model.Device
	for _, src := range m.Sources {
		devices, err := src.Scan()
		if err != nil {
			return nil, err
		}
		all = append(all, devices...)
	}
	return all, nil
}
