package kernel

import (
	"strconv"

	"github.com/jaypipes/ghw"
	"k8s.io/klog/v2"

	"github.com/ocp-power-demos/udev-device-manager/internal/intern"
	"github.com/ocp-power-demos/udev-device-manager/internal/model"
)

// GHWBlockSource enumerates the "block" subsystem via ghw's own sysfs block
// topology parsing, which already handles disks and their partitions more
// robustly than a hand-rolled walk of /sys/class/block.
type GHWBlockSource struct{}

// Scan returns one Device per disk and one per partition.
func (GHWBlockSource) Scan() ([]*model.Device, error) {
	block, err := ghw.Block()
	if err != nil {
		return nil, err
	}

	var devices []*model.Device
	for _, disk := range block.Disks {
		devices = append(devices, blockDevice(disk.Name, "", disk.SizeBytes))
		for _, part := range disk.Partitions {
			devices = append(devices, blockDevice(part.Name, part.Type, part.SizeBytes))
		}
	}
	klog.V(4).Infof("kernel: ghw block scan found %d devices", len(devices))
	return devices, nil
}

func blockDevice(name, fsType string, sizeBytes uint64) *model.Device {
	syspath := "/sys/class/block/" + name
	attrs := map[string]model.AttributeValue{
		"size": model.Present(strconv.FormatUint(sizeBytes, 10)),
	}
	if fsType != "" {
		attrs["fstype"] = model.Present(fsType)
	}
	return &model.Device{
		ID:         model.DeviceID(syspath),
		Subsystem:  intern.Intern("block"),
		SysPath:    intern.Intern(syspath),
		DevNode:    intern.Intern("/dev/" + name),
		Attributes: attrs,
	}
}
