/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package plugin owns one gRPC device-plugin server per configured device
// class: socket allocation, registration with the orchestrator, the
// ListAndWatch push stream, and the Allocate/PreStartContainer/
// GetPreferredAllocation contract.
package plugin

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
	pluginapi "k8s.io/kubelet/pkg/apis/deviceplugin/v1beta1"

	"github.com/ocp-power-demos/udev-device-manager/api"
	"github.com/ocp-power-demos/udev-device-manager/internal/registry"
	"github.com/ocp-power-demos/udev-device-manager/internal/selector"
)

// Options configures where a class's socket is bound and where the
// orchestrator's registration endpoint lives.
type Options struct {
	PluginDir          string
	RegistrationSocket string
}

// Snapshot is the devices view a class currently exposes over
// ListAndWatch: the flattened handles of every device type assigned to it,
// plus the names of those device types for diagnostics.
type Snapshot struct {
	Devices     []registry.DeviceHandle
	SourceTypes []string
}

// Plugin is one DeviceClass's gRPC server: class config, devices snapshot
// behind an atomic pointer swap, and the single-writer notifier that wakes
// pending ListAndWatch streams.
type Plugin struct {
	config api.DeviceClass

	preStartRequired                bool
	getPreferredAllocationAvailable bool

	snapshot atomic.Pointer[Snapshot]
	notify   *notifier

	socketPath string
	listener   net.Listener
	server     *grpc.Server
	serveErr   chan error
	stopOnce   sync.Once

	pluginapi.DevicePluginServer
}

func newPlugin(cfg api.DeviceClass) *Plugin {
	return &Plugin{
		config: cfg,
		notify: newNotifier(),
	}
}

// start binds the class's socket, serves the gRPC plugin surface, and
// registers the endpoint with the orchestrator. On any failure the server
// (if it was brought up) is stopped and the socket unlinked before the
// error is returned, so a half-started class never lingers.
func (p *Plugin) start(ctx context.Context, opts Options) error {
	listener, path, err := allocateSocket(opts.PluginDir, p.config.Name)
	if err != nil {
		return fmt.Errorf("plugin: class %s: %w", p.config.Name, err)
	}
	p.listener = listener
	p.socketPath = path

	p.server = grpc.NewServer()
	pluginapi.RegisterDevicePluginServer(p.server, p)

	p.serveErr = make(chan error, 1)
	go func() {
		p.serveErr <- p.server.Serve(listener)
	}()

	pluginOpts := &pluginapi.DevicePluginOptions{
		PreStartRequired:                p.preStartRequired,
		GetPreferredAllocationAvailable: p.getPreferredAllocationAvailable,
	}
	if err := registerWithOrchestrator(ctx, opts.RegistrationSocket, path, p.config.Target, pluginOpts); err != nil {
		p.server.Stop()
		<-p.serveErr
		_ = os.Remove(path)
		return err
	}

	klog.Infof("plugin: class %s serving on %s, registered as %q", p.config.Name, path, p.config.Target)
	return nil
}

// stop aborts the server, unlinks its socket, and waits for the serving
// goroutine to return. Idempotent: a second call is a no-op.
func (p *Plugin) stop() error {
	var result error
	p.stopOnce.Do(func() {
		if p.server == nil {
			return
		}
		p.server.Stop()
		if p.serveErr != nil {
			if err := <-p.serveErr; err != nil && err != grpc.ErrServerStopped {
				result = err
			}
		}
		if p.socketPath != "" {
			if err := os.Remove(p.socketPath); err != nil && !os.IsNotExist(err) {
				klog.Warningf("plugin: class %s: unlink socket %s: %v", p.config.Name, p.socketPath, err)
			}
		}
	})
	return result
}

// reconcile picks the device types whose subsystem matches and whose
// labels satisfy the class selector from dist, flattens their current
// slots into a snapshot, and — if the handle set changed — publishes it
// and wakes exactly one pending ListAndWatch waiter.
func (p *Plugin) reconcile(dist *registry.Distributor) {
	spec := p.config.Selector.ToEngineSpec()
	accepted := dist.Take(func(s *registry.DeviceTypeState) bool {
		if s.Config.Subsystem != p.config.Subsystem {
			return false
		}
		return selector.MatchWith(spec, labelLookup(s.Config.Labels)).Matches
	})

	var handles []registry.DeviceHandle
	sourceTypes := make([]string, 0, len(accepted))
	for _, s := range accepted {
		sourceTypes = append(sourceTypes, s.Config.Name)
		handles = append(handles, s.CurrentSlots()...)
	}

	if old := p.snapshot.Load(); old != nil && sameHandleIDs(old.Devices, handles) {
		return
	}
	p.snapshot.Store(&Snapshot{Devices: handles, SourceTypes: sourceTypes})
	p.notify.notify()
}

func labelLookup(labels map[string]string) selector.Lookup {
	return func(key string) (string, bool) {
		v, ok := labels[key]
		return v, ok
	}
}

func sameHandleIDs(a, b []registry.DeviceHandle) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}

func (p *Plugin) currentDevices() []*pluginapi.Device {
	snap := p.snapshot.Load()
	if snap == nil {
		return nil
	}
	devices := make([]*pluginapi.Device, 0, len(snap.Devices))
	for _, h := range snap.Devices {
		devices = append(devices, &pluginapi.Device{ID: h.ID, Health: pluginapi.Healthy})
	}
	return devices
}

// GetDevicePluginOptions returns the static capability flags negotiated at
// class start-up.
func (p *Plugin) GetDevicePluginOptions(context.Context, *pluginapi.Empty) (*pluginapi.DevicePluginOptions, error) {
	return &pluginapi.DevicePluginOptions{
		PreStartRequired:                p.preStartRequired,
		GetPreferredAllocationAvailable: p.getPreferredAllocationAvailable,
	}, nil
}

// ListAndWatch sends the current snapshot, then blocks on the notifier and
// resends the (freshly loaded) snapshot on every wake-up until the client
// disconnects or the class is shut down, both of which cancel the stream
// context cleanly.
func (p *Plugin) ListAndWatch(_ *pluginapi.Empty, stream pluginapi.DevicePlugin_ListAndWatchServer) error {
	if err := stream.Send(&pluginapi.ListAndWatchResponse{Devices: p.currentDevices()}); err != nil {
		return err
	}

	ctx := stream.Context()
	for {
		if !p.notify.wait(ctx) {
			return ctx.Err()
		}
		if err := stream.Send(&pluginapi.ListAndWatchResponse{Devices: p.currentDevices()}); err != nil {
			return err
		}
	}
}

// Allocate honors the all-or-nothing contract: if any requested id is
// unknown, stale, or no longer part of this class's snapshot, the whole
// request fails and a fresh snapshot is pushed to ListAndWatch so the
// caller can retry against current reality.
func (p *Plugin) Allocate(_ context.Context, req *pluginapi.AllocateRequest) (*pluginapi.AllocateResponse, error) {
	snap := p.snapshot.Load()
	known := make(map[string]registry.DeviceHandle)
	if snap != nil {
		for _, h := range snap.Devices {
			known[h.ID] = h
		}
	}

	resp := &pluginapi.AllocateResponse{}
	for _, cr := range req.ContainerRequests {
		cresp := &pluginapi.ContainerAllocateResponse{}
		for _, id := range cr.DevicesIDs {
			h, ok := known[id]
			if !ok {
				p.notify.notify()
				return nil, fmt.Errorf("plugin: class %s: device %q is unknown, stale, or already assigned", p.config.Name, id)
			}
			devnode := h.Device.DevNode.String()
			cresp.Devices = append(cresp.Devices, &pluginapi.DeviceSpec{
				HostPath:      devnode,
				ContainerPath: devnode,
				Permissions:   "rw",
			})
		}
		resp.ContainerResponses = append(resp.ContainerResponses, cresp)
	}
	return resp, nil
}

// PreStartContainer is a no-op: this class never advertises
// pre_start_required, so the orchestrator never actually depends on its
// outcome, but the contract still requires a clean response.
func (p *Plugin) PreStartContainer(context.Context, *pluginapi.PreStartContainerRequest) (*pluginapi.PreStartContainerResponse, error) {
	return &pluginapi.PreStartContainerResponse{}, nil
}

// GetPreferredAllocation is unimplemented: no class advertises
// get_preferred_allocation_available, and the contract requires
// Unimplemented rather than a guess when it isn't.
func (p *Plugin) GetPreferredAllocation(context.Context, *pluginapi.PreferredAllocationRequest) (*pluginapi.PreferredAllocationResponse, error) {
	return nil, status.Error(codes.Unimplemented, "GetPreferredAllocation is not advertised by this class")
}
