package plugin

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	pluginapi "k8s.io/kubelet/pkg/apis/deviceplugin/v1beta1"

	"github.com/ocp-power-demos/udev-device-manager/api"
	"github.com/ocp-power-demos/udev-device-manager/internal/registry"
)

// fakeRegistrar stands in for the orchestrator's registration endpoint,
// recording every Register call it receives.
type fakeRegistrar struct {
	mu   sync.Mutex
	reqs []*pluginapi.RegisterRequest
}

func (f *fakeRegistrar) Register(_ context.Context, req *pluginapi.RegisterRequest) (*pluginapi.Empty, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return &pluginapi.Empty{}, nil
}

func (f *fakeRegistrar) requests() []*pluginapi.RegisterRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*pluginapi.RegisterRequest(nil), f.reqs...)
}

func startFakeRegistrar(t *testing.T, socketPath string) *fakeRegistrar {
	t.Helper()
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	server := grpc.NewServer()
	fake := &fakeRegistrar{}
	pluginapi.RegisterRegistrationServer(server, fake)
	go server.Serve(listener)
	t.Cleanup(server.Stop)
	return fake
}

func TestClassRegistryRebuildReusesUnchangedClass(t *testing.T) {
	dir := t.TempDir()
	fake := startFakeRegistrar(t, filepath.Join(dir, "registration.sock"))

	opts := Options{PluginDir: dir, RegistrationSocket: filepath.Join(dir, "registration.sock")}
	cr := NewClassRegistry(opts)

	classes := []api.DeviceClass{{Name: "serial", Subsystem: "tty", Target: "example.com/serial"}}
	require.NoError(t, cr.Rebuild(context.Background(), classes))
	assert.Len(t, fake.requests(), 1)

	// Same config again: the running class is reused, not re-registered.
	require.NoError(t, cr.Rebuild(context.Background(), classes))
	assert.Len(t, fake.requests(), 1)

	require.NoError(t, cr.Shutdown())
}

// S5 — config reload removes a class: its socket disappears and no other
// running class is disturbed.
func TestClassRegistryRebuildStopsRemovedClass(t *testing.T) {
	dir := t.TempDir()
	startFakeRegistrar(t, filepath.Join(dir, "registration.sock"))
	opts := Options{PluginDir: dir, RegistrationSocket: filepath.Join(dir, "registration.sock")}
	cr := NewClassRegistry(opts)

	require.NoError(t, cr.Rebuild(context.Background(), []api.DeviceClass{
		{Name: "a", Subsystem: "tty", Target: "example.com/a"},
		{Name: "b", Subsystem: "tty", Target: "example.com/b"},
	}))
	aSocket := filepath.Join(dir, "a.sock")
	assert.FileExists(t, aSocket)

	require.NoError(t, cr.Rebuild(context.Background(), []api.DeviceClass{
		{Name: "b", Subsystem: "tty", Target: "example.com/b"},
	}))
	assert.NoFileExists(t, aSocket)
	assert.FileExists(t, filepath.Join(dir, "b.sock"))

	require.NoError(t, cr.Shutdown())
}

func TestClassRegistryReconcileFirstMatchAcrossClasses(t *testing.T) {
	dir := t.TempDir()
	startFakeRegistrar(t, filepath.Join(dir, "registration.sock"))
	opts := Options{PluginDir: dir, RegistrationSocket: filepath.Join(dir, "registration.sock")}
	cr := NewClassRegistry(opts)

	require.NoError(t, cr.Rebuild(context.Background(), []api.DeviceClass{
		{Name: "a", Subsystem: "tty", Target: "example.com/a"},
		{Name: "b", Subsystem: "tty", Target: "example.com/b"},
	}))

	typeReg := registry.NewDeviceTypeRegistry([]api.DeviceType{{Name: "T", Subsystem: "tty"}})
	dist := typeReg.Distributor()
	cr.Reconcile(dist)

	assert.Empty(t, dist.Remaining())
	assert.NoError(t, cr.Shutdown())
}

func TestClassRegistryShutdownIsIdempotent(t *testing.T) {
	cr := NewClassRegistry(Options{PluginDir: t.TempDir()})
	assert.NoError(t, cr.Shutdown())
	assert.NoError(t, cr.Shutdown())
}
