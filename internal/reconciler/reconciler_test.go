package reconciler

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocp-power-demos/udev-device-manager/api"
	"github.com/ocp-power-demos/udev-device-manager/internal/config"
	"github.com/ocp-power-demos/udev-device-manager/internal/intern"
	"github.com/ocp-power-demos/udev-device-manager/internal/kernel"
	"github.com/ocp-power-demos/udev-device-manager/internal/model"
	"github.com/ocp-power-demos/udev-device-manager/internal/signals"
	"github.com/ocp-power-demos/udev-device-manager/pkg/plugin"
)

type stubSource struct {
	devices []*model.Device
	err     error
}

func (s stubSource) Scan() ([]*model.Device, error) {
	return s.devices, s.err
}

func deviceAt(syspath string) *model.Device {
	return &model.Device{
		ID:        model.DeviceID(syspath),
		Subsystem: intern.Intern("tty"),
		SysPath:   intern.Intern(syspath),
		DevNode:   intern.Intern("/dev/" + syspath),
	}
}

func baseConfig() *api.Config {
	return &api.Config{
		DeviceTypes: []api.DeviceType{{Name: "serial", Subsystem: "tty"}},
	}
}

func newTestReconciler(scan func(*api.Config) kernel.Source) *Reconciler {
	return New(baseConfig(), scan, plugin.Options{})
}

func runUntilShutdown(t *testing.T, ctx context.Context, r *Reconciler, src Sources) chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx, src)
	}()
	return done
}

func TestRunPerformsInitialRestartAndReconcile(t *testing.T) {
	r := newTestReconciler(func(*api.Config) kernel.Source {
		return stubSource{devices: []*model.Device{deviceAt("a")}}
	})

	ctx, cancel := context.WithCancel(context.Background())
	src := Sources{
		Config:  make(chan config.Event),
		Signals: make(chan signals.Event),
		Kernel:  make(chan kernel.Event),
	}

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, src) }()

	// give the loop a moment to perform the initial restart+reconcile
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, r.devices.Len())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reconciler did not shut down after context cancel")
	}
}

func TestRunFailsOnEnumerationError(t *testing.T) {
	r := newTestReconciler(func(*api.Config) kernel.Source {
		return stubSource{err: fmt.Errorf("boom")}
	})

	err := r.Run(context.Background(), Sources{
		Config:  make(chan config.Event),
		Signals: make(chan signals.Event),
		Kernel:  make(chan kernel.Event),
	})
	assert.Error(t, err)
}

func TestRunAppliesConfigReload(t *testing.T) {
	var scans atomic.Int32
	r := newTestReconciler(func(*api.Config) kernel.Source {
		scans.Add(1)
		return stubSource{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	configCh := make(chan config.Event)
	src := Sources{Config: configCh, Signals: make(chan signals.Event), Kernel: make(chan kernel.Event)}
	done := runUntilShutdown(t, ctx, r, src)

	time.Sleep(10 * time.Millisecond)
	require.EqualValues(t, 1, scans.Load())

	configCh <- config.Event{Config: baseConfig()}
	time.Sleep(10 * time.Millisecond)
	assert.EqualValues(t, 2, scans.Load())

	cancel()
	<-done
}

func TestRunKeepsPreviousConfigOnReloadError(t *testing.T) {
	var scans atomic.Int32
	r := newTestReconciler(func(*api.Config) kernel.Source {
		scans.Add(1)
		return stubSource{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	configCh := make(chan config.Event)
	src := Sources{Config: configCh, Signals: make(chan signals.Event), Kernel: make(chan kernel.Event)}
	done := runUntilShutdown(t, ctx, r, src)

	time.Sleep(10 * time.Millisecond)
	require.EqualValues(t, 1, scans.Load())

	configCh <- config.Event{Err: fmt.Errorf("bad config")}
	time.Sleep(10 * time.Millisecond)
	assert.EqualValues(t, 1, scans.Load(), "a failed reload must not trigger a restart")

	cancel()
	<-done
}

func TestRunTreatsSighupAsRestart(t *testing.T) {
	var scans atomic.Int32
	r := newTestReconciler(func(*api.Config) kernel.Source {
		scans.Add(1)
		return stubSource{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signalCh := make(chan signals.Event)
	src := Sources{Config: make(chan config.Event), Signals: signalCh, Kernel: make(chan kernel.Event)}
	done := runUntilShutdown(t, ctx, r, src)

	time.Sleep(10 * time.Millisecond)
	require.EqualValues(t, 1, scans.Load())

	signalCh <- signals.Reload
	time.Sleep(10 * time.Millisecond)
	assert.EqualValues(t, 2, scans.Load())

	cancel()
	<-done
}

func TestRunTreatsSigtermAsShutdown(t *testing.T) {
	r := newTestReconciler(func(*api.Config) kernel.Source {
		return stubSource{}
	})

	signalCh := make(chan signals.Event)
	src := Sources{Config: make(chan config.Event), Signals: signalCh, Kernel: make(chan kernel.Event)}
	done := runUntilShutdown(t, context.Background(), r, src)

	time.Sleep(10 * time.Millisecond)
	signalCh <- signals.Terminate

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reconciler did not shut down on terminate signal")
	}
}

func TestApplyKernelEventSkipsUnresolvableDevice(t *testing.T) {
	r := newTestReconciler(func(*api.Config) kernel.Source {
		return stubSource{}
	})

	// /sys/devices/does-not-exist cannot be resolved on any test host; the
	// event must be dropped rather than panicking or poisoning the table.
	r.applyKernelEvent(kernel.Event{Kind: kernel.EventAdd, SysPath: "/sys/devices/does-not-exist"})
	assert.Equal(t, 0, r.devices.Len())
}

func TestApplyKernelEventRemoveDeletesBySysPath(t *testing.T) {
	r := newTestReconciler(func(*api.Config) kernel.Source {
		return stubSource{}
	})
	r.devices.Scan([]*model.Device{deviceAt("/sys/devices/a")})
	require.Equal(t, 1, r.devices.Len())

	r.applyKernelEvent(kernel.Event{Kind: kernel.EventRemove, SysPath: "/sys/devices/a"})
	assert.Equal(t, 0, r.devices.Len())
}

func TestApplyKernelEventIgnoresBindUnbind(t *testing.T) {
	r := newTestReconciler(func(*api.Config) kernel.Source {
		return stubSource{}
	})
	r.applyKernelEvent(kernel.Event{Kind: kernel.EventBind, SysPath: "/sys/devices/a"})
	assert.Equal(t, 0, r.devices.Len())
}
