package signals

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchMapsSighupToReload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := Watch(ctx)

	require.NoError(t, findProcess(t).Signal(syscall.SIGHUP))

	select {
	case ev := <-events:
		assert.Equal(t, Reload, ev)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reload event")
	}
}

func TestWatchMapsSigtermToTerminate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := Watch(ctx)

	require.NoError(t, findProcess(t).Signal(syscall.SIGTERM))

	select {
	case ev := <-events:
		assert.Equal(t, Terminate, ev)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for terminate event")
	}
}

func TestWatchClosesOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	events := Watch(ctx)
	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func findProcess(t *testing.T) *os.Process {
	t.Helper()
	p, err := os.FindProcess(os.Getpid())
	require.NoError(t, err)
	return p
}
