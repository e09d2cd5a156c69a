//go:build linux

package kernel

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"syscall"

	"k8s.io/klog/v2"
)

// netlinkKobjectUEvent is the netlink protocol family carrying kernel
// object hot-plug events.
const netlinkKobjectUEvent = 15

// Monitor reads kernel hot-plug notifications from the kobject-uevent
// netlink multicast group. No cgo is involved; the socket is opened with
// raw syscalls.
type Monitor struct {
	fd        int
	mu        sync.RWMutex
	subsystem map[string]bool
}

// NewMonitor opens a netlink socket bound to the kernel's kobject-uevent
// broadcast group, restricted to the given subsystems (no filter means
// every subsystem passes).
func NewMonitor(subsystems ...string) (*Monitor, error) {
	fd, err := syscall.Socket(syscall.AF_NETLINK, syscall.SOCK_DGRAM|syscall.SOCK_CLOEXEC, netlinkKobjectUEvent)
	if err != nil {
		return nil, err
	}

	addr := &syscall.SockaddrNetlink{Family: syscall.AF_NETLINK, Groups: 1}
	if err := syscall.Bind(fd, addr); err != nil {
		syscall.Close(fd)
		return nil, err
	}

	filter := make(map[string]bool, len(subsystems))
	for _, s := range subsystems {
		filter[s] = true
	}
	return &Monitor{fd: fd, subsystem: filter}, nil
}

// Close releases the underlying socket.
func (m *Monitor) Close() error {
	return syscall.Close(m.fd)
}

// Run reads hot-plug events until ctx is cancelled, delivering each one
// that passes the subsystem filter on events. It locks the calling
// goroutine to an OS thread for the duration, since the blocking recv runs
// on a dedicated thread forwarding into the cooperative runtime.
func (m *Monitor) Run(ctx context.Context, events chan<- Event) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(events)

	tv := syscall.Timeval{Sec: 1}
	if err := syscall.SetsockoptTimeval(m.fd, syscall.SOL_SOCKET, syscall.SO_RCVTIMEO, &tv); err != nil {
		return err
	}

	buf := make([]byte, 8192)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, _, err := syscall.Recvfrom(m.fd, buf, 0)
		if err != nil {
			if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EINTR) {
				continue
			}
			return err
		}
		if n == 0 {
			continue
		}

		ev, ok := parseUEvent(buf[:n])
		if !ok {
			continue
		}

		m.mu.RLock()
		pass := len(m.subsystem) == 0 || m.subsystem[ev.Subsystem]
		m.mu.RUnlock()
		if !pass {
			continue
		}

		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// parseUEvent decodes a raw kobject-uevent message of the form
// "ACTION@KOBJ\0KEY=VALUE\0...".
func parseUEvent(data []byte) (Event, bool) {
	if bytes.HasPrefix(data, []byte("libudev")) {
		if idx := bytes.IndexByte(data, 0); idx >= 0 {
			data = data[idx+1:]
		}
	}

	parts := bytes.Split(data, []byte{0})
	if len(parts) == 0 || len(parts[0]) == 0 {
		return Event{}, false
	}

	header := string(parts[0])
	at := strings.Index(header, "@")
	if at < 1 {
		return Event{}, false
	}

	ev := Event{
		Kind:    eventKindFromAction(header[:at]),
		SysPath: "/sys" + header[at+1:],
	}

	for _, part := range parts[1:] {
		if len(part) == 0 {
			continue
		}
		kv := string(part)
		eq := strings.Index(kv, "=")
		if eq < 1 {
			continue
		}
		switch kv[:eq] {
		case "SUBSYSTEM":
			ev.Subsystem = kv[eq+1:]
		case "DEVNAME":
			ev.DevNode = "/dev/" + kv[eq+1:]
		}
	}

	if ev.Subsystem == "" {
		klog.V(5).Infof("kernel: uevent without SUBSYSTEM for %s", ev.SysPath)
	}
	return ev, true
}
