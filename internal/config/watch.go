package config

import (
	"time"

	"github.com/fsnotify/fsnotify"
	"k8s.io/klog/v2"

	"github.com/ocp-power-demos/udev-device-manager/api"
)

// Debounce is the delay after the last observed write event before the
// file is re-read.
const Debounce = 2 * time.Second

// Event is a single config-reload outcome delivered by Watch: either a
// freshly parsed Config, or an error from a failed reload (the previous
// config is retained by the caller; the watcher stays healthy).
type Event struct {
	Config *api.Config
	Err    error
}

// Watch watches path for writes/creates/renames, debounces them by
// Debounce, and re-parses the file on each settled change, sending one
// Event per reload attempt on the returned channel until stop is closed.
func Watch(path string, format Format, stop <-chan struct{}) (<-chan Event, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}

	events := make(chan Event)

	go func() {
		defer watcher.Close()
		defer close(events)

		var timer *time.Timer
		var timerC <-chan time.Time

		for {
			select {
			case <-stop:
				return

			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(Debounce)
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(Debounce)
				}
				timerC = timer.C

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				klog.Errorf("config watch: %v", err)

			case <-timerC:
				timerC = nil
				cfg, err := Load(path, format)
				events <- Event{Config: cfg, Err: err}
			}
		}
	}()

	return events, nil
}
