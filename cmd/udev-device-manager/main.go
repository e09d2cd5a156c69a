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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/go-logr/logr/funcr"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"
	pluginapi "k8s.io/kubelet/pkg/apis/deviceplugin/v1beta1"

	"github.com/ocp-power-demos/udev-device-manager/api"
	"github.com/ocp-power-demos/udev-device-manager/internal/config"
	"github.com/ocp-power-demos/udev-device-manager/internal/kernel"
	"github.com/ocp-power-demos/udev-device-manager/internal/reconciler"
	"github.com/ocp-power-demos/udev-device-manager/internal/signals"
	"github.com/ocp-power-demos/udev-device-manager/pkg/plugin"
)

type flags struct {
	configPath   string
	configFormat string
	logFormat    string
	pluginDir    string
	registration string
	verbosity    int
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	f := &flags{}
	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)

	return &cli.App{
		Name:            "udev-device-manager",
		Usage:           "exposes udev-discovered host devices to an orchestrator as device-plugin resources",
		ArgsUsage:       " ",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to the device-plugin configuration file",
				Required:    true,
				Destination: &f.configPath,
				EnvVars:     []string{"CONFIG_FILE"},
			},
			&cli.StringFlag{
				Name:        "config-format",
				Aliases:     []string{"t"},
				Usage:       "configuration file format: auto, json, yaml, or toml",
				Value:       string(config.FormatAuto),
				Destination: &f.configFormat,
				EnvVars:     []string{"CONFIG_FILE_FORMAT"},
			},
			&cli.StringFlag{
				Name:        "log-format",
				Aliases:     []string{"f"},
				Usage:       "log output format: pretty or json",
				Value:       "pretty",
				Destination: &f.logFormat,
				EnvVars:     []string{"LOG_FORMAT"},
			},
			&cli.StringFlag{
				Name:        "plugin-dir",
				Usage:       "directory where kubelet-style device-plugin sockets are created",
				Value:       pluginapi.DevicePluginPath,
				Destination: &f.pluginDir,
				EnvVars:     []string{"PLUGIN_DIR"},
			},
			&cli.StringFlag{
				Name:        "registration-socket",
				Usage:       "path to the orchestrator's registration socket",
				Value:       pluginapi.KubeletSocket,
				Destination: &f.registration,
				EnvVars:     []string{"REGISTRATION_SOCKET"},
			},
			&cli.IntFlag{
				Name:        "v",
				Usage:       "klog verbosity level",
				Destination: &f.verbosity,
				EnvVars:     []string{"LOG_VERBOSITY"},
			},
		},
		Before: func(c *cli.Context) error {
			if c.Args().Len() > 0 {
				return fmt.Errorf("arguments not supported: %v", c.Args().Slice())
			}
			if err := klogFlags.Set("v", c.String("v")); err != nil {
				return err
			}
			return configureLogging(f.logFormat, klogFlags)
		},
		Action: func(c *cli.Context) error {
			return run(c.Context, f)
		},
	}
}

func run(ctx context.Context, f *flags) error {
	format := config.Format(f.configFormat)
	cfg, err := config.Load(f.configPath, format)
	if err != nil {
		return fmt.Errorf("initial config load: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := make(chan struct{})
	defer close(stop)
	configEvents, err := config.Watch(f.configPath, format, stop)
	if err != nil {
		return fmt.Errorf("start config watch: %w", err)
	}

	signalEvents := signals.Watch(ctx)

	kernelEvents := make(chan kernel.Event)
	go runKernelMonitor(ctx, kernelEvents)

	rec := reconciler.New(cfg, newKernelSourceFactory(), plugin.Options{
		PluginDir:          f.pluginDir,
		RegistrationSocket: f.registration,
	})

	klog.Infof("udev-device-manager: starting with config %s", f.configPath)
	return rec.Run(ctx, reconciler.Sources{
		Config:  configEvents,
		Signals: signalEvents,
		Kernel:  kernelEvents,
	})
}

// configureLogging wires --log-format into klog's output. "pretty" leaves
// klog's default human-readable writer untouched; "json" installs a
// funcr-backed logr.Logger as klog's sink and silences klog's own
// stderr writer so every log line is emitted exactly once, as JSON.
func configureLogging(format string, klogFlags *flag.FlagSet) error {
	switch format {
	case "", "pretty":
		return nil
	case "json":
		logger := funcr.NewJSON(func(obj string) {
			fmt.Fprintln(os.Stderr, obj)
		}, funcr.Options{LogTimestamp: true})
		klog.SetLogger(logger)
		for flagName, value := range map[string]string{
			"logtostderr":     "false",
			"alsologtostderr": "false",
			"stderrthreshold": "FATAL",
		} {
			if err := klogFlags.Set(flagName, value); err != nil {
				return fmt.Errorf("configure json logging: %w", err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown log format %q (want pretty or json)", format)
	}
}

// runKernelMonitor forwards netlink hot-plug notifications onto events
// until ctx is cancelled.
func runKernelMonitor(ctx context.Context, events chan<- kernel.Event) {
	mon, err := kernel.NewMonitor()
	if err != nil {
		klog.Errorf("udev-device-manager: failed to start kernel monitor: %v", err)
		<-ctx.Done()
		close(events)
		return
	}
	defer mon.Close()

	if err := mon.Run(ctx, events); err != nil && ctx.Err() == nil {
		klog.Errorf("udev-device-manager: kernel monitor stopped: %v", err)
	}
}

// newKernelSourceFactory builds the enumeration source set for a full scan:
// a generic sysfs walk for every configured subsystem other than "block",
// plus the ghw-backed block reader whenever "block" is among them.
func newKernelSourceFactory() reconciler.KernelSourceFactory {
	return func(cfg *api.Config) kernel.Source {
		seen := make(map[string]bool)
		var sysfsSubsystems []string
		wantBlock := false

		for _, dt := range cfg.DeviceTypes {
			if seen[dt.Subsystem] {
				continue
			}
			seen[dt.Subsystem] = true
			if dt.Subsystem == "block" {
				wantBlock = true
				continue
			}
			sysfsSubsystems = append(sysfsSubsystems, dt.Subsystem)
		}

		sources := []kernel.Source{&kernel.SysfsSource{Subsystems: sysfsSubsystems}}
		if wantBlock {
			sources = append(sources, kernel.GHWBlockSource{})
		}
		return kernel.MultiSource{Sources: sources}
	}
}
