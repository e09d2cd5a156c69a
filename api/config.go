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

// Package api holds the on-disk configuration schema: device types and
// device classes, their access policy, labels, and selectors.
package api

// Config is the top-level configuration file schema.
type Config struct {
	DeviceTypes   []DeviceType  `json:"devices" yaml:"devices" toml:"devices"`
	DeviceClasses []DeviceClass `json:"deviceClasses" yaml:"deviceClasses" toml:"deviceClasses"`
}

// DeviceType is an operator-defined filter plus labels plus access policy
// over kernel devices. Born at config load; dies when removed from config.
type DeviceType struct {
	Name      string            `json:"name" yaml:"name" toml:"name"`
	Subsystem string            `json:"subsystem" yaml:"subsystem" toml:"subsystem"`
	Access    DeviceAccess      `json:"access" yaml:"access" toml:"access"`
	Labels    map[string]string `json:"labels,omitempty" yaml:"labels,omitempty" toml:"labels,omitempty"`
	Selector  AttributeSelector `json:"selector,omitempty" yaml:"selector,omitempty" toml:"selector,omitempty"`
}

// DeviceClass is an operator-defined handler that advertises a resource
// name to the orchestrator and serves a set of device types' slots.
type DeviceClass struct {
	Name      string        `json:"name" yaml:"name" toml:"name"`
	Subsystem string        `json:"subsystem" yaml:"subsystem" toml:"subsystem"`
	Target    string        `json:"target" yaml:"target" toml:"target"`
	Selector  LabelSelector `json:"selector,omitempty" yaml:"selector,omitempty" toml:"selector,omitempty"`
}
