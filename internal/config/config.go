// Package config loads and watches the on-disk device-plugin configuration
// file, detecting its format by extension or explicit override.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/ocp-power-demos/udev-device-manager/api"
)

// Format names a supported configuration file encoding.
type Format string

const (
	FormatAuto Format = "auto"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// ErrorKind classifies a ConfigError.
type ErrorKind int

const (
	ErrInvalidExtension ErrorKind = iota
	ErrMissingExtension
	ErrParseJSON
	ErrParseYAML
	ErrParseTOML
	ErrIO
)

// Error is the config loader's error taxonomy. Raised only by the loader:
// on first load it is fatal; on a watcher reload it is logged and the
// previous config retained.
type Error struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrInvalidExtension:
		return fmt.Sprintf("config: %s: unrecognized extension", e.Path)
	case ErrMissingExtension:
		return fmt.Sprintf("config: %s: no extension and no explicit format given", e.Path)
	case ErrParseJSON:
		return fmt.Sprintf("config: %s: invalid JSON: %v", e.Path, e.Err)
	case ErrParseYAML:
		return fmt.Sprintf("config: %s: invalid YAML: %v", e.Path, e.Err)
	case ErrParseTOML:
		return fmt.Sprintf("config: %s: invalid TOML: %v", e.Path, e.Err)
	default:
		return fmt.Sprintf("config: %s: %v", e.Path, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// DetectFormat resolves the effective format for path given an explicit
// override (which may be FormatAuto). Unknown or missing extensions under
// auto mode error out.
func DetectFormat(path string, explicit Format) (Format, error) {
	if explicit != "" && explicit != FormatAuto {
		return explicit, nil
	}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case "":
		return "", &Error{Kind: ErrMissingExtension, Path: path}
	default:
		return "", &Error{Kind: ErrInvalidExtension, Path: path}
	}
}

// Load reads and parses the configuration file at path using the resolved
// format (explicit override, or by extension when explicit is FormatAuto
// or empty).
func Load(path string, explicit Format) (*api.Config, error) {
	format, err := DetectFormat(path, explicit)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, &Error{Kind: ErrIO, Path: path, Err: err}
	}

	return Parse(data, format, path)
}

// Parse decodes data in the given format. path is used only for error
// messages.
func Parse(data []byte, format Format, path string) (*api.Config, error) {
	var cfg api.Config
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&cfg); err != nil {
			return nil, &Error{Kind: ErrParseJSON, Path: path, Err: err}
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, &Error{Kind: ErrParseYAML, Path: path, Err: err}
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, &Error{Kind: ErrParseTOML, Path: path, Err: err}
		}
	default:
		return nil, &Error{Kind: ErrInvalidExtension, Path: path, Err: fmt.Errorf("unsupported format %q", format)}
	}
	return &cfg, nil
}
