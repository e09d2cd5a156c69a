package api

import (
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// AccessKind distinguishes the two DeviceAccess variants.
type AccessKind int

const (
	// AccessExclusive grants exactly one slot per matching device.
	AccessExclusive AccessKind = iota
	// AccessAtMost grants N slots (N in [1,255]) per matching device.
	AccessAtMost
)

// DeviceAccess is either Exclusive (one slot per device) or AtMost(n) for
// n in [1,255], giving n slots per matching device. The zero value is
// Exclusive, matching the schema's default.
type DeviceAccess struct {
	Kind AccessKind
	N    int
}

// Exclusive is the default access policy.
var Exclusive = DeviceAccess{Kind: AccessExclusive}

// AtMost builds an AtMost(n) access policy. n must be in [1,255].
func AtMost(n int) (DeviceAccess, error) {
	if n < 1 || n > 255 {
		return DeviceAccess{}, fmt.Errorf("api: access count %d out of range [1,255]", n)
	}
	return DeviceAccess{Kind: AccessAtMost, N: n}, nil
}

// SlotCount returns the number of slots this access policy grants per
// matching device.
func (a DeviceAccess) SlotCount() int {
	if a.Kind == AccessExclusive {
		return 1
	}
	return a.N
}

func (a DeviceAccess) String() string {
	if a.Kind == AccessExclusive {
		return "exclusive"
	}
	return strconv.Itoa(a.N)
}

func (a *DeviceAccess) fromString(s string) error {
	if s == "exclusive" {
		*a = Exclusive
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("api: invalid access value %q: %w", s, err)
	}
	access, err := AtMost(n)
	if err != nil {
		return err
	}
	*a = access
	return nil
}

func (a *DeviceAccess) fromInt(n int) error {
	access, err := AtMost(n)
	if err != nil {
		return err
	}
	*a = access
	return nil
}

// MarshalJSON encodes Exclusive as the string "exclusive" and AtMost(n) as
// a bare integer.
func (a DeviceAccess) MarshalJSON() ([]byte, error) {
	if a.Kind == AccessExclusive {
		return json.Marshal("exclusive")
	}
	return json.Marshal(a.N)
}

// UnmarshalJSON accepts either the string "exclusive" or an integer n in
// [1,255].
func (a *DeviceAccess) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		return a.fromString(asString)
	}
	var asInt int
	if err := json.Unmarshal(data, &asInt); err == nil {
		return a.fromInt(asInt)
	}
	return fmt.Errorf("api: access must be \"exclusive\" or an integer, got %s", data)
}

// MarshalYAML mirrors MarshalJSON's encoding for YAML output.
func (a DeviceAccess) MarshalYAML() (interface{}, error) {
	if a.Kind == AccessExclusive {
		return "exclusive", nil
	}
	return a.N, nil
}

// UnmarshalYAML accepts either the scalar "exclusive" or an integer n in
// [1,255].
func (a *DeviceAccess) UnmarshalYAML(node *yaml.Node) error {
	var asString string
	if err := node.Decode(&asString); err == nil && node.Tag != "!!int" {
		return a.fromString(asString)
	}
	var asInt int
	if err := node.Decode(&asInt); err == nil {
		return a.fromInt(asInt)
	}
	return fmt.Errorf("api: access must be \"exclusive\" or an integer, line %d", node.Line)
}

// UnmarshalTOML accepts either the string "exclusive" or an integer n in
// [1,255], matching BurntSushi/toml's Unmarshaler hook.
func (a *DeviceAccess) UnmarshalTOML(value interface{}) error {
	switch v := value.(type) {
	case string:
		return a.fromString(v)
	case int64:
		return a.fromInt(int(v))
	case int:
		return a.fromInt(v)
	default:
		return fmt.Errorf("api: access must be \"exclusive\" or an integer, got %T", value)
	}
}
