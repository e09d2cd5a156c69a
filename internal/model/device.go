// Package model holds the canonical in-memory representation of a kernel
// device and its inherited-attribute view.
package model

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"unicode/utf8"

	"github.com/ocp-power-demos/udev-device-manager/internal/intern"
)

// AttributeKind classifies an AttributeValue.
type AttributeKind int

const (
	// KindPresent means the attribute exists and holds a valid, non-empty
	// UTF-8 value.
	KindPresent AttributeKind = iota
	// KindEmpty means the attribute exists but its value is empty.
	KindEmpty
	// KindInvalid means the attribute exists but its bytes are not valid
	// UTF-8.
	KindInvalid
)

// AttributeValue is the tagged union of a single kernel device attribute's
// classification. Only KindPresent counts as "existing" for selector
// operators.
type AttributeValue struct {
	Kind  AttributeKind
	Value intern.String
}

// Present builds a Present(value) attribute.
func Present(value string) AttributeValue {
	return AttributeValue{Kind: KindPresent, Value: intern.Intern(value)}
}

// Empty is the shared Empty attribute value.
var Empty = AttributeValue{Kind: KindEmpty}

// Invalid is the shared Invalid attribute value.
var Invalid = AttributeValue{Kind: KindInvalid}

// IsPresent reports whether the attribute counts as existing.
func (a AttributeValue) IsPresent() bool {
	return a.Kind == KindPresent
}

// ClassifyAttribute classifies a raw attribute byte slice per the device
// model's rules: non-UTF-8 bytes are Invalid, empty bytes are Empty,
// otherwise Present.
func ClassifyAttribute(raw []byte) AttributeValue {
	if len(raw) == 0 {
		return Empty
	}
	if !utf8.Valid(raw) {
		return Invalid
	}
	return Present(string(raw))
}

// Device error taxonomy, mirroring the kernel device conversion contract.
var (
	ErrNoSubsystem          = errors.New("model: device has no subsystem")
	ErrNoDevnode            = errors.New("model: device has no devnode")
	ErrInvalidSubsystem     = errors.New("model: subsystem is not valid UTF-8")
	ErrInvalidPath          = errors.New("model: path is not valid UTF-8")
	ErrInvalidAttributeName = errors.New("model: attribute name is not valid UTF-8")
)

// InvalidPathError reports the kind of path (syspath/devnode) that failed
// UTF-8 validation and the offending bytes.
type InvalidPathError struct {
	Kind  string
	Bytes []byte
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("model: invalid %s path bytes: %q", e.Kind, e.Bytes)
}

func (e *InvalidPathError) Unwrap() error {
	return ErrInvalidPath
}

// Device is the canonical representation of a kernel device: a stable id,
// its subsystem, sysfs path (primary key), optional devnode, and an
// inherited-attribute view built by walking the device's ancestor chain.
type Device struct {
	ID         string
	Subsystem  intern.String
	SysPath    intern.String
	DevNode    intern.String
	Attributes map[string]AttributeValue
}

// AttributeNames returns the device's attribute names in sorted order, the
// order selector evaluation requires for flat-map entries.
func (d *Device) AttributeNames() []string {
	names := make([]string, 0, len(d.Attributes))
	for name := range d.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup implements the selector engine's lookup contract: returns the
// attribute's value if present.
func (d *Device) Lookup(key string) (AttributeValue, bool) {
	v, ok := d.Attributes[key]
	return v, ok
}

// DeviceID computes the orchestrator-facing device id prefix: the first 8
// bytes of a 64-bit FNV-1a digest of the sysfs path, base64 URL-safe
// encoded without padding.
func DeviceID(syspath string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(syspath))
	sum := h.Sum64()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], sum)
	return base64.RawURLEncoding.EncodeToString(buf[:])
}
