package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/ocp-power-demos/udev-device-manager/internal/selector"
)

// Requirement is a single structured selector predicate:
// {key, operator, values?}. Unknown fields are silently ignored on read;
// duplicated fields are an error.
type Requirement struct {
	Key      string            `toml:"key"`
	Operator selector.Operator `toml:"operator"`
	Values   []string          `toml:"values,omitempty"`
}

func (r Requirement) validate() error {
	switch r.Operator {
	case selector.OpIn, selector.OpNotIn:
		if len(r.Values) == 0 {
			return fmt.Errorf("api: operator %q requires non-empty values", r.Operator)
		}
	case selector.OpExists, selector.OpDoesNotExist:
	default:
		return fmt.Errorf("api: unknown operator %q", r.Operator)
	}
	if r.Key == "" {
		return fmt.Errorf("api: requirement key must not be empty")
	}
	return nil
}

// toSelectorRequirement converts the wire type to the evaluation engine's
// type.
func (r Requirement) toSelectorRequirement() selector.Requirement {
	return selector.Requirement{Key: r.Key, Operator: r.Operator, Values: r.Values}
}

// UnmarshalJSON decodes a Requirement field-by-field, erroring on a
// duplicated field and silently dropping unrecognized ones.
func (r *Requirement) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil { // '{'
		return err
	}
	seen := make(map[string]bool, 3)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		if seen[key] {
			return fmt.Errorf("api: duplicate field %q in requirement", key)
		}
		seen[key] = true
		switch key {
		case "key":
			if err := dec.Decode(&r.Key); err != nil {
				return err
			}
		case "operator":
			var op string
			if err := dec.Decode(&op); err != nil {
				return err
			}
			r.Operator = selector.Operator(op)
		case "values":
			if err := dec.Decode(&r.Values); err != nil {
				return err
			}
		default:
			var discard interface{}
			if err := dec.Decode(&discard); err != nil {
				return err
			}
		}
	}
	if _, err := dec.Token(); err != nil { // '}'
		return err
	}
	return r.validate()
}

// UnmarshalYAML decodes a Requirement mapping node, erroring on a
// duplicated key and silently dropping unrecognized ones.
func (r *Requirement) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("api: requirement at line %d must be a mapping", node.Line)
	}
	seen := make(map[string]bool, 3)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		key := keyNode.Value
		if seen[key] {
			return fmt.Errorf("api: duplicate field %q in requirement at line %d", key, keyNode.Line)
		}
		seen[key] = true
		switch key {
		case "key":
			if err := valNode.Decode(&r.Key); err != nil {
				return err
			}
		case "operator":
			var op string
			if err := valNode.Decode(&op); err != nil {
				return err
			}
			r.Operator = selector.Operator(op)
		case "values":
			if err := valNode.Decode(&r.Values); err != nil {
				return err
			}
		}
	}
	return r.validate()
}

// selectorBody is the shared shape of both AttributeSelector and LabelSelector:
// an optional flat map plus an optional list of structured requirements,
// evaluated in declared order.
type selectorBody struct {
	Flat         map[string]string `json:"-" yaml:"-" toml:"-"`
	Requirements []Requirement     `json:"matchExpressions,omitempty" yaml:"matchExpressions,omitempty" toml:"matchExpressions,omitempty"`
}

func (b selectorBody) toEngineSpec() selector.Spec {
	reqs := make([]selector.Requirement, 0, len(b.Requirements))
	for _, r := range b.Requirements {
		reqs = append(reqs, r.toSelectorRequirement())
	}
	return selector.Spec{Flat: b.Flat, Requirements: reqs}
}

// AttributeSelector is a Selector with flat key "matchAttributes", matched
// against a device's kernel attributes.
type AttributeSelector struct {
	MatchAttributes map[string]string `json:"matchAttributes,omitempty" yaml:"matchAttributes,omitempty" toml:"matchAttributes,omitempty"`
	MatchExpressions []Requirement    `json:"matchExpressions,omitempty" yaml:"matchExpressions,omitempty" toml:"matchExpressions,omitempty"`
}

// ToEngineSpec converts the wire schema to the evaluation engine's type.
func (s AttributeSelector) ToEngineSpec() selector.Spec {
	return selectorBody{Flat: s.MatchAttributes, Requirements: s.MatchExpressions}.toEngineSpec()
}

// LabelSelector is a Selector with flat key "matchLabels", matched against
// a device type's user-assigned labels.
type LabelSelector struct {
	MatchLabels      map[string]string `json:"matchLabels,omitempty" yaml:"matchLabels,omitempty" toml:"matchLabels,omitempty"`
	MatchExpressions []Requirement     `json:"matchExpressions,omitempty" yaml:"matchExpressions,omitempty" toml:"matchExpressions,omitempty"`
}

// ToEngineSpec converts the wire schema to the evaluation engine's type.
func (s LabelSelector) ToEngineSpec() selector.Spec {
	return selectorBody{Flat: s.MatchLabels, Requirements: s.MatchExpressions}.toEngineSpec()
}
