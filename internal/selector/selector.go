// Package selector implements the boolean predicate language used to match
// kernel device attributes and device-type labels against operator-defined
// filters.
package selector

import (
	"fmt"
	"sort"
)

// Operator is a structured requirement's comparison operator.
type Operator string

const (
	OpIn           Operator = "In"
	OpNotIn        Operator = "NotIn"
	OpExists       Operator = "Exists"
	OpDoesNotExist Operator = "DoesNotExist"
)

// Requirement is a single structured predicate: "key op values".
type Requirement struct {
	Key      string
	Operator Operator
	Values   []string
}

// Spec is a selector: an optional flat key/value map (shorthand for In with
// a singleton value set) plus an optional list of structured requirements,
// evaluated in declared order.
type Spec struct {
	Flat         map[string]string
	Requirements []Requirement
}

// Lookup resolves a key to a present value. ok is false when the key is
// absent, empty, or invalid — selector operators only treat a true ok as
// "existing".
type Lookup func(key string) (value string, ok bool)

// Reason is a single structured mismatch explanation.
type Reason struct {
	Key      string
	Expected string
	Actual   string
}

// MatchResult is the monoidal outcome of evaluating a Spec: Matches is true
// iff every predicate matched; Reasons accumulates every failing predicate,
// never short-circuiting.
type MatchResult struct {
	Matches bool
	Reasons []Reason
}

// ok is the zero-reason, successful MatchResult.
var ok = MatchResult{Matches: true}

// Combine merges two MatchResults monoidally: Matches iff both match;
// otherwise the concatenation of both reason lists.
func Combine(a, b MatchResult) MatchResult {
	if a.Matches && b.Matches {
		return ok
	}
	reasons := make([]Reason, 0, len(a.Reasons)+len(b.Reasons))
	reasons = append(reasons, a.Reasons...)
	reasons = append(reasons, b.Reasons...)
	return MatchResult{Matches: false, Reasons: reasons}
}

// MatchWith evaluates spec against lookup, returning a MatchResult.
// Evaluation order is deterministic: flat entries first in key-sorted
// order, then requirements in declared order. All failing predicates are
// collected; evaluation never short-circuits.
func MatchWith(spec Spec, lookup Lookup) MatchResult {
	result := ok

	keys := make([]string, 0, len(spec.Flat))
	for k := range spec.Flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		result = Combine(result, matchIn(k, []string{spec.Flat[k]}, lookup))
	}

	for _, req := range spec.Requirements {
		result = Combine(result, matchRequirement(req, lookup))
	}

	return result
}

func matchRequirement(req Requirement, lookup Lookup) MatchResult {
	switch req.Operator {
	case OpIn:
		return matchIn(req.Key, req.Values, lookup)
	case OpNotIn:
		return matchNotIn(req.Key, req.Values, lookup)
	case OpExists:
		return matchExists(req.Key, lookup)
	case OpDoesNotExist:
		return matchDoesNotExist(req.Key, lookup)
	default:
		return MatchResult{
			Matches: false,
			Reasons: []Reason{{Key: req.Key, Expected: fmt.Sprintf("known operator, got %q", req.Operator), Actual: ""}},
		}
	}
}

func matchIn(key string, values []string, lookup Lookup) MatchResult {
	actual, present := lookup(key)
	if present && contains(values, actual) {
		return ok
	}
	actualDesc := "<absent>"
	if present {
		actualDesc = actual
	}
	return MatchResult{
		Matches: false,
		Reasons: []Reason{{Key: key, Expected: fmt.Sprintf("one of %v", values), Actual: actualDesc}},
	}
}

func matchNotIn(key string, values []string, lookup Lookup) MatchResult {
	actual, present := lookup(key)
	if !present || !contains(values, actual) {
		return ok
	}
	return MatchResult{
		Matches: false,
		Reasons: []Reason{{Key: key, Expected: fmt.Sprintf("none of %v", values), Actual: actual}},
	}
}

func matchExists(key string, lookup Lookup) MatchResult {
	if _, present := lookup(key); present {
		return ok
	}
	return MatchResult{
		Matches: false,
		Reasons: []Reason{{Key: key, Expected: "present", Actual: "<absent>"}},
	}
}

func matchDoesNotExist(key string, lookup Lookup) MatchResult {
	if _, present := lookup(key); !present {
		return ok
	}
	actual, _ := lookup(key)
	return MatchResult{
		Matches: false,
		Reasons: []Reason{{Key: key, Expected: "absent", Actual: actual}},
	}
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
