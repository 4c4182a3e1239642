package device

import (
	"fmt"
	"regexp"
	"strings"
)

// PolicyKind is the variant held by a MatchPolicy.
type PolicyKind int

const (
	PolicyAny PolicyKind = iota
	PolicyExact
	PolicyPattern
	PolicyPredicate
)

// MatchPolicy selects services or characteristics by UUID.
// The zero value matches everything and is reported as IsZero.
type MatchPolicy struct {
	kind      PolicyKind
	exact     string
	pattern   *regexp.Regexp
	predicate func(string) bool
}

// Exact matches a single UUID in any notation.
func Exact(uuid string) MatchPolicy {
	return MatchPolicy{kind: PolicyExact, exact: NormalizeUUID(uuid)}
}

// Pattern matches UUIDs against re. A nil expression yields the zero policy.
func Pattern(re *regexp.Regexp) MatchPolicy {
	if re == nil {
		return MatchPolicy{}
	}
	return MatchPolicy{kind: PolicyPattern, pattern: re}
}

// Predicate matches UUIDs accepted by fn. A nil fn yields the zero policy.
func Predicate(fn func(uuid string) bool) MatchPolicy {
	if fn == nil {
		return MatchPolicy{}
	}
	return MatchPolicy{kind: PolicyPredicate, predicate: fn}
}

// ParsePolicy builds a policy from user input: an empty string is the zero
// policy, a well-formed UUID is Exact, anything else is compiled as a
// case-insensitive pattern.
func ParsePolicy(expr string) (MatchPolicy, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return MatchPolicy{}, nil
	}
	if _, err := ValidateUUID(expr); err == nil {
		return Exact(expr), nil
	}
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return MatchPolicy{}, fmt.Errorf("invalid match pattern %q: %w", expr, err)
	}
	return Pattern(re), nil
}

// Kind returns the policy variant.
func (p MatchPolicy) Kind() PolicyKind {
	return p.kind
}

// IsZero reports whether the policy is unset.
func (p MatchPolicy) IsZero() bool {
	return p.kind == PolicyAny
}

// Match evaluates the policy against a UUID.
func (p MatchPolicy) Match(uuid string) bool {
	switch p.kind {
	case PolicyExact:
		return NormalizeUUID(uuid) == p.exact
	case PolicyPattern:
		return p.pattern.MatchString(uuid) || p.pattern.MatchString(NormalizeUUID(uuid))
	case PolicyPredicate:
		return p.predicate(uuid)
	default:
		return true
	}
}

func (p MatchPolicy) String() string {
	switch p.kind {
	case PolicyExact:
		return "exact:" + p.exact
	case PolicyPattern:
		return "pattern:" + p.pattern.String()
	case PolicyPredicate:
		return "predicate"
	default:
		return "any"
	}
}
