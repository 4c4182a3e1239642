// Package matcher selects write, read and notify characteristics from a
// discovered service tree.
package matcher

import (
	"fmt"

	"github.com/srg/blelink/internal/device"
)

// MatchType names the field of a Result a caller is interested in.
type MatchType string

const (
	MatchWrite  MatchType = "write"
	MatchRead   MatchType = "read"
	MatchNotify MatchType = "notify"
	MatchUUID   MatchType = "uuid"
)

// Result holds the characteristic UUIDs picked by MatchCharacteristics.
type Result struct {
	Write  string
	Read   string
	Notify string
	UUID   string // set only when an explicit policy matched
}

// Get returns the field selected by t.
func (r Result) Get(t MatchType) string {
	switch t {
	case MatchWrite:
		return r.Write
	case MatchRead:
		return r.Read
	case MatchNotify:
		return r.Notify
	case MatchUUID:
		return r.UUID
	default:
		return ""
	}
}

// IsEmpty reports whether nothing was matched.
func (r Result) IsEmpty() bool {
	return r == Result{}
}

// Selection is the outcome of MatchServicesCharacteristics.
type Selection struct {
	Service        string
	Characteristic string
	Result         Result
}

// MatchCharacteristics scans chars once. A non-zero policy that some UUID
// satisfies short-circuits with only UUID set; otherwise the first
// characteristic offering each capability is kept.
func MatchCharacteristics(chars []device.Characteristic, policy device.MatchPolicy) Result {
	var r Result
	for _, c := range chars {
		if !policy.IsZero() && policy.Match(c.UUID) {
			return Result{UUID: c.UUID}
		}
		if c.Properties.Write && r.Write == "" {
			r.Write = c.UUID
		}
		if c.Properties.Read && r.Read == "" {
			r.Read = c.UUID
		}
		if c.Properties.Notify && r.Notify == "" {
			r.Notify = c.UUID
		}
	}
	return r
}

// TypeFor returns MatchUUID when policy is explicit and fallback otherwise.
func TypeFor(policy device.MatchPolicy, fallback MatchType) MatchType {
	if policy.IsZero() {
		return fallback
	}
	return MatchUUID
}

// MatchServicesCharacteristics walks services in discovery order and returns
// the first one whose characteristics yield a non-empty value for t.
func MatchServicesCharacteristics(tree *ServiceTree, t MatchType, policy device.MatchPolicy) (Selection, error) {
	if tree.Len() == 0 {
		return Selection{}, device.NewError(device.KindServiceMatchFailed, "no services discovered", nil)
	}

	var sel Selection
	found := false
	tree.Each(func(service string, chars []device.Characteristic) bool {
		r := MatchCharacteristics(chars, policy)
		if v := r.Get(t); v != "" {
			sel = Selection{Service: service, Characteristic: v, Result: r}
			found = true
			return false
		}
		return true
	})

	if !found {
		return Selection{}, device.NewError(device.KindCharacteristicMatchFailed,
			fmt.Sprintf("no %s characteristic matching %s in %d services", t, policy, tree.Len()), nil)
	}
	return sel, nil
}
