package matcher

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blelink/internal/device"
)

// ServiceTree is a discovered GATT tree: service UUID to characteristics,
// iterated in discovery order.
type ServiceTree struct {
	services *orderedmap.OrderedMap[string, []device.Characteristic]
}

// NewServiceTree returns an empty tree.
func NewServiceTree() *ServiceTree {
	return &ServiceTree{services: orderedmap.New[string, []device.Characteristic]()}
}

// Add records a service and its characteristics. Re-adding a service keeps
// its original position and replaces the characteristics.
func (t *ServiceTree) Add(service string, chars []device.Characteristic) {
	cp := make([]device.Characteristic, len(chars))
	copy(cp, chars)
	t.services.Set(service, cp)
}

// Len returns the number of services.
func (t *ServiceTree) Len() int {
	if t == nil {
		return 0
	}
	return t.services.Len()
}

// Services returns service UUIDs in discovery order.
func (t *ServiceTree) Services() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, t.services.Len())
	for pair := t.services.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// Characteristics returns the characteristics of a service.
func (t *ServiceTree) Characteristics(service string) ([]device.Characteristic, bool) {
	if t == nil {
		return nil, false
	}
	return t.services.Get(service)
}

// Each visits services in discovery order until fn returns false.
func (t *ServiceTree) Each(fn func(service string, chars []device.Characteristic) bool) {
	if t == nil {
		return
	}
	for pair := t.services.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Key, pair.Value) {
			return
		}
	}
}
