package device

import (
	"context"
	"time"
)

// AdvertisedDevice is a single discovery result reported by a Gateway.
type AdvertisedDevice struct {
	SystemID           string // platform device id used to connect
	Name               string
	LocalName          string
	AdvertisementBytes []byte // raw manufacturer payload, company id first
	RSSI               int
}

// Properties is the capability set of a GATT characteristic.
type Properties struct {
	Read   bool
	Write  bool
	Notify bool
}

// Characteristic is a discovered GATT characteristic.
type Characteristic struct {
	UUID       string
	Properties Properties
}

// DiscoveryOptions configures a discovery session on the gateway.
type DiscoveryOptions struct {
	AllowDuplicates bool
	Services        []string // optional advertised-service filter
}

// EventType identifies the kind of gateway Event.
type EventType int

const (
	EventAdapterState EventType = iota
	EventConnectionState
	EventValueChange
)

func (t EventType) String() string {
	switch t {
	case EventAdapterState:
		return "adapter_state"
	case EventConnectionState:
		return "connection_state"
	case EventValueChange:
		return "value_change"
	default:
		return "unknown"
	}
}

// Event is emitted by a Gateway on its event stream. Only the fields relevant
// to Type are populated.
type Event struct {
	Type EventType

	Available bool // EventAdapterState

	SystemID  string // EventConnectionState, EventValueChange
	Connected bool   // EventConnectionState

	Characteristic string // EventValueChange
	Value          []byte // EventValueChange
}

// AdapterStateChanged builds an EventAdapterState event.
func AdapterStateChanged(available bool) Event {
	return Event{Type: EventAdapterState, Available: available}
}

// ConnectionStateChanged builds an EventConnectionState event.
func ConnectionStateChanged(systemID string, connected bool) Event {
	return Event{Type: EventConnectionState, SystemID: systemID, Connected: connected}
}

// ValueChanged builds an EventValueChange event.
func ValueChanged(systemID, characteristic string, value []byte) Event {
	return Event{Type: EventValueChange, SystemID: systemID, Characteristic: characteristic, Value: value}
}

// Discoverer is the discovery half of a Gateway.
//
// StartDiscovery returns once discovery is running; handler is invoked for
// every advertisement until StopDiscovery is called or ctx is done.
type Discoverer interface {
	StartDiscovery(ctx context.Context, opts DiscoveryOptions, handler func(AdvertisedDevice)) error
	StopDiscovery() error
}

// Gateway is the host radio binding consumed by the connection core.
//
// Faults are reported as *StatusError (possibly wrapped) so callers can
// classify them by status code. Connect reports an already established link
// with StatusAlreadyConnected.
type Gateway interface {
	Discoverer

	OpenAdapter(ctx context.Context) error
	CloseAdapter() error

	Connect(ctx context.Context, systemID string, timeout time.Duration) error
	Disconnect(systemID string) error

	Services(ctx context.Context, systemID string) ([]string, error)
	Characteristics(ctx context.Context, systemID, service string) ([]Characteristic, error)

	Write(ctx context.Context, systemID, service, characteristic string, data []byte) error
	SubscribeNotify(ctx context.Context, systemID, service, characteristic string, enable bool) error

	// ConnectedDevices lists system ids with a live link exposing at least one
	// of the given services; an empty filter lists every live link.
	ConnectedDevices(ctx context.Context, services []string) ([]string, error)

	// SetEventHandler installs the single receiver of adapter, connection and
	// value-change events. It replaces any previous handler.
	SetEventHandler(handler func(Event))
}
