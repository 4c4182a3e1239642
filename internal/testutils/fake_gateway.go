//go:build test

package testutils

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/srg/blelink/internal/device"
)

// FakeService is a GATT service exposed by a FakePeripheral.
type FakeService struct {
	UUID            string
	Characteristics []device.Characteristic
}

// FakePeripheral is a simulated BLE peripheral.
type FakePeripheral struct {
	SystemID      string
	Name          string
	LocalName     string
	Advertisement []byte
	Services      []FakeService
	RSSI          int // -50 when zero

	// Hidden peripherals are not advertised during discovery.
	Hidden bool
}

// WriteCall records a write that reached the fake radio.
type WriteCall struct {
	SystemID       string
	Service        string
	Characteristic string
	Data           []byte
}

// Fake gateway operation names used with FailNext and Calls.
const (
	OpOpenAdapter      = "OpenAdapter"
	OpStartDiscovery   = "StartDiscovery"
	OpConnect          = "Connect"
	OpDisconnect       = "Disconnect"
	OpServices         = "Services"
	OpCharacteristics  = "Characteristics"
	OpWrite            = "Write"
	OpSubscribeNotify  = "SubscribeNotify"
	OpConnectedDevices = "ConnectedDevices"
)

// FakeGateway is a stateful in-memory device.Gateway. Peripherals are
// advertised asynchronously in registration order when discovery starts.
// Errors can be scripted per operation with FailNext.
type FakeGateway struct {
	mu sync.Mutex

	peripherals []*FakePeripheral
	connected   map[string]bool
	subscribed  map[string]bool
	adapterOpen bool

	handler    func(device.Event)
	scanCancel context.CancelFunc

	failures map[string][]error
	calls    map[string]int
	writes   []WriteCall

	// AdvertiseInterval delays each advertisement during discovery.
	AdvertiseInterval time.Duration
	// OnWrite, when set, is invoked after each successful write.
	OnWrite func(WriteCall)
}

// NewFakeGateway creates a gateway with the given peripherals.
func NewFakeGateway(peripherals ...*FakePeripheral) *FakeGateway {
	return &FakeGateway{
		peripherals: peripherals,
		connected:   make(map[string]bool),
		subscribed:  make(map[string]bool),
		failures:    make(map[string][]error),
		calls:       make(map[string]int),
	}
}

// AddPeripheral registers another peripheral.
func (g *FakeGateway) AddPeripheral(p *FakePeripheral) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.peripherals = append(g.peripherals, p)
}

// UpdatePeripheral mutates a registered peripheral under the gateway lock.
func (g *FakeGateway) UpdatePeripheral(systemID string, fn func(p *FakePeripheral)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p := g.findLocked(systemID); p != nil {
		fn(p)
	}
}

// FailNext queues errors returned by the next calls of op, one per call.
func (g *FakeGateway) FailNext(op string, errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op] = append(g.failures[op], errs...)
}

// Calls returns how many times op was invoked.
func (g *FakeGateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// Writes returns the successful writes in order.
func (g *FakeGateway) Writes() []WriteCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]WriteCall, len(g.writes))
	copy(out, g.writes)
	return out
}

// IsLinked reports whether a link to systemID is up.
func (g *FakeGateway) IsLinked(systemID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected[systemID]
}

// IsSubscribed reports whether notifications are enabled on a characteristic.
func (g *FakeGateway) IsSubscribed(systemID, service, characteristic string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.subscribed[subKey(systemID, service, characteristic)]
}

// Notify emits a characteristic value change.
func (g *FakeGateway) Notify(systemID, characteristic string, value []byte) {
	g.emit(device.ValueChanged(systemID, characteristic, value))
}

// DropLink simulates the peripheral going away.
func (g *FakeGateway) DropLink(systemID string) {
	g.mu.Lock()
	wasConnected := g.connected[systemID]
	delete(g.connected, systemID)
	g.mu.Unlock()

	if wasConnected {
		g.emit(device.ConnectionStateChanged(systemID, false))
	}
}

// SetAdapterAvailable emits an adapter state change.
func (g *FakeGateway) SetAdapterAvailable(available bool) {
	g.mu.Lock()
	g.adapterOpen = available
	if !available {
		g.connected = make(map[string]bool)
	}
	g.mu.Unlock()
	g.emit(device.AdapterStateChanged(available))
}

func (g *FakeGateway) OpenAdapter(ctx context.Context) error {
	if err := g.begin(OpOpenAdapter); err != nil {
		return err
	}
	g.mu.Lock()
	g.adapterOpen = true
	g.mu.Unlock()
	return nil
}

func (g *FakeGateway) CloseAdapter() error {
	g.mu.Lock()
	g.adapterOpen = false
	g.connected = make(map[string]bool)
	g.mu.Unlock()
	return nil
}

func (g *FakeGateway) StartDiscovery(ctx context.Context, opts device.DiscoveryOptions, handler func(device.AdvertisedDevice)) error {
	if err := g.begin(OpStartDiscovery); err != nil {
		return err
	}

	g.mu.Lock()
	if g.scanCancel != nil {
		g.scanCancel()
	}
	scanCtx, cancel := context.WithCancel(ctx)
	g.scanCancel = cancel
	advs := make([]device.AdvertisedDevice, 0, len(g.peripherals))
	for _, p := range g.peripherals {
		if !p.Hidden && p.advertises(opts.Services) {
			advs = append(advs, p.advertised())
		}
	}
	interval := g.AdvertiseInterval
	g.mu.Unlock()

	go func() {
		for _, adv := range advs {
			if interval > 0 {
				select {
				case <-scanCtx.Done():
					return
				case <-time.After(interval):
				}
			}
			if scanCtx.Err() != nil {
				return
			}
			handler(adv)
		}
	}()
	return nil
}

func (g *FakeGateway) StopDiscovery() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.scanCancel != nil {
		g.scanCancel()
		g.scanCancel = nil
	}
	return nil
}

func (g *FakeGateway) Connect(ctx context.Context, systemID string, _ time.Duration) error {
	if err := g.begin(OpConnect); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.findLocked(systemID) == nil {
		return device.Status(device.StatusNoDevice)
	}
	if g.connected[systemID] {
		return device.Status(device.StatusAlreadyConnected)
	}
	g.connected[systemID] = true
	return nil
}

func (g *FakeGateway) Disconnect(systemID string) error {
	if err := g.begin(OpDisconnect); err != nil {
		return err
	}
	g.DropLink(systemID)
	return nil
}

func (g *FakeGateway) Services(ctx context.Context, systemID string) ([]string, error) {
	if err := g.begin(OpServices); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	p, err := g.linkedLocked(systemID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(p.Services))
	for _, s := range p.Services {
		out = append(out, s.UUID)
	}
	return out, nil
}

func (g *FakeGateway) Characteristics(ctx context.Context, systemID, service string) ([]device.Characteristic, error) {
	if err := g.begin(OpCharacteristics); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	p, err := g.linkedLocked(systemID)
	if err != nil {
		return nil, err
	}
	svc := p.service(service)
	if svc == nil {
		return nil, device.Status(device.StatusNoService)
	}
	out := make([]device.Characteristic, len(svc.Characteristics))
	copy(out, svc.Characteristics)
	return out, nil
}

func (g *FakeGateway) Write(ctx context.Context, systemID, service, characteristic string, data []byte) error {
	if err := g.begin(OpWrite); err != nil {
		return err
	}
	g.mu.Lock()

	p, err := g.linkedLocked(systemID)
	if err != nil {
		g.mu.Unlock()
		return err
	}
	if err := p.lookup(service, characteristic); err != nil {
		g.mu.Unlock()
		return err
	}
	call := WriteCall{SystemID: systemID, Service: service, Characteristic: characteristic, Data: append([]byte(nil), data...)}
	g.writes = append(g.writes, call)
	onWrite := g.OnWrite
	g.mu.Unlock()

	if onWrite != nil {
		onWrite(call)
	}
	return nil
}

func (g *FakeGateway) SubscribeNotify(ctx context.Context, systemID, service, characteristic string, enable bool) error {
	if err := g.begin(OpSubscribeNotify); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	p, err := g.linkedLocked(systemID)
	if err != nil {
		return err
	}
	if err := p.lookup(service, characteristic); err != nil {
		return err
	}
	g.subscribed[subKey(systemID, service, characteristic)] = enable
	return nil
}

func (g *FakeGateway) ConnectedDevices(ctx context.Context, services []string) ([]string, error) {
	if err := g.begin(OpConnectedDevices); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []string
	for _, p := range g.peripherals {
		if !g.connected[p.SystemID] {
			continue
		}
		if len(services) == 0 {
			out = append(out, p.SystemID)
			continue
		}
		for _, s := range services {
			if p.service(s) != nil {
				out = append(out, p.SystemID)
				break
			}
		}
	}
	return out, nil
}

func (g *FakeGateway) SetEventHandler(handler func(device.Event)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handler = handler
}

// begin counts the call and pops a scripted failure.
func (g *FakeGateway) begin(op string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls[op]++
	if q := g.failures[op]; len(q) > 0 {
		g.failures[op] = q[1:]
		return q[0]
	}
	if op != OpOpenAdapter && !g.adapterOpen {
		return device.Status(device.StatusNotInitialized)
	}
	return nil
}

func (g *FakeGateway) emit(ev device.Event) {
	g.mu.Lock()
	handler := g.handler
	g.mu.Unlock()
	if handler != nil {
		handler(ev)
	}
}

func (g *FakeGateway) findLocked(systemID string) *FakePeripheral {
	for _, p := range g.peripherals {
		if p.SystemID == systemID {
			return p
		}
	}
	return nil
}

func (g *FakeGateway) linkedLocked(systemID string) (*FakePeripheral, error) {
	p := g.findLocked(systemID)
	if p == nil || !g.connected[systemID] {
		return nil, device.Status(device.StatusConnectionLost)
	}
	return p, nil
}

func (p *FakePeripheral) advertised() device.AdvertisedDevice {
	rssi := p.RSSI
	if rssi == 0 {
		rssi = -50
	}
	return device.AdvertisedDevice{
		SystemID:           p.SystemID,
		Name:               p.Name,
		LocalName:          p.LocalName,
		AdvertisementBytes: append([]byte(nil), p.Advertisement...),
		RSSI:               rssi,
	}
}

// advertises treats every GATT service of the peripheral as advertised.
func (p *FakePeripheral) advertises(filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, want := range filter {
		if p.service(want) != nil {
			return true
		}
	}
	return false
}

func (p *FakePeripheral) service(uuid string) *FakeService {
	for i := range p.Services {
		if device.EqualUUID(p.Services[i].UUID, uuid) {
			return &p.Services[i]
		}
	}
	return nil
}

func (p *FakePeripheral) lookup(service, characteristic string) error {
	svc := p.service(service)
	if svc == nil {
		return device.Status(device.StatusNoService)
	}
	for _, c := range svc.Characteristics {
		if device.EqualUUID(c.UUID, characteristic) {
			return nil
		}
	}
	return device.Status(device.StatusNoCharacteristic)
}

func subKey(systemID, service, characteristic string) string {
	return fmt.Sprintf("%s/%s/%s", systemID, device.NormalizeUUID(service), device.NormalizeUUID(characteristic))
}

var _ device.Gateway = (*FakeGateway)(nil)
