package tinyble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/groutine"
	"github.com/srg/blelink/internal/livemap"
)

// Radio is the slice of *bluetooth.Adapter the gateway drives.
type Radio interface {
	Enable() error
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
	Connect(address bluetooth.Address, params bluetooth.ConnectionParams) (bluetooth.Device, error)
	SetConnectHandler(c func(device bluetooth.Device, connected bool))
}

const scanStopRetry = 20 * time.Millisecond

type link struct {
	systemID string
	dev      bluetooth.Device

	mu       sync.Mutex
	services map[string]bluetooth.DeviceService
	chars    map[string]bluetooth.DeviceCharacteristic

	dropOnce sync.Once
}

func charKey(service, characteristic string) string {
	return device.NormalizeUUID(service) + "/" + device.NormalizeUUID(characteristic)
}

// Gateway implements device.Gateway on a tinygo bluetooth adapter.
type Gateway struct {
	radio  Radio
	logger *logrus.Logger

	mu         sync.Mutex
	enabled    bool
	scanning   chan struct{} // closed when the running scan returns
	scanCancel context.CancelFunc
	handler    func(device.Event)

	links     *livemap.Map[*link]
	addresses *hashmap.Map[string, bluetooth.Address] // last advertised address per system id
}

// NewGateway wraps radio; a nil radio uses bluetooth.DefaultAdapter.
func NewGateway(radio Radio, logger *logrus.Logger) *Gateway {
	if radio == nil {
		radio = bluetooth.DefaultAdapter
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Gateway{
		radio:     radio,
		logger:    logger,
		links:     livemap.New[*link](),
		addresses: hashmap.New[string, bluetooth.Address](),
	}
}

func (g *Gateway) SetEventHandler(handler func(device.Event)) {
	g.mu.Lock()
	g.handler = handler
	g.mu.Unlock()
}

func (g *Gateway) emit(ev device.Event) {
	g.mu.Lock()
	h := g.handler
	g.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (g *Gateway) ready() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.enabled {
		return device.Status(device.StatusNotInitialized)
	}
	return nil
}

// OpenAdapter enables the adapter once and installs the link watcher.
func (g *Gateway) OpenAdapter(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	if g.enabled {
		g.mu.Unlock()
		return nil
	}
	if err := g.radio.Enable(); err != nil {
		g.mu.Unlock()
		g.logger.WithField("error", err).Error("Failed to enable bluetooth adapter")
		return NormalizeError(err)
	}
	g.enabled = true
	g.mu.Unlock()

	g.radio.SetConnectHandler(func(d bluetooth.Device, connected bool) {
		if connected {
			return
		}
		if l, ok := g.links.Get(d.Address.String()); ok {
			g.logger.WithField("system_id", l.systemID).Warn("BLE link reported disconnection")
			g.drop(l, true)
		}
	})

	g.logger.Info("Bluetooth adapter opened")
	g.emit(device.AdapterStateChanged(true))
	return nil
}

// CloseAdapter stops discovery and drops every link. tinygo cannot power the
// adapter down, so it is only marked closed.
func (g *Gateway) CloseAdapter() error {
	g.mu.Lock()
	if !g.enabled {
		g.mu.Unlock()
		return nil
	}
	g.enabled = false
	g.mu.Unlock()

	g.stopScan()

	var links []*link
	g.links.Range(func(_ string, l *link) bool {
		links = append(links, l)
		return true
	})
	for _, l := range links {
		if err := l.dev.Disconnect(); err != nil {
			g.logger.WithFields(logrus.Fields{"system_id": l.systemID, "error": err}).Debug("Disconnect on close failed")
		}
		g.drop(l, false)
	}

	g.emit(device.AdapterStateChanged(false))
	return nil
}

// StartDiscovery replaces any running scan and reports advertisements until
// ctx is done or StopDiscovery is called.
func (g *Gateway) StartDiscovery(ctx context.Context, opts device.DiscoveryOptions, handler func(device.AdvertisedDevice)) error {
	if err := g.ready(); err != nil {
		return err
	}
	g.stopScan()

	filter := parseUUIDs(opts.Services)
	done := make(chan struct{})
	scanCtx, cancel := context.WithCancel(ctx)
	g.mu.Lock()
	g.scanning = done
	g.scanCancel = cancel
	g.mu.Unlock()

	seen := make(map[string]struct{})
	groutine.Go(scanCtx, "tinyble-discovery", func(ctx context.Context) {
		defer close(done)
		defer cancel()
		if ctx.Err() != nil {
			return
		}

		returned := make(chan struct{})
		halted := make(chan struct{})
		groutine.Go(ctx, "tinyble-discovery-halt", func(ctx context.Context) {
			defer close(halted)
			g.halt(ctx, returned)
		})

		err := g.radio.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
			if !advertisesAny(r.HasServiceUUID, filter) {
				return
			}
			id := r.Address.String()
			g.addresses.Set(id, r.Address)
			if !opts.AllowDuplicates {
				if _, dup := seen[id]; dup {
					return
				}
				seen[id] = struct{}{}
			}
			handler(newAdvertisedDevice(id, r.LocalName(), r.RSSI, r.ManufacturerData()))
		})
		close(returned)
		<-halted
		if err != nil && ctx.Err() == nil {
			g.logger.WithField("error", NormalizeError(err)).Warn("BLE scan stopped with error")
		}
	})
	return nil
}

func (g *Gateway) StopDiscovery() error {
	g.stopScan()
	return nil
}

// stopScan cancels the running scan and waits for its goroutine to return.
func (g *Gateway) stopScan() {
	g.mu.Lock()
	done, cancel := g.scanning, g.scanCancel
	g.scanning, g.scanCancel = nil, nil
	g.mu.Unlock()
	if done == nil {
		return
	}
	cancel()
	<-done
}

// halt waits for ctx and then repeats StopScan until the scan has returned;
// a stop issued before the radio started scanning is otherwise lost.
func (g *Gateway) halt(ctx context.Context, returned <-chan struct{}) {
	select {
	case <-returned:
		return
	case <-ctx.Done():
	}
	for {
		if err := g.radio.StopScan(); err != nil {
			g.logger.WithField("error", err).Debug("StopScan failed")
		}
		select {
		case <-returned:
			return
		case <-time.After(scanStopRetry):
		}
	}
}

type dialResult struct {
	dev bluetooth.Device
	err error
}

// Connect dials a system id seen by a previous discovery.
func (g *Gateway) Connect(ctx context.Context, systemID string, timeout time.Duration) error {
	if err := g.ready(); err != nil {
		return err
	}
	if _, ok := g.links.Get(systemID); ok {
		return device.Status(device.StatusAlreadyConnected)
	}
	addr, ok := g.addresses.Get(systemID)
	if !ok {
		return device.Status(device.StatusNoDevice)
	}

	params := bluetooth.ConnectionParams{}
	if timeout > 0 {
		params.ConnectionTimeout = bluetooth.NewDuration(timeout)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	g.logger.WithFields(logrus.Fields{
		"system_id": systemID,
		"timeout":   timeout,
	}).Info("Connecting to BLE device...")

	result := make(chan dialResult, 1)
	groutine.Go(context.Background(), "tinyble-dial", func(context.Context) {
		d, err := g.radio.Connect(addr, params)
		result <- dialResult{dev: d, err: err}
	})

	var r dialResult
	select {
	case r = <-result:
	case <-ctx.Done():
		// late links are torn down once the dial returns
		groutine.Go(context.Background(), "tinyble-dial-reaper", func(context.Context) {
			if late := <-result; late.err == nil {
				_ = late.dev.Disconnect()
			}
		})
		return NormalizeError(ctx.Err())
	}
	if r.err != nil {
		g.logger.WithFields(logrus.Fields{
			"system_id": systemID,
			"error":     r.err,
		}).Error("Failed to connect BLE device")
		return NormalizeError(r.err)
	}

	l := &link{
		systemID: systemID,
		dev:      r.dev,
		services: make(map[string]bluetooth.DeviceService),
		chars:    make(map[string]bluetooth.DeviceCharacteristic),
	}
	if _, loaded := g.links.Insert(systemID, l); loaded {
		_ = r.dev.Disconnect()
		return device.Status(device.StatusAlreadyConnected)
	}

	g.logger.WithField("system_id", systemID).Info("BLE device connected successfully")
	g.emit(device.ConnectionStateChanged(systemID, true))
	return nil
}

func (g *Gateway) drop(l *link, notify bool) {
	l.dropOnce.Do(func() {
		g.links.DeleteIf(l.systemID, func(cur *link) bool { return cur == l })
		if notify {
			g.emit(device.ConnectionStateChanged(l.systemID, false))
		}
	})
}

// Disconnect closes the link to systemID. Unknown ids are ignored.
func (g *Gateway) Disconnect(systemID string) error {
	l, ok := g.links.Get(systemID)
	if !ok {
		return nil
	}
	err := l.dev.Disconnect()
	g.drop(l, true)
	if err != nil {
		g.logger.WithFields(logrus.Fields{"system_id": systemID, "error": err}).Warn("BLE device disconnected with errors")
		return NormalizeError(err)
	}
	g.logger.WithField("system_id", systemID).Info("BLE device disconnected successfully")
	return nil
}

func (g *Gateway) liveLink(ctx context.Context, systemID string) (*link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l, ok := g.links.Get(systemID)
	if !ok {
		return nil, device.Status(device.StatusConnectionLost)
	}
	return l, nil
}

func (g *Gateway) Services(ctx context.Context, systemID string) ([]string, error) {
	l, err := g.liveLink(ctx, systemID)
	if err != nil {
		return nil, err
	}
	svcs, err := l.dev.DiscoverServices(nil)
	if err != nil {
		return nil, NormalizeError(err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(svcs))
	for _, s := range svcs {
		id := device.NormalizeUUID(s.UUID().String())
		l.services[id] = s
		out = append(out, id)
	}
	return out, nil
}

func (l *link) service(uuid string) (bluetooth.DeviceService, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.services[device.NormalizeUUID(uuid)]
	return s, ok
}

func (g *Gateway) Characteristics(ctx context.Context, systemID, service string) ([]device.Characteristic, error) {
	l, err := g.liveLink(ctx, systemID)
	if err != nil {
		return nil, err
	}
	svc, ok := l.service(service)
	if !ok {
		if _, err := g.Services(ctx, systemID); err != nil {
			return nil, err
		}
		if svc, ok = l.service(service); !ok {
			return nil, device.Status(device.StatusNoService)
		}
	}

	chars, err := svc.DiscoverCharacteristics(nil)
	if err != nil {
		return nil, NormalizeError(err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]device.Characteristic, 0, len(chars))
	for _, c := range chars {
		id := device.NormalizeUUID(c.UUID().String())
		l.chars[charKey(service, id)] = c
		out = append(out, device.Characteristic{UUID: id})
	}
	return out, nil
}

func (l *link) characteristic(service, characteristic string) (bluetooth.DeviceCharacteristic, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.services[device.NormalizeUUID(service)]; !ok {
		return bluetooth.DeviceCharacteristic{}, device.Status(device.StatusNoService)
	}
	c, ok := l.chars[charKey(service, characteristic)]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, device.Status(device.StatusNoCharacteristic)
	}
	return c, nil
}

// Write sends data without response; tinygo offers no acknowledged write on
// every platform.
func (g *Gateway) Write(ctx context.Context, systemID, service, characteristic string, data []byte) error {
	l, err := g.liveLink(ctx, systemID)
	if err != nil {
		return err
	}
	c, err := l.characteristic(service, characteristic)
	if err != nil {
		return err
	}
	_, err = c.WriteWithoutResponse(data)
	return NormalizeError(err)
}

func (g *Gateway) SubscribeNotify(ctx context.Context, systemID, service, characteristic string, enable bool) error {
	l, err := g.liveLink(ctx, systemID)
	if err != nil {
		return err
	}
	c, err := l.characteristic(service, characteristic)
	if err != nil {
		return err
	}
	if !enable {
		return NormalizeError(c.EnableNotifications(nil))
	}

	charID := device.NormalizeUUID(characteristic)
	err = c.EnableNotifications(func(buf []byte) {
		value := make([]byte, len(buf))
		copy(value, buf)
		g.emit(device.ValueChanged(systemID, charID, value))
	})
	if err != nil {
		return NormalizeError(err)
	}
	g.logger.WithFields(logrus.Fields{
		"system_id": systemID,
		"char_uuid": charID,
	}).Debug("Subscribed to characteristic")
	return nil
}

// ConnectedDevices lists links made by this gateway, filtered like the
// go-ble backend: undiscovered links always qualify.
func (g *Gateway) ConnectedDevices(ctx context.Context, services []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := g.ready(); err != nil {
		return nil, err
	}

	var out []string
	g.links.Range(func(id string, l *link) bool {
		if len(services) == 0 || l.exposesAny(services) {
			out = append(out, id)
		}
		return true
	})
	return out, nil
}

func (l *link) exposesAny(services []string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.services) == 0 {
		return true
	}
	for _, s := range services {
		if _, ok := l.services[device.NormalizeUUID(s)]; ok {
			return true
		}
	}
	return false
}

func (g *Gateway) String() string {
	return fmt.Sprintf("tinyble.Gateway(links=%d)", g.links.Len())
}

var _ device.Gateway = (*Gateway)(nil)
