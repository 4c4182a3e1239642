package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/groutine"
	"github.com/srg/blelink/internal/livemap"
)

// link is one live connection and the GATT handles discovered on it.
type link struct {
	systemID string
	client   ble.Client

	mu       sync.Mutex
	services map[string]*ble.Service        // normalized service uuid
	chars    map[string]*ble.Characteristic // normalized service/characteristic uuid

	closed   chan struct{}
	dropOnce sync.Once
}

func charKey(service, characteristic string) string {
	return device.NormalizeUUID(service) + "/" + device.NormalizeUUID(characteristic)
}

// Gateway implements device.Gateway on a go-ble device.
type Gateway struct {
	logger *logrus.Logger

	mu         sync.Mutex
	dev        ble.Device
	scanCancel context.CancelFunc
	handler    func(device.Event)

	links *livemap.Map[*link]
}

// NewGateway creates a gateway; the radio is opened by OpenAdapter.
func NewGateway(logger *logrus.Logger) *Gateway {
	if logger == nil {
		logger = logrus.New()
	}
	return &Gateway{
		logger: logger,
		links:  livemap.New[*link](),
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

func (g *Gateway) radio() (ble.Device, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dev == nil {
		return nil, device.Status(device.StatusNotInitialized)
	}
	return g.dev, nil
}

// OpenAdapter creates the platform device once. Later calls are no-ops.
func (g *Gateway) OpenAdapter(ctx context.Context) error {
	g.mu.Lock()
	if g.dev != nil {
		g.mu.Unlock()
		return nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		g.mu.Unlock()
		g.logger.WithField("error", err).Error("Failed to create BLE device")
		return NormalizeError(err)
	}
	g.dev = dev
	g.mu.Unlock()

	g.logger.Info("Bluetooth adapter opened")
	g.emit(device.AdapterStateChanged(true))
	return nil
}

// CloseAdapter drops every link and stops the platform device.
func (g *Gateway) CloseAdapter() error {
	g.mu.Lock()
	dev := g.dev
	g.dev = nil
	if g.scanCancel != nil {
		g.scanCancel()
		g.scanCancel = nil
	}
	g.mu.Unlock()

	if dev == nil {
		return nil
	}

	var links []*link
	g.links.Range(func(_ string, l *link) bool {
		links = append(links, l)
		return true
	})
	for _, l := range links {
		if err := l.client.CancelConnection(); err != nil {
			g.logger.WithFields(logrus.Fields{"system_id": l.systemID, "error": err}).Debug("Cancel connection on close failed")
		}
		g.drop(l, false)
	}

	err := dev.Stop()
	g.emit(device.AdapterStateChanged(false))
	return NormalizeError(err)
}

// StartDiscovery scans in the background until ctx is done or StopDiscovery
// is called. A running discovery is replaced.
func (g *Gateway) StartDiscovery(ctx context.Context, opts device.DiscoveryOptions, handler func(device.AdvertisedDevice)) error {
	dev, err := g.radio()
	if err != nil {
		return err
	}

	g.mu.Lock()
	if g.scanCancel != nil {
		g.scanCancel()
	}
	scanCtx, cancel := context.WithCancel(ctx)
	g.scanCancel = cancel
	g.mu.Unlock()

	groutine.Go(scanCtx, "goble-discovery", func(ctx context.Context) {
		err := dev.Scan(ctx, opts.AllowDuplicates, func(adv ble.Advertisement) {
			if !advertisesAny(adv, opts.Services) {
				return
			}
			handler(NewAdvertisedDevice(adv))
		})
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			g.logger.WithField("error", NormalizeError(err)).Warn("BLE scan stopped with error")
		}
	})
	return nil
}

func (g *Gateway) StopDiscovery() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.scanCancel != nil {
		g.scanCancel()
		g.scanCancel = nil
	}
	return nil
}

// Connect dials systemID and starts watching the link for disconnection.
func (g *Gateway) Connect(ctx context.Context, systemID string, timeout time.Duration) error {
	dev, err := g.radio()
	if err != nil {
		return err
	}
	if _, ok := g.links.Get(systemID); ok {
		return device.Status(device.StatusAlreadyConnected)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	g.logger.WithFields(logrus.Fields{
		"system_id": systemID,
		"timeout":   timeout,
	}).Info("Connecting to BLE device...")

	client, err := dev.Dial(ctx, ble.NewAddr(systemID))
	if err != nil {
		g.logger.WithFields(logrus.Fields{
			"system_id": systemID,
			"error":     err,
		}).Error("Failed to dial BLE device")
		return NormalizeError(err)
	}

	l := &link{
		systemID: systemID,
		client:   client,
		services: make(map[string]*ble.Service),
		chars:    make(map[string]*ble.Characteristic),
		closed:   make(chan struct{}),
	}
	if _, loaded := g.links.Insert(systemID, l); loaded {
		_ = client.CancelConnection()
		return device.Status(device.StatusAlreadyConnected)
	}

	// Monitor go-ble client Disconnected() channel
	if watcher, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "goble-link-monitor", func(context.Context) {
			select {
			case <-watcher.Disconnected():
				g.logger.WithField("system_id", systemID).Warn("BLE link reported disconnection")
				g.drop(l, true)
			case <-l.closed:
			}
		})
	} else {
		g.logger.Debug("Client does not support Disconnected() channel")
	}

	g.logger.WithField("system_id", systemID).Info("BLE device connected successfully")
	g.emit(device.ConnectionStateChanged(systemID, true))
	return nil
}

// drop forgets l once and, when notify is set, emits the disconnect event.
func (g *Gateway) drop(l *link, notify bool) {
	l.dropOnce.Do(func() {
		close(l.closed)
		g.links.DeleteIf(l.systemID, func(cur *link) bool { return cur == l })
		if notify {
			g.emit(device.ConnectionStateChanged(l.systemID, false))
		}
	})
}

// Disconnect cancels the link to systemID. Unknown ids are ignored.
func (g *Gateway) Disconnect(systemID string) error {
	l, ok := g.links.Get(systemID)
	if !ok {
		return nil
	}
	err := l.client.CancelConnection()
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

// Services discovers the primary services of systemID in peripheral order.
func (g *Gateway) Services(ctx context.Context, systemID string) ([]string, error) {
	l, err := g.liveLink(ctx, systemID)
	if err != nil {
		return nil, err
	}

	svcs, err := l.client.DiscoverServices(nil)
	if err != nil {
		return nil, NormalizeError(err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(svcs))
	for _, s := range svcs {
		id := device.NormalizeUUID(s.UUID.String())
		l.services[id] = s
		out = append(out, id)
	}
	return out, nil
}

func (l *link) service(uuid string) *ble.Service {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.services[device.NormalizeUUID(uuid)]
}

// Characteristics discovers the characteristics of one service.
func (g *Gateway) Characteristics(ctx context.Context, systemID, service string) ([]device.Characteristic, error) {
	l, err := g.liveLink(ctx, systemID)
	if err != nil {
		return nil, err
	}
	svc := l.service(service)
	if svc == nil {
		if _, err := g.Services(ctx, systemID); err != nil {
			return nil, err
		}
		if svc = l.service(service); svc == nil {
			return nil, device.Status(device.StatusNoService)
		}
	}

	chars, err := l.client.DiscoverCharacteristics(nil, svc)
	if err != nil {
		return nil, NormalizeError(err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]device.Characteristic, 0, len(chars))
	for _, c := range chars {
		id := device.NormalizeUUID(c.UUID.String())
		l.chars[charKey(service, id)] = c
		out = append(out, device.Characteristic{UUID: id, Properties: NewProperties(c.Property)})
	}
	return out, nil
}

func (l *link) characteristic(service, characteristic string) (*ble.Characteristic, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.services[device.NormalizeUUID(service)]; !ok {
		return nil, device.Status(device.StatusNoService)
	}
	c, ok := l.chars[charKey(service, characteristic)]
	if !ok {
		return nil, device.Status(device.StatusNoCharacteristic)
	}
	return c, nil
}

func (g *Gateway) Write(ctx context.Context, systemID, service, characteristic string, data []byte) error {
	l, err := g.liveLink(ctx, systemID)
	if err != nil {
		return err
	}
	c, err := l.characteristic(service, characteristic)
	if err != nil {
		return err
	}
	return NormalizeError(l.client.WriteCharacteristic(c, data, writeNoResponse(c.Property)))
}

// SubscribeNotify enables or disables value-change events for a
// characteristic. Values are emitted as device.ValueChanged events.
func (g *Gateway) SubscribeNotify(ctx context.Context, systemID, service, characteristic string, enable bool) error {
	l, err := g.liveLink(ctx, systemID)
	if err != nil {
		return err
	}
	c, err := l.characteristic(service, characteristic)
	if err != nil {
		return err
	}
	ind := useIndication(c.Property)

	if !enable {
		return NormalizeError(l.client.Unsubscribe(c, ind))
	}

	if c.CCCD == nil {
		if _, err := l.client.DiscoverDescriptors(nil, c); err != nil {
			return NormalizeError(err)
		}
	}

	charID := device.NormalizeUUID(c.UUID.String())
	err = l.client.Subscribe(c, ind, func(data []byte) {
		value := make([]byte, len(data))
		copy(value, data)
		g.emit(device.ValueChanged(systemID, charID, value))
	})
	if err != nil {
		return NormalizeError(err)
	}
	g.logger.WithFields(logrus.Fields{
		"system_id": systemID,
		"char_uuid": charID,
		"indicate":  ind,
	}).Debug("Subscribed to characteristic")
	return nil
}

// ConnectedDevices lists links established by this gateway. go-ble cannot
// enumerate links made by other processes. With a filter, a link qualifies
// when it has not been discovered yet or exposes one of the services.
func (g *Gateway) ConnectedDevices(ctx context.Context, services []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := g.radio(); err != nil {
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
	return fmt.Sprintf("goble.Gateway(links=%d)", g.links.Len())
}

var _ device.Gateway = (*Gateway)(nil)
