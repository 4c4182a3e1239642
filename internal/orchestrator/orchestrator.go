// Package orchestrator drives the connection handshake for one identifier:
// adapter init, liveness check, scan, connect, service discovery,
// characteristic selection and notification subscription.
package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/matcher"
	"github.com/srg/blelink/internal/registry"
	"github.com/srg/blelink/scanner"
)

// Default handshake timings.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultNotifyDelay    = 100 * time.Millisecond
)

// DeviceOption describes the peripheral a caller wants and how to pick its
// characteristics. Zero policies select by capability.
type DeviceOption struct {
	Identifier string

	Service device.MatchPolicy
	Write   device.MatchPolicy
	Notify  device.MatchPolicy

	// ForceRescan ignores cached advertisements and handles.
	ForceRescan bool

	OnNotify func([]byte)
	OnClose  func()
}

// Config holds handshake timings.
type Config struct {
	ScanTimeout    time.Duration
	ConnectTimeout time.Duration
	NotifyDelay    time.Duration
}

// DefaultConfig returns the default handshake timings.
func DefaultConfig() Config {
	return Config{
		ScanTimeout:    scanner.DefaultScanTimeout,
		ConnectTimeout: DefaultConnectTimeout,
		NotifyDelay:    DefaultNotifyDelay,
	}
}

// Scanner is the discovery half used by the handshake.
type Scanner interface {
	Scan(ctx context.Context, identifiers []string, opts *scanner.ScanOptions) ([]scanner.MatchedDevice, error)
	Known(identifier string) (device.AdvertisedDevice, bool)
}

// Orchestrator runs Connect handshakes. Calls for the same identifier are
// serialized; different identifiers proceed in parallel.
type Orchestrator struct {
	gateway  device.Gateway
	registry *registry.Registry
	scanner  Scanner
	cfg      Config
	logger   *logrus.Logger

	guards *hashmap.Map[string, chan struct{}]

	mu       sync.RWMutex
	observer Observer
}

// New creates an orchestrator. Zero durations in cfg fall back to defaults.
func New(gw device.Gateway, reg *registry.Registry, sc Scanner, cfg Config, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}
	def := DefaultConfig()
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = def.ScanTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.NotifyDelay < 0 {
		cfg.NotifyDelay = 0
	}
	return &Orchestrator{
		gateway:  gw,
		registry: reg,
		scanner:  sc,
		cfg:      cfg,
		logger:   logger,
		guards:   hashmap.New[string, chan struct{}](),
	}
}

// SetObserver installs fn to receive state transitions; nil removes it.
func (o *Orchestrator) SetObserver(fn Observer) {
	o.mu.Lock()
	o.observer = fn
	o.mu.Unlock()
}

// attempt is the working state of one Connect call.
type attempt struct {
	opt DeviceOption

	existing *registry.Record
	rec      *registry.Record

	systemID string
	adv      device.AdvertisedDevice

	verified  bool // existing link confirmed live
	linkUp    bool // a physical link is up in this attempt
	rescanned bool
	created   bool // rec was first stored by this attempt
}

// Connect runs the handshake until the identifier is Ready. On failure any
// link brought up or verified by this call is torn down and a record this
// call created is dropped.
func (o *Orchestrator) Connect(ctx context.Context, opt DeviceOption) error {
	opt.Identifier = strings.TrimSpace(opt.Identifier)
	if opt.Identifier == "" {
		return device.NewError(device.KindInvalidIdentifier, "device identifier is empty", nil)
	}

	release, err := o.acquire(ctx, opt.Identifier)
	if err != nil {
		return err
	}
	defer release()

	a := &attempt{opt: opt}
	a.existing, _ = o.registry.Lookup(opt.Identifier)

	state, next := StateIdle, StateAdapterInitializing
	for {
		o.transition(opt.Identifier, state, next)
		state = next
		if state == StateReady {
			o.logger.WithFields(logrus.Fields{
				"identifier": opt.Identifier,
				"system_id":  a.systemID,
				"service":    a.rec.WriteService,
				"write_char": a.rec.WriteCharacteristic,
			}).Info("Device ready")
			return nil
		}

		next, err = o.step(ctx, a, state)
		if err != nil {
			o.transition(opt.Identifier, state, StateFailed)
			o.fail(a, state, err)
			return err
		}
	}
}

func (o *Orchestrator) step(ctx context.Context, a *attempt, s State) (State, error) {
	switch s {
	case StateAdapterInitializing:
		return o.initAdapter(ctx, a)
	case StateCheckingExisting:
		return o.checkExisting(ctx, a)
	case StateScanning:
		return o.scan(ctx, a)
	case StateConnecting:
		return o.connect(ctx, a)
	case StateDiscoveringServices:
		return o.discover(ctx, a)
	case StateMatchingCharacteristics:
		return o.matchWrite(a)
	case StateSubscribingNotify:
		return o.subscribe(ctx, a)
	default:
		return StateFailed, fmt.Errorf("no handler for state %s", s)
	}
}

func (o *Orchestrator) initAdapter(ctx context.Context, _ *attempt) (State, error) {
	if err := o.gateway.OpenAdapter(ctx); err != nil {
		return StateFailed, device.ClassifyAdapter(err)
	}
	return StateCheckingExisting, nil
}

func (o *Orchestrator) checkExisting(ctx context.Context, a *attempt) (State, error) {
	if a.existing == nil {
		return StateScanning, nil
	}
	a.systemID = a.existing.SystemID
	a.adv = a.existing.Device

	var filter []string
	if a.existing.WriteService != "" {
		filter = []string{a.existing.WriteService}
	}
	ids, err := o.gateway.ConnectedDevices(ctx, filter)
	if err != nil {
		return StateFailed, device.ClassifyConnect(err)
	}
	if slices.Contains(ids, a.existing.SystemID) {
		a.verified = true
		a.linkUp = true
	} else {
		o.logger.WithFields(logrus.Fields{
			"identifier": a.opt.Identifier,
			"system_id":  a.existing.SystemID,
		}).Info("Cached connection is no longer live")
	}

	if a.opt.ForceRescan {
		return StateScanning, nil
	}
	return StateConnecting, nil
}

func (o *Orchestrator) scan(ctx context.Context, a *attempt) (State, error) {
	id := a.opt.Identifier

	adv, ok := device.AdvertisedDevice{}, false
	if !a.opt.ForceRescan {
		adv, ok = o.scanner.Known(id)
	}
	if !ok {
		matched, err := o.scanner.Scan(ctx, []string{id}, &scanner.ScanOptions{
			Timeout:         o.cfg.ScanTimeout,
			AllowDuplicates: true,
		})
		if err != nil {
			return StateFailed, err
		}
		for _, m := range matched {
			if strings.EqualFold(m.Identifier, id) {
				adv, ok = m.Device, true
				break
			}
		}
		if !ok {
			return StateFailed, device.NewError(device.KindDeviceNotFound,
				fmt.Sprintf("scan finished without %q", id), nil)
		}
		a.rescanned = true
	}

	if a.verified && adv.SystemID != a.systemID {
		// the identifier now resolves to a different peripheral
		a.verified = false
	}
	a.systemID = adv.SystemID
	a.adv = adv
	return StateConnecting, nil
}

func (o *Orchestrator) connect(ctx context.Context, a *attempt) (State, error) {
	if a.verified {
		return StateDiscoveringServices, nil
	}

	cctx, cancel := context.WithTimeout(ctx, o.cfg.ConnectTimeout)
	defer cancel()

	err := o.gateway.Connect(cctx, a.systemID, o.cfg.ConnectTimeout)
	if err != nil && !device.IsAlreadyConnected(err) {
		return StateFailed, device.ClassifyConnect(err)
	}
	if err != nil {
		o.logger.WithField("system_id", a.systemID).Debug("Peripheral already connected")
	}
	a.linkUp = true
	return StateDiscoveringServices, nil
}

func (o *Orchestrator) discover(ctx context.Context, a *attempt) (State, error) {
	if a.existing != nil && a.existing.HasWriteHandles() && !a.rescanned && a.existing.SystemID == a.systemID {
		a.rec = a.existing.Clone()
		if !a.verified {
			a.rec.Subscribed = false
		}
		applyCallbacks(a.rec, a.opt)
		return StateSubscribingNotify, nil
	}

	tree, err := o.discoverTree(ctx, a)
	if err != nil {
		return StateFailed, err
	}
	a.rec = &registry.Record{
		Identifier: a.opt.Identifier,
		SystemID:   a.systemID,
		Device:     a.adv,
		Services:   tree,
	}
	if a.existing != nil {
		a.rec.OnNotify = a.existing.OnNotify
		a.rec.OnClose = a.existing.OnClose
	}
	applyCallbacks(a.rec, a.opt)
	return StateMatchingCharacteristics, nil
}

// applyCallbacks puts the non-nil option callbacks on rec, so a disconnect
// seen before Ready reaches the caller.
func applyCallbacks(rec *registry.Record, opt DeviceOption) {
	if opt.OnNotify != nil {
		rec.OnNotify = opt.OnNotify
	}
	if opt.OnClose != nil {
		rec.OnClose = opt.OnClose
	}
}

// discoverTree enumerates services kept by the service policy and their
// characteristics, in discovery order.
func (o *Orchestrator) discoverTree(ctx context.Context, a *attempt) (*matcher.ServiceTree, error) {
	services, err := o.gateway.Services(ctx, a.systemID)
	if err != nil {
		return nil, device.ClassifyConnect(err)
	}

	tree := matcher.NewServiceTree()
	for _, svc := range services {
		if !a.opt.Service.Match(svc) {
			continue
		}
		chars, err := o.gateway.Characteristics(ctx, a.systemID, svc)
		if err != nil {
			return nil, device.ClassifyConnect(err)
		}
		tree.Add(svc, chars)
	}

	if tree.Len() == 0 {
		return nil, device.NewError(device.KindServiceMatchFailed,
			fmt.Sprintf("none of %d services match %s", len(services), a.opt.Service), nil)
	}

	o.logger.WithFields(logrus.Fields{
		"identifier": a.opt.Identifier,
		"system_id":  a.systemID,
		"services":   tree.Services(),
	}).Debug("Services discovered")
	return tree, nil
}

func (o *Orchestrator) matchWrite(a *attempt) (State, error) {
	sel, err := matcher.MatchServicesCharacteristics(a.rec.Services, matcher.TypeFor(a.opt.Write, matcher.MatchWrite), a.opt.Write)
	if err != nil {
		return StateFailed, err
	}
	a.rec.WriteService = sel.Service
	a.rec.WriteCharacteristic = sel.Characteristic

	if a.existing == nil {
		a.created = true
	}
	o.registry.Upsert(a.rec)
	return StateSubscribingNotify, nil
}

func (o *Orchestrator) subscribe(ctx context.Context, a *attempt) (State, error) {
	if a.rec.OnNotify == nil {
		return o.ready(a)
	}
	if a.rec.Subscribed && a.verified {
		return o.ready(a)
	}

	// the stored record may be read by event handlers; changes go to a copy
	rec := a.rec.Clone()
	if !rec.HasNotifyHandles() {
		if rec.Services.Len() == 0 {
			tree, err := o.discoverTree(ctx, a)
			if err != nil {
				return StateFailed, err
			}
			rec.Services = tree
		}
		sel, err := matcher.MatchServicesCharacteristics(rec.Services, matcher.TypeFor(a.opt.Notify, matcher.MatchNotify), a.opt.Notify)
		if err != nil {
			return StateFailed, err
		}
		rec.NotifyService = sel.Service
		rec.NotifyCharacteristic = sel.Characteristic
	}
	rec.Subscribed = false
	if err := o.store(a, rec); err != nil {
		return StateFailed, err
	}

	fields := logrus.Fields{
		"identifier":  a.opt.Identifier,
		"system_id":   a.systemID,
		"service":     rec.NotifyService,
		"notify_char": rec.NotifyCharacteristic,
	}
	err := o.gateway.SubscribeNotify(ctx, a.systemID, rec.NotifyService, rec.NotifyCharacteristic, true)
	if err != nil {
		o.logger.WithFields(fields).WithField("error", err).Warn("Failed to subscribe to notifications")
		return o.ready(a)
	}
	o.logger.WithFields(fields).Debug("Subscribed to notifications")

	rec = rec.Clone()
	rec.Subscribed = true
	if err := o.store(a, rec); err != nil {
		return StateFailed, err
	}

	if o.cfg.NotifyDelay > 0 {
		timer := time.NewTimer(o.cfg.NotifyDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return StateFailed, ctx.Err()
		case <-timer.C:
		}
	}
	return o.ready(a)
}

func (o *Orchestrator) ready(a *attempt) (State, error) {
	if err := o.store(a, a.rec.Clone()); err != nil {
		return StateFailed, err
	}
	return StateReady, nil
}

// store updates the record stored earlier in this attempt. It fails when the
// record is gone, which means the link dropped mid-handshake.
func (o *Orchestrator) store(a *attempt, rec *registry.Record) error {
	if !o.registry.Replace(rec) {
		return device.ConnectFailed(device.StatusConnectionLost,
			fmt.Sprintf("%s disconnected during the handshake", a.systemID), nil)
	}
	a.rec = rec
	return nil
}

func (o *Orchestrator) fail(a *attempt, at State, err error) {
	entry := o.logger.WithFields(logrus.Fields{
		"identifier": a.opt.Identifier,
		"system_id":  a.systemID,
		"state":      at.String(),
		"error":      err,
	})
	entry.Warn("Connection handshake failed")

	if a.created {
		o.registry.Remove(a.opt.Identifier)
	}
	if a.linkUp {
		if derr := o.gateway.Disconnect(a.systemID); derr != nil {
			entry.WithField("disconnect_error", derr).Debug("Failed to disconnect after handshake failure")
		}
	}
}

func (o *Orchestrator) transition(id string, from, to State) {
	o.logger.WithFields(logrus.Fields{
		"identifier": id,
		"from":       from.String(),
		"to":         to.String(),
	}).Debug("Connection state changed")

	o.mu.RLock()
	fn := o.observer
	o.mu.RUnlock()
	if fn != nil {
		fn(id, from, to)
	}
}

// acquire takes the in-flight guard for id.
func (o *Orchestrator) acquire(ctx context.Context, id string) (func(), error) {
	guard, _ := o.guards.GetOrInsert(id, make(chan struct{}, 1))
	select {
	case guard <- struct{}{}:
		return func() { <-guard }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
