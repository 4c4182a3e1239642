// Package connection is the public entry point of blelink: one Manager per
// radio gateway, connecting peripherals by identifier and writing to them
// directly or through the ordered write queue.
package connection

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blelink/internal/codec"
	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/orchestrator"
	"github.com/srg/blelink/internal/registry"
	"github.com/srg/blelink/internal/taskqueue"
	"github.com/srg/blelink/internal/writer"
	"github.com/srg/blelink/pkg/config"
	"github.com/srg/blelink/scanner"
)

// Nordic UART Service UUIDs for BLE serial communication
const (
	SerialServiceUUID = "6E400001-B5A3-F393-E0A9-E50E24DCCA9E"
	SerialTxCharUUID  = "6E400003-B5A3-F393-E0A9-E50E24DCCA9E" // device -> client
	SerialRxCharUUID  = "6E400002-B5A3-F393-E0A9-E50E24DCCA9E" // client -> device
)

// DeviceOption selects a peripheral and its characteristics.
type DeviceOption = orchestrator.DeviceOption

// SerialOption returns an option bound to the Nordic UART service: writes go
// to RX, notifications come from TX.
func SerialOption(identifier string) DeviceOption {
	return DeviceOption{
		Identifier: identifier,
		Service:    device.Exact(SerialServiceUUID),
		Write:      device.Exact(SerialRxCharUUID),
		Notify:     device.Exact(SerialTxCharUUID),
	}
}

// QueueOptions configures a queued write. Zero delays use the configured
// queue delays.
type QueueOptions struct {
	Name      string
	PreDelay  time.Duration
	PostDelay time.Duration
	Chunked   bool
	// OnDone runs after the post-delay of a successful write.
	OnDone func()
}

// Manager owns one gateway and everything built on it.
type Manager struct {
	gateway      device.Gateway
	registry     *registry.Registry
	scanner      *scanner.Scanner
	orchestrator *orchestrator.Orchestrator
	writer       *writer.Writer
	queue        *taskqueue.Queue

	cfg    *config.Config
	logger *logrus.Logger

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewManager wires a manager around gw and subscribes its registry to the
// gateway events. A nil cfg uses config.DefaultConfig.
func NewManager(gw device.Gateway, cfg *config.Config, logger *logrus.Logger) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = cfg.NewLogger()
	}

	reg := registry.New(logger)
	sc := scanner.NewScanner(gw, logger)
	orch := orchestrator.New(gw, reg, sc, orchestrator.Config{
		ScanTimeout:    cfg.ScanTimeout,
		ConnectTimeout: cfg.ConnectTimeout,
		NotifyDelay:    cfg.NotifyDelay,
	}, logger)

	m := &Manager{
		gateway:      gw,
		registry:     reg,
		scanner:      sc,
		orchestrator: orch,
		writer:       writer.New(gw, reg, orch, writer.Config{ChunkSize: cfg.ChunkSize, ChunkDelay: cfg.ChunkDelay}, logger),
		queue:        taskqueue.New(logger),
		cfg:          cfg,
		logger:       logger,
	}
	gw.SetEventHandler(m.handleEvent)
	return m
}

// handleEvent forgets the advertisement of a dropped device before the
// registry sees the event, so a reconnect from OnClose scans for it afresh.
func (m *Manager) handleEvent(ev device.Event) {
	if ev.Type == device.EventConnectionState && !ev.Connected {
		m.scanner.Forget(ev.SystemID)
	}
	m.registry.HandleEvent(ev)
}

// Open powers the radio up ahead of discovery-only use; Connect opens it by
// itself.
func (m *Manager) Open(ctx context.Context) error {
	return device.ClassifyAdapter(m.gateway.OpenAdapter(ctx))
}

// Scanner exposes the manager's scanner for discovery-only callers.
func (m *Manager) Scanner() *scanner.Scanner {
	return m.scanner
}

// SetObserver receives every handshake state transition.
func (m *Manager) SetObserver(fn orchestrator.Observer) {
	m.orchestrator.SetObserver(fn)
}

// Connect brings the identifier of opt to Ready.
func (m *Manager) Connect(ctx context.Context, opt DeviceOption) error {
	return m.orchestrator.Connect(ctx, opt)
}

// Write decodes payload with enc, connects and writes it.
func (m *Manager) Write(ctx context.Context, opt DeviceOption, payload []byte, enc codec.Encoding, chunked bool) error {
	data, err := codec.Decode(payload, enc)
	if err != nil {
		return err
	}
	return m.writer.Write(ctx, opt, data, chunked)
}

// EnqueueWrite decodes payload now and queues the connect-and-write behind
// every pending queued write. The task body is also bound to ctx.
func (m *Manager) EnqueueWrite(ctx context.Context, opt DeviceOption, payload []byte, enc codec.Encoding, qopts QueueOptions) (*taskqueue.Task, error) {
	data, err := codec.Decode(payload, enc)
	if err != nil {
		return nil, err
	}

	pre, post := qopts.PreDelay, qopts.PostDelay
	if pre == 0 {
		pre = m.cfg.QueuePreDelay
	}
	if post == 0 {
		post = m.cfg.QueuePostDelay
	}

	body := func(taskCtx context.Context) error {
		wctx, cancel := context.WithCancel(taskCtx)
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
		return m.writer.Write(wctx, opt, data, qopts.Chunked)
	}

	task := m.queue.Push(body, taskqueue.Options{
		Name:      qopts.Name,
		PreDelay:  pre,
		PostDelay: post,
		Callback:  qopts.OnDone,
	})
	m.logger.WithFields(logrus.Fields{
		"identifier": opt.Identifier,
		"task_tag":   task.Tag(),
		"task_name":  qopts.Name,
		"bytes":      len(data),
	}).Debug("Write queued")
	return task, nil
}

// CancelQueued drops pending queued writes named name.
func (m *Manager) CancelQueued(name string) int {
	return m.queue.RemoveNamed(name)
}

// Close disconnects the identifier of opt and fires its OnClose once.
func (m *Manager) Close(ctx context.Context, opt DeviceOption) error {
	rec, ok := m.registry.Remove(opt.Identifier)
	if !ok {
		return device.NewError(device.KindDeviceNotFound, fmt.Sprintf("%q is not connected", opt.Identifier), nil)
	}

	if err := m.gateway.Disconnect(rec.SystemID); err != nil {
		m.logger.WithFields(logrus.Fields{
			"identifier": rec.Identifier,
			"system_id":  rec.SystemID,
			"error":      err,
		}).Warn("Disconnect failed")
	}
	m.logger.WithFields(logrus.Fields{
		"identifier": rec.Identifier,
		"system_id":  rec.SystemID,
	}).Info("Device closed")

	m.registry.NotifyClosed(rec)
	return nil
}

// IsConnected reports whether a record exists for the identifier of opt.
func (m *Manager) IsConnected(opt DeviceOption) bool {
	_, ok := m.registry.Lookup(opt.Identifier)
	return ok
}

// Devices returns a handle for every connected identifier. The handles carry
// only the identifier; selection policies are not retained.
func (m *Manager) Devices() []*Handle {
	recs := m.registry.Records()
	out := make([]*Handle, 0, len(recs))
	for _, rec := range recs {
		out = append(out, m.Device(DeviceOption{Identifier: rec.Identifier}))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].opt.Identifier < out[j].opt.Identifier })
	return out
}

// Device returns a handle bound to opt.
func (m *Manager) Device(opt DeviceOption) *Handle {
	return &Handle{manager: m, opt: opt}
}

// Shutdown stops the write queue, closes the adapter and drops every record.
// It is safe to call more than once.
func (m *Manager) Shutdown() error {
	m.shutdownOnce.Do(func() {
		m.queue.Close()
		if err := m.gateway.StopDiscovery(); err != nil {
			m.logger.WithField("error", err).Debug("Failed to stop discovery on shutdown")
		}
		m.registry.Clear()
		m.shutdownErr = m.gateway.CloseAdapter()
		m.logger.Info("Connection manager shut down")
	})
	return m.shutdownErr
}

// Handle is a DeviceOption bound to its Manager.
type Handle struct {
	manager *Manager
	opt     DeviceOption
}

// Option returns the bound option.
func (h *Handle) Option() DeviceOption { return h.opt }

func (h *Handle) Connect(ctx context.Context) error {
	return h.manager.Connect(ctx, h.opt)
}

func (h *Handle) Write(ctx context.Context, payload []byte, enc codec.Encoding, chunked bool) error {
	return h.manager.Write(ctx, h.opt, payload, enc, chunked)
}

func (h *Handle) Enqueue(ctx context.Context, payload []byte, enc codec.Encoding, qopts QueueOptions) (*taskqueue.Task, error) {
	return h.manager.EnqueueWrite(ctx, h.opt, payload, enc, qopts)
}

func (h *Handle) Close(ctx context.Context) error {
	return h.manager.Close(ctx, h.opt)
}

func (h *Handle) IsConnected() bool {
	return h.manager.IsConnected(h.opt)
}
