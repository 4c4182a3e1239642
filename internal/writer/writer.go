// Package writer sends payloads to a connected peripheral: single writes on
// cached handles, one reconnect-and-retry when the handles vanish, and
// chunked writes.
package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blelink/internal/codec"
	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/orchestrator"
	"github.com/srg/blelink/internal/registry"
)

// DefaultChunkSize is the ATT payload size of a default-MTU link.
const DefaultChunkSize = 20

// Connector brings an identifier to Ready.
type Connector interface {
	Connect(ctx context.Context, opt orchestrator.DeviceOption) error
}

// Config controls chunking.
type Config struct {
	ChunkSize  int
	ChunkDelay time.Duration
}

// Writer performs writes through one gateway. Gateway writes are serialized.
type Writer struct {
	gateway   device.Gateway
	registry  *registry.Registry
	connector Connector
	cfg       Config
	logger    *logrus.Logger

	mu sync.Mutex
}

// New creates a writer. A non-positive chunk size falls back to DefaultChunkSize.
func New(gw device.Gateway, reg *registry.Registry, connector Connector, cfg Config, logger *logrus.Logger) *Writer {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkDelay < 0 {
		cfg.ChunkDelay = 0
	}
	return &Writer{
		gateway:   gw,
		registry:  reg,
		connector: connector,
		cfg:       cfg,
		logger:    logger,
	}
}

// Write connects opt and sends data, in chunks when chunked is set. An empty
// payload is a no-op.
func (w *Writer) Write(ctx context.Context, opt orchestrator.DeviceOption, data []byte, chunked bool) error {
	if len(data) == 0 {
		return nil
	}
	if err := w.connector.Connect(ctx, opt); err != nil {
		return err
	}
	if chunked {
		return w.LoopWrite(ctx, opt, data)
	}
	return w.WriteWithRetry(ctx, opt, data)
}

// WriteOnce issues a single gateway write on the record's cached handles.
func (w *Writer) WriteOnce(ctx context.Context, rec *registry.Record, data []byte) error {
	if rec == nil {
		return device.NewError(device.KindDeviceNotFound, "no connection record", nil)
	}
	if !rec.HasWriteHandles() {
		return device.NewError(device.KindCharacteristicMatchFailed,
			fmt.Sprintf("no write characteristic resolved for %q", rec.Identifier), nil)
	}

	w.mu.Lock()
	err := w.gateway.Write(ctx, rec.SystemID, rec.WriteService, rec.WriteCharacteristic, data)
	w.mu.Unlock()

	if err != nil {
		return device.ClassifyWrite(err)
	}

	w.logger.WithFields(logrus.Fields{
		"identifier": rec.Identifier,
		"system_id":  rec.SystemID,
		"bytes":      len(data),
		"hex":        codec.BufToHex(data),
	}).Debug("Wrote payload")
	return nil
}

// WriteWithRetry writes data to the record of opt. When the cached handles
// have vanished it reconnects once with a forced rescan, keeping the record's
// callbacks, and retries. Any other failure, and a second failure, is
// returned as is.
func (w *Writer) WriteWithRetry(ctx context.Context, opt orchestrator.DeviceOption, data []byte) error {
	rec, ok := w.registry.Lookup(opt.Identifier)
	if !ok {
		return device.NewError(device.KindDeviceNotFound, fmt.Sprintf("%q is not connected", opt.Identifier), nil)
	}

	err := w.WriteOnce(ctx, rec, data)
	if err == nil || !errors.Is(err, device.ErrLinkVanished) {
		return err
	}

	w.logger.WithFields(logrus.Fields{
		"identifier": rec.Identifier,
		"system_id":  rec.SystemID,
		"error":      err,
	}).Warn("Write handles vanished, reconnecting")

	rec, err = w.recover(ctx, opt, rec)
	if err != nil {
		return err
	}
	return w.WriteOnce(ctx, rec, data)
}

func (w *Writer) recover(ctx context.Context, opt orchestrator.DeviceOption, stale *registry.Record) (*registry.Record, error) {
	w.registry.Remove(stale.Identifier)
	if err := w.gateway.Disconnect(stale.SystemID); err != nil {
		w.logger.WithFields(logrus.Fields{
			"system_id": stale.SystemID,
			"error":     err,
		}).Debug("Disconnect before reconnect failed")
	}

	retry := opt
	retry.ForceRescan = true
	retry.OnNotify = stale.OnNotify
	retry.OnClose = stale.OnClose
	if err := w.connector.Connect(ctx, retry); err != nil {
		return nil, err
	}

	rec, ok := w.registry.Lookup(opt.Identifier)
	if !ok {
		return nil, device.NewError(device.KindDeviceNotFound, fmt.Sprintf("%q vanished after reconnect", opt.Identifier), nil)
	}
	return rec, nil
}

// LoopWrite writes data in chunks of the configured size, strictly in order,
// each through WriteWithRetry. The first failure aborts the rest.
func (w *Writer) LoopWrite(ctx context.Context, opt orchestrator.DeviceOption, data []byte) error {
	chunks := codec.Chunk(data, w.cfg.ChunkSize)
	for i, chunk := range chunks {
		if i > 0 && w.cfg.ChunkDelay > 0 {
			timer := time.NewTimer(w.cfg.ChunkDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err := w.WriteWithRetry(ctx, opt, chunk); err != nil {
			w.logger.WithFields(logrus.Fields{
				"identifier": opt.Identifier,
				"chunk":      i + 1,
				"chunks":     len(chunks),
				"error":      err,
			}).Warn("Chunked write aborted")
			return err
		}
	}
	return nil
}
