// Package registry keeps one connection record per caller-chosen device
// identifier and applies gateway events to them.
package registry

import (
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/livemap"
	"github.com/srg/blelink/internal/matcher"
)

// Record is the connection state of one identifier. Records are treated as
// immutable once stored; derive a changed copy with Clone and Upsert it.
type Record struct {
	Identifier string
	SystemID   string
	Device     device.AdvertisedDevice

	WriteService        string
	WriteCharacteristic string

	NotifyService        string
	NotifyCharacteristic string

	Services *matcher.ServiceTree

	// Subscribed is set once notifications were enabled on the current link.
	Subscribed bool

	OnNotify func([]byte)
	OnClose  func()
}

// Clone returns a shallow copy. The service tree is shared; it is never
// mutated after discovery.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

// HasWriteHandles reports whether write service and characteristic are set.
func (r *Record) HasWriteHandles() bool {
	return r != nil && r.WriteService != "" && r.WriteCharacteristic != ""
}

// HasNotifyHandles reports whether notify service and characteristic are set.
func (r *Record) HasNotifyHandles() bool {
	return r != nil && r.NotifyService != "" && r.NotifyCharacteristic != ""
}

// Registry maps identifiers to records. It is safe for concurrent use: reads
// are lock-free, mutations are serialized.
type Registry struct {
	records *livemap.Map[*Record]
	logger  *logrus.Logger
}

// New creates an empty registry.
func New(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		records: livemap.New[*Record](),
		logger:  logger,
	}
}

// Lookup returns the record stored for id.
func (r *Registry) Lookup(id string) (*Record, bool) {
	return r.records.Get(id)
}

// Upsert stores rec under rec.Identifier, replacing any previous record.
func (r *Registry) Upsert(rec *Record) {
	r.records.Set(rec.Identifier, rec)

	r.logger.WithFields(logrus.Fields{
		"identifier": rec.Identifier,
		"system_id":  rec.SystemID,
		"service":    rec.WriteService,
		"write_char": rec.WriteCharacteristic,
	}).Debug("Connection record stored")
}

// Replace stores rec only while a record with the same identifier and system
// id is present. It reports false once that record has been removed, for
// example by a disconnect event.
func (r *Registry) Replace(rec *Record) bool {
	ok := r.records.Replace(rec.Identifier, rec, func(cur *Record) bool { return cur.SystemID == rec.SystemID })
	if ok {
		r.logger.WithFields(logrus.Fields{
			"identifier": rec.Identifier,
			"system_id":  rec.SystemID,
			"subscribed": rec.Subscribed,
		}).Debug("Connection record updated")
	}
	return ok
}

// Remove deletes the record for id and returns it. Only one of several
// concurrent callers observes ok=true for the same record.
func (r *Registry) Remove(id string) (*Record, bool) {
	return r.records.Delete(id)
}

func (r *Registry) removeIf(id string, match func(*Record) bool) (*Record, bool) {
	return r.records.DeleteIf(id, match)
}

// ReverseLookupBySystemID finds the record bound to a platform device id.
func (r *Registry) ReverseLookupBySystemID(systemID string) (*Record, bool) {
	var found *Record
	r.records.Range(func(_ string, rec *Record) bool {
		if rec.SystemID == systemID {
			found = rec
			return false
		}
		return true
	})
	return found, found != nil
}

// Records returns a snapshot of all records.
func (r *Registry) Records() []*Record {
	var out []*Record
	r.records.Range(func(_ string, rec *Record) bool {
		out = append(out, rec)
		return true
	})
	return out
}

// Len returns the number of records.
func (r *Registry) Len() int {
	return r.records.Len()
}

// Clear drops every record without invoking callbacks.
func (r *Registry) Clear() {
	removed := r.records.Clear()
	r.logger.WithField("records", len(removed)).Debug("Registry cleared")
}

// HandleEvent applies a gateway event: adapter loss clears the registry, a
// disconnection removes the bound record and fires its OnClose, and a value
// change is forwarded to OnNotify.
func (r *Registry) HandleEvent(ev device.Event) {
	switch ev.Type {
	case device.EventAdapterState:
		if !ev.Available {
			r.logger.Warn("Bluetooth adapter became unavailable, dropping all connection records")
			r.Clear()
		}

	case device.EventConnectionState:
		if ev.Connected {
			return
		}
		rec, ok := r.ReverseLookupBySystemID(ev.SystemID)
		if !ok {
			r.logger.WithField("system_id", ev.SystemID).Debug("Disconnect event for unknown device")
			return
		}
		// the record may have been replaced by a reconnect since the lookup
		rec, claimed := r.removeIf(rec.Identifier, func(cur *Record) bool { return cur.SystemID == ev.SystemID })
		if !claimed {
			return
		}
		r.logger.WithFields(logrus.Fields{
			"identifier": rec.Identifier,
			"system_id":  ev.SystemID,
		}).Info("Device disconnected")
		r.NotifyClosed(rec)

	case device.EventValueChange:
		rec, ok := r.ReverseLookupBySystemID(ev.SystemID)
		if !ok || rec.OnNotify == nil {
			return
		}
		value := make([]byte, len(ev.Value))
		copy(value, ev.Value)
		r.invoke(rec.Identifier, "on_notify", func() { rec.OnNotify(value) })
	}
}

// NotifyClosed invokes rec.OnClose, recovering and logging any panic.
func (r *Registry) NotifyClosed(rec *Record) {
	if rec == nil || rec.OnClose == nil {
		return
	}
	r.invoke(rec.Identifier, "on_close", rec.OnClose)
}

func (r *Registry) invoke(id, callback string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.WithFields(logrus.Fields{
				"identifier": id,
				"callback":   callback,
				"panic":      p,
				"stack":      string(debug.Stack()),
			}).Error("Device callback panicked")
		}
	}()
	fn()
}
