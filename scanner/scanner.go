package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/livemap"
)

// DefaultScanTimeout bounds a discovery session when no timeout is given.
const DefaultScanTimeout = 10 * time.Second

// ErrScanSuperseded is returned by a session cancelled because a newer
// session started. It also matches context.Canceled.
var ErrScanSuperseded = errors.New("scan superseded by a newer session")

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// MatchedDevice pairs a wanted identifier with the advertisement it matched.
type MatchedDevice struct {
	Identifier string
	MAC        string
	Device     device.AdvertisedDevice
}

// ScanOptions configures a discovery session
type ScanOptions struct {
	Timeout         time.Duration
	AllowDuplicates bool
	Services        []string
	Progress        ProgressCallback
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Timeout:         DefaultScanTimeout,
		AllowDuplicates: true,
	}
}

// Scanner runs time-bounded discovery sessions, one at a time, and remembers
// every device it has seen for later reuse.
type Scanner struct {
	discoverer device.Discoverer
	seen       *livemap.Map[device.AdvertisedDevice]
	logger     *logrus.Logger

	mu      sync.Mutex
	session uint64
	cancel  context.CancelCauseFunc
}

// NewScanner creates a scanner over the gateway's discovery half.
func NewScanner(d device.Discoverer, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		discoverer: d,
		seen:       livemap.New[device.AdvertisedDevice](),
		logger:     logger,
	}
}

// session is the state of one Scan call.
type session struct {
	mu          sync.Mutex
	outstanding []string
	matched     []MatchedDevice
	done        chan struct{}
	closed      bool
}

// handle consumes the first outstanding identifier adv matches.
func (s *session) handle(adv device.AdvertisedDevice) (MatchedDevice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return MatchedDevice{}, false
	}
	for i, id := range s.outstanding {
		if !device.MatchDevice(adv, id) {
			continue
		}
		m := MatchedDevice{Identifier: id, MAC: device.ParseMAC(adv.AdvertisementBytes), Device: adv}
		s.matched = append(s.matched, m)
		s.outstanding = append(s.outstanding[:i:i], s.outstanding[i+1:]...)
		if len(s.outstanding) == 0 {
			s.closed = true
			close(s.done)
		}
		return m, true
	}
	return MatchedDevice{}, false
}

// finish closes the session and returns what it matched and what is left.
func (s *session) finish() ([]MatchedDevice, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.matched, s.outstanding
}

// Scan discovers devices until every identifier has been matched once or
// the timeout fires. Identifiers are de-duplicated case-insensitively and
// each one is consumed by the first advertisement that matches it. Starting
// a Scan cancels any session still running.
func (s *Scanner) Scan(ctx context.Context, identifiers []string, opts *ScanOptions) ([]MatchedDevice, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}
	progress := opts.Progress
	if progress == nil {
		progress = func(string) {} // No-op callback
	}

	wanted, err := normalizeIdentifiers(identifiers)
	if err != nil {
		return nil, err
	}
	if len(wanted) == 0 {
		return nil, nil
	}

	sessCtx, id := s.begin(ctx)
	defer s.end(id)

	sess := &session{outstanding: wanted, done: make(chan struct{})}
	handler := func(adv device.AdvertisedDevice) {
		if adv.SystemID != "" {
			s.seen.Set(adv.SystemID, adv)
		}
		if m, ok := sess.handle(adv); ok {
			s.logger.WithFields(logrus.Fields{
				"identifier": m.Identifier,
				"system_id":  adv.SystemID,
				"name":       adv.Name,
				"mac":        m.MAC,
				"rssi":       adv.RSSI,
			}).Info("Matched device")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"identifiers": wanted,
		"timeout":     timeout,
	}).Info("Starting BLE scan...")
	progress("Scanning")

	discoveryOpts := device.DiscoveryOptions{AllowDuplicates: opts.AllowDuplicates, Services: opts.Services}
	if err := s.discoverer.StartDiscovery(sessCtx, discoveryOpts, handler); err != nil {
		sess.finish()
		return nil, fmt.Errorf("failed to start discovery: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-sess.done:
		matched, _ := sess.finish()
		return s.completed(matched, progress), nil

	case <-timer.C:
		matched, outstanding := sess.finish()
		if len(outstanding) == 0 {
			// the last match raced the timer
			return s.completed(matched, progress), nil
		}
		progress("Timeout")
		s.logger.WithFields(logrus.Fields{
			"matched":     len(matched),
			"outstanding": outstanding,
		}).Warn("BLE scan timed out")
		return nil, device.NewError(device.KindScanTimeout,
			fmt.Sprintf("no advertisement matched %s within %s", strings.Join(outstanding, ", "), timeout), nil)

	case <-sessCtx.Done():
		sess.finish()
		if cause := context.Cause(sessCtx); errors.Is(cause, ErrScanSuperseded) {
			s.logger.Debug("BLE scan superseded by a newer session")
			return nil, fmt.Errorf("%w: %w", ErrScanSuperseded, context.Canceled)
		}
		return nil, sessCtx.Err()
	}
}

func (s *Scanner) completed(matched []MatchedDevice, progress ProgressCallback) []MatchedDevice {
	progress("Completed")
	s.logger.WithField("device_count", len(matched)).Info("BLE scan completed")
	return matched
}

// Survey discovers for the whole timeout and returns every device heard,
// strongest signal first. It shares the single-session rule with Scan.
func (s *Scanner) Survey(ctx context.Context, opts *ScanOptions) ([]device.AdvertisedDevice, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}
	progress := opts.Progress
	if progress == nil {
		progress = func(string) {}
	}

	sessCtx, id := s.begin(ctx)
	defer s.end(id)

	var mu sync.Mutex
	heard := make(map[string]device.AdvertisedDevice)
	handler := func(adv device.AdvertisedDevice) {
		if adv.SystemID == "" {
			return
		}
		s.seen.Set(adv.SystemID, adv)
		mu.Lock()
		heard[adv.SystemID] = adv
		mu.Unlock()
	}

	progress("Scanning")
	discoveryOpts := device.DiscoveryOptions{AllowDuplicates: opts.AllowDuplicates, Services: opts.Services}
	if err := s.discoverer.StartDiscovery(sessCtx, discoveryOpts, handler); err != nil {
		return nil, fmt.Errorf("failed to start discovery: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-sessCtx.Done():
		if cause := context.Cause(sessCtx); errors.Is(cause, ErrScanSuperseded) {
			return nil, fmt.Errorf("%w: %w", ErrScanSuperseded, context.Canceled)
		}
		return nil, sessCtx.Err()
	}
	progress("Completed")

	mu.Lock()
	out := make([]device.AdvertisedDevice, 0, len(heard))
	for _, adv := range heard {
		out = append(out, adv)
	}
	mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].RSSI != out[j].RSSI {
			return out[i].RSSI > out[j].RSSI
		}
		return out[i].SystemID < out[j].SystemID
	})
	s.logger.WithField("device_count", len(out)).Info("BLE survey completed")
	return out, nil
}

// Known returns a previously advertised device matching identifier.
func (s *Scanner) Known(identifier string) (device.AdvertisedDevice, bool) {
	if adv, ok := s.seen.Get(identifier); ok {
		return adv, true
	}
	var found device.AdvertisedDevice
	ok := false
	s.seen.Range(func(_ string, adv device.AdvertisedDevice) bool {
		if device.MatchDevice(adv, identifier) {
			found, ok = adv, true
			return false
		}
		return true
	})
	return found, ok
}

// Forget drops the cached advertisement for a system id, so the next
// connect finds the device by scanning again.
func (s *Scanner) Forget(systemID string) {
	s.seen.Delete(systemID)
}

func (s *Scanner) begin(ctx context.Context) (context.Context, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel(ErrScanSuperseded)
	}
	sessCtx, cancel := context.WithCancelCause(ctx)
	s.session++
	s.cancel = cancel
	return sessCtx, s.session
}

// end stops discovery unless a newer session has taken it over.
func (s *Scanner) end(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != id {
		return
	}
	if s.cancel != nil {
		s.cancel(nil)
		s.cancel = nil
	}
	if err := s.discoverer.StopDiscovery(); err != nil {
		s.logger.WithField("error", err).Warn("Failed to stop discovery")
	}
}

func normalizeIdentifiers(ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, device.NewError(device.KindInvalidIdentifier, "device identifier is empty", nil)
		}
		key := strings.ToUpper(id)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}
