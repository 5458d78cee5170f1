package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blelog/internal/device"
	"github.com/srg/blelog/internal/events"
	"github.com/srg/blelog/internal/groutine"
	"github.com/srg/blelog/internal/permission"
)

// ErrScanInProgress is returned when Scan is called while another scan is running.
var ErrScanInProgress = errors.New("scan already in progress")

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

type DeviceEvent struct {
	Type       DeviceEventType
	Peripheral device.Peripheral
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	AllowDuplicates bool
	ServiceUUIDs    []string
	AllowList       []string
	BlockList       []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        5 * time.Second,
		AllowDuplicates: true,
	}
}

// Scanner handles BLE device discovery. The peripheral list keeps first-seen order
// and holds each peripheral ID once.
type Scanner struct {
	platform device.Platform
	hub      *events.Hub
	gate     permission.Gate
	logger   *logrus.Logger

	mu          sync.Mutex
	peripherals *orderedmap.OrderedMap[string, device.Peripheral]
	cancel      context.CancelFunc
	stopPending bool // Stop arrived before the running scan set cancel

	scanning    atomic.Bool
	bluetoothOn atomic.Bool
	events      *events.RingChannel[DeviceEvent]
}

// NewScanner creates a new BLE scanner
func NewScanner(platform device.Platform, hub *events.Hub, gate permission.Gate, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	if gate == nil {
		gate = permission.Granted
	}
	s := &Scanner{
		platform:    platform,
		hub:         hub,
		gate:        gate,
		logger:      logger,
		peripherals: orderedmap.New[string, device.Peripheral](),
		events:      events.NewRingChannel[DeviceEvent](100),
	}
	s.bluetoothOn.Store(true)
	return s
}

// Scan requests permission, clears the peripheral list and collects discoveries until
// the scan duration elapses, ctx ends or Stop is called. It returns the list in first-seen order.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) ([]device.Peripheral, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	if !s.scanning.CompareAndSwap(false, true) {
		return nil, ErrScanInProgress
	}
	defer s.finish()

	if err := s.gate.Request(ctx); err != nil {
		s.logger.WithError(err).Error("Bluetooth permission denied, scan not started")
		return nil, err
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.peripherals = orderedmap.New[string, device.Peripheral]()
	s.cancel = cancel
	if s.stopPending {
		s.logger.Debug("Scan stopped before it started")
		cancel()
	}
	s.mu.Unlock()

	sub := s.hub.Attach(events.AllPeripherals)
	collected := make(chan struct{})
	groutine.Go(scanCtx, "scanner-collect", func(context.Context) {
		defer close(collected)
		for ev := range sub.C() {
			s.handleEvent(ev, opts)
		}
	})

	s.logger.WithFields(logrus.Fields{
		"duration":         opts.Duration,
		"allow_duplicates": opts.AllowDuplicates,
	}).Info("Starting BLE scan...")
	progressCallback("Scanning")

	err := scanCtx.Err()
	if err == nil {
		err = s.platform.Scan(scanCtx, device.ScanFilter{ServiceUUIDs: opts.ServiceUUIDs}, opts.Duration, opts.AllowDuplicates)
	}

	sub.Release()
	<-collected

	switch {
	case err == nil:
	case ctx.Err() != nil:
		return s.Peripherals(), ctx.Err()
	case errors.Is(err, context.Canceled):
		// stopped via Stop
	default:
		if errors.Is(err, device.ErrBluetoothOff) {
			s.bluetoothOn.Store(false)
		}
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	progressCallback("Processing results")
	result := s.Peripherals()
	s.logger.WithField("device_count", len(result)).Info("BLE scan completed")
	return result, nil
}

// Stop cancels a running scan. Scan then returns what was collected so far.
// A scan still starting up is stopped as soon as it is ready.
func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.cancel != nil:
		s.logger.Debug("Stopping scan")
		s.cancel()
	case s.scanning.Load():
		s.stopPending = true
	}
}

func (s *Scanner) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = nil
	s.stopPending = false
	s.scanning.Store(false)
}

func (s *Scanner) handleEvent(ev device.Event, opts *ScanOptions) {
	switch ev.Kind {
	case device.EventBluetoothStateChanged:
		s.bluetoothOn.Store(ev.PoweredOn)
		s.logger.WithField("powered_on", ev.PoweredOn).Info("Bluetooth state changed")
	case device.EventPeripheralDiscovered:
		s.handleDiscovery(ev.Peripheral, opts)
	}
}

// handleDiscovery updates an existing entry or appends a new one.
func (s *Scanner) handleDiscovery(p device.Peripheral, opts *ScanOptions) {
	if !shouldInclude(p.ID, opts) {
		return
	}
	key := strings.ToLower(p.ID)

	s.mu.Lock()
	existing, known := s.peripherals.Get(key)
	if known {
		existing.RSSI = p.RSSI
		if p.Name != "" {
			existing.Name = p.Name
		}
		p = existing
	}
	s.peripherals.Set(key, p)
	s.mu.Unlock()

	event := DeviceEvent{Peripheral: p, Type: EventUpdated}
	if !known {
		event.Type = EventNew
		s.logger.WithFields(logrus.Fields{
			"device":  p.DisplayName(),
			"address": p.ID,
			"rssi":    p.RSSI,
		}).Info("Discovered new device")
	}
	s.events.ForceSend(event)
}

// shouldInclude applies allow/block lists
func shouldInclude(id string, opts *ScanOptions) bool {
	for _, blocked := range opts.BlockList {
		if strings.EqualFold(id, blocked) {
			return false
		}
	}
	if len(opts.AllowList) == 0 {
		return true
	}
	for _, allowed := range opts.AllowList {
		if strings.EqualFold(id, allowed) {
			return true
		}
	}
	return false
}

// Peripherals returns the discovered peripherals in first-seen order.
func (s *Scanner) Peripherals() []device.Peripheral {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]device.Peripheral, 0, s.peripherals.Len())
	for pair := s.peripherals.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Lookup returns a discovered peripheral by ID.
func (s *Scanner) Lookup(id string) (device.Peripheral, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peripherals.Get(strings.ToLower(id))
}

// IsScanning reports whether a scan is running.
func (s *Scanner) IsScanning() bool {
	return s.scanning.Load()
}

// BluetoothOn reports the last known adapter state.
func (s *Scanner) BluetoothOn() bool {
	return s.bluetoothOn.Load()
}

// Events return a read-only channel of device events
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}
