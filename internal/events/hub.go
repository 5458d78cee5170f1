// Package events multiplexes the single process-wide stream of platform events
// onto per-peripheral subscriptions.
package events

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/blelog/internal/device"
)

// AllPeripherals attaches a subscription to global events
// (peripheral discovery and Bluetooth adapter state).
const AllPeripherals = ""

// DefaultBufferSize is the per-subscription buffer used when NewHub gets a non-positive size.
const DefaultBufferSize = 256

// Hub fans platform events out to attached subscriptions. Platforms publish into
// exactly one Hub; every consumer owns the Subscription it attached.
type Hub struct {
	subs       *hashmap.Map[uint64, *Subscription]
	nextID     atomic.Uint64
	bufferSize int
	logger     *logrus.Logger
}

// NewHub creates a hub whose subscriptions buffer up to bufferSize events each.
func NewHub(bufferSize int, logger *logrus.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		subs:       hashmap.New[uint64, *Subscription](),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Attach registers a subscription for a peripheral's scoped events, or for
// global events when peripheralID is AllPeripherals. The caller owns the
// returned subscription and must Release it.
func (h *Hub) Attach(peripheralID string) *Subscription {
	sub := &Subscription{
		id:           h.nextID.Add(1),
		peripheralID: peripheralID,
		hub:          h,
		ch:           NewRingChannel[device.Event](h.bufferSize),
	}
	h.subs.Set(sub.id, sub)

	h.logger.WithFields(logrus.Fields{
		"subscription": sub.id,
		"peripheral":   peripheralID,
	}).Debug("Event subscription attached")
	return sub
}

// Publish delivers ev to every matching subscription. It never blocks:
// a full subscription buffer drops its oldest value or discovery event.
// Disconnects and adapter state changes are never dropped in their favour.
func (h *Hub) Publish(ev device.Event) {
	h.subs.Range(func(_ uint64, sub *Subscription) bool {
		if sub.matches(ev) {
			sub.deliver(ev)
		}
		return true
	})
}

// Len returns the number of attached subscriptions.
func (h *Hub) Len() int {
	return h.subs.Len()
}

// Subscription is an owned handle on the hub's event stream.
type Subscription struct {
	id           uint64
	peripheralID string
	hub          *Hub
	ch           *RingChannel[device.Event]

	mu       sync.Mutex // serializes deliver against Release
	released bool
}

// C returns the events for this subscription. It is closed by Release.
func (s *Subscription) C() <-chan device.Event {
	return s.ch.C()
}

// PeripheralID returns the peripheral this subscription is scoped to, or AllPeripherals.
func (s *Subscription) PeripheralID() string {
	return s.peripheralID
}

// Metrics returns delivery counters for this subscription.
func (s *Subscription) Metrics() Metrics {
	return s.ch.GetMetrics()
}

// Release detaches the subscription and closes its channel. It is idempotent.
func (s *Subscription) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	s.hub.subs.Del(s.id)
	s.ch.Close()

	s.hub.logger.WithFields(logrus.Fields{
		"subscription": s.id,
		"peripheral":   s.peripheralID,
		"overwritten":  s.ch.GetMetrics().Overwritten,
	}).Debug("Event subscription released")
}

func (s *Subscription) matches(ev device.Event) bool {
	if !ev.Scoped() {
		return s.peripheralID == AllPeripherals
	}
	return s.peripheralID != AllPeripherals && strings.EqualFold(s.peripheralID, ev.PeripheralID)
}

func (s *Subscription) deliver(ev device.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	if s.ch.ForceSendFunc(ev, evictable) {
		s.hub.logger.WithFields(logrus.Fields{
			"subscription": s.id,
			"peripheral":   s.peripheralID,
			"kind":         ev.Kind,
		}).Warn("Event buffer full, dropped oldest event")
	}
}

// evictable reports whether an event may be dropped under backpressure. Later
// values and advertisements supersede earlier ones; lifecycle events do not.
func evictable(ev device.Event) bool {
	switch ev.Kind {
	case device.EventCharacteristicValueUpdated, device.EventPeripheralDiscovered:
		return true
	default:
		return false
	}
}
