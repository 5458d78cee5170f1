package events

import "sync/atomic"

// RingChannel is the bounded buffer behind every hub Subscription.
//
// The platform publishes from its own callbacks and must never wait on a slow
// consumer, so a full buffer makes room by evicting its oldest element instead
// of blocking. Consumers range over C like any channel.
//
// # Example
//
//	rc := events.NewRingChannel[device.Event](2)
//	rc.ForceSend(device.Event{Kind: device.EventCharacteristicValueUpdated, Value: v1})
//	rc.ForceSend(device.Event{Kind: device.EventCharacteristicValueUpdated, Value: v2})
//	rc.ForceSend(device.Event{Kind: device.EventCharacteristicValueUpdated, Value: v3}) // evicts v1
//
//	for ev := range rc.C() { // yields v2, v3 once the hub closes the subscription
//	    handle(ev)
//	}
//
// Sends are only non-blocking while a single producer writes at a time; the hub
// serializes delivery per subscription.
type RingChannel[T any] struct {
	ch      chan T
	metrics Metrics
}

// NewRingChannel creates a RingChannel holding up to capacity elements.
func NewRingChannel[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. It is closed by Close.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// TrySend queues v if there is room and reports whether it did.
func (rc *RingChannel[T]) TrySend(v T) bool {
	select {
	case rc.ch <- v:
		rc.metrics.addWritten(1)
		return true
	default:
		return false
	}
}

// ForceSend queues v, evicting the oldest element when full.
// It reports whether an element was evicted.
func (rc *RingChannel[T]) ForceSend(v T) bool {
	return rc.ForceSendFunc(v, nil)
}

// ForceSendFunc queues v. When full, it evicts the oldest element for which
// evictable returns true, keeping the order of everything else. If nothing
// buffered is evictable the oldest element goes. A nil evictable accepts all.
// It reports whether an element was evicted.
func (rc *RingChannel[T]) ForceSendFunc(v T, evictable func(T) bool) bool {
	if rc.TrySend(v) {
		return false
	}

	if evictable == nil {
		return rc.evictOldest(v)
	}

	// Pull everything out, drop one, put the rest back in order. The consumer may
	// take elements meanwhile, which only frees room for the refill.
	buffered := make([]T, 0, cap(rc.ch))
drain:
	for {
		select {
		case e := <-rc.ch:
			buffered = append(buffered, e)
		default:
			break drain
		}
	}

	dropped := false
	if len(buffered) == cap(rc.ch) {
		victim := 0
		for i, e := range buffered {
			if evictable(e) {
				victim = i
				break
			}
		}
		buffered = append(buffered[:victim], buffered[victim+1:]...)
		rc.metrics.addOverwritten(1)
		dropped = true
	}

	for _, e := range buffered {
		rc.ch <- e
	}
	rc.ch <- v
	rc.metrics.addWritten(1)
	return dropped
}

func (rc *RingChannel[T]) evictOldest(v T) bool {
	dropped := false
	select {
	case <-rc.ch:
		rc.metrics.addOverwritten(1)
		dropped = true
	default:
	}
	rc.ch <- v
	rc.metrics.addWritten(1)
	return dropped
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the buffer capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the receive side once buffered elements are drained. Sends after Close panic.
func (rc *RingChannel[T]) Close() {
	close(rc.ch)
}

// GetMetrics returns the delivery counters.
func (rc *RingChannel[T]) GetMetrics() Metrics {
	return Metrics{
		Written:     atomic.LoadInt64(&rc.metrics.Written),
		Overwritten: atomic.LoadInt64(&rc.metrics.Overwritten),
	}
}

// Metrics counts queued and evicted elements.
type Metrics struct {
	Written     int64
	Overwritten int64
}

func (m *Metrics) addWritten(n int) {
	atomic.AddInt64(&m.Written, int64(n))
}

func (m *Metrics) addOverwritten(n int) {
	atomic.AddInt64(&m.Overwritten, int64(n))
}
