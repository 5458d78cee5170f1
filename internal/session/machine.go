// Package session drives one peripheral through connect, service discovery,
// notification subscription, live sample decoding and teardown.
//
// All state lives on a single event loop goroutine. Platform requests run in
// worker goroutines and post their completions back to the loop, so a slow or
// stuck device never blocks Teardown or Snapshot.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sirupsen/logrus"

	"github.com/srg/blelog/internal/decoder"
	"github.com/srg/blelog/internal/device"
	"github.com/srg/blelog/internal/events"
	"github.com/srg/blelog/internal/groutine"
	"github.com/srg/blelog/internal/permission"
)

const (
	inboxSize = 64

	// DefaultStopGrace bounds how long teardown waits for stop-notification
	// requests before it disconnects anyway.
	DefaultStopGrace = 2 * time.Second
)

// Options configures a Machine. Zero values select defaults.
type Options struct {
	Logger      *logrus.Logger
	Gate        permission.Gate
	Decoders    *decoder.Registry
	Sinks       SinkFactory // nil disables sample logging
	Placeholder string
	StopGrace   time.Duration
}

// Machine is the session state machine for a single peripheral at a time.
type Machine struct {
	platform device.Platform
	hub      *events.Hub
	opts     Options
	logger   *logrus.Logger

	inbox     chan func()
	stop      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	// owned by the event loop
	state   State
	target  device.Peripheral
	sess    *liveSession
	epoch   uint64
	pending func(error)

	viewMu  sync.RWMutex
	view    Snapshot
	changes chan struct{}
}

// liveSession is the aggregate for one connected peripheral. It exists
// from a successful connect until teardown or link loss.
type liveSession struct {
	peripheral device.Peripheral
	services   []device.Service
	selected   string
	subs       mapset.Set[string]
	live       map[string]float32

	events    *events.Subscription
	sink      SampleSink
	rows      *rowEmitter
	logPath   string
	logFailed bool
}

func newLiveSession(p device.Peripheral) *liveSession {
	return &liveSession{
		peripheral: p,
		subs:       mapset.NewThreadUnsafeSet[string](),
		live:       make(map[string]float32),
	}
}

func (s *liveSession) service(uuid string) (device.Service, bool) {
	for _, svc := range s.services {
		if device.SameUUID(svc.UUID, uuid) {
			return svc, true
		}
	}
	return device.Service{}, false
}

// activeIn returns the subscribed characteristics of a service, in discovery order.
func (s *liveSession) activeIn(serviceUUID string) []device.Characteristic {
	svc, ok := s.service(serviceUUID)
	if !ok {
		return nil
	}
	var out []device.Characteristic
	for _, c := range svc.Characteristics {
		if s.subs.Contains(c.UUID) {
			out = append(out, c)
		}
	}
	return out
}

func (s *liveSession) activeCharacteristics() []device.Characteristic {
	var out []device.Characteristic
	for _, svc := range s.services {
		out = append(out, s.activeIn(svc.UUID)...)
	}
	return out
}

// resolveActive maps a platform-reported characteristic UUID onto the
// discovered UUID it was subscribed under.
func (s *liveSession) resolveActive(uuid string) (string, bool) {
	if s.subs.Contains(uuid) {
		return uuid, true
	}
	for _, key := range s.subs.ToSlice() {
		if device.SameUUID(key, uuid) {
			return key, true
		}
	}
	return "", false
}

// NewMachine creates a machine bound to a platform and the hub that platform publishes into,
// and starts its event loop.
func NewMachine(platform device.Platform, hub *events.Hub, opts Options) *Machine {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Gate == nil {
		opts.Gate = permission.Granted
	}
	if opts.Decoders == nil {
		opts.Decoders = decoder.NewRegistry()
	}
	if opts.Placeholder == "" {
		opts.Placeholder = DefaultPlaceholder
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = DefaultStopGrace
	}

	m := &Machine{
		platform: platform,
		hub:      hub,
		opts:     opts,
		logger:   opts.Logger,
		inbox:    make(chan func(), inboxSize),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
		changes:  make(chan struct{}, 1),
		view:     Snapshot{State: Disconnected},
	}

	groutine.Go(context.Background(), "session-loop", m.run)
	return m
}

func (m *Machine) run(context.Context) {
	defer close(m.stopped)
	for {
		select {
		case <-m.stop:
			return
		case fn := <-m.inbox:
			fn()
		}
	}
}

// Close stops the event loop. Call Teardown first to release the peripheral.
func (m *Machine) Close() {
	m.closeOnce.Do(func() { close(m.stop) })
	<-m.stopped
}

func (m *Machine) post(fn func()) bool {
	select {
	case <-m.stop:
		return false
	default:
	}
	select {
	case m.inbox <- fn:
		return true
	case <-m.stop:
		return false
	}
}

type result[T any] struct {
	val T
	err error
}

// call runs start on the event loop and waits for its reply. The reply func
// may be invoked from any goroutine; only the first reply is delivered.
func call[T any](ctx context.Context, m *Machine, start func(reply func(T, error))) (T, error) {
	ch := make(chan result[T], 1)
	reply := func(v T, err error) {
		select {
		case ch <- result[T]{val: v, err: err}:
		default:
		}
	}

	var zero T
	if !m.post(func() { start(reply) }) {
		return zero, ErrClosed
	}

	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-m.stopped:
		return zero, ErrClosed
	}
}

// async runs a platform request off the loop. done runs on the loop with the
// request's error unless the session was torn down meanwhile, in which case
// onStale (if set) runs instead.
func (m *Machine) async(name string, request func() error, done func(error), onStale func(error)) {
	epoch := m.epoch
	groutine.Go(context.Background(), name, func(context.Context) {
		err := request()
		m.post(func() {
			if epoch != m.epoch {
				if onStale != nil {
					onStale(err)
				}
				return
			}
			done(err)
		})
	})
}

func (m *Machine) finish(err error) {
	if p := m.pending; p != nil {
		m.pending = nil
		p(err)
	}
}

func (m *Machine) peripheralFields() logrus.Fields {
	return logrus.Fields{
		"peripheral": m.target.ID,
		"name":       m.target.DisplayName(),
	}
}

// Connect requests Bluetooth permission, connects to the peripheral and discovers its services.
// On success the machine is Idle with no service selected.
func (m *Machine) Connect(ctx context.Context, p device.Peripheral) error {
	if strings.TrimSpace(p.ID) == "" {
		return &device.NotFoundError{Resource: "peripheral"}
	}
	if err := m.opts.Gate.Request(ctx); err != nil {
		m.logger.WithError(err).WithField("peripheral", p.ID).Error("Bluetooth permission denied, connect not attempted")
		return err
	}

	_, err := call(ctx, m, func(reply func(struct{}, error)) {
		m.startConnect(ctx, p, func(err error) { reply(struct{}{}, err) })
	})
	return err
}

func (m *Machine) startConnect(ctx context.Context, p device.Peripheral, reply func(error)) {
	if m.state != Disconnected {
		reply(&StateError{Op: "connect", State: m.state})
		return
	}

	m.target = p
	m.pending = reply
	m.setState(Connecting)
	m.logger.WithFields(m.peripheralFields()).Info("Connecting to peripheral...")

	platform := m.platform
	m.async("session-connect",
		func() error { return platform.Connect(ctx, p.ID) },
		func(err error) { m.connectDone(ctx, p, err) },
		func(err error) {
			if err == nil {
				// Connected after teardown: release the link.
				groutine.Go(context.Background(), "session-stale-disconnect", func(context.Context) {
					_ = platform.Disconnect(context.Background(), p.ID)
				})
			}
		})
}

func (m *Machine) connectDone(ctx context.Context, p device.Peripheral, err error) {
	if err != nil {
		m.logger.WithFields(m.peripheralFields()).WithError(err).Error("Connection failed")
		m.target = device.Peripheral{}
		m.setState(Disconnected)
		m.finish(&ConnectionError{Peripheral: p.ID, Op: "connect", Err: err})
		return
	}

	m.sess = newLiveSession(p)
	m.sess.events = m.hub.Attach(p.ID)
	m.startPump(m.sess.events)
	m.setState(ServiceDiscovery)
	m.logger.WithFields(m.peripheralFields()).Info("Connected, discovering services...")

	platform := m.platform
	var raw []device.DiscoveredCharacteristic
	m.async("session-discover",
		func() error {
			var err error
			raw, err = platform.RetrieveServices(ctx, p.ID)
			return err
		},
		func(err error) { m.discoveryDone(p, raw, err) },
		nil)
}

func (m *Machine) discoveryDone(p device.Peripheral, raw []device.DiscoveredCharacteristic, err error) {
	if err != nil {
		m.logger.WithFields(m.peripheralFields()).WithError(err).Error("Service discovery failed")
		pending := m.pending
		m.pending = nil
		m.clear()
		m.disconnectQuietly(p.ID)
		if pending != nil {
			pending(&ConnectionError{Peripheral: p.ID, Op: "discover", Err: err})
		}
		return
	}

	if err := m.onServicesDiscovered(raw); err != nil {
		m.finish(err)
		return
	}
	m.finish(nil)
}

// onServicesDiscovered groups the flat discovery result and moves the machine to Idle.
func (m *Machine) onServicesDiscovered(raw []device.DiscoveredCharacteristic) error {
	if m.state != ServiceDiscovery || m.sess == nil {
		return &StateError{Op: "accept discovered services", State: m.state}
	}

	m.sess.services = GroupServices(raw)
	m.setState(Idle)

	m.logger.WithFields(m.peripheralFields()).WithFields(logrus.Fields{
		"services":        len(m.sess.services),
		"characteristics": len(raw),
	}).Info("Services discovered")
	return nil
}

// SelectService makes a discovered service the selected one and subscribes to all of its
// notify-capable characteristics. When the machine is Active, the previous selection is
// unsubscribed first. An unknown service leaves the machine unchanged.
func (m *Machine) SelectService(ctx context.Context, serviceUUID string) (*GroupReport, error) {
	return call(ctx, m, func(reply func(*GroupReport, error)) {
		if m.state != Idle && m.state != Active {
			reply(nil, &StateError{Op: "select service", State: m.state})
			return
		}
		svc, ok := m.sess.service(serviceUUID)
		if !ok {
			m.logger.WithFields(m.peripheralFields()).WithField("service", serviceUUID).Warn("Selected service not found")
			reply(nil, &UnknownServiceError{UUID: serviceUUID})
			return
		}

		if m.state == Active {
			m.startUnsubscribe(ctx, m.sess.selected, func(_ *GroupReport, err error) {
				if err != nil {
					reply(nil, err)
					return
				}
				m.startSubscribe(ctx, svc, reply)
			})
			return
		}
		m.startSubscribe(ctx, svc, reply)
	})
}

// SubscribeAll starts notifications for every notify-capable characteristic of a service,
// concurrently, and moves to Active once every request has completed. The service becomes
// the selected service. Individual failures produce a *PartialSubscriptionError alongside
// the report; the session is Active with whatever succeeded.
func (m *Machine) SubscribeAll(ctx context.Context, serviceUUID string) (*GroupReport, error) {
	return call(ctx, m, func(reply func(*GroupReport, error)) {
		if m.state != Idle {
			reply(nil, &StateError{Op: "subscribe", State: m.state})
			return
		}
		svc, ok := m.sess.service(serviceUUID)
		if !ok {
			reply(nil, &UnknownServiceError{UUID: serviceUUID})
			return
		}
		m.startSubscribe(ctx, svc, reply)
	})
}

func (m *Machine) startSubscribe(ctx context.Context, svc device.Service, reply func(*GroupReport, error)) {
	targets := svc.NotifyCharacteristics()
	report := &GroupReport{Service: svc.UUID, Outcomes: make([]Outcome, len(targets))}

	m.sess.selected = svc.UUID
	m.pending = func(err error) { reply(nil, err) }
	m.setState(Subscribing)

	log := m.logger.WithFields(m.peripheralFields()).WithField("service", svc.UUID)
	log.WithField("characteristics", len(targets)).Info("Subscribing to notifications...")

	group := newBarrier(len(targets), func() {
		m.pending = nil
		m.setState(Active)
		m.beginLogging(svc)

		err := report.partialError()
		if err != nil {
			log.WithError(err).Warn("Some notifications could not be started")
		} else {
			log.Info("Notifications active")
		}
		reply(report, err)
	})

	platform := m.platform
	peripheralID := m.sess.peripheral.ID
	for i, c := range targets {
		i, c := i, c
		report.Outcomes[i].Characteristic = c.UUID
		m.async("session-start-notification",
			func() error { return platform.StartNotification(ctx, peripheralID, c.ServiceUUID, c.UUID) },
			func(err error) {
				report.Outcomes[i].Err = err
				if err != nil {
					log.WithField("characteristic", c.UUID).WithError(err).Warn("Failed to start notifications")
				} else {
					m.sess.subs.Add(c.UUID)
				}
				group.done()
			},
			nil)
	}
}

// UnsubscribeAll stops notifications for every active characteristic of the selected service,
// concurrently, and moves to Idle once every request has completed, regardless of individual
// outcomes. Any other service, present or not, is a no-op that leaves the machine Active.
func (m *Machine) UnsubscribeAll(ctx context.Context, serviceUUID string) (*GroupReport, error) {
	return call(ctx, m, func(reply func(*GroupReport, error)) {
		m.startUnsubscribe(ctx, serviceUUID, reply)
	})
}

func (m *Machine) startUnsubscribe(ctx context.Context, serviceUUID string, reply func(*GroupReport, error)) {
	if m.state != Active {
		reply(nil, &StateError{Op: "unsubscribe", State: m.state})
		return
	}

	log := m.logger.WithFields(m.peripheralFields()).WithField("service", serviceUUID)
	if !device.SameUUID(serviceUUID, m.sess.selected) {
		// Only the selected service holds subscriptions.
		log.Debug("Service is not selected, nothing to unsubscribe")
		reply(&GroupReport{Service: serviceUUID}, nil)
		return
	}

	targets := m.sess.activeIn(serviceUUID)
	report := &GroupReport{Service: serviceUUID, Outcomes: make([]Outcome, len(targets))}

	m.pending = func(err error) { reply(nil, err) }
	m.setState(Unsubscribing)
	log.WithField("characteristics", len(targets)).Info("Stopping notifications...")

	group := newBarrier(len(targets), func() {
		m.pending = nil
		if m.sess.subs.Cardinality() > 0 {
			log.WithField("remaining", m.sess.subs.ToSlice()).Warn("Subscriptions outside the selected service remain active")
			m.setState(Active)
		} else {
			m.setState(Idle)
		}
		log.Info("Notifications stopped")
		reply(report, nil)
	})

	platform := m.platform
	peripheralID := m.sess.peripheral.ID
	for i, c := range targets {
		i, c := i, c
		report.Outcomes[i].Characteristic = c.UUID
		m.async("session-stop-notification",
			func() error { return platform.StopNotification(ctx, peripheralID, c.ServiceUUID, c.UUID) },
			func(err error) {
				report.Outcomes[i].Err = err
				m.sess.subs.Remove(c.UUID)
				if err != nil {
					log.WithField("characteristic", c.UUID).WithError(err).Warn("Failed to stop notifications")
				}
				group.done()
			},
			nil)
	}
}

// ToggleNotifications unsubscribes the selected service when Active and resubscribes it when Idle.
func (m *Machine) ToggleNotifications(ctx context.Context) (*GroupReport, error) {
	return call(ctx, m, func(reply func(*GroupReport, error)) {
		switch {
		case m.state == Active:
			m.startUnsubscribe(ctx, m.sess.selected, reply)
		case m.state == Idle && m.sess.selected != "":
			svc, ok := m.sess.service(m.sess.selected)
			if !ok {
				reply(nil, &UnknownServiceError{UUID: m.sess.selected})
				return
			}
			m.startSubscribe(ctx, svc, reply)
		default:
			reply(nil, &StateError{Op: "toggle notifications", State: m.state})
		}
	})
}

// Teardown discards the session immediately, then stops active notifications and disconnects
// on a best-effort basis. Any in-flight operation fails with ErrTornDown. A platform disconnect
// failure is returned as a *DisconnectWarning; the session is gone either way. Teardown on a
// disconnected machine is a no-op.
func (m *Machine) Teardown(ctx context.Context) error {
	_, err := call(ctx, m, func(reply func(struct{}, error)) {
		m.teardown(ctx, func(err error) { reply(struct{}{}, err) })
	})
	return err
}

func (m *Machine) teardown(ctx context.Context, reply func(error)) {
	if m.state == Disconnected && m.sess == nil {
		reply(nil)
		return
	}

	target := m.target
	var active []device.Characteristic
	if m.sess != nil {
		active = m.sess.activeCharacteristics()
	}

	m.logger.WithFields(m.peripheralFields()).WithField("subscriptions", len(active)).Info("Tearing down session")
	m.clear()

	platform := m.platform
	logger := m.logger
	grace := m.opts.StopGrace
	groutine.Go(context.Background(), "session-teardown", func(context.Context) {
		stops := make([]func(context.Context), 0, len(active))
		for _, c := range active {
			c := c
			stops = append(stops, func(context.Context) {
				if err := platform.StopNotification(ctx, target.ID, c.ServiceUUID, c.UUID); err != nil {
					logger.WithFields(logrus.Fields{
						"peripheral":     target.ID,
						"characteristic": c.UUID,
						"error":          err,
					}).Debug("Ignoring stop notification failure during teardown")
				}
			})
		}

		select {
		case <-groutine.GoAll(ctx, "session-teardown-stop", stops...):
		case <-time.After(grace):
			logger.WithField("peripheral", target.ID).Warn("Stop notification requests still pending, disconnecting anyway")
		case <-ctx.Done():
		}

		if err := platform.Disconnect(ctx, target.ID); err != nil {
			logger.WithField("peripheral", target.ID).WithError(err).Warn("Disconnect failed")
			reply(&DisconnectWarning{Peripheral: target.ID, Err: err})
			return
		}
		logger.WithField("peripheral", target.ID).Info("Disconnected")
		reply(nil)
	})
}

// clear drops all local session state and invalidates in-flight completions.
func (m *Machine) clear() {
	m.epoch++
	m.finish(ErrTornDown)

	if m.sess != nil {
		if m.sess.events != nil {
			m.sess.events.Release()
		}
		m.endLogging()
	}
	m.sess = nil
	m.target = device.Peripheral{}
	m.setState(Disconnected)
}

func (m *Machine) disconnectQuietly(peripheralID string) {
	platform := m.platform
	logger := m.logger
	groutine.Go(context.Background(), "session-disconnect", func(context.Context) {
		if err := platform.Disconnect(context.Background(), peripheralID); err != nil {
			logger.WithField("peripheral", peripheralID).WithError(err).Debug("Disconnect after failed discovery")
		}
	})
}

// startPump forwards the session's scoped platform events into the loop, in order.
func (m *Machine) startPump(sub *events.Subscription) {
	epoch := m.epoch
	groutine.Go(context.Background(), "session-events", func(context.Context) {
		for ev := range sub.C() {
			ev := ev
			ok := m.post(func() {
				if epoch == m.epoch {
					m.handleEvent(ev)
				}
			})
			if !ok {
				return
			}
		}
	})
}

func (m *Machine) handleEvent(ev device.Event) {
	switch ev.Kind {
	case device.EventCharacteristicValueUpdated:
		m.onCharacteristicValue(ev.CharacteristicUUID, ev.Value)
	case device.EventPeripheralDisconnected:
		m.onLinkLost(ev.Err)
	}
}

// onCharacteristicValue decodes a notification and updates live values. Values arriving outside
// Active, or for characteristics without an active subscription, are discarded.
func (m *Machine) onCharacteristicValue(characteristicUUID string, raw []byte) {
	log := m.logger.WithFields(m.peripheralFields()).WithField("characteristic", characteristicUUID)
	if m.state != Active || m.sess == nil {
		log.WithField("state", m.state).Debug("Discarding value received outside Active")
		return
	}
	key, ok := m.sess.resolveActive(characteristicUUID)
	if !ok {
		log.Debug("Discarding value for characteristic without subscription")
		return
	}

	v, err := m.opts.Decoders.Decode(key, raw)
	if err != nil {
		log.WithError(err).Warn("Dropping undecodable value")
		return
	}

	m.sess.live[key] = v
	if m.sess.rows != nil {
		if err := m.sess.sink.WriteRow(m.sess.rows.Row(m.sess.live)); err != nil {
			log.WithError(err).Warn("Failed to write log row")
		}
	}
	m.publish()
}

func (m *Machine) onLinkLost(cause error) {
	if m.sess == nil {
		return
	}
	entry := m.logger.WithFields(m.peripheralFields())
	if cause != nil {
		entry = entry.WithError(cause)
	}
	entry.Warn("Peripheral disconnected, discarding session")
	m.clear()
}

// beginLogging opens the sink and freezes the header the first time a service of the session
// has an active subscription. A group that started nothing leaves logging untouched.
func (m *Machine) beginLogging(svc device.Service) {
	if m.opts.Sinks == nil || m.sess.rows != nil || m.sess.logFailed {
		return
	}
	if len(m.sess.activeIn(svc.UUID)) == 0 {
		m.logger.WithFields(m.peripheralFields()).WithField("service", svc.UUID).
			Debug("No active subscriptions, sample logging not started")
		return
	}

	notify := svc.NotifyCharacteristics()
	headers := make([]string, len(notify))
	for i, c := range notify {
		headers[i] = c.UUID
	}

	log := m.logger.WithFields(m.peripheralFields())
	sink, err := m.opts.Sinks(m.sess.peripheral)
	if err != nil {
		log.WithError(err).Error("Failed to open sample log, logging disabled for this session")
		m.sess.logFailed = true
		return
	}
	if err := sink.WriteHeader(headers); err != nil {
		log.WithError(err).Error("Failed to write sample log header, logging disabled for this session")
		_ = sink.Close()
		m.sess.logFailed = true
		return
	}

	m.sess.sink = sink
	m.sess.rows = newRowEmitter(headers, m.opts.Placeholder)
	if p, ok := sink.(interface{ Path() string }); ok {
		m.sess.logPath = p.Path()
	}
	log.WithFields(logrus.Fields{"columns": len(headers), "path": m.sess.logPath}).Info("Sample logging started")
}

func (m *Machine) endLogging() {
	if m.sess.sink == nil {
		return
	}
	if err := m.sess.sink.Close(); err != nil {
		m.logger.WithError(err).Warn("Failed to close sample log")
	}
	m.sess.sink = nil
}

func (m *Machine) setState(s State) {
	if m.state != s {
		m.logger.WithFields(logrus.Fields{"from": m.state, "to": s}).Debug("Session state changed")
	}
	m.state = s
	m.publish()
}
