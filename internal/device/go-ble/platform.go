// Package goble implements device.Platform on top of go-ble.
package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blelog/internal/bledb"
	"github.com/srg/blelog/internal/device"
	"github.com/srg/blelog/internal/events"
	"github.com/srg/blelog/internal/groutine"
)

// bleClient is the part of ble.Client a connection uses.
type bleClient interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
}

// dial connects to a peripheral address (can be overridden in tests).
var dial = func(ctx context.Context, dev ble.Device, address string) (bleClient, error) {
	return dev.Dial(ctx, ble.NewAddr(address))
}

type charKey [2]string

func keyOf(serviceUUID, characteristicUUID string) charKey {
	return charKey{device.NormalizeUUID(serviceUUID), device.NormalizeUUID(characteristicUUID)}
}

type charEntry struct {
	serviceUUID string
	uuid        string
	char        *ble.Characteristic
	indicate    bool
}

// connection is one live link. chars is filled by RetrieveServices.
type connection struct {
	id     string
	client bleClient

	mu      sync.Mutex
	chars   map[charKey]*charEntry
	closing bool
	done    chan struct{}
}

// Platform is a device.Platform backed by the host's BLE adapter.
// Every event is published into the hub given to NewPlatform.
type Platform struct {
	hub    *events.Hub
	logger *logrus.Logger

	devMu sync.Mutex
	dev   ble.Device

	conns *hashmap.Map[string, *connection]
}

var _ device.Platform = (*Platform)(nil)

// NewPlatform creates a platform publishing into hub. The adapter is opened on first use.
func NewPlatform(hub *events.Hub, logger *logrus.Logger) *Platform {
	if logger == nil {
		logger = logrus.New()
	}
	return &Platform{
		hub:    hub,
		logger: logger,
		conns:  hashmap.New[string, *connection](),
	}
}

// device returns the adapter, creating it via DeviceFactory on first use. The outcome is
// published as a Bluetooth state change.
func (p *Platform) device() (ble.Device, error) {
	p.devMu.Lock()
	defer p.devMu.Unlock()
	if p.dev != nil {
		return p.dev, nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		err = NormalizeError(err)
		p.logger.WithError(err).Error("Failed to open BLE adapter")
		if errors.Is(err, device.ErrBluetoothOff) {
			p.hub.Publish(device.Event{Kind: device.EventBluetoothStateChanged, PoweredOn: false})
		}
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}

	p.dev = dev
	p.hub.Publish(device.Event{Kind: device.EventBluetoothStateChanged, PoweredOn: true})
	p.logger.Debug("BLE adapter ready")
	return dev, nil
}

// Scan reports advertisements as PeripheralDiscovered events until duration elapses or ctx ends.
// A scan that ends because its window elapsed is not an error.
func (p *Platform) Scan(ctx context.Context, filter device.ScanFilter, duration time.Duration, allowDuplicates bool) error {
	dev, err := p.device()
	if err != nil {
		return err
	}

	scanCtx := ctx
	if duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	p.logger.WithFields(logrus.Fields{
		"duration":         duration,
		"allow_duplicates": allowDuplicates,
		"services":         filter.ServiceUUIDs,
	}).Info("Scanning for peripherals...")

	err = dev.Scan(scanCtx, allowDuplicates, func(adv ble.Advertisement) {
		if !matchesFilter(adv, filter) {
			return
		}
		per := device.Peripheral{
			ID:   adv.Addr().String(),
			Name: adv.LocalName(),
			RSSI: adv.RSSI(),
		}
		p.hub.Publish(device.Event{Kind: device.EventPeripheralDiscovered, PeripheralID: per.ID, Peripheral: per})
	})

	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		// scan window elapsed
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return ctx.Err()
	default:
		return NormalizeError(err)
	}
	p.logger.Debug("Scan window closed")
	return nil
}

func matchesFilter(adv ble.Advertisement, filter device.ScanFilter) bool {
	if len(filter.ServiceUUIDs) == 0 {
		return true
	}
	for _, advertised := range adv.Services() {
		for _, wanted := range filter.ServiceUUIDs {
			if device.SameUUID(advertised.String(), wanted) {
				return true
			}
		}
	}
	return false
}

// Connect dials the peripheral. An unsolicited link loss is published as PeripheralDisconnected.
func (p *Platform) Connect(ctx context.Context, peripheralID string) error {
	if strings.TrimSpace(peripheralID) == "" {
		return fmt.Errorf("device address is empty")
	}
	key := strings.ToLower(peripheralID)
	if _, ok := p.conns.Get(key); ok {
		p.logger.WithField("address", peripheralID).Warn("Connection attempt while already connected")
		return device.ErrAlreadyConnected
	}

	dev, err := p.device()
	if err != nil {
		return err
	}

	p.logger.WithField("address", peripheralID).Debug("Dialing BLE device...")
	client, err := dial(ctx, dev, peripheralID)
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"address": peripheralID,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return fmt.Errorf("failed to connect to device with address %q: %w", peripheralID, NormalizeError(err))
	}

	conn := &connection{
		id:     peripheralID,
		client: client,
		chars:  make(map[charKey]*charEntry),
		done:   make(chan struct{}),
	}
	p.conns.Set(key, conn)
	p.monitor(key, conn)

	p.logger.WithField("address", peripheralID).Info("BLE device connected")
	return nil
}

// monitor watches the go-ble Disconnected() channel where the backend provides one.
func (p *Platform) monitor(key string, conn *connection) {
	watcher, ok := conn.client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		p.logger.Debug("Client does not support Disconnected() channel")
		return
	}

	groutine.Go(context.Background(), "ble-connection-monitor", func(context.Context) {
		select {
		case <-watcher.Disconnected():
		case <-conn.done:
			return
		}

		conn.mu.Lock()
		intentional := conn.closing
		conn.mu.Unlock()
		if intentional {
			return
		}

		p.conns.Del(key)
		p.logger.WithField("address", conn.id).Warn("Peripheral reported disconnection")
		p.hub.Publish(device.Event{
			Kind:         device.EventPeripheralDisconnected,
			PeripheralID: conn.id,
			Err:          device.ErrNotConnected,
		})
	})
}

func (p *Platform) conn(peripheralID string) (*connection, error) {
	conn, ok := p.conns.Get(strings.ToLower(peripheralID))
	if !ok {
		return nil, device.ErrNotConnected
	}
	return conn, nil
}

// RetrieveServices discovers the GATT profile and returns one entry per characteristic in discovery order.
func (p *Platform) RetrieveServices(ctx context.Context, peripheralID string) ([]device.DiscoveredCharacteristic, error) {
	conn, err := p.conn(peripheralID)
	if err != nil {
		return nil, err
	}

	var profile *ble.Profile
	err = runWithContext(ctx, "ble-discover-profile", func() error {
		var derr error
		profile, derr = conn.client.DiscoverProfile(true)
		return derr
	})
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"address": peripheralID,
			"error":   err,
		}).Error("Failed to discover profile")
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	var out []device.DiscoveredCharacteristic
	chars := make(map[charKey]*charEntry)
	for _, svc := range profile.Services {
		svcUUID := svc.UUID.String()
		p.logger.WithFields(logrus.Fields{
			"service_uuid": svcUUID,
			"known_name":   bledb.LookupService(svcUUID),
		}).Debug("Found service UUID")

		for _, c := range svc.Characteristics {
			charUUID := c.UUID.String()
			chars[keyOf(svcUUID, charUUID)] = &charEntry{
				serviceUUID: svcUUID,
				uuid:        charUUID,
				char:        c,
				indicate:    useIndicate(c.Property),
			}
			out = append(out, device.DiscoveredCharacteristic{
				Service:        svcUUID,
				Characteristic: charUUID,
				Properties:     NewProperties(c.Property),
			})
		}
	}

	conn.mu.Lock()
	conn.chars = chars
	conn.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"address":         peripheralID,
		"services":        len(profile.Services),
		"characteristics": len(out),
	}).Debug("Profile discovered successfully")
	return out, nil
}

func (c *connection) lookup(serviceUUID, characteristicUUID string) (*charEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.chars[keyOf(serviceUUID, characteristicUUID)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, characteristicUUID}}
	}
	return entry, nil
}

// StartNotification enables notifications (or indications when notify is unavailable).
// Each received value is published as CharacteristicValueUpdated.
func (p *Platform) StartNotification(ctx context.Context, peripheralID, serviceUUID, characteristicUUID string) error {
	conn, err := p.conn(peripheralID)
	if err != nil {
		return err
	}
	entry, err := conn.lookup(serviceUUID, characteristicUUID)
	if err != nil {
		return err
	}
	if entry.char.Property&(ble.CharNotify|ble.CharIndicate) == 0 {
		return fmt.Errorf("characteristic %s does not support notifications: %w", entry.uuid, device.ErrUnsupported)
	}

	handler := func(data []byte) {
		value := append([]byte(nil), data...)
		p.hub.Publish(device.Event{
			Kind:               device.EventCharacteristicValueUpdated,
			PeripheralID:       conn.id,
			ServiceUUID:        entry.serviceUUID,
			CharacteristicUUID: entry.uuid,
			Value:              value,
		})
	}

	err = runWithContext(ctx, "ble-subscribe", func() error {
		return conn.client.Subscribe(entry.char, entry.indicate, handler)
	})
	if err != nil {
		err = NormalizeError(err)
		p.logger.WithFields(logrus.Fields{
			"serviceUUID": entry.serviceUUID,
			"charUUID":    entry.uuid,
			"error":       err,
		}).Error("Failed to subscribe to characteristic notifications")
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"serviceUUID": entry.serviceUUID,
		"charUUID":    entry.uuid,
		"indicate":    entry.indicate,
	}).Debug("Subscribed to characteristic notifications")
	return nil
}

// StopNotification disables notifications for a characteristic.
func (p *Platform) StopNotification(ctx context.Context, peripheralID, serviceUUID, characteristicUUID string) error {
	conn, err := p.conn(peripheralID)
	if err != nil {
		return err
	}
	entry, err := conn.lookup(serviceUUID, characteristicUUID)
	if err != nil {
		return err
	}

	err = runWithContext(ctx, "ble-unsubscribe", func() error {
		return conn.client.Unsubscribe(entry.char, entry.indicate)
	})
	if err != nil {
		err = NormalizeError(err)
		p.logger.WithFields(logrus.Fields{
			"serviceUUID": entry.serviceUUID,
			"charUUID":    entry.uuid,
			"error":       err,
		}).Warn("Failed to unsubscribe from characteristic notifications")
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"serviceUUID": entry.serviceUUID,
		"charUUID":    entry.uuid,
	}).Debug("Unsubscribed from characteristic notifications")
	return nil
}

// Disconnect cancels the link. Disconnecting an unknown peripheral is a no-op.
func (p *Platform) Disconnect(ctx context.Context, peripheralID string) error {
	key := strings.ToLower(peripheralID)
	conn, ok := p.conns.Get(key)
	if !ok {
		p.logger.WithField("address", peripheralID).Debug("Disconnect called but already disconnected")
		return nil
	}

	conn.mu.Lock()
	conn.closing = true
	conn.mu.Unlock()
	p.conns.Del(key)
	defer close(conn.done)

	err := runWithContext(ctx, "ble-cancel-connection", conn.client.CancelConnection)
	if err != nil {
		err = NormalizeError(err)
		p.logger.WithFields(logrus.Fields{
			"address": peripheralID,
			"error":   err,
		}).Warn("Failed to cancel connection")
		return err
	}

	p.logger.WithField("address", peripheralID).Info("BLE device disconnected")
	return nil
}

// Close disconnects every peripheral and stops the adapter.
func (p *Platform) Close() error {
	var ids []string
	p.conns.Range(func(_ string, c *connection) bool {
		ids = append(ids, c.id)
		return true
	})
	for _, id := range ids {
		_ = p.Disconnect(context.Background(), id)
	}

	p.devMu.Lock()
	defer p.devMu.Unlock()
	if p.dev == nil {
		return nil
	}
	err := p.dev.Stop()
	p.dev = nil
	return NormalizeError(err)
}

// runWithContext runs a blocking go-ble call and stops waiting for it when ctx ends.
func runWithContext(ctx context.Context, name string, fn func() error) error {
	done := make(chan error, 1)
	groutine.Go(ctx, name, func(context.Context) {
		done <- fn()
	})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
