package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/srg/blelog/internal/device"
	"github.com/srg/blelog/internal/events"
)

type mockArgs = mock.Arguments

func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = mock.Anything
	}
	return args
}

// MockPlatform is a testify mock of device.Platform that publishes its events into Hub.
type MockPlatform struct {
	mock.Mock
	Hub *events.Hub

	countsMu sync.Mutex
	counts   map[string]int
}

var _ device.Platform = (*MockPlatform)(nil)

// NewMockPlatform creates a mock platform publishing into hub.
func NewMockPlatform(hub *events.Hub) *MockPlatform {
	return &MockPlatform{Hub: hub}
}

func (m *MockPlatform) Scan(ctx context.Context, filter device.ScanFilter, duration time.Duration, allowDuplicates bool) error {
	m.count("Scan")
	args := m.Called(ctx, filter, duration, allowDuplicates)
	return args.Error(0)
}

func (m *MockPlatform) Connect(ctx context.Context, peripheralID string) error {
	m.count("Connect")
	args := m.Called(ctx, peripheralID)
	return args.Error(0)
}

func (m *MockPlatform) Disconnect(ctx context.Context, peripheralID string) error {
	m.count("Disconnect")
	args := m.Called(ctx, peripheralID)
	return args.Error(0)
}

func (m *MockPlatform) RetrieveServices(ctx context.Context, peripheralID string) ([]device.DiscoveredCharacteristic, error) {
	m.count("RetrieveServices")
	args := m.Called(ctx, peripheralID)
	var out []device.DiscoveredCharacteristic
	if v := args.Get(0); v != nil {
		out = v.([]device.DiscoveredCharacteristic)
	}
	return out, args.Error(1)
}

func (m *MockPlatform) StartNotification(ctx context.Context, peripheralID, serviceUUID, characteristicUUID string) error {
	m.count("StartNotification")
	args := m.Called(ctx, peripheralID, serviceUUID, characteristicUUID)
	return args.Error(0)
}

func (m *MockPlatform) StopNotification(ctx context.Context, peripheralID, serviceUUID, characteristicUUID string) error {
	m.count("StopNotification")
	args := m.Called(ctx, peripheralID, serviceUUID, characteristicUUID)
	return args.Error(0)
}

// Reset drops every expectation registered for method, so a test can replace a default.
// Call it before the code under test starts.
func (m *MockPlatform) Reset(method string) *MockPlatform {
	kept := m.ExpectedCalls[:0]
	for _, c := range m.ExpectedCalls {
		if c.Method != method {
			kept = append(kept, c)
		}
	}
	m.ExpectedCalls = kept
	return m
}

// Advertise publishes a discovery event.
func (m *MockPlatform) Advertise(p device.Peripheral) {
	m.Hub.Publish(device.Event{Kind: device.EventPeripheralDiscovered, PeripheralID: p.ID, Peripheral: p})
}

// Notify publishes a characteristic value update.
func (m *MockPlatform) Notify(peripheralID, serviceUUID, characteristicUUID string, value []byte) {
	m.Hub.Publish(device.Event{
		Kind:               device.EventCharacteristicValueUpdated,
		PeripheralID:       peripheralID,
		ServiceUUID:        serviceUUID,
		CharacteristicUUID: characteristicUUID,
		Value:              value,
	})
}

// DropLink publishes an unsolicited disconnect.
func (m *MockPlatform) DropLink(peripheralID string, cause error) {
	m.Hub.Publish(device.Event{Kind: device.EventPeripheralDisconnected, PeripheralID: peripheralID, Err: cause})
}

// SetPower publishes an adapter state change.
func (m *MockPlatform) SetPower(on bool) {
	m.Hub.Publish(device.Event{Kind: device.EventBluetoothStateChanged, PoweredOn: on})
}

func (m *MockPlatform) count(method string) {
	m.countsMu.Lock()
	defer m.countsMu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[method]++
}

// CallCount returns how many times method was invoked. Safe to poll while calls are in flight.
func (m *MockPlatform) CallCount(method string) int {
	m.countsMu.Lock()
	defer m.countsMu.Unlock()
	return m.counts[method]
}
