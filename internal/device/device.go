package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "peripheral", "service", "characteristic"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
	BluetoothOff     ConnectionState = "bluetooth_off"
)

// ConnectionError represents any connection-related problem reported by a platform
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
	ErrBluetoothOff     = &ConnectionError{State: BluetoothOff, Msg: "Bluetooth is turned off - please enable Bluetooth and retry"}
)

// Operation errors
var (
	ErrTimeout     = errors.New("timeout")
	ErrUnsupported = errors.New("unsupported")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// Peripheral is a BLE device seen during a scan.
type Peripheral struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	RSSI int    `json:"rssi"`
}

// UnnamedDevice is shown for peripherals that do not advertise a local name.
const UnnamedDevice = "Unnamed Device"

// DisplayName returns the advertised name or UnnamedDevice.
func (p Peripheral) DisplayName() string {
	if strings.TrimSpace(p.Name) == "" {
		return UnnamedDevice
	}
	return p.Name
}

// Properties is the GATT characteristic property bit set.
type Properties uint8

const (
	PropRead Properties = 1 << iota
	PropWrite
	PropWriteWithoutResponse
	PropNotify
	PropIndicate
)

var propertyNames = []struct {
	p    Properties
	name string
}{
	{PropRead, "read"},
	{PropWrite, "write"},
	{PropWriteWithoutResponse, "write-without-response"},
	{PropNotify, "notify"},
	{PropIndicate, "indicate"},
}

// Has reports whether all bits of q are set.
func (p Properties) Has(q Properties) bool {
	return p&q == q
}

// CanNotify reports whether the characteristic pushes values unsolicited (notify or indicate).
func (p Properties) CanNotify() bool {
	return p&(PropNotify|PropIndicate) != 0
}

// String renders the set as a comma-separated list, e.g. "read,notify".
func (p Properties) String() string {
	var parts []string
	for _, pn := range propertyNames {
		if p.Has(pn.p) {
			parts = append(parts, pn.name)
		}
	}
	return strings.Join(parts, ",")
}

// ParseProperties parses a comma-separated property list such as "read,notify".
func ParseProperties(s string) (Properties, error) {
	var p Properties
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		found := false
		for _, pn := range propertyNames {
			if pn.name == part {
				p |= pn.p
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown characteristic property %q", part)
		}
	}
	return p, nil
}

// DiscoveredCharacteristic is one entry of the flat list a platform returns from service discovery.
type DiscoveredCharacteristic struct {
	Service        string
	Characteristic string
	Properties     Properties
}

// Characteristic is a discovered characteristic; immutable for the lifetime of a connection.
type Characteristic struct {
	UUID           string `json:"uuid"`
	ServiceUUID    string `json:"service"`
	SupportsNotify bool   `json:"notify"`
	SupportsRead   bool   `json:"read"`
	SupportsWrite  bool   `json:"write"`
}

// Service groups characteristics in discovery order.
type Service struct {
	UUID            string           `json:"uuid"`
	Characteristics []Characteristic `json:"characteristics"`
}

// NotifyCharacteristics returns the notify-capable characteristics in discovery order.
func (s *Service) NotifyCharacteristics() []Characteristic {
	var out []Characteristic
	for _, c := range s.Characteristics {
		if c.SupportsNotify {
			out = append(out, c)
		}
	}
	return out
}

// ScanFilter restricts which advertisements a platform reports.
type ScanFilter struct {
	ServiceUUIDs []string
}

// Platform is the BLE central capability the session core drives.
// Results of Scan and notification payloads are published on the event hub
// the platform was created with, not returned from these calls.
type Platform interface {
	// Scan blocks until duration elapses or ctx is cancelled. A zero duration scans until ctx is done.
	Scan(ctx context.Context, filter ScanFilter, duration time.Duration, allowDuplicates bool) error
	Connect(ctx context.Context, peripheralID string) error
	Disconnect(ctx context.Context, peripheralID string) error
	RetrieveServices(ctx context.Context, peripheralID string) ([]DiscoveredCharacteristic, error)
	StartNotification(ctx context.Context, peripheralID, serviceUUID, characteristicUUID string) error
	StopNotification(ctx context.Context, peripheralID, serviceUUID, characteristicUUID string) error
}
