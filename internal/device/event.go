package device

import "fmt"

// EventKind identifies what a platform Event carries.
type EventKind int

const (
	EventPeripheralDiscovered EventKind = iota
	EventBluetoothStateChanged
	EventCharacteristicValueUpdated
	EventPeripheralDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventPeripheralDiscovered:
		return "PeripheralDiscovered"
	case EventBluetoothStateChanged:
		return "BluetoothStateChanged"
	case EventCharacteristicValueUpdated:
		return "CharacteristicValueUpdated"
	case EventPeripheralDisconnected:
		return "PeripheralDisconnected"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a platform notification. Which fields are set depends on Kind:
//
//	PeripheralDiscovered        Peripheral (PeripheralID mirrors Peripheral.ID)
//	BluetoothStateChanged       PoweredOn
//	CharacteristicValueUpdated  PeripheralID, ServiceUUID, CharacteristicUUID, Value
//	PeripheralDisconnected      PeripheralID, Err (nil for a requested disconnect)
type Event struct {
	Kind               EventKind
	PeripheralID       string
	Peripheral         Peripheral
	PoweredOn          bool
	ServiceUUID        string
	CharacteristicUUID string
	Value              []byte
	Err                error
}

// Scoped reports whether the event belongs to a single peripheral session.
// Discovery and adapter state events are global.
func (e Event) Scoped() bool {
	return e.Kind == EventCharacteristicValueUpdated || e.Kind == EventPeripheralDisconnected
}
