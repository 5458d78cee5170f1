package device

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotFoundError(t *testing.T) {
	assert.Equal(t, "service not found", (&NotFoundError{Resource: "service"}).Error())
	assert.Equal(t, `service "ffff" not found`, (&NotFoundError{Resource: "service", UUIDs: []string{"ffff"}}).Error())
	assert.Equal(t, `characteristic "2a37" not found in service "180f"`,
		(&NotFoundError{Resource: "characteristic", UUIDs: []string{"180f", "2a37"}}).Error())
}

func TestConnectionErrorMatching(t *testing.T) {
	wrapped := fmt.Errorf("%w: device not connected", ErrNotConnected)

	assert.True(t, errors.Is(wrapped, ErrNotConnected))
	assert.False(t, errors.Is(wrapped, ErrAlreadyConnected))
	assert.True(t, IsConnectionState(wrapped, NotConnected))
	assert.False(t, IsConnectionState(errors.New("other"), NotConnected))
	assert.Equal(t, "<nil>", (*ConnectionError)(nil).Error())
}

func TestProperties(t *testing.T) {
	p, err := ParseProperties("read, Notify")
	require.NoError(t, err)

	assert.True(t, p.Has(PropRead))
	assert.True(t, p.CanNotify())
	assert.False(t, p.Has(PropWrite))
	assert.Equal(t, "read,notify", p.String())

	assert.True(t, PropIndicate.CanNotify(), "indicate MUST count as notify-capable")

	_, err = ParseProperties("read,teleport")
	assert.Error(t, err)
}

func TestPeripheralDisplayName(t *testing.T) {
	assert.Equal(t, "Thermo", Peripheral{ID: "x", Name: "Thermo"}.DisplayName())
	assert.Equal(t, UnnamedDevice, Peripheral{ID: "x", Name: "  "}.DisplayName())
}

func TestServiceNotifyCharacteristics(t *testing.T) {
	svc := Service{UUID: "A", Characteristics: []Characteristic{
		{UUID: "A1", ServiceUUID: "A", SupportsNotify: true},
		{UUID: "A2", ServiceUUID: "A"},
		{UUID: "A3", ServiceUUID: "A", SupportsNotify: true},
	}}

	got := svc.NotifyCharacteristics()
	require.Len(t, got, 2)
	assert.Equal(t, "A1", got[0].UUID)
	assert.Equal(t, "A3", got[1].UUID)
}

func TestEventScoped(t *testing.T) {
	assert.True(t, Event{Kind: EventCharacteristicValueUpdated}.Scoped())
	assert.True(t, Event{Kind: EventPeripheralDisconnected}.Scoped())
	assert.False(t, Event{Kind: EventPeripheralDiscovered}.Scoped())
	assert.False(t, Event{Kind: EventBluetoothStateChanged}.Scoped())
	assert.Equal(t, "BluetoothStateChanged", EventBluetoothStateChanged.String())
}
