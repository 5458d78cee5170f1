package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/blelog/internal/device"
)

// CharacteristicConfig represents a characteristic of a mocked peripheral.
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g. "read,notify"
}

// ServiceConfig represents a service of a mocked peripheral.
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// DeviceProfileConfig is the GATT profile of a mocked peripheral.
type DeviceProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// PeripheralDeviceBuilder describes a mocked peripheral: what a scan reports
// and what service discovery returns.
type PeripheralDeviceBuilder struct {
	peripheral     device.Peripheral
	profile        DeviceProfileConfig
	advertisements []device.Peripheral
}

// NewPeripheralDeviceBuilder creates a builder for a peripheral with the given ID.
func NewPeripheralDeviceBuilder(id string) *PeripheralDeviceBuilder {
	return &PeripheralDeviceBuilder{
		peripheral: device.Peripheral{ID: id},
	}
}

// WithName sets the advertised local name.
func (b *PeripheralDeviceBuilder) WithName(name string) *PeripheralDeviceBuilder {
	b.peripheral.Name = name
	return b
}

// WithService adds a service to the profile.
func (b *PeripheralDeviceBuilder) WithService(uuid string) *PeripheralDeviceBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service.
func (b *PeripheralDeviceBuilder) WithCharacteristic(uuid, properties string) *PeripheralDeviceBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics,
		CharacteristicConfig{UUID: uuid, Properties: properties})
	return b
}

// FromJSON replaces the profile with a JSON description.
func (b *PeripheralDeviceBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralDeviceBuilder {
	var config DeviceProfileConfig
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &config); err != nil {
		panic(fmt.Sprintf("PeripheralDeviceBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	b.profile = config
	return b
}

// WithAdvertisement adds a scan result. Repeating an ID models duplicate advertisements.
func (b *PeripheralDeviceBuilder) WithAdvertisement(id, name string, rssi int) *PeripheralDeviceBuilder {
	b.advertisements = append(b.advertisements, device.Peripheral{ID: id, Name: name, RSSI: rssi})
	return b
}

// Peripheral returns the peripheral this builder describes.
func (b *PeripheralDeviceBuilder) Peripheral() device.Peripheral {
	return b.peripheral
}

// Advertisements returns the scan results in emission order.
func (b *PeripheralDeviceBuilder) Advertisements() []device.Peripheral {
	return append([]device.Peripheral(nil), b.advertisements...)
}

// Discovery flattens the profile into what a platform returns from service discovery.
// Characteristics without properties default to "read,write,notify".
func (b *PeripheralDeviceBuilder) Discovery() []device.DiscoveredCharacteristic {
	var out []device.DiscoveredCharacteristic
	for _, svc := range b.profile.Services {
		for _, c := range svc.Characteristics {
			props := c.Properties
			if props == "" {
				props = "read,write,notify"
			}
			p, err := device.ParseProperties(props)
			if err != nil {
				panic(fmt.Sprintf("PeripheralDeviceBuilder.Discovery: %v", err))
			}
			out = append(out, device.DiscoveredCharacteristic{
				Service:        svc.UUID,
				Characteristic: c.UUID,
				Properties:     p,
			})
		}
	}
	return out
}

// ApplyTo registers the builder's behaviour as default expectations on a mock platform:
// scans publish the advertisements, discovery returns the profile, everything else succeeds.
// Expectations registered on the platform earlier take precedence.
func (b *PeripheralDeviceBuilder) ApplyTo(p *MockPlatform) *MockPlatform {
	ads := b.Advertisements()
	p.On("Scan", anyArgs(4)...).Run(func(args mockArgs) {
		for _, ad := range ads {
			p.Advertise(ad)
		}
	}).Return(nil).Maybe()
	p.On("Connect", anyArgs(2)...).Return(nil).Maybe()
	p.On("Disconnect", anyArgs(2)...).Return(nil).Maybe()
	p.On("RetrieveServices", anyArgs(2)...).Return(b.Discovery(), nil).Maybe()
	p.On("StartNotification", anyArgs(4)...).Return(nil).Maybe()
	p.On("StopNotification", anyArgs(4)...).Return(nil).Maybe()
	return p
}

// ScenarioPeripheral is the two-service peripheral most session tests run against:
// service A with notify characteristics A1, A2 and read-only A3, service B with B1.
func ScenarioPeripheral() *PeripheralDeviceBuilder {
	return NewPeripheralDeviceBuilder("dev-1").
		WithName("Sensor").
		FromJSON(`
		{
			"services": [
				{
					"uuid": "A",
					"characteristics": [
						{ "uuid": "A1", "properties": "read,notify" },
						{ "uuid": "A2", "properties": "notify" },
						{ "uuid": "A3", "properties": "read" }
					]
				},
				{
					"uuid": "B",
					"characteristics": [
						{ "uuid": "B1", "properties": "indicate" }
					]
				}
			]
		}`)
}
