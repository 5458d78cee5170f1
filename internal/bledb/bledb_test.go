package bledb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestNormalizeUUID verifies that NormalizeUUID correctly handles various UUID formats
func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "16-bit short form",
			input:    "180d",
			expected: "180d",
		},
		{
			name:     "16-bit uppercase",
			input:    "180D",
			expected: "180d",
		},
		{
			name:     "16-bit with 0x prefix",
			input:    "0x180d",
			expected: "180d",
		},
		{
			name:     "Full Bluetooth SIG UUID with dashes",
			input:    "0000180d-0000-1000-8000-00805f9b34fb",
			expected: "180d",
		},
		{
			name:     "Full Bluetooth SIG UUID without dashes",
			input:    "0000180d00001000800000805f9b34fb",
			expected: "180d",
		},
		{
			name:     "Custom 128-bit UUID (not SIG base)",
			input:    "6E400001-B5A3-F393-E0A9-E50E24DCCA9E",
			expected: "6e400001b5a3f393e0a9e50e24dcca9e",
		},
		{
			name:     "UUID with braces",
			input:    "{0000180d-0000-1000-8000-00805f9b34fb}",
			expected: "180d",
		},
		{
			name:     "non-hex identifier is only lowercased",
			input:    " Sensor-A1 ",
			expected: "sensora1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestIsValidUUID(t *testing.T) {
	assert.True(t, IsValidUUID("180d"))
	assert.True(t, IsValidUUID("0x2A37"))
	assert.True(t, IsValidUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e"))
	assert.False(t, IsValidUUID(""))
	assert.False(t, IsValidUUID("xyz1"))
	assert.False(t, IsValidUUID("12345"))
}

func TestSameUUID(t *testing.T) {
	assert.True(t, SameUUID("180D", "0000180d-0000-1000-8000-00805f9b34fb"))
	assert.True(t, SameUUID("A1", "a1"))
	assert.False(t, SameUUID("180d", "180f"))
}

func TestLookup(t *testing.T) {
	tests := []struct {
		name     string
		lookup   func(string) string
		uuid     string
		expected string
	}{
		{"Heart Rate - short form", LookupService, "180d", "Heart Rate"},
		{"Heart Rate - full form", LookupService, "0000180d-0000-1000-8000-00805f9b34fb", "Heart Rate"},
		{"Battery Level - 0x prefix", LookupCharacteristic, "0x2A19", "Battery Level"},
		{"Nordic UART TX", LookupCharacteristic, "6e400003-b5a3-f393-e0a9-e50e24dcca9e", "Nordic UART TX"},
		{"unknown service", LookupService, "ffff", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.lookup(tt.uuid))
		})
	}
}
