// Package bledb normalises Bluetooth UUID strings and resolves the
// Bluetooth SIG assigned numbers this tool displays next to raw UUIDs.
package bledb

import (
	"strings"

	"github.com/google/uuid"
)

// sigBaseSuffix is the tail of the Bluetooth Base UUID (xxxxxxxx-0000-1000-8000-00805f9b34fb)
// once dashes are removed.
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal format (lowercase, no dashes).
// It strips braces, a "0x" prefix and surrounding whitespace. Full 128-bit UUIDs
// built on the Bluetooth SIG base are reduced to their 16-bit short form.
// Strings that are not hexadecimal UUIDs are returned lowercased and trimmed so that
// platform-specific identifiers still compare consistently.
func NormalizeUUID(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimSuffix(s, "}"), "{")
	s = strings.ToLower(s)
	s = strings.TrimPrefix(s, "0x")
	compact := strings.ReplaceAll(s, "-", "")

	if len(compact) != 32 {
		return compact
	}

	parsed, err := uuid.Parse(compact)
	if err != nil {
		return compact
	}
	full := strings.ReplaceAll(parsed.String(), "-", "")
	if strings.HasPrefix(full, "0000") && strings.HasSuffix(full, sigBaseSuffix) {
		return full[4:8]
	}
	return full
}

// NormalizeUUIDs normalizes a slice of UUID strings.
func NormalizeUUIDs(uuids []string) []string {
	normalized := make([]string, len(uuids))
	for i, u := range uuids {
		normalized[i] = NormalizeUUID(u)
	}
	return normalized
}

// IsValidUUID reports whether s is a 16-bit, 32-bit or 128-bit hexadecimal UUID.
func IsValidUUID(s string) bool {
	n := NormalizeUUID(s)
	switch len(n) {
	case 4, 8:
		return isHex(n)
	case 32:
		_, err := uuid.Parse(n)
		return err == nil
	default:
		return false
	}
}

// SameUUID compares two UUIDs after normalization.
func SameUUID(a, b string) bool {
	return NormalizeUUID(a) == NormalizeUUID(b)
}

func isHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return s != ""
}

// LookupService returns the SIG name for a service UUID, or "" if unknown.
func LookupService(u string) string {
	return services[NormalizeUUID(u)]
}

// LookupCharacteristic returns the SIG name for a characteristic UUID, or "" if unknown.
func LookupCharacteristic(u string) string {
	return characteristics[NormalizeUUID(u)]
}

var services = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"180a": "Device Information",
	"180d": "Heart Rate",
	"180f": "Battery",
	"1809": "Health Thermometer",
	"181a": "Environmental Sensing",
	"1816": "Cycling Speed and Cadence",
	"1818": "Cycling Power",
	"1826": "Fitness Machine",
	"6e400001b5a3f393e0a9e50e24dcca9e": "Nordic UART Service",
}

var characteristics = map[string]string{
	"2a00": "Device Name",
	"2a01": "Appearance",
	"2a19": "Battery Level",
	"2a1c": "Temperature Measurement",
	"2a24": "Model Number String",
	"2a29": "Manufacturer Name String",
	"2a37": "Heart Rate Measurement",
	"2a38": "Body Sensor Location",
	"2a6e": "Temperature",
	"2a6f": "Humidity",
	"2a5b": "CSC Measurement",
	"2a63": "Cycling Power Measurement",
	"6e400002b5a3f393e0a9e50e24dcca9e": "Nordic UART RX",
	"6e400003b5a3f393e0a9e50e24dcca9e": "Nordic UART TX",
}
