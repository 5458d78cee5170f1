package goble

import (
	"github.com/go-ble/ble"

	"github.com/srg/blelog/internal/device"
)

var propertyMap = []struct {
	ble ble.Property
	dev device.Properties
}{
	{ble.CharRead, device.PropRead},
	{ble.CharWrite, device.PropWrite},
	{ble.CharWriteNR, device.PropWriteWithoutResponse},
	{ble.CharNotify, device.PropNotify},
	{ble.CharIndicate, device.PropIndicate},
}

// NewProperties converts go-ble characteristic property bits.
func NewProperties(p ble.Property) device.Properties {
	var props device.Properties
	for _, m := range propertyMap {
		if p&m.ble != 0 {
			props |= m.dev
		}
	}
	return props
}

// useIndicate reports whether a subscription must use indications: only when notify is unavailable.
func useIndicate(p ble.Property) bool {
	return p&ble.CharNotify == 0 && p&ble.CharIndicate != 0
}
