package goble

import (
	"github.com/go-ble/ble"

	"github.com/srg/blelink/internal/device"
)

// NewProperties converts ble.Property bit flags into capability flags.
// Write-without-response counts as write; indicate counts as notify.
func NewProperties(p ble.Property) device.Properties {
	return device.Properties{
		Read:   p&ble.CharRead != 0,
		Write:  p&(ble.CharWrite|ble.CharWriteNR) != 0,
		Notify: p&(ble.CharNotify|ble.CharIndicate) != 0,
	}
}

// writeNoResponse selects write-without-response only when acknowledged
// writes are not offered.
func writeNoResponse(p ble.Property) bool {
	return p&ble.CharWriteNR != 0 && p&ble.CharWrite == 0
}

// useIndication selects indications only when notifications are not offered.
func useIndication(p ble.Property) bool {
	return p&ble.CharIndicate != 0 && p&ble.CharNotify == 0
}
