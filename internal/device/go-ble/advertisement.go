package goble

import (
	"github.com/go-ble/ble"

	"github.com/srg/blelink/internal/device"
)

// NewAdvertisedDevice converts a go-ble advertisement. go-ble exposes only
// the local name, so Name and LocalName carry the same value.
func NewAdvertisedDevice(adv ble.Advertisement) device.AdvertisedDevice {
	var addr string
	if a := adv.Addr(); a != nil {
		addr = a.String()
	}
	return device.AdvertisedDevice{
		SystemID:           addr,
		Name:               adv.LocalName(),
		LocalName:          adv.LocalName(),
		AdvertisementBytes: append([]byte(nil), adv.ManufacturerData()...),
		RSSI:               adv.RSSI(),
	}
}

// advertisesAny reports whether adv lists one of services; an empty filter
// accepts everything.
func advertisesAny(adv ble.Advertisement, services []string) bool {
	if len(services) == 0 {
		return true
	}
	for _, u := range adv.Services() {
		for _, want := range services {
			if device.EqualUUID(u.String(), want) {
				return true
			}
		}
	}
	return false
}
