package tinyble

import (
	"encoding/binary"

	"tinygo.org/x/bluetooth"

	"github.com/srg/blelink/internal/device"
)

// manufacturerBytes rebuilds the raw manufacturer field: little-endian
// company id followed by its data, for every element in order.
func manufacturerBytes(elems []bluetooth.ManufacturerDataElement) []byte {
	var out []byte
	for _, e := range elems {
		out = binary.LittleEndian.AppendUint16(out, e.CompanyID)
		out = append(out, e.Data...)
	}
	return out
}

func newAdvertisedDevice(systemID, localName string, rssi int16, mfr []bluetooth.ManufacturerDataElement) device.AdvertisedDevice {
	return device.AdvertisedDevice{
		SystemID:           systemID,
		Name:               localName,
		LocalName:          localName,
		AdvertisementBytes: manufacturerBytes(mfr),
		RSSI:               int(rssi),
	}
}

// parseUUIDs converts a service filter; entries that do not parse are
// dropped.
func parseUUIDs(services []string) []bluetooth.UUID {
	var out []bluetooth.UUID
	for _, s := range services {
		if u, ok := toUUID(s); ok {
			out = append(out, u)
		}
	}
	return out
}

// toUUID accepts short and full UUIDs in any notation NormalizeUUID knows.
func toUUID(s string) (bluetooth.UUID, bool) {
	n := device.NormalizeUUID(s)
	if len(n) == 4 {
		n = "0000" + n + "00001000800000805f9b34fb"
	}
	if len(n) != 32 {
		return bluetooth.UUID{}, false
	}
	u, err := bluetooth.ParseUUID(n[0:8] + "-" + n[8:12] + "-" + n[12:16] + "-" + n[16:20] + "-" + n[20:])
	if err != nil {
		return bluetooth.UUID{}, false
	}
	return u, true
}

// advertisesAny reports whether has matches one of want; an empty filter
// accepts everything.
func advertisesAny(has func(bluetooth.UUID) bool, want []bluetooth.UUID) bool {
	if len(want) == 0 {
		return true
	}
	for _, u := range want {
		if has(u) {
			return true
		}
	}
	return false
}
