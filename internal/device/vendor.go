package device

import (
	"encoding/binary"
	"fmt"
)

// companyNames maps Bluetooth SIG company identifiers seen on common
// peripherals to their holder.
var companyNames = map[uint16]string{
	0x0006: "Microsoft",
	0x004C: "Apple",
	0x0059: "Nordic Semiconductor",
	0x0075: "Samsung",
	0x00E0: "Google",
	0x02E5: "Espressif",
	0x0131: "Cypress Semiconductor",
	0x000D: "Texas Instruments",
}

// Vendor identifies the company that prefixed an advertisement's
// manufacturer data.
type Vendor struct {
	CompanyID uint16
	Name      string // empty for unlisted companies
}

func (v Vendor) String() string {
	if v.Name == "" {
		return fmt.Sprintf("0x%04X", v.CompanyID)
	}
	return v.Name
}

// VendorOf reads the little-endian company id leading adv. ok is false when
// adv is too short to carry one.
func VendorOf(adv []byte) (Vendor, bool) {
	if len(adv) < 2 {
		return Vendor{}, false
	}
	id := binary.LittleEndian.Uint16(adv[0:2])
	return Vendor{CompanyID: id, Name: companyNames[id]}, true
}
