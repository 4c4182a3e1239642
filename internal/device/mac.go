package device

import (
	"fmt"
	"strings"
)

// macOffset and macLen locate the MAC-like window in the advertisement
// payload, right after the 2-byte company id.
const (
	macOffset = 2
	macLen    = 6
)

// ParseMAC renders bytes [2,8) of an advertisement payload as colon-separated
// uppercase hex. Short or absent payloads yield "".
func ParseMAC(adv []byte) string {
	if len(adv) < macOffset+macLen {
		return ""
	}
	parts := make([]string, macLen)
	for i, b := range adv[macOffset : macOffset+macLen] {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// MatchDevice reports whether identifier names the advertised device. The
// comparison is case-insensitive and exact against the parsed MAC, local
// name, name and system id; empty candidates never match.
func MatchDevice(adv AdvertisedDevice, identifier string) bool {
	id := strings.ToUpper(strings.TrimSpace(identifier))
	if id == "" {
		return false
	}
	for _, candidate := range []string{ParseMAC(adv.AdvertisementBytes), adv.LocalName, adv.Name, adv.SystemID} {
		if candidate != "" && strings.ToUpper(candidate) == id {
			return true
		}
	}
	return false
}
