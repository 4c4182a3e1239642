package tinyble

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/blelink/internal/device"
)

// bluez and CoreBluetooth messages mapped to gateway status codes, first
// match wins.
var statusPatterns = []struct {
	code     int
	patterns []string
}{
	{device.StatusAlreadyConnected, []string{"alreadyconnected", "already connected"}},
	{device.StatusAdapterUnavailable, []string{"notready", "not ready", "powered off", "no such adapter", "no bluetooth adapter"}},
	{device.StatusSystemUnsupported, []string{"notsupported", "not supported", "not implemented"}},
	{device.StatusNeedPIN, []string{"authenticationfailed", "authenticationrejected", "insufficient authentication", "insufficient encryption"}},
	{device.StatusConnectTimeout, []string{"timeout", "timed out"}},
	{device.StatusConnectionLost, []string{"notconnected", "not connected", "disconnected"}},
	{device.StatusNoDevice, []string{"doesnotexist", "unknown object", "device not found"}},
	{device.StatusConnectionFailed, []string{"le-connection-abort", "connection refused", "failed to connect", "inprogress"}},
}

// NormalizeError maps tinygo bluetooth errors to gateway status codes,
// keeping the original message.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := device.StatusCode(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", device.Status(device.StatusConnectTimeout), err)
	}

	msg := strings.ToLower(err.Error())
	for _, sp := range statusPatterns {
		for _, p := range sp.patterns {
			if strings.Contains(msg, p) {
				return fmt.Errorf("%w: %v", device.Status(sp.code), err)
			}
		}
	}
	return err
}
