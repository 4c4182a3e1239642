package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/blelink/internal/device"
)

// NormalizeError maps known go-ble error strings to gateway status codes.
// It ensures consistent handling even if the upstream library changes messages slightly.
// Returns wrapped errors to preserve original context.
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

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", device.Status(device.StatusAdapterUnavailable), err)
	case containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "powered off"),
		containsIgnoreCase(msg, "no such device"):
		return fmt.Errorf("%w: %v", device.Status(device.StatusAdapterUnavailable), err)
	case containsIgnoreCase(msg, "not supported"), containsIgnoreCase(msg, "unsupported"):
		return fmt.Errorf("%w: %v", device.Status(device.StatusSystemUnsupported), err)
	case containsIgnoreCase(msg, "device already connected"), containsIgnoreCase(msg, "already connected"):
		return fmt.Errorf("%w: %v", device.Status(device.StatusAlreadyConnected), err)
	case containsIgnoreCase(msg, "device not connected"), containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", device.Status(device.StatusConnectionLost), err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", device.Status(device.StatusNotInitialized), err)
	case containsIgnoreCase(msg, "insufficient authentication"), containsIgnoreCase(msg, "insufficient encryption"):
		return fmt.Errorf("%w: %v", device.Status(device.StatusNeedPIN), err)
	case containsIgnoreCase(msg, "timed out"), containsIgnoreCase(msg, "timeout"):
		return fmt.Errorf("%w: %v", device.Status(device.StatusConnectTimeout), err)
	case containsIgnoreCase(msg, "failed to connect"), containsIgnoreCase(msg, "can't dial"):
		return fmt.Errorf("%w: %v", device.Status(device.StatusConnectionFailed), err)
	default:
		return err
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
