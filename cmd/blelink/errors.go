package main

import (
	"errors"
	"fmt"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/scanner"
)

// hints for connection-core failures, shown after the error code
var kindHints = map[device.Kind]string{
	device.KindAdapterUnavailable:        "is Bluetooth turned on and accessible to this process?",
	device.KindInvalidIdentifier:         "pass a device name, address, system id or MAC",
	device.KindScanTimeout:               "device not advertising; move closer or raise scan_timeout",
	device.KindDeviceNotFound:            "device is not known; scan for it first",
	device.KindServiceMatchFailed:        "no service matched; check --service",
	device.KindCharacteristicMatchFailed: "no characteristic matched; check --char and --notify",
	device.KindTimeout:                   "device did not answer in time; raise connect_timeout",
}

// FormatUserError renders err as one line with its stable code.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, scanner.ErrScanSuperseded) {
		return "scan was superseded by a newer scan"
	}

	var e *device.Error
	if errors.As(err, &e) {
		msg := fmt.Sprintf("%s [code %d]", e.Error(), e.Code)
		if hint, ok := kindHints[e.Kind]; ok {
			msg += " - " + hint
		}
		return msg
	}
	if code, ok := device.StatusCode(err); ok {
		return fmt.Sprintf("%s [code %d]", err.Error(), code)
	}
	return err.Error()
}
