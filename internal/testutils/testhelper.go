//go:build test

package testutils

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/srg/blelink/internal/device"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
	Hook   *test.Hook // captures log entries for assertions
}

// NewTestHelper creates a test helper with a debug-level logger whose entries
// are recorded in Hook instead of being printed.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	logger.SetOutput(io.Discard)
	hook := test.NewLocal(logger)
	return &TestHelper{
		T:      t,
		Logger: logger,
		Hook:   hook,
	}
}

// Messages returns logged messages at or above level.
func (h *TestHelper) Messages(level logrus.Level) []string {
	var out []string
	for _, e := range h.Hook.AllEntries() {
		if e.Level <= level {
			out = append(out, e.Message)
		}
	}
	return out
}

// Printer is the standard peripheral used across tests: a generic access
// service followed by a vendor service with write and notify characteristics.
func Printer(systemID string) *FakePeripheral {
	return &FakePeripheral{
		SystemID:      systemID,
		Name:          "Printer-" + systemID,
		LocalName:     "PRN-" + systemID,
		Advertisement: []byte{0x59, 0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0xaa},
		Services: []FakeService{
			{
				UUID: "1800",
				Characteristics: []device.Characteristic{
					{UUID: "2a00", Properties: device.Properties{Read: true}},
				},
			},
			{
				UUID: "ffe0",
				Characteristics: []device.Characteristic{
					{UUID: "ffe1", Properties: device.Properties{Write: true}},
					{UUID: "ffe2", Properties: device.Properties{Read: true, Notify: true}},
				},
			},
		},
	}
}

// UART is a peripheral exposing only the Nordic UART service.
func UART(systemID, name string) *FakePeripheral {
	return &FakePeripheral{
		SystemID: systemID,
		Name:     name,
		Services: []FakeService{
			{
				UUID: "6e400001b5a3f393e0a9e50e24dcca9e",
				Characteristics: []device.Characteristic{
					{UUID: "6e400002b5a3f393e0a9e50e24dcca9e", Properties: device.Properties{Write: true}},
					{UUID: "6e400003b5a3f393e0a9e50e24dcca9e", Properties: device.Properties{Notify: true}},
				},
			},
		},
	}
}
