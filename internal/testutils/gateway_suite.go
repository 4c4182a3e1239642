//go:build test

package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

// GatewaySuite provides a reusable test suite backed by a FakeGateway.
//
// Basic usage (one default printer peripheral "sys-1"):
//
//	type WriterSuite struct {
//	    testutils.GatewaySuite
//	}
//
//	func TestWriterSuite(t *testing.T) {
//	    suite.Run(t, new(WriterSuite))
//	}
//
// Custom peripherals are registered before calling the parent SetupTest:
//
//	func (s *ScannerSuite) SetupTest() {
//	    s.Peripherals = []*testutils.FakePeripheral{
//	        testutils.Printer("sys-1"),
//	        {SystemID: "sys-2", Name: "Scale"},
//	    }
//	    s.GatewaySuite.SetupTest()
//	}
type GatewaySuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	// Peripherals seeds the gateway on each SetupTest; nil means one Printer("sys-1").
	Peripherals []*FakePeripheral
	Gateway     *FakeGateway

	TestTimeout time.Duration
}

// SetupSuite initializes the helper and logger once per suite.
func (s *GatewaySuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 2 * time.Second
}

// SetupTest creates a fresh gateway with the configured peripherals.
func (s *GatewaySuite) SetupTest() {
	if s.Helper == nil {
		s.SetupSuite()
	}
	s.Helper.Hook.Reset()

	peripherals := s.Peripherals
	if peripherals == nil {
		peripherals = []*FakePeripheral{Printer("sys-1")}
	}
	s.Gateway = NewFakeGateway(peripherals...)
}

// TearDownTest drops per-test peripheral configuration.
func (s *GatewaySuite) TearDownTest() {
	s.Peripherals = nil
}
