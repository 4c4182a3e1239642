//go:build test

package main

import (
	"bytes"

	"github.com/sirupsen/logrus"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/testutils"
	"github.com/srg/blelink/pkg/config"
)

// CommandTestSuite extends GatewaySuite with command testing utilities.
// Every command runs against the suite's FakeGateway.
type CommandTestSuite struct {
	testutils.GatewaySuite

	restoreFactory func()
}

func (s *CommandTestSuite) SetupTest() {
	if len(s.Peripherals) == 0 {
		s.Peripherals = []*testutils.FakePeripheral{testutils.Printer("sys-1")}
	}
	s.GatewaySuite.SetupTest()

	original := gatewayFactory
	gatewayFactory = func(*config.Config, *logrus.Logger) device.Gateway { return s.Gateway }
	s.restoreFactory = func() { gatewayFactory = original }
}

func (s *CommandTestSuite) TearDownTest() {
	s.restoreFactory()
	s.GatewaySuite.TearDownTest()
}

// ExecuteCommand runs blelink with args, returns stdout, stderr and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&app{})
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}
