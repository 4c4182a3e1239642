//go:build test

package scanner_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	suitelib "github.com/stretchr/testify/suite"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/testutils"
	"github.com/srg/blelink/scanner"
)

type ScannerTestSuite struct {
	testutils.GatewaySuite

	scanner *scanner.Scanner
}

func (suite *ScannerTestSuite) SetupTest() {
	scale := &testutils.FakePeripheral{
		SystemID:      "sys-2",
		Name:          "Scale",
		Advertisement: []byte{0x4c, 0x00, 0xde, 0xad, 0xbe, 0xef, 0x00, 0x01},
		RSSI:          -40,
	}
	suite.Peripherals = []*testutils.FakePeripheral{testutils.Printer("sys-1"), scale}
	suite.GatewaySuite.SetupTest()

	suite.Require().NoError(suite.Gateway.OpenAdapter(context.Background()))
	suite.scanner = scanner.NewScanner(suite.Gateway, suite.Logger)
}

func (suite *ScannerTestSuite) scan(ids []string, timeout time.Duration) ([]scanner.MatchedDevice, error) {
	ctx, cancel := context.WithTimeout(context.Background(), suite.TestTimeout)
	defer cancel()
	return suite.scanner.Scan(ctx, ids, &scanner.ScanOptions{Timeout: timeout, AllowDuplicates: true})
}

func (suite *ScannerTestSuite) TestScanMatchesRequestedIdentifiers() {
	// GOAL: Verify a scan returns once every identifier has been seen
	//
	// TEST SCENARIO: two peripherals advertise → ask for one by name → only that one is returned

	matched, err := suite.scan([]string{"Scale"}, time.Second)

	suite.Require().NoError(err)
	suite.Require().Len(matched, 1)
	suite.Equal("Scale", matched[0].Identifier)
	suite.Equal("sys-2", matched[0].Device.SystemID)
	suite.Equal("DE:AD:BE:EF:00:01", matched[0].MAC)
	suite.Equal(1, suite.Gateway.Calls(testutils.OpStartDiscovery), "discovery MUST be started once per scan")
}

func (suite *ScannerTestSuite) TestScanMatchesEveryIdentifierForm() {
	tests := []struct {
		name       string
		identifier string
		systemID   string
	}{
		{"system id", "sys-1", "sys-1"},
		{"advertised name", "printer-sys-1", "sys-1"},
		{"local name", "PRN-sys-1", "sys-1"},
		{"mac upper", "11:22:33:44:55:AA", "sys-1"},
		{"mac lower", "de:ad:be:ef:00:01", "sys-2"},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			matched, err := suite.scan([]string{tt.identifier}, time.Second)

			suite.Require().NoError(err)
			suite.Require().Len(matched, 1)
			suite.Equal(tt.systemID, matched[0].Device.SystemID)
			suite.Equal(tt.identifier, matched[0].Identifier, "identifier MUST be reported as given")
		})
	}
}

func (suite *ScannerTestSuite) TestScanConsumesEachIdentifierOnce() {
	// GOAL: Verify one advertisement satisfies at most one identifier
	//
	// TEST SCENARIO: ask for the printer by system id and by MAC → only the first is consumed → scan times out

	_, err := suite.scan([]string{"sys-1", "11:22:33:44:55:AA"}, 200*time.Millisecond)

	suite.Require().Error(err)
	suite.ErrorIs(err, device.ErrScanTimeout)
	suite.Contains(err.Error(), "11:22:33:44:55:AA", "timeout MUST name the outstanding identifier")
	suite.NotContains(err.Error(), "sys-1")
}

func (suite *ScannerTestSuite) TestScanDeduplicatesIdentifiers() {
	matched, err := suite.scan([]string{"Scale", "SCALE", " scale "}, time.Second)

	suite.Require().NoError(err)
	suite.Len(matched, 1, "case-insensitive duplicates MUST collapse to one identifier")
}

func (suite *ScannerTestSuite) TestScanTimeout() {
	progress := []string{}
	ctx := context.Background()

	_, err := suite.scanner.Scan(ctx, []string{"missing"}, &scanner.ScanOptions{
		Timeout:  100 * time.Millisecond,
		Progress: func(phase string) { progress = append(progress, phase) },
	})

	suite.Require().Error(err)
	suite.ErrorIs(err, device.ErrScanTimeout)
	suite.Equal(device.CodeScanTimeout, device.CodeOf(err))
	suite.Equal([]string{"Scanning", "Timeout"}, progress)
}

func (suite *ScannerTestSuite) TestScanEmptyAndInvalidIdentifiers() {
	suite.Run("empty list returns immediately", func() {
		matched, err := suite.scan(nil, time.Second)

		suite.NoError(err)
		suite.Nil(matched)
		suite.Equal(0, suite.Gateway.Calls(testutils.OpStartDiscovery), "empty scan MUST NOT touch the radio")
	})

	suite.Run("blank identifier is rejected", func() {
		_, err := suite.scan([]string{"sys-1", "  "}, time.Second)

		suite.ErrorIs(err, device.ErrInvalidIdentifier)
	})
}

func (suite *ScannerTestSuite) TestScanStartFailure() {
	suite.Gateway.FailNext(testutils.OpStartDiscovery, device.Status(device.StatusAdapterUnavailable))

	_, err := suite.scan([]string{"sys-1"}, time.Second)

	suite.Require().Error(err)
	code, ok := device.StatusCode(err)
	suite.True(ok)
	suite.Equal(device.StatusAdapterUnavailable, code)
}

func (suite *ScannerTestSuite) TestNewerScanSupersedesRunningOne() {
	// GOAL: Verify that starting a scan cancels the one still running
	//
	// TEST SCENARIO: first scan waits for a missing device → second scan starts → first scan returns superseded

	suite.Gateway.AdvertiseInterval = 20 * time.Millisecond

	firstErr := make(chan error, 1)
	go func() {
		_, err := suite.scanner.Scan(context.Background(), []string{"missing"}, &scanner.ScanOptions{Timeout: suite.TestTimeout})
		firstErr <- err
	}()

	require.Eventually(suite.T(), func() bool {
		return suite.Gateway.Calls(testutils.OpStartDiscovery) == 1
	}, time.Second, 5*time.Millisecond)

	matched, err := suite.scan([]string{"Scale"}, time.Second)
	suite.Require().NoError(err)
	suite.Require().Len(matched, 1)

	select {
	case err := <-firstErr:
		suite.ErrorIs(err, scanner.ErrScanSuperseded)
		suite.ErrorIs(err, context.Canceled)
	case <-time.After(suite.TestTimeout):
		suite.Fail("superseded scan MUST return promptly")
	}
}

func (suite *ScannerTestSuite) TestKnownDevices() {
	_, ok := suite.scanner.Known("Scale")
	suite.False(ok, "nothing MUST be known before a scan")

	_, err := suite.scan([]string{"Scale"}, time.Second)
	suite.Require().NoError(err)

	// advertisements seen before the match are cached too
	require.Eventually(suite.T(), func() bool {
		_, ok := suite.scanner.Known("sys-1")
		return ok
	}, time.Second, 5*time.Millisecond)

	adv, ok := suite.scanner.Known("de:ad:be:ef:00:01")
	suite.Require().True(ok)
	suite.Equal("sys-2", adv.SystemID)

	suite.scanner.Forget("sys-2")
	_, ok = suite.scanner.Known("Scale")
	suite.False(ok, "forgotten device MUST NOT be known")

	_, err = suite.scan([]string{"Scale"}, time.Second)
	suite.Require().NoError(err)
	adv, ok = suite.scanner.Known("Scale")
	suite.Require().True(ok, "a forgotten device MUST be cached again when it advertises")
	suite.Equal("sys-2", adv.SystemID)
}

func (suite *ScannerTestSuite) TestSurveyListsEveryDevice() {
	// GOAL: Verify a survey runs for the whole timeout and ranks devices by signal
	//
	// TEST SCENARIO: two peripherals advertise → survey 100ms → both listed, strongest first

	var phases []string
	ctx, cancel := context.WithTimeout(context.Background(), suite.TestTimeout)
	defer cancel()

	devices, err := suite.scanner.Survey(ctx, &scanner.ScanOptions{
		Timeout:  100 * time.Millisecond,
		Progress: func(p string) { phases = append(phases, p) },
	})

	suite.Require().NoError(err)
	suite.Require().Len(devices, 2)
	suite.Equal("sys-2", devices[0].SystemID, "stronger RSSI MUST come first")
	suite.Equal("sys-1", devices[1].SystemID)
	suite.Equal([]string{"Scanning", "Completed"}, phases)
	_, known := suite.scanner.Known("Scale")
	suite.True(known, "surveyed devices MUST be remembered")
}

func (suite *ScannerTestSuite) TestSurveyHonoursContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := suite.scanner.Survey(ctx, &scanner.ScanOptions{Timeout: time.Second})

	suite.ErrorIs(err, context.Canceled)
}

// syncDiscoverer reports its advertisements before StartDiscovery returns.
type syncDiscoverer struct {
	advs []device.AdvertisedDevice
}

func (d *syncDiscoverer) StartDiscovery(_ context.Context, _ device.DiscoveryOptions, handler func(device.AdvertisedDevice)) error {
	for _, adv := range d.advs {
		handler(adv)
	}
	return nil
}

func (d *syncDiscoverer) StopDiscovery() error { return nil }

func TestScanMatchedBeforeTimerIsSuccess(t *testing.T) {
	// GOAL: a session whose identifiers all matched never reports a timeout
	//
	// TEST SCENARIO: match lands during StartDiscovery → timer already expired → result returned

	d := &syncDiscoverer{advs: []device.AdvertisedDevice{{SystemID: "sys-1", Name: "Printer"}}}
	sc := scanner.NewScanner(d, nil)

	for i := 0; i < 50; i++ {
		matched, err := sc.Scan(context.Background(), []string{"Printer"}, &scanner.ScanOptions{Timeout: time.Nanosecond})

		require.NoError(t, err, "run %d: a complete match MUST win over the timer", i)
		require.Len(t, matched, 1)
	}
}

func TestScannerTestSuite(t *testing.T) {
	suitelib.Run(t, new(ScannerTestSuite))
}
