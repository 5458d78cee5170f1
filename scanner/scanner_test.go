package scanner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	suitelib "github.com/stretchr/testify/suite"

	"github.com/srg/blelog/internal/device"
	"github.com/srg/blelog/internal/permission"
	"github.com/srg/blelog/internal/testutils"
	"github.com/srg/blelog/scanner"
)

type ScannerTestSuite struct {
	testutils.MockPlatformSuite
}

func (suite *ScannerTestSuite) SetupTest() {
	suite.WithPeripheral("AA:BB:CC:DD:EE:FF").
		WithAdvertisement("AA:BB:CC:DD:EE:FF", "Test Device 1", -45).
		WithAdvertisement("11:22:33:44:55:66", "", -67).
		WithAdvertisement("aa:bb:cc:dd:ee:ff", "", -40).
		WithAdvertisement("99:88:77:66:55:44", "Test Device 3", -80).
		WithAdvertisement("11:22:33:44:55:66", "Test Device 2", -60)

	suite.MockPlatformSuite.SetupTest()
}

func (suite *ScannerTestSuite) newScanner(gate permission.Gate) *scanner.Scanner {
	return scanner.NewScanner(suite.Platform, suite.Hub, gate, suite.Logger)
}

func (suite *ScannerTestSuite) ids(ps []device.Peripheral) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func (suite *ScannerTestSuite) TestScan_DedupesInFirstSeenOrder() {
	// GOAL: Verify repeated advertisements update one entry and the list keeps first-seen order
	//
	// TEST SCENARIO: 5 advertisements from 3 peripherals → 3 entries, latest RSSI, names kept or filled in

	s := suite.newScanner(nil)
	var phases []string

	result, err := s.Scan(context.Background(), nil, func(phase string) { phases = append(phases, phase) })

	suite.Require().NoError(err)
	suite.Equal([]string{"AA:BB:CC:DD:EE:FF", "11:22:33:44:55:66", "99:88:77:66:55:44"}, suite.ids(result))
	suite.Equal("Test Device 1", result[0].Name, "an empty name MUST NOT erase a known name")
	suite.Equal(-40, result[0].RSSI, "RSSI MUST follow the latest advertisement")
	suite.Equal("Test Device 2", result[1].Name, "a later name MUST fill in an unnamed entry")
	suite.Equal(result, s.Peripherals())
	suite.Equal([]string{"Scanning", "Processing results"}, phases)
	suite.False(s.IsScanning())

	suite.Platform.AssertCalled(suite.T(), "Scan", mock.Anything, device.ScanFilter{}, 5*time.Second, true)
}

func (suite *ScannerTestSuite) TestScan_Events() {
	s := suite.newScanner(nil)

	_, err := s.Scan(context.Background(), nil, nil)
	suite.Require().NoError(err)

	var kinds []scanner.DeviceEventType
	for len(kinds) < 5 {
		select {
		case ev := <-s.Events():
			kinds = append(kinds, ev.Type)
		case <-time.After(time.Second):
			suite.FailNow("missing device events")
		}
	}
	suite.Equal([]scanner.DeviceEventType{
		scanner.EventNew, scanner.EventNew, scanner.EventUpdated, scanner.EventNew, scanner.EventUpdated,
	}, kinds)
}

func (suite *ScannerTestSuite) TestScan_AllowAndBlockLists() {
	s := suite.newScanner(nil)

	result, err := s.Scan(context.Background(), &scanner.ScanOptions{
		Duration:  time.Second,
		AllowList: []string{"aa:bb:cc:dd:ee:ff", "99:88:77:66:55:44"},
		BlockList: []string{"99:88:77:66:55:44"},
	}, nil)

	suite.Require().NoError(err)
	suite.Equal([]string{"AA:BB:CC:DD:EE:FF"}, suite.ids(result), "block list MUST win over allow list")
}

func (suite *ScannerTestSuite) TestScan_ServiceFilterIsForwarded() {
	s := suite.newScanner(nil)

	_, err := s.Scan(context.Background(), &scanner.ScanOptions{Duration: time.Second, ServiceUUIDs: []string{"180D"}}, nil)

	suite.Require().NoError(err)
	suite.Platform.AssertCalled(suite.T(), "Scan", mock.Anything, device.ScanFilter{ServiceUUIDs: []string{"180D"}}, time.Second, false)
}

func (suite *ScannerTestSuite) TestScan_PermissionDenied() {
	s := suite.newScanner(permission.Static{Missing: []string{"CAP_NET_ADMIN"}})

	_, err := s.Scan(context.Background(), nil, nil)

	var denied *permission.DeniedError
	suite.Require().ErrorAs(err, &denied)
	suite.Platform.AssertNotCalled(suite.T(), "Scan", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (suite *ScannerTestSuite) TestScan_BluetoothOff() {
	suite.Platform.Reset("Scan").On("Scan", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { suite.Platform.SetPower(false) }).
		Return(device.ErrBluetoothOff)
	s := suite.newScanner(nil)
	suite.True(s.BluetoothOn(), "adapter MUST be assumed on until reported otherwise")

	_, err := s.Scan(context.Background(), nil, nil)

	suite.ErrorIs(err, device.ErrBluetoothOff)
	suite.False(s.BluetoothOn())
}

func (suite *ScannerTestSuite) TestStop() {
	// GOAL: Verify Stop ends a running scan and keeps what was found

	suite.Platform.Reset("Scan").On("Scan", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			suite.Platform.Advertise(device.Peripheral{ID: "AA:BB:CC:DD:EE:FF", Name: "Test Device 1"})
			<-args.Get(0).(context.Context).Done()
		}).
		Return(context.Canceled)
	s := suite.newScanner(nil)

	type outcome struct {
		result []device.Peripheral
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := s.Scan(context.Background(), nil, nil)
		done <- outcome{result, err}
	}()

	suite.Eventually(func() bool { return len(s.Peripherals()) == 1 })
	suite.True(s.IsScanning())

	_, err := s.Scan(context.Background(), nil, nil)
	suite.ErrorIs(err, scanner.ErrScanInProgress)

	s.Stop()
	out := <-done
	suite.Require().NoError(out.err, "a stopped scan MUST NOT be an error")
	suite.Len(out.result, 1)
	suite.False(s.IsScanning())
}

func (suite *ScannerTestSuite) TestStop_WhileStarting() {
	// GOAL: Verify a Stop issued before the scan is fully started is not lost
	//
	// TEST SCENARIO: permission request held → Stop → permission granted → Scan returns at once, platform never scans

	entered := make(chan struct{}, 1)
	granted := make(chan struct{})
	gate := permission.GateFunc(func(context.Context) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-granted
		return nil
	})
	s := suite.newScanner(gate)

	done := make(chan error, 1)
	go func() {
		_, err := s.Scan(context.Background(), &scanner.ScanOptions{Duration: time.Hour}, nil)
		done <- err
	}()

	<-entered
	s.Stop()
	close(granted)

	select {
	case err := <-done:
		suite.NoError(err, "a stopped scan MUST NOT be an error")
	case <-time.After(suite.TestTimeout):
		suite.FailNow("Stop during startup MUST end the scan")
	}
	suite.False(s.IsScanning())
	suite.Equal(0, suite.Platform.CallCount("Scan"))

	// the pending stop belongs to that scan only
	result, err := s.Scan(context.Background(), nil, nil)
	suite.Require().NoError(err)
	suite.Len(result, 3)
}

func (suite *ScannerTestSuite) TestScan_ParentCancelled() {
	ctx, cancel := context.WithCancel(context.Background())
	suite.Platform.Reset("Scan").On("Scan", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(context.Canceled)

	_, err := suite.newScanner(nil).Scan(ctx, nil, nil)

	suite.ErrorIs(err, context.Canceled)
}

func (suite *ScannerTestSuite) TestScan_PlatformFailure() {
	suite.Platform.Reset("Scan").On("Scan", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("hci: busy"))

	_, err := suite.newScanner(nil).Scan(context.Background(), nil, nil)

	suite.ErrorContains(err, "scan failed")
}

func TestScannerTestSuite(t *testing.T) {
	suitelib.Run(t, new(ScannerTestSuite))
}
