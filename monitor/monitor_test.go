package monitor_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blelog/internal/device"
	"github.com/srg/blelog/internal/samplelog"
	"github.com/srg/blelog/internal/session"
	"github.com/srg/blelog/internal/testutils"
	"github.com/srg/blelog/monitor"
	"github.com/srg/blelog/scanner"
)

type ControllerTestSuite struct {
	testutils.MockPlatformSuite

	logDir     string
	controller *monitor.Controller
	ctx        context.Context
	cancel     context.CancelFunc
}

func (s *ControllerTestSuite) SetupTest() {
	s.PeripheralBuilder = testutils.ScenarioPeripheral().
		WithAdvertisement("dev-1", "Sensor", -50).
		WithAdvertisement("dev-2", "", -70)
	s.MockPlatformSuite.SetupTest()

	s.logDir = s.T().TempDir()
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Second)
	clock := func() time.Time { return time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC) }

	sc := scanner.NewScanner(s.Platform, s.Hub, nil, s.Logger)
	m := session.NewMachine(s.Platform, s.Hub, session.Options{
		Logger: s.Logger,
		Sinks:  samplelog.NewFactory(s.logDir, clock, s.Logger),
	})
	s.controller = monitor.NewController(sc, m, &monitor.Options{Logger: s.Logger})
}

func (s *ControllerTestSuite) TearDownTest() {
	s.NoError(s.controller.Close())
	s.cancel()
	s.MockPlatformSuite.TearDownTest()
}

func (s *ControllerTestSuite) blockScan() {
	s.Platform.Reset("Scan").On("Scan", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			s.Platform.Advertise(device.Peripheral{ID: "dev-1", Name: "Sensor", RSSI: -50})
			<-args.Get(0).(context.Context).Done()
		}).
		Return(context.Canceled)
}

func (s *ControllerTestSuite) TestStartScan() {
	s.Require().NoError(s.controller.StartScan(s.ctx))
	<-s.controller.ScanDone()

	view := s.controller.View()
	s.NoError(view.ScanErr)
	s.False(view.Scanning)
	s.True(view.BluetoothOn)
	s.Require().Len(view.Peripherals, 2)
	s.Equal("Sensor", view.Peripherals[0].Name)
	s.Equal("dev-2", view.Peripherals[1].ID)
}

func (s *ControllerTestSuite) TestStartScan_InProgress() {
	s.blockScan()
	s.Require().NoError(s.controller.StartScan(s.ctx))
	s.Eventually(func() bool { return s.controller.View().Scanning })

	s.ErrorIs(s.controller.StartScan(s.ctx), scanner.ErrScanInProgress)

	s.controller.StopScan()
	view := s.controller.View()
	s.False(view.Scanning)
	s.NoError(view.ScanErr, "a stopped scan MUST NOT report an error")
	s.Len(view.Peripherals, 1)
}

func (s *ControllerTestSuite) TestConnect_StopsRunningScan() {
	s.blockScan()
	s.Require().NoError(s.controller.StartScan(s.ctx))
	s.Eventually(func() bool { return len(s.controller.View().Peripherals) == 1 })

	s.Require().NoError(s.controller.Connect(s.ctx, "dev-1"))

	view := s.controller.View()
	s.False(view.Scanning, "connect MUST stop the scan")
	s.Equal(session.Idle, view.Session.State)
	s.Equal("Sensor", view.Session.Peripheral.Name, "a scanned peripheral MUST keep its advertised name")
	s.Len(view.Session.Services, 2)
}

func (s *ControllerTestSuite) TestConnect_UnknownPeripheral() {
	// GOAL: Verify an ID that was never scanned is connected with an empty name
	//
	// TEST SCENARIO: no scan → connect "AA:BB" → platform gets the ID, session has no name

	s.Require().NoError(s.controller.Connect(s.ctx, "AA:BB"))

	view := s.controller.View()
	s.Equal("AA:BB", view.Session.Peripheral.ID)
	s.Empty(view.Session.Peripheral.Name)
	s.Platform.AssertCalled(s.T(), "Connect", mock.Anything, "AA:BB")
}

func (s *ControllerTestSuite) TestMonitorSession_WritesSampleLog() {
	// GOAL: Verify the intents drive a full session that ends in a CSV file
	//
	// TEST SCENARIO: scan → connect → select A → A1=1.0 → disconnect → "A1,A2\n1,N/A\n" on disk

	s.Require().NoError(s.controller.StartScan(s.ctx))
	<-s.controller.ScanDone()
	s.Require().NoError(s.controller.Connect(s.ctx, "dev-1"))

	report, err := s.controller.SelectService(s.ctx, "A")
	s.Require().NoError(err)
	s.Equal([]string{"A1", "A2"}, report.Succeeded())

	view := s.controller.View()
	s.Equal(session.Active, view.Session.State)
	expectedPath := filepath.Join(s.logDir, "Sensor_18-10-2026_10-00-00.csv")
	s.Equal(expectedPath, view.LogPath())

	s.Platform.Notify("dev-1", "A", "A1", testutils.Float32Bytes(1.0))
	s.Eventually(func() bool {
		v, ok := s.controller.View().Session.Value("A1")
		return ok && v == 1.0
	}, "live value MUST be shown")

	s.Require().NoError(s.controller.Disconnect(s.ctx))
	s.Equal(session.Disconnected, s.controller.View().Session.State)
	s.Empty(s.controller.View().LogPath())

	data, err := os.ReadFile(expectedPath)
	s.Require().NoError(err)
	s.Equal("A1,A2\n1,N/A\n", string(data))
}

func (s *ControllerTestSuite) TestToggleNotifications() {
	s.Require().NoError(s.controller.Connect(s.ctx, "dev-1"))
	_, err := s.controller.SelectService(s.ctx, "A")
	s.Require().NoError(err)

	_, err = s.controller.ToggleNotifications(s.ctx)
	s.Require().NoError(err)
	s.Equal(session.Idle, s.controller.View().Session.State)

	_, err = s.controller.ToggleNotifications(s.ctx)
	s.Require().NoError(err)
	s.Equal(session.Active, s.controller.View().Session.State)
}

func (s *ControllerTestSuite) TestClose_TearsDownSession() {
	s.Require().NoError(s.controller.Connect(s.ctx, "dev-1"))
	_, err := s.controller.SelectService(s.ctx, "A")
	s.Require().NoError(err)

	s.Require().NoError(s.controller.Close())

	s.Equal(session.Disconnected, s.controller.View().Session.State)
	s.Platform.AssertCalled(s.T(), "Disconnect", mock.Anything, "dev-1")
	s.Equal(2, s.Platform.CallCount("StopNotification"))
}

func TestControllerTestSuite(t *testing.T) {
	suite.Run(t, new(ControllerTestSuite))
}
