package main

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blelog/internal/session"
	"github.com/srg/blelog/internal/testutils"
)

type MonitorTestSuite struct {
	CommandTestSuite
}

func (s *MonitorTestSuite) waitOutput(out *syncBuffer, want string) {
	s.Eventually(func() bool { return strings.Contains(out.String(), want) },
		"output MUST contain %q, got:\n%s", want, out)
}

func (s *MonitorTestSuite) TestMonitor_LogsSamples() {
	// GOAL: Verify monitor subscribes to the service, shows live values and writes the CSV log
	//
	// TEST SCENARIO: --service 181A --log → 2A6E=21.5 → "quit" → CSV holds header and one row

	logDir := s.T().TempDir()
	stdin, stdinW := io.Pipe()
	out := &syncBuffer{}
	done := s.StartCommand(out, stdin, "monitor", testDeviceAddress, "--service", "181A", "--log", "--log-dir", logDir)

	s.waitOutput(out, "Subscribed to 181A: 2A6E, 2A6F")
	s.waitOutput(out, "Logging to ")

	s.Platform.Notify(testDeviceAddress, "181A", "2A6E", testutils.Float32Bytes(21.5))
	s.waitOutput(out, "2A6E=21.5  2A6F=N/A")

	_, err := io.WriteString(stdinW, "values\nquit\n")
	s.Require().NoError(err)
	s.Require().NoError(s.WaitResult(done))
	_ = stdinW.Close()

	s.Contains(out.String(), "Samples logged to ")
	s.Equal(2, s.Platform.CallCount("StopNotification"), "teardown MUST stop both subscriptions")
	s.Platform.AssertCalled(s.T(), "Disconnect", mock.Anything, testDeviceAddress)

	files, err := filepath.Glob(filepath.Join(logDir, "*.csv"))
	s.Require().NoError(err)
	s.Require().Len(files, 1)
	s.True(strings.HasPrefix(filepath.Base(files[0]), "Unnamed Device_"),
		"a device that was not scanned MUST be logged without a name")
	data, err := os.ReadFile(files[0])
	s.Require().NoError(err)
	s.Equal("2A6E,2A6F\n21.5,N/A\n", string(data))
}

func (s *MonitorTestSuite) TestMonitor_Commands() {
	stdin := strings.NewReader("services\nselect 1234\nvalues\nbogus\nselect 181A\ntoggle\ntoggle\nquit\n")

	out, err := s.ExecuteCommand(stdin, "monitor", testDeviceAddress)

	s.Require().NoError(err)
	s.Contains(out, "Connected to Unnamed Device ("+testDeviceAddress+")")
	s.Contains(out, "181A (Environmental Sensing)")
	s.Contains(out, "2A6E [read,notify]")
	s.Contains(out, "2A19 [read]")
	s.Contains(out, "is not offered by the device")
	s.Contains(out, "No active subscriptions (Idle)")
	s.Contains(out, `unknown command "bogus"`)
	s.Contains(out, "Notifications of 181A: Idle")
	s.Contains(out, "Notifications of 181A: Active")
	s.NotContains(out, "Logging to", "logging MUST be off without --log")
}

func (s *MonitorTestSuite) TestMonitor_LinkLost() {
	stdin, stdinW := io.Pipe()
	defer stdinW.Close()
	out := &syncBuffer{}
	done := s.StartCommand(out, stdin, "monitor", testDeviceAddress, "--service", "181A")

	s.waitOutput(out, "Subscribed to 181A")
	s.Platform.DropLink(testDeviceAddress, errors.New("supervision timeout"))

	err := s.WaitResult(done)
	s.ErrorIs(err, ErrConnectionLost)
	s.Equal("connection to the device was lost", FormatUserError(err))
}

func (s *MonitorTestSuite) TestMonitor_ConnectFailure() {
	s.Platform.Reset("Connect").On("Connect", mock.Anything, mock.Anything).Return(errors.New("refused"))

	_, err := s.ExecuteCommand(nil, "monitor", testDeviceAddress)

	var connErr *session.ConnectionError
	s.Require().ErrorAs(err, &connErr)
	s.Contains(FormatUserError(err), "refused")
}

func (s *MonitorTestSuite) TestMonitor_UnknownServiceFlag() {
	_, err := s.ExecuteCommand(nil, "monitor", testDeviceAddress, "--service", "180D")

	var unknown *session.UnknownServiceError
	s.Require().ErrorAs(err, &unknown)
	s.Platform.AssertCalled(s.T(), "Disconnect", mock.Anything, testDeviceAddress)
}

func (s *MonitorTestSuite) TestMonitor_InvalidServiceFlag() {
	_, err := s.ExecuteCommand(nil, "monitor", testDeviceAddress, "--service", "zz")

	s.ErrorContains(err, "invalid service UUID")
	s.Zero(s.Platform.CallCount("Connect"))
}

func (s *MonitorTestSuite) TestMonitor_RequiresPeripheral() {
	_, err := s.ExecuteCommand(nil, "monitor")

	s.ErrorContains(err, "accepts 1 arg(s)")
}

func TestMonitorTestSuite(t *testing.T) {
	suite.Run(t, new(MonitorTestSuite))
}
