package main

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blelog/internal/device"
	"github.com/srg/blelog/internal/events"
	"github.com/srg/blelog/internal/permission"
	"github.com/srg/blelog/internal/testutils"
)

const testDeviceAddress = "AA:BB:CC:DD:EE:FF"

// syncBuffer is a bytes.Buffer safe for a command writing while the test polls.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CommandTestSuite runs commands against the mocked platform.
// All cmd/blelog test suites should embed this instead of MockPlatformSuite.
type CommandTestSuite struct {
	testutils.MockPlatformSuite

	gate             permission.Gate
	originalPlatform func(*events.Hub, *logrus.Logger) (device.Platform, func() error)
	originalGate     func() permission.Gate
}

func (s *CommandTestSuite) SetupTest() {
	if s.PeripheralBuilder == nil {
		s.WithPeripheral(testDeviceAddress).
			WithName("Thermo").
			WithAdvertisement(testDeviceAddress, "Thermo", -48).
			WithAdvertisement("11:22:33:44:55:66", "", -71).
			WithService("181A").
			WithCharacteristic("2A6E", "read,notify").
			WithCharacteristic("2A6F", "notify").
			WithCharacteristic("2A19", "read")
	}
	s.MockPlatformSuite.SetupTest()

	s.gate = permission.Granted
	s.originalPlatform = newPlatform
	s.originalGate = newGate
	newPlatform = func(hub *events.Hub, _ *logrus.Logger) (device.Platform, func() error) {
		// the command owns the hub; the mock publishes into it
		s.Platform.Hub = hub
		return s.Platform, func() error { return nil }
	}
	newGate = func() permission.Gate { return s.gate }
}

func (s *CommandTestSuite) TearDownTest() {
	newPlatform = s.originalPlatform
	newGate = s.originalGate
	s.MockPlatformSuite.TearDownTest()
}

// ExecuteCommand runs the root command with args and stdin, returns stdout and error.
func (s *CommandTestSuite) ExecuteCommand(stdin io.Reader, args ...string) (string, error) {
	out := &syncBuffer{}
	err := s.execute(out, stdin, args...)
	return out.String(), err
}

// StartCommand runs the root command in the background. The returned channel yields its error.
func (s *CommandTestSuite) StartCommand(out *syncBuffer, stdin io.Reader, args ...string) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- s.execute(out, stdin, args...)
	}()
	return done
}

func (s *CommandTestSuite) execute(out io.Writer, stdin io.Reader, args ...string) error {
	root := newRootCmd()
	root.SetOut(out)
	root.SetErr(io.Discard)
	if stdin == nil {
		stdin = &bytes.Buffer{}
	}
	root.SetIn(stdin)
	root.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return root.ExecuteContext(ctx)
}

// WaitResult waits for a background command to finish.
func (s *CommandTestSuite) WaitResult(done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		s.FailNow("command did not finish")
		return nil
	}
}
