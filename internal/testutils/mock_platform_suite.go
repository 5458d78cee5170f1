package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blelog/internal/events"
)

// MockPlatformSuite is a reusable testify suite with a mocked platform wired to an event hub.
//
// Basic usage (scenario peripheral with services A and B):
//
//	type SessionSuite struct {
//	    testutils.MockPlatformSuite
//	}
//
// Custom peripheral:
//
//	func (s *SessionSuite) SetupTest() {
//	    s.WithPeripheral("dev-2").
//	        WithService("180D").
//	        WithCharacteristic("2A37", "notify")
//
//	    s.MockPlatformSuite.SetupTest() // call parent last to apply configuration
//	}
//
// Failure injection, after SetupTest:
//
//	s.Platform.Reset("Connect").On("Connect", mock.Anything, "dev-1").Return(errors.New("boom"))
type MockPlatformSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	Hub               *events.Hub
	Platform          *MockPlatform
	PeripheralBuilder *PeripheralDeviceBuilder
	TestTimeout       time.Duration
}

func (s *MockPlatformSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 2 * time.Second
}

func (s *MockPlatformSuite) SetupTest() {
	// per-test logger so output lands under the running subtest
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger

	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = ScenarioPeripheral()
	}
	s.Hub = events.NewHub(64, s.Logger)
	s.Platform = s.PeripheralBuilder.ApplyTo(NewMockPlatform(s.Hub))
}

func (s *MockPlatformSuite) TearDownTest() {
	s.PeripheralBuilder = nil
}

// WithPeripheral starts a custom peripheral configuration; call before the parent SetupTest.
func (s *MockPlatformSuite) WithPeripheral(id string) *PeripheralDeviceBuilder {
	s.PeripheralBuilder = NewPeripheralDeviceBuilder(id)
	return s.PeripheralBuilder
}

// Eventually waits for cond within TestTimeout.
func (s *MockPlatformSuite) Eventually(cond func() bool, msgAndArgs ...interface{}) bool {
	return s.Suite.Eventually(cond, s.TestTimeout, 5*time.Millisecond, msgAndArgs...)
}
