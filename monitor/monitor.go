// Package monitor is the UI-facing facade over a scanner and a session machine.
// A UI sends intents and renders View; it never talks to the platform directly.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blelog/internal/device"
	"github.com/srg/blelog/internal/groutine"
	"github.com/srg/blelog/internal/session"
	"github.com/srg/blelog/scanner"
)

// View is what a UI renders.
type View struct {
	Session     session.Snapshot
	Peripherals []device.Peripheral
	Scanning    bool
	BluetoothOn bool
	// ScanErr is the error of the last finished scan, if any.
	ScanErr error
}

// LogPath returns the active sample log file, or "" when not logging.
func (v View) LogPath() string {
	return v.Session.LogPath
}

// Options configures a Controller
type Options struct {
	Logger       *logrus.Logger
	ScanOptions  *scanner.ScanOptions
	CloseTimeout time.Duration // bounds the teardown done by Close
}

// DefaultOptions returns sensible defaults for a controller
func DefaultOptions() *Options {
	return &Options{
		ScanOptions:  scanner.DefaultScanOptions(),
		CloseTimeout: 5 * time.Second,
	}
}

// Controller owns one Scanner and one session Machine.
type Controller struct {
	scanner *scanner.Scanner
	machine *session.Machine
	opts    Options
	logger  *logrus.Logger

	scanMutex sync.Mutex
	scanDone  chan struct{}
	scanErr   error
}

// NewController creates a controller over sc and m. The controller takes ownership of m.
func NewController(sc *scanner.Scanner, m *session.Machine, opts *Options) *Controller {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.ScanOptions == nil {
		o.ScanOptions = scanner.DefaultScanOptions()
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
	}
	return &Controller{
		scanner: sc,
		machine: m,
		opts:    o,
		logger:  o.Logger,
	}
}

// StartScan starts a background scan. The peripheral list in View fills as
// advertisements arrive; ScanDone is closed when the scan finishes.
func (c *Controller) StartScan(ctx context.Context) error {
	c.scanMutex.Lock()
	defer c.scanMutex.Unlock()

	if c.scanDone != nil {
		select {
		case <-c.scanDone:
		default:
			return scanner.ErrScanInProgress
		}
	}

	done := make(chan struct{})
	c.scanDone = done
	c.scanErr = nil

	groutine.Go(ctx, "monitor-scan", func(ctx context.Context) {
		defer close(done)
		_, err := c.scanner.Scan(ctx, c.opts.ScanOptions, func(phase string) {
			c.logger.WithField("phase", phase).Debug("Scan progress")
		})
		if err != nil {
			c.logger.WithError(err).Warn("Scan finished with error")
		}
		c.scanMutex.Lock()
		c.scanErr = err
		c.scanMutex.Unlock()
	})
	return nil
}

// ScanDone returns a channel closed when the current scan ends. It is nil before the first StartScan.
func (c *Controller) ScanDone() <-chan struct{} {
	c.scanMutex.Lock()
	defer c.scanMutex.Unlock()
	return c.scanDone
}

// StopScan stops a running scan and waits for it to end.
func (c *Controller) StopScan() {
	done := c.ScanDone()
	c.scanner.Stop()
	if done != nil {
		<-done
	}
}

// Connect stops any running scan and connects to peripheralID. An ID that was
// not seen in the current scan is connected with an empty name.
func (c *Controller) Connect(ctx context.Context, peripheralID string) error {
	if c.scanner.IsScanning() {
		c.StopScan()
	}

	p, ok := c.scanner.Lookup(peripheralID)
	if !ok {
		p = device.Peripheral{ID: peripheralID}
	}
	c.logger.WithFields(logrus.Fields{
		"peripheral": p.ID,
		"name":       p.DisplayName(),
		"discovered": ok,
	}).Info("Connect requested")

	return c.machine.Connect(ctx, p)
}

// SelectService makes serviceUUID the selected service and subscribes to its notify characteristics.
func (c *Controller) SelectService(ctx context.Context, serviceUUID string) (*session.GroupReport, error) {
	return c.machine.SelectService(ctx, serviceUUID)
}

// ToggleNotifications flips notifications of the selected service.
func (c *Controller) ToggleNotifications(ctx context.Context) (*session.GroupReport, error) {
	return c.machine.ToggleNotifications(ctx)
}

// Disconnect tears the session down. A *session.DisconnectWarning still means the session is gone.
func (c *Controller) Disconnect(ctx context.Context) error {
	return c.machine.Teardown(ctx)
}

// View returns the current view state.
func (c *Controller) View() View {
	c.scanMutex.Lock()
	scanErr := c.scanErr
	c.scanMutex.Unlock()

	return View{
		Session:     c.machine.Snapshot(),
		Peripherals: c.scanner.Peripherals(),
		Scanning:    c.scanner.IsScanning(),
		BluetoothOn: c.scanner.BluetoothOn(),
		ScanErr:     scanErr,
	}
}

// Changes signals session view changes.
func (c *Controller) Changes() <-chan struct{} {
	return c.machine.Changes()
}

// Close stops scanning, tears the session down and stops the machine.
func (c *Controller) Close() error {
	c.StopScan()

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.CloseTimeout)
	defer cancel()

	err := c.machine.Teardown(ctx)
	c.machine.Close()

	var warning *session.DisconnectWarning
	switch {
	case err == nil, errors.Is(err, session.ErrClosed):
		return nil
	case errors.As(err, &warning):
		c.logger.WithError(err).Warn("Disconnect failed during close")
		return nil
	default:
		return fmt.Errorf("failed to close session: %w", err)
	}
}
