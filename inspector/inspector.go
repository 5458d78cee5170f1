package inspector

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blelog/internal/device"
	"github.com/srg/blelog/internal/session"
)

// ProgressCallback is called when the inspection phase changes
type ProgressCallback func(phase string)

// InspectOptions defines options for inspecting a BLE device profile
type InspectOptions struct {
	ConnectTimeout time.Duration
}

// InspectCallback processes the discovered profile and produces output of type R
type InspectCallback[R any] func(session.Snapshot) (R, error)

// InspectDevice connects m to p, discovers its services and runs callback with the resulting
// snapshot. The session is torn down afterwards whatever the callback returns; a failed
// disconnect is logged, not returned.
func InspectDevice[R any](ctx context.Context, m *session.Machine, p device.Peripheral, opts *InspectOptions, logger *logrus.Logger, progressCallback ProgressCallback, callback InspectCallback[R]) (R, error) {
	var zero R
	if opts == nil {
		opts = &InspectOptions{ConnectTimeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logrus.New()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	progressCallback("Connecting")

	connectCtx := ctx
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	if err := m.Connect(connectCtx, p); err != nil {
		progressCallback("Failed")
		// a timed out connect may still be in flight
		if teardownErr := m.Teardown(context.WithoutCancel(ctx)); teardownErr != nil {
			logger.WithError(teardownErr).Debug("Teardown after failed connect")
		}
		return zero, err
	}

	progressCallback("Connected")

	// Ensure the device is disconnected after the callback completes
	defer func() {
		err := m.Teardown(context.WithoutCancel(ctx))
		var warning *session.DisconnectWarning
		if errors.As(err, &warning) || (err != nil && !errors.Is(err, session.ErrClosed)) {
			logger.WithError(err).Error("failed to disconnect device")
		}
	}()

	progressCallback("Processing results")

	return callback(m.Snapshot())
}
