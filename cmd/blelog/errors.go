package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/blelog/internal/decoder"
	"github.com/srg/blelog/internal/device"
	"github.com/srg/blelog/internal/permission"
	"github.com/srg/blelog/internal/samplelog"
	"github.com/srg/blelog/internal/session"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the BLE connection was unexpectedly lost during operation.
	// This is distinct from device.ErrNotConnected, which indicates an attempt to use
	// a device that was never connected or was already disconnected.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns an error chain into a message for the terminal.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var (
		denied    *permission.DeniedError
		connErr   *session.ConnectionError
		unknown   *session.UnknownServiceError
		partial   *session.PartialSubscriptionError
		warning   *session.DisconnectWarning
		stateErr  *session.StateError
		decodeErr *decoder.DecodeError
		notFound  *device.NotFoundError
	)

	switch {
	case errors.As(err, &denied):
		return denied.Error() + "\nhint: run as root or grant the binary CAP_NET_ADMIN (sudo setcap cap_net_admin+eip $(which blelog))"
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off - please enable Bluetooth and retry"
	case errors.As(err, &connErr):
		return connErr.Error()
	case errors.As(err, &unknown):
		return fmt.Sprintf("service %s is not offered by the device (use 'services' to list them)", unknown.UUID)
	case errors.As(err, &partial):
		failed := make([]string, len(partial.Failed))
		for i, o := range partial.Failed {
			failed[i] = fmt.Sprintf("%s (%v)", o.Characteristic, o.Err)
		}
		return fmt.Sprintf("subscribed to %d of %d characteristics of %s; failed: %s",
			partial.Total-len(partial.Failed), partial.Total, partial.Service, strings.Join(failed, ", "))
	case errors.As(err, &warning):
		return fmt.Sprintf("session closed but the device did not disconnect cleanly: %v", warning.Err)
	case errors.As(err, &stateErr):
		return stateErr.Error()
	case errors.As(err, &decodeErr):
		return decodeErr.Error()
	case errors.As(err, &notFound):
		return notFound.Error()
	case errors.Is(err, ErrConnectionLost):
		return "connection to the device was lost"
	case errors.Is(err, samplelog.ErrExists):
		return err.Error() + " (remove it or choose another --dest)"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, device.ErrTimeout):
		return "operation timed out"
	default:
		return err.Error()
	}
}
