package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/blelog/internal/device"
	"github.com/srg/blelog/internal/permission"
	"github.com/srg/blelog/internal/session"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "nil",
			err:  nil,
			want: "",
		},
		{
			name: "bluetooth off through wrapping",
			err:  fmt.Errorf("scan failed: %w", device.ErrBluetoothOff),
			want: "Bluetooth is turned off - please enable Bluetooth and retry",
		},
		{
			name: "unknown service",
			err:  &session.UnknownServiceError{UUID: "180d"},
			want: "service 180d is not offered by the device (use 'services' to list them)",
		},
		{
			name: "partial subscription",
			err: &session.PartialSubscriptionError{
				Service: "181A",
				Total:   2,
				Failed:  []session.Outcome{{Characteristic: "2A6F", Err: errors.New("rejected")}},
			},
			want: "subscribed to 1 of 2 characteristics of 181A; failed: 2A6F (rejected)",
		},
		{
			name: "disconnect warning",
			err:  &session.DisconnectWarning{Peripheral: "dev-1", Err: errors.New("hci busy")},
			want: "session closed but the device did not disconnect cleanly: hci busy",
		},
		{
			name: "connection lost",
			err:  fmt.Errorf("monitor: %w", ErrConnectionLost),
			want: "connection to the device was lost",
		},
		{
			name: "timeout",
			err:  fmt.Errorf("connect: %w", context.DeadlineExceeded),
			want: "operation timed out",
		},
		{
			name: "plain error",
			err:  errors.New("something else"),
			want: "something else",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUserError(tt.err))
		})
	}
}

func TestFormatUserError_PermissionHint(t *testing.T) {
	msg := FormatUserError(&permission.DeniedError{Missing: []string{"CAP_NET_ADMIN"}})

	assert.Contains(t, msg, "missing CAP_NET_ADMIN")
	assert.Contains(t, msg, "setcap")
}
