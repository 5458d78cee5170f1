//go:build linux

package permission

import (
	"context"

	"golang.org/x/sys/unix"
)

// capNetAdmin is CAP_NET_ADMIN; opening a raw HCI socket requires it.
const capNetAdmin = 12

// System checks the capabilities BlueZ HCI access needs: root or CAP_NET_ADMIN
// in the effective set.
type System struct{}

// Request implements Gate.
func (System) Request(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if unix.Geteuid() == 0 {
		return nil
	}

	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return &DeniedError{Missing: []string{"CAP_NET_ADMIN"}, Reason: err.Error()}
	}
	if data[capNetAdmin/32].Effective&(1<<(capNetAdmin%32)) != 0 {
		return nil
	}
	return &DeniedError{
		Missing: []string{"CAP_NET_ADMIN"},
		Reason:  "run as root or grant the binary cap_net_admin,cap_net_raw",
	}
}
