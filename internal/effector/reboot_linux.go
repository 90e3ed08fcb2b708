//go:build linux

package effector

import (
	"golang.org/x/sys/unix"

	logs "github.com/danmuck/healthmon/internal/logging"
)

// UnixRebooter flushes filesystems and restarts the machine.
type UnixRebooter struct{}

func (UnixRebooter) Reboot() error {
	logs.Warnf("effector.UnixRebooter.Reboot syncing and restarting")
	unix.Sync()
	return unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART)
}
