//go:build !linux

package effector

import "errors"

type UnixRebooter struct{}

func (UnixRebooter) Reboot() error {
	return errors.New("effector: reboot is only supported on linux")
}
