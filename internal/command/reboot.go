package command

import (
	"context"
	"fmt"
	"time"

	logs "github.com/danmuck/healthmon/internal/logging"
)

// Reboot waits its delay, reports success and then reboots the device.
type Reboot struct {
	Delay    time.Duration
	Ignition Ignition

	rebooter Rebooter
}

func newReboot(params []string, eff Effectors) (*Reboot, error) {
	if err := wantParams(KindReboot, params, 2); err != nil {
		return nil, err
	}
	delay, err := parseMillis("delay_ms", params[0])
	if err != nil {
		return nil, err
	}
	ign, err := ParseIgnition(params[1])
	if err != nil {
		return nil, err
	}
	if eff.Rebooter == nil {
		return nil, fmt.Errorf("%w: rebooter", ErrNoEffector)
	}
	return &Reboot{Delay: delay, Ignition: ign, rebooter: eff.Rebooter}, nil
}

func (r *Reboot) Kind() string { return KindReboot }

func (r *Reboot) Policy() Policy {
	return Policy{Ignition: r.Ignition}
}

func (r *Reboot) Execute(ctx context.Context, finish FinishFunc) {
	if r.Delay > 0 {
		t := time.NewTimer(r.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			finish(false, "canceled")
			return
		case <-t.C:
		}
	}
	finish(true, "")
	logs.Warnf("command.Reboot.Execute rebooting delay=%s", r.Delay)
	if err := r.rebooter.Reboot(); err != nil {
		logs.Errf("command.Reboot.Execute reboot err=%v", err)
	}
}

func (r *Reboot) HandleTimeout() {}
