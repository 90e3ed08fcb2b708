package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidParameters = errors.New("command: invalid parameters")
	ErrUnknownKind       = errors.New("command: unknown command kind")
	ErrNoEffector        = errors.New("command: effector not configured")
)

// Command kind names carried in Record.Type.
const (
	KindReboot    = "REBOOT"
	KindAppUpdate = "APP_UPDATE"
)

// Ignition is the ignition state a command requires before it runs.
type Ignition int

const (
	IgnitionOff Ignition = iota
	IgnitionOn
	IgnitionEither
)

func (i Ignition) String() string {
	switch i {
	case IgnitionOff:
		return "OFF"
	case IgnitionOn:
		return "ON"
	case IgnitionEither:
		return "EITHER"
	default:
		return "INVALID"
	}
}

// ParseIgnition reads the numeric wire form: 0 OFF, 1 ON, 2 EITHER.
func ParseIgnition(s string) (Ignition, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, invalidParam("ignition", s)
	}
	switch Ignition(n) {
	case IgnitionOff, IgnitionOn, IgnitionEither:
		return Ignition(n), nil
	default:
		return 0, invalidParam("ignition", s)
	}
}

// Policy is what a command waits for before it runs and how long it may
// run. A zero Timeout means no timeout.
type Policy struct {
	Ignition       Ignition
	RequireNetwork bool
	Timeout        time.Duration
}

// Satisfied reports whether the device context allows the command to run.
func (p Policy) Satisfied(ignitionOn, online bool) bool {
	if p.RequireNetwork && !online {
		return false
	}
	switch p.Ignition {
	case IgnitionOn:
		return ignitionOn
	case IgnitionOff:
		return !ignitionOn
	default:
		return true
	}
}

func parseMillis(name, s string) (time.Duration, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0, invalidParam(name, s)
	}
	return time.Duration(n) * time.Millisecond, nil
}

func invalidParam(name, value string) error {
	return fmt.Errorf("%w: %s=%q", ErrInvalidParameters, name, value)
}

func wantParams(kind string, params []string, n int) error {
	if len(params) != n {
		return fmt.Errorf("%w: %s wants %d parameters, got %d", ErrInvalidParameters, kind, n, len(params))
	}
	return nil
}
