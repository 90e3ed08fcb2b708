package command

import (
	"context"
	"fmt"
	"time"
)

// FinishFunc ends a command. Only the first call counts.
type FinishFunc func(ok bool, message string)

// Executor is one parsed command. Execute must eventually call finish,
// from any goroutine; HandleTimeout runs on the timer goroutine when the
// policy timeout fires first.
type Executor interface {
	Kind() string
	Policy() Policy
	Execute(ctx context.Context, finish FinishFunc)
	HandleTimeout()
}

// Builder parses a queued record into its executor. A build error makes
// the command INVALID.
type Builder interface {
	Build(r Record) (Executor, error)
}

type Rebooter interface {
	Reboot() error
}

type Downloader interface {
	Download(ctx context.Context, bucket, key, dest string) error
}

type Installer interface {
	Install(ctx context.Context, path string) error
}

type RestartScheduler interface {
	ScheduleRestart(delay time.Duration)
}

// UpdateRequest is an application update handed to another component.
type UpdateRequest struct {
	Bucket         string `json:"bucket"`
	ObjectKey      string `json:"object_key"`
	DestinationDir string `json:"destination_dir"`
	FileName       string `json:"file_name"`
	TimeoutMillis  int64  `json:"timeout_ms"`
}

type Broadcaster interface {
	BroadcastUpdate(ctx context.Context, u UpdateRequest) error
}

// DefaultRestartDelay is the wait between a self-update install and the
// agent restart.
const DefaultRestartDelay = 30 * time.Second

// Effectors are the device actions executors call into.
type Effectors struct {
	Rebooter     Rebooter
	Downloader   Downloader
	Installer    Installer
	Restarter    RestartScheduler
	Broadcaster  Broadcaster
	RestartDelay time.Duration
}

// Catalog builds the known command kinds against a set of effectors.
type Catalog struct {
	Effectors Effectors
}

func (c Catalog) Build(r Record) (Executor, error) {
	switch r.Type {
	case KindReboot:
		return newReboot(r.Parameters, c.Effectors)
	case KindAppUpdate:
		return newAppUpdate(r.Parameters, c.Effectors)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, r.Type)
	}
}
