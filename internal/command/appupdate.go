package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logs "github.com/danmuck/healthmon/internal/logging"
)

// AppUpdate fetches and installs an application artifact, or hands the
// update to another component when it is not a self-update.
type AppUpdate struct {
	Request    UpdateRequest
	SelfUpdate bool
	policy     Policy

	eff Effectors

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newAppUpdate(params []string, eff Effectors) (*AppUpdate, error) {
	if err := wantParams(KindAppUpdate, params, 7); err != nil {
		return nil, err
	}
	req := UpdateRequest{
		Bucket:         strings.TrimSpace(params[0]),
		ObjectKey:      strings.TrimSpace(params[1]),
		DestinationDir: strings.TrimSpace(params[2]),
		FileName:       strings.TrimSpace(params[3]),
	}
	if req.Bucket == "" {
		return nil, invalidParam("bucket", params[0])
	}
	if req.ObjectKey == "" {
		return nil, invalidParam("object_key", params[1])
	}
	if req.DestinationDir == "" {
		return nil, invalidParam("destination_dir", params[2])
	}
	if req.FileName == "" || strings.ContainsAny(req.FileName, `/\`) {
		return nil, invalidParam("file_name", params[3])
	}
	self := strings.TrimSpace(params[4]) == "true"
	timeout, err := parseMillis("timeout_ms", params[5])
	if err != nil {
		return nil, err
	}
	req.TimeoutMillis = timeout.Milliseconds()
	ign, err := ParseIgnition(params[6])
	if err != nil {
		return nil, err
	}

	if self {
		if eff.Downloader == nil {
			return nil, fmt.Errorf("%w: downloader", ErrNoEffector)
		}
		if eff.Installer == nil {
			return nil, fmt.Errorf("%w: installer", ErrNoEffector)
		}
	} else if eff.Broadcaster == nil {
		return nil, fmt.Errorf("%w: broadcaster", ErrNoEffector)
	}
	if eff.RestartDelay <= 0 {
		eff.RestartDelay = DefaultRestartDelay
	}
	return &AppUpdate{
		Request:    req,
		SelfUpdate: self,
		policy:     Policy{Ignition: ign, RequireNetwork: true, Timeout: timeout},
		eff:        eff,
	}, nil
}

func (u *AppUpdate) Kind() string { return KindAppUpdate }

func (u *AppUpdate) Policy() Policy { return u.policy }

// Path is where the artifact lands on the device.
func (u *AppUpdate) Path() string {
	return filepath.Join(u.Request.DestinationDir, u.Request.FileName)
}

func (u *AppUpdate) Execute(ctx context.Context, finish FinishFunc) {
	if !u.SelfUpdate {
		if err := u.eff.Broadcaster.BroadcastUpdate(ctx, u.Request); err != nil {
			finish(false, fmt.Sprintf("broadcast: %v", err))
			return
		}
		logs.Infof("command.AppUpdate.Execute broadcast key=%q", u.Request.ObjectKey)
		finish(true, "")
		return
	}

	dctx, cancel := context.WithCancel(ctx)
	u.mu.Lock()
	u.cancel = cancel
	u.mu.Unlock()
	defer cancel()

	path := u.Path()
	if _, err := os.Stat(path); err == nil {
		logs.Infof("command.AppUpdate.Execute artifact present path=%q", path)
	} else if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(u.Request.DestinationDir, 0o755); err != nil {
			finish(false, fmt.Sprintf("prepare: %v", err))
			return
		}
		logs.Infof("command.AppUpdate.Execute downloading bucket=%q key=%q path=%q", u.Request.Bucket, u.Request.ObjectKey, path)
		if err := u.eff.Downloader.Download(dctx, u.Request.Bucket, u.Request.ObjectKey, path); err != nil {
			finish(false, fmt.Sprintf("download: %v", err))
			return
		}
	} else {
		finish(false, fmt.Sprintf("stat: %v", err))
		return
	}

	if err := u.eff.Installer.Install(dctx, path); err != nil {
		finish(false, fmt.Sprintf("install: %v", err))
		return
	}
	finish(true, "")
	if u.eff.Restarter != nil {
		u.eff.Restarter.ScheduleRestart(u.eff.RestartDelay)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logs.Warnf("command.AppUpdate.Execute remove path=%q err=%v", path, err)
	}
}

// HandleTimeout cancels an in-flight download or install.
func (u *AppUpdate) HandleTimeout() {
	u.mu.Lock()
	cancel := u.cancel
	u.mu.Unlock()
	if cancel != nil {
		logs.Warnf("command.AppUpdate.HandleTimeout canceling key=%q", u.Request.ObjectKey)
		cancel()
	}
}
