package effector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	logs "github.com/danmuck/healthmon/internal/logging"
)

var ErrNoCommand = errors.New("effector: command not configured")

// ExecInstaller installs an artifact by running Command with the artifact
// path appended.
type ExecInstaller struct {
	Runner  Runner
	Command []string
}

func (i ExecInstaller) Install(ctx context.Context, path string) error {
	if len(i.Command) == 0 {
		return fmt.Errorf("%w: install", ErrNoCommand)
	}
	args := append(append([]string(nil), i.Command[1:]...), path)
	_, stderr, code, err := i.runner().Run(ctx, i.Command[0], args...)
	if err != nil {
		return fmt.Errorf("effector: install %s exit=%d: %w: %s", path, code, err, strings.TrimSpace(string(stderr)))
	}
	logs.Infof("effector.ExecInstaller.Install path=%q", path)
	return nil
}

func (i ExecInstaller) runner() Runner {
	if i.Runner == nil {
		return ExecRunner{}
	}
	return i.Runner
}

// RestartScheduler runs Command once after a delay. A newer schedule
// replaces a pending one.
type RestartScheduler struct {
	Runner  Runner
	Command []string

	mu    sync.Mutex
	timer *time.Timer
}

func (s *RestartScheduler) ScheduleRestart(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	logs.Infof("effector.RestartScheduler.ScheduleRestart delay=%s", delay)
	s.timer = time.AfterFunc(delay, s.restart)
}

// Stop cancels a pending restart and reports whether one was pending.
func (s *RestartScheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil {
		return false
	}
	stopped := s.timer.Stop()
	s.timer = nil
	return stopped
}

func (s *RestartScheduler) restart() {
	s.mu.Lock()
	s.timer = nil
	s.mu.Unlock()
	if len(s.Command) == 0 {
		logs.Warnf("effector.RestartScheduler restart command not configured")
		return
	}
	r := s.Runner
	if r == nil {
		r = ExecRunner{}
	}
	_, stderr, code, err := r.Run(context.Background(), s.Command[0], s.Command[1:]...)
	if err != nil {
		logs.Errf("effector.RestartScheduler restart exit=%d err=%v stderr=%q", code, err, strings.TrimSpace(string(stderr)))
		return
	}
	logs.Infof("effector.RestartScheduler restart issued")
}
