// Package events turns files dropped into a spool directory into device
// events.
package events

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/danmuck/healthmon/internal/health"
	logs "github.com/danmuck/healthmon/internal/logging"
)

// Spool file names, up to the first '.', and the events they raise.
var names = map[string]health.EventType{
	"boot":               health.EventBootTimestampChanged,
	"network":            health.EventNetworkStatusChanged,
	"power_connected":    health.EventIgnitionOn,
	"power_disconnected": health.EventIgnitionOff,
	"sim":                health.EventSIMCardRemoved,
	"media_mounted":      health.EventSDCardInserted,
	"media_unmounted":    health.EventSDCardRemoved,
}

// Parse maps a spool file name to its event.
func Parse(name string) (health.EventType, bool) {
	base := filepath.Base(name)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	e, ok := names[strings.ToLower(base)]
	return e, ok
}

// Handler handles one event. An error leaves the spool file in place for
// the next pass.
type Handler func(ctx context.Context, e health.EventType) error

const DefaultFallbackPoll = 30 * time.Second

// Watcher drains Dir whenever a file appears in it. Producers should
// create files elsewhere and rename them in.
type Watcher struct {
	Dir          string
	Handle       Handler
	FallbackPoll time.Duration
}

// Run drains files already present, then watches until ctx ends. If the
// directory cannot be watched it falls back to polling.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("events: spool dir %s: %w", w.Dir, err)
	}
	poll := w.FallbackPoll
	if poll <= 0 {
		poll = DefaultFallbackPoll
	}
	w.Drain(ctx)

	var (
		evs  <-chan fsnotify.Event
		errs <-chan error
	)
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err = watcher.Add(w.Dir); err != nil {
			_ = watcher.Close()
		}
	}
	if err != nil {
		logs.Warnf("events.Watcher.Run watch dir=%q err=%v, polling every %s", w.Dir, err, poll)
	} else {
		defer func() { _ = watcher.Close() }()
		evs, errs = watcher.Events, watcher.Errors
		logs.Infof("events.Watcher.Run watching dir=%q", w.Dir)
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-evs:
			if !ok {
				evs = nil
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				w.Drain(ctx)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logs.Warnf("events.Watcher.Run err=%v", err)
		case <-ticker.C:
			w.Drain(ctx)
		}
	}
}

// Drain handles every spool file, oldest first, and reports how many were
// handled.
func (w *Watcher) Drain(ctx context.Context) int {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		logs.Warnf("events.Watcher.Drain dir=%q err=%v", w.Dir, err)
		return 0
	}
	type spooled struct {
		name string
		mod  time.Time
	}
	files := make([]spooled, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, spooled{name: e.Name(), mod: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		if !files[i].mod.Equal(files[j].mod) {
			return files[i].mod.Before(files[j].mod)
		}
		return files[i].name < files[j].name
	})

	handled := 0
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		path := filepath.Join(w.Dir, f.name)
		ev, ok := Parse(f.name)
		if !ok {
			logs.Warnf("events.Watcher.Drain unknown event file=%q", f.name)
			w.remove(path)
			continue
		}
		logs.Debugf("events.Watcher.Drain event=%s file=%q", ev, f.name)
		if err := w.Handle(ctx, ev); err != nil {
			logs.Errf("events.Watcher.Drain event=%s err=%v", ev, err)
			continue
		}
		w.remove(path)
		handled++
	}
	return handled
}

func (w *Watcher) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logs.Warnf("events.Watcher remove path=%q err=%v", path, err)
	}
}
