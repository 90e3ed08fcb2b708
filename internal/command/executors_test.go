package command

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/healthmon/internal/testutil/testlog"
)

type rebootFunc func() error

func (f rebootFunc) Reboot() error { return f() }

type fakeEffects struct {
	mu          sync.Mutex
	downloads   []string
	installs    []string
	restarts    []time.Duration
	broadcasts  []UpdateRequest
	blockFetch  bool
	installErr  error
	downloadErr error
}

func (f *fakeEffects) Download(ctx context.Context, bucket, key, dest string) error {
	f.mu.Lock()
	f.downloads = append(f.downloads, bucket+"/"+key)
	block, derr := f.blockFetch, f.downloadErr
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if derr != nil {
		return derr
	}
	return os.WriteFile(dest, []byte("artifact"), 0o644)
}

func (f *fakeEffects) Install(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installs = append(f.installs, path)
	return f.installErr
}

func (f *fakeEffects) ScheduleRestart(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts = append(f.restarts, d)
}

func (f *fakeEffects) BroadcastUpdate(_ context.Context, u UpdateRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, u)
	return nil
}

func (f *fakeEffects) effectors() Effectors {
	return Effectors{
		Rebooter:    rebootFunc(func() error { return nil }),
		Downloader:  f,
		Installer:   f,
		Restarter:   f,
		Broadcaster: f,
	}
}

type finishResult struct {
	ok  bool
	msg string
}

func runExecutor(t *testing.T, ex Executor) finishResult {
	t.Helper()
	ch := make(chan finishResult, 2)
	ex.Execute(context.Background(), func(ok bool, msg string) { ch <- finishResult{ok, msg} })
	select {
	case r := <-ch:
		return r
	default:
		t.Fatalf("execute returned without finishing")
		return finishResult{}
	}
}

func TestParseIgnition(t *testing.T) {
	testlog.Start(t)
	cases := map[string]Ignition{"0": IgnitionOff, "1": IgnitionOn, " 2 ": IgnitionEither}
	for in, want := range cases {
		got, err := ParseIgnition(in)
		if err != nil || got != want {
			t.Fatalf("ParseIgnition(%q)=%v err=%v", in, got, err)
		}
	}
	for _, in := range []string{"", "3", "-1", "on"} {
		if _, err := ParseIgnition(in); !errors.Is(err, ErrInvalidParameters) {
			t.Fatalf("ParseIgnition(%q) expected invalid, got %v", in, err)
		}
	}
}

func TestPolicySatisfied(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		p        Policy
		ign, net bool
		want     bool
	}{
		{Policy{Ignition: IgnitionOn}, false, true, false},
		{Policy{Ignition: IgnitionOn}, true, false, true},
		{Policy{Ignition: IgnitionOff}, true, true, false},
		{Policy{Ignition: IgnitionOff}, false, false, true},
		{Policy{Ignition: IgnitionEither}, true, false, true},
		{Policy{Ignition: IgnitionEither, RequireNetwork: true}, true, false, false},
		{Policy{Ignition: IgnitionEither, RequireNetwork: true}, false, true, true},
	}
	for i, tc := range cases {
		if got := tc.p.Satisfied(tc.ign, tc.net); got != tc.want {
			t.Fatalf("case %d: got %t want %t", i, got, tc.want)
		}
	}
}

func TestRebootWaitsDelayThenReboots(t *testing.T) {
	testlog.Start(t)
	rebooted := make(chan struct{}, 1)
	cat := Catalog{Effectors: Effectors{Rebooter: rebootFunc(func() error {
		rebooted <- struct{}{}
		return nil
	})}}
	ex, err := cat.Build(NewRecord(KindReboot, []string{"20", "1"}, time.Now()))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if p := ex.Policy(); p.Ignition != IgnitionOn || p.RequireNetwork || p.Timeout != 0 {
		t.Fatalf("unexpected policy: %+v", p)
	}
	start := time.Now()
	res := runExecutor(t, ex)
	if !res.ok {
		t.Fatalf("expected success, got %+v", res)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatalf("reboot did not wait for its delay")
	}
	select {
	case <-rebooted:
	default:
		t.Fatalf("expected reboot after finish")
	}
}

func TestAppUpdateParameters(t *testing.T) {
	testlog.Start(t)
	fx := &fakeEffects{}
	cat := Catalog{Effectors: fx.effectors()}
	good := []string{"bucket", "apps/agent.bin", "/tmp/x", "agent.bin", "true", "60000", "2"}
	ex, err := cat.Build(NewRecord(KindAppUpdate, good, time.Now()))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	p := ex.Policy()
	if !p.RequireNetwork || p.Timeout != time.Minute || p.Ignition != IgnitionEither {
		t.Fatalf("unexpected policy: %+v", p)
	}

	bad := [][]string{
		good[:6],
		{"", "k", "/tmp", "f", "true", "1", "0"},
		{"b", "k", "/tmp", "../f", "true", "1", "0"},
		{"b", "k", "/tmp", "f", "true", "soon", "0"},
		{"b", "k", "/tmp", "f", "true", "1", "9"},
	}
	for _, params := range bad {
		if _, err := cat.Build(NewRecord(KindAppUpdate, params, time.Now())); !errors.Is(err, ErrInvalidParameters) {
			t.Fatalf("params %q: expected invalid, got %v", params, err)
		}
	}
}

func TestSelfUpdateDownloadsInstallsAndCleansUp(t *testing.T) {
	testlog.Start(t)
	dir := filepath.Join(t.TempDir(), "updates")
	fx := &fakeEffects{}
	cat := Catalog{Effectors: fx.effectors()}
	ex, err := cat.Build(NewRecord(KindAppUpdate, []string{"b", "k", dir, "agent.bin", "true", "0", "2"}, time.Now()))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if res := runExecutor(t, ex); !res.ok {
		t.Fatalf("expected success, got %+v", res)
	}
	path := filepath.Join(dir, "agent.bin")
	if len(fx.downloads) != 1 || len(fx.installs) != 1 || fx.installs[0] != path {
		t.Fatalf("downloads=%v installs=%v", fx.downloads, fx.installs)
	}
	if len(fx.restarts) != 1 || fx.restarts[0] != DefaultRestartDelay {
		t.Fatalf("unexpected restarts: %v", fx.restarts)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("artifact must be removed after install, stat err=%v", err)
	}
}

func TestSelfUpdateSkipsDownloadWhenPresent(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "agent.bin"), []byte("cached"), 0o644); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}
	fx := &fakeEffects{}
	ex, err := Catalog{Effectors: fx.effectors()}.Build(NewRecord(KindAppUpdate, []string{"b", "k", dir, "agent.bin", "true", "0", "2"}, time.Now()))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if res := runExecutor(t, ex); !res.ok {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(fx.downloads) != 0 || len(fx.installs) != 1 {
		t.Fatalf("downloads=%v installs=%v", fx.downloads, fx.installs)
	}
}

func TestSelfUpdateInstallFailureReportsReason(t *testing.T) {
	testlog.Start(t)
	fx := &fakeEffects{installErr: errors.New("exit status 1")}
	ex, err := Catalog{Effectors: fx.effectors()}.Build(NewRecord(KindAppUpdate, []string{"b", "k", t.TempDir(), "agent.bin", "true", "0", "2"}, time.Now()))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	res := runExecutor(t, ex)
	if res.ok || res.msg != "install: exit status 1" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(fx.restarts) != 0 {
		t.Fatalf("failed install must not schedule a restart")
	}
}

func TestUpdateForOtherComponentIsBroadcast(t *testing.T) {
	testlog.Start(t)
	fx := &fakeEffects{}
	ex, err := Catalog{Effectors: fx.effectors()}.Build(NewRecord(KindAppUpdate, []string{"b", "k", "/data/app", "other.bin", "false", "5000", "0"}, time.Now()))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if res := runExecutor(t, ex); !res.ok {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(fx.broadcasts) != 1 || fx.broadcasts[0].FileName != "other.bin" || fx.broadcasts[0].TimeoutMillis != 5000 {
		t.Fatalf("unexpected broadcasts: %+v", fx.broadcasts)
	}
	if len(fx.downloads) != 0 {
		t.Fatalf("broadcast path must not download")
	}
}

func TestAppUpdateTimeoutCancelsDownload(t *testing.T) {
	testlog.Start(t)
	fx := &fakeEffects{blockFetch: true}
	store := newMemStore()
	cond := &conditions{}
	cond.online.Store(true)
	eng := NewEngine(store, cond, Catalog{Effectors: fx.effectors()}, EngineConfig{PollInterval: 10 * time.Millisecond})
	r := NewRecord(KindAppUpdate, []string{"b", "k", t.TempDir(), "agent.bin", "true", "40", "2"}, time.Now())
	if err := store.Save(context.Background(), &r); err != nil {
		t.Fatalf("save: %v", err)
	}

	o, ok, err := eng.RunOnce(context.Background())
	if err != nil || !ok {
		t.Fatalf("run once ok=%t err=%v", ok, err)
	}
	if o.State != StateTimedOut || o.Message != TimeoutMessage {
		t.Fatalf("unexpected outcome: %+v", o)
	}
	got, ok := store.get(r.ID)
	if !ok || got.Retries != 1 {
		t.Fatalf("timed out update must be kept for retry: %+v ok=%t", got, ok)
	}
	if len(fx.installs) != 0 {
		t.Fatalf("canceled download must not install")
	}
}
