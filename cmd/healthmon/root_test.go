package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/healthmon/internal/health"
	"github.com/danmuck/healthmon/internal/store"
)

func TestRootListsSubcommands(t *testing.T) {
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs([]string{"--help"})
	if err := root.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, sub := range []string{"run", "queue"} {
		if !strings.Contains(buf.String(), sub) {
			t.Fatalf("expected %q in help output:\n%s", sub, buf.String())
		}
	}
}

func TestQueueReportsDepths(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "healthmon.toml")
	body := "device_id = 9\ndata_dir = \"" + filepath.ToSlash(dir) + "\"\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	db, err := store.Open(filepath.Join(dir, "healthmon.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	rec := health.Record{Timestamp: time.Now().UnixMilli(), EventType: health.EventIgnitionOn}
	if err := db.Health().Save(context.Background(), &rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	_ = db.Close()

	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs([]string{"queue", "--config", cfgPath, "--list"})
	if err := root.Execute(); err != nil {
		t.Fatalf("queue: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "health=1 commands=0") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, health.EventIgnitionOn.String()) {
		t.Fatalf("expected listed snapshot:\n%s", out)
	}
}
