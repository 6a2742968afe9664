package kitstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDevWatcher_EmitsReloadOnKitYamlWrite(t *testing.T) {
	base := t.TempDir()
	kitDir := filepath.Join(base, "acme", "greeter", "1.0.0")
	if err := os.MkdirAll(kitDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	manifestPath := filepath.Join(kitDir, "kit.yaml")
	if err := os.WriteFile(manifestPath, []byte("id: greeter\n"), 0o644); err != nil {
		t.Fatalf("seed kit.yaml: %v", err)
	}

	watcher, err := NewDevWatcher(base)
	if err != nil {
		t.Fatalf("NewDevWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := watcher.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer watcher.Stop()

	if err := os.WriteFile(manifestPath, []byte("id: greeter\nversion: 1.0.1\n"), 0o644); err != nil {
		t.Fatalf("rewrite kit.yaml: %v", err)
	}

	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("events channel closed before an event arrived")
		}
		if ev.Owner != "acme" || ev.KitID != "greeter" || ev.Version != "1.0.0" {
			t.Fatalf("unexpected reload event: %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload event")
	}
}

func TestDevWatcher_IgnoresNonManifestFiles(t *testing.T) {
	base := t.TempDir()
	kitDir := filepath.Join(base, "acme", "greeter", "1.0.0", "actions")
	if err := os.MkdirAll(kitDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	watcher, err := NewDevWatcher(base)
	if err != nil {
		t.Fatalf("NewDevWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := watcher.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer watcher.Stop()

	actionPath := filepath.Join(kitDir, "greet.py")
	if err := os.WriteFile(actionPath, []byte("def greet():\n    pass\n"), 0o644); err != nil {
		t.Fatalf("write action file: %v", err)
	}

	select {
	case ev, ok := <-events:
		if ok {
			t.Fatalf("unexpected reload event for non-manifest write: %+v", ev)
		}
	case <-time.After(300 * time.Millisecond):
	}
}
