package transport

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestFingerprintFileChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cert.pem")

	if err := os.WriteFile(path, []byte("version-1"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	fp1, err := FingerprintFile(path)
	if err != nil {
		t.Fatalf("FingerprintFile failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("version-2"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	fp2, err := FingerprintFile(path)
	if err != nil {
		t.Fatalf("FingerprintFile failed: %v", err)
	}

	if fp1 == fp2 {
		t.Fatal("expected the fingerprint to change alongside the file content")
	}
}

func TestReloadWatcherCallsBackOnContentChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "endpoint.conf")

	if err := os.WriteFile(path, []byte("version-1"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	var (
		mu       sync.Mutex
		gotOld   string
		gotNew   string
		callback int
	)

	w, err := NewReloadWatcher([]string{path}, func(ctx context.Context, changed, oldFP, newFP string) {
		mu.Lock()
		defer mu.Unlock()

		callback++
		gotOld = oldFP
		gotNew = newFP
	}, nil)
	if err != nil {
		t.Fatalf("NewReloadWatcher failed: %v", err)
	}
	defer w.Close()

	initialFP, err := FingerprintFile(path)
	if err != nil {
		t.Fatalf("FingerprintFile failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("version-2"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	deadline := time.After(2 * time.Second)

	for {
		mu.Lock()
		n := callback
		mu.Unlock()

		if n > 0 {
			break
		}

		select {
		case <-deadline:
			t.Fatal("onChanged was never called after the watched file's content changed")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()

	if gotOld != initialFP {
		t.Fatalf("got old fingerprint %q, want %q", gotOld, initialFP)
	}

	wantNew, err := FingerprintFile(path)
	if err != nil {
		t.Fatalf("FingerprintFile failed: %v", err)
	}

	if gotNew != wantNew {
		t.Fatalf("got new fingerprint %q, want %q", gotNew, wantNew)
	}
}

func TestReloadWatcherCloseStopsTheLoop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "endpoint.conf")

	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	w, err := NewReloadWatcher([]string{path}, func(context.Context, string, string, string) {}, nil)
	if err != nil {
		t.Fatalf("NewReloadWatcher failed: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}
