// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"
)

// collector gathers OnChange batches.
type collector struct {
	mu      sync.Mutex
	batches [][]string
	signal  chan struct{}
}

func newCollector() *collector {
	return &collector{signal: make(chan struct{}, 16)}
}

func (c *collector) onChange(_ context.Context, changed []string) error {
	c.mu.Lock()
	c.batches = append(c.batches, changed)
	c.mu.Unlock()
	c.signal <- struct{}{}
	return nil
}

func (c *collector) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.signal:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
}

func (c *collector) snapshot() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.batches)
}

func startWatcher(t *testing.T, cfg Config) {
	t.Helper()
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-errCh; err != nil {
			t.Errorf("Run() error = %v", err)
		}
	})
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestWatcherDebounce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c := newCollector()
	startWatcher(t, Config{Roots: []string{dir}, Debounce: 100 * time.Millisecond, OnChange: c.onChange})

	names := []string{"A.One.1.var", "A.Two.1.var", "A.Two.1.var.disabled", "notes.txt"}
	for _, name := range names {
		writeFile(t, filepath.Join(dir, name))
		time.Sleep(10 * time.Millisecond)
	}
	c.wait(t)
	time.Sleep(250 * time.Millisecond)

	batches := c.snapshot()
	if len(batches) != 1 {
		t.Fatalf("got %d callbacks, want 1: %v", len(batches), batches)
	}
	for _, name := range names[:3] {
		if !slices.Contains(batches[0], filepath.Join(dir, name)) {
			t.Errorf("changed = %v, missing %s", batches[0], name)
		}
	}
	if slices.Contains(batches[0], filepath.Join(dir, "notes.txt")) {
		t.Errorf("changed = %v, want notes.txt filtered out", batches[0])
	}
}

func TestWatcherMultipleRoots(t *testing.T) {
	t.Parallel()

	installed, repository := t.TempDir(), t.TempDir()
	c := newCollector()
	startWatcher(t, Config{Roots: []string{installed, repository}, Debounce: 50 * time.Millisecond, OnChange: c.onChange})

	writeFile(t, filepath.Join(repository, "B.Pkg.2.var"))
	c.wait(t)

	if got := c.snapshot()[0]; !slices.Equal(got, []string{filepath.Join(repository, "B.Pkg.2.var")}) {
		t.Errorf("changed = %v", got)
	}
}

func TestWatcherIgnoresInstallingCopies(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c := newCollector()
	startWatcher(t, Config{Roots: []string{dir}, Debounce: 50 * time.Millisecond, OnChange: c.onChange})

	writeFile(t, filepath.Join(dir, "C.Pkg.1.var.installing"))
	time.Sleep(200 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "C.Pkg.1.var"))
	c.wait(t)

	for _, batch := range c.snapshot() {
		for _, path := range batch {
			if filepath.Ext(path) == ".installing" {
				t.Errorf("changed contains in-flight copy %s", path)
			}
		}
	}
}

func TestWatcherNewSubdirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c := newCollector()
	startWatcher(t, Config{Roots: []string{dir}, Debounce: 50 * time.Millisecond, OnChange: c.onChange})

	sub := filepath.Join(dir, "creator")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	// Give the event loop time to register the directory.
	time.Sleep(200 * time.Millisecond)
	writeFile(t, filepath.Join(sub, "D.Pkg.1.var"))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-c.signal:
			for _, batch := range c.snapshot() {
				if slices.Contains(batch, filepath.Join(sub, "D.Pkg.1.var")) {
					return
				}
			}
		case <-deadline:
			t.Fatalf("no callback for archive in new directory, got %v", c.snapshot())
		}
	}
}

func TestWatcherIgnoredDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	quarantine := filepath.Join(dir, "quarantine")
	if err := os.Mkdir(quarantine, 0o755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	c := newCollector()
	startWatcher(t, Config{
		Roots:    []string{dir},
		Ignore:   []string{"quarantine/**"},
		Debounce: 50 * time.Millisecond,
		OnChange: c.onChange,
	})

	writeFile(t, filepath.Join(quarantine, "E.Pkg.1.var"))
	time.Sleep(300 * time.Millisecond)
	if got := c.snapshot(); len(got) != 0 {
		t.Errorf("callbacks for ignored directory: %v", got)
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no roots", Config{}},
		{"invalid watch pattern", Config{Roots: []string{dir}, Patterns: []string{"[unclosed"}}},
		{"invalid ignore pattern", Config{Roots: []string{dir}, Ignore: []string{"{a,b"}}},
		{"empty pattern", Config{Roots: []string{dir}, Patterns: []string{""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func TestWatcherDoubleRunError(t *testing.T) {
	t.Parallel()

	w, err := New(Config{Roots: []string{t.TempDir()}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	if err := w.Run(ctx); err == nil {
		t.Error("second Run() error = nil, want error")
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestRelevant(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w, err := New(Config{Roots: []string{root}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = w.fsw.Close() })

	tests := []struct {
		path string
		want bool
	}{
		{filepath.Join(root, "A.B.1.var"), true},
		{filepath.Join(root, "deep", "er", "A.B.1.VAR"), true},
		{filepath.Join(root, "A.B.1.var.disabled"), true},
		{filepath.Join(root, "A.B.1.var.installing"), false},
		{filepath.Join(root, "varcache.bin.tmp"), false},
		{filepath.Join(root, "readme.txt"), false},
		{filepath.Join(filepath.Dir(root), "elsewhere.var"), false},
	}
	for _, tt := range tests {
		if got := w.relevant(tt.path); got != tt.want {
			t.Errorf("relevant(%s) = %v, want %v", tt.path, got, tt.want)
		}
	}

	if got := DefaultPatterns(); len(got) != 2 {
		t.Errorf("DefaultPatterns() = %v", got)
	}
	if got := DefaultIgnores(); !slices.Contains(got, "**/*.installing") {
		t.Errorf("DefaultIgnores() = %v", got)
	}
}
