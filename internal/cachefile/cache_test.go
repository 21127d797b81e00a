// SPDX-License-Identifier: MPL-2.0

package cachefile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/varkeep/varkeep/pkg/varpkg"
)

func testLogger() *log.Logger { return log.New(io.Discard) }

func sampleRecords(n int) map[varpkg.UID]Record {
	out := make(map[varpkg.UID]Record, n)
	for i := range n {
		rec := Record{
			ArchiveSize:    int64(1000 + i),
			ArchiveModTime: Ticks(time.Date(2024, 3, 1, 12, 0, i, 0, time.UTC)),
		}
		switch i % 3 {
		case 0:
			// all lists empty
			rec.Invalid = true
		case 1:
			rec.EntryNames = []string{"meta.json", "Custom/Hair/Bob/bun.vam"}
			rec.EntryModTimes = []int64{1, 2}
			rec.EntrySizes = []int64{120, 4096}
			rec.Dependencies = []string{"Alice.Base.latest", "Carol.Skin.min3"}
			rec.HairNames = []string{"Custom/Hair/Bob/bun.vam"}
			rec.HairTags = []string{"long,blonde"}
		case 2:
			rec.EntryNames = []string{"Custom/Clothing/Bob/hat.vam", "日本語/名前.jpg"}
			rec.EntryModTimes = []int64{-5, 0}
			rec.EntrySizes = []int64{0, 1 << 40}
			rec.ClothingNames = []string{"Custom/Clothing/Bob/hat.vam"}
			rec.ClothingTags = []string{"head"}
		}
		out[varpkg.UID(fmt.Sprintf("Bob.Pkg%d.%d", i, i+1))] = rec
	}
	return out
}

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), FileName)
	want := sampleRecords(12)

	c := New(path, testLogger())
	for uid, rec := range want {
		c.Put(uid, rec)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if c.Dirty() {
		t.Error("cache still dirty after Flush()")
	}

	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	loaded := New(path, testLogger())
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Len() != len(want) {
		t.Fatalf("Len() = %d, want %d", loaded.Len(), len(want))
	}
	for uid, rec := range want {
		got, ok := loaded.Get(uid, rec.ArchiveSize, rec.ArchiveModTime)
		if !ok {
			t.Fatalf("Get(%s) miss after reload", uid)
		}
		if !reflect.DeepEqual(got, rec) {
			t.Errorf("Get(%s) = %+v, want %+v", uid, got, rec)
		}
	}

	if second := encode(loaded.records); !bytes.Equal(first, second) {
		t.Error("re-encoding the reloaded cache produced different bytes")
	}
}

func TestCacheFingerprintMismatch(t *testing.T) {
	t.Parallel()

	c := New(filepath.Join(t.TempDir(), FileName), testLogger())
	c.Put("A.B.1", Record{ArchiveSize: 10, ArchiveModTime: 20})

	tests := []struct {
		name  string
		size  int64
		ticks int64
		hit   bool
	}{
		{name: "exact", size: 10, ticks: 20, hit: true},
		{name: "size changed", size: 11, ticks: 20},
		{name: "mtime changed", size: 10, ticks: 21},
	}
	for _, tt := range tests {
		if _, ok := c.Get("A.B.1", tt.size, tt.ticks); ok != tt.hit {
			t.Errorf("%s: Get() hit = %v, want %v", tt.name, ok, tt.hit)
		}
	}
	if _, ok := c.Get("A.B.2", 10, 20); ok {
		t.Error("Get() hit for unknown UID")
	}
}

func TestCacheFlushSkippedWhenClean(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), FileName)
	c := New(path, testLogger())
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("clean Flush() wrote %s (stat error = %v)", path, err)
	}

	c.Put("A.B.1", Record{ArchiveSize: 1})
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	after, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if after.ModTime().After(past.Add(time.Minute)) {
		t.Error("second Flush() rewrote an unchanged cache")
	}
	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temp file left behind (stat error = %v)", err)
	}
}

func TestCacheLegacyLayoutNeverValidates(t *testing.T) {
	t.Parallel()

	var w writer
	w.u32(1)
	w.str("Old.Pkg.1")
	w.strs([]string{"meta.json"})
	w.i64s([]int64{5})
	w.i64s([]int64{42})
	w.strs([]string{"Dep.A.1"})
	for range 4 {
		w.strs(nil)
	}

	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, w.buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	c := New(path, testLogger())
	if err := c.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
	if _, ok := c.Get("Old.Pkg.1", 42, 5); ok {
		t.Error("legacy record validated")
	}
	if !c.Dirty() {
		t.Error("legacy cache should be dirty so it is rewritten")
	}

	if err := c.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if r := (reader{data: data}); r.u32() != Magic {
		t.Error("flushed cache does not start with the magic header")
	}
}

func TestCacheDamagedFileStartsEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), FileName)
	var w writer
	w.u32(Magic)
	w.u32(FormatVersion)
	w.u32(3)
	w.str("Half.Written.1")
	if err := os.WriteFile(path, w.buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	c := New(path, testLogger())
	err := c.Load()
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("Load() error = %v, want ErrTruncated", err)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

// Swaps os.Stderr, so it must not run in parallel.
func TestCacheNilLoggerIsSilent(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("not a cache"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe() error = %v", err)
	}
	stderr := os.Stderr
	os.Stderr = w
	c := New(path, nil)
	os.Stderr = stderr

	loadErr := c.Load()
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if loadErr == nil {
		t.Fatal("Load() error = nil, want damaged cache error")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
	if len(out) != 0 {
		t.Errorf("stderr = %q, want nothing", out)
	}
}

func TestCacheUnsupportedVersion(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), FileName)
	var w writer
	w.u32(Magic)
	w.u32(FormatVersion + 1)
	w.u32(0)
	if err := os.WriteFile(path, w.buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	var verr *UnsupportedVersionError
	if err := New(path, testLogger()).Load(); !errors.As(err, &verr) {
		t.Fatalf("Load() error = %v, want *UnsupportedVersionError", err)
	}
}

func TestCacheFlushFailureKeepsState(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	// A directory at the target makes the rename fail.
	if err := os.MkdirAll(filepath.Join(path, "occupied"), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	c := New(path, testLogger())
	c.Put("A.B.1", Record{ArchiveSize: 1, ArchiveModTime: 2})
	if err := c.Flush(); err == nil {
		t.Fatal("Flush() expected error")
	}
	if !c.Dirty() {
		t.Error("failed Flush() cleared dirty flag")
	}
	if _, ok := c.Get("A.B.1", 1, 2); !ok {
		t.Error("in-memory record lost after failed Flush()")
	}
}

func TestCachePrune(t *testing.T) {
	t.Parallel()

	c := New(filepath.Join(t.TempDir(), FileName), testLogger())
	c.Put("A.B.1", Record{})
	c.Put("A.B.2", Record{})
	c.Put("C.D.1", Record{})

	removed := c.Prune(func(uid varpkg.UID) bool { return uid.ShortName() == "A.B" })
	if removed != 1 || c.Len() != 2 {
		t.Errorf("Prune() removed %d, Len() = %d; want 1 and 2", removed, c.Len())
	}
}

func TestTicksRoundTrip(t *testing.T) {
	t.Parallel()

	ts := time.Date(2023, 11, 5, 8, 30, 15, 123456700, time.UTC)
	if got := FromTicks(Ticks(ts)); !got.Equal(ts) {
		t.Errorf("FromTicks(Ticks(%v)) = %v", ts, got)
	}
	if got := Ticks(time.Unix(0, 0)); got != unixEpochTicks {
		t.Errorf("Ticks(epoch) = %d, want %d", got, unixEpochTicks)
	}
}
