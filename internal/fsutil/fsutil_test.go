// SPDX-License-Identifier: MPL-2.0

package fsutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/varkeep/varkeep/internal/testutil"
)

func TestCopyFilePreservesModTime(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.var")
	dst := filepath.Join(dir, "dst.var")
	testutil.MustWriteFile(t, src, []byte("payload"))
	stamp := time.Date(2023, 5, 6, 7, 8, 9, 0, time.UTC)
	testutil.MustChtimes(t, src, stamp)

	if err := CopyFile(src, dst); err != nil {
		t.Fatalf("CopyFile() error = %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("copied body = %q, want payload", data)
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if !info.ModTime().Equal(stamp) {
		t.Errorf("ModTime() = %v, want %v", info.ModTime(), stamp)
	}
}

func TestCopyFileMissingSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dst := filepath.Join(dir, "dst.var")
	if err := CopyFile(filepath.Join(dir, "nope.var"), dst); err == nil {
		t.Fatal("CopyFile() error = nil, want error")
	}
	if Exists(dst) {
		t.Error("CopyFile() left a destination behind")
	}
}

func TestMove(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "a", "x.var")
	dst := filepath.Join(dir, "b", "nested", "x.var")
	testutil.MustMkdirAll(t, filepath.Dir(src))
	testutil.MustWriteFile(t, src, []byte("x"))

	if err := Move(src, dst); err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	if Exists(src) || !Exists(dst) {
		t.Errorf("Move() src exists = %v, dst exists = %v", Exists(src), Exists(dst))
	}
}

func TestUniquePath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	base := filepath.Join(dir, "A.B.1.var")
	if got := UniquePath(base); got != base {
		t.Errorf("UniquePath(free) = %s, want %s", got, base)
	}

	testutil.MustWriteFile(t, base, nil)
	testutil.MustWriteFile(t, filepath.Join(dir, "A.B.1.1.var"), nil)
	if got, want := UniquePath(base), filepath.Join(dir, "A.B.1.2.var"); got != want {
		t.Errorf("UniquePath(taken) = %s, want %s", got, want)
	}
}

func TestIsDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	testutil.MustWriteFile(t, file, nil)

	tests := []struct {
		path string
		want bool
	}{
		{dir, true},
		{file, false},
		{filepath.Join(dir, "missing"), false},
	}
	for _, tt := range tests {
		if got := IsDir(tt.path); got != tt.want {
			t.Errorf("IsDir(%s) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
