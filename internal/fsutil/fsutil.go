// SPDX-License-Identifier: MPL-2.0

// Package fsutil holds the file moves shared by installation and quarantine.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// InstallingSuffix marks the temporary copy of an install in flight.
const InstallingSuffix = ".installing"

// CopyFile copies src to dst, fsyncs dst, and carries over the permission
// bits and modification time of src so cache fingerprints survive the copy.
// dst is truncated if it exists. A partially written dst is removed on error.
func CopyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer func() { _ = in.Close() }() // read-only handle

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	if err = out.Sync(); err != nil {
		_ = out.Close()
		return fmt.Errorf("syncing %s: %w", dst, err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", dst, err)
	}
	if err = os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("preserving mtime of %s: %w", dst, err)
	}
	return nil
}

// Move renames src to dst, falling back to copy and remove when a rename is
// not possible (for example across filesystems). Parent directories of dst
// are created as needed.
func Move(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dst), err)
	}
	renameErr := os.Rename(src, dst)
	if renameErr == nil {
		return nil
	}
	if _, err := os.Lstat(src); err != nil {
		return renameErr
	}
	if err := CopyFile(src, dst); err != nil {
		return errors.Join(renameErr, err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("removing %s after copy: %w", src, err)
	}
	return nil
}

// UniquePath returns path if nothing exists there, otherwise the first free
// "<stem>.<n><ext>" for n = 1, 2, ...
func UniquePath(path string) string {
	if _, err := os.Lstat(path); errors.Is(err, os.ErrNotExist) {
		return path
	}
	ext := filepath.Ext(path)
	stem := path[:len(path)-len(ext)]
	for n := 1; ; n++ {
		candidate := stem + "." + strconv.Itoa(n) + ext
		if _, err := os.Lstat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
	}
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Exists reports whether anything exists at path, without following a
// final symlink.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
