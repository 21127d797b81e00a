// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"io"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/varkeep/varkeep/internal/cachefile"
	"github.com/varkeep/varkeep/pkg/varpkg"
)

type (
	// FileEntry is one indexed file inside a package archive. It is a view
	// over the package descriptor at a fixed index.
	FileEntry struct {
		pkg   *Package
		index int
	}

	// entryRef is what the global entry maps hold, so lookups do not force
	// FileEntry materialization for every package.
	entryRef struct {
		pkg   *Package
		index int
	}
)

// Package returns the owning package.
func (e *FileEntry) Package() *Package { return e.pkg }

// Name returns the internal path with forward slashes.
func (e *FileEntry) Name() string {
	e.pkg.mu.RLock()
	defer e.pkg.mu.RUnlock()
	return e.pkg.desc.names[e.index]
}

// Size returns the uncompressed size.
func (e *FileEntry) Size() int64 {
	e.pkg.mu.RLock()
	defer e.pkg.mu.RUnlock()
	return e.pkg.desc.sizes[e.index]
}

// ModTime returns the entry modification time.
func (e *FileEntry) ModTime() time.Time {
	e.pkg.mu.RLock()
	defer e.pkg.mu.RUnlock()
	return cachefile.FromTicks(e.pkg.desc.modTimes[e.index])
}

// Tags returns the classification tags of clothing and hair items.
func (e *FileEntry) Tags() []string {
	e.pkg.mu.RLock()
	defer e.pkg.mu.RUnlock()
	return slices.Clone(e.pkg.desc.tags[e.index])
}

// Address returns "<uid>:/<name>".
func (e *FileEntry) Address() string {
	return varpkg.EntryKey(string(e.pkg.uid), e.Name())
}

// PathAddress returns "<archive path>:/<name>".
func (e *FileEntry) PathAddress() string {
	return varpkg.EntryKey(filepath.ToSlash(e.pkg.Path()), e.Name())
}

// Open opens the entry for reading through the package's cached archive handle.
func (e *FileEntry) Open() (io.ReadCloser, error) {
	a, err := e.pkg.openArchive()
	if err != nil {
		return nil, err
	}
	return a.Open(e.Name())
}

// entryKey builds the case-insensitive key of the global entry maps.
func entryKey(pkg, name string) string {
	return strings.ToLower(varpkg.EntryKey(pkg, name))
}

// pathKey normalizes an archive path for the entry-by-path map.
func pathKey(p string) string {
	return filepath.ToSlash(filepath.Clean(p))
}
