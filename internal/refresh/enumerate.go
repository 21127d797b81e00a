// SPDX-License-Identifier: MPL-2.0

package refresh

import (
	"cmp"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"

	"github.com/varkeep/varkeep/internal/fsutil"
	"github.com/varkeep/varkeep/pkg/varpkg"
)

type (
	// found is one archive seen on disk.
	found struct {
		path    string
		size    int64
		modTime time.Time
	}

	// visitedSet records directory identities so symlink cycles are walked
	// once.
	visitedSet struct {
		mu    sync.Mutex
		ids   map[fileID]bool
		infos []os.FileInfo
	}

	// enumerator walks the roots of one refresh.
	enumerator struct {
		quarantine string
		visited    visitedSet

		mu    sync.Mutex
		files []found
		queue []string
		diags []Diagnostic
	}
)

// add records info and reports whether it was new.
func (v *visitedSet) add(info os.FileInfo) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if id, ok := identify(info); ok {
		if v.ids == nil {
			v.ids = make(map[fileID]bool)
		}
		if v.ids[id] {
			return false
		}
		v.ids[id] = true
		return true
	}
	for _, seen := range v.infos {
		if os.SameFile(seen, info) {
			return false
		}
	}
	v.infos = append(v.infos, info)
	return true
}

// enumerate lists every archive under roots, in root order and sorted by
// path within a root. Symlinked directories are followed once each; the
// quarantine subtree and in-flight install copies are skipped.
func enumerate(ctx context.Context, roots []string, quarantine string) ([]found, []Diagnostic) {
	e := &enumerator{}
	if quarantine != "" {
		e.quarantine = filepath.Clean(quarantine)
	}

	var out []found
	for _, root := range roots {
		if ctx.Err() != nil {
			break
		}
		root = filepath.Clean(root)
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			e.diags = append(e.diags, Diagnostic{
				Severity: SeverityWarning,
				Code:     CodeRootMissing,
				Message:  fmt.Sprintf("package root %s is not a directory", root),
				Path:     root,
				Cause:    err,
			})
			continue
		}
		e.visited.add(info)

		e.files = e.files[:0]
		e.queue = append(e.queue[:0], root)
		for len(e.queue) > 0 && ctx.Err() == nil {
			dir := e.queue[0]
			e.queue = e.queue[1:]
			e.walk(ctx, dir)
		}
		slices.SortFunc(e.files, func(a, b found) int { return cmp.Compare(a.path, b.path) })
		out = append(out, e.files...)
	}
	return out, e.diags
}

// walk lists dir without following symlinks. A symlinked dir is walked at
// its target and reported under the link path.
func (e *enumerator) walk(ctx context.Context, dir string) {
	real := dir
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		real = resolved
	}
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, real, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if real != dir {
			path = dir + strings.TrimPrefix(path, real)
		}
		if err != nil {
			e.diag(Diagnostic{Severity: SeverityWarning, Code: CodeWalkFailed, Message: fmt.Sprintf("cannot read %s", path), Path: path, Cause: err})
			return nil
		}

		switch {
		case d.IsDir():
			if path == dir {
				return nil
			}
			if e.inQuarantine(path) {
				return fs.SkipDir
			}
			if info, err := d.Info(); err == nil {
				e.visited.add(info)
			}
			return nil

		case d.Type()&fs.ModeSymlink != 0:
			info, err := os.Stat(path)
			if err != nil {
				e.diag(Diagnostic{Severity: SeverityWarning, Code: CodeWalkFailed, Message: fmt.Sprintf("dangling symlink %s", path), Path: path, Cause: err})
				return nil
			}
			if info.IsDir() {
				if e.inQuarantine(path) {
					return nil
				}
				if !e.visited.add(info) {
					e.diag(Diagnostic{Severity: SeverityInfo, Code: CodeSymlinkLoop, Message: fmt.Sprintf("directory %s already walked", path), Path: path})
					return nil
				}
				e.mu.Lock()
				e.queue = append(e.queue, path)
				e.mu.Unlock()
				return nil
			}
			e.consider(path, info)
			return nil

		case d.Type().IsRegular():
			name := d.Name()
			if strings.HasSuffix(name, fsutil.InstallingSuffix) {
				e.diag(Diagnostic{Severity: SeverityWarning, Code: CodeStaleInstalling, Message: fmt.Sprintf("interrupted install copy %s", path), Path: path})
				return nil
			}
			if !isArchive(name) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil //nolint:nilerr // vanished between readdir and stat
			}
			e.consider(path, info)
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		e.diag(Diagnostic{Severity: SeverityError, Code: CodeWalkFailed, Message: fmt.Sprintf("walk %s failed", dir), Path: dir, Cause: err})
	}
}

func (e *enumerator) consider(path string, info os.FileInfo) {
	if !info.Mode().IsRegular() || !isArchive(path) {
		return
	}
	e.mu.Lock()
	e.files = append(e.files, found{path: path, size: info.Size(), modTime: info.ModTime()})
	e.mu.Unlock()
}

func (e *enumerator) diag(d Diagnostic) {
	e.mu.Lock()
	e.diags = append(e.diags, d)
	e.mu.Unlock()
}

func (e *enumerator) inQuarantine(path string) bool {
	if e.quarantine == "" {
		return false
	}
	return path == e.quarantine || strings.HasPrefix(path, e.quarantine+string(filepath.Separator))
}

func isArchive(name string) bool {
	return strings.EqualFold(filepath.Ext(name), varpkg.ArchiveExt)
}
