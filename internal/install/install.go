// SPDX-License-Identifier: MPL-2.0

// Package install moves packages between the repository tree and the
// installed tree.
//
// A move copies the archive to "<target>.installing", fsyncs it, renames it
// into place, and only then deletes the source. A crash leaves either the
// untouched source, a stale temporary copy, or both archives; never a
// truncated archive under a package name.
package install

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/varkeep/varkeep/internal/fsutil"
	"github.com/varkeep/varkeep/internal/metrics"
	"github.com/varkeep/varkeep/internal/registry"
	"github.com/varkeep/varkeep/pkg/varpkg"
)

const (
	directionInstall   = "install"
	directionUninstall = "uninstall"
)

// ErrNilPackage is returned when a nil package is passed to a move.
var ErrNilPackage = errors.New("nil package")

type (
	// Options configures a Manager.
	Options struct {
		Registry       *registry.Registry
		InstalledRoot  string
		RepositoryRoot string
		Metrics        *metrics.Collectors
		Logger         *log.Logger
	}

	// Manager performs installs and uninstalls. Moves are serialized.
	Manager struct {
		reg        *registry.Registry
		installed  string
		repository string
		metrics    *metrics.Collectors
		logger     *log.Logger

		mu sync.Mutex

		// afterCopy runs once the temporary copy is synced and before it is
		// renamed into place.
		afterCopy func(tmp string) error
	}

	// moveError wraps a failed move with its operation and package.
	moveError struct {
		op  string
		uid varpkg.UID
		err error
	}
)

func (e *moveError) Error() string {
	return "failed to " + e.op + " " + string(e.uid) + ": " + e.err.Error()
}

func (e *moveError) Unwrap() error { return e.err }

// New creates a Manager.
func New(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return &Manager{
		reg:        opts.Registry,
		installed:  filepath.Clean(opts.InstalledRoot),
		repository: filepath.Clean(opts.RepositoryRoot),
		metrics:    opts.Metrics,
		logger:     opts.Logger,
	}
}

// IsInstalled reports whether p lives under the installed root.
func (m *Manager) IsInstalled(p *registry.Package) bool {
	return within(m.installed, p.Path())
}

// Install moves p into the installed tree, keeping its path relative to the
// repository root. It reports false without error when p is already
// installed or a directory occupies the target, and returns an
// *varpkg.InstallConflictError when a different file does.
func (m *Manager) Install(p *registry.Package) (bool, error) {
	if p == nil {
		return false, ErrNilPackage
	}
	if m.IsInstalled(p) {
		m.metrics.Move(directionInstall, metrics.MoveNoop)
		return false, nil
	}
	return m.move(directionInstall, p, m.repository, m.installed)
}

// Uninstall moves p back into the repository tree. It is the inverse of
// Install and refuses a destination occupied by a different file.
func (m *Manager) Uninstall(p *registry.Package) (bool, error) {
	if p == nil {
		return false, ErrNilPackage
	}
	if !m.IsInstalled(p) {
		m.metrics.Move(directionUninstall, metrics.MoveNoop)
		return false, nil
	}
	return m.move(directionUninstall, p, m.installed, m.repository)
}

// Target returns where p would land when moved from fromRoot to toRoot.
// Archives outside fromRoot land at the top of toRoot.
func Target(path, fromRoot, toRoot string) string {
	rel, err := filepath.Rel(fromRoot, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		rel = filepath.Base(path)
	}
	return filepath.Join(toRoot, rel)
}

func (m *Manager) move(direction string, p *registry.Package, fromRoot, toRoot string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	src := p.Path()
	dst := Target(src, fromRoot, toRoot)

	if info, err := os.Lstat(dst); err == nil {
		if info.IsDir() {
			m.logger.Warn("directory occupies move target", "uid", p.UID(), "target", dst)
			m.metrics.Move(direction, metrics.MoveNoop)
			return false, nil
		}
		m.metrics.Move(direction, metrics.MoveConflict)
		return false, &varpkg.InstallConflictError{UID: p.UID(), Target: dst}
	} else if !errors.Is(err, os.ErrNotExist) {
		m.metrics.Move(direction, metrics.MoveError)
		return false, &moveError{op: direction, uid: p.UID(), err: err}
	}

	if err := m.transfer(src, dst); err != nil {
		m.metrics.Move(direction, metrics.MoveError)
		return false, &moveError{op: direction, uid: p.UID(), err: err}
	}

	if marker := src + registry.DisabledSuffix; fsutil.Exists(marker) {
		if err := fsutil.Move(marker, dst+registry.DisabledSuffix); err != nil {
			m.logger.Warn("disabled marker left behind", "uid", p.UID(), "marker", marker, "error", err)
		}
	}

	if err := m.reg.Relocate(p, dst); err != nil {
		m.metrics.Move(direction, metrics.MoveError)
		return true, &moveError{op: direction, uid: p.UID(), err: err}
	}

	m.metrics.Move(direction, metrics.MoveMoved)
	m.logger.Info("package moved", "direction", direction, "uid", p.UID(), "from", src, "to", dst)
	return true, nil
}

// transfer copies src next to dst, renames the copy into place, and removes
// src. The source is deleted only after the rename succeeded.
func (m *Manager) transfer(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dst), err)
	}

	tmp := dst + fsutil.InstallingSuffix
	if err := fsutil.CopyFile(src, tmp); err != nil {
		return err
	}
	if m.afterCopy != nil {
		if err := m.afterCopy(tmp); err != nil {
			return err
		}
	}
	if err := os.Rename(tmp, dst); err != nil {
		return errors.Join(fmt.Errorf("renaming %s: %w", tmp, err), os.Remove(tmp))
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("removing source %s: %w", src, err)
	}
	return nil
}

func within(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}
