// SPDX-License-Identifier: MPL-2.0

// Package watch monitors the package trees and fires a debounced callback
// when archives or their disabled markers change.
//
// Events within the debounce window are coalesced so the callback fires
// once with the full set of changed paths.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// defaultDebounce is the quiet period before OnChange fires. Copying a large
// archive produces a burst of write events that should count as one change.
const defaultDebounce = 750 * time.Millisecond

var (
	// defaultPatterns select package archives and their disabled markers.
	defaultPatterns = []string{
		"**/*.[vV][aA][rR]",
		"**/*.[vV][aA][rR].disabled",
	}

	// defaultIgnores are never reported: in-flight install copies and editor
	// or OS noise.
	defaultIgnores = []string{
		"**/*.installing",
		"**/*.tmp",
		"**/.DS_Store",
		"**/*~",
	}
)

type (
	// Config holds the parameters for a Watcher.
	Config struct {
		// Roots are the directories to watch recursively. Missing roots are
		// skipped with a warning.
		Roots []string

		// Patterns are doublestar globs, relative to the containing root,
		// that select which files trigger callbacks. Empty means archives and
		// disabled markers.
		Patterns []string

		// Ignore are extra doublestar globs merged with the built-in ignores.
		// A directory matching "<pattern>/" is not descended into.
		Ignore []string

		// Debounce is the quiet period after the last event before OnChange
		// fires. Zero or negative values fall back to defaultDebounce.
		Debounce time.Duration

		// OnChange receives the deduplicated absolute paths that changed. A
		// nil callback is a no-op.
		OnChange func(ctx context.Context, changed []string) error

		Logger *log.Logger
	}

	// Watcher monitors the roots and fires a debounced callback when matching
	// files change. Run must be called exactly once.
	Watcher struct {
		cfg      Config
		fsw      *fsnotify.Watcher
		roots    []string
		patterns []string
		ignores  []string
		debounce time.Duration
		logger   *log.Logger
		started  atomic.Bool

		// dirs holds every directory added to fsw, so removing a directory
		// full of archives still counts as a change.
		dirsMu sync.Mutex
		dirs   map[string]bool
	}
)

// New creates a Watcher and registers every non-ignored directory below
// each root.
func New(cfg Config) (*Watcher, error) {
	if len(cfg.Roots) == 0 {
		return nil, errors.New("watch: no roots configured")
	}
	if err := validatePatterns(cfg.Patterns, "watch"); err != nil {
		return nil, err
	}
	if err := validatePatterns(cfg.Ignore, "ignore"); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	roots := make([]string, 0, len(cfg.Roots))
	for _, root := range cfg.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("watch: resolve root %q: %w", root, err)
		}
		if !slices.Contains(roots, abs) {
			roots = append(roots, abs)
		}
	}

	patterns := cfg.Patterns
	if len(patterns) == 0 {
		patterns = defaultPatterns
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		roots:    roots,
		patterns: patterns,
		ignores:  append(slices.Clone(defaultIgnores), cfg.Ignore...),
		debounce: debounce,
		logger:   logger,
		dirs:     make(map[string]bool),
	}

	for _, root := range roots {
		if err := w.addTree(root, root); err != nil {
			if closeErr := fsw.Close(); closeErr != nil {
				logger.Warn("close after init failure", "error", closeErr)
			}
			return nil, err
		}
	}
	return w, nil
}

// Roots returns the absolute watched roots.
func (w *Watcher) Roots() []string { return slices.Clone(w.roots) }

// Run blocks until ctx is cancelled, dispatching debounced callbacks. It
// returns nil on cancellation and an error when the watcher breaks.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("watch: Run called more than once")
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]struct{})
		timer   *time.Timer
		running atomic.Bool
	)

	// fire may run after cancellation because it is scheduled by
	// time.AfterFunc. Overlapping invocations are skipped and retried.
	fire := func() {
		if ctx.Err() != nil {
			return
		}
		if !running.CompareAndSwap(false, true) {
			w.logger.Debug("previous change still being handled, retrying")
			mu.Lock()
			if timer != nil {
				timer.Reset(w.debounce)
			}
			mu.Unlock()
			return
		}
		defer running.Store(false)

		mu.Lock()
		if len(pending) == 0 {
			mu.Unlock()
			return
		}
		changed := slices.Sorted(maps.Keys(pending))
		clear(pending)
		mu.Unlock()

		if w.cfg.OnChange != nil {
			if err := w.cfg.OnChange(ctx, changed); err != nil {
				w.logger.Error("change handler failed", "error", err)
			}
		}
	}

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		if err := w.fsw.Close(); err != nil {
			w.logger.Warn("close fsnotify", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: fsnotify event channel closed unexpectedly")
			}
			if evt.Has(fsnotify.Create) {
				w.maybeAddDir(evt.Name)
			}
			removedDir := evt.Has(fsnotify.Remove|fsnotify.Rename) && w.forgetDir(evt.Name)
			if !removedDir && !w.relevant(evt.Name) {
				continue
			}

			mu.Lock()
			pending[evt.Name] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: fsnotify error channel closed unexpectedly")
			}
			if isFatalFsnotifyError(err) {
				return fmt.Errorf("watch: fatal fsnotify error: %w", err)
			}
			w.logger.Warn("fsnotify error", "error", err)
		}
	}
}

// addTree registers start and every non-ignored directory below it. Ignore
// patterns are matched relative to root. Symlinked directories are not
// followed; the refresh walk reports their content.
func (w *Watcher) addTree(root, start string) error {
	info, err := os.Stat(start)
	if err != nil || !info.IsDir() {
		w.logger.Warn("watch root unavailable", "root", start, "error", err)
		return nil
	}

	conf := fastwalk.Config{Follow: false}
	walkErr := fastwalk.Walk(&conf, start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("skipping inaccessible path", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.ignoredDir(root, path) {
			return fs.SkipDir
		}
		if addErr := w.fsw.Add(path); addErr != nil {
			return fmt.Errorf("watch: add directory %q: %w", path, addErr)
		}
		w.dirsMu.Lock()
		w.dirs[path] = true
		w.dirsMu.Unlock()
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("watch: walk %s: %w", start, walkErr)
	}
	return nil
}

// forgetDir drops path and everything below it from the watched directory
// set and reports whether path itself was watched.
func (w *Watcher) forgetDir(path string) bool {
	w.dirsMu.Lock()
	defer w.dirsMu.Unlock()
	if !w.dirs[path] {
		return false
	}
	prefix := path + string(filepath.Separator)
	for dir := range w.dirs {
		if dir == path || strings.HasPrefix(dir, prefix) {
			delete(w.dirs, dir)
		}
	}
	return true
}

// maybeAddDir starts watching a directory created after startup.
func (w *Watcher) maybeAddDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	root, ok := w.rootOf(path)
	if !ok || w.ignoredDir(root, path) {
		return
	}
	if err := w.addTree(root, path); err != nil {
		w.logger.Warn("add new directory", "path", path, "error", err)
	}
}

// rootOf returns the watched root containing path.
func (w *Watcher) rootOf(path string) (string, bool) {
	for _, root := range w.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return root, true
		}
	}
	return "", false
}

func (w *Watcher) rel(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func (w *Watcher) ignoredDir(root, path string) bool {
	rel := w.rel(root, path)
	return matchAny(w.ignores, rel) || matchAny(w.ignores, rel+"/")
}

// relevant reports whether an event path matches a watch pattern and no
// ignore pattern.
func (w *Watcher) relevant(path string) bool {
	root, ok := w.rootOf(path)
	if !ok {
		return false
	}
	rel := w.rel(root, path)
	return !matchAny(w.ignores, rel) && matchAny(w.patterns, rel)
}

func matchAny(patterns []string, rel string) bool {
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// validatePatterns checks that every pattern is a valid doublestar glob.
func validatePatterns(patterns []string, label string) error {
	for _, pat := range patterns {
		if pat == "" {
			return fmt.Errorf("watch: empty %s pattern", label)
		}
		if !doublestar.ValidatePattern(pat) {
			return fmt.Errorf("watch: invalid %s pattern %q: %w", label, pat, doublestar.ErrBadPattern)
		}
	}
	return nil
}

// DefaultPatterns returns a copy of the built-in watch patterns.
func DefaultPatterns() []string { return slices.Clone(defaultPatterns) }

// DefaultIgnores returns a copy of the built-in ignore patterns.
func DefaultIgnores() []string { return slices.Clone(defaultIgnores) }
