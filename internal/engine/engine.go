// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/varkeep/varkeep/internal/cachefile"
	"github.com/varkeep/varkeep/internal/config"
	"github.com/varkeep/varkeep/internal/install"
	"github.com/varkeep/varkeep/internal/issue"
	"github.com/varkeep/varkeep/internal/metrics"
	"github.com/varkeep/varkeep/internal/namecodec"
	"github.com/varkeep/varkeep/internal/refresh"
	"github.com/varkeep/varkeep/internal/registry"
	"github.com/varkeep/varkeep/internal/scanner"
	"github.com/varkeep/varkeep/internal/watch"
	"github.com/varkeep/varkeep/pkg/varpkg"
)

// ErrClosed is returned by operations on a closed Engine.
var ErrClosed = errors.New("engine closed")

type (
	// Engine owns one cache, registry, refresh coordinator, and install
	// manager built from a Config. It is safe for concurrent use.
	Engine struct {
		cfg       *config.Config
		logger    *log.Logger
		metrics   *metrics.Collectors
		cache     *cachefile.Cache
		detector  *namecodec.Detector
		scanner   *scanner.Scanner
		reg       *registry.Registry
		coord     *refresh.Coordinator
		installer *install.Manager

		unsubscribe func()
		closing     atomic.Bool
		closeOnce   sync.Once
		closeErr    error
	}

	// Stats is a point-in-time view of the engine counters.
	Stats struct {
		Packages     int
		Invalid      int
		Groups       int
		Rejected     int
		CacheRecords int
		CacheDirty   bool
		ArchiveOpens int64
		DecodePasses int64
		Refreshes    int
		Last         refresh.Summary
		Metrics      []metrics.Sample
	}
)

// New wires an Engine from cfg. It creates missing package roots, removes
// install copies left by an interrupted run, and loads the cache. No
// refresh is started; call Refresh.
func New(cfg *config.Config, logger *log.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine: nil config")
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}

	for _, root := range []string{cfg.InstalledRoot, cfg.RepositoryRoot} {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, issue.NewErrorContext().
				WithOperation("create package root").
				WithResource(root).
				WithSuggestion("Check installed_root and repository_root in your configuration").
				WithIssue(err).
				Wrap(err).
				BuildError()
		}
		removed, err := install.RecoverInterrupted(root)
		if err != nil {
			logger.Warn("stale install copies not fully removed", "root", root, "error", err)
		}
		for _, p := range removed {
			logger.Info("removed interrupted install copy", "path", p)
		}
	}

	m := metrics.New()

	cache := cachefile.New(filepath.Join(cfg.CacheDir, cachefile.FileName), logger.WithPrefix("cache"))
	if err := cache.Load(); err != nil {
		// Load already logged; the cache starts empty and is rebuilt.
		logger.Debug("continuing with empty cache", "error", err)
	}

	detector, err := namecodec.New(namecodec.Options{
		SystemCodepage:    cfg.Encoding.SystemCodepage,
		LegacyCodepage:    cfg.Encoding.LegacyCodepage,
		SampleSize:        cfg.Encoding.SampleSize,
		FastPathThreshold: cfg.Encoding.FastPathThreshold,
	}, logger.WithPrefix("namecodec"))
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("configure name encoding").
			WithResource(cfg.Encoding.LegacyCodepage).
			WithSuggestion("Use an IANA codepage name such as gbk, shift_jis, or windows-1252").
			Wrap(err).
			BuildError()
	}

	sc := scanner.New(scanner.Options{
		Cache:    cache,
		Detector: detector,
		Metrics:  m,
		Logger:   logger.WithPrefix("scanner"),
	})
	reg := registry.New(registry.Options{Scanner: sc, Logger: logger.WithPrefix("registry")})
	coord := refresh.New(refresh.Options{
		Registry:       reg,
		Roots:          []string{cfg.InstalledRoot, cfg.RepositoryRoot},
		QuarantineRoot: cfg.QuarantineRoot,
		Workers:        cfg.Scan.Workers,
		ProgressEvery:  cfg.Scan.ProgressEvery,
		Metrics:        m,
		Logger:         logger.WithPrefix("refresh"),
	})
	installer := install.New(install.Options{
		Registry:       reg,
		InstalledRoot:  cfg.InstalledRoot,
		RepositoryRoot: cfg.RepositoryRoot,
		Metrics:        m,
		Logger:         logger.WithPrefix("install"),
	})

	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		cache:     cache,
		detector:  detector,
		scanner:   sc,
		reg:       reg,
		coord:     coord,
		installer: installer,
	}
	e.unsubscribe = coord.Subscribe(e.afterRefresh)
	return e, nil
}

// afterRefresh drops cache records of packages that are gone and persists
// the cache.
func (e *Engine) afterRefresh(sum refresh.Summary) {
	if e.closing.Load() {
		return
	}
	pruned := e.cache.Prune(func(uid varpkg.UID) bool { return e.reg.Package(string(uid)) != nil })
	if pruned > 0 {
		e.logger.Debug("pruned cache records", "count", pruned)
	}
	_ = e.flush() // logged by the cache; retried after the next refresh
	e.logger.Info(sum.String(), "run", sum.Run, "packages", sum.Packages, "duration", sum.Duration)
}

func (e *Engine) flush() error {
	err := e.cache.Flush()
	e.metrics.CacheFlush(err)
	return err
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *config.Config { return e.cfg }

// Registry exposes the underlying registry.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// Metrics returns the engine collectors.
func (e *Engine) Metrics() *metrics.Collectors { return e.metrics }

// Refresh requests a refresh with flags. It returns at once; use WaitIdle
// or Subscribe to observe completion.
func (e *Engine) Refresh(flags refresh.Flags) error {
	if e.closing.Load() {
		return ErrClosed
	}
	e.coord.Request(flags)
	return nil
}

// RefreshAndWait requests a refresh and blocks until the coordinator is
// idle, returning the last summary.
func (e *Engine) RefreshAndWait(ctx context.Context, flags refresh.Flags) (refresh.Summary, error) {
	if err := e.Refresh(flags); err != nil {
		return refresh.Summary{}, err
	}
	if err := e.WaitIdle(ctx); err != nil {
		return refresh.Summary{}, err
	}
	return e.coord.Last(), nil
}

// WaitIdle blocks until no refresh is running or pending.
func (e *Engine) WaitIdle(ctx context.Context) error { return e.coord.WaitIdle(ctx) }

// Subscribe registers fn for every finished refresh.
func (e *Engine) Subscribe(fn func(refresh.Summary)) (unsubscribe func()) {
	return e.coord.Subscribe(fn)
}

// Progress returns the bounded progress channel of the coordinator.
func (e *Engine) Progress() <-chan refresh.Progress { return e.coord.Progress() }

// LastRefresh returns the summary of the most recent finished refresh.
func (e *Engine) LastRefresh() refresh.Summary { return e.coord.Last() }

// Resolve maps a reference to a package. lctx may be nil.
func (e *Engine) Resolve(ref string, lctx *registry.LoadContext) *registry.Package {
	return e.reg.Resolve(ref, lctx)
}

// Package looks up a package by UID or path.
func (e *Engine) Package(uidOrPath string) *registry.Package { return e.reg.Package(uidOrPath) }

// Packages returns every registered package.
func (e *Engine) Packages() []*registry.Package { return e.reg.Packages() }

// Groups returns every version group.
func (e *Engine) Groups() []*registry.Group { return e.reg.Groups() }

// FileEntry resolves an entry address.
func (e *Engine) FileEntry(address string, lctx *registry.LoadContext) (*registry.FileEntry, error) {
	return e.reg.FileEntry(address, lctx)
}

// OpenEntry resolves an entry address and opens it for reading.
func (e *Engine) OpenEntry(address string, lctx *registry.LoadContext) (io.ReadCloser, error) {
	return e.reg.OpenEntry(address, lctx)
}

// RecursiveDependencies returns the dependency closure of uid. A depth of
// zero uses resolve.dependency_depth from the configuration.
func (e *Engine) RecursiveDependencies(uid varpkg.UID, depth int) []*registry.Package {
	if depth == 0 {
		depth = e.cfg.Resolve.DependencyDepth
	}
	return e.reg.RecursiveDependencies(uid, depth)
}

// MissingDependencies lists references no registered package satisfies.
func (e *Engine) MissingDependencies() []registry.MissingDependency {
	return e.reg.MissingDependencies()
}

// CleanupCandidates lists archives a cleanup would quarantine.
func (e *Engine) CleanupCandidates() []registry.Candidate { return e.reg.CleanupCandidates() }

// Search ranks packages by fuzzy match against query.
func (e *Engine) Search(query string, limit int) []registry.Match { return e.reg.Search(query, limit) }

// IsInstalled reports whether p lives under the installed root.
func (e *Engine) IsInstalled(p *registry.Package) bool { return e.installer.IsInstalled(p) }

// Install moves p into the installed root and requests a refresh when it
// moved.
func (e *Engine) Install(p *registry.Package) (bool, error) {
	return e.afterMove(e.installer.Install(p))
}

// InstallRecursive installs p and its dependency closure.
func (e *Engine) InstallRecursive(p *registry.Package) (bool, error) {
	return e.afterMove(e.installer.InstallRecursive(p, nil))
}

// Uninstall moves p back into the repository root.
func (e *Engine) Uninstall(p *registry.Package) (bool, error) {
	return e.afterMove(e.installer.Uninstall(p))
}

func (e *Engine) afterMove(moved bool, err error) (bool, error) {
	if moved && !e.closing.Load() {
		e.coord.Request(0)
	}
	return moved, err
}

// Watch runs a filesystem watcher over both package roots until ctx is
// done, requesting a refresh after each debounced burst of changes.
func (e *Engine) Watch(ctx context.Context) error {
	w, err := watch.New(watch.Config{
		Roots:    []string{e.cfg.InstalledRoot, e.cfg.RepositoryRoot},
		Ignore:   e.watchIgnores(),
		Debounce: e.cfg.Refresh.Debounce,
		OnChange: func(_ context.Context, changed []string) error {
			e.logger.Debug("package trees changed", "paths", len(changed))
			return e.Refresh(0)
		},
		Logger: e.logger.WithPrefix("watch"),
	})
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	return w.Run(ctx)
}

// watchIgnores keeps a quarantine root nested in a package root out of the
// watch set.
func (e *Engine) watchIgnores() []string {
	q := e.cfg.QuarantineRoot
	if q == "" {
		return nil
	}
	var out []string
	for _, root := range []string{e.cfg.InstalledRoot, e.cfg.RepositoryRoot} {
		rel, err := filepath.Rel(root, q)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		rel = filepath.ToSlash(rel)
		out = append(out, rel, rel+"/**")
	}
	return out
}

// Stats gathers the current counters.
func (e *Engine) Stats() (Stats, error) {
	pkgs := e.reg.Packages()
	s := Stats{
		Packages:     len(pkgs),
		Groups:       len(e.reg.Groups()),
		Rejected:     len(e.reg.Rejections()),
		CacheRecords: e.cache.Len(),
		CacheDirty:   e.cache.Dirty(),
		ArchiveOpens: e.scanner.ArchiveOpens(),
		DecodePasses: e.detector.DecodePasses(),
		Refreshes:    e.coord.Runs(),
		Last:         e.coord.Last(),
	}
	for _, p := range pkgs {
		if p.Invalid() {
			s.Invalid++
		}
	}
	samples, err := e.metrics.Snapshot()
	if err != nil {
		return s, fmt.Errorf("gather metrics: %w", err)
	}
	s.Metrics = samples
	return s, nil
}

// Close stops the coordinator, flushes the cache, and closes every open
// archive handle. It is idempotent.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closing.Store(true)
		e.unsubscribe()
		var errs []error
		if err := e.coord.Close(); err != nil {
			errs = append(errs, fmt.Errorf("stop refresh: %w", err))
		}
		if err := e.flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush cache: %w", err))
		}
		if err := e.reg.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close registry: %w", err))
		}
		e.closeErr = errors.Join(errs...)
	})
	return e.closeErr
}
