// SPDX-License-Identifier: MPL-2.0

package refresh

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/varkeep/varkeep/internal/metrics"
	"github.com/varkeep/varkeep/internal/registry"
)

// Request flags. Flags of requests merged into one pending run are OR-ed.
// Every run scans the packages that have no scan results yet; flags only
// add cleanup work after the scan.
const (
	// CleanInvalid moves invalid archives, invalid names and duplicates to
	// the quarantine root.
	CleanInvalid Flags = 1 << iota
	// RemoveOldVersions moves packages superseded by a newer enabled version
	// and not depended upon to the quarantine root.
	RemoveOldVersions
)

const (
	defaultProgressEvery  = 50
	progressChannelBuffer = 64
)

type (
	// Flags select optional refresh work.
	Flags uint8

	// Options configures a Coordinator.
	Options struct {
		// Registry is kept in step with the roots. Required.
		Registry *registry.Registry
		// Roots are enumerated in order; an archive in an earlier root wins a
		// UID collision with a later one.
		Roots []string
		// QuarantineRoot receives archives moved by CleanInvalid and
		// RemoveOldVersions. It is never enumerated.
		QuarantineRoot string
		// Workers bounds concurrent scans. Defaults to GOMAXPROCS.
		Workers int
		// ProgressEvery emits a Progress event every N scanned packages.
		ProgressEvery int
		Metrics       *metrics.Collectors
		Logger        *log.Logger
	}

	// Progress reports scan progress of one run.
	Progress struct {
		Run   int
		Done  int
		Total int
	}

	// Summary describes one finished refresh.
	Summary struct {
		Run      int
		Flags    Flags
		Started  time.Time
		Duration time.Duration

		// Found counts archives seen on disk.
		Found int
		// Packages counts registered packages after the run.
		Packages    int
		Added       int
		Removed     int
		Changed     int
		Scanned     int
		Invalid     int
		Quarantined int
		Diagnostics []Diagnostic
	}

	// Coordinator serializes refreshes. At most one runs at a time; requests
	// made meanwhile collapse into one follow-up run. All methods are safe for
	// concurrent use.
	Coordinator struct {
		reg        *registry.Registry
		roots      []string
		quarantine string
		workers    int
		every      int
		metrics    *metrics.Collectors
		logger     *log.Logger
		progress   chan Progress

		ctx    context.Context
		cancel context.CancelFunc

		mu         sync.Mutex
		running    bool
		hasPending bool
		pending    Flags
		idle       chan struct{}
		runs       int
		last       Summary
		closed     bool
		subs       map[int]func(Summary)
		nextSub    int

		// beforeRun runs on the loop goroutine at the start of every run.
		beforeRun func(run int)
	}
)

// String lists the set flags.
func (f Flags) String() string {
	var parts []string
	for _, x := range []struct {
		flag Flags
		name string
	}{{CleanInvalid, "clean-invalid"}, {RemoveOldVersions, "remove-old-versions"}} {
		if f&x.flag != 0 {
			parts = append(parts, x.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// String renders the completion line.
func (s Summary) String() string {
	return fmt.Sprintf("refresh completed with %d invalid", s.Invalid)
}

// New creates an idle Coordinator.
func New(opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = defaultProgressEvery
	}

	roots := make([]string, 0, len(opts.Roots))
	for _, r := range opts.Roots {
		if r != "" {
			roots = append(roots, filepath.Clean(r))
		}
	}
	quarantine := ""
	if opts.QuarantineRoot != "" {
		quarantine = filepath.Clean(opts.QuarantineRoot)
	}

	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Coordinator{
		reg:        opts.Registry,
		roots:      roots,
		quarantine: quarantine,
		workers:    opts.Workers,
		every:      opts.ProgressEvery,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		progress:   make(chan Progress, progressChannelBuffer),
		ctx:        ctx,
		cancel:     cancel,
		idle:       idle,
		subs:       make(map[int]func(Summary)),
	}
}

// Request starts a refresh with flags, or merges flags into the pending
// follow-up when one is already running. It never blocks on the refresh.
func (c *Coordinator) Request(flags Flags) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.running {
		c.pending |= flags
		c.hasPending = true
		return
	}
	c.running = true
	c.idle = make(chan struct{})
	go c.loop(flags)
}

func (c *Coordinator) loop(flags Flags) {
	for {
		c.mu.Lock()
		c.runs++
		run := c.runs
		c.mu.Unlock()

		sum := c.run(run, flags)

		c.mu.Lock()
		c.last = sum
		subs := make([]func(Summary), 0, len(c.subs))
		for _, fn := range c.subs {
			subs = append(subs, fn)
		}
		c.mu.Unlock()
		for _, fn := range subs {
			fn(sum)
		}

		c.mu.Lock()
		if !c.hasPending || c.closed {
			c.running = false
			c.hasPending = false
			c.pending = 0
			close(c.idle)
			c.mu.Unlock()
			return
		}
		flags = c.pending
		c.pending = 0
		c.hasPending = false
		c.mu.Unlock()
	}
}

// WaitIdle blocks until no refresh is running or pending, or ctx is done.
func (c *Coordinator) WaitIdle(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether a refresh is in flight.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Runs returns how many refreshes have started.
func (c *Coordinator) Runs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

// Last returns the summary of the most recent finished refresh.
func (c *Coordinator) Last() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Progress returns the bounded progress channel. Events are dropped while
// it is full.
func (c *Coordinator) Progress() <-chan Progress { return c.progress }

// Subscribe registers fn to receive every finished Summary on the refresh
// goroutine. fn must not wait for the coordinator to become idle. The
// returned function unsubscribes.
func (c *Coordinator) Subscribe(fn func(Summary)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Close cancels pending work, lets the in-flight archive scans finish, and
// waits for the coordinator to go idle.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	return c.WaitIdle(context.Background())
}

func (c *Coordinator) run(run int, flags Flags) Summary {
	if c.beforeRun != nil {
		c.beforeRun(run)
	}
	sum := Summary{Run: run, Flags: flags, Started: time.Now()}
	c.logger.Debug("refresh started", "run", run, "flags", flags)

	files, diags := enumerate(c.ctx, c.roots, c.quarantine)
	sum.Found = len(files)
	sum.Diagnostics = append(sum.Diagnostics, diags...)

	c.diff(files, &sum)
	for _, p := range c.reg.Packages() {
		p.RefreshDisabled()
	}

	c.scan(run, &sum)
	if flags&(CleanInvalid|RemoveOldVersions) != 0 {
		c.quarantineAll(flags, &sum)
	}
	c.collectDiagnostics(&sum)

	sum.Duration = time.Since(sum.Started)
	c.metrics.RefreshDone(sum.Duration, sum.Packages, sum.Invalid)
	c.logger.Info(sum.String(),
		"run", run,
		"packages", sum.Packages,
		"added", sum.Added,
		"removed", sum.Removed,
		"changed", sum.Changed,
		"scanned", sum.Scanned,
		"duration", sum.Duration.Round(time.Millisecond),
	)
	return sum
}

// diff applies the on-disk listing to the registry: vanished paths are
// unregistered, changed archives re-registered, and new archives added.
func (c *Coordinator) diff(files []found, sum *Summary) {
	onDisk := make(map[string]found, len(files))
	for _, f := range files {
		onDisk[f.path] = f
	}

	for _, path := range c.reg.Paths() {
		if _, ok := onDisk[path]; ok {
			continue
		}
		if p := c.reg.UnregisterPath(path); p != nil {
			sum.Removed++
			c.logger.Debug("package removed", "uid", p.UID(), "path", path)
		}
	}

	rejected := make(map[string]registry.Rejection)
	for _, rej := range c.reg.Rejections() {
		if _, ok := onDisk[rej.Path]; !ok {
			c.reg.ForgetRejection(rej.Path)
			continue
		}
		rejected[rej.Path] = rej
	}

	for _, f := range files {
		if p := c.reg.Package(f.path); p != nil {
			if p.Path() != f.path || (p.Size() == f.size && p.ModTime().Equal(f.modTime)) {
				continue
			}
			paths := append([]string{p.Path()}, p.Aliases()...)
			c.reg.Unregister(p)
			sum.Changed++
			c.logger.Debug("package changed on disk", "uid", p.UID(), "path", f.path)
			for _, path := range paths {
				c.register(path, sum)
			}
			continue
		}

		// A rejected name stays rejected until the file is renamed. A
		// duplicate gets another chance once its rival is gone.
		if rej, ok := rejected[f.path]; ok {
			if rej.Reason != registry.ReasonDuplicated || c.reg.Package(string(rej.UID)) != nil {
				continue
			}
		}
		if c.register(f.path, sum) {
			sum.Added++
		}
	}
}

func (c *Coordinator) register(path string, sum *Summary) bool {
	_, err := c.reg.Register(path)
	if err == nil {
		return true
	}
	if !registry.IsRegistrationError(err) {
		sum.Diagnostics = append(sum.Diagnostics, Diagnostic{
			Severity: SeverityError,
			Code:     CodeRegisterFailed,
			Message:  fmt.Sprintf("could not register %s", path),
			Path:     path,
			Cause:    err,
		})
	}
	return false
}

// scan inspects every unscanned package on the worker pool. In-flight scans
// finish even when the coordinator is closed; queued ones are dropped.
func (c *Coordinator) scan(run int, sum *Summary) {
	var todo []*registry.Package
	for _, p := range c.reg.Packages() {
		if !p.Scanned() {
			todo = append(todo, p)
		}
	}
	total := len(todo)
	if total == 0 {
		return
	}

	var (
		done atomic.Int64
		mu   sync.Mutex
		g    errgroup.Group
	)
	g.SetLimit(c.workers)
	for _, p := range todo {
		if c.ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := c.reg.EnsureScanned(p); err != nil {
				mu.Lock()
				sum.Diagnostics = append(sum.Diagnostics, Diagnostic{
					Severity: SeverityWarning,
					Code:     CodeScanFailed,
					Message:  fmt.Sprintf("could not scan %s", p.UID()),
					Path:     p.Path(),
					Cause:    err,
				})
				mu.Unlock()
			}
			n := int(done.Add(1))
			if n%c.every == 0 || n == total {
				c.emit(Progress{Run: run, Done: n, Total: total})
			}
			return nil
		})
	}
	_ = g.Wait() // workers report through diagnostics
	sum.Scanned = int(done.Load())
}

func (c *Coordinator) emit(p Progress) {
	select {
	case c.progress <- p:
	default:
	}
}

// collectDiagnostics reports rejected archives, invalid packages, and
// unresolved dependencies.
func (c *Coordinator) collectDiagnostics(sum *Summary) {
	for _, rej := range c.reg.Rejections() {
		code := CodeInvalidName
		if rej.Reason == registry.ReasonDuplicated {
			code = CodeDuplicate
		}
		sum.Diagnostics = append(sum.Diagnostics, Diagnostic{
			Severity: SeverityWarning,
			Code:     code,
			Message:  rej.Err.Error(),
			Path:     rej.Path,
			Cause:    rej.Err,
		})
	}

	pkgs := c.reg.Packages()
	sum.Packages = len(pkgs)
	for _, p := range pkgs {
		if !p.Invalid() {
			continue
		}
		sum.Invalid++
		sum.Diagnostics = append(sum.Diagnostics, Diagnostic{
			Severity: SeverityWarning,
			Code:     CodeInvalidArchive,
			Message:  fmt.Sprintf("package %s is not a readable archive", p.UID()),
			Path:     p.Path(),
		})
	}

	for _, m := range c.reg.MissingDependencies() {
		sum.Diagnostics = append(sum.Diagnostics, Diagnostic{
			Severity: SeverityInfo,
			Code:     CodeMissingDependency,
			Message:  fmt.Sprintf("%s is required by %d package(s) but not available", m.Ref, len(m.RequiredBy)),
		})
	}
}
