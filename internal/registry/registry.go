// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/varkeep/varkeep/internal/scanner"
	"github.com/varkeep/varkeep/pkg/varpkg"
)

type (
	// Options configures a Registry.
	Options struct {
		// Scanner inspects archives on first access. Required.
		Scanner *scanner.Scanner
		Logger  *log.Logger
	}

	// Registry indexes registered packages by UID, path, and group, and
	// every scanned entry by "<uid>:/<name>" and "<path>:/<name>".
	// All methods are safe for concurrent use.
	Registry struct {
		scanner *scanner.Scanner
		logger  *log.Logger

		mu            sync.RWMutex
		byUID         map[varpkg.UID]*Package
		byPath        map[string]*Package
		groups        map[varpkg.ShortName]*Group
		entriesByUID  map[string]entryRef
		entriesByPath map[string]entryRef
		// rejected holds archives left unregistered, keyed by path.
		rejected map[string]Rejection
	}

	// Rejection records why an archive on disk is not registered.
	Rejection struct {
		Path   string
		Reason Reason
		UID    varpkg.UID
		// Existing is the registered path a duplicate collides with.
		Existing string
		Err      error
	}
)

// New creates an empty Registry.
func New(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.Scanner == nil {
		opts.Scanner = scanner.New(scanner.Options{Logger: opts.Logger})
	}
	return &Registry{
		scanner:       opts.Scanner,
		logger:        opts.Logger,
		byUID:         make(map[varpkg.UID]*Package),
		byPath:        make(map[string]*Package),
		groups:        make(map[varpkg.ShortName]*Group),
		entriesByUID:  make(map[string]entryRef),
		entriesByPath: make(map[string]entryRef),
		rejected:      make(map[string]Rejection),
	}
}

// Scanner returns the scanner used for first-access scans.
func (r *Registry) Scanner() *scanner.Scanner { return r.scanner }

// Register adds the archive at path. A path already registered returns the
// existing package. A UID already registered from the same file (only
// checked through symlinks) adds path as an alias. Failures return a
// *varpkg.RegistrationError wrapping varpkg.ErrInvalidName or
// varpkg.ErrDuplicate, and the archive stays unregistered.
func (r *Registry) Register(path string) (*Package, error) {
	path = filepath.Clean(path)

	r.mu.RLock()
	if p, ok := r.byPath[path]; ok {
		r.mu.RUnlock()
		return p, nil
	}
	r.mu.RUnlock()

	id, err := varpkg.ParseFileName(path)
	if err != nil {
		rerr := &varpkg.RegistrationError{Path: path, Err: err}
		r.reject(Rejection{Path: path, Reason: ReasonInvalidName, Err: rerr})
		r.logger.Warn("invalid package name", "path", path, "error", err)
		return nil, rerr
	}
	if id.Relaxed {
		r.logger.Warn("relaxed version parse", "path", path, "uid", id.UID())
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// A concurrent Register of the same path may have won the race.
	if p, ok := r.byPath[path]; ok {
		return p, nil
	}

	uid := id.UID()
	if existing, ok := r.byUID[uid]; ok {
		existingPath := existing.Path()
		if sameFile(existingPath, path) {
			existing.mu.Lock()
			existing.aliases = append(existing.aliases, path)
			existing.mu.Unlock()
			r.byPath[path] = existing
			r.indexPathEntriesLocked(existing, path)
			delete(r.rejected, path)
			r.logger.Debug("registered alias", "uid", uid, "path", path, "primary", existingPath)
			return existing, nil
		}

		rerr := &varpkg.RegistrationError{Path: path, UID: uid, Existing: existingPath, Err: varpkg.ErrDuplicate}
		r.rejected[path] = Rejection{Path: path, Reason: ReasonDuplicated, UID: uid, Existing: existingPath, Err: rerr}
		r.logger.Warn("duplicate package", "uid", uid, "path", path, "existing", existingPath)
		return nil, rerr
	}

	p := newPackage(r, id, path, info)
	r.byUID[uid] = p
	r.byPath[path] = p
	g, ok := r.groups[p.ShortName()]
	if !ok {
		g = &Group{short: p.ShortName()}
		r.groups[p.ShortName()] = g
	}
	g.add(p)
	delete(r.rejected, path)
	return p, nil
}

func (r *Registry) reject(rej Rejection) {
	r.mu.Lock()
	r.rejected[rej.Path] = rej
	r.mu.Unlock()
}

// sameFile reports whether two registration paths name one file. Beyond
// path equality the platform identity is consulted only when either path
// traverses a symlink, so plain hardlinks are treated as distinct files.
func sameFile(existing, candidate string) bool {
	if existing == candidate {
		return true
	}
	if !throughLink(existing) && !throughLink(candidate) {
		return false
	}
	a, err := os.Stat(existing)
	if err != nil {
		return false
	}
	b, err := os.Stat(candidate)
	if err != nil {
		return false
	}
	return os.SameFile(a, b)
}

func throughLink(p string) bool {
	resolved, err := filepath.EvalSymlinks(p)
	return err == nil && filepath.Clean(resolved) != filepath.Clean(p)
}

// Unregister removes p from every index and closes its archive handle.
func (r *Registry) Unregister(p *Package) {
	paths := append([]string{p.Path()}, p.Aliases()...)
	r.mu.Lock()
	r.unregisterLocked(p)
	r.mu.Unlock()
	p.closeArchive()
	r.forget(paths...)
}

// forget drops per-path scanner state for archives no longer indexed.
func (r *Registry) forget(paths ...string) {
	for _, path := range paths {
		r.scanner.Forget(path)
	}
}

func (r *Registry) unregisterLocked(p *Package) {
	if r.byUID[p.uid] != p {
		return
	}
	delete(r.byUID, p.uid)
	for _, path := range append([]string{p.Path()}, p.Aliases()...) {
		if r.byPath[path] == p {
			delete(r.byPath, path)
		}
	}
	if g, ok := r.groups[p.ShortName()]; ok && g.remove(p) {
		delete(r.groups, p.ShortName())
	}
	r.unindexEntriesLocked(p)
}

// UnregisterPath forgets one path. When it is an alias only the alias is
// dropped; when it is the primary path of a package with aliases, the
// first alias becomes primary. It reports whether a whole package was
// removed.
func (r *Registry) UnregisterPath(path string) (removed *Package) {
	path = filepath.Clean(path)
	defer r.forget(path)

	r.mu.Lock()
	delete(r.rejected, path)
	p, ok := r.byPath[path]
	if !ok {
		r.mu.Unlock()
		return nil
	}

	p.mu.Lock()
	if p.path != path {
		p.aliases = slices.DeleteFunc(p.aliases, func(a string) bool { return a == path })
		p.mu.Unlock()
		delete(r.byPath, path)
		r.unindexPathEntriesLocked(p, path)
		r.mu.Unlock()
		return nil
	}
	if len(p.aliases) > 0 {
		p.path, p.aliases = p.aliases[0], p.aliases[1:]
		p.mu.Unlock()
		delete(r.byPath, path)
		r.unindexPathEntriesLocked(p, path)
		r.mu.Unlock()
		p.closeArchive()
		return nil
	}
	p.mu.Unlock()

	r.unregisterLocked(p)
	r.mu.Unlock()
	p.closeArchive()
	return p
}

// Relocate moves p to newPath after its archive was moved on disk. Aliases
// of the old location are dropped.
func (r *Registry) Relocate(p *Package, newPath string) error {
	newPath = filepath.Clean(newPath)
	info, err := os.Stat(newPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", newPath, err)
	}

	r.mu.Lock()
	if other, ok := r.byPath[newPath]; ok && other != p {
		r.mu.Unlock()
		return &varpkg.InstallConflictError{UID: p.uid, Target: newPath}
	}
	oldPaths := append([]string{p.Path()}, p.Aliases()...)
	for _, old := range oldPaths {
		if r.byPath[old] == p {
			delete(r.byPath, old)
		}
		r.unindexPathEntriesLocked(p, old)
	}
	p.mu.Lock()
	p.path, p.aliases = newPath, nil
	p.size, p.modTime = info.Size(), info.ModTime()
	p.mu.Unlock()
	r.byPath[newPath] = p
	r.indexPathEntriesLocked(p, newPath)
	r.mu.Unlock()

	p.closeArchive()
	p.RefreshDisabled()
	r.forget(oldPaths...)
	return nil
}

// EnsureScanned scans p unless it already has results. Concurrent calls for
// the same package wait for the first scan instead of starting another.
func (r *Registry) EnsureScanned(p *Package) error {
	if p.scanned.Load() {
		return nil
	}
	p.scanMu.Lock()
	defer p.scanMu.Unlock()
	if p.scanned.Load() {
		return nil
	}

	res, err := r.scanner.Scan(p.uid, p.Path())
	if err != nil {
		return err
	}
	p.adopt(res)

	r.mu.Lock()
	if r.byUID[p.uid] == p {
		r.indexEntriesLocked(p)
	}
	r.mu.Unlock()
	return nil
}

func (r *Registry) indexEntriesLocked(p *Package) {
	p.mu.RLock()
	names := p.desc.names
	paths := append([]string{p.path}, p.aliases...)
	p.mu.RUnlock()

	for i, name := range names {
		r.entriesByUID[entryKey(string(p.uid), name)] = entryRef{pkg: p, index: i}
		for _, path := range paths {
			r.entriesByPath[entryKey(pathKey(path), name)] = entryRef{pkg: p, index: i}
		}
	}
}

func (r *Registry) unindexEntriesLocked(p *Package) {
	p.mu.RLock()
	names := p.desc.names
	paths := append([]string{p.path}, p.aliases...)
	p.mu.RUnlock()

	for _, name := range names {
		if ref := r.entriesByUID[entryKey(string(p.uid), name)]; ref.pkg == p {
			delete(r.entriesByUID, entryKey(string(p.uid), name))
		}
	}
	for _, path := range paths {
		r.unindexPathEntriesLocked(p, path)
	}
}

func (r *Registry) indexPathEntriesLocked(p *Package, path string) {
	p.mu.RLock()
	names := p.desc.names
	p.mu.RUnlock()
	for i, name := range names {
		r.entriesByPath[entryKey(pathKey(path), name)] = entryRef{pkg: p, index: i}
	}
}

func (r *Registry) unindexPathEntriesLocked(p *Package, path string) {
	p.mu.RLock()
	names := p.desc.names
	p.mu.RUnlock()
	for _, name := range names {
		key := entryKey(pathKey(path), name)
		if ref := r.entriesByPath[key]; ref.pkg == p {
			delete(r.entriesByPath, key)
		}
	}
}

// Package looks a package up by UID, archive path, or reference.
func (r *Registry) Package(uidOrPath string) *Package {
	r.mu.RLock()
	if p, ok := r.byUID[varpkg.UID(uidOrPath)]; ok {
		r.mu.RUnlock()
		return p
	}
	if p, ok := r.byPath[filepath.Clean(uidOrPath)]; ok {
		r.mu.RUnlock()
		return p
	}
	r.mu.RUnlock()

	if looksLikePath(uidOrPath) {
		return nil
	}
	return r.Resolve(uidOrPath, nil)
}

func looksLikePath(s string) bool {
	return strings.ContainsAny(s, `/\`) || strings.EqualFold(filepath.Ext(s), varpkg.ArchiveExt)
}

// Packages returns every registered package sorted by UID.
func (r *Registry) Packages() []*Package {
	r.mu.RLock()
	out := make([]*Package, 0, len(r.byUID))
	for _, p := range r.byUID {
		out = append(out, p)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Package) int { return strings.Compare(string(a.uid), string(b.uid)) })
	return out
}

// Len returns the number of registered packages.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUID)
}

// Paths returns every registered path including aliases.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.byPath))
	for path := range r.byPath {
		out = append(out, path)
	}
	r.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Groups returns every group sorted by short name.
func (r *Registry) Groups() []*Group {
	r.mu.RLock()
	out := make([]*Group, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, g)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Group) int { return strings.Compare(string(a.short), string(b.short)) })
	return out
}

// Group returns the group for short, or nil.
func (r *Registry) Group(short varpkg.ShortName) *Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.groups[short]
}

// Rejections returns the archives currently left unregistered.
func (r *Registry) Rejections() []Rejection {
	r.mu.RLock()
	out := make([]Rejection, 0, len(r.rejected))
	for _, rej := range r.rejected {
		out = append(out, rej)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Rejection) int { return strings.Compare(a.Path, b.Path) })
	return out
}

// ForgetRejection drops the rejection record of path.
func (r *Registry) ForgetRejection(path string) {
	r.mu.Lock()
	delete(r.rejected, filepath.Clean(path))
	r.mu.Unlock()
}

// Close releases every cached archive handle.
func (r *Registry) Close() error {
	for _, p := range r.Packages() {
		p.closeArchive()
	}
	return nil
}

// IsRegistrationError reports whether err left an archive unregistered for
// a predictable reason rather than an I/O failure.
func IsRegistrationError(err error) bool {
	var rerr *varpkg.RegistrationError
	return errors.As(err, &rerr)
}
