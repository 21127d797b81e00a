// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/varkeep/varkeep/pkg/varpkg"
)

// Resolve returns the package a reference selects, or nil:
//   - "<creator>.<name>.<version>": that package, or the group's newest
//     enabled version when that exact version is not registered;
//   - "<creator>.<name>.latest": the newest enabled version;
//   - "<creator>.<name>.minN": the smallest enabled version >= N, else the
//     smallest disabled version >= N;
//   - "SELF": the top of lctx.
func (r *Registry) Resolve(ref string, lctx *LoadContext) *Package {
	parsed, err := varpkg.ParseReference(ref)
	if err != nil {
		return nil
	}
	return r.ResolveReference(parsed, lctx)
}

// ResolveReference is Resolve for an already parsed reference.
func (r *Registry) ResolveReference(ref varpkg.Reference, lctx *LoadContext) *Package {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch ref.Kind {
	case varpkg.RefSelf:
		uid := lctx.Current()
		if uid == "" {
			return nil
		}
		return r.byUID[uid]
	case varpkg.RefExact:
		if p, ok := r.byUID[ref.UID()]; ok {
			return p
		}
		if g, ok := r.groups[ref.Short]; ok {
			return g.NewestEnabled()
		}
	case varpkg.RefLatest:
		if g, ok := r.groups[ref.Short]; ok {
			return g.NewestEnabled()
		}
	case varpkg.RefMin:
		if g, ok := r.groups[ref.Short]; ok {
			return g.AtLeast(ref.Version)
		}
	}
	return nil
}

// resolveLocator finds the package of an address: an archive path, a UID,
// or a reference.
func (r *Registry) resolveLocator(locator string, lctx *LoadContext) *Package {
	if looksLikePath(locator) {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return r.byPath[filepath.Clean(filepath.FromSlash(locator))]
	}
	return r.Resolve(locator, lctx)
}

// FileEntry returns the entry at "<package-path-or-uid>:/<internal/path>".
// The package part may be a .latest/.minN/SELF reference. The owning
// package is scanned if needed.
func (r *Registry) FileEntry(address string, lctx *LoadContext) (*FileEntry, error) {
	addr, err := varpkg.ParseAddress(address)
	if err != nil {
		return nil, err
	}

	p := r.resolveLocator(addr.Package, lctx)
	if p == nil {
		return nil, &varpkg.MissingDependencyError{From: lctx.Current(), Ref: addr.Package}
	}
	if err := r.EnsureScanned(p); err != nil {
		return nil, err
	}

	r.mu.RLock()
	ref, ok := r.entriesByUID[entryKey(string(p.uid), addr.Entry)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("entry %s:/%s: %w", p.uid, addr.Entry, fs.ErrNotExist)
	}
	e := ref.pkg.entry(ref.index)
	if e == nil {
		return nil, fmt.Errorf("entry %s:/%s: %w", p.uid, addr.Entry, fs.ErrNotExist)
	}
	return e, nil
}

// LookupEntry is an index-only lookup by flat key ("<uid>:/<name>" or
// "<path>:/<name>") that never triggers a scan.
func (r *Registry) LookupEntry(key string) *FileEntry {
	addr, err := varpkg.ParseAddress(key)
	if err != nil {
		return nil
	}

	r.mu.RLock()
	ref, ok := r.entriesByUID[entryKey(addr.Package, addr.Entry)]
	if !ok {
		ref, ok = r.entriesByPath[entryKey(pathKey(addr.Package), addr.Entry)]
	}
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return ref.pkg.entry(ref.index)
}

// OpenEntry opens the entry at address for reading.
func (r *Registry) OpenEntry(address string, lctx *LoadContext) (io.ReadCloser, error) {
	e, err := r.FileEntry(address, lctx)
	if err != nil {
		return nil, err
	}
	return e.Open()
}
