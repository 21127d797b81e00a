// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/varkeep/varkeep/internal/scanner"
	"github.com/varkeep/varkeep/pkg/varpkg"
)

// DisabledSuffix marks a package as disabled when "<archive>.disabled" exists.
const DisabledSuffix = ".disabled"

type (
	// Package is one registered archive. Its identity never changes; the
	// path changes only through Registry.Relocate. Scan results are fixed
	// once Scanned reports true.
	Package struct {
		id  varpkg.Identity
		uid varpkg.UID
		reg *Registry

		scanned  atomic.Bool
		invalid  atomic.Bool
		disabled atomic.Bool

		// scanMu serializes scans of this package.
		scanMu sync.Mutex

		mu      sync.RWMutex
		path    string
		aliases []string
		size    int64
		modTime time.Time
		desc    descriptor
		entries []*FileEntry
		archive *scanner.Archive
	}

	// descriptor is the compact scan result: parallel entry slices plus
	// dependency and classification lists.
	descriptor struct {
		names    []string
		sizes    []int64
		modTimes []int64
		deps     []string
		clothing []scanner.Tagged
		hair     []scanner.Tagged
		// tags maps an entry index to its classification tags.
		tags map[int][]string
	}
)

func newPackage(reg *Registry, id varpkg.Identity, path string, info os.FileInfo) *Package {
	p := &Package{
		id:      id,
		uid:     id.UID(),
		reg:     reg,
		path:    path,
		size:    info.Size(),
		modTime: info.ModTime(),
	}
	p.RefreshDisabled()
	return p
}

// UID returns the package identity.
func (p *Package) UID() varpkg.UID { return p.uid }

// Identity returns the parsed name.
func (p *Package) Identity() varpkg.Identity { return p.id }

// ShortName returns the group key.
func (p *Package) ShortName() varpkg.ShortName { return p.id.ShortName() }

// Version returns the integer version.
func (p *Package) Version() int { return p.id.Version }

// Path returns the current archive path.
func (p *Package) Path() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.path
}

// Aliases returns additional paths that refer to the same archive file.
func (p *Package) Aliases() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.aliases)
}

// Size returns the archive size recorded at registration.
func (p *Package) Size() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.size
}

// ModTime returns the archive modification time recorded at registration.
func (p *Package) ModTime() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.modTime
}

// Scanned reports whether scan results are available.
func (p *Package) Scanned() bool { return p.scanned.Load() }

// Invalid reports whether the archive failed to scan.
func (p *Package) Invalid() bool { return p.invalid.Load() }

// Disabled reports whether a ".disabled" marker sits next to the archive.
func (p *Package) Disabled() bool { return p.disabled.Load() }

// RefreshDisabled re-reads the ".disabled" marker and returns the new state.
func (p *Package) RefreshDisabled() bool {
	_, err := os.Stat(p.Path() + DisabledSuffix)
	p.disabled.Store(err == nil)
	return err == nil
}

// Dependencies returns the recursive dependency references declared by the
// manifest, in first-seen order. Empty until scanned.
func (p *Package) Dependencies() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.desc.deps)
}

// Clothing returns the clothing items with their tags.
func (p *Package) Clothing() []scanner.Tagged {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.desc.clothing)
}

// Hair returns the hair items with their tags.
func (p *Package) Hair() []scanner.Tagged {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.desc.hair)
}

// EntryCount returns the number of indexed entries without materializing them.
func (p *Package) EntryCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.desc.names)
}

// Entries returns the indexed entries. The slice is built on first call and
// shared afterwards.
func (p *Package) Entries() []*FileEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entriesLocked()
}

func (p *Package) entriesLocked() []*FileEntry {
	if p.entries == nil && len(p.desc.names) > 0 {
		p.entries = make([]*FileEntry, len(p.desc.names))
		for i := range p.desc.names {
			p.entries[i] = &FileEntry{pkg: p, index: i}
		}
	}
	return p.entries
}

func (p *Package) entry(i int) *FileEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	entries := p.entriesLocked()
	if i < 0 || i >= len(entries) {
		return nil
	}
	return entries[i]
}

func (p *Package) adopt(res scanner.Result) {
	d := descriptor{
		names:    res.Names,
		sizes:    res.Sizes,
		modTimes: res.ModTimes,
		deps:     res.Dependencies,
		clothing: res.Clothing,
		hair:     res.Hair,
	}
	if len(res.Clothing)+len(res.Hair) > 0 {
		pos := make(map[string]int, len(res.Names))
		for i, n := range res.Names {
			pos[n] = i
		}
		d.tags = make(map[int][]string)
		for _, list := range [][]scanner.Tagged{res.Clothing, res.Hair} {
			for _, t := range list {
				if i, ok := pos[t.Name]; ok {
					d.tags[i] = t.Tags
				}
			}
		}
	}

	p.mu.Lock()
	p.desc = d
	p.entries = nil
	p.mu.Unlock()
	p.invalid.Store(res.Invalid)
	p.scanned.Store(true)
}

// openArchive returns the cached archive handle, opening it on first use.
func (p *Package) openArchive() (*scanner.Archive, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.archive != nil {
		return p.archive, nil
	}
	a, err := p.reg.scanner.Open(p.path)
	if err != nil {
		return nil, err
	}
	p.archive = a
	return a, nil
}

// closeArchive releases the cached archive handle.
func (p *Package) closeArchive() {
	p.mu.Lock()
	a := p.archive
	p.archive = nil
	p.mu.Unlock()
	if a != nil {
		_ = a.Close() // read-only handle
	}
}

// String returns the UID.
func (p *Package) String() string { return string(p.uid) }
