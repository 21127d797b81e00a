// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"slices"
	"sync"

	"github.com/varkeep/varkeep/pkg/varpkg"
)

// Group holds every registered version of one <creator>.<name>.
type Group struct {
	short varpkg.ShortName

	mu   sync.RWMutex
	pkgs []*Package // ascending by version
}

// ShortName returns the group key.
func (g *Group) ShortName() varpkg.ShortName { return g.short }

// Packages returns the members in ascending version order.
func (g *Group) Packages() []*Package {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.pkgs)
}

// Len returns the number of members.
func (g *Group) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.pkgs)
}

// Newest returns the highest version, enabled or not.
func (g *Group) Newest() *Package {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.pkgs) == 0 {
		return nil
	}
	return g.pkgs[len(g.pkgs)-1]
}

// NewestEnabled returns the highest version without a disabled marker, or
// nil when every member is disabled.
func (g *Group) NewestEnabled() *Package {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for i := len(g.pkgs) - 1; i >= 0; i-- {
		if !g.pkgs[i].Disabled() {
			return g.pkgs[i]
		}
	}
	return nil
}

// AtLeast returns the smallest enabled version >= floor. When only disabled
// versions qualify it returns the smallest of those, and nil when none do.
func (g *Group) AtLeast(floor int) *Package {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var fallback *Package
	for _, p := range g.pkgs {
		if p.Version() < floor {
			continue
		}
		if !p.Disabled() {
			return p
		}
		if fallback == nil {
			fallback = p
		}
	}
	return fallback
}

func (g *Group) add(p *Package) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i, _ := slices.BinarySearchFunc(g.pkgs, p.Version(), func(q *Package, v int) int {
		return q.Version() - v
	})
	g.pkgs = slices.Insert(g.pkgs, i, p)
}

// remove drops p and reports whether the group is now empty.
func (g *Group) remove(p *Package) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pkgs = slices.DeleteFunc(g.pkgs, func(q *Package) bool { return q == p })
	return len(g.pkgs) == 0
}
