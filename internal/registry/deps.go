// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"slices"
	"strings"

	"github.com/varkeep/varkeep/pkg/varpkg"
)

// MissingDependency is a reference no registered package satisfies.
type MissingDependency struct {
	Ref        string
	RequiredBy []varpkg.UID
}

// RecursiveDependencies resolves the dependency closure of uid and returns
// the reached packages in breadth-first order, excluding uid itself. depth
// limits how many levels of dependency lists are followed; depth <= 0 means
// unlimited. Cycles and unresolvable references are skipped.
func (r *Registry) RecursiveDependencies(uid varpkg.UID, depth int) []*Package {
	root := r.Package(string(uid))
	if root == nil {
		return nil
	}

	visited := map[*Package]bool{root: true}
	var out []*Package
	frontier := []*Package{root}
	for level := 1; len(frontier) > 0 && (depth <= 0 || level <= depth); level++ {
		var next []*Package
		for _, p := range frontier {
			if err := r.EnsureScanned(p); err != nil {
				r.logger.Debug("dependency scan failed", "uid", p.uid, "error", err)
				continue
			}
			lctx := NewLoadContext(p.uid)
			for _, ref := range p.Dependencies() {
				dep := r.Resolve(ref, lctx)
				if dep == nil || visited[dep] {
					continue
				}
				visited[dep] = true
				out = append(out, dep)
				next = append(next, dep)
			}
		}
		frontier = next
	}
	return out
}

// MissingDependencies scans every registered package and returns the
// references that do not resolve, sorted by reference.
func (r *Registry) MissingDependencies() []MissingDependency {
	missing := make(map[string][]varpkg.UID)
	for _, p := range r.Packages() {
		if err := r.EnsureScanned(p); err != nil || p.Invalid() {
			continue
		}
		lctx := NewLoadContext(p.uid)
		for _, ref := range p.Dependencies() {
			if r.Resolve(ref, lctx) == nil {
				missing[ref] = append(missing[ref], p.uid)
			}
		}
	}

	out := make([]MissingDependency, 0, len(missing))
	for ref, by := range missing {
		out = append(out, MissingDependency{Ref: ref, RequiredBy: by})
	}
	slices.SortFunc(out, func(a, b MissingDependency) int { return strings.Compare(a.Ref, b.Ref) })
	return out
}

// referenced returns every package that some other registered package's
// dependency list resolves to. Packages must already be scanned.
func (r *Registry) referenced(pkgs []*Package) map[*Package]bool {
	out := make(map[*Package]bool)
	for _, p := range pkgs {
		lctx := NewLoadContext(p.uid)
		for _, ref := range p.Dependencies() {
			if dep := r.Resolve(ref, lctx); dep != nil && dep != p {
				out[dep] = true
			}
		}
	}
	return out
}
