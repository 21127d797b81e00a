// SPDX-License-Identifier: MPL-2.0

package install

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"

	"github.com/varkeep/varkeep/internal/dag"
	"github.com/varkeep/varkeep/internal/fsutil"
	"github.com/varkeep/varkeep/internal/registry"
	"github.com/varkeep/varkeep/pkg/varpkg"
)

// InstallRecursive installs p and its whole dependency closure, dependencies
// first. UIDs in visited are skipped and every UID handled is added to it,
// so one visited set can be shared across calls. A conflict or failure
// aborts only the affected package; the errors are joined. It reports
// whether any package moved.
func (m *Manager) InstallRecursive(p *registry.Package, visited map[varpkg.UID]bool) (bool, error) {
	if p == nil {
		return false, ErrNilPackage
	}
	if visited == nil {
		visited = make(map[varpkg.UID]bool)
	}

	order := m.installOrder(p)

	var (
		moved bool
		errs  []error
	)
	for _, pkg := range order {
		if visited[pkg.UID()] {
			continue
		}
		visited[pkg.UID()] = true

		ok, err := m.Install(pkg)
		if err != nil {
			m.logger.Warn("install skipped", "uid", pkg.UID(), "error", err)
			errs = append(errs, err)
			continue
		}
		moved = moved || ok
	}
	return moved, errors.Join(errs...)
}

// installOrder returns p and its dependency closure in topological order.
// A cycle yields the acyclic part first and the cycle members after it.
func (m *Manager) installOrder(p *registry.Package) []*registry.Package {
	closure := append([]*registry.Package{p}, m.reg.RecursiveDependencies(p.UID(), 0)...)
	byUID := make(map[varpkg.UID]*registry.Package, len(closure))
	g := dag.New[varpkg.UID]()
	for _, pkg := range closure {
		byUID[pkg.UID()] = pkg
		g.AddNode(pkg.UID())
	}
	for _, pkg := range closure {
		lctx := registry.NewLoadContext(pkg.UID())
		for _, ref := range pkg.Dependencies() {
			dep := m.reg.Resolve(ref, lctx)
			if dep == nil || dep == pkg || byUID[dep.UID()] != dep {
				continue
			}
			g.DependsOn(pkg.UID(), dep.UID())
		}
	}

	uids, err := g.TopologicalSort()
	var cycle *dag.CycleError
	if errors.As(err, &cycle) {
		m.logger.Warn("dependency cycle, installing in best-effort order", "uid", p.UID(), "cycle", strings.Join(cycle.Cycle, " -> "))
	}

	order := make([]*registry.Package, 0, len(uids))
	for _, uid := range uids {
		order = append(order, byUID[uid])
	}
	return order
}

// RecoverInterrupted deletes the temporary copies left under root by
// installs that were interrupted before their rename. It returns the
// removed paths.
func RecoverInterrupted(root string) ([]string, error) {
	if !fsutil.IsDir(root) {
		return nil, nil
	}

	var (
		mu      sync.Mutex
		removed []string
		errs    []error
	)
	conf := fastwalk.Config{Follow: false}
	walkErr := fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // unreadable subtrees are not ours to clean
		}
		if !d.Type().IsRegular() || !strings.HasSuffix(d.Name(), fsutil.InstallingSuffix) {
			return nil
		}
		rmErr := os.Remove(path)
		mu.Lock()
		defer mu.Unlock()
		if rmErr != nil {
			errs = append(errs, fmt.Errorf("removing %s: %w", path, rmErr))
			return nil
		}
		removed = append(removed, path)
		return nil
	})
	if walkErr != nil {
		errs = append(errs, fmt.Errorf("walking %s: %w", root, walkErr))
	}
	return removed, errors.Join(errs...)
}
