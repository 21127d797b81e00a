// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"os"
	"slices"
	"strings"

	"github.com/varkeep/varkeep/pkg/varpkg"
)

// Cleanup reasons. Each also names the quarantine bucket an archive is
// moved to.
const (
	ReasonDuplicated  Reason = "duplicated"
	ReasonInvalidName Reason = "invalid_name"
	ReasonInvalidZip  Reason = "invalid_zip"
	ReasonOldVersion  Reason = "old_version"
)

type (
	// Reason classifies why an archive is a cleanup candidate.
	Reason string

	// Candidate is an archive on disk that housekeeping may remove.
	Candidate struct {
		Path   string
		UID    varpkg.UID
		Reason Reason
	}
)

// String returns the bucket name.
func (r Reason) String() string { return string(r) }

// CleanupCandidates classifies archives that housekeeping may remove:
// rejected duplicates and invalid names still on disk, registered packages
// whose archive failed to scan, and older versions that no registered
// package depends on. Nothing is moved or deleted.
func (r *Registry) CleanupCandidates() []Candidate {
	var out []Candidate
	for _, rej := range r.Rejections() {
		if _, err := os.Stat(rej.Path); err != nil {
			r.ForgetRejection(rej.Path)
			continue
		}
		out = append(out, Candidate{Path: rej.Path, UID: rej.UID, Reason: rej.Reason})
	}

	pkgs := r.Packages()
	for _, p := range pkgs {
		if err := r.EnsureScanned(p); err != nil {
			r.logger.Debug("cleanup scan failed", "uid", p.uid, "error", err)
			continue
		}
		if p.Invalid() {
			out = append(out, Candidate{Path: p.Path(), UID: p.uid, Reason: ReasonInvalidZip})
		}
	}

	for _, p := range r.superseded(pkgs) {
		if p.Invalid() {
			continue
		}
		out = append(out, Candidate{Path: p.Path(), UID: p.uid, Reason: ReasonOldVersion})
	}

	slices.SortFunc(out, func(a, b Candidate) int {
		if c := strings.Compare(string(a.Reason), string(b.Reason)); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})
	return out
}

// Superseded returns packages that have a newer enabled version in their
// group and that no registered package depends on. Every package is scanned
// so its dependencies are known.
func (r *Registry) Superseded() []*Package {
	pkgs := r.Packages()
	for _, p := range pkgs {
		if err := r.EnsureScanned(p); err != nil {
			r.logger.Debug("superseded scan failed", "uid", p.uid, "error", err)
		}
	}
	return r.superseded(pkgs)
}

func (r *Registry) superseded(pkgs []*Package) []*Package {
	used := r.referenced(pkgs)
	var out []*Package
	for _, g := range r.Groups() {
		newest := g.NewestEnabled()
		if newest == nil {
			continue
		}
		for _, p := range g.Packages() {
			if p == newest || p.Version() >= newest.Version() || used[p] {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}
