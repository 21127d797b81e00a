// SPDX-License-Identifier: MPL-2.0

package refresh

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/varkeep/varkeep/internal/fsutil"
	"github.com/varkeep/varkeep/internal/metrics"
	"github.com/varkeep/varkeep/internal/registry"
)

// ErrNoQuarantine is returned when a cleanup flag is requested without a
// configured quarantine root.
var ErrNoQuarantine = errors.New("no quarantine root configured")

// Quarantine moves the archive at path, and its disabled marker if any, to
// "<root>/<reason>/<name>". An existing file there is kept and the moved
// archive gets a numeric suffix. It returns the new archive path.
func Quarantine(root, path string, reason registry.Reason) (string, error) {
	if root == "" {
		return "", ErrNoQuarantine
	}
	dst := fsutil.UniquePath(filepath.Join(root, reason.String(), filepath.Base(path)))
	if err := fsutil.Move(path, dst); err != nil {
		return "", fmt.Errorf("quarantine %s: %w", path, err)
	}
	marker := path + registry.DisabledSuffix
	if fsutil.Exists(marker) {
		if err := fsutil.Move(marker, dst+registry.DisabledSuffix); err != nil {
			return dst, fmt.Errorf("quarantine marker %s: %w", marker, err)
		}
	}
	return dst, nil
}

// quarantineAll moves the cleanup targets selected by flags and records the
// outcome in sum.
func (c *Coordinator) quarantineAll(flags Flags, sum *Summary) {
	type target struct {
		pkg    *registry.Package
		path   string
		reason registry.Reason
	}
	var targets []target

	if flags&CleanInvalid != 0 {
		for _, p := range c.reg.Packages() {
			if p.Invalid() {
				targets = append(targets, target{pkg: p, path: p.Path(), reason: registry.ReasonInvalidZip})
			}
		}
		for _, rej := range c.reg.Rejections() {
			targets = append(targets, target{path: rej.Path, reason: rej.Reason})
		}
	}
	if flags&RemoveOldVersions != 0 {
		for _, p := range c.reg.Superseded() {
			if !p.Invalid() || flags&CleanInvalid == 0 {
				targets = append(targets, target{pkg: p, path: p.Path(), reason: registry.ReasonOldVersion})
			}
		}
	}

	if len(targets) == 0 {
		return
	}
	if c.quarantine == "" {
		c.logger.Warn("cleanup requested without a quarantine root", "targets", len(targets))
		sum.Diagnostics = append(sum.Diagnostics, Diagnostic{
			Severity: SeverityError,
			Code:     CodeQuarantineFailed,
			Message:  fmt.Sprintf("%d archive(s) left in place", len(targets)),
			Cause:    ErrNoQuarantine,
		})
		return
	}

	for _, t := range targets {
		if t.pkg != nil {
			// Release the archive handle before moving the file.
			c.reg.Unregister(t.pkg)
		} else {
			c.reg.ForgetRejection(t.path)
		}

		dst, err := Quarantine(c.quarantine, t.path, t.reason)
		if err != nil {
			c.logger.Error("quarantine failed", "path", t.path, "reason", t.reason, "error", err)
			c.metrics.Move("quarantine", metrics.MoveError)
			sum.Diagnostics = append(sum.Diagnostics, Diagnostic{
				Severity: SeverityError,
				Code:     CodeQuarantineFailed,
				Message:  fmt.Sprintf("could not move %s to quarantine", t.path),
				Path:     t.path,
				Cause:    err,
			})
			continue
		}
		c.logger.Info("quarantined archive", "path", t.path, "reason", t.reason, "to", dst)
		c.metrics.Move("quarantine", metrics.MoveMoved)
		sum.Quarantined++
		if t.pkg != nil {
			sum.Removed++
		}
		sum.Diagnostics = append(sum.Diagnostics, Diagnostic{
			Severity: SeverityInfo,
			Code:     CodeQuarantined,
			Message:  fmt.Sprintf("moved %s to %s (%s)", t.path, dst, t.reason),
			Path:     dst,
		})
	}
}
