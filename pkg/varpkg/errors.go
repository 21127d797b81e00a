// SPDX-License-Identifier: MPL-2.0

package varpkg

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidName is the sentinel for archive names that do not parse as
	// <creator>.<name>.<version>.
	ErrInvalidName = errors.New("invalid package name")
	// ErrDuplicate is the sentinel for a UID already registered from a different file.
	ErrDuplicate = errors.New("duplicate package")
	// ErrCorruptArchive is the sentinel for central-directory or decompression failures.
	ErrCorruptArchive = errors.New("corrupt archive")
	// ErrMissingDependency is the sentinel for references that resolve to nothing.
	ErrMissingDependency = errors.New("missing dependency")
	// ErrInstallConflict is the sentinel for install targets occupied by another file.
	ErrInstallConflict = errors.New("install conflict")
)

type (
	// InvalidNameError is returned when a file name or reference cannot be parsed.
	InvalidNameError struct {
		Value  string
		Reason string
	}

	// RegistrationError is returned when an archive is left unregistered.
	// Err is an *InvalidNameError or ErrDuplicate.
	RegistrationError struct {
		Path string
		UID  UID
		// Existing is the path of the already-registered package for duplicates.
		Existing string
		Err      error
	}

	// CorruptArchiveError describes an archive whose central directory or
	// entries could not be read.
	CorruptArchiveError struct {
		Path string
		Err  error
	}

	// MissingDependencyError is returned when a dependency reference does not
	// resolve to any registered package.
	MissingDependencyError struct {
		From UID
		Ref  string
	}

	// InstallConflictError is returned when the destination of an install or
	// uninstall is occupied by a different file.
	InstallConflictError struct {
		UID    UID
		Target string
	}
)

// Error implements the error interface.
func (e *InvalidNameError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid package name %q", e.Value)
	}
	return fmt.Sprintf("invalid package name %q: %s", e.Value, e.Reason)
}

// Unwrap returns ErrInvalidName so callers can use errors.Is for programmatic detection.
func (e *InvalidNameError) Unwrap() error { return ErrInvalidName }

// Error implements the error interface.
func (e *RegistrationError) Error() string {
	if errors.Is(e.Err, ErrDuplicate) {
		return fmt.Sprintf("cannot register %s: %s already registered from %s", e.Path, e.UID, e.Existing)
	}
	return fmt.Sprintf("cannot register %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *RegistrationError) Unwrap() error { return e.Err }

// Error implements the error interface.
func (e *CorruptArchiveError) Error() string {
	return fmt.Sprintf("corrupt archive %s: %v", e.Path, e.Err)
}

// Unwrap returns both ErrCorruptArchive and the underlying read error.
func (e *CorruptArchiveError) Unwrap() []error { return []error{ErrCorruptArchive, e.Err} }

// Error implements the error interface.
func (e *MissingDependencyError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("dependency %q not found", e.Ref)
	}
	return fmt.Sprintf("dependency %q of %s not found", e.Ref, e.From)
}

// Unwrap returns ErrMissingDependency so callers can use errors.Is for programmatic detection.
func (e *MissingDependencyError) Unwrap() error { return ErrMissingDependency }

// Error implements the error interface.
func (e *InstallConflictError) Error() string {
	return fmt.Sprintf("cannot move %s: %s is occupied by a different file", e.UID, e.Target)
}

// Unwrap returns ErrInstallConflict so callers can use errors.Is for programmatic detection.
func (e *InstallConflictError) Unwrap() error { return ErrInstallConflict }
