// SPDX-License-Identifier: MPL-2.0

package refresh

// Diagnostic codes.
const (
	CodeRootMissing       = "root_missing"
	CodeWalkFailed        = "walk_failed"
	CodeSymlinkLoop       = "symlink_loop"
	CodeStaleInstalling   = "stale_installing"
	CodeInvalidName       = "invalid_name"
	CodeDuplicate         = "duplicate_package"
	CodeInvalidArchive    = "invalid_archive"
	CodeRegisterFailed    = "register_failed"
	CodeScanFailed        = "scan_failed"
	CodeQuarantined       = "quarantined"
	CodeQuarantineFailed  = "quarantine_failed"
	CodeMissingDependency = "missing_dependency"
)

const (
	// SeverityInfo reports an action the refresh took.
	SeverityInfo Severity = "info"
	// SeverityWarning indicates a recoverable problem with one archive.
	SeverityWarning Severity = "warning"
	// SeverityError indicates a failure that left part of the refresh undone.
	SeverityError Severity = "error"
)

type (
	// Severity represents diagnostic severity.
	Severity string

	// Diagnostic is a structured, non-fatal finding of one refresh, returned
	// to callers rather than printed.
	Diagnostic struct {
		Severity Severity
		// Code is a machine-readable identifier such as "duplicate_package".
		Code    string
		Message string
		Path    string
		Cause   error
	}
)
