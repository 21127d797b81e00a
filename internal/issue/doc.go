// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable error handling with user-friendly messages.
//
// ActionableError carries the failed operation, the resource involved, and
// suggestions. Issue pages add Markdown guidance, rendered with glamour, for
// the error kinds a user can fix: bad configuration, misnamed or corrupt
// archives, duplicates, missing dependencies, and install conflicts.
package issue
