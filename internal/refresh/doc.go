// SPDX-License-Identifier: MPL-2.0

// Package refresh keeps the registry in step with the package trees on disk.
//
// A Coordinator enumerates the installed and repository roots, registers new
// archives, unregisters vanished ones, and scans unscanned packages on a
// bounded worker pool. Requests that arrive while a refresh is running are
// merged into a single follow-up run.
package refresh
