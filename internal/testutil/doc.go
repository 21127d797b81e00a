// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helpers for tests: filesystem setup that fails
// the test on error (MustMkdirAll, MustWriteFile, MustChtimes) and archive
// builders that write real .var files (WriteArchive, Manifest).
package testutil
