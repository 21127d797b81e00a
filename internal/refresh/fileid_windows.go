// SPDX-License-Identifier: MPL-2.0

//go:build windows

package refresh

import "os"

// fileID is unused on Windows: os.FileInfo carries no file index, so the
// visited set compares with os.SameFile instead.
type fileID struct{}

func identify(os.FileInfo) (fileID, bool) { return fileID{}, false }
