// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package refresh

import (
	"os"
	"syscall"
)

// fileID is the device and inode pair of a directory.
type fileID struct {
	dev, ino uint64
}

func identify(info os.FileInfo) (fileID, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fileID{}, false
	}
	return fileID{dev: uint64(st.Dev), ino: uint64(st.Ino)}, true //nolint:unconvert // Dev is int32 on darwin
}
