// SPDX-License-Identifier: MPL-2.0

package cachefile

import "time"

// unixEpochTicks is the tick count of 1970-01-01T00:00:00Z measured in 100ns
// units since 0001-01-01.
const unixEpochTicks = 621355968000000000

// Record is the persisted scan result of one package archive. Slices are
// shared with the cache and must be treated as read-only by callers.
type Record struct {
	EntryNames    []string
	EntryModTimes []int64
	EntrySizes    []int64
	// Dependencies is the recursive dependency set in first-seen order.
	Dependencies  []string
	ClothingNames []string
	ClothingTags  []string
	HairNames     []string
	HairTags      []string

	// ArchiveSize and ArchiveModTime fingerprint the archive the record was
	// built from. Records read from the legacy layout carry -1 for both.
	ArchiveSize    int64
	ArchiveModTime int64
	Invalid        bool
}

// Ticks converts t to 100ns ticks since 0001-01-01 UTC.
func Ticks(t time.Time) int64 {
	return t.UnixNano()/100 + unixEpochTicks
}

// FromTicks is the inverse of Ticks.
func FromTicks(ticks int64) time.Time {
	return time.Unix(0, (ticks-unixEpochTicks)*100).UTC()
}

// Matches reports whether the record was built from an archive with the
// given size and modification ticks.
func (r *Record) Matches(size, modTicks int64) bool {
	return r.ArchiveSize >= 0 && r.ArchiveSize == size && r.ArchiveModTime == modTicks
}
