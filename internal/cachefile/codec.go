// SPDX-License-Identifier: MPL-2.0

package cachefile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/varkeep/varkeep/pkg/varpkg"
)

const (
	// Magic is "VKC1" read as a little-endian u32.
	Magic uint32 = 'V' | 'K'<<8 | 'C'<<16 | '1'<<24
	// FormatVersion is the only versioned layout this package writes.
	FormatVersion uint32 = 1
)

// ErrTruncated is returned when the cache file ends in the middle of a record.
var ErrTruncated = errors.New("cache file truncated")

// UnsupportedVersionError is returned for files written by a newer format.
type UnsupportedVersionError struct {
	Version uint32
}

// Error implements the error interface.
func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported cache format version %d", e.Version)
}

// encode serializes records in UID order so equal maps produce equal bytes.
func encode(records map[varpkg.UID]Record) []byte {
	uids := make([]varpkg.UID, 0, len(records))
	for uid := range records {
		uids = append(uids, uid)
	}
	slices.Sort(uids)

	var w writer
	w.u32(Magic)
	w.u32(FormatVersion)
	w.u32(uint32(len(uids)))
	for _, uid := range uids {
		r := records[uid]
		w.str(string(uid))
		w.strs(r.EntryNames)
		w.i64s(r.EntryModTimes)
		w.i64s(r.EntrySizes)
		w.strs(r.Dependencies)
		w.strs(r.ClothingNames)
		w.strs(r.ClothingTags)
		w.strs(r.HairNames)
		w.strs(r.HairTags)
		w.i64(r.ArchiveSize)
		w.i64(r.ArchiveModTime)
		w.bool(r.Invalid)
	}
	return w.buf.Bytes()
}

// decode parses either layout. legacy reports that the file had no header,
// in which case every record carries an unknown fingerprint.
func decode(data []byte) (records map[varpkg.UID]Record, legacy bool, err error) {
	r := reader{data: data}
	head := r.u32()
	count := head
	if head == Magic {
		if v := r.u32(); r.err == nil && v != FormatVersion {
			return nil, false, &UnsupportedVersionError{Version: v}
		}
		count = r.u32()
	} else {
		legacy = true
	}
	if r.err != nil {
		return nil, legacy, r.err
	}

	records = make(map[varpkg.UID]Record, min(int(count), len(data)/4))
	for i := uint32(0); i < count; i++ {
		uid := varpkg.UID(r.str())
		rec := Record{
			EntryNames:    r.strs(),
			EntryModTimes: r.i64s(),
			EntrySizes:    r.i64s(),
			Dependencies:  r.strs(),
			ClothingNames: r.strs(),
			ClothingTags:  r.strs(),
			HairNames:     r.strs(),
			HairTags:      r.strs(),
		}
		if legacy {
			rec.ArchiveSize, rec.ArchiveModTime = -1, -1
		} else {
			rec.ArchiveSize = r.i64()
			rec.ArchiveModTime = r.i64()
			rec.Invalid = r.bool()
		}
		if r.err != nil {
			return nil, legacy, fmt.Errorf("record %d: %w", i, r.err)
		}
		records[uid] = rec
	}
	return records, legacy, nil
}

type writer struct {
	buf     bytes.Buffer
	scratch [8]byte
}

func (w *writer) u32(v uint32) {
	binary.LittleEndian.PutUint32(w.scratch[:4], v)
	w.buf.Write(w.scratch[:4])
}

func (w *writer) i64(v int64) {
	binary.LittleEndian.PutUint64(w.scratch[:8], uint64(v))
	w.buf.Write(w.scratch[:8])
}

func (w *writer) bool(v bool) {
	if v {
		w.buf.WriteByte(1)
		return
	}
	w.buf.WriteByte(0)
}

func (w *writer) str(s string) {
	w.u32(uint32(len(s)))
	w.buf.WriteString(s)
}

func (w *writer) strs(list []string) {
	w.u32(uint32(len(list)))
	for _, s := range list {
		w.str(s)
	}
}

func (w *writer) i64s(list []int64) {
	w.u32(uint32(len(list)))
	for _, v := range list {
		w.i64(v)
	}
}

// reader is a sticky-error cursor: after the first failure every read
// returns a zero value.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.data)-r.off < n {
		r.err = ErrTruncated
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) i64() int64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b))
}

func (r *reader) bool() bool {
	b := r.take(1)
	return b != nil && b[0] != 0
}

func (r *reader) str() string {
	n := r.u32()
	return string(r.take(int(n)))
}

// count reads a list length and rejects lengths that cannot fit in the
// remaining bytes given each element's minimum encoded size.
func (r *reader) count(elemSize int) int {
	n := int(r.u32())
	if r.err == nil && n > (len(r.data)-r.off)/elemSize {
		r.err = ErrTruncated
	}
	if r.err != nil {
		return 0
	}
	return n
}

func (r *reader) strs() []string {
	n := r.count(4)
	if n == 0 {
		return nil
	}
	out := make([]string, n)
	for i := range out {
		out[i] = r.str()
	}
	return out
}

func (r *reader) i64s() []int64 {
	n := r.count(8)
	if n == 0 {
		return nil
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = r.i64()
	}
	return out
}
