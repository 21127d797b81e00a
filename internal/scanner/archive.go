// SPDX-License-Identifier: MPL-2.0

package scanner

import (
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/varkeep/varkeep/internal/namecodec"
	"github.com/varkeep/varkeep/pkg/varpkg"
)

// Archive is an open package archive with decoded entry names. It is safe
// for concurrent Open calls.
type Archive struct {
	path     string
	rc       *zip.ReadCloser
	files    []*zip.File
	names    []string
	byName   map[string]*zip.File
}

// openArchive reads the central directory of path and decodes entry names.
// size and modTicks key the encoding choice.
func openArchive(path string, size, modTicks int64, detector *namecodec.Detector) (*Archive, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, &varpkg.CorruptArchiveError{Path: path, Err: err}
	}

	var raw []string
	for _, f := range rc.File {
		if f.NonUTF8 {
			raw = append(raw, f.Name)
		}
	}
	choice := namecodec.UTF8
	if len(raw) > 0 && detector != nil {
		choice = detector.Detect(path, size, modTicks, raw)
	}

	a := &Archive{
		path:     path,
		rc:       rc,
		files:    rc.File,
		names:    make([]string, len(rc.File)),
		byName:   make(map[string]*zip.File, len(rc.File)),
	}
	for i, f := range rc.File {
		name := f.Name
		if f.NonUTF8 {
			name = choice.Decode(name)
		}
		name = varpkg.NormalizeEntryPath(name)
		a.names[i] = name
		if _, dup := a.byName[name]; !dup {
			a.byName[name] = f
		}
	}
	return a, nil
}

// Path returns the archive file path.
func (a *Archive) Path() string { return a.path }


// Names returns the decoded entry names in central-directory order.
func (a *Archive) Names() []string { return a.names }

// Open opens the entry with the given decoded internal path.
func (a *Archive) Open(name string) (io.ReadCloser, error) {
	name = varpkg.NormalizeEntryPath(name)
	f, ok := a.byName[name]
	if !ok {
		// Fall back to a case-insensitive match.
		for n, cand := range a.byName {
			if strings.EqualFold(n, name) {
				f, ok = cand, true
				break
			}
		}
	}
	if !ok {
		return nil, fmt.Errorf("open %s:/%s: %w", a.path, name, fs.ErrNotExist)
	}
	r, err := f.Open()
	if err != nil {
		return nil, &varpkg.CorruptArchiveError{Path: a.path, Err: err}
	}
	return r, nil
}

// ReadFile reads a whole entry, up to limit bytes.
func (a *Archive) ReadFile(name string, limit int64) ([]byte, error) {
	r, err := a.Open(name)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return nil, &varpkg.CorruptArchiveError{Path: a.path, Err: err}
	}
	return data, nil
}

// Close releases the file handle.
func (a *Archive) Close() error {
	return a.rc.Close()
}
