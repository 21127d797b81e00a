// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
)

// EntryTime is the modification time given to archive entries that do not set one.
var EntryTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

type (
	// Entry is one file written by WriteArchive.
	Entry struct {
		Name string
		Body string
		// NonUTF8 writes Name as raw bytes without the UTF-8 flag.
		NonUTF8  bool
		Modified time.Time
	}

	// Deps is a nested dependency tree as written to a package manifest.
	Deps map[string]Deps
)

// File returns an Entry with a UTF-8 name.
func File(name, body string) Entry {
	return Entry{Name: name, Body: body}
}

// RawFile returns an Entry whose name bytes are stored without the UTF-8 flag.
func RawFile(name, body string) Entry {
	return Entry{Name: name, Body: body, NonUTF8: true}
}

// WriteArchive writes a zip archive at path containing entries.
func WriteArchive(t testing.TB, path string, entries ...Entry) {
	t.Helper()
	MustMkdirAll(t, filepath.Dir(path))

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create archive %s: %v", path, err)
	}
	zw := zip.NewWriter(f)
	for _, e := range entries {
		mod := e.Modified
		if mod.IsZero() {
			mod = EntryTime
		}
		hdr := &zip.FileHeader{Name: e.Name, Method: zip.Deflate, Modified: mod, NonUTF8: e.NonUTF8}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("failed to add %q to %s: %v", e.Name, path, err)
		}
		if _, err := w.Write([]byte(e.Body)); err != nil {
			t.Fatalf("failed to write %q to %s: %v", e.Name, path, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to finish archive %s: %v", path, err)
	}
	MustClose(t, f)
}

// WriteCorrupt writes a file with a .var name that is not a zip archive.
func WriteCorrupt(t testing.TB, path string) {
	t.Helper()
	MustWriteFile(t, path, []byte("this is not a zip archive, just some bytes"))
}

// Manifest renders a meta.json body declaring deps. Keys are emitted in
// sorted order at every level.
func Manifest(deps Deps) string {
	data, err := json.Marshal(map[string]any{
		"creatorName":  "tester",
		"licenseType":  "CC BY",
		"dependencies": deps.tree(),
	})
	if err != nil {
		panic(err)
	}
	return string(data)
}

func (d Deps) tree() map[string]any {
	out := make(map[string]any, len(d))
	for uid, sub := range d {
		out[uid] = map[string]any{
			"licenseType":  "CC BY",
			"dependencies": sub.tree(),
		}
	}
	return out
}

// TagManifest renders a per-entry .vam body with a free-text tags string.
func TagManifest(tags string) string {
	data, err := json.Marshal(map[string]any{"itemType": "ClothingFemale", "tags": tags})
	if err != nil {
		panic(err)
	}
	return string(data)
}
