// SPDX-License-Identifier: MPL-2.0

package scanner

import (
	"errors"
	"path/filepath"
	"reflect"
	"slices"
	"testing"
	"time"

	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/varkeep/varkeep/internal/cachefile"
	"github.com/varkeep/varkeep/internal/namecodec"
	"github.com/varkeep/varkeep/internal/testutil"
	"github.com/varkeep/varkeep/pkg/varpkg"
)

func newScanner(t *testing.T) (*Scanner, *cachefile.Cache, *namecodec.Detector) {
	t.Helper()
	cache := cachefile.New(filepath.Join(t.TempDir(), cachefile.FileName), nil)
	det, err := namecodec.New(namecodec.Options{}, nil)
	if err != nil {
		t.Fatalf("namecodec.New() error = %v", err)
	}
	return New(Options{Cache: cache, Detector: det}), cache, det
}

func writeSample(t *testing.T, path string) {
	t.Helper()
	testutil.WriteArchive(t, path,
		testutil.File("meta.json", testutil.Manifest(testutil.Deps{
			"Alice.Base.latest": {"Carol.Skin.min3": nil},
			"Carol.Skin.min3":   nil,
		})),
		testutil.File("Custom/Hair/Bob/bun.vam", `{"tags":"Long, Blonde;bun"}`),
		testutil.File("Custom/Hair/Bob/bun.jpg", "jpg"),
		testutil.File("Custom/Hair/Bob/bun.vab", "bin"),
		testutil.File("Custom/Atom/Person/Morphs/female/a.vmi", "morph"),
		testutil.File("Custom/Atom/Person/Morphs/female/a.vmb", "morph"),
		testutil.File("Saves/scene/demo.json", "{}"),
		testutil.File("Saves/scene/demo.jpg", "jpg"),
		testutil.File("Saves/scene/orphan.json", "{}"),
		testutil.File("Custom/Atom/Person/Textures/skin.png", "png"),
		testutil.File("readme.txt", "hello"),
	)
}

func TestScanClassifiesEntries(t *testing.T) {
	t.Parallel()

	s, _, _ := newScanner(t)
	path := filepath.Join(t.TempDir(), "Bob.Hair.1.var")
	writeSample(t, path)

	res, err := s.Scan("Bob.Hair.1", path)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if res.Invalid {
		t.Fatal("Scan() marked a valid archive invalid")
	}

	want := []string{
		"meta.json",
		"Custom/Hair/Bob/bun.vam",
		"Custom/Hair/Bob/bun.jpg",
		"Custom/Hair/Bob/bun.vab",
		"Saves/scene/demo.json",
		"Saves/scene/demo.jpg",
		"Custom/Atom/Person/Textures/skin.png",
	}
	if !slices.Equal(res.Names, want) {
		t.Errorf("Names = %v, want %v", res.Names, want)
	}
	if len(res.Sizes) != len(res.Names) || len(res.ModTimes) != len(res.Names) {
		t.Errorf("entry lists not parallel: %d names, %d sizes, %d mtimes", len(res.Names), len(res.Sizes), len(res.ModTimes))
	}
	if res.ModTimes[0] != cachefile.Ticks(testutil.EntryTime) {
		t.Errorf("ModTimes[0] = %d, want %d", res.ModTimes[0], cachefile.Ticks(testutil.EntryTime))
	}

	wantDeps := []string{"Alice.Base.latest", "Carol.Skin.min3"}
	if !slices.Equal(res.Dependencies, wantDeps) {
		t.Errorf("Dependencies = %v, want %v", res.Dependencies, wantDeps)
	}

	wantHair := []Tagged{{Name: "Custom/Hair/Bob/bun.vam", Tags: []string{"long", "blonde", "bun"}}}
	if !reflect.DeepEqual(res.Hair, wantHair) {
		t.Errorf("Hair = %+v, want %+v", res.Hair, wantHair)
	}
	if got := s.UnknownTags(); !slices.Equal(got, []string{"blonde"}) {
		t.Errorf("UnknownTags() = %v, want [blonde]", got)
	}
}

func TestScanServedFromCache(t *testing.T) {
	t.Parallel()

	s, _, _ := newScanner(t)
	path := filepath.Join(t.TempDir(), "Bob.Hair.1.var")
	writeSample(t, path)

	first, err := s.Scan("Bob.Hair.1", path)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if first.FromCache || s.ArchiveOpens() != 1 {
		t.Fatalf("first Scan() FromCache = %v, opens = %d", first.FromCache, s.ArchiveOpens())
	}

	second, err := s.Scan("Bob.Hair.1", path)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if !second.FromCache {
		t.Error("second Scan() was not served from cache")
	}
	if s.ArchiveOpens() != 1 {
		t.Errorf("ArchiveOpens() = %d after cached scan, want 1", s.ArchiveOpens())
	}
	second.FromCache = false
	if !reflect.DeepEqual(first, second) {
		t.Errorf("cached result differs:\n first = %+v\nsecond = %+v", first, second)
	}
}

func TestScanInvalidatedByFingerprintChange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(t *testing.T, path string)
	}{
		{
			name: "mtime",
			mutate: func(t *testing.T, path string) {
				testutil.MustChtimes(t, path, time.Now().Add(-48*time.Hour))
			},
		},
		{
			name: "size",
			mutate: func(t *testing.T, path string) {
				testutil.WriteArchive(t, path, testutil.File("Custom/Scripts/a.cs", "class A {}"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, _, _ := newScanner(t)
			path := filepath.Join(t.TempDir(), "Bob.Hair.1.var")
			writeSample(t, path)
			if _, err := s.Scan("Bob.Hair.1", path); err != nil {
				t.Fatalf("Scan() error = %v", err)
			}

			tt.mutate(t, path)

			res, err := s.Scan("Bob.Hair.1", path)
			if err != nil {
				t.Fatalf("Scan() error = %v", err)
			}
			if res.FromCache {
				t.Error("Scan() used a stale cache record")
			}
			if s.ArchiveOpens() != 2 {
				t.Errorf("ArchiveOpens() = %d, want 2", s.ArchiveOpens())
			}
		})
	}
}

func TestScanCorruptArchive(t *testing.T) {
	t.Parallel()

	s, cache, _ := newScanner(t)
	path := filepath.Join(t.TempDir(), "Bob.Broken.1.var")
	testutil.WriteCorrupt(t, path)

	res, err := s.Scan("Bob.Broken.1", path)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if !res.Invalid {
		t.Fatal("Scan() did not mark corrupt archive invalid")
	}
	if cache.Len() != 1 {
		t.Fatalf("cache Len() = %d, want an invalid record", cache.Len())
	}

	again, err := s.Scan("Bob.Broken.1", path)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if !again.Invalid || !again.FromCache {
		t.Errorf("second Scan() = %+v, want cached invalid result", again)
	}
	if s.ArchiveOpens() != 1 {
		t.Errorf("ArchiveOpens() = %d, want 1", s.ArchiveOpens())
	}
}

func TestScanMissingArchive(t *testing.T) {
	t.Parallel()

	s, _, _ := newScanner(t)
	if _, err := s.Scan("A.B.1", filepath.Join(t.TempDir(), "A.B.1.var")); err == nil {
		t.Error("Scan() of missing file expected error")
	}
}

func TestScanLegacyEncodedNames(t *testing.T) {
	t.Parallel()

	enc := simplifiedchinese.GBK.NewEncoder()
	names := []string{"Custom/Clothing/测试/上衣.vam", "Custom/Clothing/测试/上衣.jpg", "Custom/Clothing/测试/裙子.vam"}
	var entries []testutil.Entry
	for _, n := range names {
		raw, err := enc.String(n)
		if err != nil {
			t.Fatalf("encode %q error = %v", n, err)
		}
		entries = append(entries, testutil.RawFile(raw, testutil.TagManifest("Top,Torso")))
	}

	s, _, det := newScanner(t)
	path := filepath.Join(t.TempDir(), "Bob.Cloth.1.var")
	testutil.WriteArchive(t, path, entries...)

	res, err := s.Scan("Bob.Cloth.1", path)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if !slices.Equal(res.Names, names) {
		t.Errorf("Names = %q, want %q", res.Names, names)
	}
	if len(res.Clothing) != 2 || !slices.Equal(res.Clothing[0].Tags, []string{"top", "torso"}) {
		t.Errorf("Clothing = %+v", res.Clothing)
	}
	if det.DecodePasses() != 3 {
		t.Errorf("DecodePasses() = %d, want 3", det.DecodePasses())
	}
}

func TestScanASCIINamesSkipDetection(t *testing.T) {
	t.Parallel()

	s, _, det := newScanner(t)
	path := filepath.Join(t.TempDir(), "Bob.Hair.1.var")
	writeSample(t, path)

	if _, err := s.Scan("Bob.Hair.1", path); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if det.DecodePasses() != 0 {
		t.Errorf("DecodePasses() = %d, want 0", det.DecodePasses())
	}
}

func TestArchiveOpen(t *testing.T) {
	t.Parallel()

	s, _, _ := newScanner(t)
	path := filepath.Join(t.TempDir(), "Bob.Hair.1.var")
	writeSample(t, path)

	a, err := s.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer testutil.MustClose(t, a)

	data, err := a.ReadFile("/custom/hair/bob/BUN.vab", 1024)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "bin" {
		t.Errorf("ReadFile() = %q, want %q", data, "bin")
	}
	if _, err := a.Open("missing.txt"); err == nil {
		t.Error("Open(missing) expected error")
	}
}

func TestNormalizeTags(t *testing.T) {
	t.Parallel()

	got := NormalizeTags(" Full   Body ;HEAD,, head ; ")
	if want := []string{"full body", "head"}; !slices.Equal(got, want) {
		t.Errorf("NormalizeTags() = %q, want %q", got, want)
	}
}

func TestRecordConversion(t *testing.T) {
	t.Parallel()

	res := Result{
		Names:    []string{"a.vam"},
		Sizes:    []int64{1},
		ModTimes: []int64{2},
		Clothing: []Tagged{{Name: "a.vam", Tags: []string{"top", "torso"}}, {Name: "b.vam"}},
	}
	if back := fromRecord(toRecord(res)); !reflect.DeepEqual(back, res) {
		t.Errorf("fromRecord(toRecord()) = %+v, want %+v", back, res)
	}
}

func TestOpenCorruptArchive(t *testing.T) {
	t.Parallel()

	s, _, _ := newScanner(t)
	path := filepath.Join(t.TempDir(), "Bob.Broken.1.var")
	testutil.WriteCorrupt(t, path)

	if _, err := s.Open(path); !errors.Is(err, varpkg.ErrCorruptArchive) {
		t.Errorf("Open() error = %v, want ErrCorruptArchive", err)
	}
}
