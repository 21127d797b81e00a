// SPDX-License-Identifier: MPL-2.0

package scanner

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ManifestName is the package manifest at the archive root.
const ManifestName = "meta.json"

// Patterns are matched against lower-cased entry names.
var (
	// descriptorPatterns select descriptors that are only indexed together
	// with a same-stem thumbnail.
	descriptorPatterns = []string{
		"saves/scene/**/*.json",
		"custom/**/*.vap",
	}

	texturePatterns = []string{
		"custom/atom/**/*.{jpg,jpeg,png,tif,tiff,tga,bmp}",
		"custom/images/**/*.{jpg,jpeg,png,tif,tiff,tga,bmp}",
	}

	clothingPattern = "custom/clothing/**/*.vam"
	hairPattern     = "custom/hair/**/*.vam"

	assetExts = map[string]bool{
		".vam": true, ".vaj": true, ".vab": true,
		".assetbundle": true, ".scene": true,
		".cs": true, ".cslist": true,
		".wav": true, ".mp3": true, ".ogg": true,
	}

	// Morph indexes are numerous and never looked up by address.
	excludedExts = map[string]bool{".vmi": true, ".vmb": true}

	previewExts = []string{".jpg", ".png"}
)

type entryKind int

const (
	kindIgnored entryKind = iota
	kindManifest
	kindDescriptor
	kindAsset
	kindTexture
)

// classification is the outcome of classify over one archive listing.
type classification struct {
	// keep holds indexes into the input names in archive order.
	keep     []int
	manifest int // -1 when absent
	clothing []int
	hair     []int
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

func kindOf(lower string) entryKind {
	if strings.HasSuffix(lower, "/") {
		return kindIgnored
	}
	ext := path.Ext(lower)
	switch {
	case excludedExts[ext]:
		return kindIgnored
	case lower == ManifestName:
		return kindManifest
	case matchAny(descriptorPatterns, lower):
		return kindDescriptor
	case assetExts[ext]:
		return kindAsset
	case matchAny(texturePatterns, lower):
		return kindTexture
	default:
		return kindIgnored
	}
}

// classify selects the entries worth indexing. names are decoded,
// slash-separated internal paths.
func classify(names []string) classification {
	lower := make([]string, len(names))
	index := make(map[string]int, len(names))
	for i, n := range names {
		lower[i] = strings.ToLower(n)
		if _, dup := index[lower[i]]; !dup {
			index[lower[i]] = i
		}
	}

	c := classification{manifest: -1}
	kept := make([]bool, len(names))
	preview := func(l string) (int, bool) {
		stem := strings.TrimSuffix(l, path.Ext(l))
		for _, ext := range previewExts {
			if j, ok := index[stem+ext]; ok {
				return j, true
			}
		}
		return 0, false
	}

	for i, l := range lower {
		switch kindOf(l) {
		case kindManifest:
			kept[i] = true
			c.manifest = i
		case kindDescriptor:
			if j, ok := preview(l); ok {
				kept[i], kept[j] = true, true
			}
		case kindAsset:
			kept[i] = true
			if j, ok := preview(l); ok {
				kept[j] = true
			}
			if ok, _ := doublestar.Match(clothingPattern, l); ok {
				c.clothing = append(c.clothing, i)
			} else if ok, _ := doublestar.Match(hairPattern, l); ok {
				c.hair = append(c.hair, i)
			}
		case kindTexture:
			kept[i] = true
		}
	}

	for i, k := range kept {
		if k {
			c.keep = append(c.keep, i)
		}
	}
	return c
}
