// SPDX-License-Identifier: MPL-2.0

package scanner

import (
	"bytes"
	"strings"

	"github.com/tidwall/gjson"
)

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// knownTags is the tag vocabulary of clothing and hair items. Tags outside
// it are kept on the entry but reported once through UnknownTags.
var knownTags = map[string]bool{
	// regions
	"head": true, "face": true, "neck": true, "torso": true, "hip": true,
	"arms": true, "hands": true, "legs": true, "feet": true, "full body": true,
	"genital": true,
	// clothing types
	"accessory": true, "bodysuit": true, "bottom": true, "bra": true, "costume": true,
	"dress": true, "glasses": true, "gloves": true, "hat": true, "jacket": true,
	"jewelry": true, "lingerie": true, "mask": true, "panties": true, "pants": true,
	"shirt": true, "shoes": true, "shorts": true, "skirt": true, "socks": true,
	"stockings": true, "sweater": true, "swimwear": true, "top": true, "underwear": true,
	// hair types
	"bangs": true, "beard": true, "braid": true, "bun": true, "curly": true,
	"eyebrows": true, "long": true, "medium": true, "mustache": true, "ponytail": true,
	"short": true, "straight": true, "updo": true, "wavy": true,
	// style
	"casual": true, "fantasy": true, "formal": true, "sci-fi": true, "sport": true,
}

// IsKnownTag reports whether tag belongs to the vocabulary. tag must already
// be normalized.
func IsKnownTag(tag string) bool { return knownTags[tag] }

func trimJSON(data []byte) string {
	return string(bytes.TrimPrefix(data, utf8BOM))
}

// parseDependencies walks nested "dependencies" objects and returns every
// referenced package in first-seen order without duplicates. ok is false
// when the manifest is not valid JSON.
func parseDependencies(data []byte) (deps []string, ok bool) {
	body := trimJSON(data)
	if !gjson.Valid(body) {
		return nil, false
	}

	seen := make(map[string]bool)
	var walk func(gjson.Result)
	walk = func(node gjson.Result) {
		node.Get("dependencies").ForEach(func(key, value gjson.Result) bool {
			ref := strings.TrimSpace(key.String())
			if ref != "" && !seen[ref] {
				seen[ref] = true
				deps = append(deps, ref)
			}
			walk(value)
			return true
		})
	}
	walk(gjson.Parse(body))
	return deps, true
}

// parseTags reads the free-text "tags" string of a per-entry manifest.
func parseTags(data []byte) []string {
	body := trimJSON(data)
	if !gjson.Valid(body) {
		return nil
	}
	return NormalizeTags(gjson.Get(body, "tags").String())
}

// NormalizeTags splits a free-text tag string on "," and ";", trims and
// lower-cases each tag, and drops empties and duplicates.
func NormalizeTags(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	var out []string
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		tag := strings.ToLower(strings.Join(strings.Fields(f), " "))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}
