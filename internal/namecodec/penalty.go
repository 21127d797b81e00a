// SPDX-License-Identifier: MPL-2.0

package namecodec

import "unicode/utf8"

const (
	replacementPenalty = 20
	controlPenalty     = 10
	questionWeight     = 50
	questionDensityMax = 0.2
	latinHeavyPenalty  = 15
	isolatedCJKPenalty = 15
	digraphPenalty     = 5
)

// mojibakeLeads are runes that UTF-8 lead bytes turn into when read as
// Windows-1252 or Latin-1.
var mojibakeLeads = map[rune]bool{
	'Ã': true, 'Â': true, 'â': true, 'ä': true, 'å': true,
	'ã': true, 'æ': true, 'ç': true, 'è': true, 'é': true, 'ï': true,
}

// Penalty scores how unlikely name is to be a correctly decoded file name.
// Invalid UTF-8 bytes in name count as replacement characters. Zero means
// nothing suspicious was found.
//
// Double-byte text read as a single-byte codepage turns every character
// into two adjacent Latin-1 runes, so only names with such adjacent pairs
// count as Latin-heavy; accents scattered between ASCII letters do not.
// Single-byte text read as a double-byte codepage swallows an ASCII letter
// into a lone CJK rune, which is penalized in turn.
func Penalty(name string) float64 {
	runes := []rune(name)
	if len(runes) == 0 {
		return 0
	}

	var (
		score    float64
		question int
		latin    int
		paired   bool
		nonASCII int
		cjk      int
	)
	for i, r := range runes {
		prev, next := rune(-1), rune(-1)
		if i > 0 {
			prev = runes[i-1]
		}
		if i+1 < len(runes) {
			next = runes[i+1]
		}

		switch {
		case r == utf8.RuneError:
			score += replacementPenalty
		case r < 0x20 || (r >= 0x7f && r < 0xa0):
			score += controlPenalty
		case r == '?':
			question++
		}
		if r >= 0x80 {
			nonASCII++
		}
		if isLatinSupplement(r) {
			latin++
			if isLatinSupplement(prev) {
				paired = true
			}
		}
		if isCJK(r) {
			cjk++
			if isASCIILetter(prev) && isASCIILetter(next) {
				score += isolatedCJKPenalty
			}
		}
		if mojibakeLeads[prev] && isMojibakeTrail(r) {
			score += digraphPenalty
		}
	}

	if density := float64(question) / float64(len(runes)); density > questionDensityMax {
		score += questionWeight * density
	}
	if cjk == 0 && paired && latin*2 >= nonASCII {
		score += latinHeavyPenalty
	}
	return score
}

func isASCIILetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isLatinSupplement(r rune) bool {
	return r >= 0xa0 && r <= 0x24f
}

// isMojibakeTrail matches runes produced by UTF-8 continuation bytes
// (0x80-0xBF) under Windows-1252, plus the rest of the Latin-1 block.
func isMojibakeTrail(r rune) bool {
	if r >= 0x80 && r <= 0xff {
		return true
	}
	switch r {
	case 0x152, 0x153, 0x160, 0x161, 0x178, 0x17d, 0x17e, 0x192, 0x2c6, 0x2dc,
		0x2013, 0x2014, 0x2018, 0x2019, 0x201a, 0x201c, 0x201d, 0x201e,
		0x2020, 0x2021, 0x2022, 0x2026, 0x2030, 0x2039, 0x203a, 0x20ac, 0x2122:
		return true
	}
	return false
}

func isCJK(r rune) bool {
	switch {
	case r >= 0x3040 && r <= 0x30ff: // kana
	case r >= 0x3400 && r <= 0x4dbf:
	case r >= 0x4e00 && r <= 0x9fff:
	case r >= 0xac00 && r <= 0xd7af: // hangul
	case r >= 0xf900 && r <= 0xfaff:
	case r >= 0xff00 && r <= 0xffef: // fullwidth forms
	default:
		return false
	}
	return true
}
