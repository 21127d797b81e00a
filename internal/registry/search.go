// SPDX-License-Identifier: MPL-2.0

package registry

import "github.com/sahilm/fuzzy"

// Match is one search hit.
type Match struct {
	Package *Package
	// Matched holds the byte offsets of matched characters in the UID.
	Matched []int
	Score   int
}

// packageSource adapts a package list to fuzzy.Source.
type packageSource []*Package

func (s packageSource) String(i int) string { return string(s[i].uid) }
func (s packageSource) Len() int            { return len(s) }

// Search ranks registered packages by fuzzy match of query against their
// UIDs, best first. An empty query lists every package by UID. limit <= 0
// returns all matches.
func (r *Registry) Search(query string, limit int) []Match {
	pkgs := r.Packages()

	var out []Match
	if query == "" {
		out = make([]Match, 0, len(pkgs))
		for _, p := range pkgs {
			out = append(out, Match{Package: p})
		}
	} else {
		for _, m := range fuzzy.FindFrom(query, packageSource(pkgs)) {
			out = append(out, Match{Package: pkgs[m.Index], Matched: m.MatchedIndexes, Score: m.Score})
		}
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
