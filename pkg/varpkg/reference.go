// SPDX-License-Identifier: MPL-2.0

package varpkg

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// SelfToken refers to the package currently being loaded.
	SelfToken = "SELF"

	latestSuffix = "latest"
	minPrefix    = "min"
)

const (
	// RefExact names one version: "<creator>.<name>.<version>".
	RefExact RefKind = iota
	// RefLatest selects the newest enabled version: "<creator>.<name>.latest".
	RefLatest
	// RefMin selects the smallest version >= N: "<creator>.<name>.minN".
	RefMin
	// RefSelf stands for the package at the top of the caller's load context.
	RefSelf
)

type (
	// RefKind classifies a Reference.
	RefKind int

	// Reference is a parsed dependency reference.
	Reference struct {
		// Raw is the original reference text.
		Raw string
		// Kind selects the resolution strategy.
		Kind RefKind
		// Short is the group key. Empty for RefSelf.
		Short ShortName
		// Version is the exact version for RefExact, or N for RefMin.
		Version int
	}
)

// String returns a human-readable name for the kind.
func (k RefKind) String() string {
	switch k {
	case RefExact:
		return "exact"
	case RefLatest:
		return "latest"
	case RefMin:
		return "min"
	case RefSelf:
		return "self"
	default:
		return "unknown"
	}
}

// ParseReference parses a package reference. Surrounding whitespace and a
// trailing ":" (as in "SELF:") are ignored.
func ParseReference(s string) (Reference, error) {
	raw := s
	s = strings.TrimSuffix(strings.TrimSpace(s), ":")
	if s == "" {
		return Reference{}, &InvalidNameError{Value: raw, Reason: "empty reference"}
	}
	if s == SelfToken {
		return Reference{Raw: raw, Kind: RefSelf}, nil
	}

	creator, name, version, ok := splitUID(s)
	if !ok {
		return Reference{}, &InvalidNameError{Value: raw, Reason: "expected <creator>.<name>.<version|latest|minN>"}
	}
	short := ShortName(creator + "." + name)

	switch {
	case strings.EqualFold(version, latestSuffix):
		return Reference{Raw: raw, Kind: RefLatest, Short: short}, nil
	case len(version) > len(minPrefix) && strings.EqualFold(version[:len(minPrefix)], minPrefix):
		n, err := strconv.Atoi(version[len(minPrefix):])
		if err != nil || n < 0 {
			return Reference{}, &InvalidNameError{Value: raw, Reason: fmt.Sprintf("invalid minimum version %q", version)}
		}
		return Reference{Raw: raw, Kind: RefMin, Short: short, Version: n}, nil
	}

	v, _, err := parseVersion(version)
	if err != nil {
		return Reference{}, &InvalidNameError{Value: raw, Reason: err.Error()}
	}
	return Reference{Raw: raw, Kind: RefExact, Short: short, Version: v}, nil
}

// UID returns the exact UID for RefExact references and "" otherwise.
func (r Reference) UID() UID {
	if r.Kind != RefExact {
		return ""
	}
	return UID(fmt.Sprintf("%s.%d", r.Short, r.Version))
}

// String returns the canonical form of the reference.
func (r Reference) String() string {
	switch r.Kind {
	case RefSelf:
		return SelfToken
	case RefLatest:
		return string(r.Short) + "." + latestSuffix
	case RefMin:
		return fmt.Sprintf("%s.%s%d", r.Short, minPrefix, r.Version)
	default:
		return string(r.UID())
	}
}
