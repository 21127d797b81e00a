// SPDX-License-Identifier: MPL-2.0

package varpkg

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// ArchiveExt is the file extension of package archives.
const ArchiveExt = ".var"

type (
	// UID is the canonical identity of a package: "<creator>.<name>.<version>".
	UID string

	// ShortName is the version-less part of a UID: "<creator>.<name>".
	// All packages sharing a ShortName form one version group.
	ShortName string

	// Identity is a parsed package file name.
	Identity struct {
		Creator string
		Name    string
		Version int
		// Relaxed is set when the version suffix was not a plain integer and
		// the version was recovered by dropping every non-digit character.
		Relaxed bool
	}
)

// String returns the string representation of the UID.
func (u UID) String() string { return string(u) }

// String returns the string representation of the ShortName.
func (n ShortName) String() string { return string(n) }

// UID returns the canonical identity string.
func (id Identity) UID() UID {
	return UID(fmt.Sprintf("%s.%s.%d", id.Creator, id.Name, id.Version))
}

// ShortName returns the group key of the identity.
func (id Identity) ShortName() ShortName {
	return ShortName(id.Creator + "." + id.Name)
}

// ShortName returns the group key of the UID, or "" when the UID has fewer
// than three dot-separated parts.
func (u UID) ShortName() ShortName {
	creator, name, _, ok := splitUID(string(u))
	if !ok {
		return ""
	}
	return ShortName(creator + "." + name)
}

// ParseFileName parses a package identity from an archive path. Directory
// components and the ".var" extension are ignored.
func ParseFileName(path string) (Identity, error) {
	base := filepath.Base(filepath.Clean(path))
	if !strings.EqualFold(filepath.Ext(base), ArchiveExt) {
		return Identity{}, &InvalidNameError{Value: base, Reason: "missing " + ArchiveExt + " extension"}
	}
	return ParseUID(base[:len(base)-len(ArchiveExt)])
}

// ParseUID parses "<creator>.<name>.<version>". A version that is not a plain
// integer is accepted when it still contains digits: "1_1" parses as 11 with
// Relaxed set. A version without any digit is rejected.
func ParseUID(s string) (Identity, error) {
	creator, name, version, ok := splitUID(s)
	if !ok {
		return Identity{}, &InvalidNameError{Value: s, Reason: "expected <creator>.<name>.<version>"}
	}

	v, relaxed, err := parseVersion(version)
	if err != nil {
		return Identity{}, &InvalidNameError{Value: s, Reason: err.Error()}
	}

	return Identity{Creator: creator, Name: name, Version: v, Relaxed: relaxed}, nil
}

func splitUID(s string) (creator, name, version string, ok bool) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return "", "", "", false
	}
	creator, name, version = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2])
	if creator == "" || name == "" || version == "" {
		return "", "", "", false
	}
	return creator, name, version, true
}

// parseVersion parses a strict integer version and falls back to digit
// extraction for malformed suffixes.
func parseVersion(s string) (v int, relaxed bool, err error) {
	if v, err := strconv.Atoi(s); err == nil && v >= 0 {
		return v, false, nil
	}

	var digits strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0, false, fmt.Errorf("version %q contains no digits", s)
	}

	v, err = strconv.Atoi(digits.String())
	if err != nil {
		return 0, false, fmt.Errorf("version %q out of range", s)
	}
	return v, true, nil
}
