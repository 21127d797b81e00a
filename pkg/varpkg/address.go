// SPDX-License-Identifier: MPL-2.0

package varpkg

import (
	"fmt"
	"strings"
)

// AddressSeparator joins a package locator and an archive-internal path.
const AddressSeparator = ":/"

// Address locates one file inside a package archive.
type Address struct {
	// Package is a package path, a UID, or a .latest/.minN reference.
	Package string
	// Entry is the internal path with forward slashes and no leading slash.
	Entry string
}

// ParseAddress splits "<package>:/<internal/path>". The last separator wins,
// so Windows drive letters in the package path ("C:/x/a.b.1.var:/f") work.
func ParseAddress(s string) (Address, error) {
	i := strings.LastIndex(s, AddressSeparator)
	if i <= 0 {
		return Address{}, fmt.Errorf("invalid entry address %q: expected <package>%s<path>", s, AddressSeparator)
	}
	entry := NormalizeEntryPath(s[i+len(AddressSeparator):])
	if entry == "" {
		return Address{}, fmt.Errorf("invalid entry address %q: empty entry path", s)
	}
	return Address{Package: s[:i], Entry: entry}, nil
}

// NormalizeEntryPath converts backslashes to slashes and strips leading slashes.
func NormalizeEntryPath(p string) string {
	return strings.TrimLeft(strings.ReplaceAll(p, `\`, "/"), "/")
}

// String returns the canonical address form.
func (a Address) String() string {
	return a.Package + AddressSeparator + a.Entry
}

// EntryKey builds the flat lookup key for an entry of a package, as used by
// the registry's uid and path maps.
func EntryKey(pkg, entry string) string {
	return pkg + AddressSeparator + NormalizeEntryPath(entry)
}
