// SPDX-License-Identifier: MPL-2.0

// Package varpkg defines the identity grammar shared by every varkeep component.
//
// A package is a zip archive named "<creator>.<name>.<version>.var". This package
// owns the parsing and validation of those names and of the strings that refer
// to packages and to files inside them:
//
//   - [UID]: the canonical "<creator>.<name>.<version>" identity
//   - [ShortName]: "<creator>.<name>", the key of a version group
//   - [Reference]: a dependency reference (exact UID, ".latest", ".minN", or "SELF")
//   - [Address]: "<package>:/<internal/path>" for one file inside a package
//
// The error taxonomy for predictable negative outcomes (invalid names, duplicate
// identities, corrupt archives, missing dependencies, install conflicts) lives
// here too, so that callers can branch on [errors.Is] without importing the
// components that produce them.
package varpkg
