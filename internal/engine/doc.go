// SPDX-License-Identifier: MPL-2.0

// Package engine is the composition root of varkeep. It builds the cache,
// name-encoding detector, scanner, registry, refresh coordinator, and
// install manager from one Config and exposes them as a single surface.
package engine
