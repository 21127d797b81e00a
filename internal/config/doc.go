// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with CUE as
// the file format.
//
// Configuration is layered: built-in defaults rooted at ~/varkeep, then
// config.cue from the platform config directory (or an explicit file),
// validated against the embedded #Config schema, then VARKEEP_* environment
// variables (VARKEEP_SCAN_WORKERS overrides scan.workers).
package config
