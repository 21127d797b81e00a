// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
)

const (
	// DefaultBaseDirName is the directory under the user's home holding the
	// default package trees and cache.
	DefaultBaseDirName = "varkeep"

	defaultScanProgressEvery = 50
	defaultSampleSize        = 60
	defaultFastPathThreshold = 1.0
	defaultDebounce          = 750 * time.Millisecond
)

var (
	// ErrInvalidRoot is returned when a package root is empty or collides
	// with another root.
	ErrInvalidRoot = errors.New("invalid package root")
	// ErrInvalidScanConfig is the sentinel error wrapped by InvalidScanConfigError.
	ErrInvalidScanConfig = errors.New("invalid scan config")
	// ErrInvalidEncodingConfig is the sentinel error wrapped by InvalidEncodingConfigError.
	ErrInvalidEncodingConfig = errors.New("invalid encoding config")
	// ErrInvalidRefreshConfig is the sentinel error wrapped by InvalidRefreshConfigError.
	ErrInvalidRefreshConfig = errors.New("invalid refresh config")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// InvalidRootError is returned when a root setting is unusable.
	InvalidRootError struct {
		Key    string
		Value  string
		Reason string
	}

	// InvalidScanConfigError collects field errors of a ScanConfig.
	InvalidScanConfigError struct {
		FieldErrors []error
	}

	// InvalidEncodingConfigError collects field errors of an EncodingConfig.
	InvalidEncodingConfigError struct {
		FieldErrors []error
	}

	// InvalidRefreshConfigError collects field errors of a RefreshConfig and
	// ResolveConfig.
	InvalidRefreshConfigError struct {
		FieldErrors []error
	}

	// InvalidConfigError is returned when a Config has invalid fields. It
	// collects the field errors of every section.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// InstalledRoot is the tree of packages the application loads.
		InstalledRoot string `json:"installed_root" mapstructure:"installed_root"`
		// RepositoryRoot holds packages that are available but not installed.
		RepositoryRoot string `json:"repository_root" mapstructure:"repository_root"`
		// QuarantineRoot receives archives removed by cleanup.
		QuarantineRoot string `json:"quarantine_root" mapstructure:"quarantine_root"`
		// CacheDir holds the persistent scan cache.
		CacheDir string         `json:"cache_dir" mapstructure:"cache_dir"`
		Scan     ScanConfig     `json:"scan" mapstructure:"scan"`
		Encoding EncodingConfig `json:"encoding" mapstructure:"encoding"`
		Refresh  RefreshConfig  `json:"refresh" mapstructure:"refresh"`
		Resolve  ResolveConfig  `json:"resolve" mapstructure:"resolve"`
		UI       UIConfig       `json:"ui" mapstructure:"ui"`
	}

	// ScanConfig tunes archive scanning.
	ScanConfig struct {
		// Workers bounds concurrent scans; 0 means one per CPU.
		Workers int `json:"workers" mapstructure:"workers"`
		// ProgressEvery emits a progress event every N scanned packages.
		ProgressEvery int `json:"progress_every" mapstructure:"progress_every"`
	}

	// EncodingConfig tunes entry-name encoding detection.
	EncodingConfig struct {
		// SystemCodepage is a codepage name, or "auto" for windows-1252.
		SystemCodepage    string  `json:"system_codepage" mapstructure:"system_codepage"`
		LegacyCodepage    string  `json:"legacy_codepage" mapstructure:"legacy_codepage"`
		SampleSize        int     `json:"sample_size" mapstructure:"sample_size"`
		FastPathThreshold float64 `json:"fast_path_threshold" mapstructure:"fast_path_threshold"`
	}

	// RefreshConfig controls automatic refreshes.
	RefreshConfig struct {
		// Watch keeps `varkeep refresh` running after the first refresh,
		// refreshing again whenever either root changes.
		Watch    bool          `json:"watch" mapstructure:"watch"`
		Debounce time.Duration `json:"debounce" mapstructure:"debounce"`
	}

	// ResolveConfig controls dependency traversal.
	ResolveConfig struct {
		// DependencyDepth limits recursive dependency listings; 0 is unlimited.
		DependencyDepth int `json:"dependency_depth" mapstructure:"dependency_depth"`
	}

	// UIConfig configures the user interface.
	UIConfig struct {
		Verbose bool `json:"verbose" mapstructure:"verbose"`
	}
)

// DefaultConfig returns the defaults rooted at baseDir. An empty baseDir
// means "~/varkeep".
func DefaultConfig(baseDir string) (*Config, error) {
	if baseDir == "" {
		home, err := homedir.Dir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(home, DefaultBaseDirName)
	}
	return &Config{
		InstalledRoot:  filepath.Join(baseDir, "AddonPackages"),
		RepositoryRoot: filepath.Join(baseDir, "Repository"),
		QuarantineRoot: filepath.Join(baseDir, "Quarantine"),
		CacheDir:       filepath.Join(baseDir, "cache"),
		Scan: ScanConfig{
			ProgressEvery: defaultScanProgressEvery,
		},
		Encoding: EncodingConfig{
			SystemCodepage:    "auto",
			LegacyCodepage:    "gbk",
			SampleSize:        defaultSampleSize,
			FastPathThreshold: defaultFastPathThreshold,
		},
		Refresh: RefreshConfig{
			Debounce: defaultDebounce,
		},
	}, nil
}

// IsValid returns whether the ScanConfig has valid fields.
func (c ScanConfig) IsValid() (bool, []error) {
	var errs []error
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("scan.workers must not be negative, got %d", c.Workers))
	}
	if c.ProgressEvery < 0 {
		errs = append(errs, fmt.Errorf("scan.progress_every must not be negative, got %d", c.ProgressEvery))
	}
	if len(errs) > 0 {
		return false, []error{&InvalidScanConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidScanConfigError.
func (e *InvalidScanConfigError) Error() string {
	return fmt.Sprintf("invalid scan config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidScanConfig for errors.Is() compatibility.
func (e *InvalidScanConfigError) Unwrap() error { return ErrInvalidScanConfig }

// IsValid returns whether the EncodingConfig has valid fields. Codepage
// names are checked when the detector is built.
func (c EncodingConfig) IsValid() (bool, []error) {
	var errs []error
	if strings.TrimSpace(c.SystemCodepage) == "" {
		errs = append(errs, errors.New("encoding.system_codepage must not be empty"))
	}
	if strings.TrimSpace(c.LegacyCodepage) == "" {
		errs = append(errs, errors.New("encoding.legacy_codepage must not be empty"))
	}
	if c.SampleSize <= 0 {
		errs = append(errs, fmt.Errorf("encoding.sample_size must be positive, got %d", c.SampleSize))
	}
	if c.FastPathThreshold < 0 {
		errs = append(errs, fmt.Errorf("encoding.fast_path_threshold must not be negative, got %g", c.FastPathThreshold))
	}
	if len(errs) > 0 {
		return false, []error{&InvalidEncodingConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidEncodingConfigError.
func (e *InvalidEncodingConfigError) Error() string {
	return fmt.Sprintf("invalid encoding config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidEncodingConfig for errors.Is() compatibility.
func (e *InvalidEncodingConfigError) Unwrap() error { return ErrInvalidEncodingConfig }

// IsValid returns whether the RefreshConfig has valid fields.
func (c RefreshConfig) IsValid() (bool, []error) {
	if c.Debounce < 0 {
		return false, []error{&InvalidRefreshConfigError{FieldErrors: []error{
			fmt.Errorf("refresh.debounce must not be negative, got %s", c.Debounce),
		}}}
	}
	return true, nil
}

// IsValid returns whether the ResolveConfig has valid fields.
func (c ResolveConfig) IsValid() (bool, []error) {
	if c.DependencyDepth < 0 {
		return false, []error{&InvalidRefreshConfigError{FieldErrors: []error{
			fmt.Errorf("resolve.dependency_depth must not be negative, got %d", c.DependencyDepth),
		}}}
	}
	return true, nil
}

// Error implements the error interface for InvalidRefreshConfigError.
func (e *InvalidRefreshConfigError) Error() string {
	return fmt.Sprintf("invalid refresh config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidRefreshConfig for errors.Is() compatibility.
func (e *InvalidRefreshConfigError) Unwrap() error { return ErrInvalidRefreshConfig }

// Error implements the error interface for InvalidRootError.
func (e *InvalidRootError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Key, e.Value, e.Reason)
}

// Unwrap returns ErrInvalidRoot for errors.Is() compatibility.
func (e *InvalidRootError) Unwrap() error { return ErrInvalidRoot }

// validateRoots requires both package roots and keeps them apart. The
// quarantine root may live inside a package root.
func (c Config) validateRoots() []error {
	var errs []error
	for _, r := range []struct{ key, value string }{
		{"installed_root", c.InstalledRoot},
		{"repository_root", c.RepositoryRoot},
	} {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, &InvalidRootError{Key: r.key, Value: r.value, Reason: "must not be empty"})
		}
	}
	if len(errs) > 0 {
		return errs
	}

	installed, repository := filepath.Clean(c.InstalledRoot), filepath.Clean(c.RepositoryRoot)
	switch {
	case installed == repository:
		errs = append(errs, &InvalidRootError{Key: "repository_root", Value: c.RepositoryRoot, Reason: "must differ from installed_root"})
	case nested(installed, repository) || nested(repository, installed):
		errs = append(errs, &InvalidRootError{Key: "repository_root", Value: c.RepositoryRoot, Reason: "must not nest with installed_root"})
	}
	if c.QuarantineRoot != "" {
		q := filepath.Clean(c.QuarantineRoot)
		if q == installed || q == repository {
			errs = append(errs, &InvalidRootError{Key: "quarantine_root", Value: c.QuarantineRoot, Reason: "must differ from the package roots"})
		}
	}
	return errs
}

func nested(parent, child string) bool {
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

// IsValid returns whether the Config has valid fields. It delegates to the
// IsValid method of every section.
func (c Config) IsValid() (bool, []error) {
	errs := c.validateRoots()
	for _, v := range []interface{ IsValid() (bool, []error) }{c.Scan, c.Encoding, c.Refresh, c.Resolve} {
		if valid, fieldErrs := v.IsValid(); !valid {
			errs = append(errs, fieldErrs...)
		}
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	if len(e.FieldErrors) == 1 {
		return "invalid config: " + e.FieldErrors[0].Error()
	}
	return fmt.Sprintf("invalid config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidConfig and the field errors so errors.Is matches
// both the config sentinel and the section sentinels.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}
