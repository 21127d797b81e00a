// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigIsValid(t *testing.T) {
	t.Parallel()

	base := filepath.Join(string(filepath.Separator), "data", "vk")
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"defaults", func(*Config) {}, nil},
		{"empty installed root", func(c *Config) { c.InstalledRoot = " " }, ErrInvalidRoot},
		{"same roots", func(c *Config) { c.RepositoryRoot = c.InstalledRoot }, ErrInvalidRoot},
		{"nested roots", func(c *Config) { c.RepositoryRoot = filepath.Join(c.InstalledRoot, "repo") }, ErrInvalidRoot},
		{"quarantine is a root", func(c *Config) { c.QuarantineRoot = c.RepositoryRoot }, ErrInvalidRoot},
		{"quarantine inside a root", func(c *Config) { c.QuarantineRoot = filepath.Join(c.InstalledRoot, "_q") }, nil},
		{"no quarantine", func(c *Config) { c.QuarantineRoot = "" }, nil},
		{"negative workers", func(c *Config) { c.Scan.Workers = -1 }, ErrInvalidScanConfig},
		{"negative progress", func(c *Config) { c.Scan.ProgressEvery = -5 }, ErrInvalidScanConfig},
		{"empty codepage", func(c *Config) { c.Encoding.LegacyCodepage = "" }, ErrInvalidEncodingConfig},
		{"zero sample", func(c *Config) { c.Encoding.SampleSize = 0 }, ErrInvalidEncodingConfig},
		{"negative threshold", func(c *Config) { c.Encoding.FastPathThreshold = -0.1 }, ErrInvalidEncodingConfig},
		{"negative debounce", func(c *Config) { c.Refresh.Debounce = -time.Second }, ErrInvalidRefreshConfig},
		{"negative depth", func(c *Config) { c.Resolve.DependencyDepth = -1 }, ErrInvalidRefreshConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := DefaultConfig(base)
			if err != nil {
				t.Fatalf("DefaultConfig() error = %v", err)
			}
			tt.mutate(cfg)

			valid, errs := cfg.IsValid()
			if tt.want == nil {
				if !valid {
					t.Errorf("IsValid() = false, %v", errs)
				}
				return
			}
			if valid || len(errs) != 1 {
				t.Fatalf("IsValid() = %v, %v, want one error", valid, errs)
			}
			if !errors.Is(errs[0], ErrInvalidConfig) || !errors.Is(errs[0], tt.want) {
				t.Errorf("IsValid() error = %v, want %v", errs[0], tt.want)
			}
		})
	}
}

func TestInvalidConfigErrorMessage(t *testing.T) {
	t.Parallel()

	single := &InvalidConfigError{FieldErrors: []error{&InvalidRootError{Key: "installed_root", Value: "", Reason: "must not be empty"}}}
	if got, want := single.Error(), `invalid config: installed_root "": must not be empty`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	multi := &InvalidConfigError{FieldErrors: []error{errors.New("a"), errors.New("b")}}
	if got, want := multi.Error(), "invalid config: 2 field error(s)"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
