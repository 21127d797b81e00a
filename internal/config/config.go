// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/varkeep/varkeep/internal/issue"
)

const (
	// AppName is the application name.
	AppName = "varkeep"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides, e.g. VARKEEP_SCAN_WORKERS.
	EnvPrefix = "VARKEEP"

	// maxConfigFileSize bounds the config file read into memory.
	maxConfigFileSize = 1 << 20
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the varkeep configuration directory using platform
// conventions: Windows uses %APPDATA%, macOS uses ~/Library/Application
// Support, and Linux/others use $XDG_CONFIG_HOME (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			home, err := homedir.Dir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, "AppData", "Roaming")
		}
	case "darwin":
		home, err := homedir.Dir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default:
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := homedir.Dir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// setDefaults registers every key so environment overrides apply to keys
// absent from the config file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("installed_root", d.InstalledRoot)
	v.SetDefault("repository_root", d.RepositoryRoot)
	v.SetDefault("quarantine_root", d.QuarantineRoot)
	v.SetDefault("cache_dir", d.CacheDir)
	v.SetDefault("scan.workers", d.Scan.Workers)
	v.SetDefault("scan.progress_every", d.Scan.ProgressEvery)
	v.SetDefault("encoding.system_codepage", d.Encoding.SystemCodepage)
	v.SetDefault("encoding.legacy_codepage", d.Encoding.LegacyCodepage)
	v.SetDefault("encoding.sample_size", d.Encoding.SampleSize)
	v.SetDefault("encoding.fast_path_threshold", d.Encoding.FastPathThreshold)
	v.SetDefault("refresh.watch", d.Refresh.Watch)
	v.SetDefault("refresh.debounce", d.Refresh.Debounce)
	v.SetDefault("resolve.dependency_depth", d.Resolve.DependencyDepth)
	v.SetDefault("ui.verbose", d.UI.Verbose)
}

// loadWithOptions performs option-driven config loading and returns the
// resolved config file path ("" when only defaults and environment apply).
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}
	if err := opts.Validate(); err != nil {
		return nil, "", err
	}

	defaults, err := DefaultConfig(opts.BaseDir)
	if err != nil {
		return nil, "", err
	}

	v := viper.New()
	setDefaults(v, defaults)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolvedPath, err := findConfigFile(opts)
	if err != nil {
		return nil, "", err
	}
	if resolvedPath != "" {
		if err := loadCUEIntoViper(v, resolvedPath); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(resolvedPath).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithSuggestion("Run 'varkeep config show' to see the effective configuration").
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.expandHome()

	if valid, errs := cfg.IsValid(); !valid {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithSuggestion("Keep installed_root and repository_root in separate directories").
			WithSuggestion("Use non-negative numbers for workers, depths and durations").
			Wrap(errs[0]).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

// findConfigFile picks the explicit file, then "<config dir>/config.cue",
// then "./config.cue". A missing optional file is not an error.
func findConfigFile(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Run 'varkeep config init' to write a default configuration").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		return opts.ConfigFilePath, nil
	}

	cfgDir := opts.ConfigDirPath
	if cfgDir == "" {
		dir, err := ConfigDir()
		if err != nil {
			return "", err
		}
		cfgDir = dir
	}
	if p := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt); fileExists(p) {
		return p, nil
	}
	if opts.ConfigDirPath == "" {
		if p := ConfigFileName + "." + ConfigFileExt; fileExists(p) {
			return p, nil
		}
	}
	return "", nil
}

// loadCUEIntoViper parses a CUE file, validates it against the #Config
// schema, and merges its contents into Viper.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if len(data) > maxConfigFileSize {
		return fmt.Errorf("%s: file size %d bytes exceeds maximum %d bytes", path, len(data), maxConfigFileSize)
	}

	ctx := cuecontext.New()
	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return formatCUEError(userValue.Err(), path)
	}

	unified := schemaValue.LookupPath(cue.ParsePath("#Config")).Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return formatCUEError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return formatCUEError(err, path)
	}

	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

// formatCUEError renders CUE errors as "<file>: <dotted.path>: <message>".
func formatCUEError(err error, path string) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return fmt.Errorf("%s: %w", path, err)
	}

	lines := make([]string, 0, len(errs))
	for _, e := range errs {
		field := strings.Join(cueerrors.Path(e), ".")
		msg := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(e.Error(), field), ":"))
		if field == "" {
			lines = append(lines, msg)
			continue
		}
		lines = append(lines, field+": "+msg)
	}
	if len(lines) == 1 {
		return fmt.Errorf("%s: %s", path, lines[0])
	}
	return fmt.Errorf("%s: validation failed:\n  %s", path, strings.Join(lines, "\n  "))
}

// expandHome resolves a leading "~" in every path setting.
func (c *Config) expandHome() {
	for _, p := range []*string{&c.InstalledRoot, &c.RepositoryRoot, &c.QuarantineRoot, &c.CacheDir} {
		if expanded, err := homedir.Expand(*p); err == nil {
			*p = expanded
		}
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig writes the defaults to "<dir>/config.cue" unless the
// file already exists, and returns its path. An empty dir means ConfigDir.
func CreateDefaultConfig(dir, baseDir string) (string, error) {
	if dir == "" {
		d, err := ConfigDir()
		if err != nil {
			return "", err
		}
		dir = d
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	cfgPath := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	if fileExists(cfgPath) {
		return cfgPath, nil
	}

	defaults, err := DefaultConfig(baseDir)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(cfgPath, []byte(GenerateCUE(defaults)), 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return cfgPath, nil
}

// GenerateCUE renders cfg as a config file.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// varkeep configuration file\n\n")
	fmt.Fprintf(&sb, "installed_root:  %q\n", cfg.InstalledRoot)
	fmt.Fprintf(&sb, "repository_root: %q\n", cfg.RepositoryRoot)
	fmt.Fprintf(&sb, "quarantine_root: %q\n", cfg.QuarantineRoot)
	fmt.Fprintf(&sb, "cache_dir:       %q\n", cfg.CacheDir)

	sb.WriteString("\nscan: {\n")
	fmt.Fprintf(&sb, "\tworkers:        %d\n", cfg.Scan.Workers)
	fmt.Fprintf(&sb, "\tprogress_every: %d\n", cfg.Scan.ProgressEvery)
	sb.WriteString("}\n")

	sb.WriteString("\nencoding: {\n")
	fmt.Fprintf(&sb, "\tsystem_codepage:     %q\n", cfg.Encoding.SystemCodepage)
	fmt.Fprintf(&sb, "\tlegacy_codepage:     %q\n", cfg.Encoding.LegacyCodepage)
	fmt.Fprintf(&sb, "\tsample_size:         %d\n", cfg.Encoding.SampleSize)
	fmt.Fprintf(&sb, "\tfast_path_threshold: %g\n", cfg.Encoding.FastPathThreshold)
	sb.WriteString("}\n")

	sb.WriteString("\nrefresh: {\n")
	fmt.Fprintf(&sb, "\twatch:    %v\n", cfg.Refresh.Watch)
	fmt.Fprintf(&sb, "\tdebounce: %q\n", cfg.Refresh.Debounce.String())
	sb.WriteString("}\n")

	sb.WriteString("\nresolve: {\n")
	fmt.Fprintf(&sb, "\tdependency_depth: %d\n", cfg.Resolve.DependencyDepth)
	sb.WriteString("}\n")

	sb.WriteString("\nui: {\n")
	fmt.Fprintf(&sb, "\tverbose: %v\n", cfg.UI.Verbose)
	sb.WriteString("}\n")

	return sb.String()
}
