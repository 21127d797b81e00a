// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/varkeep/varkeep/internal/config"
	"github.com/varkeep/varkeep/internal/engine"
	"github.com/varkeep/varkeep/internal/issue"
	"github.com/varkeep/varkeep/internal/registry"
)

type (
	// App is the composition root of the CLI layer. Command handlers load
	// configuration and open the engine through it.
	App struct {
		// Config loads configuration; nil uses config.NewProvider.
		Config config.Provider
		stdout io.Writer
		stderr io.Writer
		flags  rootFlags

		cfg     *config.Config
		cfgPath string
		logger  *log.Logger
		eng     *engine.Engine
	}

	rootFlags struct {
		verbose    bool
		configFile string
		configDir  string
		baseDir    string
		style      string
	}
)

// NewApp creates an App writing to stdout and stderr.
func NewApp(stdout, stderr io.Writer) *App {
	return &App{stdout: stdout, stderr: stderr}
}

// loadConfig reads configuration once per invocation and sets up the logger.
func (a *App) loadConfig(ctx context.Context) error {
	if a.cfg != nil {
		return nil
	}
	if a.Config == nil {
		a.Config = config.NewProvider()
	}
	cfg, err := a.Config.Load(ctx, a.loadOptions())
	if err != nil {
		return err
	}
	path, err := config.ConfigFile(a.loadOptions())
	if err != nil {
		return err
	}
	a.cfg, a.cfgPath = cfg, path

	a.logger = log.NewWithOptions(a.stderr, log.Options{Prefix: "varkeep", Level: log.WarnLevel})
	if a.flags.verbose || cfg.UI.Verbose {
		a.flags.verbose = true
		a.logger.SetLevel(log.DebugLevel)
	}
	a.logger.Debug("configuration loaded", "file", path)
	return nil
}

func (a *App) loadOptions() config.LoadOptions {
	return config.LoadOptions{
		ConfigFilePath: a.flags.configFile,
		ConfigDirPath:  a.flags.configDir,
		BaseDir:        a.flags.baseDir,
	}
}

// engine opens the engine and runs an initial refresh so the registry
// reflects both trees.
func (a *App) engine(ctx context.Context) (*engine.Engine, error) {
	return a.open(ctx, true)
}

// open creates the engine on first use. Commands that start their own
// refresh pass initial=false.
func (a *App) open(ctx context.Context, initial bool) (*engine.Engine, error) {
	if a.eng != nil {
		return a.eng, nil
	}
	if err := a.loadConfig(ctx); err != nil {
		return nil, err
	}
	e, err := engine.New(a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	a.eng = e
	if !initial {
		return e, nil
	}
	if _, err := e.RefreshAndWait(ctx, 0); err != nil {
		return nil, fmt.Errorf("initial refresh: %w", err)
	}
	return e, nil
}

// Close releases the engine, flushing the cache.
func (a *App) Close() error {
	if a.eng == nil {
		return nil
	}
	err := a.eng.Close()
	a.eng = nil
	return err
}

// lookup resolves a reference, UID, or path to a package.
func (a *App) lookup(e *engine.Engine, ref string, lctx *registry.LoadContext) (*registry.Package, error) {
	if p := e.Package(ref); p != nil {
		return p, nil
	}
	if p := e.Resolve(ref, lctx); p != nil {
		return p, nil
	}
	return nil, issue.NewErrorContext().
		WithOperation("find package").
		WithResource(ref).
		WithSuggestions(
			"Run 'varkeep search "+ref+"' for similar names",
			fmt.Sprintf("Run 'varkeep issue %d' for help", issue.PackageNotFoundId),
		).
		Wrap(errPackageNotFound).
		BuildError()
}

var errPackageNotFound = errors.New("no registered package matches")

// fail prints the suggestions of an actionable error, and the unwrap chain
// in verbose mode, then returns err. The message itself is printed by fang.
func (a *App) fail(err error) error {
	if err == nil {
		return nil
	}
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		for _, s := range ae.Suggestions {
			fmt.Fprintln(a.stderr, WarningStyle.Render("  • ")+s)
		}
	}
	if a.flags.verbose {
		depth := 1
		for e := errors.Unwrap(err); e != nil; e = errors.Unwrap(e) {
			fmt.Fprintf(a.stderr, "  %d. %s\n", depth, e)
			depth++
		}
	}
	return err
}

// runE wraps a command handler with fail.
func (a *App) runE(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return a.fail(fn(cmd, args))
	}
}
