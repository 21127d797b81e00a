// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the varkeep CLI commands.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// NewRootCommand builds the varkeep command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "varkeep",
		Short: "Index, cache, and manage .var content packages",
		Long: TitleStyle.Render("varkeep") + SubtitleStyle.Render(" - index, cache, and manage .var content packages") + `

varkeep keeps an index of the packages under an installed tree and a
repository tree, remembers what each archive contains in a binary cache,
resolves dependency references, and moves packages between the trees.

` + SubtitleStyle.Render("Examples:") + `
  varkeep refresh                 Rebuild the index and scan new archives
  varkeep resolve Al.Base.latest  Show which package a reference picks
  varkeep install -r Al.Scene.3   Install a package and its dependencies
  varkeep missing                 List dependencies nothing satisfies
  varkeep config show             Show the effective configuration`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipConfig(cmd) {
				return nil
			}
			return app.fail(app.loadConfig(cmd.Context()))
		},
	}
	root.SetOut(app.stdout)
	root.SetErr(app.stderr)

	pf := root.PersistentFlags()
	pf.BoolVarP(&app.flags.verbose, "verbose", "v", false, "enable debug logging and full error chains")
	pf.StringVar(&app.flags.configFile, "config", "", "config file (default is <config dir>/varkeep/config.cue)")
	pf.StringVar(&app.flags.configDir, "config-dir", "", "directory searched for config.cue")
	pf.StringVar(&app.flags.baseDir, "base-dir", "", "directory the default roots live under (default ~/varkeep)")
	pf.StringVar(&app.flags.style, "style", "auto", "markdown style for help pages (auto, dark, light, notty)")
	_ = pf.MarkHidden("config-dir")

	root.AddCommand(
		newRefreshCommand(app),
		newListCommand(app),
		newShowCommand(app),
		newResolveCommand(app),
		newDepsCommand(app),
		newMissingCommand(app),
		newCatCommand(app),
		newSearchCommand(app),
		newInstallCommand(app),
		newUninstallCommand(app),
		newCleanupCommand(app),
		newWatchCommand(app),
		newStatsCommand(app),
		newConfigCommand(app),
		newIssueCommand(app),
	)
	return root
}

// skipConfig reports commands that must work without a loadable config.
func skipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations["skipConfig"] == "true" {
			return true
		}
	}
	return false
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	app := NewApp(os.Stdout, os.Stderr)
	root := NewRootCommand(app)
	err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	)
	if closeErr := app.Close(); closeErr != nil {
		fmt.Fprintln(os.Stderr, WarningStyle.Render("Warning: ")+closeErr.Error())
	}
	if err != nil {
		os.Exit(1)
	}
}
