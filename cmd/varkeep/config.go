// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/varkeep/varkeep/internal/config"
	"github.com/varkeep/varkeep/internal/issue"
)

// newConfigCommand creates the `varkeep config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage varkeep configuration",
		Long: `Manage varkeep configuration.

Configuration is stored in:
  - Linux: ~/.config/varkeep/config.cue
  - macOS: ~/Library/Application Support/varkeep/config.cue
  - Windows: %APPDATA%\varkeep\config.cue

Every key can be overridden with a VARKEEP_ environment variable, for
example VARKEEP_SCAN_WORKERS=8.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: app.runE(func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			if app.cfgPath != "" {
				fmt.Fprintln(w, SubtitleStyle.Render("// from "+app.cfgPath))
			} else {
				fmt.Fprintln(w, SubtitleStyle.Render("// built-in defaults"))
			}
			fmt.Fprint(w, config.GenerateCUE(app.cfg))
			return nil
		}),
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration file in use",
		Args:  cobra.NoArgs,
		RunE: app.runE(func(cmd *cobra.Command, _ []string) error {
			if app.cfgPath == "" {
				fmt.Fprintln(cmd.OutOrStdout(), SubtitleStyle.Render("no configuration file, using defaults"))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), app.cfgPath)
			return nil
		}),
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:         "init",
		Short:       "Write a default configuration file",
		Long:        "Write config.cue with the default settings. An existing file is left untouched.",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfig": "true"},
		RunE: app.runE(func(cmd *cobra.Command, _ []string) error {
			dir := app.flags.configDir
			if dir == "" {
				d, err := config.ConfigDir()
				if err != nil {
					return err
				}
				dir = d
			}
			path, err := config.CreateDefaultConfig(dir, app.flags.baseDir)
			if err != nil {
				return issue.NewErrorContext().
					WithOperation("write default configuration").
					WithResource(dir).
					WithIssue(err).
					Wrap(err).
					BuildError()
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("configuration at ")+path)
			return nil
		}),
	})

	return cfgCmd
}
