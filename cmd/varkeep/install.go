// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/varkeep/varkeep/internal/engine"
	"github.com/varkeep/varkeep/internal/issue"
	"github.com/varkeep/varkeep/internal/registry"
)

type moveFunc func(e *engine.Engine, p *registry.Package) (bool, error)

func newInstallCommand(app *App) *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "install <package>...",
		Short: "Move packages from the repository into the installed tree",
		Long: `Move packages from the repository root into the installed root, keeping
their relative path. With --recursive, dependencies are installed first.
A package whose target is occupied by a different file is skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: app.runE(func(cmd *cobra.Command, args []string) error {
			move := (*engine.Engine).Install
			if recursive {
				move = (*engine.Engine).InstallRecursive
			}
			return app.moveAll(cmd, args, "install package", "installed", move)
		}),
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "also install every dependency")
	return cmd
}

func newUninstallCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <package>...",
		Short: "Move packages from the installed tree back into the repository",
		Args:  cobra.MinimumNArgs(1),
		RunE: app.runE(func(cmd *cobra.Command, args []string) error {
			return app.moveAll(cmd, args, "uninstall package", "uninstalled", (*engine.Engine).Uninstall)
		}),
	}
}

// moveAll applies move to every argument. A failure on one package does not
// stop the others; all failures are returned joined.
func (a *App) moveAll(cmd *cobra.Command, refs []string, op, done string, move moveFunc) error {
	e, err := a.engine(cmd.Context())
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()

	var errs []error
	for _, ref := range refs {
		p, err := a.lookup(e, ref, nil)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		moved, err := move(e, p)
		if err != nil {
			errs = append(errs, issue.NewErrorContext().
				WithOperation(op).
				WithResource(string(p.UID())).
				WithIssue(err).
				Wrap(err).
				BuildError())
			continue
		}
		if moved {
			fmt.Fprintf(w, "%s %s\n", SuccessStyle.Render(done), UIDStyle.Render(string(p.UID())))
		} else {
			fmt.Fprintf(w, "%s %s\n", SubtitleStyle.Render("unchanged"), UIDStyle.Render(string(p.UID())))
		}
	}
	if err := e.WaitIdle(cmd.Context()); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
