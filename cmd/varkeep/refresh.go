// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/varkeep/varkeep/internal/engine"
	"github.com/varkeep/varkeep/internal/refresh"
	"github.com/varkeep/varkeep/internal/registry"
)

func newRefreshCommand(app *App) *cobra.Command {
	var cleanInvalid, removeOld, watchAfter bool
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Synchronize the index with both package trees",
		Long: `Enumerate the installed and repository trees, register new archives, drop
archives that disappeared, and scan every archive not scanned yet (served
from the cache when unchanged). With --watch, or refresh.watch set in the
configuration, keep refreshing whenever the trees change.`,
		Args: cobra.NoArgs,
		RunE: app.runE(func(cmd *cobra.Command, _ []string) error {
			var flags refresh.Flags
			if cleanInvalid {
				flags |= refresh.CleanInvalid
			}
			if removeOld {
				flags |= refresh.RemoveOldVersions
			}
			w := cmd.OutOrStdout()
			if err := app.runRefresh(cmd.Context(), w, flags); err != nil {
				return err
			}
			if !watchAfter && !app.cfg.Refresh.Watch {
				return nil
			}
			return app.watch(cmd.Context(), w, false)
		}),
	}
	cmd.Flags().BoolVar(&cleanInvalid, "clean-invalid", false, "quarantine misnamed, duplicate, and corrupt archives")
	cmd.Flags().BoolVar(&removeOld, "remove-old-versions", false, "quarantine superseded versions nothing depends on")
	cmd.Flags().BoolVarP(&watchAfter, "watch", "w", false, "keep refreshing on changes (default from refresh.watch)")
	return cmd
}

func (a *App) runRefresh(ctx context.Context, w io.Writer, flags refresh.Flags) error {
	e, err := a.open(ctx, false)
	if err != nil {
		return err
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case p := <-e.Progress():
				a.logger.Debug("scanning", "run", p.Run, "done", p.Done, "total", p.Total)
			case <-stop:
				return
			}
		}
	}()

	sum, err := e.RefreshAndWait(ctx, flags)
	if err != nil {
		return err
	}
	printSummary(w, sum)
	return nil
}

func printSummary(w io.Writer, sum refresh.Summary) {
	style := SuccessStyle
	if sum.Invalid > 0 {
		style = WarningStyle
	}
	fmt.Fprintln(w, style.Render(sum.String()))
	fmt.Fprintf(w, "  %d packages, %d added, %d removed, %d changed, %d scanned, %d quarantined in %s\n",
		sum.Packages, sum.Added, sum.Removed, sum.Changed, sum.Scanned, sum.Quarantined,
		sum.Duration.Round(time.Millisecond))
	for _, d := range sum.Diagnostics {
		style := SubtitleStyle
		switch d.Severity {
		case refresh.SeverityWarning:
			style = WarningStyle
		case refresh.SeverityError:
			style = ErrorStyle
		}
		line := "  " + style.Render(string(d.Severity)+" "+d.Code) + " " + d.Message
		if d.Path != "" {
			line += " " + SubtitleStyle.Render(d.Path)
		}
		fmt.Fprintln(w, line)
	}
}

func newCleanupCommand(app *App) *cobra.Command {
	var invalid, oldVersions bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "List or quarantine invalid and superseded archives",
		Long: `Without flags, list the archives a cleanup would move. --invalid moves
misnamed, duplicate, and corrupt archives to the quarantine root;
--old-versions moves superseded versions nothing depends on. Nothing is
ever deleted.`,
		Args: cobra.NoArgs,
		RunE: app.runE(func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			if !invalid && !oldVersions {
				e, err := app.engine(cmd.Context())
				if err != nil {
					return err
				}
				return listCandidates(w, e)
			}
			var flags refresh.Flags
			if invalid {
				flags |= refresh.CleanInvalid
			}
			if oldVersions {
				flags |= refresh.RemoveOldVersions
			}
			return app.runRefresh(cmd.Context(), w, flags)
		}),
	}
	cmd.Flags().BoolVar(&invalid, "invalid", false, "quarantine misnamed, duplicate, and corrupt archives")
	cmd.Flags().BoolVar(&oldVersions, "old-versions", false, "quarantine superseded versions")
	return cmd
}

func listCandidates(w io.Writer, e *engine.Engine) error {
	candidates := e.CleanupCandidates()
	if len(candidates) == 0 {
		fmt.Fprintln(w, SuccessStyle.Render("nothing to clean up"))
		return nil
	}
	for _, c := range candidates {
		style := WarningStyle
		if c.Reason == registry.ReasonOldVersion {
			style = SubtitleStyle
		}
		fmt.Fprintf(w, "%s %s\n", badge(c.Reason.String(), style), c.Path)
	}
	return nil
}

func newWatchCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Refresh whenever the package trees change",
		Args:  cobra.NoArgs,
		RunE: app.runE(func(cmd *cobra.Command, _ []string) error {
			return app.watch(cmd.Context(), cmd.OutOrStdout(), true)
		}),
	}
}

// watch prints a summary for every refresh the watcher triggers until ctx
// is done. initial requests one refresh before watching.
func (a *App) watch(ctx context.Context, w io.Writer, initial bool) error {
	e, err := a.open(ctx, false)
	if err != nil {
		return err
	}
	unsubscribe := e.Subscribe(func(sum refresh.Summary) { printSummary(w, sum) })
	defer unsubscribe()

	if initial {
		if err := e.Refresh(0); err != nil {
			return err
		}
	}
	fmt.Fprintln(w, SubtitleStyle.Render("watching "+a.cfg.InstalledRoot+" and "+a.cfg.RepositoryRoot))
	if err := e.Watch(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
