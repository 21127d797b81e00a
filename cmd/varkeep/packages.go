// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/varkeep/varkeep/internal/engine"
	"github.com/varkeep/varkeep/internal/registry"
	"github.com/varkeep/varkeep/pkg/varpkg"
)

func newListCommand(app *App) *cobra.Command {
	var installedOnly, repositoryOnly, groups bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered packages",
		Args:    cobra.NoArgs,
		RunE: app.runE(func(cmd *cobra.Command, _ []string) error {
			e, err := app.engine(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if groups {
				for _, g := range e.Groups() {
					newest := g.NewestEnabled()
					latest := "none enabled"
					if newest != nil {
						latest = string(newest.UID())
					}
					fmt.Fprintf(w, "%s  %d version(s)  latest %s\n", UIDStyle.Render(string(g.ShortName())), g.Len(), latest)
				}
				return nil
			}
			for _, p := range e.Packages() {
				installed := e.IsInstalled(p)
				if installedOnly && !installed || repositoryOnly && installed {
					continue
				}
				fmt.Fprintln(w, packageLine(e, p))
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&installedOnly, "installed", false, "only packages in the installed root")
	cmd.Flags().BoolVar(&repositoryOnly, "repository", false, "only packages in the repository root")
	cmd.Flags().BoolVar(&groups, "groups", false, "list version groups instead of packages")
	cmd.MarkFlagsMutuallyExclusive("installed", "repository")
	return cmd
}

func packageLine(e *engine.Engine, p *registry.Package) string {
	var tags []string
	if e.IsInstalled(p) {
		tags = append(tags, badge("installed", SuccessStyle))
	} else {
		tags = append(tags, badge("repository", SubtitleStyle))
	}
	if p.Disabled() {
		tags = append(tags, badge("disabled", WarningStyle))
	}
	if p.Invalid() {
		tags = append(tags, badge("invalid", ErrorStyle))
	}
	return fmt.Sprintf("%s %s  %s  %s",
		UIDStyle.Render(string(p.UID())),
		strings.Join(tags, " "),
		humanize.Bytes(uint64(max(p.Size(), 0))),
		SubtitleStyle.Render(humanize.Time(p.ModTime())),
	)
}

func newShowCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <package>",
		Short: "Show details of one package",
		Args:  cobra.ExactArgs(1),
		RunE: app.runE(func(cmd *cobra.Command, args []string) error {
			e, err := app.engine(cmd.Context())
			if err != nil {
				return err
			}
			p, err := app.lookup(e, args[0], nil)
			if err != nil {
				return err
			}
			if err := e.Registry().EnsureScanned(p); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, packageLine(e, p))
			field := func(label, value string) {
				fmt.Fprintln(w, labelStyle.Render(label)+value)
			}
			field("Path", p.Path())
			for _, alias := range p.Aliases() {
				field("Alias", alias)
			}
			field("Version", fmt.Sprint(p.Version()))
			field("Size", fmt.Sprintf("%s (%s bytes)", humanize.Bytes(uint64(max(p.Size(), 0))), humanize.Comma(p.Size())))
			field("Modified", p.ModTime().Format("2006-01-02 15:04:05"))
			field("Entries", humanize.Comma(int64(p.EntryCount())))
			field("Clothing", fmt.Sprint(len(p.Clothing())))
			field("Hair", fmt.Sprint(len(p.Hair())))
			lctx := registry.NewLoadContext(p.UID())
			for _, ref := range p.Dependencies() {
				field("Depends on", dependencyState(e, ref, lctx))
			}
			return nil
		}),
	}
}

func dependencyState(e *engine.Engine, ref string, lctx *registry.LoadContext) string {
	if dep := e.Resolve(ref, lctx); dep != nil {
		if string(dep.UID()) == ref {
			return ref
		}
		return ref + " → " + string(dep.UID())
	}
	return ref + " " + badge("missing", ErrorStyle)
}

func newResolveCommand(app *App) *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "resolve <reference>",
		Short: "Show which package a reference resolves to",
		Long: `Resolve an exact UID, "Creator.Name.latest", "Creator.Name.minN", or "SELF"
(with --from) to a registered package.`,
		Args: cobra.ExactArgs(1),
		RunE: app.runE(func(cmd *cobra.Command, args []string) error {
			e, err := app.engine(cmd.Context())
			if err != nil {
				return err
			}
			p, err := app.lookup(e, args[0], loadContext(from))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p.UID(), p.Path())
			return nil
		}),
	}
	cmd.Flags().StringVar(&from, "from", "", "UID of the package the reference appears in")
	return cmd
}

func loadContext(from string) *registry.LoadContext {
	if from == "" {
		return nil
	}
	return registry.NewLoadContext(varpkg.UID(from))
}

func newDepsCommand(app *App) *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "deps <package>",
		Short: "List the recursive dependencies of a package",
		Args:  cobra.ExactArgs(1),
		RunE: app.runE(func(cmd *cobra.Command, args []string) error {
			e, err := app.engine(cmd.Context())
			if err != nil {
				return err
			}
			p, err := app.lookup(e, args[0], nil)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			deps := e.RecursiveDependencies(p.UID(), depth)
			if len(deps) == 0 {
				fmt.Fprintln(w, SubtitleStyle.Render("no resolvable dependencies"))
			}
			for _, d := range deps {
				fmt.Fprintln(w, packageLine(e, d))
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&depth, "depth", 0, "levels to follow (0 uses resolve.dependency_depth)")
	return cmd
}

func newMissingCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "missing",
		Short: "List dependency references no package satisfies",
		Args:  cobra.NoArgs,
		RunE: app.runE(func(cmd *cobra.Command, _ []string) error {
			e, err := app.engine(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			missing := e.MissingDependencies()
			if len(missing) == 0 {
				fmt.Fprintln(w, SuccessStyle.Render("all dependencies are satisfied"))
				return nil
			}
			for _, m := range missing {
				by := make([]string, len(m.RequiredBy))
				for i, uid := range m.RequiredBy {
					by[i] = string(uid)
				}
				fmt.Fprintf(w, "%s  required by %s\n", ErrorStyle.Render(m.Ref), strings.Join(by, ", "))
			}
			return nil
		}),
	}
}

func newCatCommand(app *App) *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "cat <package>:/<entry>",
		Short: "Write one archive entry to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: app.runE(func(cmd *cobra.Command, args []string) error {
			e, err := app.engine(cmd.Context())
			if err != nil {
				return err
			}
			rc, err := e.OpenEntry(args[0], loadContext(from))
			if err != nil {
				return err
			}
			defer rc.Close()
			_, err = io.Copy(cmd.OutOrStdout(), rc)
			return err
		}),
	}
	cmd.Flags().StringVar(&from, "from", "", "UID used to resolve SELF")
	return cmd
}

func newSearchCommand(app *App) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Fuzzy-search package UIDs",
		Args:  cobra.ExactArgs(1),
		RunE: app.runE(func(cmd *cobra.Command, args []string) error {
			e, err := app.engine(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, m := range e.Search(args[0], limit) {
				fmt.Fprintln(w, highlight(string(m.Package.UID()), m.Matched))
			}
			return nil
		}),
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum results (0 for all)")
	return cmd
}

// highlight styles the bytes of s at the matched offsets.
func highlight(s string, matched []int) string {
	hit := make(map[int]bool, len(matched))
	for _, i := range matched {
		hit[i] = true
	}
	var sb strings.Builder
	for i, r := range s {
		if hit[i] {
			sb.WriteString(MatchStyle.Render(string(r)))
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
