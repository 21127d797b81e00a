// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newStatsCommand(app *App) *cobra.Command {
	var showMetrics bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index, cache, and scan counters",
		Args:  cobra.NoArgs,
		RunE: app.runE(func(cmd *cobra.Command, _ []string) error {
			e, err := app.engine(cmd.Context())
			if err != nil {
				return err
			}
			s, err := e.Stats()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			field := func(label, value string) {
				fmt.Fprintln(w, labelStyle.Render(label)+value)
			}
			field("Packages", humanize.Comma(int64(s.Packages)))
			field("Invalid", humanize.Comma(int64(s.Invalid)))
			field("Groups", humanize.Comma(int64(s.Groups)))
			field("Rejected", humanize.Comma(int64(s.Rejected)))
			field("Cached", fmt.Sprintf("%s records", humanize.Comma(int64(s.CacheRecords))))
			field("Archive opens", humanize.Comma(s.ArchiveOpens))
			field("Decode passes", humanize.Comma(s.DecodePasses))
			field("Refreshes", fmt.Sprint(s.Refreshes))
			if s.Refreshes > 0 {
				field("Last refresh", s.Last.Duration.String())
			}

			if showMetrics {
				fmt.Fprintln(w)
				fmt.Fprintln(w, TitleStyle.Render("Metrics"))
				for _, m := range s.Metrics {
					fmt.Fprintf(w, "%s%s %g\n", m.Name, formatLabels(m.Labels), m.Value)
				}
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "also print every collector value")
	return cmd
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for _, k := range slices.Sorted(maps.Keys(labels)) {
		parts = append(parts, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}
