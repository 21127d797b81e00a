// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/varkeep/varkeep/internal/issue"
)

func newIssueCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:         "issue [id]",
		Short:       "Explain a class of problem and how to fix it",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{"skipConfig": "true"},
		RunE: app.runE(func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, i := range issue.Values() {
					fmt.Fprintf(w, "%3d  %s\n", i.Id(), i.Title())
				}
				return nil
			}

			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("issue id %q is not a number", args[0])
			}
			i := issue.Get(issue.Id(n))
			if i == nil {
				return fmt.Errorf("no issue with id %d; run 'varkeep issue' for the list", n)
			}
			out, err := i.Render(app.flags.style)
			if err != nil {
				return fmt.Errorf("render issue %d: %w", n, err)
			}
			fmt.Fprint(w, out)
			return nil
		}),
	}
}
