package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codereef/reef/internal/ui"
)

var findingsCmd = &cobra.Command{
	Use:   "findings",
	Short: "List locally resolved findings in the current scope",
	Long: `List the findings resolved locally in the current scope. These are
the findings the server has not seen yet; their resolutions are pushed ahead
of the next analysis.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		all, err := store.LoadAll(rootCtx, scopeID)
		if err != nil {
			fatalf("%v", err)
		}
		if len(all) == 0 {
			fmt.Println(ui.Muted("no locally resolved findings"))
			return
		}
		fmt.Println(ui.Header("LOCALLY RESOLVED"))
		for _, f := range all {
			if !f.Resolved() {
				continue
			}
			line := fmt.Sprintf("  %s  %s  %s  %s",
				ui.Muted(f.ID.String()[:8]), ui.Accent(f.RuleKey), f.FilePath,
				f.Resolution.Status.Title())
			if f.Resolution.Comment != "" {
				line += ui.Muted("  " + f.Resolution.Comment)
			}
			fmt.Println(line)
		}
	},
}

func init() {
	rootCmd.AddCommand(findingsCmd)
}
