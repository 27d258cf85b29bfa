package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/codereef/reef/internal/debug"
	"github.com/codereef/reef/internal/ui"
)

var commentCmd = &cobra.Command{
	Use:   "comment <finding> <text>...",
	Short: "Add a comment to a finding",
	Long: `Add a comment to a finding.

A locally resolved finding gets the comment on its resolution, which is then
re-pushed to the server. Anything else is commented directly on the server.`,
	Args: cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		findingKey := args[0]
		text := strings.Join(args[1:], " ")

		if err := service.AddComment(rootCtx, scopeID, findingKey, text); err != nil {
			fatalf("%v", err)
		}
		debug.PrintNormal("%s comment added to %s\n", ui.OK(ui.IconOK), findingKey)
	},
}

func init() {
	rootCmd.AddCommand(commentCmd)
}
