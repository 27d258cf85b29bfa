package main

import (
	"github.com/spf13/cobra"

	"github.com/codereef/reef/internal/debug"
	"github.com/codereef/reef/internal/ui"
)

var reopenCmd = &cobra.Command{
	Use:   "reopen [finding]",
	Short: "Revert a finding's resolution",
	Long: `Revert a finding's resolution on the bound server.

With a finding argument, reopens that single finding. With --file, reopens
every locally resolved finding in the given file (used when a file is deleted
or its findings are stale).`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		filePath, _ := cmd.Flags().GetString("file")
		taint, _ := cmd.Flags().GetBool("taint")

		if filePath != "" {
			if len(args) > 0 {
				fatalf("pass either a finding or --file, not both")
			}
			service.ReopenAllForPath(rootCtx, scopeID, filePath)
			debug.PrintNormal("%s reopened all findings in %s\n", ui.OK(ui.IconOK), filePath)
			return
		}
		if len(args) == 0 {
			fatalf("pass a finding to reopen, or --file to reopen a whole file")
		}

		ok, err := service.Reopen(rootCtx, scopeID, args[0], taint)
		if err != nil {
			fatalf("%v", err)
		}
		if !ok {
			fatalf("%s could not be reopened (no connection, or not a known finding)", args[0])
		}
		debug.PrintNormal("%s %s reopened\n", ui.OK(ui.IconOK), args[0])
	},
}

func init() {
	reopenCmd.Flags().String("file", "", "Reopen every resolved finding in this file")
	reopenCmd.Flags().Bool("taint", false, "The finding is a taint vulnerability")
	rootCmd.AddCommand(reopenCmd)
}
