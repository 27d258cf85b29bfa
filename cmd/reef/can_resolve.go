package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codereef/reef/internal/ui"
)

var canResolveCmd = &cobra.Command{
	Use:   "can-resolve <finding>",
	Short: "Check whether a finding may be resolved, and how",
	Long: `Check whether the current user may resolve a finding and which
statuses the server offers for it. For a local-only finding the answer depends
on the bound server's version; for a server finding it depends on the user's
permissions there.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		binding, ok := bindings.EffectiveBinding(scopeID)
		if !ok {
			fatalf("scope %q is not bound to a server project", scopeID)
		}
		result, err := service.CheckStatusChangePermitted(rootCtx, binding.ConnectionID, args[0])
		if err != nil {
			fatalf("%v", err)
		}
		if !result.Permitted {
			fmt.Printf("%s %s\n", ui.Fail(ui.IconFail), result.Reason)
			return
		}
		fmt.Printf("%s %s can be resolved as:\n", ui.OK(ui.IconOK), args[0])
		for _, s := range result.AllowedStatuses {
			fmt.Printf("  %s %s\n", ui.Accent(s.Title()), ui.Muted(s.Description()))
		}
	},
}

var supportsCmd = &cobra.Command{
	Use:   "supports-local-resolve",
	Short: "Check whether the bound server accepts local-only resolutions",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ok, err := service.CheckAnticipatedResolutionSupported(rootCtx, scopeID)
		if err != nil {
			fatalf("%v", err)
		}
		if ok {
			fmt.Printf("%s the bound server accepts resolutions for findings it has not seen\n", ui.OK(ui.IconOK))
		} else {
			fmt.Printf("%s the bound server does not accept local-only resolutions\n", ui.Warn(ui.IconWarn))
		}
	},
}

func init() {
	rootCmd.AddCommand(canResolveCmd)
	rootCmd.AddCommand(supportsCmd)
}
