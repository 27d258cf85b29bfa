package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/codereef/reef/internal/debug"
	"github.com/codereef/reef/internal/types"
	"github.com/codereef/reef/internal/ui"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <finding>",
	Short: "Mark a finding as resolved",
	Long: `Mark a finding as resolved on the bound server.

The finding is either a server key or the local UUID of a finding the server
has not seen yet. Without --status an interactive picker offers the statuses
the server permits for this finding.

When the scope has no binding or its connection is gone, the command is a
no-op: there is no server to tell.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		findingKey := args[0]
		statusFlag, _ := cmd.Flags().GetString("status")
		comment, _ := cmd.Flags().GetString("comment")
		taint, _ := cmd.Flags().GetBool("taint")

		var status types.ResolutionStatus
		if statusFlag != "" {
			var err error
			status, err = parseStatus(statusFlag)
			if err != nil {
				fatalf("%v", err)
			}
		} else {
			status = pickStatus(findingKey)
		}

		if err := service.ChangeStatus(rootCtx, scopeID, findingKey, status, taint); err != nil {
			fatalf("%v", err)
		}
		if comment != "" {
			if err := service.AddComment(rootCtx, scopeID, findingKey, comment); err != nil {
				fatalf("resolved, but adding the comment failed: %v", err)
			}
		}
		debug.PrintNormal("%s %s resolved as %s\n", ui.OK(ui.IconOK), findingKey, status.Title())
	},
}

// pickStatus asks the server which statuses are permitted and offers them
// interactively.
func pickStatus(findingKey string) types.ResolutionStatus {
	binding, ok := bindings.EffectiveBinding(scopeID)
	if !ok {
		fatalf("scope %q is not bound to a server project; pass --status to resolve locally", scopeID)
	}
	result, err := service.CheckStatusChangePermitted(rootCtx, binding.ConnectionID, findingKey)
	if err != nil {
		fatalf("%v", err)
	}
	if !result.Permitted {
		fatalf("%s", result.Reason)
	}

	options := make([]huh.Option[types.ResolutionStatus], 0, len(result.AllowedStatuses))
	for _, s := range result.AllowedStatuses {
		options = append(options, huh.NewOption(fmt.Sprintf("%s - %s", s.Title(), s.Description()), s))
	}
	var status types.ResolutionStatus
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[types.ResolutionStatus]().
			Title("Resolve as").
			Options(options...).
			Value(&status),
	))
	if err := form.Run(); err != nil {
		fatalf("%v", err)
	}
	return status
}

func parseStatus(s string) (types.ResolutionStatus, error) {
	switch strings.ToLower(s) {
	case "accept", "accepted":
		return types.StatusAccept, nil
	case "wontfix", "wont-fix":
		return types.StatusWontFix, nil
	case "falsepositive", "false-positive", "fp":
		return types.StatusFalsePositive, nil
	}
	return "", fmt.Errorf("unknown status %q (want accept, wontfix or falsepositive)", s)
}

func init() {
	resolveCmd.Flags().String("status", "", "Resolution status: accept, wontfix or falsepositive")
	resolveCmd.Flags().StringP("comment", "m", "", "Comment to attach to the resolution")
	resolveCmd.Flags().Bool("taint", false, "The finding is a taint vulnerability")
	rootCmd.AddCommand(resolveCmd)
}
