package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codereef/reef/internal/ui"
)

var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "List configured server connections",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if len(connConfigs) == 0 {
			fmt.Println(ui.Muted("no connections configured"))
			return
		}
		fmt.Println(ui.Header("CONNECTIONS"))
		for _, cc := range connConfigs {
			kind := "self-hosted"
			if cc.IsCloud() {
				kind = "cloud"
			}
			line := fmt.Sprintf("  %s  %s (%s)", ui.Accent(cc.ID), cc.URL, kind)
			if conn, ok := registry.Live(cc.ID); ok {
				if v, known := conn.CachedVersion(); known {
					line += ui.Muted(fmt.Sprintf("  v%s", v))
				}
			}
			fmt.Println(line)
		}
	},
}

var connectionsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Contact each configured server and report its version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, cc := range connConfigs {
			conn, ok := registry.Live(cc.ID)
			if !ok {
				continue
			}
			raw, err := conn.API.ServerVersion(rootCtx)
			if err != nil {
				fmt.Printf("%s %s: %v\n", ui.Fail(ui.IconFail), cc.ID, err)
				continue
			}
			fmt.Printf("%s %s: version %s\n", ui.OK(ui.IconOK), cc.ID, raw)
		}
	},
}

func init() {
	connectionsCmd.AddCommand(connectionsCheckCmd)
	rootCmd.AddCommand(connectionsCmd)
}
