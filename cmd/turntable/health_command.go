package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check daemon and pipeline readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			health, err := client.Health(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, health)
			}

			fmt.Fprintf(out, "daemon: %s\n", health.Status)
			for _, stageHealth := range health.Stages {
				state := "ready"
				if !stageHealth.Ready {
					state = "not ready"
					if stageHealth.Detail != "" {
						state += " (" + stageHealth.Detail + ")"
					}
				}
				fmt.Fprintf(out, "  %-22s %s\n", stageHealth.Name+":", state)
			}
			if health.Status != "ok" {
				return fmt.Errorf("daemon is degraded")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}
