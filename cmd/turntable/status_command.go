package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show the processing status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, status)
			}

			colorize := shouldColorize(out)
			fmt.Fprintf(out, "task:     %s\n", status.TaskID)
			fmt.Fprintf(out, "status:   %s\n", renderStatus(status.Status, colorize))
			fmt.Fprintf(out, "step:     %s\n", stepTitle(status.Step))
			fmt.Fprintf(out, "progress: %s\n", renderProgress(status.Progress))
			fmt.Fprintf(out, "created:  %s\n", formatTimestamp(status.CreatedAt))
			if status.Error != nil {
				fmt.Fprintf(out, "error:    %s: %s\n", status.Error.Kind, status.Error.Message)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}
