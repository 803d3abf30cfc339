package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List known jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			listing, err := client.Jobs(cmd.Context(), strings.ToUpper(strings.TrimSpace(statusFilter)))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, listing)
			}
			if len(listing.Jobs) == 0 {
				fmt.Fprintln(out, "no jobs")
				return nil
			}

			headers := []string{"Task", "Status", "Step", "Progress", "Frames", "Created"}
			rows := make([][]string, 0, len(listing.Jobs))
			for _, job := range listing.Jobs {
				rows = append(rows, []string{
					shortID(job.TaskID),
					string(job.Status),
					stepTitle(job.Step),
					renderProgress(job.Progress),
					fmt.Sprintf("%d", job.FrameCount),
					formatTimestamp(job.CreatedAt),
				})
			}
			fmt.Fprintln(out, renderTable(headers, rows, 3, 4))
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (PENDING, PROCESSING, SUCCESS, FAILURE)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}
