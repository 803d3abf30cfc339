package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"turntable/internal/queue"
)

func newResultCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "result <task-id>",
		Short: "Show the artifacts of a finished job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			result, err := client.Result(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, result)
			}

			if result.Status == queue.StatusFailure {
				fmt.Fprintf(out, "task %s failed at %s\n", result.TaskID, stepTitle(result.Step))
				if result.Error != nil {
					fmt.Fprintf(out, "error: %s: %s\n", result.Error.Kind, result.Error.Message)
				}
				return nil
			}
			if result.Result == nil {
				return fmt.Errorf("task %s has no result payload", result.TaskID)
			}

			body := result.Result
			fmt.Fprintf(out, "viewer:  %s\n", body.ViewerURL)
			if body.SpriteURL != "" {
				fmt.Fprintf(out, "sprite:  %s\n", body.SpriteURL)
			}
			meta := body.Metadata
			fmt.Fprintf(out, "frames:  %d (%dx%d %s)\n", meta.TotalFrames, meta.FrameWidth, meta.FrameHeight, meta.Format)
			fmt.Fprintf(out, "coverage: %.0f degrees\n", meta.CoverageDegrees)
			if meta.Transparent {
				fmt.Fprintln(out, "background removed")
			}
			if meta.MattingNote != "" {
				fmt.Fprintf(out, "note:    %s\n", meta.MattingNote)
			}
			if meta.DegradedSampling {
				fmt.Fprintln(out, "note:    angular tracking was degraded, frames are time-sampled")
			}
			if meta.PartialCoverage {
				fmt.Fprintln(out, "note:    the walk-around did not complete a full turn")
			}
			fmt.Fprintf(out, "took:    %.1fs\n", meta.ProcessingTimeSeconds)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}
