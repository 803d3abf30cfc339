package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"turntable/internal/config"
	"turntable/internal/queue"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var frames int
	var removeBackground bool
	var wait bool

	cmd := &cobra.Command{
		Use:   "submit <video>",
		Short: "Upload a walk-around video for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !config.IsValidFrameCount(frames) {
				return fmt.Errorf("frames must be one of %v", config.ValidFrameCounts)
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}

			resp, err := client.Submit(cmd.Context(), args[0], frames, removeBackground)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "submitted %s\n", resp.TaskID)
			if !wait {
				fmt.Fprintf(out, "track with: turntable status %s\n", resp.TaskID)
				return nil
			}

			return waitForCompletion(cmd, client, resp.TaskID)
		},
	}

	cmd.Flags().IntVar(&frames, "frames", 36, "Number of spin frames to extract (24, 36, or 72)")
	cmd.Flags().BoolVar(&removeBackground, "remove-background", false, "Matte the vehicle onto a transparent background")
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until processing finishes")
	return cmd
}

// waitForCompletion polls job status until it reaches a terminal state,
// reporting step transitions along the way.
func waitForCompletion(cmd *cobra.Command, client *apiClient, taskID string) error {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	var lastStep queue.Step

	for {
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-time.After(2 * time.Second):
		}

		status, err := client.Status(cmd.Context(), taskID)
		if err != nil {
			return err
		}
		if status.Step != lastStep {
			lastStep = status.Step
			fmt.Fprintf(out, "  %s %s (%s)\n", renderStatus(status.Status, colorize), stepTitle(status.Step), renderProgress(status.Progress))
		}

		switch status.Status {
		case queue.StatusSuccess:
			result, err := client.Result(cmd.Context(), taskID)
			if err != nil {
				return err
			}
			if result.Result != nil {
				fmt.Fprintf(out, "viewer: %s\n", result.Result.ViewerURL)
			}
			return nil
		case queue.StatusFailure:
			if status.Error != nil {
				return fmt.Errorf("processing failed at %s: %s: %s", stepTitle(status.Step), status.Error.Kind, status.Error.Message)
			}
			return fmt.Errorf("processing failed at %s", stepTitle(status.Step))
		}
	}
}
