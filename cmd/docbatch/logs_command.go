package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"docbatch/internal/api"
)

const logFollowWait = 10 * time.Second

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var jobID string
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show daemon log lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				out := cmd.OutOrStdout()
				q := api.LogQuery{Offset: -1, Limit: lines, JobID: jobID}
				for {
					page, err := client.Logs(cmd.Context(), q)
					if err != nil {
						if follow && errors.Is(err, context.Canceled) {
							return nil
						}
						return err
					}
					for _, line := range page.Lines {
						fmt.Fprintln(out, line)
					}
					if !follow {
						return nil
					}
					q = api.LogQuery{Offset: page.Offset, Follow: true, Wait: logFollowWait, JobID: jobID}
				}
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new lines")
	cmd.Flags().StringVar(&jobID, "job", "", "Only show lines mentioning this job id")
	return cmd
}
