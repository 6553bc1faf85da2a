package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"docbatch/internal/api"
)

func newAggregateCommand(ctx *commandContext) *cobra.Command {
	var retrigger bool
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "aggregate [job-id]",
		Short: "Run the completion monitor for dispatched jobs now",
		Long: "Aggregate polls for dispatched jobs whose workers have finished and\n" +
			"finalizes them. With a job id, --retrigger first re-dispatches items that\n" +
			"were never acknowledged, or moves a job whose finalization failed back\n" +
			"to processing.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			if retrigger && id == "" {
				return fmt.Errorf("--retrigger requires a job id")
			}
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Aggregate(cmd.Context(), id, retrigger)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				if resp.Redispatched > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Re-dispatched %d items\n", resp.Redispatched)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Ready %d, finalized %d, skipped %d, failed %d, duplicates removed %d\n",
					resp.Ready, resp.Finalized, resp.Skipped, resp.Failed, resp.Duplicates)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&retrigger, "retrigger", false, "Re-dispatch unacknowledged items or retry a failed finalization")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
