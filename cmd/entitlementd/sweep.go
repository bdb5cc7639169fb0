package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Recover stale leases and run one sweep of due tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			now := time.Now()
			recovered, err := a.sweeper.RecoverStale(ctx, now)
			if err != nil {
				return err
			}
			stats, err := a.sweeper.Sweep(ctx, now)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			return enc.Encode(map[string]any{"recovered": recovered, "sweep": stats})
		},
	}
}
