package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parkerhale/engram/internal/models"
)

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show collection and session statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			tracker, err := newTracker()
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			st, err := newStore(tracker, logger)
			if err != nil {
				return fmt.Errorf("status: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			status, err := st.Status(ctx)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}

			fmt.Printf("Memories: %d (threshold %d)\n", status.Total, cfg.Eviction.Threshold)
			for p := models.PhaseFull; p <= models.PhaseRemoved; p++ {
				if n := status.ByPhase[p]; n > 0 {
					fmt.Printf("  %-8s %d\n", p.String(), n)
				}
			}
			fmt.Printf("Archives: %d\n", status.Archives)

			counters := tracker.Counters()
			fmt.Printf("Session:  %d (failures=%d successes=%d compacted=%t tokens=%d)\n",
				tracker.Current(), counters.ToolFailures, counters.ToolSuccesses,
				counters.Compacted, counters.SessionTokens)
			return nil
		},
	}
	return cmd
}
