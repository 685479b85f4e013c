package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func recallCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "recall [query]",
		Short: "Search memories by keyword, ranked by priority",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			tracker, err := newTracker()
			if err != nil {
				return fmt.Errorf("recall: %w", err)
			}
			st, err := newStore(tracker, logger)
			if err != nil {
				return fmt.Errorf("recall: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			results, err := st.Search(ctx, args[0], limit)
			if err != nil {
				return fmt.Errorf("recall: %w", err)
			}

			for i, m := range results {
				fmt.Printf("[%d] %s  %s (%.3f)\n", i+1, m.ID, truncate(m.Topic, 60), m.Priority)
				if m.Summary != "" {
					fmt.Printf("    %s\n", truncate(m.Summary, 100))
				}
			}
			if len(results) == 0 {
				fmt.Println("No matches.")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "max results")
	return cmd
}
