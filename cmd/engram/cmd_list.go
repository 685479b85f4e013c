package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parkerhale/engram/internal/models"
	"github.com/parkerhale/engram/internal/store"
)

func listCmd() *cobra.Command {
	var (
		phase   int
		tag     string
		keyword string
		limit   int
		offset  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories ordered by priority",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			tracker, err := newTracker()
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}
			st, err := newStore(tracker, logger)
			if err != nil {
				return fmt.Errorf("list: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			filter := store.ListFilter{Tag: tag, Keyword: keyword, Limit: limit, Offset: offset}
			if phase >= 0 {
				p := models.Phase(phase)
				if !p.IsValid() {
					return fmt.Errorf("list: invalid --phase %d: must be 0-3", phase)
				}
				filter.Phase = &p
			}

			result, err := st.List(ctx, filter)
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}

			for i, m := range result.Records {
				fmt.Printf("[%d] %s  %s (%.3f)\n", offset+i+1, m.ID, truncate(m.Topic, 60), m.Priority)
				fmt.Printf("    phase=%s difficulty=%.2f accesses=%d created=%s\n",
					m.Phase, m.Difficulty, m.AccessCount, m.CreatedAt.Format("2006-01-02"))
			}

			if len(result.Records) == 0 {
				fmt.Println("No memories found.")
			} else if result.HasMore {
				fmt.Printf("Showing %d of %d (use --offset %d for more)\n",
					len(result.Records), result.Total, offset+len(result.Records))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&phase, "phase", -1, "filter by phase (0=full, 1=hint, 2=abstract, 3=removed)")
	cmd.Flags().StringVar(&tag, "tag", "", "filter by exact tag")
	cmd.Flags().StringVar(&keyword, "keyword", "", "case-insensitive topic filter")
	cmd.Flags().IntVar(&limit, "limit", 20, "max results")
	cmd.Flags().IntVar(&offset, "offset", 0, "results offset")
	return cmd
}
