package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parkerhale/engram/internal/store"
)

func checkCmd() *cobra.Command {
	var (
		fix           bool
		noArchive     bool
		cleanArchives bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check storage integrity, optionally repairing issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			tracker, err := newTracker()
			if err != nil {
				return fmt.Errorf("check: %w", err)
			}
			st, err := newStore(tracker, logger)
			if err != nil {
				return fmt.Errorf("check: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			report, err := st.Check(ctx)
			if err != nil {
				return fmt.Errorf("check: %w", err)
			}

			fmt.Printf("Indexed: %d  Content: %d  Stats: %d  Archives: %d\n",
				report.Indexed, report.Content, report.Stats, report.Archives)
			if report.Healthy && len(report.Issues) == 0 {
				fmt.Println("Storage is healthy.")
				return nil
			}
			for _, issue := range report.Issues {
				fmt.Printf("  %s: %s\n", issue.Kind, issue.ID)
			}
			if !report.Healthy {
				fmt.Println("Storage is UNHEALTHY.")
			}

			if !fix {
				return nil
			}

			summary, err := st.Fix(ctx, store.FixOptions{
				ArchiveOrphans:        !noArchive,
				CleanOrphanedArchives: cleanArchives,
			})
			if err != nil {
				return fmt.Errorf("check: fixing: %w", err)
			}
			fmt.Printf("Fixed %d issues: archived=%d removed_content=%d removed_index=%d removed_stats=%d removed_archives=%d\n",
				summary.Total(), summary.ArchivedContent, summary.RemovedContent,
				summary.RemovedIndex, summary.RemovedStats, summary.RemovedArchives)
			return nil
		},
	}

	cmd.Flags().BoolVar(&fix, "fix", false, "repair the issues found")
	cmd.Flags().BoolVar(&noArchive, "no-archive", false, "remove orphaned content without archiving it")
	cmd.Flags().BoolVar(&cleanArchives, "clean-archives", false, "also delete orphaned archives")
	return cmd
}
