package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func evictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evict",
		Short: "Eviction pipeline operations",
	}
	cmd.AddCommand(evictRunCmd(), evictAdvanceCmd(), evictRestoreCmd(), evictArchivesCmd())
	return cmd
}

func evictRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one bounded eviction pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			tracker, err := newTracker()
			if err != nil {
				return fmt.Errorf("evict run: %w", err)
			}
			st, err := newStore(tracker, logger)
			if err != nil {
				return fmt.Errorf("evict run: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			report, err := newEngine(st, logger).Run(ctx)
			if err != nil {
				return fmt.Errorf("evict run: %w", err)
			}

			if !report.Triggered {
				fmt.Printf("Nothing to do: %d live memories, threshold %d\n", report.Live, report.Threshold)
				return nil
			}
			fmt.Printf("Advanced %d memories:\n", len(report.Advanced))
			for _, id := range report.Advanced {
				fmt.Printf("  %s\n", id)
			}
			for _, id := range report.Skipped {
				fmt.Printf("  %s (skipped)\n", id)
			}
			return nil
		},
	}
}

func evictAdvanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "advance [id]",
		Short: "Advance one memory a single phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()
			id := args[0]

			tracker, err := newTracker()
			if err != nil {
				return fmt.Errorf("evict advance: %w", err)
			}
			st, err := newStore(tracker, logger)
			if err != nil {
				return fmt.Errorf("evict advance: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			phase, err := newEngine(st, logger).AdvancePhase(ctx, id)
			if err != nil {
				return fmt.Errorf("evict advance: %w", err)
			}
			fmt.Printf("Memory %s is now %s\n", id, phase)
			return nil
		},
	}
}

func evictRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore [id]",
		Short: "Restore an evicted memory from its archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()
			id := args[0]

			tracker, err := newTracker()
			if err != nil {
				return fmt.Errorf("evict restore: %w", err)
			}
			st, err := newStore(tracker, logger)
			if err != nil {
				return fmt.Errorf("evict restore: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			if err := newEngine(st, logger).Restore(ctx, id); err != nil {
				return fmt.Errorf("evict restore: %w", err)
			}
			fmt.Printf("Restored memory %s to full content\n", id)
			return nil
		},
	}
}

func evictArchivesCmd() *cobra.Command {
	var show string

	cmd := &cobra.Command{
		Use:   "archives",
		Short: "List archived memories, or show one with --show",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			tracker, err := newTracker()
			if err != nil {
				return fmt.Errorf("evict archives: %w", err)
			}
			st, err := newStore(tracker, logger)
			if err != nil {
				return fmt.Errorf("evict archives: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			if show != "" {
				content, err := newEngine(st, logger).ArchivedContent(ctx, show)
				if err != nil {
					return fmt.Errorf("evict archives: %w", err)
				}
				fmt.Println(content)
				return nil
			}

			ids, err := st.ListArchives(ctx)
			if err != nil {
				return fmt.Errorf("evict archives: %w", err)
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			if len(ids) == 0 {
				fmt.Println("No archives.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&show, "show", "", "print the archived content for this id")
	return cmd
}
