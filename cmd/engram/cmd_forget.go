package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func forgetCmd() *cobra.Command {
	var noArchive bool

	cmd := &cobra.Command{
		Use:   "forget [id]",
		Short: "Delete a memory",
		Long:  "Deletes a memory. The content is snapshotted to the archive first unless --no-archive is given.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()
			id := args[0]

			tracker, err := newTracker()
			if err != nil {
				return fmt.Errorf("forget: %w", err)
			}
			st, err := newStore(tracker, logger)
			if err != nil {
				return fmt.Errorf("forget: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			archived, err := st.Delete(ctx, id, !noArchive)
			if err != nil {
				return fmt.Errorf("forget: %w", err)
			}

			if archived {
				fmt.Printf("Deleted memory %s (archived)\n", id)
			} else {
				fmt.Printf("Deleted memory %s\n", id)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noArchive, "no-archive", false, "delete without archiving")
	return cmd
}
