package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func getCmd() *cobra.Command {
	var peek bool

	cmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Show a memory's full content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()
			id := args[0]

			tracker, err := newTracker()
			if err != nil {
				return fmt.Errorf("get: %w", err)
			}
			st, err := newStore(tracker, logger)
			if err != nil {
				return fmt.Errorf("get: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			read := st.Get
			if peek {
				read = st.Peek
			}
			mem, err := read(ctx, id)
			if err != nil {
				return fmt.Errorf("get: %w", err)
			}

			fmt.Printf("ID:         %s\n", mem.ID)
			fmt.Printf("Topic:      %s\n", mem.Topic)
			if len(mem.Tags) > 0 {
				fmt.Printf("Tags:       %s\n", strings.Join(mem.Tags, ", "))
			}
			fmt.Printf("Phase:      %s\n", mem.Phase)
			fmt.Printf("Difficulty: %.2f\n", mem.Difficulty)
			fmt.Printf("Created:    %s (session %d)\n", mem.CreatedAt.Format("2006-01-02 15:04:05"), mem.CreatedSession)
			fmt.Println()
			fmt.Println(mem.Content())
			return nil
		},
	}

	cmd.Flags().BoolVar(&peek, "peek", false, "do not count this read as an access")
	return cmd
}
