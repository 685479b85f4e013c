package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/parkerhale/engram/internal/store"
)

func updateCmd() *cobra.Command {
	var (
		topic      string
		body       string
		tagsFlag   string
		difficulty float64
	)

	cmd := &cobra.Command{
		Use:   "update [id]",
		Short: "Update a memory's mutable fields",
		Long: `Updates the topic, content body, tags, or difficulty of a memory.
The Summary section, id, and creation metadata never change.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()
			id := args[0]

			var req store.UpdateRequest
			if cmd.Flags().Changed("topic") {
				req.Topic = &topic
			}
			if cmd.Flags().Changed("body") {
				req.Body = &body
			}
			if cmd.Flags().Changed("tags") {
				req.Tags = []string{}
				if tagsFlag != "" {
					for _, t := range strings.Split(tagsFlag, ",") {
						req.Tags = append(req.Tags, strings.TrimSpace(t))
					}
				}
			}
			if cmd.Flags().Changed("difficulty") {
				req.Difficulty = &difficulty
			}
			if req.Empty() {
				return fmt.Errorf("update: nothing to change; pass --topic, --body, --tags, or --difficulty")
			}

			tracker, err := newTracker()
			if err != nil {
				return fmt.Errorf("update: %w", err)
			}
			st, err := newStore(tracker, logger)
			if err != nil {
				return fmt.Errorf("update: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			if err := st.Update(ctx, id, req); err != nil {
				return fmt.Errorf("update: %w", err)
			}

			fmt.Printf("Updated memory %s\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "new topic")
	cmd.Flags().StringVar(&body, "body", "", "new content body (Summary section is kept)")
	cmd.Flags().StringVar(&tagsFlag, "tags", "", "comma-separated tags (empty clears)")
	cmd.Flags().Float64Var(&difficulty, "difficulty", 0, "new difficulty 0.0-1.0")
	return cmd
}
