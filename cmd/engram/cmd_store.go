package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/parkerhale/engram/internal/tags"
)

func storeCmd() *cobra.Command {
	var (
		content    string
		tagsFlag   string
		difficulty float64
		noAutoTags bool
	)

	cmd := &cobra.Command{
		Use:   "store [topic]",
		Short: "Store a new memory",
		Long: `Stores a memory under the given topic. Content comes from --content or,
when the flag is absent, from stdin. A markdown '## Summary' section in the
content is preserved verbatim through all later compression.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()
			topic := args[0]

			if content == "" {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("store: reading stdin: %w", err)
				}
				content = string(data)
			}
			if strings.TrimSpace(content) == "" {
				return fmt.Errorf("store: content must not be empty")
			}

			var tagList []string
			if tagsFlag != "" {
				for _, t := range strings.Split(tagsFlag, ",") {
					tagList = append(tagList, strings.TrimSpace(t))
				}
			}
			if len(tagList) == 0 && cfg.Tags.Auto && !noAutoTags {
				tagList = tags.Extract(topic, content)
			}

			tracker, err := newTracker()
			if err != nil {
				return fmt.Errorf("store: %w", err)
			}
			st, err := newStore(tracker, logger)
			if err != nil {
				return fmt.Errorf("store: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			id, err := st.Create(ctx, topic, content, tagList, difficulty)
			if err != nil {
				return fmt.Errorf("store: %w", err)
			}

			fmt.Printf("Stored memory %s", id)
			if len(tagList) > 0 {
				fmt.Printf(" [%s]", strings.Join(tagList, ", "))
			}
			fmt.Println()
			return nil
		},
	}

	cmd.Flags().StringVar(&content, "content", "", "memory content (reads stdin when omitted)")
	cmd.Flags().StringVar(&tagsFlag, "tags", "", "comma-separated tags")
	cmd.Flags().Float64Var(&difficulty, "difficulty", 0.5, "task difficulty 0.0-1.0")
	cmd.Flags().BoolVar(&noAutoTags, "no-auto-tags", false, "disable tag auto-extraction")
	return cmd
}
