package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	engrammcp "github.com/parkerhale/engram/internal/mcp"
	"github.com/parkerhale/engram/internal/store"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP (Model Context Protocol) server over stdio",
		Long: `Starts an MCP JSON-RPC 2.0 server that reads from stdin and writes to stdout.
All diagnostic logs go to stderr so that stdout remains exclusively MCP protocol traffic.

Tools exposed:
  store_memory   — store a memory with auto-tagging and session difficulty
  recall         — keyword search ranked by priority, token-budgeted
  list_memories  — paged catalog listing with phase/tag/keyword filters
  get_memory     — full content by id (counts as an access)
  forget         — delete a memory (archived first by default)
  ltm_status     — collection and session statistics
  ltm_check      — read-only integrity scan
  ltm_fix        — repair integrity issues
  reset_session  — clear the current session's counters`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()

			tracker, err := newTracker()
			var sessions store.SessionSource = tracker
			if err != nil {
				logger.Error("mcp: loading session state; session-derived difficulty disabled", "error", err)
				tracker = nil
				sessions = store.StaticSession(0)
			}

			st, storeErr := newStore(sessions, logger)
			if storeErr != nil {
				// Log to stderr and continue with a nil store.
				// Tool calls will return per-call errors rather than crashing.
				logger.Error("mcp: failed to open store; tool calls requiring storage will fail",
					"error", storeErr)
			}

			srv := engrammcp.NewServer(st, tracker, newCalculator(),
				engrammcp.Options{AutoTags: cfg.Tags.Auto}, logger)

			// Use a standard log.Logger pointing at stderr for the mcp-go error logger.
			errLogger := log.New(os.Stderr, "mcp: ", log.LstdFlags)

			logger.Info("mcp: engram MCP server starting", "transport", "stdio", "backend", cfg.Storage.Backend)

			return mcpserver.ServeStdio(
				srv.MCPServer(),
				mcpserver.WithErrorLogger(errLogger),
			)
		},
	}

	return cmd
}
