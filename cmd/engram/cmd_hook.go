package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/parkerhale/engram/internal/hooks"
	"github.com/parkerhale/engram/internal/session"
	"github.com/parkerhale/engram/internal/store"
)

const hookTimeout = 30 * time.Second

// hookSessionStartInput is the JSON stdin payload for `engram hook session-start`.
type hookSessionStartInput struct {
	SessionID      string `json:"session_id"`
	HookEventName  string `json:"hook_event_name"`
	TranscriptPath string `json:"transcript_path"`
	// Optional overrides:
	MemoriesToLoad int `json:"memories_to_load,omitempty"`
	TokenBudget    int `json:"token_budget,omitempty"`
}

// hookToolResultInput is the JSON stdin payload for `engram hook tool-result`.
type hookToolResultInput struct {
	SessionID     string `json:"session_id"`
	HookEventName string `json:"hook_event_name"`
	Success       bool   `json:"success"`
	Output        string `json:"output,omitempty"`
}

// hookCmd groups the assistant lifecycle hook subcommands. Every hook reads
// JSON from stdin, writes JSON to stdout, and on ANY error exits 0 with an
// empty result so it never blocks the assistant.
func hookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Assistant lifecycle hook integration",
	}
	cmd.AddCommand(hookSessionStartCmd(), hookToolResultCmd(), hookPreCompactCmd(), hookSessionEndCmd())
	return cmd
}

func hookSessionStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "session-start",
		Short:         "Start a session and emit top-priority memory context",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()
			ctx, cancel := context.WithTimeout(cmd.Context(), hookTimeout)
			defer cancel()

			var input hookSessionStartInput
			if decodeErr := json.NewDecoder(os.Stdin).Decode(&input); decodeErr != nil {
				logger.Error("hook session-start: decoding stdin", "error", decodeErr)
				writeHookOutput(hooks.SessionStartOutput{})
				return nil
			}
			if input.MemoriesToLoad <= 0 {
				input.MemoriesToLoad = cfg.Session.MemoriesToLoad
			}
			if input.TokenBudget <= 0 {
				input.TokenBudget = cfg.Session.TokenBudget
			}

			tracker, st, cleanup, setupErr := hookDeps(logger)
			if setupErr != nil {
				logger.Error("hook session-start: setup", "error", setupErr)
				writeHookOutput(hooks.SessionStartOutput{})
				return nil
			}
			defer cleanup()

			hook := hooks.NewSessionStartHook(st, tracker, logger)
			out, execErr := hook.Execute(ctx, hooks.SessionStartInput{
				MemoriesToLoad: input.MemoriesToLoad,
				TokenBudget:    input.TokenBudget,
			})
			if execErr != nil {
				logger.Error("hook session-start: executing", "error", execErr)
				_, _ = fmt.Fprintf(os.Stderr, "engram hook: session start failed (%v), continuing without memory context\n", execErr)
				writeHookOutput(hooks.SessionStartOutput{})
				return nil
			}
			writeHookOutput(out)
			return nil
		},
	}
}

func hookToolResultCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "tool-result",
		Short:         "Record a tool invocation outcome",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()
			ctx, cancel := context.WithTimeout(cmd.Context(), hookTimeout)
			defer cancel()

			var input hookToolResultInput
			if decodeErr := json.NewDecoder(os.Stdin).Decode(&input); decodeErr != nil {
				logger.Error("hook tool-result: decoding stdin", "error", decodeErr)
				writeHookOutput(map[string]bool{"recorded": false})
				return nil
			}

			tracker, setupErr := newTracker()
			if setupErr != nil {
				logger.Error("hook tool-result: setup", "error", setupErr)
				writeHookOutput(map[string]bool{"recorded": false})
				return nil
			}

			hook := hooks.NewToolResultHook(tracker, cfg.Session.CountTokens, logger)
			if execErr := hook.Execute(ctx, hooks.ToolResultInput{
				Success: input.Success,
				Output:  input.Output,
			}); execErr != nil {
				logger.Error("hook tool-result: executing", "error", execErr)
				writeHookOutput(map[string]bool{"recorded": false})
				return nil
			}
			writeHookOutput(map[string]bool{"recorded": true})
			return nil
		},
	}
}

func hookPreCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "pre-compact",
		Short:         "Record that the assistant's context was compacted",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()
			ctx, cancel := context.WithTimeout(cmd.Context(), hookTimeout)
			defer cancel()

			tracker, setupErr := newTracker()
			if setupErr != nil {
				logger.Error("hook pre-compact: setup", "error", setupErr)
				writeHookOutput(map[string]bool{"recorded": false})
				return nil
			}

			hook := hooks.NewPreCompactHook(tracker, logger)
			if execErr := hook.Execute(ctx); execErr != nil {
				logger.Error("hook pre-compact: executing", "error", execErr)
				writeHookOutput(map[string]bool{"recorded": false})
				return nil
			}
			writeHookOutput(map[string]bool{"recorded": true})
			return nil
		},
	}
}

func hookSessionEndCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "session-end",
		Short:         "Close the session: freeze difficulty, refresh priorities, evict",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()
			ctx, cancel := context.WithTimeout(cmd.Context(), hookTimeout)
			defer cancel()

			tracker, st, cleanup, setupErr := hookDeps(logger)
			if setupErr != nil {
				logger.Error("hook session-end: setup", "error", setupErr)
				writeHookOutput(hooks.SessionEndOutput{})
				return nil
			}
			defer cleanup()

			hook := hooks.NewSessionEndHook(st, tracker, newCalculator(), newEngine(st, logger), logger)
			out, execErr := hook.Execute(ctx)
			if execErr != nil {
				logger.Error("hook session-end: executing", "error", execErr)
				_, _ = fmt.Fprintf(os.Stderr, "engram hook: session end maintenance failed (%v), skipping\n", execErr)
				writeHookOutput(hooks.SessionEndOutput{})
				return nil
			}
			writeHookOutput(out)
			return nil
		},
	}
}

// hookDeps wires the tracker and store for hooks that need both.
func hookDeps(logger *slog.Logger) (*session.Tracker, store.Store, func(), error) {
	tracker, err := newTracker()
	if err != nil {
		return nil, nil, nil, err
	}
	st, err := newStore(tracker, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return tracker, st, func() { _ = st.Close() }, nil
}

// writeHookOutput marshals out to stdout. On marshal failure it writes an
// empty object so downstream JSON parsing always succeeds.
func writeHookOutput(out any) {
	enc, err := json.Marshal(out)
	if err != nil {
		_, _ = os.Stdout.WriteString("{}\n")
		return
	}
	_, _ = os.Stdout.Write(enc)
	_, _ = os.Stdout.WriteString("\n")
}
