package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/parkerhale/engram/internal/config"
	"github.com/parkerhale/engram/internal/eviction"
	"github.com/parkerhale/engram/internal/priority"
	"github.com/parkerhale/engram/internal/session"
	"github.com/parkerhale/engram/internal/store"
)

var cfg *config.Config

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	rootCmd := &cobra.Command{
		Use:   "engram",
		Short: "Engram — session-persistent memory for AI coding assistants",
		Long:  "Engram stores memories across assistant sessions, scores them by difficulty, recency, and frequency, and gradually compresses the least valuable ones instead of deleting them.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return nil
		},
	}

	rootCmd.AddCommand(
		storeCmd(),
		getCmd(),
		listCmd(),
		recallCmd(),
		updateCmd(),
		forgetCmd(),
		statusCmd(),
		evictCmd(),
		checkCmd(),
		hookCmd(),
		mcpCmd(),
		serveCmd(),
	)

	rootCmd.SetContext(ctx)

	err := rootCmd.Execute()
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil && cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg != nil && cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func newCalculator() *priority.Calculator {
	return priority.NewCalculator(cfg.Priority.Weights, cfg.Priority.FrequencyCap, cfg.Priority.TokenCap)
}

func newTracker() (*session.Tracker, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.StatePath()), 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	return session.NewTracker(cfg.StatePath())
}

func newStore(sessions store.SessionSource, logger *slog.Logger) (store.Store, error) {
	calc := newCalculator()
	// On failure return a nil interface, never the backend's typed nil
	// pointer: callers check st == nil.
	switch cfg.Storage.Backend {
	case "sqlite":
		st, err := store.NewSQLiteStore(cfg.DatabasePath(), calc, sessions, logger)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		st, err := store.NewFileStore(cfg.Storage.Path, calc, sessions, logger)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
}

func newEngine(st store.Store, logger *slog.Logger) *eviction.Engine {
	return eviction.NewEngine(st, cfg.Eviction, logger)
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen]) + "..."
	}
	return s
}
