package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/storyforge/internal/watch"
)

func newWatchCmd() *cobra.Command {
	var ext string
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Run every story file dropped into a directory",
		Long: `Watch a directory for story files and run each one when its writes
settle. The result is written next to the story as <name>.result.json.
Stories without a result are run on startup.

Examples:
  storyforge watch ./stories
  storyforge watch ./inbox --ext .txt --debounce 2s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, appOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			w, err := watch.New(a.orch, watch.Config{
				Dir:       args[0],
				Extension: ext,
				Debounce:  debounce,
			}, a.logger)
			if err != nil {
				return err
			}
			defer func() { _ = w.Close() }()
			return w.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&ext, "ext", watch.DefaultExtension, "story file extension")
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before a changed story runs")
	return cmd
}
