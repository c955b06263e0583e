package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/storyforge/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run an MCP server on stdio",
		Long: `Run a Model Context Protocol server on stdin/stdout exposing the
generate_code tool. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, appOptions{stdio: true})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			srv, err := mcp.NewServer(&mcp.Config{
				Name:    "storyforge",
				Version: version,
				Logger:  a.logger,
			}, a.orch)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
}
