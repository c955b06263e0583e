// Storyforge turns user stories into generated source files.
//
// Usage:
//
//	# Generate code for a story and print a summary
//	storyforge run "As a doctor I want a dashboard with patient records"
//
//	# Read the story from stdin, print the result as JSON
//	cat story.txt | storyforge run - --format json
//
//	# Serve the HTTP API or an MCP stdio server
//	storyforge serve
//	storyforge mcp
//
//	# Run every story file written into a directory
//	storyforge watch ./stories
//
// Configuration is loaded from ~/.config/storyforge/config.yaml and
// STORYFORGE_* environment variables. See internal/config for details.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "storyforge",
		Short: "Generate source files from user stories",
		Long: `storyforge analyses a user story with a language model, plans the files
needed to implement it, generates each file and synthesizes a composer.json
manifest for the result.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/storyforge/config.yaml)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newMCPCmd())
	root.AddCommand(newWatchCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "storyforge by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
