package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/storyforge/internal/monitor"
	"github.com/fyrsmithlabs/storyforge/internal/orchestrator"
	"github.com/fyrsmithlabs/storyforge/internal/task"
)

type runFlags struct {
	format    string
	outputDir string
	tui       bool
}

func newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run [story]",
		Short: "Generate code for a single user story",
		Long: `Run one user story through analysis, planning, per-file generation and
manifest synthesis, then print the result.

Examples:
  # Generate from an argument
  storyforge run "As a doctor I want a dashboard with patient records"

  # Generate from stdin as YAML
  cat story.txt | storyforge run - --format yaml

  # Write into a different directory
  storyforge run --output-dir ./out "Patients can book appointments"

  # Follow phases and files live, logs to a file
  storyforge run --tui "Patients can book appointments" 2>run.log`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStory(cmd, args, flags)
		},
	}
	cmd.Flags().StringVarP(&flags.format, "format", "f", formatText, "output format: text, json, yaml or toml")
	cmd.Flags().StringVarP(&flags.outputDir, "output-dir", "o", "", "override output.dir")
	cmd.Flags().BoolVar(&flags.tui, "tui", false, "show live progress while the task runs")
	return cmd
}

func runStory(cmd *cobra.Command, args []string, flags runFlags) error {
	if !validFormat(flags.format) {
		return fmt.Errorf("unknown format %q (want text, json, yaml or toml)", flags.format)
	}
	story, err := readStory(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, appOptions{outputDir: flags.outputDir, stdio: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	var (
		res    task.Result
		runErr error
	)
	if flags.tui {
		res, runErr = runWithMonitor(ctx, a, story, cmd, fromStdin(args))
	} else {
		res, runErr = a.orch.ProcessTask(ctx, story)
	}
	if err := render(cmd.OutOrStdout(), flags.format, res); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("task aborted: %w", runErr)
	}
	return nil
}

// runWithMonitor runs the task behind the progress view. Quitting the view
// cancels the run.
func runWithMonitor(ctx context.Context, a *app, story string, cmd *cobra.Command, stdinUsed bool) (task.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithOutput(cmd.OutOrStdout())}
	if stdinUsed {
		opts = append(opts, tea.WithInput(nil))
	} else {
		opts = append(opts, tea.WithInput(cmd.InOrStdin()))
	}
	prog := tea.NewProgram(monitor.NewModel(story, cancel), opts...)
	a.orch.OnProgress(func(p orchestrator.PhaseProgress) {
		prog.Send(monitor.ProgressMsg(p))
	})

	type outcome struct {
		res task.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := a.orch.ProcessTask(ctx, story)
		done <- outcome{res: res, err: err}
		prog.Send(monitor.DoneMsg{Result: res, Err: err})
	}()

	if _, err := prog.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		cancel()
		<-done
		return task.Result{}, fmt.Errorf("progress view: %w", err)
	}
	o := <-done
	return o.res, o.err
}

func fromStdin(args []string) bool {
	return len(args) == 0 || args[0] == "-"
}

// readStory takes the story from the argument, or from in when the
// argument is "-" or missing.
func readStory(args []string, in io.Reader) (string, error) {
	var story string
	if !fromStdin(args) {
		story = args[0]
	} else {
		data, err := io.ReadAll(io.LimitReader(in, maxStoryBytes+1))
		if err != nil {
			return "", fmt.Errorf("failed to read from stdin: %w", err)
		}
		if len(data) > maxStoryBytes {
			return "", fmt.Errorf("story exceeds %d bytes", maxStoryBytes)
		}
		story = string(data)
	}
	story = strings.TrimSpace(story)
	if story == "" {
		return "", fmt.Errorf("no story given")
	}
	return story, nil
}
