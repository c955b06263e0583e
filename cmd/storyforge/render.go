package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/storyforge/internal/task"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
	formatTOML = "toml"

	maxStoryBytes = 64 * 1024
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45")).
			Width(14)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

func validFormat(format string) bool {
	switch format {
	case formatText, formatJSON, formatYAML, formatTOML:
		return true
	}
	return false
}

// render writes res to w in the requested format.
func render(w io.Writer, format string, res task.Result) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case formatTOML:
		if err := toml.NewEncoder(w).Encode(res); err != nil {
			return fmt.Errorf("encode toml: %w", err)
		}
		return nil
	default:
		_, err := io.WriteString(w, renderText(res))
		return err
	}
}

func renderText(res task.Result) string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("storyforge") + " " + dimStyle.Render(res.TaskID) + "\n")

	status := healthyStyle.Render("success")
	if !res.Success {
		status = errorStyle.Render("failed")
	}
	row(&b, "Status", status)
	row(&b, "Message", valueStyle.Render(res.Message))
	if res.RunID != "" {
		row(&b, "Run", dimStyle.Render(res.RunID))
	}

	if a := res.Analysis; a != nil {
		b.WriteString(sectionStyle.Render("Analysis") + "\n")
		row(&b, "Complexity", valueStyle.Render(string(a.Complexity)))
		if a.Architecture != "" {
			row(&b, "Architecture", valueStyle.Render(a.Architecture))
		}
		row(&b, "Entities", valueStyle.Render(joinOrDash(a.Entities)))
		row(&b, "Actions", valueStyle.Render(joinOrDash(a.Actions)))
	}

	b.WriteString(sectionStyle.Render("Files") + "\n")
	names := fileNames(res)
	if len(names) == 0 {
		b.WriteString(dimStyle.Render("  none") + "\n")
	}
	for _, name := range names {
		path, ok := res.Files[name]
		outcome, hasOutcome := res.Outcomes[name]
		switch {
		case ok:
			row(&b, name, healthyStyle.Render("✓ ")+dimStyle.Render(path))
		case hasOutcome && outcome == task.OutcomeTimedOut:
			row(&b, name, warningStyle.Render("⏱ "+string(outcome)))
		default:
			row(&b, name, errorStyle.Render("✗ "+string(outcome)))
		}
	}

	if res.Manifest != "" {
		b.WriteString(sectionStyle.Render("Manifest") + "\n")
		row(&b, "composer.json", healthyStyle.Render("✓ ")+dimStyle.Render(res.Manifest))
	}

	if res.Validation != nil {
		b.WriteString(sectionStyle.Render("Validation") + "\n")
		b.WriteString(warningStyle.Render("  "+*res.Validation) + "\n")
	}
	return b.String()
}

func row(b *strings.Builder, label, value string) {
	b.WriteString("  " + labelStyle.Render(label) + " " + value + "\n")
}

// fileNames lists written files and files with an outcome, sorted.
func fileNames(res task.Result) []string {
	seen := make(map[string]struct{}, len(res.Files)+len(res.Outcomes))
	for name := range res.Files {
		seen[name] = struct{}{}
	}
	for name := range res.Outcomes {
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
