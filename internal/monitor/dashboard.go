package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/storyforge/internal/orchestrator"
	"github.com/fyrsmithlabs/storyforge/internal/task"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	storyWidth      = 60
	tickInterval    = time.Second
)

// Model is the BubbleTea view of a single task run
type Model struct {
	story    string
	cancel   context.CancelFunc
	started  time.Time
	elapsed  time.Duration
	quitting bool

	taskID  string
	phase   orchestrator.Phase
	status  map[orchestrator.Phase]orchestrator.PhaseStatus
	message string
	planned int
	files   []fileRow
	rounds  []float64

	done   bool
	result *task.Result
	err    error

	filesProgress progress.Model
	spinner       spinner.Model
}

type fileRow struct {
	name    string
	outcome task.Outcome
	rounds  int
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	// Header style - bright cyan background, bold black text
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	// Section title style - bold bright cyan
	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

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

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates the view for one run. cancel is called when the user
// quits before the run finished; it may be nil.
func NewModel(story string, cancel context.CancelFunc) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = sparklineStyle

	return Model{
		story:   story,
		cancel:  cancel,
		started: time.Now(),
		status:  make(map[orchestrator.Phase]orchestrator.PhaseStatus),
		rounds:  make([]float64, 0, historySize),
		filesProgress: progress.New(
			progress.WithGradient("#00ffff", "#00ff00"),
			progress.WithWidth(40),
		),
		spinner: s,
	}
}

// ProgressMsg carries one orchestrator progress report into the program
type ProgressMsg orchestrator.PhaseProgress

// DoneMsg ends the program once ProcessTask returned
type DoneMsg struct {
	Result task.Result
	Err    error
}

type tickMsg time.Time

// Init starts the spinner and the elapsed clock
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			if !m.done && m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}

	case tickMsg:
		if m.done {
			return m, nil
		}
		m.elapsed = time.Time(msg).Sub(m.started)
		return m, tick()

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case ProgressMsg:
		m.apply(orchestrator.PhaseProgress(msg))
		return m, nil

	case DoneMsg:
		res := msg.Result
		m.done = true
		m.result = &res
		m.err = msg.Err
		m.elapsed = time.Since(m.started)
		return m, tea.Quit
	}

	return m, nil
}

func (m *Model) apply(p orchestrator.PhaseProgress) {
	if p.TaskID != "" {
		m.taskID = p.TaskID
	}
	if p.File != "" {
		m.files = append(m.files, fileRow{name: p.File, outcome: p.Outcome, rounds: p.Rounds})
		m.rounds = appendToHistory(m.rounds, float64(p.Rounds))
		return
	}
	if m.phase != "" && m.phase != p.Phase && m.status[m.phase] == orchestrator.StatusInProgress {
		m.status[m.phase] = orchestrator.StatusCompleted
	}
	m.phase = p.Phase
	m.status[p.Phase] = p.Status
	if p.Planned > 0 {
		m.planned = p.Planned
	}
	if p.Message != "" {
		m.message = p.Message
	}
}

// Done reports whether the run finished while the view was up
func (m Model) Done() bool { return m.done }

// Quitting reports whether the user closed the view
func (m Model) Quitting() bool { return m.quitting }

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()

	return sparklineStyle.Render(spark.View())
}

// outcomeBadge returns a colored symbol for a file outcome
func outcomeBadge(o task.Outcome) string {
	switch o {
	case task.OutcomeCodeProduced:
		return healthyStyle.Render("[✓]")
	case task.OutcomeTimedOut:
		return warningStyle.Render("[⏱]")
	default:
		return errorStyle.Render("[✗]")
	}
}

// phaseBadge returns the marker shown next to a phase name
func (m Model) phaseBadge(p orchestrator.Phase) string {
	switch m.status[p] {
	case orchestrator.StatusCompleted:
		return healthyStyle.Render("✓")
	case orchestrator.StatusFailed:
		return errorStyle.Render("✗")
	case orchestrator.StatusInProgress:
		if m.done {
			return dimStyle.Render("·")
		}
		return m.spinner.View()
	default:
		return dimStyle.Render("·")
	}
}

// View renders the run
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	header := headerStyle.Render(" storyforge ")
	b.WriteString(header + "   " + m.statusBadge() + "   " +
		dimStyle.Render("Elapsed: ") + valueStyle.Render(FormatElapsed(m.elapsed)) + "\n")
	b.WriteString(labelStyle.Render("  Story: ") + valueStyle.Render(Truncate(m.story, storyWidth)) + "\n")
	if m.taskID != "" {
		b.WriteString(labelStyle.Render("  Task: ") + dimStyle.Render(m.taskID) + "\n")
	}

	// Phases
	b.WriteString("\n" + sectionStyle.Render("┃ Phases") + "\n")
	for _, p := range orchestrator.AllPhases()[1:] {
		b.WriteString(fmt.Sprintf("  %s %s\n", m.phaseBadge(p), labelStyle.Render(string(p))))
	}
	if m.status[orchestrator.PhaseFailed] != "" {
		b.WriteString(fmt.Sprintf("  %s %s\n", errorStyle.Render("✗"), errorStyle.Render(string(orchestrator.PhaseFailed))))
	}

	// Files
	b.WriteString("\n" + sectionStyle.Render("┃ Files") + "\n")
	ratio := 0.0
	if m.planned > 0 {
		ratio = float64(len(m.files)) / float64(m.planned)
		if ratio > 1.0 {
			ratio = 1.0
		}
	}
	b.WriteString(labelStyle.Render("  Progress: ") +
		m.filesProgress.ViewAs(ratio) +
		" " + dimStyle.Render(fmt.Sprintf("%d/%d", len(m.files), m.planned)) + "\n")
	b.WriteString(labelStyle.Render("  Rounds: ") + createSparkline(m.rounds) + "\n")

	rows := append([]fileRow(nil), m.files...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].name < rows[j].name })
	for _, r := range rows {
		b.WriteString(fmt.Sprintf("  %s %s %s\n",
			outcomeBadge(r.outcome),
			valueStyle.Render(r.name),
			dimStyle.Render(fmt.Sprintf("%s, %s", r.outcome, FormatRounds(r.rounds)))))
	}

	if m.message != "" {
		b.WriteString("\n" + labelStyle.Render("  Message: ") + dimStyle.Render(m.message) + "\n")
	}
	if m.err != nil {
		b.WriteString(labelStyle.Render("  Error: ") + errorStyle.Render(m.err.Error()) + "\n")
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit")
	if !m.done {
		footer = footerKeyStyle.Render("[q]") + footerStyle.Render(" cancel run")
	}
	b.WriteString("\n" + footer)

	return containerStyle.Render(b.String())
}

// statusBadge returns the overall run badge
func (m Model) statusBadge() string {
	switch {
	case !m.done:
		return warningStyle.Render("⟳ RUNNING")
	case m.err != nil:
		return errorStyle.Render("✗ ABORTED")
	case m.result != nil && m.result.Success:
		return healthyStyle.Render("✓ SUCCESS")
	default:
		return errorStyle.Render("✗ FAILED")
	}
}
