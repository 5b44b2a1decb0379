package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kelsos/devicefarm-ci/internal/workflow"
)

const maxLogLines = 10

type StageState string

const (
	StatePending StageState = "pending"
	StateRunning StageState = "running"
	StateDone    StageState = "done"
	StateFailed  StageState = "failed"
)

type StageStatus struct {
	Stage         workflow.Stage
	State         StageState
	Message       string
	Error         error
	StartTime     time.Time
	CompletedTime time.Time
}

type Model struct {
	stages        []workflow.Stage
	stageStatuses map[workflow.Stage]*StageStatus
	resources     []string
	resourceState map[string]string
	logs          []string
	spinner       spinner.Model
	progress      progress.Model
	width         int
	height        int
	quit          bool
	done          bool
	finalErr      error
	logPath       string
}

type StageUpdate struct {
	Stage    workflow.Stage
	Message  string
	Finished bool
	Error    error
}

type StatusUpdate struct {
	Resource string
	Status   string
}

type LogMessage struct {
	Message string
}

type WorkflowDone struct {
	Error error
}

func NewModel(stages []workflow.Stage, logPath string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	pr := progress.New(progress.WithDefaultGradient())

	statuses := make(map[workflow.Stage]*StageStatus, len(stages))
	for _, stage := range stages {
		statuses[stage] = &StageStatus{Stage: stage, State: StatePending}
	}

	return Model{
		stages:        stages,
		stageStatuses: statuses,
		resourceState: make(map[string]string),
		logs:          []string{},
		spinner:       sp,
		progress:      pr,
		width:         80,
		height:        24,
		logPath:       logPath,
	}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.handleKeyMsg(msg) {
			m.quit = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m = m.handleWindowSizeMsg(msg)

	case StageUpdate:
		m = m.handleStageUpdate(msg)

	case StatusUpdate:
		m = m.handleStatusUpdate(msg)

	case LogMessage:
		m = m.handleLogMessage(msg)

	case WorkflowDone:
		m.done = true
		m.finalErr = msg.Error

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		if progressModel, ok := progressModel.(progress.Model); ok {
			m.progress = progressModel
		}
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m Model) handleKeyMsg(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "q", "ctrl+c":
		return true
	}
	return false
}

func (m Model) handleWindowSizeMsg(msg tea.WindowSizeMsg) Model {
	m.width = msg.Width
	m.height = msg.Height
	m.progress.Width = max(msg.Width-40, 10)
	return m
}

func (m Model) handleStageUpdate(msg StageUpdate) Model {
	status, exists := m.stageStatuses[msg.Stage]
	if !exists {
		return m
	}

	if !msg.Finished {
		status.State = StateRunning
		status.Message = msg.Message
		status.StartTime = time.Now()
		return m
	}

	status.CompletedTime = time.Now()
	status.Error = msg.Error
	if msg.Error != nil {
		status.State = StateFailed
	} else {
		status.State = StateDone
	}
	return m
}

func (m Model) handleStatusUpdate(msg StatusUpdate) Model {
	if _, seen := m.resourceState[msg.Resource]; !seen {
		m.resources = append(m.resources, msg.Resource)
	}
	m.resourceState[msg.Resource] = msg.Status
	return m
}

func (m Model) handleLogMessage(msg LogMessage) Model {
	m.logs = append(m.logs, fmt.Sprintf("[%s] %s",
		time.Now().Format("15:04:05"), msg.Message))
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
	return m
}

// Progress is the fraction of stages that have finished
func (m Model) Progress() float64 {
	if len(m.stages) == 0 {
		return 0
	}
	finished := 0
	for _, stage := range m.stages {
		state := m.stageStatuses[stage].State
		if state == StateDone || state == StateFailed {
			finished++
		}
	}
	return float64(finished) / float64(len(m.stages))
}

func (m Model) View() string {
	if m.quit {
		return "Shutting down...\n"
	}

	var s strings.Builder

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("39")).
		MarginBottom(1)

	s.WriteString(headerStyle.Render("📱 Device Farm CI"))
	s.WriteString("\n\n")

	summaryStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))
	s.WriteString(summaryStyle.Render(m.summaryLine()))
	s.WriteString(" ")
	s.WriteString(m.progress.ViewAs(m.Progress()))
	s.WriteString("\n\n")

	sectionStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1).
		Width(m.width - 2)

	var stages strings.Builder
	stages.WriteString("📊 Stages\n")
	stages.WriteString(strings.Repeat("─", 60) + "\n")
	for _, stage := range m.stages {
		stages.WriteString(m.stageLine(m.stageStatuses[stage]) + "\n")
	}
	if len(m.resources) > 0 {
		stages.WriteString("\n⏳ Resources\n")
		for _, resource := range m.resources {
			stages.WriteString(fmt.Sprintf("  %-12s %s\n", m.resourceState[resource], shortARN(resource)))
		}
	}

	s.WriteString(sectionStyle.Render(stages.String()))
	s.WriteString("\n\n")

	logSectionStyle := lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1).
		Width(m.width - 2).
		Height(maxLogLines)

	var logSection strings.Builder
	logSection.WriteString("📝 Recent Logs\n")
	for _, line := range m.logs {
		logSection.WriteString(line + "\n")
	}

	s.WriteString(logSectionStyle.Render(logSection.String()))
	s.WriteString("\n\n")

	footerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	footer := "Press 'q' to quit"
	if m.logPath != "" {
		footer += " | Logs: " + m.logPath
	}
	s.WriteString(footerStyle.Render(footer))

	return s.String()
}

func (m Model) summaryLine() string {
	switch {
	case !m.done:
		return "Running"
	case m.finalErr != nil:
		return "❌ Failed: " + m.finalErr.Error()
	default:
		return "✅ Passed"
	}
}

func (m Model) stageLine(status *StageStatus) string {
	icon := getStateIcon(status.State)
	if status.State == StateRunning {
		icon = m.spinner.View()
	}

	line := fmt.Sprintf("%s %-13s", icon, status.Stage)

	switch {
	case status.Error != nil:
		errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		line += " " + errorStyle.Render(fmt.Sprintf("Error: %v", status.Error))
	case status.State == StateDone:
		line += fmt.Sprintf(" %s", status.CompletedTime.Sub(status.StartTime).Round(time.Second))
	case status.Message != "":
		messageStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
		line += " " + messageStyle.Render(status.Message)
	}

	stageStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(getStateColor(status.State)))
	return stageStyle.Render(line)
}

func getStateIcon(state StageState) string {
	switch state {
	case StatePending:
		return "⏸"
	case StateRunning:
		return "🔄"
	case StateDone:
		return "✅"
	case StateFailed:
		return "❌"
	default:
		return "❓"
	}
}

func getStateColor(state StageState) string {
	switch state {
	case StatePending:
		return "244"
	case StateDone:
		return "82"
	case StateFailed:
		return "196"
	default:
		return "39"
	}
}

// shortARN keeps the resource part of an ARN, which is what the console shows.
func shortARN(arn string) string {
	if i := strings.LastIndex(arn, ":"); i >= 0 && i < len(arn)-1 {
		return arn[i+1:]
	}
	return arn
}
