package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kelsos/devicefarm-ci/internal/logger"
	"github.com/kelsos/devicefarm-ci/internal/workflow"
)

// Sender delivers messages to a running program
type Sender interface {
	Send(msg tea.Msg)
}

// WorkflowMonitor forwards workflow progress to the bubbletea program.
// It implements workflow.Observer.
type WorkflowMonitor struct {
	sender  Sender
	program *tea.Program
}

// NewWorkflowMonitor creates a monitor showing the given stages
func NewWorkflowMonitor(stages []workflow.Stage, logPath string) *WorkflowMonitor {
	program := tea.NewProgram(NewModel(stages, logPath), tea.WithAltScreen())
	return &WorkflowMonitor{sender: program, program: program}
}

func newMonitorWithSender(sender Sender) *WorkflowMonitor {
	return &WorkflowMonitor{sender: sender}
}

// StageStarted marks a stage as running
func (wm *WorkflowMonitor) StageStarted(stage workflow.Stage, message string) {
	wm.sender.Send(StageUpdate{Stage: stage, Message: message})
}

// StageFinished marks a stage as done or failed and logs the failure
func (wm *WorkflowMonitor) StageFinished(stage workflow.Stage, err error) {
	wm.sender.Send(StageUpdate{Stage: stage, Finished: true, Error: err})
	if err != nil {
		wm.Log(fmt.Sprintf("❌ %s failed: %v", stage, err))
	}
}

// StatusChanged records the latest polled status of a resource
func (wm *WorkflowMonitor) StatusChanged(resource, status string) {
	wm.sender.Send(StatusUpdate{Resource: resource, Status: status})
}

// Log appends a line to the recent logs panel
func (wm *WorkflowMonitor) Log(message string) {
	wm.sender.Send(LogMessage{Message: message})
}

// Run executes fn while the TUI is displayed. Quitting the TUI cancels the
// context passed to fn; Run returns once fn has returned.
func (wm *WorkflowMonitor) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		err := fn(ctx)
		wm.sender.Send(WorkflowDone{Error: err})
		if err != nil {
			logger.Error("Workflow failed: %v", err)
		}
		wm.program.Quit()
		done <- err
	}()

	if _, err := wm.program.Run(); err != nil {
		cancel()
		<-done
		return fmt.Errorf("failed to run TUI: %w", err)
	}

	cancel()
	return <-done
}
