package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// DebugStepper is the engine surface the debug TUI drives: one poll cycle
// per confirmed step, run against the real scheduler rather than a
// simulation.
type DebugStepper interface {
	Step(ctx context.Context) error
}

// ActRow is a single rendered line of the graph's breadth-first act list:
// its name and the executor bound to it.
type ActRow struct {
	Act      string
	Executor string
}

type stepDoneMsg struct{ err error }

type confirmState int

const (
	confirmIdle confirmState = iota
	confirmPending
)

// DebugModel is the Bubble Tea model behind the "debug" subcommand. It
// lists the compiled workflow graph's acts, then steps a DebugStepper (the
// real scheduler, not a simulated one) one poll cycle at a time behind a
// confirmation prompt, logging every outcome to an embedded EventLogModel.
// Adapted from the command center's App/EventLogModel split: the sidebar,
// agent panel, and wizard panes there are specific to the interactive
// pipeline wizard and don't apply to stepping a compiled graph, so this
// model keeps only the title bar, event log, and status bar chrome and
// replaces the rest with a plain act list.
type DebugModel struct {
	theme    Theme
	acts     []ActRow
	eventLog EventLogModel
	stepper  DebugStepper
	ctx      context.Context

	width, height int
	confirm       confirmState
	stepCount     int
	quitting      bool
}

// NewDebugModel constructs a DebugModel over a bfs-ordered act list and a
// stepper. ctx bounds every Step call.
func NewDebugModel(ctx context.Context, acts []ActRow, stepper DebugStepper) DebugModel {
	theme := DefaultTheme()
	el := NewEventLogModel(theme)
	el.AddEntry(EventInfo, fmt.Sprintf("loaded graph: %d acts", len(acts)))
	return DebugModel{
		theme:    theme,
		acts:     acts,
		eventLog: el,
		stepper:  stepper,
		ctx:      ctx,
	}
}

// Init satisfies tea.Model; no startup command is needed.
func (m DebugModel) Init() tea.Cmd { return nil }

// Update handles window resizes, the step/confirm/quit key bindings, and
// step results, then forwards everything else to the embedded event log.
func (m DebugModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		logHeight := m.height - len(m.acts) - 5
		if logHeight < 3 {
			logHeight = 3
		}
		m.eventLog.SetDimensions(m.width, logHeight)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "s":
			if m.confirm == confirmIdle {
				m.confirm = confirmPending
			}
			return m, nil
		case "y", "enter":
			if m.confirm != confirmPending {
				break
			}
			m.confirm = confirmIdle
			return m, m.stepCmd()
		case "n", "esc":
			m.confirm = confirmIdle
			return m, nil
		}
		return m, nil

	case stepDoneMsg:
		m.stepCount++
		if msg.err != nil {
			m.eventLog.AddEntry(EventError, fmt.Sprintf("step %d failed: %v", m.stepCount, msg.err))
		} else {
			m.eventLog.AddEntry(EventSuccess, fmt.Sprintf("step %d complete", m.stepCount))
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.eventLog, cmd = m.eventLog.Update(msg)
	return m, cmd
}

func (m DebugModel) stepCmd() tea.Cmd {
	stepper, ctx := m.stepper, m.ctx
	return func() tea.Msg {
		return stepDoneMsg{err: stepper.Step(ctx)}
	}
}

// View renders the title bar, the static act list, the event log, and a
// status line that doubles as the step confirmation prompt.
func (m DebugModel) View() string {
	if m.quitting {
		return ""
	}

	title := m.theme.TitleBar.Width(m.width).Render(
		fmt.Sprintf("warp-coder debug — %d acts, %d step(s) run", len(m.acts), m.stepCount))

	var list string
	for i, row := range m.acts {
		list += fmt.Sprintf("%2d. %-24s executor=%s\n", i+1, row.Act, row.Executor)
	}

	prompt := "s: step   q: quit"
	if m.confirm == confirmPending {
		prompt = "run one scheduler poll cycle? y: yes   n: cancel"
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		list,
		m.eventLog.View(),
		m.theme.StatusBar.Width(m.width).Render(prompt),
	)
}

// RunDebugTUI runs the debug stepper program to completion (until the user
// quits with q/ctrl+c).
func RunDebugTUI(ctx context.Context, acts []ActRow, stepper DebugStepper) error {
	p := tea.NewProgram(NewDebugModel(ctx, acts, stepper), tea.WithAltScreen())
	_, err := p.Run()
	if err != nil {
		return fmt.Errorf("running debug TUI: %w", err)
	}
	return nil
}
