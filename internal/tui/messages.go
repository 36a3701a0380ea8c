package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// TickMsg is sent periodically to trigger timer-driven updates.
type TickMsg struct {
	// Time is the wall-clock time at which the tick fired.
	Time time.Time
}

// ErrorMsg represents a non-fatal error to display in the event log.
// Fatal errors should cause program termination via tea.Quit; ErrorMsg is
// reserved for recoverable issues that the user should be aware of.
type ErrorMsg struct {
	// Source identifies the component that generated the error (e.g. "scheduler").
	Source string
	// Detail is the human-readable error description.
	Detail string
	// Timestamp records when the error was observed.
	Timestamp time.Time
}

// TickCmd returns a tea.Cmd that sends a single TickMsg after duration d.
func TickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return TickMsg{Time: t}
	})
}

// TickEvery returns a tea.Cmd that sends a TickMsg after duration d. The
// caller's Update handler should call TickEvery again upon receiving a
// TickMsg to create recurring ticks:
//
//	case TickMsg:
//	    // update state...
//	    return m, TickEvery(interval)
func TickEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return TickMsg{Time: t}
	})
}
