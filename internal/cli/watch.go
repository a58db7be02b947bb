package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"exchangesync/backend"
)

const defaultMaxEvents = 20

// TaskEventMsg carries a changed task into the watch view
type TaskEventMsg struct {
	Task backend.TaskDto
	At   time.Time
}

// WatchErrMsg reports a subscription error without stopping the view
type WatchErrMsg struct {
	Err error
}

// WatchDoneMsg ends the view when the subscription stops
type WatchDoneMsg struct{}

// WatchModel is the bubbletea model of the live change view
type WatchModel struct {
	spinner      spinner.Model
	backendName  string
	dateFormat   string
	events       []TaskEventMsg
	maxEvents    int
	total        int
	errorCount   int
	lastErr      error
	quitting     bool
	disconnected bool
	width        int
}

// NewWatchModel creates the watch view for a backend
func NewWatchModel(backendName, dateFormat string) WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))

	return WatchModel{
		spinner:     s,
		backendName: backendName,
		dateFormat:  dateFormat,
		maxEvents:   defaultMaxEvents,
		width:       80,
	}
}

func (m WatchModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case TaskEventMsg:
		m.total++
		m.events = append([]TaskEventMsg{msg}, m.events...)
		if len(m.events) > m.maxEvents {
			m.events = m.events[:m.maxEvents]
		}
		return m, nil

	case WatchErrMsg:
		m.errorCount++
		m.lastErr = msg.Err
		return m, nil

	case WatchDoneMsg:
		m.disconnected = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m WatchModel) View() string {
	if m.quitting {
		return ""
	}

	var s strings.Builder

	status := fmt.Sprintf("%s Watching %s for task changes", m.spinner.View(), m.backendName)
	if m.disconnected {
		status = "Subscription stopped"
	}
	s.WriteString(headerStyle.Render(status))
	s.WriteString("\n")
	s.WriteString(dimStyle.Render(fmt.Sprintf("%d changes received, %d errors", m.total, m.errorCount)))
	s.WriteString("\n\n")

	if len(m.events) == 0 {
		s.WriteString(dimStyle.Render("  Waiting for changes..."))
		s.WriteString("\n")
	}
	for _, e := range m.events {
		s.WriteString("  ")
		s.WriteString(FormatTaskEvent(e, m.dateFormat))
		s.WriteString("\n")
	}

	if m.lastErr != nil {
		s.WriteString("\n")
		s.WriteString(dueStyle.Render("last error: " + truncate(m.lastErr.Error(), m.width-14)))
		s.WriteString("\n")
	}

	s.WriteString("\n")
	s.WriteString(dimStyle.Render("q: quit"))
	return s.String()
}

// FormatTaskEvent renders one received change
func FormatTaskEvent(e TaskEventMsg, dateFormat string) string {
	return fmt.Sprintf("%s  %s", dimStyle.Render(e.At.Format("15:04:05")), FormatTask(e.Task, dateFormat))
}

// PrintTaskEvent writes a change as a plain line for non-interactive output
func PrintTaskEvent(w io.Writer, e TaskEventMsg, dateFormat string) {
	status := "open"
	if e.Task.Completed {
		status = "done"
	}
	due := "-"
	if e.Task.DueDate != nil {
		due = e.Task.DueDate.Format(dateFormat)
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.At.Format(time.RFC3339), e.Task.ExchangeID, status, due, e.Task.Name)
}

func truncate(s string, max int) string {
	if max < 10 {
		max = 10
	}
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
