package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"exchangesync/backend"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	borderStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("36"))
	doneStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Strikethrough(true)
	openStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dueStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	recurringStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))
)

// GetTerminalWidth returns the current terminal width, defaulting to 80 if unable to detect
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return width
}

func borderWidth() int {
	width := GetTerminalWidth() - 2
	if width < 40 {
		width = 40
	}
	if width > 100 {
		width = 100
	}
	return width
}

func header(title string, width int) string {
	text := "─ " + title + " "
	padding := width - lipgloss.Width(text)
	if padding < 0 {
		padding = 0
	}
	return borderStyle.Render("┌" + text + strings.Repeat("─", padding) + "┐")
}

func footer(width int) string {
	return borderStyle.Render("└" + strings.Repeat("─", width) + "┘")
}

// FormatTask renders one task line
func FormatTask(task backend.TaskDto, dateFormat string) string {
	if task.Completed {
		return "✓ " + doneStyle.Render(task.Name)
	}
	line := "○ " + openStyle.Render(task.Name)
	if task.DueDate != nil {
		line += " " + dueStyle.Render("due "+task.DueDate.Format(dateFormat))
	}
	return line
}

// ShowTasks prints tasks inside a bordered box with their item ids
func ShowTasks(w io.Writer, tasks []backend.TaskDto, dateFormat string, showIDs bool) {
	width := borderWidth()
	fmt.Fprintln(w)
	fmt.Fprintln(w, header(fmt.Sprintf("Tasks (%d)", len(tasks)), width))

	if len(tasks) == 0 {
		fmt.Fprintln(w, dimStyle.Render("  No flagged e-mails"))
	}
	for _, task := range tasks {
		fmt.Fprintf(w, "  %s\n", FormatTask(task, dateFormat))
		if showIDs {
			fmt.Fprintf(w, "      %s\n", dimStyle.Render(task.ExchangeID))
		}
	}
	fmt.Fprintln(w, footer(width))
}

// FormatAppointment renders the first line of an appointment
func FormatAppointment(a backend.AppointmentDto, dateFormat string) string {
	when := a.Start.Format(dateFormat + " 15:04")
	if sameDay(a) {
		when += "-" + a.End.Format("15:04")
	} else {
		when += " → " + a.End.Format(dateFormat+" 15:04")
	}

	line := fmt.Sprintf("%s  %s", dimStyle.Render(when), headerStyle.Render(a.Summary))
	if a.RecurrenceType != "" && a.RecurrenceType != backend.RecurrenceNone {
		recurrence := string(a.RecurrenceType)
		if a.RecurrenceCount != nil {
			recurrence = fmt.Sprintf("%s ×%d", recurrence, *a.RecurrenceCount)
		}
		line += " " + recurringStyle.Render("↻ "+recurrence)
	}
	return line
}

func sameDay(a backend.AppointmentDto) bool {
	y1, m1, d1 := a.Start.Date()
	y2, m2, d2 := a.End.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// ShowAppointments prints appointments with location and attendees
func ShowAppointments(w io.Writer, appointments []backend.AppointmentDto, dateFormat string) {
	width := borderWidth()
	fmt.Fprintln(w)
	fmt.Fprintln(w, header(fmt.Sprintf("Appointments (%d)", len(appointments)), width))

	if len(appointments) == 0 {
		fmt.Fprintln(w, dimStyle.Render("  No appointments in the calendar window"))
	}
	for _, a := range appointments {
		fmt.Fprintf(w, "  %s\n", FormatAppointment(a, dateFormat))
		if a.Location != "" {
			fmt.Fprintf(w, "      %s\n", dimStyle.Render("@ "+a.Location))
		}
		if a.Organizer != nil {
			fmt.Fprintf(w, "      %s\n", dimStyle.Render("organizer: "+a.Organizer.String()))
		}
		if len(a.Attendees) > 0 {
			names := make([]string, 0, len(a.Attendees))
			for _, p := range a.Attendees {
				name := p.String()
				if p.Optional {
					name += " (optional)"
				}
				names = append(names, name)
			}
			fmt.Fprintf(w, "      %s\n", dimStyle.Render("attendees: "+strings.Join(names, ", ")))
		}
	}
	fmt.Fprintln(w, footer(width))
}
