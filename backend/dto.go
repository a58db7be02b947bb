package backend

import (
	"fmt"
	"strings"
	"time"
)

// RecurrenceType describes how an appointment repeats
type RecurrenceType string

const (
	RecurrenceNone    RecurrenceType = "none"
	RecurrenceDaily   RecurrenceType = "daily"
	RecurrenceWeekly  RecurrenceType = "weekly"
	RecurrenceMonthly RecurrenceType = "monthly"
	RecurrenceYearly  RecurrenceType = "yearly"
)

// TaskDto is the backend-neutral representation of a task.
// On Exchange a task is a flagged e-mail.
type TaskDto struct {
	ExchangeID   string     `json:"exchange_id" yaml:"exchange_id"`
	Name         string     `json:"name" yaml:"name"`
	LastModified time.Time  `json:"last_modified" yaml:"last_modified"`
	DueDate      *time.Time `json:"due_date,omitempty" yaml:"due_date,omitempty"`
	Completed    bool       `json:"completed" yaml:"completed"`
}

func (t TaskDto) String() string {
	status := "○"
	if t.Completed {
		status = "✓"
	}
	if t.DueDate != nil {
		return fmt.Sprintf("%s %s (due: %s)", status, t.Name, t.DueDate.Format("2006-01-02"))
	}
	return fmt.Sprintf("%s %s", status, t.Name)
}

// PersonDto is an organizer or attendee of an appointment
type PersonDto struct {
	Name     string `json:"name" yaml:"name"`
	Email    string `json:"email,omitempty" yaml:"email,omitempty"` // only set for SMTP addresses
	Optional bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
}

func (p PersonDto) String() string {
	if p.Email == "" {
		return p.Name
	}
	if p.Name == "" {
		return p.Email
	}
	return fmt.Sprintf("%s <%s>", p.Name, p.Email)
}

// key identifies a person regardless of attendance type
func (p PersonDto) key() string {
	return strings.ToLower(p.Name) + "\x00" + strings.ToLower(p.Email)
}

// AppointmentDto is the backend-neutral representation of a calendar entry
type AppointmentDto struct {
	ExchangeID                 string         `json:"exchange_id" yaml:"exchange_id"`
	LastModified               time.Time      `json:"last_modified" yaml:"last_modified"`
	Summary                    string         `json:"summary" yaml:"summary"`
	Description                string         `json:"description,omitempty" yaml:"description,omitempty"`
	Start                      time.Time      `json:"start" yaml:"start"`
	End                        time.Time      `json:"end" yaml:"end"`
	Location                   string         `json:"location,omitempty" yaml:"location,omitempty"`
	Organizer                  *PersonDto     `json:"organizer,omitempty" yaml:"organizer,omitempty"`
	Attendees                  []PersonDto    `json:"attendees,omitempty" yaml:"attendees,omitempty"`
	ReminderMinutesBeforeStart int            `json:"reminder_minutes_before_start" yaml:"reminder_minutes_before_start"`
	RecurrenceType             RecurrenceType `json:"recurrence_type" yaml:"recurrence_type"`
	RecurrenceCount            *int           `json:"recurrence_count,omitempty" yaml:"recurrence_count,omitempty"`
}

// AddAttendee appends a person unless someone with the same name and
// address is already present. The first occurrence wins, so required
// attendees added before optional ones keep their required flag.
func (a *AppointmentDto) AddAttendee(p PersonDto) {
	for _, existing := range a.Attendees {
		if existing.key() == p.key() {
			return
		}
	}
	a.Attendees = append(a.Attendees, p)
}

func (a AppointmentDto) String() string {
	return fmt.Sprintf("%s (%s - %s)", a.Summary,
		a.Start.Format("2006-01-02 15:04"), a.End.Format("15:04"))
}
