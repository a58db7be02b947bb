// Package ics renders tasks and appointments as an iCalendar document.
package ics

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"

	"exchangesync/backend"
)

// ProductID identifies exported calendars
const ProductID = "-//exchangesync//EN"

const uidSuffix = "@exchangesync"

// ErrNothingToExport is returned by Encode when there are neither
// appointments nor tasks. An iCalendar object needs at least one component.
var ErrNothingToExport = errors.New("nothing to export")

// NewCalendar builds a VCALENDAR holding one VEVENT per appointment and one
// VTODO per task. stamp is written as DTSTAMP on every component.
func NewCalendar(appointments []backend.AppointmentDto, tasks []backend.TaskDto, stamp time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)

	for _, a := range appointments {
		cal.Children = append(cal.Children, EventFromAppointment(a, stamp))
	}
	for _, t := range tasks {
		cal.Children = append(cal.Children, TodoFromTask(t, stamp))
	}
	return cal
}

// Encode writes the calendar for appointments and tasks to w. Nothing is
// written when both are empty.
func Encode(w io.Writer, appointments []backend.AppointmentDto, tasks []backend.TaskDto, stamp time.Time) error {
	if len(appointments) == 0 && len(tasks) == 0 {
		return ErrNothingToExport
	}
	if err := ical.NewEncoder(w).Encode(NewCalendar(appointments, tasks, stamp)); err != nil {
		return fmt.Errorf("failed to encode iCalendar: %w", err)
	}
	return nil
}

// EventFromAppointment converts an appointment to a VEVENT
func EventFromAppointment(a backend.AppointmentDto, stamp time.Time) *ical.Component {
	event := ical.NewComponent(ical.CompEvent)
	event.Props.SetText(ical.PropUID, a.ExchangeID+uidSuffix)
	event.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	event.Props.SetText(ical.PropSummary, a.Summary)
	event.Props.SetDateTime(ical.PropDateTimeStart, a.Start.UTC())
	event.Props.SetDateTime(ical.PropDateTimeEnd, a.End.UTC())

	if a.Description != "" {
		event.Props.SetText(ical.PropDescription, a.Description)
	}
	if a.Location != "" {
		event.Props.SetText(ical.PropLocation, a.Location)
	}
	if !a.LastModified.IsZero() {
		event.Props.SetDateTime(ical.PropLastModified, a.LastModified.UTC())
	}

	if a.Organizer != nil {
		if prop := personProp(ical.PropOrganizer, *a.Organizer); prop != nil {
			event.Props.Set(prop)
		}
	}
	for _, p := range a.Attendees {
		prop := personProp(ical.PropAttendee, p)
		if prop == nil {
			continue
		}
		role := "REQ-PARTICIPANT"
		if p.Optional {
			role = "OPT-PARTICIPANT"
		}
		prop.Params.Set(ical.ParamRole, role)
		event.Props.Add(prop)
	}

	if rule := recurrenceRule(a.RecurrenceType, a.RecurrenceCount); rule != "" {
		prop := ical.NewProp(ical.PropRecurrenceRule)
		prop.Value = rule
		event.Props.Set(prop)
	}

	if a.ReminderMinutesBeforeStart > 0 {
		event.Children = append(event.Children, reminderAlarm(a.Summary, a.ReminderMinutesBeforeStart))
	}
	return event
}

// TodoFromTask converts a task to a VTODO
func TodoFromTask(t backend.TaskDto, stamp time.Time) *ical.Component {
	todo := ical.NewComponent(ical.CompToDo)
	todo.Props.SetText(ical.PropUID, t.ExchangeID+uidSuffix)
	todo.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	todo.Props.SetText(ical.PropSummary, t.Name)

	if !t.LastModified.IsZero() {
		todo.Props.SetDateTime(ical.PropLastModified, t.LastModified.UTC())
	}
	if t.DueDate != nil {
		due := ical.NewProp(ical.PropDue)
		due.SetDate(*t.DueDate)
		todo.Props.Set(due)
	}

	if t.Completed {
		todo.Props.SetText(ical.PropStatus, "COMPLETED")
		percent := ical.NewProp(ical.PropPercentComplete)
		percent.Value = "100"
		todo.Props.Set(percent)
	} else {
		todo.Props.SetText(ical.PropStatus, "NEEDS-ACTION")
	}
	return todo
}

// personProp returns nil for people without an SMTP address since
// ORGANIZER and ATTENDEE values must be calendar addresses
func personProp(name string, p backend.PersonDto) *ical.Prop {
	if p.Email == "" {
		return nil
	}
	prop := ical.NewProp(name)
	prop.Value = "mailto:" + p.Email
	if p.Name != "" {
		prop.Params.Set(ical.ParamCommonName, p.Name)
	}
	return prop
}

func recurrenceRule(kind backend.RecurrenceType, count *int) string {
	var freq string
	switch kind {
	case backend.RecurrenceDaily:
		freq = "DAILY"
	case backend.RecurrenceWeekly:
		freq = "WEEKLY"
	case backend.RecurrenceMonthly:
		freq = "MONTHLY"
	case backend.RecurrenceYearly:
		freq = "YEARLY"
	default:
		return ""
	}

	rule := "FREQ=" + freq
	if count != nil && *count > 0 {
		rule += fmt.Sprintf(";COUNT=%d", *count)
	}
	return rule
}

func reminderAlarm(summary string, minutes int) *ical.Component {
	alarm := ical.NewComponent(ical.CompAlarm)
	alarm.Props.SetText(ical.PropAction, "DISPLAY")
	alarm.Props.SetText(ical.PropDescription, summary)

	trigger := ical.NewProp(ical.PropTrigger)
	trigger.Value = fmt.Sprintf("-PT%dM", minutes)
	alarm.Props.Set(trigger)
	return alarm
}
