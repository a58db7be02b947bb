package exchange

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"exchangesync/backend"
)

// ErrMissingFollowUpFlag is returned for a message without PR_FLAG_STATUS
var ErrMissingFollowUpFlag = errors.New("found email without follow-up flag")

const routingTypeSMTP = "SMTP"

// timeCorrector moves server timestamps into the configured location.
// compensate adds the location's UTC offset on top, reproducing the
// wall-clock shift older clients applied.
type timeCorrector struct {
	loc        *time.Location
	compensate bool
}

func (tc timeCorrector) correct(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	t = t.In(tc.location())
	if tc.compensate {
		_, offset := t.Zone()
		t = t.Add(time.Duration(offset) * time.Second)
	}
	return t
}

// convertToTaskDto maps a flagged e-mail to a task
func (tc timeCorrector) convertToTaskDto(msg message) (backend.TaskDto, error) {
	raw, ok := findProperty(msg.ExtendedProperties, PrFlagStatus)
	if !ok {
		return backend.TaskDto{}, fmt.Errorf("%w: item %s", ErrMissingFollowUpFlag, msg.ItemID.ID)
	}
	flag, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return backend.TaskDto{}, fmt.Errorf("invalid flag status %q on item %s: %w", raw, msg.ItemID.ID, err)
	}

	task := backend.TaskDto{
		ExchangeID:   msg.ItemID.ID,
		Name:         msg.Subject,
		LastModified: tc.correct(msg.LastModifiedTime),
		Completed:    flag == FlagStatusComplete,
	}

	if raw, ok := findProperty(msg.ExtendedProperties, PrTaskDueDate); ok {
		due, err := parseSystemTime(raw)
		if err != nil {
			return backend.TaskDto{}, fmt.Errorf("item %s: %w", msg.ItemID.ID, err)
		}
		due = due.In(tc.location())
		task.DueDate = &due
	}
	return task, nil
}

func (tc timeCorrector) location() *time.Location {
	if tc.loc == nil {
		return time.Local
	}
	return tc.loc
}

// convertToPersonDto keeps the address only for SMTP mailboxes
func convertToPersonDto(mb mailbox, optional bool) backend.PersonDto {
	person := backend.PersonDto{
		Name:     mb.Name,
		Optional: optional,
	}
	if strings.EqualFold(mb.RoutingType, routingTypeSMTP) {
		person.Email = mb.EmailAddress
	}
	return person
}

// convertToAppointmentDto maps a calendar item or meeting request
func (tc timeCorrector) convertToAppointmentDto(item calendarItem) backend.AppointmentDto {
	appt := backend.AppointmentDto{
		ExchangeID:                 item.ItemID.ID,
		LastModified:               tc.correct(item.LastModifiedTime),
		Summary:                    item.Subject,
		Description:                item.Body.Content,
		Start:                      tc.correct(item.Start),
		End:                        tc.correct(item.End),
		Location:                   item.Location,
		ReminderMinutesBeforeStart: item.ReminderMinutesBeforeStart,
		RecurrenceType:             backend.RecurrenceNone,
	}

	if item.Organizer != nil {
		organizer := convertToPersonDto(item.Organizer.Mailbox, false)
		appt.Organizer = &organizer
	}
	for _, a := range item.RequiredAttendees {
		appt.AddAttendee(convertToPersonDto(a.Mailbox, false))
	}
	for _, a := range item.OptionalAttendees {
		appt.AddAttendee(convertToPersonDto(a.Mailbox, true))
	}

	if r := item.Recurrence; r != nil {
		appt.RecurrenceType = recurrenceType(r)
		if r.Numbered != nil {
			count := r.Numbered.NumberOfOccurrences
			appt.RecurrenceCount = &count
		}
	}
	return appt
}

func recurrenceType(r *recurrence) backend.RecurrenceType {
	switch {
	case r.Daily != nil:
		return backend.RecurrenceDaily
	case r.Weekly != nil:
		return backend.RecurrenceWeekly
	case r.AbsoluteMonthly != nil, r.RelativeMonthly != nil:
		return backend.RecurrenceMonthly
	case r.AbsoluteYearly != nil, r.RelativeYearly != nil:
		return backend.RecurrenceYearly
	}
	return backend.RecurrenceNone
}
