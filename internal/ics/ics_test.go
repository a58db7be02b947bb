package ics

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/emersion/go-ical"

	"exchangesync/backend"
)

var stamp = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func decode(t *testing.T, data []byte) *ical.Calendar {
	t.Helper()
	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		t.Fatalf("decode: %v\n%s", err, data)
	}
	return cal
}

func children(cal *ical.Calendar, name string) []*ical.Component {
	var out []*ical.Component
	for _, child := range cal.Children {
		if child.Name == name {
			out = append(out, child)
		}
	}
	return out
}

func propValue(c *ical.Component, name string) string {
	if prop := c.Props.Get(name); prop != nil {
		return prop.Value
	}
	return ""
}

func TestEncodeRoundTrip(t *testing.T) {
	count := 5
	due := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)
	appointments := []backend.AppointmentDto{{
		ExchangeID:                 "cal-1",
		Summary:                    "Planning, Q2",
		Description:                "Agenda; budget",
		Location:                   "Room 4",
		Start:                      time.Date(2024, 3, 18, 9, 0, 0, 0, time.UTC),
		End:                        time.Date(2024, 3, 18, 10, 0, 0, 0, time.UTC),
		Organizer:                  &backend.PersonDto{Name: "Alice", Email: "alice@example.com"},
		Attendees:                  []backend.PersonDto{{Name: "Bob", Email: "bob@example.com"}, {Name: "Carol", Email: "carol@example.com", Optional: true}, {Name: "Room"}},
		ReminderMinutesBeforeStart: 15,
		RecurrenceType:             backend.RecurrenceWeekly,
		RecurrenceCount:            &count,
	}}
	tasks := []backend.TaskDto{
		{ExchangeID: "t-1", Name: "Reply to Bob", DueDate: &due},
		{ExchangeID: "t-2", Name: "Archive", Completed: true},
	}

	var buf bytes.Buffer
	if err := Encode(&buf, appointments, tasks, stamp); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	cal := decode(t, buf.Bytes())

	if got := propValue(cal.Component, ical.PropProductID); got != ProductID {
		t.Errorf("PRODID = %q, want %q", got, ProductID)
	}

	events := children(cal, ical.CompEvent)
	if len(events) != 1 {
		t.Fatalf("VEVENT count = %d, want 1", len(events))
	}
	event := events[0]

	summary, err := event.Props.Text(ical.PropSummary)
	if err != nil || summary != "Planning, Q2" {
		t.Errorf("SUMMARY = %q (%v), want %q", summary, err, "Planning, Q2")
	}
	if got := propValue(event, ical.PropUID); got != "cal-1@exchangesync" {
		t.Errorf("UID = %q, want %q", got, "cal-1@exchangesync")
	}
	start, err := event.Props.DateTime(ical.PropDateTimeStart, time.UTC)
	if err != nil || !start.Equal(appointments[0].Start) {
		t.Errorf("DTSTART = %v (%v), want %v", start, err, appointments[0].Start)
	}
	if got := propValue(event, ical.PropRecurrenceRule); got != "FREQ=WEEKLY;COUNT=5" {
		t.Errorf("RRULE = %q, want %q", got, "FREQ=WEEKLY;COUNT=5")
	}
	if got := propValue(event, ical.PropOrganizer); got != "mailto:alice@example.com" {
		t.Errorf("ORGANIZER = %q, want mailto:alice@example.com", got)
	}

	attendees := event.Props.Values(ical.PropAttendee)
	if len(attendees) != 2 {
		t.Fatalf("ATTENDEE count = %d, want 2 (people without address are skipped)", len(attendees))
	}
	if role := attendees[1].Params.Get(ical.ParamRole); role != "OPT-PARTICIPANT" {
		t.Errorf("second attendee ROLE = %q, want OPT-PARTICIPANT", role)
	}
	if cn := attendees[0].Params.Get(ical.ParamCommonName); cn != "Bob" {
		t.Errorf("first attendee CN = %q, want Bob", cn)
	}

	if len(event.Children) != 1 || event.Children[0].Name != ical.CompAlarm {
		t.Fatalf("VEVENT children = %d, want one VALARM", len(event.Children))
	}
	if got := propValue(event.Children[0], ical.PropTrigger); got != "-PT15M" {
		t.Errorf("TRIGGER = %q, want -PT15M", got)
	}

	todos := children(cal, ical.CompToDo)
	if len(todos) != 2 {
		t.Fatalf("VTODO count = %d, want 2", len(todos))
	}
	if got := propValue(todos[0], ical.PropStatus); got != "NEEDS-ACTION" {
		t.Errorf("open task STATUS = %q, want NEEDS-ACTION", got)
	}
	if got := propValue(todos[0], ical.PropDue); got != "20240320" {
		t.Errorf("DUE = %q, want 20240320", got)
	}
	if got := propValue(todos[1], ical.PropStatus); got != "COMPLETED" {
		t.Errorf("completed task STATUS = %q, want COMPLETED", got)
	}
	if got := propValue(todos[1], ical.PropPercentComplete); got != "100" {
		t.Errorf("PERCENT-COMPLETE = %q, want 100", got)
	}
}

func TestRecurrenceRule(t *testing.T) {
	three := 3
	tests := []struct {
		kind  backend.RecurrenceType
		count *int
		want  string
	}{
		{backend.RecurrenceNone, nil, ""},
		{"", &three, ""},
		{backend.RecurrenceDaily, nil, "FREQ=DAILY"},
		{backend.RecurrenceMonthly, &three, "FREQ=MONTHLY;COUNT=3"},
		{backend.RecurrenceYearly, nil, "FREQ=YEARLY"},
	}

	for _, tt := range tests {
		if got := recurrenceRule(tt.kind, tt.count); got != tt.want {
			t.Errorf("recurrenceRule(%q) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestEventWithoutOptionalFields(t *testing.T) {
	event := EventFromAppointment(backend.AppointmentDto{
		ExchangeID: "cal-2",
		Summary:    "Focus",
		Start:      stamp,
		End:        stamp.Add(time.Hour),
	}, stamp)

	for _, name := range []string{ical.PropDescription, ical.PropLocation, ical.PropOrganizer, ical.PropRecurrenceRule, ical.PropLastModified} {
		if event.Props.Get(name) != nil {
			t.Errorf("%s set on minimal event", name)
		}
	}
	if len(event.Children) != 0 {
		t.Errorf("minimal event has %d children, want 0", len(event.Children))
	}
}

func TestEncodeEmpty(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, nil, []backend.TaskDto{}, stamp)
	if !errors.Is(err, ErrNothingToExport) {
		t.Fatalf("Encode() error = %v, want ErrNothingToExport", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Encode() wrote %d bytes for an empty calendar", buf.Len())
	}
}
