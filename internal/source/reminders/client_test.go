package reminders

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	ekreminders "github.com/BRO3886/go-eventkit/reminders"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mock EventKit -------------------------------------------------------------

type mockEventKit struct {
	reminders []ekreminders.Reminder
	err       error
	calls     int
}

func (m *mockEventKit) Reminders(_ ...ekreminders.ListOption) ([]ekreminders.Reminder, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.reminders, nil
}

func at(y int, mo time.Month, d int) *time.Time {
	t := time.Date(y, mo, d, 12, 0, 0, 0, time.UTC)
	return &t
}

// ---------------------------------------------------------------------------
// reminderToEvent
// ---------------------------------------------------------------------------

func TestReminderToEvent_DueDatedOpenReminder(t *testing.T) {
	mod := time.Date(2026, 2, 17, 10, 0, 0, 0, time.UTC)
	r := &ekreminders.Reminder{
		ID:         "EK-1",
		Title:      "Pay school trip",
		Notes:      "20 EUR",
		DueDate:    at(2026, 3, 1),
		ModifiedAt: &mod,
	}

	ev, ok := reminderToEvent(r)
	if !ok {
		t.Fatal("reminderToEvent returned !ok")
	}
	if ev.ID != "EK-1" || ev.Title != "Pay school trip" || ev.Description != "20 EUR" {
		t.Errorf("event = %+v", ev)
	}
	if !ev.AllDay {
		t.Error("reminder events are all-day")
	}
	if !ev.Start.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Start = %v", ev.Start)
	}
	if ev.End.Sub(ev.Start) != 24*time.Hour {
		t.Errorf("End = %v", ev.End)
	}
	if !ev.LastModified.Equal(mod) {
		t.Errorf("LastModified = %v", ev.LastModified)
	}
}

func TestReminderToEvent_Skips(t *testing.T) {
	for name, r := range map[string]*ekreminders.Reminder{
		"completed":   {ID: "a", Title: "Done", DueDate: at(2026, 3, 1), Completed: true},
		"no due date": {ID: "b", Title: "Someday"},
		"no id":       {Title: "Ghost", DueDate: at(2026, 3, 1)},
	} {
		if _, ok := reminderToEvent(r); ok {
			t.Errorf("%s: expected skip", name)
		}
	}
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

func TestFetchEvents_FiltersToWindow(t *testing.T) {
	ek := &mockEventKit{reminders: []ekreminders.Reminder{
		{ID: "in", Title: "In window", DueDate: at(2026, 3, 10)},
		{ID: "before", Title: "Too early", DueDate: at(2026, 1, 10)},
		{ID: "after", Title: "Too late", DueDate: at(2026, 9, 10)},
		{ID: "open", Title: "No date"},
	}}
	c := NewWithClient(ek, []string{"Family"}, discardLogger())

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	events, err := c.FetchEvents(context.Background(), "Family", from, from.AddDate(0, 0, 90))
	if err != nil {
		t.Fatalf("FetchEvents: %v", err)
	}
	if len(events) != 1 || events[0].ID != "in" {
		t.Errorf("events = %+v", events)
	}
}

func TestFetchEvents_Error(t *testing.T) {
	ek := &mockEventKit{err: errors.New("access denied")}
	c := NewWithClient(ek, nil, discardLogger())

	now := time.Now()
	if _, err := c.FetchEvents(context.Background(), "Family", now, now); err == nil {
		t.Error("expected error")
	}
}

func TestFetchEvents_CancelledContext(t *testing.T) {
	ek := &mockEventKit{}
	c := NewWithClient(ek, nil, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	now := time.Now()
	if _, err := c.FetchEvents(ctx, "Family", now, now); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if ek.calls != 0 {
		t.Errorf("EventKit called %d times after cancellation", ek.calls)
	}
}

func TestListCalendars_Sorted(t *testing.T) {
	c := NewWithClient(&mockEventKit{}, []string{"Shopping", "Family"}, discardLogger())
	cals, err := c.ListCalendars(context.Background())
	if err != nil {
		t.Fatalf("ListCalendars: %v", err)
	}
	if len(cals) != 2 || cals[0].ID != "Family" || cals[1].ID != "Shopping" {
		t.Errorf("calendars = %+v", cals)
	}
	if !c.IsAuthenticated(context.Background()) {
		t.Error("client with EventKit access reports unauthenticated")
	}
}
