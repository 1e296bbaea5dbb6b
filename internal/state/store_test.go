package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/njoerd114/familywall/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-cache.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleCalendar(source, id, name string) *model.CalendarConfiguration {
	c := &model.CalendarConfiguration{
		Source:     source,
		CalendarID: id,
		Name:       name,
		Enabled:    true,
	}
	c.ApplyDefaults()
	return c
}

func mustInsertCalendar(t *testing.T, s *Store, cal *model.CalendarConfiguration) {
	t.Helper()
	if err := s.InsertCalendar(context.Background(), cal); err != nil {
		t.Fatalf("InsertCalendar %s: %v", cal.Key(), err)
	}
}

func cachedEvent(key, title string, start time.Time) *model.CachedEvent {
	e := &model.ProviderEvent{ID: key, Title: title, Start: start, End: start.Add(time.Hour)}
	return model.NewCachedEvent("", "", e)
}

func TestOpen_CreatesSchema(t *testing.T) {
	s := openTestStore(t)
	empty, err := s.IsEmpty(context.Background())
	if err != nil {
		t.Fatalf("IsEmpty after open: %v", err)
	}
	if !empty {
		t.Error("expected empty store after open")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	mustInsertCalendar(t, s1, sampleCalendar("Graph", "cal-1", "Family"))
	if err := s1.Close(); err != nil {
		t.Fatalf("s1.Close: %v", err)
	}

	// Re-opening the same file must not fail or wipe data.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer func() { _ = s2.Close() }()

	empty, err := s2.IsEmpty(context.Background())
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if empty {
		t.Error("reopening wiped the calendars table")
	}
}

// ---------------------------------------------------------------------------
// Calendars
// ---------------------------------------------------------------------------

func TestInsertAndGetCalendar(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	cal := sampleCalendar("Graph", "cal-1", "Family")
	cal.Color = "#D83737"
	cal.DisplayOrder = 3

	mustInsertCalendar(t, s, cal)
	if cal.ID == 0 {
		t.Error("InsertCalendar did not set ID")
	}

	got, err := s.GetCalendar(ctx, cal.ID)
	if err != nil {
		t.Fatalf("GetCalendar: %v", err)
	}
	if got == nil {
		t.Fatal("GetCalendar returned nil")
	}
	if got.Name != "Family" || got.Color != "#D83737" || got.DisplayOrder != 3 || !got.Enabled {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.LastSync != nil {
		t.Errorf("LastSync = %v, want nil", got.LastSync)
	}
	if got.SyncIntervalMinutes != 15 || got.FutureDaysToSync != 90 {
		t.Errorf("defaults not persisted: %+v", got)
	}
}

func TestInsertCalendar_Duplicate(t *testing.T) {
	s := openTestStore(t)
	mustInsertCalendar(t, s, sampleCalendar("Graph", "cal-1", "Family"))

	err := s.InsertCalendar(context.Background(), sampleCalendar("Graph", "cal-1", "Again"))
	if !errors.Is(err, ErrDuplicateCalendar) {
		t.Fatalf("err = %v, want ErrDuplicateCalendar", err)
	}

	// Same calendar id under another source is a different calendar.
	mustInsertCalendar(t, s, sampleCalendar("ICS", "cal-1", "Feed"))
}

func TestGetCalendarByKey_NotFound(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetCalendarByKey(context.Background(), "Graph", "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestListCalendars_OrderAndFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := sampleCalendar("Graph", "a", "A")
	a.DisplayOrder = 2
	b := sampleCalendar("Graph", "b", "B")
	b.DisplayOrder = 1
	c := sampleCalendar("Graph", "c", "C")
	c.DisplayOrder = 0
	c.Enabled = false
	for _, cal := range []*model.CalendarConfiguration{a, b, c} {
		mustInsertCalendar(t, s, cal)
	}

	all, err := s.ListCalendars(ctx, false)
	if err != nil {
		t.Fatalf("ListCalendars: %v", err)
	}
	if len(all) != 3 || all[0].Name != "C" || all[1].Name != "B" || all[2].Name != "A" {
		t.Errorf("unexpected order: %v", names(all))
	}

	enabled, err := s.ListCalendars(ctx, true)
	if err != nil {
		t.Fatalf("ListCalendars(enabled): %v", err)
	}
	if len(enabled) != 2 || enabled[0].Name != "B" {
		t.Errorf("enabled = %v, want [B A]", names(enabled))
	}
}

func TestUpdateCalendar(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	cal := sampleCalendar("Google", "primary", "Me")
	mustInsertCalendar(t, s, cal)

	cal.Name = "Personal"
	cal.SyncIntervalMinutes = 30
	cal.SyncPastEvents = true
	if err := s.UpdateCalendar(ctx, cal); err != nil {
		t.Fatalf("UpdateCalendar: %v", err)
	}

	got, _ := s.GetCalendar(ctx, cal.ID)
	if got.Name != "Personal" || got.SyncIntervalMinutes != 30 || !got.SyncPastEvents {
		t.Errorf("update not persisted: %+v", got)
	}

	missing := sampleCalendar("Google", "x", "X")
	missing.ID = 999
	if err := s.UpdateCalendar(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSetCalendarsEnabled_CountsChanges(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a := sampleCalendar("Graph", "a", "A")
	b := sampleCalendar("Graph", "b", "B")
	b.Enabled = false
	mustInsertCalendar(t, s, a)
	mustInsertCalendar(t, s, b)

	n, err := s.SetCalendarsEnabled(ctx, []int64{a.ID, b.ID}, true)
	if err != nil {
		t.Fatalf("SetCalendarsEnabled: %v", err)
	}
	if n != 1 {
		t.Errorf("changed = %d, want 1", n)
	}
}

func TestReorderCalendars(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a := sampleCalendar("Graph", "a", "A")
	b := sampleCalendar("Graph", "b", "B")
	mustInsertCalendar(t, s, a)
	mustInsertCalendar(t, s, b)

	if err := s.ReorderCalendars(ctx, []int64{b.ID, a.ID}); err != nil {
		t.Fatalf("ReorderCalendars: %v", err)
	}
	all, _ := s.ListCalendars(ctx, false)
	if all[0].Name != "B" || all[0].DisplayOrder != 0 || all[1].DisplayOrder != 1 {
		t.Errorf("order = %v", names(all))
	}

	if err := s.ReorderCalendars(ctx, []int64{a.ID, 404}); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	// The failed reorder must be rolled back.
	all, _ = s.ListCalendars(ctx, false)
	if all[0].Name != "B" {
		t.Errorf("failed reorder was partially applied: %v", names(all))
	}
}

func TestMarkCalendarSynced(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	cal := sampleCalendar("ICS", "feed", "Feed")
	mustInsertCalendar(t, s, cal)

	at := time.Date(2026, 2, 17, 14, 30, 0, 123456789, time.UTC)
	if err := s.MarkCalendarSynced(ctx, "ICS", "feed", at); err != nil {
		t.Fatalf("MarkCalendarSynced: %v", err)
	}
	got, _ := s.GetCalendar(ctx, cal.ID)
	if got.LastSync == nil || !got.LastSync.Equal(at) {
		t.Errorf("LastSync = %v, want %v", got.LastSync, at)
	}

	if err := s.MarkCalendarSynced(ctx, "ICS", "gone", at); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

func TestApplyChanges_InsertUpdateDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustInsertCalendar(t, s, sampleCalendar("Graph", "cal-1", "Family"))
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	t1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	res, err := s.ApplyChanges(ctx, ChangeSet{
		Source:     "Graph",
		CalendarID: "cal-1",
		Upserts:    []*model.CachedEvent{cachedEvent("a", "A", start), cachedEvent("b", "B", start)},
		Keep:       []string{"a", "b"},
		SyncedAt:   t1,
	})
	if err != nil {
		t.Fatalf("ApplyChanges: %v", err)
	}
	if res.Upserted != 2 || res.Deleted != 0 {
		t.Errorf("first apply = %+v", res)
	}

	t2 := t1.Add(time.Hour)
	res, err = s.ApplyChanges(ctx, ChangeSet{
		Source:     "Graph",
		CalendarID: "cal-1",
		Upserts:    []*model.CachedEvent{cachedEvent("a", "A renamed", start)},
		Keep:       []string{"a"},
		SyncedAt:   t2,
	})
	if err != nil {
		t.Fatalf("ApplyChanges: %v", err)
	}
	if res.Upserted != 1 || res.Deleted != 1 {
		t.Errorf("second apply = %+v", res)
	}

	events, err := s.EventsForCalendar(ctx, "Graph", "cal-1")
	if err != nil {
		t.Fatalf("EventsForCalendar: %v", err)
	}
	if len(events) != 1 || events[0].Title != "A renamed" {
		t.Fatalf("events = %+v", events)
	}
	if !events[0].LastSync.Equal(t2) {
		t.Errorf("LastSync = %v, want %v", events[0].LastSync, t2)
	}
	if !events[0].CreatedAt.Equal(t1) {
		t.Errorf("CreatedAt = %v, want %v (must survive updates)", events[0].CreatedAt, t1)
	}
}

func TestApplyChanges_TouchesUnchangedEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustInsertCalendar(t, s, sampleCalendar("Graph", "cal-1", "Family"))
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	t1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.ApplyChanges(ctx, ChangeSet{
		Source: "Graph", CalendarID: "cal-1",
		Upserts:  []*model.CachedEvent{cachedEvent("a", "A", start)},
		Keep:     []string{"a"},
		SyncedAt: t1,
	})
	if err != nil {
		t.Fatalf("ApplyChanges: %v", err)
	}

	t2 := t1.Add(time.Hour)
	res, err := s.ApplyChanges(ctx, ChangeSet{Source: "Graph", CalendarID: "cal-1", Keep: []string{"a"}, SyncedAt: t2})
	if err != nil {
		t.Fatalf("ApplyChanges: %v", err)
	}
	if res.Upserted != 0 || res.Deleted != 0 {
		t.Errorf("touch-only apply = %+v", res)
	}
	events, _ := s.EventsForCalendar(ctx, "Graph", "cal-1")
	if len(events) != 1 || !events[0].LastSync.Equal(t2) {
		t.Errorf("LastSync not advanced: %+v", events)
	}
	if !events[0].UpdatedAt.Equal(t1) {
		t.Errorf("UpdatedAt = %v, want %v", events[0].UpdatedAt, t1)
	}
}

func TestApplyChanges_PreservesLocalResponseStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustInsertCalendar(t, s, sampleCalendar("Graph", "cal-1", "Family"))
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.ApplyChanges(ctx, ChangeSet{
		Source: "Graph", CalendarID: "cal-1",
		Upserts:  []*model.CachedEvent{cachedEvent("a", "A", start)},
		Keep:     []string{"a"},
		SyncedAt: now,
	})
	if err != nil {
		t.Fatalf("ApplyChanges: %v", err)
	}
	events, _ := s.EventsForCalendar(ctx, "Graph", "cal-1")
	if err := s.SetResponseStatus(ctx, events[0].ID, model.ResponseDeclined); err != nil {
		t.Fatalf("SetResponseStatus: %v", err)
	}

	// Provider update without a response keeps the local one.
	_, err = s.ApplyChanges(ctx, ChangeSet{
		Source: "Graph", CalendarID: "cal-1",
		Upserts:  []*model.CachedEvent{cachedEvent("a", "A v2", start)},
		Keep:     []string{"a"},
		SyncedAt: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("ApplyChanges: %v", err)
	}
	got, _ := s.GetEvent(ctx, events[0].ID)
	if got.ResponseStatus == nil || *got.ResponseStatus != model.ResponseDeclined {
		t.Errorf("ResponseStatus = %v, want declined", got.ResponseStatus)
	}
	if got.Title != "A v2" {
		t.Errorf("Title = %q", got.Title)
	}
}

func TestApplyChanges_UnknownCalendar(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ApplyChanges(context.Background(), ChangeSet{Source: "Graph", CalendarID: "nope", SyncedAt: time.Now()})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if errors.Is(err, ErrPersistence) {
		t.Error("missing calendar must not be reported as a persistence failure")
	}
}

func TestApplyChanges_KeyOwnedByOtherCalendarIsSkipped(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustInsertCalendar(t, s, sampleCalendar("Graph", "cal-1", "Family"))
	mustInsertCalendar(t, s, sampleCalendar("Graph", "cal-2", "Work"))
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := start

	if _, err := s.ApplyChanges(ctx, ChangeSet{
		Source: "Graph", CalendarID: "cal-1",
		Upserts:  []*model.CachedEvent{cachedEvent("shared", "Family copy", start)},
		Keep:     []string{"shared"},
		SyncedAt: now,
	}); err != nil {
		t.Fatalf("ApplyChanges cal-1: %v", err)
	}

	res, err := s.ApplyChanges(ctx, ChangeSet{
		Source: "Graph", CalendarID: "cal-2",
		Upserts:  []*model.CachedEvent{cachedEvent("shared", "Work copy", start)},
		Keep:     []string{"shared"},
		SyncedAt: now,
	})
	if err != nil {
		t.Fatalf("ApplyChanges cal-2: %v", err)
	}
	if len(res.Skipped) != 1 || res.Upserted != 0 {
		t.Errorf("result = %+v, want one skipped", res)
	}

	fam, _ := s.EventsForCalendar(ctx, "Graph", "cal-1")
	if len(fam) != 1 || fam[0].Title != "Family copy" {
		t.Errorf("cal-1 event was modified: %+v", fam)
	}
	work, _ := s.EventsForCalendar(ctx, "Graph", "cal-2")
	if len(work) != 0 {
		t.Errorf("cal-2 events = %d, want 0", len(work))
	}
}

func TestDeleteCalendar_CascadesEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	cal := sampleCalendar("Graph", "cal-1", "Family")
	mustInsertCalendar(t, s, cal)
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if _, err := s.ApplyChanges(ctx, ChangeSet{
		Source: "Graph", CalendarID: "cal-1",
		Upserts:  []*model.CachedEvent{cachedEvent("a", "A", start)},
		Keep:     []string{"a"},
		SyncedAt: start,
	}); err != nil {
		t.Fatalf("ApplyChanges: %v", err)
	}

	if err := s.DeleteCalendar(ctx, cal.ID); err != nil {
		t.Fatalf("DeleteCalendar: %v", err)
	}
	n, err := s.CountEvents(ctx, EventQuery{})
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if n != 0 {
		t.Errorf("events after cascade = %d, want 0", n)
	}
	if err := s.DeleteCalendar(ctx, cal.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestQueryEvents_Filters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	fam := sampleCalendar("Graph", "fam", "Family")
	work := sampleCalendar("Graph", "work", "Work")
	work.Enabled = false
	mustInsertCalendar(t, s, fam)
	mustInsertCalendar(t, s, work)

	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	dentist := cachedEvent("d", "Dentist", day.Add(9*time.Hour))
	dentist.Location = "50% Street"
	bday := cachedEvent("b", "Mum's birthday", day.AddDate(0, 0, 2))
	bday.Birthday = true
	bday.AllDay = true
	yoga := cachedEvent("y", "Yoga", day.AddDate(0, 0, 5))
	yoga.Recurring = true
	yoga.RecurrenceRule = "FREQ=WEEKLY"
	yoga.Status = model.StatusTentative

	if _, err := s.ApplyChanges(ctx, ChangeSet{
		Source: "Graph", CalendarID: "fam",
		Upserts:  []*model.CachedEvent{dentist, bday, yoga},
		Keep:     []string{"d", "b", "y"},
		SyncedAt: day,
	}); err != nil {
		t.Fatalf("ApplyChanges fam: %v", err)
	}
	if _, err := s.ApplyChanges(ctx, ChangeSet{
		Source: "Graph", CalendarID: "work",
		Upserts:  []*model.CachedEvent{cachedEvent("w", "Standup", day.Add(10*time.Hour))},
		Keep:     []string{"w"},
		SyncedAt: day,
	}); err != nil {
		t.Fatalf("ApplyChanges work: %v", err)
	}

	tentative := model.StatusTentative
	tests := []struct {
		name string
		q    EventQuery
		want []string
	}{
		{"all", EventQuery{}, []string{"Dentist", "Standup", "Mum's birthday", "Yoga"}},
		{"enabled only", EventQuery{EnabledOnly: true}, []string{"Dentist", "Mum's birthday", "Yoga"}},
		{"range", EventQuery{From: day, To: day.AddDate(0, 0, 2), EnabledOnly: true}, []string{"Dentist", "Mum's birthday"}},
		{"calendar", EventQuery{Source: "Graph", CalendarID: "work"}, []string{"Standup"}},
		{"text title", EventQuery{Text: "DENT"}, []string{"Dentist"}},
		{"text literal percent", EventQuery{Text: "50%"}, []string{"Dentist"}},
		{"status", EventQuery{Status: &tentative}, []string{"Yoga"}},
		{"recurring", EventQuery{RecurringOnly: true}, []string{"Yoga"}},
		{"birthdays", EventQuery{BirthdaysOnly: true}, []string{"Mum's birthday"}},
		{"limit", EventQuery{EnabledOnly: true, Limit: 1}, []string{"Dentist"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.QueryEvents(ctx, tt.q)
			if err != nil {
				t.Fatalf("QueryEvents: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", titles(got), tt.want)
			}
			for i := range got {
				if got[i].Title != tt.want[i] {
					t.Errorf("got %v, want %v", titles(got), tt.want)
					break
				}
			}
		})
	}

	counts, err := s.CountEventsByCalendar(ctx, EventQuery{})
	if err != nil {
		t.Fatalf("CountEventsByCalendar: %v", err)
	}
	if counts["Family"] != 3 || counts["Work"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestEventRoundTrip_OptionalFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustInsertCalendar(t, s, sampleCalendar("ICS", "feed", "Feed"))

	start := time.Date(2026, 2, 17, 14, 30, 0, 123456789, time.UTC)
	ev := cachedEvent("x", "Party", start)
	ev.Attendees = []string{"a@example.com", "b@example.com"}
	ev.Organizer = "Ann"
	ev.ResponseStatus = model.Response(model.ResponseAccepted)

	if _, err := s.ApplyChanges(ctx, ChangeSet{
		Source: "ICS", CalendarID: "feed",
		Upserts: []*model.CachedEvent{ev}, Keep: []string{"x"}, SyncedAt: start,
	}); err != nil {
		t.Fatalf("ApplyChanges: %v", err)
	}

	got, err := s.EventsForCalendar(ctx, "ICS", "feed")
	if err != nil || len(got) != 1 {
		t.Fatalf("EventsForCalendar = %v, %v", got, err)
	}
	g := got[0]
	if !g.Start.Equal(start) {
		t.Errorf("Start = %v, want %v", g.Start, start)
	}
	if len(g.Attendees) != 2 || g.Attendees[1] != "b@example.com" {
		t.Errorf("Attendees = %v", g.Attendees)
	}
	if g.ResponseStatus == nil || *g.ResponseStatus != model.ResponseAccepted {
		t.Errorf("ResponseStatus = %v", g.ResponseStatus)
	}
}

func TestSetResponseStatus_NotFound(t *testing.T) {
	s := openTestStore(t)
	err := s.SetResponseStatus(context.Background(), 42, model.ResponseAccepted)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTimeFormat_SortsChronologically(t *testing.T) {
	a := formatTime(time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC))
	b := formatTime(time.Date(2026, 1, 1, 10, 0, 0, 500, time.UTC))
	if !(a < b) {
		t.Errorf("%q should sort before %q", a, b)
	}
	parsed, err := parseTime(b)
	if err != nil {
		t.Fatalf("parseTime: %v", err)
	}
	if parsed.Nanosecond() != 500 {
		t.Errorf("nanoseconds lost: %v", parsed)
	}
}

func TestDefaultDBPath(t *testing.T) {
	path, err := DefaultDBPath()
	if err != nil {
		t.Fatalf("DefaultDBPath: %v", err)
	}
	if filepath.Base(path) != "cache.db" {
		t.Errorf("DefaultDBPath = %q", path)
	}
}

func names(cals []*model.CalendarConfiguration) []string {
	out := make([]string, len(cals))
	for i, c := range cals {
		out[i] = c.Name
	}
	return out
}

func titles(events []*model.CachedEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Title
	}
	return out
}
