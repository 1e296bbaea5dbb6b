// Package reminders exposes Apple Reminders lists as calendars via the
// go-eventkit library. Each list is one calendar; every open reminder with a
// due date becomes an all-day event on that date.
//
// EventKit calls are not cancellable; the context is checked before each
// call only.
package reminders

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	ekreminders "github.com/BRO3886/go-eventkit/reminders"

	"github.com/njoerd114/familywall/internal/model"
	"github.com/njoerd114/familywall/internal/source"
)

// EventKitClient is the subset of [ekreminders.Client] methods used by the
// client. Defining it as an interface allows mock injection in tests.
type EventKitClient interface {
	Reminders(opts ...ekreminders.ListOption) ([]ekreminders.Reminder, error)
}

// Client implements [source.Client] for Apple Reminders.
type Client struct {
	ek    EventKitClient
	lists func() ([]string, error)
	log   *slog.Logger
}

// New creates a Client backed by a real EventKit client. This triggers the
// macOS TCC permissions prompt on first use.
func New(logger *slog.Logger) (*Client, error) {
	ek, err := ekreminders.New()
	if err != nil {
		return nil, fmt.Errorf("initialising reminders client: %w", err)
	}
	lists := func() ([]string, error) {
		ls, err := ek.Lists()
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(ls))
		for _, l := range ls {
			names = append(names, l.Title)
		}
		return names, nil
	}
	return &Client{ek: ek, lists: lists, log: logger}, nil
}

// NewWithClient creates a Client with a caller-supplied EventKit client and a
// fixed set of list names. Intended for testing.
func NewWithClient(ek EventKitClient, listNames []string, logger *slog.Logger) *Client {
	names := append([]string(nil), listNames...)
	return &Client{
		ek:    ek,
		lists: func() ([]string, error) { return names, nil },
		log:   logger,
	}
}

// IsAuthenticated is true once EventKit access was granted, which New
// already required.
func (c *Client) IsAuthenticated(_ context.Context) bool { return c.ek != nil }

// ListCalendars returns the reminder lists sorted by title.
func (c *Client) ListCalendars(ctx context.Context) ([]model.ProviderCalendar, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list reminder lists: %w", err)
	}
	names, err := c.lists()
	if err != nil {
		return nil, fmt.Errorf("fetching reminder lists: %w", err)
	}
	sort.Strings(names)

	cals := make([]model.ProviderCalendar, 0, len(names))
	for _, n := range names {
		cals = append(cals, model.ProviderCalendar{ID: n, Name: n, CanEdit: true})
	}
	return cals, nil
}

// FetchEvents returns the open, due-dated reminders of the list calendarID
// whose due date falls in [start, end].
func (c *Client) FetchEvents(ctx context.Context, calendarID string, start, end time.Time) ([]model.ProviderEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fetch reminders: %w", err)
	}

	c.log.Debug("fetching reminders", "list", calendarID)
	rems, err := c.ek.Reminders(ekreminders.WithList(calendarID))
	if err != nil {
		return nil, fmt.Errorf("fetching reminders for list %q: %w", calendarID, err)
	}

	var events []model.ProviderEvent
	for i := range rems {
		ev, ok := reminderToEvent(&rems[i])
		if !ok {
			continue
		}
		if source.Overlaps(ev.Start, ev.End, start, end) {
			events = append(events, ev)
		}
	}
	c.log.Debug("fetched reminders", "list", calendarID, "total", len(rems), "due", len(events))
	return events, nil
}

// reminderToEvent converts a reminder into an all-day event on its due
// date. Completed reminders and reminders without a due date are skipped.
func reminderToEvent(r *ekreminders.Reminder) (model.ProviderEvent, bool) {
	if r.ID == "" || r.Completed || r.DueDate == nil {
		return model.ProviderEvent{}, false
	}

	day := source.DateUTC(r.DueDate.Local())
	ev := model.ProviderEvent{
		ID:          r.ID,
		Title:       source.TitleOrDefault(r.Title),
		Description: r.Notes,
		Start:       day,
		End:         day.AddDate(0, 0, 1),
		AllDay:      true,
		Birthday:    source.LooksLikeBirthday(r.Title, nil),
	}
	if r.ModifiedAt != nil {
		ev.LastModified = r.ModifiedAt.UTC()
	}
	return ev, true
}
