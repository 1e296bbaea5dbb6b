// Package query is the read API over the event cache used by the CLI and
// the diagnostics server. Every method except [Service.ForCalendar] only
// returns events of enabled calendars.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/njoerd114/familywall/internal/model"
	"github.com/njoerd114/familywall/internal/state"
)

// ErrInvalidRange is returned when a range ends before it starts.
var ErrInvalidRange = errors.New("range end is before start")

// Store is the subset of [state.Store] the service reads from.
type Store interface {
	QueryEvents(ctx context.Context, q state.EventQuery) ([]*model.CachedEvent, error)
	CountEvents(ctx context.Context, q state.EventQuery) (int, error)
	CountEventsByCalendar(ctx context.Context, q state.EventQuery) (map[string]int, error)
	GetEvent(ctx context.Context, id int64) (*model.CachedEvent, error)
	SetResponseStatus(ctx context.Context, id int64, status model.ResponseStatus) error
}

// Service answers event queries. Results are ordered by start time.
type Service struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

// New creates a Service over store.
func New(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, log: logger, now: time.Now}
}

// Range returns events starting within [from, to].
func (s *Service) Range(ctx context.Context, from, to time.Time) ([]*model.CachedEvent, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	return s.store.QueryEvents(ctx, state.EventQuery{From: from, To: to, EnabledOnly: true})
}

// ForCalendar returns the events of one calendar starting within
// [from, to], whether or not the calendar is enabled.
func (s *Service) ForCalendar(ctx context.Context, key model.CalendarKey, from, to time.Time) ([]*model.CachedEvent, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	return s.store.QueryEvents(ctx, state.EventQuery{
		From:       from,
		To:         to,
		Source:     key.Source,
		CalendarID: key.CalendarID,
	})
}

// OnDate returns events starting on day, midnight to midnight in day's
// location.
func (s *Service) OnDate(ctx context.Context, day time.Time) ([]*model.CachedEvent, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1).Add(-time.Nanosecond)
	return s.store.QueryEvents(ctx, state.EventQuery{From: start, To: end, EnabledOnly: true})
}

// Upcoming returns the next n events starting from now.
func (s *Service) Upcoming(ctx context.Context, n int) ([]*model.CachedEvent, error) {
	if n <= 0 {
		return nil, nil
	}
	return s.store.QueryEvents(ctx, state.EventQuery{From: s.now(), EnabledOnly: true, Limit: n})
}

// Search matches text against title, description and location,
// case-insensitively.
func (s *Service) Search(ctx context.Context, text string) ([]*model.CachedEvent, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("search text is required")
	}
	return s.store.QueryEvents(ctx, state.EventQuery{Text: text, EnabledOnly: true})
}

// ByStatus returns every event with the given provider status.
func (s *Service) ByStatus(ctx context.Context, status model.EventStatus) ([]*model.CachedEvent, error) {
	return s.store.QueryEvents(ctx, state.EventQuery{Status: &status, EnabledOnly: true})
}

// Recurring returns every recurring series master.
func (s *Service) Recurring(ctx context.Context) ([]*model.CachedEvent, error) {
	return s.store.QueryEvents(ctx, state.EventQuery{RecurringOnly: true, EnabledOnly: true})
}

// Birthdays returns birthday events starting within [from, to].
func (s *Service) Birthdays(ctx context.Context, from, to time.Time) ([]*model.CachedEvent, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	return s.store.QueryEvents(ctx, state.EventQuery{From: from, To: to, BirthdaysOnly: true, EnabledOnly: true})
}

// Count returns how many events start within [from, to].
func (s *Service) Count(ctx context.Context, from, to time.Time) (int, error) {
	if err := checkRange(from, to); err != nil {
		return 0, err
	}
	return s.store.CountEvents(ctx, state.EventQuery{From: from, To: to, EnabledOnly: true})
}

// CountByCalendar groups the events starting within [from, to] by
// calendar name.
func (s *Service) CountByCalendar(ctx context.Context, from, to time.Time) (map[string]int, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	return s.store.CountEventsByCalendar(ctx, state.EventQuery{From: from, To: to, EnabledOnly: true})
}

// Get returns the event with the given row ID, or (nil, nil).
func (s *Service) Get(ctx context.Context, id int64) (*model.CachedEvent, error) {
	return s.store.GetEvent(ctx, id)
}

// SetResponseStatus records the user's response to an event. The value
// survives later syncs unless the provider reports a response of its own.
func (s *Service) SetResponseStatus(ctx context.Context, id int64, status model.ResponseStatus) error {
	if err := s.store.SetResponseStatus(ctx, id, status); err != nil {
		return fmt.Errorf("setting response for event id=%d: %w", id, err)
	}
	s.log.Info("recorded response", "event_id", id, "response", status.String())
	return nil
}

func checkRange(from, to time.Time) error {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return fmt.Errorf("%w: %s > %s", ErrInvalidRange, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return nil
}
