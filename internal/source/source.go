// Package source defines the contract every calendar provider implements and
// the registry that maps a calendar's source tag to its fetch strategy.
//
// Each provider lives in its own sub-package (graph, google, ics,
// homeassistant, reminders) and exposes a [Client]. [NewStrategy] adapts a
// Client into the [Strategy] the sync engine calls, normalising every
// failure into a [*FetchError].
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/njoerd114/familywall/internal/model"
)

// Source tags. A CalendarConfiguration's Source must match one of these
// exactly for a strategy to be found.
const (
	TagGraph         = "Graph"
	TagGoogle        = "Google"
	TagICS           = "ICS"
	TagHomeAssistant = "HomeAssistant"
	TagReminders     = "Reminders"
)

var (
	// ErrFetchFailed matches every error returned by a Strategy.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrAuthRequired is returned by clients that have no usable credentials.
	ErrAuthRequired = errors.New("authentication required")

	// ErrNoStrategy is returned by [Set.Lookup] for an unknown source tag.
	ErrNoStrategy = errors.New("no strategy registered for source")

	// ErrStale accompanies events served from a local copy because the
	// provider could not be reached. The events are usable but the calendar
	// has not been synced.
	ErrStale = errors.New("provider unreachable, serving cached copy")
)

// FetchError describes a failed fetch. It matches [ErrFetchFailed] and the
// underlying cause with [errors.Is].
type FetchError struct {
	Source     string
	CalendarID string
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s calendar %q: %v", e.Source, e.CalendarID, e.Err)
}

// Unwrap exposes both the fetch-failed sentinel and the cause.
func (e *FetchError) Unwrap() []error {
	return []error{ErrFetchFailed, e.Err}
}

// Client is implemented by every provider package.
type Client interface {
	// IsAuthenticated reports whether the client holds usable credentials.
	// Sources without authentication always return true.
	IsAuthenticated(ctx context.Context) bool

	// FetchEvents returns every event of calendarID that overlaps
	// [start, end]. Times are UTC.
	FetchEvents(ctx context.Context, calendarID string, start, end time.Time) ([]model.ProviderEvent, error)

	// ListCalendars returns the calendars visible to the client, in the
	// provider's order.
	ListCalendars(ctx context.Context) ([]model.ProviderCalendar, error)
}

// Strategy fetches the events of one calendar from one source. Fetch may
// return events together with an error matching [ErrStale]; every other
// error comes with no events and matches [ErrFetchFailed].
type Strategy interface {
	Source() string
	Fetch(ctx context.Context, calendarID string, start, end time.Time) ([]model.ProviderEvent, error)
}

type clientStrategy struct {
	tag    string
	client Client
	log    *slog.Logger
}

// NewStrategy adapts client into a Strategy for the given source tag.
func NewStrategy(tag string, client Client, logger *slog.Logger) Strategy {
	return &clientStrategy{tag: tag, client: client, log: logger}
}

func (s *clientStrategy) Source() string { return s.tag }

func (s *clientStrategy) Fetch(ctx context.Context, calendarID string, start, end time.Time) ([]model.ProviderEvent, error) {
	began := time.Now()
	events, err := s.client.FetchEvents(ctx, calendarID, start.UTC(), end.UTC())
	if err != nil && errors.Is(err, ErrStale) && events != nil {
		s.log.Warn("serving stale events", "source", s.tag, "calendar_id", calendarID, "error", err)
		return events, err
	}
	if err != nil {
		return nil, &FetchError{Source: s.tag, CalendarID: calendarID, Err: err}
	}
	s.log.Debug("fetched events",
		"source", s.tag,
		"calendar_id", calendarID,
		"count", len(events),
		"duration", time.Since(began),
	)
	return events, nil
}

// Set maps source tags to strategies and the clients behind them. It is
// safe for concurrent use.
type Set struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	clients    map[string]Client
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{
		strategies: make(map[string]Strategy),
		clients:    make(map[string]Client),
	}
}

// Register adds client under tag, replacing any previous registration.
func (s *Set) Register(tag string, client Client, logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[tag] = client
	s.strategies[tag] = NewStrategy(tag, client, logger.With("source", tag))
}

// Lookup returns the strategy for tag by exact match.
func (s *Set) Lookup(tag string) (Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.strategies[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoStrategy, tag)
	}
	return st, nil
}

// Client returns the client registered for tag.
func (s *Set) Client(tag string) (Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoStrategy, tag)
	}
	return c, nil
}

// Authenticated reports whether the client behind tag has credentials. An
// unknown tag is reported as authenticated so the caller falls through to
// the strategy lookup and its warning.
func (s *Set) Authenticated(ctx context.Context, tag string) bool {
	c, err := s.Client(tag)
	if err != nil {
		return true
	}
	return c.IsAuthenticated(ctx)
}

// Tags returns the registered tags sorted alphabetically.
func (s *Set) Tags() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tags := make([]string, 0, len(s.clients))
	for t := range s.clients {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}
