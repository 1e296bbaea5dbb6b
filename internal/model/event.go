// Package model defines the calendar and event types shared by the source
// clients, the cache store, the sync engine, and the read API.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// EventStatus is the provider-reported status of an event.
type EventStatus int

const (
	// StatusConfirmed is the default for events without an explicit status.
	StatusConfirmed EventStatus = iota
	// StatusTentative marks events the organizer has not confirmed.
	StatusTentative
	// StatusCancelled marks events the provider still reports but that
	// will not take place.
	StatusCancelled
)

// String returns the lower-case label used in logs, the CLI, and JSON.
func (s EventStatus) String() string {
	switch s {
	case StatusTentative:
		return "tentative"
	case StatusCancelled:
		return "cancelled"
	default:
		return "confirmed"
	}
}

// ParseEventStatus maps a label (case-insensitive) to an EventStatus.
func ParseEventStatus(s string) (EventStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "confirmed", "":
		return StatusConfirmed, nil
	case "tentative":
		return StatusTentative, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	default:
		return StatusConfirmed, fmt.Errorf("unknown event status %q", s)
	}
}

// ResponseStatus is the user's reply to an invitation. It is owned locally
// once set: a sync only overwrites it when the provider reports one.
type ResponseStatus int

const (
	ResponseNotResponded ResponseStatus = iota
	ResponseAccepted
	ResponseDeclined
	ResponseTentative
)

func (r ResponseStatus) String() string {
	switch r {
	case ResponseAccepted:
		return "accepted"
	case ResponseDeclined:
		return "declined"
	case ResponseTentative:
		return "tentative"
	default:
		return "not_responded"
	}
}

// ParseResponseStatus maps a label (case-insensitive) to a ResponseStatus.
func ParseResponseStatus(s string) (ResponseStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "not_responded", "notresponded", "none", "needs-action", "needsaction":
		return ResponseNotResponded, nil
	case "accepted", "accept":
		return ResponseAccepted, nil
	case "declined", "decline":
		return ResponseDeclined, nil
	case "tentative", "tentativelyaccepted":
		return ResponseTentative, nil
	default:
		return ResponseNotResponded, fmt.Errorf("unknown response status %q", s)
	}
}

// ProviderEvent is one event as reported by a calendar source. It is
// produced fresh on every fetch and never mutated afterwards.
type ProviderEvent struct {
	// ID is the provider's identifier, unique within the calendar. It becomes
	// the cached event's provider key.
	ID string

	Title string

	// Start and End are in UTC. For all-day events they are midnight UTC of
	// the first day and of the day after the last day.
	Start time.Time
	End   time.Time

	AllDay   bool
	Birthday bool

	Location    string
	Description string
	Organizer   string
	Attendees   []string
	Status      EventStatus

	// Recurring events are stored as a single master record carrying the
	// rule; occurrences are not expanded.
	Recurring      bool
	RecurrenceRule string

	// ResponseStatus is nil when the provider does not report one. A nil
	// value leaves any locally recorded response untouched.
	ResponseStatus *ResponseStatus

	LastModified time.Time
}

// ContentHash returns a deterministic SHA-256 hex digest of every field the
// provider owns. LastModified is excluded: it moves on no-op saves and is
// not rendered. Two events with equal hashes produce identical cache rows.
func (e *ProviderEvent) ContentHash() string {
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "%s|%s|%s|%t|%t|",
		e.Title,
		e.Start.UTC().Format(time.RFC3339Nano),
		e.End.UTC().Format(time.RFC3339Nano),
		e.AllDay,
		e.Birthday,
	)
	_, _ = fmt.Fprintf(h, "%s|%s|%s|%s|%d|",
		e.Location,
		e.Description,
		e.Organizer,
		strings.Join(e.Attendees, ","),
		e.Status,
	)
	_, _ = fmt.Fprintf(h, "%t|%s|", e.Recurring, e.RecurrenceRule)
	if e.ResponseStatus != nil {
		_, _ = fmt.Fprintf(h, "%d", *e.ResponseStatus)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CachedEvent is the persisted copy of a provider event inside a calendar.
// (Source, ProviderKey) is unique across the cache.
type CachedEvent struct {
	ID          int64
	Source      string
	ProviderKey string
	CalendarID  string

	Title    string
	Start    time.Time
	End      time.Time
	AllDay   bool
	Birthday bool

	Recurring      bool
	RecurrenceRule string

	Location    string
	Description string
	Organizer   string
	Attendees   []string
	Status      EventStatus

	// ResponseStatus is nil until either the provider reports one or the
	// user records one locally.
	ResponseStatus *ResponseStatus

	ContentHash string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastSync    time.Time
}

// NewCachedEvent builds the cache row for a provider event inside the given
// calendar. Timestamps are left for the caller to fill.
func NewCachedEvent(source, calendarID string, e *ProviderEvent) *CachedEvent {
	c := &CachedEvent{
		Source:         source,
		ProviderKey:    e.ID,
		CalendarID:     calendarID,
		ContentHash:    e.ContentHash(),
		ResponseStatus: cloneResponse(e.ResponseStatus),
	}
	c.applyProvider(e)
	return c
}

func (c *CachedEvent) applyProvider(e *ProviderEvent) {
	c.Title = e.Title
	c.Start = e.Start.UTC()
	c.End = e.End.UTC()
	c.AllDay = e.AllDay
	c.Birthday = e.Birthday
	c.Recurring = e.Recurring
	c.RecurrenceRule = e.RecurrenceRule
	c.Location = e.Location
	c.Description = e.Description
	c.Organizer = e.Organizer
	c.Attendees = append([]string(nil), e.Attendees...)
	c.Status = e.Status
}

func cloneResponse(r *ResponseStatus) *ResponseStatus {
	if r == nil {
		return nil
	}
	v := *r
	return &v
}

// Response is a convenience for building *ResponseStatus literals.
func Response(r ResponseStatus) *ResponseStatus { return &r }
