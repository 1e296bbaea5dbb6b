package model

import (
	"fmt"
	"regexp"
	"time"
)

// Calendar defaults applied to newly discovered or added calendars.
const (
	DefaultSyncIntervalMinutes = 15
	DefaultFutureDaysToSync    = 90
	DefaultColor               = "#3788D8"

	// PastEventsDays is how far back the sync window reaches when a
	// calendar has SyncPastEvents set.
	PastEventsDays = 30
)

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// ValidColor reports whether c is a #RRGGBB hex colour.
func ValidColor(c string) bool {
	return colorPattern.MatchString(c)
}

// ProviderCalendar is a calendar as reported by a source during discovery.
type ProviderCalendar struct {
	ID        string
	Name      string
	Owner     string
	CanEdit   bool
	IsDefault bool
}

// CalendarKey identifies a calendar across sources.
type CalendarKey struct {
	Source     string
	CalendarID string
}

func (k CalendarKey) String() string {
	return k.Source + "/" + k.CalendarID
}

// CalendarConfiguration is the user-facing settings record for one calendar
// in the registry. (Source, CalendarID) is unique.
type CalendarConfiguration struct {
	ID          int64
	Source      string
	CalendarID  string
	Name        string
	Description string
	Owner       string

	// Color is a #RRGGBB hex string.
	Color        string
	DisplayOrder int
	Enabled      bool
	CanEdit      bool
	IsDefault    bool

	SyncIntervalMinutes int
	SyncPastEvents      bool
	FutureDaysToSync    int

	// LastSync is nil until the calendar has completed a sync.
	LastSync *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Key returns the (Source, CalendarID) pair.
func (c *CalendarConfiguration) Key() CalendarKey {
	return CalendarKey{Source: c.Source, CalendarID: c.CalendarID}
}

// ApplyDefaults fills zero-valued settings with the package defaults.
func (c *CalendarConfiguration) ApplyDefaults() {
	if c.SyncIntervalMinutes <= 0 {
		c.SyncIntervalMinutes = DefaultSyncIntervalMinutes
	}
	if c.FutureDaysToSync <= 0 {
		c.FutureDaysToSync = DefaultFutureDaysToSync
	}
	if c.Color == "" {
		c.Color = DefaultColor
	}
}

// Validate checks the fields a caller can set.
func (c *CalendarConfiguration) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("calendar source is required")
	}
	if c.CalendarID == "" {
		return fmt.Errorf("calendar id is required")
	}
	if c.Name == "" {
		return fmt.Errorf("calendar name is required")
	}
	if !ValidColor(c.Color) {
		return fmt.Errorf("color %q must be a #RRGGBB hex value", c.Color)
	}
	if c.SyncIntervalMinutes <= 0 {
		return fmt.Errorf("sync interval must be positive, got %d", c.SyncIntervalMinutes)
	}
	if c.FutureDaysToSync <= 0 {
		return fmt.Errorf("future days to sync must be positive, got %d", c.FutureDaysToSync)
	}
	return nil
}

// SyncWindow returns the [start, end] range to fetch for the calendar,
// anchored at midnight UTC of now's day.
func (c *CalendarConfiguration) SyncWindow(now time.Time) (time.Time, time.Time) {
	n := now.UTC()
	today := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
	start := today
	if c.SyncPastEvents {
		start = today.AddDate(0, 0, -PastEventsDays)
	}
	return start, today.AddDate(0, 0, c.FutureDaysToSync)
}
