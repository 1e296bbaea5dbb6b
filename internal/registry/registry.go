// Package registry owns the set of configured calendars: CRUD over
// [model.CalendarConfiguration], discovery from a source, and the refresh
// interval the sync loop sleeps for.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/njoerd114/familywall/internal/model"
	"github.com/njoerd114/familywall/internal/source"
	"github.com/njoerd114/familywall/internal/state"
)

// MinIntervalMinutes is the floor applied to the sync interval.
const MinIntervalMinutes = 5

// Palette is assigned round-robin to discovered calendars.
var Palette = []string{
	"#3788D8", // blue
	"#D83737", // red
	"#37D875", // green
	"#D87537", // orange
	"#8B37D8", // purple
	"#37D8D8", // cyan
	"#D8D837", // yellow
	"#D837A7", // pink
}

// Store is the persistence the registry needs. *state.Store implements it.
type Store interface {
	InsertCalendar(ctx context.Context, cal *model.CalendarConfiguration) error
	UpdateCalendar(ctx context.Context, cal *model.CalendarConfiguration) error
	DeleteCalendar(ctx context.Context, id int64) error
	GetCalendar(ctx context.Context, id int64) (*model.CalendarConfiguration, error)
	GetCalendarByKey(ctx context.Context, source, calendarID string) (*model.CalendarConfiguration, error)
	ListCalendars(ctx context.Context, enabledOnly bool) ([]*model.CalendarConfiguration, error)
	SetCalendarsEnabled(ctx context.Context, ids []int64, enabled bool) (int, error)
	ReorderCalendars(ctx context.Context, ids []int64) error
	MarkCalendarSynced(ctx context.Context, source, calendarID string, at time.Time) error
	IsEmpty(ctx context.Context) (bool, error)
}

// ClientLookup resolves a source tag to its client. *source.Set implements it.
type ClientLookup interface {
	Client(tag string) (source.Client, error)
}

// Defaults are the sync settings given to discovered calendars.
type Defaults struct {
	SyncIntervalMinutes int
	SyncPastEvents      bool
	FutureDaysToSync    int
}

// Registry is safe for concurrent use; all state lives in the Store.
type Registry struct {
	store    Store
	clients  ClientLookup
	defaults Defaults
	log      *slog.Logger
}

// New creates a Registry.
func New(store Store, clients ClientLookup, defaults Defaults, logger *slog.Logger) *Registry {
	if defaults.SyncIntervalMinutes <= 0 {
		defaults.SyncIntervalMinutes = model.DefaultSyncIntervalMinutes
	}
	if defaults.FutureDaysToSync <= 0 {
		defaults.FutureDaysToSync = model.DefaultFutureDaysToSync
	}
	return &Registry{store: store, clients: clients, defaults: defaults, log: logger}
}

// Discover asks the client registered for tag to enumerate its calendars.
// The result is not persisted; colours follow [Palette] in discovery order
// and DisplayOrder counts from 1.
func (r *Registry) Discover(ctx context.Context, tag string) ([]*model.CalendarConfiguration, error) {
	r.log.Info("discovering calendars", "source", tag)

	client, err := r.clients.Client(tag)
	if err != nil {
		return nil, err
	}
	if !client.IsAuthenticated(ctx) {
		return nil, fmt.Errorf("discover %s: %w", tag, source.ErrAuthRequired)
	}
	found, err := client.ListCalendars(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", tag, err)
	}

	cals := make([]*model.CalendarConfiguration, 0, len(found))
	for i, pc := range found {
		cals = append(cals, &model.CalendarConfiguration{
			Source:              tag,
			CalendarID:          pc.ID,
			Name:                pc.Name,
			Owner:               pc.Owner,
			CanEdit:             pc.CanEdit,
			IsDefault:           pc.IsDefault,
			Enabled:             true,
			Color:               Palette[i%len(Palette)],
			DisplayOrder:        i + 1,
			SyncIntervalMinutes: r.defaults.SyncIntervalMinutes,
			SyncPastEvents:      r.defaults.SyncPastEvents,
			FutureDaysToSync:    r.defaults.FutureDaysToSync,
		})
	}
	r.log.Info("discovered calendars", "source", tag, "count", len(cals))
	return cals, nil
}

// Add validates and persists a new calendar. Zero-valued sync settings are
// filled from the registry defaults.
func (r *Registry) Add(ctx context.Context, cal *model.CalendarConfiguration) error {
	if cal.SyncIntervalMinutes <= 0 {
		cal.SyncIntervalMinutes = r.defaults.SyncIntervalMinutes
	}
	if cal.FutureDaysToSync <= 0 {
		cal.FutureDaysToSync = r.defaults.FutureDaysToSync
	}
	cal.ApplyDefaults()
	if err := cal.Validate(); err != nil {
		return err
	}
	if err := r.store.InsertCalendar(ctx, cal); err != nil {
		return err
	}
	r.log.Info("added calendar", "name", cal.Name, "id", cal.ID, "key", cal.Key().String())
	return nil
}

// Update validates and writes the mutable settings of a calendar.
func (r *Registry) Update(ctx context.Context, cal *model.CalendarConfiguration) error {
	if err := cal.Validate(); err != nil {
		return err
	}
	if err := r.store.UpdateCalendar(ctx, cal); err != nil {
		return err
	}
	r.log.Info("updated calendar", "name", cal.Name, "id", cal.ID)
	return nil
}

// Delete removes a calendar and all its cached events.
func (r *Registry) Delete(ctx context.Context, id int64) error {
	if err := r.store.DeleteCalendar(ctx, id); err != nil {
		return err
	}
	r.log.Info("deleted calendar", "id", id)
	return nil
}

// SetEnabled shows or hides one calendar.
func (r *Registry) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	n, err := r.store.SetCalendarsEnabled(ctx, []int64{id}, enabled)
	if err != nil {
		return err
	}
	if n == 0 {
		// Either already in that state or missing; only the latter is an error.
		cal, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		if cal == nil {
			return fmt.Errorf("calendar id=%d: %w", id, state.ErrNotFound)
		}
	}
	r.log.Info("set calendar enabled", "id", id, "enabled", enabled)
	return nil
}

// SetEnabledMany shows or hides several calendars in one transaction and
// returns how many changed.
func (r *Registry) SetEnabledMany(ctx context.Context, ids []int64, enabled bool) (int, error) {
	n, err := r.store.SetCalendarsEnabled(ctx, ids, enabled)
	if err != nil {
		return 0, err
	}
	r.log.Info("set calendars enabled", "requested", len(ids), "changed", n, "enabled", enabled)
	return n, nil
}

// SetColor changes a calendar's colour; color must be #RRGGBB.
func (r *Registry) SetColor(ctx context.Context, id int64, color string) error {
	if !model.ValidColor(color) {
		return fmt.Errorf("color %q must be a #RRGGBB hex value", color)
	}
	cal, err := r.mustGet(ctx, id)
	if err != nil {
		return err
	}
	cal.Color = color
	if err := r.store.UpdateCalendar(ctx, cal); err != nil {
		return err
	}
	r.log.Info("set calendar color", "name", cal.Name, "color", color)
	return nil
}

// Reorder assigns DisplayOrder by position in ids, starting at 0.
func (r *Registry) Reorder(ctx context.Context, ids []int64) error {
	if err := r.store.ReorderCalendars(ctx, ids); err != nil {
		return err
	}
	r.log.Info("reordered calendars", "count", len(ids))
	return nil
}

// Get returns the calendar with the given row ID, or (nil, nil).
func (r *Registry) Get(ctx context.Context, id int64) (*model.CalendarConfiguration, error) {
	return r.store.GetCalendar(ctx, id)
}

// GetByCalendarID returns the calendar registered for (source, calendarID),
// or (nil, nil).
func (r *Registry) GetByCalendarID(ctx context.Context, source, calendarID string) (*model.CalendarConfiguration, error) {
	return r.store.GetCalendarByKey(ctx, source, calendarID)
}

// All returns every calendar ordered by display order.
func (r *Registry) All(ctx context.Context) ([]*model.CalendarConfiguration, error) {
	return r.store.ListCalendars(ctx, false)
}

// Empty reports whether no calendar is registered.
func (r *Registry) Empty(ctx context.Context) (bool, error) {
	return r.store.IsEmpty(ctx)
}

// EnabledCalendars returns the enabled calendars ordered by display order.
func (r *Registry) EnabledCalendars(ctx context.Context) ([]*model.CalendarConfiguration, error) {
	return r.store.ListCalendars(ctx, true)
}

// MarkSynced records a completed sync of the calendar at time at.
func (r *Registry) MarkSynced(ctx context.Context, key model.CalendarKey, at time.Time) error {
	return r.store.MarkCalendarSynced(ctx, key.Source, key.CalendarID, at)
}

// MinimumInterval returns how long the sync loop sleeps:
// max(5, min(interval over enabled calendars, cacheTTL)) minutes. With no
// enabled calendars the TTL alone applies.
func (r *Registry) MinimumInterval(ctx context.Context, cacheTTL time.Duration) (time.Duration, error) {
	cals, err := r.EnabledCalendars(ctx)
	if err != nil {
		return 0, err
	}
	return nextInterval(cals, cacheTTL), nil
}

func nextInterval(cals []*model.CalendarConfiguration, cacheTTL time.Duration) time.Duration {
	minutes := int(cacheTTL / time.Minute)
	if minutes <= 0 {
		minutes = model.DefaultSyncIntervalMinutes
	}
	for _, c := range cals {
		if c.SyncIntervalMinutes > 0 && c.SyncIntervalMinutes < minutes {
			minutes = c.SyncIntervalMinutes
		}
	}
	if minutes < MinIntervalMinutes {
		minutes = MinIntervalMinutes
	}
	return time.Duration(minutes) * time.Minute
}

func (r *Registry) mustGet(ctx context.Context, id int64) (*model.CalendarConfiguration, error) {
	cal, err := r.store.GetCalendar(ctx, id)
	if err != nil {
		return nil, err
	}
	if cal == nil {
		return nil, fmt.Errorf("calendar id=%d: %w", id, state.ErrNotFound)
	}
	return cal, nil
}

// IsNotFound reports whether err means the calendar does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, state.ErrNotFound)
}
