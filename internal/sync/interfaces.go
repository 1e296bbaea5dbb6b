// Package sync implements the calendar synchronisation engine for
// FamilyWall. It pulls events from every enabled calendar's source,
// reconciles them against the local cache, and tracks per-calendar sync
// state.
//
// The package contains three main components:
//
//   - [Orchestrator] runs the sync loop, fans out one task per calendar and
//     serves manual triggers and status snapshots.
//   - [Reconciler] turns one calendar's fetched events into inserts, updates
//     and deletes against the cache, atomically.
//   - [Bootstrap] handles the first run: discovering calendars on every
//     configured source and registering them after confirmation.
package sync

import (
	"context"
	"time"

	"github.com/njoerd114/familywall/internal/model"
	"github.com/njoerd114/familywall/internal/source"
	"github.com/njoerd114/familywall/internal/state"
)

// EventStore provides access to the event cache.
// Implemented by [state.Store].
type EventStore interface {
	EventsForCalendar(ctx context.Context, source, calendarID string) ([]*model.CachedEvent, error)
	ApplyChanges(ctx context.Context, cs state.ChangeSet) (state.ApplyResult, error)
}

// CalendarRegistry is the registry surface the Orchestrator needs.
// Implemented by [registry.Registry].
type CalendarRegistry interface {
	EnabledCalendars(ctx context.Context) ([]*model.CalendarConfiguration, error)
	MarkSynced(ctx context.Context, key model.CalendarKey, at time.Time) error
	MinimumInterval(ctx context.Context, cacheTTL time.Duration) (time.Duration, error)
}

// StrategyLookup resolves a calendar's source tag to its fetch strategy.
// Implemented by [source.Set].
type StrategyLookup interface {
	Lookup(tag string) (source.Strategy, error)
}

// AuthChecker reports whether a source currently holds credentials.
// Implemented by [source.Set].
type AuthChecker interface {
	Authenticated(ctx context.Context, tag string) bool
}

// Discoverer enumerates and registers calendars for the first-run
// bootstrap. Implemented by [registry.Registry].
type Discoverer interface {
	Discover(ctx context.Context, tag string) ([]*model.CalendarConfiguration, error)
	Add(ctx context.Context, cal *model.CalendarConfiguration) error
	Empty(ctx context.Context) (bool, error)
}
