package sync

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/njoerd114/familywall/internal/model"
	"github.com/njoerd114/familywall/internal/state"
)

// Stats tracks the cache mutations of one reconcile pass.
type Stats struct {
	Inserted  int
	Updated   int
	Unchanged int
	Deleted   int

	// Skipped counts incoming events whose key already belongs to another
	// calendar of the same source.
	Skipped int
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Inserted += o.Inserted
	s.Updated += o.Updated
	s.Unchanged += o.Unchanged
	s.Deleted += o.Deleted
	s.Skipped += o.Skipped
}

// Reconciler applies one calendar's fetched events to the cache. The
// provider is the source of truth for every field except a locally recorded
// response status. Calls for the same calendar are serialised; different
// calendars reconcile concurrently.
type Reconciler struct {
	store EventStore
	log   *slog.Logger
	now   func() time.Time

	mu    gosync.Mutex
	locks map[model.CalendarKey]*gosync.Mutex
}

// NewReconciler creates a Reconciler wired to the given event store.
func NewReconciler(store EventStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store: store,
		log:   logger,
		now:   time.Now,
		locks: make(map[model.CalendarKey]*gosync.Mutex),
	}
}

func (r *Reconciler) lock(key model.CalendarKey) func() {
	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &gosync.Mutex{}
		r.locks[key] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Reconcile makes the cache for cal mirror events:
//
//  1. incoming events are de-duplicated by ID, the last occurrence winning;
//  2. a known event is rewritten only when its content hash changed;
//  3. an unknown event is inserted;
//  4. every cached event absent from events is deleted.
//
// All writes happen in a single transaction. An empty events slice deletes
// every cached event of the calendar.
func (r *Reconciler) Reconcile(ctx context.Context, cal *model.CalendarConfiguration, events []model.ProviderEvent) (Stats, error) {
	key := cal.Key()
	unlock := r.lock(key)
	defer unlock()

	var stats Stats

	cached, err := r.store.EventsForCalendar(ctx, cal.Source, cal.CalendarID)
	if err != nil {
		return stats, fmt.Errorf("loading cached events for %s: %w", key, err)
	}
	byKey := make(map[string]*model.CachedEvent, len(cached))
	for _, c := range cached {
		byKey[c.ProviderKey] = c
	}

	incoming := dedupe(events)
	if dropped := len(events) - len(incoming); dropped > 0 {
		r.log.Debug("dropped duplicate or unkeyed events", "calendar", key.String(), "count", dropped)
	}
	if len(incoming) == 0 && len(cached) > 0 {
		r.log.Warn("provider returned no events, removing every cached event",
			"calendar", key.String(), "count", len(cached))
	}

	cs := state.ChangeSet{
		Source:     cal.Source,
		CalendarID: cal.CalendarID,
		Keep:       make([]string, 0, len(incoming)),
		SyncedAt:   r.now().UTC(),
	}
	inserts := make(map[string]bool)
	for i := range incoming {
		e := &incoming[i]
		cs.Keep = append(cs.Keep, e.ID)

		existing, known := byKey[e.ID]
		if known && existing.ContentHash == e.ContentHash() {
			stats.Unchanged++
			continue
		}
		ce := model.NewCachedEvent(cal.Source, cal.CalendarID, e)
		if known && ce.ResponseStatus != nil && *ce.ResponseStatus == model.ResponseNotResponded {
			// An unanswered invite never clears a recorded response.
			ce.ResponseStatus = nil
		}
		cs.Upserts = append(cs.Upserts, ce)
		if known {
			stats.Updated++
		} else {
			stats.Inserted++
			inserts[e.ID] = true
		}
	}

	res, err := r.store.ApplyChanges(ctx, cs)
	if err != nil {
		return Stats{}, fmt.Errorf("applying changes for %s: %w", key, err)
	}
	for _, k := range res.Skipped {
		r.log.Warn("event key belongs to another calendar, skipped",
			"calendar", key.String(), "provider_key", k)
		if inserts[k] {
			stats.Inserted--
		} else {
			stats.Updated--
		}
	}
	stats.Skipped = len(res.Skipped)
	stats.Deleted = res.Deleted

	r.log.Debug("reconciled calendar",
		"calendar", key.String(),
		"inserted", stats.Inserted,
		"updated", stats.Updated,
		"unchanged", stats.Unchanged,
		"deleted", stats.Deleted,
		"skipped", stats.Skipped,
	)
	return stats, nil
}

// dedupe drops events without an ID and keeps the last event for each ID,
// at the position of its first occurrence.
func dedupe(events []model.ProviderEvent) []model.ProviderEvent {
	pos := make(map[string]int, len(events))
	out := make([]model.ProviderEvent, 0, len(events))
	for _, e := range events {
		if e.ID == "" {
			continue
		}
		if i, seen := pos[e.ID]; seen {
			out[i] = e
			continue
		}
		pos[e.ID] = len(out)
		out = append(out, e)
	}
	return out
}
