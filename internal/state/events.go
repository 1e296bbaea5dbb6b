package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/njoerd114/familywall/internal/model"
)

const eventColumns = `
	e.id, e.source, e.provider_key, e.calendar_id, e.title, e.start_utc, e.end_utc,
	e.all_day, e.is_birthday, e.is_recurring, e.recurrence_rule, e.location,
	e.description, e.organizer, e.attendees, e.status, e.response_status,
	e.content_hash, e.created_at, e.updated_at, e.last_sync`

// ChangeSet is the complete outcome of reconciling one fetch against one
// calendar. [Store.ApplyChanges] writes it atomically.
type ChangeSet struct {
	Source     string
	CalendarID string

	// Upserts holds new and changed events. An event whose ResponseStatus
	// is nil keeps the stored response.
	Upserts []*model.CachedEvent

	// Keep lists every provider key present in the fetch. Cached events of
	// the calendar whose key is not listed are deleted.
	Keep []string

	// SyncedAt is written to last_sync of every surviving event.
	SyncedAt time.Time
}

// ApplyResult reports what [Store.ApplyChanges] did.
type ApplyResult struct {
	Upserted int
	Deleted  int

	// Skipped lists provider keys whose upsert was refused because the key
	// already belongs to another calendar of the same source.
	Skipped []string
}

// EventsForCalendar returns every cached event of (source, calendarID).
func (s *Store) EventsForCalendar(ctx context.Context, source, calendarID string) ([]*model.CachedEvent, error) {
	q := `SELECT ` + eventColumns + ` FROM events e WHERE e.source = ? AND e.calendar_id = ?`
	return s.queryEvents(ctx, q, source, calendarID)
}

// ApplyChanges upserts cs.Upserts, deletes every cached event of the calendar
// whose key is not in cs.Keep, and advances last_sync, all in one
// transaction. Either everything is written or nothing is.
//
// Returns [ErrNotFound] if the calendar is no longer registered and an error
// wrapping [ErrPersistence] for any database failure.
func (s *Store) ApplyChanges(ctx context.Context, cs ChangeSet) (ApplyResult, error) {
	var result ApplyResult

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM calendars WHERE source = ? AND calendar_id = ?`,
			cs.Source, cs.CalendarID,
		).Scan(&exists)
		if err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("calendar %s/%s: %w", cs.Source, cs.CalendarID, ErrNotFound)
		}

		skipped, err := upsertEvents(ctx, tx, cs)
		if err != nil {
			return err
		}
		result.Skipped = skipped
		result.Upserted = len(cs.Upserts) - len(skipped)

		deleted, err := deleteMissing(ctx, tx, cs.Source, cs.CalendarID, cs.Keep)
		if err != nil {
			return err
		}
		result.Deleted = deleted

		_, err = tx.ExecContext(ctx,
			`UPDATE events SET last_sync = ? WHERE source = ? AND calendar_id = ?`,
			formatTime(cs.SyncedAt), cs.Source, cs.CalendarID,
		)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return ApplyResult{}, err
	}
	if err != nil {
		return ApplyResult{}, persistence("applying changes to %s/%s: %w", cs.Source, cs.CalendarID, err)
	}
	return result, nil
}

// upsertEvents writes every event in cs.Upserts. A key owned by a different
// calendar is left alone and reported as skipped.
func upsertEvents(ctx context.Context, tx *sql.Tx, cs ChangeSet) ([]string, error) {
	const q = `
		INSERT INTO events
		    (source, provider_key, calendar_id, title, start_utc, end_utc, all_day,
		     is_birthday, is_recurring, recurrence_rule, location, description,
		     organizer, attendees, status, response_status, content_hash,
		     created_at, updated_at, last_sync)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, provider_key) DO UPDATE SET
		    title           = excluded.title,
		    start_utc       = excluded.start_utc,
		    end_utc         = excluded.end_utc,
		    all_day         = excluded.all_day,
		    is_birthday     = excluded.is_birthday,
		    is_recurring    = excluded.is_recurring,
		    recurrence_rule = excluded.recurrence_rule,
		    location        = excluded.location,
		    description     = excluded.description,
		    organizer       = excluded.organizer,
		    attendees       = excluded.attendees,
		    status          = excluded.status,
		    response_status = COALESCE(excluded.response_status, events.response_status),
		    content_hash    = excluded.content_hash,
		    updated_at      = excluded.updated_at,
		    last_sync       = excluded.last_sync
		WHERE events.calendar_id = excluded.calendar_id`

	if len(cs.Upserts) == 0 {
		return nil, nil
	}

	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("preparing upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	var skipped []string
	for _, ev := range cs.Upserts {
		attendees, err := encodeAttendees(ev.Attendees)
		if err != nil {
			return nil, err
		}
		created := ev.CreatedAt
		if created.IsZero() {
			created = cs.SyncedAt
		}
		updated := ev.UpdatedAt
		if updated.IsZero() {
			updated = cs.SyncedAt
		}

		res, err := stmt.ExecContext(ctx,
			cs.Source,
			ev.ProviderKey,
			cs.CalendarID,
			ev.Title,
			formatTime(ev.Start),
			formatTime(ev.End),
			boolInt(ev.AllDay),
			boolInt(ev.Birthday),
			boolInt(ev.Recurring),
			ev.RecurrenceRule,
			ev.Location,
			ev.Description,
			ev.Organizer,
			attendees,
			int(ev.Status),
			responseArg(ev.ResponseStatus),
			ev.ContentHash,
			formatTime(created),
			formatTime(updated),
			formatTime(cs.SyncedAt),
		)
		if err != nil {
			return nil, fmt.Errorf("upserting event %q: %w", ev.ProviderKey, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			skipped = append(skipped, ev.ProviderKey)
		}
	}
	return skipped, nil
}

// deleteMissing removes every event of the calendar whose key is not in keep.
func deleteMissing(ctx context.Context, tx *sql.Tx, source, calendarID string, keep []string) (int, error) {
	keepSet := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		keepSet[k] = struct{}{}
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, provider_key FROM events WHERE source = ? AND calendar_id = ?`,
		source, calendarID,
	)
	if err != nil {
		return 0, fmt.Errorf("listing cached keys: %w", err)
	}
	var stale []int64
	for rows.Next() {
		var id int64
		var key string
		if err := rows.Scan(&id, &key); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("scanning cached key: %w", err)
		}
		if _, ok := keepSet[key]; !ok {
			stale = append(stale, id)
		}
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("deleting event id=%d: %w", id, err)
		}
	}
	return len(stale), nil
}

// GetEvent returns the cached event with the given row ID,
// or (nil, nil) if no such event exists.
func (s *Store) GetEvent(ctx context.Context, id int64) (*model.CachedEvent, error) {
	q := `SELECT ` + eventColumns + ` FROM events e WHERE e.id = ?`
	return scanEvent(s.db.QueryRowContext(ctx, q, id))
}

// SetResponseStatus records the user's local response to an event.
func (s *Store) SetResponseStatus(ctx context.Context, id int64, status model.ResponseStatus) error {
	const q = `UPDATE events SET response_status = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, int(status), formatTime(s.now()), id)
	if err != nil {
		return persistence("setting response status on event id=%d: %w", id, err)
	}
	return requireRow(res, "event", id)
}

// EventQuery filters cached events. Zero values mean "no constraint".
type EventQuery struct {
	// From and To bound the event start time, both inclusive.
	From time.Time
	To   time.Time

	// Source and CalendarID restrict results to one calendar.
	Source     string
	CalendarID string

	// EnabledOnly hides events of disabled calendars.
	EnabledOnly bool

	// Text matches title, description, or location, case-insensitively.
	Text string

	Status        *model.EventStatus
	RecurringOnly bool
	BirthdaysOnly bool

	Limit int
}

func (q EventQuery) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if !q.From.IsZero() {
		conds = append(conds, "e.start_utc >= ?")
		args = append(args, formatTime(q.From))
	}
	if !q.To.IsZero() {
		conds = append(conds, "e.start_utc <= ?")
		args = append(args, formatTime(q.To))
	}
	if q.Source != "" {
		conds = append(conds, "e.source = ?")
		args = append(args, q.Source)
	}
	if q.CalendarID != "" {
		conds = append(conds, "e.calendar_id = ?")
		args = append(args, q.CalendarID)
	}
	if q.EnabledOnly {
		conds = append(conds, "c.enabled = 1")
	}
	if q.Text != "" {
		pattern := "%" + escapeLike(strings.ToLower(q.Text)) + "%"
		conds = append(conds, `(LOWER(e.title) LIKE ? ESCAPE '\' OR LOWER(e.description) LIKE ? ESCAPE '\' OR LOWER(e.location) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern)
	}
	if q.Status != nil {
		conds = append(conds, "e.status = ?")
		args = append(args, int(*q.Status))
	}
	if q.RecurringOnly {
		conds = append(conds, "e.is_recurring = 1")
	}
	if q.BirthdaysOnly {
		conds = append(conds, "e.is_birthday = 1")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

const eventsJoin = ` FROM events e JOIN calendars c ON c.source = e.source AND c.calendar_id = e.calendar_id`

// QueryEvents returns the events matching q ordered by start time.
func (s *Store) QueryEvents(ctx context.Context, q EventQuery) ([]*model.CachedEvent, error) {
	where, args := q.where()
	stmt := `SELECT ` + eventColumns + eventsJoin + where + ` ORDER BY e.start_utc, e.id`
	if q.Limit > 0 {
		stmt += ` LIMIT ?`
		args = append(args, q.Limit)
	}
	return s.queryEvents(ctx, stmt, args...)
}

// CountEvents returns how many events match q. q.Limit is ignored.
func (s *Store) CountEvents(ctx context.Context, q EventQuery) (int, error) {
	where, args := q.where()
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*)`+eventsJoin+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}

// CountEventsByCalendar groups the events matching q by calendar name.
func (s *Store) CountEventsByCalendar(ctx context.Context, q EventQuery) (map[string]int, error) {
	where, args := q.where()
	rows, err := s.db.QueryContext(ctx, `SELECT c.name, COUNT(*)`+eventsJoin+where+` GROUP BY c.name`, args...)
	if err != nil {
		return nil, fmt.Errorf("counting events by calendar: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scanning calendar count: %w", err)
		}
		counts[name] += n
	}
	return counts, rows.Err()
}

func (s *Store) queryEvents(ctx context.Context, q string, args ...any) ([]*model.CachedEvent, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*model.CachedEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanEvent(s scanner) (*model.CachedEvent, error) {
	var (
		ev                          model.CachedEvent
		start, end                  string
		allDay, birthday, recurring int
		attendees                   string
		status                      int
		response                    sql.NullInt64
		created, updated, lastSync  string
	)

	err := s.Scan(
		&ev.ID,
		&ev.Source,
		&ev.ProviderKey,
		&ev.CalendarID,
		&ev.Title,
		&start,
		&end,
		&allDay,
		&birthday,
		&recurring,
		&ev.RecurrenceRule,
		&ev.Location,
		&ev.Description,
		&ev.Organizer,
		&attendees,
		&status,
		&response,
		&ev.ContentHash,
		&created,
		&updated,
		&lastSync,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning event row: %w", err)
	}

	ev.Start, _ = parseTime(start)
	ev.End, _ = parseTime(end)
	ev.AllDay = allDay != 0
	ev.Birthday = birthday != 0
	ev.Recurring = recurring != 0
	ev.Status = model.EventStatus(status)
	if response.Valid {
		ev.ResponseStatus = model.Response(model.ResponseStatus(response.Int64))
	}
	if attendees != "" {
		if err := json.Unmarshal([]byte(attendees), &ev.Attendees); err != nil {
			return nil, fmt.Errorf("decoding attendees of event %q: %w", ev.ProviderKey, err)
		}
	}
	ev.CreatedAt, _ = parseTime(created)
	ev.UpdatedAt, _ = parseTime(updated)
	ev.LastSync, _ = parseTime(lastSync)

	return &ev, nil
}

func encodeAttendees(a []string) (string, error) {
	if len(a) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("encoding attendees: %w", err)
	}
	return string(b), nil
}

func responseArg(r *model.ResponseStatus) any {
	if r == nil {
		return nil
	}
	return int(*r)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
