package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/njoerd114/familywall/internal/model"
)

const calendarColumns = `
	id, source, calendar_id, name, description, owner, color, display_order,
	enabled, can_edit, is_default, sync_interval_minutes, sync_past_events,
	future_days_to_sync, last_sync, created_at, updated_at`

// InsertCalendar adds a calendar to the registry. The calendar's ID,
// CreatedAt and UpdatedAt fields are set on success. Returns
// [ErrDuplicateCalendar] if (source, calendar_id) is already registered.
func (s *Store) InsertCalendar(ctx context.Context, cal *model.CalendarConfiguration) error {
	const q = `
		INSERT INTO calendars
		    (source, calendar_id, name, description, owner, color, display_order,
		     enabled, can_edit, is_default, sync_interval_minutes, sync_past_events,
		     future_days_to_sync, last_sync, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := s.now().UTC()
	var lastSync string
	if cal.LastSync != nil {
		lastSync = formatTime(*cal.LastSync)
	}

	res, err := s.db.ExecContext(ctx, q,
		cal.Source,
		cal.CalendarID,
		cal.Name,
		cal.Description,
		cal.Owner,
		cal.Color,
		cal.DisplayOrder,
		boolInt(cal.Enabled),
		boolInt(cal.CanEdit),
		boolInt(cal.IsDefault),
		cal.SyncIntervalMinutes,
		boolInt(cal.SyncPastEvents),
		cal.FutureDaysToSync,
		lastSync,
		formatTime(now),
		formatTime(now),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateCalendar, cal.Key())
	}
	if err != nil {
		return persistence("inserting calendar %s: %w", cal.Key(), err)
	}
	id, err := res.LastInsertId()
	if err == nil && id > 0 {
		cal.ID = id
	}
	cal.CreatedAt = now
	cal.UpdatedAt = now
	return nil
}

// UpdateCalendar writes the mutable settings of a registered calendar. The
// identity columns (source, calendar_id) are never changed.
func (s *Store) UpdateCalendar(ctx context.Context, cal *model.CalendarConfiguration) error {
	const q = `
		UPDATE calendars SET
		    name                  = ?,
		    description           = ?,
		    owner                 = ?,
		    color                 = ?,
		    display_order         = ?,
		    enabled               = ?,
		    can_edit              = ?,
		    is_default            = ?,
		    sync_interval_minutes = ?,
		    sync_past_events      = ?,
		    future_days_to_sync   = ?,
		    updated_at            = ?
		WHERE id = ?`

	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, q,
		cal.Name,
		cal.Description,
		cal.Owner,
		cal.Color,
		cal.DisplayOrder,
		boolInt(cal.Enabled),
		boolInt(cal.CanEdit),
		boolInt(cal.IsDefault),
		cal.SyncIntervalMinutes,
		boolInt(cal.SyncPastEvents),
		cal.FutureDaysToSync,
		formatTime(now),
		cal.ID,
	)
	if err != nil {
		return persistence("updating calendar id=%d: %w", cal.ID, err)
	}
	if err := requireRow(res, "calendar", cal.ID); err != nil {
		return err
	}
	cal.UpdatedAt = now
	return nil
}

// DeleteCalendar removes a calendar and, through the cascading foreign key,
// every cached event that belongs to it.
func (s *Store) DeleteCalendar(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM calendars WHERE id = ?`, id)
	if err != nil {
		return persistence("deleting calendar id=%d: %w", id, err)
	}
	return requireRow(res, "calendar", id)
}

// GetCalendar returns the calendar with the given row ID,
// or (nil, nil) if no such calendar exists.
func (s *Store) GetCalendar(ctx context.Context, id int64) (*model.CalendarConfiguration, error) {
	q := `SELECT ` + calendarColumns + ` FROM calendars WHERE id = ?`
	return scanCalendar(s.db.QueryRowContext(ctx, q, id))
}

// GetCalendarByKey returns the calendar registered for (source, calendarID),
// or (nil, nil) if none is.
func (s *Store) GetCalendarByKey(ctx context.Context, source, calendarID string) (*model.CalendarConfiguration, error) {
	q := `SELECT ` + calendarColumns + ` FROM calendars WHERE source = ? AND calendar_id = ?`
	return scanCalendar(s.db.QueryRowContext(ctx, q, source, calendarID))
}

// ListCalendars returns registered calendars ordered by display order. When
// enabledOnly is set, disabled calendars are omitted.
func (s *Store) ListCalendars(ctx context.Context, enabledOnly bool) ([]*model.CalendarConfiguration, error) {
	q := `SELECT ` + calendarColumns + ` FROM calendars`
	if enabledOnly {
		q += ` WHERE enabled = 1`
	}
	q += ` ORDER BY display_order, id`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying calendars: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cals []*model.CalendarConfiguration
	for rows.Next() {
		cal, err := scanCalendar(rows)
		if err != nil {
			return nil, err
		}
		cals = append(cals, cal)
	}
	return cals, rows.Err()
}

// IsEmpty reports whether no calendar is registered.
// Used by the first-run bootstrap to detect a fresh install.
func (s *Store) IsEmpty(ctx context.Context) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM calendars`).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking if store is empty: %w", err)
	}
	return count == 0, nil
}

// SetCalendarsEnabled flips the enabled flag on every listed calendar in one
// transaction and returns how many rows changed.
func (s *Store) SetCalendarsEnabled(ctx context.Context, ids []int64, enabled bool) (int, error) {
	var changed int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `UPDATE calendars SET enabled = ?, updated_at = ? WHERE id = ? AND enabled != ?`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		now := formatTime(s.now())
		for _, id := range ids {
			res, err := stmt.ExecContext(ctx, boolInt(enabled), now, id, boolInt(enabled))
			if err != nil {
				return fmt.Errorf("calendar id=%d: %w", id, err)
			}
			n, _ := res.RowsAffected()
			changed += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, persistence("setting enabled=%t: %w", enabled, err)
	}
	return changed, nil
}

// ReorderCalendars assigns display_order by position in ids, starting at 0.
func (s *Store) ReorderCalendars(ctx context.Context, ids []int64) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `UPDATE calendars SET display_order = ?, updated_at = ? WHERE id = ?`)
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		now := formatTime(s.now())
		for i, id := range ids {
			res, err := stmt.ExecContext(ctx, i, now, id)
			if err != nil {
				return fmt.Errorf("calendar id=%d: %w", id, err)
			}
			if err := requireRow(res, "calendar", id); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return persistence("reordering calendars: %w", err)
	}
	return nil
}

// MarkCalendarSynced records a completed sync for the calendar.
func (s *Store) MarkCalendarSynced(ctx context.Context, source, calendarID string, at time.Time) error {
	const q = `UPDATE calendars SET last_sync = ? WHERE source = ? AND calendar_id = ?`
	res, err := s.db.ExecContext(ctx, q, formatTime(at), source, calendarID)
	if err != nil {
		return persistence("marking %s/%s synced: %w", source, calendarID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("calendar %s/%s: %w", source, calendarID, ErrNotFound)
	}
	return nil
}

func requireRow(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return persistence("reading affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s id=%d: %w", what, id, ErrNotFound)
	}
	return nil
}

func scanCalendar(s scanner) (*model.CalendarConfiguration, error) {
	var (
		cal                         model.CalendarConfiguration
		enabled, canEdit, isDefault int
		pastEvents                  int
		lastSync, created, updated  string
	)

	err := s.Scan(
		&cal.ID,
		&cal.Source,
		&cal.CalendarID,
		&cal.Name,
		&cal.Description,
		&cal.Owner,
		&cal.Color,
		&cal.DisplayOrder,
		&enabled,
		&canEdit,
		&isDefault,
		&cal.SyncIntervalMinutes,
		&pastEvents,
		&cal.FutureDaysToSync,
		&lastSync,
		&created,
		&updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning calendar row: %w", err)
	}

	cal.Enabled = enabled != 0
	cal.CanEdit = canEdit != 0
	cal.IsDefault = isDefault != 0
	cal.SyncPastEvents = pastEvents != 0
	if t, _ := parseTime(lastSync); !t.IsZero() {
		cal.LastSync = &t
	}
	cal.CreatedAt, _ = parseTime(created)
	cal.UpdatedAt, _ = parseTime(updated)

	return &cal, nil
}
