package diagnostics

import (
	"time"

	"github.com/njoerd114/familywall/internal/model"
	"github.com/njoerd114/familywall/internal/sync"
)

type errorView struct {
	Error string `json:"error"`
}

type statsView struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Deleted   int `json:"deleted"`
	Skipped   int `json:"skipped"`
}

func newStatsView(s sync.Stats) statsView {
	return statsView{
		Inserted:  s.Inserted,
		Updated:   s.Updated,
		Unchanged: s.Unchanged,
		Deleted:   s.Deleted,
		Skipped:   s.Skipped,
	}
}

type calendarView struct {
	Source     string     `json:"source"`
	CalendarID string     `json:"calendar_id"`
	Name       string     `json:"name"`
	Outcome    string     `json:"outcome"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	Stats      statsView  `json:"stats"`
}

type statusView struct {
	Running         bool           `json:"running"`
	Runs            int64          `json:"runs"`
	LastRunID       string         `json:"last_run_id,omitempty"`
	LastTrigger     string         `json:"last_trigger,omitempty"`
	LastSyncTime    *time.Time     `json:"last_sync_time,omitempty"`
	LastDurationSec float64        `json:"last_duration_seconds"`
	LastError       string         `json:"last_error,omitempty"`
	Totals          statsView      `json:"totals"`
	Calendars       []calendarView `json:"calendars"`
}

func newStatusView(s sync.Status) statusView {
	v := statusView{
		Running:         s.Running,
		Runs:            s.Runs,
		LastRunID:       s.LastRunID,
		LastTrigger:     s.LastTrigger,
		LastSyncTime:    timePtr(s.LastSyncTime),
		LastDurationSec: s.LastDuration.Seconds(),
		LastError:       s.LastError,
		Totals:          newStatsView(s.Totals),
		Calendars:       make([]calendarView, 0, len(s.Calendars)),
	}
	for _, c := range s.Calendars {
		v.Calendars = append(v.Calendars, calendarView{
			Source:     c.Key.Source,
			CalendarID: c.Key.CalendarID,
			Name:       c.Name,
			Outcome:    c.Outcome,
			LastRun:    timePtr(c.LastRun),
			LastError:  c.LastError,
			Stats:      newStatsView(c.Stats),
		})
	}
	return v
}

type eventView struct {
	ID         int64     `json:"id"`
	Source     string    `json:"source"`
	CalendarID string    `json:"calendar_id"`
	Title      string    `json:"title"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	AllDay     bool      `json:"all_day"`
	Location   string    `json:"location,omitempty"`
	Status     string    `json:"status"`
	Response   string    `json:"response,omitempty"`
	Recurring  bool      `json:"recurring,omitempty"`
	Birthday   bool      `json:"birthday,omitempty"`
}

func newEventView(e *model.CachedEvent) eventView {
	v := eventView{
		ID:         e.ID,
		Source:     e.Source,
		CalendarID: e.CalendarID,
		Title:      e.Title,
		Start:      e.Start,
		End:        e.End,
		AllDay:     e.AllDay,
		Location:   e.Location,
		Status:     e.Status.String(),
		Recurring:  e.Recurring,
		Birthday:   e.Birthday,
	}
	if e.ResponseStatus != nil {
		v.Response = e.ResponseStatus.String()
	}
	return v
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
