package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/njoerd114/familywall/internal/model"
	syncp "github.com/njoerd114/familywall/internal/sync"
)

const titleWidth = 48

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle  = lipgloss.NewStyle().Faint(true)
)

// swatch renders a coloured square for a #RRGGBB calendar colour.
func swatch(color string) string {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render("■")
}

func printCalendars(w io.Writer, cals []*model.CalendarConfiguration) {
	if len(cals) == 0 {
		_, _ = fmt.Fprintln(w, "No calendars registered. Run 'familywall calendars discover'.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tORDER\tSOURCE\tNAME\tENABLED\tINTERVAL\tLAST SYNC\tCOLOR")
	for _, c := range cals {
		last := "never"
		if c.LastSync != nil {
			last = c.LastSync.Local().Format("2006-01-02 15:04")
		}
		enabled := "no"
		if c.Enabled {
			enabled = "yes"
		}
		// The swatch carries escape codes, so it stays in the last column.
		_, _ = fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%dm\t%s\t%s %s\n",
			c.ID, c.DisplayOrder, c.Source, c.Name, enabled, c.SyncIntervalMinutes, last, c.Color, swatch(c.Color))
	}
	_ = tw.Flush()
}

// printEvents lists events grouped under a heading per local day. names
// maps calendar keys to display names; missing keys print the calendar ID.
func printEvents(w io.Writer, events []*model.CachedEvent, names map[model.CalendarKey]string) {
	if len(events) == 0 {
		_, _ = fmt.Fprintln(w, "No events.")
		return
	}
	var day string
	for _, e := range events {
		if d := e.Start.Local().Format("Monday 02 January 2006"); d != day {
			if day != "" {
				_, _ = fmt.Fprintln(w)
			}
			day = d
			_, _ = fmt.Fprintln(w, headerStyle.Render(day))
		}

		cal := names[model.CalendarKey{Source: e.Source, CalendarID: e.CalendarID}]
		if cal == "" {
			cal = e.CalendarID
		}
		_, _ = fmt.Fprintf(w, "  %-13s  %s  %s%s\n",
			eventTime(e), ansi.Truncate(e.Title, titleWidth, "…"), mutedStyle.Render("["+cal+"]"), eventFlags(e))
	}
}

func printEventDetail(w io.Writer, e *model.CachedEvent, calName string) {
	_, _ = fmt.Fprintln(w, headerStyle.Render(e.Title))
	_, _ = fmt.Fprintf(w, "  ID:        %d\n", e.ID)
	_, _ = fmt.Fprintf(w, "  Calendar:  %s (%s)\n", calName, e.Source)
	_, _ = fmt.Fprintf(w, "  When:      %s %s\n", e.Start.Local().Format("Mon 02 Jan 2006"), eventTime(e))
	if e.Location != "" {
		_, _ = fmt.Fprintf(w, "  Location:  %s\n", e.Location)
	}
	if e.Organizer != "" {
		_, _ = fmt.Fprintf(w, "  Organizer: %s\n", e.Organizer)
	}
	if len(e.Attendees) > 0 {
		_, _ = fmt.Fprintf(w, "  Attendees: %s\n", strings.Join(e.Attendees, ", "))
	}
	_, _ = fmt.Fprintf(w, "  Status:    %s\n", e.Status)
	if e.ResponseStatus != nil {
		_, _ = fmt.Fprintf(w, "  Response:  %s\n", e.ResponseStatus)
	}
	if e.Recurring {
		_, _ = fmt.Fprintf(w, "  Repeats:   %s\n", e.RecurrenceRule)
	}
	if e.Description != "" {
		_, _ = fmt.Fprintf(w, "\n%s\n", e.Description)
	}
}

func eventTime(e *model.CachedEvent) string {
	if e.AllDay {
		return "all day"
	}
	return e.Start.Local().Format("15:04") + "-" + e.End.Local().Format("15:04")
}

func eventFlags(e *model.CachedEvent) string {
	var flags []string
	if e.Status != model.StatusConfirmed {
		flags = append(flags, e.Status.String())
	}
	if e.Birthday {
		flags = append(flags, "birthday")
	}
	if e.Recurring {
		flags = append(flags, "recurring")
	}
	if len(flags) == 0 {
		return ""
	}
	return " " + mutedStyle.Render("("+strings.Join(flags, ", ")+")")
}

// printRunSummary writes the outcome of the last sync run per calendar.
func printRunSummary(w io.Writer, st syncp.Status) {
	_, _ = fmt.Fprintln(w, headerStyle.Render("Sync summary"))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, c := range st.Calendars {
		detail := fmt.Sprintf("+%d ~%d -%d", c.Stats.Inserted, c.Stats.Updated, c.Stats.Deleted)
		if c.LastError != "" {
			detail = c.LastError
		}
		_, _ = fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", c.Key.Source, c.Name, c.Outcome, detail)
	}
	_ = tw.Flush()
	t := st.Totals
	_, _ = fmt.Fprintf(w, "Total: %d inserted, %d updated, %d unchanged, %d deleted, %d skipped in %s\n",
		t.Inserted, t.Updated, t.Unchanged, t.Deleted, t.Skipped, st.LastDuration.Round(time.Millisecond))
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
