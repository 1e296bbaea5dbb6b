package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"github.com/njoerd114/familywall/internal/model"
	"github.com/njoerd114/familywall/internal/source"
)

// parsed is one VEVENT with the recurrence data needed for window checks.
type parsed struct {
	event   model.ProviderEvent
	exdates []time.Time
}

// parseFeed parses an ICS payload. VEVENTs without UID or DTSTART are
// skipped; the number skipped is returned alongside.
func parseFeed(body []byte) ([]parsed, int, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, 0, errors.New("empty ICS body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("parse calendar: %w", err)
	}

	var out []parsed
	skipped := 0
	for _, ve := range cal.Events() {
		p, err := parseVEvent(ve)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, p)
	}
	return out, skipped, nil
}

func parseVEvent(ve *ical.VEvent) (parsed, error) {
	var p parsed
	uid := propValue(ve, ical.ComponentPropertyUniqueId)
	if uid == "" {
		return p, errors.New("missing UID")
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return p, fmt.Errorf("DTSTART: %w", err)
	}
	end, err := ve.GetEndAt()
	if err != nil || end.Before(start) {
		end = start
	}

	ev := model.ProviderEvent{
		ID:          uid,
		Title:       source.TitleOrDefault(propValue(ve, ical.ComponentPropertySummary)),
		Description: propValue(ve, ical.ComponentPropertyDescription),
		Location:    propValue(ve, ical.ComponentPropertyLocation),
		AllDay:      isDateValue(ve.GetProperty(ical.ComponentPropertyDtStart)),
	}

	if ev.AllDay {
		// Floating dates parse in the local zone; pin them to the UTC date.
		ev.Start = source.DateUTC(start)
		ev.End = source.DateUTC(end)
		if !ev.End.After(ev.Start) {
			ev.End = ev.Start.AddDate(0, 0, 1)
		}
	} else {
		ev.Start = start.UTC()
		ev.End = end.UTC()
	}

	// Overridden instances share the master's UID.
	if rid := propValue(ve, "RECURRENCE-ID"); rid != "" {
		ev.ID = uid + "/" + rid
		ev.Recurring = true
	}

	var categories []string
	for _, c := range ve.GetProperties(ical.ComponentPropertyCategories) {
		categories = append(categories, strings.Split(c.Value, ",")...)
	}
	ev.Birthday = source.LooksLikeBirthday(ev.Title, categories)

	switch strings.ToUpper(propValue(ve, ical.ComponentPropertyStatus)) {
	case "TENTATIVE":
		ev.Status = model.StatusTentative
	case "CANCELLED":
		ev.Status = model.StatusCancelled
	}

	if org := ve.GetProperty(ical.ComponentPropertyOrganizer); org != nil {
		ev.Organizer = personLabel(org.ICalParameters, org.Value)
	}
	for _, a := range ve.Attendees() {
		if label := personLabel(a.ICalParameters, a.Email()); label != "" {
			ev.Attendees = append(ev.Attendees, label)
		}
	}

	if raw := propValue(ve, ical.ComponentPropertyRrule); raw != "" {
		if rule, ok := normaliseRule(raw); ok {
			ev.Recurring = true
			ev.RecurrenceRule = rule
		}
	}
	if ev.RecurrenceRule != "" {
		for _, ex := range ve.GetProperties(ical.ComponentPropertyExdate) {
			for _, part := range strings.Split(ex.Value, ",") {
				if t, err := parseICSTime(strings.TrimSpace(part), start.Location()); err == nil {
					p.exdates = append(p.exdates, t)
				}
			}
		}
	}

	if lm := propValue(ve, ical.ComponentPropertyLastModified); lm != "" {
		if t, err := parseICSTime(lm, time.UTC); err == nil {
			ev.LastModified = t.UTC()
		}
	}

	p.event = ev
	return p, nil
}

// normaliseRule strips an RRULE: prefix and validates the rule with
// rrule-go. Unparseable rules are dropped.
func normaliseRule(raw string) (string, bool) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "RRULE:")
	if _, err := rrule.StrToRRule(raw); err != nil {
		return "", false
	}
	return raw, true
}

// inWindow reports whether the event, or for a series any occurrence of it,
// overlaps [from, to].
func (p parsed) inWindow(from, to time.Time) bool {
	ev := p.event
	if ev.RecurrenceRule == "" {
		return source.Overlaps(ev.Start, ev.End, from, to)
	}
	if ev.Start.After(to) {
		return false
	}

	r, err := rrule.StrToRRule(ev.RecurrenceRule)
	if err != nil {
		return false
	}
	r.DTStart(ev.Start)
	var set rrule.Set
	set.RRule(r)
	for _, ex := range p.exdates {
		set.ExDate(ex.UTC())
	}

	// An occurrence that started up to one event length before from still
	// overlaps the window.
	dur := ev.End.Sub(ev.Start)
	next := set.After(from.Add(-dur), true)
	return !next.IsZero() && !next.After(to)
}

func propValue(ve *ical.VEvent, prop ical.ComponentProperty) string {
	p := ve.GetProperty(prop)
	if p == nil {
		return ""
	}
	return strings.TrimSpace(p.Value)
}

// isDateValue reports VALUE=DATE or a bare YYYYMMDD value.
func isDateValue(p *ical.IANAProperty) bool {
	if p == nil {
		return false
	}
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// personLabel prefers the CN parameter over the mailto address.
func personLabel(params map[string][]string, value string) string {
	if cn, ok := params["CN"]; ok && len(cn) > 0 && cn[0] != "" {
		return cn[0]
	}
	v := strings.TrimSpace(value)
	if len(v) >= 7 && strings.EqualFold(v[:7], "mailto:") {
		v = v[7:]
	}
	return v
}

func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}
