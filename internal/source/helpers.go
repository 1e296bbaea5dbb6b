package source

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// DefaultTitle replaces empty event titles.
const DefaultTitle = "(No subject)"

// TitleOrDefault returns title, or [DefaultTitle] when it is blank.
func TitleOrDefault(title string) string {
	if strings.TrimSpace(title) == "" {
		return DefaultTitle
	}
	return title
}

// LooksLikeBirthday reports whether an event is a birthday: either one of its
// categories is "Birthday" or its title mentions a birthday. Titles are
// compared after Unicode case folding.
func LooksLikeBirthday(title string, categories []string) bool {
	for _, c := range categories {
		if strings.EqualFold(strings.TrimSpace(c), "birthday") {
			return true
		}
	}
	// A Caser holds state; build one per call.
	return strings.Contains(cases.Fold().String(title), "birthday")
}

// Overlaps reports whether [start, end] intersects [from, to]. A zero or
// inverted end is treated as a point event at start.
func Overlaps(start, end, from, to time.Time) bool {
	if end.IsZero() || end.Before(start) {
		end = start
	}
	return !start.After(to) && !end.Before(from)
}

// DateUTC returns midnight UTC of the calendar date of t as seen in t's
// own location. All-day events are normalised this way.
func DateUTC(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
