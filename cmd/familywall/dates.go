package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseDay accepts YYYY-MM-DD, today, tomorrow, yesterday or an English
// phrase such as "next friday", and returns local midnight of that day.
func parseDay(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if t, err := time.ParseInLocation(time.DateOnly, text, now.Location()); err == nil {
		return t, nil
	}

	switch strings.ToLower(text) {
	case "today":
		return midnight(now), nil
	case "tomorrow":
		return midnight(now).AddDate(0, 0, 1), nil
	case "yesterday":
		return midnight(now).AddDate(0, 0, -1), nil
	}

	r, err := dateParser.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognised date %q (use YYYY-MM-DD or e.g. \"next friday\")", text)
	}
	return midnight(r.Time.In(now.Location())), nil
}

// dayRange turns from/to day strings into [from midnight, end of to day].
// An empty to means a single day; an empty from means today.
func dayRange(from, to string, now time.Time) (time.Time, time.Time, error) {
	start := midnight(now)
	if from != "" {
		var err error
		if start, err = parseDay(from, now); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	endDay := start
	if to != "" {
		var err error
		if endDay, err = parseDay(to, now); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	end := endDay.AddDate(0, 0, 1).Add(-time.Nanosecond)
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to %s is before --from %s", to, from)
	}
	return start, end, nil
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
