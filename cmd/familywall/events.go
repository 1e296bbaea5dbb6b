package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/njoerd114/familywall/internal/model"
)

var eventsCmd = &cobra.Command{
	Use:     "events",
	Aliases: []string{"ev"},
	Short:   "Query the local event cache",
	Long: `Reads events from the local cache. Only enabled calendars are shown,
except by 'events calendar'. Dates accept YYYY-MM-DD, today, tomorrow or
phrases such as "next friday".`,
}

var eventsUpcomingCmd = &cobra.Command{
	Use:   "upcoming",
	Short: "Show the next events from now",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		n, _ := cmd.Flags().GetInt("limit")
		events, err := a.query.Upcoming(cmd.Context(), n)
		return a.printEvents(cmd, events, err)
	}),
}

var eventsDateCmd = &cobra.Command{
	Use:   "date [day]",
	Short: "Show events starting on one day (default today)",
	Args:  cobra.MaximumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		day := midnight(time.Now())
		if len(args) == 1 {
			var err error
			if day, err = parseDay(args[0], time.Now()); err != nil {
				return err
			}
		}
		events, err := a.query.OnDate(cmd.Context(), day)
		return a.printEvents(cmd, events, err)
	}),
}

var eventsRangeCmd = &cobra.Command{
	Use:   "range",
	Short: "Show events starting between --from and --to (inclusive days)",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		from, to, err := rangeFlags(cmd)
		if err != nil {
			return err
		}
		events, err := a.query.Range(cmd.Context(), from, to)
		return a.printEvents(cmd, events, err)
	}),
}

var eventsCalendarCmd = &cobra.Command{
	Use:   "calendar <calendar-id>",
	Short: "Show one calendar's events between --from and --to, even if hidden",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		cal, err := a.registry.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		if cal == nil {
			return fmt.Errorf("calendar %d not found", id)
		}
		from, to, err := rangeFlags(cmd)
		if err != nil {
			return err
		}
		events, err := a.query.ForCalendar(cmd.Context(), cal.Key(), from, to)
		return a.printEvents(cmd, events, err)
	}),
}

var eventsSearchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Find events whose title, description or location contains text",
	Args:  cobra.MinimumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		events, err := a.query.Search(cmd.Context(), strings.Join(args, " "))
		return a.printEvents(cmd, events, err)
	}),
}

var eventsStatusCmd = &cobra.Command{
	Use:   "status <confirmed|tentative|cancelled>",
	Short: "Show events with the given provider status",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		status, err := model.ParseEventStatus(args[0])
		if err != nil {
			return err
		}
		events, err := a.query.ByStatus(cmd.Context(), status)
		return a.printEvents(cmd, events, err)
	}),
}

var eventsRecurringCmd = &cobra.Command{
	Use:   "recurring",
	Short: "Show recurring series",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		events, err := a.query.Recurring(cmd.Context())
		return a.printEvents(cmd, events, err)
	}),
}

var eventsBirthdaysCmd = &cobra.Command{
	Use:   "birthdays",
	Short: "Show birthdays in the coming days",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		days, _ := cmd.Flags().GetInt("days")
		if days < 1 {
			return fmt.Errorf("--days must be at least 1")
		}
		from := midnight(time.Now())
		to := from.AddDate(0, 0, days).Add(-time.Nanosecond)
		events, err := a.query.Birthdays(cmd.Context(), from, to)
		return a.printEvents(cmd, events, err)
	}),
}

var eventsCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Count events between --from and --to, per calendar",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		from, to, err := rangeFlags(cmd)
		if err != nil {
			return err
		}
		total, err := a.query.Count(cmd.Context(), from, to)
		if err != nil {
			return err
		}
		by, err := a.query.CountByCalendar(cmd.Context(), from, to)
		if err != nil {
			return err
		}
		printCounts(cmd.OutOrStdout(), total, by)
		return nil
	}),
}

var eventsShowCmd = &cobra.Command{
	Use:   "show <event-id>",
	Short: "Show every cached field of one event",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		e, err := a.query.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		if e == nil {
			return fmt.Errorf("event %d not found", id)
		}
		names, err := a.calendarNames(cmd.Context())
		if err != nil {
			return err
		}
		printEventDetail(cmd.OutOrStdout(), e, names[model.CalendarKey{Source: e.Source, CalendarID: e.CalendarID}])
		return nil
	}),
}

var eventsRespondCmd = &cobra.Command{
	Use:   "respond <event-id> <accepted|declined|tentative|not_responded>",
	Short: "Record your response to an event locally",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		status, err := model.ParseResponseStatus(args[1])
		if err != nil {
			return err
		}
		return a.query.SetResponseStatus(cmd.Context(), id, status)
	}),
}

func init() {
	eventsUpcomingCmd.Flags().IntP("limit", "n", 10, "number of events")
	eventsBirthdaysCmd.Flags().Int("days", 30, "how many days ahead to look")
	for _, c := range []*cobra.Command{eventsRangeCmd, eventsCalendarCmd, eventsCountCmd} {
		c.Flags().String("from", "today", "first day")
		c.Flags().String("to", "", "last day (default: 7 days after --from)")
	}

	eventsCmd.AddCommand(
		eventsUpcomingCmd,
		eventsDateCmd,
		eventsRangeCmd,
		eventsCalendarCmd,
		eventsSearchCmd,
		eventsStatusCmd,
		eventsRecurringCmd,
		eventsBirthdaysCmd,
		eventsCountCmd,
		eventsShowCmd,
		eventsRespondCmd,
	)
	rootCmd.AddCommand(eventsCmd)
}

func rangeFlags(cmd *cobra.Command) (time.Time, time.Time, error) {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	now := time.Now()
	if to == "" {
		start, err := parseDay(from, now)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = start.AddDate(0, 0, 6).Format(time.DateOnly)
	}
	return dayRange(from, to, now)
}

func (a *app) calendarNames(ctx context.Context) (map[model.CalendarKey]string, error) {
	cals, err := a.registry.All(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[model.CalendarKey]string, len(cals))
	for _, c := range cals {
		names[c.Key()] = c.Name
	}
	return names, nil
}

func (a *app) printEvents(cmd *cobra.Command, events []*model.CachedEvent, err error) error {
	if err != nil {
		return err
	}
	names, err := a.calendarNames(cmd.Context())
	if err != nil {
		return err
	}
	printEvents(cmd.OutOrStdout(), events, names)
	return nil
}

func printCounts(w io.Writer, total int, by map[string]int) {
	names := make([]string, 0, len(by))
	for name := range by {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		_, _ = fmt.Fprintf(w, "  %-24s %d\n", name, by[name])
	}
	_, _ = fmt.Fprintf(w, "Total: %d events\n", total)
}
