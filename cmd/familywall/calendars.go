package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/njoerd114/familywall/internal/model"
	"github.com/njoerd114/familywall/internal/prompt"
	"github.com/njoerd114/familywall/internal/source"
)

var calendarsCmd = &cobra.Command{
	Use:     "calendars",
	Aliases: []string{"cal", "cals"},
	Short:   "Manage the calendar registry",
}

var calendarsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered calendars in display order",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		cals, err := a.registry.All(cmd.Context())
		if err != nil {
			return err
		}
		printCalendars(cmd.OutOrStdout(), cals)
		return nil
	}),
}

var calendarsDiscoverCmd = &cobra.Command{
	Use:   "discover [source...]",
	Short: "Ask sources for calendars and register the ones you pick",
	Long: `Lists the calendars each source reports that are not yet registered and
asks which to add. Without arguments every configured source is asked.`,
	RunE: withApp(runCalendarsDiscover),
}

var calendarsAddCmd = &cobra.Command{
	Use:   "add <source> <calendar-id>",
	Short: "Register a calendar by its provider ID",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		color, _ := cmd.Flags().GetString("color")
		disabled, _ := cmd.Flags().GetBool("disabled")
		if name == "" {
			name = args[1]
		}
		cal := &model.CalendarConfiguration{
			Source:     args[0],
			CalendarID: args[1],
			Name:       name,
			Color:      color,
			Enabled:    !disabled,
		}
		if err := a.registry.Add(cmd.Context(), cal); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Added %q as calendar %d\n", cal.Name, cal.ID)
		return nil
	}),
}

var calendarsEnableCmd = &cobra.Command{
	Use:   "enable <id>...",
	Short: "Show calendars and include them in sync",
	Args:  cobra.MinimumNArgs(1),
	RunE:  withApp(setEnabled(true)),
}

var calendarsDisableCmd = &cobra.Command{
	Use:   "disable <id>...",
	Short: "Hide calendars and stop syncing them",
	Args:  cobra.MinimumNArgs(1),
	RunE:  withApp(setEnabled(false)),
}

var calendarsColorCmd = &cobra.Command{
	Use:   "color <id> <#RRGGBB>",
	Short: "Change a calendar's colour",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return a.registry.SetColor(cmd.Context(), id, args[1])
	}),
}

var calendarsReorderCmd = &cobra.Command{
	Use:   "reorder <id>...",
	Short: "Set display order; the first ID is shown first",
	Args:  cobra.MinimumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		if err := a.registry.Reorder(cmd.Context(), ids); err != nil {
			return err
		}
		cals, err := a.registry.All(cmd.Context())
		if err != nil {
			return err
		}
		printCalendars(cmd.OutOrStdout(), cals)
		return nil
	}),
}

var calendarsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a calendar and its cached events",
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
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes && !prompt.New(os.Stdin, cmd.OutOrStdout()).Confirm(fmt.Sprintf("Delete %q and all its cached events?", cal.Name), false) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
			return nil
		}
		return a.registry.Delete(cmd.Context(), id)
	}),
}

func init() {
	calendarsDiscoverCmd.Flags().Bool("yes", false, "add the suggested calendars without asking")
	calendarsAddCmd.Flags().String("name", "", "display name (default is the calendar ID)")
	calendarsAddCmd.Flags().String("color", "", "colour as #RRGGBB (default "+model.DefaultColor+")")
	calendarsAddCmd.Flags().Bool("disabled", false, "register the calendar hidden")
	calendarsDeleteCmd.Flags().Bool("yes", false, "delete without asking")

	calendarsCmd.AddCommand(
		calendarsListCmd,
		calendarsDiscoverCmd,
		calendarsAddCmd,
		calendarsEnableCmd,
		calendarsDisableCmd,
		calendarsColorCmd,
		calendarsReorderCmd,
		calendarsDeleteCmd,
	)
	rootCmd.AddCommand(calendarsCmd)
}

// withApp opens the app for a command and closes it afterwards.
func withApp(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a, args)
	}
}

func setEnabled(enabled bool) func(*cobra.Command, *app, []string) error {
	return func(cmd *cobra.Command, a *app, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		if len(ids) == 1 {
			return a.registry.SetEnabled(cmd.Context(), ids[0], enabled)
		}
		n, err := a.registry.SetEnabledMany(cmd.Context(), ids, enabled)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d calendar(s) changed\n", n)
		return nil
	}
}

func runCalendarsDiscover(cmd *cobra.Command, a *app, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	yes, _ := cmd.Flags().GetBool("yes")

	tags := args
	if len(tags) == 0 {
		tags = a.sources.Tags()
	}

	existing, err := a.registry.All(ctx)
	if err != nil {
		return err
	}
	order := len(existing)
	p := prompt.New(os.Stdin, out)

	var added int
	for _, tag := range tags {
		found, err := a.registry.Discover(ctx, tag)
		if err != nil {
			a.log.Warn("discovery failed", "source", tag, "error", err)
			_, _ = fmt.Fprintf(out, "%s: %v\n", tag, err)
			continue
		}

		var fresh []*model.CalendarConfiguration
		for _, cal := range found {
			known, err := a.registry.GetByCalendarID(ctx, cal.Source, cal.CalendarID)
			if err != nil {
				return err
			}
			if known == nil {
				fresh = append(fresh, cal)
			}
		}
		if len(fresh) == 0 {
			_, _ = fmt.Fprintf(out, "%s: no new calendars\n", tag)
			continue
		}

		var selected []string
		if tag == source.TagGraph && a.cfg.Graph != nil {
			selected = a.cfg.Graph.CalendarIDs
		}
		picked := suggested(fresh, selected)
		if !yes {
			labels := make([]string, len(fresh))
			for i, c := range fresh {
				labels[i] = c.Name
			}
			picked, err = p.Pick(tag+" calendars to add", labels, picked)
			if err != nil {
				return err
			}
		}

		for _, i := range picked {
			cal := fresh[i]
			order++
			cal.DisplayOrder = order
			if err := a.registry.Add(ctx, cal); err != nil {
				return fmt.Errorf("adding %s: %w", cal.Name, err)
			}
			added++
		}
	}
	_, _ = fmt.Fprintf(out, "Added %d calendar(s)\n", added)
	return nil
}

// suggested returns the indices to preselect: the calendars named in
// selected when given, else default calendars, else everything.
func suggested(cals []*model.CalendarConfiguration, selected []string) []int {
	want := make(map[string]bool, len(selected))
	for _, id := range selected {
		want[id] = true
	}

	var picked, defaults, all []int
	for i, c := range cals {
		if want[c.CalendarID] {
			picked = append(picked, i)
		}
		if c.IsDefault {
			defaults = append(defaults, i)
		}
		all = append(all, i)
	}
	switch {
	case len(selected) > 0:
		return picked
	case len(defaults) > 0:
		return defaults
	default:
		return all
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid calendar id %q", s)
	}
	return id, nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, s := range args {
		id, err := parseID(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
