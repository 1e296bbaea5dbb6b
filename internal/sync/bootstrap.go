package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/njoerd114/familywall/internal/model"
	"github.com/njoerd114/familywall/internal/source"
)

// Confirmer asks the user a yes/no question. Implemented by
// [prompt.Prompter].
type Confirmer interface {
	Confirm(label string, defaultYes bool) bool
}

// Bootstrap performs the first-run registration of calendars. When the
// registry is empty it discovers the calendars of every configured source,
// prints a summary, and (with user confirmation) registers them.
type Bootstrap struct {
	disc    Discoverer
	sources []string
	log     *slog.Logger
	prompt  Confirmer
	writer  io.Writer

	// Selected restricts which discovered calendars start enabled, keyed by
	// source tag. Sources without an entry enable their default calendar,
	// or every calendar when none is flagged default.
	Selected map[string][]string

	// AssumeYes skips the confirmation prompt.
	AssumeYes bool
}

// NewBootstrap creates a Bootstrap over the given source tags. prompt and
// writer control the confirmation I/O.
func NewBootstrap(disc Discoverer, sources []string, logger *slog.Logger, prompt Confirmer, writer io.Writer) *Bootstrap {
	return &Bootstrap{
		disc:    disc,
		sources: sources,
		log:     logger,
		prompt:  prompt,
		writer:  writer,
	}
}

// Run checks whether any calendar is registered and, if none is, performs
// the first-run bootstrap. Returns true if calendars were registered.
func (b *Bootstrap) Run(ctx context.Context) (bool, error) {
	empty, err := b.disc.Empty(ctx)
	if err != nil {
		return false, fmt.Errorf("checking calendar registry: %w", err)
	}
	if !empty {
		b.log.Debug("calendars already registered, skipping bootstrap")
		return false, nil
	}

	b.log.Info("empty calendar registry detected, starting first-run bootstrap")

	var found []*model.CalendarConfiguration
	for _, tag := range b.sources {
		cals, err := b.disc.Discover(ctx, tag)
		if errors.Is(err, source.ErrAuthRequired) {
			b.log.Warn("source not authenticated, skipping discovery", "source", tag)
			continue
		}
		if err != nil {
			b.log.Error("discovery failed", "source", tag, "error", err)
			continue
		}
		b.selectEnabled(tag, cals)
		found = append(found, cals...)
	}
	if len(found) == 0 {
		b.log.Warn("no calendars discovered on any source")
		return false, nil
	}
	for i, cal := range found {
		cal.DisplayOrder = i + 1
	}

	b.printSummary(found)

	if !b.AssumeYes && !b.prompt.Confirm("Register these calendars?", true) {
		b.log.Info("bootstrap cancelled by user")
		return false, nil
	}

	for _, cal := range found {
		if err := b.disc.Add(ctx, cal); err != nil {
			return false, fmt.Errorf("registering %s: %w", cal.Key(), err)
		}
	}

	b.log.Info("bootstrap complete", "calendars", len(found))
	return true, nil
}

func (b *Bootstrap) selectEnabled(tag string, cals []*model.CalendarConfiguration) {
	if ids := b.Selected[tag]; len(ids) > 0 {
		for _, c := range cals {
			c.Enabled = slices.Contains(ids, c.CalendarID)
		}
		return
	}
	hasDefault := slices.ContainsFunc(cals, func(c *model.CalendarConfiguration) bool { return c.IsDefault })
	if !hasDefault {
		return
	}
	for _, c := range cals {
		c.Enabled = c.IsDefault
	}
}

// printSummary writes a human-readable list of the discovered calendars.
func (b *Bootstrap) printSummary(cals []*model.CalendarConfiguration) {
	enabled := 0
	_, _ = fmt.Fprintf(b.writer, "\n--- First-Run Calendar Discovery ---\n\n")

	current := ""
	for _, c := range cals {
		if c.Source != current {
			current = c.Source
			_, _ = fmt.Fprintf(b.writer, "%s:\n", current)
		}
		mark := " "
		if c.Enabled {
			mark = "✓"
			enabled++
		}
		_, _ = fmt.Fprintf(b.writer, "  [%s] %-30s %s", mark, c.Name, c.Color)
		if c.IsDefault {
			_, _ = fmt.Fprint(b.writer, "  (default)")
		}
		_, _ = fmt.Fprintln(b.writer)
	}

	_, _ = fmt.Fprintf(b.writer, "\nTotal: %d calendars, %d enabled\n", len(cals), enabled)
}
