// Package ics reads subscribed iCalendar feeds (https:// or webcal:// URLs).
//
// Each configured feed is one calendar. Downloads use conditional requests and
// a small disk cache so a flaky feed server does not empty the calendar.
package ics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/njoerd114/familywall/internal/model"
	"github.com/njoerd114/familywall/internal/source"
)

// DefaultTimeout bounds a single feed download.
const DefaultTimeout = 15 * time.Second

// Feed is one subscribed calendar.
type Feed struct {
	ID   string
	Name string
	URL  string
}

// Config lists the feeds and where to cache their bodies. An empty CacheDir
// disables the disk cache.
type Config struct {
	Feeds    []Feed
	CacheDir string
}

// Client implements [source.Client] for ICS feeds.
type Client struct {
	feeds   map[string]Feed
	order   []string
	fetcher *fetcher
	log     *slog.Logger
}

// New creates a Client. httpClient may be nil.
func New(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	c := &Client{
		feeds:   make(map[string]Feed, len(cfg.Feeds)),
		fetcher: newFetcher(httpClient, cfg.CacheDir, logger),
		log:     logger,
	}
	for _, f := range cfg.Feeds {
		if _, dup := c.feeds[f.ID]; dup {
			continue
		}
		c.feeds[f.ID] = f
		c.order = append(c.order, f.ID)
	}
	return c
}

// IsAuthenticated is always true; feed URLs carry their own access token.
func (c *Client) IsAuthenticated(_ context.Context) bool { return true }

// ListCalendars returns the configured feeds in configuration order.
func (c *Client) ListCalendars(_ context.Context) ([]model.ProviderCalendar, error) {
	cals := make([]model.ProviderCalendar, 0, len(c.order))
	for _, id := range c.order {
		f := c.feeds[id]
		name := f.Name
		if name == "" {
			name = f.ID
		}
		cals = append(cals, model.ProviderCalendar{ID: f.ID, Name: name})
	}
	return cals, nil
}

// FetchEvents downloads the feed and returns the events overlapping
// [start, end]. A recurring series is returned once, as its master, when any
// occurrence falls in the window. When the feed is unreachable and a cached
// body exists, its events are returned together with an error matching
// [source.ErrStale].
func (c *Client) FetchEvents(ctx context.Context, calendarID string, start, end time.Time) ([]model.ProviderEvent, error) {
	feed, ok := c.feeds[calendarID]
	if !ok {
		return nil, fmt.Errorf("unknown ics feed %q", calendarID)
	}

	res, err := c.fetcher.fetch(ctx, feed.URL)
	if err != nil {
		return nil, err
	}
	items, skipped, err := parseFeed(res.Body)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", feed.ID, err)
	}
	c.fetcher.commit(res)
	if skipped > 0 {
		c.log.Warn("skipped ics events without UID or start", "feed", feed.ID, "count", skipped)
	}

	events := make([]model.ProviderEvent, 0, len(items))
	for _, p := range items {
		if p.inWindow(start, end) {
			events = append(events, p.event)
		}
	}
	c.log.Debug("parsed ics feed",
		"feed", feed.ID,
		"from_cache", res.FromCache,
		"total", len(items),
		"in_window", len(events),
	)
	if res.Stale {
		return events, fmt.Errorf("feed %s: %w: %v", feed.ID, source.ErrStale, res.Cause)
	}
	return events, nil
}
