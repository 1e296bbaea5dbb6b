// Package google reads Google Calendar calendars through the Calendar v3 API.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/njoerd114/familywall/internal/model"
	"github.com/njoerd114/familywall/internal/source"
)

// Config points at the OAuth client credentials downloaded from the Google
// Cloud console and the token file written by the login flow.
type Config struct {
	CredentialsFile string
	TokenFile       string
}

// Client implements [source.Client] for Google Calendar.
type Client struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	service *calendar.Service
}

// New creates a Client. No I/O happens until the first call.
func New(cfg Config, logger *slog.Logger) *Client {
	return &Client{cfg: cfg, log: logger}
}

// NewWithService creates a Client around an existing service, e.g. one
// pointed at a test server.
func NewWithService(svc *calendar.Service, logger *slog.Logger) *Client {
	return &Client{service: svc, log: logger}
}

// IsAuthenticated reports whether both the credentials and a token are
// readable.
func (c *Client) IsAuthenticated(_ context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.service != nil {
		return true
	}
	if _, err := os.Stat(c.cfg.CredentialsFile); err != nil {
		return false
	}
	_, err := source.ReadToken(c.cfg.TokenFile)
	return err == nil
}

// OAuthConfig reads the OAuth2 client from the credentials file.
func (c *Client) OAuthConfig() (*oauth2.Config, error) {
	b, err := os.ReadFile(c.cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	config, err := google.ConfigFromJSON(b, calendar.CalendarReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return config, nil
}

func (c *Client) calendarService(ctx context.Context) (*calendar.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.service != nil {
		return c.service, nil
	}

	b, err := os.ReadFile(c.cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %v: %w", err, source.ErrAuthRequired)
	}
	config, err := google.ConfigFromJSON(b, calendar.CalendarReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	tok, err := source.ReadToken(c.cfg.TokenFile)
	if err != nil {
		return nil, err
	}

	ts := &persistingTokenSource{
		base: config.TokenSource(context.Background(), tok),
		path: c.cfg.TokenFile,
		last: tok.AccessToken,
		log:  c.log,
	}
	hc := oauth2.NewClient(context.Background(), ts)
	svc, err := calendar.NewService(ctx, option.WithHTTPClient(hc))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	c.service = svc
	return svc, nil
}

// persistingTokenSource writes refreshed tokens back to the token file.
type persistingTokenSource struct {
	base oauth2.TokenSource
	path string
	log  *slog.Logger

	mu   sync.Mutex
	last string
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, fmt.Errorf("refreshing google token: %v: %w", re, source.ErrAuthRequired)
		}
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		p.last = tok.AccessToken
		if err := source.WriteToken(p.path, tok); err != nil {
			p.log.Warn("persisting refreshed google token", "error", err)
		}
	}
	return tok, nil
}

// ListCalendars returns every calendar in the user's calendar list.
func (c *Client) ListCalendars(ctx context.Context) ([]model.ProviderCalendar, error) {
	svc, err := c.calendarService(ctx)
	if err != nil {
		return nil, err
	}

	var cals []model.ProviderCalendar
	pageToken := ""
	for {
		req := svc.CalendarList.List().Context(ctx)
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}
		list, err := req.Do()
		if err != nil {
			return nil, fmt.Errorf("list google calendars: %w", classify(err))
		}
		for _, item := range list.Items {
			cals = append(cals, toProviderCalendar(item))
		}
		pageToken = list.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return cals, nil
}

// FetchEvents lists the events of calendarID overlapping [start, end].
// Recurring series come back as their master record with the RRULE.
func (c *Client) FetchEvents(ctx context.Context, calendarID string, start, end time.Time) ([]model.ProviderEvent, error) {
	svc, err := c.calendarService(ctx)
	if err != nil {
		return nil, err
	}

	tMin := start.UTC().Format(time.RFC3339)
	tMax := end.UTC().Format(time.RFC3339)

	var events []model.ProviderEvent
	pageToken := ""
	for {
		req := svc.Events.List(calendarID).
			ShowDeleted(false).
			SingleEvents(false).
			TimeMin(tMin).
			TimeMax(tMax).
			MaxResults(250).
			Context(ctx)
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		result, err := req.Do()
		if err != nil {
			return nil, fmt.Errorf("list events for calendar %s: %w", calendarID, classify(err))
		}
		for _, item := range result.Items {
			ev, ok := toProviderEvent(item)
			if !ok {
				c.log.Debug("skipping google event without id or start", "calendar_id", calendarID)
				continue
			}
			events = append(events, ev)
		}

		pageToken = result.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return events, nil
}

// classify maps 401 responses to [source.ErrAuthRequired].
func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized {
		return fmt.Errorf("%v: %w", err, source.ErrAuthRequired)
	}
	return err
}

func toProviderCalendar(item *calendar.CalendarListEntry) model.ProviderCalendar {
	pc := model.ProviderCalendar{
		ID:        item.Id,
		Name:      item.Summary,
		CanEdit:   item.AccessRole == "owner" || item.AccessRole == "writer",
		IsDefault: item.Primary,
	}
	if item.SummaryOverride != "" {
		pc.Name = item.SummaryOverride
	}
	if item.AccessRole == "owner" {
		pc.Owner = item.Id
	}
	return pc
}

// toProviderEvent converts a Calendar v3 event. ok is false for events
// without an id or start.
func toProviderEvent(item *calendar.Event) (model.ProviderEvent, bool) {
	if item.Id == "" || item.Start == nil {
		return model.ProviderEvent{}, false
	}

	ev := model.ProviderEvent{
		ID:          item.Id,
		Title:       source.TitleOrDefault(item.Summary),
		Location:    item.Location,
		Description: item.Description,
	}

	if item.Start.DateTime != "" {
		ev.Start = parseTime(item.Start.DateTime)
		if item.End != nil {
			ev.End = parseTime(item.End.DateTime)
		}
	} else {
		// All day event (YYYY-MM-DD); the end date is exclusive.
		ev.AllDay = true
		ev.Start = parseDate(item.Start.Date)
		if item.End != nil {
			ev.End = parseDate(item.End.Date)
		}
	}
	if ev.Start.IsZero() {
		return model.ProviderEvent{}, false
	}
	if ev.End.IsZero() {
		ev.End = ev.Start
	}

	ev.Birthday = item.EventType == "birthday" || source.LooksLikeBirthday(item.Summary, nil)

	switch item.Status {
	case "tentative":
		ev.Status = model.StatusTentative
	case "cancelled":
		ev.Status = model.StatusCancelled
	}

	if item.Organizer != nil {
		ev.Organizer = item.Organizer.DisplayName
		if ev.Organizer == "" {
			ev.Organizer = item.Organizer.Email
		}
	}
	for _, a := range item.Attendees {
		label := a.DisplayName
		if label == "" {
			label = a.Email
		}
		if label != "" {
			ev.Attendees = append(ev.Attendees, label)
		}
		if a.Self {
			ev.ResponseStatus = parseResponse(a.ResponseStatus)
		}
	}

	for _, line := range item.Recurrence {
		if rule, ok := strings.CutPrefix(line, "RRULE:"); ok {
			ev.Recurring = true
			ev.RecurrenceRule = rule
			break
		}
	}
	if item.RecurringEventId != "" {
		ev.Recurring = true
	}

	if item.Updated != "" {
		ev.LastModified = parseTime(item.Updated)
	}
	return ev, true
}

// parseResponse returns nil for needsAction so an unanswered invite never
// overwrites a locally recorded response.
func parseResponse(s string) *model.ResponseStatus {
	switch s {
	case "accepted":
		return model.Response(model.ResponseAccepted)
	case "declined":
		return model.Response(model.ResponseDeclined)
	case "tentative":
		return model.Response(model.ResponseTentative)
	default:
		return nil
	}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func parseDate(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}
	}
	return t
}
