// Package homeassistant reads Home Assistant calendar entities
// (calendar.*) through the REST API. Events come from the calendar.get_events
// service; discovery lists the calendar entities from /api/states.
package homeassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	haclient "github.com/mkelcik/go-ha-client/v2"

	"github.com/njoerd114/familywall/internal/model"
	"github.com/njoerd114/familywall/internal/source"
)

// RESTClient is the subset of [haclient.Client] methods used by the client.
// Defining it as an interface allows mock injection in tests.
type RESTClient interface {
	Ping(ctx context.Context) error
	// CallServiceWithResponse POSTs with ?return_response=true.
	CallServiceWithResponse(ctx context.Context, domain, service string, body io.Reader) (haclient.ServiceCallResponse, error)
}

// Config holds the Home Assistant connection settings.
type Config struct {
	URL   string
	Token string
}

// Client implements [source.Client] for Home Assistant calendars.
type Client struct {
	rest    RESTClient
	baseURL string
	token   string
	hc      *http.Client
	logger  *slog.Logger
}

// New creates a Client backed by a real go-ha-client REST client.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	rest, err := haclient.NewClient(cfg.URL,
		haclient.WithToken(cfg.Token),
		haclient.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create HA REST client: %w", err)
	}
	return NewWithClient(rest, cfg, &http.Client{Timeout: 30 * time.Second}, logger), nil
}

// NewWithClient creates a Client with a caller-supplied REST client and the
// HTTP client used for entity discovery. Intended for tests.
func NewWithClient(rest RESTClient, cfg Config, hc *http.Client, logger *slog.Logger) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		rest:    rest,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		token:   cfg.Token,
		hc:      hc,
		logger:  logger,
	}
}

// IsAuthenticated reports whether a long-lived access token is configured.
func (c *Client) IsAuthenticated(_ context.Context) bool {
	return c.token != ""
}

// Ping validates the HA connection and token with retry.
func (c *Client) Ping(ctx context.Context) error {
	err := source.Retry(ctx, source.DefaultMaxAttempts, func() error {
		return c.rest.Ping(ctx)
	})
	if err != nil {
		return fmt.Errorf("ping HA: %w", err)
	}
	return nil
}

// FetchEvents calls calendar.get_events for the entity calendarID over
// [start, end].
func (c *Client) FetchEvents(ctx context.Context, calendarID string, start, end time.Time) ([]model.ProviderEvent, error) {
	data := buildGetEventsData(calendarID, start, end)

	var resp haclient.ServiceCallResponse
	err := source.Retry(ctx, source.DefaultMaxAttempts, func() error {
		var callErr error
		resp, callErr = c.rest.CallServiceWithResponse(ctx, domainCalendar, serviceGetEvents, serviceBody(data))
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("get events for %s: %w", calendarID, err)
	}

	raw, err := parseGetEventsResponse(resp, calendarID)
	if err != nil {
		return nil, err
	}

	events := make([]model.ProviderEvent, 0, len(raw))
	for _, h := range raw {
		ev, ok := haEventToProviderEvent(calendarID, h)
		if !ok {
			c.logger.Debug("skipping HA event with unparseable start", "entity_id", calendarID, "start", h.Start)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// haStateEntry is the minimal JSON shape of /api/states entries.
type haStateEntry struct {
	EntityID   string `json:"entity_id"`
	Attributes struct {
		FriendlyName string `json:"friendly_name"`
	} `json:"attributes"`
}

// ListCalendars returns the calendar.* entities, sorted by entity ID.
func (c *Client) ListCalendars(ctx context.Context) ([]model.ProviderCalendar, error) {
	var states []haStateEntry
	err := source.Retry(ctx, source.DefaultMaxAttempts, func() error {
		var getErr error
		states, getErr = c.getStates(ctx)
		return getErr
	})
	if err != nil {
		return nil, fmt.Errorf("list HA calendars: %w", err)
	}

	var cals []model.ProviderCalendar
	for _, s := range states {
		if !strings.HasPrefix(s.EntityID, domainCalendar+".") {
			continue
		}
		name := s.Attributes.FriendlyName
		if name == "" {
			name = s.EntityID
		}
		cals = append(cals, model.ProviderCalendar{ID: s.EntityID, Name: name})
	}
	sort.Slice(cals, func(i, j int) bool { return cals[i].ID < cals[j].ID })
	return cals, nil
}

func (c *Client) getStates(ctx context.Context) ([]haStateEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/states", nil)
	if err != nil {
		return nil, source.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching HA states: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("HA returned 401 Unauthorized, check the access token: %w", source.ErrAuthRequired)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("HA returned HTTP %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, source.Permanent(fmt.Errorf("HA returned HTTP %d", resp.StatusCode))
	}

	var states []haStateEntry
	if err := json.NewDecoder(resp.Body).Decode(&states); err != nil {
		return nil, source.Permanent(fmt.Errorf("parsing HA states response: %w", err))
	}
	return states, nil
}
