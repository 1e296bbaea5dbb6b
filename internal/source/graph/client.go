// Package graph reads Outlook / Microsoft 365 calendars through the official
// Microsoft Graph SDK.
//
// Credentials are an OAuth2 token file produced by an external login flow;
// the client refreshes the access token when it expires and writes the new
// token back.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	abstractions "github.com/microsoft/kiota-abstractions-go"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	msgraphcore "github.com/microsoftgraph/msgraph-sdk-go-core"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/users"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/njoerd114/familywall/internal/model"
	"github.com/njoerd114/familywall/internal/source"
)

// DefaultCalendarID selects the signed-in user's default calendar view.
const DefaultCalendarID = "default"

// Config holds the Graph application settings.
type Config struct {
	ClientID string
	// TenantID defaults to "consumers" (personal Microsoft accounts).
	TenantID  string
	TokenFile string
	Scopes    []string
}

var defaultScopes = []string{
	"https://graph.microsoft.com/Calendars.Read",
	"https://graph.microsoft.com/User.Read",
	"offline_access",
}

var selectFields = []string{
	"id", "subject", "body", "start", "end", "location", "isAllDay",
	"showAs", "responseStatus", "isCancelled", "categories", "organizer",
	"attendees", "type", "lastModifiedDateTime",
}

// Client implements [source.Client] for Microsoft Graph.
type Client struct {
	cfg Config
	log *slog.Logger

	tokenMu sync.Mutex
	token   *oauth2.Token

	clientMu sync.Mutex
	graph    *msgraphsdk.GraphServiceClient
}

// New creates a Client. No I/O happens until the first call.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.TenantID == "" {
		cfg.TenantID = "consumers"
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = defaultScopes
	}
	return &Client{cfg: cfg, log: logger}
}

// OAuthConfig returns the OAuth2 configuration for the Microsoft identity
// platform.
func (c *Client) OAuthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID: c.cfg.ClientID,
		Endpoint: microsoft.AzureADEndpoint(c.cfg.TenantID),
		Scopes:   c.cfg.Scopes,
	}
}

// tokenCredential bridges the saved OAuth2 token into the Azure SDK's
// TokenCredential interface.
type tokenCredential struct {
	client *Client
}

func (t *tokenCredential) GetToken(ctx context.Context, _ policy.TokenRequestOptions) (azcore.AccessToken, error) {
	tok, err := t.client.accessToken(ctx)
	if err != nil {
		return azcore.AccessToken{}, err
	}
	return azcore.AccessToken{Token: tok.AccessToken, ExpiresOn: tok.Expiry}, nil
}

// IsAuthenticated reports whether a token file with a usable token exists.
func (c *Client) IsAuthenticated(_ context.Context) bool {
	if c.cfg.ClientID == "" {
		return false
	}
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token == nil {
		tok, err := source.ReadToken(c.cfg.TokenFile)
		if err != nil {
			c.log.Debug("graph token unavailable", "error", err)
			return false
		}
		c.token = tok
	}
	return c.token.Valid() || c.token.RefreshToken != ""
}

// accessToken returns a valid access token, refreshing if expired.
func (c *Client) accessToken(ctx context.Context) (*oauth2.Token, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.token == nil {
		tok, err := source.ReadToken(c.cfg.TokenFile)
		if err != nil {
			return nil, err
		}
		c.token = tok
	}
	if c.token.Valid() {
		return c.token, nil
	}
	if c.token.RefreshToken == "" {
		return nil, fmt.Errorf("graph token expired without refresh token: %w", source.ErrAuthRequired)
	}

	newTok, err := c.OAuthConfig().TokenSource(ctx, c.token).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, fmt.Errorf("refreshing graph token: %v: %w", re, source.ErrAuthRequired)
		}
		return nil, fmt.Errorf("refreshing graph token: %w", err)
	}
	c.token = newTok

	if err := source.WriteToken(c.cfg.TokenFile, newTok); err != nil {
		c.log.Warn("persisting refreshed graph token", "error", err)
	}
	return newTok, nil
}

func (c *Client) service(ctx context.Context) (*msgraphsdk.GraphServiceClient, error) {
	c.clientMu.Lock()
	defer c.clientMu.Unlock()
	if c.graph != nil {
		return c.graph, nil
	}

	// Fail fast on missing credentials instead of inside the SDK.
	if _, err := c.accessToken(ctx); err != nil {
		return nil, err
	}

	g, err := msgraphsdk.NewGraphServiceClientWithCredentials(&tokenCredential{client: c}, []string{
		"https://graph.microsoft.com/.default",
	})
	if err != nil {
		return nil, fmt.Errorf("create graph client: %w", err)
	}
	c.graph = g
	return g, nil
}

// ListCalendars returns the signed-in user's calendars.
func (c *Client) ListCalendars(ctx context.Context) ([]model.ProviderCalendar, error) {
	g, err := c.service(ctx)
	if err != nil {
		return nil, err
	}
	result, err := g.Me().Calendars().Get(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list graph calendars: %w", err)
	}

	var cals []model.ProviderCalendar
	for _, cal := range result.GetValue() {
		pc := toProviderCalendar(cal)
		if pc.ID == "" {
			continue
		}
		cals = append(cals, pc)
	}
	return cals, nil
}

// FetchEvents returns the calendar view of calendarID between start and end.
// Recurring series are expanded server-side; each occurrence carries its own
// id and is flagged Recurring.
func (c *Client) FetchEvents(ctx context.Context, calendarID string, start, end time.Time) ([]model.ProviderEvent, error) {
	g, err := c.service(ctx)
	if err != nil {
		return nil, err
	}

	startStr := start.UTC().Format(time.RFC3339)
	endStr := end.UTC().Format(time.RFC3339)
	orderBy := []string{"start/dateTime"}
	top := int32(100)

	headers := abstractions.NewRequestHeaders()
	headers.Add("Prefer", `outlook.timezone="UTC"`)

	var result models.EventCollectionResponseable
	if calendarID == DefaultCalendarID {
		result, err = g.Me().CalendarView().Get(ctx, &users.ItemCalendarViewRequestBuilderGetRequestConfiguration{
			QueryParameters: &users.ItemCalendarViewRequestBuilderGetQueryParameters{
				StartDateTime: &startStr,
				EndDateTime:   &endStr,
				Select:        selectFields,
				Orderby:       orderBy,
				Top:           &top,
			},
			Headers: headers,
		})
	} else {
		result, err = g.Me().Calendars().ByCalendarId(calendarID).CalendarView().Get(ctx, &users.ItemCalendarsItemCalendarViewRequestBuilderGetRequestConfiguration{
			QueryParameters: &users.ItemCalendarsItemCalendarViewRequestBuilderGetQueryParameters{
				StartDateTime: &startStr,
				EndDateTime:   &endStr,
				Select:        selectFields,
				Orderby:       orderBy,
				Top:           &top,
			},
			Headers: headers,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("fetch calendar view: %w", err)
	}

	pageIterator, err := msgraphcore.NewPageIterator[models.Eventable](
		result,
		g.GetAdapter(),
		models.CreateEventCollectionResponseFromDiscriminatorValue,
	)
	if err != nil {
		return nil, fmt.Errorf("create page iterator: %w", err)
	}

	var events []model.ProviderEvent
	err = pageIterator.Iterate(ctx, func(item models.Eventable) bool {
		ev, ok := toProviderEvent(item)
		if !ok {
			c.log.Debug("skipping graph event without id or start", "calendar_id", calendarID)
			return true
		}
		events = append(events, ev)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
