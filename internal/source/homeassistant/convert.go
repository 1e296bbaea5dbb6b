package homeassistant

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	haclient "github.com/mkelcik/go-ha-client/v2"

	"github.com/njoerd114/familywall/internal/model"
	"github.com/njoerd114/familywall/internal/source"
)

// HA calendar service constants.
const (
	domainCalendar   = "calendar"
	serviceGetEvents = "get_events"

	dateLayout = "2006-01-02"
)

// haCalendarEvent is one event in the calendar.get_events response.
type haCalendarEvent struct {
	Start       string `json:"start"` // "YYYY-MM-DD" or RFC 3339
	End         string `json:"end"`
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
}

// haEventsResponse wraps the events array inside the service response for a
// single entity.
type haEventsResponse struct {
	Events []haCalendarEvent `json:"events"`
}

// buildGetEventsData returns the service-call payload for calendar.get_events.
func buildGetEventsData(entityID string, start, end time.Time) map[string]interface{} {
	return map[string]interface{}{
		"entity_id":       entityID,
		"start_date_time": start.UTC().Format(time.RFC3339),
		"end_date_time":   end.UTC().Format(time.RFC3339),
	}
}

// serviceBody marshals data to a JSON [io.Reader] for service calls.
func serviceBody(data map[string]interface{}) io.Reader {
	b, _ := json.Marshal(data) //nolint:errcheck // map[string]interface{} always marshals
	return bytes.NewReader(b)
}

// parseGetEventsResponse extracts the events from the service call response.
func parseGetEventsResponse(resp haclient.ServiceCallResponse, entityID string) ([]haCalendarEvent, error) {
	raw, ok := resp.ServiceResponse[entityID]
	if !ok {
		return nil, fmt.Errorf("no service response for entity %s", entityID)
	}

	var haResp haEventsResponse
	if err := json.Unmarshal(raw, &haResp); err != nil {
		return nil, fmt.Errorf("parse events response for %s: %w", entityID, err)
	}
	return haResp.Events, nil
}

// haEventToProviderEvent converts an HA calendar event. HA exposes no event
// id, so the key is derived from the entity, summary and start; a moved
// event therefore replaces the old one.
func haEventToProviderEvent(entityID string, h haCalendarEvent) (model.ProviderEvent, bool) {
	start, allDay, err := parseWhen(h.Start)
	if err != nil {
		return model.ProviderEvent{}, false
	}
	end, _, err := parseWhen(h.End)
	if err != nil || end.Before(start) {
		end = start
	}

	title := source.TitleOrDefault(h.Summary)
	return model.ProviderEvent{
		ID:          eventKey(entityID, h.Summary, h.Start),
		Title:       title,
		Start:       start,
		End:         end,
		AllDay:      allDay,
		Birthday:    source.LooksLikeBirthday(title, nil),
		Location:    h.Location,
		Description: h.Description,
	}, true
}

func eventKey(entityID, summary, start string) string {
	sum := sha256.Sum256([]byte(entityID + "\x00" + summary + "\x00" + start))
	return hex.EncodeToString(sum[:16])
}

// parseWhen parses an HA date or date-time. Date-only values are all-day.
func parseWhen(s string) (time.Time, bool, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false, err
	}
	return t.UTC(), false, nil
}
