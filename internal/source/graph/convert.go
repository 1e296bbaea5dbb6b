package graph

import (
	"time"

	"github.com/microsoftgraph/msgraph-sdk-go/models"

	"github.com/njoerd114/familywall/internal/model"
	"github.com/njoerd114/familywall/internal/source"
)

// toProviderEvent converts a Graph SDK event. ok is false for events the
// cache cannot key or place in time.
func toProviderEvent(item models.Eventable) (model.ProviderEvent, bool) {
	id := derefStr(item.GetId())
	start := parseSDKDateTime(item.GetStart())
	if id == "" || start.IsZero() {
		return model.ProviderEvent{}, false
	}
	end := parseSDKDateTime(item.GetEnd())
	if end.IsZero() {
		end = start
	}

	title := source.TitleOrDefault(derefStr(item.GetSubject()))
	ev := model.ProviderEvent{
		ID:             id,
		Title:          title,
		Start:          start,
		End:            end,
		AllDay:         derefBool(item.GetIsAllDay()),
		Birthday:       source.LooksLikeBirthday(title, item.GetCategories()),
		Status:         parseStatus(item),
		ResponseStatus: parseResponse(item),
	}

	if loc := item.GetLocation(); loc != nil {
		ev.Location = derefStr(loc.GetDisplayName())
	}
	if body := item.GetBody(); body != nil {
		ev.Description = derefStr(body.GetContent())
	}
	if org := item.GetOrganizer(); org != nil {
		ev.Organizer = emailLabel(org.GetEmailAddress())
	}
	for _, a := range item.GetAttendees() {
		if label := emailLabel(a.GetEmailAddress()); label != "" {
			ev.Attendees = append(ev.Attendees, label)
		}
	}
	if t := item.GetTypeEscaped(); t != nil {
		switch *t {
		case models.OCCURRENCE_EVENTTYPE, models.EXCEPTION_EVENTTYPE, models.SERIESMASTER_EVENTTYPE:
			ev.Recurring = true
		}
	}
	if lm := item.GetLastModifiedDateTime(); lm != nil {
		ev.LastModified = lm.UTC()
	}
	return ev, true
}

func toProviderCalendar(cal models.Calendarable) model.ProviderCalendar {
	pc := model.ProviderCalendar{
		ID:        derefStr(cal.GetId()),
		Name:      derefStr(cal.GetName()),
		CanEdit:   derefBool(cal.GetCanEdit()),
		IsDefault: derefBool(cal.GetIsDefaultCalendar()),
	}
	if owner := cal.GetOwner(); owner != nil {
		pc.Owner = derefStr(owner.GetName())
		if pc.Owner == "" {
			pc.Owner = derefStr(owner.GetAddress())
		}
	}
	return pc
}

// parseSDKDateTime converts a Graph SDK DateTimeTimeZone to time.Time.
// Times are in UTC because requests carry the Prefer: outlook.timezone="UTC"
// header.
func parseSDKDateTime(dt models.DateTimeTimeZoneable) time.Time {
	if dt == nil {
		return time.Time{}
	}
	s := dt.GetDateTime()
	if s == nil {
		return time.Time{}
	}
	layouts := []string{
		"2006-01-02T15:04:05.0000000",
		"2006-01-02T15:04:05",
		time.RFC3339Nano,
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, *s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func parseStatus(item models.Eventable) model.EventStatus {
	if derefBool(item.GetIsCancelled()) {
		return model.StatusCancelled
	}
	if showAs := item.GetShowAs(); showAs != nil && *showAs == models.TENTATIVE_FREEBUSYSTATUS {
		return model.StatusTentative
	}
	return model.StatusConfirmed
}

// parseResponse maps the user's response. Events without an answer
// (notResponded, none) return nil so a locally recorded response is kept.
func parseResponse(item models.Eventable) *model.ResponseStatus {
	rs := item.GetResponseStatus()
	if rs == nil {
		return nil
	}
	resp := rs.GetResponse()
	if resp == nil {
		return nil
	}
	switch *resp {
	case models.ACCEPTED_RESPONSETYPE, models.ORGANIZER_RESPONSETYPE:
		return model.Response(model.ResponseAccepted)
	case models.DECLINED_RESPONSETYPE:
		return model.Response(model.ResponseDeclined)
	case models.TENTATIVELYACCEPTED_RESPONSETYPE:
		return model.Response(model.ResponseTentative)
	default:
		return nil
	}
}

func emailLabel(e models.EmailAddressable) string {
	if e == nil {
		return ""
	}
	if name := derefStr(e.GetName()); name != "" {
		return name
	}
	return derefStr(e.GetAddress())
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefBool(b *bool) bool {
	if b == nil {
		return false
	}
	return *b
}
