package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/njoerd114/familywall/internal/model"
	"github.com/njoerd114/familywall/internal/source"
)

// --- Mock source client ---------------------------------------------------------

type mockClient struct {
	authed    bool
	calendars []model.ProviderCalendar
	err       error
}

func (m *mockClient) IsAuthenticated(context.Context) bool { return m.authed }

func (m *mockClient) FetchEvents(context.Context, string, time.Time, time.Time) ([]model.ProviderEvent, error) {
	return nil, nil
}

func (m *mockClient) ListCalendars(context.Context) ([]model.ProviderCalendar, error) {
	return m.calendars, m.err
}

// --- Mock client lookup -------------------------------------------------------------

type mockLookup map[string]source.Client

func (m mockLookup) Client(tag string) (source.Client, error) {
	c, ok := m[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", source.ErrNoStrategy, tag)
	}
	return c, nil
}
