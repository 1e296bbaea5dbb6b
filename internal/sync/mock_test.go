package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/njoerd114/familywall/internal/model"
	"github.com/njoerd114/familywall/internal/source"
	"github.com/njoerd114/familywall/internal/state"
)

// --- Mock source client ------------------------------------------------------

type mockClient struct {
	mu        sync.Mutex
	authed    bool
	calendars []model.ProviderCalendar
	events    map[string][]model.ProviderEvent
	err       error
	stale     bool
	calls     map[string]int

	// When gate is non-nil FetchEvents signals entered and blocks until gate
	// is closed.
	gate    chan struct{}
	entered chan struct{}
}

func newMockClient() *mockClient {
	return &mockClient{
		authed: true,
		events: make(map[string][]model.ProviderEvent),
		calls:  make(map[string]int),
	}
}

func (m *mockClient) IsAuthenticated(context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authed
}

func (m *mockClient) FetchEvents(ctx context.Context, calendarID string, _, _ time.Time) ([]model.ProviderEvent, error) {
	m.mu.Lock()
	m.calls[calendarID]++
	gate, entered := m.gate, m.entered
	m.mu.Unlock()

	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	events := append([]model.ProviderEvent{}, m.events[calendarID]...)
	if m.err != nil && m.stale {
		return events, m.err
	}
	if m.err != nil {
		return nil, m.err
	}
	return events, nil
}

func (m *mockClient) ListCalendars(context.Context) ([]model.ProviderCalendar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calendars, m.err
}

func (m *mockClient) setEvents(calendarID string, events ...model.ProviderEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[calendarID] = events
}

func (m *mockClient) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// setStale makes FetchEvents return the configured events together with an
// error matching source.ErrStale.
func (m *mockClient) setStale(cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = fmt.Errorf("%w: %v", source.ErrStale, cause)
	m.stale = true
}

func (m *mockClient) callCount(calendarID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[calendarID]
}

// --- Failing event store -----------------------------------------------------

// failingStore reads through to a real store but refuses every write.
type failingStore struct {
	EventStore
}

func (f failingStore) ApplyChanges(context.Context, state.ChangeSet) (state.ApplyResult, error) {
	return state.ApplyResult{}, fmt.Errorf("%w: disk I/O error", state.ErrPersistence)
}

// --- Mock confirmer ----------------------------------------------------------

type mockConfirmer struct {
	answer bool
	asked  int
}

func (m *mockConfirmer) Confirm(string, bool) bool {
	m.asked++
	return m.answer
}

var errProviderDown = errors.New("503 service unavailable")
