package diagnostics

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/njoerd114/familywall/internal/model"
	"github.com/njoerd114/familywall/internal/sync"
)

// --- Mock Syncer ---

type mockSyncer struct {
	mu       stdsync.Mutex
	status   sync.Status
	err      error
	triggers int
	ctxErr   error
}

func (m *mockSyncer) Status() sync.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *mockSyncer) TriggerManualSync(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers++
	m.ctxErr = ctx.Err()
	if m.err != nil {
		return m.err
	}
	m.status.Runs++
	m.status.LastTrigger = sync.TriggerManual
	return nil
}

func (m *mockSyncer) lastCtxErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctxErr
}

func (m *mockSyncer) triggerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.triggers
}

// --- Mock Events ---

type mockEvents struct {
	mu       stdsync.Mutex
	upcoming []*model.CachedEvent
	counts   map[string]int
	err      error
	lastN    int
}

func (m *mockEvents) Upcoming(_ context.Context, n int) ([]*model.CachedEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastN = n
	if m.err != nil {
		return nil, m.err
	}
	if n < len(m.upcoming) {
		return m.upcoming[:n], nil
	}
	return m.upcoming, nil
}

func (m *mockEvents) CountByCalendar(_ context.Context, _, _ time.Time) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts, m.err
}

func (m *mockEvents) limit() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastN
}
