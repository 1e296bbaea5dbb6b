package homeassistant

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	haclient "github.com/mkelcik/go-ha-client/v2"
)

// --- Mock REST client ---------------------------------------------------------

type serviceCall struct {
	domain  string
	service string
	body    map[string]interface{}
}

type mockREST struct {
	mu       sync.Mutex
	response string // raw JSON of the full service call response
	err      error
	failN    int // fail the first failN calls with err
	calls    []serviceCall
}

func (m *mockREST) Ping(_ context.Context) error { return nil }

func (m *mockREST) CallServiceWithResponse(_ context.Context, domain, service string, body io.Reader) (haclient.ServiceCallResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var decoded map[string]interface{}
	b, _ := io.ReadAll(body)
	_ = json.Unmarshal(b, &decoded)
	m.calls = append(m.calls, serviceCall{domain: domain, service: service, body: decoded})

	var resp haclient.ServiceCallResponse
	if m.err != nil && len(m.calls) <= m.failN {
		return resp, m.err
	}
	if err := json.Unmarshal([]byte(m.response), &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

func (m *mockREST) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
