package remote

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockServer provides a fake sync API for testing.
type MockServer struct {
	*httptest.Server
	mu       sync.RWMutex
	children map[string]Child
	events   map[string]Event

	// Failure injection for tests.
	failChildren bool            // 500 on all /v1/children routes
	failEvents   bool            // 500 on all /v1/events routes
	failIDs      map[string]bool // 500 on upserts for specific record ids
}

// NewMockServer creates a mock sync API server.
func NewMockServer() *MockServer {
	m := &MockServer{
		children: make(map[string]Child),
		events:   make(map[string]Event),
		failIDs:  make(map[string]bool),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/v1/children", func(w http.ResponseWriter, r *http.Request) {
		m.handleFetchChildren(w, r)
	})
	mux.HandleFunc("/v1/children/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/v1/children/")
		m.handleUpsertChild(w, r, id)
	})
	mux.HandleFunc("/v1/events", func(w http.ResponseWriter, r *http.Request) {
		m.handleFetchEvents(w, r)
	})
	mux.HandleFunc("/v1/events/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/v1/events/")
		m.handleUpsertEvent(w, r, id)
	})

	m.Server = httptest.NewServer(mux)
	return m
}

// AddChild seeds a child on the mock server.
func (m *MockServer) AddChild(c Child) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.children[c.ID] = c
}

// AddEvent seeds an event on the mock server.
func (m *MockServer) AddEvent(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[ev.ID] = ev
}

// Child retrieves a stored child for test assertions. Returns nil when absent.
func (m *MockServer) Child(id string) *Child {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.children[id]; ok {
		return &c
	}
	return nil
}

// Event retrieves a stored event for test assertions. Returns nil when absent.
func (m *MockServer) Event(id string) *Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ev, ok := m.events[id]; ok {
		return &ev
	}
	return nil
}

// EventCount returns the number of stored events.
func (m *MockServer) EventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// FailChildren makes all /v1/children routes return 500.
func (m *MockServer) FailChildren(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failChildren = fail
}

// FailEvents makes all /v1/events routes return 500.
func (m *MockServer) FailEvents(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failEvents = fail
}

// FailID makes upserts for one record id return 500.
func (m *MockServer) FailID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failIDs[id] = true
}

// Reset clears all stored records and failure injection.
func (m *MockServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.children = make(map[string]Child)
	m.events = make(map[string]Event)
	m.failIDs = make(map[string]bool)
	m.failChildren = false
	m.failEvents = false
}

func (m *MockServer) handleUpsertChild(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failChildren || m.failIDs[id] {
		http.Error(w, "injected failure", http.StatusInternalServerError)
		return
	}

	var c Child
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	c.ID = id

	_, existed := m.children[id]
	m.children[id] = c

	if existed {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusCreated)
	}
}

func (m *MockServer) handleUpsertEvent(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failEvents || m.failIDs[id] {
		http.Error(w, "injected failure", http.StatusInternalServerError)
		return
	}

	var ev Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	ev.ID = id

	// Events are immutable: a duplicate id from a retried push is kept
	// as-is and acknowledged.
	if _, exists := m.events[id]; !exists {
		m.events[id] = ev
		w.WriteHeader(http.StatusCreated)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (m *MockServer) handleFetchChildren(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failChildren {
		http.Error(w, "injected failure", http.StatusInternalServerError)
		return
	}

	since := r.URL.Query().Get("since")
	result := []Child{}
	for _, c := range m.children {
		if since == "" || after(c.UpdatedAt, since) {
			result = append(result, c)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (m *MockServer) handleFetchEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failEvents {
		http.Error(w, "injected failure", http.StatusInternalServerError)
		return
	}

	since := r.URL.Query().Get("since")
	result := []Event{}
	for _, ev := range m.events {
		if since == "" || after(ev.CreatedAt, since) {
			result = append(result, ev)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// after reports whether timestamp ts is strictly later than since.
func after(ts, since string) bool {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return false
	}
	s, err := time.Parse(time.RFC3339, since)
	if err != nil {
		return true
	}
	return t.After(s)
}
