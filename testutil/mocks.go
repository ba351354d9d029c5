package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/onnwee/tweetchat/twitter"
)

// MockTwitterServer serves the OAuth token endpoint and the v2 API routes
// the bot calls, with canned data. It is safe for concurrent use.
type MockTwitterServer struct {
	*httptest.Server

	mu        sync.Mutex
	validCode string
	userID    string
	timeline  []twitter.Status
	users     map[string]string // screen name -> id
	tweets    []string
	dms       map[string][]string // recipient id -> texts
	issued    int
}

// NewMockTwitterServer starts a mock server accepting validCode at the
// token endpoint.
func NewMockTwitterServer(t *testing.T, validCode string) *MockTwitterServer {
	t.Helper()
	m := &MockTwitterServer{
		validCode: validCode,
		userID:    "1000",
		users:     make(map[string]string),
		dms:       make(map[string][]string),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", m.handleToken)
	mux.HandleFunc("/2/users/me", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]string{"id": m.userID, "username": "me"}})
	})
	mux.HandleFunc("/2/users/"+m.userID+"/timelines/reverse_chronological", m.handleTimeline)
	mux.HandleFunc("/2/tweets", m.handleTweet)
	mux.HandleFunc("/2/users/by/username/", m.handleLookup)
	mux.HandleFunc("/2/dm_conversations/with/", m.handleDM)
	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Close)
	return m
}

// AuthorizerConfig points an authorizer at the mock.
func (m *MockTwitterServer) AuthorizerConfig() twitter.AuthorizerConfig {
	return twitter.AuthorizerConfig{
		ClientID:    "test-client",
		RedirectURL: "http://localhost/auth/twitter/callback",
		AuthURL:     m.URL + "/i/oauth2/authorize",
		TokenURL:    m.URL + "/oauth2/token",
		APIBase:     m.URL,
		HTTPClient:  m.Client(),
	}
}

// SetTimeline replaces the home timeline served on every page.
func (m *MockTwitterServer) SetTimeline(items []twitter.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeline = items
	for i, it := range items {
		if _, ok := m.users[it.Author]; !ok {
			m.users[it.Author] = fmt.Sprintf("%d", 2000+i)
		}
	}
}

// AddUser makes screenName resolvable for direct messages.
func (m *MockTwitterServer) AddUser(screenName, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[screenName] = id
}

// Tweets returns the statuses posted so far.
func (m *MockTwitterServer) Tweets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.tweets...)
}

// DirectMessages returns the texts sent to recipient id.
func (m *MockTwitterServer) DirectMessages(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.dms[id]...)
}

func (m *MockTwitterServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch r.Form.Get("grant_type") {
	case "authorization_code":
		if r.Form.Get("code") != m.validCode || r.Form.Get("code_verifier") == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":             "invalid_request",
				"error_description": "Value passed for the authorization code was invalid.",
			})
			return
		}
	case "refresh_token":
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}
	m.issued++
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  fmt.Sprintf("access-%d", m.issued),
		"refresh_token": fmt.Sprintf("refresh-%d", m.issued),
		"token_type":    "bearer",
		"expires_in":    7200,
	})
}

func (m *MockTwitterServer) handleTimeline(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data := make([]map[string]string, 0, len(m.timeline))
	users := make([]map[string]string, 0, len(m.timeline))
	for i, it := range m.timeline {
		id := m.users[it.Author]
		data = append(data, map[string]string{"id": fmt.Sprintf("%d", i+1), "text": it.Text, "author_id": id})
		users = append(users, map[string]string{"id": id, "username": it.Author})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data, "includes": map[string]any{"users": users}, "meta": map[string]any{}})
}

func (m *MockTwitterServer) handleTweet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid body"})
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tweets = append(m.tweets, body.Text)
	writeJSON(w, http.StatusCreated, map[string]any{"data": map[string]string{"id": fmt.Sprintf("%d", len(m.tweets)), "text": body.Text}})
}

func (m *MockTwitterServer) handleLookup(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/2/users/by/username/")
	m.mu.Lock()
	id, ok := m.users[name]
	m.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"errors": []map[string]string{{
			"detail": fmt.Sprintf("Could not find user with username: [%s].", name),
			"title":  "Not Found Error",
		}}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]string{"id": id, "username": name}})
}

func (m *MockTwitterServer) handleDM(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/2/dm_conversations/with/"), "/messages")
	var body struct {
		Text string `json:"text"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck // test mock
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dms[id] = append(m.dms[id], body.Text)
	writeJSON(w, http.StatusCreated, map[string]any{"data": map[string]string{"dm_event_id": "1"}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}
