package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"unicode/utf8"
)

// Identity of the bot account behind MockHelixServer's token.
const (
	HelixClientID = "helix-client"
	HelixBotID    = "900"
	HelixBotLogin = "tweetchat_bot"
)

// MockHelixServer serves the Twitch token validate endpoint and the Helix
// users and whispers routes.
type MockHelixServer struct {
	*httptest.Server

	mu        sync.Mutex
	token     string
	scopes    []string
	users     map[string]string   // login -> id
	whispers  map[string][]string // to_user_id -> messages
	validated int
	lookups   int
}

// NewMockHelixServer starts a mock accepting token (without "oauth:").
func NewMockHelixServer(t *testing.T, token string) *MockHelixServer {
	t.Helper()
	m := &MockHelixServer{
		token:    token,
		scopes:   []string{"chat:read", "user:manage:whispers"},
		users:    make(map[string]string),
		whispers: make(map[string][]string),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /oauth2/validate", m.handleValidate)
	mux.HandleFunc("GET /helix/users", m.handleUsers)
	mux.HandleFunc("POST /helix/whispers", m.handleWhisper)
	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Close)
	return m
}

// SetScopes replaces the scopes reported for the token.
func (m *MockHelixServer) SetScopes(scopes ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scopes = scopes
}

// AddUser makes login resolvable.
func (m *MockHelixServer) AddUser(login, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[login] = id
}

// Whispers returns the messages sent to user id.
func (m *MockHelixServer) Whispers(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.whispers[id]...)
}

// Validations counts validate calls.
func (m *MockHelixServer) Validations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validated
}

// Lookups counts user lookups.
func (m *MockHelixServer) Lookups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookups
}

func (m *MockHelixServer) handleValidate(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validated++
	if r.Header.Get("Authorization") != "OAuth "+m.token {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"status": 401, "message": "invalid access token"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"client_id":  HelixClientID,
		"login":      HelixBotLogin,
		"user_id":    HelixBotID,
		"scopes":     m.scopes,
		"expires_in": 3600,
	})
}

func (m *MockHelixServer) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Authorization") != "Bearer "+m.token || r.Header.Get("Client-Id") != HelixClientID {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized", "status": 401, "message": "Invalid OAuth token"})
		return false
	}
	return true
}

func (m *MockHelixServer) handleUsers(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.authorized(w, r) {
		return
	}
	m.lookups++
	data := []map[string]string{}
	login := r.URL.Query().Get("login")
	if id, ok := m.users[login]; ok {
		data = append(data, map[string]string{"id": id, "login": login})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (m *MockHelixServer) handleWhisper(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.authorized(w, r) {
		return
	}
	q := r.URL.Query()
	if q.Get("from_user_id") != HelixBotID {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": 400, "message": "from_user_id must match the token"})
		return
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": 400, "message": "message is required"})
		return
	}
	if utf8.RuneCountInString(body.Message) > 500 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": 400, "message": "message too long"})
		return
	}
	to := q.Get("to_user_id")
	m.whispers[to] = append(m.whispers[to], body.Message)
	w.WriteHeader(http.StatusNoContent)
}
