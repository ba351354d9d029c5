package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/oauth2"

	"github.com/onnwee/tweetchat/command"
	"github.com/onnwee/tweetchat/twitter"
)

// MemoryStore is an in-memory credential store.
type MemoryStore struct {
	mu      sync.Mutex
	tokens  map[string]string
	upserts int

	// FindErr, UpsertErr and DeleteErr, when set, are returned by the
	// matching method.
	FindErr   error
	UpsertErr error
	DeleteErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]string)}
}

func (s *MemoryStore) FindToken(_ context.Context, identity string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FindErr != nil {
		return "", false, s.FindErr
	}
	tok, ok := s.tokens[identity]
	return tok, ok, nil
}

func (s *MemoryStore) UpsertToken(_ context.Context, identity, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpsertErr != nil {
		return s.UpsertErr
	}
	s.tokens[identity] = token
	s.upserts++
	return nil
}

func (s *MemoryStore) DeleteToken(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	delete(s.tokens, identity)
	return nil
}

// Token returns the stored token for identity.
func (s *MemoryStore) Token(identity string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[identity]
	return tok, ok
}

// Upserts counts successful UpsertToken calls.
func (s *MemoryStore) Upserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

// FakeAPI records calls made by the command set.
type FakeAPI struct {
	mu       sync.Mutex
	Timeline []twitter.Status
	Posted   []string
	DMs      [][2]string
	DMErr    error
	Token    *oauth2.Token
	// Err, when set, fails every call.
	Err error
}

func (f *FakeAPI) HomeTimeline(_ context.Context, _ int) ([]twitter.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Timeline, nil
}

func (f *FakeAPI) UpdateStatus(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Posted = append(f.Posted, text)
	return nil
}

func (f *FakeAPI) SendDirectMessage(_ context.Context, screenName, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	if f.DMErr != nil {
		return f.DMErr
	}
	f.DMs = append(f.DMs, [2]string{screenName, text})
	return nil
}

// FakeAuthorizer accepts ValidCode and binds FakeAPI clients.
type FakeAuthorizer struct {
	ValidCode string
	BeginErr  error
	BindErr   error

	mu      sync.Mutex
	begun   int
	bound   []*FakeAPI
	refresh func(*oauth2.Token)
}

func NewFakeAuthorizer(validCode string) *FakeAuthorizer {
	return &FakeAuthorizer{ValidCode: validCode}
}

func (a *FakeAuthorizer) BeginAuthorization(_ context.Context) (twitter.Pending, string, error) {
	if a.BeginErr != nil {
		return twitter.Pending{}, "", a.BeginErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.begun++
	p := twitter.Pending{State: fmt.Sprintf("state-%d", a.begun), Verifier: "verifier"}
	return p, "https://twitter.example/i/oauth2/authorize?state=" + p.State, nil
}

func (a *FakeAuthorizer) ExchangeCode(_ context.Context, p twitter.Pending, code string) (*oauth2.Token, error) {
	if p.State == "" {
		return nil, errors.New("exchange without pending authorization")
	}
	if code != a.ValidCode {
		return nil, &twitter.ClientError{Status: 400, Reason: "Value passed for the authorization code was invalid."}
	}
	return &oauth2.Token{AccessToken: "access-" + code, RefreshToken: "refresh-" + code, TokenType: "bearer"}, nil
}

func (a *FakeAuthorizer) Bind(_ context.Context, tok *oauth2.Token, onRefresh func(*oauth2.Token)) (command.API, error) {
	if a.BindErr != nil {
		return nil, a.BindErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	api := &FakeAPI{Token: tok}
	a.bound = append(a.bound, api)
	a.refresh = onRefresh
	return api, nil
}

// Begun counts BeginAuthorization calls.
func (a *FakeAuthorizer) Begun() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.begun
}

// Bound returns the clients handed out so far.
func (a *FakeAuthorizer) Bound() []*FakeAPI {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*FakeAPI(nil), a.bound...)
}

// Refresh simulates the last bound client's transport rotating its token.
func (a *FakeAuthorizer) Refresh(tok *oauth2.Token) {
	a.mu.Lock()
	fn := a.refresh
	a.mu.Unlock()
	if fn != nil {
		fn(tok)
	}
}
