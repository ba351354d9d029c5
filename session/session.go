// Package session holds each chat user's authorization state and, once the
// handshake completes, the API client bound to their credential.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/tweetchat/chat"
	"github.com/onnwee/tweetchat/command"
	"github.com/onnwee/tweetchat/crypto"
	"github.com/onnwee/tweetchat/telemetry"
	"github.com/onnwee/tweetchat/twitter"
)

var (
	ErrNotAuthenticating = errors.New("session: no authorization in progress")
	ErrNotVerified       = errors.New("session: not verified")
	ErrAlreadyVerified   = errors.New("session: already verified")
)

// Authorizer runs the handshake and binds API clients.
type Authorizer interface {
	BeginAuthorization(ctx context.Context) (twitter.Pending, string, error)
	ExchangeCode(ctx context.Context, p twitter.Pending, code string) (*oauth2.Token, error)
	Bind(ctx context.Context, tok *oauth2.Token, onRefresh func(*oauth2.Token)) (command.API, error)
}

// Store persists serialized tokens under a normalized identity. FindToken
// errors matching crypto.IsUnreadable mean the row exists but can never be
// opened with the current key.
type Store interface {
	FindToken(ctx context.Context, identity string) (string, bool, error)
	UpsertToken(ctx context.Context, identity, token string) error
	DeleteToken(ctx context.Context, identity string) error
}

// FromTwitter adapts a *twitter.Authorizer to Authorizer.
func FromTwitter(a *twitter.Authorizer) Authorizer { return twitterAuthorizer{a} }

type twitterAuthorizer struct{ a *twitter.Authorizer }

func (t twitterAuthorizer) BeginAuthorization(ctx context.Context) (twitter.Pending, string, error) {
	return t.a.BeginAuthorization(ctx)
}

func (t twitterAuthorizer) ExchangeCode(ctx context.Context, p twitter.Pending, code string) (*oauth2.Token, error) {
	return t.a.ExchangeCode(ctx, p, code)
}

func (t twitterAuthorizer) Bind(ctx context.Context, tok *oauth2.Token, onRefresh func(*oauth2.Token)) (command.API, error) {
	c, err := t.a.Bind(ctx, tok, onRefresh)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// State names the phase of the handshake.
type State int

const (
	Unauthenticated State = iota
	Authenticating
	Verified
)

func (s State) String() string {
	switch s {
	case Authenticating:
		return "authenticating"
	case Verified:
		return "verified"
	default:
		return "unauthenticated"
	}
}

// phase is the tagged union behind State; each variant carries only the
// data valid in it.
type phase interface{ state() State }

type unauthenticated struct{}

type authenticating struct{ pending twitter.Pending }

type verified struct{ api command.API }

func (unauthenticated) state() State { return Unauthenticated }
func (authenticating) state() State { return Authenticating }
func (verified) state() State { return Verified }

// refreshTimeout bounds persisting a token rotated by the API transport.
const refreshTimeout = 10 * time.Second

// Session is one chat user's handshake state. It is not safe for concurrent
// use: callers hold Lock for the duration of a message.
type Session struct {
	mu       sync.Mutex
	identity chat.Identity
	auth     Authorizer
	store    Store
	phase    phase

	tokMu sync.Mutex
	token *oauth2.Token
}

func newSession(id chat.Identity, auth Authorizer, store Store) *Session {
	return &Session{identity: id.Normalize(), auth: auth, store: store, phase: unauthenticated{}}
}

// Lock serializes message handling for this user.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases Lock.
func (s *Session) Unlock() { s.mu.Unlock() }

// Identity is the normalized identity the session belongs to.
func (s *Session) Identity() chat.Identity { return s.identity }

func (s *Session) State() State { return s.phase.state() }
func (s *Session) IsVerified() bool { return s.State() == Verified }
func (s *Session) IsAuthenticating() bool { return s.State() == Authenticating }

// API returns the bound client, or nil unless verified.
func (s *Session) API() command.API {
	if v, ok := s.phase.(verified); ok {
		return v.api
	}
	return nil
}

// Begin starts a handshake and returns the URL the user must visit.
// Calling Begin while authenticating replaces the pending authorization.
func (s *Session) Begin(ctx context.Context) (string, error) {
	if s.IsVerified() {
		return "", ErrAlreadyVerified
	}
	p, link, err := s.auth.BeginAuthorization(ctx)
	if err != nil {
		return "", fmt.Errorf("begin authorization for %s: %w", s.identity, err)
	}
	s.phase = authenticating{pending: p}
	telemetry.IncAuthEvent("begin")
	return link, nil
}

// Verify exchanges code for a token and binds a client. A rejected code
// returns false and keeps the session authenticating so the user can retry.
func (s *Session) Verify(ctx context.Context, code string) (bool, error) {
	a, ok := s.phase.(authenticating)
	if !ok {
		return false, ErrNotAuthenticating
	}
	tok, err := s.auth.ExchangeCode(ctx, a.pending, code)
	if err != nil {
		telemetry.IncAuthEvent("rejected")
		telemetry.LoggerWithCorr(ctx).Info("verification rejected",
			slog.String("component", "session"),
			slog.String("identity", string(s.identity)),
			slog.Any("err", err))
		return false, nil
	}
	api, err := s.auth.Bind(ctx, tok, s.persistRefreshed)
	if err != nil {
		return false, fmt.Errorf("bind client for %s: %w", s.identity, err)
	}
	s.setToken(tok)
	s.phase = verified{api: api}
	telemetry.IncAuthEvent("verified")
	return true, nil
}

// Save upserts the held token under the normalized identity.
func (s *Session) Save(ctx context.Context) error {
	if !s.IsVerified() {
		return ErrNotVerified
	}
	s.tokMu.Lock()
	tok := s.token
	s.tokMu.Unlock()
	enc, err := twitter.EncodeToken(tok)
	if err != nil {
		return err
	}
	if err := s.store.UpsertToken(ctx, string(s.identity), enc); err != nil {
		return fmt.Errorf("save credential for %s: %w", s.identity, err)
	}
	return nil
}

// ReloadAuthentication binds a client from a saved credential. It returns
// false, leaving the state unchanged, when none is stored.
func (s *Session) ReloadAuthentication(ctx context.Context) (bool, error) {
	if s.IsVerified() {
		return true, nil
	}
	enc, found, err := s.store.FindToken(ctx, string(s.identity))
	if crypto.IsUnreadable(err) {
		// Sealed under another key or with no key configured; a fresh handshake overwrites it.
		telemetry.IncAuthEvent("unreadable")
		telemetry.LoggerWithCorr(ctx).Warn("ignoring undecryptable saved credential",
			slog.String("component", "session"),
			slog.String("identity", string(s.identity)),
			slog.Any("err", err))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load credential for %s: %w", s.identity, err)
	}
	if !found {
		return false, nil
	}
	tok, err := twitter.DecodeToken(enc)
	if err != nil {
		// Unreadable credential: fall through to a fresh handshake which overwrites it.
		telemetry.LoggerWithCorr(ctx).Warn("ignoring unreadable saved credential",
			slog.String("component", "session"),
			slog.String("identity", string(s.identity)),
			slog.Any("err", err))
		return false, nil
	}
	api, err := s.auth.Bind(ctx, tok, s.persistRefreshed)
	if err != nil {
		return false, fmt.Errorf("bind client for %s: %w", s.identity, err)
	}
	s.setToken(tok)
	s.phase = verified{api: api}
	telemetry.IncAuthEvent("reloaded")
	return true, nil
}

// Expire drops a credential the provider no longer honors: the saved copy
// is deleted and the session returns to Unauthenticated so the next message
// starts a new handshake.
func (s *Session) Expire(ctx context.Context) error {
	if !s.IsVerified() {
		return ErrNotVerified
	}
	if err := s.store.DeleteToken(ctx, string(s.identity)); err != nil {
		return fmt.Errorf("delete credential for %s: %w", s.identity, err)
	}
	s.setToken(nil)
	s.phase = unauthenticated{}
	telemetry.IncAuthEvent("expired")
	return nil
}

func (s *Session) setToken(tok *oauth2.Token) {
	s.tokMu.Lock()
	s.token = tok
	s.tokMu.Unlock()
}

// persistRefreshed runs on the API transport's goroutine whenever the token
// is refreshed.
func (s *Session) persistRefreshed(tok *oauth2.Token) {
	s.setToken(tok)
	logger := slog.Default().With(slog.String("component", "session"), slog.String("identity", string(s.identity)))
	enc, err := twitter.EncodeToken(tok)
	if err != nil {
		logger.Warn("encode refreshed token", slog.Any("err", err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	if err := s.store.UpsertToken(ctx, string(s.identity), enc); err != nil {
		logger.Warn("persist refreshed token", slog.Any("err", err))
		return
	}
	telemetry.IncAuthEvent("refreshed")
	logger.Debug("refreshed token persisted")
}
