// Package oauth wraps oauth2 token sources so that tokens rotated by a
// provider during refresh are handed back to the caller for persistence.
package oauth

import (
	"log/slog"
	"sync"

	"golang.org/x/oauth2"
)

// RefreshFunc receives each token obtained by a refresh.
type RefreshFunc func(*oauth2.Token)

// PersistingSource is an oauth2.TokenSource that reports new tokens.
type PersistingSource struct {
	src       oauth2.TokenSource
	onRefresh RefreshFunc

	mu   sync.Mutex
	last *oauth2.Token
}

// NewPersistingSource wraps src. initial is the token src was built from;
// it is used to detect rotation and is never reported itself.
func NewPersistingSource(src oauth2.TokenSource, initial *oauth2.Token, onRefresh RefreshFunc) *PersistingSource {
	return &PersistingSource{src: src, onRefresh: onRefresh, last: initial}
}

// Token returns the current token, invoking the refresh callback when the
// access token changed since the previous call.
func (s *PersistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	changed := s.last == nil || s.last.AccessToken != tok.AccessToken
	if changed {
		// Providers may omit the refresh token on rotation; keep the previous one.
		if tok.RefreshToken == "" && s.last != nil && s.last.RefreshToken != "" {
			cp := *tok
			cp.RefreshToken = s.last.RefreshToken
			tok = &cp
		}
		s.last = tok
	}
	s.mu.Unlock()
	if changed && s.onRefresh != nil {
		slog.Debug("oauth token rotated", slog.String("component", "oauth"), slog.Time("expiry", tok.Expiry))
		s.onRefresh(tok)
	}
	return tok, nil
}
