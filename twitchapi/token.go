package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultAuthBase is the Twitch identity service root.
const DefaultAuthBase = "https://id.twitch.tv"

// revalidateEvery is how long a validation result is trusted. Twitch
// requires user tokens to be validated at least hourly.
const revalidateEvery = time.Hour

// ScopeWhispers lets a user token send whispers through Helix.
const ScopeWhispers = "user:manage:whispers"

// TokenInfo is what the validate endpoint reports for a user access token.
type TokenInfo struct {
	ClientID  string   `json:"client_id"`
	Login     string   `json:"login"`
	UserID    string   `json:"user_id"`
	Scopes    []string `json:"scopes"`
	ExpiresIn int      `json:"expires_in"`
}

// HasScope reports whether the token was granted scope.
func (i TokenInfo) HasScope(scope string) bool {
	for _, s := range i.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// UserToken is the bot account's user access token (the same one used for
// IRC chat) together with its cached validation result.
// NOTE: Helix needs the bare token; the IRC "oauth:" prefix is stripped.
type UserToken struct {
	Token      string
	AuthBase   string
	HTTPClient *http.Client

	mu          sync.RWMutex
	info        TokenInfo
	validatedAt time.Time
}

// Info returns the (fresh or cached) validation result. Helix calls go
// through it so a revoked token is noticed within the hour.
func (ut *UserToken) Info(ctx context.Context) (TokenInfo, error) {
	ut.mu.RLock()
	if !ut.validatedAt.IsZero() && time.Since(ut.validatedAt) < revalidateEvery {
		info := ut.info
		ut.mu.RUnlock()
		return info, nil
	}
	ut.mu.RUnlock()
	return ut.validate(ctx)
}

func (ut *UserToken) bare() string { return strings.TrimPrefix(ut.Token, "oauth:") }

func (ut *UserToken) validate(ctx context.Context) (TokenInfo, error) {
	ut.mu.Lock()
	defer ut.mu.Unlock()
	if !ut.validatedAt.IsZero() && time.Since(ut.validatedAt) < revalidateEvery {
		return ut.info, nil
	}
	if ut.bare() == "" {
		return TokenInfo{}, errors.New("missing twitch user access token")
	}
	base := ut.AuthBase
	if base == "" {
		base = DefaultAuthBase
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/oauth2/validate", nil)
	if err != nil {
		return TokenInfo{}, err
	}
	req.Header.Set("Authorization", "OAuth "+ut.bare())
	resp, err := httpClient(ut.HTTPClient).Do(req)
	if err != nil {
		return TokenInfo{}, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return TokenInfo{}, fmt.Errorf("twitch token validation failed: %s: %s", resp.Status, string(b))
	}
	var info TokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return TokenInfo{}, err
	}
	if info.UserID == "" {
		return TokenInfo{}, errors.New("twitch token validation returned no user id")
	}
	ut.info = info
	ut.validatedAt = time.Now()
	return info, nil
}

func httpClient(hc *http.Client) *http.Client {
	if hc != nil {
		return hc
	}
	return http.DefaultClient
}
