// Package twitchapi contains minimal helpers for the Twitch Helix API: login
// to user id resolution and sending whispers as the bot account. Twitch no
// longer accepts whispers over IRC, so replies to whisper commands go here.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/tweetchat/telemetry"
)

// DefaultHelixBase is the production Helix root.
const DefaultHelixBase = "https://api.twitch.tv"

// HelixError is a non-2xx Helix response.
type HelixError struct {
	Status  int
	Message string
}

func (e *HelixError) Error() string {
	return fmt.Sprintf("helix %d: %s", e.Status, e.Message)
}

// HelixClient calls Helix with the bot's user token.
type HelixClient struct {
	Token *UserToken
	// ClientID defaults to the client the token was issued to.
	ClientID   string
	BaseURL    string
	HTTPClient *http.Client

	mu  sync.Mutex
	ids map[string]string
}

// GetUserID resolves a login name to its user ID. Results are cached.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	hc.mu.Lock()
	id, ok := hc.ids[login]
	hc.mu.Unlock()
	if ok {
		return id, nil
	}
	q := url.Values{}
	q.Set("login", login)
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := hc.do(ctx, "twitch_get_user", http.MethodGet, "/helix/users", q, nil, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("twitch user %q not found", login)
	}
	hc.mu.Lock()
	if hc.ids == nil {
		hc.ids = make(map[string]string)
	}
	hc.ids[login] = body.Data[0].ID
	hc.mu.Unlock()
	return body.Data[0].ID, nil
}

// SendWhisper whispers message to toUserID from the token's account.
func (hc *HelixClient) SendWhisper(ctx context.Context, toUserID, message string) error {
	info, err := hc.Token.Info(ctx)
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("from_user_id", info.UserID)
	q.Set("to_user_id", toUserID)
	return hc.do(ctx, "twitch_send_whisper", http.MethodPost, "/helix/whispers", q, map[string]string{"message": message}, nil)
}

func (hc *HelixClient) do(ctx context.Context, op, method, path string, q url.Values, payload, out any) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "twitchapi", op, attribute.String("http.method", method))
	defer span.End()
	start := time.Now()
	defer func() {
		telemetry.ObserveAPIRequest(op, time.Since(start))
		telemetry.RecordError(span, err)
	}()

	info, err := hc.Token.Info(ctx)
	if err != nil {
		return err
	}
	clientID := hc.ClientID
	if clientID == "" {
		clientID = info.ClientID
	}
	base := hc.BaseURL
	if base == "" {
		base = DefaultHelixBase
	}
	u := base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Client-Id", clientID)
	req.Header.Set("Authorization", "Bearer "+hc.Token.bare())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := httpClient(hc.HTTPClient).Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		if eb.Message == "" {
			eb.Message = resp.Status
		}
		return &HelixError{Status: resp.StatusCode, Message: eb.Message}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
