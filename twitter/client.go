// Package twitter is the social-network client: the OAuth 2.0 (PKCE)
// authorization handshake and the handful of v2 API calls the bot issues on
// behalf of an authorized user.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"

	"github.com/onnwee/tweetchat/telemetry"
)

// DefaultAPIBase is the production API root.
const DefaultAPIBase = "https://api.twitter.com"

// DefaultPageSize is the number of timeline items per page.
const DefaultPageSize = 20

// Status is one timeline item.
type Status struct {
	ID     string
	Author string // screen name
	Text   string
}

// ClientError is a rejection reported by the API. Reason is human readable
// and safe to show to the user.
type ClientError struct {
	Status int
	Reason string
}

func (e *ClientError) Error() string { return e.Reason }

// IsAuthExpired reports whether err means the user's credential is no
// longer honored: the token endpoint refused a refresh, or the API answered
// 401. Token endpoint 5xx responses are outages, not expiry.
func IsAuthExpired(err error) bool {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" {
			return true
		}
		return re.Response != nil && (re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized)
	}
	var ce *ClientError
	return errors.As(err, &ce) && ce.Status == http.StatusUnauthorized
}

// Client calls the API with an authorized HTTP client.
type Client struct {
	hc       *http.Client
	base     string
	pageSize int

	mu     sync.Mutex
	userID string
}

// NewClient wraps an authorized http client (typically from oauth2).
func NewClient(hc *http.Client, base string, pageSize int) *Client {
	if base == "" {
		base = DefaultAPIBase
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Client{hc: hc, base: base, pageSize: pageSize}
}

type apiUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

type apiErrorBody struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Errors []struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
		Title   string `json:"title"`
	} `json:"errors"`
}

func (b apiErrorBody) reason() string {
	if b.Detail != "" {
		return b.Detail
	}
	for _, e := range b.Errors {
		switch {
		case e.Detail != "":
			return e.Detail
		case e.Message != "":
			return e.Message
		case e.Title != "":
			return e.Title
		}
	}
	return b.Title
}

// HomeTimeline returns the 1-based page of the authorized user's home
// timeline, newest first. Pages are walked with pagination tokens; a page
// past the end yields an empty slice.
func (c *Client) HomeTimeline(ctx context.Context, page int) ([]Status, error) {
	if page < 1 {
		page = 1
	}
	id, err := c.me(ctx)
	if err != nil {
		return nil, err
	}
	var token string
	for p := 1; ; p++ {
		q := url.Values{}
		q.Set("max_results", strconv.Itoa(c.pageSize))
		q.Set("expansions", "author_id")
		q.Set("user.fields", "username")
		if token != "" {
			q.Set("pagination_token", token)
		}
		var body struct {
			Data []struct {
				ID       string `json:"id"`
				Text     string `json:"text"`
				AuthorID string `json:"author_id"`
			} `json:"data"`
			Includes struct {
				Users []apiUser `json:"users"`
			} `json:"includes"`
			Meta struct {
				NextToken string `json:"next_token"`
			} `json:"meta"`
		}
		path := "/2/users/" + url.PathEscape(id) + "/timelines/reverse_chronological"
		if err := c.do(ctx, "home_timeline", http.MethodGet, path, q, nil, &body); err != nil {
			return nil, err
		}
		if p == page {
			names := make(map[string]string, len(body.Includes.Users))
			for _, u := range body.Includes.Users {
				names[u.ID] = u.Username
			}
			out := make([]Status, 0, len(body.Data))
			for _, d := range body.Data {
				out = append(out, Status{ID: d.ID, Author: names[d.AuthorID], Text: d.Text})
			}
			return out, nil
		}
		if body.Meta.NextToken == "" {
			return []Status{}, nil
		}
		token = body.Meta.NextToken
	}
}

// UpdateStatus posts text as a new status of the authorized user.
func (c *Client) UpdateStatus(ctx context.Context, text string) error {
	payload := map[string]string{"text": text}
	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	return c.do(ctx, "update_status", http.MethodPost, "/2/tweets", nil, payload, &out)
}

// SendDirectMessage sends text privately to screenName. Platform
// preconditions (e.g. the recipient must accept messages) surface as
// *ClientError.
func (c *Client) SendDirectMessage(ctx context.Context, screenName, text string) error {
	var user struct {
		Data *apiUser `json:"data"`
	}
	if err := c.do(ctx, "lookup_user", http.MethodGet, "/2/users/by/username/"+url.PathEscape(screenName), nil, nil, &user); err != nil {
		return err
	}
	if user.Data == nil || user.Data.ID == "" {
		return &ClientError{Status: http.StatusNotFound, Reason: fmt.Sprintf("User @%s not found.", screenName)}
	}
	payload := map[string]string{"text": text}
	path := "/2/dm_conversations/with/" + url.PathEscape(user.Data.ID) + "/messages"
	return c.do(ctx, "send_direct_message", http.MethodPost, path, nil, payload, nil)
}

func (c *Client) me(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID != "" {
		return c.userID, nil
	}
	var body struct {
		Data apiUser `json:"data"`
	}
	if err := c.do(ctx, "users_me", http.MethodGet, "/2/users/me", nil, nil, &body); err != nil {
		return "", err
	}
	if body.Data.ID == "" {
		return "", errors.New("twitter: empty user id in /2/users/me response")
	}
	c.userID = body.Data.ID
	return c.userID, nil
}

// do performs one API request. Non-2xx responses, and 2xx responses that
// carry only errors, become *ClientError.
func (c *Client) do(ctx context.Context, op, method, path string, q url.Values, payload, out any) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "twitter", op, attribute.String("http.method", method))
	defer span.End()
	start := time.Now()
	defer func() {
		telemetry.ObserveAPIRequest(op, time.Since(start))
		telemetry.RecordError(span, err)
	}()

	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("twitter %s: encode request: %w", op, err)
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("twitter %s: %w", op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("twitter %s: %w", op, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("twitter %s: read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb apiErrorBody
		_ = json.Unmarshal(raw, &eb)
		reason := eb.reason()
		if reason == "" {
			reason = resp.Status
		}
		return &ClientError{Status: resp.StatusCode, Reason: reason}
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
		apiErrorBody
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Data) == 0 && len(envelope.Errors) > 0 {
		return &ClientError{Status: resp.StatusCode, Reason: envelope.reason()}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("twitter %s: decode response: %w", op, err)
	}
	return nil
}
