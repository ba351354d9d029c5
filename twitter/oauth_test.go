package twitter

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func newTestAuthorizer(t *testing.T, h http.Handler) *Authorizer {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	a, err := NewAuthorizer(AuthorizerConfig{
		ClientID:     "cid",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/cb",
		AuthURL:      srv.URL + "/authorize",
		TokenURL:     srv.URL + "/token",
		APIBase:      srv.URL,
		HTTPClient:   srv.Client(),
	})
	if err != nil {
		t.Fatalf("NewAuthorizer: %v", err)
	}
	return a
}

func TestNewAuthorizerRequiresClientID(t *testing.T) {
	if _, err := NewAuthorizer(AuthorizerConfig{RedirectURL: "http://x"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestBeginAuthorization(t *testing.T) {
	a := newTestAuthorizer(t, http.NotFoundHandler())
	p, link, err := a.BeginAuthorization(context.Background())
	if err != nil {
		t.Fatalf("BeginAuthorization: %v", err)
	}
	if p.State == "" || p.Verifier == "" {
		t.Fatalf("pending = %+v", p)
	}
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	q := u.Query()
	if q.Get("state") != p.State {
		t.Errorf("state = %q want %q", q.Get("state"), p.State)
	}
	if q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
		t.Errorf("missing PKCE challenge in %s", link)
	}
	if q.Get("client_id") != "cid" {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}

	p2, _, _ := a.BeginAuthorization(context.Background())
	if p2.State == p.State {
		t.Error("states should differ between authorizations")
	}
}

func TestExchangeCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		if r.Form.Get("code_verifier") == "" {
			t.Error("missing code_verifier")
		}
		w.Header().Set("Content-Type", "application/json")
		if r.Form.Get("code") != "good" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_request","error_description":"Value passed for the authorization code was invalid."}`)
			return
		}
		fmt.Fprint(w, `{"access_token":"at","refresh_token":"rt","token_type":"bearer","expires_in":7200}`)
	})
	a := newTestAuthorizer(t, mux)
	p, _, _ := a.BeginAuthorization(context.Background())

	tok, err := a.ExchangeCode(context.Background(), p, " good ")
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if tok.AccessToken != "at" || tok.RefreshToken != "rt" {
		t.Errorf("token = %+v", tok)
	}

	tok, err = a.ExchangeCode(context.Background(), p, "http://localhost/cb?state="+p.State+"&code=good")
	if err != nil || tok.AccessToken != "at" {
		t.Fatalf("exchange from callback url: %v, %v", tok, err)
	}

	_, err = a.ExchangeCode(context.Background(), p, "bad")
	if !asClientError(err) {
		t.Fatalf("expected ClientError, got %v", err)
	}
	if !strings.Contains(err.Error(), "authorization code was invalid") {
		t.Errorf("reason = %q", err.Error())
	}
}

func TestExtractCode(t *testing.T) {
	p := Pending{State: "s1", Verifier: "v"}
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"bare", "abc", "abc", false},
		{"trimmed", "  abc\n", "abc", false},
		{"url", "http://localhost/cb?state=s1&code=xyz", "xyz", false},
		{"url without state", "http://localhost/cb?code=xyz", "xyz", false},
		{"state mismatch", "http://localhost/cb?state=other&code=xyz", "", true},
		{"no code", "http://localhost/cb?state=s1", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractCode(p, tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("code = %q want %q", got, tt.want)
			}
		})
	}
}

func TestBindRefreshesAndReports(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "old-rt" {
			t.Errorf("unexpected refresh form %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"new-at","refresh_token":"new-rt","token_type":"bearer","expires_in":7200}`)
	})
	mux.HandleFunc("/2/tweets", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer new-at" {
			t.Errorf("Authorization = %q", got)
		}
		fmt.Fprint(w, `{"data":{"id":"1"}}`)
	})
	a := newTestAuthorizer(t, mux)

	expired := &oauth2.Token{AccessToken: "old-at", RefreshToken: "old-rt", Expiry: time.Now().Add(-time.Hour)}
	var mu sync.Mutex
	var rotated *oauth2.Token
	c, err := a.Bind(context.Background(), expired, func(tok *oauth2.Token) {
		mu.Lock()
		rotated = tok
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := c.UpdateStatus(context.Background(), "hi"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if rotated == nil || rotated.AccessToken != "new-at" || rotated.RefreshToken != "new-rt" {
		t.Errorf("rotated = %+v", rotated)
	}
}

func TestBindRejectsEmptyToken(t *testing.T) {
	a := newTestAuthorizer(t, http.NotFoundHandler())
	if _, err := a.Bind(context.Background(), &oauth2.Token{}, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestTokenCodec(t *testing.T) {
	tok := &oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "bearer", Expiry: time.Unix(1700000000, 0).UTC()}
	s, err := EncodeToken(tok)
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}
	got, err := DecodeToken(s)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if got.AccessToken != "a" || got.RefreshToken != "r" || !got.Expiry.Equal(tok.Expiry) {
		t.Errorf("round trip = %+v", got)
	}
	if _, err := DecodeToken("not json"); err == nil {
		t.Error("expected error for garbage")
	}
	if _, err := DecodeToken(`{"refresh_token":"r"}`); err == nil {
		t.Error("expected error for missing access token")
	}
}

func TestRevokedRefreshTokenIsAuthExpired(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_request","error_description":"Value passed for the token was invalid."}`)
	})
	mux.HandleFunc("/2/tweets", func(w http.ResponseWriter, r *http.Request) {
		t.Error("API called without a valid token")
	})
	a := newTestAuthorizer(t, mux)

	expired := &oauth2.Token{AccessToken: "old-at", RefreshToken: "revoked", Expiry: time.Now().Add(-time.Hour)}
	c, err := a.Bind(context.Background(), expired, func(*oauth2.Token) {
		t.Error("refresh callback on a rejected refresh")
	})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	err = c.UpdateStatus(context.Background(), "hi")
	if !IsAuthExpired(err) {
		t.Errorf("IsAuthExpired(%v) = false", err)
	}
}
