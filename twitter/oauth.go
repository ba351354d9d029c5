package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/onnwee/tweetchat/oauth"
)

// Default OAuth 2.0 endpoints.
const (
	DefaultAuthURL  = "https://twitter.com/i/oauth2/authorize"
	DefaultTokenURL = "https://api.twitter.com/2/oauth2/token"
)

// DefaultScopes grant everything the command set needs plus a refresh token.
var DefaultScopes = []string{"tweet.read", "tweet.write", "users.read", "dm.read", "dm.write", "offline.access"}

// Pending is the handle of an authorization in progress: the PKCE verifier
// and the state echoed back on the callback.
type Pending struct {
	State    string
	Verifier string
}

// AuthorizerConfig configures an Authorizer.
type AuthorizerConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	AuthURL      string
	TokenURL     string
	APIBase      string
	PageSize     int
	// HTTPClient is used for token and API requests when non-nil.
	HTTPClient *http.Client
}

// Authorizer runs the authorization-code + PKCE handshake and binds API
// clients to the resulting tokens.
type Authorizer struct {
	oauth    *oauth2.Config
	apiBase  string
	pageSize int
	hc       *http.Client
}

// NewAuthorizer validates cfg and applies defaults.
func NewAuthorizer(cfg AuthorizerConfig) (*Authorizer, error) {
	if cfg.ClientID == "" || cfg.RedirectURL == "" {
		return nil, errors.New("twitter oauth requires client id and redirect url")
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	authURL, tokenURL := cfg.AuthURL, cfg.TokenURL
	if authURL == "" {
		authURL = DefaultAuthURL
	}
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	style := oauth2.AuthStyleInParams
	if cfg.ClientSecret != "" {
		style = oauth2.AuthStyleInHeader
	}
	return &Authorizer{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: style,
			},
		},
		apiBase:  cfg.APIBase,
		pageSize: cfg.PageSize,
		hc:       cfg.HTTPClient,
	}, nil
}

func (a *Authorizer) context(ctx context.Context) context.Context {
	if a.hc != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, a.hc)
	}
	return ctx
}

// BeginAuthorization creates a pending handle and the URL the user must
// visit to grant access.
func (a *Authorizer) BeginAuthorization(_ context.Context) (Pending, string, error) {
	p := Pending{State: uuid.NewString(), Verifier: oauth2.GenerateVerifier()}
	return p, a.oauth.AuthCodeURL(p.State, oauth2.S256ChallengeOption(p.Verifier)), nil
}

// ExchangeCode trades the code the user copied from the callback for a token.
// input may be the bare code or the full callback URL; in the latter case
// its state must match p. Rejections by the token endpoint are *ClientError.
func (a *Authorizer) ExchangeCode(ctx context.Context, p Pending, input string) (*oauth2.Token, error) {
	code, err := extractCode(p, input)
	if err != nil {
		return nil, err
	}
	tok, err := a.oauth.Exchange(a.context(ctx), code, oauth2.VerifierOption(p.Verifier))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			reason := re.ErrorDescription
			if reason == "" {
				reason = re.ErrorCode
			}
			if reason == "" && re.Response != nil {
				reason = re.Response.Status
			}
			status := 0
			if re.Response != nil {
				status = re.Response.StatusCode
			}
			return nil, &ClientError{Status: status, Reason: reason}
		}
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return tok, nil
}

// Bind returns an API client authorized by tok. Each time the underlying
// transport refreshes the token, onRefresh receives the new one.
func (a *Authorizer) Bind(ctx context.Context, tok *oauth2.Token, onRefresh func(*oauth2.Token)) (*Client, error) {
	if tok == nil || tok.AccessToken == "" {
		return nil, errors.New("bind client: empty access token")
	}
	base := a.context(context.WithoutCancel(ctx))
	src := oauth.NewPersistingSource(a.oauth.TokenSource(base, tok), tok, onRefresh)
	return NewClient(oauth2.NewClient(base, src), a.apiBase, a.pageSize), nil
}

func extractCode(p Pending, input string) (string, error) {
	input = strings.TrimSpace(input)
	if !strings.Contains(input, "://") {
		return input, nil
	}
	u, err := url.Parse(input)
	if err != nil {
		return "", &ClientError{Reason: "Malformed callback URL"}
	}
	q := u.Query()
	if st := q.Get("state"); st != "" && st != p.State {
		return "", &ClientError{Reason: "Callback state does not match the pending authorization"}
	}
	code := q.Get("code")
	if code == "" {
		return "", &ClientError{Reason: "Callback URL has no code"}
	}
	return code, nil
}

// EncodeToken serializes tok for storage.
func EncodeToken(tok *oauth2.Token) (string, error) {
	if tok == nil {
		return "", errors.New("encode token: nil token")
	}
	b, err := json.Marshal(tok)
	if err != nil {
		return "", fmt.Errorf("encode token: %w", err)
	}
	return string(b), nil
}

// DecodeToken parses a token produced by EncodeToken.
func DecodeToken(s string) (*oauth2.Token, error) {
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(s), &tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, errors.New("decode token: missing access token")
	}
	return &tok, nil
}
