// Package auth implements the OAuth2 authorization code flow with PKCE used
// to obtain bearer tokens for the Tab service.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	apierrors "github.com/rcourtman/supertab-client/internal/errors"
)

// Authorization response failures.
var (
	ErrNoURL            = errors.New("authorization response does not include a url")
	ErrNoCode           = errors.New("authorization response does not include a code")
	ErrNoState          = errors.New("authorization response does not include a state")
	ErrStateMismatch    = errors.New("state in authorization response does not match the initial state")
	ErrAccessDenied     = errors.New("authorization was denied")
	ErrNoRefreshToken   = errors.New("no refresh token available")
	ErrEmptyAccessToken = errors.New("token response does not include an access token")
)

// Authorizer sends the user to the authorization URL and returns the URL the
// authorization server redirected back to.
type Authorizer interface {
	Authorize(ctx context.Context, authURL string) (*url.URL, error)
}

// SessionConfig describes a public OAuth2 client.
type SessionConfig struct {
	ClientID     string
	AuthorizeURL string
	TokenURL     string
	RedirectURL  string
	Scopes       []string
	HTTPClient   *http.Client // used for token requests; nil uses http.DefaultClient
}

// Session performs the individual OAuth2 round trips. It holds no tokens.
type Session struct {
	oauth      oauth2.Config
	authorizer Authorizer
	httpClient *http.Client
}

// NewSession returns a session that sends users through authorizer.
func NewSession(cfg SessionConfig, authorizer Authorizer) *Session {
	return &Session{
		oauth: oauth2.Config{
			ClientID: cfg.ClientID,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthorizeURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
		},
		authorizer: authorizer,
		httpClient: cfg.HTTPClient,
	}
}

func (s *Session) clientContext(ctx context.Context) context.Context {
	if s.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

// AuthCodeURL builds the authorization URL for the given state and verifier.
func (s *Session) AuthCodeURL(state, verifier string) string {
	return s.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// Authenticate runs the full authorization code flow and exchanges the code
// for tokens.
func (s *Session) Authenticate(ctx context.Context) (*oauth2.Token, error) {
	if s.authorizer == nil {
		return nil, apierrors.WrapAuthError("authenticate", errors.New("no authorizer configured"))
	}

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	callback, err := s.authorizer.Authorize(ctx, s.AuthCodeURL(state, verifier))
	if err != nil {
		return nil, apierrors.WrapAuthError("authorize", err)
	}
	code, err := codeFromCallback(callback, state)
	if err != nil {
		return nil, apierrors.WrapAuthError("authorize", err)
	}

	tok, err := s.oauth.Exchange(s.clientContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, apierrors.WrapAuthError("exchange_code", err)
	}
	if tok.AccessToken == "" {
		return nil, apierrors.WrapAuthError("exchange_code", ErrEmptyAccessToken)
	}
	return tok, nil
}

// Refresh trades a refresh token for a new token. The returned token keeps
// the old refresh token when the server does not rotate it.
func (s *Session) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, apierrors.WrapAuthError("refresh_token", ErrNoRefreshToken)
	}
	tok, err := s.oauth.TokenSource(s.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, apierrors.WrapAuthError("refresh_token", err)
	}
	return tok, nil
}

func codeFromCallback(callback *url.URL, state string) (string, error) {
	if callback == nil {
		return "", ErrNoURL
	}
	q := callback.Query()
	if e := q.Get("error"); e != "" {
		if desc := q.Get("error_description"); desc != "" {
			return "", fmt.Errorf("%w: %s: %s", ErrAccessDenied, e, desc)
		}
		return "", fmt.Errorf("%w: %s", ErrAccessDenied, e)
	}
	code := q.Get("code")
	if code == "" {
		return "", ErrNoCode
	}
	got := q.Get("state")
	if got == "" {
		return "", ErrNoState
	}
	if got != state {
		return "", ErrStateMismatch
	}
	return code, nil
}
