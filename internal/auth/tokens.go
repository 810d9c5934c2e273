package auth

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	apierrors "github.com/rcourtman/supertab-client/internal/errors"
)

const (
	// DefaultRefreshLeeway is how long before expiry a token is refreshed.
	DefaultRefreshLeeway = 60 * time.Second
	// DefaultAuthTimeout bounds one shared refresh or interactive login.
	DefaultAuthTimeout = 5 * time.Minute
)

// Flow is the subset of Session used by TokenManager.
type Flow interface {
	Authenticate(ctx context.Context) (*oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// TokenManager keeps the current token pair and hands out valid access
// tokens, authenticating or refreshing as needed. Concurrent callers share a
// single ongoing authentication, which outlives any one caller's context.
type TokenManager struct {
	flow        Flow
	leeway      time.Duration
	authTimeout time.Duration
	logger      zerolog.Logger
	now         func() time.Time

	mu    sync.RWMutex
	token *oauth2.Token

	group singleflight.Group
}

// NewTokenManager returns a manager with no tokens.
func NewTokenManager(flow Flow, leeway time.Duration, logger zerolog.Logger) *TokenManager {
	if leeway < 0 {
		leeway = DefaultRefreshLeeway
	}
	return &TokenManager{
		flow:        flow,
		leeway:      leeway,
		authTimeout: DefaultAuthTimeout,
		logger:      logger,
		now:         time.Now,
	}
}

// EnsureValidAccessToken returns an access token that will not expire within
// the refresh leeway.
func (m *TokenManager) EnsureValidAccessToken(ctx context.Context) (string, error) {
	if tok := m.current(); m.fresh(tok) {
		return tok.AccessToken, nil
	}

	ch := m.group.DoChan("token", func() (interface{}, error) {
		tok := m.current()
		if m.fresh(tok) {
			return tok, nil
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.authTimeout)
		defer cancel()
		next, err := m.obtain(sctx, tok)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.token = next
		m.mu.Unlock()
		return next, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			m.logger.Debug().Msg("Joined in-flight authentication")
		}
		return res.Val.(*oauth2.Token).AccessToken, nil
	}
}

func (m *TokenManager) obtain(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	if tok == nil {
		m.logger.Info().Msg("No tokens yet, starting authentication")
		return m.flow.Authenticate(ctx)
	}

	if tok.RefreshToken != "" {
		refreshed, err := m.flow.Refresh(ctx, tok.RefreshToken)
		if err == nil {
			if refreshed.RefreshToken == "" {
				refreshed.RefreshToken = tok.RefreshToken
			}
			m.logger.Debug().Time("expiry", refreshed.Expiry).Msg("Access token refreshed")
			return refreshed, nil
		}
		m.logger.Warn().Err(err).Msg("Token refresh failed, falling back to authentication")
	}
	return m.flow.Authenticate(ctx)
}

func (m *TokenManager) current() *oauth2.Token {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

func (m *TokenManager) fresh(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	if tok.Expiry.IsZero() {
		return true
	}
	return m.now().Add(m.leeway).Before(tok.Expiry)
}

// Token returns a copy of the current token, or nil.
func (m *TokenManager) Token() *oauth2.Token {
	tok := m.current()
	if tok == nil {
		return nil
	}
	c := *tok
	return &c
}

// setToken seeds the manager with a previously issued token.
func (m *TokenManager) setToken(tok *oauth2.Token) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = tok
}

// Invalidate forgets the access token so the next call refreshes. The
// refresh token is kept.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return
	}
	m.token = &oauth2.Token{RefreshToken: m.token.RefreshToken}
}

// Static hands out a fixed access token. It is used against the mock
// backend and in tests.
type Static string

// EnsureValidAccessToken returns the fixed token.
func (s Static) EnsureValidAccessToken(context.Context) (string, error) {
	if s == "" {
		return "", apierrors.ErrMissingTokens
	}
	return string(s), nil
}
