package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// LoopbackAuthorizer prints the authorization URL and waits for the browser
// to be redirected to a local HTTP listener.
type LoopbackAuthorizer struct {
	RedirectURL string
	Out         io.Writer
	Open        func(url string) error // optional browser launcher
	Logger      zerolog.Logger
}

// Authorize implements Authorizer.
func (a *LoopbackAuthorizer) Authorize(ctx context.Context, authURL string) (*url.URL, error) {
	redirect, err := url.Parse(a.RedirectURL)
	if err != nil {
		return nil, fmt.Errorf("parse redirect url: %w", err)
	}
	if redirect.Scheme != "http" || redirect.Host == "" {
		return nil, fmt.Errorf("redirect url %q is not a loopback http url", a.RedirectURL)
	}

	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return nil, fmt.Errorf("listen for oauth2 callback: %w", err)
	}

	path := redirect.Path
	if path == "" {
		path = "/"
	}
	callbacks := make(chan *url.URL, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		u := *r.URL
		u.Scheme = redirect.Scheme
		u.Host = redirect.Host
		select {
		case callbacks <- &u:
		default:
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "Signed in. You can close this window.\n")
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Warn().Err(err).Msg("OAuth2 callback listener stopped")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if a.Out != nil {
		fmt.Fprintf(a.Out, "Open this URL to sign in:\n\n  %s\n\n", authURL)
	}
	if a.Open != nil {
		if err := a.Open(authURL); err != nil {
			a.Logger.Debug().Err(err).Msg("Could not open browser")
		}
	}

	select {
	case u := <-callbacks:
		return u, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
