// Package transport builds the HTTP client shared by the Tab service client,
// the OAuth2 token exchange and the Stripe backend.
package transport

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog"
)

const defaultRefreshTTL = 5 * time.Minute

// Resolver is a caching DNS resolver refreshed in the background.
type Resolver struct {
	cache  *dnscache.Resolver
	ttl    time.Duration
	logger zerolog.Logger
	dialer *net.Dialer
}

// NewResolver returns a resolver whose cache is refreshed every ttl.
func NewResolver(ttl time.Duration, logger zerolog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = defaultRefreshTTL
	}
	return &Resolver{
		cache:  &dnscache.Resolver{},
		ttl:    ttl,
		logger: logger,
		dialer: &net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		},
	}
}

// Run refreshes the cache until ctx is cancelled. Entries not used since the
// previous refresh are dropped.
func (r *Resolver) Run(ctx context.Context) {
	ticker := time.NewTicker(r.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cache.Refresh(true)
			r.logger.Debug().Dur("ttl", r.ttl).Msg("DNS cache refreshed")
		}
	}
}

// DialContext resolves the host through the cache and dials the resolved
// addresses in order until one connects.
func (r *Resolver) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	ips, err := r.cache.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{
			Err:  "no IP addresses found",
			Name: host,
		}
	}

	var lastErr error
	for _, ip := range ips {
		conn, err := r.dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Options configures NewHTTPClient.
type Options struct {
	Timeout  time.Duration
	Resolver *Resolver // nil uses the system resolver
}

// NewHTTPClient returns a client with sane connection pooling and, when a
// resolver is supplied, cached DNS lookups.
func NewHTTPClient(opts Options) *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 20
	t.MaxIdleConnsPerHost = 4
	t.IdleConnTimeout = 90 * time.Second
	t.TLSHandshakeTimeout = 10 * time.Second
	if opts.Resolver != nil {
		t.DialContext = opts.Resolver.DialContext
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{
		Transport: t,
		Timeout:   timeout,
	}
}
