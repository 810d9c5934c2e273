package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestHTTPClientDialsThroughResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	resolver := NewResolver(time.Minute, zerolog.Nop())
	client := NewHTTPClient(Options{Timeout: 5 * time.Second, Resolver: resolver})

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Fatalf("body = %q", body)
	}
}

func TestDialContextRejectsAddressWithoutPort(t *testing.T) {
	resolver := NewResolver(0, zerolog.Nop())
	if _, err := resolver.DialContext(context.Background(), "tcp", "127.0.0.1"); err == nil {
		t.Fatal("expected error for address without port")
	}
	if resolver.ttl != defaultRefreshTTL {
		t.Fatalf("ttl = %s, want default", resolver.ttl)
	}
}

func TestResolverRunStopsOnCancel(t *testing.T) {
	resolver := NewResolver(time.Millisecond, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		resolver.Run(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewHTTPClientDefaultsTimeout(t *testing.T) {
	client := NewHTTPClient(Options{})
	if client.Timeout != 15*time.Second {
		t.Fatalf("Timeout = %s", client.Timeout)
	}
}
