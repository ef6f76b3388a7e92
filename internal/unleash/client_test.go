package unleash

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	xerrors "defiseek/internal/errors"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}
	return client, server
}

func TestClientSendsAPIKeyHeader(t *testing.T) {
	var gotKey, gotAccept string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotAccept = r.Header.Get("accept")
		w.Write([]byte(`{"data":[{"id":1}]}`))
	}))

	if _, err := client.Get(context.Background(), "/blockchains", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotKey != "test-key" {
		t.Fatalf("unexpected x-api-key: got %q want %q", gotKey, "test-key")
	}
	if gotAccept != "application/json" {
		t.Fatalf("unexpected accept header: got %q", gotAccept)
	}
}

func TestClientNon2xxIsTransportError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))

	_, err := client.Get(context.Background(), "/wallet/score", nil)
	if !xerrors.IsCode(err, xerrors.CodeAgentTransport) {
		t.Fatalf("unexpected error code: got %v want %v", xerrors.CodeOf(err), xerrors.CodeAgentTransport)
	}
	e, _ := xerrors.From(err)
	if e.Metadata()["status"] != "429" {
		t.Fatalf("expected status metadata, got %v", e.Metadata())
	}
}

func TestClientEmptyDataIsUnavailable(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))

	_, err := client.Get(context.Background(), "/wallet/score", nil)
	if !xerrors.IsCode(err, xerrors.CodeAgentDataUnavailable) {
		t.Fatalf("unexpected error code: got %v", xerrors.CodeOf(err))
	}
}

func TestClientDoesNotRetry(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	if _, err := client.Get(context.Background(), "/blockchains", nil); err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("unexpected call count: got %d want 1", got)
	}
}

func TestClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(Config{APIKeyEnv: "UNLEASH_TEST_MISSING_KEY"}); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestChainCacheServesFreshWithoutRefetch(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"data":[{"id":1,"name":"Ethereum","slug":"ethereum"},{"id":137,"name":"Polygon","slug":"polygon"}]}`))
	}))

	cache := NewChainCache(client, time.Minute)
	for i := 0; i < 3; i++ {
		chains, err := cache.Supported(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(chains) != 2 {
			t.Fatalf("unexpected chain count: got %d want 2", len(chains))
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("unexpected upstream calls: got %d want 1", got)
	}
}

func TestChainCacheServesStaleOnFailure(t *testing.T) {
	var fail atomic.Bool
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"data":[{"id":1,"name":"Ethereum","slug":"ethereum"}]}`))
	}))

	cache := NewChainCache(client, time.Nanosecond)
	if _, err := cache.Supported(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fail.Store(true)
	time.Sleep(time.Millisecond)
	chains, err := cache.Supported(context.Background())
	if err != nil {
		t.Fatalf("expected stale data, got error: %v", err)
	}
	if len(chains) != 1 || chains[0].Slug != "ethereum" {
		t.Fatalf("unexpected stale chains: %+v", chains)
	}
}

func TestChainCacheErrorsWhenNeverPopulated(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))

	cache := NewChainCache(client, time.Minute)
	if _, err := cache.Supported(context.Background()); err == nil {
		t.Fatal("expected error when cache was never populated")
	}
}
