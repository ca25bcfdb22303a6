package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestProviderCheck(t *testing.T) {
	var gotAuth, gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("X-Api-Key")
		gotLimit = r.URL.Query().Get("limit")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"series": [1]}`))
	}))
	defer srv.Close()

	p := NewProvider("alpha", srv.URL, zerolog.Nop()).
		WithAuth("X-Api-Key", StaticCredentials("secret-key"))

	check := p.Check("/v1/series")
	body, status, err := check(context.Background(), map[string]interface{}{"limit": 100})
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if string(body) != `{"series": [1]}` {
		t.Fatalf("body = %q", body)
	}
	if gotAuth != "secret-key" {
		t.Errorf("auth header = %q, want secret-key", gotAuth)
	}
	if gotLimit != "100" {
		t.Errorf("limit param = %q, want 100", gotLimit)
	}
}

func TestProviderCheckErrorStatusPassedThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewProvider("alpha", srv.URL, zerolog.Nop())
	_, status, err := p.Check("/v1/prices")(context.Background(), nil)
	if err != nil {
		t.Fatalf("transport error not expected: %v", err)
	}
	if status != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", status)
	}
}

func TestProviderCheckRespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewProvider("alpha", srv.URL, zerolog.Nop())
	_, _, err := p.Check("/v1/prices")(ctx, nil)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
