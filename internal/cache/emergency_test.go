package cache

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// TestMemoryMode exercises the cache without a Redis backend
func TestMemoryMode(t *testing.T) {
	e := NewEmergency(Config{Enabled: false}, zerolog.Nop())
	ctx := context.Background()

	if _, ok := e.Get(ctx, "alpha", "quotes"); ok {
		t.Fatal("empty cache should miss")
	}

	e.Store(ctx, "alpha", "quotes", []byte(`{"price": 1.23}`))

	entry, ok := e.Get(ctx, "alpha", "quotes")
	if !ok {
		t.Fatal("stored entry should be readable")
	}
	if string(entry.Payload) != `{"price": 1.23}` {
		t.Errorf("unexpected payload %q", entry.Payload)
	}

	// Keys are scoped per (source, endpoint)
	if _, ok := e.Get(ctx, "alpha", "candles"); ok {
		t.Error("different endpoint should miss")
	}
	if _, ok := e.Get(ctx, "beta", "quotes"); ok {
		t.Error("different source should miss")
	}
}

// TestFreshness checks the freshness window logic
func TestFreshness(t *testing.T) {
	entry := Entry{Payload: []byte("x"), StoredAt: time.Now().Add(-10 * time.Minute)}

	if !entry.Fresh(time.Hour) {
		t.Error("10 minute old entry should be fresh within 1h window")
	}
	if entry.Fresh(time.Minute) {
		t.Error("10 minute old entry should be stale within 1m window")
	}
}

// TestOverwrite checks the latest payload wins
func TestOverwrite(t *testing.T) {
	e := NewEmergency(Config{Enabled: false}, zerolog.Nop())
	ctx := context.Background()

	e.Store(ctx, "s", "e", []byte("old"))
	e.Store(ctx, "s", "e", []byte("new"))

	entry, _ := e.Get(ctx, "s", "e")
	if string(entry.Payload) != "new" {
		t.Errorf("got %q, want new", entry.Payload)
	}
}
