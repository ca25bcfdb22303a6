// Package cache provides the last-known-good payload store used by the
// cached-data healing strategy. Redis-backed with graceful degradation:
// when Redis is unavailable the in-memory copy keeps serving reads.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Entry is one cached payload with its storage time
type Entry struct {
	Payload  []byte    `json:"payload"`
	StoredAt time.Time `json:"stored_at"`
}

// Fresh reports whether the entry is still inside the freshness window
func (e Entry) Fresh(window time.Duration) bool {
	return time.Since(e.StoredAt) <= window
}

// Config holds emergency cache settings
type Config struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	PoolSize int
	TTL      time.Duration
}

// Emergency is the last-known-good payload cache. Writes go to both the
// in-memory map and Redis; reads prefer memory and fall through to Redis
// so entries survive restarts.
type Emergency struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger

	mu           sync.RWMutex
	mem          map[string]Entry
	healthy      bool
	failureCount int
	maxFailures  int
}

// NewEmergency creates the cache. A disabled or unreachable Redis leaves
// the cache in memory-only mode rather than failing startup.
func NewEmergency(cfg Config, log zerolog.Logger) *Emergency {
	e := &Emergency{
		ttl:         cfg.TTL,
		log:         log.With().Str("component", "emergency_cache").Logger(),
		mem:         make(map[string]Entry),
		maxFailures: 3,
	}
	if e.ttl <= 0 {
		e.ttl = 24 * time.Hour
	}

	if !cfg.Enabled {
		return e
	}

	e.client = redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.client.Ping(ctx).Err(); err != nil {
		e.log.Warn().Err(err).Msg("redis unavailable, emergency cache in memory-only mode")
		return e
	}

	e.healthy = true
	e.log.Info().Str("address", cfg.Address).Msg("emergency cache connected to redis")
	return e
}

func cacheKey(source, endpoint string) string {
	return fmt.Sprintf("emergency:%s:%s", source, endpoint)
}

// Store saves the latest good payload for an endpoint
func (e *Emergency) Store(ctx context.Context, source, endpoint string, payload []byte) {
	entry := Entry{Payload: payload, StoredAt: time.Now().UTC()}

	e.mu.Lock()
	e.mem[cacheKey(source, endpoint)] = entry
	healthy := e.healthy
	e.mu.Unlock()

	if e.client == nil || !healthy {
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := e.client.Set(ctx, cacheKey(source, endpoint), data, e.ttl).Err(); err != nil {
		e.recordFailure(err)
		return
	}
	e.recordSuccess()
}

// Get returns the cached entry for an endpoint, if any
func (e *Emergency) Get(ctx context.Context, source, endpoint string) (Entry, bool) {
	e.mu.RLock()
	entry, ok := e.mem[cacheKey(source, endpoint)]
	healthy := e.healthy
	e.mu.RUnlock()
	if ok {
		return entry, true
	}

	if e.client == nil || !healthy {
		return Entry{}, false
	}

	data, err := e.client.Get(ctx, cacheKey(source, endpoint)).Bytes()
	if err != nil {
		if err != redis.Nil {
			e.recordFailure(err)
		}
		return Entry{}, false
	}
	e.recordSuccess()

	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, false
	}

	e.mu.Lock()
	e.mem[cacheKey(source, endpoint)] = entry
	e.mu.Unlock()
	return entry, true
}

// IsHealthy reports whether the Redis backend is currently reachable
func (e *Emergency) IsHealthy() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.healthy
}

func (e *Emergency) recordFailure(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failureCount++
	if e.failureCount >= e.maxFailures && e.healthy {
		e.log.Warn().Err(err).Int("failures", e.failureCount).
			Msg("redis marked unhealthy, serving from memory")
		e.healthy = false
	}
}

func (e *Emergency) recordSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.healthy && e.client != nil {
		e.log.Info().Msg("redis recovered")
	}
	if e.client != nil {
		e.healthy = true
	}
	e.failureCount = 0
}

// Close releases the Redis connection
func (e *Emergency) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}
