package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/heygpt/heygpt/internal/upstream"
)

// Entry is the stored response envelope. Entries are write-once: they are
// created on the first successful upstream call for a fingerprint and never
// mutated, only overwritten or expired.
type Entry struct {
	Response  json.RawMessage `json:"response"`
	Usage     upstream.Usage  `json:"usage"`
	CreatedAt time.Time       `json:"created_at"`
}

// Stats is the cumulative cache statistics snapshot.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"` // percent, rounded to 2 decimals
	Entries int     `json:"entries"`
}

// ResponseCache caches upstream responses keyed by a deterministic
// fingerprint of the normalized request payload and the model identifier.
//
// Every Get increments exactly one of the hit or miss counters. A nil
// Store disables caching: Get always misses and Set is a no-op, which
// keeps handler code free of cache-mode branching.
type ResponseCache struct {
	store Store
	ttl   time.Duration
	log   *slog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewResponseCache creates a ResponseCache over store with the given TTL.
// A zero or negative ttl defaults to 1 hour.
func NewResponseCache(store Store, ttl time.Duration, log *slog.Logger) *ResponseCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &ResponseCache{store: store, ttl: ttl, log: log}
}

// Fingerprint returns the cache key for a normalized payload and model.
//
// The payload must contain only the semantically relevant request fields —
// never request IDs or timestamps — so that identical requests collide and
// different requests never do. Serialization goes through encoding/json,
// which emits struct fields in declaration order and map keys sorted, so
// the result is deterministic for a given payload value.
func Fingerprint(payload any, model string) string {
	data, err := json.Marshal(struct {
		Model   string `json:"m"`
		Payload any    `json:"p"`
	}{model, payload})
	if err != nil {
		// Unmarshalable payloads get a key nothing else produces, which
		// degrades to a guaranteed miss rather than a failure.
		data = []byte("unfingerprintable")
	}
	h := sha256.Sum256(data)
	return "cache:" + hex.EncodeToString(h[:])
}

// Get looks up a live entry for the payload+model fingerprint.
// Expired, absent, and unreadable entries all count as misses; backend
// failures surface here as misses too, never as errors.
func (c *ResponseCache) Get(ctx context.Context, payload any, model string) (*Entry, bool) {
	if c.store == nil {
		c.misses.Add(1)
		return nil, false
	}

	key := Fingerprint(payload, model)
	raw, ok := c.store.Get(ctx, key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		// Malformed stored state: drop it and treat as a miss.
		c.log.WarnContext(ctx, "cache_entry_corrupt",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		_ = c.store.Delete(ctx, key)
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return &e, true
}

// Set stores the response and usage metadata under the payload+model
// fingerprint, overwriting any existing entry. Backend failures are
// swallowed by the store layer, so Set never fails the caller.
func (c *ResponseCache) Set(ctx context.Context, payload any, model string, response json.RawMessage, usage upstream.Usage) {
	if c.store == nil {
		return
	}

	e := Entry{
		Response:  response,
		Usage:     usage,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(e)
	if err != nil {
		c.log.WarnContext(ctx, "cache_entry_marshal_error",
			slog.String("error", err.Error()),
		)
		return
	}

	if err := c.store.Set(ctx, Fingerprint(payload, model), data, c.ttl); err != nil {
		c.log.WarnContext(ctx, "cache_set_error",
			slog.String("error", err.Error()),
		)
	}
}

// Stats returns cumulative hit/miss counters, the derived hit rate as a
// percentage, and the current entry count.
func (c *ResponseCache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var rate float64
	if total := hits + misses; total > 0 {
		rate = math.Round(float64(hits)/float64(total)*100*100) / 100
	}

	entries := 0
	if c.store != nil {
		entries = c.store.Len(context.Background())
	}

	return Stats{
		Hits:    hits,
		Misses:  misses,
		HitRate: rate,
		Entries: entries,
	}
}
