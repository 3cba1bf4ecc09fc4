package cache

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/heygpt/heygpt/internal/upstream"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type payload struct {
	Tool string `json:"tool"`
	Text string `json:"text"`
}

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint(payload{Tool: "summarize", Text: "hello"}, "claude-3-5-haiku-20241022")
	b := Fingerprint(payload{Tool: "summarize", Text: "hello"}, "claude-3-5-haiku-20241022")
	if a != b {
		t.Errorf("identical inputs produced different keys:\n%s\n%s", a, b)
	}
	if !strings.HasPrefix(a, "cache:") {
		t.Errorf("key %q missing cache: prefix", a)
	}
}

func TestFingerprintDiscriminates(t *testing.T) {
	base := Fingerprint(payload{Tool: "summarize", Text: "hello"}, "model-a")

	variants := map[string]string{
		"different text":  Fingerprint(payload{Tool: "summarize", Text: "hello!"}, "model-a"),
		"different tool":  Fingerprint(payload{Tool: "paraphrase", Text: "hello"}, "model-a"),
		"different model": Fingerprint(payload{Tool: "summarize", Text: "hello"}, "model-b"),
	}
	for name, got := range variants {
		if got == base {
			t.Errorf("%s must change the fingerprint", name)
		}
	}
}

func TestResponseCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(ctx)
	defer store.Close()

	c := NewResponseCache(store, time.Minute, discardLogger())
	p := payload{Tool: "translate", Text: "kumusta"}

	if _, ok := c.Get(ctx, p, "m"); ok {
		t.Fatal("empty cache must miss")
	}

	c.Set(ctx, p, "m", json.RawMessage(`"hello"`), upstream.Usage{InputTokens: 12, OutputTokens: 3})

	e, ok := c.Get(ctx, p, "m")
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if string(e.Response) != `"hello"` {
		t.Errorf("response = %s", e.Response)
	}
	if e.Usage.InputTokens != 12 || e.Usage.OutputTokens != 3 {
		t.Errorf("usage = %+v", e.Usage)
	}
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 {
		t.Errorf("stats = %+v, want 1 hit 1 miss", st)
	}
	if st.HitRate != 50 {
		t.Errorf("hit rate = %v, want 50", st.HitRate)
	}
	if st.Entries != 1 {
		t.Errorf("entries = %d, want 1", st.Entries)
	}
}

func TestResponseCacheNilStore(t *testing.T) {
	ctx := context.Background()
	c := NewResponseCache(nil, time.Minute, discardLogger())
	p := payload{Tool: "chat", Text: "x"}

	c.Set(ctx, p, "m", json.RawMessage(`"y"`), upstream.Usage{})
	if _, ok := c.Get(ctx, p, "m"); ok {
		t.Fatal("nil store must always miss")
	}

	st := c.Stats()
	if st.Hits != 0 || st.Misses != 1 || st.Entries != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestResponseCacheCorruptEntry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(ctx)
	defer store.Close()

	c := NewResponseCache(store, time.Minute, discardLogger())
	p := payload{Tool: "summarize", Text: "abc"}

	// Plant garbage directly under the fingerprint.
	key := Fingerprint(p, "m")
	if err := store.Set(ctx, key, []byte("{not json"), time.Minute); err != nil {
		t.Fatal(err)
	}

	if _, ok := c.Get(ctx, p, "m"); ok {
		t.Fatal("corrupt entry must miss")
	}
	// The corrupt entry must have been evicted.
	if _, ok := store.Get(ctx, key); ok {
		t.Error("corrupt entry still present after Get")
	}
	if st := c.Stats(); st.Misses != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestResponseCacheExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(ctx)
	defer store.Close()

	c := NewResponseCache(store, 10*time.Millisecond, discardLogger())
	p := payload{Tool: "grammar-check", Text: "teh"}

	c.Set(ctx, p, "m", json.RawMessage(`"the"`), upstream.Usage{})
	if _, ok := c.Get(ctx, p, "m"); !ok {
		t.Fatal("expected hit before expiry")
	}

	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get(ctx, p, "m"); ok {
		t.Fatal("expected miss after TTL")
	}
}

func TestStatsHitRateRounding(t *testing.T) {
	c := NewResponseCache(nil, time.Minute, discardLogger())
	// 1 hit / 3 total = 33.333... → 33.33
	c.hits.Store(1)
	c.misses.Store(2)
	if got := c.Stats().HitRate; got != 33.33 {
		t.Errorf("hit rate = %v, want 33.33", got)
	}
}

func TestStatsZeroTraffic(t *testing.T) {
	c := NewResponseCache(nil, time.Minute, discardLogger())
	if got := c.Stats().HitRate; got != 0 {
		t.Errorf("hit rate with no traffic = %v, want 0", got)
	}
}
