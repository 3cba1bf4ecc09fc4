package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/heygpt/heygpt/internal/cache"
	"github.com/heygpt/heygpt/internal/keys"
	"github.com/heygpt/heygpt/internal/logger"
	"github.com/heygpt/heygpt/internal/metrics"
	"github.com/heygpt/heygpt/internal/ratelimit"
	"github.com/heygpt/heygpt/internal/server"
	"github.com/heygpt/heygpt/internal/upstream"
)

// initInfra establishes optional external connections.
// Redis is required when CACHE_MODE=redis or rate limiting is enabled.
// ClickHouse is required only when CLICKHOUSE_ADDR is set.
func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.Cache.Mode == "redis" || a.cfg.RateLimit.RPMLimit > 0 {
		a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

		rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.log.Info("redis connected")
	}

	if a.cfg.ClickHouse.Addr != "" {
		sink, err := logger.NewClickHouseSink(ctx, a.cfg.ClickHouse.Addr, a.cfg.ClickHouse.Database)
		if err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
		a.chSink = sink
		a.log.Info("clickhouse connected", slog.String("addr", a.cfg.ClickHouse.Addr))
	}

	return nil
}

// initUpstream builds the Anthropic client and the rotating credential pool.
// At least one API key is enforced by config validation before we reach here.
func (a *App) initUpstream(_ context.Context) error {
	var opts []upstream.Option
	if a.cfg.Anthropic.BaseURL != "" {
		opts = append(opts, upstream.WithBaseURL(a.cfg.Anthropic.BaseURL))
	}
	if a.cfg.Anthropic.Timeout > 0 {
		opts = append(opts, upstream.WithTimeout(a.cfg.Anthropic.Timeout))
	}
	a.client = upstream.NewClient(opts...)

	km, err := keys.NewManager(a.cfg.Anthropic.APIKeys, keys.Config{
		DegradedThreshold: a.cfg.Keys.DegradedThreshold,
		OpenThreshold:     a.cfg.Keys.OpenThreshold,
		Cooldown:          a.cfg.Keys.Cooldown,
	}, a.log)
	if err != nil {
		return fmt.Errorf("key pool: %w", err)
	}
	a.keyManager = km

	a.log.Info("credential pool loaded", slog.Int("keys", len(a.cfg.Anthropic.APIKeys)))
	return nil
}

// initServices creates the response cache, the Prometheus registry, and the
// async request logger.
func (a *App) initServices(ctx context.Context) error {
	var store cache.Store

	switch a.cfg.Cache.Mode {
	case "redis":
		a.redisStore = cache.NewRedisStoreFromClient(a.rdb)
		store = a.redisStore
		a.log.Info("cache backend: redis")

	case "memory":
		a.memStore = cache.NewMemoryStore(ctx)
		store = a.memStore
		a.log.Info("cache backend: memory (in-process)")

	case "none":
		// nil store — ResponseCache treats every lookup as a miss.
		a.log.Info("cache backend: disabled")

	default:
		return fmt.Errorf("unknown cache mode: %s", a.cfg.Cache.Mode)
	}

	a.respCache = cache.NewResponseCache(store, a.cfg.Cache.TTL, a.log)

	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	var sink logger.Sink
	if a.chSink != nil {
		sink = a.chSink
	}
	reqLogger, err := logger.New(a.baseCtx, a.log, sink)
	if err != nil {
		return fmt.Errorf("request logger: %w", err)
	}
	a.reqLogger = reqLogger

	return nil
}

// initServer wires together the HTTP server with all configured subsystems.
func (a *App) initServer(_ context.Context) error {
	opts := server.Options{
		Keys:          a.keyManager,
		Cache:         a.respCache,
		Upstream:      a.client,
		Metrics:       a.prom,
		RequestLogger: a.reqLogger,
		Logger:        a.log,
		DefaultModel:  a.cfg.Anthropic.DefaultModel,
		CORSOrigins:   a.cfg.CORSOrigins,
		Version:       a.version,
	}

	// Store health probe for /api/health.
	switch {
	case a.redisStore != nil:
		opts.StoreReady = a.redisStore.Ready
	case a.memStore != nil:
		opts.StoreReady = func(context.Context) bool { return true }
	}

	// Rate limiting — only when Redis is available.
	if a.rdb != nil && a.cfg.RateLimit.RPMLimit > 0 {
		opts.Limiter = ratelimit.NewRPMLimiter(a.rdb, a.cfg.RateLimit.RPMLimit)
		a.log.Info("rate limiting enabled", slog.Int("rpm_limit", a.cfg.RateLimit.RPMLimit))
	}

	// Cache exclusions.
	if len(a.cfg.Cache.ExcludeExact) > 0 || len(a.cfg.Cache.ExcludePatterns) > 0 {
		el, err := cache.NewExclusionList(a.cfg.Cache.ExcludeExact, a.cfg.Cache.ExcludePatterns)
		if err != nil {
			return fmt.Errorf("cache exclusions: %w", err)
		}
		opts.Exclusions = el
		a.log.Info("cache exclusions loaded", slog.Int("rules", el.Len()))
	}

	a.srv = server.New(opts)

	return nil
}

// redactURL replaces the userinfo portion of a URL with "***" for safe logging.
// e.g. "redis://:secret@localhost:6379" → "redis://***@localhost:6379"
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			// Find the scheme end ("://") and keep only scheme + "***" + @host.
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
