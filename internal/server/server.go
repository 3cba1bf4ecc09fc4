// Package server exposes the HTTP API: the writing-tool endpoints, the chat
// endpoint, the aggregate health document, and Prometheus metrics.
package server

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/heygpt/heygpt/internal/cache"
	"github.com/heygpt/heygpt/internal/keys"
	"github.com/heygpt/heygpt/internal/logger"
	"github.com/heygpt/heygpt/internal/metrics"
	"github.com/heygpt/heygpt/internal/ratelimit"
	"github.com/heygpt/heygpt/internal/upstream"
)

// Server wires the tool handlers to the credential pool, the response cache,
// and the upstream client. Construct with New; zero value is not usable.
type Server struct {
	keys       *keys.Manager
	cache      *cache.ResponseCache
	upstream   *upstream.Client
	limiter    *ratelimit.RPMLimiter
	exclusions *cache.ExclusionList
	metrics    *metrics.Registry
	reqLogger  *logger.Logger
	log        *slog.Logger

	defaultModel string
	corsOrigins  []string
	storeReady   func(context.Context) bool
	version      string
	startTime    time.Time

	httpServer *fasthttp.Server
}

// Options configures a Server. Keys, Cache, and Upstream are required;
// everything else is optional and nil-safe.
type Options struct {
	Keys     *keys.Manager
	Cache    *cache.ResponseCache
	Upstream *upstream.Client

	Limiter       *ratelimit.RPMLimiter
	Exclusions    *cache.ExclusionList
	Metrics       *metrics.Registry
	RequestLogger *logger.Logger
	Logger        *slog.Logger

	DefaultModel string
	CORSOrigins  []string

	// StoreReady probes the cache backing store for the health document.
	// Nil means no external store is configured.
	StoreReady func(context.Context) bool

	Version string
}

func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		keys:         opts.Keys,
		cache:        opts.Cache,
		upstream:     opts.Upstream,
		limiter:      opts.Limiter,
		exclusions:   opts.Exclusions,
		metrics:      opts.Metrics,
		reqLogger:    opts.RequestLogger,
		log:          log,
		defaultModel: opts.DefaultModel,
		corsOrigins:  opts.CORSOrigins,
		storeReady:   opts.StoreReady,
		version:      opts.Version,
		startTime:    time.Now(),
	}
}

// Handler builds the full request handler: routes wrapped in the middleware
// chain. Safe to call more than once.
func (s *Server) Handler() fasthttp.RequestHandler {
	r := router.New()

	r.POST("/api/chat", s.instrument("chat", s.handleChat))
	for _, spec := range toolRegistry() {
		r.POST("/api/"+spec.name, s.instrument(spec.name, s.makeToolHandler(spec)))
	}

	r.GET("/api/health", s.instrument("health", s.handleHealth))
	if s.metrics != nil {
		r.GET("/metrics", s.metrics.Handler())
	}

	r.NotFound = func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"error":{"message":"not found","type":"invalid_request_error","code":"not_found"}}`)
	}

	return applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
		corsHandler(s.corsOrigins),
		securityHeaders,
	)
}

// instrument wraps a route handler with per-route metrics.
func (s *Server) instrument(route string, next fasthttp.RequestHandler) fasthttp.RequestHandler {
	if s.metrics == nil {
		return next
	}
	return func(ctx *fasthttp.RequestCtx) {
		s.metrics.IncInFlight()
		start := time.Now()
		next(ctx)
		s.metrics.DecInFlight()
		s.metrics.ObserveHTTP(route, ctx.Response.StatusCode(), time.Since(start))
	}
}

func (s *Server) newHTTPServer() *fasthttp.Server {
	return &fasthttp.Server{
		Handler:            s.Handler(),
		Name:               "heygpt",
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       90 * time.Second,
		IdleTimeout:        120 * time.Second,
		MaxRequestBodySize: 1 << 20, // 1 MiB, far above the largest tool input
	}
}

// Start listens on addr and serves until Shutdown is called. Blocking.
func (s *Server) Start(addr string) error {
	s.httpServer = s.newHTTPServer()
	s.log.Info("http_server_starting", slog.String("addr", addr))
	return s.httpServer.ListenAndServe(addr)
}

// Serve serves on an existing listener. Used by tests with in-memory listeners.
func (s *Server) Serve(ln net.Listener) error {
	s.httpServer = s.newHTTPServer()
	return s.httpServer.Serve(ln)
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.ShutdownWithContext(ctx)
}
