// Command upstream runs a lightweight HTTP mock of the Anthropic messages
// API. It is used for local development and load testing of the key pool and
// cache without spending real credits.
//
// Environment:
//
//	PORT              — listen port (default 19002)
//	MOCK_LATENCY_MS   — artificial latency added to every response (default 0)
//	MOCK_ERROR_RATE   — fraction [0,1] of requests answered with 529 (default 0)
//	MOCK_REJECT_KEYS  — comma-separated API keys that always get 401; drives
//	                    circuit-open behaviour in the key pool
//	MOCK_WORDS        — words per completion (default 10)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Config holds the mock's runtime behaviour.
type Config struct {
	LatencyMS  int
	ErrorRate  float64
	RejectKeys map[string]struct{}
	Words      int
}

func loadConfig() Config {
	c := Config{Words: 10, RejectKeys: map[string]struct{}{}}

	if v := os.Getenv("MOCK_LATENCY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LatencyMS = n
		}
	}
	if v := os.Getenv("MOCK_ERROR_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			c.ErrorRate = f
		}
	}
	if v := os.Getenv("MOCK_REJECT_KEYS"); v != "" {
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				c.RejectKeys[k] = struct{}{}
			}
		}
	}
	if v := os.Getenv("MOCK_WORDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Words = n
		}
	}
	return c
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := loadConfig()

	port := os.Getenv("PORT")
	if port == "" {
		port = "19002"
	}

	log.Info("starting mock upstream",
		slog.Int("latency_ms", cfg.LatencyMS),
		slog.Float64("error_rate", cfg.ErrorRate),
		slog.Int("reject_keys", len(cfg.RejectKeys)),
	)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      newHandler(cfg),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("mock upstream listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("error", err.Error()))
		}
	}()

	fmt.Println("READY")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down mock upstream")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
