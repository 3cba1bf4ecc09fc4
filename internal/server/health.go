package server

import (
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/heygpt/heygpt/internal/cache"
	"github.com/heygpt/heygpt/internal/keys"
)

// healthResponse is the aggregate health document served at /api/health.
type healthResponse struct {
	Status        string      `json:"status"`
	Version       string      `json:"version,omitempty"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	Keys          keys.Status `json:"keys"`
	Alerts        []string    `json:"alerts"`
	Cache         cache.Stats `json:"cache"`
	Store         string      `json:"store"`
}

// handleHealth serves GET /api/health.
//
// Overall status:
//   - unhealthy — one or more credentials are circuit-open (503)
//   - degraded  — degraded credentials, or the cache store probe failed (200)
//   - healthy   — everything nominal (200)
func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	st := s.keys.HealthStatus()
	s.publishKeyState()

	store := "not_configured"
	if s.storeReady != nil {
		if s.storeReady(ctx) {
			store = "ok"
		} else {
			store = "degraded"
		}
	}

	status := "healthy"
	httpStatus := fasthttp.StatusOK
	switch {
	case st.CircuitOpen > 0:
		status = "unhealthy"
		httpStatus = fasthttp.StatusServiceUnavailable
	case st.Degraded > 0 || store == "degraded":
		status = "degraded"
	}

	alerts := s.keys.UsageAlerts()
	if alerts == nil {
		alerts = []string{}
	}

	resp := healthResponse{
		Status:        status,
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Keys:          st,
		Alerts:        alerts,
		Cache:         s.cache.Stats(),
		Store:         store,
	}

	body, err := json.Marshal(resp)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(httpStatus)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}
