package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/heygpt/heygpt/internal/logger"
	"github.com/heygpt/heygpt/internal/upstream"
	"github.com/heygpt/heygpt/pkg/apierr"
)

// toolResponse is the success body for every tool endpoint. Result is a JSON
// string for the text tools and an object for /api/chat.
type toolResponse struct {
	Result json.RawMessage `json:"result"`
	Usage  upstream.Usage  `json:"usage"`
}

type chatRequest struct {
	Messages []upstream.Message `json:"messages"`
	Model    string             `json:"model"`
}

// chatPayload is the cache identity for /api/chat. The model is hashed
// separately by the cache, so it is not part of the payload.
type chatPayload struct {
	Tool     string             `json:"tool"`
	Messages []upstream.Message `json:"messages"`
}

const maxChatMessages = 100

// makeToolHandler returns the fasthttp handler for one writing tool.
func (s *Server) makeToolHandler(spec toolSpec) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		payload, prompt, err := spec.build(ctx.PostBody())
		if err != nil {
			apierr.WriteInvalid(ctx, err.Error())
			return
		}

		req := &upstream.CompletionRequest{
			Model:       s.defaultModel,
			System:      spec.system,
			Messages:    []upstream.Message{{Role: "user", Content: prompt}},
			MaxTokens:   spec.maxTokens,
			Temperature: spec.temperature,
		}

		s.serveCompletion(ctx, spec.name, payload, req)
	}
}

// handleChat serves POST /api/chat. Unlike the writing tools the client
// supplies the full message history and may pick the model.
func (s *Server) handleChat(ctx *fasthttp.RequestCtx) {
	var req chatRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteInvalid(ctx, "invalid JSON body")
		return
	}
	if len(req.Messages) == 0 {
		apierr.WriteInvalid(ctx, "messages is required")
		return
	}
	if len(req.Messages) > maxChatMessages {
		apierr.WriteInvalid(ctx, fmt.Sprintf("too many messages (max %d)", maxChatMessages))
		return
	}
	for i, m := range req.Messages {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if role != "user" && role != "assistant" && role != "system" {
			apierr.WriteInvalid(ctx, fmt.Sprintf("messages[%d].role must be user, assistant, or system", i))
			return
		}
		if strings.TrimSpace(m.Content) == "" {
			apierr.WriteInvalid(ctx, fmt.Sprintf("messages[%d].content is required", i))
			return
		}
		req.Messages[i].Role = role
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = s.defaultModel
	}

	creq := &upstream.CompletionRequest{
		Model:       model,
		Messages:    req.Messages,
		MaxTokens:   4096,
		Temperature: 0.7,
	}

	s.serveCompletion(ctx, "chat", chatPayload{Tool: "chat", Messages: req.Messages}, creq)
}

// serveCompletion runs the shared request pipeline: rate limit, cache lookup,
// credential acquisition, upstream call, outcome report, cache fill, and the
// async request log. payload is the cache identity of the request.
func (s *Server) serveCompletion(ctx *fasthttp.RequestCtx, tool string, payload any, req *upstream.CompletionRequest) {
	start := time.Now()

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, clientIP(ctx))
		if err != nil {
			s.log.Warn("rate_limit_check_failed", slog.String("error", err.Error()))
		}
		if !allowed {
			if s.metrics != nil {
				s.metrics.RecordRateLimit("denied")
			}
			apierr.WriteRateLimit(ctx)
			return
		}
		if s.metrics != nil {
			s.metrics.RecordRateLimit("allowed")
		}
	}

	cacheable := s.exclusions == nil || !s.exclusions.Matches(req.Model)
	if cacheable {
		if entry, ok := s.cache.Get(ctx, payload, req.Model); ok {
			if s.metrics != nil {
				s.metrics.CacheGetHit()
				s.metrics.AddTokens(tool, entry.Usage.InputTokens, entry.Usage.OutputTokens, true)
			}
			s.writeToolResponse(ctx, entry.Response, entry.Usage, true)
			s.logRequest(tool, req.Model, entry.Usage, start, fasthttp.StatusOK, true)
			return
		}
		if s.metrics != nil {
			s.metrics.CacheGetMiss()
		}
	} else if s.metrics != nil {
		s.metrics.CacheGetBypass()
	}

	lease, ok := s.keys.Acquire()
	if !ok {
		if s.metrics != nil {
			s.metrics.KeyAcquireExhausted()
		}
		s.publishKeyState()
		s.log.Error("key_pool_exhausted", slog.String("tool", tool))
		apierr.WriteUnavailable(ctx)
		s.logRequest(tool, req.Model, upstream.Usage{}, start, fasthttp.StatusServiceUnavailable, false)
		return
	}
	if s.metrics != nil {
		s.metrics.KeyAcquireOK()
	}

	upstreamStart := time.Now()
	resp, err := s.upstream.Complete(ctx, lease.Key, req)
	if err != nil {
		kind := upstream.Classify(err)
		s.keys.ReportError(lease, err)
		s.publishKeyState()
		if s.metrics != nil {
			s.metrics.KeyReportError(kind.String())
			s.metrics.ObserveUpstreamAttempt(tool, kind.String(), time.Since(upstreamStart))
		}
		s.log.Warn("upstream_call_failed",
			slog.String("tool", tool),
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()),
		)
		status := s.writeUpstreamError(ctx, kind)
		s.logRequest(tool, req.Model, upstream.Usage{}, start, status, false)
		return
	}

	s.keys.ReportSuccess(lease)
	s.publishKeyState()
	if s.metrics != nil {
		s.metrics.KeyReportSuccess()
		s.metrics.ObserveUpstreamAttempt(tool, "ok", time.Since(upstreamStart))
		s.metrics.AddTokens(tool, resp.Usage.InputTokens, resp.Usage.OutputTokens, false)
	}

	result := s.buildResult(tool, resp)

	if cacheable {
		s.cache.Set(ctx, payload, req.Model, result, resp.Usage)
		if s.metrics != nil {
			s.metrics.CacheSetOK()
		}
	}

	s.writeToolResponse(ctx, result, resp.Usage, false)
	s.logRequest(tool, resp.Model, resp.Usage, start, fasthttp.StatusOK, false)
}

// buildResult shapes the upstream response into the endpoint's result value.
// Text tools return the completion text as a JSON string; chat returns an
// assistant message object.
func (s *Server) buildResult(tool string, resp *upstream.CompletionResponse) json.RawMessage {
	if tool == "chat" {
		raw, err := json.Marshal(struct {
			ID      string `json:"id"`
			Model   string `json:"model"`
			Role    string `json:"role"`
			Content string `json:"content"`
		}{ID: resp.ID, Model: resp.Model, Role: "assistant", Content: resp.Text})
		if err == nil {
			return raw
		}
	}
	raw, err := json.Marshal(resp.Text)
	if err != nil {
		return json.RawMessage(`""`)
	}
	return raw
}

// writeUpstreamError maps a classified upstream failure onto the client
// response and returns the HTTP status it wrote. Credential and upstream
// details never leak to the client.
func (s *Server) writeUpstreamError(ctx *fasthttp.RequestCtx, kind upstream.ErrorKind) int {
	switch kind {
	case upstream.KindInvalidRequest:
		apierr.WriteInvalid(ctx, "the request could not be processed")
		return fasthttp.StatusBadRequest
	case upstream.KindTimeout, upstream.KindRateLimited, upstream.KindOverloaded,
		upstream.KindAuthRejected, upstream.KindQuotaExhausted:
		apierr.WriteUpstreamUnavailable(ctx)
		return fasthttp.StatusServiceUnavailable
	default:
		apierr.WriteInternal(ctx)
		return fasthttp.StatusInternalServerError
	}
}

func (s *Server) writeToolResponse(ctx *fasthttp.RequestCtx, result json.RawMessage, usage upstream.Usage, cached bool) {
	body, err := json.Marshal(toolResponse{Result: result, Usage: usage})
	if err != nil {
		apierr.WriteInternal(ctx)
		return
	}
	if cached {
		ctx.Response.Header.Set("X-Cache", "HIT")
	} else {
		ctx.Response.Header.Set("X-Cache", "MISS")
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// logRequest enqueues one analytics record. Latency saturates at the uint16
// ceiling rather than wrapping.
func (s *Server) logRequest(tool, model string, usage upstream.Usage, start time.Time, status int, cached bool) {
	if s.reqLogger == nil {
		return
	}
	latency := time.Since(start).Milliseconds()
	if latency > 65535 {
		latency = 65535
	}
	s.reqLogger.Log(logger.RequestLog{
		ID:           uuid.New(),
		Tool:         tool,
		Model:        model,
		InputTokens:  uint32(usage.InputTokens),
		OutputTokens: uint32(usage.OutputTokens),
		LatencyMs:    uint16(latency),
		Status:       uint16(status),
		Cached:       cached,
		CreatedAt:    time.Now().UTC(),
	})
}

// publishKeyState refreshes the key pool gauges from a fresh health snapshot.
func (s *Server) publishKeyState() {
	if s.metrics == nil {
		return
	}
	st := s.keys.HealthStatus()
	s.metrics.SetKeyPoolState(st.Healthy, st.Degraded, st.CircuitOpen)
}
