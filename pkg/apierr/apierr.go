// Package apierr provides the structured error envelope returned to API
// clients and its HTTP status mapping.
//
// User-visible messages are deliberately generic: they never expose
// credential identifiers, internal health states, or cache internals.
package apierr

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// ErrorType constants.
const (
	TypeInvalidRequest     = "invalid_request_error"
	TypeRateLimitError     = "rate_limit_error"
	TypeServiceUnavailable = "service_unavailable_error"
	TypeServerError        = "server_error"
)

// Code constants.
const (
	CodeInvalidRequest    = "invalid_request"
	CodeRateLimitExceeded = "rate_limit_exceeded"
	CodeUnavailable       = "service_unavailable"
	CodeUpstreamError     = "upstream_error"
	CodeInternalError     = "internal_error"
)

// APIError is the structured error returned to clients.
type (
	APIError struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// Write writes the error as JSON to the fasthttp response with the given HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message, errType, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
	ctx.SetBody(body)
}

// WriteInvalid writes a 400 validation error with the given message.
func WriteInvalid(ctx *fasthttp.RequestCtx, message string) {
	Write(ctx, fasthttp.StatusBadRequest, message, TypeInvalidRequest, CodeInvalidRequest)
}

// WriteUnavailable writes a 503. Used when no upstream credential is usable.
func WriteUnavailable(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Retry-After", "60")
	Write(ctx, fasthttp.StatusServiceUnavailable,
		"service temporarily unavailable, please try again later",
		TypeServiceUnavailable, CodeUnavailable)
}

// WriteUpstreamUnavailable writes a 503 for transient upstream failures
// (rate limit, overload, timeout). The caller is told to retry later.
func WriteUpstreamUnavailable(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Retry-After", "30")
	Write(ctx, fasthttp.StatusServiceUnavailable,
		"the service is busy right now, please try again later",
		TypeServiceUnavailable, CodeUpstreamError)
}

// WriteRateLimit writes a 429 free-tier quota error.
func WriteRateLimit(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Retry-After", "60")
	Write(ctx, fasthttp.StatusTooManyRequests,
		"you have reached the free usage limit, please try again in a minute",
		TypeRateLimitError, CodeRateLimitExceeded)
}

// WriteInternal writes a 500 with a generic message.
func WriteInternal(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusInternalServerError,
		"something went wrong, please try again",
		TypeServerError, CodeInternalError)
}
