// Package upstream wraps the Anthropic API behind a small client that takes
// the credential per call, and translates SDK errors into a closed set of
// error kinds at the boundary. The key manager dispatches on ErrorKind
// instead of probing loose error shapes.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// ErrorKind classifies an upstream failure.
type ErrorKind int

const (
	// KindUnknown covers errors the boundary could not classify.
	KindUnknown ErrorKind = iota

	// KindTimeout — the call exceeded its deadline.
	KindTimeout

	// KindRateLimited — upstream returned 429.
	KindRateLimited

	// KindAuthRejected — upstream rejected the credential (401/403). Terminal.
	KindAuthRejected

	// KindQuotaExhausted — the credential is out of credits. Terminal.
	KindQuotaExhausted

	// KindOverloaded — upstream 5xx, including Anthropic's 529.
	KindOverloaded

	// KindInvalidRequest — 4xx caused by the request itself, not the credential.
	KindInvalidRequest
)

// String returns a short label suitable for logs and metric values.
func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindAuthRejected:
		return "auth_rejected"
	case KindQuotaExhausted:
		return "quota_exhausted"
	case KindOverloaded:
		return "overloaded"
	case KindInvalidRequest:
		return "invalid_request"
	default:
		return "unknown"
	}
}

// Terminal reports whether the kind indicates the credential itself was
// rejected. Terminal failures fast-track a credential to circuit-open
// without passing through the failure-streak thresholds.
func (k ErrorKind) Terminal() bool {
	return k == KindAuthRejected || k == KindQuotaExhausted
}

// Error is the structured error produced at the upstream boundary.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream: %s (kind=%s, status=%d)", e.Message, e.Kind, e.Status)
}

// HTTPStatus returns the upstream HTTP status, 0 if none applies.
func (e *Error) HTTPStatus() int { return e.Status }

// Classify returns the ErrorKind for err. Unwrapped SDK errors and plain
// context timeouts are handled; anything else is KindUnknown.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// translate converts an anthropic SDK error into *Error. Errors that are not
// SDK API errors pass through unchanged except for deadline expiry.
func translate(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "request timed out"}
	}

	var apierr *anthropic.Error
	if !errors.As(err, &apierr) {
		return err
	}

	kind := kindForStatus(apierr.StatusCode, apierr.Error())
	return &Error{
		Kind:    kind,
		Status:  apierr.StatusCode,
		Message: apierr.Error(),
	}
}

func kindForStatus(status int, message string) ErrorKind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuthRejected

	case status == http.StatusTooManyRequests:
		// Anthropic reports exhausted credit balances as 429/400 with a
		// billing message; those are terminal for the key, plain rate
		// limits are not.
		if quotaMessage(message) {
			return KindQuotaExhausted
		}
		return KindRateLimited

	case status == http.StatusRequestTimeout:
		return KindTimeout

	case status >= 500:
		return KindOverloaded

	case status >= 400:
		if quotaMessage(message) {
			return KindQuotaExhausted
		}
		return KindInvalidRequest

	default:
		return KindUnknown
	}
}

func quotaMessage(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "credit balance") || strings.Contains(m, "quota")
}
