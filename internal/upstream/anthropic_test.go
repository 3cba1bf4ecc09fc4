package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func isMessagesPath(p string) bool {
	return p == "/messages" || p == "/v1/messages"
}

func respondMessage(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":            "msg_test_1",
		"type":          "message",
		"role":          "assistant",
		"model":         "claude-3-5-haiku-20241022",
		"stop_reason":   "end_turn",
		"stop_sequence": nil,
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
		"usage": map[string]any{
			"input_tokens":  21,
			"output_tokens": 7,
		},
	})
}

func respondAPIError(w http.ResponseWriter, status int, errType, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    errType,
			"message": msg,
		},
	})
}

func TestCompleteSuccess(t *testing.T) {
	var gotKey string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isMessagesPath(r.URL.Path) {
			http.NotFound(w, r)
			return
		}
		gotKey = r.Header.Get("x-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		respondMessage(w, "hello back")
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithTimeout(5*time.Second))

	resp, err := c.Complete(context.Background(), "sk-ant-key-1", &CompletionRequest{
		Model:       "claude-3-5-haiku-20241022",
		System:      "Be terse.",
		Messages:    []Message{{Role: "user", Content: "hello"}},
		MaxTokens:   256,
		Temperature: 0.3,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if gotKey != "sk-ant-key-1" {
		t.Errorf("x-api-key = %q, want the per-call credential", gotKey)
	}
	if resp.Text != "hello back" {
		t.Errorf("text = %q", resp.Text)
	}
	if resp.ID != "msg_test_1" {
		t.Errorf("id = %q", resp.ID)
	}
	if resp.Usage.InputTokens != 21 || resp.Usage.OutputTokens != 7 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if got, _ := gotBody["model"].(string); got != "claude-3-5-haiku-20241022" {
		t.Errorf("wire model = %q", got)
	}
	if _, ok := gotBody["system"]; !ok {
		t.Error("system prompt missing from wire request")
	}
}

func TestCompletePerCallKey(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("x-api-key"))
		respondMessage(w, "ok")
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	req := &CompletionRequest{Model: "m", Messages: []Message{{Role: "user", Content: "x"}}}

	for _, key := range []string{"key-a", "key-b"} {
		if _, err := c.Complete(context.Background(), key, req); err != nil {
			t.Fatalf("Complete with %s: %v", key, err)
		}
	}

	if len(seen) != 2 || seen[0] != "key-a" || seen[1] != "key-b" {
		t.Errorf("keys seen upstream = %v", seen)
	}
}

func TestCompleteTranslatesAPIErrors(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		errType string
		msg     string
		want    ErrorKind
	}{
		{"auth", 401, "authentication_error", "invalid x-api-key", KindAuthRejected},
		{"rate limit", 429, "rate_limit_error", "rate limit exceeded", KindRateLimited},
		{"quota", 400, "invalid_request_error", "Your credit balance is too low", KindQuotaExhausted},
		{"overloaded", 529, "overloaded_error", "Overloaded", KindOverloaded},
		{"invalid", 400, "invalid_request_error", "max_tokens: field required", KindInvalidRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				respondAPIError(w, tc.status, tc.errType, tc.msg)
			}))
			defer srv.Close()

			c := NewClient(WithBaseURL(srv.URL))
			_, err := c.Complete(context.Background(), "k", &CompletionRequest{
				Model:    "m",
				Messages: []Message{{Role: "user", Content: "x"}},
			})
			if err == nil {
				t.Fatal("expected error")
			}

			var ue *Error
			if !errors.As(err, &ue) {
				t.Fatalf("error type %T, want *Error", err)
			}
			if ue.Kind != tc.want {
				t.Errorf("kind = %s, want %s", ue.Kind, tc.want)
			}
			if ue.Status != tc.status {
				t.Errorf("status = %d, want %d", ue.Status, tc.status)
			}
		})
	}
}

func TestCompleteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithTimeout(50*time.Millisecond))
	_, err := c.Complete(context.Background(), "k", &CompletionRequest{
		Model:    "m",
		Messages: []Message{{Role: "user", Content: "x"}},
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if kind := Classify(err); kind != KindTimeout {
		t.Errorf("kind = %s, want timeout", kind)
	}
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "sk-ant-ok" {
			respondAPIError(w, http.StatusUnauthorized, "authentication_error", "invalid x-api-key")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{
					"id":           "claude-3-5-haiku-20241022",
					"type":         "model",
					"display_name": "Claude 3.5 Haiku",
					"created_at":   "2024-10-22T00:00:00Z",
				},
			},
			"has_more": false,
			"first_id": "claude-3-5-haiku-20241022",
			"last_id":  "claude-3-5-haiku-20241022",
		})
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))

	if err := c.HealthCheck(context.Background(), "sk-ant-ok"); err != nil {
		t.Fatalf("HealthCheck() = %v, want nil", err)
	}

	err := c.HealthCheck(context.Background(), "sk-ant-bad")
	if err == nil {
		t.Fatal("expected error for rejected key")
	}
	if kind := Classify(err); kind != KindAuthRejected {
		t.Errorf("kind = %s, want auth_rejected", kind)
	}
}

func TestBuildParamsMergesSystemRoles(t *testing.T) {
	c := NewClient()
	params := c.buildParams(&CompletionRequest{
		Model:  "m",
		System: "base",
		Messages: []Message{
			{Role: "system", Content: "extra"},
			{Role: "user", Content: "hi"},
		},
	})

	if len(params.System) != 1 || params.System[0].Text != "base\nextra" {
		t.Errorf("system = %+v", params.System)
	}
	if len(params.Messages) != 1 {
		t.Errorf("messages = %d, want 1 (system turns must not reach messages)", len(params.Messages))
	}
	if params.MaxTokens != defaultMaxTokens {
		t.Errorf("max tokens = %d, want default", params.MaxTokens)
	}
}
