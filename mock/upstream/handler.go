package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
)

// fakeWords is a pool of words used to build mock completions.
var fakeWords = []string{
	"The", "quick", "brown", "fox", "jumps", "over", "the", "lazy", "dog",
	"Hello", "world", "This", "is", "a", "mock", "response", "from", "the",
	"mock", "upstream", "simulating", "a", "real", "model", "API", "call",
	"for", "development", "and", "testing", "purposes",
}

// fakeSentence returns a fake completion of roughly n words.
func fakeSentence(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fakeWords[rand.IntN(len(fakeWords))]
	}
	return strings.Join(words, " ") + "."
}

func applyLatency(cfg Config) {
	if cfg.LatencyMS > 0 {
		time.Sleep(time.Duration(cfg.LatencyMS) * time.Millisecond)
	}
}

func shouldError(cfg Config) bool {
	if cfg.ErrorRate <= 0 {
		return false
	}
	return rand.Float64() < cfg.ErrorRate
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, msg, typ string) {
	writeJSON(w, status, map[string]any{
		"type": "error",
		"error": map[string]string{
			"type":    typ,
			"message": msg,
		},
	})
}

// newHandler returns an http.Handler that simulates the Anthropic API.
func newHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	// POST /v1/messages
	mux.HandleFunc("/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeAPIError(w, http.StatusMethodNotAllowed, "method not allowed", "invalid_request_error")
			return
		}
		applyLatency(cfg)

		if _, rejected := cfg.RejectKeys[r.Header.Get("x-api-key")]; rejected {
			writeAPIError(w, http.StatusUnauthorized, "invalid x-api-key", "authentication_error")
			return
		}
		if shouldError(cfg) {
			writeAPIError(w, 529, "Overloaded", "overloaded_error")
			return
		}

		var req struct {
			Model     string `json:"model"`
			MaxTokens int    `json:"max_tokens"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAPIError(w, http.StatusBadRequest, "invalid request body", "invalid_request_error")
			return
		}

		model := req.Model
		if model == "" {
			model = "claude-3-5-haiku-20241022"
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"id":            fmt.Sprintf("msg_%x", rand.Int64()),
			"type":          "message",
			"role":          "assistant",
			"model":         model,
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"content": []map[string]string{
				{"type": "text", "text": fakeSentence(cfg.Words)},
			},
			"usage": map[string]int{
				"input_tokens":  15,
				"output_tokens": cfg.Words,
			},
		})
	})

	// GET /v1/models — used by health checks
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		if _, rejected := cfg.RejectKeys[r.Header.Get("x-api-key")]; rejected {
			writeAPIError(w, http.StatusUnauthorized, "invalid x-api-key", "authentication_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"data": []map[string]any{
				{"id": "claude-3-5-haiku-20241022", "display_name": "Claude 3.5 Haiku", "created_at": time.Now().Unix()},
				{"id": "claude-3-5-sonnet-20241022", "display_name": "Claude 3.5 Sonnet", "created_at": time.Now().Unix()},
			},
			"has_more": false,
			"first_id": "claude-3-5-haiku-20241022",
			"last_id":  "claude-3-5-sonnet-20241022",
		})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusNotFound, fmt.Sprintf("mock: unknown path %s", r.URL.Path), "not_found_error")
	})

	return mux
}
