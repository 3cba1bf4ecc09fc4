package server

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxTextLen bounds the text accepted by the single-text tools. Longer inputs
// are rejected with 400 before anything is spent on upstream calls.
const maxTextLen = 20_000

// toolSpec describes one writing tool: how to parse its request body, the
// system prompt it sends upstream, and the payload that identifies an
// equivalent request for caching. Two requests with equal payloads (and the
// same model) are interchangeable and share a cache entry.
type toolSpec struct {
	name        string
	system      string
	maxTokens   int
	temperature float64

	// build parses the request body and returns the normalized cache payload
	// and the user-role prompt. A non-nil error is a client error (400).
	build func(body []byte) (payload any, prompt string, err error)
}

type textRequest struct {
	Text string `json:"text"`
}

type translateRequest struct {
	Text           string `json:"text"`
	TargetLanguage string `json:"targetLanguage"`
}

type topicRequest struct {
	Subject  string `json:"subject"`
	Category string `json:"category"`
}

// textPayload is the cache identity for the single-text tools. The tool name
// is part of the payload so e.g. summarize and paraphrase of the same text
// never share an entry.
type textPayload struct {
	Tool string `json:"tool"`
	Text string `json:"text"`
}

type translatePayload struct {
	Tool           string `json:"tool"`
	Text           string `json:"text"`
	TargetLanguage string `json:"target_language"`
}

type topicPayload struct {
	Tool     string `json:"tool"`
	Subject  string `json:"subject"`
	Category string `json:"category"`
}

func parseText(body []byte) (string, error) {
	var req textRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return "", fmt.Errorf("invalid JSON body")
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", fmt.Errorf("text is required")
	}
	if utf8.RuneCountInString(text) > maxTextLen {
		return "", fmt.Errorf("text exceeds the maximum length of %d characters", maxTextLen)
	}
	return text, nil
}

// textTool builds a toolSpec for tools whose input is a single "text" field
// and whose prompt is the text appended to a fixed instruction.
func textTool(name, system, instruction string, maxTokens int, temperature float64) toolSpec {
	return toolSpec{
		name:        name,
		system:      system,
		maxTokens:   maxTokens,
		temperature: temperature,
		build: func(body []byte) (any, string, error) {
			text, err := parseText(body)
			if err != nil {
				return nil, "", err
			}
			return textPayload{Tool: name, Text: text}, instruction + "\n\n" + text, nil
		},
	}
}

func translateTool() toolSpec {
	return toolSpec{
		name:        "translate",
		system:      "You are a professional translator. Translate the user's text accurately, preserving tone and formatting. Reply with the translation only, no explanations.",
		maxTokens:   4096,
		temperature: 0.3,
		build: func(body []byte) (any, string, error) {
			var req translateRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, "", fmt.Errorf("invalid JSON body")
			}
			text := strings.TrimSpace(req.Text)
			lang := strings.TrimSpace(req.TargetLanguage)
			if text == "" {
				return nil, "", fmt.Errorf("text is required")
			}
			if lang == "" {
				return nil, "", fmt.Errorf("targetLanguage is required")
			}
			if utf8.RuneCountInString(text) > maxTextLen {
				return nil, "", fmt.Errorf("text exceeds the maximum length of %d characters", maxTextLen)
			}
			payload := translatePayload{Tool: "translate", Text: text, TargetLanguage: strings.ToLower(lang)}
			prompt := fmt.Sprintf("Translate the following text to %s:\n\n%s", lang, text)
			return payload, prompt, nil
		},
	}
}

func topicGenerateTool() toolSpec {
	return toolSpec{
		name:        "topic-generate",
		system:      "You are a creative writing assistant. Generate a numbered list of ten engaging, specific writing topics for the given subject. Reply with the list only.",
		maxTokens:   1024,
		temperature: 0.9,
		build: func(body []byte) (any, string, error) {
			var req topicRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, "", fmt.Errorf("invalid JSON body")
			}
			subject := strings.TrimSpace(req.Subject)
			if subject == "" {
				return nil, "", fmt.Errorf("subject is required")
			}
			category := strings.TrimSpace(req.Category)
			payload := topicPayload{Tool: "topic-generate", Subject: subject, Category: strings.ToLower(category)}
			prompt := "Generate writing topics about: " + subject
			if category != "" {
				prompt += "\nCategory: " + category
			}
			return payload, prompt, nil
		},
	}
}

// toolRegistry returns the writing tools exposed under /api/. The chat
// endpoint is not in this list because its request shape and caching rules
// differ (see handleChat).
func toolRegistry() []toolSpec {
	return []toolSpec{
		translateTool(),
		textTool("grammar-check",
			"You are an expert English grammar checker. Correct grammar, spelling, and word-choice mistakes in the user's text while preserving its meaning and tone. Reply with the corrected text only.",
			"Check and correct the grammar of the following text:",
			4096, 0.2),
		textTool("summarize",
			"You are an expert at summarizing text. Produce a concise summary that captures the key points of the user's text. Reply with the summary only.",
			"Summarize the following text:",
			2048, 0.3),
		textTool("paraphrase",
			"You are an expert writer. Rewrite the user's text in different words while keeping its meaning and approximate length. Reply with the paraphrased text only.",
			"Paraphrase the following text:",
			4096, 0.7),
		textTool("punctuation-check",
			"You are an expert proofreader. Fix punctuation and capitalization mistakes in the user's text without changing its wording. Reply with the corrected text only.",
			"Fix the punctuation of the following text:",
			4096, 0.2),
		topicGenerateTool(),
	}
}
