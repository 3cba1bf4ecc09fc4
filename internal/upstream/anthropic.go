package upstream

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	defaultMaxTokens = 4096

	// DefaultTimeout bounds a single completion call. Overridable via config.
	DefaultTimeout = 30 * time.Second
)

type (
	// Message is a single conversation turn.
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	// Usage — token counts reported by the API, kept for cost accounting.
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	}

	// CompletionRequest is the normalized request shape shared by every tool.
	CompletionRequest struct {
		Model       string
		System      string
		Messages    []Message
		MaxTokens   int
		Temperature float64
	}

	// CompletionResponse is the normalized non-streaming response.
	CompletionResponse struct {
		ID    string
		Model string
		Text  string
		Usage Usage
	}
)

// Client calls the Anthropic messages API. The credential is supplied per
// call so a single Client serves the whole rotating key pool.
type Client struct {
	baseURL string
	timeout time.Duration
	client  anthropic.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (useful for mocks and tests).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// NewClient creates a keyless Client. Every call must carry a credential.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}

	httpClient := &http.Client{Timeout: c.timeout}

	c.client = anthropic.NewClient(
		option.WithBaseURL(c.baseURL),
		option.WithHTTPClient(httpClient),
		// SDK retries would double-count failures against a credential, so
		// the key manager owns all retry policy.
		option.WithMaxRetries(0),
	)

	return c
}

// Complete performs one non-streaming messages call authenticated with key.
// The context is bounded by the client timeout. Errors are translated into
// *Error so callers can classify them.
func (c *Client) Complete(ctx context.Context, key string, req *CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.client.Messages.New(ctx, c.buildParams(req), option.WithAPIKey(key))
	if err != nil {
		return nil, translate(err)
	}

	var sb strings.Builder
	for _, b := range msg.Content {
		switch v := b.AsAny().(type) {
		case anthropic.TextBlock:
			sb.WriteString(v.Text)
		case *anthropic.TextBlock:
			sb.WriteString(v.Text)
		}
	}

	return &CompletionResponse{
		ID:    msg.ID,
		Model: string(msg.Model),
		Text:  sb.String(),
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

// HealthCheck verifies connectivity and that key is accepted (GET /v1/models).
func (c *Client) HealthCheck(ctx context.Context, key string) error {
	_, err := c.client.Models.List(ctx, anthropic.ModelListParams{
		Limit: anthropic.Int(1),
	}, option.WithAPIKey(key))
	if err != nil {
		return translate(err)
	}
	return nil
}

func (c *Client) buildParams(req *CompletionRequest) anthropic.MessageNewParams {
	systemPrompt := req.System
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch strings.ToLower(m.Role) {
		case "system", "developer":
			if systemPrompt != "" {
				systemPrompt += "\n"
			}
			systemPrompt += m.Content
		default:
			msgs = append(msgs, toSDKMessage(m.Role, m.Content))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}

	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: systemPrompt},
		}
	}

	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	return params
}

func toSDKMessage(role, content string) anthropic.MessageParam {
	r := anthropic.MessageParamRoleUser
	if strings.ToLower(role) == "assistant" {
		r = anthropic.MessageParamRoleAssistant
	}

	return anthropic.MessageParam{
		Role: r,
		Content: []anthropic.ContentBlockParamUnion{
			{
				OfText: &anthropic.TextBlockParam{
					Text: content,
				},
			},
		},
	}
}
