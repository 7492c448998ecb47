// Package refine rewrites raw card text into a clearer form through an
// OpenAI-compatible chat completions endpoint.
package refine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

const (
	// DefaultModel is a small instruction-following model served by Groq.
	DefaultModel = "openai/gpt-oss-20b"
	// DefaultBaseURL points at Groq's OpenAI-compatible surface.
	DefaultBaseURL = "https://api.groq.com/openai/v1"

	refineTemperature = 0.3
)

var (
	// ErrEmptyText rejects refinement requests with no content.
	ErrEmptyText = errors.New("refine: no text provided")
	// ErrNotConfigured marks a client constructed without an API key.
	ErrNotConfigured = errors.New("refine: api key not configured")
)

var promptPreamble = strings.Join([]string{
	"Detect the language of the input text. Respond ONLY in that same language.",
	"Restructure and clarify the idea without changing its original meaning.",
	"Make it clearer and easier to read. You can use:",
	"- Short paragraphs",
	"- Bullet points (use • character)",
	"- Key phrases highlighted",
	"Choose the best format for the content. Be concise. Output only the refined text. The final output should be to the point and concise. response in markdown format.",
}, "\n")

// Config describes the upstream completion endpoint.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Logger  *zap.Logger
}

// Client calls the completion endpoint. A client without an API key is valid
// to construct but fails every Refine call with ErrNotConfigured, so the rest
// of the server runs without the feature.
type Client struct {
	api        openai.Client
	model      string
	configured bool
	logger     *zap.Logger
}

// NewClient builds a refinement client from the config, falling back to the
// Groq defaults for base URL and model.
func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []option.RequestOption{option.WithBaseURL(baseURL)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	return &Client{
		api:        openai.NewClient(opts...),
		model:      model,
		configured: cfg.APIKey != "",
		logger:     logger,
	}
}

// Configured reports whether an API key was supplied.
func (c *Client) Configured() bool {
	return c.configured
}

// Refine rewrites the text, preserving its meaning and language.
func (c *Client) Refine(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}
	if !c.configured {
		return "", ErrNotConfigured
	}

	prompt := fmt.Sprintf("%s\n\nInput: %q\n\nRefined:", promptPreamble, text)
	completion, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(refineTemperature),
	})
	if err != nil {
		c.logger.Error("refinement request failed", zap.Error(err))
		return "", fmt.Errorf("refine: completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("refine: completion returned no choices")
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}
