// Package llm provides the language inference gateway: a uniform interface to
// an OpenAI-compatible text-generation backend. The gateway carries no
// orchestration logic; every response is untrusted text that callers must
// validate before use.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkonate/teampulse/internal/config"
	apperrors "github.com/pkonate/teampulse/internal/errors"
)

// Request is a single completion request. ForceJSON asks the backend for a
// JSON-object response; the caller still validates the result.
type Request struct {
	System    string
	Prompt    string
	ForceJSON bool
}

// Gateway is the inference boundary the orchestration core depends on.
type Gateway interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Client provides LLM API access for one provider
type Client struct {
	provider config.Provider
	client   *http.Client
}

// NewClient creates a new LLM client
func NewClient(provider config.Provider) *Client {
	timeout := provider.Timeout
	if timeout == 0 {
		timeout = 60
	}

	return &Client{
		provider: provider,
		client: &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends a completion request and returns the raw generated text.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	body := chatRequest{
		Model: c.provider.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
		MaxTokens:   c.provider.MaxTokens,
		Temperature: 0,
	}
	if req.ForceJSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.provider.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.provider.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if len(result.Choices) == 0 {
		return "", apperrors.ErrEmptyCompletion
	}

	return result.Choices[0].Message.Content, nil
}

// Model returns the configured model
func (c *Client) Model() string {
	return c.provider.Model
}
