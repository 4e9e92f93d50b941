// Package reasoning is the boundary to the external generative service
// that turns natural-language input into structured decisions. Raw model
// output never leaves this package untyped: every response crosses the
// strict decode boundary in decode.go before callers see it.
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/sandboxd/internal/config"
)

// Request is one reasoning call. Instructions set the role; Content
// carries the task-specific input; SchemaName labels the expected result
// shape for logging and fault messages.
type Request struct {
	Instructions string
	Content      string
	SchemaName   string
}

// Client issues reasoning calls and returns the raw JSON payload the
// service produced. Callers must pass the payload through Decode before
// trusting it.
type Client interface {
	Complete(ctx context.Context, req Request) (json.RawMessage, error)
}

// NewClient returns a Client backed by an OpenAI-compatible chat API.
func NewClient(cfg config.ReasoningConfig) Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey.Value())
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}

	return &openAIClient{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

type openAIClient struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
}

func (c *openAIClient) Complete(ctx context.Context, req Request) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.Instructions},
			{Role: openai.ChatMessageRoleUser, Content: req.Content},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("completing %s request: %w", req.SchemaName, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("completing %s request: response had no choices", req.SchemaName)
	}

	return json.RawMessage(resp.Choices[0].Message.Content), nil
}
