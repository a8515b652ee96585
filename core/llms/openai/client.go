// Package openai implements the llms.Generator seam against any
// OpenAI-compatible chat completion endpoint. Locally hosted servers
// (llama.cpp, ollama, vllm) all speak this protocol.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/koscakluka/ada-core/core/llms"
)

const defaultInstructions = "You are a helpful local voice assistant. " +
	"Answer briefly, in one or two spoken sentences. " +
	"When lines describing objects in view are provided, treat them as what the camera currently sees."

type Client struct {
	client       *openai.Client
	model        string
	instructions string
}

type Option func(*Client)

// WithInstructions overrides the default system prompt.
func WithInstructions(instructions string) Option {
	return func(c *Client) {
		c.instructions = instructions
	}
}

// NewClient creates a generator backed by an OpenAI-compatible server at
// baseURL. apiKey may be empty for local servers that skip auth.
func NewClient(baseURL, apiKey, model string, opts ...Option) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	config.HTTPClient = &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	client := &Client{
		client:       openai.NewClientWithConfig(config),
		model:        model,
		instructions: defaultInstructions,
	}
	for _, opt := range opts {
		opt(client)
	}

	return client
}

func (c *Client) Generate(ctx context.Context, prompt string, opts ...llms.GenerateOption) (string, error) {
	options := llms.GenerateOptions{Instructions: c.instructions}
	for _, opt := range opts {
		opt(&options)
	}

	ctx, span := tracer.Start(ctx, "generate reply")
	defer span.End()
	span.SetAttributes(attribute.String("request.model", c.model))

	response, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toMessages(options, prompt),
	})
	if err != nil {
		err = fmt.Errorf("chat completion failed: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if len(response.Choices) == 0 {
		err := fmt.Errorf("chat completion returned no choices")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	return response.Choices[0].Message.Content, nil
}

func toMessages(options llms.GenerateOptions, prompt string) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(options.History)+len(options.Grounding)+2)

	if options.Instructions != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: options.Instructions,
		})
	}

	for _, turn := range options.History {
		role := openai.ChatMessageRoleUser
		switch turn.Role {
		case llms.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case llms.RoleContext:
			role = openai.ChatMessageRoleSystem
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}

	if len(options.Grounding) > 0 {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: strings.Join(options.Grounding, "\n"),
		})
	}

	return append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})
}
