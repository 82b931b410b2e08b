// Package backend is the client for the chat completion endpoint of the game
// backend, which proxies an OpenAI-compatible model.
package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/koscakluka/ema-dialog/core/llms"
	"github.com/koscakluka/ema-dialog/core/remote"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	chatPath = "/api/chat"

	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.7
)

// Client turns a conversation history into a completion. It keeps no state
// between calls and never retries.
type Client struct {
	remote *remote.Client
}

type ClientOption func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
}

// WithHTTPClient replaces the default traced HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(o *clientOptions) { o.httpClient = httpClient }
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	options := clientOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	return &Client{remote: remote.NewClient(baseURL, options.httpClient)}
}

// CreateCompletion sends history, in order and with its roles, to the backend.
//
// An empty history fails with [remote.ErrInvalidRequest]; remote failures are
// reported as [remote.RequestError]s. An empty model falls back to
// [DefaultModel].
func (c *Client) CreateCompletion(
	ctx context.Context,
	history []llms.Message,
	model string,
	temperature float64,
	opts ...llms.CompletionOption,
) (*llms.CompletionResponse, error) {
	ctx, span := tracer.Start(ctx, "create chat completion")
	defer span.End()

	if model == "" {
		model = DefaultModel
	}
	span.SetAttributes(
		attribute.String("chat.model", model),
		attribute.Int("chat.history_length", len(history)),
	)

	response, err := c.createCompletion(ctx, history, model, temperature, opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.ErrorContext(ctx, "chat completion failed", "model", model, "error", err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("chat.usage.prompt_tokens", response.Usage.PromptTokens),
		attribute.Int("chat.usage.completion_tokens", response.Usage.CompletionTokens),
	)
	return response, nil
}

func (c *Client) createCompletion(
	ctx context.Context,
	history []llms.Message,
	model string,
	temperature float64,
	opts ...llms.CompletionOption,
) (*llms.CompletionResponse, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: messages cannot be empty", remote.ErrInvalidRequest)
	}

	messages, err := toMessages(history)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", remote.ErrInvalidRequest, err)
	}

	options := llms.NewCompletionOptions(opts...)
	reqBody := requestBody{
		Model:            model,
		Messages:         messages,
		Temperature:      temperature,
		MaxTokens:        options.MaxTokens,
		TopP:             options.TopP,
		FrequencyPenalty: options.FrequencyPenalty,
		PresencePenalty:  options.PresencePenalty,
	}

	var respBody responseBody
	if err := c.remote.PostJSON(ctx, "chat completion", chatPath, reqBody, &respBody); err != nil {
		return nil, err
	}

	if len(respBody.Choices) == 0 {
		return nil, &remote.DecodeError{Op: "chat completion", Err: llms.ErrNoChoices}
	}

	return respBody.toCompletionResponse(), nil
}

type requestBody struct {
	Model            string    `json:"model"`
	Messages         []message `json:"messages"`
	Temperature      float64   `json:"temperature"`
	MaxTokens        *int      `json:"max_tokens,omitempty"`
	TopP             *float64  `json:"top_p,omitempty"`
	FrequencyPenalty *float64  `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64  `json:"presence_penalty,omitempty"`
}

type responseBody struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Message      message `json:"message"`
		Index        int     `json:"index"`
		FinishReason string  `json:"finishReason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"promptTokens"`
		CompletionTokens int `json:"completionTokens"`
		TotalTokens      int `json:"totalTokens"`
	} `json:"usage"`
}

func (b responseBody) toCompletionResponse() *llms.CompletionResponse {
	response := &llms.CompletionResponse{
		ID:      b.ID,
		Object:  b.Object,
		Created: b.Created,
		Model:   b.Model,
		Usage: llms.Usage{
			PromptTokens:     b.Usage.PromptTokens,
			CompletionTokens: b.Usage.CompletionTokens,
			TotalTokens:      b.Usage.TotalTokens,
		},
	}
	for _, choice := range b.Choices {
		response.Choices = append(response.Choices, llms.Choice{
			Message:      choice.Message.toLLMMessage(),
			Index:        choice.Index,
			FinishReason: choice.FinishReason,
		})
	}
	return response
}
