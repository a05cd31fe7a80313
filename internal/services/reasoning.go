package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"zapask/internal/metrics"
)

var ErrEmptyCompletion = errors.New("model returned no content")

// ReasoningService is a text-in/text-out chat completion call.
type ReasoningService struct {
	client      *openai.Client
	kind        string
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
}

type ReasoningOptions struct {
	// Kind labels metrics, e.g. "planning" or "answer".
	Kind        string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

func NewReasoningService(client *openai.Client, opts ReasoningOptions) *ReasoningService {
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 1000
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Kind == "" {
		opts.Kind = "chat"
	}
	return &ReasoningService{
		client:      client,
		kind:        opts.Kind,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		timeout:     opts.Timeout,
	}
}

func (r *ReasoningService) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     r.model,
		MaxTokens: r.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userPrompt,
			},
		},
		Temperature: r.temperature,
	})
	metrics.OpenAIAPICallDuration.WithLabelValues(r.kind).Observe(time.Since(start).Seconds())
	metrics.OpenAIAPICalls.WithLabelValues(r.kind, metrics.Status(err)).Inc()

	if err != nil {
		slog.Error("Failed to call OpenAI API", "kind", r.kind, "error", err)
		return "", fmt.Errorf("failed to call OpenAI API: %w", err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyCompletion
	}

	return resp.Choices[0].Message.Content, nil
}
