package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"zapask/internal/metrics"
)

const (
	maxTokens        = 8000
	avgCharsPerToken = 4
	maxInputChars    = maxTokens * avgCharsPerToken
	maxBatchInputs   = 512
)

var ErrEmptyInput = errors.New("input text cannot be empty")

type EmbeddingService struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

func NewEmbeddingService(client *openai.Client, model string) *EmbeddingService {
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &EmbeddingService{client: client, model: openai.EmbeddingModel(model)}
}

// Embed returns the embedding of a single text.
func (e *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	embeddings, err := e.create(ctx, []string{truncateInput(text)})
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}
	return embeddings[0], nil
}

// EmbedBatch embeds texts with output order matching input order. Every
// input must be non-empty.
func (e *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	inputs := make([]string, len(texts))
	for i, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, fmt.Errorf("input %d: %w", i, ErrEmptyInput)
		}
		inputs[i] = truncateInput(text)
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	out := make([][]float32, 0, len(inputs))
	for start := 0; start < len(inputs); start += maxBatchInputs {
		end := start + maxBatchInputs
		if end > len(inputs) {
			end = len(inputs)
		}
		embeddings, err := e.create(ctx, inputs[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to generate embeddings: %w", err)
		}
		out = append(out, embeddings...)
	}

	return out, nil
}

func (e *EmbeddingService) create(ctx context.Context, inputs []string) ([][]float32, error) {
	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: inputs,
		Model: e.model,
	})
	metrics.OpenAIAPICallDuration.WithLabelValues("embedding").Observe(time.Since(start).Seconds())
	metrics.OpenAIAPICalls.WithLabelValues("embedding", metrics.Status(err)).Inc()
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding count mismatch: expected %d, got %d", len(inputs), len(resp.Data))
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	embeddings := make([][]float32, len(data))
	for i, d := range data {
		embeddings[i] = d.Embedding
	}
	return embeddings, nil
}

// truncateInput keeps text under the model's context, cutting at a space
// near the limit when there is one.
func truncateInput(text string) string {
	if len(text) <= maxInputChars {
		return text
	}
	text = text[:maxInputChars]
	if lastSpace := strings.LastIndex(text, " "); lastSpace > maxInputChars-100 {
		text = text[:lastSpace]
	}
	return text
}
