package services

import (
	"strings"

	"github.com/sashabaranov/go-openai"
)

// NewOpenAIClient builds the client shared by embedding and reasoning calls.
// baseURL is only set for proxies and tests.
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return openai.NewClientWithConfig(cfg)
}
