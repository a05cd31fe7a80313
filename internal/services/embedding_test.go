package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// fakeOpenAI serves the embeddings and chat completion endpoints.
type fakeOpenAI struct {
	embeddingCalls int32
	reverse        bool
	chatContent    string
	fail           bool
}

func (f *fakeOpenAI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if f.fail {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/embeddings"):
			atomic.AddInt32(&f.embeddingCalls, 1)
			var req struct {
				Input []string `json:"input"`
				Model string   `json:"model"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("bad embedding request: %v", err)
			}

			type item struct {
				Object    string    `json:"object"`
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}
			data := make([]item, len(req.Input))
			for i, in := range req.Input {
				data[i] = item{Object: "embedding", Embedding: []float32{float32(len(in)), float32(i)}, Index: i}
			}
			if f.reverse {
				for i, j := 0, len(data)-1; i < j; i, j = i+1, j-1 {
					data[i], data[j] = data[j], data[i]
				}
			}
			json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": req.Model})

		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			json.NewEncoder(w).Encode(map[string]any{
				"id":     "chatcmpl-1",
				"object": "chat.completion",
				"choices": []map[string]any{{
					"index":         0,
					"message":       map[string]string{"role": "assistant", "content": f.chatContent},
					"finish_reason": "stop",
				}},
			})

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newFakeOpenAI(t *testing.T, fake *fakeOpenAI) string {
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)
	return server.URL + "/v1"
}

func TestEmbed_EmptyInput(t *testing.T) {
	svc := NewEmbeddingService(NewOpenAIClient("sk-test", "http://127.0.0.1:0"), "")

	testCases := []struct {
		name  string
		input string
	}{
		{"empty string", ""},
		{"whitespace only", "   \t\n  "},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Embed(context.Background(), tc.input)
			if !errors.Is(err, ErrEmptyInput) {
				t.Errorf("expected ErrEmptyInput, got %v", err)
			}
		})
	}
}

func TestEmbedBatch_Validation(t *testing.T) {
	svc := NewEmbeddingService(NewOpenAIClient("sk-test", "http://127.0.0.1:0"), "")

	if _, err := svc.EmbedBatch(context.Background(), nil); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("empty batch should fail with ErrEmptyInput, got %v", err)
	}
	if _, err := svc.EmbedBatch(context.Background(), []string{"ok", "  "}); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("blank item should fail with ErrEmptyInput, got %v", err)
	}
}

func TestEmbedBatch_PreservesOrder(t *testing.T) {
	fake := &fakeOpenAI{reverse: true}
	svc := NewEmbeddingService(NewOpenAIClient("sk-test", newFakeOpenAI(t, fake)), "text-embedding-3-small")

	texts := []string{"a", "bbb", "cc"}
	embeddings, err := svc.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(embeddings) != len(texts) {
		t.Fatalf("expected %d embeddings, got %d", len(texts), len(embeddings))
	}
	for i, text := range texts {
		if embeddings[i][0] != float32(len(text)) || embeddings[i][1] != float32(i) {
			t.Errorf("embedding %d out of order: %v", i, embeddings[i])
		}
	}
}

func TestEmbedBatch_SplitsLargeBatches(t *testing.T) {
	fake := &fakeOpenAI{}
	svc := NewEmbeddingService(NewOpenAIClient("sk-test", newFakeOpenAI(t, fake)), "")

	texts := make([]string, maxBatchInputs+3)
	for i := range texts {
		texts[i] = "text"
	}
	embeddings, err := svc.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(embeddings) != len(texts) {
		t.Errorf("expected %d embeddings, got %d", len(texts), len(embeddings))
	}
	if calls := atomic.LoadInt32(&fake.embeddingCalls); calls != 2 {
		t.Errorf("expected 2 API calls, got %d", calls)
	}
}

func TestEmbed_APIError(t *testing.T) {
	fake := &fakeOpenAI{fail: true}
	svc := NewEmbeddingService(NewOpenAIClient("sk-test", newFakeOpenAI(t, fake)), "")

	if _, err := svc.Embed(context.Background(), "hello there"); err == nil {
		t.Errorf("expected error from failing API")
	}
}

func TestTruncateInput(t *testing.T) {
	testCases := []struct {
		name  string
		input string
	}{
		{"short text", "short"},
		{"exactly at limit", strings.Repeat("a", maxInputChars)},
		{"over limit", strings.Repeat("a", maxInputChars+1000)},
		{"over limit with spaces", strings.Repeat("word ", (maxInputChars+1000)/5)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := truncateInput(tc.input)
			if len(result) > maxInputChars {
				t.Errorf("Expected max length %d, got %d", maxInputChars, len(result))
			}
			if len(result) == 0 {
				t.Errorf("Text should not be truncated to empty string")
			}
			if strings.HasSuffix(tc.name, "spaces") && strings.HasSuffix(result, "wor") {
				t.Errorf("Text should be cut at a word boundary")
			}
		})
	}
}
