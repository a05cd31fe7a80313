package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapask/internal/storage"
)

type mockBackfillStore struct {
	mu        sync.Mutex
	pending   []storage.Message
	updated   map[string][]float32
	listErr   error
	updateErr map[string]error
	limits    []int
}

func (m *mockBackfillStore) MessagesWithoutEmbeddings(_ context.Context, limit int) ([]storage.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = append(m.limits, limit)
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []storage.Message
	for _, msg := range m.pending {
		if _, done := m.updated[msg.ID]; !done {
			out = append(out, msg)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockBackfillStore) UpdateMessageEmbedding(_ context.Context, id string, embedding []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.updateErr[id]; err != nil {
		return err
	}
	if m.updated == nil {
		m.updated = make(map[string][]float32)
	}
	m.updated[id] = embedding
	return nil
}

type mockBatchEmbedder struct {
	calls [][]string
	err   error
}

func (m *mockBatchEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.calls = append(m.calls, texts)
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i + 1), 0.5}
	}
	return out, nil
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestEmbeddingBackfill_RunOnce(t *testing.T) {
	store := &mockBackfillStore{pending: []storage.Message{
		{ID: "m1", Text: "deploy went out"},
		{ID: "m2", Text: "   "},
		{ID: "m3", Text: " rollback planned "},
	}}
	embedder := &mockBatchEmbedder{}
	job := NewEmbeddingBackfill(store, embedder, time.Minute, quiet)

	n, err := job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, embedder.calls, 1)
	assert.Equal(t, []string{"deploy went out", "rollback planned"}, embedder.calls[0])
	assert.Equal(t, []float32{1, 0.5}, store.updated["m1"])
	assert.Equal(t, []float32{2, 0.5}, store.updated["m3"])
	assert.Len(t, store.updated["m2"], storage.EmbeddingDimensions)

	// nothing is picked up twice
	n, err = job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, embedder.calls, 1)
}

func TestEmbeddingBackfill_BatchSize(t *testing.T) {
	store := &mockBackfillStore{}
	job := NewEmbeddingBackfill(store, &mockBatchEmbedder{}, time.Minute, quiet)

	job.SetBatchSize(10)
	job.SetBatchSize(0)
	job.SetBatchSize(10_000)
	_, err := job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{10}, store.limits)
}

func TestEmbeddingBackfill_Failures(t *testing.T) {
	t.Run("listing fails", func(t *testing.T) {
		store := &mockBackfillStore{listErr: errors.New("db down")}
		_, err := NewEmbeddingBackfill(store, &mockBatchEmbedder{}, time.Minute, quiet).RunOnce(context.Background())
		assert.Error(t, err)
	})

	t.Run("embedding fails", func(t *testing.T) {
		store := &mockBackfillStore{pending: []storage.Message{{ID: "m1", Text: "hello world"}}}
		embedder := &mockBatchEmbedder{err: errors.New("rate limited")}
		n, err := NewEmbeddingBackfill(store, embedder, time.Minute, quiet).RunOnce(context.Background())
		assert.Error(t, err)
		assert.Zero(t, n)
		assert.Empty(t, store.updated)
	})

	t.Run("one update fails", func(t *testing.T) {
		store := &mockBackfillStore{
			pending: []storage.Message{
				{ID: "m1", Text: "first message"},
				{ID: "m2", Text: "second message"},
			},
			updateErr: map[string]error{"m1": errors.New("constraint")},
		}
		n, err := NewEmbeddingBackfill(store, &mockBatchEmbedder{}, time.Minute, quiet).RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Contains(t, store.updated, "m2")
	})
}

func TestEmbeddingBackfill_StartStop(t *testing.T) {
	store := &mockBackfillStore{pending: []storage.Message{{ID: "m1", Text: "needs a vector"}}}
	job := NewEmbeddingBackfill(store, &mockBatchEmbedder{}, 10*time.Millisecond, quiet)

	finished := make(chan struct{})
	go func() {
		job.Start(context.Background())
		close(finished)
	}()

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		_, ok := store.updated["m1"]
		return ok
	}, time.Second, 5*time.Millisecond)

	job.Stop()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("backfill did not stop")
	}
}
