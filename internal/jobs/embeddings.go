package jobs

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"zapask/internal/metrics"
	"zapask/internal/storage"
)

type BackfillStore interface {
	MessagesWithoutEmbeddings(ctx context.Context, limit int) ([]storage.Message, error)
	UpdateMessageEmbedding(ctx context.Context, messageID string, embedding []float32) error
}

type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingBackfill embeds stored messages that were indexed without a
// vector, typically because the embedding call failed during sync.
type EmbeddingBackfill struct {
	store     BackfillStore
	embedder  BatchEmbedder
	batchSize int
	interval  time.Duration
	logger    *slog.Logger
	done      chan struct{}
}

func NewEmbeddingBackfill(store BackfillStore, embedder BatchEmbedder, interval time.Duration, logger *slog.Logger) *EmbeddingBackfill {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbeddingBackfill{
		store:     store,
		embedder:  embedder,
		batchSize: 50,
		interval:  interval,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start runs the backfill on every tick until ctx is cancelled or Stop is
// called.
func (e *EmbeddingBackfill) Start(ctx context.Context) {
	e.logger.Info("Starting embedding backfill",
		slog.Int("batch_size", e.batchSize),
		slog.Duration("interval", e.interval))

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Embedding backfill stopped due to context cancellation")
			return
		case <-e.done:
			e.logger.Info("Embedding backfill stopped")
			return
		case <-ticker.C:
			if _, err := e.RunOnce(ctx); err != nil {
				e.logger.Error("Error running embedding backfill", "error", err)
			}
		}
	}
}

func (e *EmbeddingBackfill) Stop() {
	close(e.done)
}

// RunOnce processes one batch and reports how many messages got a vector.
func (e *EmbeddingBackfill) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()

	msgs, err := e.store.MessagesWithoutEmbeddings(ctx, e.batchSize)
	if err != nil {
		metrics.EmbeddingBackfills.WithLabelValues("error").Inc()
		return 0, err
	}
	metrics.MessagesWithoutEmbeddings.Set(float64(len(msgs)))
	if len(msgs) == 0 {
		e.logger.Debug("No messages waiting for embeddings")
		return 0, nil
	}

	var pending []storage.Message
	var texts []string
	updated := 0
	for _, m := range msgs {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			// a zero vector keeps blank rows from being picked up again
			if err := e.store.UpdateMessageEmbedding(ctx, m.ID, make([]float32, storage.EmbeddingDimensions)); err != nil {
				e.logger.Error("Error marking blank message", "message_id", m.ID, "error", err)
				metrics.EmbeddingBackfills.WithLabelValues("error").Inc()
				continue
			}
			metrics.EmbeddingBackfills.WithLabelValues("placeholder").Inc()
			updated++
			continue
		}
		pending = append(pending, m)
		texts = append(texts, text)
	}
	if len(pending) == 0 {
		return updated, nil
	}

	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		metrics.EmbeddingBackfills.WithLabelValues("error").Add(float64(len(pending)))
		return updated, err
	}

	for i, m := range pending {
		if i >= len(vectors) || len(vectors[i]) == 0 {
			metrics.EmbeddingBackfills.WithLabelValues("error").Inc()
			continue
		}
		if err := e.store.UpdateMessageEmbedding(ctx, m.ID, vectors[i]); err != nil {
			e.logger.Error("Error storing message embedding",
				slog.String("message_id", m.ID),
				slog.String("error", err.Error()))
			metrics.EmbeddingBackfills.WithLabelValues("error").Inc()
			continue
		}
		metrics.EmbeddingBackfills.WithLabelValues("success").Inc()
		updated++
	}

	e.logger.Info("Completed embedding backfill batch",
		slog.Int("updated", updated),
		slog.Int("total", len(msgs)),
		slog.Duration("duration", time.Since(start)))
	return updated, nil
}

// SetBatchSize updates the batch size for processing
func (e *EmbeddingBackfill) SetBatchSize(size int) {
	if size > 0 && size <= 500 {
		e.batchSize = size
	}
}
