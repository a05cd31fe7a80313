// Package ingest turns shared files into stored, embedded document chunks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"zapask/internal/batch"
	"zapask/internal/metrics"
	"zapask/internal/storage"
)

type Downloader interface {
	DownloadFile(ctx context.Context, url string) ([]byte, error)
}

type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type DocumentStore interface {
	StoreDocument(ctx context.Context, doc storage.Document, chunks []storage.Chunk) error
}

// File is a shared file together with the message that carried it.
type File struct {
	TeamID      string
	ChannelID   string
	MessageTS   string
	ThreadTS    string
	ID          string
	Name        string
	Title       string
	Mimetype    string
	Filetype    string
	UserID      string
	Size        int
	Permalink   string
	DownloadURL string
}

type Outcome struct {
	FileID  string
	Chunks  int
	Skipped bool
}

type Pipeline struct {
	embedder  BatchEmbedder
	store     DocumentStore
	limiter   *Limiter
	chunkSize int
	logger    *slog.Logger
}

func NewPipeline(embedder BatchEmbedder, store DocumentStore, limiter *Limiter, chunkSize int, logger *slog.Logger) *Pipeline {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		embedder:  embedder,
		store:     store,
		limiter:   limiter,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// IngestAll processes every file through the shared limiter. A failed file
// is logged and reported in its result; the others carry on.
func (p *Pipeline) IngestAll(ctx context.Context, dl Downloader, files []File) []batch.Result[Outcome] {
	results := batch.BestEffort(ctx, files, 0, func(ctx context.Context, f File) (Outcome, error) {
		var out Outcome
		err := p.limiter.Run(ctx, func(ctx context.Context) error {
			var err error
			out, err = p.ingest(ctx, dl, f)
			return err
		})
		return out, err
	})

	for i, r := range results {
		if r.Err != nil {
			p.logger.Error("file ingestion failed",
				"team_id", files[i].TeamID,
				"channel_id", files[i].ChannelID,
				"file_id", files[i].ID,
				"name", files[i].Name,
				"error", r.Err)
		}
	}
	return results
}

func (p *Pipeline) ingest(ctx context.Context, dl Downloader, f File) (Outcome, error) {
	out := Outcome{FileID: f.ID}

	if f.DownloadURL == "" {
		metrics.FilesIngested.WithLabelValues(f.Filetype, "skipped").Inc()
		out.Skipped = true
		return out, nil
	}

	data, err := dl.DownloadFile(ctx, f.DownloadURL)
	if err != nil {
		metrics.FilesIngested.WithLabelValues(f.Filetype, "error").Inc()
		return out, fmt.Errorf("download %s: %w", f.ID, err)
	}

	text, err := Extract(f.Name, f.Filetype, data)
	if err != nil {
		// Unreadable content is not a pipeline failure.
		p.logger.Warn("no text extracted from file", "file_id", f.ID, "name", f.Name, "error", err)
		text = ""
	}

	pieces := ChunkText(strings.TrimSpace(text), p.chunkSize)
	if len(pieces) == 0 {
		metrics.FilesIngested.WithLabelValues(f.Filetype, "skipped").Inc()
		out.Skipped = true
		return out, nil
	}

	vectors, err := p.embedder.EmbedBatch(ctx, pieces)
	if err != nil {
		metrics.FilesIngested.WithLabelValues(f.Filetype, "error").Inc()
		return out, fmt.Errorf("embed %s: %w", f.ID, err)
	}
	if len(vectors) != len(pieces) {
		metrics.FilesIngested.WithLabelValues(f.Filetype, "error").Inc()
		return out, errors.New("embedding count does not match chunk count")
	}

	chunks := make([]storage.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = storage.Chunk{
			FileID:     f.ID,
			ChunkIndex: i,
			Text:       piece,
			Embedding:  vectors[i],
		}
	}

	doc := storage.Document{
		TeamID:      f.TeamID,
		FileID:      f.ID,
		ChannelID:   f.ChannelID,
		TS:          f.MessageTS,
		ThreadTS:    f.ThreadTS,
		Name:        f.Name,
		Title:       f.Title,
		Mimetype:    f.Mimetype,
		Filetype:    f.Filetype,
		UserID:      f.UserID,
		Size:        f.Size,
		Permalink:   f.Permalink,
		DownloadURL: f.DownloadURL,
	}

	if err := p.store.StoreDocument(ctx, doc, chunks); err != nil {
		metrics.FilesIngested.WithLabelValues(f.Filetype, "error").Inc()
		return out, fmt.Errorf("store %s: %w", f.ID, err)
	}

	metrics.FilesIngested.WithLabelValues(f.Filetype, "success").Inc()
	out.Chunks = len(chunks)
	p.logger.Info("file ingested", "file_id", f.ID, "name", f.Name, "chunks", len(chunks))
	return out, nil
}
