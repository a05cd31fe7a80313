package retrieval

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"zapask/internal/batch"
	"zapask/internal/discourse"
	"zapask/internal/planner"
	"zapask/internal/storage"
)

// hybridSearch ranks messages and document chunks, then widens the top
// message matches with their neighbours and with previews of the threads
// they belong to.
func (e *Executor) hybridSearch(ctx context.Context, req Request, c planner.HybridSearch, bounds storage.TimeBounds) Result {
	fail := func(err error) Result {
		return Result{
			Err:         fmt.Errorf("hybrid search failed: %w", err),
			Suggestions: "Please try refining your search terms or time range.",
		}
	}

	analysis := req.Plan.Analysis
	embedding, err := e.embedder.Embed(ctx, analysis.Broadened)
	if err != nil {
		e.logger.Warn("Query embedding failed, searching by keywords only", "error", err)
		embedding = nil
	}

	params := storage.SearchParams{
		TeamID:         req.TeamID,
		ChannelID:      req.ChannelID,
		KeywordQuery:   analysis.KeywordQuery,
		Embedding:      embedding,
		Bounds:         bounds,
		MatchThreshold: e.cfg.MatchThreshold,
		RRFK:           e.cfg.RRFK,
		VectorWeight:   e.cfg.VectorWeight,
		KeywordWeight:  e.cfg.KeywordWeight,
	}

	var (
		matches          []storage.Message
		chunks           []storage.ChunkHit
		msgErr, chunkErr error
	)
	var g errgroup.Group
	g.Go(func() error {
		p := params
		p.MatchCount = e.cfg.MessageMatchCount
		matches, msgErr = e.store.SearchMessages(ctx, p)
		return nil
	})
	g.Go(func() error {
		p := params
		p.MatchCount = e.cfg.DocumentMatchCount
		chunks, chunkErr = e.store.SearchDocumentChunks(ctx, p)
		return nil
	})
	_ = g.Wait()

	if msgErr != nil && chunkErr != nil {
		return fail(errors.Join(msgErr, chunkErr))
	}
	if msgErr != nil {
		e.logger.Warn("Message search failed", "channel", req.ChannelID, "error", msgErr)
	}
	if chunkErr != nil {
		e.logger.Warn("Document search failed", "channel", req.ChannelID, "error", chunkErr)
	}

	windowSize := c.WindowSize
	if windowSize <= 0 {
		windowSize = e.cfg.WindowSize
	}

	items := messageItems(matches)
	items = append(items, e.conversationalWindows(ctx, req, matches, windowSize)...)
	items = discourse.Dedupe(items)
	items = append(items, e.threadPreviews(ctx, req, items)...)
	items = append(items, chunkItems(chunks)...)

	return Result{
		Data:        discourse.Structure(discourse.Dedupe(items)),
		Suggestions: "Consider inquiring about topics discussed within this channel.",
	}
}

// conversationalWindows fetches the messages around each of the top matches.
func (e *Executor) conversationalWindows(ctx context.Context, req Request, matches []storage.Message, windowSize int) []discourse.Item {
	top := matches
	if len(top) > e.cfg.ContextualFetches {
		top = top[:e.cfg.ContextualFetches]
	}

	results := batch.BestEffort(ctx, top, e.cfg.ContextConcurrency, func(ctx context.Context, m storage.Message) ([]storage.Message, error) {
		return e.store.SurroundingMessages(ctx, req.TeamID, req.ChannelID, m.TS, windowSize)
	})

	var items []discourse.Item
	for i, r := range results {
		if r.Err != nil {
			e.logger.Warn("Failed to fetch conversational window", "ts", top[i].TS, "error", r.Err)
			continue
		}
		items = append(items, messageItems(r.Value)...)
	}
	return items
}

// threadPreviews fetches the opening messages of each thread referenced by
// the items, up to the configured number of threads.
func (e *Executor) threadPreviews(ctx context.Context, req Request, items []discourse.Item) []discourse.Item {
	seen := make(map[string]bool)
	var threads []string
	for _, it := range items {
		if it.ThreadTS == "" || seen[it.ThreadTS] {
			continue
		}
		seen[it.ThreadTS] = true
		threads = append(threads, it.ThreadTS)
		if len(threads) == e.cfg.ThreadPreviews {
			break
		}
	}

	results := batch.BestEffort(ctx, threads, 0, func(ctx context.Context, threadTS string) ([]storage.Message, error) {
		return e.store.ThreadPreview(ctx, req.TeamID, req.ChannelID, threadTS, e.cfg.ThreadPreviewSize)
	})

	var previews []discourse.Item
	for i, r := range results {
		if r.Err != nil {
			e.logger.Warn("Failed to fetch thread preview", "thread_ts", threads[i], "error", r.Err)
			continue
		}
		previews = append(previews, messageItems(r.Value)...)
	}
	return previews
}
