// Package retrieval runs retrieval plans against the message and document
// indexes.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zapask/internal/discourse"
	"zapask/internal/metrics"
	"zapask/internal/planner"
	"zapask/internal/storage"
	"zapask/internal/timeutil"
)

var ErrNoCall = errors.New("plan has no retrieval call")

type Store interface {
	DocumentsByName(ctx context.Context, teamID, channelID string, names []string, bounds storage.TimeBounds) ([]storage.Document, error)
	ChannelMessages(ctx context.Context, teamID, channelID string, bounds storage.TimeBounds, limit int) ([]storage.Message, error)
	ChunksInRange(ctx context.Context, teamID, channelID string, bounds storage.TimeBounds, limit int) ([]storage.ChunkHit, error)
	SearchMessages(ctx context.Context, p storage.SearchParams) ([]storage.Message, error)
	SearchDocumentChunks(ctx context.Context, p storage.SearchParams) ([]storage.ChunkHit, error)
	SurroundingMessages(ctx context.Context, teamID, channelID, ts string, count int) ([]storage.Message, error)
	ThreadPreview(ctx context.Context, teamID, channelID, threadTS string, limit int) ([]storage.Message, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Config struct {
	Retention          time.Duration
	MaxFiles           int
	SummaryLimit       int
	SummaryDocChunks   int
	WindowSize         int
	MessageMatchCount  int
	DocumentMatchCount int
	MatchThreshold     float64
	RRFK               int
	VectorWeight       float64
	KeywordWeight      float64
	ContextualFetches  int
	ContextConcurrency int
	ThreadPreviews     int
	ThreadPreviewSize  int
}

func DefaultConfig() Config {
	return Config{
		Retention:          15 * 24 * time.Hour,
		MaxFiles:           2,
		SummaryLimit:       30,
		SummaryDocChunks:   20,
		WindowSize:         5,
		MessageMatchCount:  8,
		DocumentMatchCount: 5,
		MatchThreshold:     0.3,
		RRFK:               60,
		VectorWeight:       1.0,
		KeywordWeight:      1.0,
		ContextualFetches:  5,
		ContextConcurrency: 2,
		ThreadPreviews:     5,
		ThreadPreviewSize:  3,
	}
}

// Request is a plan bound to the channel it runs against.
type Request struct {
	TeamID    string
	ChannelID string
	Plan      planner.Plan
}

// Result is what one retrieval function produced. Err is set when the
// function failed; Data is then empty.
type Result struct {
	Function    string
	Data        []discourse.Entry
	Note        string
	Suggestions string
	Err         error
	Range       timeutil.Range
	Fallback    bool
}

func (r Result) Empty() bool {
	return len(r.Data) == 0
}

type Executor struct {
	store    Store
	embedder Embedder
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func NewExecutor(store Store, embedder Embedder, cfg Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{store: store, embedder: embedder, cfg: cfg, logger: logger, now: time.Now}
}

// Execute runs the primary call. When it fails or finds nothing, the first
// fallback runs instead; there is no second level of fallback.
func (e *Executor) Execute(ctx context.Context, req Request) Result {
	primary := e.run(ctx, req, req.Plan.Primary.Call)
	if primary.Err == nil && !primary.Empty() {
		return primary
	}

	step, ok := req.Plan.Fallback()
	if !ok {
		return primary
	}

	e.logger.Info("Primary retrieval came back empty, running fallback",
		"primary", primary.Function,
		"fallback", step.Call.Name(),
		"error", primary.Err)
	metrics.RetrievalFallbacks.WithLabelValues(primary.Function).Inc()

	result := e.run(ctx, req, step.Call)
	result.Fallback = true
	return result
}

func (e *Executor) run(ctx context.Context, req Request, call planner.Call) Result {
	if call == nil {
		return Result{Function: "none", Err: ErrNoCall}
	}

	start, end := call.TimeArgs()
	rng := timeutil.NormalizeRange(start, end, e.now(), e.cfg.Retention)
	bounds := storage.TimeBounds{Start: rng.Start, End: rng.End}

	began := time.Now()
	var res Result
	switch c := call.(type) {
	case planner.AnalyzeDocuments:
		res = e.analyzeDocuments(ctx, req, c, bounds)
	case planner.SummarizeConversation:
		res = e.summarizeConversation(ctx, req, c, bounds)
	case planner.HybridSearch:
		res = e.hybridSearch(ctx, req, c, bounds)
	default:
		res = Result{Err: fmt.Errorf("unsupported retrieval call %T", call)}
	}

	res.Function = call.Name()
	res.Range = rng
	metrics.RetrievalCalls.WithLabelValues(res.Function, metrics.Status(res.Err)).Inc()
	e.logger.Debug("Retrieval finished",
		"function", res.Function,
		"entries", discourse.Count(res.Data),
		"end_clamped", rng.EndClamped,
		"duration", time.Since(began),
		"error", res.Err)
	return res
}

func (e *Executor) analyzeDocuments(ctx context.Context, req Request, c planner.AnalyzeDocuments, bounds storage.TimeBounds) Result {
	names := c.FileNames
	var note string
	if len(names) > e.cfg.MaxFiles {
		names = names[:e.cfg.MaxFiles]
		note = fmt.Sprintf("Cannot exceed more than %d files at once", e.cfg.MaxFiles)
	}

	docs, err := e.store.DocumentsByName(ctx, req.TeamID, req.ChannelID, names, bounds)
	if err != nil {
		return Result{
			Err:         fmt.Errorf("failed to analyze documents: %w", err),
			Suggestions: "Please try again with different file names or check channel ID.",
		}
	}

	var items []discourse.Item
	for _, d := range docs {
		for _, ch := range d.Chunks {
			// Chunks of a named document are listed on their own, not under
			// the thread the file was shared in.
			items = append(items, discourse.Item{
				Source:       discourse.SourceDocument,
				TS:           d.TS,
				Text:         ch.Text,
				DocumentID:   d.FileID,
				DocumentName: d.Name,
				Permalink:    d.Permalink,
				ChunkIndex:   ch.ChunkIndex,
			})
		}
	}

	return Result{
		Data:        discourse.Structure(discourse.Dedupe(items)),
		Note:        note,
		Suggestions: "Please ensure that the file name exactly matches the file as uploaded on Slack and that it is associated with the correct channel.",
	}
}

func (e *Executor) summarizeConversation(ctx context.Context, req Request, c planner.SummarizeConversation, bounds storage.TimeBounds) Result {
	limit := 0
	if c.End.IsNull() {
		limit = e.cfg.SummaryLimit
	}

	msgs, err := e.store.ChannelMessages(ctx, req.TeamID, req.ChannelID, bounds, limit)
	if err != nil {
		return Result{
			Err:         fmt.Errorf("failed to fetch messages: %w", err),
			Suggestions: "Please try a different time range or channel.",
		}
	}

	items := messageItems(msgs)
	if c.IncludeDocs {
		chunks, err := e.store.ChunksInRange(ctx, req.TeamID, req.ChannelID, bounds, e.cfg.SummaryDocChunks)
		if err != nil {
			e.logger.Warn("Failed to fetch documents for summary", "channel", req.ChannelID, "error", err)
		}
		items = append(items, chunkItems(chunks)...)
	}

	return Result{
		Data:        discourse.Structure(discourse.Dedupe(items)),
		Note:        fmt.Sprintf("Messages are summarized within a %d-day window.", int(e.cfg.Retention.Hours()/24)),
		Suggestions: "Consider inquiring about topics discussed within this channel.",
	}
}

func messageItems(msgs []storage.Message) []discourse.Item {
	items := make([]discourse.Item, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, discourse.Item{
			Source:   discourse.SourceMessage,
			TS:       m.TS,
			ThreadTS: m.ThreadTS,
			User:     m.UserID,
			Text:     m.Text,
			Score:    m.Score,
		})
	}
	return items
}

func chunkItems(hits []storage.ChunkHit) []discourse.Item {
	items := make([]discourse.Item, 0, len(hits))
	for _, h := range hits {
		items = append(items, discourse.Item{
			Source:       discourse.SourceDocument,
			TS:           h.TS,
			ThreadTS:     h.ThreadTS,
			Text:         h.Text,
			DocumentID:   h.FileID,
			DocumentName: h.Name,
			Permalink:    h.Permalink,
			ChunkIndex:   h.ChunkIndex,
			Score:        h.Score,
		})
	}
	return items
}
