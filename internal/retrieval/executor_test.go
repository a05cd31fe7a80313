package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapask/internal/discourse"
	"zapask/internal/planner"
	"zapask/internal/storage"
	"zapask/internal/timeutil"
)

type fakeStore struct {
	mu sync.Mutex

	docs       []storage.Document
	docsErr    error
	docNames   []string
	messages   []storage.Message
	messagesFn func(bounds storage.TimeBounds, limit int) ([]storage.Message, error)
	lastBounds storage.TimeBounds
	lastLimit  int
	rangeHits  []storage.ChunkHit

	matches      []storage.Message
	matchesErr   error
	chunkHits    []storage.ChunkHit
	chunkErr     error
	searchParams []storage.SearchParams

	windows      map[string][]storage.Message
	windowCalls  []string
	previews     map[string][]storage.Message
	previewCalls []string
}

func (f *fakeStore) DocumentsByName(ctx context.Context, teamID, channelID string, names []string, bounds storage.TimeBounds) ([]storage.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docNames = names
	f.lastBounds = bounds
	return f.docs, f.docsErr
}

func (f *fakeStore) ChannelMessages(ctx context.Context, teamID, channelID string, bounds storage.TimeBounds, limit int) ([]storage.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastBounds = bounds
	f.lastLimit = limit
	if f.messagesFn != nil {
		return f.messagesFn(bounds, limit)
	}
	return f.messages, nil
}

func (f *fakeStore) ChunksInRange(ctx context.Context, teamID, channelID string, bounds storage.TimeBounds, limit int) ([]storage.ChunkHit, error) {
	return f.rangeHits, nil
}

func (f *fakeStore) SearchMessages(ctx context.Context, p storage.SearchParams) ([]storage.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchParams = append(f.searchParams, p)
	return f.matches, f.matchesErr
}

func (f *fakeStore) SearchDocumentChunks(ctx context.Context, p storage.SearchParams) ([]storage.ChunkHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchParams = append(f.searchParams, p)
	return f.chunkHits, f.chunkErr
}

func (f *fakeStore) SurroundingMessages(ctx context.Context, teamID, channelID, ts string, count int) ([]storage.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windowCalls = append(f.windowCalls, fmt.Sprintf("%s/%d", ts, count))
	return f.windows[ts], nil
}

func (f *fakeStore) ThreadPreview(ctx context.Context, teamID, channelID, threadTS string, limit int) ([]storage.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.previewCalls = append(f.previewCalls, threadTS)
	return f.previews[threadTS], nil
}

type fakeEmbedder struct {
	err   error
	texts []string
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

var testNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestExecutor(store Store, emb Embedder) *Executor {
	e := NewExecutor(store, emb, DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.now = func() time.Time { return testNow }
	return e
}

func planWith(primary planner.Call, fallbacks ...planner.Call) planner.Plan {
	p := planner.Plan{
		Analysis: planner.Analysis{Broadened: "launch plan", KeywordQuery: "launch|plan"},
		Primary:  planner.Step{Call: primary, Confidence: 0.9},
	}
	for _, fb := range fallbacks {
		p.Fallbacks = append(p.Fallbacks, planner.Step{Call: fb})
	}
	return p
}

func request(plan planner.Plan) Request {
	return Request{TeamID: "T1", ChannelID: "C1", Plan: plan}
}

func TestExecute_EmptyPrimaryRunsOneFallback(t *testing.T) {
	store := &fakeStore{
		matches: []storage.Message{{TS: "100.000001", UserID: "U1", Text: "launch is friday"}},
	}
	emb := &fakeEmbedder{}
	e := newTestExecutor(store, emb)

	plan := planWith(
		planner.SummarizeConversation{},
		planner.HybridSearch{},
		planner.AnalyzeDocuments{FileNames: []string{"never.pdf"}},
	)
	res := e.Execute(context.Background(), request(plan))

	require.NoError(t, res.Err)
	assert.True(t, res.Fallback)
	assert.Equal(t, planner.FuncHybridSearch, res.Function)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "launch is friday", res.Data[0].Text)
	assert.Nil(t, store.docNames, "second fallback must not run")
	assert.Equal(t, []string{"launch plan"}, emb.texts)
}

func TestExecute_EmptyFallbackIsReturned(t *testing.T) {
	store := &fakeStore{}
	e := newTestExecutor(store, &fakeEmbedder{})

	res := e.Execute(context.Background(), request(planWith(planner.SummarizeConversation{}, planner.AnalyzeDocuments{FileNames: []string{"a.pdf"}})))
	require.NoError(t, res.Err)
	assert.True(t, res.Fallback)
	assert.Equal(t, planner.FuncAnalyzeDocuments, res.Function)
	assert.True(t, res.Empty())
}

func TestExecute_ErrorWithoutFallbackIsReturned(t *testing.T) {
	boom := errors.New("db down")
	store := &fakeStore{docsErr: boom}
	e := newTestExecutor(store, &fakeEmbedder{})

	res := e.Execute(context.Background(), request(planWith(planner.AnalyzeDocuments{FileNames: []string{"a.pdf"}})))
	assert.ErrorIs(t, res.Err, boom)
	assert.False(t, res.Fallback)
	assert.Equal(t, "Please try again with different file names or check channel ID.", res.Suggestions)
	assert.Empty(t, res.Data)
}

func TestExecute_NilCall(t *testing.T) {
	e := newTestExecutor(&fakeStore{}, &fakeEmbedder{})
	res := e.Execute(context.Background(), Request{TeamID: "T1", ChannelID: "C1"})
	assert.ErrorIs(t, res.Err, ErrNoCall)
}

func TestAnalyzeDocuments_CapsFiles(t *testing.T) {
	store := &fakeStore{docs: []storage.Document{{
		FileID: "F1", TS: "50.000000", ThreadTS: "40.000000", Name: "a.pdf", Permalink: "https://p/a",
		Chunks: []storage.Chunk{{ChunkIndex: 0, Text: "intro"}, {ChunkIndex: 1, Text: "body"}},
	}}}
	e := newTestExecutor(store, &fakeEmbedder{})

	res := e.Execute(context.Background(), request(planWith(planner.AnalyzeDocuments{FileNames: []string{"a.pdf", "b.pdf", "c.pdf"}})))
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, store.docNames)
	assert.Equal(t, "Cannot exceed more than 2 files at once", res.Note)
	assert.Nil(t, store.lastBounds.Start)
	assert.Nil(t, store.lastBounds.End)

	require.Len(t, res.Data, 2)
	for i, entry := range res.Data {
		assert.Equal(t, discourse.SourceDocument, entry.Source)
		require.NotNil(t, entry.ChunkIndex)
		assert.Equal(t, i, *entry.ChunkIndex)
		assert.Equal(t, "a.pdf", *entry.Name)
	}
}

func TestSummarize_LimitOnlyWithoutEndBound(t *testing.T) {
	store := &fakeStore{messages: []storage.Message{
		{TS: "10.000000", ThreadTS: "10.000000", UserID: "U1", Text: "root"},
		{TS: "12.000000", ThreadTS: "10.000000", UserID: "U2", Text: "reply"},
		{TS: "20.000000", UserID: "U3", Text: "other"},
	}}
	e := newTestExecutor(store, &fakeEmbedder{})

	res := e.Execute(context.Background(), request(planWith(planner.SummarizeConversation{})))
	require.NoError(t, res.Err)
	assert.Equal(t, 30, store.lastLimit)
	assert.Equal(t, "Messages are summarized within a 15-day window.", res.Note)
	require.Len(t, res.Data, 2)
	require.Len(t, res.Data[0].Replies, 1)
	assert.Equal(t, "12.000000", res.Data[0].Replies[0].TS)
	assert.Equal(t, "U2", res.Data[0].Replies[0].User)

	start := testNow.Add(-48 * time.Hour).Format(time.RFC3339)
	end := testNow.Add(-24 * time.Hour).Format(time.RFC3339)
	res = e.Execute(context.Background(), request(planWith(planner.SummarizeConversation{
		Start: timeutil.ISO(start), End: timeutil.ISO(end), IncludeDocs: true,
	})))
	require.NoError(t, res.Err)
	assert.Equal(t, 0, store.lastLimit)
	require.NotNil(t, store.lastBounds.End)
	assert.Equal(t, testNow.Add(-24*time.Hour).Unix(), *store.lastBounds.End)
}

func TestSummarize_IncludeDocs(t *testing.T) {
	store := &fakeStore{
		messages:  []storage.Message{{TS: "10.000000", UserID: "U1", Text: "see doc"}},
		rangeHits: []storage.ChunkHit{{FileID: "F1", Name: "plan.pdf", TS: "11.000000", ChunkIndex: 0, Text: "chunk"}},
	}
	e := newTestExecutor(store, &fakeEmbedder{})

	res := e.Execute(context.Background(), request(planWith(planner.SummarizeConversation{IncludeDocs: true})))
	require.Len(t, res.Data, 2)
	assert.Equal(t, discourse.SourceDocument, res.Data[1].Source)
}

func TestRange_EndOutsideRetentionClampsToNow(t *testing.T) {
	store := &fakeStore{}
	e := newTestExecutor(store, &fakeEmbedder{})

	old := testNow.Add(-30 * 24 * time.Hour).Format(time.RFC3339)
	res := e.Execute(context.Background(), request(planWith(planner.SummarizeConversation{
		Start: timeutil.ISO(old), End: timeutil.ISO(old),
	})))

	assert.True(t, res.Range.EndClamped)
	require.NotNil(t, store.lastBounds.End)
	assert.Equal(t, testNow.Unix(), *store.lastBounds.End)
}

func TestHybridSearch_Enrichment(t *testing.T) {
	var matches []storage.Message
	for i := 0; i < 7; i++ {
		matches = append(matches, storage.Message{TS: fmt.Sprintf("%d.000000", 100+i*10), UserID: "U1", Text: fmt.Sprintf("match %d", i)})
	}
	matches[1].ThreadTS = "50.000000"

	store := &fakeStore{
		matches: matches,
		chunkHits: []storage.ChunkHit{
			{FileID: "F1", Name: "plan.pdf", TS: "90.000000", ChunkIndex: 0, Text: "doc 0"},
			{FileID: "F1", Name: "plan.pdf", TS: "90.000000", ChunkIndex: 1, Text: "doc 1"},
		},
		windows: map[string][]storage.Message{
			"100.000000": {{TS: "99.000000", UserID: "U2", Text: "before"}, {TS: "101.000000", UserID: "U2", Text: "after"}},
		},
		previews: map[string][]storage.Message{
			"50.000000": {
				{TS: "50.000000", ThreadTS: "50.000000", UserID: "U3", Text: "thread root"},
				{TS: "51.000000", ThreadTS: "50.000000", UserID: "U4", Text: "first reply"},
			},
		},
	}
	e := newTestExecutor(store, &fakeEmbedder{})

	res := e.Execute(context.Background(), request(planWith(planner.HybridSearch{WindowSize: 2})))
	require.NoError(t, res.Err)
	assert.False(t, res.Fallback)

	sort.Strings(store.windowCalls)
	assert.Equal(t, []string{"100.000000/2", "110.000000/2", "120.000000/2", "130.000000/2", "140.000000/2"}, store.windowCalls)
	assert.Equal(t, []string{"50.000000"}, store.previewCalls)

	require.Len(t, store.searchParams, 2)
	counts := []int{store.searchParams[0].MatchCount, store.searchParams[1].MatchCount}
	sort.Ints(counts)
	assert.Equal(t, []int{5, 8}, counts)
	assert.Equal(t, "launch|plan", store.searchParams[0].KeywordQuery)
	assert.NotEmpty(t, store.searchParams[0].Embedding)

	// 6 unthreaded matches, 2 window messages, the thread root and 2 chunks
	// are roots; the matched reply and the preview reply sit under the root.
	assert.Equal(t, 11, len(res.Data))
	assert.Equal(t, 13, discourse.Count(res.Data))

	var thread *discourse.Entry
	for i := range res.Data {
		if res.Data[i].TS == "50.000000" {
			thread = &res.Data[i]
		}
	}
	require.NotNil(t, thread)
	require.Len(t, thread.Replies, 2)
	assert.Equal(t, "51.000000", thread.Replies[0].TS)
	assert.Equal(t, "110.000000", thread.Replies[1].TS)
}

func TestHybridSearch_DegradesOnPartialFailure(t *testing.T) {
	store := &fakeStore{
		matchesErr: errors.New("fts syntax"),
		chunkHits:  []storage.ChunkHit{{FileID: "F1", TS: "1.000000", Text: "doc"}},
	}
	e := newTestExecutor(store, &fakeEmbedder{err: errors.New("embeddings down")})

	res := e.Execute(context.Background(), request(planWith(planner.HybridSearch{})))
	require.NoError(t, res.Err)
	require.Len(t, res.Data, 1)
	// searchArgs sends this as SQL NULL, see TestSearchArgs_KeywordOnlySendsNullEmbedding
	assert.Nil(t, store.searchParams[0].Embedding)
}

func TestHybridSearch_BothSearchesFail(t *testing.T) {
	store := &fakeStore{matchesErr: errors.New("a"), chunkErr: errors.New("b")}
	e := newTestExecutor(store, &fakeEmbedder{})

	res := e.Execute(context.Background(), request(planWith(planner.HybridSearch{})))
	assert.Error(t, res.Err)
	assert.Equal(t, "Please try refining your search terms or time range.", res.Suggestions)
}
