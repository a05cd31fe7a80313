// Package syncer keeps each channel's message and document corpus current.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"zapask/internal/batch"
	"zapask/internal/ingest"
	"zapask/internal/integrations/slack"
	"zapask/internal/metrics"
	"zapask/internal/storage"
	"zapask/internal/timeutil"
)

const (
	defaultLookback          = 20 * 24 * time.Hour
	defaultThreadConcurrency = 5

	excludeReaction = "no_entry_sign"
)

// systemSubtypes are Slack message subtypes that never carry user content.
var systemSubtypes = map[string]bool{
	"bot_message":     true,
	"channel_join":    true,
	"channel_leave":   true,
	"channel_topic":   true,
	"channel_purpose": true,
	"channel_name":    true,
	"channel_archive": true,
}

type Store interface {
	GetSyncState(ctx context.Context, teamID, channelID string) (*storage.SyncState, error)
	SaveSyncState(ctx context.Context, state storage.SyncState) error
	StoreMessages(ctx context.Context, messages []storage.Message) error
	OptedOutUsers(ctx context.Context, teamID string) ([]string, error)
}

// SlackAPI is the per-workspace chat client.
type SlackAPI interface {
	ChannelHistory(ctx context.Context, channelID, oldest string) ([]slack.Message, error)
	ThreadReplies(ctx context.Context, channelID, threadTS, oldest string) ([]slack.Message, int, error)
	DownloadFile(ctx context.Context, url string) ([]byte, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type FileIngester interface {
	IngestAll(ctx context.Context, dl ingest.Downloader, files []ingest.File) []batch.Result[ingest.Outcome]
}

// Target identifies the channel to sync and the credentials to sync it with.
type Target struct {
	TeamID    string
	ChannelID string
	BotUserID string
	API       SlackAPI
}

// Report summarizes one sync run.
type Report struct {
	Skipped        bool
	Roots          int
	Replies        int
	TextIndexed    int
	FilesIngested  int
	FilesFailed    int
	ThreadsPruned  int
	ThreadsTracked int
	LastMainTS     string
}

type Options struct {
	Lookback          time.Duration
	ThreadConcurrency int
	Logger            *slog.Logger
}

type Coordinator struct {
	store             Store
	embedder          Embedder
	files             FileIngester
	locks             Locker
	lookback          time.Duration
	threadConcurrency int
	logger            *slog.Logger
	now               func() time.Time
}

func NewCoordinator(store Store, embedder Embedder, files FileIngester, locks Locker, opts Options) *Coordinator {
	if opts.Lookback <= 0 {
		opts.Lookback = defaultLookback
	}
	if opts.ThreadConcurrency <= 0 {
		opts.ThreadConcurrency = defaultThreadConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if locks == nil {
		locks = NewMemoryLocker()
	}
	return &Coordinator{
		store:             store,
		embedder:          embedder,
		files:             files,
		locks:             locks,
		lookback:          opts.Lookback,
		threadConcurrency: opts.ThreadConcurrency,
		logger:            opts.Logger,
		now:               time.Now,
	}
}

// Sync pulls everything new in the channel since the last run. If another
// sync of the same channel holds the lock, Sync returns a skipped report and
// no error.
func (c *Coordinator) Sync(ctx context.Context, t Target) (Report, error) {
	logger := c.logger.With("team_id", t.TeamID, "channel", t.ChannelID)

	release, acquired, err := c.locks.TryAcquire(ctx, t.TeamID+":"+t.ChannelID)
	if err != nil {
		metrics.SyncRuns.WithLabelValues("error").Inc()
		return Report{}, err
	}
	if !acquired {
		logger.Debug("Sync already running, skipping")
		metrics.SyncRuns.WithLabelValues("skipped").Inc()
		return Report{Skipped: true}, nil
	}
	defer release()

	start := time.Now()
	report, err := c.run(ctx, t, logger)
	metrics.SyncDuration.Observe(time.Since(start).Seconds())
	metrics.SyncRuns.WithLabelValues(metrics.Status(err)).Inc()
	if err != nil {
		logger.Error("Channel sync failed", "error", err)
		return report, err
	}

	logger.Info("Channel synced",
		"roots", report.Roots,
		"replies", report.Replies,
		"text_indexed", report.TextIndexed,
		"files_ingested", report.FilesIngested,
		"files_failed", report.FilesFailed,
		"threads_pruned", report.ThreadsPruned,
		"threads_tracked", report.ThreadsTracked,
		"duration", time.Since(start))
	return report, nil
}

func (c *Coordinator) run(ctx context.Context, t Target, logger *slog.Logger) (Report, error) {
	state, err := c.loadState(ctx, t)
	if err != nil {
		return Report{}, err
	}

	optedOut, err := c.store.OptedOutUsers(ctx, t.TeamID)
	if err != nil {
		return Report{}, fmt.Errorf("failed to load opted-out users: %w", err)
	}

	var (
		roots   []slack.Message
		tracked []batch.Result[threadFetch]
	)
	var g errgroup.Group
	g.Go(func() error {
		var err error
		roots, err = t.API.ChannelHistory(ctx, t.ChannelID, state.LastMainTS)
		return err
	})
	if len(state.Threads) > 0 {
		g.Go(func() error {
			tracked = c.fetchTrackedThreads(ctx, t, state.Threads)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, fmt.Errorf("failed to fetch channel history: %w", err)
	}

	next := state.Clone()
	report := Report{Roots: len(roots)}

	var replies []slack.Message
	for _, r := range tracked {
		applied, pruned := applyTrackedThread(next.Threads, r, logger)
		replies = append(replies, applied...)
		if pruned {
			report.ThreadsPruned++
		}
	}
	metrics.ThreadsPruned.Add(float64(report.ThreadsPruned))

	discovered := c.fetchDiscoveredThreads(ctx, t, roots)
	for _, r := range discovered {
		replies = append(replies, applyDiscoveredThread(next.Threads, r, logger)...)
	}
	report.Replies = len(replies)

	for _, m := range roots {
		next.LastMainTS = timeutil.MaxTS(next.LastMainTS, m.TS)
	}

	texts, files := partition(dedupeByTS(append(roots, replies...)), t, toSet(optedOut))

	var indexed int
	var fileResults []batch.Result[ingest.Outcome]
	var work errgroup.Group
	work.Go(func() error {
		indexed = c.indexText(ctx, t, texts, logger)
		return nil
	})
	work.Go(func() error {
		if len(files) > 0 {
			fileResults = c.files.IngestAll(ctx, t.API, files)
		}
		return nil
	})
	_ = work.Wait()

	report.TextIndexed = indexed
	report.FilesFailed = batch.Failed(fileResults)
	for _, r := range fileResults {
		if r.OK() && !r.Value.Skipped {
			report.FilesIngested++
		}
	}

	if err := c.store.SaveSyncState(ctx, next); err != nil {
		return report, fmt.Errorf("failed to save sync state: %w", err)
	}
	report.ThreadsTracked = len(next.Threads)
	report.LastMainTS = next.LastMainTS
	return report, nil
}

func (c *Coordinator) loadState(ctx context.Context, t Target) (storage.SyncState, error) {
	state, err := c.store.GetSyncState(ctx, t.TeamID, t.ChannelID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.SyncState{
			TeamID:     t.TeamID,
			ChannelID:  t.ChannelID,
			LastMainTS: timeutil.UnixToSlackTS(c.now().Add(-c.lookback).Unix()),
			Threads:    map[string]storage.ThreadMark{},
		}, nil
	}
	if err != nil {
		return storage.SyncState{}, fmt.Errorf("failed to load sync state: %w", err)
	}
	if state.Threads == nil {
		state.Threads = map[string]storage.ThreadMark{}
	}
	return *state, nil
}

type threadFetch struct {
	ThreadTS   string
	Replies    []slack.Message
	ReplyCount int
}

func (c *Coordinator) fetchTrackedThreads(ctx context.Context, t Target, threads map[string]storage.ThreadMark) []batch.Result[threadFetch] {
	type job struct {
		threadTS string
		since    string
	}
	jobs := make([]job, 0, len(threads))
	for ts, mark := range threads {
		jobs = append(jobs, job{threadTS: ts, since: mark.LastReplyTS})
	}

	results := batch.BestEffort(ctx, jobs, c.threadConcurrency, func(ctx context.Context, j job) (threadFetch, error) {
		replies, count, err := t.API.ThreadReplies(ctx, t.ChannelID, j.threadTS, j.since)
		return threadFetch{ThreadTS: j.threadTS, Replies: replies, ReplyCount: count}, err
	})
	for i := range results {
		results[i].Value.ThreadTS = jobs[i].threadTS
	}
	return results
}

// applyTrackedThread updates a tracked thread's mark from a reply fetch and
// returns the replies to index. A failed fetch leaves the mark alone so the
// thread is retried next time.
func applyTrackedThread(threads map[string]storage.ThreadMark, r batch.Result[threadFetch], logger *slog.Logger) (replies []slack.Message, pruned bool) {
	ts := r.Value.ThreadTS
	if r.Err != nil {
		logger.Warn("Failed to fetch thread replies", "thread_ts", ts, "error", r.Err)
		return nil, false
	}

	mark := threads[ts]
	if len(r.Value.Replies) == 0 && mark.Checked && r.Value.ReplyCount == mark.ReplyCount {
		delete(threads, ts)
		return nil, true
	}

	for _, m := range r.Value.Replies {
		mark.LastReplyTS = timeutil.MaxTS(mark.LastReplyTS, m.TS)
	}
	mark.ReplyCount = r.Value.ReplyCount
	mark.Checked = true
	threads[ts] = mark
	return r.Value.Replies, false
}

// fetchDiscoveredThreads loads the full reply set of every thread rooted in
// the newly fetched root messages.
func (c *Coordinator) fetchDiscoveredThreads(ctx context.Context, t Target, roots []slack.Message) []batch.Result[threadFetch] {
	var threadRoots []string
	for _, m := range roots {
		if m.ThreadTS != "" && m.ThreadTS == m.TS {
			threadRoots = append(threadRoots, m.TS)
		}
	}

	results := batch.BestEffort(ctx, threadRoots, c.threadConcurrency, func(ctx context.Context, ts string) (threadFetch, error) {
		replies, count, err := t.API.ThreadReplies(ctx, t.ChannelID, ts, "")
		return threadFetch{ThreadTS: ts, Replies: replies, ReplyCount: count}, err
	})
	for i := range results {
		results[i].Value.ThreadTS = threadRoots[i]
	}
	return results
}

// applyDiscoveredThread starts tracking a thread found through its root.
// Discovery never prunes. A successful fetch records the full reply count, so
// the next sync may prune the thread if nothing changed. A failed fetch tracks
// the thread unchecked from its root so the replies are picked up next time.
func applyDiscoveredThread(threads map[string]storage.ThreadMark, r batch.Result[threadFetch], logger *slog.Logger) []slack.Message {
	ts := r.Value.ThreadTS
	mark, known := threads[ts]

	if r.Err != nil {
		logger.Warn("Failed to fetch replies of new thread", "thread_ts", ts, "error", r.Err)
		if !known {
			threads[ts] = storage.ThreadMark{LastReplyTS: ts}
		}
		return nil
	}

	newest := ts
	for _, m := range r.Value.Replies {
		newest = timeutil.MaxTS(newest, m.TS)
	}
	mark.LastReplyTS = timeutil.MaxTS(mark.LastReplyTS, newest)
	mark.ReplyCount = r.Value.ReplyCount
	mark.Checked = true
	threads[ts] = mark
	return r.Value.Replies
}

func dedupeByTS(msgs []slack.Message) []slack.Message {
	index := make(map[string]int, len(msgs))
	out := make([]slack.Message, 0, len(msgs))
	for _, m := range msgs {
		if i, ok := index[m.TS]; ok {
			out[i] = m
			continue
		}
		index[m.TS] = len(out)
		out = append(out, m)
	}
	return out
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// partition splits fetched messages into those with text to index and the
// supported files they carry, dropping anything that must not be indexed.
func partition(msgs []slack.Message, t Target, optedOut map[string]bool) ([]slack.Message, []ingest.File) {
	var texts []slack.Message
	var files []ingest.File

	for _, m := range msgs {
		if excluded(m, t.BotUserID, optedOut) {
			continue
		}

		if strings.TrimSpace(m.Text) != "" {
			texts = append(texts, m)
		}

		for _, f := range m.Files {
			if !ingest.Allowed(f.Filetype) {
				continue
			}
			uploader := f.User
			if uploader == "" {
				uploader = m.User
			}
			files = append(files, ingest.File{
				TeamID:      t.TeamID,
				ChannelID:   t.ChannelID,
				MessageTS:   m.TS,
				ThreadTS:    m.ThreadTS,
				ID:          f.ID,
				Name:        f.Name,
				Title:       f.Title,
				Mimetype:    f.Mimetype,
				Filetype:    f.Filetype,
				UserID:      uploader,
				Size:        f.Size,
				Permalink:   f.Permalink,
				DownloadURL: f.DownloadURL,
			})
		}
	}

	return texts, files
}

func excluded(m slack.Message, botUserID string, optedOut map[string]bool) bool {
	if m.BotID != "" || systemSubtypes[m.SubType] {
		return true
	}
	if botUserID != "" && m.User == botUserID {
		return true
	}
	if optedOut[m.User] {
		return true
	}
	for _, r := range m.Reactions {
		if r.Name != excludeReaction {
			continue
		}
		for _, u := range r.Users {
			if u == m.User {
				return true
			}
		}
	}
	return false
}

// indexText embeds and stores text messages. A failed batch embed falls back
// to one call per message; messages still without a vector are stored
// anyway and picked up by the embedding backfill.
func (c *Coordinator) indexText(ctx context.Context, t Target, msgs []slack.Message, logger *slog.Logger) int {
	if len(msgs) == 0 {
		return 0
	}

	texts := make([]string, len(msgs))
	for i, m := range msgs {
		texts[i] = m.Text
	}

	vectors, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil || len(vectors) != len(texts) {
		logger.Warn("Batch embedding failed, embedding messages individually", "count", len(texts), "error", err)
		vectors = make([][]float32, len(texts))
		for i, text := range texts {
			v, err := c.embedder.Embed(ctx, text)
			if err != nil {
				logger.Warn("Failed to embed message", "ts", msgs[i].TS, "error", err)
				continue
			}
			vectors[i] = v
		}
	}

	rows := make([]storage.Message, len(msgs))
	missing := 0
	for i, m := range msgs {
		if vectors[i] == nil {
			missing++
		}
		rows[i] = storage.Message{
			TeamID:      t.TeamID,
			ChannelID:   t.ChannelID,
			TS:          m.TS,
			ThreadTS:    m.ThreadTS,
			UserID:      m.User,
			Text:        m.Text,
			ContentHash: storage.HashContent(m.Text),
			Embedding:   vectors[i],
		}
	}

	if err := c.store.StoreMessages(ctx, rows); err != nil {
		logger.Error("Failed to store messages", "count", len(rows), "error", err)
		metrics.MessagesIndexed.WithLabelValues("error").Add(float64(len(rows)))
		return 0
	}

	metrics.MessagesIndexed.WithLabelValues("embedded").Add(float64(len(rows) - missing))
	if missing > 0 {
		metrics.MessagesIndexed.WithLabelValues("without_embedding").Add(float64(missing))
	}
	return len(rows)
}
