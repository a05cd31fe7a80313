package storage

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore connects to ZAPASK_TEST_DATABASE_URL, skipping when unset.
func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	url := os.Getenv("ZAPASK_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ZAPASK_TEST_DATABASE_URL not set")
	}

	store, err := NewPostgresStore(url)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	_, err = store.db.ExecContext(ctx, `
		INSERT INTO installations (team_id, team_domain, bot_token, bot_user_id)
		VALUES ('TTEST', 'acme', 'xoxb-test', 'UBOT')
		ON CONFLICT (team_id) DO NOTHING
	`)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.db.ExecContext(context.Background(), `DELETE FROM installations WHERE team_id = 'TTEST'`)
	})
	return store
}

func TestPostgresSyncStateRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.GetSyncState(ctx, "TTEST", "CNONE")
	assert.True(t, errors.Is(err, ErrNotFound))

	state := SyncState{
		TeamID:     "TTEST",
		ChannelID:  "C1",
		LastMainTS: "1700000000.000100",
		Threads:    map[string]ThreadMark{"1700000000.000100": {LastReplyTS: "1700000000.000200", ReplyCount: 1}},
	}
	require.NoError(t, store.SaveSyncState(ctx, state))

	state.LastMainTS = "1700000001.000100"
	require.NoError(t, store.SaveSyncState(ctx, state))

	got, err := store.GetSyncState(ctx, "TTEST", "C1")
	require.NoError(t, err)
	assert.Equal(t, "1700000001.000100", got.LastMainTS)
	assert.Equal(t, state.Threads, got.Threads)
}

func TestPostgresMessagesAndContext(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var messages []Message
	for _, ts := range []string{"100.000001", "100.000002", "100.000003", "100.000004", "100.000005"} {
		messages = append(messages, Message{TeamID: "TTEST", ChannelID: "C2", TS: ts, UserID: "U1", Text: "message " + ts})
	}
	messages[3].ThreadTS = "100.000003"
	require.NoError(t, store.StoreMessages(ctx, messages))
	require.NoError(t, store.StoreMessages(ctx, messages[:1]))

	around, err := store.SurroundingMessages(ctx, "TTEST", "C2", "100.000003", 1)
	require.NoError(t, err)
	require.Len(t, around, 2)
	assert.Equal(t, "100.000002", around[0].TS)
	assert.Equal(t, "100.000004", around[1].TS)

	preview, err := store.ThreadPreview(ctx, "TTEST", "C2", "100.000003", 3)
	require.NoError(t, err)
	require.Len(t, preview, 1)

	recent, err := store.ChannelMessages(ctx, "TTEST", "C2", TimeBounds{}, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "100.000004", recent[0].TS)

	missing, err := store.MessagesWithoutEmbeddings(ctx, 100)
	require.NoError(t, err)
	assert.NotEmpty(t, missing)
}

func TestPostgresOptOutRemovesHistory(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.StoreMessages(ctx, []Message{{TeamID: "TTEST", ChannelID: "C3", TS: "5.0", UserID: "UOUT", Text: "bye"}}))

	created, err := store.OptOut(ctx, "TTEST", "UOUT")
	require.NoError(t, err)
	assert.True(t, created)

	again, err := store.OptOut(ctx, "TTEST", "UOUT")
	require.NoError(t, err)
	assert.False(t, again)

	users, err := store.OptedOutUsers(ctx, "TTEST")
	require.NoError(t, err)
	assert.Contains(t, users, "UOUT")

	var count int
	err = store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM slack_messages WHERE team_id = 'TTEST' AND user_id = 'UOUT'`).Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)

	removed, err := store.OptIn(ctx, "TTEST", "UOUT")
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestPostgresKeywordOnlySearch(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.StoreMessages(ctx, []Message{
		{TeamID: "TTEST", ChannelID: "C4", TS: "7.000001", UserID: "U1", Text: "deploy finished without errors"},
	}))

	// No embedding: the procedures must rank on keywords alone
	params := SearchParams{
		TeamID:         "TTEST",
		ChannelID:      "C4",
		KeywordQuery:   "deploy",
		MatchCount:     5,
		MatchThreshold: 0,
		RRFK:           60,
		VectorWeight:   1,
		KeywordWeight:  1,
	}
	hits, err := store.SearchMessages(ctx, params)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "42883" {
		t.Skip("search procedures not provisioned in this database")
	}
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "7.000001", hits[0].TS)

	_, err = store.SearchDocumentChunks(ctx, params)
	require.NoError(t, err)
}
